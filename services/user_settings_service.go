package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/runawaydevil/ScoutBot/logger"
	"github.com/runawaydevil/ScoutBot/models"
	"github.com/runawaydevil/ScoutBot/repositories"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var validQualities = []string{"high", "medium", "low", "audio", "custom"}
var validFormats = []string{"video", "audio", "document"}
var validStoragePreferences = []string{"auto", "pentaract", "local"}

type UserSettingsService interface {
	GetSettings(ctx context.Context, userID string) (models.UserSettings, error)
	SetQuality(ctx context.Context, userID string, quality string) error
	SetFormat(ctx context.Context, userID string, format string) error
	SetStoragePreference(ctx context.Context, userID string, preference string) error
}

type userSettingsService struct {
	txManager repositories.TxManager
	settings  repositories.UserSettingsRepository
}

func NewUserSettingsService(txManager repositories.TxManager, settings repositories.UserSettingsRepository) UserSettingsService {
	return &userSettingsService{txManager: txManager, settings: settings}
}

// GetSettings returns the user's settings, creating defaults on first use.
// Lookup and creation run in one transaction so two concurrent first calls
// cannot both insert.
func (s *userSettingsService) GetSettings(ctx context.Context, userID string) (models.UserSettings, error) {
	var settings models.UserSettings

	err := s.txManager.WithTransaction(ctx, func(tx *gorm.DB) error {
		found, err := s.settings.GetByUserID(ctx, tx, userID)
		if err == nil {
			settings = found
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return newAppError(http.StatusInternalServerError, "failed to query settings", err)
		}

		settings = models.UserSettings{
			ID:                uuid.NewString(),
			UserID:            userID,
			Quality:           "high",
			Format:            "video",
			StoragePreference: "auto",
		}
		if err := s.settings.Create(ctx, tx, &settings); err != nil {
			return newAppError(http.StatusInternalServerError, "failed to create settings", err)
		}
		logger.Infof("created default settings for user %s", userID)
		return nil
	})
	if err != nil {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return models.UserSettings{}, appErr
		}
		return models.UserSettings{}, newAppError(http.StatusInternalServerError, "failed to load settings", err)
	}
	return settings, nil
}

func (s *userSettingsService) SetQuality(ctx context.Context, userID string, quality string) error {
	return s.setField(ctx, userID, "quality", quality, validQualities)
}

func (s *userSettingsService) SetFormat(ctx context.Context, userID string, format string) error {
	return s.setField(ctx, userID, "format", format, validFormats)
}

func (s *userSettingsService) SetStoragePreference(ctx context.Context, userID string, preference string) error {
	return s.setField(ctx, userID, "storage_preference", preference, validStoragePreferences)
}

func (s *userSettingsService) setField(ctx context.Context, userID string, field string, value string, allowed []string) error {
	if !contains(allowed, value) {
		return newAppErrorWithData(
			http.StatusBadRequest,
			fmt.Sprintf("invalid %s: %s", field, value),
			map[string]interface{}{"valid_values": allowed},
			nil,
		)
	}

	if _, err := s.GetSettings(ctx, userID); err != nil {
		return err
	}

	if err := s.settings.UpdateByUserID(ctx, nil, userID, map[string]interface{}{field: value}); err != nil {
		return newAppError(http.StatusInternalServerError, "failed to update settings", err)
	}

	logger.Infof("updated %s for user %s: %s", field, userID, value)
	return nil
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
