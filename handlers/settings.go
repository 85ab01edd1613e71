package handlers

import (
	"net/http"

	"github.com/runawaydevil/ScoutBot/utils"

	"github.com/gin-gonic/gin"
)

func GetUserSettings(c *gin.Context) {
	settings, err := getServices().Settings.GetSettings(c.Request.Context(), c.Param("user_id"))
	if respondServiceError(c, err) {
		return
	}
	utils.Success(c, settings)
}

type updateSettingsRequest struct {
	Quality           string `json:"quality"`
	Format            string `json:"format"`
	StoragePreference string `json:"storage_preference"`
}

func UpdateUserSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := c.Param("user_id")
	svc := getServices().Settings

	if req.Quality != "" {
		if err := svc.SetQuality(c.Request.Context(), userID, req.Quality); respondServiceError(c, err) {
			return
		}
	}
	if req.Format != "" {
		if err := svc.SetFormat(c.Request.Context(), userID, req.Format); respondServiceError(c, err) {
			return
		}
	}
	if req.StoragePreference != "" {
		if err := svc.SetStoragePreference(c.Request.Context(), userID, req.StoragePreference); respondServiceError(c, err) {
			return
		}
	}

	settings, err := svc.GetSettings(c.Request.Context(), userID)
	if respondServiceError(c, err) {
		return
	}
	utils.Success(c, settings)
}
