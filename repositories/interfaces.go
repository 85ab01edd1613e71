package repositories

import (
	"context"
	"time"

	"github.com/runawaydevil/ScoutBot/models"

	"gorm.io/gorm"
)

type TxManager interface {
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type UploadRepository interface {
	Create(ctx context.Context, tx *gorm.DB, upload *models.Upload) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (models.Upload, error)
	GetByFileCode(ctx context.Context, tx *gorm.DB, code string) (models.Upload, error)
	ExistsByFileCode(ctx context.Context, tx *gorm.DB, code string) (bool, error)
	UpdateByID(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error
	ListByUser(ctx context.Context, tx *gorm.DB, userID string, limit int) ([]models.Upload, error)
	DeleteTerminalBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type UserSettingsRepository interface {
	GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (models.UserSettings, error)
	Create(ctx context.Context, tx *gorm.DB, settings *models.UserSettings) error
	UpdateByUserID(ctx context.Context, tx *gorm.DB, userID string, updates map[string]interface{}) error
}

type KindSummary struct {
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Count     int64  `json:"count"`
	TotalSize int64  `json:"total_size"`
}

type StatRepository interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, stats []models.UploadStat) error
	SummarySince(ctx context.Context, tx *gorm.DB, since time.Time) ([]KindSummary, error)
	DeleteBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// StatBufferRepository buffers activity rows and counters in Redis between
// periodic flushes so counts survive a restart mid-interval.
type StatBufferRepository interface {
	Append(ctx context.Context, row []byte) error
	Drain(ctx context.Context) ([][]byte, error)
	IncrCounter(ctx context.Context, field string) error
	Counters(ctx context.Context) (map[string]int64, error)
}

type Container struct {
	TxManager  TxManager
	Uploads    UploadRepository
	Settings   UserSettingsRepository
	Stats      StatRepository
	StatBuffer StatBufferRepository
}
