package repositories

import (
	"context"
	"time"

	"github.com/runawaydevil/ScoutBot/models"

	"gorm.io/gorm"
)

type GormUploadRepository struct {
	db *gorm.DB
}

func NewGormUploadRepository(db *gorm.DB) *GormUploadRepository {
	return &GormUploadRepository{db: db}
}

func (r *GormUploadRepository) Create(_ context.Context, tx *gorm.DB, upload *models.Upload) error {
	return useTx(r.db, tx).Create(upload).Error
}

func (r *GormUploadRepository) GetByID(_ context.Context, tx *gorm.DB, id string) (models.Upload, error) {
	var upload models.Upload
	err := useTx(r.db, tx).Where("id = ?", id).First(&upload).Error
	return upload, err
}

func (r *GormUploadRepository) GetByFileCode(_ context.Context, tx *gorm.DB, code string) (models.Upload, error) {
	var upload models.Upload
	err := useTx(r.db, tx).Where("file_code = ?", code).First(&upload).Error
	return upload, err
}

func (r *GormUploadRepository) ExistsByFileCode(_ context.Context, tx *gorm.DB, code string) (bool, error) {
	var count int64
	err := useTx(r.db, tx).Model(&models.Upload{}).Where("file_code = ?", code).Count(&count).Error
	return count > 0, err
}

func (r *GormUploadRepository) UpdateByID(_ context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error {
	return useTx(r.db, tx).Model(&models.Upload{}).Where("id = ?", id).Updates(updates).Error
}

func (r *GormUploadRepository) ListByUser(_ context.Context, tx *gorm.DB, userID string, limit int) ([]models.Upload, error) {
	var uploads []models.Upload
	q := useTx(r.db, tx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&uploads).Error
	return uploads, err
}

func (r *GormUploadRepository) DeleteTerminalBefore(_ context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	res := useTx(r.db, tx).
		Where("status IN ?", []string{models.UploadStatusCompleted, models.UploadStatusFailed, models.UploadStatusCancelled}).
		Where("updated_at < ?", cutoff).
		Delete(&models.Upload{})
	return res.RowsAffected, res.Error
}
