package repositories

import (
	"context"
	"time"

	"github.com/runawaydevil/ScoutBot/models"

	"gorm.io/gorm"
)

type GormStatRepository struct {
	db *gorm.DB
}

func NewGormStatRepository(db *gorm.DB) *GormStatRepository {
	return &GormStatRepository{db: db}
}

func (r *GormStatRepository) CreateBatch(_ context.Context, tx *gorm.DB, stats []models.UploadStat) error {
	if len(stats) == 0 {
		return nil
	}
	return useTx(r.db, tx).Create(&stats).Error
}

func (r *GormStatRepository) SummarySince(_ context.Context, tx *gorm.DB, since time.Time) ([]KindSummary, error) {
	var rows []KindSummary
	err := useTx(r.db, tx).
		Model(&models.UploadStat{}).
		Select("kind, status, COUNT(*) AS count, COALESCE(SUM(file_size), 0) AS total_size").
		Where("date >= ?", since).
		Group("kind, status").
		Scan(&rows).Error
	return rows, err
}

func (r *GormStatRepository) DeleteBefore(_ context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	res := useTx(r.db, tx).Where("date < ?", cutoff).Delete(&models.UploadStat{})
	return res.RowsAffected, res.Error
}
