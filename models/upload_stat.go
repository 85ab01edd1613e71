package models

import "time"

// Stat statuses mirror the terminal upload outcomes.
const (
	StatStatusSuccess = "success"
	StatStatusFailed  = "failed"
)

// UploadStat is one flushed activity row. Hot counters live in Redis between
// flushes; rows land here for reporting.
type UploadStat struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID       string    `gorm:"type:varchar(64);index" json:"chat_id,omitempty"`
	Kind         string    `gorm:"type:varchar(32);not null;index" json:"kind"`
	Status       string    `gorm:"type:varchar(20);not null" json:"status"`
	FileSize     int64     `json:"file_size,omitempty"`
	DurationMs   int64     `json:"duration_ms,omitempty"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	Date         time.Time `gorm:"not null;index" json:"date"`
}

func (UploadStat) TableName() string {
	return "upload_stats"
}
