package models

import (
	"crypto/rand"
	"time"
)

// Upload statuses. Completed, failed and cancelled are terminal.
const (
	UploadStatusPending   = "pending"
	UploadStatusUploading = "uploading"
	UploadStatusCompleted = "completed"
	UploadStatusFailed    = "failed"
	UploadStatusCancelled = "cancelled"
)

// Upload is the durable shadow of a queued transfer to Pentaract. The queue
// itself is in-memory only; this record is what survives a restart.
type Upload struct {
	ID               string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID           string     `gorm:"type:varchar(64);not null;index" json:"user_id"`
	FileCode         string     `gorm:"type:varchar(16);uniqueIndex;not null" json:"file_code"`
	OriginalFilename string     `gorm:"type:varchar(255);not null" json:"original_filename"`
	LocalPath        string     `gorm:"type:varchar(500);not null" json:"local_path"`
	RemotePath       string     `gorm:"type:varchar(500);not null" json:"remote_path"`
	Size             int64      `gorm:"not null" json:"size"`
	MimeType         string     `gorm:"type:varchar(128)" json:"mime_type"`
	Status           string     `gorm:"type:varchar(20);default:pending;index" json:"status"`
	ErrorMessage     string     `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount       int        `gorm:"default:0" json:"retry_count"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Upload) TableName() string {
	return "uploads"
}

func IsTerminalStatus(status string) bool {
	return status == UploadStatusCompleted || status == UploadStatusFailed || status == UploadStatusCancelled
}

const fileCodeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// FileCodeLength is the length of the human-shareable download code.
const FileCodeLength = 6

// GenerateFileCode returns a short shareable code such as "A7K2Q9".
func GenerateFileCode() string {
	buf := make([]byte, FileCodeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// fall back to a time-derived value rather than panicking.
		nano := time.Now().UnixNano()
		for i := range buf {
			buf[i] = byte(nano >> (uint(i) * 8))
		}
	}
	for i, b := range buf {
		buf[i] = fileCodeChars[int(b)%len(fileCodeChars)]
	}
	return string(buf)
}
