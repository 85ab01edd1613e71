package models

import "time"

type UserSettings struct {
	ID                string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID            string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	Quality           string    `gorm:"type:varchar(16);default:high" json:"quality"`
	Format            string    `gorm:"type:varchar(16);default:video" json:"format"`
	StoragePreference string    `gorm:"type:varchar(16);default:auto" json:"storage_preference"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (UserSettings) TableName() string {
	return "user_settings"
}
