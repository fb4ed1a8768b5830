package model

import "time"

// PlayHistory records one fully completed performance. Only songs that
// play through to their natural end are written here; skips and failures
// never count toward a singer's record.
type PlayHistory struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Title         string    `gorm:"size:512;not null" json:"title"`
	Singer        string    `gorm:"size:128;index" json:"singer"`
	FilePath      string    `gorm:"size:1024" json:"filePath"`
	PlayedSeconds float64   `json:"playedSeconds"`
	PlayedAt      time.Time `gorm:"index" json:"playedAt"`
}

// TableName keeps the table name stable across GORM naming changes.
func (PlayHistory) TableName() string {
	return "play_history"
}
