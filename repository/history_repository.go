package repository

import (
	"fmt"
	"time"

	"KaraFM/db"
	"KaraFM/model"

	"gorm.io/gorm"
)

// HistoryRepository defines play history data operations.
type HistoryRepository interface {
	Record(entry model.QueueEntry, playedSeconds float64) error
	RecentBySinger(singer string, limit int) ([]model.PlayHistory, error)
	Recent(limit int) ([]model.PlayHistory, error)
}

type gormHistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository creates a repository over the shared GORM handle.
func NewHistoryRepository() HistoryRepository {
	return &gormHistoryRepository{db: db.GormDB}
}

// Record writes one completed performance.
func (r *gormHistoryRepository) Record(entry model.QueueEntry, playedSeconds float64) error {
	row := model.PlayHistory{
		Title:         entry.Title,
		Singer:        entry.Singer,
		FilePath:      entry.FilePath,
		PlayedSeconds: playedSeconds,
		PlayedAt:      time.Now(),
	}
	if err := r.db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record play history: %w", err)
	}
	return nil
}

// RecentBySinger returns a singer's most recent completed songs.
func (r *gormHistoryRepository) RecentBySinger(singer string, limit int) ([]model.PlayHistory, error) {
	var rows []model.PlayHistory
	err := r.db.Where("singer = ?", singer).
		Order("played_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query play history: %w", err)
	}
	return rows, nil
}

// Recent returns the most recent completed songs across all singers.
func (r *gormHistoryRepository) Recent(limit int) ([]model.PlayHistory, error) {
	var rows []model.PlayHistory
	err := r.db.Order("played_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query play history: %w", err)
	}
	return rows, nil
}
