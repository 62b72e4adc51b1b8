package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"collab-relay/internal/models"
)

// HistoryRepositoryImpl archives accepted document updates using GORM.
// This is the IMPLEMENTATION - the consuming packages declare the
// interfaces they need from it.
type HistoryRepositoryImpl struct {
	db *gorm.DB
}

// NewHistoryRepository creates a new history repository
// Returns concrete type - "Accept interfaces, return structs"
func NewHistoryRepository(db *gorm.DB) *HistoryRepositoryImpl {
	return &HistoryRepositoryImpl{db: db}
}

// Append stores one accepted update.
// The KSUID is auto-generated in the BeforeCreate hook.
func (r *HistoryRepositoryImpl) Append(ctx context.Context, rec *models.EditRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to append edit record: %w", err)
	}
	return nil
}

// RecentByDoc returns the newest accepted updates for a document,
// most recent first. KSUID is time-ordered, so sorting by ID sorts by
// creation time.
func (r *HistoryRepositoryImpl) RecentByDoc(ctx context.Context, docID string, limit int) ([]*models.EditRecord, error) {
	var records []*models.EditRecord

	err := r.db.WithContext(ctx).
		Where("doc_id = ?", docID).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list edit records: %w", err)
	}

	return records, nil
}
