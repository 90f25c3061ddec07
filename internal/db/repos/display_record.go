// Package repos provides database access for the persisted cache.
package repos

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/outpost-vpn/outpost/internal/db/models"
)

// DisplayRecordRepository provides access to the display-record cache.
type DisplayRecordRepository struct {
	db *gorm.DB
}

// NewDisplayRecordRepository creates a new display-record repository.
func NewDisplayRecordRepository(db *gorm.DB) *DisplayRecordRepository {
	return &DisplayRecordRepository{db: db}
}

// List returns all cached records in insertion order.
func (r *DisplayRecordRepository) List(ctx context.Context) ([]models.DisplayRecord, error) {
	var records []models.DisplayRecord
	err := r.db.WithContext(ctx).Order("created_at").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list display records: %w", err)
	}
	return records, nil
}

// Get retrieves a record by its management URL id. Returns (nil, nil) when
// absent.
func (r *DisplayRecordRepository) Get(ctx context.Context, id string) (*models.DisplayRecord, error) {
	var record models.DisplayRecord
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get display record: %w", err)
	}
	return &record, nil
}

// Upsert inserts the record or updates it in place.
func (r *DisplayRecordRepository) Upsert(ctx context.Context, record *models.DisplayRecord) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "is_managed", "cloud_provider_id", "is_synced", "updated_at"}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert display record: %w", err)
	}
	return nil
}

// UpdateName renames a record.
func (r *DisplayRecordRepository) UpdateName(ctx context.Context, id, name string) error {
	res := r.db.WithContext(ctx).Model(&models.DisplayRecord{}).
		Where("id = ?", id).
		Update("name", name)
	if res.Error != nil {
		return fmt.Errorf("failed to rename display record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes a record. Removing an absent record is not an error.
func (r *DisplayRecordRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Delete(&models.DisplayRecord{}, "id = ?", id).Error
	if err != nil {
		return fmt.Errorf("failed to delete display record: %w", err)
	}
	return nil
}

// DeleteBatch removes a set of records by id.
func (r *DisplayRecordRepository) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Delete(&models.DisplayRecord{}, "id IN ?", ids).Error
	if err != nil {
		return fmt.Errorf("failed to delete display records: %w", err)
	}
	return nil
}
