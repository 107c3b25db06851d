package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/store"
)

// ListOptions bounds a paginated List query, carried over unchanged from
// arkeep's repositories.ListOptions.
type ListOptions struct {
	Limit  int
	Offset int
}

// RecordRepository is the durable-storage contract the Librarian composes
// over: one row per packed primitive, keyed by ghid.
type RecordRepository interface {
	// Create inserts a new record. Returns ErrConflict if the ghid already
	// exists with different packed bytes (spec.md §4.1's idempotent-insert
	// contract is enforced by the caller comparing before calling Create;
	// this layer enforces only the unique-key constraint).
	Create(ctx context.Context, rec *store.Record) error
	GetByGhid(ctx context.Context, g ghid.Ghid) (*store.Record, error)
	Delete(ctx context.Context, g ghid.Ghid) error
	List(ctx context.Context, opts ListOptions) ([]store.Record, int64, error)
}

// gormRecordRepository is the GORM implementation of RecordRepository.
type gormRecordRepository struct {
	db *gorm.DB
}

// NewRecordRepository returns a RecordRepository backed by the provided
// *gorm.DB.
func NewRecordRepository(db *gorm.DB) RecordRepository {
	return &gormRecordRepository{db: db}
}

// Create inserts a new record row.
func (r *gormRecordRepository) Create(ctx context.Context, rec *store.Record) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("records: create: %w", err)
	}
	return nil
}

// GetByGhid retrieves a record by its ghid. Returns ErrNotFound if absent.
func (r *gormRecordRepository) GetByGhid(ctx context.Context, g ghid.Ghid) (*store.Record, error) {
	var rec store.Record
	err := r.db.WithContext(ctx).First(&rec, "ghid = ?", g.String()).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("records: get by ghid: %w", err)
	}
	return &rec, nil
}

// Delete permanently removes a record by ghid. Returns ErrNotFound if
// absent. Called by Undertaker when a target becomes an orphan.
func (r *gormRecordRepository) Delete(ctx context.Context, g ghid.Ghid) error {
	result := r.db.WithContext(ctx).Delete(&store.Record{}, "ghid = ?", g.String())
	if result.Error != nil {
		return fmt.Errorf("records: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a paginated list of records and the total count, ordered by
// insertion time — used by Librarian.restore on startup.
func (r *gormRecordRepository) List(ctx context.Context, opts ListOptions) ([]store.Record, int64, error) {
	var records []store.Record
	var total int64

	if err := r.db.WithContext(ctx).Model(&store.Record{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("records: list count: %w", err)
	}

	q := r.db.WithContext(ctx).Order("created_at ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit).Offset(opts.Offset)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("records: list: %w", err)
	}

	return records, total, nil
}
