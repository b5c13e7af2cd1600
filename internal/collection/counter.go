package collection

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/groupcap/internal/models"
)

// CounterStore maintains the incremental per-group live count. Every method
// takes a row-level UPDATE lock on the counter row, so the row doubles as the
// database-side serialization point for a group's mutation protocol.
type CounterStore struct{}

// IncrementBy raises the counter by n, creating the row lazily, and returns
// the new count.
func (CounterStore) IncrementBy(ctx context.Context, tx *gorm.DB, groupID string, n int64) (int64, error) {
	var counter models.GroupCounter
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&counter, "group_id = ?", groupID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = models.GroupCounter{GroupID: groupID, Count: n}
		if err := tx.WithContext(ctx).Create(&counter).Error; err != nil {
			return 0, err
		}
		return counter.Count, nil
	}
	if err != nil {
		return 0, err
	}

	counter.Count += n
	if err := tx.WithContext(ctx).Save(&counter).Error; err != nil {
		return 0, err
	}
	return counter.Count, nil
}

// Increment raises the counter by one and returns the new count.
func (c CounterStore) Increment(ctx context.Context, tx *gorm.DB, groupID string) (int64, error) {
	return c.IncrementBy(ctx, tx, groupID, 1)
}

// Decrement lowers the counter by one for a user-initiated delete. A missing
// row or a zero count means the counter no longer matches the entry store,
// which is a desynchronization bug, not a user error.
func (CounterStore) Decrement(ctx context.Context, tx *gorm.DB, groupID string) (int64, error) {
	var counter models.GroupCounter
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&counter, "group_id = ?", groupID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrCounterDesync
	}
	if err != nil {
		return 0, err
	}

	if counter.Count <= 0 {
		return 0, ErrCounterDesync
	}

	counter.Count--
	if err := tx.WithContext(ctx).Save(&counter).Error; err != nil {
		return 0, err
	}
	return counter.Count, nil
}

// ClampIfOver detects an over-capacity group. When the locked count exceeds
// capacity it is set to exactly capacity and the pre-clamp value is returned
// with clamped=true; the clamp pre-accounts for the deletes the eviction
// coordinator is about to perform, which is why eviction never decrements.
func (CounterStore) ClampIfOver(ctx context.Context, tx *gorm.DB, groupID string, capacity int64) (int64, bool, error) {
	var counter models.GroupCounter
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&counter, "group_id = ?", groupID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	if counter.Count <= capacity {
		return counter.Count, false, nil
	}

	preClamp := counter.Count
	counter.Count = capacity
	if err := tx.WithContext(ctx).Save(&counter).Error; err != nil {
		return 0, false, err
	}
	return preClamp, true, nil
}

// Set forces the counter to the supplied value, creating the row if needed.
// Self-heal path only.
func (CounterStore) Set(ctx context.Context, tx *gorm.DB, groupID string, n int64) error {
	counter := models.GroupCounter{GroupID: groupID, Count: n}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "group_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"count", "updated_at"}),
		}).Create(&counter).Error
}

// Value reads the counter without locking. Absent rows read as zero.
func (CounterStore) Value(ctx context.Context, db *gorm.DB, groupID string) (int64, error) {
	var counter models.GroupCounter
	err := db.WithContext(ctx).Take(&counter, "group_id = ?", groupID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return counter.Count, nil
}
