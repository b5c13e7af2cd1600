package collection

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/groupcap/internal/models"
)

// EntryStore is the source of truth for group membership and insertion order.
// Mutating methods operate on the transaction handle supplied by the gate so
// one submit settles as a single unit of work.
type EntryStore struct{}

// Insert adds an entry with the supplied insertion timestamp. It reports
// ErrDuplicateEntry when the (group, entry) pair is already live.
func (EntryStore) Insert(ctx context.Context, tx *gorm.DB, groupID string, entryID int64, payload datatypes.JSON, insertedAt time.Time) error {
	var existing models.Entry
	err := tx.WithContext(ctx).
		Take(&existing, "group_id = ? AND entry_id = ?", groupID, entryID).Error
	if err == nil {
		return ErrDuplicateEntry
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	entry := models.Entry{
		GroupID:    groupID,
		EntryID:    entryID,
		InsertedAt: insertedAt,
		Payload:    payload,
	}

	if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
		// The composite primary key backstops the existence check.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEntry
		}
		return err
	}
	return nil
}

// Delete removes an entry, reporting ErrEntryNotFound when it is not live.
// Both user deletes and eviction deletes end here; the difference between the
// two paths is purely whether the counter is decremented afterwards.
func (EntryStore) Delete(ctx context.Context, tx *gorm.DB, groupID string, entryID int64) error {
	result := tx.WithContext(ctx).
		Where("group_id = ? AND entry_id = ?", groupID, entryID).
		Delete(&models.Entry{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// OldestN returns up to n entries of the group in ascending insertion order,
// ties broken by entry id. Used exclusively by the eviction coordinator.
func (EntryStore) OldestN(ctx context.Context, tx *gorm.DB, groupID string, n int64) ([]models.Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	var entries []models.Entry
	err := tx.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("inserted_at ASC, entry_id ASC").
		Limit(int(n)).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Count returns the authoritative live count by enumeration. Verification and
// self-heal only; the hot path reads the incremental counter instead.
func (EntryStore) Count(ctx context.Context, tx *gorm.DB, groupID string) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&models.Entry{}).
		Where("group_id = ?", groupID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Members returns the group's entry ids in ascending insertion order.
func (EntryStore) Members(ctx context.Context, db *gorm.DB, groupID string) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).
		Model(&models.Entry{}).
		Where("group_id = ?", groupID).
		Order("inserted_at ASC, entry_id ASC").
		Pluck("entry_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
