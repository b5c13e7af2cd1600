package models

import (
	"time"

	"gorm.io/datatypes"
)

// Entry is one item placed into a group's bounded collection.
//
// The composite primary key gives duplicate detection for free, and the
// (group_id, inserted_at, entry_id) index makes oldest-N eviction an index
// lookup rather than a scan. EntryID doubles as the tie-break when two rows
// share an insertion timestamp, so callers must assign it monotonically.
type Entry struct {
	GroupID    string         `gorm:"primaryKey;size:128;index:idx_entries_group_order,priority:1" json:"group_id"`
	EntryID    int64          `gorm:"primaryKey;autoIncrement:false;index:idx_entries_group_order,priority:3" json:"entry_id"`
	InsertedAt time.Time      `gorm:"not null;index:idx_entries_group_order,priority:2" json:"inserted_at"`
	Payload    datatypes.JSON `json:"payload,omitempty"`
}

// TableName keeps the table name stable across drivers.
func (Entry) TableName() string { return "entries" }
