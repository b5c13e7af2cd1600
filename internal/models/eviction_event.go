package models

import "time"

// EvictionEvent records one entry removed by capacity eviction.
//
// Evictions are silent from the caller's point of view; the event log is the
// only after-the-fact trace of what was discarded. Rows are pruned by the
// maintenance sweeper after the configured retention window.
type EvictionEvent struct {
	BaseModel
	GroupID   string    `gorm:"size:128;index" json:"group_id"`
	EntryID   int64     `json:"entry_id"`
	EvictedAt time.Time `gorm:"index" json:"evicted_at"`
}

// TableName keeps the table name stable across drivers.
func (EvictionEvent) TableName() string { return "eviction_events" }
