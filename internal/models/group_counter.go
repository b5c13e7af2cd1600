package models

import "time"

// GroupCounter holds the live entry count for one group.
//
// The row is created lazily on the first insert into a group and persists at
// zero after the last delete; a zero count and an absent row are both valid
// "empty group" states for readers, but once created the row is the value the
// ingress gate locks to serialize per-group mutations.
type GroupCounter struct {
	GroupID   string    `gorm:"primaryKey;size:128" json:"group_id"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName keeps the table name stable across drivers.
func (GroupCounter) TableName() string { return "group_counters" }
