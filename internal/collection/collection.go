package collection

import "context"

// Collection is the public surface of a bounded group collection. All
// mutations flow through it; eviction bookkeeping is internal and never
// re-enters these methods.
type Collection interface {
	// Insert adds one entry to a group. When the group's live count exceeds
	// its capacity afterwards, the oldest entries are evicted before Insert
	// returns, so callers never observe an over-capacity group.
	Insert(ctx context.Context, groupID string, entryID int64, payload []byte) error

	// InsertMany adds a batch of entries to a group as one settled unit with a
	// single eviction pass sized to the whole overshoot. A duplicate anywhere
	// in the batch rejects the batch without side effects.
	InsertMany(ctx context.Context, groupID string, entryIDs []int64) error

	// Delete removes one entry at the caller's request and decrements the
	// group counter. Eviction-driven removal never uses this path.
	Delete(ctx context.Context, groupID string, entryID int64) error

	// Count reports the group's live entry count, clamped to capacity.
	Count(ctx context.Context, groupID string) (int64, error)

	// Members returns the group's entry ids in ascending insertion order.
	Members(ctx context.Context, groupID string) ([]int64, error)

	// Recount re-derives the group counter from the entry store and returns
	// the authoritative count. Used by the integrity sweeper and operators.
	Recount(ctx context.Context, groupID string) (int64, error)

	// Capacity reports the configured capacity for a group.
	Capacity(groupID string) int64
}

// CapacityConfig resolves the fixed capacity of each group.
type CapacityConfig struct {
	Default   int64
	Overrides map[string]int64
}

// For returns the capacity configured for the given group.
func (c CapacityConfig) For(groupID string) int64 {
	if v, ok := c.Overrides[groupID]; ok {
		return v
	}
	return c.Default
}

func ensuredContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
