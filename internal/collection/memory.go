package collection

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/charlesng35/groupcap/pkg/logger"
	"github.com/charlesng35/groupcap/pkg/metrics"
)

// Memory is a process-local Collection for deployments that do not want a
// database. Semantics match the database-backed Service exactly, including
// exact-overshoot FIFO eviction and the counter kept alongside membership.
type Memory struct {
	caps  CapacityConfig
	locks *groupLocks
	log   *zap.Logger

	mu     sync.RWMutex
	groups map[string]*memoryGroup
}

// memoryGroup keeps insertion order and membership together; order[0] is the
// oldest entry. count is maintained incrementally, mirroring the database
// counter rather than deriving from len(order), so counter fidelity is a
// checked property here too.
type memoryGroup struct {
	order    []int64
	payloads map[int64][]byte
	count    int64
}

// NewMemory constructs an in-memory collection.
func NewMemory(caps CapacityConfig) (*Memory, error) {
	if caps.Default < 0 {
		return nil, fmt.Errorf("memory collection: default capacity must be >= 0, got %d", caps.Default)
	}
	for groupID, capacity := range caps.Overrides {
		if capacity < 0 {
			return nil, fmt.Errorf("memory collection: capacity override for group %q must be >= 0, got %d", groupID, capacity)
		}
	}

	return &Memory{
		caps:   caps,
		locks:  newGroupLocks(),
		log:    logger.WithModule("collection.memory"),
		groups: make(map[string]*memoryGroup),
	}, nil
}

// Capacity reports the configured capacity for a group.
func (m *Memory) Capacity(groupID string) int64 {
	return m.caps.For(groupID)
}

func (m *Memory) group(groupID string) *memoryGroup {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		g = &memoryGroup{payloads: make(map[int64][]byte)}
		m.groups[groupID] = g
	}
	return g
}

// Insert adds one entry and evicts the oldest when the group overshoots.
func (m *Memory) Insert(_ context.Context, groupID string, entryID int64, payload []byte) error {
	unlock := m.locks.lock(groupID)
	defer unlock()

	g := m.group(groupID)
	if _, dup := g.payloads[entryID]; dup {
		metrics.Inserts.WithLabelValues("duplicate").Inc()
		return ErrDuplicateEntry
	}

	g.order = append(g.order, entryID)
	g.payloads[entryID] = payload
	g.count++

	m.enforceCapacity(groupID, g)
	metrics.Inserts.WithLabelValues("ok").Inc()
	return nil
}

// InsertMany adds a batch with a single eviction pass. A duplicate anywhere
// in the batch rejects the batch with no side effects.
func (m *Memory) InsertMany(_ context.Context, groupID string, entryIDs []int64) error {
	if len(entryIDs) == 0 {
		return nil
	}

	unlock := m.locks.lock(groupID)
	defer unlock()

	g := m.group(groupID)

	seen := make(map[int64]struct{}, len(entryIDs))
	for _, entryID := range entryIDs {
		if _, dup := seen[entryID]; dup {
			metrics.Inserts.WithLabelValues("duplicate").Inc()
			return ErrDuplicateEntry
		}
		if _, dup := g.payloads[entryID]; dup {
			metrics.Inserts.WithLabelValues("duplicate").Inc()
			return ErrDuplicateEntry
		}
		seen[entryID] = struct{}{}
	}

	for _, entryID := range entryIDs {
		g.order = append(g.order, entryID)
		g.payloads[entryID] = nil
		g.count++
	}

	m.enforceCapacity(groupID, g)
	metrics.Inserts.WithLabelValues("ok").Add(float64(len(entryIDs)))
	return nil
}

// enforceCapacity evicts exactly the overshoot, oldest first. Called with the
// group lock held, after membership and counter are already updated, so a
// single pass settles the whole burst and never recurses.
func (m *Memory) enforceCapacity(groupID string, g *memoryGroup) {
	capacity := m.caps.For(groupID)
	excess := g.count - capacity
	if excess <= 0 {
		return
	}

	for i := int64(0); i < excess; i++ {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.payloads, oldest)
	}
	g.count = capacity

	metrics.EvictedEntries.Add(float64(excess))
	m.log.Debug("capacity enforced",
		zap.String("group_id", groupID),
		zap.Int64("capacity", capacity),
		zap.Int64("evicted", excess),
	)
}

// Delete removes one entry at the caller's request.
func (m *Memory) Delete(_ context.Context, groupID string, entryID int64) error {
	unlock := m.locks.lock(groupID)
	defer unlock()

	g := m.group(groupID)
	if _, ok := g.payloads[entryID]; !ok {
		metrics.Deletes.WithLabelValues("not_found").Inc()
		return ErrEntryNotFound
	}

	delete(g.payloads, entryID)
	for i, id := range g.order {
		if id == entryID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}

	if g.count <= 0 {
		live := int64(len(g.order))
		g.count = live
		metrics.CounterResyncs.Inc()
		metrics.Deletes.WithLabelValues("error").Inc()
		return ErrCounterDesync
	}
	g.count--

	metrics.Deletes.WithLabelValues("ok").Inc()
	return nil
}

// Count reports the group's live count, clamped to capacity.
func (m *Memory) Count(_ context.Context, groupID string) (int64, error) {
	unlock := m.locks.lock(groupID)
	defer unlock()

	g := m.group(groupID)
	if capacity := m.caps.For(groupID); g.count > capacity {
		return capacity, nil
	}
	return g.count, nil
}

// Members returns the group's entry ids in ascending insertion order.
func (m *Memory) Members(_ context.Context, groupID string) ([]int64, error) {
	unlock := m.locks.lock(groupID)
	defer unlock()

	g := m.group(groupID)
	members := make([]int64, len(g.order))
	copy(members, g.order)
	return members, nil
}

// Recount re-derives the counter from live membership.
func (m *Memory) Recount(_ context.Context, groupID string) (int64, error) {
	unlock := m.locks.lock(groupID)
	defer unlock()

	g := m.group(groupID)
	g.count = int64(len(g.order))

	metrics.CounterResyncs.Inc()
	return g.count, nil
}

var _ Collection = (*Memory)(nil)
