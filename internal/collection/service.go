package collection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/groupcap/pkg/logger"
	"github.com/charlesng35/groupcap/pkg/metrics"
)

// Service is the ingress gate: the single entry point for all mutations.
// Each submit runs as one transaction under a per-group lock, so the counter
// and the entry store never disagree for longer than one settled operation
// and an over-capacity group is never an externally observable resting state.
type Service struct {
	db      *gorm.DB
	store   EntryStore
	counter CounterStore
	evictor *Evictor
	caps    CapacityConfig
	locks   *groupLocks
	log     *zap.Logger
	now     func() time.Time
}

// Option customises the Service.
type Option func(*Service)

// WithNow overrides the clock used for insertion order. Primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the gate around a database handle and a capacity
// configuration. Capacities are fixed for a group's lifetime.
func NewService(db *gorm.DB, caps CapacityConfig, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("collection service: db is required")
	}
	if caps.Default < 0 {
		return nil, fmt.Errorf("collection service: default capacity must be >= 0, got %d", caps.Default)
	}
	for groupID, capacity := range caps.Overrides {
		if capacity < 0 {
			return nil, fmt.Errorf("collection service: capacity override for group %q must be >= 0, got %d", groupID, capacity)
		}
	}

	svc := &Service{
		db:    db,
		caps:  caps,
		locks: newGroupLocks(),
		log:   logger.WithModule("collection"),
		now:   time.Now,
	}
	svc.evictor = &Evictor{store: svc.store, counter: svc.counter, log: svc.log}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// Capacity reports the configured capacity for a group.
func (s *Service) Capacity(groupID string) int64 {
	return s.caps.For(groupID)
}

// Insert adds one entry, then enforces capacity before returning.
// A duplicate is rejected with no side effects.
func (s *Service) Insert(ctx context.Context, groupID string, entryID int64, payload []byte) error {
	ctx = ensuredContext(ctx)

	unlock := s.locks.lock(groupID)
	defer unlock()

	capacity := s.caps.For(groupID)
	insertedAt := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.store.Insert(ctx, tx, groupID, entryID, datatypes.JSON(payload), insertedAt); err != nil {
			return err
		}
		if _, err := s.counter.Increment(ctx, tx, groupID); err != nil {
			return err
		}
		return s.settleCapacity(ctx, tx, groupID, capacity, insertedAt)
	})

	switch {
	case err == nil:
		metrics.Inserts.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrDuplicateEntry):
		metrics.Inserts.WithLabelValues("duplicate").Inc()
	default:
		metrics.Inserts.WithLabelValues("error").Inc()
	}
	return err
}

// InsertMany adds a batch of entries as one settled unit: one counter bump,
// one clamp, one eviction pass sized to the whole overshoot. A duplicate
// anywhere in the batch rejects the batch with no side effects.
func (s *Service) InsertMany(ctx context.Context, groupID string, entryIDs []int64) error {
	ctx = ensuredContext(ctx)

	if len(entryIDs) == 0 {
		return nil
	}

	seen := make(map[int64]struct{}, len(entryIDs))
	for _, entryID := range entryIDs {
		if _, dup := seen[entryID]; dup {
			metrics.Inserts.WithLabelValues("duplicate").Inc()
			return ErrDuplicateEntry
		}
		seen[entryID] = struct{}{}
	}

	unlock := s.locks.lock(groupID)
	defer unlock()

	capacity := s.caps.For(groupID)
	insertedAt := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entryID := range entryIDs {
			if err := s.store.Insert(ctx, tx, groupID, entryID, nil, insertedAt); err != nil {
				return err
			}
		}
		if _, err := s.counter.IncrementBy(ctx, tx, groupID, int64(len(entryIDs))); err != nil {
			return err
		}
		return s.settleCapacity(ctx, tx, groupID, capacity, insertedAt)
	})

	switch {
	case err == nil:
		metrics.Inserts.WithLabelValues("ok").Add(float64(len(entryIDs)))
	case errors.Is(err, ErrDuplicateEntry):
		metrics.Inserts.WithLabelValues("duplicate").Inc()
	default:
		metrics.Inserts.WithLabelValues("error").Inc()
	}
	return err
}

// settleCapacity runs the detect-then-evict half of a submit. The clamp both
// detects the overshoot and pre-accounts for the eviction deletes, so the
// coordinator never touches the counter on the happy path.
func (s *Service) settleCapacity(ctx context.Context, tx *gorm.DB, groupID string, capacity int64, evictedAt time.Time) error {
	preClamp, clamped, err := s.counter.ClampIfOver(ctx, tx, groupID, capacity)
	if err != nil {
		return err
	}
	if !clamped {
		return nil
	}

	evicted, err := s.evictor.EnforceCapacity(ctx, tx, groupID, preClamp, capacity, evictedAt)
	if err != nil {
		return err
	}

	s.log.Debug("capacity enforced",
		zap.String("group_id", groupID),
		zap.Int64("capacity", capacity),
		zap.Int64("evicted", evicted),
	)
	return nil
}

// Delete removes one entry at the caller's request and decrements the group
// counter. A counter that cannot be decremented is a desync: the group is
// recounted from the entry store and the operation is reported as failed.
func (s *Service) Delete(ctx context.Context, groupID string, entryID int64) error {
	ctx = ensuredContext(ctx)

	unlock := s.locks.lock(groupID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.store.Delete(ctx, tx, groupID, entryID); err != nil {
			return err
		}
		_, err := s.counter.Decrement(ctx, tx, groupID)
		return err
	})

	if errors.Is(err, ErrCounterDesync) {
		// The transaction rolled back, so membership is unchanged; heal the
		// counter from ground truth before surfacing the failure.
		if _, healErr := s.recountLocked(ctx, groupID); healErr != nil {
			s.log.Error("counter self-heal failed",
				zap.String("group_id", groupID),
				zap.Error(healErr),
			)
		}
	}

	switch {
	case err == nil:
		metrics.Deletes.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrEntryNotFound):
		metrics.Deletes.WithLabelValues("not_found").Inc()
	default:
		metrics.Deletes.WithLabelValues("error").Inc()
	}
	return err
}

// Count reports the group's live count from the incremental counter, clamped
// to capacity so a mid-operation overshoot is never reported.
func (s *Service) Count(ctx context.Context, groupID string) (int64, error) {
	ctx = ensuredContext(ctx)

	count, err := s.counter.Value(ctx, s.db, groupID)
	if err != nil {
		return 0, err
	}

	if capacity := s.caps.For(groupID); count > capacity {
		return capacity, nil
	}
	return count, nil
}

// Members returns the group's entry ids in ascending insertion order.
func (s *Service) Members(ctx context.Context, groupID string) ([]int64, error) {
	ctx = ensuredContext(ctx)
	return s.store.Members(ctx, s.db, groupID)
}

// Recount re-derives the counter from the entry store under the group lock
// and returns the authoritative count.
func (s *Service) Recount(ctx context.Context, groupID string) (int64, error) {
	ctx = ensuredContext(ctx)

	unlock := s.locks.lock(groupID)
	defer unlock()

	return s.recountLocked(ctx, groupID)
}

func (s *Service) recountLocked(ctx context.Context, groupID string) (int64, error) {
	var live int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		live, err = s.store.Count(ctx, tx, groupID)
		if err != nil {
			return err
		}
		return s.counter.Set(ctx, tx, groupID, live)
	})
	if err != nil {
		return 0, err
	}

	metrics.CounterResyncs.Inc()
	return live, nil
}

var _ Collection = (*Service)(nil)
