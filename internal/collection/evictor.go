package collection

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/groupcap/internal/models"
	"github.com/charlesng35/groupcap/pkg/metrics"
)

// Evictor restores the capacity invariant for a group whose counter was just
// clamped. Its deletes go straight to the entry store — never back through
// the gate — so eviction cannot re-trigger another eviction pass or touch the
// counter the clamp already settled.
type Evictor struct {
	store   EntryStore
	counter CounterStore
	log     *zap.Logger
}

// EnforceCapacity removes exactly the excess oldest entries. preClamp is the
// counter value observed before the clamp, so excess covers the whole
// overshoot of a bulk insert in one pass. Returns the number of evictions.
func (e *Evictor) EnforceCapacity(ctx context.Context, tx *gorm.DB, groupID string, preClamp, capacity int64, evictedAt time.Time) (int64, error) {
	excess := preClamp - capacity
	if excess <= 0 {
		return 0, nil
	}

	victims, err := e.store.OldestN(ctx, tx, groupID, excess)
	if err != nil {
		return 0, err
	}

	for _, victim := range victims {
		if err := e.store.Delete(ctx, tx, groupID, victim.EntryID); err != nil {
			return 0, err
		}
		event := models.EvictionEvent{
			GroupID:   groupID,
			EntryID:   victim.EntryID,
			EvictedAt: evictedAt,
		}
		if err := tx.WithContext(ctx).Create(&event).Error; err != nil {
			return 0, err
		}
	}

	evicted := int64(len(victims))
	metrics.EvictedEntries.Add(float64(evicted))

	if evicted < excess {
		// Concurrent deletes raced the eviction; the clamp over-accounted.
		// Re-derive the counter from the entry store rather than trusting it.
		live, err := e.store.Count(ctx, tx, groupID)
		if err != nil {
			return 0, err
		}
		if err := e.counter.Set(ctx, tx, groupID, live); err != nil {
			return 0, err
		}
		metrics.CounterResyncs.Inc()
		e.log.Warn("eviction found fewer entries than excess, counter resynced",
			zap.String("group_id", groupID),
			zap.Int64("excess", excess),
			zap.Int64("evicted", evicted),
			zap.Int64("live", live),
		)
	}

	return evicted, nil
}
