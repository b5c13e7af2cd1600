package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/groupcap/internal/collection"
	"github.com/charlesng35/groupcap/internal/database/testutil"
	"github.com/charlesng35/groupcap/internal/models"
)

func TestVerifyCountersHealsDrift(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	group := uuid.NewString()
	ctx := context.Background()

	svc, err := collection.NewService(db, collection.CapacityConfig{Default: 10})
	require.NoError(t, err)

	require.NoError(t, svc.Insert(ctx, group, 1, nil))
	require.NoError(t, svc.Insert(ctx, group, 2, nil))

	// Corrupt the counter behind the gate's back.
	var counter collection.CounterStore
	require.NoError(t, counter.Set(ctx, db, group, 9))

	sweeper := NewSweeper(db, svc)
	healed, err := sweeper.VerifyCounters(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, healed)

	count, err := svc.Count(ctx, group)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestVerifyCountersNoDrift(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	group := uuid.NewString()
	ctx := context.Background()

	svc, err := collection.NewService(db, collection.CapacityConfig{Default: 10})
	require.NoError(t, err)
	require.NoError(t, svc.Insert(ctx, group, 1, nil))

	sweeper := NewSweeper(db, svc)
	healed, err := sweeper.VerifyCounters(ctx)
	require.NoError(t, err)
	require.Zero(t, healed)
}

func TestPruneEvictionEvents(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	group := uuid.NewString()
	now := time.Now()

	old := models.EvictionEvent{GroupID: group, EntryID: 1, EvictedAt: now.AddDate(0, 0, -120)}
	fresh := models.EvictionEvent{GroupID: group, EntryID: 2, EvictedAt: now.AddDate(0, 0, -1)}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Create(&fresh).Error)

	sweeper := NewSweeper(db, nil, WithNow(func() time.Time { return now }))

	pruned, err := sweeper.PruneEvictionEvents(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), pruned)

	var remaining []models.EvictionEvent
	require.NoError(t, db.Where("group_id = ?", group).Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, int64(2), remaining[0].EntryID)
}

func TestRunOnceAggregates(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	svc, err := collection.NewService(db, collection.CapacityConfig{Default: 3})
	require.NoError(t, err)

	sweeper := NewSweeper(db, svc, WithEventRetentionDays(30))
	require.NoError(t, sweeper.RunOnce(context.Background()))
}

func TestSweeperWithoutDatabaseIsNoop(t *testing.T) {
	sweeper := NewSweeper(nil, nil)
	require.NoError(t, sweeper.Start())
	require.NoError(t, sweeper.RunOnce(context.Background()))
	<-sweeper.Stop().Done()
}
