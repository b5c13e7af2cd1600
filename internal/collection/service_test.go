package collection

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/groupcap/internal/database/testutil"
	"github.com/charlesng35/groupcap/internal/models"
)

func newTestService(t *testing.T, caps CapacityConfig) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	svc, err := NewService(db, caps)
	require.NoError(t, err)
	return svc, db
}

// requireSettled asserts the three resting-state invariants at once: the
// reported count matches live membership, membership never exceeds capacity,
// and the stored counter can be re-derived from the entry store.
func requireSettled(t *testing.T, svc *Service, db *gorm.DB, groupID string) {
	t.Helper()

	ctx := context.Background()

	count, err := svc.Count(ctx, groupID)
	require.NoError(t, err)

	members, err := svc.Members(ctx, groupID)
	require.NoError(t, err)

	require.Equal(t, int64(len(members)), count, "count must equal live membership")
	require.LessOrEqual(t, count, svc.Capacity(groupID), "membership must not exceed capacity")

	var stored int64
	err = db.Model(&models.Entry{}).Where("group_id = ?", groupID).Count(&stored).Error
	require.NoError(t, err)
	require.Equal(t, stored, int64(len(members)))
}

func TestInsertUnderCapacity(t *testing.T) {
	group := uuid.NewString()
	svc, db := newTestService(t, CapacityConfig{Default: 3})
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, group, 1, []byte(`{"k":"v"}`)))
	require.NoError(t, svc.Insert(ctx, group, 2, nil))

	count, err := svc.Count(ctx, group)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	members, err := svc.Members(ctx, group)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, members)

	requireSettled(t, svc, db, group)
}

func TestInsertEvictsOldest(t *testing.T) {
	group := uuid.NewString()
	svc, db := newTestService(t, CapacityConfig{Default: 2})
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, group, 1, nil))
	require.NoError(t, svc.Insert(ctx, group, 2, nil))
	require.NoError(t, svc.Insert(ctx, group, 3, nil))

	members, err := svc.Members(ctx, group)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3}, members)

	requireSettled(t, svc, db, group)
}

func TestDuplicateInsertRejectedWithoutSideEffects(t *testing.T) {
	group := uuid.NewString()
	svc, db := newTestService(t, CapacityConfig{Default: 5})
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, group, 7, nil))
	require.ErrorIs(t, svc.Insert(ctx, group, 7, nil), ErrDuplicateEntry)

	members, err := svc.Members(ctx, group)
	require.NoError(t, err)
	require.Equal(t, []int64{7}, members)

	count, err := svc.Count(ctx, group)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	requireSettled(t, svc, db, group)
}

func TestDeleteDecrementsCounter(t *testing.T) {
	group := uuid.NewString()
	svc, db := newTestService(t, CapacityConfig{Default: 5})
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, group, 1, nil))
	require.NoError(t, svc.Insert(ctx, group, 2, nil))
	require.NoError(t, svc.Delete(ctx, group, 1))

	count, err := svc.Count(ctx, group)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	members, err := svc.Members(ctx, group)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, members)

	requireSettled(t, svc, db, group)
}

func TestDeleteMissingEntry(t *testing.T) {
	group := uuid.NewString()
	svc, _ := newTestService(t, CapacityConfig{Default: 5})

	require.ErrorIs(t, svc.Delete(context.Background(), group, 99), ErrEntryNotFound)
}

func TestDeleteToZeroKeepsCounterRow(t *testing.T) {
	group := uuid.NewString()
	svc, db := newTestService(t, CapacityConfig{Default: 5})
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, group, 1, nil))
	require.NoError(t, svc.Delete(ctx, group, 1))

	var counter models.GroupCounter
	require.NoError(t, db.Take(&counter, "group_id = ?", group).Error)
	require.Equal(t, int64(0), counter.Count, "count 0 is valid, not absence")

	count, err := svc.Count(ctx, group)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestCapacityZeroEvictsEveryInsert(t *testing.T) {
	group := uuid.NewString()
	svc, db := newTestService(t, CapacityConfig{Default: 0})
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, group, 1, nil))
	require.NoError(t, svc.Insert(ctx, group, 2, nil))

	members, err := svc.Members(ctx, group)
	require.NoError(t, err)
	require.Empty(t, members)

	count, err := svc.Count(ctx, group)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	requireSettled(t, svc, db, group)
}

func TestCapacityOverridePerGroup(t *testing.T) {
	small := uuid.NewString()
	svc, _ := newTestService(t, CapacityConfig{
		Default:   10,
		Overrides: map[string]int64{small: 1},
	})
	ctx := context.Background()

	require.Equal(t, int64(1), svc.Capacity(small))
	require.NoError(t, svc.Insert(ctx, small, 1, nil))
	require.NoError(t, svc.Insert(ctx, small, 2, nil))

	members, err := svc.Members(ctx, small)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, members)
}

func TestBoundedCollectionScenario(t *testing.T) {
	group := uuid.NewString()
	svc, db := newTestService(t, CapacityConfig{Default: 12})
	ctx := context.Background()

	for id := int64(1); id <= 12; id++ {
		require.NoError(t, svc.Insert(ctx, group, id, nil))
	}

	count, err := svc.Count(ctx, group)
	require.NoError(t, err)
	require.Equal(t, int64(12), count)

	members, err := svc.Members(ctx, group)
	require.NoError(t, err)
	require.Equal(t, rangeIDs(1, 12), members)

	require.NoError(t, svc.Insert(ctx, group, 13, nil))

	count, err = svc.Count(ctx, group)
	require.NoError(t, err)
	require.Equal(t, int64(12), count)

	members, err = svc.Members(ctx, group)
	require.NoError(t, err)
	require.Equal(t, rangeIDs(2, 13), members)

	require.NoError(t, svc.InsertMany(ctx, group, rangeIDs(14, 20)))

	count, err = svc.Count(ctx, group)
	require.NoError(t, err)
	require.Equal(t, int64(12), count)

	members, err = svc.Members(ctx, group)
	require.NoError(t, err)
	require.Equal(t, rangeIDs(9, 20), members)

	requireSettled(t, svc, db, group)
}

func TestInsertManyDuplicateRejectsWholeBatch(t *testing.T) {
	group := uuid.NewString()
	svc, db := newTestService(t, CapacityConfig{Default: 10})
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, group, 5, nil))

	require.ErrorIs(t, svc.InsertMany(ctx, group, []int64{6, 7, 5}), ErrDuplicateEntry)
	require.ErrorIs(t, svc.InsertMany(ctx, group, []int64{8, 8}), ErrDuplicateEntry)

	members, err := svc.Members(ctx, group)
	require.NoError(t, err)
	require.Equal(t, []int64{5}, members, "failed batch must leave membership unchanged")

	requireSettled(t, svc, db, group)
}

func TestInsertManyEmptyBatch(t *testing.T) {
	group := uuid.NewString()
	svc, _ := newTestService(t, CapacityConfig{Default: 3})

	require.NoError(t, svc.InsertMany(context.Background(), group, nil))
}

func TestEvictionRecordsEvents(t *testing.T) {
	group := uuid.NewString()
	svc, db := newTestService(t, CapacityConfig{Default: 1})
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, group, 1, nil))
	require.NoError(t, svc.Insert(ctx, group, 2, nil))

	var events []models.EvictionEvent
	require.NoError(t, db.Where("group_id = ?", group).Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, int64(1), events[0].EntryID)
	require.NotEmpty(t, events[0].ID)
}

func TestEvictionSelfHealsWhenEntriesMissing(t *testing.T) {
	group := uuid.NewString()
	svc, db := newTestService(t, CapacityConfig{Default: 2})
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, group, 1, nil))

	// Force the counter far above the live membership to emulate drift.
	var counter CounterStore
	require.NoError(t, counter.Set(ctx, db, group, 10))

	require.NoError(t, svc.Insert(ctx, group, 2, nil))

	// The eviction pass found fewer entries than the excess and re-derived
	// the counter from the entry store.
	count, err := svc.Count(ctx, group)
	require.NoError(t, err)

	members, err := svc.Members(ctx, group)
	require.NoError(t, err)
	require.Equal(t, int64(len(members)), count)
	require.LessOrEqual(t, count, int64(2))
}

func TestDeleteDesyncHealsCounter(t *testing.T) {
	group := uuid.NewString()
	svc, db := newTestService(t, CapacityConfig{Default: 5})
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, group, 1, nil))

	// Zero the counter behind the gate's back; the next delete cannot
	// decrement and must report the desync after healing.
	var counter CounterStore
	require.NoError(t, counter.Set(ctx, db, group, 0))

	require.ErrorIs(t, svc.Delete(ctx, group, 1), ErrCounterDesync)

	count, err := svc.Count(ctx, group)
	require.NoError(t, err)
	require.Equal(t, int64(1), count, "self-heal must restore the counter from ground truth")

	members, err := svc.Members(ctx, group)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, members, "failed delete must not change membership")
}

func TestRecountMatchesMembership(t *testing.T) {
	group := uuid.NewString()
	svc, db := newTestService(t, CapacityConfig{Default: 5})
	ctx := context.Background()

	require.NoError(t, svc.Insert(ctx, group, 1, nil))
	require.NoError(t, svc.Insert(ctx, group, 2, nil))

	var counter CounterStore
	require.NoError(t, counter.Set(ctx, db, group, 7))

	live, err := svc.Recount(ctx, group)
	require.NoError(t, err)
	require.Equal(t, int64(2), live)

	count, err := svc.Count(ctx, group)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestCounterFidelityAcrossMixedOperations(t *testing.T) {
	group := uuid.NewString()
	svc, db := newTestService(t, CapacityConfig{Default: 4})
	ctx := context.Background()

	ops := []func() error{
		func() error { return svc.Insert(ctx, group, 1, nil) },
		func() error { return svc.Insert(ctx, group, 2, nil) },
		func() error { return svc.Delete(ctx, group, 1) },
		func() error { return svc.InsertMany(ctx, group, []int64{3, 4, 5, 6}) },
		func() error { return svc.Insert(ctx, group, 7, nil) },
		func() error { return svc.Delete(ctx, group, 7) },
	}

	for _, op := range ops {
		require.NoError(t, op())
		requireSettled(t, svc, db, group)
	}
}

func TestNewServiceRejectsBadInput(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	_, err := NewService(nil, CapacityConfig{Default: 1})
	require.Error(t, err)

	_, err = NewService(db, CapacityConfig{Default: -1})
	require.Error(t, err)

	_, err = NewService(db, CapacityConfig{Default: 1, Overrides: map[string]int64{"g": -2}})
	require.Error(t, err)
}

func rangeIDs(from, to int64) []int64 {
	ids := make([]int64, 0, to-from+1)
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return ids
}
