package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hnsync/internal/model"
	"hnsync/pkg/kv"
	"hnsync/pkg/logger"
)

func TestOrderRepo_LoadSaveRestore(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	repo := NewOrderRepo(mem, logger.NewNop())

	orders, raw, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Nil(t, raw)

	orders["100"] = &model.OrderRecord{ID: "100", Address: "1 A St", Status: model.OrderStatusPending}
	require.NoError(t, repo.Save(ctx, "u1", orders))

	loaded, raw, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	require.Contains(t, loaded, "100")
	assert.Equal(t, "1 A St", loaded["100"].Address)
	assert.NotEmpty(t, raw)

	loaded["101"] = &model.OrderRecord{ID: "101"}
	require.NoError(t, repo.Save(ctx, "u1", loaded))
	require.NoError(t, repo.Restore(ctx, "u1", raw))

	after, err := mem.Get(ctx, OrdersKey("u1"))
	require.NoError(t, err)
	assert.Equal(t, raw, after)

	// 原快照不存在时回滚为删除
	require.NoError(t, repo.Restore(ctx, "u1", nil))
	_, err = mem.Get(ctx, OrdersKey("u1"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestOrderRepo_CorruptSnapshotResets(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	require.NoError(t, mem.Put(ctx, OrdersKey("u1"), []byte(`{"100":`), 0))

	orders, raw, err := NewOrderRepo(mem, logger.NewNop()).Load(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, []byte(`{"100":`), raw)
}

func TestOrderRepo_LoadNormalizesCompleteOrders(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	require.NoError(t, mem.Put(ctx, OrdersKey("u1"),
		[]byte(`{"7":{"departureCompleteTs":"2024-03-05T10:00:00Z","syncStatus":"incomplete","needsResync":true}}`), 0))

	orders, _, err := NewOrderRepo(mem, logger.NewNop()).Load(ctx, "u1")
	require.NoError(t, err)
	require.Contains(t, orders, "7")
	assert.Equal(t, "7", orders["7"].ID)
	assert.Equal(t, model.SyncStatusComplete, orders["7"].SyncStatus)
	assert.False(t, orders["7"].NeedsResync)
}

func TestTripRepo(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	repo := NewTripRepo(mem, logger.NewNop())

	trip, err := repo.Get(ctx, "u1", "2024-03-05")
	require.NoError(t, err)
	assert.Nil(t, trip)

	want := &model.TripRecord{ID: model.TripID("u1", "2024-03-05"), UserID: "u1", Date: "2024-03-05", TotalEarnings: 42}
	require.NoError(t, repo.Put(ctx, want))

	got, err := repo.Get(ctx, "u1", "2024-03-05")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hns_u1_2024-03-05", got.ID)
	assert.Equal(t, 42.0, got.TotalEarnings)

	require.NoError(t, mem.Put(ctx, TripKey("u1", "2024-03-06"), []byte(`not json`), 0))
	got, err = repo.Get(ctx, "u1", "2024-03-06")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestProgressRepo(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	mem.SetClock(func() time.Time { return now })
	repo := NewProgressRepo(mem)

	require.NoError(t, repo.Save(ctx, "u1", model.SyncProgress{ScanDone: true, StartedAt: now}))
	p, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.ScanDone)
	assert.False(t, p.GapFillDone)

	now = now.Add(ProgressTTL)
	p, err = repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, p.ScanDone)

	require.NoError(t, repo.Save(ctx, "u1", model.SyncProgress{BackwardDone: true}))
	require.NoError(t, repo.Clear(ctx, "u1"))
	p, err = repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncProgress{}, p)
}
