package mergequeue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client)
}

func TestRedisStoreAddGetRoundTrips(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	item := Item{
		RepositoryID: "acme/widgets",
		PRNumber:     42,
		Owner:        "acme",
		Repo:         "widgets",
		Status:       StatusQueued,
		Priority:     0,
		Score:        time.Now().UnixMilli(),
		AddedAt:      time.Now(),
	}
	require.NoError(t, store.Add(ctx, item))

	got, err := store.Get(ctx, "acme/widgets", 42)
	require.NoError(t, err)
	require.Equal(t, item.PRNumber, got.PRNumber)
	require.Equal(t, item.Status, got.Status)
}

func TestRedisStoreGetMissingIsNotFound(t *testing.T) {
	store := newTestRedisStore(t)
	_, err := store.Get(context.Background(), "acme/widgets", 99)
	require.Error(t, err)
}

func TestRedisStoreRemoveDeletesFromQueueAndHash(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	item := Item{RepositoryID: "acme/widgets", PRNumber: 7, Score: 100}
	require.NoError(t, store.Add(ctx, item))
	require.NoError(t, store.Remove(ctx, "acme/widgets", 7))

	_, err := store.Get(ctx, "acme/widgets", 7)
	require.Error(t, err)

	snap, err := store.Snapshot(ctx, "acme/widgets")
	require.NoError(t, err)
	require.Empty(t, snap.Items)
}

func TestRedisStoreMutateAppliesChangeAndPersists(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	item := Item{RepositoryID: "acme/widgets", PRNumber: 3, Status: StatusQueued, Score: 50}
	require.NoError(t, store.Add(ctx, item))

	require.NoError(t, store.Mutate(ctx, "acme/widgets", 3, func(i *Item) {
		i.Status = StatusReady
	}))

	got, err := store.Get(ctx, "acme/widgets", 3)
	require.NoError(t, err)
	require.Equal(t, StatusReady, got.Status)
}

func TestRedisStoreSnapshotOrdersByScore(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, Item{RepositoryID: "acme/widgets", PRNumber: 1, Score: 300}))
	require.NoError(t, store.Add(ctx, Item{RepositoryID: "acme/widgets", PRNumber: 2, Score: 100}))
	require.NoError(t, store.Add(ctx, Item{RepositoryID: "acme/widgets", PRNumber: 3, Score: 200}))

	snap, err := store.Snapshot(ctx, "acme/widgets")
	require.NoError(t, err)
	require.Len(t, snap.Items, 3)
	require.Equal(t, 2, snap.Items[0].PRNumber)
	require.Equal(t, 3, snap.Items[1].PRNumber)
	require.Equal(t, 1, snap.Items[2].PRNumber)
}
