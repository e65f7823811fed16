package mergequeue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSnapshotPositionsAreDense covers invariant 4: at rest, positions
// for a repository's queue are exactly {1..N}, strictly ordered by
// score.
func TestSnapshotPositionsAreDense(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UnixMilli()

	for i, priority := range []int{0, 0, 0} {
		item := Item{RepositoryID: "r1", PRNumber: i + 1, Status: StatusQueued, Priority: priority}
		item.Score = ScoreFor(base+int64(i), priority)
		require.NoError(t, store.Add(ctx, item))
	}

	snap, err := store.Snapshot(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, snap.Items, 3)
	for i, item := range snap.Items {
		require.Equal(t, i+1, item.Position)
	}
}

// TestPriorityOrdersAheadOfInsertionOrder covers invariant 5 / Scenario
// C: a higher-priority item always sorts earlier regardless of
// insertion order.
func TestPriorityOrdersAheadOfInsertionOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UnixMilli()

	add := func(pr, priority int, offsetMs int64) {
		item := Item{RepositoryID: "r1", PRNumber: pr, Status: StatusQueued, Priority: priority}
		item.Score = ScoreFor(base+offsetMs, priority)
		require.NoError(t, store.Add(ctx, item))
	}
	add(1, 0, 0)
	add(2, 5, 1)
	add(3, 0, 2)

	snap, err := store.Snapshot(ctx, "r1")
	require.NoError(t, err)

	positions := map[int]int{}
	for _, item := range snap.Items {
		positions[item.PRNumber] = item.Position
	}
	require.Equal(t, 1, positions[2])
	require.Equal(t, 2, positions[1])
	require.Equal(t, 3, positions[3])
}

func TestMutateAppliesInPlace(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, Item{RepositoryID: "r1", PRNumber: 1, Status: StatusQueued}))

	require.NoError(t, store.Mutate(ctx, "r1", 1, func(item *Item) {
		item.Status = StatusBlocked
		item.BlockedReason = "draft"
	}))

	item, err := store.Get(ctx, "r1", 1)
	require.NoError(t, err)
	require.Equal(t, StatusBlocked, item.Status)
	require.Equal(t, "draft", item.BlockedReason)
}

func TestGetMissingItemIsNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "r1", 999)
	require.Error(t, err)
}
