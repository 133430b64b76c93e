package withdrawal

import (
	"fmt"
	"testing"

	"github.com/iotaledger/hive.go/kvstore/mapdb"
	"github.com/iotaledger/hive.go/lo"
	"github.com/stretchr/testify/require"

	"github.com/iotaledger/drive.go/pkg/grove"
	"github.com/iotaledger/drive.go/pkg/model"
)

func queueFixture(t *testing.T) (*grove.Tree, *Queue) {
	t.Helper()

	tree := grove.New(mapdb.NewMapDB())
	queue := NewQueue(tree)

	batch := lo.PanicOnErr(tree.Batched())
	require.NoError(t, batch.PutSubtree(grove.RootPath, model.RootKeyWithdrawals))
	require.NoError(t, queue.CreateStructure(batch))
	require.NoError(t, batch.Commit())

	return tree, queue
}

func TestQueue_EnqueueAssignsSequentialIndices(t *testing.T) {
	tree, queue := queueFixture(t)

	batch, err := tree.Batched()
	require.NoError(t, err)

	next, err := queue.NextIndex(batch)
	require.NoError(t, err)
	require.Zero(t, next)

	for i := 0; i < 5; i++ {
		index, err := queue.Enqueue(batch, []byte(fmt.Sprintf("withdrawal-%d", i)))
		require.NoError(t, err)
		require.Equal(t, uint64(i), index)
	}

	next, err = queue.NextIndex(batch)
	require.NoError(t, err)
	require.Equal(t, uint64(5), next)

	require.NoError(t, batch.Commit())
}

func TestQueue_DequeueUpTo(t *testing.T) {
	tree, queue := queueFixture(t)

	batch, err := tree.Batched()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := queue.Enqueue(batch, []byte(fmt.Sprintf("withdrawal-%d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, batch.Commit())

	batch, err = tree.Batched()
	require.NoError(t, err)

	entries, err := queue.DequeueUpTo(batch, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		require.Equal(t, uint64(i), entry.Index)
		require.Equal(t, []byte(fmt.Sprintf("withdrawal-%d", i)), entry.Payload)
	}

	// the remaining two come out next, indices keep counting
	entries, err = queue.DequeueUpTo(batch, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(3), entries[0].Index)
	require.Equal(t, uint64(4), entries[1].Index)

	entries, err = queue.DequeueUpTo(batch, 10)
	require.NoError(t, err)
	require.Empty(t, entries)

	// draining the queue does not reset the counter
	index, err := queue.Enqueue(batch, []byte("late"))
	require.NoError(t, err)
	require.Equal(t, uint64(5), index)

	require.NoError(t, batch.Commit())
}

func TestQueue_DequeueZeroLimit(t *testing.T) {
	tree, queue := queueFixture(t)

	batch, err := tree.Batched()
	require.NoError(t, err)
	_, err = queue.Enqueue(batch, []byte("w"))
	require.NoError(t, err)

	entries, err := queue.DequeueUpTo(batch, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
	batch.Cancel()
}
