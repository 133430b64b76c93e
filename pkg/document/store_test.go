package document

import (
	"testing"

	"github.com/iotaledger/hive.go/kvstore/mapdb"
	"github.com/stretchr/testify/require"

	"github.com/iotaledger/drive.go/pkg/contract"
	"github.com/iotaledger/drive.go/pkg/fee"
	"github.com/iotaledger/drive.go/pkg/grove"
	"github.com/iotaledger/drive.go/pkg/model"
)

func storeFixture(t *testing.T) (*grove.Tree, *Store) {
	t.Helper()

	tree := grove.New(mapdb.NewMapDB())
	manager := contract.NewManager(tree)

	batch, err := tree.Batched()
	require.NoError(t, err)
	require.NoError(t, batch.PutSubtree(grove.RootPath, model.RootKeyContracts))
	require.NoError(t, manager.Apply(batch, &contract.Contract{
		ID:      []byte("contract-1"),
		OwnerID: []byte("owner-1"),
		Version: 1,
		DocumentTypes: map[string]*contract.DocumentType{
			"profile": {
				Name: "profile",
				Properties: []contract.Property{
					{Name: "name", Kind: contract.PropertyString, Required: true},
					{Name: "age", Kind: contract.PropertyInt},
				},
				Indices: []contract.Index{
					{Name: "byName", Unique: true, Properties: []contract.IndexProperty{{Path: "name", Ascending: true}}},
					{Name: "byAge", Properties: []contract.IndexProperty{{Path: "age", Ascending: true}}},
				},
			},
		},
	}))
	require.NoError(t, batch.Commit())

	return tree, NewStore(manager, true)
}

func indexEntryCount(t *testing.T, tree *grove.Tree, indexName string) int {
	t.Helper()

	count, err := tree.IterateRange(
		contract.IndexPath([]byte("contract-1"), "profile", indexName),
		grove.Range{Ascending: true},
		func([]byte, grove.Element) (bool, error) { return true, nil },
	)
	require.NoError(t, err)

	return count
}

func TestStore_CreateMaintainsIndices(t *testing.T) {
	tree, store := storeFixture(t)

	batch, err := tree.Batched()
	require.NoError(t, err)
	require.NoError(t, store.Create(batch, testDocument("d1", "alice", 30)))
	require.NoError(t, store.Create(batch, testDocument("d2", "bob", 25)))
	require.NoError(t, batch.Commit())

	require.Equal(t, 2, indexEntryCount(t, tree, "byName"))
	require.Equal(t, 2, indexEntryCount(t, tree, "byAge"))

	view := tree.DryRun()
	defer view.Cancel()
	loaded, err := store.Get(view, []byte("contract-1"), "profile", []byte("d1"))
	require.NoError(t, err)
	require.Equal(t, StringValue("alice"), loaded.Property("name"))
}

func TestStore_CreateConflicts(t *testing.T) {
	tree, store := storeFixture(t)

	batch, err := tree.Batched()
	require.NoError(t, err)
	require.NoError(t, store.Create(batch, testDocument("d1", "alice", 30)))

	// duplicate ID
	require.ErrorIs(t, store.Create(batch, testDocument("d1", "alicia", 31)), ErrAlreadyExists)

	// unique index collision, different ID
	opCountBefore := batch.OpCount()
	err = store.Create(batch, testDocument("d2", "alice", 40))
	require.ErrorIs(t, err, ErrUniqueConstraint)

	// a rejected create must not have written anything
	for _, op := range batch.OpsSince(opCountBefore) {
		require.NotEqual(t, fee.OpInsert, op.Kind)
		require.NotEqual(t, fee.OpDelete, op.Kind)
	}

	require.NoError(t, batch.Commit())
	require.Equal(t, 1, indexEntryCount(t, tree, "byName"))
}

func TestStore_UpdateMovesIndexEntries(t *testing.T) {
	tree, store := storeFixture(t)

	batch, err := tree.Batched()
	require.NoError(t, err)
	require.NoError(t, store.Create(batch, testDocument("d1", "alice", 30)))
	require.NoError(t, batch.Commit())

	batch, err = tree.Batched()
	require.NoError(t, err)

	// an update must carry the stored revision plus one
	stale := testDocument("d1", "alice", 31)
	stale.Revision = 1
	require.ErrorIs(t, store.Update(batch, stale), ErrRevisionMismatch)
	skipped := testDocument("d1", "alice", 31)
	skipped.Revision = 3
	require.ErrorIs(t, store.Update(batch, skipped), ErrRevisionMismatch)

	updated := testDocument("d1", "alice", 31)
	updated.Revision = 2
	require.NoError(t, store.Update(batch, updated))
	require.NoError(t, batch.Commit())

	stored, err := func() (*Document, error) {
		view := tree.DryRun()
		defer view.Cancel()

		return store.Get(view, []byte("contract-1"), "profile", []byte("d1"))
	}()
	require.NoError(t, err)
	require.Equal(t, uint64(2), stored.Revision)

	// one entry per index, the age entry moved
	require.Equal(t, 1, indexEntryCount(t, tree, "byName"))
	require.Equal(t, 1, indexEntryCount(t, tree, "byAge"))

	var ages [][]byte
	_, err = tree.IterateRange(
		contract.IndexPath([]byte("contract-1"), "profile", "byAge"),
		grove.Range{Ascending: true},
		func(key []byte, _ grove.Element) (bool, error) {
			ages = append(ages, key)

			return true, nil
		},
	)
	require.NoError(t, err)
	require.Len(t, ages, 1)
	require.Equal(t, IndexKey(updated, contract.Index{
		Name:       "byAge",
		Properties: []contract.IndexProperty{{Path: "age", Ascending: true}},
	}), ages[0])
}

func TestStore_UpdateMissing(t *testing.T) {
	tree, store := storeFixture(t)

	batch, err := tree.Batched()
	require.NoError(t, err)
	require.ErrorIs(t, store.Update(batch, testDocument("ghost", "nobody", 0)), ErrNotFound)
	batch.Cancel()
}

func TestStore_DeleteRemovesIndexEntries(t *testing.T) {
	tree, store := storeFixture(t)

	batch, err := tree.Batched()
	require.NoError(t, err)
	require.NoError(t, store.Create(batch, testDocument("d1", "alice", 30)))
	require.NoError(t, store.Create(batch, testDocument("d2", "bob", 25)))
	require.NoError(t, batch.Commit())

	batch, err = tree.Batched()
	require.NoError(t, err)
	require.NoError(t, store.Delete(batch, []byte("contract-1"), "profile", []byte("d1")))
	require.ErrorIs(t, store.Delete(batch, []byte("contract-1"), "profile", []byte("d1")), ErrNotFound)
	require.NoError(t, batch.Commit())

	require.Equal(t, 1, indexEntryCount(t, tree, "byName"))
	require.Equal(t, 1, indexEntryCount(t, tree, "byAge"))

	view := tree.DryRun()
	defer view.Cancel()
	_, err = store.Get(view, []byte("contract-1"), "profile", []byte("d1"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DryRunLeavesRootUntouched(t *testing.T) {
	tree, store := storeFixture(t)

	rootBefore, err := tree.RootHash()
	require.NoError(t, err)

	view := tree.DryRun()
	require.NoError(t, store.Create(view, testDocument("d1", "alice", 30)))
	view.Cancel()

	rootAfter, err := tree.RootHash()
	require.NoError(t, err)
	require.Equal(t, rootBefore, rootAfter)
}
