package contract

import (
	"testing"

	"github.com/iotaledger/hive.go/kvstore/mapdb"
	"github.com/stretchr/testify/require"

	"github.com/iotaledger/drive.go/pkg/grove"
	"github.com/iotaledger/drive.go/pkg/model"
)

func testContract(version uint32) *Contract {
	return &Contract{
		ID:      []byte("contract-1"),
		OwnerID: []byte("owner-1"),
		Version: version,
		DocumentTypes: map[string]*DocumentType{
			"profile": {
				Name: "profile",
				Properties: []Property{
					{Name: "name", Kind: PropertyString, Required: true},
					{Name: "age", Kind: PropertyInt},
				},
				Indices: []Index{
					{Name: "byName", Unique: true, Properties: []IndexProperty{{Path: "name", Ascending: true}}},
					{Name: "byAge", Properties: []IndexProperty{{Path: "age", Ascending: true}}},
				},
			},
		},
	}
}

func testTree(t *testing.T) *grove.Tree {
	t.Helper()

	tree := grove.New(mapdb.NewMapDB())
	batch, err := tree.Batched()
	require.NoError(t, err)
	require.NoError(t, batch.PutSubtree(grove.RootPath, model.RootKeyContracts))
	require.NoError(t, batch.Commit())

	return tree
}

func TestContract_SerializationRoundtrip(t *testing.T) {
	original := testContract(1)

	decoded, err := FromBytes(original.Bytes())
	require.NoError(t, err)
	require.Equal(t, original, decoded)

	// serialization is deterministic
	require.Equal(t, original.Bytes(), decoded.Bytes())
}

func TestContract_Validation(t *testing.T) {
	valid := testContract(1)
	require.NoError(t, validate(valid))

	noTypes := &Contract{ID: []byte("c"), DocumentTypes: map[string]*DocumentType{}}
	require.ErrorIs(t, validate(noTypes), ErrSchemaViolation)

	duplicateProperty := testContract(1)
	profile := duplicateProperty.DocumentTypes["profile"]
	profile.Properties = append(profile.Properties, Property{Name: "name", Kind: PropertyString})
	require.ErrorIs(t, validate(duplicateProperty), ErrSchemaViolation)

	unknownIndexProperty := testContract(1)
	profile = unknownIndexProperty.DocumentTypes["profile"]
	profile.Indices = append(profile.Indices, Index{
		Name:       "broken",
		Properties: []IndexProperty{{Path: "missing", Ascending: true}},
	})
	require.ErrorIs(t, validate(unknownIndexProperty), ErrSchemaViolation)
}

func TestManager_ApplyAndGet(t *testing.T) {
	tree := testTree(t)
	manager := NewManager(tree)

	batch, err := tree.Batched()
	require.NoError(t, err)
	require.NoError(t, manager.Apply(batch, testContract(1)))
	require.NoError(t, batch.Commit())

	c, err := manager.Get(nil, []byte("contract-1"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), c.Version)

	// the created structure is in place
	for _, path := range []grove.Path{
		DocumentsPath([]byte("contract-1"), "profile"),
		IndexPath([]byte("contract-1"), "profile", "byName"),
		IndexPath([]byte("contract-1"), "profile", "byAge"),
	} {
		_, err := tree.IterateRange(path, grove.Range{Ascending: true}, func([]byte, grove.Element) (bool, error) {
			return true, nil
		})
		require.NoError(t, err)
	}

	_, err = manager.Get(nil, []byte("unknown"))
	require.ErrorIs(t, err, ErrContractNotFound)
}

func TestManager_GetObservesBatch(t *testing.T) {
	tree := testTree(t)
	manager := NewManager(tree)

	batch, err := tree.Batched()
	require.NoError(t, err)
	require.NoError(t, manager.Apply(batch, testContract(1)))

	// visible through the batch before commit, not through committed state
	_, err = manager.Get(batch, []byte("contract-1"))
	require.NoError(t, err)

	batch.Cancel()

	_, err = manager.Get(nil, []byte("contract-1"))
	require.ErrorIs(t, err, ErrContractNotFound)
}

func TestManager_Evolution(t *testing.T) {
	tree := testTree(t)
	manager := NewManager(tree)

	batch, err := tree.Batched()
	require.NoError(t, err)
	require.NoError(t, manager.Apply(batch, testContract(1)))
	require.NoError(t, batch.Commit())

	// same version is rejected
	batch, err = tree.Batched()
	require.NoError(t, err)
	require.ErrorIs(t, manager.Apply(batch, testContract(1)), ErrSchemaViolation)
	batch.Cancel()

	// removing a document type is rejected
	batch, err = tree.Batched()
	require.NoError(t, err)
	hollowed := testContract(2)
	hollowed.DocumentTypes = map[string]*DocumentType{
		"other": {Name: "other", Properties: []Property{{Name: "x", Kind: PropertyInt}}},
	}
	require.ErrorIs(t, manager.Apply(batch, hollowed), ErrSchemaViolation)
	batch.Cancel()

	// changing an index is rejected
	batch, err = tree.Batched()
	require.NoError(t, err)
	mutated := testContract(2)
	mutated.DocumentTypes["profile"].Indices[0].Unique = false
	require.ErrorIs(t, manager.Apply(batch, mutated), ErrSchemaViolation)
	batch.Cancel()

	// additive evolution under a higher version is accepted
	batch, err = tree.Batched()
	require.NoError(t, err)
	extended := testContract(2)
	profile := extended.DocumentTypes["profile"]
	profile.Properties = append(profile.Properties, Property{Name: "city", Kind: PropertyString})
	profile.Indices = append(profile.Indices, Index{
		Name:       "byCity",
		Properties: []IndexProperty{{Path: "city", Ascending: true}},
	})
	require.NoError(t, manager.Apply(batch, extended))
	require.NoError(t, batch.Commit())

	c, err := manager.Get(nil, []byte("contract-1"))
	require.NoError(t, err)
	require.Equal(t, uint32(2), c.Version)
	require.Len(t, c.DocumentTypes["profile"].Indices, 3)
}
