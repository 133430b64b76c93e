package grove

import (
	"fmt"
	"testing"

	"github.com/iotaledger/hive.go/kvstore/mapdb"
	"github.com/stretchr/testify/require"
)

func proofTestTree(t *testing.T, count int) (*Tree, Digest, Path) {
	t.Helper()

	tree := New(mapdb.NewMapDB())
	path := Path{[]byte("docs")}

	batch, err := tree.Batched()
	require.NoError(t, err)
	require.NoError(t, batch.PutSubtree(RootPath, []byte("docs")))
	for i := 0; i < count; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		require.NoError(t, batch.PutItem(path, key, []byte(fmt.Sprintf("value-%03d", i))))
	}
	require.NoError(t, batch.Commit())

	root, err := tree.RootHash()
	require.NoError(t, err)

	return tree, root, path
}

func TestProof_FullRange(t *testing.T) {
	tree, root, path := proofTestTree(t, 20)

	rng := Range{Ascending: true}
	proof, scanned, err := tree.ProveRange(path, rng)
	require.NoError(t, err)
	require.GreaterOrEqual(t, scanned, 20)

	entries, err := VerifyRangeProof(proof, root, path, rng)
	require.NoError(t, err)
	require.Len(t, entries, 20)
	for i, entry := range entries {
		require.Equal(t, []byte(fmt.Sprintf("key-%03d", i)), entry.Key)
		require.Equal(t, ElementItem, entry.Element.Kind)
		require.Equal(t, []byte(fmt.Sprintf("value-%03d", i)), entry.Element.Value)
	}
}

func TestProof_Subrange(t *testing.T) {
	tree, root, path := proofTestTree(t, 50)

	rng := Range{
		Start:     []byte("key-010"),
		End:       []byte("key-015"),
		Ascending: true,
	}
	proof, _, err := tree.ProveRange(path, rng)
	require.NoError(t, err)

	entries, err := VerifyRangeProof(proof, root, path, rng)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	require.Equal(t, []byte("key-010"), entries[0].Key)
	require.Equal(t, []byte("key-014"), entries[4].Key)
}

func TestProof_Limit(t *testing.T) {
	tree, root, path := proofTestTree(t, 50)

	rng := Range{Ascending: true, Limit: 7}
	proof, _, err := tree.ProveRange(path, rng)
	require.NoError(t, err)

	entries, err := VerifyRangeProof(proof, root, path, rng)
	require.NoError(t, err)
	require.Len(t, entries, 7)
	require.Equal(t, []byte("key-000"), entries[0].Key)
	require.Equal(t, []byte("key-006"), entries[6].Key)
}

func TestProof_Descending(t *testing.T) {
	tree, root, path := proofTestTree(t, 30)

	rng := Range{Ascending: false, Limit: 5}
	proof, _, err := tree.ProveRange(path, rng)
	require.NoError(t, err)

	entries, err := VerifyRangeProof(proof, root, path, rng)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	require.Equal(t, []byte("key-029"), entries[0].Key)
	require.Equal(t, []byte("key-025"), entries[4].Key)
}

func TestProof_EmptyRange(t *testing.T) {
	tree, root, path := proofTestTree(t, 10)

	rng := Range{
		Start:     []byte("zzz"),
		Ascending: true,
	}
	proof, _, err := tree.ProveRange(path, rng)
	require.NoError(t, err)

	entries, err := VerifyRangeProof(proof, root, path, rng)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestProof_EmptySubtree(t *testing.T) {
	tree := New(mapdb.NewMapDB())
	path := Path{[]byte("empty")}

	batch, err := tree.Batched()
	require.NoError(t, err)
	require.NoError(t, batch.PutSubtree(RootPath, []byte("empty")))
	require.NoError(t, batch.Commit())

	root, err := tree.RootHash()
	require.NoError(t, err)

	rng := Range{Ascending: true}
	proof, _, err := tree.ProveRange(path, rng)
	require.NoError(t, err)

	entries, err := VerifyRangeProof(proof, root, path, rng)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestProof_DeepPath(t *testing.T) {
	tree := New(mapdb.NewMapDB())
	path := Path{[]byte("a"), []byte("b"), []byte("c")}

	batch, err := tree.Batched()
	require.NoError(t, err)
	require.NoError(t, batch.PutSubtree(RootPath, []byte("a")))
	require.NoError(t, batch.PutSubtree(Path{[]byte("a")}, []byte("b")))
	require.NoError(t, batch.PutSubtree(Path{[]byte("a"), []byte("b")}, []byte("c")))
	require.NoError(t, batch.PutItem(path, []byte("k"), []byte("v")))
	require.NoError(t, batch.Commit())

	root, err := tree.RootHash()
	require.NoError(t, err)

	rng := Range{Ascending: true}
	proof, _, err := tree.ProveRange(path, rng)
	require.NoError(t, err)

	entries, err := VerifyRangeProof(proof, root, path, rng)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("k"), entries[0].Key)
	require.Equal(t, []byte("v"), entries[0].Element.Value)

	// the proof is bound to its path
	_, err = VerifyRangeProof(proof, root, Path{[]byte("a"), []byte("b")}, rng)
	require.ErrorIs(t, err, ErrInvalidProof)
}

func TestProof_TamperDetection(t *testing.T) {
	tree, root, path := proofTestTree(t, 25)

	rng := Range{Ascending: true, Limit: 10}
	proof, _, err := tree.ProveRange(path, rng)
	require.NoError(t, err)

	// flipping any single byte must not verify cleanly
	for i := range proof {
		tampered := make([]byte, len(proof))
		copy(tampered, proof)
		tampered[i] ^= 0x01

		entries, err := VerifyRangeProof(tampered, root, path, rng)
		if err == nil {
			// a flipped byte that still parses must at least change the result
			require.NotEqual(t, 10, len(entries))
		}
	}
}

func TestProof_WrongRoot(t *testing.T) {
	tree, root, path := proofTestTree(t, 10)

	rng := Range{Ascending: true}
	proof, _, err := tree.ProveRange(path, rng)
	require.NoError(t, err)

	wrongRoot := root
	wrongRoot[0] ^= 0xff
	_, err = VerifyRangeProof(proof, wrongRoot, path, rng)
	require.ErrorIs(t, err, ErrInvalidProof)
}

func TestProof_StaleStateRejected(t *testing.T) {
	tree, _, path := proofTestTree(t, 10)

	rng := Range{Ascending: true}
	proof, _, err := tree.ProveRange(path, rng)
	require.NoError(t, err)

	// advance the state; the old proof must not verify against the new root
	batch, err := tree.Batched()
	require.NoError(t, err)
	require.NoError(t, batch.PutItem(path, []byte("key-999"), []byte("late")))
	require.NoError(t, batch.Commit())

	newRoot, err := tree.RootHash()
	require.NoError(t, err)

	_, err = VerifyRangeProof(proof, newRoot, path, rng)
	require.ErrorIs(t, err, ErrInvalidProof)
}
