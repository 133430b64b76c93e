package grove

import (
	"go.uber.org/atomic"

	"github.com/iotaledger/hive.go/kvstore"
)

// Tree is the authenticated hierarchical key/value store. It is a forest of
// ordered merk subtrees: every subtree's root digest is committed as an
// element of its parent, so RootHash commits to the entire state.
//
// All mutations go through a Batch and are applied atomically on Commit. At
// most one committable batch may be open at a time (single-writer); read-only
// operations observe the last committed state and may run concurrently.
type Tree struct {
	store kvstore.KVStore

	batchOpen atomic.Bool
}

func New(store kvstore.KVStore) *Tree {
	return &Tree{store: store}
}

// Batched opens the tree's single committable batch. It fails with
// ErrBatchOpen while another batch is open.
func (t *Tree) Batched() (*Batch, error) {
	if !t.batchOpen.CompareAndSwap(false, true) {
		return nil, ErrBatchOpen
	}

	return newBatch(t, false), nil
}

// DryRun opens a batch that can never commit. Dry-run batches observe the
// last committed state, accept the same mutations and produce the same
// operation log as a committable batch, but Commit on them fails and Cancel
// discards everything. They do not count against the single-writer limit.
func (t *Tree) DryRun() *Batch {
	return newBatch(t, true)
}

// RootHash returns the digest over the whole committed state. It is the zero
// digest for a tree that was never written to.
func (t *Tree) RootHash() (Digest, error) {
	source := nodeSource{store: t.store}

	rootKey, err := source.rootKey()
	if err != nil {
		return EmptyDigest, err
	}
	if rootKey == nil {
		return EmptyDigest, nil
	}

	root, err := source.node(rootKey)
	if err != nil {
		return EmptyDigest, err
	}
	if root == nil {
		return EmptyDigest, ErrKeyNotFound
	}

	return root.hash, nil
}

// Get reads a committed element.
func (t *Tree) Get(path Path, key []byte) (Element, error) {
	return t.DryRun().Get(path, key)
}

// GetItem reads a committed item value.
func (t *Tree) GetItem(path Path, key []byte) ([]byte, error) {
	return t.DryRun().GetItem(path, key)
}

// Has reports whether a committed element exists.
func (t *Tree) Has(path Path, key []byte) (bool, error) {
	return t.DryRun().Has(path, key)
}

// IterateRange scans a committed subtree. See Batch.IterateRange.
func (t *Tree) IterateRange(path Path, rng Range, visit func(key []byte, element Element) (bool, error)) (int, error) {
	return t.DryRun().IterateRange(path, rng, visit)
}

// Range bounds a scan over one subtree. Start is inclusive, End exclusive;
// nil bounds are unbounded. Limit of 0 means no limit.
type Range struct {
	Start     []byte
	End       []byte
	Ascending bool
	Limit     int
}
