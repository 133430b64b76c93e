package grove

import (
	"github.com/iotaledger/hive.go/ierrors"

	"github.com/iotaledger/drive.go/pkg/fee"
)

// Batch groups mutations that are applied atomically: either every operation
// is reflected in a new root digest, or none are. Reads through the batch
// observe its pending writes. A batch also keeps the operation log that fee
// calculation is based on.
//
// A batch is bound to a single caller and is not safe for concurrent use.
type Batch struct {
	tree *Tree

	merks    map[string]*merk
	paths    map[string]Path
	verified map[string]bool

	ops  []fee.Op
	done bool
	dry  bool
}

func newBatch(tree *Tree, dry bool) *Batch {
	return &Batch{
		tree:     tree,
		merks:    make(map[string]*merk),
		paths:    make(map[string]Path),
		verified: make(map[string]bool),
		dry:      dry,
	}
}

// merkFor returns the batch's merk overlay of the given subtree, verifying
// that the path exists in the hierarchy.
func (b *Batch) merkFor(path Path) (*merk, error) {
	if b.done {
		return nil, ErrBatchDiscarded
	}

	key := path.key()
	if m, exists := b.merks[key]; exists {
		return m, nil
	}

	if err := b.ensurePath(path); err != nil {
		return nil, err
	}

	realm, err := path.realm()
	if err != nil {
		return nil, err
	}

	m, err := newMerk(nodeSource{store: b.tree.store, realm: realm})
	if err != nil {
		return nil, err
	}

	b.merks[key] = m
	b.paths[key] = path

	return m, nil
}

// ensurePath verifies that every ancestor holds a subtree element for the
// next segment.
func (b *Batch) ensurePath(path Path) error {
	if len(path) == 0 || b.verified[path.key()] {
		return nil
	}

	parent, segment := path.Parent()
	parentMerk, err := b.merkFor(parent)
	if err != nil {
		return err
	}

	elementBytes, exists, err := parentMerk.get(segment)
	if err != nil {
		return err
	}
	if !exists {
		return ierrors.Wrapf(ErrSubtreeNotFound, "path %s", path)
	}

	element, err := ElementFromBytes(elementBytes)
	if err != nil {
		return err
	}
	if element.Kind != ElementSubtree {
		return ierrors.Wrapf(ErrNotSubtree, "path %s", path)
	}

	b.verified[path.key()] = true

	return nil
}

// Get returns the element stored under the given key, observing pending
// writes of this batch.
func (b *Batch) Get(path Path, key []byte) (Element, error) {
	m, err := b.merkFor(path)
	if err != nil {
		return Element{}, err
	}

	b.ops = append(b.ops, fee.Op{Kind: fee.OpSeek, KeyLen: uint32(len(key))})

	value, exists, err := m.get(key)
	if err != nil {
		return Element{}, err
	}
	if !exists {
		return Element{}, ErrKeyNotFound
	}

	return ElementFromBytes(value)
}

// GetItem returns the raw value of an item element.
func (b *Batch) GetItem(path Path, key []byte) ([]byte, error) {
	element, err := b.Get(path, key)
	if err != nil {
		return nil, err
	}
	if element.Kind != ElementItem {
		return nil, ErrNotItem
	}

	return element.Value, nil
}

// Has reports whether an element exists under the given key.
func (b *Batch) Has(path Path, key []byte) (bool, error) {
	m, err := b.merkFor(path)
	if err != nil {
		return false, err
	}

	b.ops = append(b.ops, fee.Op{Kind: fee.OpSeek, KeyLen: uint32(len(key))})

	_, exists, err := m.get(key)

	return exists, err
}

// PutItem writes an item element.
func (b *Batch) PutItem(path Path, key, value []byte) error {
	return b.put(path, key, NewItem(value))
}

// PutSubtree creates an empty nested subtree under the given key. Creating a
// subtree that already exists is a no-op.
func (b *Batch) PutSubtree(path Path, key []byte) error {
	m, err := b.merkFor(path)
	if err != nil {
		return err
	}

	existing, exists, err := m.get(key)
	if err != nil {
		return err
	}
	if exists {
		element, err := ElementFromBytes(existing)
		if err != nil {
			return err
		}
		if element.Kind != ElementSubtree {
			return ierrors.Wrapf(ErrNotSubtree, "key %x", key)
		}

		return nil
	}

	value := NewSubtree(EmptyDigest).Bytes()
	if _, _, err := m.put(key, value); err != nil {
		return err
	}

	b.ops = append(b.ops, fee.Op{
		Kind:     fee.OpInsert,
		KeyLen:   uint32(len(key)),
		ValueLen: uint32(len(value)),
	})
	b.verified[path.Child(key).key()] = true

	return nil
}

func (b *Batch) put(path Path, key []byte, element Element) error {
	m, err := b.merkFor(path)
	if err != nil {
		return err
	}

	value := element.Bytes()
	prev, _, err := m.put(key, value)
	if err != nil {
		return err
	}

	b.ops = append(b.ops, fee.Op{
		Kind:         fee.OpInsert,
		KeyLen:       uint32(len(key)),
		ValueLen:     uint32(len(value)),
		PrevValueLen: uint32(len(prev)),
	})

	return nil
}

// Delete removes the element under the given key, reporting whether it
// existed.
func (b *Batch) Delete(path Path, key []byte) (bool, error) {
	m, err := b.merkFor(path)
	if err != nil {
		return false, err
	}

	prev, found, err := m.delete(key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	b.ops = append(b.ops, fee.Op{
		Kind:         fee.OpDelete,
		KeyLen:       uint32(len(key)),
		PrevValueLen: uint32(len(prev)),
	})

	return true, nil
}

// IterateRange scans a subtree within the given bounds, observing pending
// writes. Every visited key is charged as one scan step. It returns the
// number of keys examined.
func (b *Batch) IterateRange(path Path, rng Range, visit func(key []byte, element Element) (bool, error)) (int, error) {
	m, err := b.merkFor(path)
	if err != nil {
		return 0, err
	}

	b.ops = append(b.ops, fee.Op{Kind: fee.OpSeek, KeyLen: uint32(len(rng.Start))})

	visited := 0
	err = m.iterate(rng.Start, rng.End, rng.Ascending, func(n *node) (bool, error) {
		visited++
		b.ops = append(b.ops, fee.Op{Kind: fee.OpScanStep, KeyLen: uint32(len(n.key))})

		element, err := ElementFromBytes(n.value)
		if err != nil {
			return false, err
		}

		cont, err := visit(n.key, element)
		if err != nil || !cont {
			return false, err
		}

		return rng.Limit == 0 || visited < rng.Limit, nil
	})
	if err != nil {
		return visited, err
	}

	return visited, nil
}

// OpCount returns the current length of the operation log.
func (b *Batch) OpCount() int {
	return len(b.ops)
}

// OpsSince returns the operations appended after the given checkpoint.
func (b *Batch) OpsSince(checkpoint int) []fee.Op {
	return b.ops[checkpoint:]
}

// AddProofOps charges proof serialization bytes to the operation log.
func (b *Batch) AddProofOps(proofLen int) {
	b.ops = append(b.ops, fee.Op{Kind: fee.OpProofByte, ValueLen: uint32(proofLen)})
}

// Commit propagates all dirty subtree digests bottom-up and applies every
// pending mutation atomically. On any error the committed state is left
// untouched.
func (b *Batch) Commit() error {
	if b.done {
		return ErrBatchDiscarded
	}
	if b.dry {
		return ErrDryRunCommit
	}

	// The done flag is raised only once the commit attempt is over: root
	// propagation still reads parent subtrees through merkFor.
	defer func() {
		b.done = true
		b.tree.batchOpen.Store(false)
	}()

	if err := b.propagateRoots(); err != nil {
		return err
	}

	mutations, err := b.tree.store.Batched()
	if err != nil {
		return err
	}

	for key, m := range b.merks {
		if !m.mutated {
			continue
		}

		if err := m.writeTo(mutations); err != nil {
			mutations.Cancel()

			return ierrors.Wrapf(err, "failed to stage subtree %s", b.paths[key])
		}
	}

	return mutations.Commit()
}

// propagateRoots recomputes every mutated subtree's digest, deepest first, and
// records it in the parent subtree.
func (b *Batch) propagateRoots() error {
	maxDepth := 0
	for key := range b.merks {
		if depth := len(b.paths[key]); depth > maxDepth {
			maxDepth = depth
		}
	}

	for depth := maxDepth; depth > 0; depth-- {
		keys := make([]string, 0, len(b.merks))
		for key := range b.merks {
			if len(b.paths[key]) == depth {
				keys = append(keys, key)
			}
		}

		for _, key := range keys {
			m, path := b.merks[key], b.paths[key]
			if !m.mutated {
				continue
			}

			rootHash, err := m.rootHash()
			if err != nil {
				return err
			}

			parent, segment := path.Parent()
			parentMerk, err := b.merkFor(parent)
			if err != nil {
				return err
			}

			if _, _, err := parentMerk.put(segment, NewSubtree(rootHash).Bytes()); err != nil {
				return err
			}
		}
	}

	// Finalize the root subtree's digests so they are persisted correctly.
	if root, exists := b.merks[RootPath.key()]; exists && root.mutated {
		if _, err := root.rootHash(); err != nil {
			return err
		}
	}

	return nil
}

// Cancel discards the batch. For committable batches this releases the
// single-writer slot.
func (b *Batch) Cancel() {
	if b.done {
		return
	}

	b.done = true
	if !b.dry {
		b.tree.batchOpen.Store(false)
	}
}
