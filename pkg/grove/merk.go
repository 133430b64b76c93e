package grove

import (
	"bytes"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/kvstore"
	"github.com/iotaledger/hive.go/serializer/v2/byteutils"
)

// Storage layout within a subtree realm.
const (
	prefixNode byte = 'n'
	prefixMeta byte = 'm'
)

// metaKeyRoot holds the key of the subtree's root node.
var metaKeyRoot = []byte{prefixMeta, 'r'}

func nodeStorageKey(key []byte) []byte {
	return byteutils.ConcatBytes([]byte{prefixNode}, key)
}

// nodeSource reads committed nodes of a single subtree. Keys are addressed on
// the tree's base store with an explicit realm prefix so that one batched
// mutation set can cover every subtree atomically.
type nodeSource struct {
	store kvstore.KVStore
	realm []byte
}

func (s nodeSource) storageKey(key []byte) []byte {
	return byteutils.ConcatBytes(s.realm, key)
}

func (s nodeSource) node(key []byte) (*node, error) {
	b, err := s.store.Get(s.storageKey(nodeStorageKey(key)))
	if err != nil {
		if ierrors.Is(err, kvstore.ErrKeyNotFound) {
			return nil, nil
		}

		return nil, ierrors.Wrap(err, "failed to load merk node")
	}

	return nodeFromBytes(key, b)
}

func (s nodeSource) rootKey() ([]byte, error) {
	b, err := s.store.Get(s.storageKey(metaKeyRoot))
	if err != nil {
		if ierrors.Is(err, kvstore.ErrKeyNotFound) {
			return nil, nil
		}

		return nil, ierrors.Wrap(err, "failed to load merk root key")
	}

	if len(b) == 0 {
		return nil, nil
	}

	return b, nil
}

// merk is a Merkle AVL tree over one subtree. Every node commits to its key,
// its value digest and both child subtrees, so the root node's digest commits
// to the entire ordered key space of the subtree.
//
// Mutations are collected in an overlay on top of the committed node source;
// reads observe the overlay (read-your-writes). A merk is not safe for
// concurrent use.
type merk struct {
	source nodeSource

	// clean caches committed nodes, dirty holds modified ones (nil = removed).
	clean map[string]*node
	dirty map[string]*node

	root    []byte
	mutated bool
}

func newMerk(source nodeSource) (*merk, error) {
	root, err := source.rootKey()
	if err != nil {
		return nil, err
	}

	return &merk{
		source: source,
		clean:  make(map[string]*node),
		dirty:  make(map[string]*node),
		root:   root,
	}, nil
}

// fetch returns the current version of the node with the given key, or nil if
// it does not exist.
func (m *merk) fetch(key []byte) (*node, error) {
	if n, ok := m.dirty[string(key)]; ok {
		return n, nil
	}
	if n, ok := m.clean[string(key)]; ok {
		return n, nil
	}

	n, err := m.source.node(key)
	if err != nil {
		return nil, err
	}
	if n != nil {
		m.clean[string(key)] = n
	}

	return n, nil
}

// fetchExisting is fetch for keys that the tree structure references; a miss
// means the backing store is corrupted.
func (m *merk) fetchExisting(key []byte) (*node, error) {
	n, err := m.fetch(key)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, ierrors.Errorf("merk node %x referenced but not stored", key)
	}

	return n, nil
}

// fetchMut returns a mutable version of an existing node, moving it into the
// overlay on first touch.
func (m *merk) fetchMut(key []byte) (*node, error) {
	if n, ok := m.dirty[string(key)]; ok {
		if n == nil {
			return nil, ierrors.Errorf("merk node %x was removed", key)
		}

		return n, nil
	}

	n, err := m.fetchExisting(key)
	if err != nil {
		return nil, err
	}

	mut := n.clone()
	m.dirty[string(key)] = mut

	return mut, nil
}

func (m *merk) get(key []byte) ([]byte, bool, error) {
	cur := m.root
	for cur != nil {
		n, err := m.fetchExisting(cur)
		if err != nil {
			return nil, false, err
		}

		switch cmp := bytes.Compare(key, n.key); {
		case cmp == 0:
			return n.value, true, nil
		case cmp < 0:
			cur = n.left
		default:
			cur = n.right
		}
	}

	return nil, false, nil
}

// put inserts or replaces a value and returns the previous value, if any.
func (m *merk) put(key, value []byte) (prev []byte, existed bool, err error) {
	prev, existed, err = m.get(key)
	if err != nil {
		return nil, false, err
	}

	newRoot, err := m.insertAt(m.root, key, value)
	if err != nil {
		return nil, false, err
	}

	m.root = newRoot
	m.mutated = true

	return prev, existed, nil
}

func (m *merk) insertAt(at, key, value []byte) ([]byte, error) {
	if at == nil {
		m.dirty[string(key)] = &node{key: key, value: value, height: 1}

		return key, nil
	}

	n, err := m.fetchMut(at)
	if err != nil {
		return nil, err
	}

	switch cmp := bytes.Compare(key, n.key); {
	case cmp == 0:
		n.value = value

		return n.key, nil
	case cmp < 0:
		if n.left, err = m.insertAt(n.left, key, value); err != nil {
			return nil, err
		}
	default:
		if n.right, err = m.insertAt(n.right, key, value); err != nil {
			return nil, err
		}
	}

	return m.rebalance(n)
}

// delete removes a key and returns the removed value; found is false when the
// key was not present.
func (m *merk) delete(key []byte) (prev []byte, found bool, err error) {
	prev, found, err = m.get(key)
	if err != nil || !found {
		return nil, found, err
	}

	newRoot, err := m.deleteAt(m.root, key)
	if err != nil {
		return nil, false, err
	}

	m.root = newRoot
	m.mutated = true

	return prev, true, nil
}

func (m *merk) deleteAt(at, key []byte) ([]byte, error) {
	if at == nil {
		return nil, ErrKeyNotFound
	}

	n, err := m.fetchMut(at)
	if err != nil {
		return nil, err
	}

	switch cmp := bytes.Compare(key, n.key); {
	case cmp < 0:
		if n.left, err = m.deleteAt(n.left, key); err != nil {
			return nil, err
		}
	case cmp > 0:
		if n.right, err = m.deleteAt(n.right, key); err != nil {
			return nil, err
		}
	default:
		m.dirty[string(n.key)] = nil

		switch {
		case n.left == nil && n.right == nil:
			return nil, nil
		case n.left == nil:
			return n.right, nil
		case n.right == nil:
			return n.left, nil
		}

		// Two children: the in-order successor takes this position.
		succKey, succValue, newRight, err := m.detachMin(n.right)
		if err != nil {
			return nil, err
		}

		repl := &node{key: succKey, value: succValue, left: n.left, right: newRight}
		m.dirty[string(succKey)] = repl

		return m.rebalance(repl)
	}

	return m.rebalance(n)
}

// detachMin removes the smallest node of the subtree rooted at the given key
// and returns its key/value together with the new subtree root.
func (m *merk) detachMin(at []byte) (key, value, newRoot []byte, err error) {
	n, err := m.fetchMut(at)
	if err != nil {
		return nil, nil, nil, err
	}

	if n.left == nil {
		m.dirty[string(n.key)] = nil

		return n.key, n.value, n.right, nil
	}

	key, value, left, err := m.detachMin(n.left)
	if err != nil {
		return nil, nil, nil, err
	}
	n.left = left

	newRoot, err = m.rebalance(n)

	return key, value, newRoot, err
}

func (m *merk) heightOf(key []byte) (uint8, error) {
	if key == nil {
		return 0, nil
	}

	n, err := m.fetchExisting(key)
	if err != nil {
		return 0, err
	}

	return n.height, nil
}

func (m *merk) updateHeight(n *node) error {
	hl, err := m.heightOf(n.left)
	if err != nil {
		return err
	}
	hr, err := m.heightOf(n.right)
	if err != nil {
		return err
	}

	if hl > hr {
		n.height = hl + 1
	} else {
		n.height = hr + 1
	}

	return nil
}

func (m *merk) balanceFactor(n *node) (int, error) {
	hl, err := m.heightOf(n.left)
	if err != nil {
		return 0, err
	}
	hr, err := m.heightOf(n.right)
	if err != nil {
		return 0, err
	}

	return int(hr) - int(hl), nil
}

// rebalance restores the AVL invariant around the given node and returns the
// key of the node that takes its position.
func (m *merk) rebalance(n *node) ([]byte, error) {
	if err := m.updateHeight(n); err != nil {
		return nil, err
	}

	bf, err := m.balanceFactor(n)
	if err != nil {
		return nil, err
	}

	switch {
	case bf < -1:
		l, err := m.fetchMut(n.left)
		if err != nil {
			return nil, err
		}
		lbf, err := m.balanceFactor(l)
		if err != nil {
			return nil, err
		}
		if lbf > 0 {
			if n.left, err = m.rotateLeft(l); err != nil {
				return nil, err
			}
		}

		return m.rotateRight(n)
	case bf > 1:
		r, err := m.fetchMut(n.right)
		if err != nil {
			return nil, err
		}
		rbf, err := m.balanceFactor(r)
		if err != nil {
			return nil, err
		}
		if rbf < 0 {
			if n.right, err = m.rotateRight(r); err != nil {
				return nil, err
			}
		}

		return m.rotateLeft(n)
	}

	return n.key, nil
}

func (m *merk) rotateRight(n *node) ([]byte, error) {
	l, err := m.fetchMut(n.left)
	if err != nil {
		return nil, err
	}

	n.left = l.right
	l.right = n.key

	if err := m.updateHeight(n); err != nil {
		return nil, err
	}
	if err := m.updateHeight(l); err != nil {
		return nil, err
	}

	return l.key, nil
}

func (m *merk) rotateLeft(n *node) ([]byte, error) {
	r, err := m.fetchMut(n.right)
	if err != nil {
		return nil, err
	}

	n.right = r.left
	r.left = n.key

	if err := m.updateHeight(n); err != nil {
		return nil, err
	}
	if err := m.updateHeight(r); err != nil {
		return nil, err
	}

	return r.key, nil
}

// iterate walks the keys in [start, end) in order, start inclusive and end
// exclusive, nil bounds meaning unbounded. The visit callback returns false to
// stop early.
func (m *merk) iterate(start, end []byte, ascending bool, visit func(n *node) (bool, error)) error {
	_, err := m.iterateAt(m.root, start, end, ascending, visit)

	return err
}

func (m *merk) iterateAt(at, start, end []byte, ascending bool, visit func(n *node) (bool, error)) (bool, error) {
	if at == nil {
		return true, nil
	}

	n, err := m.fetchExisting(at)
	if err != nil {
		return false, err
	}

	aboveStart := start == nil || bytes.Compare(n.key, start) >= 0
	belowEnd := end == nil || bytes.Compare(n.key, end) < 0

	if ascending {
		if aboveStart {
			if cont, err := m.iterateAt(n.left, start, end, ascending, visit); err != nil || !cont {
				return cont, err
			}
		}
		if aboveStart && belowEnd {
			if cont, err := visit(n); err != nil || !cont {
				return cont, err
			}
		}
		if belowEnd {
			return m.iterateAt(n.right, start, end, ascending, visit)
		}

		return true, nil
	}

	if belowEnd {
		if cont, err := m.iterateAt(n.right, start, end, ascending, visit); err != nil || !cont {
			return cont, err
		}
	}
	if aboveStart && belowEnd {
		if cont, err := visit(n); err != nil || !cont {
			return cont, err
		}
	}
	if aboveStart {
		return m.iterateAt(n.left, start, end, ascending, visit)
	}

	return true, nil
}

// rootHash recomputes the digests of all overlay nodes bottom-up and returns
// the digest of the subtree.
func (m *merk) rootHash() (Digest, error) {
	memo := make(map[string]Digest)

	return m.hashAt(m.root, memo)
}

func (m *merk) hashAt(key []byte, memo map[string]Digest) (Digest, error) {
	if key == nil {
		return EmptyDigest, nil
	}
	if d, ok := memo[string(key)]; ok {
		return d, nil
	}

	n, ok := m.dirty[string(key)]
	if !ok {
		clean, err := m.fetchExisting(key)
		if err != nil {
			return EmptyDigest, err
		}
		memo[string(key)] = clean.hash

		return clean.hash, nil
	}
	if n == nil {
		return EmptyDigest, ierrors.Errorf("removed merk node %x still referenced", key)
	}

	leftHash, err := m.hashAt(n.left, memo)
	if err != nil {
		return EmptyDigest, err
	}
	rightHash, err := m.hashAt(n.right, memo)
	if err != nil {
		return EmptyDigest, err
	}

	n.hash = hashNode(n.kvHash(), leftHash, rightHash)
	memo[string(key)] = n.hash

	return n.hash, nil
}

// writeTo stages all overlay changes into the given mutations. rootHash must
// have been called before so node digests are current.
func (m *merk) writeTo(mutations kvstore.BatchedMutations) error {
	for key, n := range m.dirty {
		if n == nil {
			if err := mutations.Delete(m.source.storageKey(nodeStorageKey([]byte(key)))); err != nil {
				return err
			}

			continue
		}

		if err := mutations.Set(m.source.storageKey(nodeStorageKey(n.key)), n.bytes()); err != nil {
			return err
		}
	}

	if err := mutations.Set(m.source.storageKey(metaKeyRoot), m.root); err != nil {
		return err
	}

	return nil
}
