package grove

import (
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/core/marshalutil"
)

// node is a single merk node. Nodes are addressed by their user key; left and
// right hold the keys of the child nodes. The stored hash is the digest of the
// subtree rooted at this node and is only valid for clean (persisted) nodes.
type node struct {
	key    []byte
	value  []byte
	left   []byte
	right  []byte
	height uint8
	hash   Digest
}

func (n *node) kvHash() Digest {
	return hashKV(n.key, hashValue(n.value))
}

func (n *node) balance(left, right *node) int {
	return int(nodeHeight(right)) - int(nodeHeight(left))
}

func nodeHeight(n *node) uint8 {
	if n == nil {
		return 0
	}

	return n.height
}

func (n *node) bytes() []byte {
	m := marshalutil.New()
	m.WriteUint32(uint32(len(n.value)))
	m.WriteBytes(n.value)
	m.WriteUint16(uint16(len(n.left)))
	m.WriteBytes(n.left)
	m.WriteUint16(uint16(len(n.right)))
	m.WriteBytes(n.right)
	m.WriteUint8(n.height)
	m.WriteBytes(n.hash[:])

	return m.Bytes()
}

func nodeFromBytes(key, b []byte) (*node, error) {
	m := marshalutil.New(b)
	n := &node{key: key}

	valueLen, err := m.ReadUint32()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read node value length")
	}
	if n.value, err = m.ReadBytes(int(valueLen)); err != nil {
		return nil, ierrors.Wrap(err, "failed to read node value")
	}

	leftLen, err := m.ReadUint16()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read left key length")
	}
	if leftLen > 0 {
		if n.left, err = m.ReadBytes(int(leftLen)); err != nil {
			return nil, ierrors.Wrap(err, "failed to read left key")
		}
	}

	rightLen, err := m.ReadUint16()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read right key length")
	}
	if rightLen > 0 {
		if n.right, err = m.ReadBytes(int(rightLen)); err != nil {
			return nil, ierrors.Wrap(err, "failed to read right key")
		}
	}

	if n.height, err = m.ReadUint8(); err != nil {
		return nil, ierrors.Wrap(err, "failed to read node height")
	}

	hashBytes, err := m.ReadBytes(DigestLength)
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read node hash")
	}
	copy(n.hash[:], hashBytes)

	return n, nil
}

func (n *node) clone() *node {
	clone := &node{
		key:    n.key,
		value:  n.value,
		left:   n.left,
		right:  n.right,
		height: n.height,
		hash:   n.hash,
	}

	return clone
}
