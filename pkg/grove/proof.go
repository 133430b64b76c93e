package grove

import (
	"bytes"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/core/marshalutil"
)

// A range proof discloses every key of the queried range (values included up
// to the limit) together with the sibling digests needed to recompute the
// root, so a verifier holding only the root digest can confirm both
// correctness and completeness of the result set.
//
// Proofs are layered: one singleton proof per ancestor subtree linking the
// nested subtree's digest to the root, then the range proof over the target
// subtree. Proof traversal follows the scan direction, so a limited proof
// discloses exactly the first keys the equivalent scan would return.

// ProvenEntry is one key of the proven range.
type ProvenEntry struct {
	Key     []byte
	Element Element
}

const (
	proofLayerEmpty byte = 0
	proofLayerNode  byte = 1

	proofChildAbsent byte = 0
	proofChildHash   byte = 1
	proofChildNested byte = 2

	proofKVKeyOnly byte = 0
	proofKVFull    byte = 1
)

type proofNode struct {
	key       []byte
	full      bool
	value     []byte
	valueHash Digest

	left      *proofNode
	leftHash  Digest
	leftSet   bool
	right     *proofNode
	rightHash Digest
	rightSet  bool
}

type proveState struct {
	limit   int
	count   int
	done    bool
	scanned int
}

// proveRange builds the proof tree for one subtree. The merk must be a fresh
// read view over committed state.
func proveRange(m *merk, rng Range) (*proofNode, int, error) {
	st := &proveState{limit: rng.Limit}

	root, err := proveAt(m, m.root, rng, st)
	if err != nil {
		return nil, 0, err
	}

	return root, st.scanned, nil
}

func committedChildHash(m *merk, key []byte) (Digest, bool, error) {
	if key == nil {
		return EmptyDigest, false, nil
	}

	n, err := m.fetchExisting(key)
	if err != nil {
		return EmptyDigest, false, err
	}

	return n.hash, true, nil
}

func proveAt(m *merk, at []byte, rng Range, st *proveState) (*proofNode, error) {
	if at == nil {
		return nil, nil
	}

	n, err := m.fetchExisting(at)
	if err != nil {
		return nil, err
	}
	st.scanned++

	p := &proofNode{key: n.key}

	aboveStart := rng.Start == nil || bytes.Compare(n.key, rng.Start) >= 0
	belowEnd := rng.End == nil || bytes.Compare(n.key, rng.End) < 0
	leftMayMatch := rng.Start == nil || bytes.Compare(n.key, rng.Start) > 0
	rightMayMatch := belowEnd

	discloseKV := func() {
		if aboveStart && belowEnd && !st.done {
			p.full = true
			p.value = n.value
			st.count++
			if st.limit > 0 && st.count >= st.limit {
				st.done = true
			}

			return
		}

		p.valueHash = hashValue(n.value)
	}

	hashChild := func(key []byte) (Digest, bool, error) {
		return committedChildHash(m, key)
	}

	if rng.Ascending {
		if leftMayMatch && !st.done {
			if p.left, err = proveAt(m, n.left, rng, st); err != nil {
				return nil, err
			}
			p.leftSet = p.left != nil
		} else if p.leftHash, p.leftSet, err = hashChild(n.left); err != nil {
			return nil, err
		}

		discloseKV()

		if rightMayMatch && !st.done {
			if p.right, err = proveAt(m, n.right, rng, st); err != nil {
				return nil, err
			}
			p.rightSet = p.right != nil
		} else if p.rightHash, p.rightSet, err = hashChild(n.right); err != nil {
			return nil, err
		}

		return p, nil
	}

	// descending traversal: right, node, left
	if rightMayMatch && !st.done {
		if p.right, err = proveAt(m, n.right, rng, st); err != nil {
			return nil, err
		}
		p.rightSet = p.right != nil
	} else if p.rightHash, p.rightSet, err = hashChild(n.right); err != nil {
		return nil, err
	}

	discloseKV()

	if leftMayMatch && !st.done {
		if p.left, err = proveAt(m, n.left, rng, st); err != nil {
			return nil, err
		}
		p.leftSet = p.left != nil
	} else if p.leftHash, p.leftSet, err = hashChild(n.left); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *proofNode) writeTo(m *marshalutil.MarshalUtil) {
	if p.full {
		m.WriteByte(proofKVFull)
		m.WriteUint16(uint16(len(p.key)))
		m.WriteBytes(p.key)
		m.WriteUint32(uint32(len(p.value)))
		m.WriteBytes(p.value)
	} else {
		m.WriteByte(proofKVKeyOnly)
		m.WriteUint16(uint16(len(p.key)))
		m.WriteBytes(p.key)
		m.WriteBytes(p.valueHash[:])
	}

	writeChild := func(nested *proofNode, hash Digest, set bool) {
		switch {
		case nested != nil:
			m.WriteByte(proofChildNested)
		case set:
			m.WriteByte(proofChildHash)
			m.WriteBytes(hash[:])
		default:
			m.WriteByte(proofChildAbsent)
		}
	}

	writeChild(p.left, p.leftHash, p.leftSet)
	writeChild(p.right, p.rightHash, p.rightSet)

	if p.left != nil {
		p.left.writeTo(m)
	}
	if p.right != nil {
		p.right.writeTo(m)
	}
}

func proofNodeFromMarshalUtil(m *marshalutil.MarshalUtil) (*proofNode, error) {
	p := &proofNode{}

	kvTag, err := m.ReadByte()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read proof kv tag")
	}

	keyLen, err := m.ReadUint16()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read proof key length")
	}
	if p.key, err = m.ReadBytes(int(keyLen)); err != nil {
		return nil, ierrors.Wrap(err, "failed to read proof key")
	}

	switch kvTag {
	case proofKVFull:
		p.full = true
		valueLen, err := m.ReadUint32()
		if err != nil {
			return nil, ierrors.Wrap(err, "failed to read proof value length")
		}
		if p.value, err = m.ReadBytes(int(valueLen)); err != nil {
			return nil, ierrors.Wrap(err, "failed to read proof value")
		}
	case proofKVKeyOnly:
		hashBytes, err := m.ReadBytes(DigestLength)
		if err != nil {
			return nil, ierrors.Wrap(err, "failed to read proof value hash")
		}
		copy(p.valueHash[:], hashBytes)
	default:
		return nil, ierrors.Wrapf(ErrInvalidProof, "unknown kv tag %d", kvTag)
	}

	readChildTag := func() (byte, Digest, bool, error) {
		tag, err := m.ReadByte()
		if err != nil {
			return 0, EmptyDigest, false, ierrors.Wrap(err, "failed to read proof child tag")
		}

		if tag == proofChildHash {
			hashBytes, err := m.ReadBytes(DigestLength)
			if err != nil {
				return 0, EmptyDigest, false, ierrors.Wrap(err, "failed to read proof child hash")
			}

			var d Digest
			copy(d[:], hashBytes)

			return tag, d, true, nil
		}
		if tag != proofChildAbsent && tag != proofChildNested {
			return 0, EmptyDigest, false, ierrors.Wrapf(ErrInvalidProof, "unknown child tag %d", tag)
		}

		return tag, EmptyDigest, false, nil
	}

	leftTag, leftHash, leftSet, err := readChildTag()
	if err != nil {
		return nil, err
	}
	p.leftHash, p.leftSet = leftHash, leftSet

	rightTag, rightHash, rightSet, err := readChildTag()
	if err != nil {
		return nil, err
	}
	p.rightHash, p.rightSet = rightHash, rightSet

	if leftTag == proofChildNested {
		if p.left, err = proofNodeFromMarshalUtil(m); err != nil {
			return nil, err
		}
	}
	if rightTag == proofChildNested {
		if p.right, err = proofNodeFromMarshalUtil(m); err != nil {
			return nil, err
		}
	}

	return p, nil
}

type verifyState struct {
	limit   int
	count   int
	done    bool
	hasPrev bool
	prevKey []byte
	entries []ProvenEntry
}

// verifyAt recomputes the digest of a proof node while checking BST order,
// range completeness and the limit discipline. Traversal follows the proof's
// scan direction so the disclosed entries are the first of the range.
func verifyAt(p *proofNode, rng Range, st *verifyState) (Digest, error) {
	aboveStart := rng.Start == nil || bytes.Compare(p.key, rng.Start) >= 0
	belowEnd := rng.End == nil || bytes.Compare(p.key, rng.End) < 0
	leftMayMatch := rng.Start == nil || bytes.Compare(p.key, rng.Start) > 0
	rightMayMatch := belowEnd

	verifyChild := func(nested *proofNode, hash Digest, mayMatch bool) (Digest, error) {
		if nested != nil {
			return verifyAt(nested, rng, st)
		}
		if !hash.IsEmpty() && mayMatch && !st.done {
			return EmptyDigest, ierrors.Wrap(ErrInvalidProof, "subtree possibly containing range entries was not disclosed")
		}

		return hash, nil
	}

	visitKV := func() error {
		if st.hasPrev {
			cmp := bytes.Compare(p.key, st.prevKey)
			if rng.Ascending && cmp <= 0 || !rng.Ascending && cmp >= 0 {
				return ierrors.Wrap(ErrInvalidProof, "disclosed keys out of order")
			}
		}
		st.hasPrev, st.prevKey = true, p.key

		inRange := aboveStart && belowEnd
		if p.full {
			if !inRange {
				return ierrors.Wrap(ErrInvalidProof, "value disclosed outside the queried range")
			}
			if st.done {
				return ierrors.Wrap(ErrInvalidProof, "value disclosed beyond the limit")
			}

			element, err := ElementFromBytes(p.value)
			if err != nil {
				return err
			}

			st.entries = append(st.entries, ProvenEntry{Key: p.key, Element: element})
			st.count++
			if st.limit > 0 && st.count >= st.limit {
				st.done = true
			}

			return nil
		}

		if inRange && !st.done {
			return ierrors.Wrap(ErrInvalidProof, "range entry missing its value")
		}

		return nil
	}

	var leftHash, rightHash Digest
	var err error

	if rng.Ascending {
		if leftHash, err = verifyChild(p.left, p.leftHash, leftMayMatch); err != nil {
			return EmptyDigest, err
		}
		if err = visitKV(); err != nil {
			return EmptyDigest, err
		}
		if rightHash, err = verifyChild(p.right, p.rightHash, rightMayMatch); err != nil {
			return EmptyDigest, err
		}
	} else {
		if rightHash, err = verifyChild(p.right, p.rightHash, rightMayMatch); err != nil {
			return EmptyDigest, err
		}
		if err = visitKV(); err != nil {
			return EmptyDigest, err
		}
		if leftHash, err = verifyChild(p.left, p.leftHash, leftMayMatch); err != nil {
			return EmptyDigest, err
		}
	}

	var valueHash Digest
	if p.full {
		valueHash = hashValue(p.value)
	} else {
		valueHash = p.valueHash
	}

	return hashNode(hashKV(p.key, valueHash), leftHash, rightHash), nil
}

// segmentRange is the singleton range that proves one path segment of an
// ancestor subtree.
func segmentRange(segment []byte) Range {
	return Range{
		Start:     segment,
		End:       byteutilsConcat(segment, 0x00),
		Ascending: true,
		Limit:     1,
	}
}

func byteutilsConcat(b []byte, tail byte) []byte {
	out := make([]byte, 0, len(b)+1)
	out = append(out, b...)
	out = append(out, tail)

	return out
}

// ProveRange produces a proof of the given range over the subtree at path,
// including the linkage of every ancestor subtree up to the root digest. It
// returns the serialized proof and the number of keys examined.
func (t *Tree) ProveRange(path Path, rng Range) ([]byte, int, error) {
	view := t.DryRun()
	m := marshalutil.New()
	scannedTotal := 0

	m.WriteUint8(uint8(len(path) + 1))

	// Ancestor layers, root subtree first.
	for depth := 0; depth < len(path); depth++ {
		layer, scanned, err := view.proveLayer(path[:depth], segmentRange(path[depth]))
		if err != nil {
			return nil, 0, err
		}
		scannedTotal += scanned
		writeLayer(m, layer)
	}

	layer, scanned, err := view.proveLayer(path, rng)
	if err != nil {
		return nil, 0, err
	}
	scannedTotal += scanned
	writeLayer(m, layer)

	return m.Bytes(), scannedTotal, nil
}

func (b *Batch) proveLayer(path Path, rng Range) (*proofNode, int, error) {
	merk, err := b.merkFor(path)
	if err != nil {
		return nil, 0, err
	}

	return proveRange(merk, rng)
}

func writeLayer(m *marshalutil.MarshalUtil, layer *proofNode) {
	if layer == nil {
		m.WriteByte(proofLayerEmpty)

		return
	}

	m.WriteByte(proofLayerNode)
	layer.writeTo(m)
}

func readLayer(m *marshalutil.MarshalUtil) (*proofNode, error) {
	tag, err := m.ReadByte()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read proof layer tag")
	}

	switch tag {
	case proofLayerEmpty:
		return nil, nil
	case proofLayerNode:
		return proofNodeFromMarshalUtil(m)
	default:
		return nil, ierrors.Wrapf(ErrInvalidProof, "unknown layer tag %d", tag)
	}
}

func verifyLayer(layer *proofNode, root Digest, rng Range) ([]ProvenEntry, error) {
	if layer == nil {
		if !root.IsEmpty() {
			return nil, ierrors.Wrap(ErrInvalidProof, "proof claims an empty subtree for a non-empty digest")
		}

		return nil, nil
	}

	st := &verifyState{limit: rng.Limit}
	computed, err := verifyAt(layer, rng, st)
	if err != nil {
		return nil, err
	}
	if computed != root {
		return nil, ierrors.Wrap(ErrInvalidProof, "root digest mismatch")
	}

	return st.entries, nil
}

// VerifyRangeProof checks a serialized proof against a trusted root digest and
// returns the proven entries of the range, in scan order. The path and range
// must be the ones the proof was requested for.
func VerifyRangeProof(proof []byte, root Digest, path Path, rng Range) ([]ProvenEntry, error) {
	m := marshalutil.New(proof)

	layerCount, err := m.ReadUint8()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read proof layer count")
	}
	if int(layerCount) != len(path)+1 {
		return nil, ierrors.Wrapf(ErrInvalidProof, "expected %d layers, proof has %d", len(path)+1, layerCount)
	}

	expected := root
	for depth := 0; depth < len(path); depth++ {
		layer, err := readLayer(m)
		if err != nil {
			return nil, err
		}

		entries, err := verifyLayer(layer, expected, segmentRange(path[depth]))
		if err != nil {
			return nil, err
		}
		if len(entries) != 1 || !bytes.Equal(entries[0].Key, path[depth]) {
			return nil, ierrors.Wrapf(ErrInvalidProof, "missing linkage for path segment %x", path[depth])
		}
		if entries[0].Element.Kind != ElementSubtree {
			return nil, ierrors.Wrap(ErrInvalidProof, "path segment does not link to a subtree")
		}

		expected = entries[0].Element.SubtreeRoot
	}

	layer, err := readLayer(m)
	if err != nil {
		return nil, err
	}

	return verifyLayer(layer, expected, rng)
}
