package grove

import (
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/core/marshalutil"
)

// ElementKind discriminates the kinds of values a subtree can hold.
type ElementKind byte

const (
	// ElementItem is an opaque byte value.
	ElementItem ElementKind = iota
	// ElementSubtree is a reference to a nested subtree, committing to its root digest.
	ElementSubtree
)

// Element is a single entry of a subtree: either an item carrying raw bytes or
// a reference to a nested subtree. Elements are what the merk nodes store as
// values, so the parent subtree's digest commits to every nested root.
type Element struct {
	Kind        ElementKind
	Value       []byte
	SubtreeRoot Digest
}

func NewItem(value []byte) Element {
	return Element{Kind: ElementItem, Value: value}
}

func NewSubtree(root Digest) Element {
	return Element{Kind: ElementSubtree, SubtreeRoot: root}
}

func (e Element) Bytes() []byte {
	m := marshalutil.New()
	m.WriteByte(byte(e.Kind))

	switch e.Kind {
	case ElementItem:
		m.WriteUint32(uint32(len(e.Value)))
		m.WriteBytes(e.Value)
	case ElementSubtree:
		m.WriteBytes(e.SubtreeRoot[:])
	}

	return m.Bytes()
}

func ElementFromBytes(b []byte) (Element, error) {
	m := marshalutil.New(b)

	kind, err := m.ReadByte()
	if err != nil {
		return Element{}, ierrors.Wrap(err, "failed to read element kind")
	}

	e := Element{Kind: ElementKind(kind)}
	switch e.Kind {
	case ElementItem:
		length, err := m.ReadUint32()
		if err != nil {
			return Element{}, ierrors.Wrap(err, "failed to read item length")
		}
		if e.Value, err = m.ReadBytes(int(length)); err != nil {
			return Element{}, ierrors.Wrap(err, "failed to read item value")
		}
	case ElementSubtree:
		rootBytes, err := m.ReadBytes(DigestLength)
		if err != nil {
			return Element{}, ierrors.Wrap(err, "failed to read subtree root")
		}
		copy(e.SubtreeRoot[:], rootBytes)
	default:
		return Element{}, ierrors.Errorf("unknown element kind %d", kind)
	}

	return e, nil
}
