package document

import (
	"encoding/binary"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/core/marshalutil"

	"github.com/iotaledger/drive.go/pkg/contract"
)

var (
	// ErrValueKindMismatch is returned when a property value does not match
	// the kind the contract declares for it.
	ErrValueKindMismatch = ierrors.New("value kind mismatch")

	// ErrMissingProperty is returned when a required property is absent.
	ErrMissingProperty = ierrors.New("missing required property")
)

// ValueKind tags the dynamic type of a property value.
type ValueKind byte

const (
	ValueAbsent ValueKind = iota
	ValueString
	ValueInt
	ValueBool
	ValueBytes
)

// Value is one dynamically typed document property. The zero Value is absent.
type Value struct {
	Kind  ValueKind
	Str   string
	Int   int64
	Bool  bool
	Bytes []byte
}

func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }
func IntValue(i int64) Value     { return Value{Kind: ValueInt, Int: i} }
func BoolValue(b bool) Value     { return Value{Kind: ValueBool, Bool: b} }
func BytesValue(b []byte) Value  { return Value{Kind: ValueBytes, Bytes: b} }

// matchesKind reports whether the value satisfies the declared property kind.
func (v Value) matchesKind(kind contract.PropertyKind) bool {
	switch kind {
	case contract.PropertyString:
		return v.Kind == ValueString
	case contract.PropertyInt:
		return v.Kind == ValueInt
	case contract.PropertyBool:
		return v.Kind == ValueBool
	case contract.PropertyBytes:
		return v.Kind == ValueBytes
	default:
		return false
	}
}

// CollationKey encodes the value so that byte-wise lexicographic order of the
// encodings equals the natural order of the values. Absent sorts before every
// present value, and kinds are segregated by their tag byte.
//
// Variable-length payloads (strings, byte slices) are escaped so that the
// terminator can never be confused with content: every 0x00 in the payload
// becomes 0x00 0x01 and the encoding ends with 0x00 0x00. This keeps prefixes
// ordered before their extensions, and keeps multi-column keys unambiguous.
func (v Value) CollationKey() []byte {
	switch v.Kind {
	case ValueAbsent:
		return []byte{byte(ValueAbsent)}

	case ValueString:
		return appendEscaped([]byte{byte(ValueString)}, []byte(v.Str))

	case ValueInt:
		// Flipping the sign bit maps int64 order onto uint64 order.
		key := make([]byte, 9)
		key[0] = byte(ValueInt)
		binary.BigEndian.PutUint64(key[1:], uint64(v.Int)^(1<<63))

		return key

	case ValueBool:
		if v.Bool {
			return []byte{byte(ValueBool), 1}
		}

		return []byte{byte(ValueBool), 0}

	case ValueBytes:
		return appendEscaped([]byte{byte(ValueBytes)}, v.Bytes)

	default:
		panic("unknown value kind")
	}
}

func appendEscaped(dst, payload []byte) []byte {
	for _, b := range payload {
		if b == 0x00 {
			dst = append(dst, 0x00, 0x01)
			continue
		}
		dst = append(dst, b)
	}

	return append(dst, 0x00, 0x00)
}

// InvertBytes flips every byte, turning an ascending collation key into a
// descending one. Used for index columns declared descending.
func InvertBytes(key []byte) []byte {
	inverted := make([]byte, len(key))
	for i, b := range key {
		inverted[i] = ^b
	}

	return inverted
}

func (v Value) writeTo(m *marshalutil.MarshalUtil) {
	m.WriteByte(byte(v.Kind))
	switch v.Kind {
	case ValueString:
		m.WriteUint32(uint32(len(v.Str)))
		m.WriteBytes([]byte(v.Str))
	case ValueInt:
		m.WriteInt64(v.Int)
	case ValueBool:
		m.WriteBool(v.Bool)
	case ValueBytes:
		m.WriteUint32(uint32(len(v.Bytes)))
		m.WriteBytes(v.Bytes)
	}
}

func valueFromMarshalUtil(m *marshalutil.MarshalUtil) (Value, error) {
	kind, err := m.ReadByte()
	if err != nil {
		return Value{}, err
	}

	v := Value{Kind: ValueKind(kind)}
	switch v.Kind {
	case ValueAbsent:
	case ValueString:
		length, err := m.ReadUint32()
		if err != nil {
			return Value{}, err
		}
		b, err := m.ReadBytes(int(length))
		if err != nil {
			return Value{}, err
		}
		v.Str = string(b)
	case ValueInt:
		if v.Int, err = m.ReadInt64(); err != nil {
			return Value{}, err
		}
	case ValueBool:
		if v.Bool, err = m.ReadBool(); err != nil {
			return Value{}, err
		}
	case ValueBytes:
		length, err := m.ReadUint32()
		if err != nil {
			return Value{}, err
		}
		if v.Bytes, err = m.ReadBytes(int(length)); err != nil {
			return Value{}, err
		}
	default:
		return Value{}, ierrors.Errorf("unknown value kind %d", kind)
	}

	return v, nil
}
