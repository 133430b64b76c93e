package document

import (
	"sort"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/serializer/v2/byteutils"
	"github.com/iotaledger/hive.go/core/marshalutil"

	"github.com/iotaledger/drive.go/pkg/contract"
)

// Document is one stored record of a document type. Properties hold the
// dynamically typed fields the contract's schema declares.
type Document struct {
	ID         []byte
	ContractID []byte
	OwnerID    []byte
	Type       string
	Revision   uint64
	Properties map[string]Value
}

// Property returns the named property value; absent properties yield the zero
// Value, which collates before every present value.
func (d *Document) Property(name string) Value {
	return d.Properties[name]
}

// Validate checks the document against its type's schema: required properties
// must be present and every present property must match its declared kind.
func (d *Document) Validate(documentType *contract.DocumentType) error {
	if len(d.ID) == 0 {
		return ierrors.New("document id must not be empty")
	}

	declared := make(map[string]contract.PropertyKind, len(documentType.Properties))
	for _, property := range documentType.Properties {
		declared[property.Name] = property.Kind

		value, present := d.Properties[property.Name]
		if !present || value.Kind == ValueAbsent {
			if property.Required {
				return ierrors.Wrapf(ErrMissingProperty, "%q", property.Name)
			}
			continue
		}
		if !value.matchesKind(property.Kind) {
			return ierrors.Wrapf(ErrValueKindMismatch, "property %q", property.Name)
		}
	}

	for name := range d.Properties {
		if _, known := declared[name]; !known {
			return ierrors.Errorf("undeclared property %q", name)
		}
	}

	return nil
}

// Bytes serializes the document deterministically, properties in
// lexicographic name order.
func (d *Document) Bytes() []byte {
	m := marshalutil.New()
	m.WriteUint16(uint16(len(d.ID)))
	m.WriteBytes(d.ID)
	m.WriteUint16(uint16(len(d.ContractID)))
	m.WriteBytes(d.ContractID)
	m.WriteUint16(uint16(len(d.OwnerID)))
	m.WriteBytes(d.OwnerID)
	m.WriteUint16(uint16(len(d.Type)))
	m.WriteBytes([]byte(d.Type))
	m.WriteUint64(d.Revision)

	names := make([]string, 0, len(d.Properties))
	for name := range d.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	m.WriteUint16(uint16(len(names)))
	for _, name := range names {
		m.WriteUint16(uint16(len(name)))
		m.WriteBytes([]byte(name))
		d.Properties[name].writeTo(m)
	}

	return m.Bytes()
}

func FromBytes(b []byte) (*Document, error) {
	m := marshalutil.New(b)
	d := &Document{Properties: make(map[string]Value)}

	var err error
	if d.ID, err = readPrefixedBytes(m); err != nil {
		return nil, ierrors.Wrap(err, "failed to read document id")
	}
	if d.ContractID, err = readPrefixedBytes(m); err != nil {
		return nil, ierrors.Wrap(err, "failed to read contract id")
	}
	if d.OwnerID, err = readPrefixedBytes(m); err != nil {
		return nil, ierrors.Wrap(err, "failed to read owner id")
	}

	typeBytes, err := readPrefixedBytes(m)
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read document type")
	}
	d.Type = string(typeBytes)

	if d.Revision, err = m.ReadUint64(); err != nil {
		return nil, ierrors.Wrap(err, "failed to read revision")
	}

	propertyCount, err := m.ReadUint16()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read property count")
	}
	for i := 0; i < int(propertyCount); i++ {
		nameBytes, err := readPrefixedBytes(m)
		if err != nil {
			return nil, ierrors.Wrap(err, "failed to read property name")
		}
		value, err := valueFromMarshalUtil(m)
		if err != nil {
			return nil, ierrors.Wrapf(err, "failed to read property %q", nameBytes)
		}
		d.Properties[string(nameBytes)] = value
	}

	return d, nil
}

func readPrefixedBytes(m *marshalutil.MarshalUtil) ([]byte, error) {
	length, err := m.ReadUint16()
	if err != nil {
		return nil, err
	}

	return m.ReadBytes(int(length))
}

// IndexColumns encodes the document's values for the given index, one
// collation key per index property, descending columns inverted.
func IndexColumns(d *Document, index contract.Index) [][]byte {
	columns := make([][]byte, len(index.Properties))
	for i, indexProperty := range index.Properties {
		key := d.Property(indexProperty.Path).CollationKey()
		if !indexProperty.Ascending {
			key = InvertBytes(key)
		}
		columns[i] = key
	}

	return columns
}

// IndexKey builds the tree key of the document's entry in the given index.
// Unique indices are keyed by the column values alone; non-unique indices
// append a zero byte and the document ID so equal values stay distinct and
// adjacent.
func IndexKey(d *Document, index contract.Index) []byte {
	key := byteutils.ConcatBytes(IndexColumns(d, index)...)
	if index.Unique {
		return key
	}

	return byteutils.ConcatBytes(key, []byte{0x00}, d.ID)
}
