package contract

import (
	"sort"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/core/marshalutil"
)

var (
	// ErrContractNotFound is returned when a referenced contract was never applied.
	ErrContractNotFound = ierrors.New("data contract not found")

	// ErrDocumentTypeNotFound is returned when a contract does not declare the
	// referenced document type.
	ErrDocumentTypeNotFound = ierrors.New("document type not found in contract")

	// ErrSchemaViolation is returned for contract definitions that are invalid
	// or would mutate already-applied definitions non-additively.
	ErrSchemaViolation = ierrors.New("schema violation")
)

// PropertyKind is the storage kind of a document property. Document schemas
// are data, not language types: kinds only drive index key extraction.
type PropertyKind byte

const (
	PropertyString PropertyKind = iota
	PropertyInt
	PropertyBool
	PropertyBytes
)

// Property describes one named property of a document type.
type Property struct {
	Name     string
	Kind     PropertyKind
	Required bool
}

// IndexProperty is one column of a secondary index.
type IndexProperty struct {
	Path      string
	Ascending bool
}

// Index declares one secondary-index subtree of a document type, keyed by the
// concatenation of the referenced property values.
type Index struct {
	Name       string
	Unique     bool
	Properties []IndexProperty
}

// DocumentType is the schema of one kind of document a contract stores.
type DocumentType struct {
	Name       string
	Properties []Property
	Indices    []Index
}

// Contract is an applied data contract: a registry of document-type schemas
// and their index definitions. Contracts only evolve additively under a new
// version.
type Contract struct {
	ID            []byte
	OwnerID       []byte
	Version       uint32
	DocumentTypes map[string]*DocumentType
}

// DocumentType returns the named schema, or ErrDocumentTypeNotFound.
func (c *Contract) DocumentType(name string) (*DocumentType, error) {
	documentType, exists := c.DocumentTypes[name]
	if !exists {
		return nil, ierrors.Wrapf(ErrDocumentTypeNotFound, "%q in contract %x", name, c.ID)
	}

	return documentType, nil
}

func (t *DocumentType) property(name string) (Property, bool) {
	for _, property := range t.Properties {
		if property.Name == name {
			return property, true
		}
	}

	return Property{}, false
}

func (t *DocumentType) index(name string) (Index, bool) {
	for _, index := range t.Indices {
		if index.Name == name {
			return index, true
		}
	}

	return Index{}, false
}

// Bytes serializes the contract deterministically: document types are written
// in lexicographic name order so identical contracts always produce identical
// bytes (and therefore identical tree digests).
func (c *Contract) Bytes() []byte {
	m := marshalutil.New()
	m.WriteUint16(uint16(len(c.ID)))
	m.WriteBytes(c.ID)
	m.WriteUint16(uint16(len(c.OwnerID)))
	m.WriteBytes(c.OwnerID)
	m.WriteUint32(c.Version)

	names := make([]string, 0, len(c.DocumentTypes))
	for name := range c.DocumentTypes {
		names = append(names, name)
	}
	sort.Strings(names)

	m.WriteUint16(uint16(len(names)))
	for _, name := range names {
		writeDocumentType(m, c.DocumentTypes[name])
	}

	return m.Bytes()
}

func writeDocumentType(m *marshalutil.MarshalUtil, t *DocumentType) {
	writeString(m, t.Name)

	m.WriteUint16(uint16(len(t.Properties)))
	for _, property := range t.Properties {
		writeString(m, property.Name)
		m.WriteByte(byte(property.Kind))
		m.WriteBool(property.Required)
	}

	m.WriteUint16(uint16(len(t.Indices)))
	for _, index := range t.Indices {
		writeString(m, index.Name)
		m.WriteBool(index.Unique)
		m.WriteUint16(uint16(len(index.Properties)))
		for _, indexProperty := range index.Properties {
			writeString(m, indexProperty.Path)
			m.WriteBool(indexProperty.Ascending)
		}
	}
}

func writeString(m *marshalutil.MarshalUtil, s string) {
	m.WriteUint16(uint16(len(s)))
	m.WriteBytes([]byte(s))
}

func readString(m *marshalutil.MarshalUtil) (string, error) {
	length, err := m.ReadUint16()
	if err != nil {
		return "", err
	}

	b, err := m.ReadBytes(int(length))
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func FromBytes(b []byte) (*Contract, error) {
	m := marshalutil.New(b)
	c := &Contract{DocumentTypes: make(map[string]*DocumentType)}

	idLen, err := m.ReadUint16()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read contract id length")
	}
	if c.ID, err = m.ReadBytes(int(idLen)); err != nil {
		return nil, ierrors.Wrap(err, "failed to read contract id")
	}

	ownerLen, err := m.ReadUint16()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read owner id length")
	}
	if c.OwnerID, err = m.ReadBytes(int(ownerLen)); err != nil {
		return nil, ierrors.Wrap(err, "failed to read owner id")
	}

	if c.Version, err = m.ReadUint32(); err != nil {
		return nil, ierrors.Wrap(err, "failed to read contract version")
	}

	typeCount, err := m.ReadUint16()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read document type count")
	}

	for i := 0; i < int(typeCount); i++ {
		documentType, err := readDocumentType(m)
		if err != nil {
			return nil, err
		}
		c.DocumentTypes[documentType.Name] = documentType
	}

	return c, nil
}

func readDocumentType(m *marshalutil.MarshalUtil) (*DocumentType, error) {
	t := &DocumentType{}

	var err error
	if t.Name, err = readString(m); err != nil {
		return nil, ierrors.Wrap(err, "failed to read document type name")
	}

	propertyCount, err := m.ReadUint16()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read property count")
	}
	for i := 0; i < int(propertyCount); i++ {
		var property Property
		if property.Name, err = readString(m); err != nil {
			return nil, err
		}
		kind, err := m.ReadByte()
		if err != nil {
			return nil, err
		}
		property.Kind = PropertyKind(kind)
		if property.Required, err = m.ReadBool(); err != nil {
			return nil, err
		}
		t.Properties = append(t.Properties, property)
	}

	indexCount, err := m.ReadUint16()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read index count")
	}
	for i := 0; i < int(indexCount); i++ {
		var index Index
		if index.Name, err = readString(m); err != nil {
			return nil, err
		}
		if index.Unique, err = m.ReadBool(); err != nil {
			return nil, err
		}
		indexPropertyCount, err := m.ReadUint16()
		if err != nil {
			return nil, err
		}
		for j := 0; j < int(indexPropertyCount); j++ {
			var indexProperty IndexProperty
			if indexProperty.Path, err = readString(m); err != nil {
				return nil, err
			}
			if indexProperty.Ascending, err = m.ReadBool(); err != nil {
				return nil, err
			}
			index.Properties = append(index.Properties, indexProperty)
		}
		t.Indices = append(t.Indices, index)
	}

	return t, nil
}
