package contract

import (
	"github.com/iotaledger/hive.go/ierrors"
)

// maxIndexProperties bounds index width so collation keys stay well below the
// path segment limit of the state tree.
const maxIndexProperties = 10

// validate checks a contract definition in isolation.
func validate(c *Contract) error {
	if len(c.ID) == 0 {
		return ierrors.Wrap(ErrSchemaViolation, "contract id must not be empty")
	}
	if len(c.DocumentTypes) == 0 {
		return ierrors.Wrap(ErrSchemaViolation, "contract must declare at least one document type")
	}

	for name, documentType := range c.DocumentTypes {
		if name == "" || name != documentType.Name {
			return ierrors.Wrapf(ErrSchemaViolation, "document type name mismatch %q", name)
		}
		if err := validateDocumentType(documentType); err != nil {
			return ierrors.Wrapf(err, "document type %q", name)
		}
	}

	return nil
}

func validateDocumentType(t *DocumentType) error {
	seenProperties := make(map[string]struct{}, len(t.Properties))
	for _, property := range t.Properties {
		if property.Name == "" {
			return ierrors.Wrap(ErrSchemaViolation, "property name must not be empty")
		}
		if _, duplicate := seenProperties[property.Name]; duplicate {
			return ierrors.Wrapf(ErrSchemaViolation, "duplicate property %q", property.Name)
		}
		seenProperties[property.Name] = struct{}{}
	}

	seenIndices := make(map[string]struct{}, len(t.Indices))
	for _, index := range t.Indices {
		if index.Name == "" {
			return ierrors.Wrap(ErrSchemaViolation, "index name must not be empty")
		}
		if _, duplicate := seenIndices[index.Name]; duplicate {
			return ierrors.Wrapf(ErrSchemaViolation, "duplicate index %q", index.Name)
		}
		seenIndices[index.Name] = struct{}{}

		if len(index.Properties) == 0 {
			return ierrors.Wrapf(ErrSchemaViolation, "index %q has no properties", index.Name)
		}
		if len(index.Properties) > maxIndexProperties {
			return ierrors.Wrapf(ErrSchemaViolation, "index %q exceeds %d properties", index.Name, maxIndexProperties)
		}

		for _, indexProperty := range index.Properties {
			if _, known := seenProperties[indexProperty.Path]; !known {
				return ierrors.Wrapf(ErrSchemaViolation, "index %q references unknown property %q", index.Name, indexProperty.Path)
			}
		}
	}

	return nil
}

// validateEvolution checks that next only extends prev: existing document
// types keep their properties and indices unchanged, new types and new
// indices on existing types may be added, and the version must increase.
func validateEvolution(prev, next *Contract) error {
	if next.Version <= prev.Version {
		return ierrors.Wrapf(ErrSchemaViolation, "contract version must increase (have %d, got %d)", prev.Version, next.Version)
	}

	for name, prevType := range prev.DocumentTypes {
		nextType, kept := next.DocumentTypes[name]
		if !kept {
			return ierrors.Wrapf(ErrSchemaViolation, "document type %q removed", name)
		}

		if len(nextType.Properties) < len(prevType.Properties) {
			return ierrors.Wrapf(ErrSchemaViolation, "document type %q removed properties", name)
		}
		for i, prevProperty := range prevType.Properties {
			if nextType.Properties[i] != prevProperty {
				return ierrors.Wrapf(ErrSchemaViolation, "document type %q changed property %q", name, prevProperty.Name)
			}
		}

		if len(nextType.Indices) < len(prevType.Indices) {
			return ierrors.Wrapf(ErrSchemaViolation, "document type %q removed indices", name)
		}
		for i, prevIndex := range prevType.Indices {
			if !indexEqual(prevIndex, nextType.Indices[i]) {
				return ierrors.Wrapf(ErrSchemaViolation, "document type %q changed index %q", name, prevIndex.Name)
			}
		}
	}

	return nil
}

func indexEqual(a, b Index) bool {
	if a.Name != b.Name || a.Unique != b.Unique || len(a.Properties) != len(b.Properties) {
		return false
	}
	for i := range a.Properties {
		if a.Properties[i] != b.Properties[i] {
			return false
		}
	}

	return true
}
