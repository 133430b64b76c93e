package contract

import (
	"github.com/iotaledger/hive.go/ds/shrinkingmap"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/runtime/syncutils"

	"github.com/iotaledger/drive.go/pkg/grove"
	"github.com/iotaledger/drive.go/pkg/model"
)

// metaKey addresses the serialized contract inside its own subtree and the
// primary-document subtree inside a document-type subtree. Document type and
// index names are non-empty strings, so the single zero byte never collides.
var metaKey = []byte{0}

// Manager owns the contracts area of the state tree: it applies contract
// definitions, materializes the per-type and per-index subtrees documents are
// stored under, and serves schema lookups from a cache of committed state.
type Manager struct {
	tree *grove.Tree

	cacheMutex syncutils.RWMutex
	cache      *shrinkingmap.ShrinkingMap[string, *Contract]
}

func NewManager(tree *grove.Tree) *Manager {
	return &Manager{
		tree:  tree,
		cache: shrinkingmap.New[string, *Contract](),
	}
}

// Path returns the subtree path of the given contract.
func Path(contractID []byte) grove.Path {
	return grove.Path{model.RootKeyContracts, contractID}
}

// DocumentsPath returns the primary-document subtree path of a document type.
func DocumentsPath(contractID []byte, documentType string) grove.Path {
	return grove.Path{model.RootKeyContracts, contractID, []byte(documentType), metaKey}
}

// IndexPath returns the subtree path of one secondary index of a document type.
func IndexPath(contractID []byte, documentType, indexName string) grove.Path {
	return grove.Path{model.RootKeyContracts, contractID, []byte(documentType), []byte(indexName)}
}

// Apply validates the contract and writes it into the batch, creating the
// subtrees for every document type and index it declares. Re-applying an
// existing contract must carry a higher version and only extend the schema.
func (m *Manager) Apply(batch *grove.Batch, c *Contract) error {
	if err := validate(c); err != nil {
		return err
	}

	contractPath := Path(c.ID)

	prevBytes, err := batch.GetItem(contractPath, metaKey)
	switch {
	case err == nil:
		prev, prevErr := FromBytes(prevBytes)
		if prevErr != nil {
			return ierrors.Wrapf(prevErr, "failed to deserialize stored contract %x", c.ID)
		}
		if err := validateEvolution(prev, c); err != nil {
			return err
		}
	case ierrors.Is(err, grove.ErrKeyNotFound), ierrors.Is(err, grove.ErrSubtreeNotFound):
		// first application
	default:
		return ierrors.Wrapf(err, "failed to load contract %x", c.ID)
	}

	if err := batch.PutSubtree(grove.Path{model.RootKeyContracts}, c.ID); err != nil {
		return ierrors.Wrapf(err, "failed to create subtree for contract %x", c.ID)
	}
	if err := batch.PutItem(contractPath, metaKey, c.Bytes()); err != nil {
		return ierrors.Wrapf(err, "failed to store contract %x", c.ID)
	}

	for typeName, documentType := range c.DocumentTypes {
		typePath := contractPath.Child([]byte(typeName))

		if err := batch.PutSubtree(contractPath, []byte(typeName)); err != nil {
			return ierrors.Wrapf(err, "failed to create subtree for document type %q", typeName)
		}
		if err := batch.PutSubtree(typePath, metaKey); err != nil {
			return ierrors.Wrapf(err, "failed to create documents subtree for %q", typeName)
		}
		for _, index := range documentType.Indices {
			if err := batch.PutSubtree(typePath, []byte(index.Name)); err != nil {
				return ierrors.Wrapf(err, "failed to create index subtree %q of %q", index.Name, typeName)
			}
		}
	}

	m.cacheMutex.Lock()
	defer m.cacheMutex.Unlock()
	m.cache.Delete(string(c.ID))

	return nil
}

// Get resolves a contract by ID. When a batch is given the lookup sees the
// batch's uncommitted writes; otherwise committed state is read and the
// result is cached.
func (m *Manager) Get(batch *grove.Batch, contractID []byte) (*Contract, error) {
	if batch != nil {
		return m.load(func() ([]byte, error) {
			return batch.GetItem(Path(contractID), metaKey)
		}, contractID, false)
	}

	m.cacheMutex.RLock()
	cached, exists := m.cache.Get(string(contractID))
	m.cacheMutex.RUnlock()
	if exists {
		return cached, nil
	}

	return m.load(func() ([]byte, error) {
		return m.tree.GetItem(Path(contractID), metaKey)
	}, contractID, true)
}

func (m *Manager) load(read func() ([]byte, error), contractID []byte, cacheResult bool) (*Contract, error) {
	contractBytes, err := read()
	if err != nil {
		if ierrors.Is(err, grove.ErrKeyNotFound) || ierrors.Is(err, grove.ErrSubtreeNotFound) {
			return nil, ierrors.Wrapf(ErrContractNotFound, "%x", contractID)
		}

		return nil, ierrors.Wrapf(err, "failed to load contract %x", contractID)
	}

	c, err := FromBytes(contractBytes)
	if err != nil {
		return nil, ierrors.Wrapf(err, "failed to deserialize contract %x", contractID)
	}

	if cacheResult {
		m.cacheMutex.Lock()
		m.cache.Set(string(contractID), c)
		m.cacheMutex.Unlock()
	}

	return c, nil
}
