package document

import (
	"bytes"

	"github.com/iotaledger/hive.go/ierrors"

	"github.com/iotaledger/drive.go/pkg/contract"
	"github.com/iotaledger/drive.go/pkg/grove"
)

var (
	// ErrAlreadyExists is returned when creating a document whose ID is taken
	// or whose values collide with a unique index.
	ErrAlreadyExists = ierrors.New("document already exists")

	// ErrNotFound is returned when updating or deleting an absent document.
	ErrNotFound = ierrors.New("document not found")

	// ErrUniqueConstraint is returned when a write would duplicate a unique
	// index entry owned by a different document.
	ErrUniqueConstraint = ierrors.New("unique index constraint violated")

	// ErrRevisionMismatch is returned when an update does not carry the stored
	// revision incremented by one.
	ErrRevisionMismatch = ierrors.New("document revision mismatch")
)

// Store writes documents and keeps every declared secondary index in lockstep
// with the primary subtree inside the same batch.
type Store struct {
	contracts      *contract.Manager
	enforceUniques bool
}

func NewStore(contracts *contract.Manager, enforceUniques bool) *Store {
	return &Store{contracts: contracts, enforceUniques: enforceUniques}
}

// Create inserts a new document. All uniqueness checks run before the first
// write so a rejected create leaves the batch untouched.
func (s *Store) Create(batch *grove.Batch, d *Document) error {
	documentType, err := s.resolveType(batch, d)
	if err != nil {
		return err
	}

	documentsPath := contract.DocumentsPath(d.ContractID, d.Type)
	if err := s.checkAbsent(batch, documentsPath, d.ID, ErrAlreadyExists); err != nil {
		return err
	}
	if s.enforceUniques {
		for _, index := range documentType.Indices {
			if !index.Unique {
				continue
			}
			indexPath := contract.IndexPath(d.ContractID, d.Type, index.Name)
			if err := s.checkAbsent(batch, indexPath, IndexKey(d, index), ErrUniqueConstraint); err != nil {
				return ierrors.Wrapf(err, "index %q", index.Name)
			}
		}
	}

	if err := batch.PutItem(documentsPath, d.ID, d.Bytes()); err != nil {
		return ierrors.Wrapf(err, "failed to store document %x", d.ID)
	}
	for _, index := range documentType.Indices {
		indexPath := contract.IndexPath(d.ContractID, d.Type, index.Name)
		if err := batch.PutItem(indexPath, IndexKey(d, index), d.ID); err != nil {
			return ierrors.Wrapf(err, "failed to write index %q for document %x", index.Name, d.ID)
		}
	}

	return nil
}

// Update replaces an existing document. The update must carry the stored
// revision incremented by one, so a stale writer loses. Index entries whose
// keys changed are deleted and re-inserted; unchanged entries are left alone
// so their fee footprint stays zero.
func (s *Store) Update(batch *grove.Batch, d *Document) error {
	documentType, err := s.resolveType(batch, d)
	if err != nil {
		return err
	}

	documentsPath := contract.DocumentsPath(d.ContractID, d.Type)
	prevBytes, err := batch.GetItem(documentsPath, d.ID)
	if err != nil {
		if ierrors.Is(err, grove.ErrKeyNotFound) {
			return ierrors.Wrapf(ErrNotFound, "document %x", d.ID)
		}

		return ierrors.Wrapf(err, "failed to load document %x", d.ID)
	}
	prev, err := FromBytes(prevBytes)
	if err != nil {
		return ierrors.Wrapf(err, "failed to deserialize stored document %x", d.ID)
	}
	if d.Revision != prev.Revision+1 {
		return ierrors.Wrapf(ErrRevisionMismatch, "document %x: expected revision %d, got %d", d.ID, prev.Revision+1, d.Revision)
	}

	type indexMove struct {
		index   contract.Index
		prevKey []byte
		nextKey []byte
	}
	var moves []indexMove
	for _, index := range documentType.Indices {
		prevKey := IndexKey(prev, index)
		nextKey := IndexKey(d, index)
		if bytes.Equal(prevKey, nextKey) {
			continue
		}
		moves = append(moves, indexMove{index: index, prevKey: prevKey, nextKey: nextKey})
	}

	if s.enforceUniques {
		for _, move := range moves {
			if !move.index.Unique {
				continue
			}
			indexPath := contract.IndexPath(d.ContractID, d.Type, move.index.Name)
			if err := s.checkAbsent(batch, indexPath, move.nextKey, ErrUniqueConstraint); err != nil {
				return ierrors.Wrapf(err, "index %q", move.index.Name)
			}
		}
	}

	if err := batch.PutItem(documentsPath, d.ID, d.Bytes()); err != nil {
		return ierrors.Wrapf(err, "failed to store document %x", d.ID)
	}
	for _, move := range moves {
		indexPath := contract.IndexPath(d.ContractID, d.Type, move.index.Name)
		if _, err := batch.Delete(indexPath, move.prevKey); err != nil {
			return ierrors.Wrapf(err, "failed to drop index %q entry for document %x", move.index.Name, d.ID)
		}
		if err := batch.PutItem(indexPath, move.nextKey, d.ID); err != nil {
			return ierrors.Wrapf(err, "failed to write index %q for document %x", move.index.Name, d.ID)
		}
	}

	return nil
}

// Delete removes a document and all of its index entries.
func (s *Store) Delete(batch *grove.Batch, contractID []byte, documentTypeName string, documentID []byte) error {
	c, err := s.contracts.Get(batch, contractID)
	if err != nil {
		return err
	}
	documentType, err := c.DocumentType(documentTypeName)
	if err != nil {
		return err
	}

	documentsPath := contract.DocumentsPath(contractID, documentTypeName)
	prevBytes, err := batch.GetItem(documentsPath, documentID)
	if err != nil {
		if ierrors.Is(err, grove.ErrKeyNotFound) {
			return ierrors.Wrapf(ErrNotFound, "document %x", documentID)
		}

		return ierrors.Wrapf(err, "failed to load document %x", documentID)
	}
	prev, err := FromBytes(prevBytes)
	if err != nil {
		return ierrors.Wrapf(err, "failed to deserialize stored document %x", documentID)
	}

	if _, err := batch.Delete(documentsPath, documentID); err != nil {
		return ierrors.Wrapf(err, "failed to delete document %x", documentID)
	}
	for _, index := range documentType.Indices {
		indexPath := contract.IndexPath(contractID, documentTypeName, index.Name)
		if _, err := batch.Delete(indexPath, IndexKey(prev, index)); err != nil {
			return ierrors.Wrapf(err, "failed to drop index %q entry for document %x", index.Name, documentID)
		}
	}

	return nil
}

// Get loads one document by ID.
func (s *Store) Get(batch *grove.Batch, contractID []byte, documentTypeName string, documentID []byte) (*Document, error) {
	if _, err := s.contracts.Get(batch, contractID); err != nil {
		return nil, err
	}

	documentBytes, err := batch.GetItem(contract.DocumentsPath(contractID, documentTypeName), documentID)
	if err != nil {
		if ierrors.Is(err, grove.ErrKeyNotFound) || ierrors.Is(err, grove.ErrSubtreeNotFound) {
			return nil, ierrors.Wrapf(ErrNotFound, "document %x", documentID)
		}

		return nil, ierrors.Wrapf(err, "failed to load document %x", documentID)
	}

	return FromBytes(documentBytes)
}

func (s *Store) resolveType(batch *grove.Batch, d *Document) (*contract.DocumentType, error) {
	c, err := s.contracts.Get(batch, d.ContractID)
	if err != nil {
		return nil, err
	}
	documentType, err := c.DocumentType(d.Type)
	if err != nil {
		return nil, err
	}
	if err := d.Validate(documentType); err != nil {
		return nil, err
	}

	return documentType, nil
}

func (s *Store) checkAbsent(batch *grove.Batch, path grove.Path, key []byte, conflictErr error) error {
	exists, err := batch.Has(path, key)
	if err != nil {
		return err
	}
	if exists {
		return ierrors.Wrapf(conflictErr, "key %x", key)
	}

	return nil
}
