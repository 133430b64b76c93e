package identity

import (
	"github.com/iotaledger/hive.go/ierrors"

	"github.com/iotaledger/drive.go/pkg/grove"
	"github.com/iotaledger/drive.go/pkg/model"
)

// Store keeps identities in their own top-level subtree, one item per
// identity keyed by its ID.
type Store struct {
	tree *grove.Tree
}

func NewStore(tree *grove.Tree) *Store {
	return &Store{tree: tree}
}

// Path is the identities subtree.
func Path() grove.Path {
	return grove.Path{model.RootKeyIdentities}
}

// Insert writes a new identity. The ID must not be taken.
func (s *Store) Insert(batch *grove.Batch, i *Identity) error {
	if len(i.ID) == 0 {
		return ierrors.New("identity id must not be empty")
	}

	exists, err := batch.Has(Path(), i.ID)
	if err != nil {
		return ierrors.Wrapf(err, "failed to probe identity %x", i.ID)
	}
	if exists {
		return ierrors.Wrapf(ErrIdentityExists, "%x", i.ID)
	}

	return batch.PutItem(Path(), i.ID, i.Bytes())
}

// Get loads an identity, observing the batch's uncommitted writes.
func (s *Store) Get(batch *grove.Batch, identityID []byte) (*Identity, error) {
	identityBytes, err := batch.GetItem(Path(), identityID)
	if err != nil {
		if ierrors.Is(err, grove.ErrKeyNotFound) || ierrors.Is(err, grove.ErrSubtreeNotFound) {
			return nil, ierrors.Wrapf(ErrIdentityNotFound, "%x", identityID)
		}

		return nil, ierrors.Wrapf(err, "failed to load identity %x", identityID)
	}

	return FromBytes(identityBytes)
}

// AddToBalance credits an identity's balance in place.
func (s *Store) AddToBalance(batch *grove.Batch, identityID []byte, amount uint64) error {
	i, err := s.Get(batch, identityID)
	if err != nil {
		return err
	}
	if err := i.Credit(amount); err != nil {
		return err
	}
	i.Revision++

	return batch.PutItem(Path(), identityID, i.Bytes())
}
