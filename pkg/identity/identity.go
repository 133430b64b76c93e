package identity

import (
	"math/bits"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/core/marshalutil"
)

var (
	// ErrIdentityNotFound is returned for lookups of unknown identities.
	ErrIdentityNotFound = ierrors.New("identity not found")

	// ErrIdentityExists is returned when inserting an identity whose ID is
	// already taken.
	ErrIdentityExists = ierrors.New("identity already exists")

	// ErrBalanceOverflow is returned when a credit would overflow the balance.
	ErrBalanceOverflow = ierrors.New("identity balance overflow")
)

// KeyType is the signature scheme of an identity public key.
type KeyType byte

const (
	KeyTypeECDSASecp256k1 KeyType = iota
	KeyTypeBLS12381
	KeyTypeEd25519
)

// PublicKey is one authentication key of an identity.
type PublicKey struct {
	ID   uint32
	Type KeyType
	Data []byte
}

// Identity is one account of the system: an ID, a credit balance fees are
// paid from and rewards are paid into, and its public keys.
type Identity struct {
	ID         []byte
	Balance    uint64
	Revision   uint64
	PublicKeys []PublicKey
}

// Credit adds amount to the balance, guarding against overflow.
func (i *Identity) Credit(amount uint64) error {
	sum, carry := bits.Add64(i.Balance, amount, 0)
	if carry != 0 {
		return ierrors.Wrapf(ErrBalanceOverflow, "identity %x", i.ID)
	}
	i.Balance = sum

	return nil
}

func (i *Identity) Bytes() []byte {
	m := marshalutil.New()
	m.WriteUint16(uint16(len(i.ID)))
	m.WriteBytes(i.ID)
	m.WriteUint64(i.Balance)
	m.WriteUint64(i.Revision)
	m.WriteUint16(uint16(len(i.PublicKeys)))
	for _, publicKey := range i.PublicKeys {
		m.WriteUint32(publicKey.ID)
		m.WriteByte(byte(publicKey.Type))
		m.WriteUint16(uint16(len(publicKey.Data)))
		m.WriteBytes(publicKey.Data)
	}

	return m.Bytes()
}

func FromBytes(b []byte) (*Identity, error) {
	m := marshalutil.New(b)
	i := &Identity{}

	idLen, err := m.ReadUint16()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read identity id length")
	}
	if i.ID, err = m.ReadBytes(int(idLen)); err != nil {
		return nil, ierrors.Wrap(err, "failed to read identity id")
	}
	if i.Balance, err = m.ReadUint64(); err != nil {
		return nil, ierrors.Wrap(err, "failed to read identity balance")
	}
	if i.Revision, err = m.ReadUint64(); err != nil {
		return nil, ierrors.Wrap(err, "failed to read identity revision")
	}

	keyCount, err := m.ReadUint16()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read public key count")
	}
	for k := 0; k < int(keyCount); k++ {
		var publicKey PublicKey
		if publicKey.ID, err = m.ReadUint32(); err != nil {
			return nil, ierrors.Wrap(err, "failed to read public key id")
		}
		keyType, err := m.ReadByte()
		if err != nil {
			return nil, ierrors.Wrap(err, "failed to read public key type")
		}
		publicKey.Type = KeyType(keyType)
		dataLen, err := m.ReadUint16()
		if err != nil {
			return nil, ierrors.Wrap(err, "failed to read public key data length")
		}
		if publicKey.Data, err = m.ReadBytes(int(dataLen)); err != nil {
			return nil, ierrors.Wrap(err, "failed to read public key data")
		}
		i.PublicKeys = append(i.PublicKeys, publicKey)
	}

	return i, nil
}
