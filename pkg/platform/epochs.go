package platform

import (
	"encoding/binary"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/serializer/v2/byteutils"
	"github.com/iotaledger/hive.go/core/marshalutil"

	"github.com/iotaledger/drive.go/pkg/grove"
	"github.com/iotaledger/drive.go/pkg/model"
)

var (
	currentEpochKey   = []byte{'c'}
	epochRecordPrefix = byte('e')
	proposersKey      = []byte{'p'}
)

// EpochRecord is the fee pool of one epoch: when the epoch started and the
// fees collected during it, waiting to be distributed when the epoch closes.
type EpochRecord struct {
	StartHeight   uint64
	StartTimeMs   uint64
	ProcessingFee uint64
	StorageFee    uint64
}

func (r *EpochRecord) Bytes() []byte {
	m := marshalutil.New()
	m.WriteUint64(r.StartHeight)
	m.WriteUint64(r.StartTimeMs)
	m.WriteUint64(r.ProcessingFee)
	m.WriteUint64(r.StorageFee)

	return m.Bytes()
}

func epochRecordFromBytes(b []byte) (*EpochRecord, error) {
	m := marshalutil.New(b)
	r := &EpochRecord{}

	var err error
	if r.StartHeight, err = m.ReadUint64(); err != nil {
		return nil, ierrors.Wrap(err, "failed to read epoch start height")
	}
	if r.StartTimeMs, err = m.ReadUint64(); err != nil {
		return nil, ierrors.Wrap(err, "failed to read epoch start time")
	}
	if r.ProcessingFee, err = m.ReadUint64(); err != nil {
		return nil, ierrors.Wrap(err, "failed to read epoch processing fees")
	}
	if r.StorageFee, err = m.ReadUint64(); err != nil {
		return nil, ierrors.Wrap(err, "failed to read epoch storage fees")
	}

	return r, nil
}

func poolsPath() grove.Path {
	return grove.Path{model.RootKeyPools}
}

func proposersPath() grove.Path {
	return grove.Path{model.RootKeyPools, proposersKey}
}

func epochKey(index uint64) []byte {
	key := make([]byte, 9)
	key[0] = epochRecordPrefix
	binary.BigEndian.PutUint64(key[1:], index)

	return key
}

func uint64Key(v uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, v)

	return key
}

// proposerKey tallies blocks per proposer per epoch; the epoch prefix keeps
// one epoch's tallies adjacent for a single range scan.
func proposerKey(epoch uint64, proposerID []byte) []byte {
	return byteutils.ConcatBytes(uint64Key(epoch), proposerID)
}

// currentEpoch reads the active epoch index, reporting whether one exists.
func currentEpoch(batch *grove.Batch) (uint64, bool, error) {
	indexBytes, err := batch.GetItem(poolsPath(), currentEpochKey)
	if err != nil {
		if ierrors.Is(err, grove.ErrKeyNotFound) || ierrors.Is(err, grove.ErrSubtreeNotFound) {
			return 0, false, nil
		}

		return 0, false, ierrors.Wrap(err, "failed to load current epoch index")
	}
	if len(indexBytes) != 8 {
		return 0, false, ierrors.Errorf("malformed epoch index of %d bytes", len(indexBytes))
	}

	return binary.BigEndian.Uint64(indexBytes), true, nil
}

func setCurrentEpoch(batch *grove.Batch, index uint64) error {
	return batch.PutItem(poolsPath(), currentEpochKey, uint64Key(index))
}

func epochRecord(batch *grove.Batch, index uint64) (*EpochRecord, error) {
	recordBytes, err := batch.GetItem(poolsPath(), epochKey(index))
	if err != nil {
		return nil, ierrors.Wrapf(err, "failed to load record of epoch %d", index)
	}

	return epochRecordFromBytes(recordBytes)
}

func putEpochRecord(batch *grove.Batch, index uint64, record *EpochRecord) error {
	return batch.PutItem(poolsPath(), epochKey(index), record.Bytes())
}

// incrementProposerTally bumps the block count of one proposer in one epoch.
func incrementProposerTally(batch *grove.Batch, epoch uint64, proposerID []byte) error {
	key := proposerKey(epoch, proposerID)

	count := uint64(0)
	countBytes, err := batch.GetItem(proposersPath(), key)
	switch {
	case err == nil:
		if len(countBytes) != 8 {
			return ierrors.Errorf("malformed proposer tally of %d bytes", len(countBytes))
		}
		count = binary.BigEndian.Uint64(countBytes)
	case ierrors.Is(err, grove.ErrKeyNotFound):
		// first block of this proposer in the epoch
	default:
		return ierrors.Wrapf(err, "failed to load proposer tally %x", key)
	}

	return batch.PutItem(proposersPath(), key, uint64Key(count+1))
}

// proposerTally is one proposer's block count within an epoch.
type proposerTally struct {
	proposerID []byte
	blocks     uint64
}

// epochProposerTallies returns all tallies of one epoch in key order.
func epochProposerTallies(batch *grove.Batch, epoch uint64) ([]proposerTally, error) {
	rng := grove.Range{
		Start:     uint64Key(epoch),
		End:       uint64Key(epoch + 1),
		Ascending: true,
	}

	var tallies []proposerTally
	_, err := batch.IterateRange(proposersPath(), rng, func(key []byte, element grove.Element) (bool, error) {
		if element.Kind != grove.ElementItem || len(element.Value) != 8 {
			return false, ierrors.Errorf("malformed proposer tally %x", key)
		}
		tallies = append(tallies, proposerTally{
			proposerID: key[8:],
			blocks:     binary.BigEndian.Uint64(element.Value),
		})

		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return tallies, nil
}
