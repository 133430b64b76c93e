package platform

import (
	"math/bits"

	"github.com/iotaledger/hive.go/ierrors"

	"github.com/iotaledger/drive.go/pkg/fee"
	"github.com/iotaledger/drive.go/pkg/grove"
	"github.com/iotaledger/drive.go/pkg/identity"
	"github.com/iotaledger/drive.go/pkg/model"
	"github.com/iotaledger/drive.go/pkg/withdrawal"
)

// ErrEpochMismatch is returned when the caller-asserted epoch disagrees with
// the one derived from the block timestamp.
var ErrEpochMismatch = ierrors.New("asserted epoch does not match derived epoch")

// BlockBeginResult reports what BlockBegin decided for the block.
type BlockBeginResult struct {
	Epoch       uint64
	EpochChange bool

	// Withdrawals are the queue entries dequeued for processing in this block,
	// oldest first.
	Withdrawals []withdrawal.Entry
}

// Payout is one identity's share of a closed epoch's fee pool.
type Payout struct {
	IdentityID []byte
	Amount     uint64
}

// BlockEndResult summarizes the fee flow of the block.
type BlockEndResult struct {
	Epoch uint64

	// Fees are the fees accumulated by all operations of this block, credited
	// to the current epoch's pool.
	Fees fee.Result

	// Payouts is the distribution of the previous epoch's pool. It is only
	// non-empty on the first block of a new epoch.
	Payouts []Payout
}

// BlockBegin starts block processing inside the open transaction: it derives
// the block's epoch from its timestamp (opening a new epoch record when the
// epoch boundary passed), tallies the proposer and dequeues withdrawals due
// for processing.
func (p *Platform) BlockBegin(info model.BlockInfo, proposerID []byte) (*BlockBeginResult, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.transaction == nil {
		return nil, ErrNoTransaction
	}
	if p.block != nil {
		return nil, ErrBlockOpen
	}

	state := &blockState{info: info}

	if initialized, err := p.transaction.Has(grove.RootPath, model.RootKeyPools); err != nil {
		return nil, err
	} else if !initialized {
		return nil, ErrNotInitialized
	}

	epochIndex, exists, err := currentEpoch(p.transaction)
	if err != nil {
		return nil, err
	}

	// Derive the block's epoch first; nothing is staged until the caller's
	// asserted epoch has been validated.
	var openedRecord *EpochRecord
	switch {
	case !exists:
		// Genesis: the first block opens epoch 0 anchored at its own time.
		// It reports an epoch change, but there is no earlier pool to pay out.
		state.epoch = 0
		state.epochChange = true
		state.genesis = true
		openedRecord = &EpochRecord{
			StartHeight: info.Height,
			StartTimeMs: info.TimeMs,
		}

	default:
		record, err := epochRecord(p.transaction, epochIndex)
		if err != nil {
			return nil, err
		}
		if info.TimeMs < record.StartTimeMs {
			return nil, ierrors.Wrapf(ErrTimeRegression, "block time %d, epoch start %d", info.TimeMs, record.StartTimeMs)
		}

		delta := (info.TimeMs - record.StartTimeMs) / p.epochDurationMs
		if delta == 0 {
			state.epoch = epochIndex

			break
		}

		// Epoch boundary passed. The new epoch start stays anchored to the
		// old one so idle periods do not drift the epoch grid.
		state.epoch = epochIndex + delta
		state.epochChange = true
		state.prevEpoch = epochIndex
		openedRecord = &EpochRecord{
			StartHeight: info.Height,
			StartTimeMs: record.StartTimeMs + delta*p.epochDurationMs,
		}
	}

	if info.Epoch != 0 && info.Epoch != state.epoch {
		return nil, ierrors.Wrapf(ErrEpochMismatch, "asserted %d, derived %d", info.Epoch, state.epoch)
	}

	if openedRecord != nil {
		if err := putEpochRecord(p.transaction, state.epoch, openedRecord); err != nil {
			return nil, err
		}
		if err := setCurrentEpoch(p.transaction, state.epoch); err != nil {
			return nil, err
		}
		if !state.genesis {
			p.LogInfof("epoch change at height %d: %d -> %d", info.Height, state.prevEpoch, state.epoch)
		}
	}

	if err := incrementProposerTally(p.transaction, state.epoch, proposerID); err != nil {
		return nil, err
	}

	dequeued, err := p.withdrawals.DequeueUpTo(p.transaction, p.withdrawalsPerBlock)
	if err != nil {
		return nil, err
	}

	p.block = state

	return &BlockBeginResult{
		Epoch:       state.epoch,
		EpochChange: state.epochChange,
		Withdrawals: dequeued,
	}, nil
}

// BlockEnd finishes block processing: the fees accumulated by this block's
// operations, plus any fees the caller settled outside the platform, are
// credited to the current epoch's pool, and on the first block of a new epoch
// the previous pool is distributed to its proposers. The transaction stays
// open; the caller commits it.
func (p *Platform) BlockEnd(externalFees fee.Result) (*BlockEndResult, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.transaction == nil {
		return nil, ErrNoTransaction
	}
	if p.block == nil {
		return nil, ErrNoBlock
	}

	state := p.block
	fees, err := state.fees.Add(externalFees)
	if err != nil {
		return nil, err
	}
	state.fees = fees
	result := &BlockEndResult{Epoch: state.epoch, Fees: state.fees}

	record, err := epochRecord(p.transaction, state.epoch)
	if err != nil {
		return nil, err
	}
	if record.ProcessingFee, err = checkedAdd(record.ProcessingFee, state.fees.ProcessingFee); err != nil {
		return nil, err
	}
	if record.StorageFee, err = checkedAdd(record.StorageFee, state.fees.StorageFee); err != nil {
		return nil, err
	}
	if err := putEpochRecord(p.transaction, state.epoch, record); err != nil {
		return nil, err
	}

	if state.epochChange && !state.genesis {
		if result.Payouts, err = p.distributeEpochPool(state.prevEpoch); err != nil {
			return nil, err
		}
	}

	p.block = nil

	return result, nil
}

// distributeEpochPool pays the closed epoch's pool out to its proposers,
// proportionally to the blocks each proposed. Integer division leaves a
// remainder; it goes to the proposer with the most blocks (first in key order
// on a tie). Payouts to unknown identities are skipped, not failed.
func (p *Platform) distributeEpochPool(epoch uint64) ([]Payout, error) {
	record, err := epochRecord(p.transaction, epoch)
	if err != nil {
		return nil, err
	}

	pool, err := checkedAdd(record.ProcessingFee, record.StorageFee)
	if err != nil {
		return nil, err
	}
	if pool == 0 {
		return nil, p.clearEpochPool(epoch, record)
	}

	tallies, err := epochProposerTallies(p.transaction, epoch)
	if err != nil {
		return nil, err
	}
	if len(tallies) == 0 {
		p.LogWarnf("epoch %d closed with a non-empty pool but no proposers", epoch)

		return nil, nil
	}

	totalBlocks := uint64(0)
	topIndex := 0
	for i, tally := range tallies {
		if totalBlocks, err = checkedAdd(totalBlocks, tally.blocks); err != nil {
			return nil, err
		}
		if tally.blocks > tallies[topIndex].blocks {
			topIndex = i
		}
	}

	payouts := make([]Payout, 0, len(tallies))
	distributed := uint64(0)
	for i, tally := range tallies {
		hi, lo := bits.Mul64(pool, tally.blocks)
		amount, _ := bits.Div64(hi, lo, totalBlocks)
		if i == topIndex {
			// settled below, once the remainder is known
			payouts = append(payouts, Payout{IdentityID: tally.proposerID})
			continue
		}
		distributed += amount
		payouts = append(payouts, Payout{IdentityID: tally.proposerID, Amount: amount})
	}
	payouts[topIndex].Amount = pool - distributed

	credited := payouts[:0]
	for _, payout := range payouts {
		if payout.Amount == 0 {
			continue
		}
		if err := p.identities.AddToBalance(p.transaction, payout.IdentityID, payout.Amount); err != nil {
			if ierrors.Is(err, identity.ErrIdentityNotFound) {
				p.LogWarnf("skipping payout of %d to unknown identity %x", payout.Amount, payout.IdentityID)

				continue
			}

			return nil, err
		}
		credited = append(credited, payout)
	}

	return credited, p.clearEpochPool(epoch, record)
}

// clearEpochPool zeroes a distributed pool and drops its proposer tallies.
func (p *Platform) clearEpochPool(epoch uint64, record *EpochRecord) error {
	record.ProcessingFee = 0
	record.StorageFee = 0
	if err := putEpochRecord(p.transaction, epoch, record); err != nil {
		return err
	}

	tallies, err := epochProposerTallies(p.transaction, epoch)
	if err != nil {
		return err
	}
	for _, tally := range tallies {
		if _, err := p.transaction.Delete(proposersPath(), proposerKey(epoch, tally.proposerID)); err != nil {
			return err
		}
	}

	return nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fee.ErrFeeOverflow
	}

	return sum, nil
}
