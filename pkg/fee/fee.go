package fee

import (
	"math/bits"

	"github.com/iotaledger/hive.go/ierrors"
)

// ErrFeeOverflow is returned when a fee computation exceeds uint64.
var ErrFeeOverflow = ierrors.New("fee computation overflow")

// OpKind classifies the tree operations a logical operation performed.
type OpKind uint8

const (
	// OpSeek is a point lookup of a single key.
	OpSeek OpKind = iota
	// OpScanStep is one key examined during a range scan.
	OpScanStep
	// OpInsert is a key/value write (insert or replace).
	OpInsert
	// OpDelete is a key removal.
	OpDelete
	// OpProofByte is one byte of generated proof.
	OpProofByte
)

// Op describes a single tree operation for costing purposes.
type Op struct {
	Kind OpKind

	KeyLen   uint32
	ValueLen uint32
	// PrevValueLen is the length of the value that was replaced or removed.
	PrevValueLen uint32
}

// Result is the cost of a logical operation, split into the two fee classes.
type Result struct {
	ProcessingFee uint64
	StorageFee    uint64
}

// Add returns the sum of two results, failing on overflow.
func (r Result) Add(other Result) (Result, error) {
	processing, carry := bits.Add64(r.ProcessingFee, other.ProcessingFee, 0)
	if carry != 0 {
		return Result{}, ierrors.Wrap(ErrFeeOverflow, "processing fee")
	}

	storage, carry := bits.Add64(r.StorageFee, other.StorageFee, 0)
	if carry != 0 {
		return Result{}, ierrors.Wrap(ErrFeeOverflow, "storage fee")
	}

	return Result{ProcessingFee: processing, StorageFee: storage}, nil
}

// Table is the injected fee rate configuration.
type Table struct {
	// ProcessingFeeRate scales the summed operation costs.
	ProcessingFeeRate uint64
	// StorageFeeRate is charged per net byte added to persisted state.
	StorageFeeRate uint64

	CostSeek     uint64
	CostScanStep uint64
	CostInsert   uint64
	CostDelete   uint64
	// CostProofByte defaults to zero; charging proof serialization is a
	// known simplification left configurable.
	CostProofByte uint64
}

// DefaultTable returns the default cost classes. A point lookup is cheaper
// than a scan step, writes dominate reads.
func DefaultTable() Table {
	return Table{
		ProcessingFeeRate: 1,
		StorageFeeRate:    27,
		CostSeek:          10,
		CostScanStep:      16,
		CostInsert:        60,
		CostDelete:        40,
		CostProofByte:     0,
	}
}

// Calculator turns operation logs into fee results. It is a pure function of
// its table: identical logs always yield identical fees, which is what makes
// dry-run evaluation exact.
type Calculator struct {
	table Table
}

func NewCalculator(table Table) *Calculator {
	return &Calculator{table: table}
}

func (c *Calculator) Table() Table {
	return c.table
}

// Calculate prices the given operation log. The storage fee is proportional to
// the net bytes added; removed bytes are credited but never drive the fee
// below zero.
func (c *Calculator) Calculate(ops []Op) (Result, error) {
	var processingUnits, bytesAdded, bytesRemoved uint64

	for _, op := range ops {
		var unitCost uint64

		switch op.Kind {
		case OpSeek:
			unitCost = c.table.CostSeek
		case OpScanStep:
			unitCost = c.table.CostScanStep
		case OpInsert:
			unitCost = c.table.CostInsert
			bytesAdded += uint64(op.KeyLen) + uint64(op.ValueLen)
			bytesRemoved += uint64(op.PrevValueLen)
			if op.PrevValueLen > 0 {
				// Replacing a value frees its key bytes no more than once.
				bytesRemoved += uint64(op.KeyLen)
			}
		case OpDelete:
			unitCost = c.table.CostDelete
			bytesRemoved += uint64(op.KeyLen) + uint64(op.PrevValueLen)
		case OpProofByte:
			hi, cost := bits.Mul64(c.table.CostProofByte, uint64(op.ValueLen))
			if hi != 0 {
				return Result{}, ierrors.Wrap(ErrFeeOverflow, "proof bytes")
			}
			unitCost = cost
		default:
			return Result{}, ierrors.Errorf("unknown operation kind %d", op.Kind)
		}

		sum, carry := bits.Add64(processingUnits, unitCost, 0)
		if carry != 0 {
			return Result{}, ierrors.Wrap(ErrFeeOverflow, "processing units")
		}
		processingUnits = sum
	}

	hi, processingFee := bits.Mul64(processingUnits, c.table.ProcessingFeeRate)
	if hi != 0 {
		return Result{}, ierrors.Wrap(ErrFeeOverflow, "processing fee")
	}

	var netBytes uint64
	if bytesAdded > bytesRemoved {
		netBytes = bytesAdded - bytesRemoved
	}

	hi, storageFee := bits.Mul64(netBytes, c.table.StorageFeeRate)
	if hi != 0 {
		return Result{}, ierrors.Wrap(ErrFeeOverflow, "storage fee")
	}

	return Result{ProcessingFee: processingFee, StorageFee: storageFee}, nil
}
