package fee

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculator_ProcessingCosts(t *testing.T) {
	calculator := NewCalculator(Table{
		ProcessingFeeRate: 2,
		StorageFeeRate:    0,
		CostSeek:          10,
		CostScanStep:      16,
		CostInsert:        60,
		CostDelete:        40,
	})

	result, err := calculator.Calculate([]Op{
		{Kind: OpSeek, KeyLen: 8},
		{Kind: OpScanStep, KeyLen: 8},
		{Kind: OpScanStep, KeyLen: 8},
		{Kind: OpInsert, KeyLen: 4, ValueLen: 10},
		{Kind: OpDelete, KeyLen: 4, PrevValueLen: 10},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2*(10+16+16+60+40)), result.ProcessingFee)
}

func TestCalculator_StorageGrowth(t *testing.T) {
	calculator := NewCalculator(Table{StorageFeeRate: 27})

	// fresh insert pays for key and value bytes
	result, err := calculator.Calculate([]Op{
		{Kind: OpInsert, KeyLen: 4, ValueLen: 10},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(27*(4+10)), result.StorageFee)

	// replacing a larger value shrinks storage: the fee clamps at zero
	result, err = calculator.Calculate([]Op{
		{Kind: OpInsert, KeyLen: 4, ValueLen: 10, PrevValueLen: 100},
	})
	require.NoError(t, err)
	require.Zero(t, result.StorageFee)

	// a replace followed by re-growth nets out against the removal
	result, err = calculator.Calculate([]Op{
		{Kind: OpInsert, KeyLen: 4, ValueLen: 30, PrevValueLen: 10},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(27*(30-10)), result.StorageFee)

	// deletes only remove bytes
	result, err = calculator.Calculate([]Op{
		{Kind: OpInsert, KeyLen: 4, ValueLen: 10},
		{Kind: OpDelete, KeyLen: 4, PrevValueLen: 10},
	})
	require.NoError(t, err)
	require.Zero(t, result.StorageFee)
}

func TestCalculator_ProofBytes(t *testing.T) {
	calculator := NewCalculator(Table{ProcessingFeeRate: 1, CostProofByte: 3})

	result, err := calculator.Calculate([]Op{
		{Kind: OpProofByte, ValueLen: 100},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(300), result.ProcessingFee)
}

func TestCalculator_Overflow(t *testing.T) {
	calculator := NewCalculator(Table{ProcessingFeeRate: math.MaxUint64, CostSeek: 2})

	_, err := calculator.Calculate([]Op{{Kind: OpSeek}})
	require.ErrorIs(t, err, ErrFeeOverflow)
}

func TestResult_Add(t *testing.T) {
	sum, err := Result{ProcessingFee: 1, StorageFee: 2}.Add(Result{ProcessingFee: 10, StorageFee: 20})
	require.NoError(t, err)
	require.Equal(t, Result{ProcessingFee: 11, StorageFee: 22}, sum)

	_, err = Result{ProcessingFee: math.MaxUint64}.Add(Result{ProcessingFee: 1})
	require.ErrorIs(t, err, ErrFeeOverflow)
}
