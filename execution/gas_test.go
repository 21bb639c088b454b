package execution

import (
	"testing"

	"github.com/canopy-network/fastpath/lib"
	"github.com/stretchr/testify/require"
)

func TestGasStatus(t *testing.T) {
	config := lib.GasConfig{TransferCost: 10, CallCost: 50, PublishCostPerByte: 2, StorageBytePrice: 3}
	tests := []struct {
		name      string
		detail    string
		budget    uint64
		charge    func(g *GasStatus) lib.ErrorI
		succeeded bool
		expected  lib.GasCostSummary
		remaining uint64
		error     bool
	}{
		{
			name:   "computation",
			detail: "fixed costs are computation",
			budget: 100,
			charge: func(g *GasStatus) lib.ErrorI {
				if err := g.ChargeTransfer(); err != nil {
					return err
				}
				return g.ChargeCall()
			},
			succeeded: true,
			expected:  lib.GasCostSummary{ComputationCost: 60},
			remaining: 40,
		},
		{
			name:   "storage",
			detail: "storage is charged per byte and the old rebate is credited",
			budget: 100,
			charge: func(g *GasStatus) lib.ErrorI {
				_, err := g.ChargeStorageMutation(10, 7)
				return err
			},
			succeeded: true,
			expected:  lib.GasCostSummary{StorageCost: 30, StorageRebate: 7},
			remaining: 70,
		},
		{
			name:   "failed",
			detail: "a failed execution reports computation only",
			budget: 100,
			charge: func(g *GasStatus) lib.ErrorI {
				if err := g.ChargePublish(5); err != nil {
					return err
				}
				_, err := g.ChargeStorageMutation(10, 7)
				return err
			},
			succeeded: false,
			expected:  lib.GasCostSummary{ComputationCost: 10},
			remaining: 60,
		},
		{
			name:   "out of gas",
			detail: "a charge larger than what remains spends everything",
			budget: 30,
			charge: func(g *GasStatus) lib.ErrorI {
				if err := g.ChargeTransfer(); err != nil {
					return err
				}
				return g.ChargeCall()
			},
			succeeded: false,
			expected:  lib.GasCostSummary{ComputationCost: 30},
			remaining: 0,
			error:     true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			g := NewGasStatus(test.budget, config)
			// execute the function call
			err := test.charge(g)
			require.Equal(t, test.error, err != nil)
			if test.error {
				require.True(t, lib.ErrorIs(err, lib.ExecutionModule, lib.CodeInsufficientGas))
			}
			require.Equal(t, test.remaining, g.Remaining())
			require.Equal(t, test.expected, g.Summary(test.succeeded))
		})
	}
}

func TestDeductGas(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		balance  uint64
		used     uint64
		rebate   uint64
		expected uint64
	}{
		{
			name:     "debit",
			detail:   "the used gas is debited and the rebate credited",
			balance:  100,
			used:     30,
			rebate:   5,
			expected: 75,
		},
		{
			name:     "capped",
			detail:   "the debit never exceeds the balance",
			balance:  10,
			used:     30,
			rebate:   5,
			expected: 5,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			coin := lib.NewGasCoin(lib.NewObjectID(), lib.Address{}, test.balance)
			// execute the function call
			require.NoError(t, deductGas(coin, test.used, test.rebate))
			balance, err := coin.GasBalance()
			require.NoError(t, err)
			require.Equal(t, test.expected, balance)
		})
	}
	// only gas coins hold a balance
	pkg := FrameworkPackage()
	err := deductGas(pkg, 1, 0)
	require.True(t, lib.ErrorIs(err, lib.ExecutionModule, lib.CodeInvalidGasObject))
}

func TestTemporaryStore(t *testing.T) {
	owner := lib.Address{1}
	digest := lib.TransactionDigest{7}
	input := newTestBasicsObject(owner, 1)
	store := NewTemporaryStore(digest, []*lib.Object{input, FrameworkPackage()})
	// reads are copies
	read := store.ReadObject(input.ID)
	read.Move.Contents = lib.Uint64ToBytes(2)
	require.Equal(t, lib.Uint64ToBytes(1), store.ReadObject(input.ID).Move.Contents)
	// immutable inputs cannot be written or deleted
	require.True(t, lib.ErrorIs(store.WriteObject(FrameworkPackage()), lib.ExecutionModule, lib.CodeImmutableObjectWrite))
	require.True(t, lib.ErrorIs(store.DeleteObject(lib.FrameworkPackageID), lib.ExecutionModule, lib.CodeImmutableObjectWrite))
	// a created then deleted object leaves no trace
	created := lib.NewMoveObject(store.FreshID(), lib.NewAddressOwner(owner), ObjectBasicsType, lib.Uint64ToBytes(3), digest)
	require.NoError(t, store.WriteObject(created))
	require.NoError(t, store.DeleteObject(created.ID))
	require.Nil(t, store.ReadObject(created.ID))
	// ids are derived from the digest in order
	require.Equal(t, lib.DeriveObjectID(digest, 0), created.ID)
	require.Equal(t, lib.DeriveObjectID(digest, 1), store.FreshID())
	// deleting the input hides it until reset
	require.NoError(t, store.DeleteObject(input.ID))
	require.Nil(t, store.ReadObject(input.ID))
	store.Reset()
	require.NotNil(t, store.ReadObject(input.ID))
	// execute the function call
	store.EnsureActiveInputsMutated()
	effects, changes := store.ToEffects(lib.NewSuccessStatus(lib.GasCostSummary{}), input.ID)
	require.Len(t, effects.Mutated, 1)
	require.Equal(t, input.Version+1, effects.Mutated[0].Reference.Version)
	require.Empty(t, effects.Created)
	require.Empty(t, effects.Deleted)
	require.Empty(t, effects.Dependencies)
	require.Len(t, changes.Inputs, 2)
	require.Len(t, changes.Written, 1)
	require.Equal(t, digest, changes.Written[0].PreviousTransaction)
}
