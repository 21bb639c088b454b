package execution

import (
	"testing"

	"github.com/canopy-network/fastpath/lib"
	"github.com/canopy-network/fastpath/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestTransfer(t *testing.T) {
	sender, recipient := newTestAddress(t), newTestAddress(t)
	gas := lib.NewGasCoin(lib.NewObjectID(), sender, 10_000)
	object := newTestBasicsObject(sender, 1)
	data := lib.NewTransferData(sender, recipient, object.Reference(), gas.Reference(), 1_000)
	// execute the function call
	result := execute(t, &data, object, gas)
	effects := result.Effects
	require.True(t, effects.Status.Success, effects.Status.ErrorMessage)
	require.Empty(t, effects.Created)
	require.Empty(t, effects.Deleted)
	require.Len(t, effects.Mutated, 2)
	// the object moved to the recipient at the next version
	moved := findRef(t, effects.Mutated, object.ID)
	require.Equal(t, object.Version+1, moved.Reference.Version)
	require.True(t, moved.Owner.IsOwnedBy(recipient))
	// the gas object paid the computation and the storage
	require.Equal(t, gas.ID, effects.GasObject.Reference.ID)
	summary := effects.Status.GasCost
	require.Equal(t, lib.DefaultGasConfig().TransferCost, summary.ComputationCost)
	require.NotZero(t, summary.StorageCost)
	require.Zero(t, summary.StorageRebate)
	require.Equal(t, 10_000-summary.GasUsed()+summary.StorageRebate, gasBalance(t, result, gas.ID))
	// every written object carries the transaction as its parent
	for _, o := range result.Written {
		require.Equal(t, effects.TransactionDigest, o.PreviousTransaction)
	}
}

func TestTransferFailures(t *testing.T) {
	sender := newTestAddress(t)
	tests := []struct {
		name   string
		detail string
		object *lib.Object
		error  lib.ErrorCode
	}{
		{
			name:   "package",
			detail: "a package cannot be transferred",
			object: FrameworkPackage(),
			error:  lib.CodeTransferPackage,
		},
		{
			name:   "shared",
			detail: "only address owned objects can be transferred",
			object: lib.NewMoveObject(lib.NewObjectID(), lib.NewSharedOwner(), ObjectBasicsType, lib.Uint64ToBytes(1), lib.GenesisTransactionDigest),
			error:  lib.CodeTransferUnowned,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			gas := lib.NewGasCoin(lib.NewObjectID(), sender, 10_000)
			data := lib.NewTransferData(sender, newTestAddress(t), test.object.Reference(), gas.Reference(), 1_000)
			// execute the function call
			result := execute(t, &data, test.object, gas)
			status := result.Effects.Status
			require.False(t, status.Success)
			require.Equal(t, lib.ExecutionModule, status.ErrorModule)
			require.Equal(t, test.error, status.ErrorCode)
			// failures are charged but never rebated
			require.Zero(t, status.GasCost.StorageCost)
			require.Equal(t, 10_000-status.GasCost.ComputationCost, gasBalance(t, result, gas.ID))
		})
	}
}

func TestRollback(t *testing.T) {
	sender := newTestAddress(t)
	gas := lib.NewGasCoin(lib.NewObjectID(), sender, 10_000)
	o1, o2 := newTestBasicsObject(sender, 1), newTestBasicsObject(sender, 2)
	framework := FrameworkPackage()
	data := lib.TransactionData{
		Kinds: []lib.SingleTransactionKind{
			{Call: newTestCall(framework, "set_value", []lib.ObjectRef{o1.Reference()}, lib.Uint64ToBytes(7))},
			{Call: newTestCall(framework, "abort", nil, lib.Uint64ToBytes(42))},
			{Call: newTestCall(framework, "set_value", []lib.ObjectRef{o2.Reference()}, lib.Uint64ToBytes(8))},
		},
		Sender:     sender,
		GasPayment: gas.Reference(),
		GasBudget:  1_000,
	}
	// execute the function call
	result := execute(t, &data, framework, o1, o2, gas)
	status := result.Effects.Status
	require.False(t, status.Success)
	require.Equal(t, lib.CodeMoveAbort, status.ErrorCode)
	// two calls ran and were charged
	require.Equal(t, 2*lib.DefaultGasConfig().CallCost, status.GasCost.ComputationCost)
	// the first write was rolled back; contents and owners are untouched but versions still move
	for _, input := range []*lib.Object{o1, o2} {
		written := findObject(t, result, input.ID)
		require.Equal(t, input.Move.Contents, written.Move.Contents)
		require.Equal(t, input.Owner, written.Owner)
		require.Equal(t, input.Version+1, written.Version)
	}
	require.Len(t, result.Effects.Mutated, 3)
	require.Empty(t, result.Effects.Created)
	// the gas coin is still debited for the calls that ran
	require.Zero(t, status.GasCost.StorageCost)
	require.Equal(t, 10_000-status.GasCost.ComputationCost, gasBalance(t, result, gas.ID))
	require.Equal(t, gas.Version+1, findObject(t, result, gas.ID).Version)
	require.Equal(t, findObject(t, result, gas.ID).Reference(), result.Effects.GasObject.Reference)
}

func TestConservativeMutation(t *testing.T) {
	sender := newTestAddress(t)
	gas := lib.NewGasCoin(lib.NewObjectID(), sender, 10_000)
	// equal values make update() a no-op
	o1, o2 := newTestBasicsObject(sender, 5), newTestBasicsObject(sender, 5)
	framework := FrameworkPackage()
	data := lib.NewMoveCallData(sender, framework.Reference(), ObjectBasicsModule, "update",
		[]lib.ObjectRef{o1.Reference(), o2.Reference()}, nil, gas.Reference(), 1_000)
	// execute the function call
	result := execute(t, &data, framework, o1, o2, gas)
	require.True(t, result.Effects.Status.Success, result.Effects.Status.ErrorMessage)
	// both objects are reported mutated with the next version
	for _, input := range []*lib.Object{o1, o2} {
		ref := findRef(t, result.Effects.Mutated, input.ID)
		require.Equal(t, input.Version+1, ref.Reference.Version)
	}
	// the package is immutable and never mutated
	for _, m := range result.Effects.Mutated {
		require.NotEqual(t, framework.ID, m.Reference.ID)
	}
}

func TestCreateAndDelete(t *testing.T) {
	sender, recipient := newTestAddress(t), newTestAddress(t)
	gas := lib.NewGasCoin(lib.NewObjectID(), sender, 10_000)
	doomed := newTestBasicsObject(sender, 3)
	doomed.StorageRebate = 17
	framework := FrameworkPackage()
	data := lib.TransactionData{
		Kinds: []lib.SingleTransactionKind{
			{Call: newTestCall(framework, "create", nil, lib.Uint64ToBytes(9), recipient[:])},
			{Call: newTestCall(framework, "delete", []lib.ObjectRef{doomed.Reference()})},
		},
		Sender:     sender,
		GasPayment: gas.Reference(),
		GasBudget:  1_000,
	}
	// execute the function call
	result := execute(t, &data, framework, doomed, gas)
	effects := result.Effects
	require.True(t, effects.Status.Success, effects.Status.ErrorMessage)
	// the created object has a derived id, the start version and the recipient as owner
	require.Len(t, effects.Created, 1)
	created := effects.Created[0]
	require.Equal(t, lib.DeriveObjectID(effects.TransactionDigest, 0), created.Reference.ID)
	require.Equal(t, lib.ObjectStartVersion, created.Reference.Version)
	require.True(t, created.Owner.IsOwnedBy(recipient))
	require.Equal(t, lib.Uint64ToBytes(9), findObject(t, result, created.Reference.ID).Move.Contents)
	// the deleted object is referenced at the next version with the deleted digest
	expected := lib.ObjectRef{ID: doomed.ID, Version: doomed.Version + 1, Digest: lib.DeletedObjectDigest}
	require.Equal(t, []lib.ObjectRef{expected}, effects.Deleted)
	require.Equal(t, []lib.ObjectRef{expected}, result.Deleted)
	// the rebate of the deleted object is credited
	require.Equal(t, uint64(17), effects.Status.GasCost.StorageRebate)
	require.Equal(t, 10_000-effects.Status.GasCost.GasUsed()+17, gasBalance(t, result, gas.ID))
}

func TestPublish(t *testing.T) {
	sender := newTestAddress(t)
	tests := []struct {
		name    string
		detail  string
		modules []lib.Module
		error   lib.ErrorCode
	}{
		{
			name:    "ok",
			detail:  "a package with uniquely named modules is created",
			modules: []lib.Module{{Name: "a", Bytecode: []byte{1, 2, 3}}, {Name: "b", Bytecode: []byte{4}}},
		},
		{
			name:   "empty",
			detail: "a publish needs at least one module",
			error:  lib.CodeEmptyPublish,
		},
		{
			name:    "duplicate",
			detail:  "module names must be unique",
			modules: []lib.Module{{Name: "a"}, {Name: "a"}},
			error:   lib.CodeDuplicateModule,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			gas := lib.NewGasCoin(lib.NewObjectID(), sender, 10_000)
			data := lib.NewPublishData(sender, test.modules, gas.Reference(), 1_000)
			// execute the function call
			result := execute(t, &data, gas)
			effects := result.Effects
			if test.error != 0 {
				require.False(t, effects.Status.Success)
				require.Equal(t, test.error, effects.Status.ErrorCode)
				require.Empty(t, effects.Created)
				return
			}
			require.True(t, effects.Status.Success, effects.Status.ErrorMessage)
			require.Len(t, effects.Created, 1)
			require.Equal(t, lib.ImmutableOwner, effects.Created[0].Owner.Kind)
			pkg := findObject(t, result, effects.Created[0].Reference.ID)
			require.True(t, pkg.IsPackage())
			require.Equal(t, test.modules, pkg.Package.Modules)
			// four bytecode bytes priced per byte
			require.Equal(t, 4*lib.DefaultGasConfig().PublishCostPerByte, effects.Status.GasCost.ComputationCost)
		})
	}
}

func TestCallFailures(t *testing.T) {
	sender := newTestAddress(t)
	framework := FrameworkPackage()
	published := lib.NewPackageObject(lib.NewObjectID(), []lib.Module{{Name: ObjectBasicsModule}}, lib.GenesisTransactionDigest)
	gasCoin := lib.NewGasCoin(lib.NewObjectID(), sender, 10_000)
	tests := []struct {
		name     string
		detail   string
		pkg      *lib.Object
		module   string
		function string
		objects  []*lib.Object
		pure     [][]byte
		error    lib.ErrorCode
	}{
		{
			name:     "unknown module",
			detail:   "the module must exist in the package",
			pkg:      framework,
			module:   "missing",
			function: "create",
			error:    lib.CodeModuleNotFound,
		},
		{
			name:     "unknown function",
			detail:   "the function must be a native of the module",
			pkg:      framework,
			module:   ObjectBasicsModule,
			function: "missing",
			error:    lib.CodeFunctionNotFound,
		},
		{
			name:     "non native package",
			detail:   "only the framework package has executable functions",
			pkg:      published,
			module:   ObjectBasicsModule,
			function: "create",
			error:    lib.CodeFunctionNotFound,
		},
		{
			name:     "bad pure argument",
			detail:   "a u64 must be 8 bytes",
			pkg:      framework,
			module:   ObjectBasicsModule,
			function: "abort",
			pure:     [][]byte{{1}},
			error:    lib.CodeInvalidPureArgument,
		},
		{
			name:     "wrong object type",
			detail:   "object basics functions only accept object basics objects",
			pkg:      framework,
			module:   ObjectBasicsModule,
			function: "delete",
			objects:  []*lib.Object{lib.NewGasCoin(lib.NewObjectID(), sender, 1)},
			error:    lib.CodeInvalidObjectType,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var refs []lib.ObjectRef
			inputs := []*lib.Object{test.pkg}
			for _, o := range test.objects {
				refs = append(refs, o.Reference())
				inputs = append(inputs, o)
			}
			gas := gasCoin.Clone()
			data := lib.NewMoveCallData(sender, test.pkg.Reference(), test.module, test.function, refs, test.pure, gas.Reference(), 1_000)
			// execute the function call
			result := execute(t, &data, append(inputs, gas)...)
			require.False(t, result.Effects.Status.Success)
			require.Equal(t, test.error, result.Effects.Status.ErrorCode, result.Effects.Status.ErrorMessage)
		})
	}
}

func TestInsufficientGas(t *testing.T) {
	sender := newTestAddress(t)
	gas := lib.NewGasCoin(lib.NewObjectID(), sender, 10_000)
	object := newTestBasicsObject(sender, 1)
	data := lib.NewTransferData(sender, newTestAddress(t), object.Reference(), gas.Reference(), 5)
	// execute the function call
	result := execute(t, &data, object, gas)
	status := result.Effects.Status
	require.False(t, status.Success)
	require.Equal(t, lib.CodeInsufficientGas, status.ErrorCode)
	// the whole budget is spent and the object did not move
	require.Equal(t, uint64(5), status.GasCost.ComputationCost)
	require.Equal(t, uint64(10_000-5), gasBalance(t, result, gas.ID))
	require.Equal(t, object.Owner, findObject(t, result, object.ID).Owner)
}

func TestDeterminism(t *testing.T) {
	sender := newTestAddress(t)
	gas := lib.NewGasCoin(lib.NewObjectID(), sender, 10_000)
	object := newTestBasicsObject(sender, 1)
	object.PreviousTransaction = lib.TransactionDigest{9}
	gas.PreviousTransaction = lib.TransactionDigest{3}
	data := lib.NewTransferData(sender, newTestAddress(t), object.Reference(), gas.Reference(), 1_000)
	// execute the function call twice over fresh copies of the inputs
	first := execute(t, &data, object.Clone(), gas.Clone())
	second := execute(t, &data, object.Clone(), gas.Clone())
	require.Equal(t, first.Effects.Digest(), second.Effects.Digest())
	// dependencies are the distinct non genesis parents, sorted
	require.Equal(t, []lib.TransactionDigest{{3}, {9}}, first.Effects.Dependencies)
}

func TestMissingGasObject(t *testing.T) {
	sender := newTestAddress(t)
	object := newTestBasicsObject(sender, 1)
	data := lib.NewTransferData(sender, sender, object.Reference(), lib.ObjectRef{ID: lib.NewObjectID()}, 1_000)
	// execute the function call
	_, err := NewEngine(NewNativeVM(), lib.DefaultGasConfig(), lib.NewNullLogger()).Execute(lib.TransactionDigest{1}, &data, []*lib.Object{object})
	require.True(t, lib.ErrorIs(err, lib.ExecutionModule, lib.CodeObjectArgNotFound))
}

func execute(t *testing.T, data *lib.TransactionData, inputs ...*lib.Object) *Result {
	var digest lib.TransactionDigest
	copy(digest[:], crypto.Hash(data.SignBytes()))
	result, err := NewEngine(NewNativeVM(), lib.DefaultGasConfig(), lib.NewNullLogger()).Execute(digest, data, inputs)
	require.NoError(t, err)
	return result
}

func newTestAddress(t *testing.T) lib.Address {
	key, err := crypto.NewEd25519PrivateKey()
	require.NoError(t, err)
	return lib.NewAddressFromPublicKey(key.PublicKey())
}

func newTestBasicsObject(owner lib.Address, value uint64) *lib.Object {
	return lib.NewMoveObject(lib.NewObjectID(), lib.NewAddressOwner(owner), ObjectBasicsType, lib.Uint64ToBytes(value), lib.GenesisTransactionDigest)
}

func newTestCall(pkg *lib.Object, function string, objects []lib.ObjectRef, pure ...[]byte) *lib.MoveCall {
	args := make([]lib.HexBytes, len(pure))
	for i, p := range pure {
		args[i] = p
	}
	return &lib.MoveCall{
		Package:         pkg.Reference(),
		Module:          ObjectBasicsModule,
		Function:        function,
		ObjectArguments: objects,
		PureArguments:   args,
	}
}

func findRef(t *testing.T, refs []lib.OwnedObjectRef, id lib.ObjectID) lib.OwnedObjectRef {
	for _, r := range refs {
		if r.Reference.ID == id {
			return r
		}
	}
	require.FailNow(t, "reference not found", id.String())
	return lib.OwnedObjectRef{}
}

func findObject(t *testing.T, result *Result, id lib.ObjectID) *lib.Object {
	for _, o := range result.Written {
		if o.ID == id {
			return o
		}
	}
	require.FailNow(t, "object not written", id.String())
	return nil
}

func gasBalance(t *testing.T, result *Result, id lib.ObjectID) uint64 {
	balance, err := findObject(t, result, id).GasBalance()
	require.NoError(t, err)
	return balance
}
