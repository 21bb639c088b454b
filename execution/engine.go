package execution

import (
	"github.com/canopy-network/fastpath/lib"
)

// Engine executes certified transactions over a TemporaryStore
type Engine struct {
	vm  VM
	gas lib.GasConfig
	log lib.LoggerI
}

// Result is the outcome of one execution
type Result struct {
	Effects *lib.TransactionEffects
	*Changes
}

// NewEngine() creates an execution engine
func NewEngine(vm VM, gas lib.GasConfig, log lib.LoggerI) *Engine {
	return &Engine{vm: vm, gas: gas, log: log}
}

/*
	Execute() runs every operation of the transaction in order against an overlay of its inputs:

	1. operations run until the first failure; a failure discards every write of the transaction
	2. every mutable input is marked mutated whether or not it changed, even on failure
	3. storage is charged for the written objects and the rebates of replaced and deleted inputs are credited;
	   a failure here becomes the transaction's error but does not roll back the operations' writes
	4. the gas used minus the rebate is deducted from the gas object, which is written last

	The returned error is reserved for broken preconditions (a missing gas object); execution failures are
	captured in the status of the effects, which are produced either way.
*/
func (e *Engine) Execute(digest lib.TransactionDigest, data *lib.TransactionData, inputs []*lib.Object) (*Result, lib.ErrorI) {
	store := NewTemporaryStore(digest, inputs)
	gasObject := store.ReadObject(data.GasPayment.ID)
	if gasObject == nil {
		return nil, ErrObjectArgNotFound(data.GasPayment.ID)
	}
	if _, err := gasObject.GasBalance(); err != nil {
		return nil, err
	}
	gas := NewGasStatus(data.GasBudget, e.gas)
	ctx := NewTxContext(data.Sender, digest)
	var err lib.ErrorI
	for i := range data.Kinds {
		if err = e.executeSingle(ctx, store, gas, &data.Kinds[i]); err != nil {
			break
		}
	}
	if err != nil {
		e.log.Debugf("Execution of %s failed, rolling back: %s", digest, err.Error())
		store.Reset()
	}
	store.EnsureActiveInputsMutated()
	if storageErr := store.ChargeGasForStorageChanges(gas, gasObject); storageErr != nil {
		err = storageErr
	}
	summary := gas.Summary(err == nil)
	if deductErr := deductGas(gasObject, summary.GasUsed(), summary.StorageRebate); deductErr != nil {
		return nil, deductErr
	}
	if writeErr := store.WriteObject(gasObject); writeErr != nil {
		return nil, writeErr
	}
	status := lib.NewSuccessStatus(summary)
	if err != nil {
		status = lib.NewFailureStatus(summary, err)
	}
	effects, changes := store.ToEffects(status, gasObject.ID)
	return &Result{Effects: effects, Changes: changes}, nil
}

// executeSingle() runs one operation of the transaction
func (e *Engine) executeSingle(ctx *TxContext, store *TemporaryStore, gas *GasStatus, kind *lib.SingleTransactionKind) lib.ErrorI {
	switch {
	case kind.Transfer != nil:
		return e.transfer(store, gas, kind.Transfer)
	case kind.Call != nil:
		pkg, ok := store.GetPackage(kind.Call.Package.ID)
		if !ok {
			return lib.ErrNotAPackage(kind.Call.Package.ID)
		}
		return e.vm.Execute(ctx, store, gas, pkg, kind.Call)
	case kind.Publish != nil:
		return e.vm.Publish(ctx, store, gas, kind.Publish.Modules)
	default:
		return lib.ErrEmptyTransaction()
	}
}

// transfer() reassigns the owner of an address owned object
func (e *Engine) transfer(store *TemporaryStore, gas *GasStatus, t *lib.Transfer) lib.ErrorI {
	if err := gas.ChargeTransfer(); err != nil {
		return err
	}
	o := store.ReadObject(t.Object.ID)
	if o == nil {
		return ErrObjectArgNotFound(t.Object.ID)
	}
	if err := o.Transfer(t.Recipient); err != nil {
		return err
	}
	return store.WriteObject(o)
}
