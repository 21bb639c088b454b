package execution

import "github.com/canopy-network/fastpath/lib"

// VM executes calls into published packages and publishes new ones; it reads and writes objects only through
// the overlay and meters itself against the gas status
type VM interface {
	// Execute() runs module::function of the package with the object and pure arguments
	Execute(ctx *TxContext, store *TemporaryStore, gas *GasStatus, pkg *lib.MovePackage, call *lib.MoveCall) lib.ErrorI
	// Publish() validates the modules and creates the immutable package object
	Publish(ctx *TxContext, store *TemporaryStore, gas *GasStatus, modules []lib.Module) lib.ErrorI
}

// TxContext is what a call knows about the transaction it is part of
type TxContext struct {
	Sender lib.Address
	Digest lib.TransactionDigest
}

// NewTxContext() creates the context of a transaction
func NewTxContext(sender lib.Address, digest lib.TransactionDigest) *TxContext {
	return &TxContext{Sender: sender, Digest: digest}
}
