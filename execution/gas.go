package execution

import "github.com/canopy-network/fastpath/lib"

// GasStatus meters one execution against its budget; computation and storage draw on the same remaining gas
type GasStatus struct {
	config        lib.GasConfig
	budget        uint64 // the declared gas budget
	remaining     uint64 // what is left of the budget
	storageCost   uint64 // the part of the spent gas charged for storage
	storageRebate uint64 // rebates of the previous storage charges of mutated and deleted objects
}

// NewGasStatus() starts metering with the full budget remaining
func NewGasStatus(budget uint64, config lib.GasConfig) *GasStatus {
	return &GasStatus{config: config, budget: budget, remaining: budget}
}

// Remaining() returns the unspent gas
func (g *GasStatus) Remaining() uint64 { return g.remaining }

// ChargeComputation() deducts computation units; running out spends the remaining gas
func (g *GasStatus) ChargeComputation(units uint64) lib.ErrorI {
	return g.deduct(units)
}

// ChargeTransfer() charges the fixed cost of a transfer
func (g *GasStatus) ChargeTransfer() lib.ErrorI { return g.deduct(g.config.TransferCost) }

// ChargeCall() charges the fixed cost of a native call
func (g *GasStatus) ChargeCall() lib.ErrorI { return g.deduct(g.config.CallCost) }

// ChargePublish() charges per byte of published bytecode
func (g *GasStatus) ChargePublish(bytes uint64) lib.ErrorI {
	return g.deduct(bytes * g.config.PublishCostPerByte)
}

// ChargeStorageMutation() charges the storage of an object's new size and credits the rebate of its old
// version; the returned amount is the storage cost the new version carries as its future rebate
func (g *GasStatus) ChargeStorageMutation(newSize, rebate uint64) (uint64, lib.ErrorI) {
	cost := newSize * g.config.StorageBytePrice
	if err := g.deduct(cost); err != nil {
		return 0, err
	}
	g.storageCost += cost
	g.storageRebate += rebate
	return cost, nil
}

// Summary() breaks down the spent gas; a failed execution materializes no storage so it is neither charged nor rebated
func (g *GasStatus) Summary(succeeded bool) lib.GasCostSummary {
	computation := g.budget - g.remaining - g.storageCost
	if !succeeded {
		return lib.GasCostSummary{ComputationCost: computation}
	}
	return lib.GasCostSummary{
		ComputationCost: computation,
		StorageCost:     g.storageCost,
		StorageRebate:   g.storageRebate,
	}
}

// deduct() spends gas; when the amount exceeds what remains the remaining gas is spent and the charge fails
func (g *GasStatus) deduct(amount uint64) lib.ErrorI {
	if amount > g.remaining {
		remaining := g.remaining
		g.remaining = 0
		return ErrInsufficientGas(amount, remaining)
	}
	g.remaining -= amount
	return nil
}

// deductGas() debits the gas used from the gas coin and credits the rebate
func deductGas(gasObject *lib.Object, used, rebate uint64) lib.ErrorI {
	balance, err := gasObject.GasBalance()
	if err != nil {
		return err
	}
	if used > balance {
		used = balance
	}
	return gasObject.SetGasBalance(balance - used + rebate)
}
