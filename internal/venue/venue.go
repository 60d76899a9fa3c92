// Package venue defines the external collaborators the engine drives — the
// lending pool that holds collateral and debt, the position oracle that
// reports account health, and the swap venue that converts between the base
// and borrow assets — plus an in-memory simulated venue for development and
// tests.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foldfi/position-engine/internal/model"
)

// PositionOracle reads the engine account's current state at the lending
// pool. Pure read, no side effects.
type PositionOracle interface {
	GetAccountState(ctx context.Context, account string) (model.AccountState, error)
}

// LendingPool is the mutating surface of the external lending pool.
// All amounts are in the pool's shared value unit.
type LendingPool interface {
	SupplyCollateral(ctx context.Context, asset string, amount decimal.Decimal, onBehalfOf string) error

	// WithdrawCollateral returns the amount actually withdrawn, which may be
	// less than requested when the account balance is smaller.
	WithdrawCollateral(ctx context.Context, asset string, amount decimal.Decimal, to string) (decimal.Decimal, error)

	Borrow(ctx context.Context, asset string, amount decimal.Decimal, onBehalfOf string) error

	// Repay returns the amount actually applied to the debt.
	Repay(ctx context.Context, asset string, amount decimal.Decimal, onBehalfOf string) (decimal.Decimal, error)
}

// SwapVenue converts one asset into another at the external venue's
// prevailing rate.
type SwapVenue interface {
	// Swap executes a conversion, failing if the output would fall below
	// minAmountOut or the deadline has passed.
	Swap(ctx context.Context, assetIn, assetOut string, amountIn, minAmountOut decimal.Decimal, deadline time.Time) (decimal.Decimal, error)

	// Quote returns the expected output for amountIn without executing.
	Quote(ctx context.Context, assetIn, assetOut string, amountIn decimal.Decimal) (decimal.Decimal, error)
}
