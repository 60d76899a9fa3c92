package venue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foldfi/position-engine/internal/model"
)

var (
	// ErrBorrowCapacityExceeded is returned when a borrow exceeds the
	// account's remaining capacity or the pool's liquidity.
	ErrBorrowCapacityExceeded = errors.New("venue: borrow exceeds available capacity")

	// ErrWithdrawBlocked is returned when a withdrawal would leave the
	// account eligible for liquidation.
	ErrWithdrawBlocked = errors.New("venue: withdrawal would drop health factor below 1.0")

	// ErrSlippageExceeded is returned when a swap's output falls below the
	// caller's minimum.
	ErrSlippageExceeded = errors.New("venue: swap output below minimum")

	// ErrDeadlineExpired is returned when a swap's deadline has passed.
	ErrDeadlineExpired = errors.New("venue: swap deadline expired")

	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("venue: amount must be positive")
)

// SimVenue is an in-memory lending pool and swap venue sharing one price
// space: all amounts are value units, and a swap converts value one-to-one
// minus a fixed fee. Implements PositionOracle, LendingPool, and SwapVenue.
// Used by tests and by the server when no live adapters are configured.
type SimVenue struct {
	mu sync.Mutex

	maxLTV       decimal.Decimal // borrow capacity = collateral*maxLTV - debt
	liqThreshold decimal.Decimal // health factor = collateral*liqThreshold / debt
	swapFeeBps   int64

	liquidity decimal.Decimal // pool-wide remaining borrowable liquidity
	accounts  map[string]*simAccount
}

type simAccount struct {
	collateral decimal.Decimal
	debt       decimal.Decimal
}

// NewSimVenue creates a simulated venue. Typical calibration: maxLTV 0.8,
// liquidation threshold 0.85, swap fee 30 bps.
func NewSimVenue(maxLTV, liqThreshold decimal.Decimal, swapFeeBps int64) *SimVenue {
	return &SimVenue{
		maxLTV:       maxLTV,
		liqThreshold: liqThreshold,
		swapFeeBps:   swapFeeBps,
		liquidity:    decimal.New(1, 12), // effectively unlimited until lowered
		accounts:     make(map[string]*simAccount),
	}
}

// SetLiquidity caps the pool-wide borrowable liquidity. Tests use this to
// drive the capacity-exhausted paths.
func (v *SimVenue) SetLiquidity(amount decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.liquidity = amount
}

func (v *SimVenue) account(id string) *simAccount {
	a, ok := v.accounts[id]
	if !ok {
		a = &simAccount{}
		v.accounts[id] = a
	}
	return a
}

// GetAccountState implements PositionOracle.
func (v *SimVenue) GetAccountState(_ context.Context, account string) (model.AccountState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	a := v.account(account)
	return v.stateLocked(a), nil
}

func (v *SimVenue) stateLocked(a *simAccount) model.AccountState {
	st := model.AccountState{
		CollateralValue:      a.collateral,
		DebtValue:            a.debt,
		LiquidationThreshold: v.liqThreshold,
	}

	capacity := a.collateral.Mul(v.maxLTV).Sub(a.debt)
	if capacity.IsNegative() {
		capacity = decimal.Zero
	}
	if capacity.GreaterThan(v.liquidity) {
		capacity = v.liquidity
	}
	st.AvailableBorrowCapacity = capacity

	if a.collateral.IsPositive() {
		st.CurrentLTV = a.debt.Div(a.collateral)
	}
	if a.debt.IsPositive() {
		st.HealthFactor = a.collateral.Mul(v.liqThreshold).Div(a.debt)
	} else {
		st.HealthFactor = model.MaxHealthFactor
	}
	return st
}

// SupplyCollateral implements LendingPool.
func (v *SimVenue) SupplyCollateral(_ context.Context, _ string, amount decimal.Decimal, onBehalfOf string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: supply %s", ErrInvalidAmount, amount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	a := v.account(onBehalfOf)
	a.collateral = a.collateral.Add(amount)
	return nil
}

// WithdrawCollateral implements LendingPool. The withdrawal is capped at the
// account's balance and blocked if it would leave the health factor below 1.0.
func (v *SimVenue) WithdrawCollateral(_ context.Context, _ string, amount decimal.Decimal, to string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: withdraw %s", ErrInvalidAmount, amount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	a := v.account(to)
	actual := amount
	if actual.GreaterThan(a.collateral) {
		actual = a.collateral
	}

	if a.debt.IsPositive() {
		remaining := a.collateral.Sub(actual)
		if remaining.Mul(v.liqThreshold).LessThan(a.debt) {
			return decimal.Zero, ErrWithdrawBlocked
		}
	}

	a.collateral = a.collateral.Sub(actual)
	return actual, nil
}

// Borrow implements LendingPool.
func (v *SimVenue) Borrow(_ context.Context, _ string, amount decimal.Decimal, onBehalfOf string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: borrow %s", ErrInvalidAmount, amount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	a := v.account(onBehalfOf)
	if amount.GreaterThan(v.stateLocked(a).AvailableBorrowCapacity) {
		return ErrBorrowCapacityExceeded
	}

	a.debt = a.debt.Add(amount)
	v.liquidity = v.liquidity.Sub(amount)
	return nil
}

// Repay implements LendingPool. Returns the amount actually applied, capped
// at the outstanding debt.
func (v *SimVenue) Repay(_ context.Context, _ string, amount decimal.Decimal, onBehalfOf string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: repay %s", ErrInvalidAmount, amount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	a := v.account(onBehalfOf)
	actual := amount
	if actual.GreaterThan(a.debt) {
		actual = a.debt
	}
	a.debt = a.debt.Sub(actual)
	v.liquidity = v.liquidity.Add(actual)
	return actual, nil
}

// Swap implements SwapVenue. Output is input minus the fixed fee.
func (v *SimVenue) Swap(ctx context.Context, assetIn, assetOut string, amountIn, minAmountOut decimal.Decimal, deadline time.Time) (decimal.Decimal, error) {
	if !amountIn.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: swap %s", ErrInvalidAmount, amountIn)
	}
	if !deadline.IsZero() && time.Now().After(deadline) {
		return decimal.Zero, ErrDeadlineExpired
	}

	out, err := v.Quote(ctx, assetIn, assetOut, amountIn)
	if err != nil {
		return decimal.Zero, err
	}
	if out.LessThan(minAmountOut) {
		return decimal.Zero, fmt.Errorf("%w: got %s, want at least %s", ErrSlippageExceeded, out, minAmountOut)
	}
	return out, nil
}

// Quote implements SwapVenue.
func (v *SimVenue) Quote(_ context.Context, _, _ string, amountIn decimal.Decimal) (decimal.Decimal, error) {
	fee := amountIn.Mul(decimal.NewFromInt(v.swapFeeBps)).Div(decimal.NewFromInt(10_000))
	return amountIn.Sub(fee), nil
}
