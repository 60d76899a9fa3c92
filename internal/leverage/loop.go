// Package leverage implements the recursive leverage loop that builds a
// position against the lending pool, and the partial-deleverage primitive
// shared by the rebalancer and withdrawal unwind.
//
// The loop supplies a contribution as collateral, then repeatedly borrows
// against it, swaps the borrow asset back to the collateral asset, and
// re-supplies — amplifying exposure toward a target multiplier while holding
// the post-loop health factor above a configured floor. Partial completion is
// a reported outcome, never an error: the loop stops cleanly when the target
// is reached, capacity is exhausted, the iteration cap is hit, or another
// borrow would cross the health floor.
//
// All values use shopspring/decimal — never float64 for money.
package leverage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foldfi/position-engine/internal/venue"
)

var (
	// ErrInvalidContribution is returned when Build is called with a
	// non-positive contribution.
	ErrInvalidContribution = errors.New("leverage: contribution must be positive")

	// ErrInvalidTarget is returned when the target ratio is below 1.0.
	ErrInvalidTarget = errors.New("leverage: target leverage ratio must be at least 1.0")

	// DefaultSwapDeadline bounds how long an individual swap may remain
	// pending at the venue.
	DefaultSwapDeadline = time.Minute
)

// roundingDust covers the worst-case truncation error of a fixed-precision
// division when keeping the safe-withdraw bound conservative. Orders of
// magnitude above the 1e-16 division precision, negligible as value.
var roundingDust = decimal.New(1, -12)

// Params is the per-operation snapshot of the risk knobs the loop obeys.
type Params struct {
	// TargetHealthFactor is the soft floor the loop must not cross while
	// building. Borrow sizing is capped so the post-borrow health factor
	// stays at or above it.
	TargetHealthFactor decimal.Decimal

	// SafetyMargin is the conservative fraction applied to available borrow
	// capacity so the loop never borrows to the absolute limit.
	SafetyMargin decimal.Decimal

	// CollateralBuffer is the overcollateralization fraction withdrawn
	// beyond the repay target during deleverage, absorbing swap slippage.
	CollateralBuffer decimal.Decimal

	MaxIterations int
	SlippageBps   int64
}

// Result reports what one Build actually did. CollateralAdded excludes the
// initial contribution.
type Result struct {
	CollateralAdded decimal.Decimal `json:"collateral_added"`
	DebtAdded       decimal.Decimal `json:"debt_added"`
	Iterations      int             `json:"iterations"`
}

// DeleverageResult reports what one Deleverage actually did. BaseLeftover is
// base-asset value withdrawn but not consumed by the repayment; the caller
// decides whether to re-supply it or pay it out.
type DeleverageResult struct {
	DebtRepaid          decimal.Decimal `json:"debt_repaid"`
	CollateralWithdrawn decimal.Decimal `json:"collateral_withdrawn"`
	BaseLeftover        decimal.Decimal `json:"base_leftover"`
	Iterations          int             `json:"iterations"`
}

// Looper drives the lending pool and swap venue for one engine account.
type Looper struct {
	oracle  venue.PositionOracle
	pool    venue.LendingPool
	swap    venue.SwapVenue
	account string
	base    string // collateral asset
	borrow  string // borrow asset

	swapDeadline time.Duration
}

// NewLooper creates a looper for the given account and asset pair.
func NewLooper(oracle venue.PositionOracle, pool venue.LendingPool, swap venue.SwapVenue, account, baseAsset, borrowAsset string) *Looper {
	return &Looper{
		oracle:       oracle,
		pool:         pool,
		swap:         swap,
		account:      account,
		base:         baseAsset,
		borrow:       borrowAsset,
		swapDeadline: DefaultSwapDeadline,
	}
}

// minOut applies the slippage tolerance to a quoted amount.
func minOut(quoted decimal.Decimal, bps int64) decimal.Decimal {
	keep := decimal.NewFromInt(10_000 - bps).Div(decimal.NewFromInt(10_000))
	return quoted.Mul(keep)
}

// Build supplies contribution as collateral and iteratively borrows, swaps,
// and re-supplies toward contribution*targetRatio total collateral. A result
// short of the target is a success, not an error; callers inspect the
// position's leverage ratio afterward.
func (l *Looper) Build(ctx context.Context, contribution, targetRatio decimal.Decimal, p Params) (Result, error) {
	var res Result
	if !contribution.IsPositive() {
		return res, ErrInvalidContribution
	}
	if targetRatio.LessThan(decimal.NewFromInt(1)) {
		return res, ErrInvalidTarget
	}

	// Iteration 0: the contribution itself becomes collateral.
	if err := l.pool.SupplyCollateral(ctx, l.base, contribution, l.account); err != nil {
		return res, fmt.Errorf("leverage: supply contribution: %w", err)
	}

	// Remaining collateral gap toward the target multiplier.
	gap := contribution.Mul(targetRatio).Sub(contribution)

	for i := 0; i < p.MaxIterations && gap.IsPositive(); i++ {
		st, err := l.oracle.GetAccountState(ctx, l.account)
		if err != nil {
			return res, fmt.Errorf("leverage: read account state: %w", err)
		}

		// Health floor: cap the borrow so that even before the swapped
		// collateral lands, collateral*liqThreshold/(debt+borrow) stays at
		// or above the target. Conservative — the re-supplied collateral
		// only pushes the realized health factor higher.
		headroom := st.CollateralValue.Mul(st.LiquidationThreshold).
			Div(p.TargetHealthFactor).Sub(st.DebtValue)
		if !headroom.IsPositive() {
			break
		}

		capacity := st.AvailableBorrowCapacity.Mul(p.SafetyMargin)
		if !capacity.IsPositive() {
			break
		}

		borrowAmt := decimal.Min(gap, capacity, headroom)
		if !borrowAmt.IsPositive() {
			break
		}

		if err := l.pool.Borrow(ctx, l.borrow, borrowAmt, l.account); err != nil {
			return res, fmt.Errorf("leverage: borrow: %w", err)
		}

		supplied, err := l.swapAndSupply(ctx, borrowAmt, p.SlippageBps)
		if err != nil {
			return res, err
		}

		res.DebtAdded = res.DebtAdded.Add(borrowAmt)
		res.CollateralAdded = res.CollateralAdded.Add(supplied)
		res.Iterations = i + 1

		// The gap shrinks by the collateral actually added, so a
		// high-slippage swap only affects this iteration.
		gap = gap.Sub(supplied)
	}

	return res, nil
}

// swapAndSupply converts a borrowed amount to the collateral asset and
// supplies it. Returns the collateral actually added.
func (l *Looper) swapAndSupply(ctx context.Context, amount decimal.Decimal, slippageBps int64) (decimal.Decimal, error) {
	quoted, err := l.swap.Quote(ctx, l.borrow, l.base, amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("leverage: quote: %w", err)
	}

	out, err := l.swap.Swap(ctx, l.borrow, l.base, amount, minOut(quoted, slippageBps), time.Now().Add(l.swapDeadline))
	if err != nil {
		return decimal.Zero, fmt.Errorf("leverage: swap: %w", err)
	}

	if err := l.pool.SupplyCollateral(ctx, l.base, out, l.account); err != nil {
		return decimal.Zero, fmt.Errorf("leverage: re-supply: %w", err)
	}
	return out, nil
}

// Deleverage repays up to repayTarget of debt by withdrawing buffered
// collateral, swapping it to the borrow asset, and repaying. Stops early when
// no more collateral can be withdrawn without risking liquidation; a partial
// repayment is a valid outcome.
func (l *Looper) Deleverage(ctx context.Context, repayTarget decimal.Decimal, p Params) (DeleverageResult, error) {
	var res DeleverageResult
	if !repayTarget.IsPositive() {
		return res, nil
	}

	remaining := repayTarget
	buffer := decimal.NewFromInt(1).Add(p.CollateralBuffer)

	for i := 0; i < p.MaxIterations && remaining.IsPositive(); i++ {
		st, err := l.oracle.GetAccountState(ctx, l.account)
		if err != nil {
			return res, fmt.Errorf("leverage: read account state: %w", err)
		}
		if !st.DebtValue.IsPositive() {
			break
		}

		// The pool refuses withdrawals that leave the account liquidatable;
		// stay inside collateral - debt/liqThreshold. Division runs at fixed
		// precision, so a truncated quotient would overshoot the bound by a
		// dust amount and the pool would reject the withdrawal outright; bump
		// the quotient whenever it rounded down.
		floor := st.DebtValue.Div(st.LiquidationThreshold)
		if floor.Mul(st.LiquidationThreshold).LessThan(st.DebtValue) {
			floor = floor.Add(roundingDust)
		}
		maxSafe := st.CollateralValue.Sub(floor)
		if !maxSafe.IsPositive() {
			break
		}

		want := decimal.Min(remaining.Mul(buffer), maxSafe, st.CollateralValue)
		if !want.IsPositive() {
			break
		}

		withdrawn, err := l.pool.WithdrawCollateral(ctx, l.base, want, l.account)
		if err != nil {
			return res, fmt.Errorf("leverage: withdraw: %w", err)
		}
		res.CollateralWithdrawn = res.CollateralWithdrawn.Add(withdrawn)

		quoted, err := l.swap.Quote(ctx, l.base, l.borrow, withdrawn)
		if err != nil {
			return res, fmt.Errorf("leverage: quote: %w", err)
		}
		out, err := l.swap.Swap(ctx, l.base, l.borrow, withdrawn, minOut(quoted, p.SlippageBps), time.Now().Add(l.swapDeadline))
		if err != nil {
			return res, fmt.Errorf("leverage: swap: %w", err)
		}

		repaid, err := l.pool.Repay(ctx, l.borrow, decimal.Min(out, remaining), l.account)
		if err != nil {
			return res, fmt.Errorf("leverage: repay: %w", err)
		}
		res.DebtRepaid = res.DebtRepaid.Add(repaid)
		res.Iterations = i + 1

		// Borrow asset the repayment did not consume flows back to base for
		// the caller to re-supply or pay out.
		if excess := out.Sub(repaid); excess.IsPositive() {
			back, err := l.swap.Swap(ctx, l.borrow, l.base, excess, decimal.Zero, time.Now().Add(l.swapDeadline))
			if err != nil {
				return res, fmt.Errorf("leverage: swap back excess: %w", err)
			}
			res.BaseLeftover = res.BaseLeftover.Add(back)
		}

		remaining = remaining.Sub(repaid)
	}

	return res, nil
}
