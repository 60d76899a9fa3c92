// Package model defines the core domain types shared across the position engine.
// All value amounts use shopspring/decimal — never float64 for money.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MaxHealthFactor is the sentinel health factor reported when debt is zero.
// The real ratio diverges to infinity; this keeps the value in decimal space.
var MaxHealthFactor = decimal.NewFromInt(1_000_000_000)

// ErrInvalidRiskParams is returned when a risk-parameter update fails validation.
var ErrInvalidRiskParams = errors.New("model: invalid risk parameters")

// AccountState is a point-in-time read of the engine's account at the lending
// pool. All values share the pool's base-currency value unit.
type AccountState struct {
	CollateralValue         decimal.Decimal `json:"collateral_value"`
	DebtValue               decimal.Decimal `json:"debt_value"`
	AvailableBorrowCapacity decimal.Decimal `json:"available_borrow_capacity"`
	CurrentLTV              decimal.Decimal `json:"current_ltv"`
	LiquidationThreshold    decimal.Decimal `json:"liquidation_threshold"`
	HealthFactor            decimal.Decimal `json:"health_factor"`
}

// NetAssetValue returns collateral minus debt, floored at zero.
func (a AccountState) NetAssetValue() decimal.Decimal {
	nav := a.CollateralValue.Sub(a.DebtValue)
	if nav.IsNegative() {
		return decimal.Zero
	}
	return nav
}

// LeverageRatio returns collateral over equity. A position with no borrowing
// reports 1.0; an empty position reports zero.
func (a AccountState) LeverageRatio() decimal.Decimal {
	if a.CollateralValue.IsZero() {
		return decimal.Zero
	}
	equity := a.NetAssetValue()
	if equity.IsZero() {
		return MaxHealthFactor
	}
	return a.CollateralValue.Div(equity)
}

// RiskParams is the process-wide risk configuration. Components receive a
// snapshot per operation; only the administrative surface mutates it.
type RiskParams struct {
	TargetLeverageRatio         decimal.Decimal `json:"target_leverage_ratio"`
	MaxLeverageRatio            decimal.Decimal `json:"max_leverage_ratio"`
	MinHealthFactor             decimal.Decimal `json:"min_health_factor"`
	TargetHealthFactorAfterLoop decimal.Decimal `json:"target_health_factor_after_loop"`
	SafetyMargin                decimal.Decimal `json:"safety_margin"`
	CollateralBuffer            decimal.Decimal `json:"collateral_buffer"`
	MaxLoopIterations           int             `json:"max_loop_iterations"`
	SlippageBps                 int64           `json:"slippage_bps"`

	// Admissible ranges for schedule-local DCA parameters.
	DCAMaxLTVCeiling    decimal.Decimal `json:"dca_max_ltv_ceiling"`
	DCAMinHealthFloor   decimal.Decimal `json:"dca_min_health_floor"`
	DCAMinFrequencySecs int64           `json:"dca_min_frequency_secs"`
}

// DefaultRiskParams returns the baseline configuration used when no config
// file is supplied.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		TargetLeverageRatio:         decimal.NewFromFloat(3.0),
		MaxLeverageRatio:            decimal.NewFromFloat(5.0),
		MinHealthFactor:             decimal.NewFromFloat(1.3),
		TargetHealthFactorAfterLoop: decimal.NewFromFloat(1.5),
		SafetyMargin:                decimal.NewFromFloat(0.8),
		CollateralBuffer:            decimal.NewFromFloat(0.15),
		MaxLoopIterations:           10,
		SlippageBps:                 50,
		DCAMaxLTVCeiling:            decimal.NewFromFloat(0.75),
		DCAMinHealthFloor:           decimal.NewFromFloat(1.1),
		DCAMinFrequencySecs:         60,
	}
}

// Validate rejects parameter sets that would make the engine unsafe or
// nonsensical. Called before any update is applied.
func (p RiskParams) Validate() error {
	one := decimal.NewFromInt(1)
	switch {
	case p.TargetLeverageRatio.LessThan(one):
		return fmt.Errorf("%w: target leverage ratio below 1.0", ErrInvalidRiskParams)
	case p.MaxLeverageRatio.LessThan(p.TargetLeverageRatio):
		return fmt.Errorf("%w: max leverage ratio below target", ErrInvalidRiskParams)
	case p.MinHealthFactor.LessThanOrEqual(one):
		return fmt.Errorf("%w: min health factor must exceed 1.0", ErrInvalidRiskParams)
	case p.TargetHealthFactorAfterLoop.LessThan(p.MinHealthFactor):
		return fmt.Errorf("%w: post-loop health target below min health factor", ErrInvalidRiskParams)
	case p.SafetyMargin.LessThanOrEqual(decimal.Zero) || p.SafetyMargin.GreaterThan(one):
		return fmt.Errorf("%w: safety margin must be in (0, 1]", ErrInvalidRiskParams)
	case p.CollateralBuffer.IsNegative() || p.CollateralBuffer.GreaterThan(one):
		return fmt.Errorf("%w: collateral buffer must be in [0, 1]", ErrInvalidRiskParams)
	case p.MaxLoopIterations < 1:
		return fmt.Errorf("%w: max loop iterations must be at least 1", ErrInvalidRiskParams)
	case p.SlippageBps < 0 || p.SlippageBps >= 10_000:
		return fmt.Errorf("%w: slippage bps must be in [0, 10000)", ErrInvalidRiskParams)
	case p.DCAMaxLTVCeiling.LessThanOrEqual(decimal.Zero) || p.DCAMaxLTVCeiling.GreaterThanOrEqual(one):
		return fmt.Errorf("%w: DCA max LTV ceiling must be in (0, 1)", ErrInvalidRiskParams)
	case p.DCAMinHealthFloor.LessThan(one):
		return fmt.Errorf("%w: DCA min health floor below 1.0", ErrInvalidRiskParams)
	case p.DCAMinFrequencySecs < 1:
		return fmt.Errorf("%w: DCA min frequency must be positive", ErrInvalidRiskParams)
	}
	return nil
}

// DCASchedule is one depositor's dollar-cost-averaging plan. Created on
// configuration, mutated only by scheduled execution and cancellation.
type DCASchedule struct {
	Depositor          string          `json:"depositor" db:"depositor"`
	TotalAmount        decimal.Decimal `json:"total_amount" db:"total_amount"`
	AmountPerExecution decimal.Decimal `json:"amount_per_execution" db:"amount_per_execution"`
	ExecutedAmount     decimal.Decimal `json:"executed_amount" db:"executed_amount"`
	Frequency          time.Duration   `json:"frequency" db:"frequency"`
	MaxLTV             decimal.Decimal `json:"max_ltv" db:"max_ltv"`
	MinHealthFactor    decimal.Decimal `json:"min_health_factor" db:"min_health_factor"`
	LastExecution      time.Time       `json:"last_execution" db:"last_execution"`
	Active             bool            `json:"active" db:"active"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
}

// Remaining returns the not-yet-executed portion of the schedule.
func (s DCASchedule) Remaining() decimal.Decimal {
	return s.TotalAmount.Sub(s.ExecutedAmount)
}

// Completed reports whether the full amount has been executed.
func (s DCASchedule) Completed() bool {
	return s.ExecutedAmount.GreaterThanOrEqual(s.TotalAmount)
}

// Event kinds recorded in the immutable history.
const (
	EventContribute   = "contribute"
	EventWithdraw     = "withdraw"
	EventRebalance    = "rebalance"
	EventDCAConfigure = "dca_configure"
	EventDCAExecute   = "dca_execute"
	EventDCACancel    = "dca_cancel"
	EventUnwindAll    = "unwind_all"
)

// Event is an immutable record of one completed engine operation.
// Once created, these are never modified or deleted.
type Event struct {
	ID              string          `json:"id" db:"id"`
	Kind            string          `json:"kind" db:"kind"`
	Depositor       string          `json:"depositor" db:"depositor"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`                     // base-asset value moved
	Units           decimal.Decimal `json:"units" db:"units"`                       // ownership units minted or burned
	CollateralDelta decimal.Decimal `json:"collateral_delta" db:"collateral_delta"` // signed
	DebtDelta       decimal.Decimal `json:"debt_delta" db:"debt_delta"`             // signed
	HealthFactor    decimal.Decimal `json:"health_factor" db:"health_factor"`       // after the operation
	Timestamp       time.Time       `json:"timestamp" db:"timestamp"`
}

// Holding is a depositor's persisted ownership-unit balance.
type Holding struct {
	Depositor string          `json:"depositor" db:"depositor"`
	Units     decimal.Decimal `json:"units" db:"units"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// PositionSnapshot is the read surface exposed over HTTP and WebSocket.
type PositionSnapshot struct {
	CollateralValue decimal.Decimal `json:"collateral_value"`
	DebtValue       decimal.Decimal `json:"debt_value"`
	NetAssetValue   decimal.Decimal `json:"net_asset_value"`
	HealthFactor    decimal.Decimal `json:"health_factor"`
	LeverageRatio   decimal.Decimal `json:"leverage_ratio"`
	TotalUnits      decimal.Decimal `json:"total_units"`
	Paused          bool            `json:"paused"`
	Timestamp       time.Time       `json:"timestamp"`
}
