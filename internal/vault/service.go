// Package vault provides the engine's operation surface: contributions,
// withdrawals, health-factor rebalancing, and DCA schedule management, plus
// the HTTP handlers exposing them.
//
// Every state-changing operation runs to completion under one mutex — the
// per-position guard that makes each call atomic and excludes re-entry. Pool
// and venue state is read fresh at the start of every operation that depends
// on it, never cached across operations.
//
// All value amounts use shopspring/decimal — never float64 for money.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/foldfi/position-engine/internal/dca"
	"github.com/foldfi/position-engine/internal/ledger"
	"github.com/foldfi/position-engine/internal/leverage"
	"github.com/foldfi/position-engine/internal/metrics"
	"github.com/foldfi/position-engine/internal/model"
	"github.com/foldfi/position-engine/internal/store"
	"github.com/foldfi/position-engine/internal/venue"
)

var (
	// ErrPaused is returned when a paused engine receives a contribution or
	// DCA execution. Withdrawals and rebalancing are never blocked by pause.
	ErrPaused = errors.New("vault: engine is paused")

	// ErrUnauthorized is returned when the caller lacks the required role.
	ErrUnauthorized = errors.New("vault: caller lacks required role")

	// ErrInvalidAmount is returned for non-positive contribution amounts.
	ErrInvalidAmount = errors.New("vault: amount must be positive")

	// ErrLeverageOutOfRange is returned when a requested target leverage
	// falls outside [1.0, maxLeverageRatio].
	ErrLeverageOutOfRange = errors.New("vault: target leverage outside allowed range")

	// ErrRiskLimits is returned when a DCA execution is refused because
	// current LTV or health factor violates the schedule's limits. The
	// schedule stays active; the trigger retries under safer conditions.
	ErrRiskLimits = errors.New("vault: risk limits exceeded, execution deferred")
)

// Options configures a Service.
type Options struct {
	Account     string
	BaseAsset   string
	BorrowAsset string
	AdminKey    string
	TriggerKey  string
	Params      model.RiskParams
}

// Service is the position engine. One instance manages one account against
// one lending pool and one asset pair.
type Service struct {
	// mu is the per-position operation guard: every public operation holds
	// it for its full duration, so calls are atomic and re-entry via
	// venue callbacks is structurally excluded.
	mu sync.Mutex

	store  store.Store
	oracle venue.PositionOracle
	pool   venue.LendingPool
	swap   venue.SwapVenue
	looper *leverage.Looper
	shares *ledger.ShareLedger
	book   *dca.Book
	hub    *WSHub // optional, nil disables broadcasts

	account     string
	baseAsset   string
	borrowAsset string
	adminKey    string
	triggerKey  string

	params model.RiskParams
	paused bool
}

// NewService creates the engine service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, oracle venue.PositionOracle, pool venue.LendingPool, swapv venue.SwapVenue, hub *WSHub, opts Options) *Service {
	return &Service{
		store:       st,
		oracle:      oracle,
		pool:        pool,
		swap:        swapv,
		looper:      leverage.NewLooper(oracle, pool, swapv, opts.Account, opts.BaseAsset, opts.BorrowAsset),
		shares:      ledger.New(),
		book:        dca.NewBook(),
		hub:         hub,
		account:     opts.Account,
		baseAsset:   opts.BaseAsset,
		borrowAsset: opts.BorrowAsset,
		adminKey:    opts.AdminKey,
		triggerKey:  opts.TriggerKey,
		params:      opts.Params,
	}
}

// Rehydrate loads holdings and DCA schedules from the store into the runtime
// ledger and schedule book. Called once at boot, before serving.
func (s *Service) Rehydrate(ctx context.Context) error {
	holdings, err := s.store.ListHoldings(ctx)
	if err != nil {
		return fmt.Errorf("vault: load holdings: %w", err)
	}
	for _, h := range holdings {
		s.shares.Restore(h.Depositor, h.Units)
	}

	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("vault: load schedules: %w", err)
	}
	for _, sched := range schedules {
		s.book.Restore(sched)
	}
	return nil
}

// loopParams snapshots the risk configuration into loop parameters for one
// operation.
func loopParams(p model.RiskParams) leverage.Params {
	return leverage.Params{
		TargetHealthFactor: p.TargetHealthFactorAfterLoop,
		SafetyMargin:       p.SafetyMargin,
		CollateralBuffer:   p.CollateralBuffer,
		MaxIterations:      p.MaxLoopIterations,
		SlippageBps:        p.SlippageBps,
	}
}

// --- Results ---

// ContributeResult reports a completed contribution.
type ContributeResult struct {
	Depositor       string          `json:"depositor"`
	Amount          decimal.Decimal `json:"amount"`
	UnitsMinted     decimal.Decimal `json:"units_minted"`
	PricingMode     string          `json:"pricing_mode"`
	CollateralAdded decimal.Decimal `json:"collateral_added"` // loop-added, excludes the contribution
	DebtAdded       decimal.Decimal `json:"debt_added"`
	Iterations      int             `json:"iterations"`
	HealthFactor    decimal.Decimal `json:"health_factor"`
	LeverageRatio   decimal.Decimal `json:"leverage_ratio"`
}

// WithdrawResult reports a completed withdrawal.
type WithdrawResult struct {
	Depositor    string          `json:"depositor"`
	UnitsBurned  decimal.Decimal `json:"units_burned"`
	Value        decimal.Decimal `json:"value"`  // proportional claim at current NAV
	Payout       decimal.Decimal `json:"payout"` // base asset actually transferred
	DebtRepaid   decimal.Decimal `json:"debt_repaid"`
	HealthFactor decimal.Decimal `json:"health_factor"`
}

// DCAExecuteResult reports one DCA execution.
type DCAExecuteResult struct {
	Depositor      string          `json:"depositor"`
	Amount         decimal.Decimal `json:"amount"`
	UnitsMinted    decimal.Decimal `json:"units_minted"`
	DebtAdded      decimal.Decimal `json:"debt_added"`
	ExecutedAmount decimal.Decimal `json:"executed_amount"`
	Completed      bool            `json:"completed"`
	HealthFactor   decimal.Decimal `json:"health_factor"`
}

// --- Core operations ---

// Contribute pulls amount of the base asset from the depositor, builds
// leverage toward targetRatio, and mints ownership units priced at the net
// asset value that existed before this contribution — a depositor's own loop
// cannot dilute their own price. A zero targetRatio requests the configured
// target.
func (s *Service) Contribute(ctx context.Context, depositor string, amount, targetRatio decimal.Decimal) (ContributeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res ContributeResult
	if s.paused {
		metrics.OperationsRejected.WithLabelValues(model.EventContribute).Inc()
		return res, ErrPaused
	}
	if !amount.IsPositive() {
		metrics.OperationsRejected.WithLabelValues(model.EventContribute).Inc()
		return res, ErrInvalidAmount
	}

	p := s.params
	if targetRatio.IsZero() {
		targetRatio = p.TargetLeverageRatio
	}
	if targetRatio.LessThan(decimal.NewFromInt(1)) || targetRatio.GreaterThan(p.MaxLeverageRatio) {
		metrics.OperationsRejected.WithLabelValues(model.EventContribute).Inc()
		return res, fmt.Errorf("%w: %s not in [1.0, %s]", ErrLeverageOutOfRange, targetRatio, p.MaxLeverageRatio)
	}

	// Price units at the pre-contribution net asset value.
	before, err := s.oracle.GetAccountState(ctx, s.account)
	if err != nil {
		return res, fmt.Errorf("vault: read account state: %w", err)
	}
	mode := s.shares.Mode()
	units, err := s.shares.ValueToUnits(amount, before.NetAssetValue())
	if err != nil {
		return res, err
	}

	loopRes, err := s.looper.Build(ctx, amount, targetRatio, loopParams(p))
	if err != nil {
		return res, err
	}

	if err := s.shares.Mint(depositor, units); err != nil {
		return res, err
	}

	after, err := s.oracle.GetAccountState(ctx, s.account)
	if err != nil {
		return res, fmt.Errorf("vault: read account state: %w", err)
	}

	now := time.Now().UTC()
	if err := s.persist(ctx, depositor, &model.Event{
		ID:              uuid.New().String(),
		Kind:            model.EventContribute,
		Depositor:       depositor,
		Amount:          amount,
		Units:           units,
		CollateralDelta: amount.Add(loopRes.CollateralAdded),
		DebtDelta:       loopRes.DebtAdded,
		HealthFactor:    after.HealthFactor,
		Timestamp:       now,
	}); err != nil {
		return res, err
	}

	metrics.OperationsTotal.WithLabelValues(model.EventContribute).Inc()
	metrics.LoopIterations.Observe(float64(loopRes.Iterations))
	s.observe(after)

	slog.Info("contribution executed",
		"depositor", depositor,
		"amount", amount.String(),
		"units", units.String(),
		"pricing_mode", mode.String(),
		"collateral_added", loopRes.CollateralAdded.String(),
		"debt_added", loopRes.DebtAdded.String(),
		"iterations", loopRes.Iterations,
		"health_factor", after.HealthFactor.String(),
	)
	s.broadcast(after)

	return ContributeResult{
		Depositor:       depositor,
		Amount:          amount,
		UnitsMinted:     units,
		PricingMode:     mode.String(),
		CollateralAdded: loopRes.CollateralAdded,
		DebtAdded:       loopRes.DebtAdded,
		Iterations:      loopRes.Iterations,
		HealthFactor:    after.HealthFactor,
		LeverageRatio:   after.LeverageRatio(),
	}, nil
}

// Withdraw burns units and pays out the proportional value: the depositor's
// share of debt is unwound first (withdraw collateral, swap, repay), then the
// remaining proportional collateral is withdrawn and transferred. Allowed
// while paused.
func (s *Service) Withdraw(ctx context.Context, depositor string, units decimal.Decimal) (WithdrawResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res WithdrawResult
	if !units.IsPositive() {
		metrics.OperationsRejected.WithLabelValues(model.EventWithdraw).Inc()
		return res, ErrInvalidAmount
	}
	if units.GreaterThan(s.shares.Balance(depositor)) {
		metrics.OperationsRejected.WithLabelValues(model.EventWithdraw).Inc()
		return res, ledger.ErrInsufficientShares
	}

	p := s.params
	st, err := s.oracle.GetAccountState(ctx, s.account)
	if err != nil {
		return res, fmt.Errorf("vault: read account state: %w", err)
	}

	total := s.shares.Total()
	value := s.shares.UnitsToValue(units, st.NetAssetValue())
	debtShare := units.Mul(st.DebtValue).Div(total)
	collateralShare := units.Mul(st.CollateralValue).Div(total)

	// Unwind the proportional debt share first.
	delev, err := s.looper.Deleverage(ctx, debtShare, loopParams(p))
	if err != nil {
		return res, err
	}
	payout := delev.BaseLeftover

	// Then release the rest of the proportional collateral.
	if remaining := collateralShare.Sub(delev.CollateralWithdrawn); remaining.IsPositive() {
		withdrawn, err := s.pool.WithdrawCollateral(ctx, s.baseAsset, remaining, s.account)
		if err != nil {
			return res, fmt.Errorf("vault: withdraw collateral: %w", err)
		}
		payout = payout.Add(withdrawn)
	}

	if err := s.shares.Burn(depositor, units); err != nil {
		return res, err
	}

	after, err := s.oracle.GetAccountState(ctx, s.account)
	if err != nil {
		return res, fmt.Errorf("vault: read account state: %w", err)
	}

	now := time.Now().UTC()
	if err := s.persist(ctx, depositor, &model.Event{
		ID:              uuid.New().String(),
		Kind:            model.EventWithdraw,
		Depositor:       depositor,
		Amount:          payout,
		Units:           units,
		CollateralDelta: collateralShare.Neg(),
		DebtDelta:       delev.DebtRepaid.Neg(),
		HealthFactor:    after.HealthFactor,
		Timestamp:       now,
	}); err != nil {
		return res, err
	}

	metrics.OperationsTotal.WithLabelValues(model.EventWithdraw).Inc()
	s.observe(after)

	slog.Info("withdrawal executed",
		"depositor", depositor,
		"units", units.String(),
		"value", value.String(),
		"payout", payout.String(),
		"debt_repaid", delev.DebtRepaid.String(),
		"health_factor", after.HealthFactor.String(),
	)
	s.broadcast(after)

	return WithdrawResult{
		Depositor:    depositor,
		UnitsBurned:  units,
		Value:        value,
		Payout:       payout,
		DebtRepaid:   delev.DebtRepaid,
		HealthFactor: after.HealthFactor,
	}, nil
}

// Rebalance restores the target health factor when the position has drifted
// below the configured floor. Idempotent and permissionless: when the health
// factor is already at or above the floor, or debt is zero, it returns zero
// without touching anything. Never increases leverage; allowed while paused.
func (s *Service) Rebalance(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.params
	st, err := s.oracle.GetAccountState(ctx, s.account)
	if err != nil {
		return decimal.Zero, fmt.Errorf("vault: read account state: %w", err)
	}

	if !st.DebtValue.IsPositive() || st.HealthFactor.GreaterThanOrEqual(p.MinHealthFactor) {
		return decimal.Zero, nil
	}

	// Repaying debt consumes collateral one-for-one, so solve
	// (C-x)*w / (D-x) = target for the repay size x. The denominator is
	// positive because the target health factor always exceeds the
	// liquidation threshold weight.
	w := st.LiquidationThreshold
	target := p.TargetHealthFactorAfterLoop
	repayTarget := target.Mul(st.DebtValue).Sub(st.CollateralValue.Mul(w)).Div(target.Sub(w))
	if !repayTarget.IsPositive() {
		return decimal.Zero, nil
	}

	delev, err := s.looper.Deleverage(ctx, repayTarget, loopParams(p))
	if err != nil {
		return decimal.Zero, err
	}

	// Withdrawn value the repayment did not consume goes back to collateral.
	if delev.BaseLeftover.IsPositive() {
		if err := s.pool.SupplyCollateral(ctx, s.baseAsset, delev.BaseLeftover, s.account); err != nil {
			return decimal.Zero, fmt.Errorf("vault: re-supply leftover: %w", err)
		}
	}

	after, err := s.oracle.GetAccountState(ctx, s.account)
	if err != nil {
		return decimal.Zero, fmt.Errorf("vault: read account state: %w", err)
	}

	now := time.Now().UTC()
	if err := s.store.InsertEvent(ctx, &model.Event{
		ID:              uuid.New().String(),
		Kind:            model.EventRebalance,
		Depositor:       s.account,
		Amount:          delev.DebtRepaid,
		Units:           decimal.Zero,
		CollateralDelta: delev.CollateralWithdrawn.Sub(delev.BaseLeftover).Neg(),
		DebtDelta:       delev.DebtRepaid.Neg(),
		HealthFactor:    after.HealthFactor,
		Timestamp:       now,
	}); err != nil {
		return decimal.Zero, err
	}

	metrics.OperationsTotal.WithLabelValues(model.EventRebalance).Inc()
	metrics.DebtRepaid.Add(delev.DebtRepaid.InexactFloat64())
	s.observe(after)

	slog.Info("rebalance executed",
		"debt_repaid", delev.DebtRepaid.String(),
		"health_factor_before", st.HealthFactor.String(),
		"health_factor_after", after.HealthFactor.String(),
	)
	s.broadcast(after)

	return delev.DebtRepaid, nil
}

// --- DCA operations ---

// ConfigureDCA creates a DCA schedule for the depositor, pulling the full
// amount into custody immediately so later executions cannot fail on balance
// changes.
func (s *Service) ConfigureDCA(ctx context.Context, depositor string, totalAmount, amountPerExecution decimal.Decimal, frequency time.Duration, maxLTV, minHealthFactor decimal.Decimal) (model.DCASchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.params
	limits := dca.Limits{
		MaxLTVCeiling:  p.DCAMaxLTVCeiling,
		MinHealthFloor: p.DCAMinHealthFloor,
		MinFrequency:   time.Duration(p.DCAMinFrequencySecs) * time.Second,
	}

	now := time.Now().UTC()
	sched, err := s.book.Configure(depositor, totalAmount, amountPerExecution, frequency, maxLTV, minHealthFactor, limits, now)
	if err != nil {
		metrics.OperationsRejected.WithLabelValues(model.EventDCAConfigure).Inc()
		return model.DCASchedule{}, err
	}

	if err := s.store.SaveSchedule(ctx, &sched); err != nil {
		return model.DCASchedule{}, err
	}
	if err := s.store.InsertEvent(ctx, &model.Event{
		ID:           uuid.New().String(),
		Kind:         model.EventDCAConfigure,
		Depositor:    depositor,
		Amount:       totalAmount,
		HealthFactor: decimal.Zero,
		Timestamp:    now,
	}); err != nil {
		return model.DCASchedule{}, err
	}

	metrics.OperationsTotal.WithLabelValues(model.EventDCAConfigure).Inc()
	slog.Info("dca schedule configured",
		"depositor", depositor,
		"total", totalAmount.String(),
		"per_execution", amountPerExecution.String(),
		"frequency", frequency.String(),
	)
	return sched, nil
}

// ExecuteDCA runs one scheduled tranche: converts the contribution asset,
// supplies it as collateral, optionally performs one bounded borrow-swap-
// supply cycle, and advances the schedule. Callable only by the authorized
// trigger identity. A risk-limit refusal leaves the schedule untouched for a
// later, safer attempt.
func (s *Service) ExecuteDCA(ctx context.Context, depositor, triggerKey string) (DCAExecuteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res DCAExecuteResult
	if triggerKey != s.triggerKey {
		metrics.OperationsRejected.WithLabelValues(model.EventDCAExecute).Inc()
		return res, ErrUnauthorized
	}
	if s.paused {
		metrics.OperationsRejected.WithLabelValues(model.EventDCAExecute).Inc()
		return res, ErrPaused
	}

	now := time.Now().UTC()
	if err := s.book.Due(depositor, now); err != nil {
		metrics.OperationsRejected.WithLabelValues(model.EventDCAExecute).Inc()
		return res, err
	}
	sched, _ := s.book.Get(depositor)
	amount := s.book.NextAmount(depositor)

	p := s.params
	st, err := s.oracle.GetAccountState(ctx, s.account)
	if err != nil {
		return res, fmt.Errorf("vault: read account state: %w", err)
	}

	// Deliberate wait-for-safer-conditions refusal, not a cancellation.
	if st.CurrentLTV.GreaterThan(sched.MaxLTV) || st.HealthFactor.LessThan(sched.MinHealthFactor) {
		metrics.OperationsRejected.WithLabelValues(model.EventDCAExecute).Inc()
		return res, fmt.Errorf("%w: ltv=%s health=%s", ErrRiskLimits, st.CurrentLTV, st.HealthFactor)
	}

	// The custody asset is the borrow asset; convert before supplying.
	quoted, err := s.swap.Quote(ctx, s.borrowAsset, s.baseAsset, amount)
	if err != nil {
		return res, fmt.Errorf("vault: quote: %w", err)
	}
	minAmountOut := quoted.Mul(decimal.NewFromInt(10_000 - p.SlippageBps)).Div(decimal.NewFromInt(10_000))
	converted, err := s.swap.Swap(ctx, s.borrowAsset, s.baseAsset, amount, minAmountOut, now.Add(leverage.DefaultSwapDeadline))
	if err != nil {
		return res, fmt.Errorf("vault: swap: %w", err)
	}

	// Price units on the value that actually enters the position, at the
	// pre-execution net asset value. The swap only moved custody funds, so
	// the state read above still holds.
	units, err := s.shares.ValueToUnits(converted, st.NetAssetValue())
	if err != nil {
		return res, err
	}

	// Supply plus at most one additional borrow cycle, sized by the same
	// conservative-capacity formula as the main loop.
	miniParams := loopParams(p)
	miniParams.MaxIterations = 1
	loopRes, err := s.looper.Build(ctx, converted, p.TargetLeverageRatio, miniParams)
	if err != nil {
		return res, err
	}

	if err := s.shares.Mint(depositor, units); err != nil {
		return res, err
	}
	completed, err := s.book.Advance(depositor, amount, now)
	if err != nil {
		return res, err
	}
	sched, _ = s.book.Get(depositor)

	after, err := s.oracle.GetAccountState(ctx, s.account)
	if err != nil {
		return res, fmt.Errorf("vault: read account state: %w", err)
	}

	if err := s.store.SaveSchedule(ctx, &sched); err != nil {
		return res, err
	}
	if err := s.persist(ctx, depositor, &model.Event{
		ID:              uuid.New().String(),
		Kind:            model.EventDCAExecute,
		Depositor:       depositor,
		Amount:          amount,
		Units:           units,
		CollateralDelta: converted.Add(loopRes.CollateralAdded),
		DebtDelta:       loopRes.DebtAdded,
		HealthFactor:    after.HealthFactor,
		Timestamp:       now,
	}); err != nil {
		return res, err
	}

	metrics.OperationsTotal.WithLabelValues(model.EventDCAExecute).Inc()
	s.observe(after)

	slog.Info("dca execution",
		"depositor", depositor,
		"amount", amount.String(),
		"units", units.String(),
		"executed_total", sched.ExecutedAmount.String(),
		"completed", completed,
		"health_factor", after.HealthFactor.String(),
	)
	s.broadcast(after)

	return DCAExecuteResult{
		Depositor:      depositor,
		Amount:         amount,
		UnitsMinted:    units,
		DebtAdded:      loopRes.DebtAdded,
		ExecutedAmount: sched.ExecutedAmount,
		Completed:      completed,
		HealthFactor:   after.HealthFactor,
	}, nil
}

// CancelDCA deactivates a depositor's schedule and returns the uncommitted
// custody balance. The already-executed portion stays in the position.
func (s *Service) CancelDCA(ctx context.Context, depositor string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refund, err := s.book.Cancel(depositor)
	if err != nil {
		metrics.OperationsRejected.WithLabelValues(model.EventDCACancel).Inc()
		return decimal.Zero, err
	}

	if err := s.store.DeleteSchedule(ctx, depositor); err != nil {
		return decimal.Zero, err
	}
	if err := s.store.InsertEvent(ctx, &model.Event{
		ID:        uuid.New().String(),
		Kind:      model.EventDCACancel,
		Depositor: depositor,
		Amount:    refund,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return decimal.Zero, err
	}

	metrics.OperationsTotal.WithLabelValues(model.EventDCACancel).Inc()
	slog.Info("dca schedule cancelled", "depositor", depositor, "refund", refund.String())
	return refund, nil
}

// --- Admin operations ---

// UpdateRiskParams replaces the risk configuration. Admin-only; validated
// before anything changes.
func (s *Service) UpdateRiskParams(adminKey string, p model.RiskParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if adminKey != s.adminKey {
		return ErrUnauthorized
	}
	if err := p.Validate(); err != nil {
		return err
	}
	s.params = p
	slog.Info("risk parameters updated",
		"target_leverage", p.TargetLeverageRatio.String(),
		"min_health_factor", p.MinHealthFactor.String(),
	)
	return nil
}

// SetPaused toggles the pause flag. Pause blocks new contributions and DCA
// executions; it never blocks withdrawals or rebalancing. Admin-only.
func (s *Service) SetPaused(adminKey string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if adminKey != s.adminKey {
		return ErrUnauthorized
	}
	s.paused = paused
	slog.Info("pause state changed", "paused", paused)
	return nil
}

// UnwindAll is the emergency brake: repays all outstanding debt by
// deleveraging, leaving an unleveraged collateral position that depositors
// can withdraw from normally. Admin-only; does not pause by itself.
func (s *Service) UnwindAll(ctx context.Context, adminKey string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if adminKey != s.adminKey {
		return decimal.Zero, ErrUnauthorized
	}

	p := s.params
	st, err := s.oracle.GetAccountState(ctx, s.account)
	if err != nil {
		return decimal.Zero, fmt.Errorf("vault: read account state: %w", err)
	}
	if !st.DebtValue.IsPositive() {
		return decimal.Zero, nil
	}

	delev, err := s.looper.Deleverage(ctx, st.DebtValue, loopParams(p))
	if err != nil {
		return decimal.Zero, err
	}
	if delev.BaseLeftover.IsPositive() {
		if err := s.pool.SupplyCollateral(ctx, s.baseAsset, delev.BaseLeftover, s.account); err != nil {
			return decimal.Zero, fmt.Errorf("vault: re-supply leftover: %w", err)
		}
	}

	after, err := s.oracle.GetAccountState(ctx, s.account)
	if err != nil {
		return decimal.Zero, fmt.Errorf("vault: read account state: %w", err)
	}

	if err := s.store.InsertEvent(ctx, &model.Event{
		ID:           uuid.New().String(),
		Kind:         model.EventUnwindAll,
		Depositor:    s.account,
		Amount:       delev.DebtRepaid,
		DebtDelta:    delev.DebtRepaid.Neg(),
		HealthFactor: after.HealthFactor,
		Timestamp:    time.Now().UTC(),
	}); err != nil {
		return decimal.Zero, err
	}

	metrics.OperationsTotal.WithLabelValues(model.EventUnwindAll).Inc()
	s.observe(after)

	slog.Warn("emergency unwind executed",
		"debt_repaid", delev.DebtRepaid.String(),
		"remaining_debt", after.DebtValue.String(),
	)
	s.broadcast(after)
	return delev.DebtRepaid, nil
}

// --- Read surface ---

// Snapshot returns the current position state for the read endpoints and
// WebSocket feed.
func (s *Service) Snapshot(ctx context.Context) (model.PositionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.oracle.GetAccountState(ctx, s.account)
	if err != nil {
		return model.PositionSnapshot{}, fmt.Errorf("vault: read account state: %w", err)
	}
	return s.snapshotFrom(st), nil
}

func (s *Service) snapshotFrom(st model.AccountState) model.PositionSnapshot {
	return model.PositionSnapshot{
		CollateralValue: st.CollateralValue,
		DebtValue:       st.DebtValue,
		NetAssetValue:   st.NetAssetValue(),
		HealthFactor:    st.HealthFactor,
		LeverageRatio:   st.LeverageRatio(),
		TotalUnits:      s.shares.Total(),
		Paused:          s.paused,
		Timestamp:       time.Now().UTC(),
	}
}

// NetAssetValue reads the position's current net asset value.
func (s *Service) NetAssetValue(ctx context.Context) (decimal.Decimal, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.NetAssetValue, nil
}

// HealthFactor reads the position's current health factor.
func (s *Service) HealthFactor(ctx context.Context) (decimal.Decimal, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.HealthFactor, nil
}

// CurrentLeverageRatio reads the position's current leverage ratio. Callers
// inspect this after a contribution to see how much of the requested target
// was delivered.
func (s *Service) CurrentLeverageRatio(ctx context.Context) (decimal.Decimal, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.LeverageRatio, nil
}

// Balance returns a depositor's unit balance.
func (s *Service) Balance(depositor string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shares.Balance(depositor)
}

// DCAProgress returns a depositor's schedule, active or completed.
func (s *Service) DCAProgress(depositor string) (model.DCASchedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Get(depositor)
}

// RiskParams returns the current risk-parameter snapshot.
func (s *Service) RiskParams() model.RiskParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// --- Internals ---

// persist writes the depositor's updated holding plus the operation event.
func (s *Service) persist(ctx context.Context, depositor string, e *model.Event) error {
	if err := s.store.SaveHolding(ctx, &model.Holding{
		Depositor: depositor,
		Units:     s.shares.Balance(depositor),
		UpdatedAt: e.Timestamp,
	}); err != nil {
		return fmt.Errorf("vault: save holding: %w", err)
	}
	if err := s.store.InsertEvent(ctx, e); err != nil {
		return fmt.Errorf("vault: record event: %w", err)
	}
	return nil
}

func (s *Service) observe(st model.AccountState) {
	metrics.HealthFactor.Set(st.HealthFactor.InexactFloat64())
	metrics.NetAssetValue.Set(st.NetAssetValue().InexactFloat64())
	metrics.TotalUnits.Set(s.shares.Total().InexactFloat64())
}

func (s *Service) broadcast(st model.AccountState) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(WSMessage{
		Type:     "position_update",
		Snapshot: s.snapshotFrom(st),
	})
}
