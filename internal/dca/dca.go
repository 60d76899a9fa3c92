// Package dca manages per-depositor dollar-cost-averaging schedules: a queue
// of incremental contributions executed over time by an authorized trigger,
// subject to schedule-local risk limits.
//
// The full amount is pulled into custody at configuration time, so later
// executions cannot fail because a depositor's balance changed. Lifecycle per
// depositor: Unconfigured -> Active -> {Active, Completed, Cancelled}.
package dca

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foldfi/position-engine/internal/model"
)

var (
	// ErrAlreadyActive is returned when a depositor configures a second
	// schedule while one is active.
	ErrAlreadyActive = errors.New("dca: schedule already active")

	// ErrInvalidConfig is returned for configuration values outside the
	// admissible ranges.
	ErrInvalidConfig = errors.New("dca: invalid schedule configuration")

	// ErrNotActive is returned when executing or cancelling without an
	// active schedule.
	ErrNotActive = errors.New("dca: no active schedule")

	// ErrNotDue is returned when the frequency interval has not yet elapsed.
	ErrNotDue = errors.New("dca: execution not due")

	// ErrInsufficientCustody is returned when custody cannot cover the next
	// execution. Unreachable through normal operation; checked defensively.
	ErrInsufficientCustody = errors.New("dca: insufficient custody balance")
)

// Limits are the engine-wide admissible ranges for schedule-local parameters,
// snapshotted from the risk configuration at configure time.
type Limits struct {
	MaxLTVCeiling  decimal.Decimal
	MinHealthFloor decimal.Decimal
	MinFrequency   time.Duration
}

// Book holds every depositor's schedule and custody balance. Not safe for
// concurrent use on its own; the vault service serializes access.
type Book struct {
	schedules map[string]*model.DCASchedule
	custody   map[string]decimal.Decimal
}

// NewBook creates an empty schedule book.
func NewBook() *Book {
	return &Book{
		schedules: make(map[string]*model.DCASchedule),
		custody:   make(map[string]decimal.Decimal),
	}
}

// Configure creates a schedule and takes totalAmount into custody. Fails
// before any state change when a schedule is already active or the
// configuration is out of range.
func (b *Book) Configure(depositor string, totalAmount, amountPerExecution decimal.Decimal, frequency time.Duration, maxLTV, minHealthFactor decimal.Decimal, limits Limits, now time.Time) (model.DCASchedule, error) {
	if s, ok := b.schedules[depositor]; ok && s.Active {
		return model.DCASchedule{}, ErrAlreadyActive
	}

	switch {
	case !totalAmount.IsPositive():
		return model.DCASchedule{}, fmt.Errorf("%w: total amount must be positive", ErrInvalidConfig)
	case !amountPerExecution.IsPositive():
		return model.DCASchedule{}, fmt.Errorf("%w: amount per execution must be positive", ErrInvalidConfig)
	case amountPerExecution.GreaterThan(totalAmount):
		return model.DCASchedule{}, fmt.Errorf("%w: amount per execution exceeds total", ErrInvalidConfig)
	case frequency < limits.MinFrequency:
		return model.DCASchedule{}, fmt.Errorf("%w: frequency below minimum %s", ErrInvalidConfig, limits.MinFrequency)
	case !maxLTV.IsPositive() || maxLTV.GreaterThan(limits.MaxLTVCeiling):
		return model.DCASchedule{}, fmt.Errorf("%w: max LTV outside (0, %s]", ErrInvalidConfig, limits.MaxLTVCeiling)
	case minHealthFactor.LessThan(limits.MinHealthFloor):
		return model.DCASchedule{}, fmt.Errorf("%w: min health factor below floor %s", ErrInvalidConfig, limits.MinHealthFloor)
	}

	s := &model.DCASchedule{
		Depositor:          depositor,
		TotalAmount:        totalAmount,
		AmountPerExecution: amountPerExecution,
		Frequency:          frequency,
		MaxLTV:             maxLTV,
		MinHealthFactor:    minHealthFactor,
		Active:             true,
		CreatedAt:          now,
	}
	b.schedules[depositor] = s
	b.custody[depositor] = totalAmount
	return *s, nil
}

// Due checks whether an execution may proceed now. The first execution is
// due immediately after configuration.
func (b *Book) Due(depositor string, now time.Time) error {
	s, ok := b.schedules[depositor]
	if !ok || !s.Active {
		return ErrNotActive
	}
	if !s.LastExecution.IsZero() && now.Sub(s.LastExecution) < s.Frequency {
		return fmt.Errorf("%w: next execution at %s", ErrNotDue, s.LastExecution.Add(s.Frequency).Format(time.RFC3339))
	}
	return nil
}

// NextAmount returns the tranche size for the next execution: the configured
// per-execution amount, capped by what remains.
func (b *Book) NextAmount(depositor string) decimal.Decimal {
	s, ok := b.schedules[depositor]
	if !ok {
		return decimal.Zero
	}
	return decimal.Min(s.AmountPerExecution, s.Remaining())
}

// Advance debits custody and records an execution. Returns true when the
// schedule completed and auto-deactivated.
func (b *Book) Advance(depositor string, amount decimal.Decimal, now time.Time) (bool, error) {
	s, ok := b.schedules[depositor]
	if !ok || !s.Active {
		return false, ErrNotActive
	}
	if amount.GreaterThan(b.custody[depositor]) {
		return false, ErrInsufficientCustody
	}

	b.custody[depositor] = b.custody[depositor].Sub(amount)
	s.ExecutedAmount = s.ExecutedAmount.Add(amount)
	s.LastExecution = now

	if s.Completed() {
		s.Active = false
		return true, nil
	}
	return false, nil
}

// Cancel deactivates a schedule and returns the uncommitted custody balance.
// The already-executed portion stays in the position.
func (b *Book) Cancel(depositor string) (decimal.Decimal, error) {
	s, ok := b.schedules[depositor]
	if !ok || !s.Active {
		return decimal.Zero, ErrNotActive
	}

	refund := b.custody[depositor]
	s.Active = false
	delete(b.schedules, depositor)
	delete(b.custody, depositor)
	return refund, nil
}

// Get returns a copy of a depositor's schedule, completed or active.
func (b *Book) Get(depositor string) (model.DCASchedule, bool) {
	s, ok := b.schedules[depositor]
	if !ok {
		return model.DCASchedule{}, false
	}
	return *s, true
}

// Restore seeds a schedule during boot-time rehydration; custody is the
// unexecuted remainder.
func (b *Book) Restore(s model.DCASchedule) {
	copied := s
	b.schedules[s.Depositor] = &copied
	if s.Active {
		b.custody[s.Depositor] = s.Remaining()
	}
}
