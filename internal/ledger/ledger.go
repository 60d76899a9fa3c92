// Package ledger implements proportional-ownership accounting: depositors
// hold units priced against the position's fluctuating net asset value.
// Units are minted on contribution and burned on withdrawal; the invariant
// total == Σ units holds after every operation by construction.
package ledger

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientShares is returned when a burn exceeds the depositor's
	// unit balance.
	ErrInsufficientShares = errors.New("ledger: units exceed depositor balance")

	// ErrZeroNetAssetValue is returned when units are outstanding but the
	// position's net asset value reads zero. Unreachable through the engine's
	// own operations; checked defensively so the division cannot blow up.
	ErrZeroNetAssetValue = errors.New("ledger: zero net asset value with outstanding units")

	// ErrInvalidUnits is returned for non-positive mint/burn amounts.
	ErrInvalidUnits = errors.New("ledger: amount must be positive")
)

// PricingMode tags which conversion branch applies.
type PricingMode int

const (
	// Bootstrap prices the first contribution one-to-one: no units exist yet.
	Bootstrap PricingMode = iota

	// Proportional prices against net asset value per outstanding unit.
	Proportional
)

func (m PricingMode) String() string {
	if m == Bootstrap {
		return "bootstrap"
	}
	return "proportional"
}

// ShareLedger maps depositor identity to ownership units. Not safe for
// concurrent use on its own; the vault service serializes access.
type ShareLedger struct {
	units map[string]decimal.Decimal
	total decimal.Decimal
}

// New creates an empty share ledger.
func New() *ShareLedger {
	return &ShareLedger{units: make(map[string]decimal.Decimal)}
}

// Mode returns the pricing branch currently in effect.
func (l *ShareLedger) Mode() PricingMode {
	if l.total.IsZero() {
		return Bootstrap
	}
	return Proportional
}

// ValueToUnits converts a contribution value into units at the given net
// asset value. In Bootstrap mode the ratio is one-to-one.
func (l *ShareLedger) ValueToUnits(value, nav decimal.Decimal) (decimal.Decimal, error) {
	if l.Mode() == Bootstrap {
		return value, nil
	}
	if !nav.IsPositive() {
		return decimal.Zero, ErrZeroNetAssetValue
	}
	return value.Mul(l.total).Div(nav), nil
}

// UnitsToValue converts units back into value at the given net asset value.
// In Bootstrap mode units pass through unchanged.
func (l *ShareLedger) UnitsToValue(units, nav decimal.Decimal) decimal.Decimal {
	if l.Mode() == Bootstrap {
		return units
	}
	return units.Mul(nav).Div(l.total)
}

// Mint credits units to a depositor.
func (l *ShareLedger) Mint(depositor string, units decimal.Decimal) error {
	if !units.IsPositive() {
		return ErrInvalidUnits
	}
	l.units[depositor] = l.units[depositor].Add(units)
	l.total = l.total.Add(units)
	return nil
}

// Burn debits units from a depositor. Balances that reach zero are removed
// so only identities with outstanding claims appear in the ledger.
func (l *ShareLedger) Burn(depositor string, units decimal.Decimal) error {
	if !units.IsPositive() {
		return ErrInvalidUnits
	}
	balance := l.units[depositor]
	if units.GreaterThan(balance) {
		return ErrInsufficientShares
	}

	remaining := balance.Sub(units)
	if remaining.IsZero() {
		delete(l.units, depositor)
	} else {
		l.units[depositor] = remaining
	}
	l.total = l.total.Sub(units)
	return nil
}

// Restore seeds a balance during boot-time rehydration from the store.
func (l *ShareLedger) Restore(depositor string, units decimal.Decimal) {
	if !units.IsPositive() {
		return
	}
	l.units[depositor] = units
	l.total = l.total.Add(units)
}

// Balance returns a depositor's unit balance (zero if none).
func (l *ShareLedger) Balance(depositor string) decimal.Decimal {
	return l.units[depositor]
}

// Total returns the outstanding unit supply.
func (l *ShareLedger) Total() decimal.Decimal {
	return l.total
}

// Holders returns depositors with outstanding units, sorted for determinism.
func (l *ShareLedger) Holders() []string {
	holders := make([]string, 0, len(l.units))
	for depositor := range l.units {
		holders = append(holders, depositor)
	}
	sort.Strings(holders)
	return holders
}
