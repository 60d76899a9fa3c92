// Package store defines the persistence interface for the position engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/foldfi/position-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. The engine treats its in-memory
// ledger and schedule book as runtime truth and writes through to the store,
// rehydrating from it at boot.
type Store interface {
	// --- Immutable event history ---

	// InsertEvent appends an immutable operation record.
	InsertEvent(ctx context.Context, e *model.Event) error

	// ListEvents returns all events, oldest first.
	ListEvents(ctx context.Context) ([]model.Event, error)

	// GetEventsByDepositor returns one depositor's events, oldest first.
	GetEventsByDepositor(ctx context.Context, depositor string) ([]model.Event, error)

	// --- Ownership holdings ---

	// SaveHolding upserts a depositor's unit balance. A zero balance removes
	// the holding.
	SaveHolding(ctx context.Context, h *model.Holding) error

	// GetHolding retrieves a depositor's unit balance.
	GetHolding(ctx context.Context, depositor string) (*model.Holding, error)

	// ListHoldings returns all outstanding holdings.
	ListHoldings(ctx context.Context) ([]model.Holding, error)

	// --- DCA schedules ---

	// SaveSchedule upserts a depositor's DCA schedule.
	SaveSchedule(ctx context.Context, s *model.DCASchedule) error

	// GetSchedule retrieves a depositor's DCA schedule.
	GetSchedule(ctx context.Context, depositor string) (*model.DCASchedule, error)

	// DeleteSchedule removes a depositor's DCA schedule.
	DeleteSchedule(ctx context.Context, depositor string) error

	// ListSchedules returns all schedules, active and completed.
	ListSchedules(ctx context.Context) ([]model.DCASchedule, error)
}
