package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/foldfi/position-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All value amounts are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertEvent(ctx context.Context, e *model.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, kind, depositor, amount, units, collateral_delta, debt_delta, health_factor, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		e.ID, e.Kind, e.Depositor,
		e.Amount.String(), e.Units.String(),
		e.CollateralDelta.String(), e.DebtDelta.String(),
		e.HealthFactor.String(), e.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, depositor,
		        amount::TEXT, units::TEXT, collateral_delta::TEXT, debt_delta::TEXT, health_factor::TEXT,
		        timestamp
		 FROM events ORDER BY timestamp`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) GetEventsByDepositor(ctx context.Context, depositor string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, depositor,
		        amount::TEXT, units::TEXT, collateral_delta::TEXT, debt_delta::TEXT, health_factor::TEXT,
		        timestamp
		 FROM events WHERE depositor = $1 ORDER BY timestamp`, depositor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) SaveHolding(ctx context.Context, h *model.Holding) error {
	if h.Units.IsZero() {
		_, err := s.pool.Exec(ctx, `DELETE FROM holdings WHERE depositor = $1`, h.Depositor)
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO holdings (depositor, units, updated_at)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (depositor) DO UPDATE SET units = $2::NUMERIC, updated_at = $3`,
		h.Depositor, h.Units.String(), h.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetHolding(ctx context.Context, depositor string) (*model.Holding, error) {
	var h model.Holding
	var units string

	err := s.pool.QueryRow(ctx,
		`SELECT depositor, units::TEXT, updated_at FROM holdings WHERE depositor = $1`, depositor).
		Scan(&h.Depositor, &units, &h.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get holding %s: %w", depositor, err)
	}

	h.Units, _ = decimal.NewFromString(units)
	return &h, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT depositor, units::TEXT, updated_at FROM holdings ORDER BY depositor`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var units string
		if err := rows.Scan(&h.Depositor, &units, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.Units, _ = decimal.NewFromString(units)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (s *PostgresStore) SaveSchedule(ctx context.Context, sched *model.DCASchedule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dca_schedules (depositor, total_amount, amount_per_execution, executed_amount,
		                            frequency_secs, max_ltv, min_health_factor, last_execution, active, created_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6::NUMERIC, $7::NUMERIC, $8, $9, $10)
		 ON CONFLICT (depositor) DO UPDATE SET
		     executed_amount = $4::NUMERIC, last_execution = $8, active = $9`,
		sched.Depositor,
		sched.TotalAmount.String(), sched.AmountPerExecution.String(), sched.ExecutedAmount.String(),
		int64(sched.Frequency/time.Second),
		sched.MaxLTV.String(), sched.MinHealthFactor.String(),
		sched.LastExecution, sched.Active, sched.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetSchedule(ctx context.Context, depositor string) (*model.DCASchedule, error) {
	sched, err := scanSchedule(s.pool.QueryRow(ctx,
		`SELECT depositor, total_amount::TEXT, amount_per_execution::TEXT, executed_amount::TEXT,
		        frequency_secs, max_ltv::TEXT, min_health_factor::TEXT, last_execution, active, created_at
		 FROM dca_schedules WHERE depositor = $1`, depositor))
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", depositor, err)
	}
	return sched, nil
}

func (s *PostgresStore) DeleteSchedule(ctx context.Context, depositor string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dca_schedules WHERE depositor = $1`, depositor)
	return err
}

func (s *PostgresStore) ListSchedules(ctx context.Context) ([]model.DCASchedule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT depositor, total_amount::TEXT, amount_per_execution::TEXT, executed_amount::TEXT,
		        frequency_secs, max_ltv::TEXT, min_health_factor::TEXT, last_execution, active, created_at
		 FROM dca_schedules ORDER BY depositor`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []model.DCASchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

// pgxRow is the single-row scan surface shared by QueryRow and Rows.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row pgxRow) (*model.DCASchedule, error) {
	var sched model.DCASchedule
	var total, perExec, executed, maxLTV, minHF string
	var freqSecs int64

	if err := row.Scan(&sched.Depositor, &total, &perExec, &executed,
		&freqSecs, &maxLTV, &minHF,
		&sched.LastExecution, &sched.Active, &sched.CreatedAt); err != nil {
		return nil, err
	}

	sched.TotalAmount, _ = decimal.NewFromString(total)
	sched.AmountPerExecution, _ = decimal.NewFromString(perExec)
	sched.ExecutedAmount, _ = decimal.NewFromString(executed)
	sched.MaxLTV, _ = decimal.NewFromString(maxLTV)
	sched.MinHealthFactor, _ = decimal.NewFromString(minHF)
	sched.Frequency = time.Duration(freqSecs) * time.Second

	return &sched, nil
}

// scanEvents reads pgx rows into Event slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanEvents(rows pgxRows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var e model.Event
		var amount, units, collDelta, debtDelta, hf string

		if err := rows.Scan(&e.ID, &e.Kind, &e.Depositor,
			&amount, &units, &collDelta, &debtDelta, &hf,
			&e.Timestamp); err != nil {
			return nil, err
		}

		e.Amount, _ = decimal.NewFromString(amount)
		e.Units, _ = decimal.NewFromString(units)
		e.CollateralDelta, _ = decimal.NewFromString(collDelta)
		e.DebtDelta, _ = decimal.NewFromString(debtDelta)
		e.HealthFactor, _ = decimal.NewFromString(hf)

		events = append(events, e)
	}
	return events, rows.Err()
}
