// Package vault — HTTP handlers for the position engine API.
package vault

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/foldfi/position-engine/internal/dca"
	"github.com/foldfi/position-engine/internal/ledger"
	"github.com/foldfi/position-engine/internal/leverage"
	"github.com/foldfi/position-engine/internal/model"
)

// statusFor maps service errors onto HTTP status codes. Unknown errors are
// treated as venue or store failures.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrLeverageOutOfRange),
		errors.Is(err, leverage.ErrInvalidContribution),
		errors.Is(err, leverage.ErrInvalidTarget),
		errors.Is(err, ledger.ErrInvalidUnits),
		errors.Is(err, dca.ErrInvalidConfig),
		errors.Is(err, model.ErrInvalidRiskParams):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, dca.ErrNotActive):
		return http.StatusNotFound
	case errors.Is(err, ErrPaused),
		errors.Is(err, ErrRiskLimits),
		errors.Is(err, dca.ErrAlreadyActive),
		errors.Is(err, ledger.ErrInsufficientShares),
		errors.Is(err, ledger.ErrZeroNetAssetValue):
		return http.StatusConflict
	case errors.Is(err, dca.ErrNotDue):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// HandleContribute handles POST /api/v1/position/contribute
func (s *Service) HandleContribute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Depositor      string          `json:"depositor"`
		Amount         decimal.Decimal `json:"amount"`
		TargetLeverage decimal.Decimal `json:"target_leverage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Depositor == "" {
		writeError(w, "depositor is required", http.StatusBadRequest)
		return
	}

	res, err := s.Contribute(r.Context(), req.Depositor, req.Amount, req.TargetLeverage)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(res)
}

// HandleWithdraw handles POST /api/v1/position/withdraw
func (s *Service) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Depositor string          `json:"depositor"`
		Units     decimal.Decimal `json:"units"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Depositor == "" {
		writeError(w, "depositor is required", http.StatusBadRequest)
		return
	}

	res, err := s.Withdraw(r.Context(), req.Depositor, req.Units)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// HandleRebalance handles POST /api/v1/position/rebalance
// Permissionless: anyone may restore the health factor.
func (s *Service) HandleRebalance(w http.ResponseWriter, r *http.Request) {
	repaid, err := s.Rebalance(r.Context())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"debt_repaid": repaid.String()})
}

// HandleSnapshot handles GET /api/v1/position
func (s *Service) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Snapshot(r.Context())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// HandleHolding handles GET /api/v1/position/holdings/{depositor}
// Returns the depositor's unit balance and its value at current NAV.
func (s *Service) HandleHolding(w http.ResponseWriter, r *http.Request) {
	depositor := chi.URLParam(r, "depositor")

	snap, err := s.Snapshot(r.Context())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	units := s.Balance(depositor)
	value := decimal.Zero
	if snap.TotalUnits.IsPositive() {
		value = units.Mul(snap.NetAssetValue).Div(snap.TotalUnits)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"depositor": depositor,
		"units":     units.String(),
		"value":     value.String(),
	})
}

// HandleEvents handles GET /api/v1/events
// Optionally filtered by ?depositor=<id>.
func (s *Service) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var (
		events []model.Event
		err    error
	)
	if depositor := r.URL.Query().Get("depositor"); depositor != "" {
		events, err = s.store.GetEventsByDepositor(r.Context(), depositor)
	} else {
		events, err = s.store.ListEvents(r.Context())
	}
	if err != nil {
		writeError(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// HandleConfigureDCA handles POST /api/v1/dca
func (s *Service) HandleConfigureDCA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Depositor          string          `json:"depositor"`
		TotalAmount        decimal.Decimal `json:"total_amount"`
		AmountPerExecution decimal.Decimal `json:"amount_per_execution"`
		FrequencySecs      int64           `json:"frequency_secs"`
		MaxLTV             decimal.Decimal `json:"max_ltv"`
		MinHealthFactor    decimal.Decimal `json:"min_health_factor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Depositor == "" {
		writeError(w, "depositor is required", http.StatusBadRequest)
		return
	}

	sched, err := s.ConfigureDCA(r.Context(), req.Depositor,
		req.TotalAmount, req.AmountPerExecution,
		time.Duration(req.FrequencySecs)*time.Second,
		req.MaxLTV, req.MinHealthFactor)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sched)
}

// HandleExecuteDCA handles POST /api/v1/dca/{depositor}/execute
// Requires the X-Trigger-Key header.
func (s *Service) HandleExecuteDCA(w http.ResponseWriter, r *http.Request) {
	depositor := chi.URLParam(r, "depositor")

	res, err := s.ExecuteDCA(r.Context(), depositor, r.Header.Get("X-Trigger-Key"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// HandleGetDCA handles GET /api/v1/dca/{depositor}
func (s *Service) HandleGetDCA(w http.ResponseWriter, r *http.Request) {
	depositor := chi.URLParam(r, "depositor")

	sched, ok := s.DCAProgress(depositor)
	if !ok {
		writeError(w, "schedule not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sched)
}

// HandleCancelDCA handles DELETE /api/v1/dca/{depositor}
func (s *Service) HandleCancelDCA(w http.ResponseWriter, r *http.Request) {
	depositor := chi.URLParam(r, "depositor")

	refund, err := s.CancelDCA(r.Context(), depositor)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"refund": refund.String()})
}

// HandleUpdateRiskParams handles PUT /api/v1/admin/risk-params
// Requires the X-Admin-Key header.
func (s *Service) HandleUpdateRiskParams(w http.ResponseWriter, r *http.Request) {
	var p model.RiskParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.UpdateRiskParams(r.Header.Get("X-Admin-Key"), p); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// HandlePause handles POST /api/v1/admin/pause
// Requires the X-Admin-Key header.
func (s *Service) HandlePause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.SetPaused(r.Header.Get("X-Admin-Key"), req.Paused); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"paused": req.Paused})
}

// HandleUnwindAll handles POST /api/v1/admin/unwind
// Requires the X-Admin-Key header.
func (s *Service) HandleUnwindAll(w http.ResponseWriter, r *http.Request) {
	repaid, err := s.UnwindAll(r.Context(), r.Header.Get("X-Admin-Key"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"debt_repaid": repaid.String()})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
