package vault_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/foldfi/position-engine/internal/model"
	"github.com/foldfi/position-engine/internal/store"
	"github.com/foldfi/position-engine/internal/vault"
	"github.com/foldfi/position-engine/internal/venue"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

const (
	adminKey   = "admin-secret"
	triggerKey = "trigger-secret"
)

func testParams() model.RiskParams {
	return model.RiskParams{
		TargetLeverageRatio:         d(3),
		MaxLeverageRatio:            d(5),
		MinHealthFactor:             d(1.05),
		TargetHealthFactorAfterLoop: d(1.1),
		SafetyMargin:                d(0.8),
		CollateralBuffer:            d(0.15),
		MaxLoopIterations:           5,
		SlippageBps:                 50,
		DCAMaxLTVCeiling:            d(0.75),
		DCAMinHealthFloor:           d(1.1),
		DCAMinFrequencySecs:         60,
	}
}

// newTestEnv creates a test Service with in-memory store, sim venue, and chi
// router.
func newTestEnv(t *testing.T) (*vault.Service, *venue.SimVenue, chi.Router) {
	t.Helper()
	return newTestEnvWithParams(t, testParams())
}

func newTestEnvWithParams(t *testing.T, p model.RiskParams) (*vault.Service, *venue.SimVenue, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	sim := venue.NewSimVenue(d(0.8), d(0.85), 30)
	svc := vault.NewService(ms, sim, sim, sim, nil, vault.Options{
		Account:     "engine",
		BaseAsset:   "WETH",
		BorrowAsset: "USDC",
		AdminKey:    adminKey,
		TriggerKey:  triggerKey,
		Params:      p,
	})

	r := chi.NewRouter()
	r.Get("/api/v1/position", svc.HandleSnapshot)
	r.Post("/api/v1/position/contribute", svc.HandleContribute)
	r.Post("/api/v1/position/withdraw", svc.HandleWithdraw)
	r.Post("/api/v1/position/rebalance", svc.HandleRebalance)
	r.Get("/api/v1/events", svc.HandleEvents)
	r.Post("/api/v1/dca", svc.HandleConfigureDCA)
	r.Get("/api/v1/dca/{depositor}", svc.HandleGetDCA)
	r.Post("/api/v1/dca/{depositor}/execute", svc.HandleExecuteDCA)
	r.Delete("/api/v1/dca/{depositor}", svc.HandleCancelDCA)
	r.Put("/api/v1/admin/risk-params", svc.HandleUpdateRiskParams)
	r.Post("/api/v1/admin/pause", svc.HandlePause)
	r.Post("/api/v1/admin/unwind", svc.HandleUnwindAll)

	return svc, sim, r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func contribute(t *testing.T, router chi.Router, depositor string, amount, target float64) vault.ContributeResult {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/position/contribute", map[string]any{
		"depositor":       depositor,
		"amount":          d(amount),
		"target_leverage": d(target),
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("contribute: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var res vault.ContributeResult
	json.Unmarshal(w.Body.Bytes(), &res)
	return res
}

func snapshot(t *testing.T, router chi.Router) model.PositionSnapshot {
	t.Helper()
	w := doJSON(t, router, "GET", "/api/v1/position", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var snap model.PositionSnapshot
	json.Unmarshal(w.Body.Bytes(), &snap)
	return snap
}

// --- Contribution tests ---

func TestContribute_BuildsLeveredPosition(t *testing.T) {
	_, _, router := newTestEnv(t)

	res := contribute(t, router, "alice", 100, 3)

	if !res.UnitsMinted.Equal(d(100)) {
		t.Errorf("first contribution mints 1:1, got %s", res.UnitsMinted)
	}
	if res.PricingMode != "bootstrap" {
		t.Errorf("expected bootstrap pricing, got %s", res.PricingMode)
	}
	if res.HealthFactor.LessThan(d(1.1)) {
		t.Errorf("health factor below post-loop floor: %s", res.HealthFactor)
	}

	snap := snapshot(t, router)
	if snap.CollateralValue.LessThan(d(295)) || snap.CollateralValue.GreaterThan(d(301)) {
		t.Errorf("expected collateral near 300, got %s", snap.CollateralValue)
	}
	if snap.LeverageRatio.LessThan(d(2.9)) || snap.LeverageRatio.GreaterThan(d(3.1)) {
		t.Errorf("expected leverage near 3.0, got %s", snap.LeverageRatio)
	}
	if !snap.TotalUnits.Equal(d(100)) {
		t.Errorf("expected 100 units outstanding, got %s", snap.TotalUnits)
	}
}

func TestContribute_SecondDepositorPricedAtNAV(t *testing.T) {
	svc, _, router := newTestEnv(t)

	contribute(t, router, "alice", 100, 3)
	res := contribute(t, router, "bob", 100, 3)

	if res.PricingMode != "proportional" {
		t.Errorf("expected proportional pricing, got %s", res.PricingMode)
	}
	// Swap fees eroded NAV below 100, so bob's 100 buys slightly more units
	// than alice's did.
	if res.UnitsMinted.LessThanOrEqual(d(100)) || res.UnitsMinted.GreaterThan(d(105)) {
		t.Errorf("expected bob's units slightly above 100, got %s", res.UnitsMinted)
	}

	total := svc.Balance("alice").Add(svc.Balance("bob"))
	snap := snapshot(t, router)
	if !snap.TotalUnits.Equal(total) {
		t.Errorf("unit supply %s != sum of balances %s", snap.TotalUnits, total)
	}
}

func TestContribute_Rejections(t *testing.T) {
	svc, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/position/contribute", map[string]any{
		"depositor": "alice", "amount": d(0),
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("zero amount: expected 400, got %d", w.Code)
	}

	w = doJSON(t, router, "POST", "/api/v1/position/contribute", map[string]any{
		"depositor": "alice", "amount": d(100), "target_leverage": d(10),
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("excessive leverage: expected 400, got %d", w.Code)
	}

	if err := svc.SetPaused(adminKey, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	w = doJSON(t, router, "POST", "/api/v1/position/contribute", map[string]any{
		"depositor": "alice", "amount": d(100),
	}, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("paused: expected 409, got %d", w.Code)
	}
}

func TestContribute_DefaultTargetLeverage(t *testing.T) {
	_, _, router := newTestEnv(t)

	// Zero target requests the configured 3.0.
	res := contribute(t, router, "alice", 100, 0)
	if res.LeverageRatio.LessThan(d(2.9)) {
		t.Errorf("expected default target near 3.0, got %s", res.LeverageRatio)
	}
}

// --- Withdrawal tests ---

func TestWithdraw_Partial(t *testing.T) {
	svc, _, router := newTestEnv(t)
	contribute(t, router, "alice", 100, 3)

	w := doJSON(t, router, "POST", "/api/v1/position/withdraw", map[string]any{
		"depositor": "alice", "units": d(50),
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var res vault.WithdrawResult
	json.Unmarshal(w.Body.Bytes(), &res)

	// Half the NAV (~99.4) minus round-trip swap fees.
	if res.Payout.LessThan(d(45)) || res.Payout.GreaterThan(d(51)) {
		t.Errorf("expected payout near half NAV, got %s", res.Payout)
	}
	if !svc.Balance("alice").Equal(d(50)) {
		t.Errorf("expected 50 units remaining, got %s", svc.Balance("alice"))
	}

	snap := snapshot(t, router)
	if snap.HealthFactor.LessThan(d(1.1)) {
		t.Errorf("withdrawal degraded health below floor: %s", snap.HealthFactor)
	}
}

func TestWithdraw_InsufficientUnits(t *testing.T) {
	svc, _, router := newTestEnv(t)
	contribute(t, router, "alice", 100, 3)

	w := doJSON(t, router, "POST", "/api/v1/position/withdraw", map[string]any{
		"depositor": "alice", "units": d(150),
	}, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	// The failed withdrawal must not touch the ledger.
	if !svc.Balance("alice").Equal(d(100)) {
		t.Errorf("balance changed on failed withdrawal: %s", svc.Balance("alice"))
	}
}

func TestWithdraw_AllClosesPosition(t *testing.T) {
	_, _, router := newTestEnv(t)
	contribute(t, router, "alice", 100, 3)

	w := doJSON(t, router, "POST", "/api/v1/position/withdraw", map[string]any{
		"depositor": "alice", "units": d(100),
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var res vault.WithdrawResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if res.Payout.LessThan(d(95)) || res.Payout.GreaterThan(d(100)) {
		t.Errorf("full exit should return roughly the NAV, got %s", res.Payout)
	}

	snap := snapshot(t, router)
	if !snap.TotalUnits.IsZero() {
		t.Errorf("expected zero units outstanding, got %s", snap.TotalUnits)
	}
	if !snap.DebtValue.IsZero() {
		t.Errorf("expected zero debt, got %s", snap.DebtValue)
	}
	if !snap.CollateralValue.IsZero() {
		t.Errorf("expected zero collateral, got %s", snap.CollateralValue)
	}
}

// --- Rebalance tests ---

func TestRebalance_NoopWhenHealthy(t *testing.T) {
	_, _, router := newTestEnv(t)
	contribute(t, router, "alice", 100, 3)

	for i := 0; i < 2; i++ {
		w := doJSON(t, router, "POST", "/api/v1/position/rebalance", nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("rebalance: expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp map[string]string
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp["debt_repaid"] != "0" {
			t.Errorf("healthy position should be a no-op, repaid %s", resp["debt_repaid"])
		}
	}
}

func TestRebalance_RestoresTargetHealth(t *testing.T) {
	p := testParams()
	p.TargetLeverageRatio = d(2)
	p.MinHealthFactor = d(1.3)
	p.TargetHealthFactorAfterLoop = d(1.5)
	p.MaxLoopIterations = 10
	svc, sim, router := newTestEnvWithParams(t, p)
	ctx := context.Background()

	contribute(t, router, "alice", 100, 2)

	// Degrade the position with an out-of-band borrow against the account.
	if err := sim.Borrow(ctx, "USDC", d(50), "engine"); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	st, _ := sim.GetAccountState(ctx, "engine")
	if st.HealthFactor.GreaterThanOrEqual(d(1.3)) {
		t.Fatalf("setup: expected degraded health, got %s", st.HealthFactor)
	}

	repaid, err := svc.Rebalance(ctx)
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if !repaid.IsPositive() {
		t.Fatal("expected debt repayment")
	}

	after, _ := sim.GetAccountState(ctx, "engine")
	if after.HealthFactor.LessThan(d(1.45)) {
		t.Errorf("expected health restored near 1.5, got %s", after.HealthFactor)
	}

	// Second call finds a healthy position and does nothing.
	repaid, err = svc.Rebalance(ctx)
	if err != nil {
		t.Fatalf("second rebalance: %v", err)
	}
	if !repaid.IsZero() {
		t.Errorf("expected idempotent no-op, repaid %s", repaid)
	}
}

func TestRebalance_WorksWhilePaused(t *testing.T) {
	svc, _, router := newTestEnv(t)
	contribute(t, router, "alice", 100, 3)

	if err := svc.SetPaused(adminKey, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	w := doJSON(t, router, "POST", "/api/v1/position/rebalance", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("rebalance must work while paused, got %d", w.Code)
	}

	// Withdrawals are never blocked by pause either.
	w = doJSON(t, router, "POST", "/api/v1/position/withdraw", map[string]any{
		"depositor": "alice", "units": d(10),
	}, nil)
	if w.Code != http.StatusOK {
		t.Errorf("withdraw must work while paused, got %d: %s", w.Code, w.Body.String())
	}
}

// --- DCA tests ---

func configureDCA(t *testing.T, router chi.Router, depositor string, total, per float64, maxLTV float64) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, router, "POST", "/api/v1/dca", map[string]any{
		"depositor":            depositor,
		"total_amount":         d(total),
		"amount_per_execution": d(per),
		"frequency_secs":       3600,
		"max_ltv":              d(maxLTV),
		"min_health_factor":    d(1.2),
	}, nil)
}

func TestDCA_Lifecycle(t *testing.T) {
	svc, _, router := newTestEnv(t)
	contribute(t, router, "alice", 100, 3)

	if w := configureDCA(t, router, "bob", 120, 50, 0.7); w.Code != http.StatusCreated {
		t.Fatalf("configure: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// First execution is due immediately.
	w := doJSON(t, router, "POST", "/api/v1/dca/bob/execute", nil, map[string]string{"X-Trigger-Key": triggerKey})
	if w.Code != http.StatusOK {
		t.Fatalf("execute: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res vault.DCAExecuteResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.ExecutedAmount.Equal(d(50)) {
		t.Errorf("expected 50 executed, got %s", res.ExecutedAmount)
	}
	if res.Completed {
		t.Error("schedule should not complete after one tranche")
	}
	if !svc.Balance("bob").IsPositive() {
		t.Error("execution should mint units to the schedule owner")
	}

	// The interval has not elapsed.
	w = doJSON(t, router, "POST", "/api/v1/dca/bob/execute", nil, map[string]string{"X-Trigger-Key": triggerKey})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 before the interval elapses, got %d: %s", w.Code, w.Body.String())
	}

	// Cancel refunds the unexecuted remainder.
	w = doJSON(t, router, "DELETE", "/api/v1/dca/bob", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["refund"] != "70" {
		t.Errorf("expected refund 70, got %s", resp["refund"])
	}

	if w := doJSON(t, router, "GET", "/api/v1/dca/bob", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("cancelled schedule should 404, got %d", w.Code)
	}
}

func TestDCA_MintPricedOnConvertedValue(t *testing.T) {
	svc, _, router := newTestEnv(t)
	if w := configureDCA(t, router, "bob", 120, 50, 0.7); w.Code != http.StatusCreated {
		t.Fatalf("configure: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w := doJSON(t, router, "POST", "/api/v1/dca/bob/execute", nil, map[string]string{"X-Trigger-Key": triggerKey})
	if w.Code != http.StatusOK {
		t.Fatalf("execute: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// The 50 tranche passes the 30 bps swap and enters as 49.85. Units are
	// priced on what actually landed, so an execution and a direct
	// contribution of equal entering value mint the same units.
	var res vault.DCAExecuteResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.UnitsMinted.Equal(d(49.85)) {
		t.Errorf("expected 49.85 units for the converted tranche, got %s", res.UnitsMinted)
	}
	if !svc.Balance("bob").Equal(d(49.85)) {
		t.Errorf("expected balance 49.85, got %s", svc.Balance("bob"))
	}
}

func TestDCA_TriggerAuth(t *testing.T) {
	_, _, router := newTestEnv(t)
	configureDCA(t, router, "bob", 120, 50, 0.7)

	w := doJSON(t, router, "POST", "/api/v1/dca/bob/execute", nil, map[string]string{"X-Trigger-Key": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestDCA_PausedBlocksExecution(t *testing.T) {
	svc, _, router := newTestEnv(t)
	if w := configureDCA(t, router, "bob", 120, 50, 0.7); w.Code != http.StatusCreated {
		t.Fatalf("configure: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if err := svc.SetPaused(adminKey, true); err != nil {
		t.Fatalf("pause: %v", err)
	}

	w := doJSON(t, router, "POST", "/api/v1/dca/bob/execute", nil, map[string]string{"X-Trigger-Key": triggerKey})
	if w.Code != http.StatusConflict {
		t.Fatalf("paused engine must refuse DCA execution, got %d: %s", w.Code, w.Body.String())
	}

	// The refusal leaves the schedule ready for after the unpause.
	sched, ok := svc.DCAProgress("bob")
	if !ok || !sched.Active {
		t.Fatalf("schedule should survive a paused refusal, ok=%v", ok)
	}
	if !sched.ExecutedAmount.IsZero() {
		t.Errorf("paused refusal mutated the schedule: executed %s", sched.ExecutedAmount)
	}
	if !svc.Balance("bob").IsZero() {
		t.Errorf("paused refusal minted units: %s", svc.Balance("bob"))
	}
}

func TestDCA_RiskLimitDefersExecution(t *testing.T) {
	_, _, router := newTestEnv(t)
	contribute(t, router, "alice", 100, 3)

	// Current LTV after a 3x build sits near 0.67; a 0.5 ceiling refuses.
	if w := configureDCA(t, router, "bob", 120, 50, 0.5); w.Code != http.StatusCreated {
		t.Fatalf("configure: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w := doJSON(t, router, "POST", "/api/v1/dca/bob/execute", nil, map[string]string{"X-Trigger-Key": triggerKey})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 risk deferral, got %d: %s", w.Code, w.Body.String())
	}

	// The refusal is a deferral: the schedule is intact for a safer retry.
	w = doJSON(t, router, "GET", "/api/v1/dca/bob", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected schedule to survive, got %d", w.Code)
	}
	var sched model.DCASchedule
	json.Unmarshal(w.Body.Bytes(), &sched)
	if !sched.Active || !sched.ExecutedAmount.IsZero() {
		t.Errorf("deferred schedule mutated: active=%v executed=%s", sched.Active, sched.ExecutedAmount)
	}
}

func TestDCA_ConfigValidation(t *testing.T) {
	_, _, router := newTestEnv(t)

	// Per-execution exceeds total.
	if w := configureDCA(t, router, "bob", 50, 120, 0.7); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	// Duplicate active schedule.
	configureDCA(t, router, "bob", 120, 50, 0.7)
	if w := configureDCA(t, router, "bob", 120, 50, 0.7); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate schedule, got %d", w.Code)
	}
}

// --- Admin tests ---

func TestAdmin_UpdateRiskParams(t *testing.T) {
	svc, _, router := newTestEnv(t)

	p := testParams()
	p.TargetLeverageRatio = d(2.5)

	w := doJSON(t, router, "PUT", "/api/v1/admin/risk-params", p, map[string]string{"X-Admin-Key": adminKey})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !svc.RiskParams().TargetLeverageRatio.Equal(d(2.5)) {
		t.Errorf("params not applied: %s", svc.RiskParams().TargetLeverageRatio)
	}

	p.SafetyMargin = d(2)
	w = doJSON(t, router, "PUT", "/api/v1/admin/risk-params", p, map[string]string{"X-Admin-Key": adminKey})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid params: expected 400, got %d", w.Code)
	}

	w = doJSON(t, router, "PUT", "/api/v1/admin/risk-params", testParams(), map[string]string{"X-Admin-Key": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAdmin_UnwindAll(t *testing.T) {
	_, _, router := newTestEnv(t)
	contribute(t, router, "alice", 100, 3)

	w := doJSON(t, router, "POST", "/api/v1/admin/unwind", nil, map[string]string{"X-Admin-Key": adminKey})
	if w.Code != http.StatusOK {
		t.Fatalf("unwind: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	snap := snapshot(t, router)
	if !snap.DebtValue.IsZero() {
		t.Errorf("expected zero debt after unwind, got %s", snap.DebtValue)
	}
	if !snap.HealthFactor.Equal(model.MaxHealthFactor) {
		t.Errorf("debt-free position should report max health, got %s", snap.HealthFactor)
	}
	// Ownership is untouched; depositors exit on their own schedule.
	if !snap.TotalUnits.Equal(d(100)) {
		t.Errorf("unwind must not burn units, got %s", snap.TotalUnits)
	}
}

// --- Persistence tests ---

func TestEventsRecorded(t *testing.T) {
	_, _, router := newTestEnv(t)
	contribute(t, router, "alice", 100, 3)
	doJSON(t, router, "POST", "/api/v1/position/withdraw", map[string]any{
		"depositor": "alice", "units": d(10),
	}, nil)

	w := doJSON(t, router, "GET", "/api/v1/events?depositor=alice", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("events: expected 200, got %d", w.Code)
	}
	var events []model.Event
	json.Unmarshal(w.Body.Bytes(), &events)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	kinds := map[string]bool{}
	for _, e := range events {
		kinds[e.Kind] = true
	}
	if !kinds[model.EventContribute] || !kinds[model.EventWithdraw] {
		t.Errorf("missing event kinds: %v", kinds)
	}
}

func TestRehydration(t *testing.T) {
	ms := store.NewMemoryStore()
	sim := venue.NewSimVenue(d(0.8), d(0.85), 30)
	opts := vault.Options{
		Account:     "engine",
		BaseAsset:   "WETH",
		BorrowAsset: "USDC",
		AdminKey:    adminKey,
		TriggerKey:  triggerKey,
		Params:      testParams(),
	}
	ctx := context.Background()

	svc := vault.NewService(ms, sim, sim, sim, nil, opts)
	if _, err := svc.Contribute(ctx, "alice", d(100), d(3)); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	if _, err := svc.ConfigureDCA(ctx, "bob", d(120), d(50), time.Hour, d(0.7), d(1.2)); err != nil {
		t.Fatalf("configure dca: %v", err)
	}

	// A fresh process against the same store and venue.
	restarted := vault.NewService(ms, sim, sim, sim, nil, opts)
	if err := restarted.Rehydrate(ctx); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}

	if !restarted.Balance("alice").Equal(d(100)) {
		t.Errorf("expected alice's holding restored, got %s", restarted.Balance("alice"))
	}
	sched, ok := restarted.DCAProgress("bob")
	if !ok || !sched.Active {
		t.Fatalf("expected bob's schedule restored, ok=%v", ok)
	}
	if !sched.TotalAmount.Equal(d(120)) {
		t.Errorf("restored schedule total %s", sched.TotalAmount)
	}
}
