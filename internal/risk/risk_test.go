package risk

import (
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

var testLimits = models.Limits{MaxAbsDelta: 200, MaxAbsGamma: 10, MaxAbsVega: 20000}

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func writeGreeks(t *testing.T, store *state.Store, g models.PortfolioGreeks) {
	t.Helper()
	if g.TS == "" {
		g.TS = "2026-08-24T12:00:00Z"
	}
	if err := store.WriteJSON(state.FileGreeks, g); err != nil {
		t.Fatalf("Failed to write greeks: %v", err)
	}
}

func TestModeStoreBoot(t *testing.T) {
	store := newTestStore(t)
	m := NewModeStore(store)

	st := m.Get()
	if st.Mode != models.ModeNormal || st.Reason != "boot" {
		t.Errorf("Expected NORMAL/boot bootstrap, got %+v", st)
	}
	if !m.AllowOpen() || !m.AllowClose() {
		t.Error("NORMAL must allow open and close")
	}
}

func TestModeStorePermissions(t *testing.T) {
	store := newTestStore(t)
	m := NewModeStore(store)

	m.Set(models.ModeDegraded, "x")
	if m.AllowOpen() {
		t.Error("DEGRADED must not allow open")
	}
	if !m.AllowClose() {
		t.Error("DEGRADED must allow close")
	}

	m.Set(models.ModeHalt, "y")
	if m.AllowOpen() || m.AllowClose() {
		t.Error("HALT must block everything")
	}
}

func TestModeStoreCoercesBadWrites(t *testing.T) {
	store := newTestStore(t)
	m := NewModeStore(store)

	m.Set("WIDE_OPEN", "typo")
	if got := m.Get().Mode; got != models.ModeDegraded {
		t.Errorf("Bad mode writes must coerce to DEGRADED, got %s", got)
	}
}

func TestModeStoreUnknownOnMangledFile(t *testing.T) {
	store := newTestStore(t)
	m := NewModeStore(store)
	m.Set(models.ModeNormal, "ok")

	if err := os.WriteFile(store.Path(state.FileRiskMode), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("Failed to mangle mode file: %v", err)
	}
	st := m.Get()
	if st.Mode != models.ModeUnknown {
		t.Errorf("Mangled file must read UNKNOWN, got %s", st.Mode)
	}
	if m.AllowOpen() || m.AllowClose() {
		t.Error("UNKNOWN must behave like HALT")
	}

	// A recognized shape with an unrecognized value also reads UNKNOWN.
	os.WriteFile(store.Path(state.FileRiskMode), []byte(`{"ts":"t","mode":"PANIC","reason":"r"}`), 0o644)
	if got := m.Get().Mode; got != models.ModeUnknown {
		t.Errorf("Unrecognized mode value must read UNKNOWN, got %s", got)
	}
}

func TestEvaluateNormal(t *testing.T) {
	store := newTestStore(t)
	m := NewModeStore(store)
	e := NewEvaluator(store, m, testLimits)
	e.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }

	writeGreeks(t, store, models.PortfolioGreeks{
		Positions: []models.PositionGreeks{{Symbol: "X", NetQty: 1, IVSrc: models.IVNewton}},
		Totals:    models.GreeksTotals{Delta: 50, Gamma: 2, Vega: 1000, Theta: -300},
	})

	eval, err := e.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if eval.ModeDecision != models.ModeNormal || eval.Reason != "OK" {
		t.Errorf("Expected NORMAL/OK, got %s/%s", eval.ModeDecision, eval.Reason)
	}
	if m.Get().Mode != models.ModeNormal {
		t.Error("Mode file not updated to NORMAL")
	}
}

func TestEvaluateHaltOnBreach(t *testing.T) {
	store := newTestStore(t)
	m := NewModeStore(store)
	e := NewEvaluator(store, m, testLimits)

	writeGreeks(t, store, models.PortfolioGreeks{
		Totals: models.GreeksTotals{Delta: -250, Gamma: 12, Vega: 5000},
	})

	eval, err := e.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if eval.ModeDecision != models.ModeHalt {
		t.Fatalf("Expected HALT, got %s", eval.ModeDecision)
	}
	if len(eval.Breaches) != 2 {
		t.Fatalf("Expected 2 breaches, got %v", eval.Breaches)
	}
	if eval.Breaches[0] != "DELTA_LIMIT 250.00 > 200.0" {
		t.Errorf("Unexpected delta breach string: %q", eval.Breaches[0])
	}
	if eval.Breaches[1] != "GAMMA_LIMIT 12.00 > 10.0" {
		t.Errorf("Unexpected gamma breach string: %q", eval.Breaches[1])
	}
	if eval.Reason != strings.Join(eval.Breaches, " | ") {
		t.Errorf("Reason must join breaches: %q", eval.Reason)
	}
	// Signed totals survive alongside the absolute view.
	if eval.Totals.Delta != -250 || eval.Totals.AbsDelta != 250 {
		t.Errorf("Totals mismatch: %+v", eval.Totals)
	}
}

func TestEvaluateDegradedOnFallbackIV(t *testing.T) {
	store := newTestStore(t)
	m := NewModeStore(store)
	e := NewEvaluator(store, m, testLimits)

	writeGreeks(t, store, models.PortfolioGreeks{
		Positions: []models.PositionGreeks{
			{Symbol: "A", NetQty: 1, IVSrc: models.IVNewton},
			{Symbol: "B", NetQty: -1, IVSrc: models.IVFallbackDefault},
		},
		Totals: models.GreeksTotals{Delta: 10},
	})

	eval, err := e.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if eval.ModeDecision != models.ModeDegraded || eval.Reason != "IV_FALLBACK_DEFAULT_PRESENT" {
		t.Errorf("Expected DEGRADED fallback downgrade, got %s/%s", eval.ModeDecision, eval.Reason)
	}
	if !eval.IVFallbackPresent {
		t.Error("iv_fallback_present not set")
	}
}

func TestEvaluateBreachWinsOverFallback(t *testing.T) {
	store := newTestStore(t)
	m := NewModeStore(store)
	e := NewEvaluator(store, m, testLimits)

	writeGreeks(t, store, models.PortfolioGreeks{
		Positions: []models.PositionGreeks{{Symbol: "A", NetQty: 1, IVSrc: models.IVFallbackDefault}},
		Totals:    models.GreeksTotals{Vega: 25000},
	})

	eval, _ := e.Evaluate()
	if eval.ModeDecision != models.ModeHalt {
		t.Errorf("Breach must outrank fallback downgrade, got %s", eval.ModeDecision)
	}
}

func TestPlanNoActionWithinTarget(t *testing.T) {
	store := newTestStore(t)
	p := NewPlanner(store, testLimits, 0.90, 500)

	writeGreeks(t, store, models.PortfolioGreeks{
		Totals: models.GreeksTotals{Delta: 100, Gamma: 5, Vega: 10000},
	})

	plan, err := p.Plan()
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Status != PlanNoAction || plan.Reason != "WITHIN_TARGET_LIMITS" {
		t.Errorf("Expected NO_ACTION, got %+v", plan)
	}
	if len(plan.Actions) != 0 {
		t.Errorf("NO_ACTION plan must carry no actions: %+v", plan.Actions)
	}
	if plan.TargetLimits.MaxAbsDelta != 180 {
		t.Errorf("Target limits not buffered: %+v", plan.TargetLimits)
	}
}

func TestPlanClosesTowardTarget(t *testing.T) {
	store := newTestStore(t)
	p := NewPlanner(store, testLimits, 0.90, 500)

	// One long position carrying all the vega excess: 10 contracts at
	// 3000 vega each. Target band allows 18000.
	writeGreeks(t, store, models.PortfolioGreeks{
		Positions: []models.PositionGreeks{
			{Symbol: "QQQ260320C00600000", NetQty: 10, Delta: 500, Gamma: 5, Vega: 30000},
		},
		Totals: models.GreeksTotals{Delta: 500, Gamma: 5, Vega: 30000},
	})

	plan, err := p.Plan()
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Status != PlanOK {
		t.Fatalf("Expected OK, got %s", plan.Status)
	}
	if len(plan.Actions) != 1 {
		t.Fatalf("Expected one aggregated action, got %+v", plan.Actions)
	}
	a := plan.Actions[0]
	if a.CloseSide != models.Sell {
		t.Errorf("Long position must close with SELL, got %s", a.CloseSide)
	}
	// Needs vega <= 18000 and delta <= 180: delta binds harder
	// (50/contract, start 500), requiring 7 closes.
	if a.Qty != 7 {
		t.Errorf("Expected 7 contracts closed, got %d", a.Qty)
	}
	if math.Abs(plan.EndTotals.Vega-9000) > 1e-9 || math.Abs(plan.EndTotals.Delta-150) > 1e-9 {
		t.Errorf("Unexpected end totals: %+v", plan.EndTotals)
	}
}

func TestPlanShortPositionClosesWithBuy(t *testing.T) {
	store := newTestStore(t)
	p := NewPlanner(store, testLimits, 0.90, 500)

	writeGreeks(t, store, models.PortfolioGreeks{
		Positions: []models.PositionGreeks{
			{Symbol: "QQQ260320C00610000", NetQty: -10, Delta: -500, Gamma: -5, Vega: -30000},
		},
		Totals: models.GreeksTotals{Delta: -500, Gamma: -5, Vega: -30000},
	})

	plan, err := p.Plan()
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(plan.Actions) != 1 || plan.Actions[0].CloseSide != models.Buy {
		t.Errorf("Short position must close with BUY, got %+v", plan.Actions)
	}
}

func TestPlanMonotonicity(t *testing.T) {
	store := newTestStore(t)
	p := NewPlanner(store, testLimits, 0.90, 500)

	writeGreeks(t, store, models.PortfolioGreeks{
		Positions: []models.PositionGreeks{
			{Symbol: "A", NetQty: 8, Delta: 400, Gamma: 8, Vega: 24000},
			{Symbol: "B", NetQty: -4, Delta: -100, Gamma: -2, Vega: -2000},
		},
		Totals: models.GreeksTotals{Delta: 300, Gamma: 6, Vega: 22000},
	})

	plan, err := p.Plan()
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	// Every projected excess must shrink or hold, never grow.
	for _, pair := range [][2]float64{
		{math.Abs(plan.StartTotals.Delta), math.Abs(plan.EndTotals.Delta)},
		{math.Abs(plan.StartTotals.Gamma), math.Abs(plan.EndTotals.Gamma)},
		{math.Abs(plan.StartTotals.Vega), math.Abs(plan.EndTotals.Vega)},
	} {
		if pair[1] > pair[0]+1e-9 {
			t.Errorf("Projected magnitude grew: %v -> %v", pair[0], pair[1])
		}
	}
}

func TestPlanBudgetYieldsPartial(t *testing.T) {
	store := newTestStore(t)
	p := NewPlanner(store, testLimits, 0.90, 3) // tiny contract budget

	writeGreeks(t, store, models.PortfolioGreeks{
		Positions: []models.PositionGreeks{
			{Symbol: "A", NetQty: 100, Delta: 5000, Gamma: 50, Vega: 300000},
		},
		Totals: models.GreeksTotals{Delta: 5000, Gamma: 50, Vega: 300000},
	})

	plan, err := p.Plan()
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Status != PlanPartial {
		t.Errorf("Expected PARTIAL under budget, got %s", plan.Status)
	}
	if plan.Actions[0].Qty != 3 {
		t.Errorf("Expected budget of 3 closes, got %d", plan.Actions[0].Qty)
	}
}

func TestExecutorWritesIntent(t *testing.T) {
	store := newTestStore(t)
	e := NewExecutor(store)

	bp := 0.90
	store.WriteJSON(state.FileDeriskPlan, models.DeriskPlan{
		TS:           "2026-08-24T12:00:00Z",
		Status:       PlanOK,
		HardLimits:   testLimits,
		TargetLimits: testLimits.Buffered(bp),
		BufferPct:    bp,
		EndTotals:    models.GreeksTotals{Delta: 100},
		Actions:      []models.DeriskAction{{Symbol: "A", CloseSide: models.Sell, Qty: 2}},
	})

	out, err := e.Execute()
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Status != ExecWroteIntent {
		t.Fatalf("Expected WROTE_INTENT, got %s", out.Status)
	}

	var intent models.CloseIntent
	if err := store.ReadJSON(state.FileCloseIntent, &intent); err != nil {
		t.Fatalf("Close intent not written: %v", err)
	}
	if intent.Type != models.IntentDeriskClose || intent.Mode != models.PlanOnly {
		t.Errorf("Unexpected intent header: %+v", intent)
	}
	if len(intent.Actions) != 1 || intent.Actions[0].Qty != 2 {
		t.Errorf("Actions not carried: %+v", intent.Actions)
	}
	if intent.ExpectedEndTotals == nil || intent.ExpectedEndTotals.Delta != 100 {
		t.Errorf("Expected end totals not carried: %+v", intent.ExpectedEndTotals)
	}
}

func TestExecutorDeletesStaleIntent(t *testing.T) {
	store := newTestStore(t)
	e := NewExecutor(store)

	store.WriteJSON(state.FileCloseIntent, models.CloseIntent{Type: models.IntentDeriskClose})
	store.WriteJSON(state.FileDeriskPlan, models.DeriskPlan{
		Status: PlanNoAction,
		Reason: "WITHIN_TARGET_LIMITS",
	})

	out, err := e.Execute()
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Status != ExecNoExec || !out.DeletedStaleIntent {
		t.Errorf("Expected NO_EXEC with stale intent deleted, got %+v", out)
	}
	if store.Exists(state.FileCloseIntent) {
		t.Error("Stale close intent still present")
	}
}

func TestMaxQtyWithLimits(t *testing.T) {
	base := models.GreeksTotals{Delta: 100, Gamma: 2, Vega: 5000}
	inc := models.GreeksTotals{Delta: 10, Gamma: 0.5, Vega: 1000}

	// Delta allows 10, gamma allows 16, vega allows 15: delta binds.
	if got := MaxQtyWithLimits(base, inc, testLimits, 500); got != 10 {
		t.Errorf("Expected 10, got %d", got)
	}
	if got := MaxQtyWithLimits(base, inc, testLimits, 4); got != 4 {
		t.Errorf("Cap must bind: expected 4, got %d", got)
	}

	over := models.GreeksTotals{Delta: 300}
	if got := MaxQtyWithLimits(over, inc, testLimits, 10); got != 0 {
		t.Errorf("Already-breached base must allow 0, got %d", got)
	}
}

func TestDeallocatorSizes(t *testing.T) {
	store := newTestStore(t)
	m := NewModeStore(store)
	d := NewDeallocator(store, m, testLimits)

	writeGreeks(t, store, models.PortfolioGreeks{
		Positions: []models.PositionGreeks{
			{Symbol: "LONG", NetQty: 2, Delta: 100, Gamma: 1, Vega: 4000},
			{Symbol: "SHORT", NetQty: -2, Delta: -60, Gamma: -0.6, Vega: -2400},
		},
		Totals: models.GreeksTotals{Delta: 40, Gamma: 0.4, Vega: 1600},
	})

	plan, err := d.Size("LONG", "SHORT", 100)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if plan.Status != DeallocOK {
		t.Fatalf("Expected OK, got %+v", plan)
	}
	// Per-contract rows: long {50,0.5,2000}, short {30,0.3,1200}, so one
	// spread adds {80,0.8,3200}. Delta binds: |40+80q| <= 200 -> q <= 2.
	if plan.AllowedQty != 2 {
		t.Errorf("Expected allowed qty 2, got %d", plan.AllowedQty)
	}
	if plan.Action != DeallocActionSetQty {
		t.Errorf("Expected SET_QTY_TO_ALLOWED, got %s", plan.Action)
	}

	st := m.Get()
	if st.Mode != models.ModeDegraded || st.Reason != "DEALLOC_ALLOWED_QTY=2" {
		t.Errorf("Expected DEGRADED with allowed qty reason, got %+v", st)
	}
}

func TestDeallocatorZeroAllowedHalts(t *testing.T) {
	store := newTestStore(t)
	m := NewModeStore(store)
	d := NewDeallocator(store, m, testLimits)

	writeGreeks(t, store, models.PortfolioGreeks{
		Positions: []models.PositionGreeks{
			{Symbol: "LONG", NetQty: 1, Delta: 100, Gamma: 1, Vega: 4000},
			{Symbol: "SHORT", NetQty: -1, Delta: -50, Gamma: -0.5, Vega: -2000},
		},
		Totals: models.GreeksTotals{Delta: 195, Gamma: 0.5, Vega: 2000},
	})

	plan, err := d.Size("LONG", "SHORT", 10)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if plan.AllowedQty != 0 {
		t.Fatalf("Expected 0 allowed, got %d", plan.AllowedQty)
	}
	st := m.Get()
	if st.Mode != models.ModeHalt || st.Reason != "DEALLOC_ZERO_ALLOWED" {
		t.Errorf("Expected HALT/DEALLOC_ZERO_ALLOWED, got %+v", st)
	}
}

func TestDeallocatorMissingLeg(t *testing.T) {
	store := newTestStore(t)
	m := NewModeStore(store)
	d := NewDeallocator(store, m, testLimits)

	writeGreeks(t, store, models.PortfolioGreeks{})

	plan, err := d.Size("LONG", "SHORT", 10)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if plan.Status != DeallocCannot || plan.Reason != "MISSING_LEG_GREEKS" {
		t.Errorf("Expected CANNOT_DEALLOC/MISSING_LEG_GREEKS, got %+v", plan)
	}
	if len(plan.Need) != 2 {
		t.Errorf("Need list must name both legs: %+v", plan.Need)
	}
}
