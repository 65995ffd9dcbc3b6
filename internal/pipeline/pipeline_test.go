package pipeline

import (
	"testing"

	"github.com/neuroxhq/neurox-oms/internal/config"
	"github.com/neuroxhq/neurox-oms/internal/ledger"
	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

func f(v float64) *float64 { return &v }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		State: config.StateConfig{Dir: t.TempDir()},
		Risk: config.RiskConfig{
			MaxAbsDelta:         200,
			MaxAbsGamma:         10,
			MaxAbsVega:          20000,
			BufferPct:           0.90,
			MaxContractsToClose: 500,
			DefaultIV:           0.25,
			RiskFreeRate:        0.04,
			AccountEquity:       10000000,
			MaxDefinedRiskPct:   0.02,
			DeriskLoopRounds:    5,
		},
		Gate: config.GateConfig{
			MaxUnderlierSpreadPct: 1.0,
			Candidates: []config.GateCandidate{{
				Name: "qqq_vertical", Underlier: "QQQ", IsCall: true,
				KLong: 600, KShort: 610, DTEDays: 30, QtyRequested: 10,
				IVLong: 0.22, IVShort: 0.22, Tag: "GATE_QQQ",
			}},
		},
		Broker: config.BrokerConfig{Mode: "PLAN_ONLY"},
		OMS:    config.OMSConfig{IntentMaxAgeSec: 300, FillMaxSeconds: 60},
	}
}

func seedMarket(t *testing.T, store *state.Store) {
	t.Helper()
	err := store.WriteJSON(state.FileMarket, models.MarketState{
		TS: "2026-08-24T12:00:00Z",
		Symbols: map[string]models.UnderlierQuote{
			"QQQ": {Spot: f(601), SpotSrc: "MID", Bid: f(600.9), Ask: f(601.1)},
		},
	})
	if err != nil {
		t.Fatalf("Failed to seed market state: %v", err)
	}
}

func TestTickCleanRun(t *testing.T) {
	p, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	seedMarket(t, p.Store())

	out, err := p.Tick()
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if !out.OK || out.State != models.StateDone || out.HaltedBy != "" {
		t.Fatalf("Expected clean tick, got %+v", out)
	}
	if len(out.Steps) != 9 {
		t.Fatalf("Expected 9 steps, got %d: %+v", len(out.Steps), out.Steps)
	}
	for _, s := range out.Steps {
		if !s.OK || s.Result != "OK" {
			t.Errorf("Step %s not OK: %+v", s.Name, s)
		}
	}

	byName := map[string]models.StepResult{}
	for _, s := range out.Steps {
		byName[s.Name] = s
	}
	if byName["risk.eval"].State != string(models.ModeNormal) {
		t.Errorf("Empty book must evaluate NORMAL: %+v", byName["risk.eval"])
	}
	if byName["oms.open"].State != models.StateDone {
		t.Errorf("Open issuer should emit an intent: %+v", byName["oms.open"])
	}
	if byName["oms.open_exec"].State != models.StatePlanTranslated {
		t.Errorf("Plan-only exec should translate: %+v", byName["oms.open_exec"])
	}
	if byName["oms.close"].State != models.StateNoIntent {
		t.Errorf("No close intent expected: %+v", byName["oms.close"])
	}

	if out.Summary == nil || !out.Summary.GateOutPresent {
		t.Fatal("Summary must carry gate output")
	}
	if out.Summary.OpenIntentPresent {
		t.Error("Intent was consumed, summary must not show it")
	}
	if out.Summary.RiskMode == nil || out.Summary.RiskMode.Mode != models.ModeNormal {
		t.Errorf("Summary risk mode wrong: %+v", out.Summary.RiskMode)
	}

	// Tick lock must be released for the next run.
	if _, err := p.Tick(); err != nil {
		t.Fatalf("Second tick failed: %v", err)
	}
}

func TestTickLocked(t *testing.T) {
	p, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := p.Store().AcquireLock(state.LockTick); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer p.Store().ReleaseLock(state.LockTick)

	out, err := p.Tick()
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if out.OK || out.State != models.StateLocked || out.Reason != "ANOTHER_TICK_RUNNING" {
		t.Errorf("Expected LOCKED tick, got %+v", out)
	}
	if len(out.Steps) != 0 {
		t.Error("A locked tick must run nothing")
	}
}

func TestTickWithoutMarketData(t *testing.T) {
	p, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	out, err := p.Tick()
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if !out.OK {
		t.Fatalf("Missing market data must not halt the tick: %+v", out)
	}
	byName := map[string]models.StepResult{}
	for _, s := range out.Steps {
		byName[s.Name] = s
	}
	// The gateway rejects the candidate, so the issuer blocks it.
	if byName["oms.open"].State != models.StateCandidateBlocked {
		t.Errorf("Expected CANDIDATE_BLOCKED, got %+v", byName["oms.open"])
	}
}

func TestDeriskLoopSettlesWhenClean(t *testing.T) {
	p, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	seedMarket(t, p.Store())
	if _, err := p.ledger.BuildBook(); err != nil {
		t.Fatalf("BuildBook failed: %v", err)
	}

	rounds, err := p.DeriskLoop()
	if err != nil {
		t.Fatalf("DeriskLoop failed: %v", err)
	}
	if len(rounds) != 1 || rounds[0].Mode != models.ModeNormal {
		t.Errorf("Clean book must settle in one round, got %+v", rounds)
	}
}

func TestDeriskLoopBoundedUnderHalt(t *testing.T) {
	p, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	seedMarket(t, p.Store())

	// A large long call position breaches the hard limits outright.
	led := ledger.New(p.Store())
	if err := led.RecordFill("QQQ270917C00600000", 30, models.Buy, 45.0, "SEED"); err != nil {
		t.Fatalf("RecordFill failed: %v", err)
	}
	if _, err := led.BuildBook(); err != nil {
		t.Fatalf("BuildBook failed: %v", err)
	}

	rounds, err := p.DeriskLoop()
	if err != nil {
		t.Fatalf("DeriskLoop failed: %v", err)
	}
	// Closes are blocked while the mode is HALT, so the loop plans every
	// round and exits at the cap instead of spinning.
	if len(rounds) != 5 {
		t.Fatalf("Expected the round cap, got %d rounds: %+v", len(rounds), rounds)
	}
	for _, r := range rounds {
		if r.Mode != models.ModeHalt {
			t.Errorf("Round %d left HALT unexpectedly: %+v", r.Round, r)
		}
		if r.CloseState != models.StateHalt {
			t.Errorf("Round %d close should be mode-blocked: %+v", r.Round, r)
		}
	}
	if !p.Store().Exists(state.FileCloseIntent) {
		t.Error("The blocked close intent must remain for the operator")
	}
}
