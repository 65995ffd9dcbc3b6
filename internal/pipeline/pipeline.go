// Package pipeline wires every stage into the single-shot tick and the
// bounded de-risk loop. One tick is one pass over the shared state
// directory under an exclusive lock; stages talk to each other only
// through the files they write.
package pipeline

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neuroxhq/neurox-oms/internal/broker"
	"github.com/neuroxhq/neurox-oms/internal/config"
	"github.com/neuroxhq/neurox-oms/internal/gateway"
	"github.com/neuroxhq/neurox-oms/internal/journal"
	"github.com/neuroxhq/neurox-oms/internal/ledger"
	"github.com/neuroxhq/neurox-oms/internal/oms"
	"github.com/neuroxhq/neurox-oms/internal/portfolio"
	"github.com/neuroxhq/neurox-oms/internal/risk"
	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// Pipeline owns one wired instance of every stage.
type Pipeline struct {
	cfg        config.Config
	store      *state.Store
	modes      *risk.ModeStore
	ledger     *ledger.Ledger
	builder    *portfolio.Builder
	evaluator  *risk.Evaluator
	planner    *risk.Planner
	deriskExec *risk.Executor
	gate       *gateway.Gateway
	issuer     *oms.Issuer
	openExec   *oms.OpenExecutor
	closer     *oms.Closer
	now        func() time.Time
}

// New wires a pipeline over cfg's state directory. The broker
// implementation follows the configured execution mode.
func New(cfg config.Config) (*Pipeline, error) {
	store, err := state.NewStore(cfg.State.Dir)
	if err != nil {
		return nil, err
	}
	modes := risk.NewModeStore(store)
	if err := modes.Ensure(); err != nil {
		return nil, err
	}

	mode := cfg.Broker.ExecMode()
	var brk broker.Broker
	if mode == models.Live {
		brk = broker.NewLive(cfg.Broker)
	} else {
		brk = broker.NewPlanOnly()
	}

	led := ledger.New(store)
	jrnl := journal.New(store)
	return &Pipeline{
		cfg:        cfg,
		store:      store,
		modes:      modes,
		ledger:     led,
		builder:    portfolio.NewBuilder(store, cfg.Risk.RiskFreeRate, cfg.Risk.DefaultIV),
		evaluator:  risk.NewEvaluator(store, modes, cfg.Risk.Limits()),
		planner:    risk.NewPlanner(store, cfg.Risk.Limits(), cfg.Risk.BufferPct, cfg.Risk.MaxContractsToClose),
		deriskExec: risk.NewExecutor(store),
		gate: gateway.New(store, cfg.Gate.MaxUnderlierSpreadPct,
			cfg.Risk.AccountEquity, cfg.Risk.MaxDefinedRiskPct, cfg.Risk.RiskFreeRate),
		issuer:   oms.NewIssuer(store, modes, mode),
		openExec: oms.NewOpenExecutor(store, jrnl, brk, mode != models.Live),
		closer:   oms.NewCloser(store, modes, led, mode, int64(cfg.OMS.IntentMaxAgeSec)),
		now:      time.Now,
	}, nil
}

// Store exposes the underlying state store for commands that inspect
// files directly.
func (p *Pipeline) Store() *state.Store { return p.store }

// Modes exposes the risk-mode store.
func (p *Pipeline) Modes() *risk.ModeStore { return p.modes }

// intents shapes the configured gate candidates for evaluation.
func (p *Pipeline) intents() map[string]models.VerticalIntent {
	out := make(map[string]models.VerticalIntent, len(p.cfg.Gate.Candidates))
	for _, c := range p.cfg.Gate.Candidates {
		out[c.Name] = models.VerticalIntent{
			Underlier:    c.Underlier,
			IsCall:       c.IsCall,
			KLong:        c.KLong,
			KShort:       c.KShort,
			DTEDays:      c.DTEDays,
			QtyRequested: c.QtyRequested,
			R:            p.cfg.Risk.RiskFreeRate,
			IVLong:       c.IVLong,
			IVShort:      c.IVShort,
			Tag:          c.Tag,
		}
	}
	return out
}

// stageOutcome is what each stage hands back to the step runner.
type stageOutcome struct {
	state  string
	reason string
}

type stage struct {
	name     string
	critical bool
	run      func() (stageOutcome, error)
}

// runStep executes one stage and classifies the outcome. A missing
// upstream file is a quiet NO_INPUT, not a failure; only a real error
// fails the step.
func (p *Pipeline) runStep(s stage) models.StepResult {
	t0 := p.now()
	res := models.StepResult{Name: s.name, Critical: s.critical}

	out, err := s.run()
	switch {
	case err == nil:
		res.OK = true
		res.State = out.state
		res.Reason = out.reason
	case errors.Is(err, state.ErrNotFound):
		res.OK = true
		res.State = models.StateNoInput
		res.Reason = err.Error()
	default:
		res.OK = false
		res.Reason = err.Error()
		log.Error().Err(err).Str("stage", s.name).Msg("Stage failed")
	}

	res.ElapsedMS = p.now().Sub(t0).Milliseconds()
	res.Result = "OK"
	if !res.OK {
		res.Result = "ERR"
	}
	return res
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{"portfolio.book", true, func() (stageOutcome, error) {
			_, err := p.ledger.BuildBook()
			return stageOutcome{state: models.StateDone}, err
		}},
		{"portfolio.greeks", true, func() (stageOutcome, error) {
			_, err := p.builder.Build()
			return stageOutcome{state: models.StateDone}, err
		}},
		{"risk.eval", true, func() (stageOutcome, error) {
			ev, err := p.evaluator.Evaluate()
			return stageOutcome{state: string(ev.ModeDecision), reason: ev.Reason}, err
		}},
		{"risk.derisk_plan", true, func() (stageOutcome, error) {
			plan, err := p.planner.Plan()
			return stageOutcome{state: plan.Status, reason: plan.Reason}, err
		}},
		{"risk.derisk_exec", true, func() (stageOutcome, error) {
			ex, err := p.deriskExec.Execute()
			return stageOutcome{state: ex.Status, reason: ex.Reason}, err
		}},
		{"gateway", true, func() (stageOutcome, error) {
			_, err := p.gate.Evaluate(p.intents())
			return stageOutcome{state: models.StateDone}, err
		}},
		{"oms.open", true, func() (stageOutcome, error) {
			st, err := p.issuer.Issue()
			return stageOutcome{state: st.State, reason: st.Reason}, err
		}},
		{"oms.open_exec", true, func() (stageOutcome, error) {
			st, err := p.openExec.Execute()
			return stageOutcome{state: st.State, reason: st.Reason}, err
		}},
		{"oms.close", true, func() (stageOutcome, error) {
			st, err := p.closer.Close()
			return stageOutcome{state: st.State, reason: st.Reason}, err
		}},
	}
}

// summarize takes the end-of-tick view of the shared files.
func (p *Pipeline) summarize() *models.TickSummary {
	sum := &models.TickSummary{
		OpenIntentPresent:  p.store.Exists(state.FileOpenIntent),
		CloseIntentPresent: p.store.Exists(state.FileCloseIntent),
	}
	var rm models.RiskModeState
	if err := p.store.ReadJSON(state.FileRiskMode, &rm); err == nil {
		sum.RiskMode = &rm
	}
	var gate models.GateOutput
	if err := p.store.ReadJSON(state.FileGateOut, &gate); err == nil {
		sum.GateOutPresent = true
		sum.GateOut = &gate
	}
	return sum
}

// Tick runs one full pass under the tick lock. The first failing
// critical stage halts the rest; the tick state is written regardless.
func (p *Pipeline) Tick() (models.TickState, error) {
	t0 := p.now()
	out := models.TickState{
		TS:    t0.UTC().Format(time.RFC3339),
		Steps: []models.StepResult{},
	}

	if err := p.store.AcquireLock(state.LockTick); err != nil {
		if errors.Is(err, state.ErrLockHeld) {
			out.State = models.StateLocked
			out.Reason = "ANOTHER_TICK_RUNNING"
			if werr := p.store.WriteJSON(state.FileTickState, out); werr != nil {
				return models.TickState{}, werr
			}
			return out, nil
		}
		return models.TickState{}, err
	}
	defer p.store.ReleaseLock(state.LockTick)

	out.OK = true
	for _, s := range p.stages() {
		res := p.runStep(s)
		out.Steps = append(out.Steps, res)
		if !res.OK && s.critical {
			out.OK = false
			out.HaltedBy = s.name
			break
		}
	}

	out.State = models.StateDone
	if !out.OK {
		out.State = models.StateHalt
	}
	out.Summary = p.summarize()
	out.ElapsedMS = p.now().Sub(t0).Milliseconds()
	if err := p.store.WriteJSON(state.FileTickState, out); err != nil {
		return models.TickState{}, err
	}
	return out, nil
}
