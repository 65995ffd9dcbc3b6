// Package oms holds the per-intent execution state machines: the open
// issuer, the open executor, the reduce-only close executor, the order
// poller and the vertical fill machine. Every run of every machine
// writes its outcome as a tagged state file; nothing here panics or
// returns broker failures as Go errors.
package oms

import (
	"fmt"
	"sort"
	"time"

	"github.com/neuroxhq/neurox-oms/internal/risk"
	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// Issuer turns the best gate candidate into an open intent, but only
// while the risk mode is NORMAL. In every other mode it deletes any
// intent already on disk, so a mode flip can never race an old open.
type Issuer struct {
	store *state.Store
	modes *risk.ModeStore
	mode  models.ExecMode
	now   func() time.Time
}

// NewIssuer returns an open-intent issuer.
func NewIssuer(store *state.Store, modes *risk.ModeStore, mode models.ExecMode) *Issuer {
	return &Issuer{store: store, modes: modes, mode: mode, now: time.Now}
}

// candidateScore ranks gate candidates: allowed first, then by room to
// size, penalized per rejection reason.
func candidateScore(c models.GateCandidate) float64 {
	base := 0.0
	if c.Allow {
		base = 1.0
	}
	return base*1000.0 + float64(c.Decision.MaxContracts)*10.0 - float64(len(c.Decision.Reasons))*50.0
}

// selectCandidate picks the highest-scoring candidate; names break ties
// so two runs over the same gate output always agree.
func selectCandidate(out map[string]models.GateCandidate) (string, *models.GateCandidate) {
	names := make([]string, 0, len(out))
	for name := range out {
		names = append(names, name)
	}
	sort.Strings(names)

	bestName := ""
	var best *models.GateCandidate
	bestScore := 0.0
	for _, name := range names {
		c := out[name]
		if s := candidateScore(c); best == nil || s > bestScore {
			bestName, best, bestScore = name, &c, s
		}
	}
	return bestName, best
}

func (i *Issuer) deleteStaleIntent() bool {
	if !i.store.Exists(state.FileOpenIntent) {
		return false
	}
	return i.store.Remove(state.FileOpenIntent) == nil
}

// Issue runs one issuer pass: select, audit, gate by risk mode, emit or
// clean up. The audit snapshot open_plan.json is written on every run
// regardless of outcome.
func (i *Issuer) Issue() (models.OmsOpenState, error) {
	t0 := i.now()
	rm := i.modes.Get()

	var gate models.GateOutput
	if err := i.store.ReadJSON(state.FileGateOut, &gate); err != nil {
		gate.Out = nil
	}
	candName, cand := selectCandidate(gate.Out)

	plan := models.OpenPlan{
		TS:        t0.UTC().Format(time.RFC3339),
		Source:    "gateway",
		Candidate: candName,
		RiskMode:  rm,
		Selected:  cand,
	}
	if err := i.store.WriteJSON(state.FileOpenPlan, plan); err != nil {
		return models.OmsOpenState{}, err
	}

	out := models.OmsOpenState{
		TS:       t0.UTC().Format(time.RFC3339),
		Mode:     i.mode,
		RiskMode: rm.Mode,
		State:    models.StateDone,
	}
	finish := func() (models.OmsOpenState, error) {
		out.ElapsedMS = i.now().Sub(t0).Milliseconds()
		if err := i.store.WriteJSON(state.FileOpenState, out); err != nil {
			return models.OmsOpenState{}, err
		}
		return out, nil
	}

	if !i.modes.AllowOpen() {
		out.DeletedStaleIntent = i.deleteStaleIntent()
		out.State = models.StateOpenBlocked
		out.Reason = fmt.Sprintf("RISK_MODE_%s_OPEN_BLOCKED:%s", rm.Mode, rm.Reason)
		return finish()
	}
	if cand == nil {
		out.DeletedStaleIntent = i.deleteStaleIntent()
		out.State = models.StateNoCandidate
		out.Reason = "NO_GATE_CANDIDATE"
		return finish()
	}
	out.Candidate = candName
	if !cand.Allow {
		out.DeletedStaleIntent = i.deleteStaleIntent()
		out.State = models.StateCandidateBlocked
		out.Reason = "CANDIDATE_NOT_ALLOWED"
		out.CandidateReasons = cand.Decision.Reasons
		return finish()
	}

	decision := cand.Decision
	intent := models.OpenIntent{
		TS:        t0.UTC().Format(time.RFC3339),
		Type:      models.IntentOpen,
		Mode:      i.mode,
		Candidate: candName,
		RiskMode:  rm,
		OrderPlan: cand.OrderPlan,
		Decision:  &decision,
	}
	if err := i.store.WriteJSON(state.FileOpenIntent, intent); err != nil {
		return models.OmsOpenState{}, err
	}
	out.OpenIntentWritten = true
	return finish()
}
