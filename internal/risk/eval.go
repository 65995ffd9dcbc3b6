package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// Evaluator decides the risk mode from portfolio greeks totals.
type Evaluator struct {
	store  *state.Store
	modes  *ModeStore
	limits models.Limits
	now    func() time.Time
}

// NewEvaluator returns an evaluator enforcing the given hard limits.
func NewEvaluator(store *state.Store, modes *ModeStore, limits models.Limits) *Evaluator {
	return &Evaluator{store: store, modes: modes, limits: limits, now: time.Now}
}

// ComputeBreaches checks the absolute totals against the limits. The
// returned strings carry the observed value and the limit it crossed.
func ComputeBreaches(totals models.GreeksTotals, lim models.Limits) []string {
	var breaches []string
	if abs := math.Abs(totals.Delta); abs > lim.MaxAbsDelta {
		breaches = append(breaches, fmt.Sprintf("DELTA_LIMIT %.2f > %.1f", abs, lim.MaxAbsDelta))
	}
	if abs := math.Abs(totals.Gamma); abs > lim.MaxAbsGamma {
		breaches = append(breaches, fmt.Sprintf("GAMMA_LIMIT %.2f > %.1f", abs, lim.MaxAbsGamma))
	}
	if abs := math.Abs(totals.Vega); abs > lim.MaxAbsVega {
		breaches = append(breaches, fmt.Sprintf("VEGA_LIMIT %.2f > %.1f", abs, lim.MaxAbsVega))
	}
	return breaches
}

// Evaluate reads the greeks snapshot, decides the mode and publishes
// both the decision breakdown and the mode file.
//
// Any breach forces HALT. With no breach, a fallback IV anywhere in the
// book downgrades to DEGRADED. Otherwise NORMAL.
func (e *Evaluator) Evaluate() (models.RiskEval, error) {
	var greeks models.PortfolioGreeks
	if err := e.store.ReadJSON(state.FileGreeks, &greeks); err != nil {
		return models.RiskEval{}, err
	}

	breaches := ComputeBreaches(greeks.Totals, e.limits)
	fallback := hasIVFallback(greeks)

	mode := models.ModeNormal
	reason := "OK"
	switch {
	case len(breaches) > 0:
		mode = models.ModeHalt
		reason = strings.Join(breaches, " | ")
	case fallback:
		mode = models.ModeDegraded
		reason = "IV_FALLBACK_DEFAULT_PRESENT"
	}

	eval := models.RiskEval{
		TS:           e.now().UTC().Format(time.RFC3339),
		ModeDecision: mode,
		Reason:       reason,
		Limits:       e.limits,
		Totals: models.RiskEvalTotals{
			AbsDelta: math.Abs(greeks.Totals.Delta),
			AbsGamma: math.Abs(greeks.Totals.Gamma),
			AbsVega:  math.Abs(greeks.Totals.Vega),
			Delta:    greeks.Totals.Delta,
			Gamma:    greeks.Totals.Gamma,
			Vega:     greeks.Totals.Vega,
			Theta:    greeks.Totals.Theta,
		},
		Breaches:          breaches,
		IVFallbackPresent: fallback,
	}

	if err := e.store.WriteJSON(state.FileRiskEval, eval); err != nil {
		return models.RiskEval{}, err
	}
	if err := e.modes.Set(mode, reason); err != nil {
		return models.RiskEval{}, err
	}
	return eval, nil
}

func hasIVFallback(g models.PortfolioGreeks) bool {
	for _, p := range g.Positions {
		if p.IVSrc.Fallback() {
			return true
		}
	}
	return false
}
