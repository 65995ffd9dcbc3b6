// Package gateway is the pre-trade gate: an underlier liquidity filter
// followed by scenario-based worst-case sizing for each configured
// vertical candidate.
package gateway

import (
	"math"
	"time"

	"github.com/neuroxhq/neurox-oms/internal/bsm"
	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// Rejection reasons.
const (
	ReasonNoQuote      = "NO_UNDERLIER_QUOTE"
	ReasonBadQuote     = "BAD_UNDERLIER_QUOTE"
	ReasonWideSpread   = "WIDE_UNDERLIER_QUOTE_SPREAD"
	ReasonSizingToZero = "SIZING_TO_ZERO_BY_LIMITS"
)

// LimitLogicMidThenStep is the executor's limit-pricing strategy carried
// on every order plan.
const LimitLogicMidThenStep = "MID_THEN_STEP"

// Gateway evaluates vertical candidates against market state and the
// per-trade risk budget.
type Gateway struct {
	store          *state.Store
	maxSpreadPct   float64
	equity         float64
	maxRiskPct     float64
	r              float64
	now            func() time.Time
}

// New returns a gateway. maxSpreadPct is the underlier quote-spread
// ceiling in percent; equity and maxRiskPct define the per-trade
// worst-case loss budget.
func New(store *state.Store, maxSpreadPct, equity, maxRiskPct, riskFreeRate float64) *Gateway {
	return &Gateway{
		store:        store,
		maxSpreadPct: maxSpreadPct,
		equity:       equity,
		maxRiskPct:   maxRiskPct,
		r:            riskFreeRate,
		now:          time.Now,
	}
}

// marketCtx is the slice of market state the gate needs per underlier.
type marketCtx struct {
	spot    *float64
	spotSrc string
	bid     *float64
	ask     *float64
	sprPct  *float64
}

func (g *Gateway) readMarketCtx(underlier string) marketCtx {
	var ms models.MarketState
	if err := g.store.ReadJSON(state.FileMarket, &ms); err != nil {
		return marketCtx{spotSrc: "NONE"}
	}
	q, ok := ms.Symbols[underlier]
	if !ok {
		return marketCtx{spotSrc: "NONE"}
	}
	ctx := marketCtx{spot: q.Spot, spotSrc: q.SpotSrc, bid: q.Bid, ask: q.Ask}
	if q.Bid != nil && q.Ask != nil && *q.Bid > 0 && *q.Ask > 0 && *q.Ask >= *q.Bid {
		mid := 0.5 * (*q.Bid + *q.Ask)
		if mid > 0 {
			spr := (*q.Ask - *q.Bid) / mid * 100.0
			ctx.sprPct = &spr
		}
	}
	return ctx
}

// validateLiquidity runs the cheap sanity checks before any risk work.
func (g *Gateway) validateLiquidity(ctx marketCtx) []string {
	switch {
	case ctx.bid == nil || ctx.ask == nil || ctx.spot == nil:
		return []string{ReasonNoQuote}
	case *ctx.bid <= 0 || *ctx.ask <= 0 || *ctx.ask < *ctx.bid:
		return []string{ReasonBadQuote}
	case ctx.sprPct != nil && *ctx.sprPct > g.maxSpreadPct:
		return []string{ReasonWideSpread}
	}
	return nil
}

// WorstCaseLoss values the requested vertical position under the two
// stress scenarios and returns each scenario's dollar P&L against the
// unshocked base: (A) spot -10%, no vol shock; (B) spot -7% with vols
// up 0.10.
func WorstCaseLoss(intent models.VerticalIntent, spot, r float64) (pnlGap, pnlCombo float64) {
	t := math.Max(float64(intent.DTEDays)/365.0, 1e-6)
	legs := []bsm.Leg{
		{K: intent.KLong, IsCall: intent.IsCall, Qty: intent.QtyRequested, Side: +1, IV: intent.IVLong},
		{K: intent.KShort, IsCall: intent.IsCall, Qty: intent.QtyRequested, Side: -1, IV: intent.IVShort},
	}

	base := bsm.StructureValue(spot, r, t, legs, 0.0)
	pnlGap = bsm.StructureValue(spot*0.90, r, t, legs, 0.0) - base
	pnlCombo = bsm.StructureValue(spot*0.93, r, t, legs, 0.10) - base
	return pnlGap, pnlCombo
}

// Decide sizes one candidate. The worst-case dollar loss of the
// requested position is compared to the per-trade budget
// equity * maxRiskPct; a budget that cannot absorb one worst-case unit
// sizes to zero and blocks the candidate.
func (g *Gateway) Decide(intent models.VerticalIntent, spot float64) models.GateDecision {
	pnlGap, pnlCombo := WorstCaseLoss(intent, spot, g.r)
	worst := math.Min(pnlGap, pnlCombo)

	d := models.GateDecision{
		Reasons:       []string{},
		WorstPnLGap10: &pnlGap,
		WorstPnLCombo: &pnlCombo,
	}

	lossMag := math.Max(0, -worst)
	if lossMag <= 0 {
		// Worst case is flat or profitable; nothing to size against.
		d.Allow = true
		d.MaxContracts = intent.QtyRequested
		return d
	}

	budget := g.equity * g.maxRiskPct
	maxContracts := int(budget / lossMag)
	if maxContracts <= 0 {
		d.Reasons = append(d.Reasons, ReasonSizingToZero)
	}
	d.Allow = maxContracts > 0
	if maxContracts > intent.QtyRequested {
		maxContracts = intent.QtyRequested
	}
	d.MaxContracts = maxContracts
	return d
}

// Evaluate runs every candidate through the gate and writes gate_out.
func (g *Gateway) Evaluate(intents map[string]models.VerticalIntent) (models.GateOutput, error) {
	out := models.GateOutput{
		TS:  g.now().UTC().Format(time.RFC3339),
		Out: make(map[string]models.GateCandidate, len(intents)),
	}

	for name, intent := range intents {
		ctx := g.readMarketCtx(intent.Underlier)

		if reasons := g.validateLiquidity(ctx); len(reasons) > 0 {
			out.Out[name] = models.GateCandidate{
				Allow: false,
				Decision: models.GateDecision{
					Allow:        false,
					MaxContracts: 0,
					Reasons:      reasons,
				},
			}
			continue
		}

		d := g.Decide(intent, *ctx.spot)
		if !d.Allow {
			out.Out[name] = models.GateCandidate{Allow: false, Decision: d}
			continue
		}

		qty := intent.QtyRequested
		if d.MaxContracts < qty {
			qty = d.MaxContracts
		}
		out.Out[name] = models.GateCandidate{
			Allow: true,
			OrderPlan: &models.OrderPlan{
				Type:       "VERTICAL",
				Underlier:  intent.Underlier,
				IsCall:     intent.IsCall,
				KLong:      intent.KLong,
				KShort:     intent.KShort,
				DTEDays:    intent.DTEDays,
				Qty:        qty,
				LimitLogic: LimitLogicMidThenStep,
				Tag:        intent.Tag,
				SpotUsed:   ctx.spot,
				SpotSrc:    ctx.spotSrc,
			},
			Decision: d,
		}
	}

	if err := g.store.WriteJSON(state.FileGateOut, out); err != nil {
		return models.GateOutput{}, err
	}
	return out, nil
}
