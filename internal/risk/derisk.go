package risk

import (
	"math"
	"time"

	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// Planner statuses.
const (
	PlanNoAction = "NO_ACTION"
	PlanOK       = "OK"
	PlanPartial  = "PARTIAL"
)

// Planner builds reduce-only close plans that walk the portfolio back
// inside a buffered copy of the hard limits.
type Planner struct {
	store        *state.Store
	hardLimits   models.Limits
	bufferPct    float64
	maxContracts int
	now          func() time.Time
}

// NewPlanner returns a planner. bufferPct scales the hard limits into
// the target band (0.90 targets 90% of each hard limit); maxContracts
// caps how many single-contract closes one plan may contain.
func NewPlanner(store *state.Store, hard models.Limits, bufferPct float64, maxContracts int) *Planner {
	return &Planner{
		store:        store,
		hardLimits:   hard,
		bufferPct:    bufferPct,
		maxContracts: maxContracts,
		now:          time.Now,
	}
}

type workRow struct {
	symbol string
	netQty int
	pcD    float64 // per contract
	pcG    float64
	pcV    float64
}

func sgn(x int) int {
	if x > 0 {
		return 1
	}
	if x < 0 {
		return -1
	}
	return 0
}

func withinLimits(t models.GreeksTotals, lim models.Limits) bool {
	return math.Abs(t.Delta) <= lim.MaxAbsDelta &&
		math.Abs(t.Gamma) <= lim.MaxAbsGamma &&
		math.Abs(t.Vega) <= lim.MaxAbsVega
}

// closeEffect is the totals change from closing one contract of the row.
func (w *workRow) closeEffect() (d, g, v float64) {
	dir := float64(sgn(w.netQty))
	return -w.pcD * dir, -w.pcG * dir, -w.pcV * dir
}

// score ranks a row by how much excess it removes, weighted vega over
// gamma over delta. Rows that would not reduce any breached greek score
// zero and are never closed.
func (w *workRow) score(t models.GreeksTotals, lim models.Limits) float64 {
	dOver := math.Max(0, math.Abs(t.Delta)-lim.MaxAbsDelta)
	gOver := math.Max(0, math.Abs(t.Gamma)-lim.MaxAbsGamma)
	vOver := math.Max(0, math.Abs(t.Vega)-lim.MaxAbsVega)

	ed, eg, ev := w.closeEffect()
	red := func(x, dx float64) float64 { return math.Max(0, math.Abs(x)-math.Abs(x+dx)) }

	return 5.0*vOver*red(t.Vega, ev) + 3.0*gOver*red(t.Gamma, eg) + 1.0*dOver*red(t.Delta, ed)
}

// Plan reads the greeks snapshot and writes the de-risk plan. The loop
// greedily closes one contract at a time from the best-scoring position
// until the projected totals sit inside the target band, the scorer runs
// out of helpful closes, or the contract budget is spent.
func (p *Planner) Plan() (models.DeriskPlan, error) {
	var greeks models.PortfolioGreeks
	if err := p.store.ReadJSON(state.FileGreeks, &greeks); err != nil {
		return models.DeriskPlan{}, err
	}

	target := p.hardLimits.Buffered(p.bufferPct)
	totals := greeks.Totals
	start := totals

	out := models.DeriskPlan{
		TS:           p.now().UTC().Format(time.RFC3339),
		HardLimits:   p.hardLimits,
		TargetLimits: target,
		BufferPct:    p.bufferPct,
		StartTotals:  start,
		Actions:      []models.DeriskAction{},
	}

	if withinLimits(totals, target) {
		out.Status = PlanNoAction
		out.Reason = "WITHIN_TARGET_LIMITS"
		out.EndTotals = totals
		if err := p.store.WriteJSON(state.FileDeriskPlan, out); err != nil {
			return models.DeriskPlan{}, err
		}
		return out, nil
	}

	// Per-contract greeks come from dividing the position-weighted rows
	// by net_qty; flat rows carry no usable information.
	var work []*workRow
	for _, row := range greeks.Positions {
		if row.NetQty == 0 {
			continue
		}
		nq := float64(row.NetQty)
		work = append(work, &workRow{
			symbol: row.Symbol,
			netQty: row.NetQty,
			pcD:    row.Delta / nq,
			pcG:    row.Gamma / nq,
			pcV:    row.Vega / nq,
		})
	}

	qty := make(map[string]int)
	side := make(map[string]models.OrderSide)

	closed := 0
	for closed < p.maxContracts && !withinLimits(totals, target) && len(work) > 0 {
		best := work[0]
		bestScore := best.score(totals, target)
		for _, w := range work[1:] {
			if s := w.score(totals, target); s > bestScore {
				best, bestScore = w, s
			}
		}
		if bestScore <= 0 {
			break
		}

		dir := sgn(best.netQty)
		if best.netQty > 0 {
			side[best.symbol] = models.Sell
		} else {
			side[best.symbol] = models.Buy
		}

		ed, eg, ev := best.closeEffect()
		totals.Delta += ed
		totals.Gamma += eg
		totals.Vega += ev

		best.netQty -= dir
		qty[best.symbol]++
		closed++

		if best.netQty == 0 {
			for i, w := range work {
				if w == best {
					work = append(work[:i], work[i+1:]...)
					break
				}
			}
		}
	}

	// Emit actions in the snapshot's position order so plans are stable.
	actions := make([]models.DeriskAction, 0, len(qty))
	for _, row := range greeks.Positions {
		if q := qty[row.Symbol]; q > 0 {
			actions = append(actions, models.DeriskAction{
				Symbol:    row.Symbol,
				CloseSide: side[row.Symbol],
				Qty:       q,
			})
		}
	}

	out.Actions = actions
	out.EndTotals = totals
	if withinLimits(totals, target) {
		out.Status = PlanOK
	} else {
		out.Status = PlanPartial
	}

	if err := p.store.WriteJSON(state.FileDeriskPlan, out); err != nil {
		return models.DeriskPlan{}, err
	}
	return out, nil
}
