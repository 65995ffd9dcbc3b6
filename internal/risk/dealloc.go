package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// Dealloc statuses.
const (
	DeallocOK     = "OK"
	DeallocCannot = "CANNOT_DEALLOC"

	DeallocActionNoChange = "NO_CHANGE"
	DeallocActionSetQty   = "SET_QTY_TO_ALLOWED"
)

// Deallocator sizes down a pending vertical open until the hard limits
// admit it, and republishes the risk mode accordingly.
type Deallocator struct {
	store  *state.Store
	modes  *ModeStore
	limits models.Limits
	now    func() time.Time
}

// NewDeallocator returns a deallocator against the hard limits.
func NewDeallocator(store *state.Store, modes *ModeStore, limits models.Limits) *Deallocator {
	return &Deallocator{store: store, modes: modes, limits: limits, now: time.Now}
}

// MaxQtyWithLimits finds the largest q in [0, qtyMax] such that
// |base + q*inc| stays inside the limits on delta, gamma and vega at
// once. Binary search; the feasible set is a prefix because each greek
// constraint is an interval in q containing the base point.
func MaxQtyWithLimits(base, inc models.GreeksTotals, lim models.Limits, qtyMax int) int {
	ok := func(q int) bool {
		f := float64(q)
		return math.Abs(base.Delta+f*inc.Delta) <= lim.MaxAbsDelta &&
			math.Abs(base.Gamma+f*inc.Gamma) <= lim.MaxAbsGamma &&
			math.Abs(base.Vega+f*inc.Vega) <= lim.MaxAbsVega
	}
	lo, hi, best := 0, qtyMax, 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if ok(mid) {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// Size computes the allowed quantity for a vertical whose legs are
// already priced in the greeks snapshot, writes the dealloc plan, and
// moves the risk mode: DEGRADED when a reduced size still fits, HALT
// when nothing does.
func (d *Deallocator) Size(longSym, shortSym string, qtyRequested int) (models.DeallocPlan, error) {
	var greeks models.PortfolioGreeks
	if err := d.store.ReadJSON(state.FileGreeks, &greeks); err != nil {
		return models.DeallocPlan{}, err
	}

	ts := d.now().UTC().Format(time.RFC3339)
	rows := make(map[string]models.PositionGreeks, len(greeks.Positions))
	for _, p := range greeks.Positions {
		rows[p.Symbol] = p
	}

	cannot := func(reason string, need []string) (models.DeallocPlan, error) {
		out := models.DeallocPlan{
			TS:           ts,
			Status:       DeallocCannot,
			Reason:       reason,
			RequestedQty: qtyRequested,
			Limits:       d.limits,
			Need:         need,
		}
		if err := d.store.WriteJSON(state.FileDeallocPlan, out); err != nil {
			return models.DeallocPlan{}, err
		}
		return out, nil
	}

	long, okL := rows[longSym]
	short, okS := rows[shortSym]
	if !okL || !okS {
		return cannot("MISSING_LEG_GREEKS", []string{longSym, shortSym})
	}
	if long.NetQty == 0 || short.NetQty == 0 {
		return cannot("FLAT_LEG_NET_QTY_ZERO", []string{longSym, shortSym})
	}

	// Rows are position-weighted; dividing by net_qty recovers the
	// per-contract greeks regardless of sign.
	perContract := func(p models.PositionGreeks) models.GreeksTotals {
		nq := float64(p.NetQty)
		return models.GreeksTotals{Delta: p.Delta / nq, Gamma: p.Gamma / nq, Vega: p.Vega / nq}
	}
	lpc := perContract(long)
	spc := perContract(short)
	inc := models.GreeksTotals{
		Delta: lpc.Delta + spc.Delta,
		Gamma: lpc.Gamma + spc.Gamma,
		Vega:  lpc.Vega + spc.Vega,
	}

	allowed := MaxQtyWithLimits(greeks.Totals, inc, d.limits, qtyRequested)

	action := DeallocActionNoChange
	if allowed < qtyRequested {
		action = DeallocActionSetQty
	}
	out := models.DeallocPlan{
		TS:           ts,
		Status:       DeallocOK,
		RequestedQty: qtyRequested,
		AllowedQty:   allowed,
		Limits:       d.limits,
		BaseTotals:   greeks.Totals,
		IncPerSpread: inc,
		Action:       action,
	}
	if err := d.store.WriteJSON(state.FileDeallocPlan, out); err != nil {
		return models.DeallocPlan{}, err
	}

	if allowed > 0 {
		if err := d.modes.Set(models.ModeDegraded, fmt.Sprintf("DEALLOC_ALLOWED_QTY=%d", allowed)); err != nil {
			return models.DeallocPlan{}, err
		}
	} else {
		if err := d.modes.Set(models.ModeHalt, "DEALLOC_ZERO_ALLOWED"); err != nil {
			return models.DeallocPlan{}, err
		}
	}
	return out, nil
}
