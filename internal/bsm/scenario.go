package bsm

// Leg is one leg of an option structure. Side is +1 for long, -1 for
// short; Qty is always positive.
type Leg struct {
	K      float64
	IsCall bool
	Qty    int
	Side   int
	IV     float64
}

// ScenarioResult is one cell of a scenario grid. IV holds the additive
// vol shift applied, not the resulting level.
type ScenarioResult struct {
	Spot float64
	IV   float64
	PnL  float64
}

// Default shock grids used when the caller passes nil.
var (
	defaultSpotShocks = []float64{-0.10, -0.07, -0.03, -0.01, 0.0, 0.01, 0.03, 0.07, 0.10}
	defaultIVShocks   = []float64{0.0, 0.05, 0.10, 0.20}
)

// StructureValue prices the structure in dollars with an additive vol
// shift applied to every leg (floored at 1e-6).
func StructureValue(s, r, t float64, legs []Leg, ivShift float64) float64 {
	total := 0.0
	for _, leg := range legs {
		sigma := leg.IV + ivShift
		if sigma < 1e-6 {
			sigma = 1e-6
		}
		px := Price(s, leg.K, t, r, sigma, leg.IsCall)
		total += float64(leg.Side) * float64(leg.Qty) * ContractMultiplier * px
	}
	return total
}

// ScenarioGrid revalues the structure across relative spot shocks and
// additive vol shocks, returning P&L against the unshocked base value.
func ScenarioGrid(s0, r, t float64, legs []Leg, spotShocks, ivShocks []float64) []ScenarioResult {
	if spotShocks == nil {
		spotShocks = defaultSpotShocks
	}
	if ivShocks == nil {
		ivShocks = defaultIVShocks
	}

	base := StructureValue(s0, r, t, legs, 0.0)
	out := make([]ScenarioResult, 0, len(spotShocks)*len(ivShocks))
	for _, ds := range spotShocks {
		s := s0 * (1.0 + ds)
		for _, dv := range ivShocks {
			v := StructureValue(s, r, t, legs, dv)
			out = append(out, ScenarioResult{Spot: s, IV: dv, PnL: v - base})
		}
	}
	return out
}
