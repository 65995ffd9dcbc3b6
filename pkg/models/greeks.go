package models

// IVSource tags where a row's implied volatility came from. The risk
// evaluator downgrades the whole portfolio to DEGRADED when any row carries
// a fallback-family source.
type IVSource string

const (
	IVNewton          IVSource = "NEWTON"
	IVBisect          IVSource = "BISECT"
	IVFallbackDefault IVSource = "FALLBACK_DEFAULT"
)

// Fallback reports whether the source is one of the fallback spellings the
// evaluator treats as degraded input.
func (s IVSource) Fallback() bool {
	switch s {
	case IVFallbackDefault, "FALLBACK", "DEFAULT":
		return true
	}
	return false
}

// PositionGreeks is one position-weighted row of the portfolio greeks
// snapshot. Delta/gamma/vega/theta are already multiplied by net_qty.
// Vega is dollars per 1.00 vol; theta is dollars per year.
type PositionGreeks struct {
	Symbol    string   `json:"symbol"`
	Underlier string   `json:"underlier"`
	Exp       string   `json:"exp"` // YYYY-MM-DD
	IsCall    bool     `json:"is_call"`
	Strike    float64  `json:"strike"`
	Spot      *float64 `json:"spot"`
	SpotSrc   string   `json:"spot_src,omitempty"`
	NetQty    int      `json:"net_qty"`
	Mid       float64  `json:"mid"`
	SprPct    float64  `json:"spr_pct"`
	IV        float64  `json:"iv"`
	IVSrc     IVSource `json:"iv_src"`
	Delta     float64  `json:"delta"`
	Gamma     float64  `json:"gamma"`
	Vega      float64  `json:"vega"`
	Theta     float64  `json:"theta"`
}

// GreeksTotals are the portfolio-wide sums of the position-weighted rows.
type GreeksTotals struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
}

// PortfolioGreeks is state/portfolio_greeks.json.
type PortfolioGreeks struct {
	TS        string           `json:"ts"`
	Positions []PositionGreeks `json:"positions"`
	Totals    GreeksTotals     `json:"totals"`
}
