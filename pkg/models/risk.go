package models

// RiskMode is the global trading permission level.
type RiskMode string

const (
	// ModeNormal permits opens and closes.
	ModeNormal RiskMode = "NORMAL"
	// ModeDegraded permits reduce-only flow.
	ModeDegraded RiskMode = "DEGRADED"
	// ModeHalt blocks everything.
	ModeHalt RiskMode = "HALT"
	// ModeUnknown is what readers report for a missing or mangled mode file.
	// Consumers must treat it as HALT.
	ModeUnknown RiskMode = "UNKNOWN"
)

// RiskModeState is state/risk_mode.json.
type RiskModeState struct {
	TS     string   `json:"ts"`
	Mode   RiskMode `json:"mode"`
	Reason string   `json:"reason"`
}

// Limits are the hard portfolio greek limits, in absolute dollar terms.
type Limits struct {
	MaxAbsDelta float64 `json:"max_abs_delta"`
	MaxAbsGamma float64 `json:"max_abs_gamma"`
	MaxAbsVega  float64 `json:"max_abs_vega"`
}

// Buffered scales every limit by bufferPct, giving the de-risk target band.
func (l Limits) Buffered(bufferPct float64) Limits {
	return Limits{
		MaxAbsDelta: l.MaxAbsDelta * bufferPct,
		MaxAbsGamma: l.MaxAbsGamma * bufferPct,
		MaxAbsVega:  l.MaxAbsVega * bufferPct,
	}
}

// RiskEvalTotals carries both signed and absolute totals in the evaluator's
// decision breakdown.
type RiskEvalTotals struct {
	AbsDelta float64 `json:"abs_delta"`
	AbsGamma float64 `json:"abs_gamma"`
	AbsVega  float64 `json:"abs_vega"`
	Delta    float64 `json:"delta"`
	Gamma    float64 `json:"gamma"`
	Vega     float64 `json:"vega"`
	Theta    float64 `json:"theta"`
}

// RiskEval is state/risk_eval.json: the full decision breakdown behind the
// latest risk-mode write.
type RiskEval struct {
	TS                string         `json:"ts"`
	ModeDecision      RiskMode       `json:"mode_decision"`
	Reason            string         `json:"reason"`
	Limits            Limits         `json:"limits"`
	Totals            RiskEvalTotals `json:"totals"`
	Breaches          []string       `json:"breaches"`
	IVFallbackPresent bool           `json:"iv_fallback_present"`
}

// DeriskAction is one aggregated reduce-only close instruction.
type DeriskAction struct {
	Symbol    string    `json:"symbol"`
	CloseSide OrderSide `json:"close_side"`
	Qty       int       `json:"qty"`
}

// DeriskPlan is state/derisk_plan.json.
type DeriskPlan struct {
	TS           string         `json:"ts"`
	Status       string         `json:"status"` // NO_ACTION, OK or PARTIAL
	Reason       string         `json:"reason,omitempty"`
	HardLimits   Limits         `json:"hard_limits"`
	TargetLimits Limits         `json:"target_limits"`
	BufferPct    float64        `json:"buffer_pct"`
	StartTotals  GreeksTotals   `json:"start_totals"`
	EndTotals    GreeksTotals   `json:"end_totals"`
	Actions      []DeriskAction `json:"actions"`
}

// DeallocPlan is state/dealloc_plan.json: how many spreads of the pending
// open the hard limits still admit.
type DeallocPlan struct {
	TS           string       `json:"ts"`
	Status       string       `json:"status"`
	Reason       string       `json:"reason,omitempty"`
	RequestedQty int          `json:"requested_qty"`
	AllowedQty   int          `json:"allowed_qty"`
	Limits       Limits       `json:"limits"`
	BaseTotals   GreeksTotals `json:"base_totals"`
	IncPerSpread GreeksTotals `json:"inc_per_spread"`
	Action       string       `json:"action,omitempty"`
	Need         []string     `json:"need,omitempty"`
}
