package models

// VerticalIntent is a strategy-layer request to open a call or put vertical.
// It is the gateway's input, normally sourced from configuration.
type VerticalIntent struct {
	Underlier    string  `json:"underlier"`
	IsCall       bool    `json:"is_call"`
	KLong        float64 `json:"k_long"`
	KShort       float64 `json:"k_short"`
	DTEDays      int     `json:"dte_days"`
	QtyRequested int     `json:"qty_requested"`
	R            float64 `json:"r"`
	IVLong       float64 `json:"iv_long"`
	IVShort      float64 `json:"iv_short"`
	Tag          string  `json:"tag"`
}

// OrderPlan is the executable shape of an approved vertical, carried inside
// gate output and open intents.
type OrderPlan struct {
	Type       string   `json:"type"` // always VERTICAL
	Underlier  string   `json:"underlier"`
	IsCall     bool     `json:"is_call"`
	KLong      float64  `json:"k_long"`
	KShort     float64  `json:"k_short"`
	DTEDays    int      `json:"dte_days"`
	Qty        int      `json:"qty"`
	LimitLogic string   `json:"limit_logic"`
	Tag        string   `json:"tag"`
	SpotUsed   *float64 `json:"spot_used"`
	SpotSrc    string   `json:"spot_src,omitempty"`
}

// GateDecision is the per-candidate sizing verdict.
type GateDecision struct {
	Allow         bool     `json:"allow"`
	MaxContracts  int      `json:"max_contracts"`
	Reasons       []string `json:"reasons"`
	WorstPnLGap10 *float64 `json:"worst_pnl_gap10_1"`
	WorstPnLCombo *float64 `json:"worst_pnl_combo_1"`
}

// GateCandidate is one named entry of gate output.
type GateCandidate struct {
	Allow     bool         `json:"allow"`
	OrderPlan *OrderPlan   `json:"order_plan"`
	Decision  GateDecision `json:"decision"`
}

// GateOutput is state/gate_out.json.
type GateOutput struct {
	TS  string                   `json:"ts"`
	Out map[string]GateCandidate `json:"out"`
}

// Intent type tags.
const (
	IntentOpen        = "OPEN_INTENT"
	IntentDeriskClose = "DERISK_CLOSE"
)

// OpenIntent is state/open_intent.json, produced by the open issuer and
// consumed exactly once by the open executor.
type OpenIntent struct {
	TS        string        `json:"ts"`
	Type      string        `json:"type"`
	Mode      ExecMode      `json:"mode"`
	Candidate string        `json:"candidate"`
	RiskMode  RiskModeState `json:"risk_mode"`
	OrderPlan *OrderPlan    `json:"order_plan"`
	Decision  *GateDecision `json:"decision"`
}

// CloseIntent is state/close_intent.json, produced by the de-risk executor
// and consumed exactly once by the close executor.
type CloseIntent struct {
	TS                string         `json:"ts"`
	Type              string         `json:"type"`
	Mode              ExecMode       `json:"mode"`
	Actions           []DeriskAction `json:"actions"`
	ExpectedEndTotals *GreeksTotals  `json:"expected_end_totals,omitempty"`
	HardLimits        *Limits        `json:"hard_limits,omitempty"`
	TargetLimits      *Limits        `json:"target_limits,omitempty"`
	BufferPct         *float64       `json:"buffer_pct,omitempty"`
}
