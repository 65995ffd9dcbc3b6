package models

// Stage state tags shared across the OMS state files. Each stage writes
// exactly one of these per run; they are reason-tagged outcomes, not errors.
const (
	StateDone             = "DONE"
	StateLocked           = "LOCKED"
	StateHalt             = "HALT"
	StateReject           = "REJECT"
	StateNoIntent         = "NO_INTENT"
	StateNoInput          = "NO_INPUT"
	StateOpenBlocked      = "OPEN_BLOCKED"
	StateNoCandidate      = "NO_CANDIDATE"
	StateCandidateBlocked = "CANDIDATE_BLOCKED"
	StateIntentInvalid    = "INTENT_INVALID"
	StateOpenSubmitted    = "OPEN_SUBMITTED"
	StatePlanTranslated   = "PLAN_ONLY_TRANSLATED"
	StateBrokerError      = "BROKER_ERROR"
	StatePollOK           = "POLL_OK"
	StateNoOrders         = "NO_ORDERS"
	StateClientError      = "CLIENT_ERROR"
)

// OpenPlan is state/open_plan.json: the audit snapshot of candidate
// selection, written every time the open issuer runs.
type OpenPlan struct {
	TS        string         `json:"ts"`
	Source    string         `json:"source"`
	Candidate string         `json:"candidate,omitempty"`
	RiskMode  RiskModeState  `json:"risk_mode"`
	Selected  *GateCandidate `json:"selected"`
}

// OmsOpenState is state/oms_open_state.json.
type OmsOpenState struct {
	TS                 string   `json:"ts"`
	Mode               ExecMode `json:"mode"`
	RiskMode           RiskMode `json:"risk_mode"`
	State              string   `json:"state"`
	Reason             string   `json:"reason,omitempty"`
	Candidate          string   `json:"candidate,omitempty"`
	CandidateReasons   []string `json:"candidate_reasons,omitempty"`
	OpenIntentWritten  bool     `json:"open_intent_written"`
	DeletedStaleIntent bool     `json:"deleted_stale_intent"`
	ElapsedMS          int64    `json:"elapsed_ms"`
}

// OmsOpenExecState is state/oms_open_exec_state.json.
type OmsOpenExecState struct {
	TS            string        `json:"ts"`
	Mode          ExecMode      `json:"mode"`
	State         string        `json:"state"`
	Reason        string        `json:"reason,omitempty"`
	IntentTS      string        `json:"intent_ts,omitempty"`
	Candidate     string        `json:"candidate,omitempty"`
	OrderPlan     *OrderPlan    `json:"order_plan,omitempty"`
	Decision      *GateDecision `json:"decision,omitempty"`
	BrokerResult  *BrokerResult `json:"broker_result,omitempty"`
	IntentDeleted bool          `json:"intent_deleted"`
	ElapsedMS     int64         `json:"elapsed_ms"`
}

// CloseStep is one simulated or live fill applied by the close executor.
type CloseStep struct {
	TS         string    `json:"ts"`
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Qty        int       `json:"qty"`
	PriceProxy *float64  `json:"price_proxy"`
	Result     string    `json:"result"`
}

// OmsCloseState is state/oms_close_state.json.
type OmsCloseState struct {
	TS              string         `json:"ts"`
	Mode            ExecMode       `json:"mode"`
	RiskMode        RiskMode       `json:"risk_mode,omitempty"`
	State           string         `json:"state"`
	Reason          string         `json:"reason,omitempty"`
	Breaches        []string       `json:"breaches,omitempty"`
	Steps           []CloseStep    `json:"steps"`
	IntentTS        string         `json:"intent_ts,omitempty"`
	IntentAgeSec    int64          `json:"intent_age_sec,omitempty"`
	Actions         []DeriskAction `json:"actions,omitempty"`
	PositionsBefore []Position     `json:"positions_before,omitempty"`
	PositionsAfter  []Position     `json:"positions_after,omitempty"`
	ElapsedSec      int64          `json:"elapsed_sec"`
}

// DeriskExecState is state/derisk_exec.json.
type DeriskExecState struct {
	TS                 string         `json:"ts"`
	Status             string         `json:"status"`
	Reason             string         `json:"reason,omitempty"`
	InputStatus        string         `json:"input_status,omitempty"`
	InputReason        string         `json:"input_reason,omitempty"`
	DeletedStaleIntent bool           `json:"deleted_stale_intent"`
	Actions            []DeriskAction `json:"actions"`
	HardLimits         Limits         `json:"hard_limits"`
	TargetLimits       Limits         `json:"target_limits"`
}

// PollState is state/oms_poll_state.json.
type PollState struct {
	TS        string         `json:"ts"`
	Mode      ExecMode       `json:"mode"`
	OK        bool           `json:"ok"`
	State     string         `json:"state"`
	NOrders   int            `json:"n_orders"`
	Changed   []StatusChange `json:"changed"`
	Errors    []string       `json:"errors"`
	ElapsedMS int64          `json:"elapsed_ms"`
}

// StepResult is one orchestrator stage outcome inside the tick state.
type StepResult struct {
	Name      string `json:"name"`
	Critical  bool   `json:"critical"`
	OK        bool   `json:"ok"`
	State     string `json:"state,omitempty"`
	Reason    string `json:"reason,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Result    string `json:"result"` // OK or ERR
}

// TickSummary is the end-of-tick view of the shared state files.
type TickSummary struct {
	RiskMode           *RiskModeState `json:"risk_mode"`
	OpenIntentPresent  bool           `json:"open_intent_present"`
	CloseIntentPresent bool           `json:"close_intent_present"`
	GateOutPresent     bool           `json:"gate_out_present"`
	GateOut            *GateOutput    `json:"gate_out,omitempty"`
}

// TickState is state/tick_state.json.
type TickState struct {
	TS        string       `json:"ts"`
	OK        bool         `json:"ok"`
	State     string       `json:"state,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	HaltedBy  string       `json:"halted_by,omitempty"`
	ElapsedMS int64        `json:"elapsed_ms"`
	Steps     []StepResult `json:"steps"`
	Summary   *TickSummary `json:"summary,omitempty"`
}

// VerticalState is the OPEN fill state machine's position.
type VerticalState string

const (
	VerticalInit        VerticalState = "INIT"
	VerticalSubmitLong  VerticalState = "SUBMIT_LONG"
	VerticalSubmitShort VerticalState = "SUBMIT_SHORT"
	VerticalDone        VerticalState = "DONE"
	VerticalHalt        VerticalState = "HALT"
	VerticalFail        VerticalState = "FAIL"
)

// VerticalLeg is one working leg of the OPEN state machine snapshot.
type VerticalLeg struct {
	Symbol string  `json:"symbol"`
	Qty    int     `json:"qty"`
	Limit  float64 `json:"limit"`
}

// VerticalSnapshot is state/oms_state.json, written before every transition
// of the OPEN fill state machine.
type VerticalSnapshot struct {
	TS          string        `json:"ts"`
	Mode        ExecMode      `json:"mode"`
	RiskMode    RiskMode      `json:"risk_mode"`
	State       VerticalState `json:"state"`
	ElapsedSec  int64         `json:"elapsed_sec"`
	FilledLong  int           `json:"filled_long"`
	FilledShort int           `json:"filled_short"`
	Long        VerticalLeg   `json:"long"`
	Short       VerticalLeg   `json:"short"`
	Reason      string        `json:"reason,omitempty"`
}

// AlertsState is state/alerts_state.json: the last alerted (status,
// severity) pair per order, used to dedupe notifications.
type AlertsState struct {
	TS        string               `json:"ts"`
	LastAlert map[string]LastAlert `json:"last_alert"`
}

// LastAlert is the dedupe record for one order id.
type LastAlert struct {
	TS       string `json:"ts"`
	Status   string `json:"status"`
	Severity string `json:"sev"`
}
