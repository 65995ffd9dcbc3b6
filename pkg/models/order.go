package models

// OrderSide represents buy or sell.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// TimeInForce for broker orders. The OMS only submits DAY orders.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
)

// ExecMode selects the execution contract: PLAN_ONLY resolves and journals
// without touching the broker; LIVE submits real orders behind guard flags.
type ExecMode string

const (
	PlanOnly ExecMode = "PLAN_ONLY"
	Live     ExecMode = "LIVE"
)

// ResolvedVertical is the broker's answer to vertical symbol resolution.
type ResolvedVertical struct {
	LongSymbol  string `json:"long_symbol"`
	ShortSymbol string `json:"short_symbol"`
	Expiration  string `json:"expiration"` // YYYYMMDD
	DTEDays     int    `json:"dte_days"`
}

// OrderLeg is one leg of a multi-leg limit order.
type OrderLeg struct {
	Symbol   string    `json:"symbol"`
	RatioQty float64   `json:"ratio_qty"`
	Side     OrderSide `json:"side"`
}

// BrokerResult is the uniform outcome of a submit attempt, journaled as-is.
type BrokerResult struct {
	OK        bool              `json:"ok"`
	Mode      ExecMode          `json:"mode"`
	Submitted bool              `json:"submitted"`
	Resolved  *ResolvedVertical `json:"resolved,omitempty"`
	OrderID   string            `json:"order_id,omitempty"`
	Signature string            `json:"signature,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// TrackedOrder is one entry of state/open_orders.json. Raw keeps the broker's
// last full payload for audit; unknown broker fields are preserved verbatim.
type TrackedOrder struct {
	OrderID  string         `json:"order_id"`
	Status   string         `json:"status"` // normalized lowercase token
	Tag      string         `json:"tag"`
	LastSeen string         `json:"last_seen"`
	Paper    bool           `json:"paper"`
	Raw      map[string]any `json:"raw,omitempty"`
}

// OpenOrders is the tracked-order snapshot written by the open executor and
// maintained by the poller.
type OpenOrders struct {
	TS     string                  `json:"ts"`
	Mode   ExecMode                `json:"mode"`
	Orders map[string]TrackedOrder `json:"orders"`
}

// StatusChange records one observed order-status transition.
type StatusChange struct {
	OrderID string `json:"order_id"`
	Prev    string `json:"prev"`
	New     string `json:"new"`
}
