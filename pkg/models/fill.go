package models

// EventFill is the type tag carried by ledger fill lines. The ledger ignores
// any other line type so the fills log can host future event kinds.
const EventFill = "FILL"

// Fill is a single execution record, append-only in state/positions.jsonl.
type Fill struct {
	TS     string    `json:"ts"`
	Type   string    `json:"type"`
	Symbol string    `json:"symbol"`
	Qty    int       `json:"qty"`
	Side   OrderSide `json:"side"`
	Price  float64   `json:"price"`
	Tag    string    `json:"tag,omitempty"`
}

// Position is one net line of the positions book. NetQty is positive for
// long, negative for short; flat positions are never persisted.
type Position struct {
	Symbol string `json:"symbol"`
	NetQty int    `json:"net_qty"`
}

// PositionsBook is the materialized net-position snapshot derived from the
// fills log. Rebuilding it from the log is deterministic.
type PositionsBook struct {
	TS        string     `json:"ts"`
	Positions []Position `json:"positions"`
}
