package models

// UnderlierQuote is the per-underlier slice of state/market_state.json,
// written by the external market-data ingest. Quote fields are pointers:
// absent and zero are different things to the gateway.
type UnderlierQuote struct {
	Spot           *float64 `json:"spot"`
	SpotSrc        string   `json:"spot_src"` // MID, TRADE or NONE
	SpotAgeMS      *int64   `json:"spot_age_ms,omitempty"`
	Bid            *float64 `json:"bid"`
	Ask            *float64 `json:"ask"`
	QuoteSpreadPct *float64 `json:"quote_spread_pct"`
	ChainContracts int      `json:"chain_contracts,omitempty"`
}

// MarketState is the full market snapshot keyed by underlier root.
type MarketState struct {
	TS      string                    `json:"ts"`
	Symbols map[string]UnderlierQuote `json:"symbols"`
}
