// Package portfolio builds the position-weighted greeks snapshot from
// the positions book, the market-data snapshot and the previous greeks
// document.
package portfolio

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neuroxhq/neurox-oms/internal/bsm"
	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
	"github.com/neuroxhq/neurox-oms/pkg/occ"
)

// Builder produces portfolio greeks snapshots.
type Builder struct {
	store     *state.Store
	r         float64
	defaultIV float64
	now       func() time.Time
}

// NewBuilder returns a builder using the given risk-free rate and the
// default vol applied when the IV solver cannot recover one.
func NewBuilder(store *state.Store, riskFreeRate, defaultIV float64) *Builder {
	return &Builder{store: store, r: riskFreeRate, defaultIV: defaultIV, now: time.Now}
}

type prevQuote struct {
	mid    float64
	sprPct float64
}

// Build recomputes the snapshot and writes it to the state directory.
// Rows with unparseable symbols are skipped; rows without a solvable IV
// are priced at the default vol and tagged FALLBACK_DEFAULT so the risk
// evaluator can degrade the portfolio.
func (b *Builder) Build() (models.PortfolioGreeks, error) {
	var book models.PositionsBook
	if err := b.store.ReadJSON(state.FileBook, &book); err != nil {
		return models.PortfolioGreeks{}, err
	}
	prev := b.loadPrevQuotes()
	now := b.now().UTC()

	out := models.PortfolioGreeks{
		TS:        now.Format(time.RFC3339),
		Positions: []models.PositionGreeks{},
	}

	for _, pos := range book.Positions {
		if pos.Symbol == "" || pos.NetQty == 0 {
			continue
		}
		sym, err := occ.Parse(pos.Symbol)
		if err != nil {
			log.Warn().Str("symbol", pos.Symbol).Msg("Skipping unparseable position symbol")
			continue
		}

		spot, spotSrc := b.loadSpot(sym.Root)
		s := 0.0
		if spot != nil {
			s = *spot
		}
		t := sym.YearFrac(now)

		pq := prev[pos.Symbol]
		iv, ivSrc := b.solveIV(pq.mid, s, sym.Strike, t, sym.IsCall)

		// Greeks still get computed at expiry via a hair of time value
		// so the intrinsic-side fallback delta applies.
		tg := t
		if tg <= 0 {
			tg = 1e-9
		}
		g := bsm.PerContract(s, sym.Strike, tg, b.r, iv, sym.IsCall)
		qty := float64(pos.NetQty)

		row := models.PositionGreeks{
			Symbol:    pos.Symbol,
			Underlier: sym.Root,
			Exp:       sym.ExpISO(),
			IsCall:    sym.IsCall,
			Strike:    sym.Strike,
			Spot:      spot,
			SpotSrc:   spotSrc,
			NetQty:    pos.NetQty,
			Mid:       pq.mid,
			SprPct:    pq.sprPct,
			IV:        iv,
			IVSrc:     ivSrc,
			Delta:     g.Delta * qty,
			Gamma:     g.Gamma * qty,
			Vega:      g.Vega * qty,
			Theta:     g.Theta * qty,
		}
		out.Positions = append(out.Positions, row)

		out.Totals.Delta += row.Delta
		out.Totals.Gamma += row.Gamma
		out.Totals.Vega += row.Vega
		out.Totals.Theta += row.Theta
	}

	if err := b.store.WriteJSON(state.FileGreeks, out); err != nil {
		return models.PortfolioGreeks{}, err
	}
	return out, nil
}

// solveIV recovers implied vol from the per-share mid, trying Newton then
// bisection, and falls back to the configured default.
func (b *Builder) solveIV(target, s, k, t float64, isCall bool) (float64, models.IVSource) {
	if target > 0 && s > 0 && t > 0 {
		if iv, ok := bsm.ImpliedVolNewton(target, s, k, t, b.r, isCall); ok && iv > 1e-6 && iv <= 8.0 {
			return iv, models.IVNewton
		}
		if iv, ok := bsm.ImpliedVolBisect(target, s, k, t, b.r, isCall); ok && iv > 1e-6 && iv <= 8.0 {
			return iv, models.IVBisect
		}
	}
	return b.defaultIV, models.IVFallbackDefault
}

// loadSpot reads the underlier spot from the market-data snapshot. Any
// read failure degrades to no spot rather than an error.
func (b *Builder) loadSpot(underlier string) (*float64, string) {
	var ms models.MarketState
	if err := b.store.ReadJSON(state.FileMarket, &ms); err != nil {
		return nil, ""
	}
	q, ok := ms.Symbols[underlier]
	if !ok || q.Spot == nil || *q.Spot <= 0 {
		return nil, ""
	}
	return q.Spot, q.SpotSrc
}

// loadPrevQuotes preserves the last known option mid and spread per
// symbol across ticks so the builder stays consistent without a fresh
// option quote feed.
func (b *Builder) loadPrevQuotes() map[string]prevQuote {
	out := make(map[string]prevQuote)
	var prev models.PortfolioGreeks
	if err := b.store.ReadJSON(state.FileGreeks, &prev); err != nil {
		return out
	}
	for _, p := range prev.Positions {
		if p.Symbol == "" {
			continue
		}
		out[p.Symbol] = prevQuote{mid: p.Mid, sprPct: p.SprPct}
	}
	return out
}

// SeedQuote stores a mid and spread for a symbol by rewriting the
// current greeks snapshot rows. The simulated close path uses the row
// mid as its fill price proxy.
func (b *Builder) SeedQuote(symbol string, mid, sprPct float64) error {
	var prev models.PortfolioGreeks
	if err := b.store.ReadJSON(state.FileGreeks, &prev); err != nil {
		prev = models.PortfolioGreeks{TS: b.now().UTC().Format(time.RFC3339)}
	}
	found := false
	for i := range prev.Positions {
		if prev.Positions[i].Symbol == symbol {
			prev.Positions[i].Mid = mid
			prev.Positions[i].SprPct = sprPct
			found = true
		}
	}
	if !found {
		prev.Positions = append(prev.Positions, models.PositionGreeks{Symbol: symbol, Mid: mid, SprPct: sprPct})
	}
	return b.store.WriteJSON(state.FileGreeks, prev)
}
