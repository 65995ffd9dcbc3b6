// Package marketdata maintains the underlier snapshot the rest of the
// pipeline prices against. A refresher polls latest quotes and trades,
// routes a spot per symbol and atomically rewrites the market-state
// document.
package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// Spot source tags.
const (
	SpotSrcMid   = "MID"
	SpotSrcTrade = "TRADE"
	SpotSrcNone  = "NONE"
)

// maxSpotSpreadPct is the widest quote the router still trusts as a mid.
const maxSpotSpreadPct = 2.0

// QuoteMetrics derives mid and spread percentage from a bid/ask pair.
// Crossed, missing or non-positive quotes yield nothing.
func QuoteMetrics(bid, ask *float64) (mid, sprPct *float64) {
	if bid == nil || ask == nil || *bid <= 0 || *ask <= 0 || *ask < *bid {
		return nil, nil
	}
	m := 0.5 * (*bid + *ask)
	p := (*ask - *bid) / m * 100
	return &m, &p
}

// RouteSpot picks the spot anchor: a sane mid wins, otherwise the last
// trade, otherwise nothing.
func RouteSpot(mid, sprPct, tradePx *float64) (*float64, string) {
	if mid != nil && sprPct != nil && *sprPct <= maxSpotSpreadPct {
		return mid, SpotSrcMid
	}
	if tradePx != nil {
		return tradePx, SpotSrcTrade
	}
	return nil, SpotSrcNone
}

// Refresher polls the broker's data API and rewrites market_state.json.
type Refresher struct {
	store   *state.Store
	client  *resty.Client
	trading *resty.Client
	now     func() time.Time
}

// NewRefresher builds a refresher against the Alpaca data and trading
// hosts. Credentials ride as headers on every request.
func NewRefresher(store *state.Store, dataURL, tradingURL, apiKey, apiSecret string, timeout time.Duration) *Refresher {
	mk := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(timeout).
			SetHeader("APCA-API-KEY-ID", apiKey).
			SetHeader("APCA-API-SECRET-KEY", apiSecret)
	}
	return &Refresher{
		store:   store,
		client:  mk(dataURL),
		trading: mk(tradingURL),
		now:     time.Now,
	}
}

type latestQuotesResp struct {
	Quotes map[string]struct {
		Bid *float64 `json:"bp"`
		Ask *float64 `json:"ap"`
	} `json:"quotes"`
}

type latestTradesResp struct {
	Trades map[string]struct {
		Price *float64 `json:"p"`
	} `json:"trades"`
}

type contractsResp struct {
	Contracts []struct {
		Symbol string `json:"symbol"`
	} `json:"option_contracts"`
}

// Refresh polls quotes, trades and chain sizes for the given underliers
// and rewrites the snapshot. Partial data still produces a snapshot; a
// symbol with nothing usable is published with a NONE spot source.
func (r *Refresher) Refresh(ctx context.Context, symbols []string) (models.MarketState, error) {
	joined := strings.Join(symbols, ",")

	var quotes latestQuotesResp
	if _, err := r.client.R().SetContext(ctx).
		SetQueryParam("symbols", joined).
		SetResult(&quotes).
		Get("/v2/stocks/quotes/latest"); err != nil {
		log.Warn().Err(err).Msg("Quote poll failed")
	}

	var trades latestTradesResp
	if _, err := r.client.R().SetContext(ctx).
		SetQueryParam("symbols", joined).
		SetResult(&trades).
		Get("/v2/stocks/trades/latest"); err != nil {
		log.Warn().Err(err).Msg("Trade poll failed")
	}

	ms := models.MarketState{
		TS:      r.now().UTC().Format(time.RFC3339),
		Symbols: make(map[string]models.UnderlierQuote, len(symbols)),
	}

	for _, sym := range symbols {
		var bid, ask, tradePx *float64
		if q, ok := quotes.Quotes[sym]; ok {
			bid, ask = q.Bid, q.Ask
		}
		if t, ok := trades.Trades[sym]; ok {
			tradePx = t.Price
		}
		mid, sprPct := QuoteMetrics(bid, ask)
		spot, src := RouteSpot(mid, sprPct, tradePx)

		uq := models.UnderlierQuote{
			Spot:           spot,
			SpotSrc:        src,
			Bid:            bid,
			Ask:            ask,
			QuoteSpreadPct: sprPct,
		}

		var chain contractsResp
		if _, err := r.trading.R().SetContext(ctx).
			SetQueryParam("underlying_symbols", sym).
			SetResult(&chain).
			Get("/v2/options/contracts"); err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("Chain poll failed")
		} else {
			uq.ChainContracts = len(chain.Contracts)
		}

		ms.Symbols[sym] = uq
	}

	if err := r.store.WriteJSON(state.FileMarket, ms); err != nil {
		return models.MarketState{}, fmt.Errorf("failed to write market state: %w", err)
	}
	return ms, nil
}

// Run refreshes on a fixed interval until the context is canceled.
func (r *Refresher) Run(ctx context.Context, symbols []string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Refresh(ctx, symbols); err != nil {
			log.Error().Err(err).Msg("Market refresh failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
