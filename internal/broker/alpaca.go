package broker

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/neuroxhq/neurox-oms/internal/config"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// strikeTol is the exact-strike match tolerance during resolution.
const strikeTol = 1e-6

// resolveWindowDays bounds the expiration search around the target DTE.
const resolveWindowDays = 10

// Live is the real broker adapter. It resolves legs against the option
// contracts endpoint and submits one multi-leg DAY limit order per open.
// Submission stays blocked until both live guards are set.
type Live struct {
	client    *resty.Client
	allowLive bool
	liveLimit float64
	now       func() time.Time
}

// NewLive builds the live adapter from broker config.
func NewLive(cfg config.BrokerConfig) *Live {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	return &Live{
		client: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(timeout).
			SetHeader("APCA-API-KEY-ID", cfg.APIKey).
			SetHeader("APCA-API-SECRET-KEY", cfg.APISecret),
		allowLive: cfg.AllowLiveOrders,
		liveLimit: cfg.LiveLimitPrice,
		now:       time.Now,
	}
}

// Mode implements Broker.
func (b *Live) Mode() models.ExecMode { return models.Live }

type contractResp struct {
	Symbol         string  `json:"symbol"`
	ExpirationDate string  `json:"expiration_date"` // YYYY-MM-DD
	StrikePrice    float64 `json:"strike_price,string"`
}

type contractsPage struct {
	Contracts []contractResp `json:"option_contracts"`
}

// ResolveVertical finds the exact contract symbols for both legs: fetch
// the chain in a narrow strike window around the two strikes, pick the
// listed expiration nearest to today + dte_days, then match strikes
// exactly.
func (b *Live) ResolveVertical(plan models.OrderPlan) (models.ResolvedVertical, error) {
	today := b.now().UTC().Truncate(24 * time.Hour)
	target := today.AddDate(0, 0, plan.DTEDays)
	lo := math.Min(plan.KLong, plan.KShort) - 0.001
	hi := math.Max(plan.KLong, plan.KShort) + 0.001

	side := "put"
	if plan.IsCall {
		side = "call"
	}

	var page contractsPage
	resp, err := b.client.R().
		SetQueryParams(map[string]string{
			"underlying_symbols":  plan.Underlier,
			"expiration_date_gte": target.AddDate(0, 0, -resolveWindowDays).Format("2006-01-02"),
			"expiration_date_lte": target.AddDate(0, 0, resolveWindowDays).Format("2006-01-02"),
			"type":                side,
			"strike_price_gte":    fmt.Sprintf("%.3f", lo),
			"strike_price_lte":    fmt.Sprintf("%.3f", hi),
			"limit":               "1000",
		}).
		SetResult(&page).
		Get("/v2/options/contracts")
	if err != nil {
		return models.ResolvedVertical{}, err
	}
	if resp.IsError() {
		return models.ResolvedVertical{}, fmt.Errorf("contracts query HTTP %d", resp.StatusCode())
	}
	if len(page.Contracts) == 0 {
		return models.ResolvedVertical{}, fmt.Errorf("NO_CONTRACTS_FOUND")
	}

	// Nearest listed expiration to the target date wins.
	type expInfo struct {
		date time.Time
		dist int
	}
	seen := make(map[string]expInfo)
	for _, c := range page.Contracts {
		if _, ok := seen[c.ExpirationDate]; ok {
			continue
		}
		d, err := time.Parse("2006-01-02", c.ExpirationDate)
		if err != nil {
			continue
		}
		dist := int(math.Abs(d.Sub(target).Hours() / 24))
		seen[c.ExpirationDate] = expInfo{date: d, dist: dist}
	}
	if len(seen) == 0 {
		return models.ResolvedVertical{}, fmt.Errorf("NO_EXPIRATIONS")
	}
	exps := make([]string, 0, len(seen))
	for e := range seen {
		exps = append(exps, e)
	}
	sort.Slice(exps, func(i, j int) bool {
		if seen[exps[i]].dist != seen[exps[j]].dist {
			return seen[exps[i]].dist < seen[exps[j]].dist
		}
		return exps[i] < exps[j]
	})
	bestExp := exps[0]

	var longSym, shortSym string
	for _, c := range page.Contracts {
		if c.ExpirationDate != bestExp {
			continue
		}
		if longSym == "" && math.Abs(c.StrikePrice-plan.KLong) <= strikeTol {
			longSym = c.Symbol
		}
		if shortSym == "" && math.Abs(c.StrikePrice-plan.KShort) <= strikeTol {
			shortSym = c.Symbol
		}
	}
	if longSym == "" || shortSym == "" {
		return models.ResolvedVertical{}, fmt.Errorf("LEG_SYMBOL_NOT_FOUND exp=%s long=%q short=%q", bestExp, longSym, shortSym)
	}

	best := seen[bestExp].date
	return models.ResolvedVertical{
		LongSymbol:  longSym,
		ShortSymbol: shortSym,
		Expiration:  best.Format("20060102"),
		DTEDays:     int(best.Sub(today).Hours() / 24),
	}, nil
}

type submitLeg struct {
	Symbol   string `json:"symbol"`
	RatioQty string `json:"ratio_qty"`
	Side     string `json:"side"`
}

type submitReq struct {
	Qty           string      `json:"qty"`
	TimeInForce   string      `json:"time_in_force"`
	LimitPrice    string      `json:"limit_price"`
	OrderClass    string      `json:"order_class"`
	ClientOrderID string      `json:"client_order_id"`
	Legs          []submitLeg `json:"legs"`
}

type submitResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SubmitOpen resolves the legs and, if both live guards allow, submits a
// multi-leg limit order: long leg BUY ratio 1, short leg SELL ratio 1,
// DAY time in force. No top-level symbol rides on a multi-leg order.
func (b *Live) SubmitOpen(plan models.OrderPlan) models.BrokerResult {
	resolved, err := b.ResolveVertical(plan)
	if err != nil {
		return models.BrokerResult{
			OK:    false,
			Mode:  models.Live,
			Error: "RESOLVE_FAILED:" + err.Error(),
		}
	}
	sig := Signature(plan, resolved)

	if !b.allowLive {
		return models.BrokerResult{
			OK:        false,
			Mode:      models.Live,
			Resolved:  &resolved,
			Signature: sig,
			Error:     "LIVE_BLOCKED_SET_ALLOW_LIVE_ORDERS=1",
		}
	}
	if b.liveLimit <= 0 {
		return models.BrokerResult{
			OK:        false,
			Mode:      models.Live,
			Resolved:  &resolved,
			Signature: sig,
			Error:     "LIVE_NEEDS_LIMIT_PRICE_SET_LIVE_LIMIT_PRICE",
		}
	}

	req := submitReq{
		Qty:           fmt.Sprintf("%d", plan.Qty),
		TimeInForce:   string(models.TIFDay),
		LimitPrice:    decimal.NewFromFloat(b.liveLimit).StringFixed(2),
		OrderClass:    "mleg",
		ClientOrderID: fmt.Sprintf("%s_%s", plan.Tag, uuid.NewString()[:8]),
		Legs: []submitLeg{
			{Symbol: resolved.LongSymbol, RatioQty: "1", Side: "buy"},
			{Symbol: resolved.ShortSymbol, RatioQty: "1", Side: "sell"},
		},
	}

	var order submitResp
	resp, err := b.client.R().
		SetBody(req).
		SetResult(&order).
		Post("/v2/orders")
	if err != nil {
		return models.BrokerResult{
			OK:        false,
			Mode:      models.Live,
			Resolved:  &resolved,
			Signature: sig,
			Error:     "BROKER_SUBMIT_FAILED:" + err.Error(),
		}
	}
	if resp.IsError() {
		return models.BrokerResult{
			OK:        false,
			Mode:      models.Live,
			Resolved:  &resolved,
			Signature: sig,
			Error:     fmt.Sprintf("BROKER_SUBMIT_FAILED:HTTP %d:%s", resp.StatusCode(), resp.String()),
		}
	}

	return models.BrokerResult{
		OK:        true,
		Mode:      models.Live,
		Submitted: true,
		Resolved:  &resolved,
		OrderID:   order.ID,
		Signature: sig,
	}
}

func orderFromRaw(raw map[string]any) Order {
	str := func(k string) string {
		if v, ok := raw[k].(string); ok {
			return v
		}
		return ""
	}
	return Order{
		ID:            str("id"),
		ClientOrderID: str("client_order_id"),
		Status:        NormalizeStatus(str("status")),
		Raw:           raw,
	}
}

// ListOpenOrders implements OrderReader.
func (b *Live) ListOpenOrders() ([]Order, error) {
	var raw []map[string]any
	resp, err := b.client.R().
		SetQueryParam("status", "open").
		SetResult(&raw).
		Get("/v2/orders")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("orders query HTTP %d", resp.StatusCode())
	}
	out := make([]Order, 0, len(raw))
	for _, r := range raw {
		o := orderFromRaw(r)
		if o.ID == "" {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// GetOrder implements OrderReader. Used to capture terminal transitions
// for orders that fell out of the open list.
func (b *Live) GetOrder(id string) (Order, error) {
	var raw map[string]any
	resp, err := b.client.R().
		SetResult(&raw).
		Get("/v2/orders/" + id)
	if err != nil {
		return Order{}, err
	}
	if resp.IsError() {
		return Order{}, fmt.Errorf("order fetch HTTP %d", resp.StatusCode())
	}
	return orderFromRaw(raw), nil
}
