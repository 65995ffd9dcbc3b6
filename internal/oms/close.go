package oms

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/neuroxhq/neurox-oms/internal/ledger"
	"github.com/neuroxhq/neurox-oms/internal/risk"
	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// CloseSimTag marks simulated close fills in the fills log.
const CloseSimTag = "OMS_CLOSE_SIM"

// Closer is the reduce-only close executor. It consumes close intents
// under an exclusive lock, rejects anything stale or exposure-increasing,
// and in plan-only mode applies simulated fills through the ledger.
type Closer struct {
	store     *state.Store
	modes     *risk.ModeStore
	ledger    *ledger.Ledger
	mode      models.ExecMode
	maxAgeSec int64
	now       func() time.Time
}

// NewCloser returns a close executor. maxAgeSec bounds intent freshness.
func NewCloser(store *state.Store, modes *risk.ModeStore, led *ledger.Ledger, mode models.ExecMode, maxAgeSec int64) *Closer {
	return &Closer{store: store, modes: modes, ledger: led, mode: mode, maxAgeSec: maxAgeSec, now: time.Now}
}

// normalizeActions aggregates by symbol and side and drops anything
// malformed, so twenty one-lot instructions become one action per leg.
func normalizeActions(actions []models.DeriskAction) []models.DeriskAction {
	type key struct {
		sym  string
		side models.OrderSide
	}
	agg := make(map[key]int)
	for _, a := range actions {
		if a.Symbol == "" || a.Qty <= 0 || (a.CloseSide != models.Buy && a.CloseSide != models.Sell) {
			continue
		}
		agg[key{a.Symbol, a.CloseSide}] += a.Qty
	}
	out := make([]models.DeriskAction, 0, len(agg))
	for k, q := range agg {
		out = append(out, models.DeriskAction{Symbol: k.sym, CloseSide: k.side, Qty: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].CloseSide < out[j].CloseSide
	})
	return out
}

// validateReduceOnly checks that every action shrinks exposure: longs may
// only SELL up to net, shorts may only BUY up to abs(net), flat symbols
// may not trade at all.
func validateReduceOnly(actions []models.DeriskAction, pos map[string]int) []string {
	var breaches []string
	for _, a := range actions {
		net := pos[a.Symbol]
		switch {
		case net == 0:
			breaches = append(breaches,
				fmt.Sprintf("REDUCE_ONLY_VIOLATION %s net=0 action=%s qty=%d", a.Symbol, a.CloseSide, a.Qty))
		case net > 0:
			if a.CloseSide != models.Sell {
				breaches = append(breaches,
					fmt.Sprintf("REDUCE_ONLY_VIOLATION %s net=%d requires SELL got %s", a.Symbol, net, a.CloseSide))
			}
			if a.Qty > net {
				breaches = append(breaches,
					fmt.Sprintf("REDUCE_ONLY_VIOLATION %s qty %d > net %d", a.Symbol, a.Qty, net))
			}
		default:
			if a.CloseSide != models.Buy {
				breaches = append(breaches,
					fmt.Sprintf("REDUCE_ONLY_VIOLATION %s net=%d requires BUY got %s", a.Symbol, net, a.CloseSide))
			}
			if a.Qty > -net {
				breaches = append(breaches,
					fmt.Sprintf("REDUCE_ONLY_VIOLATION %s qty %d > abs(net) %d", a.Symbol, a.Qty, -net))
			}
		}
	}
	return breaches
}

// priceProxies reads per-symbol mids from the greeks snapshot. A symbol
// without a row simply has no proxy; simulated fills then price at zero.
func (c *Closer) priceProxies() map[string]float64 {
	var g models.PortfolioGreeks
	if err := c.store.ReadJSON(state.FileGreeks, &g); err != nil {
		return nil
	}
	out := make(map[string]float64, len(g.Positions))
	for _, p := range g.Positions {
		out[p.Symbol] = p.Mid
	}
	return out
}

func intentAge(now time.Time, ts string) int64 {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return now.Unix()
	}
	age := now.Unix() - t.Unix()
	if age < 0 {
		return 0
	}
	return age
}

// Close runs one close pass.
func (c *Closer) Close() (models.OmsCloseState, error) {
	t0 := c.now()
	out := models.OmsCloseState{
		TS:    t0.UTC().Format(time.RFC3339),
		Mode:  c.mode,
		Steps: []models.CloseStep{},
	}
	finish := func() (models.OmsCloseState, error) {
		if err := c.store.WriteJSON(state.FileCloseState, out); err != nil {
			return models.OmsCloseState{}, err
		}
		return out, nil
	}

	if err := c.store.AcquireLock(state.LockClose); err != nil {
		if errors.Is(err, state.ErrLockHeld) {
			out.State = models.StateLocked
			out.Reason = "ANOTHER_OMS_CLOSE_RUNNING"
			return finish()
		}
		return models.OmsCloseState{}, err
	}
	defer c.store.ReleaseLock(state.LockClose)

	rm := c.modes.Get()
	out.RiskMode = rm.Mode

	if !c.modes.AllowClose() {
		out.State = models.StateHalt
		out.Reason = "RISK_MODE_BLOCKS_CLOSE:" + rm.Reason
		return finish()
	}

	if !c.store.Exists(state.FileCloseIntent) {
		out.State = models.StateNoIntent
		out.Reason = "NO_CLOSE_INTENT"
		return finish()
	}
	var intent models.CloseIntent
	if err := c.store.ReadJSON(state.FileCloseIntent, &intent); err != nil {
		out.State = models.StateReject
		out.Reason = "INVALID_INTENT_UNREADABLE"
		return finish()
	}
	out.IntentTS = intent.TS

	age := intentAge(t0, intent.TS)
	if age > c.maxAgeSec {
		// Stale intents stay on disk for the audit trail.
		out.State = models.StateReject
		out.Reason = fmt.Sprintf("STALE_INTENT age_sec=%d > max_age=%d", age, c.maxAgeSec)
		return finish()
	}
	out.IntentAgeSec = age

	actions := normalizeActions(intent.Actions)
	if len(actions) == 0 {
		if err := c.store.Remove(state.FileCloseIntent); err != nil {
			return models.OmsCloseState{}, err
		}
		out.State = models.StateDone
		out.Reason = "NO_ACTIONS_IN_INTENT"
		return finish()
	}

	book, err := c.ledger.ReadBook()
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return models.OmsCloseState{}, err
	}
	pos := make(map[string]int, len(book.Positions))
	for _, p := range book.Positions {
		pos[p.Symbol] = p.NetQty
	}

	if breaches := validateReduceOnly(actions, pos); len(breaches) > 0 {
		out.State = models.StateReject
		out.Reason = "REDUCE_ONLY_VIOLATION"
		out.Breaches = breaches
		out.Actions = actions
		out.PositionsBefore = book.Positions
		return finish()
	}

	proxies := c.priceProxies()
	for _, a := range actions {
		var px *float64
		price := 0.0
		if p, ok := proxies[a.Symbol]; ok {
			price = p
			px = &p
		}
		if err := c.ledger.RecordFill(a.Symbol, a.Qty, a.CloseSide, price, CloseSimTag); err != nil {
			return models.OmsCloseState{}, err
		}
		if a.CloseSide == models.Sell {
			pos[a.Symbol] -= a.Qty
		} else {
			pos[a.Symbol] += a.Qty
		}
		out.Steps = append(out.Steps, models.CloseStep{
			TS:         c.now().UTC().Format(time.RFC3339),
			Symbol:     a.Symbol,
			Side:       a.CloseSide,
			Qty:        a.Qty,
			PriceProxy: px,
			Result:     "SIM_FILLED",
		})
	}

	remaining := make([]models.Position, 0, len(pos))
	for sym, q := range pos {
		remaining = append(remaining, models.Position{Symbol: sym, NetQty: q})
	}
	newBook, err := c.ledger.WriteBook(remaining)
	if err != nil {
		return models.OmsCloseState{}, err
	}
	if err := c.store.Remove(state.FileCloseIntent); err != nil {
		return models.OmsCloseState{}, err
	}

	out.State = models.StateDone
	out.PositionsAfter = newBook.Positions
	out.ElapsedSec = c.now().Unix() - t0.Unix()
	return finish()
}
