package broker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/neuroxhq/neurox-oms/internal/config"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

var testPlan = models.OrderPlan{
	Type:       "VERTICAL",
	Underlier:  "QQQ",
	IsCall:     true,
	KLong:      600,
	KShort:     610,
	DTEDays:    30,
	Qty:        2,
	LimitLogic: "MID_THEN_STEP",
	Tag:        "GATE_QQQ",
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]string{
		"accepted":             "accepted",
		"OrderStatus.ACCEPTED": "accepted",
		"orderstatus_new":      "new",
		"  Filled  ":           "filled",
		"":                     "unknown",
		"OrderStatus.":         "unknown",
	}
	for in, want := range cases {
		if got := NormalizeStatus(in); got != want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusClasses(t *testing.T) {
	for _, s := range []string{"filled", "canceled", "cancelled", "rejected", "expired", "failed"} {
		if !IsTerminalStatus(s) {
			t.Errorf("%s should be terminal", s)
		}
		if IsActiveStatus(s) {
			t.Errorf("%s should not be active", s)
		}
	}
	for _, s := range []string{"new", "accepted", "pending_new", "partially_filled", "held", "replaced"} {
		if !IsActiveStatus(s) {
			t.Errorf("%s should be active", s)
		}
		if IsTerminalStatus(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestPlanOnlySubmit(t *testing.T) {
	b := NewPlanOnly()
	b.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }

	res := b.SubmitOpen(testPlan)
	if !res.OK || res.Submitted {
		t.Fatalf("Expected OK translation without submission, got %+v", res)
	}
	if res.Resolved == nil {
		t.Fatal("Resolved legs missing")
	}
	if res.Resolved.LongSymbol != "QQQ260923C00600000" {
		t.Errorf("Unexpected long symbol %s", res.Resolved.LongSymbol)
	}
	if res.Resolved.ShortSymbol != "QQQ260923C00610000" {
		t.Errorf("Unexpected short symbol %s", res.Resolved.ShortSymbol)
	}
	if res.Resolved.Expiration != "20260923" {
		t.Errorf("Unexpected expiration %s", res.Resolved.Expiration)
	}
	want := "QQQ|20260923|C|600|610|2|GATE_QQQ"
	if res.Signature != want {
		t.Errorf("Signature = %s, want %s", res.Signature, want)
	}
}

func liveServer(t *testing.T, submit http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/options/contracts", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "call" {
			t.Errorf("Expected call filter, got %s", r.URL.Query().Get("type"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"option_contracts": []map[string]any{
				{"symbol": "QQQ260918C00600000", "expiration_date": "2026-09-18", "strike_price": "600"},
				{"symbol": "QQQ260918C00610000", "expiration_date": "2026-09-18", "strike_price": "610"},
				{"symbol": "QQQ260925C00600000", "expiration_date": "2026-09-25", "strike_price": "600"},
				{"symbol": "QQQ260925C00610000", "expiration_date": "2026-09-25", "strike_price": "610"},
			},
		})
	})
	if submit != nil {
		mux.HandleFunc("/v2/orders", submit)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newLive(t *testing.T, url string, allow bool, limit float64) *Live {
	t.Helper()
	b := NewLive(config.BrokerConfig{
		BaseURL:         url,
		APIKey:          "k",
		APISecret:       "s",
		AllowLiveOrders: allow,
		LiveLimitPrice:  limit,
		TimeoutSec:      5,
	})
	b.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	return b
}

func TestLiveResolvePicksNearestExpiration(t *testing.T) {
	srv := liveServer(t, nil)
	b := newLive(t, srv.URL, false, 0)

	// Target 2026-09-23 sits between the two listed Fridays; the 25th is
	// two days out versus five for the 18th.
	resolved, err := b.ResolveVertical(testPlan)
	if err != nil {
		t.Fatalf("ResolveVertical failed: %v", err)
	}
	if resolved.Expiration != "20260925" {
		t.Errorf("Expected nearest expiration 20260925, got %s", resolved.Expiration)
	}
	if resolved.LongSymbol != "QQQ260925C00600000" || resolved.ShortSymbol != "QQQ260925C00610000" {
		t.Errorf("Wrong legs: %+v", resolved)
	}
	if resolved.DTEDays != 32 {
		t.Errorf("Expected 32 DTE, got %d", resolved.DTEDays)
	}
}

func TestLiveGuards(t *testing.T) {
	srv := liveServer(t, nil)

	res := newLive(t, srv.URL, false, 1.25).SubmitOpen(testPlan)
	if res.OK || res.Error != "LIVE_BLOCKED_SET_ALLOW_LIVE_ORDERS=1" {
		t.Errorf("Expected live block, got %+v", res)
	}
	if res.Resolved == nil {
		t.Error("Blocked result should still carry resolution for journaling")
	}

	res = newLive(t, srv.URL, true, 0).SubmitOpen(testPlan)
	if res.OK || res.Error != "LIVE_NEEDS_LIMIT_PRICE_SET_LIVE_LIMIT_PRICE" {
		t.Errorf("Expected limit-price block, got %+v", res)
	}
}

func TestLiveSubmit(t *testing.T) {
	var got submitReq
	srv := liveServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Bad submit body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": "ord-1", "status": "accepted"})
	})

	res := newLive(t, srv.URL, true, 1.25).SubmitOpen(testPlan)
	if !res.OK || !res.Submitted || res.OrderID != "ord-1" {
		t.Fatalf("Expected submitted order, got %+v", res)
	}
	if got.OrderClass != "mleg" || got.Qty != "2" || got.TimeInForce != "day" {
		t.Errorf("Bad order shape: %+v", got)
	}
	if got.LimitPrice != "1.25" {
		t.Errorf("Limit price = %s, want 1.25", got.LimitPrice)
	}
	if len(got.Legs) != 2 || got.Legs[0].Side != "buy" || got.Legs[1].Side != "sell" {
		t.Errorf("Bad legs: %+v", got.Legs)
	}
	if !strings.HasPrefix(got.ClientOrderID, "GATE_QQQ_") {
		t.Errorf("Client order id must carry the tag: %s", got.ClientOrderID)
	}
}

func TestLiveResolveFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/options/contracts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"option_contracts": []map[string]any{}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	res := newLive(t, srv.URL, true, 1.25).SubmitOpen(testPlan)
	if res.OK || !strings.HasPrefix(res.Error, "RESOLVE_FAILED:") {
		t.Errorf("Expected resolve failure, got %+v", res)
	}
}

func TestLiveOrderReader(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "ord-1", "client_order_id": "GATE_QQQ_ab12cd34", "status": "OrderStatus.NEW"},
			{"client_order_id": "no-id-dropped", "status": "new"},
		})
	})
	mux.HandleFunc("/v2/orders/ord-2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": "ord-2", "status": "filled", "filled_qty": "2"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	b := newLive(t, srv.URL, false, 0)

	open, err := b.ListOpenOrders()
	if err != nil {
		t.Fatalf("ListOpenOrders failed: %v", err)
	}
	if len(open) != 1 || open[0].ID != "ord-1" || open[0].Status != "new" {
		t.Errorf("Unexpected open orders: %+v", open)
	}
	if open[0].ClientOrderID != "GATE_QQQ_ab12cd34" {
		t.Errorf("Client order id lost: %+v", open[0])
	}

	o, err := b.GetOrder("ord-2")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if o.Status != "filled" || o.Raw["filled_qty"] != "2" {
		t.Errorf("Unexpected order: %+v", o)
	}
}
