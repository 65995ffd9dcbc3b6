package alert

import (
	"strings"
	"testing"

	"github.com/neuroxhq/neurox-oms/internal/config"
)

func TestSeverityFor(t *testing.T) {
	cases := map[string]string{
		"new":              SevYellow,
		"pending_new":      SevYellow,
		"accepted":         SevYellow,
		"partially_filled": SevOrange,
		"replaced":         SevOrange,
		"filled":           SevRed,
		"canceled":         SevRed,
		"cancelled":        SevRed,
		"rejected":         SevRed,
		"expired":          SevRed,
		"failed":           SevRed,
		"held":             SevYellow,
		"something_else":   SevYellow,
	}
	for status, want := range cases {
		if got := SeverityFor(status); got != want {
			t.Errorf("SeverityFor(%q) = %s, want %s", status, got, want)
		}
	}
}

func TestShouldAlert(t *testing.T) {
	if !ShouldAlert(SevRed, SevYellow) || !ShouldAlert(SevYellow, SevYellow) {
		t.Error("Everything at or above the floor must alert")
	}
	if ShouldAlert(SevYellow, SevOrange) || ShouldAlert(SevOrange, SevRed) {
		t.Error("Below the floor must not alert")
	}
	if !ShouldAlert(SevOrange, "bogus") {
		t.Error("Unrecognized floor falls back to YELLOW")
	}
	if ShouldAlert("bogus", SevYellow) {
		t.Error("Unrecognized severity never alerts")
	}
}

func TestNotifierWithoutToken(t *testing.T) {
	n, err := NewNotifier(config.AlertsConfig{MinSeverity: SevOrange})
	if err != nil {
		t.Fatalf("NewNotifier failed: %v", err)
	}
	if n.Notify(Event{Severity: SevYellow, OrderID: "ord-1"}) {
		t.Error("YELLOW must not clear an ORANGE floor")
	}
	if !n.Notify(Event{Severity: SevRed, OrderID: "ord-1"}) {
		t.Error("RED must clear an ORANGE floor even without a bot")
	}
}

func TestEventText(t *testing.T) {
	e := Event{
		TS:       "2026-08-24T12:00:00Z",
		OrderID:  "0123456789abcdef",
		Tag:      "GATE_QQQ",
		Severity: SevRed,
		Prev:     "accepted",
		New:      "filled",
	}
	txt := e.text()
	if !strings.Contains(txt, "RED GATE_QQQ 01234567 accepted -> filled") {
		t.Errorf("Unexpected alert text: %s", txt)
	}
	if !strings.Contains(txt, "order_id: 0123456789abcdef") {
		t.Errorf("Full order id missing: %s", txt)
	}
}
