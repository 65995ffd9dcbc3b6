// Package broker translates approved order plans into broker orders.
// Two implementations share one contract: PlanOnly resolves and journals
// without ever touching the wire, Live submits real multi-leg orders
// behind explicit guard flags.
package broker

import (
	"fmt"
	"strings"

	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// Broker is the execution boundary used by the open executor. SubmitOpen
// never returns a Go error: every outcome, including failures, is a
// BrokerResult so the caller can journal it verbatim.
type Broker interface {
	Mode() models.ExecMode
	SubmitOpen(plan models.OrderPlan) models.BrokerResult
	ResolveVertical(plan models.OrderPlan) (models.ResolvedVertical, error)
}

// Order is the broker's view of one working or terminal order, shaped for
// the poller.
type Order struct {
	ID            string
	ClientOrderID string
	Status        string
	Raw           map[string]any
}

// OrderReader is the polling side of the broker API.
type OrderReader interface {
	ListOpenOrders() ([]Order, error)
	GetOrder(id string) (Order, error)
}

// Signature builds the dedup key for a resolved open request. Two submits
// with the same signature are the same trade.
func Signature(plan models.OrderPlan, resolved models.ResolvedVertical) string {
	cp := "P"
	if plan.IsCall {
		cp = "C"
	}
	return fmt.Sprintf("%s|%s|%s|%g|%g|%d|%s",
		plan.Underlier, resolved.Expiration, cp, plan.KLong, plan.KShort, plan.Qty, plan.Tag)
}

// NormalizeStatus folds the broker's status spellings into one lowercase
// token so trackers never bounce between "accepted" and
// "OrderStatus.ACCEPTED".
func NormalizeStatus(s string) string {
	txt := strings.ToLower(strings.TrimSpace(s))
	txt = strings.ReplaceAll(txt, "orderstatus.", "")
	txt = strings.ReplaceAll(txt, "orderstatus_", "")
	txt = strings.ReplaceAll(txt, "orderstatus", "")
	txt = strings.Trim(txt, ". _-")
	if txt == "" {
		return "unknown"
	}
	return txt
}

// IsTerminalStatus reports whether a normalized status ends an order's
// life. Terminal orders are pruned from tracking.
func IsTerminalStatus(s string) bool {
	switch s {
	case "filled", "canceled", "cancelled", "rejected", "expired", "failed":
		return true
	}
	return false
}

// IsActiveStatus reports whether a normalized status still blocks a
// duplicate submit of the same signature.
func IsActiveStatus(s string) bool {
	switch s {
	case "new", "accepted", "pending_new", "partially_filled", "held", "replaced":
		return true
	}
	return false
}
