// Package alert maps order-status transitions to severities and pushes
// the ones that clear the configured floor over Telegram. Delivery is
// best-effort: a missing bot or a send failure never blocks the poller.
package alert

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/neuroxhq/neurox-oms/internal/config"
)

// Severities, lowest to highest.
const (
	SevYellow = "YELLOW"
	SevOrange = "ORANGE"
	SevRed    = "RED"
)

var sevRank = map[string]int{
	SevYellow: 1,
	SevOrange: 2,
	SevRed:    3,
}

// SeverityFor classifies a normalized order status. Working statuses are
// YELLOW, partial progress is ORANGE, terminal outcomes are RED. Unknown
// statuses default to YELLOW.
func SeverityFor(status string) string {
	switch status {
	case "partially_filled", "replaced":
		return SevOrange
	case "filled", "canceled", "cancelled", "rejected", "expired", "failed":
		return SevRed
	}
	return SevYellow
}

// ShouldAlert reports whether sev clears the minimum. An unrecognized
// minimum falls back to YELLOW; an unrecognized severity never alerts.
func ShouldAlert(sev, minSev string) bool {
	r, ok := sevRank[sev]
	if !ok {
		return false
	}
	min, ok := sevRank[minSev]
	if !ok {
		min = sevRank[SevYellow]
	}
	return r >= min
}

// Event is one order-status transition worth telling a human about.
type Event struct {
	TS       string
	OrderID  string
	Tag      string
	Severity string
	Prev     string
	New      string
}

func (e Event) text() string {
	id := e.OrderID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("[NeuroX OMS] %s %s %s %s -> %s\nts: %s\norder_id: %s",
		e.Severity, e.Tag, id, e.Prev, e.New, e.TS, e.OrderID)
}

// Notifier sends alert events to a Telegram chat.
type Notifier struct {
	minSev string
	chat   int64
	api    *tgbotapi.BotAPI
}

// NewNotifier builds a notifier from alert config. Without a token it
// still filters severities but sends nothing, so plan-only and test runs
// need no credentials.
func NewNotifier(cfg config.AlertsConfig) (*Notifier, error) {
	n := &Notifier{minSev: cfg.MinSeverity, chat: cfg.TelegramChat}
	if cfg.TelegramToken == "" {
		return n, nil
	}
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	n.api = api
	return n, nil
}

// MinSeverity exposes the configured floor for callers that pre-filter.
func (n *Notifier) MinSeverity() string { return n.minSev }

// Notify delivers one event if it clears the floor. Returns whether the
// event was considered alertable; delivery problems are logged, not
// returned, because alerting must never fail a poll.
func (n *Notifier) Notify(e Event) bool {
	if !ShouldAlert(e.Severity, n.minSev) {
		return false
	}
	if n.api == nil {
		log.Debug().Str("order_id", e.OrderID).Str("sev", e.Severity).Msg("Alert suppressed, no Telegram bot configured")
		return true
	}
	msg := tgbotapi.NewMessage(n.chat, e.text())
	if _, err := n.api.Send(msg); err != nil {
		log.Warn().Err(err).Str("order_id", e.OrderID).Msg("Telegram send failed")
	}
	return true
}
