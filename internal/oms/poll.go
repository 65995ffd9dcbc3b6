package oms

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/neuroxhq/neurox-oms/internal/alert"
	"github.com/neuroxhq/neurox-oms/internal/broker"
	"github.com/neuroxhq/neurox-oms/internal/journal"
	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// IntentPoll is the journal intent type for poller events.
const IntentPoll = "OMS_POLL"

// DefaultTag is what the poller assigns to an order whose tag cannot be
// inferred from its client order id.
const DefaultTag = "UNKNOWN"

// pollFetchers bounds concurrent by-id fetches for non-open orders.
const pollFetchers = 4

// Poller reconciles open_orders.json against the broker: discover open
// orders, chase the non-open ones by id, record transitions, prune
// terminals and alert on anything notable.
type Poller struct {
	store     *state.Store
	journal   *journal.Journal
	reader    broker.OrderReader
	notifier  *alert.Notifier
	mode      models.ExecMode
	tagPrefix string
	paper     bool
	now       func() time.Time
}

// NewPoller returns a poller. tagPrefix, when set, restricts
// auto-discovery to orders whose inferred tag carries the prefix.
func NewPoller(store *state.Store, jrnl *journal.Journal, reader broker.OrderReader,
	notifier *alert.Notifier, mode models.ExecMode, tagPrefix string, paper bool) *Poller {
	return &Poller{
		store:     store,
		journal:   jrnl,
		reader:    reader,
		notifier:  notifier,
		mode:      mode,
		tagPrefix: tagPrefix,
		paper:     paper,
		now:       time.Now,
	}
}

func inferTag(o broker.Order) string {
	if o.ClientOrderID != "" {
		return o.ClientOrderID
	}
	return DefaultTag
}

// Poll runs one reconciliation pass. Broker connectivity failures come
// back as a CLIENT_ERROR poll state, not as a Go error.
func (p *Poller) Poll(ctx context.Context) (models.PollState, error) {
	t0 := p.now()
	ts := t0.UTC().Format(time.RFC3339)

	var tracked models.OpenOrders
	if err := p.store.ReadJSON(state.FileOpenOrders, &tracked); err != nil {
		tracked = models.OpenOrders{Orders: map[string]models.TrackedOrder{}}
	}
	if tracked.Orders == nil {
		tracked.Orders = map[string]models.TrackedOrder{}
	}
	var alerts models.AlertsState
	if err := p.store.ReadJSON(state.FileAlerts, &alerts); err != nil {
		alerts = models.AlertsState{LastAlert: map[string]models.LastAlert{}}
	}
	if alerts.LastAlert == nil {
		alerts.LastAlert = map[string]models.LastAlert{}
	}

	p.journal.Append(IntentPoll, ts, "POLL_START", true, p.mode, "",
		map[string]any{"n_orders": len(tracked.Orders), "paper": p.paper})

	out := models.PollState{
		TS:      ts,
		Mode:    p.mode,
		Changed: []models.StatusChange{},
		Errors:  []string{},
	}
	finish := func(writeOrders, writeAlerts bool) (models.PollState, error) {
		out.ElapsedMS = p.now().Sub(t0).Milliseconds()
		out.NOrders = len(tracked.Orders)
		if err := p.store.WriteJSON(state.FilePollState, out); err != nil {
			return models.PollState{}, err
		}
		if writeOrders {
			tracked.TS = ts
			tracked.Mode = p.mode
			if err := p.store.WriteJSON(state.FileOpenOrders, tracked); err != nil {
				return models.PollState{}, err
			}
		}
		if writeAlerts {
			alerts.TS = ts
			if err := p.store.WriteJSON(state.FileAlerts, alerts); err != nil {
				return models.PollState{}, err
			}
		}
		return out, nil
	}

	discoveredList, err := p.reader.ListOpenOrders()
	if err != nil {
		msg := "CLIENT_ERROR:" + err.Error()
		out.OK = false
		out.State = models.StateClientError
		out.Errors = append(out.Errors, msg)
		p.journal.Append(IntentPoll, ts, "CLIENT_ERROR", false, p.mode, msg, nil)
		return finish(false, false)
	}
	discovered := make(map[string]broker.Order, len(discoveredList))
	for _, o := range discoveredList {
		if o.ID == "" {
			continue
		}
		discovered[o.ID] = o
	}

	// Auto-discovery: anything open at the broker joins tracking, subject
	// to the tag-prefix filter.
	for id, o := range discovered {
		tag := inferTag(o)
		if p.tagPrefix != "" && !strings.HasPrefix(tag, p.tagPrefix) {
			continue
		}
		if _, ok := tracked.Orders[id]; !ok {
			tracked.Orders[id] = models.TrackedOrder{
				OrderID:  id,
				Status:   "unknown",
				Tag:      tag,
				LastSeen: ts,
				Paper:    p.paper,
			}
		}
	}

	ids := make(map[string]struct{}, len(tracked.Orders)+len(discovered))
	for id := range tracked.Orders {
		ids[id] = struct{}{}
	}
	for id := range discovered {
		ids[id] = struct{}{}
	}
	if len(ids) == 0 {
		out.OK = true
		out.State = models.StateNoOrders
		st, err := finish(true, true)
		if err == nil {
			p.journal.Append(IntentPoll, ts, "POLL_DONE", true, p.mode, "", map[string]any{"state": st.State})
		}
		return st, err
	}

	// Orders that left the open list may be terminal now; chase them by
	// id, a few at a time.
	var missing []string
	for id := range ids {
		if _, ok := discovered[id]; !ok {
			missing = append(missing, id)
		}
	}
	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(pollFetchers)
	fetched := make(map[string]broker.Order, len(missing))
	for _, id := range missing {
		id := id
		g.Go(func() error {
			o, err := p.reader.GetOrder(id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				msg := "GET_ORDER_FAILED:" + err.Error()
				out.Errors = append(out.Errors, msg)
				p.journal.Append(IntentPoll, ts, "ORDER_FETCH_ERROR", false, p.mode, msg,
					map[string]any{"order_id": id})
				return nil
			}
			fetched[id] = o
			return nil
		})
	}
	g.Wait()

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	var terminal []string
	for _, id := range sorted {
		o, ok := discovered[id]
		if !ok {
			if o, ok = fetched[id]; !ok {
				continue
			}
		}
		prev := tracked.Orders[id]
		prevStatus := broker.NormalizeStatus(prev.Status)
		status := broker.NormalizeStatus(o.Status)

		tag := prev.Tag
		if tag == "" || tag == DefaultTag {
			tag = inferTag(o)
		}
		tracked.Orders[id] = models.TrackedOrder{
			OrderID:  id,
			Status:   status,
			Tag:      tag,
			LastSeen: ts,
			Paper:    p.paper,
			Raw:      o.Raw,
		}

		if status != prevStatus {
			out.Changed = append(out.Changed, models.StatusChange{OrderID: id, Prev: prevStatus, New: status})
			sev := alert.SeverityFor(status)

			last := alerts.LastAlert[id]
			if p.mode == models.Live && (status != broker.NormalizeStatus(last.Status) || sev != last.Severity) {
				if p.notifier.Notify(alert.Event{
					TS: ts, OrderID: id, Tag: tag, Severity: sev, Prev: prevStatus, New: status,
				}) {
					alerts.LastAlert[id] = models.LastAlert{TS: ts, Status: status, Severity: sev}
					p.journal.Append(IntentPoll, ts, "ALERT", true, p.mode, "",
						map[string]any{"order_id": id, "prev": prevStatus, "new": status, "sev": sev, "tag": tag})
				}
			}
			if broker.IsTerminalStatus(status) {
				p.journal.Append(IntentPoll, ts, "TERMINAL", true, p.mode, "",
					map[string]any{"order_id": id, "status": status, "tag": tag})
				terminal = append(terminal, id)
			}
		} else if broker.IsTerminalStatus(status) {
			terminal = append(terminal, id)
		}
	}
	for _, id := range terminal {
		delete(tracked.Orders, id)
	}

	out.OK = true
	out.State = models.StatePollOK
	if len(tracked.Orders) == 0 {
		out.State = models.StateNoOrders
	}
	st, ferr := finish(true, true)
	if ferr == nil {
		p.journal.Append(IntentPoll, ts, "POLL_DONE", true, p.mode, "",
			map[string]any{"state": st.State, "n_orders": st.NOrders, "changed": len(st.Changed)})
	}
	return st, ferr
}
