package oms

import (
	"time"

	"github.com/neuroxhq/neurox-oms/internal/broker"
	"github.com/neuroxhq/neurox-oms/internal/journal"
	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// OpenExecutor consumes the open intent exactly once: translate, submit
// through the broker, journal every hop, and delete the intent only
// after the success event is durable.
type OpenExecutor struct {
	store   *state.Store
	journal *journal.Journal
	broker  broker.Broker
	paper   bool
	now     func() time.Time
}

// NewOpenExecutor returns an open executor over the given broker.
func NewOpenExecutor(store *state.Store, jrnl *journal.Journal, b broker.Broker, paper bool) *OpenExecutor {
	return &OpenExecutor{store: store, journal: jrnl, broker: b, paper: paper, now: time.Now}
}

// trackOrder merges a freshly submitted order into open_orders.json so
// the poller picks it up on its next pass.
func (e *OpenExecutor) trackOrder(ts, orderID, tag string) {
	var doc models.OpenOrders
	if err := e.store.ReadJSON(state.FileOpenOrders, &doc); err != nil {
		doc = models.OpenOrders{Orders: map[string]models.TrackedOrder{}}
	}
	if doc.Orders == nil {
		doc.Orders = map[string]models.TrackedOrder{}
	}
	doc.TS = ts
	doc.Mode = e.broker.Mode()
	doc.Orders[orderID] = models.TrackedOrder{
		OrderID:  orderID,
		Status:   "unknown",
		Tag:      tag,
		LastSeen: ts,
		Paper:    e.paper,
	}
	if err := e.store.WriteJSON(state.FileOpenOrders, doc); err != nil {
		e.journal.Append(models.IntentOpen, ts, "BROKER_TRANSLATE_SUBMIT", false, e.broker.Mode(),
			"ORDER_TRACKING_WRITE_FAILED:"+err.Error(), nil)
	}
}

// Execute runs one executor pass against whatever intent is on disk.
func (e *OpenExecutor) Execute() (models.OmsOpenExecState, error) {
	t0 := e.now()
	mode := e.broker.Mode()

	out := models.OmsOpenExecState{
		TS:   t0.UTC().Format(time.RFC3339),
		Mode: mode,
	}
	finish := func() (models.OmsOpenExecState, error) {
		out.ElapsedMS = e.now().Sub(t0).Milliseconds()
		if err := e.store.WriteJSON(state.FileOpenExec, out); err != nil {
			return models.OmsOpenExecState{}, err
		}
		return out, nil
	}

	if !e.store.Exists(state.FileOpenIntent) {
		out.State = models.StateNoIntent
		out.Reason = "NO_OPEN_INTENT"
		return finish()
	}

	var intent models.OpenIntent
	if err := e.store.ReadJSON(state.FileOpenIntent, &intent); err != nil {
		out.State = models.StateIntentInvalid
		out.Reason = "INVALID_INTENT_UNREADABLE"
		return finish()
	}
	out.IntentTS = intent.TS
	out.Candidate = intent.Candidate

	e.journal.Append(intent.Type, intent.TS, "OPEN_EXEC_START", true, mode, "",
		map[string]any{"candidate": intent.Candidate})

	if intent.OrderPlan == nil {
		msg := "INVALID_INTENT_MISSING_ORDER_PLAN"
		e.journal.Append(intent.Type, intent.TS, "BROKER_TRANSLATE_SUBMIT", false, mode, msg, nil)
		out.State = models.StateIntentInvalid
		out.Reason = msg
		return finish()
	}
	out.OrderPlan = intent.OrderPlan
	out.Decision = intent.Decision

	result := e.broker.SubmitOpen(*intent.OrderPlan)
	out.BrokerResult = &result
	e.journal.Append(intent.Type, intent.TS, "BROKER_TRANSLATE_SUBMIT", result.OK, mode, result.Error,
		map[string]any{"broker_result": result})

	if !result.OK {
		out.State = models.StateBrokerError
		out.Reason = result.Error
		return finish()
	}

	// Intent is consumed only after the success event is journaled.
	if err := e.store.Remove(state.FileOpenIntent); err != nil {
		out.State = models.StateBrokerError
		out.Reason = "INTENT_DELETE_FAILED:" + err.Error()
		return finish()
	}
	e.journal.Append(intent.Type, intent.TS, "INTENT_CONSUME_OK", true, mode, "", nil)
	out.IntentDeleted = true

	if result.Submitted {
		out.State = models.StateOpenSubmitted
		if result.OrderID != "" {
			e.trackOrder(out.TS, result.OrderID, intent.OrderPlan.Tag)
		}
	} else {
		out.State = models.StatePlanTranslated
	}
	return finish()
}
