package risk

import (
	"time"

	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// Executor statuses.
const (
	ExecNoExec      = "NO_EXEC"
	ExecWroteIntent = "WROTE_INTENT"
)

// Executor turns an actionable de-risk plan into a close intent. When
// the plan has nothing to do it deletes any stale close intent instead,
// so the close path can never act on old instructions.
type Executor struct {
	store *state.Store
	now   func() time.Time
}

// NewExecutor returns a de-risk executor.
func NewExecutor(store *state.Store) *Executor {
	return &Executor{store: store, now: time.Now}
}

// Execute reads the de-risk plan and either writes close_intent.json or
// removes it. The exec record is written either way.
func (e *Executor) Execute() (models.DeriskExecState, error) {
	var plan models.DeriskPlan
	if err := e.store.ReadJSON(state.FileDeriskPlan, &plan); err != nil {
		return models.DeriskExecState{}, err
	}

	ts := e.now().UTC().Format(time.RFC3339)
	actionable := (plan.Status == PlanOK || plan.Status == PlanPartial) && len(plan.Actions) > 0

	if !actionable {
		deleted := e.store.Exists(state.FileCloseIntent)
		if deleted {
			if err := e.store.Remove(state.FileCloseIntent); err != nil {
				return models.DeriskExecState{}, err
			}
		}
		out := models.DeriskExecState{
			TS:                 ts,
			Status:             ExecNoExec,
			Reason:             "NO_ACTIONS",
			InputStatus:        plan.Status,
			InputReason:        plan.Reason,
			DeletedStaleIntent: deleted,
			Actions:            plan.Actions,
			HardLimits:         plan.HardLimits,
			TargetLimits:       plan.TargetLimits,
		}
		if err := e.store.WriteJSON(state.FileDeriskExec, out); err != nil {
			return models.DeriskExecState{}, err
		}
		return out, nil
	}

	bp := plan.BufferPct
	endTotals := plan.EndTotals
	hard := plan.HardLimits
	target := plan.TargetLimits
	intent := models.CloseIntent{
		TS:                ts,
		Type:              models.IntentDeriskClose,
		Mode:              models.PlanOnly,
		Actions:           plan.Actions,
		ExpectedEndTotals: &endTotals,
		HardLimits:        &hard,
		TargetLimits:      &target,
		BufferPct:         &bp,
	}
	if err := e.store.WriteJSON(state.FileCloseIntent, intent); err != nil {
		return models.DeriskExecState{}, err
	}

	out := models.DeriskExecState{
		TS:           ts,
		Status:       ExecWroteIntent,
		InputStatus:  plan.Status,
		Actions:      plan.Actions,
		HardLimits:   plan.HardLimits,
		TargetLimits: plan.TargetLimits,
	}
	if err := e.store.WriteJSON(state.FileDeriskExec, out); err != nil {
		return models.DeriskExecState{}, err
	}
	return out, nil
}
