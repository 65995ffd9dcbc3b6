package broker

import (
	"time"

	"github.com/neuroxhq/neurox-oms/pkg/models"
	"github.com/neuroxhq/neurox-oms/pkg/occ"
)

// PlanOnly resolves leg symbols locally and never submits. Symbols are
// synthesized in OCC format at expiration today + dte_days, which is
// enough for journaling, dedup signatures and simulated fills.
type PlanOnly struct {
	now func() time.Time
}

// NewPlanOnly returns the offline broker.
func NewPlanOnly() *PlanOnly {
	return &PlanOnly{now: time.Now}
}

// Mode implements Broker.
func (b *PlanOnly) Mode() models.ExecMode { return models.PlanOnly }

// ResolveVertical synthesizes the two leg symbols.
func (b *PlanOnly) ResolveVertical(plan models.OrderPlan) (models.ResolvedVertical, error) {
	exp := b.now().UTC().AddDate(0, 0, plan.DTEDays)
	long := occ.Symbol{Root: plan.Underlier, Exp: exp, IsCall: plan.IsCall, Strike: plan.KLong}
	short := occ.Symbol{Root: plan.Underlier, Exp: exp, IsCall: plan.IsCall, Strike: plan.KShort}
	return models.ResolvedVertical{
		LongSymbol:  occ.Emit(long),
		ShortSymbol: occ.Emit(short),
		Expiration:  exp.Format("20060102"),
		DTEDays:     plan.DTEDays,
	}, nil
}

// SubmitOpen resolves and stops. The result carries submitted=false so
// downstream consumers can tell a translation from a live fill chain.
func (b *PlanOnly) SubmitOpen(plan models.OrderPlan) models.BrokerResult {
	resolved, err := b.ResolveVertical(plan)
	if err != nil {
		return models.BrokerResult{
			OK:    false,
			Mode:  models.PlanOnly,
			Error: "RESOLVE_FAILED:" + err.Error(),
		}
	}
	return models.BrokerResult{
		OK:        true,
		Mode:      models.PlanOnly,
		Submitted: false,
		Resolved:  &resolved,
		Signature: Signature(plan, resolved),
	}
}
