package pipeline

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// Round is the outcome of one de-risk iteration.
type Round struct {
	Round      int             `json:"round"`
	Mode       models.RiskMode `json:"mode"`
	Reason     string          `json:"reason,omitempty"`
	PlanStatus string          `json:"plan_status,omitempty"`
	ExecStatus string          `json:"exec_status,omitempty"`
	CloseState string          `json:"close_state,omitempty"`
}

// DeriskLoop drives greeks -> risk-eval -> plan -> exec -> close until
// the risk mode leaves HALT or the round cap is hit. Bounded by
// construction: the loop can never spin on a stuck portfolio.
func (p *Pipeline) DeriskLoop() ([]Round, error) {
	maxRounds := p.cfg.Risk.DeriskLoopRounds
	if maxRounds <= 0 {
		maxRounds = 1
	}

	var rounds []Round
	for i := 1; i <= maxRounds; i++ {
		if _, err := p.builder.Build(); err != nil {
			return rounds, err
		}
		ev, err := p.evaluator.Evaluate()
		if err != nil {
			return rounds, err
		}

		r := Round{Round: i, Mode: ev.ModeDecision, Reason: ev.Reason}
		if ev.ModeDecision != models.ModeHalt {
			rounds = append(rounds, r)
			log.Info().Int("round", i).Str("mode", string(ev.ModeDecision)).Msg("De-risk loop settled")
			return rounds, nil
		}

		plan, err := p.planner.Plan()
		if err != nil {
			return rounds, err
		}
		r.PlanStatus = plan.Status

		ex, err := p.deriskExec.Execute()
		if err != nil {
			return rounds, err
		}
		r.ExecStatus = ex.Status

		cl, err := p.closer.Close()
		if err != nil {
			return rounds, err
		}
		r.CloseState = cl.State
		rounds = append(rounds, r)

		log.Warn().
			Int("round", i).
			Str("reason", ev.Reason).
			Str("plan", plan.Status).
			Str("close", cl.State).
			Msg("De-risk round executed under HALT")

		// Give the state files a distinct timestamp per round.
		time.Sleep(10 * time.Millisecond)
	}
	return rounds, nil
}
