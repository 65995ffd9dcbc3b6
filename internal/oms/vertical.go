package oms

import (
	"fmt"
	"time"

	"github.com/neuroxhq/neurox-oms/internal/ledger"
	"github.com/neuroxhq/neurox-oms/internal/risk"
	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// Simulated fill tags written by the vertical fill machine.
const (
	LongFillSimTag  = "OMS_LONG_FILL_SIM"
	ShortFillSimTag = "OMS_SHORT_FILL_SIM"
)

// Vertical walks an approved two-leg open through
// INIT -> SUBMIT_LONG -> SUBMIT_SHORT -> DONE, re-reading the risk mode
// and re-checking the clock before every transition. A snapshot goes to
// disk before each advance, so a crash leaves an accurate picture of the
// working order.
type Vertical struct {
	store      *state.Store
	modes      *risk.ModeStore
	ledger     *ledger.Ledger
	mode       models.ExecMode
	maxSeconds int64
	now        func() time.Time
	sleep      func(time.Duration)
}

// NewVertical returns the fill machine. maxSeconds bounds the whole run.
func NewVertical(store *state.Store, modes *risk.ModeStore, led *ledger.Ledger, mode models.ExecMode, maxSeconds int64) *Vertical {
	return &Vertical{
		store:      store,
		modes:      modes,
		ledger:     led,
		mode:       mode,
		maxSeconds: maxSeconds,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Run executes one vertical open. Long fills BUY at its limit, short
// fills SELL; in plan-only mode both are simulated through the ledger.
func (v *Vertical) Run(long, short models.VerticalLeg) (models.VerticalSnapshot, error) {
	start := v.now()
	st := models.VerticalInit
	reason := ""
	filledLong, filledShort := 0, 0

	for {
		elapsed := v.now().Unix() - start.Unix()
		rm := v.modes.Get().Mode

		if rm == models.ModeHalt || rm == models.ModeUnknown {
			st = models.VerticalHalt
			reason = fmt.Sprintf("RISK_MODE_%s", rm)
		} else if elapsed > v.maxSeconds {
			st = models.VerticalFail
			reason = "TIMEOUT"
		}

		snap := models.VerticalSnapshot{
			TS:          v.now().UTC().Format(time.RFC3339),
			Mode:        v.mode,
			RiskMode:    rm,
			State:       st,
			ElapsedSec:  elapsed,
			FilledLong:  filledLong,
			FilledShort: filledShort,
			Long:        long,
			Short:       short,
			Reason:      reason,
		}
		if err := v.store.WriteJSON(state.FileOmsState, snap); err != nil {
			return models.VerticalSnapshot{}, err
		}
		if st == models.VerticalDone || st == models.VerticalFail || st == models.VerticalHalt {
			return snap, nil
		}

		switch st {
		case models.VerticalInit:
			st = models.VerticalSubmitLong

		case models.VerticalSubmitLong:
			if v.mode != models.PlanOnly {
				st = models.VerticalFail
				reason = "LIVE_MODE_NOT_ENABLED"
				continue
			}
			if err := v.ledger.RecordFill(long.Symbol, long.Qty, models.Buy, long.Limit, LongFillSimTag); err != nil {
				return models.VerticalSnapshot{}, err
			}
			filledLong = long.Qty
			st = models.VerticalSubmitShort

		case models.VerticalSubmitShort:
			if v.mode != models.PlanOnly {
				st = models.VerticalFail
				reason = "LIVE_MODE_NOT_ENABLED"
				continue
			}
			if err := v.ledger.RecordFill(short.Symbol, short.Qty, models.Sell, short.Limit, ShortFillSimTag); err != nil {
				return models.VerticalSnapshot{}, err
			}
			filledShort = filledLong
			st = models.VerticalDone
		}

		v.sleep(time.Second)
	}
}
