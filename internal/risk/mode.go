// Package risk is the portfolio risk governor: the mode store, the
// limit evaluator, the de-risk planner and the deallocation sizer.
package risk

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// ModeStore reads and writes the global risk mode.
type ModeStore struct {
	store *state.Store
	now   func() time.Time
}

// NewModeStore returns a mode store over the given state directory.
func NewModeStore(store *state.Store) *ModeStore {
	return &ModeStore{store: store, now: time.Now}
}

// Ensure creates the mode file as NORMAL/boot if it does not exist.
func (m *ModeStore) Ensure() error {
	if m.store.Exists(state.FileRiskMode) {
		return nil
	}
	return m.Set(models.ModeNormal, "boot")
}

// Get reads the current mode. A missing file is bootstrapped to NORMAL;
// an unreadable or mangled file reads as UNKNOWN, which every consumer
// must treat like HALT.
func (m *ModeStore) Get() models.RiskModeState {
	if err := m.Ensure(); err != nil {
		log.Error().Err(err).Msg("Failed to bootstrap risk mode")
		return models.RiskModeState{TS: m.now().UTC().Format(time.RFC3339), Mode: models.ModeUnknown, Reason: "MODE_FILE_UNWRITABLE"}
	}
	var st models.RiskModeState
	if err := m.store.ReadJSON(state.FileRiskMode, &st); err != nil {
		log.Warn().Err(err).Msg("Risk mode file unreadable")
		return models.RiskModeState{TS: m.now().UTC().Format(time.RFC3339), Mode: models.ModeUnknown, Reason: "MODE_FILE_UNREADABLE"}
	}
	switch st.Mode {
	case models.ModeNormal, models.ModeDegraded, models.ModeHalt:
	default:
		st.Mode = models.ModeUnknown
		st.Reason = "MODE_VALUE_UNRECOGNIZED"
	}
	return st
}

// Set writes the mode. Values outside the three real modes are coerced
// to DEGRADED so a typo can never widen permissions.
func (m *ModeStore) Set(mode models.RiskMode, reason string) error {
	switch mode {
	case models.ModeNormal, models.ModeDegraded, models.ModeHalt:
	default:
		mode = models.ModeDegraded
	}
	st := models.RiskModeState{
		TS:     m.now().UTC().Format(time.RFC3339),
		Mode:   mode,
		Reason: reason,
	}
	return m.store.WriteJSON(state.FileRiskMode, st)
}

// AllowOpen reports whether new risk may be opened. Only NORMAL opens.
func (m *ModeStore) AllowOpen() bool {
	return m.Get().Mode == models.ModeNormal
}

// AllowClose reports whether risk-reducing closes may run. NORMAL and
// DEGRADED close; HALT and UNKNOWN block.
func (m *ModeStore) AllowClose() bool {
	mode := m.Get().Mode
	return mode == models.ModeNormal || mode == models.ModeDegraded
}
