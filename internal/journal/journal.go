// Package journal is the append-only execution audit trail. Every intent
// consumption and broker interaction lands here as one JSON line. Journal
// writes must never take down the pipeline, so failures are logged and
// swallowed.
package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// Journal appends execution events to the state directory's journal file.
type Journal struct {
	store *state.Store
	now   func() time.Time
}

// New returns a journal writing through the given store.
func New(store *state.Store) *Journal {
	return &Journal{store: store, now: time.Now}
}

// Append writes one event line. Unencodable payloads are downgraded to
// their string form rather than dropped.
func (j *Journal) Append(intentType, intentTS, stage string, ok bool, mode models.ExecMode, msg string, data map[string]any) {
	ev := models.JournalEvent{
		TS:         j.now().UTC().Format(time.RFC3339),
		IntentType: intentType,
		IntentTS:   intentTS,
		Stage:      stage,
		OK:         ok,
		Mode:       mode,
		Msg:        msg,
		Data:       data,
	}

	line, err := json.Marshal(ev)
	if err != nil {
		ev.Data = map[string]any{"raw": fmt.Sprint(data)}
		line, err = json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("stage", stage).Msg("Journal event not encodable")
			return
		}
	}
	if err := j.store.AppendLine(state.FileJournal, line); err != nil {
		log.Error().Err(err).Str("stage", stage).Msg("Journal append failed")
	}
}
