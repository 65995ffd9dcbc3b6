package models

// JournalEvent is one line of state/execution_journal.jsonl. The journal is
// audit-only: nothing in the pipeline reads it back.
type JournalEvent struct {
	TS         string         `json:"ts"`
	IntentType string         `json:"intent_type"`
	IntentTS   string         `json:"intent_ts"`
	Stage      string         `json:"stage"`
	OK         bool           `json:"ok"`
	Mode       ExecMode       `json:"mode"`
	Msg        string         `json:"msg"`
	Data       map[string]any `json:"data"`
}
