// Package state is the file-backed shared state layer. Every pipeline
// stage communicates through JSON documents under a single state
// directory; writes are atomic (temp file then rename) so readers never
// observe a torn document.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Well-known file names under the state directory.
const (
	FileFills       = "fills.jsonl"
	FileBook        = "positions_book.json"
	FileMarket      = "market_state.json"
	FileGreeks      = "portfolio_greeks.json"
	FileRiskEval    = "risk_eval.json"
	FileRiskMode    = "risk_mode.json"
	FileDeriskPlan  = "derisk_plan.json"
	FileDeriskExec  = "derisk_exec.json"
	FileDeallocPlan = "dealloc_plan.json"
	FileGateOut     = "gate_out.json"
	FileOpenPlan    = "open_plan.json"
	FileOpenIntent  = "open_intent.json"
	FileCloseIntent = "close_intent.json"
	FileOpenState   = "oms_open_state.json"
	FileOpenExec    = "oms_open_exec_state.json"
	FileCloseState  = "oms_close_state.json"
	FileOmsState    = "oms_state.json"
	FilePollState   = "oms_poll_state.json"
	FileOpenOrders  = "open_orders.json"
	FileAlerts      = "alerts_state.json"
	FileTickState   = "tick_state.json"
	FileJournal     = "execution_journal.jsonl"

	LockTick  = "tick.lock"
	LockClose = "oms_close.lock"
)

var (
	ErrNotFound   = errors.New("state file not found")
	ErrLockHeld   = errors.New("lock already held")
	ErrLockAbsent = errors.New("lock not held")
)

// Store reads and writes state documents rooted at Dir.
type Store struct {
	Dir string
}

// NewStore ensures the state directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

// Path joins a state file name onto the store root.
func (s *Store) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// Exists reports whether a state file is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// ReadJSON decodes a state document into v.
func (s *Store) ReadJSON(name string, v any) error {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}

// WriteJSON atomically replaces a state document. The document is staged
// in a temp file in the same directory and renamed into place.
func (s *Store) WriteJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.Dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to flush %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.Path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// AppendLine appends one already-encoded line to a JSONL file.
func (s *Store) AppendLine(name string, line []byte) error {
	f, err := os.OpenFile(s.Path(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append %s: %w", name, err)
	}
	return nil
}

// ReadLines returns the raw lines of a JSONL file, skipping blanks. A
// missing file yields an empty slice.
func (s *Store) ReadLines(name string) ([][]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	var out [][]byte
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			if i > start {
				out = append(out, data[start:i])
			}
			start = i + 1
		}
	}
	return out, nil
}

// Remove deletes a state file. Removing an absent file is not an error.
func (s *Store) Remove(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

// AcquireLock creates an exclusive lock file. A second acquire of the
// same lock fails with ErrLockHeld until it is released.
func (s *Store) AcquireLock(name string) error {
	f, err := os.OpenFile(s.Path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrLockHeld, name)
		}
		return fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return nil
}

// ReleaseLock removes a lock file.
func (s *Store) ReleaseLock(name string) {
	if err := os.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("lock", name).Msg("Failed to release lock")
	}
}
