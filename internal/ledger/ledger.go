// Package ledger owns the append-only fills log and the positions book
// materialized from it. Fills are facts and are never rewritten; the book
// is a pure fold over the log and can be rebuilt at any time.
package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

// Ledger reads and writes fills and the positions book.
type Ledger struct {
	store *state.Store
	now   func() time.Time
}

// New returns a ledger over the given store.
func New(store *state.Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// RecordFill appends one fill line. Qty must be positive; the side
// carries the direction.
func (l *Ledger) RecordFill(symbol string, qty int, side models.OrderSide, price float64, tag string) error {
	if qty <= 0 {
		return fmt.Errorf("fill qty must be positive, got %d", qty)
	}
	f := models.Fill{
		TS:     l.now().UTC().Format(time.RFC3339),
		Type:   models.EventFill,
		Symbol: symbol,
		Qty:    qty,
		Side:   side,
		Price:  price,
		Tag:    tag,
	}
	line, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode fill: %w", err)
	}
	return l.store.AppendLine(state.FileFills, line)
}

// LoadFills parses the fill log. Lines that do not parse are skipped with
// a warning so one bad line never poisons the book.
func (l *Ledger) LoadFills() ([]models.Fill, error) {
	lines, err := l.store.ReadLines(state.FileFills)
	if err != nil {
		return nil, err
	}
	fills := make([]models.Fill, 0, len(lines))
	for i, line := range lines {
		var f models.Fill
		if err := json.Unmarshal(line, &f); err != nil {
			log.Warn().Int("line", i+1).Err(err).Msg("Skipping unparseable fill line")
			continue
		}
		fills = append(fills, f)
	}
	return fills, nil
}

// Fold reduces fills to net positions: BUY adds, SELL subtracts, anything
// else is ignored. Flat symbols are pruned and the result is sorted by
// symbol, so rebuilding is deterministic.
func Fold(fills []models.Fill) []models.Position {
	net := make(map[string]int)
	for _, f := range fills {
		if f.Type != models.EventFill {
			continue
		}
		switch f.Side {
		case models.Buy:
			net[f.Symbol] += f.Qty
		case models.Sell:
			net[f.Symbol] -= f.Qty
		}
	}

	out := make([]models.Position, 0, len(net))
	for sym, qty := range net {
		if qty == 0 {
			continue
		}
		out = append(out, models.Position{Symbol: sym, NetQty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// BuildBook folds the fill log and writes the positions book.
func (l *Ledger) BuildBook() (models.PositionsBook, error) {
	fills, err := l.LoadFills()
	if err != nil {
		return models.PositionsBook{}, err
	}
	book := models.PositionsBook{
		TS:        l.now().UTC().Format(time.RFC3339),
		Positions: Fold(fills),
	}
	if err := l.store.WriteJSON(state.FileBook, book); err != nil {
		return models.PositionsBook{}, err
	}
	return book, nil
}

// ReadBook loads the current positions book.
func (l *Ledger) ReadBook() (models.PositionsBook, error) {
	var book models.PositionsBook
	err := l.store.ReadJSON(state.FileBook, &book)
	return book, err
}

// WriteBook replaces the positions book, pruning flats and sorting first.
func (l *Ledger) WriteBook(positions []models.Position) (models.PositionsBook, error) {
	kept := make([]models.Position, 0, len(positions))
	for _, p := range positions {
		if p.NetQty != 0 {
			kept = append(kept, p)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Symbol < kept[j].Symbol })
	book := models.PositionsBook{
		TS:        l.now().UTC().Format(time.RFC3339),
		Positions: kept,
	}
	if err := l.store.WriteJSON(state.FileBook, book); err != nil {
		return models.PositionsBook{}, err
	}
	return book, nil
}
