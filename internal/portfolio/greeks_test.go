package portfolio

import (
	"math"
	"testing"
	"time"

	"github.com/neuroxhq/neurox-oms/internal/bsm"
	"github.com/neuroxhq/neurox-oms/internal/state"
	"github.com/neuroxhq/neurox-oms/pkg/models"
)

func newTestBuilder(t *testing.T) (*Builder, *state.Store) {
	t.Helper()
	store, err := state.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	b := NewBuilder(store, 0.0, 0.25)
	b.now = func() time.Time { return time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC) }
	return b, store
}

func writeMarket(t *testing.T, store *state.Store, spot float64) {
	t.Helper()
	err := store.WriteJSON(state.FileMarket, models.MarketState{
		TS: "2026-02-18T12:00:00Z",
		Symbols: map[string]models.UnderlierQuote{
			"QQQ": {Spot: &spot, SpotSrc: "MID"},
		},
	})
	if err != nil {
		t.Fatalf("Failed to write market state: %v", err)
	}
}

func TestBuildSolvesIVFromMid(t *testing.T) {
	b, store := newTestBuilder(t)
	writeMarket(t, store, 600)

	sym := "QQQ260320C00600000" // 30 days out from the fixed clock
	store.WriteJSON(state.FileBook, models.PositionsBook{
		TS:        "2026-02-18T12:00:00Z",
		Positions: []models.Position{{Symbol: sym, NetQty: 5}},
	})

	// Seed the previous snapshot with a mid priced at a known vol.
	tExp := time.Date(2026, 3, 20, 16, 0, 0, 0, time.UTC).Sub(b.now()).Seconds() / (365 * 24 * 3600)
	mid := bsm.Price(600, 600, tExp, 0.0, 0.22, true)
	if err := b.SeedQuote(sym, mid, 1.0); err != nil {
		t.Fatalf("SeedQuote failed: %v", err)
	}

	pg, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(pg.Positions) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(pg.Positions))
	}
	row := pg.Positions[0]
	if row.IVSrc != models.IVNewton && row.IVSrc != models.IVBisect {
		t.Errorf("Expected solved IV, got source %s", row.IVSrc)
	}
	if math.Abs(row.IV-0.22) > 1e-4 {
		t.Errorf("Expected IV near 0.22, got %v", row.IV)
	}
	if row.NetQty != 5 || row.Underlier != "QQQ" || row.Strike != 600 {
		t.Errorf("Unexpected row: %+v", row)
	}
	// Position-weighted: per-contract ATM call delta is around 50-60 shares.
	if row.Delta < 5*45 || row.Delta > 5*75 {
		t.Errorf("Delta out of range: %v", row.Delta)
	}
	if math.Abs(pg.Totals.Delta-row.Delta) > 1e-9 {
		t.Errorf("Totals do not match the single row: %v vs %v", pg.Totals.Delta, row.Delta)
	}
}

func TestBuildFallsBackToDefaultIV(t *testing.T) {
	b, store := newTestBuilder(t)
	writeMarket(t, store, 600)

	// No previous snapshot, so mid is zero and the solver cannot run.
	store.WriteJSON(state.FileBook, models.PositionsBook{
		Positions: []models.Position{{Symbol: "QQQ260320C00610000", NetQty: -3}},
	})

	pg, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	row := pg.Positions[0]
	if row.IVSrc != models.IVFallbackDefault {
		t.Errorf("Expected FALLBACK_DEFAULT, got %s", row.IVSrc)
	}
	if row.IV != 0.25 {
		t.Errorf("Expected default IV 0.25, got %v", row.IV)
	}
	if row.Delta >= 0 {
		t.Errorf("Short call should carry negative delta, got %v", row.Delta)
	}
}

func TestBuildSkipsBadSymbols(t *testing.T) {
	b, store := newTestBuilder(t)
	writeMarket(t, store, 600)
	store.WriteJSON(state.FileBook, models.PositionsBook{
		Positions: []models.Position{
			{Symbol: "NOT-AN-OCC", NetQty: 2},
			{Symbol: "QQQ260320C00600000", NetQty: 1},
		},
	})

	pg, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(pg.Positions) != 1 || pg.Positions[0].Symbol != "QQQ260320C00600000" {
		t.Errorf("Expected only the valid symbol, got %+v", pg.Positions)
	}
}

func TestBuildMissingSpot(t *testing.T) {
	b, store := newTestBuilder(t)
	// No market state at all.
	store.WriteJSON(state.FileBook, models.PositionsBook{
		Positions: []models.Position{{Symbol: "QQQ260320C00600000", NetQty: 1}},
	})

	pg, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	row := pg.Positions[0]
	if row.Spot != nil {
		t.Errorf("Expected nil spot, got %v", *row.Spot)
	}
	if row.IVSrc != models.IVFallbackDefault {
		t.Errorf("Expected fallback IV without spot, got %s", row.IVSrc)
	}
}

func TestBuildPreservesPrevMid(t *testing.T) {
	b, store := newTestBuilder(t)
	writeMarket(t, store, 600)
	sym := "QQQ260320C00600000"
	store.WriteJSON(state.FileBook, models.PositionsBook{
		Positions: []models.Position{{Symbol: sym, NetQty: 1}},
	})
	if err := b.SeedQuote(sym, 12.34, 0.8); err != nil {
		t.Fatalf("SeedQuote failed: %v", err)
	}

	// Two consecutive builds keep carrying the same mid forward.
	for i := 0; i < 2; i++ {
		pg, err := b.Build()
		if err != nil {
			t.Fatalf("Build %d failed: %v", i, err)
		}
		if pg.Positions[0].Mid != 12.34 || pg.Positions[0].SprPct != 0.8 {
			t.Errorf("Build %d lost the previous quote: %+v", i, pg.Positions[0])
		}
	}
}
