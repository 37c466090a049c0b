package dispatch

import (
	"context"
	"strings"
	"testing"

	"nt-bridge/internal/backend"
	"nt-bridge/internal/protection"
)

func TestAutoBreakevenBuildsLadder(t *testing.T) {
	d, h, fa := newHarness(t)
	fa.positions = []backend.PositionSnapshot{
		{Instrument: "ES 12-25", Position: backend.PositionLong, Qty: 2, AvgPrice: 100},
	}

	got := d.Dispatch(context.Background(), "AUTO_BREAKEVEN;ES 12-25;3;6;10;AUTO;1;4")
	if got != "OK|Breakeven set: entry=100.00, be1=103.00, be2=106.00, be3=110.00" {
		t.Fatalf("AUTO_BREAKEVEN returned %q", got)
	}

	cfg, ok := h.Protection.Get("ES 12-25")
	if !ok {
		t.Fatalf("no protection config stored")
	}
	if cfg.Side != backend.PositionLong || cfg.EntryPrice != 100 {
		t.Fatalf("config side/entry wrong: %+v", cfg)
	}
	if len(cfg.Levels) != 3 {
		t.Fatalf("built %d levels, expected 3", len(cfg.Levels))
	}
	// Each level triggers at offset+extra and parks the stop at entry+offset.
	if cfg.Levels[0].TriggerOffset != 4 || cfg.Levels[0].StopOffset != 3 {
		t.Fatalf("level 1 = %+v", cfg.Levels[0])
	}
	if cfg.Levels[2].TriggerOffset != 11 || cfg.Levels[2].StopOffset != 10 {
		t.Fatalf("level 3 = %+v", cfg.Levels[2])
	}
	if cfg.TrailDistance != 4 {
		t.Fatalf("trail distance %v, expected 4", cfg.TrailDistance)
	}
}

func TestAutoBreakevenDetectsShortSide(t *testing.T) {
	d, h, fa := newHarness(t)
	fa.positions = []backend.PositionSnapshot{
		{Instrument: "NQ", Position: backend.PositionShort, Qty: 1, AvgPrice: 15000},
	}

	got := d.Dispatch(context.Background(), "AUTO_BREAKEVEN;NQ;10")
	if !strings.HasPrefix(got, "OK|Breakeven set: entry=15000.00, be1=14990.00") {
		t.Fatalf("short AUTO_BREAKEVEN returned %q", got)
	}
	cfg, _ := h.Protection.Get("NQ")
	if cfg.Side != backend.PositionShort {
		t.Fatalf("side %s, expected SHORT from position", cfg.Side)
	}
}

func TestAutoBreakevenRejectsSideMismatch(t *testing.T) {
	d, h, fa := newHarness(t)
	fa.positions = []backend.PositionSnapshot{
		{Instrument: "ES", Position: backend.PositionLong, Qty: 1, AvgPrice: 100},
	}

	got := d.Dispatch(context.Background(), "AUTO_BREAKEVEN;ES;3;;;SHORT")
	if !strings.HasPrefix(got, "ERROR|") {
		t.Fatalf("side mismatch returned %q", got)
	}
	if len(h.Protection.Active()) != 0 {
		t.Fatalf("mismatched config was stored")
	}
}

func TestAutoBreakevenRequiresPosition(t *testing.T) {
	d, _, _ := newHarness(t)
	got := d.Dispatch(context.Background(), "AUTO_BREAKEVEN;ES;3")
	if got != "ERROR|No position found for ES" {
		t.Fatalf("reply %q", got)
	}
}

func TestAutoBreakevenProfileFallback(t *testing.T) {
	d, h, fa := newHarness(t)
	h.Profiles = map[string]protection.Profile{
		"ES1225": {Instrument: "ES 12-25", Offsets: []float64{5, 8}, TriggerExtra: 1, TrailDistance: 3},
	}
	fa.positions = []backend.PositionSnapshot{
		{Instrument: "ES 12-25", Position: backend.PositionLong, Qty: 1, AvgPrice: 200},
	}

	// No offsets in the command; the instrument profile supplies the ladder.
	got := d.Dispatch(context.Background(), "AUTO_BREAKEVEN;ES 12-25")
	if got != "OK|Breakeven set: entry=200.00, be1=205.00, be2=208.00" {
		t.Fatalf("profile fallback returned %q", got)
	}
	cfg, _ := h.Protection.Get("ES 12-25")
	if cfg.TrailDistance != 3 || cfg.Levels[0].TriggerOffset != 6 {
		t.Fatalf("profile values not applied: %+v", cfg)
	}
}

func TestAutoBreakevenNoOffsetsNoProfile(t *testing.T) {
	d, _, fa := newHarness(t)
	fa.positions = []backend.PositionSnapshot{
		{Instrument: "ES", Position: backend.PositionLong, Qty: 1, AvgPrice: 100},
	}
	got := d.Dispatch(context.Background(), "AUTO_BREAKEVEN;ES")
	if !strings.HasPrefix(got, "ERROR|no breakeven offsets") {
		t.Fatalf("reply %q", got)
	}
}

func TestCancelBreakeven(t *testing.T) {
	d, _, fa := newHarness(t)
	fa.positions = []backend.PositionSnapshot{
		{Instrument: "ES", Position: backend.PositionLong, Qty: 1, AvgPrice: 100},
	}
	if got := d.Dispatch(context.Background(), "AUTO_BREAKEVEN;ES;3"); !strings.HasPrefix(got, "OK|") {
		t.Fatalf("AUTO_BREAKEVEN returned %q", got)
	}

	if got := d.Dispatch(context.Background(), "CANCEL_BREAKEVEN;ES"); got != "OK|ES" {
		t.Fatalf("CANCEL_BREAKEVEN returned %q", got)
	}
	if got := d.Dispatch(context.Background(), "CANCEL_BREAKEVEN;ES"); got != "ERROR|No protection active for ES" {
		t.Fatalf("second CANCEL_BREAKEVEN returned %q", got)
	}
}
