package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"nt-bridge/internal/backend"
	"nt-bridge/internal/protection"
)

// AUTO_BREAKEVEN;<instrument>;<be1>;<be2>;<be3>;<side>;[trigger_extra];[trail_distance]
//
// Offsets are absolute price points from the entry price. Each level triggers
// at be_i+trigger_extra and parks the stop at entry+be_i (sign-adjusted for
// shorts). Empty offsets fall back to the instrument's YAML profile, if one is
// configured. A positive trail_distance arms trailing after the last level.
func (h *Handlers) autoBreakeven(ctx context.Context, args []string) (string, error) {
	instrument := arg(args, 0)
	if instrument == "" {
		return "", fmt.Errorf("missing instrument")
	}

	offsets, err := parseOffsets(args, 1, 3)
	if err != nil {
		return "", err
	}
	sideArg := strings.ToUpper(arg(args, 4))
	triggerExtra, err := parseOffset(arg(args, 5))
	if err != nil {
		return "", err
	}
	trailDistance, err := parseOffset(arg(args, 6))
	if err != nil {
		return "", err
	}

	if len(offsets) == 0 {
		profile, ok := protection.LookupProfile(h.Profiles, instrument)
		if !ok {
			return "", fmt.Errorf("no breakeven offsets given and no profile for %s", instrument)
		}
		offsets = profile.Offsets
		if triggerExtra == 0 {
			triggerExtra = profile.TriggerExtra
		}
		if trailDistance == 0 {
			trailDistance = profile.TrailDistance
		}
	}

	pos, err := h.findPosition(ctx, instrument)
	if err != nil {
		return "", err
	}
	if pos.Position == backend.PositionFlat || pos.Qty == 0 {
		return "", fmt.Errorf("No position found for %s", instrument)
	}

	side := backend.MarketPosition(sideArg)
	if sideArg == "" || sideArg == "AUTO" {
		side = pos.Position
	} else if side != pos.Position {
		return "", fmt.Errorf("position is %s, requested %s", pos.Position, sideArg)
	}

	cfg := &protection.Config{
		Instrument:    instrument,
		Account:       h.Account(),
		Side:          side,
		EntryPrice:    pos.AvgPrice,
		Levels:        protection.BuildLevels(offsets, triggerExtra),
		TrailDistance: trailDistance,
	}
	if err := h.Protection.Enable(ctx, cfg); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "OK|Breakeven set: entry=%.2f", pos.AvgPrice)
	for i, lvl := range cfg.Levels {
		stop := pos.AvgPrice + lvl.StopOffset
		if side == backend.PositionShort {
			stop = pos.AvgPrice - lvl.StopOffset
		}
		fmt.Fprintf(&b, ", be%d=%.2f", i+1, stop)
	}
	return b.String(), nil
}

func (h *Handlers) cancelBreakeven(ctx context.Context, args []string) (string, error) {
	instrument := arg(args, 0)
	if instrument == "" {
		return "", fmt.Errorf("missing instrument")
	}
	if !h.Protection.Disable(ctx, instrument) {
		return "", fmt.Errorf("No protection active for %s", instrument)
	}
	return "OK|" + instrument, nil
}

// findPosition locates the open position for an instrument with the same
// space-insensitive matching the terminal applies to instrument names.
func (h *Handlers) findPosition(ctx context.Context, instrument string) (backend.PositionSnapshot, error) {
	positions, err := h.Adapter.Positions(ctx, h.Account())
	if err != nil {
		return backend.PositionSnapshot{}, fmt.Errorf("position query: %w", err)
	}
	want := strings.ToUpper(strings.ReplaceAll(instrument, " ", ""))
	for _, p := range positions {
		if strings.ToUpper(strings.ReplaceAll(p.Instrument, " ", "")) == want {
			return p, nil
		}
	}
	return backend.PositionSnapshot{Instrument: instrument, Position: backend.PositionFlat}, nil
}

func parseOffset(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset: %q", s)
	}
	return v, nil
}

func parseOffsets(args []string, start, count int) ([]float64, error) {
	out := make([]float64, 0, count)
	for i := start; i < start+count; i++ {
		v, err := parseOffset(arg(args, i))
		if err != nil {
			return nil, err
		}
		if v > 0 {
			out = append(out, v)
		}
	}
	return out, nil
}
