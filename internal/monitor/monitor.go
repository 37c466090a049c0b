package monitor

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"nt-bridge/internal/backend"
	"nt-bridge/internal/events"
	"nt-bridge/internal/protection"
)

// Loop re-evaluates every active protection config at a fixed interval on its
// own goroutine, independent of the command dispatcher. Ticks never overlap:
// if one tick's work runs past the interval, the next tick is skipped instead
// of queued.
type Loop struct {
	Adapter  backend.Adapter
	Configs  *protection.Manager
	Bus      *events.Bus
	Interval time.Duration
	Account  func() string

	busy  atomic.Bool
	ticks atomic.Uint64
}

// Start runs the loop until ctx is cancelled.
func (l *Loop) Start(ctx context.Context) {
	interval := l.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if !l.busy.CompareAndSwap(false, true) {
					continue // previous tick still running
				}
				l.tick(ctx)
				l.busy.Store(false)
			}
		}
	}()
}

// Ticks reports how many evaluation passes have completed.
func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

func (l *Loop) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("monitor: tick panic recovered: %v", rec)
		}
	}()
	defer l.ticks.Add(1)

	configs := l.Configs.Active()
	if len(configs) == 0 {
		return
	}

	account := ""
	if l.Account != nil {
		account = l.Account()
	}
	positions, err := l.Adapter.Positions(ctx, account)
	if err != nil {
		log.Printf("monitor: position query failed: %v", err)
		return
	}

	machine := l.Configs.Machine()
	for _, cfg := range configs {
		pos := matchPosition(positions, cfg.Instrument)

		price := 0.0
		if quote, err := l.Adapter.Quote(ctx, cfg.Instrument); err == nil {
			price = quote.Last
		}

		err := machine.Evaluate(ctx, cfg, pos, price)
		switch {
		case err == nil:
		case errors.Is(err, protection.ErrPositionFlat):
			log.Printf("monitor: %s flat, protection removed", cfg.Instrument)
			l.Configs.Remove(cfg.Instrument)
		case errors.Is(err, protection.ErrSideMismatch):
			log.Printf("monitor: %v", err)
			l.Configs.Remove(cfg.Instrument)
			if l.Bus != nil {
				l.Bus.Publish(events.EventProtectionError, err.Error())
			}
		default:
			// Transient backend failures are logged only; the level did not
			// advance, so the next tick naturally retries the same step.
			log.Printf("monitor: protection error for %s: %v", cfg.Instrument, err)
		}
	}
}

// matchPosition pairs a config with the terminal's position list using the
// same space-insensitive instrument matching the terminal applies to names.
func matchPosition(positions []backend.PositionSnapshot, instrument string) backend.PositionSnapshot {
	want := normalize(instrument)
	for _, p := range positions {
		if normalize(p.Instrument) == want {
			return p
		}
	}
	return backend.PositionSnapshot{Instrument: instrument, Position: backend.PositionFlat}
}

func normalize(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, " ", ""))
}
