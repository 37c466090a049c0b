package protection

import (
	"context"
	"errors"
	"fmt"
	"log"

	"nt-bridge/internal/backend"
	"nt-bridge/internal/events"
	"nt-bridge/internal/registry"
)

// ErrPositionFlat signals the position is gone and the config must be torn
// down by the caller.
var ErrPositionFlat = errors.New("position flat")

// ErrSideMismatch signals the position flipped against the stored config; the
// config is invalid and must be removed rather than acted on.
var ErrSideMismatch = errors.New("position side mismatch")

// Machine drives protective stop replacement for one evaluation tick. It holds
// no state of its own; all per-position state lives in Config.
type Machine struct {
	Adapter  backend.Adapter
	Registry *registry.Registry
	Bus      *events.Bus
}

// Evaluate runs a single protection step for cfg against the live position and
// price. At most one level advances per call; if price jumped past several
// levels, later calls catch up one at a time, keeping transitions auditable.
func (m *Machine) Evaluate(ctx context.Context, cfg *Config, pos backend.PositionSnapshot, price float64) error {
	if cfg.isRetired() {
		// Torn down between the caller's snapshot and this tick.
		return nil
	}
	if pos.Position == backend.PositionFlat || pos.Qty == 0 {
		m.Teardown(ctx, cfg)
		return ErrPositionFlat
	}
	if pos.Position != cfg.Side {
		return fmt.Errorf("%s: position %s vs protection %s: %w",
			cfg.Instrument, pos.Position, cfg.Side, ErrSideMismatch)
	}
	if price <= 0 {
		// Price feed unavailable; skip this tick with no state change.
		return nil
	}

	st := cfg.Snapshot()
	exc := cfg.excursion(price)

	if st.Level < st.MaxLevel {
		lvl := cfg.Levels[st.Level]
		if exc < lvl.TriggerOffset {
			return nil
		}
		stopPrice := cfg.stopFromEntry(lvl.StopOffset)
		stopID, err := m.replaceStop(ctx, cfg, st.StopOrderID, stopPrice, pos.Qty)
		if err != nil {
			return fmt.Errorf("level %d stop for %s: %w", st.Level+1, cfg.Instrument, err)
		}
		if !cfg.advance(stopID, stopPrice, price) {
			// Config was torn down while the stop was in flight; the fresh
			// order would be untracked, so take it right back out.
			m.cancelStop(ctx, stopID)
			return nil
		}
		m.notify(cfg, fmt.Sprintf("level %d armed, stop %.4f", st.Level+1, stopPrice))
		return nil
	}

	if cfg.TrailDistance <= 0 {
		return nil
	}
	if cfg.TrailTrigger > 0 && exc < cfg.TrailTrigger {
		return nil
	}

	extreme := cfg.observeExtreme(price)
	var candidate float64
	if cfg.Side == backend.PositionLong {
		candidate = extreme - cfg.TrailDistance
		if candidate <= st.StopPrice {
			return nil
		}
	} else {
		candidate = extreme + cfg.TrailDistance
		if st.StopPrice > 0 && candidate >= st.StopPrice {
			return nil
		}
	}

	stopID, err := m.replaceStop(ctx, cfg, st.StopOrderID, candidate, pos.Qty)
	if err != nil {
		return fmt.Errorf("trailing stop for %s: %w", cfg.Instrument, err)
	}
	if !cfg.ratchet(stopID, candidate, extreme) {
		m.cancelStop(ctx, stopID)
		return nil
	}
	m.notify(cfg, fmt.Sprintf("trailing stop %.4f (extreme %.4f)", candidate, extreme))
	return nil
}

// replaceStop cancels the prior protective stop, if any, then submits a new
// one sized to the full position. The cancel is best-effort: the old order may
// already be gone. The terminal's in-place modify is unreliable across order
// states, so replacement is always cancel-then-create.
func (m *Machine) replaceStop(ctx context.Context, cfg *Config, oldID string, stopPrice float64, qty int) (string, error) {
	if oldID != "" {
		m.cancelStop(ctx, oldID)
	}

	side := backend.SideSell
	if cfg.Side == backend.PositionShort {
		side = backend.SideBuy
	}
	clientID, err := m.Registry.Place(ctx, backend.OrderRequest{
		Account:     cfg.Account,
		Instrument:  cfg.Instrument,
		Side:        side,
		Type:        backend.OrderTypeStop,
		Qty:         qty,
		StopPrice:   stopPrice,
		TimeInForce: backend.TIFGTC,
	}, "")
	if err != nil {
		return "", err
	}
	return clientID, nil
}

func (m *Machine) cancelStop(ctx context.Context, clientID string) {
	id := m.Registry.NativeID(clientID)
	if id == "" {
		id = clientID
	}
	if err := m.Adapter.CancelOrder(ctx, id); err != nil {
		log.Printf("protection: cancel stop %s: %v", clientID, err)
	}
}

// Teardown cancels any dangling protective stop for a config being removed.
func (m *Machine) Teardown(ctx context.Context, cfg *Config) {
	if id := cfg.clearStop(); id != "" {
		m.cancelStop(ctx, id)
	}
}

func (m *Machine) notify(cfg *Config, msg string) {
	log.Printf("protection: %s %s", cfg.Instrument, msg)
	if m.Bus != nil {
		m.Bus.Publish(events.EventProtectionChange, cfg.Snapshot())
	}
}
