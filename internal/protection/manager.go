package protection

import (
	"context"
	"sync"
)

// Manager holds the set of active protection configs, keyed by instrument.
// It is touched both by the command dispatcher (enable/disable) and by the
// monitoring loop (iteration); the map lock is never held across backend calls.
type Manager struct {
	machine *Machine

	mu      sync.Mutex
	configs map[string]*Config
}

func NewManager(machine *Machine) *Manager {
	return &Manager{
		machine: machine,
		configs: make(map[string]*Config),
	}
}

// Enable activates a config, replacing and tearing down any existing one for
// the same instrument.
func (m *Manager) Enable(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	old := m.configs[cfg.Instrument]
	m.configs[cfg.Instrument] = cfg
	m.mu.Unlock()

	if old != nil {
		m.machine.Teardown(ctx, old)
	}
	return nil
}

// Disable removes the config for an instrument and cancels its live stop.
// It reports whether a config existed.
func (m *Manager) Disable(ctx context.Context, instrument string) bool {
	m.mu.Lock()
	cfg, ok := m.configs[instrument]
	delete(m.configs, instrument)
	m.mu.Unlock()

	if ok {
		m.machine.Teardown(ctx, cfg)
	}
	return ok
}

// Remove drops a config without touching its orders (used after the machine
// already tore it down).
func (m *Manager) Remove(instrument string) {
	m.mu.Lock()
	delete(m.configs, instrument)
	m.mu.Unlock()
}

// Active returns the current configs for iteration.
func (m *Manager) Active() []*Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Config, 0, len(m.configs))
	for _, cfg := range m.configs {
		out = append(out, cfg)
	}
	return out
}

// Get returns the config for an instrument, if any.
func (m *Manager) Get(instrument string) (*Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[instrument]
	return cfg, ok
}

// Machine exposes the evaluation machine shared by the monitoring loop.
func (m *Manager) Machine() *Machine {
	return m.machine
}
