package protection

import (
	"fmt"
	"sync"

	"nt-bridge/internal/backend"
)

// Level is one staged breakeven step. Both offsets are signed and expressed in
// absolute price points relative to the entry price; converting tick counts to
// price points is the caller's concern.
type Level struct {
	TriggerOffset float64 // favorable excursion required to arm this level
	StopOffset    float64 // protective stop distance from entry once armed
}

// Config is the per-position protection state. The staged levels advance
// monotonically and never revisit; after the last level the stop trails the
// extreme favorable price at TrailDistance, only ever tightening.
type Config struct {
	Instrument    string
	Account       string
	Side          backend.MarketPosition // LONG or SHORT
	EntryPrice    float64
	Levels        []Level
	TrailTrigger  float64 // extra excursion required before the first trailing replace
	TrailDistance float64 // 0 disables trailing after the last level

	mu          sync.Mutex
	level       int     // current level, 0 = unprotected
	extreme     float64 // best favorable price since trailing armed
	stopOrderID string  // client id of the live protective stop, if any
	stopPrice   float64
	retired     bool // set on teardown; a retired config never records a stop again
}

// State is a read-only view of a Config's mutable fields.
type State struct {
	Instrument  string
	Side        backend.MarketPosition
	EntryPrice  float64
	Level       int
	MaxLevel    int
	Trailing    bool
	Extreme     float64
	StopOrderID string
	StopPrice   float64
}

// Validate checks the config is well formed before it is activated.
func (c *Config) Validate() error {
	if c.Instrument == "" {
		return fmt.Errorf("protection config missing instrument")
	}
	if c.Side != backend.PositionLong && c.Side != backend.PositionShort {
		return fmt.Errorf("protection side must be LONG or SHORT, got %q", c.Side)
	}
	if c.EntryPrice <= 0 {
		return fmt.Errorf("protection entry price must be positive")
	}
	if len(c.Levels) == 0 && c.TrailDistance <= 0 {
		return fmt.Errorf("protection config has no levels and no trailing distance")
	}
	prev := 0.0
	for i, lvl := range c.Levels {
		if lvl.TriggerOffset <= prev {
			return fmt.Errorf("level %d trigger offset %v not increasing", i+1, lvl.TriggerOffset)
		}
		prev = lvl.TriggerOffset
	}
	return nil
}

// Snapshot returns the current mutable state under the config lock.
func (c *Config) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Instrument:  c.Instrument,
		Side:        c.Side,
		EntryPrice:  c.EntryPrice,
		Level:       c.level,
		MaxLevel:    len(c.Levels),
		Trailing:    c.level >= len(c.Levels) && c.TrailDistance > 0,
		Extreme:     c.extreme,
		StopOrderID: c.stopOrderID,
		StopPrice:   c.stopPrice,
	}
}

// advance moves to the next level exactly once and records the new live stop.
// The level counter never decreases. It reports false when the config was
// retired while the stop was in flight; the caller owns the orphaned order.
func (c *Config) advance(stopOrderID string, stopPrice, price float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return false
	}
	c.level++
	c.stopOrderID = stopOrderID
	c.stopPrice = stopPrice
	if c.level >= len(c.Levels) && c.TrailDistance > 0 {
		c.extreme = price
	}
	return true
}

// ratchet records a trailing replacement and the new extreme. Like advance it
// refuses on a retired config.
func (c *Config) ratchet(stopOrderID string, stopPrice, extreme float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return false
	}
	c.stopOrderID = stopOrderID
	c.stopPrice = stopPrice
	c.extreme = extreme
	return true
}

// observeExtreme folds a new price into the extreme favorable price.
func (c *Config) observeExtreme(price float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Side == backend.PositionLong {
		if price > c.extreme {
			c.extreme = price
		}
	} else if c.extreme == 0 || price < c.extreme {
		c.extreme = price
	}
	return c.extreme
}

// clearStop retires the config and forgets the live stop reference. A monitor
// tick may still hold the config after teardown; retirement keeps it from
// arming a new stop nobody tracks.
func (c *Config) clearStop() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retired = true
	id := c.stopOrderID
	c.stopOrderID = ""
	return id
}

func (c *Config) isRetired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retired
}

// excursion computes the favorable price movement since entry for the
// configured side.
func (c *Config) excursion(price float64) float64 {
	if c.Side == backend.PositionLong {
		return price - c.EntryPrice
	}
	return c.EntryPrice - price
}

// stopFromEntry converts a signed stop offset into an absolute price.
func (c *Config) stopFromEntry(offset float64) float64 {
	if c.Side == backend.PositionLong {
		return c.EntryPrice + offset
	}
	return c.EntryPrice - offset
}
