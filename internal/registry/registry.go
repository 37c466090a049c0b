package registry

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"nt-bridge/internal/backend"
	"nt-bridge/internal/events"
)

// Record is the registry's snapshot of one order. It is owned exclusively by
// the Registry; callers receive copies.
type Record struct {
	ClientID    string
	NativeID    string
	Instrument  string
	Side        backend.Side
	Type        backend.OrderType
	Qty         int
	LimitPrice  float64
	StopPrice   float64
	TimeInForce backend.TimeInForce
	OCOGroup    string
	State       backend.OrderState
	Filled      int
	Remaining   int
	AvgPrice    float64
	Tag         string
	Submitted   time.Time
	LastUpdate  time.Time
}

// Registry tracks order snapshots, the client-id to native-id cache, and the
// user-tag alias table. All tables live behind one mutex; the lock is never
// held across a call into the backend adapter.
type Registry struct {
	adapter backend.Adapter
	bus     *events.Bus

	mu       sync.Mutex
	orders   map[string]*Record // client id -> record
	byNative map[string]string  // native id -> client id
	aliases  map[string]string  // user tag -> client id
	seq      uint64

	shutdown chan struct{}
	once     sync.Once
}

// New creates a Registry bound to the given adapter. The bus is optional; when
// set, every snapshot refresh is published as an EventOrderUpdate.
func New(adapter backend.Adapter, bus *events.Bus) *Registry {
	return &Registry{
		adapter:  adapter,
		bus:      bus,
		orders:   make(map[string]*Record),
		byNative: make(map[string]string),
		aliases:  make(map[string]string),
		shutdown: make(chan struct{}),
	}
}

// Close signals any in-flight resolver waits to return early.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.shutdown) })
}

// NewClientID generates a human-traceable order id that is unique even for
// bursts within the same millisecond.
func (r *Registry) NewClientID(instrument string) string {
	r.mu.Lock()
	r.seq++
	seq := r.seq % 10000
	r.mu.Unlock()
	return fmt.Sprintf("%s_%d_%04d", normalizeInstrument(instrument), time.Now().UnixMilli(), seq)
}

func normalizeInstrument(instrument string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(instrument) {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "ORDER"
	}
	return b.String()
}

// Place registers the order as SUBMITTED, then submits it to the backend with
// the client id as its tag. A backend rejection is surfaced immediately; the
// snapshot is kept in REJECTED state so the id is never lost silently.
func (r *Registry) Place(ctx context.Context, req backend.OrderRequest, userTag string) (string, error) {
	clientID := req.Tag
	if clientID == "" {
		clientID = r.NewClientID(req.Instrument)
		req.Tag = clientID
	}

	now := time.Now()
	rec := &Record{
		ClientID:    clientID,
		Instrument:  req.Instrument,
		Side:        req.Side,
		Type:        req.Type,
		Qty:         req.Qty,
		LimitPrice:  req.LimitPrice,
		StopPrice:   req.StopPrice,
		TimeInForce: req.TimeInForce,
		OCOGroup:    req.OCOGroup,
		State:       backend.StateSubmitted,
		Remaining:   req.Qty,
		Tag:         userTag,
		Submitted:   now,
		LastUpdate:  now,
	}

	r.mu.Lock()
	if _, exists := r.orders[clientID]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("duplicate order id %s", clientID)
	}
	r.orders[clientID] = rec
	if userTag != "" {
		r.aliases[userTag] = clientID
	}
	r.mu.Unlock()

	res, err := r.adapter.SubmitOrder(ctx, req)
	if err != nil {
		r.applyState(clientID, backend.StateRejected, err.Error())
		return clientID, fmt.Errorf("submit %s: %w", clientID, err)
	}
	if res.State == backend.StateRejected {
		r.applyState(clientID, backend.StateRejected, res.Message)
		return clientID, fmt.Errorf("submit %s: %s", clientID, res.Message)
	}
	if res.NativeID != "" {
		r.setNativeID(clientID, res.NativeID)
	}

	r.publish(clientID)
	return clientID, nil
}

func (r *Registry) applyState(clientID string, state backend.OrderState, msg string) {
	r.mu.Lock()
	if rec, ok := r.orders[clientID]; ok {
		rec.State = state
		rec.LastUpdate = time.Now()
		if state.IsTerminal() {
			r.dropAliasLocked(clientID)
		}
	}
	r.mu.Unlock()
	if msg != "" {
		log.Printf("registry: order %s -> %s (%s)", clientID, state, msg)
	}
	r.publish(clientID)
}

func (r *Registry) setNativeID(clientID, nativeID string) {
	r.mu.Lock()
	if rec, ok := r.orders[clientID]; ok && rec.NativeID == "" {
		rec.NativeID = nativeID
		r.byNative[nativeID] = clientID
	}
	r.mu.Unlock()
}

// NativeID returns the cached terminal order id for a client id, if known.
func (r *Registry) NativeID(clientID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.orders[clientID]; ok {
		return rec.NativeID
	}
	return ""
}

// UpdateFromEvent refreshes the snapshot from an async order-state event.
// Events carry the authoritative state; a stale event (older than the last
// applied update) is ignored so polling never clobbers fresher data.
func (r *Registry) UpdateFromEvent(u backend.OrderUpdate) {
	clientID := u.Tag
	r.mu.Lock()
	if clientID == "" && u.NativeID != "" {
		clientID = r.byNative[u.NativeID]
	}
	rec, ok := r.orders[clientID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if !u.Timestamp.IsZero() && u.Timestamp.Before(rec.LastUpdate) {
		r.mu.Unlock()
		return
	}
	if u.NativeID != "" && rec.NativeID == "" {
		rec.NativeID = u.NativeID
		r.byNative[u.NativeID] = clientID
	}
	if u.State != "" && u.State != backend.StateUnknown {
		rec.State = u.State
	}
	rec.Filled = u.Filled
	rec.Remaining = u.Remaining
	if u.AvgPrice > 0 {
		rec.AvgPrice = u.AvgPrice
	}
	if u.Timestamp.IsZero() {
		rec.LastUpdate = time.Now()
	} else {
		rec.LastUpdate = u.Timestamp
	}
	if rec.State.IsTerminal() {
		r.dropAliasLocked(clientID)
	}
	r.mu.Unlock()

	r.publish(clientID)
}

func (r *Registry) dropAliasLocked(clientID string) {
	for tag, id := range r.aliases {
		if id == clientID {
			delete(r.aliases, tag)
		}
	}
}

// ResolveAlias accepts either a genuine client order id or a registered user
// tag and returns the canonical client id. Unknown keys pass through unchanged
// so callers can still try the backend directly.
func (r *Registry) ResolveAlias(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.aliases[key]; ok {
		return id
	}
	return key
}

// Snapshot returns a copy of the record for a client id.
func (r *Registry) Snapshot(clientID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.orders[clientID]; ok {
		return *rec, true
	}
	return Record{}, false
}

// Records returns copies of all tracked orders.
func (r *Registry) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.orders))
	for _, rec := range r.orders {
		out = append(out, *rec)
	}
	return out
}

// ActiveRecords returns copies of orders that can still trade, optionally
// filtered by instrument.
func (r *Registry) ActiveRecords(instrument string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.orders))
	for _, rec := range r.orders {
		if !rec.State.IsActive() {
			continue
		}
		if instrument != "" && rec.Instrument != instrument {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// Prune removes terminal snapshots whose last update predates the cutoff,
// along with their native-id cache entries.
func (r *Registry) Prune(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, rec := range r.orders {
		if rec.State.IsTerminal() && rec.LastUpdate.Before(cutoff) {
			if rec.NativeID != "" {
				delete(r.byNative, rec.NativeID)
			}
			delete(r.orders, id)
			removed++
		}
	}
	return removed
}

func (r *Registry) publish(clientID string) {
	if r.bus == nil {
		return
	}
	if rec, ok := r.Snapshot(clientID); ok {
		r.bus.Publish(events.EventOrderUpdate, rec)
	}
}
