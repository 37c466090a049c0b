// Package sim implements a simulated trading terminal for dry-run mode and
// tests. Market orders fill immediately at the last price, stop orders trigger
// when the price crosses them, and native order ids are assigned after a
// configurable delay to mimic the real terminal's late id reporting.
package sim

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nt-bridge/internal/backend"
	"nt-bridge/internal/events"
)

type order struct {
	tag        string
	nativeID   string
	instrument string
	side       backend.Side
	orderType  backend.OrderType
	qty        int
	limitPrice float64
	stopPrice  float64
	state      backend.OrderState
	filled     int
	avgPrice   float64
}

type position struct {
	qty      int // signed: positive long, negative short
	avgPrice float64
	realized float64
}

// Backend is an in-memory stand-in for the terminal's order execution API.
type Backend struct {
	NativeDelay time.Duration
	StartPrice  float64
	TickStep    float64
	Bus         *events.Bus

	mu        sync.Mutex
	prices    map[string]float64
	volumes   map[string]float64
	subs      map[string]bool
	orders    map[string]*order // keyed by tag
	positions map[string]*position
	accounts  []string
	seq       int

	events chan backend.OrderUpdate
}

func New(accounts []string) *Backend {
	if len(accounts) == 0 {
		accounts = []string{"Sim101"}
	}
	return &Backend{
		StartPrice: 100,
		TickStep:   0.25,
		prices:     make(map[string]float64),
		volumes:    make(map[string]float64),
		subs:       make(map[string]bool),
		orders:     make(map[string]*order),
		positions:  make(map[string]*position),
		accounts:   accounts,
		events:     make(chan backend.OrderUpdate, 256),
	}
}

func (b *Backend) Events() <-chan backend.OrderUpdate {
	return b.events
}

func (b *Backend) emit(u backend.OrderUpdate) {
	u.Timestamp = time.Now()
	select {
	case b.events <- u:
	default:
		log.Println("sim: event channel full, dropping update")
	}
}

func key(instrument string) string {
	return strings.ToUpper(strings.ReplaceAll(instrument, " ", ""))
}

// SubmitOrder acks without a native id; the id arrives later on the event
// stream, which is what forces callers through the identifier resolver.
func (b *Backend) SubmitOrder(ctx context.Context, req backend.OrderRequest) (backend.OrderResult, error) {
	if req.Qty <= 0 {
		return backend.OrderResult{State: backend.StateRejected, Message: "quantity must be positive"},
			fmt.Errorf("quantity must be positive")
	}
	if req.Tag == "" {
		return backend.OrderResult{State: backend.StateRejected, Message: "missing order tag"},
			fmt.Errorf("missing order tag")
	}

	b.mu.Lock()
	if _, dup := b.orders[req.Tag]; dup {
		b.mu.Unlock()
		return backend.OrderResult{State: backend.StateRejected, Message: "duplicate tag"},
			fmt.Errorf("duplicate tag %s", req.Tag)
	}
	o := &order{
		tag:        req.Tag,
		instrument: req.Instrument,
		side:       req.Side,
		orderType:  req.Type,
		qty:        req.Qty,
		limitPrice: req.LimitPrice,
		stopPrice:  req.StopPrice,
		state:      backend.StateWorking,
	}
	b.orders[req.Tag] = o

	if req.Type == backend.OrderTypeMarket {
		price, ok := b.prices[key(req.Instrument)]
		if !ok {
			price = b.StartPrice
			b.prices[key(req.Instrument)] = price
		}
		b.fillLocked(o, price)
	}
	b.mu.Unlock()

	b.assignNativeLater(req.Tag)
	return backend.OrderResult{State: backend.StateWorking}, nil
}

// assignNativeLater gives the order its terminal id after NativeDelay and
// reports the full state in the same event.
func (b *Backend) assignNativeLater(tag string) {
	delay := b.NativeDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	time.AfterFunc(delay, func() {
		b.mu.Lock()
		o, ok := b.orders[tag]
		if !ok {
			b.mu.Unlock()
			return
		}
		if o.nativeID == "" {
			b.seq++
			o.nativeID = fmt.Sprintf("NT-%06d", b.seq)
		}
		u := b.updateLocked(o)
		b.mu.Unlock()
		b.emit(u)
	})
}

func (b *Backend) updateLocked(o *order) backend.OrderUpdate {
	return backend.OrderUpdate{
		Tag:       o.tag,
		NativeID:  o.nativeID,
		State:     o.state,
		Filled:    o.filled,
		Remaining: o.qty - o.filled,
		AvgPrice:  o.avgPrice,
	}
}

// fillLocked executes the full quantity at price and books the position.
func (b *Backend) fillLocked(o *order, price float64) {
	o.state = backend.StateFilled
	o.filled = o.qty
	o.avgPrice = price

	k := key(o.instrument)
	p := b.positions[k]
	if p == nil {
		p = &position{}
		b.positions[k] = p
	}
	delta := o.qty
	if o.side == backend.SideSell {
		delta = -o.qty
	}
	newQty := p.qty + delta
	switch {
	case p.qty == 0 || (p.qty > 0) == (newQty > 0) && abs(newQty) > abs(p.qty):
		// opening or adding
		total := p.avgPrice*float64(abs(p.qty)) + price*float64(abs(delta))
		if newQty != 0 {
			p.avgPrice = total / float64(abs(newQty))
		}
	case newQty == 0:
		p.realized += float64(abs(p.qty)) * (price - p.avgPrice) * sign(p.qty)
		p.avgPrice = 0
	default:
		// reducing or flipping
		closed := min(abs(delta), abs(p.qty))
		p.realized += float64(closed) * (price - p.avgPrice) * sign(p.qty)
		if (newQty > 0) != (p.qty > 0) {
			p.avgPrice = price
		}
	}
	p.qty = newQty
	b.volumes[k] += float64(o.qty)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// CancelOrder accepts either a native id or a tag.
func (b *Backend) CancelOrder(ctx context.Context, id string) error {
	b.mu.Lock()
	var o *order
	if found, ok := b.orders[id]; ok {
		o = found
	} else {
		for _, cand := range b.orders {
			if cand.nativeID == id {
				o = cand
				break
			}
		}
	}
	if o == nil {
		b.mu.Unlock()
		return fmt.Errorf("order not found: %s", id)
	}
	if o.state.IsTerminal() {
		b.mu.Unlock()
		return fmt.Errorf("order %s already %s", o.tag, o.state)
	}
	o.state = backend.StateCancelled
	u := b.updateLocked(o)
	b.mu.Unlock()
	b.emit(u)
	return nil
}

func (b *Backend) ActiveOrders(ctx context.Context, account string) ([]backend.LiveOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]backend.LiveOrder, 0, len(b.orders))
	for _, o := range b.orders {
		if !o.state.IsActive() {
			continue
		}
		out = append(out, backend.LiveOrder{
			NativeID:   o.nativeID,
			Tag:        o.tag,
			Instrument: o.instrument,
			Side:       o.side,
			Type:       o.orderType,
			Qty:        o.qty,
			Filled:     o.filled,
			Remaining:  o.qty - o.filled,
			AvgPrice:   o.avgPrice,
			State:      o.state,
		})
	}
	return out, nil
}

func (b *Backend) Positions(ctx context.Context, account string) ([]backend.PositionSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]backend.PositionSnapshot, 0, len(b.positions))
	for k, p := range b.positions {
		if p.qty == 0 {
			continue
		}
		snap := backend.PositionSnapshot{
			Instrument: k,
			Qty:        abs(p.qty),
			AvgPrice:   p.avgPrice,
		}
		price := b.prices[k]
		if p.qty > 0 {
			snap.Position = backend.PositionLong
			snap.UnrealizedPnL = float64(p.qty) * (price - p.avgPrice)
		} else {
			snap.Position = backend.PositionShort
			snap.UnrealizedPnL = float64(-p.qty) * (p.avgPrice - price)
		}
		out = append(out, snap)
	}
	return out, nil
}

func (b *Backend) AccountNames(ctx context.Context) ([]string, error) {
	return append([]string(nil), b.accounts...), nil
}

func (b *Backend) AccountInfo(ctx context.Context, account string) (backend.AccountSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	realized := 0.0
	for _, p := range b.positions {
		realized += p.realized
	}
	name := account
	if name == "" && len(b.accounts) > 0 {
		name = b.accounts[0]
	}
	return backend.AccountSnapshot{
		Name:        name,
		Status:      "ACTIVE",
		BuyingPower: 100000,
		RealizedPnL: realized,
		CashValue:   100000 + realized,
	}, nil
}

func (b *Backend) Quote(ctx context.Context, instrument string) (backend.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	price, ok := b.prices[key(instrument)]
	if !ok {
		return backend.Quote{}, backend.ErrNotSubscribed
	}
	return backend.Quote{
		Instrument: instrument,
		Bid:        price - b.TickStep,
		Ask:        price + b.TickStep,
		Last:       price,
		Volume:     b.volumes[key(instrument)],
		Timestamp:  time.Now(),
	}, nil
}

func (b *Backend) Subscribe(ctx context.Context, instrument string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[key(instrument)] = true
	if _, ok := b.prices[key(instrument)]; !ok {
		b.prices[key(instrument)] = b.StartPrice
	}
	return nil
}

func (b *Backend) Unsubscribe(ctx context.Context, instrument string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, key(instrument))
	return nil
}

// SetPrice pins the last price for an instrument and triggers any resting
// stops the move crossed. Tests drive the market with it.
func (b *Backend) SetPrice(instrument string, price float64) {
	b.mu.Lock()
	b.prices[key(instrument)] = price

	var fills []backend.OrderUpdate
	for _, o := range b.orders {
		if o.state != backend.StateWorking || o.orderType != backend.OrderTypeStop {
			continue
		}
		if key(o.instrument) != key(instrument) {
			continue
		}
		triggered := (o.side == backend.SideSell && price <= o.stopPrice) ||
			(o.side == backend.SideBuy && price >= o.stopPrice)
		if triggered {
			b.fillLocked(o, o.stopPrice)
			fills = append(fills, b.updateLocked(o))
		}
	}
	b.mu.Unlock()

	for _, u := range fills {
		b.emit(u)
	}
	if b.Bus != nil {
		b.Bus.Publish(events.EventPriceTick, backend.Quote{Instrument: instrument, Last: price, Timestamp: time.Now()})
	}
}

// StartFeed walks subscribed prices randomly, like a quiet market.
func (b *Backend) StartFeed(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				b.mu.Lock()
				subs := make([]string, 0, len(b.subs))
				for k := range b.subs {
					subs = append(subs, k)
				}
				b.mu.Unlock()
				for _, k := range subs {
					b.mu.Lock()
					price := b.prices[k] + (rand.Float64()*2-1)*b.TickStep
					b.mu.Unlock()
					b.SetPrice(k, price)
				}
			}
		}
	}()
}
