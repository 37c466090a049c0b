package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"nt-bridge/internal/backend"
	"nt-bridge/internal/protection"
	"nt-bridge/internal/registry"
)

// Positional field indexes within the 13-field ATI command layout, counted
// after the verb.
const (
	fieldAccount    = 0
	fieldInstrument = 1
	fieldAction     = 2
	fieldQty        = 3
	fieldOrderType  = 4
	fieldLimit      = 5
	fieldStop       = 6
	fieldTIF        = 7
	fieldOCO        = 8
	fieldOrderID    = 9
	fieldStrategy   = 10
	fieldUserTag    = 11
)

// Handlers implements every command verb against the registry, the protection
// manager, and the backend adapter.
type Handlers struct {
	Adapter    backend.Adapter
	Registry   *registry.Registry
	Protection *protection.Manager
	Profiles   map[string]protection.Profile

	ResolvePoll    time.Duration
	ResolveTimeout time.Duration

	mu      sync.RWMutex
	account string
}

// RegisterAll wires every verb into the dispatcher.
func (h *Handlers) RegisterAll(d *Dispatcher) {
	d.Register("PING", h.ping)
	d.Register("STATUS", h.statusWith(d))
	d.Register("PLACE", h.place)
	d.Register("CANCEL", h.cancel)
	d.Register("CHANGE", h.change)
	d.Register("CLOSEPOSITION", h.closePosition)
	d.Register("CANCELALLORDERS", h.cancelAllOrders)
	d.Register("FLATTENEVERYTHING", h.flattenEverything)
	d.Register("REVERSEPOSITION", h.reversePosition)
	d.Register("GET_POSITIONS", h.getPositions)
	d.Register("GET_ORDERS", h.getOrders)
	d.Register("GET_ACCOUNTS", h.getAccounts)
	d.Register("SET_ACCOUNT", h.setAccount)
	d.Register("ACCOUNT_INFO", h.accountInfo)
	d.Register("AUTO_BREAKEVEN", h.autoBreakeven)
	d.Register("CANCEL_BREAKEVEN", h.cancelBreakeven)
	d.Register("GET_MARKET_DATA", h.getMarketData)
	d.Register("SUBSCRIBE_MARKET_DATA", h.subscribeMarketData)
	d.Register("UNSUBSCRIBE_MARKET_DATA", h.unsubscribeMarketData)
}

// SetAccount sets the active trading account used when commands omit one.
func (h *Handlers) SetAccount(name string) {
	h.mu.Lock()
	h.account = name
	h.mu.Unlock()
}

// Account returns the active trading account.
func (h *Handlers) Account() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.account
}

func arg(args []string, i int) string {
	if i < len(args) {
		return strings.TrimSpace(args[i])
	}
	return ""
}

func parseQty(s string) (int, error) {
	qty, err := strconv.Atoi(s)
	if err != nil || qty <= 0 {
		return 0, fmt.Errorf("invalid quantity: %q", s)
	}
	return qty, nil
}

func parsePrice(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil || p < 0 {
		return 0, fmt.Errorf("invalid price: %q", s)
	}
	return p, nil
}

func parseSide(s string) (backend.Side, error) {
	switch strings.ToUpper(s) {
	case "BUY":
		return backend.SideBuy, nil
	case "SELL":
		return backend.SideSell, nil
	default:
		return "", fmt.Errorf("invalid action: %q", s)
	}
}

func parseOrderType(s string) (backend.OrderType, error) {
	switch strings.ToUpper(s) {
	case "", "MARKET":
		return backend.OrderTypeMarket, nil
	case "LIMIT":
		return backend.OrderTypeLimit, nil
	case "STOP", "STOP_MARKET", "STOPMKT":
		return backend.OrderTypeStop, nil
	case "STOPLIMIT", "STOP_LIMIT", "STOPLMT":
		return backend.OrderTypeStopLimit, nil
	default:
		return "", fmt.Errorf("invalid order type: %q", s)
	}
}

func (h *Handlers) accountOrDefault(s string) string {
	if s != "" {
		return s
	}
	return h.Account()
}

func (h *Handlers) ping(context.Context, []string) (string, error) {
	return "PONG", nil
}

func (h *Handlers) statusWith(d *Dispatcher) HandlerFunc {
	return func(context.Context, []string) (string, error) {
		return fmt.Sprintf("OK|%s|%d|%s",
			d.Uptime().Round(time.Second), d.Processed(), h.Account()), nil
	}
}

// buildOrderRequest validates the shared PLACE/REVERSEPOSITION field layout.
// Validation happens before any backend call so malformed commands have no
// side effects.
func (h *Handlers) buildOrderRequest(args []string) (backend.OrderRequest, string, error) {
	var req backend.OrderRequest

	instrument := arg(args, fieldInstrument)
	if instrument == "" {
		return req, "", fmt.Errorf("missing instrument")
	}
	side, err := parseSide(arg(args, fieldAction))
	if err != nil {
		return req, "", err
	}
	qty, err := parseQty(arg(args, fieldQty))
	if err != nil {
		return req, "", err
	}
	orderType, err := parseOrderType(arg(args, fieldOrderType))
	if err != nil {
		return req, "", err
	}
	limit, err := parsePrice(arg(args, fieldLimit))
	if err != nil {
		return req, "", err
	}
	stop, err := parsePrice(arg(args, fieldStop))
	if err != nil {
		return req, "", err
	}
	if orderType == backend.OrderTypeLimit && limit <= 0 {
		return req, "", fmt.Errorf("limit order requires a limit price")
	}
	if (orderType == backend.OrderTypeStop || orderType == backend.OrderTypeStopLimit) && stop <= 0 {
		return req, "", fmt.Errorf("stop order requires a stop price")
	}

	tif := backend.TimeInForce(strings.ToUpper(arg(args, fieldTIF)))
	if tif == "" {
		tif = backend.TIFDay
	}

	req = backend.OrderRequest{
		Account:     h.accountOrDefault(arg(args, fieldAccount)),
		Instrument:  instrument,
		Side:        side,
		Type:        orderType,
		Qty:         qty,
		LimitPrice:  limit,
		StopPrice:   stop,
		TimeInForce: tif,
		OCOGroup:    arg(args, fieldOCO),
		Tag:         arg(args, fieldOrderID),
	}
	userTag := arg(args, fieldUserTag)
	if userTag == "" {
		userTag = arg(args, fieldStrategy)
	}
	return req, userTag, nil
}

func (h *Handlers) place(ctx context.Context, args []string) (string, error) {
	req, userTag, err := h.buildOrderRequest(args)
	if err != nil {
		return "", err
	}

	clientID, err := h.Registry.Place(ctx, req, userTag)
	if err != nil {
		return "", err
	}

	// The native id may lag the ack; wait a bounded time, then answer with
	// whatever is known. An unconfirmed id is not a placement failure.
	nativeID := h.Registry.ResolveNativeID(ctx, req.Account, clientID, h.ResolvePoll, h.ResolveTimeout)
	return fmt.Sprintf("OK|%s|%s", clientID, nativeID), nil
}

// lookupOrder resolves an order key (client id or user tag) to its snapshot.
func (h *Handlers) lookupOrder(key string) (registry.Record, error) {
	if key == "" {
		return registry.Record{}, fmt.Errorf("missing order id")
	}
	clientID := h.Registry.ResolveAlias(key)
	rec, ok := h.Registry.Snapshot(clientID)
	if !ok {
		return registry.Record{}, fmt.Errorf("Order not found: %s", key)
	}
	return rec, nil
}

func (h *Handlers) cancel(ctx context.Context, args []string) (string, error) {
	key := arg(args, fieldOrderID)
	rec, err := h.lookupOrder(key)
	if err != nil {
		return "", err
	}
	if rec.State.IsTerminal() {
		return "", fmt.Errorf("Order already %s: %s", rec.State, rec.ClientID)
	}

	id := rec.NativeID
	if id == "" {
		id = rec.ClientID
	}
	if err := h.Adapter.CancelOrder(ctx, id); err != nil {
		return "", fmt.Errorf("cancel %s: %w", rec.ClientID, err)
	}
	return "OK|" + rec.ClientID, nil
}

// change cancels and resubmits with the new parameters, preserving any OCO
// linkage. The terminal's in-place modify is unreliable across order states,
// so queue priority is knowingly forfeited.
func (h *Handlers) change(ctx context.Context, args []string) (string, error) {
	key := arg(args, fieldOrderID)
	rec, err := h.lookupOrder(key)
	if err != nil {
		return "", err
	}
	if rec.State.IsTerminal() {
		return "", fmt.Errorf("Order not modifiable, already %s: %s", rec.State, rec.ClientID)
	}

	qty := rec.Remaining
	if q := arg(args, fieldQty); q != "" {
		if qty, err = parseQty(q); err != nil {
			return "", err
		}
	}
	limit := rec.LimitPrice
	if l := arg(args, fieldLimit); l != "" {
		if limit, err = parsePrice(l); err != nil {
			return "", err
		}
	}
	stop := rec.StopPrice
	if s := arg(args, fieldStop); s != "" {
		if stop, err = parsePrice(s); err != nil {
			return "", err
		}
	}

	id := rec.NativeID
	if id == "" {
		id = rec.ClientID
	}
	if err := h.Adapter.CancelOrder(ctx, id); err != nil {
		return "", fmt.Errorf("change %s: cancel failed: %w", rec.ClientID, err)
	}

	// The replacement keeps the original's TIF and OCO group so the backend
	// can still cancel the sibling order on fill.
	tif := rec.TimeInForce
	if tif == "" {
		tif = backend.TIFGTC
	}
	req := backend.OrderRequest{
		Account:     h.Account(),
		Instrument:  rec.Instrument,
		Side:        rec.Side,
		Type:        rec.Type,
		Qty:         qty,
		LimitPrice:  limit,
		StopPrice:   stop,
		TimeInForce: tif,
		OCOGroup:    rec.OCOGroup,
	}
	newID, err := h.Registry.Place(ctx, req, rec.Tag)
	if err != nil {
		return "", fmt.Errorf("change %s: resubmit failed: %w", rec.ClientID, err)
	}
	nativeID := h.Registry.ResolveNativeID(ctx, req.Account, newID, h.ResolvePoll, h.ResolveTimeout)
	return fmt.Sprintf("OK|%s|%s", newID, nativeID), nil
}

// closeInstrument cancels working orders on the instrument and market-closes
// the position. Flat is a no-op success.
func (h *Handlers) closeInstrument(ctx context.Context, account, instrument string) error {
	orders, err := h.Adapter.ActiveOrders(ctx, account)
	if err != nil {
		return fmt.Errorf("order query: %w", err)
	}
	for _, o := range orders {
		if !strings.EqualFold(o.Instrument, instrument) {
			continue
		}
		id := o.NativeID
		if id == "" {
			id = o.Tag
		}
		_ = h.Adapter.CancelOrder(ctx, id) // may already be gone
	}

	positions, err := h.Adapter.Positions(ctx, account)
	if err != nil {
		return fmt.Errorf("position query: %w", err)
	}
	for _, p := range positions {
		if !strings.EqualFold(p.Instrument, instrument) || p.Position == backend.PositionFlat || p.Qty == 0 {
			continue
		}
		side := backend.SideSell
		if p.Position == backend.PositionShort {
			side = backend.SideBuy
		}
		_, err := h.Registry.Place(ctx, backend.OrderRequest{
			Account:     account,
			Instrument:  p.Instrument,
			Side:        side,
			Type:        backend.OrderTypeMarket,
			Qty:         p.Qty,
			TimeInForce: backend.TIFDay,
		}, "")
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) closePosition(ctx context.Context, args []string) (string, error) {
	instrument := arg(args, fieldInstrument)
	if instrument == "" {
		return "", fmt.Errorf("missing instrument")
	}
	account := h.accountOrDefault(arg(args, fieldAccount))
	if err := h.closeInstrument(ctx, account, instrument); err != nil {
		return "", err
	}
	h.Protection.Disable(ctx, instrument)
	return "OK|" + instrument, nil
}

func (h *Handlers) cancelAllOrders(ctx context.Context, args []string) (string, error) {
	account := h.accountOrDefault(arg(args, fieldAccount))
	orders, err := h.Adapter.ActiveOrders(ctx, account)
	if err != nil {
		return "", fmt.Errorf("order query: %w", err)
	}
	cancelled := 0
	for _, o := range orders {
		id := o.NativeID
		if id == "" {
			id = o.Tag
		}
		if err := h.Adapter.CancelOrder(ctx, id); err == nil {
			cancelled++
		}
	}
	return fmt.Sprintf("OK|%d", cancelled), nil
}

func (h *Handlers) flattenEverything(ctx context.Context, args []string) (string, error) {
	account := h.accountOrDefault(arg(args, fieldAccount))
	if _, err := h.cancelAllOrders(ctx, args); err != nil {
		return "", err
	}
	positions, err := h.Adapter.Positions(ctx, account)
	if err != nil {
		return "", fmt.Errorf("position query: %w", err)
	}
	for _, p := range positions {
		if p.Position == backend.PositionFlat || p.Qty == 0 {
			continue
		}
		if err := h.closeInstrument(ctx, account, p.Instrument); err != nil {
			return "", err
		}
		h.Protection.Disable(ctx, p.Instrument)
	}
	return "OK", nil
}

// reversePosition flattens the current position on the instrument and opens a
// new one in the direction the command specifies.
func (h *Handlers) reversePosition(ctx context.Context, args []string) (string, error) {
	req, userTag, err := h.buildOrderRequest(args)
	if err != nil {
		return "", err
	}
	if err := h.closeInstrument(ctx, req.Account, req.Instrument); err != nil {
		return "", err
	}
	h.Protection.Disable(ctx, req.Instrument)

	clientID, err := h.Registry.Place(ctx, req, userTag)
	if err != nil {
		return "", err
	}
	nativeID := h.Registry.ResolveNativeID(ctx, req.Account, clientID, h.ResolvePoll, h.ResolveTimeout)
	return fmt.Sprintf("OK|%s|%s", clientID, nativeID), nil
}

func (h *Handlers) getPositions(ctx context.Context, args []string) (string, error) {
	account := h.accountOrDefault(arg(args, fieldAccount))
	positions, err := h.Adapter.Positions(ctx, account)
	if err != nil {
		return "", fmt.Errorf("position query: %w", err)
	}
	var b strings.Builder
	b.WriteString("OK")
	for _, p := range positions {
		if p.Position == backend.PositionFlat {
			continue
		}
		fmt.Fprintf(&b, "|%s,%s,%d,%.4f,%.2f",
			p.Instrument, p.Position, p.Qty, p.AvgPrice, p.UnrealizedPnL)
	}
	return b.String(), nil
}

func (h *Handlers) getOrders(ctx context.Context, args []string) (string, error) {
	var b strings.Builder
	b.WriteString("OK")
	for _, rec := range h.Registry.ActiveRecords("") {
		fmt.Fprintf(&b, "|%s,%s,%s,%s,%d,%s,%s,%d,%d,%.4f,%s",
			rec.ClientID, rec.Instrument, rec.Side, rec.Type, rec.Qty,
			rec.State, rec.NativeID, rec.Filled, rec.Remaining, rec.AvgPrice, rec.Tag)
	}
	return b.String(), nil
}

func (h *Handlers) getAccounts(ctx context.Context, args []string) (string, error) {
	names, err := h.Adapter.AccountNames(ctx)
	if err != nil {
		return "", fmt.Errorf("account query: %w", err)
	}
	return "OK|" + strings.Join(names, "|"), nil
}

func (h *Handlers) setAccount(ctx context.Context, args []string) (string, error) {
	name := arg(args, fieldAccount)
	if name == "" {
		return "", fmt.Errorf("missing account name")
	}
	names, err := h.Adapter.AccountNames(ctx)
	if err != nil {
		return "", fmt.Errorf("account query: %w", err)
	}
	for _, n := range names {
		if n == name {
			h.SetAccount(name)
			return "OK|" + name, nil
		}
	}
	return "", fmt.Errorf("Unknown account: %s", name)
}

func (h *Handlers) accountInfo(ctx context.Context, args []string) (string, error) {
	account := h.accountOrDefault(arg(args, fieldAccount))
	info, err := h.Adapter.AccountInfo(ctx, account)
	if err != nil {
		return "", fmt.Errorf("account query: %w", err)
	}
	return fmt.Sprintf("OK|%s|%s|%.2f|%.2f|%.2f",
		info.Name, info.Status, info.BuyingPower, info.RealizedPnL, info.CashValue), nil
}

func (h *Handlers) getMarketData(ctx context.Context, args []string) (string, error) {
	instrument := arg(args, fieldAccount) // first positional field
	if instrument == "" {
		return "", fmt.Errorf("missing instrument")
	}
	q, err := h.Adapter.Quote(ctx, instrument)
	if err != nil {
		return "", fmt.Errorf("market data: %w", err)
	}
	return fmt.Sprintf("OK|%.4f|%.4f|%.4f|%.0f", q.Bid, q.Ask, q.Last, q.Volume), nil
}

func (h *Handlers) subscribeMarketData(ctx context.Context, args []string) (string, error) {
	instrument := arg(args, fieldAccount)
	if instrument == "" {
		return "", fmt.Errorf("missing instrument")
	}
	if err := h.Adapter.Subscribe(ctx, instrument); err != nil {
		return "", err
	}
	return "", nil // legacy silent success
}

func (h *Handlers) unsubscribeMarketData(ctx context.Context, args []string) (string, error) {
	instrument := arg(args, fieldAccount)
	if instrument == "" {
		return "", fmt.Errorf("missing instrument")
	}
	if err := h.Adapter.Unsubscribe(ctx, instrument); err != nil {
		return "", err
	}
	return "", nil
}
