package sim

import (
	"context"
	"strings"
	"testing"
	"time"

	"nt-bridge/internal/backend"
)

func waitEvent(t *testing.T, b *Backend, want func(backend.OrderUpdate) bool) backend.OrderUpdate {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-b.Events():
			if want(u) {
				return u
			}
		case <-deadline:
			t.Fatalf("expected event never arrived")
		}
	}
}

func TestMarketOrderFillsImmediately(t *testing.T) {
	b := New(nil)
	b.NativeDelay = time.Millisecond

	res, err := b.SubmitOrder(context.Background(), backend.OrderRequest{
		Instrument: "ES", Side: backend.SideBuy, Type: backend.OrderTypeMarket, Qty: 2, Tag: "t1",
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.NativeID != "" {
		t.Fatalf("ack carried native id %q, the id must arrive later", res.NativeID)
	}

	// The native id and the fill state arrive on the event stream.
	u := waitEvent(t, b, func(u backend.OrderUpdate) bool { return u.Tag == "t1" })
	if u.State != backend.StateFilled || u.Filled != 2 {
		t.Fatalf("event %+v, expected FILLED 2", u)
	}
	if !strings.HasPrefix(u.NativeID, "NT-") {
		t.Fatalf("native id %q", u.NativeID)
	}

	positions, _ := b.Positions(context.Background(), "")
	if len(positions) != 1 || positions[0].Position != backend.PositionLong || positions[0].Qty != 2 {
		t.Fatalf("positions %+v", positions)
	}
}

func TestSubmitValidation(t *testing.T) {
	b := New(nil)
	if _, err := b.SubmitOrder(context.Background(), backend.OrderRequest{
		Instrument: "ES", Side: backend.SideBuy, Type: backend.OrderTypeMarket, Qty: 0, Tag: "t1",
	}); err == nil {
		t.Fatalf("zero quantity accepted")
	}
	if _, err := b.SubmitOrder(context.Background(), backend.OrderRequest{
		Instrument: "ES", Side: backend.SideBuy, Type: backend.OrderTypeMarket, Qty: 1,
	}); err == nil {
		t.Fatalf("missing tag accepted")
	}
}

func TestStopOrderTriggersOnCross(t *testing.T) {
	b := New(nil)
	b.NativeDelay = time.Millisecond
	b.SetPrice("ES", 105)

	if _, err := b.SubmitOrder(context.Background(), backend.OrderRequest{
		Instrument: "ES", Side: backend.SideSell, Type: backend.OrderTypeStop,
		Qty: 1, StopPrice: 100, Tag: "stop1",
	}); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	// Above the stop, nothing happens.
	b.SetPrice("ES", 101)
	orders, _ := b.ActiveOrders(context.Background(), "")
	if len(orders) != 1 || orders[0].State != backend.StateWorking {
		t.Fatalf("stop fired early: %+v", orders)
	}

	// Crossing the stop fills at the stop price.
	b.SetPrice("ES", 99.5)
	u := waitEvent(t, b, func(u backend.OrderUpdate) bool {
		return u.Tag == "stop1" && u.State == backend.StateFilled
	})
	if u.AvgPrice != 100 {
		t.Fatalf("stop filled at %v, expected the stop price 100", u.AvgPrice)
	}
}

func TestCancelByTagAndNativeID(t *testing.T) {
	b := New(nil)
	b.NativeDelay = time.Millisecond

	if _, err := b.SubmitOrder(context.Background(), backend.OrderRequest{
		Instrument: "ES", Side: backend.SideSell, Type: backend.OrderTypeStop,
		Qty: 1, StopPrice: 90, Tag: "s1",
	}); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if err := b.CancelOrder(context.Background(), "s1"); err != nil {
		t.Fatalf("cancel by tag: %v", err)
	}
	if err := b.CancelOrder(context.Background(), "s1"); err == nil {
		t.Fatalf("second cancel of a terminal order succeeded")
	}

	if _, err := b.SubmitOrder(context.Background(), backend.OrderRequest{
		Instrument: "ES", Side: backend.SideSell, Type: backend.OrderTypeStop,
		Qty: 1, StopPrice: 90, Tag: "s2",
	}); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	u := waitEvent(t, b, func(u backend.OrderUpdate) bool { return u.Tag == "s2" && u.NativeID != "" })
	if err := b.CancelOrder(context.Background(), u.NativeID); err != nil {
		t.Fatalf("cancel by native id: %v", err)
	}
}

func TestPositionMath(t *testing.T) {
	b := New(nil)
	b.NativeDelay = time.Millisecond
	ctx := context.Background()

	buy := func(tag string, qty int, price float64) {
		t.Helper()
		b.SetPrice("ES", price)
		if _, err := b.SubmitOrder(ctx, backend.OrderRequest{
			Instrument: "ES", Side: backend.SideBuy, Type: backend.OrderTypeMarket, Qty: qty, Tag: tag,
		}); err != nil {
			t.Fatalf("buy %s: %v", tag, err)
		}
	}
	sell := func(tag string, qty int, price float64) {
		t.Helper()
		b.SetPrice("ES", price)
		if _, err := b.SubmitOrder(ctx, backend.OrderRequest{
			Instrument: "ES", Side: backend.SideSell, Type: backend.OrderTypeMarket, Qty: qty, Tag: tag,
		}); err != nil {
			t.Fatalf("sell %s: %v", tag, err)
		}
	}

	buy("b1", 2, 100)
	buy("b2", 2, 102) // average 101
	positions, _ := b.Positions(ctx, "")
	if positions[0].Qty != 4 || positions[0].AvgPrice != 101 {
		t.Fatalf("after adds: %+v", positions[0])
	}

	sell("s1", 4, 105) // realized 4 * (105 - 101) = 16
	positions, _ = b.Positions(ctx, "")
	if len(positions) != 0 {
		t.Fatalf("position not flat after full close: %+v", positions)
	}
	info, _ := b.AccountInfo(ctx, "Sim101")
	if info.RealizedPnL != 16 {
		t.Fatalf("realized %v, expected 16", info.RealizedPnL)
	}

	// Flipping: sell 2 while flat opens a short at the fill price.
	sell("s2", 2, 104)
	positions, _ = b.Positions(ctx, "")
	if positions[0].Position != backend.PositionShort || positions[0].AvgPrice != 104 {
		t.Fatalf("short not opened: %+v", positions[0])
	}
}

func TestQuoteRequiresSubscription(t *testing.T) {
	b := New(nil)
	if _, err := b.Quote(context.Background(), "CL"); err != backend.ErrNotSubscribed {
		t.Fatalf("err=%v, expected ErrNotSubscribed", err)
	}

	if err := b.Subscribe(context.Background(), "CL"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	q, err := b.Quote(context.Background(), "CL")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.Last != b.StartPrice || q.Bid >= q.Ask {
		t.Fatalf("quote %+v", q)
	}
}
