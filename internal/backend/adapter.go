package backend

import (
	"context"
	"errors"
)

// ErrNotSubscribed is returned by Quote when no market data is available for
// the instrument yet.
var ErrNotSubscribed = errors.New("no market data for instrument")

// Adapter abstracts the order-execution backend of the trading terminal.
//
// All calls may block on I/O; callers must not hold registry or protection
// locks across them. Order-state changes arrive asynchronously on Events,
// keyed by the tag the order was submitted under. The native order id may be
// absent from the submission ack and only appear later in an event or in
// ActiveOrders.
type Adapter interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	// CancelOrder cancels by native id when known, otherwise by tag.
	CancelOrder(ctx context.Context, id string) error
	ActiveOrders(ctx context.Context, account string) ([]LiveOrder, error)
	Positions(ctx context.Context, account string) ([]PositionSnapshot, error)
	AccountNames(ctx context.Context) ([]string, error)
	AccountInfo(ctx context.Context, account string) (AccountSnapshot, error)
	Quote(ctx context.Context, instrument string) (Quote, error)
	Subscribe(ctx context.Context, instrument string) error
	Unsubscribe(ctx context.Context, instrument string) error
	Events() <-chan OrderUpdate
}
