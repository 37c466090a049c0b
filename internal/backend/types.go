package backend

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the exit side for a position entered with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the order types the terminal accepts.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOPLIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderState normalizes terminal order lifecycle states into a small set.
type OrderState string

const (
	StateSubmitted  OrderState = "SUBMITTED"
	StateAccepted   OrderState = "ACCEPTED"
	StateWorking    OrderState = "WORKING"
	StatePartFilled OrderState = "PART_FILLED"
	StateFilled     OrderState = "FILLED"
	StateCancelled  OrderState = "CANCELLED"
	StateRejected   OrderState = "REJECTED"
	StateUnknown    OrderState = "UNKNOWN"
)

// IsTerminal reports whether no further updates can arrive for this state.
func (s OrderState) IsTerminal() bool {
	return s == StateFilled || s == StateCancelled || s == StateRejected
}

// IsActive reports whether the order can still trade or be cancelled.
func (s OrderState) IsActive() bool {
	return s == StateSubmitted || s == StateAccepted || s == StateWorking || s == StatePartFilled
}

// MarketPosition denotes position direction.
type MarketPosition string

const (
	PositionFlat  MarketPosition = "FLAT"
	PositionLong  MarketPosition = "LONG"
	PositionShort MarketPosition = "SHORT"
)

// OrderRequest captures an order intent to be sent to the terminal.
type OrderRequest struct {
	Account     string
	Instrument  string
	Side        Side
	Type        OrderType
	Qty         int
	LimitPrice  float64 // required for LIMIT/STOPLIMIT
	StopPrice   float64 // required for STOP/STOPLIMIT
	TimeInForce TimeInForce
	OCOGroup    string
	Tag         string // client order id, used as the order name at the terminal
}

// OrderResult returns the terminal ack for a submission.
type OrderResult struct {
	NativeID string // may be empty until the terminal assigns one
	State    OrderState
	Message  string
}

// OrderUpdate is an asynchronous order-state event from the terminal.
type OrderUpdate struct {
	Tag       string // client order id the order was submitted under
	NativeID  string
	State     OrderState
	Filled    int
	Remaining int
	AvgPrice  float64
	Timestamp time.Time
	Message   string
}

// LiveOrder is the terminal's view of a working order, used by polling paths.
type LiveOrder struct {
	NativeID   string
	Tag        string
	Instrument string
	Side       Side
	Type       OrderType
	Qty        int
	Filled     int
	Remaining  int
	AvgPrice   float64
	State      OrderState
}

// PositionSnapshot is the terminal's view of an open position. Consumers must
// not cache it beyond one evaluation tick.
type PositionSnapshot struct {
	Instrument    string
	Position      MarketPosition
	Qty           int
	AvgPrice      float64
	UnrealizedPnL float64
}

// AccountSnapshot mirrors the terminal's account summary.
type AccountSnapshot struct {
	Name           string
	Status         string
	BuyingPower    float64
	RealizedPnL    float64
	CashValue      float64
	NetLiquidation float64
}

// Quote is a level-1 market data snapshot.
type Quote struct {
	Instrument string
	Bid        float64
	Ask        float64
	Last       float64
	Volume     float64
	Timestamp  time.Time
}
