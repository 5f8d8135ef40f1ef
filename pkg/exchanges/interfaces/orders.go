package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/marketbridge/connector/pkg/events"
)

// OrderType is the canonical order type vocabulary. Adapters map these
// onto exchange enumerations through explicit tables.
type OrderType string

const (
	Limit      OrderType = "Limit"
	Market     OrderType = "Market"
	LimitMaker OrderType = "LimitMaker"
)

// OrderSpec is a caller-supplied order. It is validated before any
// network call is made.
type OrderSpec struct {
	Side  events.Side
	Type  OrderType
	Price decimal.Decimal
	Size  decimal.Decimal

	// ClientOrderID is optional; the connector generates one when empty.
	ClientOrderID string
}

// Validate rejects malformed order specs with a *ValidationError.
func (s OrderSpec) Validate() error {
	if s.Side != events.Buy && s.Side != events.Sell {
		return &ValidationError{Field: "side", Reason: "must be Buy or Sell"}
	}
	switch s.Type {
	case Limit, Market, LimitMaker:
	default:
		return &ValidationError{Field: "type", Reason: "unmapped order type"}
	}
	if !s.Size.IsPositive() {
		return &ValidationError{Field: "size", Reason: "must be positive"}
	}
	if s.Type != Market && !s.Price.IsPositive() {
		return &ValidationError{Field: "price", Reason: "must be positive for non-market orders"}
	}
	return nil
}

// OrderAck is the exchange's acknowledgment of a placed order.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Timestamp     int64
}

// Connector is the caller-facing API of one exchange connection. Connect
// delivers canonical events asynchronously to the sink for the lifetime
// of the session; the remaining operations are synchronous REST calls
// that may run concurrently with the inbound event loop.
type Connector interface {
	Connect(ctx context.Context, sink events.Sink) error
	Stop() error

	PlaceOrder(ctx context.Context, spec OrderSpec) (OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context) error
	GetOpenOrders(ctx context.Context) ([]events.OrderStatusUpdate, error)
	GetBalance(ctx context.Context, lastPrice decimal.Decimal) (events.BalanceResponse, error)
}
