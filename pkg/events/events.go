// Package events defines the canonical event model every exchange adapter
// must produce. Events are exchange-independent: once an adapter has
// translated a raw payload, downstream consumers never see exchange field
// names or enumerations again.
package events

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tag identifies the variant of a canonical event.
type Tag string

const (
	TagTrade             Tag = "Trade"
	TagTopOfBook         Tag = "TopOfBook"
	TagTicker            Tag = "Ticker"
	TagOrderStatusUpdate Tag = "OrderStatusUpdate"
	TagBalanceResponse   Tag = "BalanceResponse"
)

// Side is the direction of a trade or order. Exactly two values exist;
// adapters must map whatever encoding their exchange uses (boolean, signed
// integer, string) onto these through an explicit lookup table.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// OrderState is the canonical lifecycle state of an order.
type OrderState string

const (
	OrderPlaced          OrderState = "Placed"
	OrderPartiallyFilled OrderState = "PartiallyFilled"
	OrderFilled          OrderState = "Filled"
	OrderCancelled       OrderState = "Cancelled"
	OrderRejected        OrderState = "Rejected"
	OrderExpired         OrderState = "Expired"
)

// Event is the interface satisfied by every canonical event variant.
type Event interface {
	// EventTag returns the variant tag.
	EventTag() Tag
	// EventSymbol returns the canonical symbol the event refers to.
	EventSymbol() string
}

// Meta carries the fields shared by every canonical event. Timestamp is
// epoch milliseconds as reported by the exchange; it is not guaranteed
// monotonic across reconnects.
type Meta struct {
	Symbol        string
	ConnectorType string
	Timestamp     int64
}

func (m Meta) EventSymbol() string { return m.Symbol }

// Trade is a single executed trade on the public feed.
type Trade struct {
	Meta
	Price decimal.Decimal
	Size  decimal.Decimal
	Side  Side
}

func (Trade) EventTag() Tag { return TagTrade }

// TopOfBook is the best bid and ask after a book update. An absent side is
// signalled by the Has flags, never by a zero price.
type TopOfBook struct {
	Meta
	BidPrice decimal.Decimal
	BidSize  decimal.Decimal
	HasBid   bool
	AskPrice decimal.Decimal
	AskSize  decimal.Decimal
	HasAsk   bool
}

func (TopOfBook) EventTag() Tag { return TagTopOfBook }

// Ticker is a last-price update.
type Ticker struct {
	Meta
	LastPrice decimal.Decimal
}

func (Ticker) EventTag() Tag { return TagTicker }

// OrderStatusUpdate reports a change to one of the caller's orders.
//
// FilledPrice is the cumulative average fill price and FilledSize the
// cumulative filled quantity. Notional is computed from the filled values
// when any fill exists, otherwise from the resting price and size.
type OrderStatusUpdate struct {
	Meta
	OrderID       string
	ClientOrderID string
	State         OrderState
	Side          Side
	Price         decimal.Decimal
	Size          decimal.Decimal
	Notional      decimal.Decimal
	FilledPrice   decimal.Decimal
	FilledSize    decimal.Decimal
}

func (OrderStatusUpdate) EventTag() Tag { return TagOrderStatusUpdate }

// BalanceResponse reports base and quote balances for one symbol, with the
// base-asset share of total inventory as a percentage.
type BalanceResponse struct {
	Meta
	BaseBalance  decimal.Decimal
	QuoteBalance decimal.Decimal
	Inventory    decimal.Decimal
}

func (BalanceResponse) EventTag() Tag { return TagBalanceResponse }

// Sink receives canonical events for the lifetime of a session. Handlers
// are invoked from the session's event loop and must not block.
type Sink func(Event)

// ParseDecimal parses an exchange-supplied numeric string. A parse failure
// is an error, never a silent zero.
func ParseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}
