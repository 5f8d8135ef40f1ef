// Package interfaces defines the contracts between the exchange-agnostic
// engines (session, order book, dispatcher) and the per-exchange adapters
// that plug into them.
//
// An adapter owns everything exchange-specific: wire formats, channel
// names, signing schemes, and the lookup tables that map exchange
// enumerations onto the canonical vocabulary. The engines own everything
// hard: connection lifecycle, book reconciliation, throttling, and
// failure recovery. Adding an exchange means writing an adapter, not a
// connector.
package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketbridge/connector/pkg/book"
	"github.com/marketbridge/connector/pkg/events"
	"github.com/marketbridge/connector/pkg/rest"
)

// Credentials are exchange API credentials. Sessions and signers borrow
// them per call; nothing in the engine persists them.
type Credentials struct {
	Key        string
	Secret     string
	Passphrase string // exchanges that require one (e.g. KuCoin)
}

// Adapter is the market-data contract every exchange implements.
type Adapter interface {
	// Name identifies the exchange; it appears as ConnectorType on every
	// canonical event.
	Name() string

	// Symbol returns the instrument in exchange format.
	Symbol() string

	// CanonicalSymbol returns the instrument symbol used on canonical
	// events.
	CanonicalSymbol() string

	// WebsocketURL resolves the endpoint to dial. Private adapters may
	// issue REST calls here (listen-key or connection-token issuance).
	WebsocketURL(ctx context.Context) (string, error)

	// SubscribePayloads returns the control messages that subscribe all
	// of this adapter's channels. The session sends each exactly once
	// per connection cycle, including after reconnects.
	SubscribePayloads() []any

	// UnsubscribePayloads returns the control messages that unsubscribe
	// the same channels; sent best-effort during Stop.
	UnsubscribePayloads() []any

	// SubscribeAck inspects a raw message during the Subscribing state.
	// matched is false when the message is not a subscription response;
	// ok is false when the exchange rejected the subscription.
	SubscribeAck(raw []byte) (ok bool, matched bool)

	// HeartbeatInterval is the keepalive cadence for this exchange.
	HeartbeatInterval() time.Duration

	// HeartbeatPayload returns the application-level ping message for
	// exchanges using method-based heartbeats. ok is false when the
	// exchange uses protocol-level ping frames instead.
	HeartbeatPayload() (payload any, ok bool)

	// Classify determines the canonical event tag of a raw message.
	// It must be total and side-effect free; ok is false for messages
	// the adapter does not recognize.
	Classify(raw []byte) (tag events.Tag, ok bool)

	// Translate converts one raw message into canonical events. Book
	// events are applied to bk as a side effect and the resulting top of
	// book is derived from it. Translate must not perform network I/O.
	Translate(tag events.Tag, raw []byte, bk *book.Book) ([]events.Event, error)
}

// AuthAdapter is implemented by adapters whose exchange authenticates
// over the socket after connecting (rather than via the dialed URL).
type AuthAdapter interface {
	// AuthPayload returns the signed login message.
	AuthPayload(at time.Time) (any, error)

	// AuthResult inspects a raw message during the Authenticating state.
	// matched is false when the message is not an auth response.
	AuthResult(raw []byte) (ok bool, matched bool)
}

// SessionTokenAdapter is implemented by adapters whose private session
// rides on an exchange-issued token (listen-key style) that needs
// periodic renewal.
type SessionTokenAdapter interface {
	// KeepAliveRequest returns the renewal call and the interval at
	// which to issue it. The interval must be comfortably shorter than
	// the token's TTL.
	KeepAliveRequest() (rest.Request, time.Duration, bool)

	// RevokeRequest returns the call that invalidates the token; sent
	// best-effort on Stop.
	RevokeRequest() (rest.Request, bool)
}

// BookResyncer is implemented by adapters that can refetch a full book
// snapshot over REST after a sequence gap. Adapters whose stream
// interleaves snapshots need not implement it; their book recovers on the
// next snapshot message.
type BookResyncer interface {
	Resync(ctx context.Context, bk *book.Book) error
}

// TradingAdapter is the private-trading contract: request construction
// and response parsing for the order and balance operations.
type TradingAdapter interface {
	Adapter

	BuildPlaceOrder(spec OrderSpec) (rest.Request, error)
	ParsePlaceOrder(body []byte) (OrderAck, error)

	BuildCancelOrder(orderID string) (rest.Request, error)
	BuildCancelAll() (rest.Request, error)

	BuildOpenOrders() (rest.Request, error)
	ParseOpenOrders(body []byte) ([]events.OrderStatusUpdate, error)

	BuildBalance() (rest.Request, error)
	ParseBalance(body []byte, lastPrice decimal.Decimal) (events.BalanceResponse, error)
}
