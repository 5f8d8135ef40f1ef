// Package binance implements the Binance spot adapter: public market-data
// channels (trade, miniTicker, partial depth), the private user-data
// stream with listen-key renewal, and query-string HMAC signing for the
// trading REST endpoints.
package binance

import (
	"time"

	"github.com/marketbridge/connector/pkg/events"
)

const (
	// DefaultRESTEndpoint is the spot REST base URL.
	DefaultRESTEndpoint = "https://api.binance.com"
	// DefaultWSEndpoint is the spot market-data stream base URL.
	DefaultWSEndpoint = "wss://stream.binance.com:9443/ws"

	connectorType = "Binance"

	// Binance drops idle connections after a few minutes without a pong.
	heartbeatInterval = 20 * time.Second

	// Listen keys expire after 60 minutes; keepalives go out well inside
	// the TTL, matching the 30-minute cadence Binance documents.
	listenKeyKeepAlive = 30 * time.Minute
)

// tradeSideMap decodes the trade stream's buyer-is-maker flag: when the
// buyer was the maker, the aggressor sold.
var tradeSideMap = events.BoolSideMap{True: events.Sell, False: events.Buy}

// restSideMap maps the REST/user-stream side strings.
var restSideMap = events.SideMap{
	"BUY":  events.Buy,
	"SELL": events.Sell,
}

var orderStateMap = events.OrderStateMap{
	"NEW":              events.OrderPlaced,
	"PARTIALLY_FILLED": events.OrderPartiallyFilled,
	"FILLED":           events.OrderFilled,
	"CANCELED":         events.OrderCancelled,
	"PENDING_CANCEL":   events.OrderCancelled,
	"REJECTED":         events.OrderRejected,
	"EXPIRED":          events.OrderExpired,
}

// orderTypeMap maps canonical order types onto Binance enumerations.
var orderTypeMap = map[string]string{
	"Limit":      "LIMIT",
	"Market":     "MARKET",
	"LimitMaker": "LIMIT_MAKER",
}

// Options configures a Binance adapter.
type Options struct {
	// Symbol is the exchange-format instrument, e.g. "BTCUSDT".
	Symbol string
	// CanonicalSymbol is the symbol stamped on canonical events, e.g.
	// "BTC-USDT".
	CanonicalSymbol string
	// BaseAsset and QuoteAsset split the symbol for balance queries.
	BaseAsset  string
	QuoteAsset string

	RESTEndpoint string
	WSEndpoint   string
}

func (o Options) withDefaults() Options {
	if o.RESTEndpoint == "" {
		o.RESTEndpoint = DefaultRESTEndpoint
	}
	if o.WSEndpoint == "" {
		o.WSEndpoint = DefaultWSEndpoint
	}
	if o.CanonicalSymbol == "" {
		o.CanonicalSymbol = o.Symbol
	}
	return o
}
