// Package kucoin implements the KuCoin spot adapter. KuCoin differs from
// Binance in most of the ways exchanges differ from each other: the
// WebSocket endpoint is issued per connection by a bullet-token REST call,
// heartbeats are method-based ping messages rather than protocol frames,
// level2 book updates are sequence-numbered deltas over a REST snapshot,
// and REST signing is a base64 HMAC over timestamp+method+path+body
// carried in headers.
package kucoin

import (
	"time"

	"github.com/marketbridge/connector/pkg/events"
)

const (
	// DefaultRESTEndpoint is the spot REST base URL.
	DefaultRESTEndpoint = "https://api.kucoin.com"

	connectorType = "Kucoin"

	// KuCoin's bullet response advertises a ping interval; 30s is the
	// documented default.
	heartbeatInterval = 30 * time.Second
)

var sideMap = events.SideMap{
	"buy":  events.Buy,
	"sell": events.Sell,
}

// orderStateMap covers the tradeOrders private stream's event types.
var orderStateMap = events.OrderStateMap{
	"open":     events.OrderPlaced,
	"match":    events.OrderPartiallyFilled,
	"filled":   events.OrderFilled,
	"canceled": events.OrderCancelled,
}

var orderTypeMap = map[string]string{
	"Limit":  "limit",
	"Market": "market",
}

// Options configures a KuCoin adapter.
type Options struct {
	// Symbol is the exchange-format instrument, e.g. "BTC-USDT".
	Symbol string
	// CanonicalSymbol defaults to Symbol, which is already canonical for
	// KuCoin.
	CanonicalSymbol string
	// BaseCurrency and QuoteCurrency split the symbol for balance
	// queries.
	BaseCurrency  string
	QuoteCurrency string

	RESTEndpoint string
}

func (o Options) withDefaults() Options {
	if o.RESTEndpoint == "" {
		o.RESTEndpoint = DefaultRESTEndpoint
	}
	if o.CanonicalSymbol == "" {
		o.CanonicalSymbol = o.Symbol
	}
	return o
}

// envelope is the wrapper on every KuCoin stream message.
type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Topic   string `json:"topic"`
	Subject string `json:"subject"`
}
