package binance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/marketbridge/connector/pkg/book"
	"github.com/marketbridge/connector/pkg/events"
	"github.com/marketbridge/connector/pkg/exchanges/interfaces"
)

// PublicAdapter serves the public market-data channels for one symbol:
// trades, the 24h mini ticker, and the 5-level partial depth stream.
// Every depth message is a full snapshot of the top of the book, so a
// sequence gap cannot occur on this stream.
type PublicAdapter struct {
	opts      Options
	streamSym string
}

var _ interfaces.Adapter = (*PublicAdapter)(nil)

// NewPublicAdapter creates the public adapter for one instrument.
func NewPublicAdapter(opts Options) *PublicAdapter {
	opts = opts.withDefaults()
	return &PublicAdapter{
		opts:      opts,
		streamSym: strings.ToLower(opts.Symbol),
	}
}

func (a *PublicAdapter) Name() string            { return connectorType }
func (a *PublicAdapter) Symbol() string          { return a.opts.Symbol }
func (a *PublicAdapter) CanonicalSymbol() string { return a.opts.CanonicalSymbol }

func (a *PublicAdapter) WebsocketURL(context.Context) (string, error) {
	return a.opts.WSEndpoint, nil
}

type streamRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

func (a *PublicAdapter) streams() []string {
	return []string{
		a.streamSym + "@miniTicker",
		a.streamSym + "@trade",
		a.streamSym + "@depth5",
	}
}

func (a *PublicAdapter) SubscribePayloads() []any {
	return []any{streamRequest{Method: "SUBSCRIBE", Params: a.streams(), ID: 1}}
}

func (a *PublicAdapter) UnsubscribePayloads() []any {
	return []any{streamRequest{Method: "UNSUBSCRIBE", Params: a.streams(), ID: 1}}
}

// subscribeResponse is Binance's control-message reply: a null result on
// success, or a code/msg error object.
type subscribeResponse struct {
	Result *json.RawMessage `json:"result"`
	ID     *int             `json:"id"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

func (a *PublicAdapter) SubscribeAck(raw []byte) (ok, matched bool) {
	var resp subscribeResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.ID == nil {
		return false, false
	}
	return resp.Error == nil, true
}

func (a *PublicAdapter) HeartbeatInterval() time.Duration { return heartbeatInterval }

// Binance heartbeats at the protocol level; there is no application ping.
func (a *PublicAdapter) HeartbeatPayload() (any, bool) { return nil, false }

// probe holds the few fields needed to classify a raw message.
type probe struct {
	Event        string           `json:"e"`
	LastUpdateID *uint64          `json:"lastUpdateId"`
	Bids         *json.RawMessage `json:"bids"`
}

func (a *PublicAdapter) Classify(raw []byte) (events.Tag, bool) {
	var p probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", false
	}
	switch {
	case p.LastUpdateID != nil && p.Bids != nil:
		return events.TagTopOfBook, true
	case p.Event == "trade":
		return events.TagTrade, true
	case p.Event == "24hrMiniTicker":
		return events.TagTicker, true
	default:
		return "", false
	}
}

func (a *PublicAdapter) Translate(tag events.Tag, raw []byte, bk *book.Book) ([]events.Event, error) {
	switch tag {
	case events.TagTrade:
		return a.translateTrade(raw)
	case events.TagTicker:
		return a.translateTicker(raw)
	case events.TagTopOfBook:
		return a.translateDepth(raw, bk)
	default:
		return nil, fmt.Errorf("unsupported tag %q", tag)
	}
}

type tradeMessage struct {
	Price      string `json:"p"`
	Quantity   string `json:"q"`
	BuyerMaker bool   `json:"m"`
	TradeTime  int64  `json:"T"`
}

func (a *PublicAdapter) translateTrade(raw []byte) ([]events.Event, error) {
	var msg tradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	price, err := events.ParseDecimal(msg.Price)
	if err != nil {
		return nil, err
	}
	size, err := events.ParseDecimal(msg.Quantity)
	if err != nil {
		return nil, err
	}
	return []events.Event{events.Trade{
		Meta:  a.meta(msg.TradeTime),
		Price: price,
		Size:  size,
		Side:  tradeSideMap.Lookup(msg.BuyerMaker),
	}}, nil
}

type tickerMessage struct {
	EventTime  int64  `json:"E"`
	ClosePrice string `json:"c"`
}

func (a *PublicAdapter) translateTicker(raw []byte) ([]events.Event, error) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	last, err := events.ParseDecimal(msg.ClosePrice)
	if err != nil {
		return nil, err
	}
	return []events.Event{events.Ticker{
		Meta:      a.meta(msg.EventTime),
		LastPrice: last,
	}}, nil
}

type depthMessage struct {
	LastUpdateID uint64      `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// translateDepth replaces the book with the partial-depth snapshot and
// derives top of book from it. An empty side yields HasBid/HasAsk false,
// never a zero price.
func (a *PublicAdapter) translateDepth(raw []byte, bk *book.Book) ([]events.Event, error) {
	var msg depthMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	bids, err := parseLevels(msg.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(msg.Asks)
	if err != nil {
		return nil, err
	}
	bk.ApplySnapshot(bids, asks, msg.LastUpdateID)

	bid, hasBid, ask, hasAsk := bk.BestBidAsk()
	top := events.TopOfBook{
		// The partial depth stream carries no timestamp.
		Meta:   a.meta(0),
		HasBid: hasBid,
		HasAsk: hasAsk,
	}
	if hasBid {
		top.BidPrice, top.BidSize = bid.Price, bid.Size
	}
	if hasAsk {
		top.AskPrice, top.AskSize = ask.Price, ask.Size
	}
	return []events.Event{top}, nil
}

func parseLevels(raw [][2]string) ([]book.Level, error) {
	levels := make([]book.Level, 0, len(raw))
	for _, pair := range raw {
		price, err := events.ParseDecimal(pair[0])
		if err != nil {
			return nil, err
		}
		size, err := events.ParseDecimal(pair[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, book.Level{Price: price, Size: size})
	}
	return levels, nil
}

func (a *PublicAdapter) meta(ts int64) events.Meta {
	return events.Meta{
		Symbol:        a.opts.CanonicalSymbol,
		ConnectorType: connectorType,
		Timestamp:     ts,
	}
}
