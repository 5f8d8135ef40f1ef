package kucoin

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/marketbridge/connector/pkg/book"
	"github.com/marketbridge/connector/pkg/events"
	"github.com/marketbridge/connector/pkg/exchanges/interfaces"
	"github.com/marketbridge/connector/pkg/rest"
)

// PublicAdapter serves the public ticker, match (trade), and level2 book
// channels for one symbol. Level2 updates are sequence-numbered deltas;
// on a gap the adapter refetches a REST snapshot through Resync.
type PublicAdapter struct {
	opts       Options
	dispatcher *rest.Dispatcher
}

var (
	_ interfaces.Adapter      = (*PublicAdapter)(nil)
	_ interfaces.BookResyncer = (*PublicAdapter)(nil)
)

// NewPublicAdapter creates the public adapter. The dispatcher needs no
// signer; it serves the bullet-token call and book snapshots.
func NewPublicAdapter(opts Options, dispatcher *rest.Dispatcher) *PublicAdapter {
	return &PublicAdapter{opts: opts.withDefaults(), dispatcher: dispatcher}
}

func (a *PublicAdapter) Name() string            { return connectorType }
func (a *PublicAdapter) Symbol() string          { return a.opts.Symbol }
func (a *PublicAdapter) CanonicalSymbol() string { return a.opts.CanonicalSymbol }

// bulletResponse is the connection-token issuance reply.
type bulletResponse struct {
	Code string `json:"code"`
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint string `json:"endpoint"`
			Protocol string `json:"protocol"`
		} `json:"instanceServers"`
	} `json:"data"`
}

// WebsocketURL obtains a bullet token and composes the per-connection
// endpoint from it. Tokens are single-use, so every connect cycle issues
// a fresh one.
func (a *PublicAdapter) WebsocketURL(ctx context.Context) (string, error) {
	return bulletURL(ctx, a.dispatcher, "/api/v1/bullet-public")
}

func bulletURL(ctx context.Context, dispatcher *rest.Dispatcher, path string) (string, error) {
	body, err := dispatcher.Execute(ctx, rest.NewRequest(http.MethodPost, path))
	if err != nil {
		return "", err
	}
	var resp bulletResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing bullet response: %w", err)
	}
	if resp.Code != "200000" {
		return "", fmt.Errorf("bullet request rejected: code %s", resp.Code)
	}

	endpoint := ""
	for _, server := range resp.Data.InstanceServers {
		if server.Protocol == "websocket" {
			endpoint = server.Endpoint
			break
		}
	}
	if endpoint == "" && len(resp.Data.InstanceServers) > 0 {
		endpoint = resp.Data.InstanceServers[0].Endpoint
	}
	if endpoint == "" || resp.Data.Token == "" {
		return "", fmt.Errorf("bullet response missing endpoint or token")
	}
	return fmt.Sprintf("%s?token=%s&connectId=%s", endpoint, resp.Data.Token, uuid.NewString()), nil
}

type subscribeMessage struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Topic    string `json:"topic,omitempty"`
	Private  bool   `json:"privateChannel,omitempty"`
	Response bool   `json:"response,omitempty"`
}

func (a *PublicAdapter) topics() []string {
	return []string{
		"/market/ticker:" + a.opts.Symbol,
		"/market/match:" + a.opts.Symbol,
		"/market/level2:" + a.opts.Symbol,
	}
}

func (a *PublicAdapter) SubscribePayloads() []any {
	return subscribePayloads(a.topics(), false)
}

func (a *PublicAdapter) UnsubscribePayloads() []any {
	return unsubscribePayloads(a.topics(), false)
}

func subscribePayloads(topics []string, private bool) []any {
	out := make([]any, 0, len(topics))
	for _, topic := range topics {
		out = append(out, subscribeMessage{
			ID:       uuid.NewString(),
			Type:     "subscribe",
			Topic:    topic,
			Private:  private,
			Response: true,
		})
	}
	return out
}

func unsubscribePayloads(topics []string, private bool) []any {
	out := make([]any, 0, len(topics))
	for _, topic := range topics {
		out = append(out, subscribeMessage{
			ID:      uuid.NewString(),
			Type:    "unsubscribe",
			Topic:   topic,
			Private: private,
		})
	}
	return out
}

// SubscribeAck matches "ack" and "error" control replies; the initial
// "welcome" message is neither.
func (a *PublicAdapter) SubscribeAck(raw []byte) (ok, matched bool) {
	return subscribeAck(raw)
}

func subscribeAck(raw []byte) (ok, matched bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, false
	}
	switch env.Type {
	case "ack":
		return true, true
	case "error":
		return false, true
	default:
		return false, false
	}
}

func (a *PublicAdapter) HeartbeatInterval() time.Duration { return heartbeatInterval }

// HeartbeatPayload returns KuCoin's method-based ping.
func (a *PublicAdapter) HeartbeatPayload() (any, bool) {
	return subscribeMessage{ID: uuid.NewString(), Type: "ping"}, true
}

func (a *PublicAdapter) Classify(raw []byte) (events.Tag, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", false
	}
	if env.Type != "message" {
		return "", false
	}
	switch {
	case strings.HasPrefix(env.Topic, "/market/ticker"):
		return events.TagTicker, true
	case strings.HasPrefix(env.Topic, "/market/match"):
		return events.TagTrade, true
	case strings.HasPrefix(env.Topic, "/market/level2"):
		return events.TagTopOfBook, true
	default:
		return "", false
	}
}

func (a *PublicAdapter) Translate(tag events.Tag, raw []byte, bk *book.Book) ([]events.Event, error) {
	switch tag {
	case events.TagTicker:
		return a.translateTicker(raw)
	case events.TagTrade:
		return a.translateMatch(raw)
	case events.TagTopOfBook:
		return a.translateLevel2(raw, bk)
	default:
		return nil, fmt.Errorf("unsupported tag %q", tag)
	}
}

type tickerMessage struct {
	Data struct {
		Price string `json:"price"`
		Time  int64  `json:"time"`
	} `json:"data"`
}

func (a *PublicAdapter) translateTicker(raw []byte) ([]events.Event, error) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	price, err := events.ParseDecimal(msg.Data.Price)
	if err != nil {
		return nil, err
	}
	return []events.Event{events.Ticker{
		Meta:      a.meta(msg.Data.Time),
		LastPrice: price,
	}}, nil
}

type matchMessage struct {
	Data struct {
		Price string      `json:"price"`
		Size  string      `json:"size"`
		Side  string      `json:"side"`
		Time  json.Number `json:"time"`
	} `json:"data"`
}

func (a *PublicAdapter) translateMatch(raw []byte) ([]events.Event, error) {
	var msg matchMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	price, err := events.ParseDecimal(msg.Data.Price)
	if err != nil {
		return nil, err
	}
	size, err := events.ParseDecimal(msg.Data.Size)
	if err != nil {
		return nil, err
	}
	side, err := sideMap.Lookup(msg.Data.Side)
	if err != nil {
		return nil, err
	}
	return []events.Event{events.Trade{
		Meta:  a.meta(matchTimeMillis(msg.Data.Time)),
		Price: price,
		Size:  size,
		Side:  side,
	}}, nil
}

// matchTimeMillis normalizes the match stream's timestamp, which KuCoin
// reports in nanoseconds.
func matchTimeMillis(n json.Number) int64 {
	v, err := n.Int64()
	if err != nil {
		return 0
	}
	if v > 1e15 {
		return v / 1e6
	}
	return v
}

type level2Message struct {
	Data struct {
		SequenceStart uint64 `json:"sequenceStart"`
		SequenceEnd   uint64 `json:"sequenceEnd"`
		Changes       struct {
			Bids [][2]string `json:"bids"`
			Asks [][2]string `json:"asks"`
		} `json:"changes"`
		Time int64 `json:"time"`
	} `json:"data"`
}

// translateLevel2 applies one sequenced delta batch. A sequence gap
// propagates to the session, which triggers Resync; a stale book yields
// no event until the snapshot lands.
func (a *PublicAdapter) translateLevel2(raw []byte, bk *book.Book) ([]events.Event, error) {
	var msg level2Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	bids, err := parseLevels(msg.Data.Changes.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(msg.Data.Changes.Asks)
	if err != nil {
		return nil, err
	}

	if err := bk.ApplyDelta(book.Delta{
		Bids:          bids,
		Asks:          asks,
		HasSequence:   true,
		FirstSequence: msg.Data.SequenceStart,
		LastSequence:  msg.Data.SequenceEnd,
	}); err != nil {
		return nil, err
	}

	bid, hasBid, ask, hasAsk := bk.BestBidAsk()
	top := events.TopOfBook{
		Meta:   a.meta(msg.Data.Time),
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

type snapshotResponse struct {
	Code string `json:"code"`
	Data struct {
		Sequence json.Number `json:"sequence"`
		Bids     [][2]string `json:"bids"`
		Asks     [][2]string `json:"asks"`
	} `json:"data"`
}

// Resync refetches a full level2 snapshot and resets the book, clearing
// any sequence-gap staleness.
func (a *PublicAdapter) Resync(ctx context.Context, bk *book.Book) error {
	req := rest.NewRequest(http.MethodGet, "/api/v1/market/orderbook/level2_100")
	req.Query.Set("symbol", a.opts.Symbol)

	body, err := a.dispatcher.Execute(ctx, req)
	if err != nil {
		return err
	}
	var resp snapshotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parsing book snapshot: %w", err)
	}
	if resp.Code != "200000" {
		return fmt.Errorf("book snapshot rejected: code %s", resp.Code)
	}
	bids, err := parseLevels(resp.Data.Bids)
	if err != nil {
		return err
	}
	asks, err := parseLevels(resp.Data.Asks)
	if err != nil {
		return err
	}
	sequence, _ := resp.Data.Sequence.Int64()
	bk.ApplySnapshot(bids, asks, uint64(sequence))
	return nil
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
