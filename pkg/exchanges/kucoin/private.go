package kucoin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketbridge/connector/pkg/book"
	"github.com/marketbridge/connector/pkg/events"
	"github.com/marketbridge/connector/pkg/exchanges/interfaces"
	"github.com/marketbridge/connector/pkg/rest"
)

// PrivateAdapter serves the tradeOrders private stream and the signed
// trading REST endpoints for one symbol. The private WebSocket endpoint
// is issued by a signed bullet-private call, so the dispatcher must be
// configured with a KuCoin Signer.
type PrivateAdapter struct {
	opts       Options
	dispatcher *rest.Dispatcher
}

var _ interfaces.TradingAdapter = (*PrivateAdapter)(nil)

// NewPrivateAdapter creates the private adapter around a signing
// dispatcher.
func NewPrivateAdapter(opts Options, dispatcher *rest.Dispatcher) *PrivateAdapter {
	return &PrivateAdapter{opts: opts.withDefaults(), dispatcher: dispatcher}
}

func (a *PrivateAdapter) Name() string            { return connectorType }
func (a *PrivateAdapter) Symbol() string          { return a.opts.Symbol }
func (a *PrivateAdapter) CanonicalSymbol() string { return a.opts.CanonicalSymbol }

// WebsocketURL issues a private bullet token. A rejected issuance
// surfaces as an auth error and terminates the session rather than
// retrying with bad credentials.
func (a *PrivateAdapter) WebsocketURL(ctx context.Context) (string, error) {
	return bulletURL(ctx, a.dispatcher, "/api/v1/bullet-private")
}

const tradeOrdersTopic = "/spotMarket/tradeOrders"

func (a *PrivateAdapter) SubscribePayloads() []any {
	return subscribePayloads([]string{tradeOrdersTopic}, true)
}

func (a *PrivateAdapter) UnsubscribePayloads() []any {
	return unsubscribePayloads([]string{tradeOrdersTopic}, true)
}

func (a *PrivateAdapter) SubscribeAck(raw []byte) (ok, matched bool) {
	return subscribeAck(raw)
}

func (a *PrivateAdapter) HeartbeatInterval() time.Duration { return heartbeatInterval }

func (a *PrivateAdapter) HeartbeatPayload() (any, bool) {
	return subscribeMessage{ID: uuid.NewString(), Type: "ping"}, true
}

func (a *PrivateAdapter) Classify(raw []byte) (events.Tag, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", false
	}
	if env.Type == "message" && env.Topic == tradeOrdersTopic {
		return events.TagOrderStatusUpdate, true
	}
	return "", false
}

// orderMessage is one tradeOrders event. matchPrice and matchSize are
// present on match events only; filledSize is cumulative.
type orderMessage struct {
	Data struct {
		Type       string      `json:"type"`
		Symbol     string      `json:"symbol"`
		Side       string      `json:"side"`
		OrderID    string      `json:"orderId"`
		ClientOid  string      `json:"clientOid"`
		Price      string      `json:"price"`
		Size       string      `json:"size"`
		FilledSize string      `json:"filledSize"`
		MatchPrice string      `json:"matchPrice"`
		Ts         json.Number `json:"ts"`
	} `json:"data"`
}

func (a *PrivateAdapter) Translate(tag events.Tag, raw []byte, _ *book.Book) ([]events.Event, error) {
	if tag != events.TagOrderStatusUpdate {
		return nil, fmt.Errorf("unsupported tag %q", tag)
	}
	var msg orderMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if msg.Data.Symbol != a.opts.Symbol {
		return nil, nil
	}

	state, err := orderStateMap.Lookup(msg.Data.Type)
	if err != nil {
		return nil, err
	}
	side, err := sideMap.Lookup(msg.Data.Side)
	if err != nil {
		return nil, err
	}
	price, err := events.ParseDecimal(orEmptyZero(msg.Data.Price))
	if err != nil {
		return nil, err
	}
	size, err := events.ParseDecimal(orEmptyZero(msg.Data.Size))
	if err != nil {
		return nil, err
	}
	filledSize, err := events.ParseDecimal(orEmptyZero(msg.Data.FilledSize))
	if err != nil {
		return nil, err
	}
	filledPrice := decimal.Zero
	if msg.Data.MatchPrice != "" {
		if filledPrice, err = events.ParseDecimal(msg.Data.MatchPrice); err != nil {
			return nil, err
		}
	}

	notionalValue := price.Mul(size)
	if !filledSize.IsZero() && !filledPrice.IsZero() {
		notionalValue = filledPrice.Mul(filledSize)
	}

	return []events.Event{events.OrderStatusUpdate{
		Meta: events.Meta{
			Symbol:        a.opts.CanonicalSymbol,
			ConnectorType: connectorType,
			Timestamp:     matchTimeMillis(msg.Data.Ts),
		},
		OrderID:       msg.Data.OrderID,
		ClientOrderID: msg.Data.ClientOid,
		State:         state,
		Side:          side,
		Price:         price,
		Size:          size,
		Notional:      notionalValue,
		FilledPrice:   filledPrice,
		FilledSize:    filledSize,
	}}, nil
}

// Market order events omit the price field entirely.
func orEmptyZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// --- trading REST ---

const (
	ordersPath   = "/api/v1/orders"
	accountsPath = "/api/v1/accounts"
)

// apiResponse is the wrapper on every KuCoin REST reply.
type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func unwrapData(body []byte) (json.RawMessage, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "200000" {
		return nil, fmt.Errorf("request rejected: code %s: %s", resp.Code, resp.Msg)
	}
	return resp.Data, nil
}

type placeOrderBody struct {
	ClientOid string `json:"clientOid"`
	Side      string `json:"side"`
	Symbol    string `json:"symbol"`
	Type      string `json:"type"`
	Price     string `json:"price,omitempty"`
	Size      string `json:"size"`
}

func (a *PrivateAdapter) BuildPlaceOrder(spec interfaces.OrderSpec) (rest.Request, error) {
	side, err := sideMap.Invert(spec.Side)
	if err != nil {
		return rest.Request{}, &interfaces.ValidationError{Field: "side", Reason: err.Error()}
	}
	orderType, ok := orderTypeMap[string(spec.Type)]
	if !ok {
		return rest.Request{}, &interfaces.ValidationError{Field: "type", Reason: fmt.Sprintf("unmapped order type %q", spec.Type)}
	}

	payload := placeOrderBody{
		ClientOid: spec.ClientOrderID,
		Side:      side,
		Symbol:    a.opts.Symbol,
		Type:      orderType,
		Size:      spec.Size.String(),
	}
	if spec.Type != interfaces.Market {
		payload.Price = spec.Price.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return rest.Request{}, err
	}

	req := rest.NewRequest(http.MethodPost, ordersPath)
	req.Body = body
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (a *PrivateAdapter) ParsePlaceOrder(body []byte) (interfaces.OrderAck, error) {
	data, err := unwrapData(body)
	if err != nil {
		return interfaces.OrderAck{}, err
	}
	var ack struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &ack); err != nil {
		return interfaces.OrderAck{}, err
	}
	return interfaces.OrderAck{
		OrderID:   ack.OrderID,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func (a *PrivateAdapter) BuildCancelOrder(orderID string) (rest.Request, error) {
	return rest.NewRequest(http.MethodDelete, ordersPath+"/"+orderID), nil
}

func (a *PrivateAdapter) BuildCancelAll() (rest.Request, error) {
	req := rest.NewRequest(http.MethodDelete, ordersPath)
	req.Query.Set("symbol", a.opts.Symbol)
	return req, nil
}

func (a *PrivateAdapter) BuildOpenOrders() (rest.Request, error) {
	req := rest.NewRequest(http.MethodGet, ordersPath)
	req.Query.Set("status", "active")
	req.Query.Set("symbol", a.opts.Symbol)
	return req, nil
}

type openOrderItem struct {
	ID        string `json:"id"`
	ClientOid string `json:"clientOid"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	DealSize  string `json:"dealSize"`
	DealFunds string `json:"dealFunds"`
	CreatedAt int64  `json:"createdAt"`
}

func (a *PrivateAdapter) ParseOpenOrders(body []byte) ([]events.OrderStatusUpdate, error) {
	data, err := unwrapData(body)
	if err != nil {
		return nil, err
	}
	var page struct {
		Items []openOrderItem `json:"items"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, err
	}

	updates := make([]events.OrderStatusUpdate, 0, len(page.Items))
	for _, o := range page.Items {
		side, err := sideMap.Lookup(o.Side)
		if err != nil {
			return nil, err
		}
		price, err := events.ParseDecimal(orEmptyZero(o.Price))
		if err != nil {
			return nil, err
		}
		size, err := events.ParseDecimal(o.Size)
		if err != nil {
			return nil, err
		}
		filledSize, err := events.ParseDecimal(orEmptyZero(o.DealSize))
		if err != nil {
			return nil, err
		}
		dealFunds, err := events.ParseDecimal(orEmptyZero(o.DealFunds))
		if err != nil {
			return nil, err
		}

		state := events.OrderPlaced
		if !filledSize.IsZero() {
			state = events.OrderPartiallyFilled
		}
		filledPrice := decimal.Zero
		if !filledSize.IsZero() {
			filledPrice = dealFunds.Div(filledSize)
		}
		notionalValue := price.Mul(size)
		if !dealFunds.IsZero() {
			notionalValue = dealFunds
		}

		updates = append(updates, events.OrderStatusUpdate{
			Meta: events.Meta{
				Symbol:        a.opts.CanonicalSymbol,
				ConnectorType: connectorType,
				Timestamp:     o.CreatedAt,
			},
			OrderID:       o.ID,
			ClientOrderID: o.ClientOid,
			State:         state,
			Side:          side,
			Price:         price,
			Size:          size,
			Notional:      notionalValue,
			FilledPrice:   filledPrice,
			FilledSize:    filledSize,
		})
	}
	return updates, nil
}

func (a *PrivateAdapter) BuildBalance() (rest.Request, error) {
	req := rest.NewRequest(http.MethodGet, accountsPath)
	req.Query.Set("type", "trade")
	return req, nil
}

type accountItem struct {
	Currency string `json:"currency"`
	Type     string `json:"type"`
	Balance  string `json:"balance"`
}

// ParseBalance reports the base and quote trade-account totals and the
// base share of combined inventory valued at lastPrice.
func (a *PrivateAdapter) ParseBalance(body []byte, lastPrice decimal.Decimal) (events.BalanceResponse, error) {
	data, err := unwrapData(body)
	if err != nil {
		return events.BalanceResponse{}, err
	}
	var accounts []accountItem
	if err := json.Unmarshal(data, &accounts); err != nil {
		return events.BalanceResponse{}, err
	}

	base, quote := decimal.Zero, decimal.Zero
	for _, acct := range accounts {
		if acct.Type != "trade" {
			continue
		}
		balance, err := events.ParseDecimal(acct.Balance)
		if err != nil {
			return events.BalanceResponse{}, err
		}
		switch acct.Currency {
		case a.opts.BaseCurrency:
			base = balance
		case a.opts.QuoteCurrency:
			quote = balance
		}
	}

	baseValue := base.Mul(lastPrice)
	total := baseValue.Add(quote)
	inventory := decimal.Zero
	if !total.IsZero() {
		inventory = baseValue.Div(total).Mul(decimal.NewFromInt(100))
	}

	return events.BalanceResponse{
		Meta: events.Meta{
			Symbol:        a.opts.CanonicalSymbol,
			ConnectorType: connectorType,
			Timestamp:     time.Now().UnixMilli(),
		},
		BaseBalance:  base,
		QuoteBalance: quote,
		Inventory:    inventory,
	}, nil
}
