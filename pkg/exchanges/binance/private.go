package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/marketbridge/connector/pkg/book"
	"github.com/marketbridge/connector/pkg/events"
	"github.com/marketbridge/connector/pkg/exchanges/interfaces"
	"github.com/marketbridge/connector/pkg/rest"
)

// PrivateAdapter serves the user-data stream and the signed trading REST
// endpoints for one symbol. The private WebSocket session rides on a
// listen key fetched at connect time and kept alive on a timer; the
// session state machine drives both through the SessionTokenAdapter
// contract.
type PrivateAdapter struct {
	opts       Options
	dispatcher *rest.Dispatcher
}

var (
	_ interfaces.TradingAdapter      = (*PrivateAdapter)(nil)
	_ interfaces.SessionTokenAdapter = (*PrivateAdapter)(nil)
)

// NewPrivateAdapter creates the private adapter. The dispatcher must be
// configured with a Binance Signer; it is used for listen-key issuance
// during connect and shared with the trading operations.
func NewPrivateAdapter(opts Options, dispatcher *rest.Dispatcher) *PrivateAdapter {
	return &PrivateAdapter{opts: opts.withDefaults(), dispatcher: dispatcher}
}

func (a *PrivateAdapter) Name() string            { return connectorType }
func (a *PrivateAdapter) Symbol() string          { return a.opts.Symbol }
func (a *PrivateAdapter) CanonicalSymbol() string { return a.opts.CanonicalSymbol }

const listenKeyPath = "/api/v3/userDataStream"

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// WebsocketURL issues a fresh listen key and composes the user-data
// stream URL from it. A rejected issuance surfaces as an auth error and
// terminates the session rather than retrying with bad credentials.
func (a *PrivateAdapter) WebsocketURL(ctx context.Context) (string, error) {
	body, err := a.dispatcher.Execute(ctx, rest.NewRequest(http.MethodPost, listenKeyPath))
	if err != nil {
		return "", err
	}
	var resp listenKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing listen key response: %w", err)
	}
	if resp.ListenKey == "" {
		return "", fmt.Errorf("empty listen key in response")
	}
	return a.opts.WSEndpoint + "/" + resp.ListenKey, nil
}

// The user-data stream has no subscription step; events flow as soon as
// the listen-key URL is connected.
func (a *PrivateAdapter) SubscribePayloads() []any   { return nil }
func (a *PrivateAdapter) UnsubscribePayloads() []any { return nil }

func (a *PrivateAdapter) SubscribeAck(raw []byte) (ok, matched bool) { return false, false }

func (a *PrivateAdapter) HeartbeatInterval() time.Duration { return heartbeatInterval }
func (a *PrivateAdapter) HeartbeatPayload() (any, bool)    { return nil, false }

// KeepAliveRequest implements interfaces.SessionTokenAdapter. Binance
// renews whichever listen key the API key currently holds, so the request
// carries no key parameter.
func (a *PrivateAdapter) KeepAliveRequest() (rest.Request, time.Duration, bool) {
	return rest.NewRequest(http.MethodPut, listenKeyPath), listenKeyKeepAlive, true
}

// RevokeRequest implements interfaces.SessionTokenAdapter.
func (a *PrivateAdapter) RevokeRequest() (rest.Request, bool) {
	return rest.NewRequest(http.MethodDelete, listenKeyPath), true
}

type executionReport struct {
	Event         string `json:"e"`
	EventTime     int64  `json:"E"`
	Side          string `json:"S"`
	OrderID       int64  `json:"i"`
	ClientOrderID string `json:"c"`
	Price         string `json:"p"`
	Quantity      string `json:"q"`
	Status        string `json:"X"`
	CumFilledQty  string `json:"z"`
	CumQuoteQty   string `json:"Z"`
}

func (a *PrivateAdapter) Classify(raw []byte) (events.Tag, bool) {
	var p struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", false
	}
	if p.Event == "executionReport" {
		return events.TagOrderStatusUpdate, true
	}
	return "", false
}

func (a *PrivateAdapter) Translate(tag events.Tag, raw []byte, _ *book.Book) ([]events.Event, error) {
	if tag != events.TagOrderStatusUpdate {
		return nil, fmt.Errorf("unsupported tag %q", tag)
	}
	var report executionReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, err
	}
	update, err := a.orderUpdate(report)
	if err != nil {
		return nil, err
	}
	return []events.Event{update}, nil
}

func (a *PrivateAdapter) orderUpdate(r executionReport) (events.OrderStatusUpdate, error) {
	state, err := orderStateMap.Lookup(r.Status)
	if err != nil {
		return events.OrderStatusUpdate{}, err
	}
	side, err := restSideMap.Lookup(r.Side)
	if err != nil {
		return events.OrderStatusUpdate{}, err
	}
	price, err := events.ParseDecimal(r.Price)
	if err != nil {
		return events.OrderStatusUpdate{}, err
	}
	size, err := events.ParseDecimal(r.Quantity)
	if err != nil {
		return events.OrderStatusUpdate{}, err
	}
	filledSize, err := events.ParseDecimal(r.CumFilledQty)
	if err != nil {
		return events.OrderStatusUpdate{}, err
	}
	cumQuote, err := events.ParseDecimal(r.CumQuoteQty)
	if err != nil {
		return events.OrderStatusUpdate{}, err
	}

	return events.OrderStatusUpdate{
		Meta: events.Meta{
			Symbol:        a.opts.CanonicalSymbol,
			ConnectorType: connectorType,
			Timestamp:     r.EventTime,
		},
		OrderID:       strconv.FormatInt(r.OrderID, 10),
		ClientOrderID: r.ClientOrderID,
		State:         state,
		Side:          side,
		Price:         price,
		Size:          size,
		Notional:      notional(price, size, cumQuote, filledSize),
		FilledPrice:   averageFillPrice(cumQuote, filledSize),
		FilledSize:    filledSize,
	}, nil
}

// averageFillPrice is the cumulative average: cumulative quote volume over
// cumulative filled size, zero while nothing has filled.
func averageFillPrice(cumQuote, filledSize decimal.Decimal) decimal.Decimal {
	if filledSize.IsZero() {
		return decimal.Zero
	}
	return cumQuote.Div(filledSize)
}

// notional prefers the filled value and falls back to the resting order's
// price times size.
func notional(price, size, cumQuote, filledSize decimal.Decimal) decimal.Decimal {
	if !filledSize.IsZero() {
		return cumQuote
	}
	return price.Mul(size)
}

// --- trading REST ---

const (
	orderPath      = "/api/v3/order"
	openOrdersPath = "/api/v3/openOrders"
	accountPath    = "/api/v3/account"
)

func (a *PrivateAdapter) BuildPlaceOrder(spec interfaces.OrderSpec) (rest.Request, error) {
	side, err := restSideMap.Invert(spec.Side)
	if err != nil {
		return rest.Request{}, &interfaces.ValidationError{Field: "side", Reason: err.Error()}
	}
	orderType, ok := orderTypeMap[string(spec.Type)]
	if !ok {
		return rest.Request{}, &interfaces.ValidationError{Field: "type", Reason: fmt.Sprintf("unmapped order type %q", spec.Type)}
	}

	req := rest.NewRequest(http.MethodPost, orderPath)
	req.Query.Set("symbol", a.opts.Symbol)
	req.Query.Set("side", side)
	req.Query.Set("type", orderType)
	req.Query.Set("quantity", spec.Size.String())
	req.Query.Set("newClientOrderId", spec.ClientOrderID)
	if spec.Type != interfaces.Market {
		req.Query.Set("price", spec.Price.String())
	}
	if spec.Type == interfaces.Limit {
		req.Query.Set("timeInForce", "GTC")
	}
	return req, nil
}

type orderAckResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	TransactTime  int64  `json:"transactTime"`
}

func (a *PrivateAdapter) ParsePlaceOrder(body []byte) (interfaces.OrderAck, error) {
	var resp orderAckResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return interfaces.OrderAck{}, err
	}
	return interfaces.OrderAck{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Timestamp:     resp.TransactTime,
	}, nil
}

func (a *PrivateAdapter) BuildCancelOrder(orderID string) (rest.Request, error) {
	req := rest.NewRequest(http.MethodDelete, orderPath)
	req.Query.Set("symbol", a.opts.Symbol)
	req.Query.Set("orderId", orderID)
	return req, nil
}

func (a *PrivateAdapter) BuildCancelAll() (rest.Request, error) {
	req := rest.NewRequest(http.MethodDelete, openOrdersPath)
	req.Query.Set("symbol", a.opts.Symbol)
	return req, nil
}

func (a *PrivateAdapter) BuildOpenOrders() (rest.Request, error) {
	req := rest.NewRequest(http.MethodGet, openOrdersPath)
	req.Query.Set("symbol", a.opts.Symbol)
	return req, nil
}

type openOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuoteQty   string `json:"cummulativeQuoteQty"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Time          int64  `json:"time"`
}

func (a *PrivateAdapter) ParseOpenOrders(body []byte) ([]events.OrderStatusUpdate, error) {
	var orders []openOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, err
	}

	updates := make([]events.OrderStatusUpdate, 0, len(orders))
	for _, o := range orders {
		state, err := orderStateMap.Lookup(o.Status)
		if err != nil {
			return nil, err
		}
		side, err := restSideMap.Lookup(o.Side)
		if err != nil {
			return nil, err
		}
		price, err := events.ParseDecimal(o.Price)
		if err != nil {
			return nil, err
		}
		size, err := events.ParseDecimal(o.OrigQty)
		if err != nil {
			return nil, err
		}
		filledSize, err := events.ParseDecimal(o.ExecutedQty)
		if err != nil {
			return nil, err
		}
		cumQuote, err := events.ParseDecimal(o.CumQuoteQty)
		if err != nil {
			return nil, err
		}
		updates = append(updates, events.OrderStatusUpdate{
			Meta: events.Meta{
				Symbol:        a.opts.CanonicalSymbol,
				ConnectorType: connectorType,
				Timestamp:     o.Time,
			},
			OrderID:       strconv.FormatInt(o.OrderID, 10),
			ClientOrderID: o.ClientOrderID,
			State:         state,
			Side:          side,
			Price:         price,
			Size:          size,
			Notional:      notional(price, size, cumQuote, filledSize),
			FilledPrice:   averageFillPrice(cumQuote, filledSize),
			FilledSize:    filledSize,
		})
	}
	return updates, nil
}

func (a *PrivateAdapter) BuildBalance() (rest.Request, error) {
	return rest.NewRequest(http.MethodGet, accountPath), nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// ParseBalance reports the base and quote totals (free plus locked) and
// the base share of combined inventory valued at lastPrice.
func (a *PrivateAdapter) ParseBalance(body []byte, lastPrice decimal.Decimal) (events.BalanceResponse, error) {
	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return events.BalanceResponse{}, err
	}

	base, quote := decimal.Zero, decimal.Zero
	for _, b := range resp.Balances {
		free, err := events.ParseDecimal(b.Free)
		if err != nil {
			return events.BalanceResponse{}, err
		}
		locked, err := events.ParseDecimal(b.Locked)
		if err != nil {
			return events.BalanceResponse{}, err
		}
		switch b.Asset {
		case a.opts.BaseAsset:
			base = free.Add(locked)
		case a.opts.QuoteAsset:
			quote = free.Add(locked)
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
