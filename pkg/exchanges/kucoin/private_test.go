package kucoin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbridge/connector/pkg/events"
	"github.com/marketbridge/connector/pkg/exchanges/interfaces"
	"github.com/marketbridge/connector/pkg/rest"
)

func newPrivateAdapter(t *testing.T, handler http.HandlerFunc) *PrivateAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	dispatcher := rest.NewDispatcher(rest.Config{
		BaseURL: server.URL,
		Signer:  testSigner(),
	})
	return NewPrivateAdapter(Options{
		Symbol:        "BTC-USDT",
		BaseCurrency:  "BTC",
		QuoteCurrency: "USDT",
	}, dispatcher)
}

func TestPrivateWebsocketURLSignsBulletRequest(t *testing.T) {
	a := newPrivateAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/bullet-private", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("KC-API-SIGN"))
		assert.NotEmpty(t, r.Header.Get("KC-API-PASSPHRASE"))
		w.Write([]byte(`{"code":"200000","data":{"token":"priv-tok","instanceServers":[{"endpoint":"wss://ws.test/priv","protocol":"websocket"}]}}`))
	})

	url, err := a.WebsocketURL(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "wss://ws.test/priv?token=priv-tok&connectId="))
}

func TestPrivateSubscribesTradeOrders(t *testing.T) {
	a := newPrivateAdapter(t, nil)

	payloads := a.SubscribePayloads()
	require.Len(t, payloads, 1)
	msg := payloads[0].(subscribeMessage)
	assert.Equal(t, "/spotMarket/tradeOrders", msg.Topic)
	assert.True(t, msg.Private)
}

func TestPrivateClassify(t *testing.T) {
	a := newPrivateAdapter(t, nil)

	tag, ok := a.Classify([]byte(`{"type":"message","topic":"/spotMarket/tradeOrders","subject":"orderChange","data":{}}`))
	require.True(t, ok)
	assert.Equal(t, events.TagOrderStatusUpdate, tag)

	_, ok = a.Classify([]byte(`{"type":"message","topic":"/market/ticker:BTC-USDT"}`))
	assert.False(t, ok)
}

func TestTranslateOrderEvents(t *testing.T) {
	a := newPrivateAdapter(t, nil)

	raw := []byte(`{"type":"message","topic":"/spotMarket/tradeOrders","data":{
		"type":"match","symbol":"BTC-USDT","side":"buy","orderId":"o1","clientOid":"c1",
		"price":"50000","size":"1","filledSize":"0.4","matchPrice":"49990",
		"ts":"1700000000123456789"
	}}`)
	evs, err := a.Translate(events.TagOrderStatusUpdate, raw, nil)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	update := evs[0].(events.OrderStatusUpdate)
	assert.Equal(t, events.OrderPartiallyFilled, update.State)
	assert.Equal(t, events.Buy, update.Side)
	assert.Equal(t, "o1", update.OrderID)
	assert.Equal(t, "49990", update.FilledPrice.String())
	assert.Equal(t, "0.4", update.FilledSize.String())
	assert.Equal(t, "19996", update.Notional.String())
	assert.Equal(t, int64(1700000000123), update.Timestamp)
}

func TestTranslateIgnoresOtherSymbols(t *testing.T) {
	a := newPrivateAdapter(t, nil)

	raw := []byte(`{"data":{"type":"open","symbol":"ETH-USDT","side":"buy","price":"1","size":"1","ts":"1"}}`)
	evs, err := a.Translate(events.TagOrderStatusUpdate, raw, nil)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestTranslateUnmappedOrderEventType(t *testing.T) {
	a := newPrivateAdapter(t, nil)
	raw := []byte(`{"data":{"type":"update","symbol":"BTC-USDT","side":"buy","price":"1","size":"1","ts":"1"}}`)
	_, err := a.Translate(events.TagOrderStatusUpdate, raw, nil)
	assert.Error(t, err)
}

func TestTranslateMarketOrderWithoutPrice(t *testing.T) {
	a := newPrivateAdapter(t, nil)

	raw := []byte(`{"data":{"type":"open","symbol":"BTC-USDT","side":"sell","orderId":"o2","size":"0.5","ts":"1700000000000000000"}}`)
	evs, err := a.Translate(events.TagOrderStatusUpdate, raw, nil)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].(events.OrderStatusUpdate).Price.IsZero())
}

func TestBuildPlaceOrderBody(t *testing.T) {
	a := newPrivateAdapter(t, nil)

	req, err := a.BuildPlaceOrder(interfaces.OrderSpec{
		Side:          events.Buy,
		Type:          interfaces.Limit,
		Price:         decimal.RequireFromString("50000"),
		Size:          decimal.RequireFromString("0.5"),
		ClientOrderID: "c1",
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/v1/orders", req.Path)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	var body placeOrderBody
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, placeOrderBody{
		ClientOid: "c1",
		Side:      "buy",
		Symbol:    "BTC-USDT",
		Type:      "limit",
		Price:     "50000",
		Size:      "0.5",
	}, body)
}

func TestBuildPlaceOrderMarketOmitsPrice(t *testing.T) {
	a := newPrivateAdapter(t, nil)

	req, err := a.BuildPlaceOrder(interfaces.OrderSpec{
		Side: events.Sell,
		Type: interfaces.Market,
		Size: decimal.RequireFromString("1"),
	})
	require.NoError(t, err)
	assert.NotContains(t, string(req.Body), "price")
}

func TestBuildPlaceOrderRejectsUnmappedType(t *testing.T) {
	a := newPrivateAdapter(t, nil)

	_, err := a.BuildPlaceOrder(interfaces.OrderSpec{
		Side: events.Buy,
		Type: interfaces.LimitMaker,
		Size: decimal.RequireFromString("1"),
	})
	var valErr *interfaces.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestParsePlaceOrder(t *testing.T) {
	a := newPrivateAdapter(t, nil)

	ack, err := a.ParsePlaceOrder([]byte(`{"code":"200000","data":{"orderId":"5bd6e9286d99522a52e458de"}}`))
	require.NoError(t, err)
	assert.Equal(t, "5bd6e9286d99522a52e458de", ack.OrderID)
}

func TestParsePlaceOrderRejectedCode(t *testing.T) {
	a := newPrivateAdapter(t, nil)
	_, err := a.ParsePlaceOrder([]byte(`{"code":"200004","msg":"Balance insufficient"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "200004")
}

func TestCancelRequests(t *testing.T) {
	a := newPrivateAdapter(t, nil)

	req, err := a.BuildCancelOrder("o1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "/api/v1/orders/o1", req.Path)

	req, err = a.BuildCancelAll()
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/orders", req.Path)
	assert.Equal(t, "BTC-USDT", req.Query.Get("symbol"))
}

func TestParseOpenOrders(t *testing.T) {
	a := newPrivateAdapter(t, nil)

	body := []byte(`{"code":"200000","data":{"items":[{
		"id":"o1","clientOid":"c1","side":"sell","price":"100","size":"2",
		"dealSize":"1","dealFunds":"95","createdAt":1700000002000
	}]}}`)
	orders, err := a.ParseOpenOrders(body)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	assert.Equal(t, events.OrderPartiallyFilled, orders[0].State)
	assert.Equal(t, events.Sell, orders[0].Side)
	assert.Equal(t, "95", orders[0].FilledPrice.String())
	assert.Equal(t, "95", orders[0].Notional.String())
}

func TestParseOpenOrdersNoFillIsPlaced(t *testing.T) {
	a := newPrivateAdapter(t, nil)

	body := []byte(`{"code":"200000","data":{"items":[{
		"id":"o1","side":"buy","price":"100","size":"2","dealSize":"0","dealFunds":"0","createdAt":1
	}]}}`)
	orders, err := a.ParseOpenOrders(body)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, events.OrderPlaced, orders[0].State)
	assert.Equal(t, "200", orders[0].Notional.String())
}

func TestParseBalance(t *testing.T) {
	a := newPrivateAdapter(t, nil)

	body := []byte(`{"code":"200000","data":[
		{"currency":"BTC","type":"trade","balance":"2"},
		{"currency":"USDT","type":"trade","balance":"100000"},
		{"currency":"BTC","type":"main","balance":"99"},
		{"currency":"ETH","type":"trade","balance":"50"}
	]}`)
	bal, err := a.ParseBalance(body, decimal.RequireFromString("50000"))
	require.NoError(t, err)

	assert.Equal(t, "2", bal.BaseBalance.String())
	assert.Equal(t, "100000", bal.QuoteBalance.String())
	assert.Equal(t, "50", bal.Inventory.String())
}

func TestBalanceRequestTargetsTradeAccounts(t *testing.T) {
	a := newPrivateAdapter(t, nil)

	req, err := a.BuildBalance()
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/accounts", req.Path)
	assert.Equal(t, "trade", req.Query.Get("type"))
}
