package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketbridge/connector/pkg/events"
	"github.com/marketbridge/connector/pkg/exchanges/interfaces"
	"github.com/marketbridge/connector/pkg/logging"
	"github.com/marketbridge/connector/pkg/rest"
)

// Connector binds a session's inbound event stream to the outbound signed
// trading operations of one exchange account. It implements
// interfaces.Connector for any TradingAdapter.
//
// Trading calls run concurrently with the session's event loop and never
// block it: the only shared state is the rate budget inside the
// dispatcher.
type Connector struct {
	adapter    interfaces.TradingAdapter
	dispatcher *rest.Dispatcher
	cfg        Config
	logger     logging.Logger

	sess *Session
}

var _ interfaces.Connector = (*Connector)(nil)

// NewConnector creates a connector over a trading adapter and its signed
// dispatcher.
func NewConnector(adapter interfaces.TradingAdapter, dispatcher *rest.Dispatcher, cfg Config) *Connector {
	cfg = cfg.withDefaults()
	return &Connector{
		adapter:    adapter,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     cfg.Logger.WithFields(logging.String("exchange", adapter.Name())),
	}
}

// Connect starts the session and delivers canonical events to sink until
// Stop or terminal failure.
func (c *Connector) Connect(ctx context.Context, sink events.Sink) error {
	if c.sess != nil {
		return fmt.Errorf("connector already connected")
	}
	c.sess = New(c.adapter, c.dispatcher, sink, c.cfg)
	return c.sess.Start(ctx)
}

// Stop shuts the session down.
func (c *Connector) Stop() error {
	if c.sess == nil {
		return nil
	}
	return c.sess.Stop()
}

// Session exposes the underlying session for state and terminal-error
// inspection.
func (c *Connector) Session() *Session { return c.sess }

// PlaceOrder validates, signs, and submits an order. Validation failures
// are rejected before any network call.
func (c *Connector) PlaceOrder(ctx context.Context, spec interfaces.OrderSpec) (interfaces.OrderAck, error) {
	if err := spec.Validate(); err != nil {
		return interfaces.OrderAck{}, err
	}
	if spec.ClientOrderID == "" {
		spec.ClientOrderID = uuid.NewString()
	}

	req, err := c.adapter.BuildPlaceOrder(spec)
	if err != nil {
		return interfaces.OrderAck{}, err
	}
	body, err := c.dispatcher.Execute(ctx, req)
	if err != nil {
		return interfaces.OrderAck{}, err
	}
	ack, err := c.adapter.ParsePlaceOrder(body)
	if err != nil {
		return interfaces.OrderAck{}, &interfaces.ProtocolError{Reason: "parsing order acknowledgment", Err: err}
	}
	c.logger.Info("order placed",
		logging.String("order_id", ack.OrderID),
		logging.String("client_order_id", ack.ClientOrderID),
		logging.String("side", string(spec.Side)),
	)
	return ack, nil
}

// CancelOrder cancels one order by exchange order ID.
func (c *Connector) CancelOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return &interfaces.ValidationError{Field: "orderID", Reason: "must not be empty"}
	}
	req, err := c.adapter.BuildCancelOrder(orderID)
	if err != nil {
		return err
	}
	_, err = c.dispatcher.Execute(ctx, req)
	return err
}

// CancelAll cancels every open order on the adapter's instrument.
func (c *Connector) CancelAll(ctx context.Context) error {
	req, err := c.adapter.BuildCancelAll()
	if err != nil {
		return err
	}
	_, err = c.dispatcher.Execute(ctx, req)
	return err
}

// GetOpenOrders returns the caller's open orders as canonical status
// updates.
func (c *Connector) GetOpenOrders(ctx context.Context) ([]events.OrderStatusUpdate, error) {
	req, err := c.adapter.BuildOpenOrders()
	if err != nil {
		return nil, err
	}
	body, err := c.dispatcher.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	orders, err := c.adapter.ParseOpenOrders(body)
	if err != nil {
		return nil, &interfaces.ProtocolError{Reason: "parsing open orders", Err: err}
	}
	return orders, nil
}

// GetBalance returns base/quote balances for the adapter's instrument.
// lastPrice values the base inventory for the percentage split.
func (c *Connector) GetBalance(ctx context.Context, lastPrice decimal.Decimal) (events.BalanceResponse, error) {
	req, err := c.adapter.BuildBalance()
	if err != nil {
		return events.BalanceResponse{}, err
	}
	body, err := c.dispatcher.Execute(ctx, req)
	if err != nil {
		return events.BalanceResponse{}, err
	}
	bal, err := c.adapter.ParseBalance(body, lastPrice)
	if err != nil {
		return events.BalanceResponse{}, &interfaces.ProtocolError{Reason: "parsing balance", Err: err}
	}
	return bal, nil
}
