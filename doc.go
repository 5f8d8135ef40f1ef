// Package connector provides exchange connectivity for spot markets: a
// WebSocket session state machine, order book reconciliation, signed and
// rate-limited REST dispatch, and translation of exchange wire formats
// into one canonical event model.
//
// The package splits along a single seam. Exchange-agnostic engines live
// in pkg/session, pkg/book, pkg/rest, and pkg/ratelimit; everything
// exchange-specific is an adapter under pkg/exchanges implementing the
// contracts in pkg/exchanges/interfaces. Adding an exchange means writing
// an adapter, not a connector.
//
// # Market data
//
// A Session drives one WebSocket connection through connect,
// authenticate, subscribe, and heartbeat, reconnecting with backoff on
// failure and re-subscribing after every reconnect. Canonical events flow
// to a caller-supplied sink:
//
//	adapter := binance.NewPublicAdapter(binance.Options{Symbol: "BTCUSDT"})
//	sess := session.New(adapter, nil, func(ev events.Event) {
//	    // events.Trade, events.TopOfBook, events.Ticker
//	}, session.Config{})
//
//	if err := sess.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Stop()
//
// The session terminates with exactly one error, observable through
// Done and Err. Authentication failures are terminal; transport drops
// are retried up to the configured attempt bound.
//
// # Trading
//
// Private sessions add order status streaming and the signed trading
// operations behind the interfaces.Connector API:
//
//	signer := binance.NewSigner(creds)
//	dispatcher := rest.NewDispatcher(rest.Config{
//	    BaseURL: binance.DefaultRESTEndpoint,
//	    Budget:  ratelimit.NewBudget(ratelimit.PerSecond(10)),
//	    Signer:  signer,
//	})
//	conn := session.NewConnector(binance.NewPrivateAdapter(opts, dispatcher), dispatcher, session.Config{})
//
//	ack, err := conn.PlaceOrder(ctx, interfaces.OrderSpec{
//	    Side:  events.Buy,
//	    Type:  interfaces.Limit,
//	    Price: decimal.RequireFromString("50000"),
//	    Size:  decimal.RequireFromString("0.001"),
//	})
//
// Every REST call waits on the dispatcher's rate budget before it is
// signed and issued; rate-limit, auth, and exchange rejections surface as
// typed *rest.Error values.
package connector
