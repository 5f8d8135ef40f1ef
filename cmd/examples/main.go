package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/marketbridge/connector/pkg/config"
	"github.com/marketbridge/connector/pkg/events"
	"github.com/marketbridge/connector/pkg/exchanges/binance"
	"github.com/marketbridge/connector/pkg/exchanges/interfaces"
	"github.com/marketbridge/connector/pkg/exchanges/kucoin"
	"github.com/marketbridge/connector/pkg/logging"
	"github.com/marketbridge/connector/pkg/ratelimit"
	"github.com/marketbridge/connector/pkg/rest"
	"github.com/marketbridge/connector/pkg/session"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.NewLogger().Error("loading config", logging.Error(err))
		os.Exit(1)
	}

	logger := logging.NewLoggerAt(logging.ParseLevel(cfg.LogLevel))

	adapter, dispatcher, err := buildAdapter(cfg, logger)
	if err != nil {
		logger.Error("building adapter", logging.Error(err))
		os.Exit(1)
	}

	sessCfg := session.Config{
		AuthTimeout:          cfg.Session.AuthTimeout.Std(),
		SubscribeAckTimeout:  cfg.Session.SubscribeAckTimeout.Std(),
		ReconnectDelay:       cfg.Session.ReconnectDelay.Std(),
		BackoffInitial:       cfg.Session.BackoffInitial.Std(),
		MaxReconnectAttempts: uint(cfg.Session.MaxReconnectAttempts),
		Logger:               logger,
	}

	sink := func(ev events.Event) {
		switch e := ev.(type) {
		case events.Trade:
			logger.Info("trade",
				logging.String("symbol", e.Meta.Symbol),
				logging.String("price", e.Price.String()),
				logging.String("size", e.Size.String()),
				logging.String("side", string(e.Side)),
			)
		case events.TopOfBook:
			if !e.HasBid || !e.HasAsk {
				return
			}
			logger.Info("top of book",
				logging.String("symbol", e.Meta.Symbol),
				logging.String("bid", e.BidPrice.String()),
				logging.String("ask", e.AskPrice.String()),
			)
		case events.Ticker:
			logger.Info("ticker",
				logging.String("symbol", e.Meta.Symbol),
				logging.String("last_price", e.LastPrice.String()),
			)
		}
	}

	sess := session.New(adapter, dispatcher, sink, sessCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("connecting",
		logging.String("exchange", adapter.Name()),
		logging.String("symbol", adapter.Symbol()),
	)
	if err := sess.Start(ctx); err != nil {
		logger.Error("connect failed", logging.Error(err))
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutting down")
		if err := sess.Stop(); err != nil {
			logger.Warn("stop", logging.Error(err))
		}
	case <-sess.Done():
		if err := sess.Err(); err != nil {
			logger.Error("session terminated", logging.Error(err))
			os.Exit(1)
		}
	}
}

// buildAdapter wires the configured exchange's public market-data adapter
// and, where the exchange needs REST calls for connection setup, its
// dispatcher.
func buildAdapter(cfg config.Config, logger logging.Logger) (interfaces.Adapter, *rest.Dispatcher, error) {
	rateLimit := cfg.REST.RateLimit
	if rateLimit <= 0 {
		rateLimit = 10
	}

	switch cfg.Exchange.Name {
	case "binance":
		adapter := binance.NewPublicAdapter(binance.Options{
			Symbol:          cfg.Exchange.Symbol,
			CanonicalSymbol: cfg.Exchange.CanonicalSymbol,
			BaseAsset:       cfg.Exchange.BaseAsset,
			QuoteAsset:      cfg.Exchange.QuoteAsset,
			RESTEndpoint:    cfg.Exchange.RESTEndpoint,
			WSEndpoint:      cfg.Exchange.WSEndpoint,
		})
		return adapter, nil, nil

	case "kucoin":
		endpoint := cfg.Exchange.RESTEndpoint
		if endpoint == "" {
			endpoint = kucoin.DefaultRESTEndpoint
		}
		dispatcher := rest.NewDispatcher(rest.Config{
			BaseURL: endpoint,
			Timeout: cfg.REST.Timeout.Std(),
			Budget:  ratelimit.NewBudget(ratelimit.PerSecond(rateLimit)),
			Logger:  logger,
		})
		adapter := kucoin.NewPublicAdapter(kucoin.Options{
			Symbol:          cfg.Exchange.Symbol,
			CanonicalSymbol: cfg.Exchange.CanonicalSymbol,
			BaseCurrency:    cfg.Exchange.BaseAsset,
			QuoteCurrency:   cfg.Exchange.QuoteAsset,
			RESTEndpoint:    endpoint,
		}, dispatcher)
		return adapter, dispatcher, nil
	}
	return nil, nil, os.ErrInvalid
}
