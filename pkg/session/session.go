// Package session drives the lifecycle of one exchange WebSocket
// connection: connect, authenticate, subscribe, heartbeat, reconnect, and
// teardown.
//
// A Session is a single logical actor. Exactly one goroutine reads the
// transport and advances state; the order book it owns and its timers are
// touched only from that goroutine. Callers interact through Start, Stop,
// and the Done/Err pair that reports the single terminal error.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"

	"github.com/marketbridge/connector/pkg/book"
	"github.com/marketbridge/connector/pkg/events"
	"github.com/marketbridge/connector/pkg/exchanges/interfaces"
	"github.com/marketbridge/connector/pkg/logging"
	"github.com/marketbridge/connector/pkg/rest"
	"github.com/marketbridge/connector/pkg/websocket"
)

// Config tunes session timing. Zero values take the defaults noted on each
// field.
type Config struct {
	// AuthTimeout bounds the wait for an auth acknowledgment. Default 10s.
	AuthTimeout time.Duration

	// SubscribeAckTimeout bounds the wait for subscription acks. Some
	// exchanges never ack; the session proceeds to Live when the timeout
	// elapses. Default 5s.
	SubscribeAckTimeout time.Duration

	// ReconnectDelay is the fixed delay before redialing after a
	// transport close, mirroring typical exchange guidance. Default 1s.
	ReconnectDelay time.Duration

	// BackoffInitial seeds the exponential backoff applied to repeated
	// connection errors. Default 500ms.
	BackoffInitial time.Duration

	// MaxReconnectAttempts bounds one reconnection round; exceeding it
	// closes the session with a terminal error. Default 5.
	MaxReconnectAttempts uint

	Logger logging.Logger
}

func (c Config) withDefaults() Config {
	if c.AuthTimeout == 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.SubscribeAckTimeout == 0 {
		c.SubscribeAckTimeout = 5 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.BackoffInitial == 0 {
		c.BackoffInitial = 500 * time.Millisecond
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.Logger == nil {
		c.Logger = logging.NewNopLogger()
	}
	return c
}

// Session owns one transport connection to an exchange.
type Session struct {
	adapter    interfaces.Adapter
	dispatcher *rest.Dispatcher // for session-token renewal; nil for public sessions
	sink       events.Sink
	cfg        Config
	logger     logging.Logger

	state atomic.Int32

	// conn is replaced on every connect cycle; guarded so Stop can reach
	// it from outside the event loop.
	connMu sync.Mutex
	conn   *websocket.Conn

	// bk is owned by the event loop and rebuilt on every connect cycle.
	bk *book.Book

	lastHeartbeatSent atomic.Int64 // epoch millis
	lastMessageAt     atomic.Int64 // epoch millis
	reconnects        atomic.Int64

	renewInFlight atomic.Bool

	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}

	termMu  sync.Mutex
	termErr error
}

// New creates a session for the given adapter. dispatcher may be nil when
// the adapter needs no session-token renewal or resync REST calls.
func New(adapter interfaces.Adapter, dispatcher *rest.Dispatcher, sink events.Sink, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		adapter:    adapter,
		dispatcher: dispatcher,
		sink:       sink,
		cfg:        cfg,
		logger: cfg.Logger.WithFields(
			logging.String("exchange", adapter.Name()),
			logging.String("symbol", adapter.CanonicalSymbol()),
		),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug("session state change",
			logging.String("from", prev.String()),
			logging.String("to", st.String()),
		)
	}
}

// Done is closed when the session has reached Closed.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// Err returns the terminal error, if the session closed on a failure. It
// is set at most once, before Done is closed.
func (s *Session) Err() error {
	s.termMu.Lock()
	defer s.termMu.Unlock()
	return s.termErr
}

func (s *Session) setTermErr(err error) {
	s.termMu.Lock()
	if s.termErr == nil {
		s.termErr = err
	}
	s.termMu.Unlock()
}

// Reconnects returns how many reconnection cycles have completed.
func (s *Session) Reconnects() int64 { return s.reconnects.Load() }

// LastMessageAt returns when the most recent inbound frame was processed,
// or the zero time before any message. Useful for liveness checks beside
// the transport read deadline.
func (s *Session) LastMessageAt() time.Time {
	return milliTime(s.lastMessageAt.Load())
}

// LastHeartbeatAt returns when the most recent keepalive was written, or
// the zero time before the first heartbeat tick.
func (s *Session) LastHeartbeatAt() time.Time {
	return milliTime(s.lastHeartbeatSent.Load())
}

func milliTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Start connects, authenticates, and subscribes, then hands the connection
// to the background event loop. The initial connection is made with the
// same bounded backoff as reconnection; if it cannot be established the
// session is Closed and the error returned.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("session already started (state %s)", s.State())
	}

	// Stop must be able to interrupt a reconnect round mid-backoff, so
	// the whole pipeline runs under a context cancelled alongside stopCh.
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.stopCh:
		case <-s.doneCh:
		}
		cancel()
	}()

	if err := s.establish(runCtx); err != nil {
		if !stopRequested(err) {
			s.setTermErr(err)
		}
		s.setState(Closed)
		close(s.doneCh)
		return err
	}

	go s.run(runCtx)
	return nil
}

// stopRequested reports whether err reflects a caller-initiated stop or
// cancellation rather than a session fault. Such errors never become the
// terminal error: a clean stop leaves Err nil.
func stopRequested(err error) bool {
	return errors.Is(err, interfaces.ErrClosed) || errors.Is(err, context.Canceled)
}

// Stop closes the session: best-effort unsubscribe of active channels,
// then transport close, then timer teardown. Skipping the unsubscribe
// risks server-side channel leakage across reconnects. Stop is idempotent.
func (s *Session) Stop() error {
	if !s.started.Load() {
		s.setState(Closed)
		return nil
	}

	s.stopOnce.Do(func() {
		conn := s.currentConn()
		if conn != nil {
			for _, payload := range s.adapter.UnsubscribePayloads() {
				if err := conn.Send(payload); err != nil {
					s.logger.Debug("unsubscribe on stop failed", logging.Error(err))
					break
				}
			}
		}

		if tok, ok := s.adapter.(interfaces.SessionTokenAdapter); ok && s.dispatcher != nil {
			if req, ok := tok.RevokeRequest(); ok {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if _, err := s.dispatcher.Execute(ctx, req); err != nil {
					s.logger.Debug("session token revoke failed", logging.Error(err))
				}
				cancel()
			}
		}

		close(s.stopCh)
		if conn != nil {
			_ = conn.Close()
		}
	})

	<-s.doneCh
	return nil
}

func (s *Session) currentConn() *websocket.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *Session) swapConn(conn *websocket.Conn) {
	s.connMu.Lock()
	old := s.conn
	s.conn = conn
	s.connMu.Unlock()
	// The old transport is fully torn down before the new one is used;
	// a session never has two live transports.
	if old != nil {
		_ = old.Close()
	}
}

// run is the session's event loop. It owns all state mutation after Start.
func (s *Session) run(ctx context.Context) {
	defer close(s.doneCh)

	for {
		reason := s.serve(ctx)

		switch reason {
		case reasonStop:
			s.teardown()
			s.setState(Closed)
			return
		case reasonTransport:
			s.setState(Reconnecting)
			s.reconnects.Add(1)
			if !s.sleep(s.cfg.ReconnectDelay) {
				s.teardown()
				s.setState(Closed)
				return
			}
			if err := s.establish(ctx); err != nil {
				if !stopRequested(err) {
					s.setTermErr(err)
				}
				s.teardown()
				s.setState(Closed)
				return
			}
		}
	}
}

type serveReason int

const (
	reasonStop serveReason = iota
	reasonTransport
)

// serve processes the live phase of one connection until it ends.
func (s *Session) serve(ctx context.Context) serveReason {
	conn := s.currentConn()
	if conn == nil {
		return reasonTransport
	}

	heartbeat := time.NewTicker(s.adapter.HeartbeatInterval())
	defer heartbeat.Stop()

	var renew *time.Ticker
	var renewC <-chan time.Time
	if tok, ok := s.adapter.(interfaces.SessionTokenAdapter); ok && s.dispatcher != nil {
		if _, interval, ok := tok.KeepAliveRequest(); ok {
			renew = time.NewTicker(interval)
			renewC = renew.C
			defer renew.Stop()
		}
	}

	for {
		select {
		case <-s.stopCh:
			return reasonStop

		case <-ctx.Done():
			return reasonStop

		case msg, ok := <-conn.Messages():
			if !ok {
				if err := conn.Err(); err != nil {
					s.logger.Warn("transport closed", logging.Error(err))
				}
				return reasonTransport
			}
			s.lastMessageAt.Store(time.Now().UnixMilli())
			s.handleMessage(ctx, msg)

		case <-heartbeat.C:
			s.sendHeartbeat(conn)

		case <-renewC:
			s.renewSessionToken(conn)
		}
	}
}

func (s *Session) sendHeartbeat(conn *websocket.Conn) {
	var err error
	if payload, ok := s.adapter.HeartbeatPayload(); ok {
		err = conn.Send(payload)
	} else {
		err = conn.Ping()
	}
	if err != nil {
		// The read loop will observe the dead transport shortly.
		s.logger.Warn("heartbeat send failed", logging.Error(err))
		return
	}
	s.lastHeartbeatSent.Store(time.Now().UnixMilli())
}

// renewSessionToken refreshes a listen-key style token. The REST call runs
// off the event loop so a slow exchange cannot stall message processing;
// it touches no session state. Renewal is retried with the same backoff
// policy as reconnection, and persistent failure forces a reconnect by
// closing the transport.
func (s *Session) renewSessionToken(conn *websocket.Conn) {
	tok, ok := s.adapter.(interfaces.SessionTokenAdapter)
	if !ok || s.dispatcher == nil {
		return
	}
	req, _, ok := tok.KeepAliveRequest()
	if !ok {
		return
	}
	if !s.renewInFlight.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer s.renewInFlight.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := retry.Do(
			func() error {
				_, err := s.dispatcher.Execute(ctx, req)
				return err
			},
			retry.Attempts(s.cfg.MaxReconnectAttempts),
			retry.Delay(s.cfg.BackoffInitial),
			retry.DelayType(retry.BackOffDelay),
			retry.Context(ctx),
			retry.RetryIf(func(err error) bool { return !rest.IsAuth(err) }),
		)
		if err != nil {
			s.logger.Error("session token renewal failed, forcing reconnect", logging.Error(err))
			_ = conn.Close()
			return
		}
		s.logger.Debug("session token renewed")
	}()
}

// handleMessage normalizes one raw message and delivers the resulting
// canonical events. Unrecognized messages are logged and dropped; new
// fields and channels appear over an API's lifetime and must not kill the
// session.
func (s *Session) handleMessage(ctx context.Context, raw []byte) {
	tag, ok := s.adapter.Classify(raw)
	if !ok {
		s.logger.Debug("unhandled message", logging.String("payload", truncate(raw, 256)))
		return
	}

	evs, err := s.adapter.Translate(tag, raw, s.bk)
	if err != nil {
		if errors.Is(err, book.ErrSequenceGap) || errors.Is(err, book.ErrStale) {
			s.resyncBook(ctx)
			return
		}
		s.logger.Warn("dropping untranslatable message",
			logging.String("tag", string(tag)),
			logging.Error(err),
		)
		return
	}

	for _, ev := range evs {
		s.sink(ev)
	}
}

// resyncBook refetches a snapshot after a sequence gap, for adapters that
// support it. It runs on the event loop to preserve the single-writer
// invariant on the book; for stream-snapshot exchanges the book simply
// stays stale until the next snapshot message.
func (s *Session) resyncBook(ctx context.Context) {
	resyncer, ok := s.adapter.(interfaces.BookResyncer)
	if !ok {
		s.logger.Warn("book sequence gap, awaiting next stream snapshot")
		return
	}

	s.logger.Warn("book sequence gap, refetching snapshot")
	resyncCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := resyncer.Resync(resyncCtx, s.bk); err != nil {
		s.logger.Error("book resync failed", logging.Error(err))
	}
}

// establish runs one connection pipeline (connect, authenticate,
// subscribe) with exponential backoff bounded by MaxReconnectAttempts.
// Auth rejections abort immediately: credential errors are fatal, not
// transient.
func (s *Session) establish(ctx context.Context) error {
	err := retry.Do(
		func() error { return s.connectOnce(ctx) },
		retry.Attempts(s.cfg.MaxReconnectAttempts),
		retry.Delay(s.cfg.BackoffInitial),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return !interfaces.IsFatal(err) && !stopRequested(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("connection attempt failed",
				logging.Int("attempt", int(n)+1),
				logging.Error(err),
			)
		}),
	)
	if err == nil {
		return nil
	}
	// A stop landing mid-retry surfaces as a clean close no matter which
	// attempt error the retry loop reported.
	select {
	case <-s.stopCh:
		return interfaces.ErrClosed
	default:
	}
	if interfaces.IsFatal(err) || stopRequested(err) {
		return err
	}
	return fmt.Errorf("%w: %w", interfaces.ErrReconnectExhausted, err)
}

// connectOnce performs a single connect → authenticate → subscribe pass.
func (s *Session) connectOnce(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return interfaces.ErrClosed
	default:
	}

	s.setState(Connecting)

	url, err := s.adapter.WebsocketURL(ctx)
	if err != nil {
		if rest.IsAuth(err) {
			return &interfaces.AuthError{Reason: "session endpoint issuance rejected", Err: err}
		}
		return &interfaces.TransportError{Op: "resolve endpoint", Err: err}
	}

	conn, err := websocket.Dial(ctx, url, websocket.Options{
		ReadTimeout: 3 * s.adapter.HeartbeatInterval(),
	})
	if err != nil {
		return &interfaces.TransportError{Op: "dial", Err: err}
	}

	if auth, ok := s.adapter.(interfaces.AuthAdapter); ok {
		s.setState(Authenticating)
		if err := s.authenticate(conn, auth); err != nil {
			_ = conn.Close()
			return err
		}
	}

	s.setState(Subscribing)
	if err := s.subscribe(conn); err != nil {
		_ = conn.Close()
		return err
	}

	// Book state is not trusted across a gap; every cycle starts from a
	// fresh book and waits for a snapshot.
	s.bk = book.New(s.adapter.CanonicalSymbol())

	s.swapConn(conn)
	s.setState(Live)
	s.logger.Info("session live")
	return nil
}

func (s *Session) authenticate(conn *websocket.Conn, auth interfaces.AuthAdapter) error {
	payload, err := auth.AuthPayload(time.Now())
	if err != nil {
		return &interfaces.AuthError{Reason: "building login payload", Err: err}
	}
	if err := conn.Send(payload); err != nil {
		return &interfaces.TransportError{Op: "send login", Err: err}
	}

	deadline := time.NewTimer(s.cfg.AuthTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-s.stopCh:
			return &interfaces.TransportError{Op: "authenticate", Err: interfaces.ErrClosed}
		case <-deadline.C:
			return &interfaces.AuthError{Reason: "timed out waiting for login acknowledgment"}
		case msg, ok := <-conn.Messages():
			if !ok {
				return &interfaces.TransportError{Op: "authenticate", Err: conn.Err()}
			}
			authOK, matched := auth.AuthResult(msg)
			if !matched {
				continue
			}
			if !authOK {
				return &interfaces.AuthError{Reason: "login rejected by exchange"}
			}
			return nil
		}
	}
}

// subscribe sends every queued channel subscription exactly once, then
// waits for acknowledgments until the exchange has confirmed each one or
// the ack timeout elapses (not all exchanges ack).
func (s *Session) subscribe(conn *websocket.Conn) error {
	payloads := s.adapter.SubscribePayloads()
	for _, payload := range payloads {
		if err := conn.Send(payload); err != nil {
			return &interfaces.TransportError{Op: "subscribe", Err: err}
		}
	}
	if len(payloads) == 0 {
		return nil
	}

	pending := len(payloads)
	deadline := time.NewTimer(s.cfg.SubscribeAckTimeout)
	defer deadline.Stop()

	for pending > 0 {
		select {
		case <-s.stopCh:
			return &interfaces.TransportError{Op: "subscribe", Err: interfaces.ErrClosed}
		case <-deadline.C:
			return nil
		case msg, ok := <-conn.Messages():
			if !ok {
				return &interfaces.TransportError{Op: "subscribe", Err: conn.Err()}
			}
			ackOK, matched := s.adapter.SubscribeAck(msg)
			if !matched {
				continue
			}
			if !ackOK {
				return fmt.Errorf("%w: rejected by exchange", interfaces.ErrSubscriptionFailed)
			}
			pending--
		}
	}
	return nil
}

func (s *Session) teardown() {
	s.swapConn(nil)
}

// sleep waits d unless the session is stopped first.
func (s *Session) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.stopCh:
		return false
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
