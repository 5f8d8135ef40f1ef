package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbridge/connector/pkg/book"
	"github.com/marketbridge/connector/pkg/events"
	"github.com/marketbridge/connector/pkg/exchanges/interfaces"
	"github.com/marketbridge/connector/pkg/ratelimit"
	"github.com/marketbridge/connector/pkg/rest"
	"github.com/marketbridge/connector/pkg/session"
	"github.com/marketbridge/connector/pkg/websocket"
)

// stubAdapter is a minimal scriptable exchange: one subscription channel,
// a trade stream, and ack/reject control replies.
type stubAdapter struct {
	url          string
	urlErr       error
	translateErr error
}

func (a *stubAdapter) Name() string            { return "Stub" }
func (a *stubAdapter) Symbol() string          { return "BTC-USD" }
func (a *stubAdapter) CanonicalSymbol() string { return "BTC-USD" }

func (a *stubAdapter) WebsocketURL(context.Context) (string, error) {
	return a.url, a.urlErr
}

type controlMessage struct {
	Op string `json:"op"`
}

func (a *stubAdapter) SubscribePayloads() []any {
	return []any{controlMessage{Op: "subscribe"}}
}

func (a *stubAdapter) UnsubscribePayloads() []any {
	return []any{controlMessage{Op: "unsubscribe"}}
}

type reply struct {
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (a *stubAdapter) SubscribeAck(raw []byte) (ok, matched bool) {
	var r reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return false, false
	}
	switch r.Type {
	case "ack":
		return true, true
	case "reject":
		return false, true
	default:
		return false, false
	}
}

func (a *stubAdapter) HeartbeatInterval() time.Duration { return 100 * time.Millisecond }
func (a *stubAdapter) HeartbeatPayload() (any, bool)    { return nil, false }

func (a *stubAdapter) Classify(raw []byte) (events.Tag, bool) {
	var r reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", false
	}
	if r.Type == "trade" {
		return events.TagTrade, true
	}
	return "", false
}

func (a *stubAdapter) Translate(tag events.Tag, raw []byte, _ *book.Book) ([]events.Event, error) {
	if a.translateErr != nil {
		return nil, a.translateErr
	}
	var r reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	price, err := events.ParseDecimal(r.Price)
	if err != nil {
		return nil, err
	}
	size, err := events.ParseDecimal(r.Size)
	if err != nil {
		return nil, err
	}
	return []events.Event{events.Trade{
		Meta:  events.Meta{Symbol: "BTC-USD", ConnectorType: "Stub"},
		Price: price,
		Size:  size,
		Side:  events.Buy,
	}}, nil
}

// authStub adds socket-level login on top of the base adapter.
type authStub struct {
	*stubAdapter
}

func (a *authStub) AuthPayload(time.Time) (any, error) {
	return controlMessage{Op: "login"}, nil
}

func (a *authStub) AuthResult(raw []byte) (ok, matched bool) {
	var r reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return false, false
	}
	if r.Type != "auth" {
		return false, false
	}
	return r.OK, true
}

// resyncStub records snapshot refetches triggered by sequence gaps.
type resyncStub struct {
	*stubAdapter
	resyncs atomic.Int64
}

func (a *resyncStub) Resync(context.Context, *book.Book) error {
	a.resyncs.Add(1)
	return nil
}

// tokenStub rides on a renewable session token.
type tokenStub struct {
	*stubAdapter
	interval time.Duration
}

func (a *tokenStub) KeepAliveRequest() (rest.Request, time.Duration, bool) {
	return rest.NewRequest(http.MethodPut, "/token"), a.interval, true
}

func (a *tokenStub) RevokeRequest() (rest.Request, bool) {
	return rest.NewRequest(http.MethodDelete, "/token"), true
}

func testConfig() session.Config {
	return session.Config{
		AuthTimeout:          time.Second,
		SubscribeAckTimeout:  time.Second,
		ReconnectDelay:       20 * time.Millisecond,
		BackoffInitial:       10 * time.Millisecond,
		MaxReconnectAttempts: 2,
	}
}

// ackSubscriptions scripts the server to confirm every subscribe request.
func ackSubscriptions(server *websocket.MockServer) {
	server.OnMessage(func(conn *gws.Conn, message []byte) {
		if strings.Contains(string(message), "subscribe") {
			_ = conn.WriteMessage(gws.TextMessage, []byte(`{"type":"ack"}`))
		}
	})
}

func collectSink() (events.Sink, <-chan events.Event) {
	ch := make(chan events.Event, 64)
	return func(ev events.Event) { ch <- ev }, ch
}

func subscribeFrames(server *websocket.MockServer) int {
	n := 0
	for _, msg := range server.Received() {
		if strings.Contains(string(msg), `"subscribe"`) {
			n++
		}
	}
	return n
}

func TestStartReachesLiveAndDeliversEvents(t *testing.T) {
	server := websocket.NewMockServer()
	defer server.Close()
	ackSubscriptions(server)

	adapter := &stubAdapter{url: server.URL()}
	sink, evCh := collectSink()
	sess := session.New(adapter, nil, sink, testConfig())

	require.NoError(t, sess.Start(context.Background()))
	assert.Equal(t, session.Live, sess.State())

	server.Broadcast([]byte(`{"type":"trade","price":"50000","size":"0.5"}`))

	select {
	case ev := <-evCh:
		trade, ok := ev.(events.Trade)
		require.True(t, ok)
		assert.Equal(t, "50000", trade.Price.String())
		assert.Equal(t, "BTC-USD", trade.EventSymbol())
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	require.NoError(t, sess.Stop())
	assert.Equal(t, session.Closed, sess.State())
	assert.NoError(t, sess.Err())
}

func TestStopSendsUnsubscribe(t *testing.T) {
	server := websocket.NewMockServer()
	defer server.Close()
	ackSubscriptions(server)

	adapter := &stubAdapter{url: server.URL()}
	sink, _ := collectSink()
	sess := session.New(adapter, nil, sink, testConfig())

	require.NoError(t, sess.Start(context.Background()))
	require.NoError(t, sess.Stop())

	unsubscribed := false
	for _, msg := range server.Received() {
		if strings.Contains(string(msg), `"unsubscribe"`) {
			unsubscribed = true
		}
	}
	assert.True(t, unsubscribed, "expected unsubscribe frame before close")

	select {
	case <-sess.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestStopIsIdempotentAndSafeBeforeStart(t *testing.T) {
	sess := session.New(&stubAdapter{url: "ws://127.0.0.1:0"}, nil, func(events.Event) {}, testConfig())
	require.NoError(t, sess.Stop())
	assert.Equal(t, session.Closed, sess.State())
	require.NoError(t, sess.Stop())
}

func TestReconnectResubscribesOnce(t *testing.T) {
	server := websocket.NewMockServer()
	defer server.Close()
	ackSubscriptions(server)

	adapter := &stubAdapter{url: server.URL()}
	sink, _ := collectSink()
	sess := session.New(adapter, nil, sink, testConfig())

	require.NoError(t, sess.Start(context.Background()))
	require.Equal(t, 1, subscribeFrames(server))

	server.DropConnections()

	require.Eventually(t, func() bool {
		return sess.State() == session.Live && server.ConnectCount() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), sess.Reconnects())
	// Exactly one fresh subscription per connection cycle, no duplicates.
	require.Eventually(t, func() bool {
		return subscribeFrames(server) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sess.Stop())
}

func TestStopDuringReconnectIsPromptAndClean(t *testing.T) {
	server := websocket.NewMockServer()
	defer server.Close()
	ackSubscriptions(server)

	adapter := &stubAdapter{url: server.URL()}
	sink, _ := collectSink()
	cfg := testConfig()
	// A slow schedule: left to run out, these retries take seconds.
	cfg.BackoffInitial = 200 * time.Millisecond
	cfg.MaxReconnectAttempts = 5
	sess := session.New(adapter, nil, sink, cfg)

	require.NoError(t, sess.Start(context.Background()))

	// Kill the connection and refuse redials so Stop lands while the
	// session is mid-retry.
	server.SetRejectConnections(true)
	server.DropConnections()

	require.Eventually(t, func() bool {
		return sess.State() == session.Connecting
	}, 2*time.Second, 5*time.Millisecond)

	stopped := time.Now()
	require.NoError(t, sess.Stop())
	assert.Less(t, time.Since(stopped), 500*time.Millisecond,
		"Stop must interrupt the backoff schedule, not wait it out")

	assert.Equal(t, session.Closed, sess.State())
	// A caller-initiated stop is not a session fault.
	assert.NoError(t, sess.Err())
}

func TestReconnectExhaustionAfterLiveClosesWithOneError(t *testing.T) {
	server := websocket.NewMockServer()
	defer server.Close()
	ackSubscriptions(server)

	adapter := &stubAdapter{url: server.URL()}
	sink, _ := collectSink()
	sess := session.New(adapter, nil, sink, testConfig())

	require.NoError(t, sess.Start(context.Background()))
	require.Equal(t, session.Live, sess.State())

	// Drop the live connection and refuse every redial until the attempt
	// budget is spent.
	server.SetRejectConnections(true)
	server.DropConnections()

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not close after exhausting reconnect attempts")
	}

	assert.Equal(t, session.Closed, sess.State())
	termErr := sess.Err()
	require.Error(t, termErr)
	assert.ErrorIs(t, termErr, interfaces.ErrReconnectExhausted)

	// The terminal error is set once; a later Stop does not replace it.
	require.NoError(t, sess.Stop())
	assert.Equal(t, termErr, sess.Err())
}

func TestStartFailsWhenEndpointUnreachable(t *testing.T) {
	server := websocket.NewMockServer()
	defer server.Close()
	server.SetRejectConnections(true)

	adapter := &stubAdapter{url: server.URL()}
	sink, _ := collectSink()
	sess := session.New(adapter, nil, sink, testConfig())

	err := sess.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrReconnectExhausted)
	assert.Equal(t, session.Closed, sess.State())
	assert.Error(t, sess.Err())

	select {
	case <-sess.Done():
	default:
		t.Fatal("Done not closed after failed Start")
	}
}

func TestAuthRejectionIsFatal(t *testing.T) {
	server := websocket.NewMockServer()
	defer server.Close()
	server.OnMessage(func(conn *gws.Conn, message []byte) {
		if strings.Contains(string(message), `"login"`) {
			_ = conn.WriteMessage(gws.TextMessage, []byte(`{"type":"auth","ok":false}`))
		}
	})

	adapter := &authStub{stubAdapter: &stubAdapter{url: server.URL()}}
	sink, _ := collectSink()
	sess := session.New(adapter, nil, sink, testConfig())

	err := sess.Start(context.Background())
	require.Error(t, err)

	var authErr *interfaces.AuthError
	assert.ErrorAs(t, err, &authErr)
	// Credential failures must not burn reconnect attempts.
	assert.Equal(t, 1, server.ConnectCount())
	assert.Equal(t, session.Closed, sess.State())
}

func TestAuthAcceptedProceedsToLive(t *testing.T) {
	server := websocket.NewMockServer()
	defer server.Close()
	server.OnMessage(func(conn *gws.Conn, message []byte) {
		switch {
		case strings.Contains(string(message), `"login"`):
			_ = conn.WriteMessage(gws.TextMessage, []byte(`{"type":"auth","ok":true}`))
		case strings.Contains(string(message), `"subscribe"`):
			_ = conn.WriteMessage(gws.TextMessage, []byte(`{"type":"ack"}`))
		}
	})

	adapter := &authStub{stubAdapter: &stubAdapter{url: server.URL()}}
	sink, _ := collectSink()
	sess := session.New(adapter, nil, sink, testConfig())

	require.NoError(t, sess.Start(context.Background()))
	assert.Equal(t, session.Live, sess.State())
	require.NoError(t, sess.Stop())
}

func TestSubscriptionRejectionFailsStart(t *testing.T) {
	server := websocket.NewMockServer()
	defer server.Close()
	server.OnMessage(func(conn *gws.Conn, message []byte) {
		if strings.Contains(string(message), `"subscribe"`) {
			_ = conn.WriteMessage(gws.TextMessage, []byte(`{"type":"reject"}`))
		}
	})

	adapter := &stubAdapter{url: server.URL()}
	sink, _ := collectSink()
	sess := session.New(adapter, nil, sink, testConfig())

	err := sess.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrSubscriptionFailed)
}

func TestSequenceGapTriggersResync(t *testing.T) {
	server := websocket.NewMockServer()
	defer server.Close()
	ackSubscriptions(server)

	adapter := &resyncStub{stubAdapter: &stubAdapter{
		url:          server.URL(),
		translateErr: book.ErrSequenceGap,
	}}
	sink, _ := collectSink()
	sess := session.New(adapter, nil, sink, testConfig())

	require.NoError(t, sess.Start(context.Background()))
	server.Broadcast([]byte(`{"type":"trade","price":"1","size":"1"}`))

	require.Eventually(t, func() bool {
		return adapter.resyncs.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sess.Stop())
}

func TestUntranslatableMessageIsDroppedNotFatal(t *testing.T) {
	server := websocket.NewMockServer()
	defer server.Close()
	ackSubscriptions(server)

	adapter := &stubAdapter{url: server.URL()}
	sink, evCh := collectSink()
	sess := session.New(adapter, nil, sink, testConfig())

	require.NoError(t, sess.Start(context.Background()))

	// Garbage price fails translation; the session must survive it.
	server.Broadcast([]byte(`{"type":"trade","price":"garbage","size":"1"}`))
	server.Broadcast([]byte(`{"type":"trade","price":"100","size":"1"}`))

	select {
	case ev := <-evCh:
		trade := ev.(events.Trade)
		assert.Equal(t, "100", trade.Price.String())
	case <-time.After(2 * time.Second):
		t.Fatal("session did not survive untranslatable message")
	}
	assert.Equal(t, session.Live, sess.State())
	require.NoError(t, sess.Stop())
}

func TestLivenessTimestampsAdvance(t *testing.T) {
	server := websocket.NewMockServer()
	defer server.Close()
	ackSubscriptions(server)

	adapter := &stubAdapter{url: server.URL()}
	sink, evCh := collectSink()
	sess := session.New(adapter, nil, sink, testConfig())

	assert.True(t, sess.LastMessageAt().IsZero())
	assert.True(t, sess.LastHeartbeatAt().IsZero())

	require.NoError(t, sess.Start(context.Background()))

	before := time.Now().Add(-time.Second)
	server.Broadcast([]byte(`{"type":"trade","price":"100","size":"1"}`))
	select {
	case <-evCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	assert.True(t, sess.LastMessageAt().After(before))

	// The stub heartbeats every 100ms with a protocol ping.
	require.Eventually(t, func() bool {
		return sess.LastHeartbeatAt().After(before)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sess.Stop())
}

func TestTokenRenewalFailureForcesReconnect(t *testing.T) {
	wsServer := websocket.NewMockServer()
	defer wsServer.Close()
	ackSubscriptions(wsServer)

	// Every renewal attempt fails with a server error.
	restServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer restServer.Close()

	dispatcher := rest.NewDispatcher(rest.Config{
		BaseURL: restServer.URL,
		Budget:  ratelimit.NewBudget(ratelimit.PerSecond(100)),
	})

	adapter := &tokenStub{
		stubAdapter: &stubAdapter{url: wsServer.URL()},
		interval:    50 * time.Millisecond,
	}
	sink, _ := collectSink()
	sess := session.New(adapter, dispatcher, sink, testConfig())

	require.NoError(t, sess.Start(context.Background()))

	// Renewal exhausts its retries and closes the transport, forcing a
	// fresh connection cycle.
	require.Eventually(t, func() bool {
		return wsServer.ConnectCount() >= 2
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, sess.Stop())
}
