package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gws "github.com/gorilla/websocket"
)

func dialTest(t *testing.T, server *MockServer, opts Options) *Conn {
	t.Helper()
	conn, err := Dial(context.Background(), server.URL(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDialAndReceive(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	conn := dialTest(t, server, Options{})

	require.Eventually(t, func() bool {
		return server.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	server.Broadcast([]byte(`{"hello":"world"}`))

	select {
	case msg := <-conn.Messages():
		assert.JSONEq(t, `{"hello":"world"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestSendMarshalsJSON(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	conn := dialTest(t, server, Options{})

	type payload struct {
		Method string `json:"method"`
		ID     int    `json:"id"`
	}
	require.NoError(t, conn.Send(payload{Method: "SUBSCRIBE", ID: 1}))

	require.Eventually(t, func() bool {
		return len(server.Received()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"method":"SUBSCRIBE","id":1}`, string(server.Received()[0]))
}

func TestSendRawBytesPassThrough(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	conn := dialTest(t, server, Options{})
	require.NoError(t, conn.Send([]byte(`{"raw":true}`)))

	require.Eventually(t, func() bool {
		return len(server.Received()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"raw":true}`, string(server.Received()[0]))
}

func TestServerDropClosesMessages(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	conn := dialTest(t, server, Options{})
	require.Eventually(t, func() bool {
		return server.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	server.DropConnections()

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("read loop did not stop after server drop")
	}
	_, open := <-conn.Messages()
	assert.False(t, open)
	assert.Error(t, conn.Err())
}

func TestCloseIsIdempotent(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	conn := dialTest(t, server, Options{})
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("read loop did not stop after close")
	}
}

func TestCloseUnblocksUndrainedReadLoop(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	conn := dialTest(t, server, Options{})
	require.Eventually(t, func() bool {
		return server.ConnectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	// Nobody drains Messages; push well past its buffer so the read loop
	// ends up parked on the channel send.
	for i := 0; i < 100; i++ {
		server.Broadcast([]byte(`{"seq":1}`))
	}

	require.NoError(t, conn.Close())

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop after close with a full buffer")
	}
}

func TestDialRejected(t *testing.T) {
	server := NewMockServer()
	defer server.Close()
	server.SetRejectConnections(true)

	_, err := Dial(context.Background(), server.URL(), Options{})
	assert.Error(t, err)
}

func TestIsCloseError(t *testing.T) {
	err := &gws.CloseError{Code: gws.CloseNormalClosure}
	assert.True(t, IsCloseError(err, gws.CloseNormalClosure))
	assert.False(t, IsCloseError(err, gws.CloseAbnormalClosure))
}
