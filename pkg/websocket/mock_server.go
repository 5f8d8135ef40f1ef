package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MockServer is an in-process WebSocket server for tests. It records every
// text frame it receives and lets tests script responses, broadcast
// messages, and drop or reject connections to exercise reconnect paths.
type MockServer struct {
	server *httptest.Server
	url    string

	mu            sync.Mutex
	connections   map[*websocket.Conn]bool
	received      [][]byte
	connectCount  int
	rejectConnect bool

	onMessage func(conn *websocket.Conn, message []byte)
}

// NewMockServer starts a mock server. Callers own its lifetime and must
// call Close.
func NewMockServer() *MockServer {
	m := &MockServer{connections: make(map[*websocket.Conn]bool)}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	m.url = "ws" + strings.TrimPrefix(m.server.URL, "http")
	return m
}

// URL returns the ws:// address of the server.
func (m *MockServer) URL() string { return m.url }

// Close shuts the server down.
func (m *MockServer) Close() { m.server.Close() }

// OnMessage registers a callback invoked for every received text frame.
// Use it to script subscription acks and auth responses.
func (m *MockServer) OnMessage(fn func(conn *websocket.Conn, message []byte)) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

// SetRejectConnections makes the server refuse the WebSocket upgrade,
// simulating an unreachable endpoint.
func (m *MockServer) SetRejectConnections(reject bool) {
	m.mu.Lock()
	m.rejectConnect = reject
	m.mu.Unlock()
}

// Broadcast sends a text frame to every connected client.
func (m *MockServer) Broadcast(message []byte) {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.connections))
	for conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			m.remove(conn)
		}
	}
}

// DropConnections closes every active connection from the server side
// without a close handshake, simulating a transport failure.
func (m *MockServer) DropConnections() {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.connections))
	for conn := range m.connections {
		conns = append(conns, conn)
	}
	m.connections = make(map[*websocket.Conn]bool)
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// Received returns a copy of all text frames received so far.
func (m *MockServer) Received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.received))
	copy(out, m.received)
	return out
}

// ConnectCount returns how many connections have been accepted.
func (m *MockServer) ConnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCount
}

// ConnectionCount returns the number of currently open connections.
func (m *MockServer) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

var mockUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	reject := m.rejectConnect
	m.mu.Unlock()
	if reject {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	conn, err := mockUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.connections[conn] = true
	m.connectCount++
	m.mu.Unlock()

	defer func() {
		m.remove(conn)
		conn.Close()
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		m.mu.Lock()
		m.received = append(m.received, message)
		handler := m.onMessage
		m.mu.Unlock()

		if handler != nil {
			handler(conn, message)
		}
	}
}

func (m *MockServer) remove(conn *websocket.Conn) {
	m.mu.Lock()
	delete(m.connections, conn)
	m.mu.Unlock()
}
