// Package websocket wraps a single WebSocket connection for use by a
// session. One Conn corresponds to one dialed transport: reconnection is
// the session state machine's job, so a failed Conn is torn down and a new
// one dialed rather than revived in place.
package websocket

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultReadLimit        = 2 << 20
)

// Options configures a dialed connection.
type Options struct {
	// ReadTimeout bounds the gap between inbound frames. Protocol pongs
	// extend the deadline. Zero disables the read deadline.
	ReadTimeout time.Duration

	// WriteTimeout bounds each outbound write. Zero defaults to 5s.
	WriteTimeout time.Duration
}

// Conn is one live WebSocket connection. Inbound frames are delivered on
// Messages; when the read loop stops, Messages is closed and Err reports
// the terminal error. Writes may happen from any goroutine.
type Conn struct {
	ws           *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	readTimeout  time.Duration

	messages chan []byte
	stop     chan struct{}
	done     chan struct{}

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

// Dial opens a WebSocket connection and starts its read loop.
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	writeTimeout := opts.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = defaultWriteTimeout
	}

	c := &Conn{
		ws:           ws,
		writeTimeout: writeTimeout,
		readTimeout:  opts.ReadTimeout,
		messages:     make(chan []byte, 64),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	ws.SetReadLimit(defaultReadLimit)
	if c.readTimeout > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		})
	}
	ws.SetPingHandler(func(appData string) error {
		// Some exchanges ping the client and expect a prompt pong.
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeTimeout))
	})

	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer func() {
		close(c.messages)
		close(c.done)
	}()

	for {
		if c.readTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.setErr(err)
			return
		}
		// A stalled consumer must not pin this goroutine past Close.
		select {
		case c.messages <- message:
		case <-c.stop:
			return
		}
	}
}

// Messages returns the inbound frame channel. Closed when the connection
// drops or Close is called.
func (c *Conn) Messages() <-chan []byte { return c.messages }

// Done is closed when the read loop has stopped.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the terminal read error, if any. A clean Close yields nil or
// a normal-closure error, which callers should treat as a transport close
// rather than a fault.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

// Send marshals v to JSON (unless it is already a []byte) and writes it as
// a text frame.
func (c *Conn) Send(v any) error {
	data, ok := v.([]byte)
	if !ok {
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling outbound message: %w", err)
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Ping writes a protocol-level ping frame.
func (c *Conn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a close frame and tears the connection down. Safe to call
// more than once and from any goroutine.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(c.writeTimeout),
		)
		c.writeMu.Unlock()

		err = c.ws.Close()
		if err != nil && strings.Contains(err.Error(), "use of closed network connection") {
			err = nil
		}
	})
	return err
}

// IsCloseError reports whether err is a WebSocket close with one of the
// given codes.
func IsCloseError(err error, codes ...int) bool {
	return websocket.IsCloseError(err, codes...)
}
