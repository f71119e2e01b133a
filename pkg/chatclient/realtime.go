package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Realtime event names.
const (
	EventJoinChat       = "join_chat"
	EventLeaveChat      = "leave_chat"
	EventReceiveMessage = "receive_message"
	EventError          = "error"

	// EventReconnect fires after the channel re-established a dropped connection.
	EventReconnect = "reconnect"
	// EventTransportError fires once per outage with {"message": ...}.
	EventTransportError = "transport_error"
)

// ErrNotConnected is returned when writing while the channel is down.
var ErrNotConnected = errors.New("realtime channel not connected")

// Handler receives the data of one event.
type Handler func(data json.RawMessage)

// Channel is the realtime capability a Session needs.
type Channel interface {
	JoinRoom(threadID string) error
	LeaveRoom(threadID string) error
	On(event string, handler Handler)
	Disconnect()
}

type wireEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RealtimeChannel is one websocket connection to the chat service that
// redials indefinitely with a fixed backoff. Handlers run on the reader
// goroutine, one event at a time.
type RealtimeChannel struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	backoff time.Duration
	logger  *zap.Logger

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	writeMu sync.Mutex
	conn    *websocket.Conn

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	closed  bool
}

// ChannelOption customizes a RealtimeChannel.
type ChannelOption func(*RealtimeChannel)

// WithBackoff sets the fixed redial delay.
func WithBackoff(d time.Duration) ChannelOption {
	return func(c *RealtimeChannel) { c.backoff = d }
}

// WithChannelLogger sets the channel logger.
func WithChannelLogger(logger *zap.Logger) ChannelOption {
	return func(c *RealtimeChannel) { c.logger = logger }
}

// NewRealtimeChannel prepares a channel for the service at baseURL
// (http or https); the token is sent as a bearer header.
func NewRealtimeChannel(baseURL, token string, opts ...ChannelOption) (*RealtimeChannel, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	c := &RealtimeChannel{
		url:      u.String(),
		header:   header,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff:  time.Second,
		logger:   zap.NewNop(),
		handlers: make(map[string][]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// On registers handler for event.
func (c *RealtimeChannel) On(event string, handler Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// Connect dials the service and starts the reader. Later drops are redialed
// in the background until Disconnect.
func (c *RealtimeChannel) Connect(ctx context.Context) error {
	c.writeMu.Lock()
	if c.started || c.closed {
		c.writeMu.Unlock()
		return errors.New("realtime channel already used")
	}
	c.writeMu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.writeMu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true
	c.writeMu.Unlock()

	go c.run(runCtx, conn)
	return nil
}

// JoinRoom subscribes to a thread's room.
func (c *RealtimeChannel) JoinRoom(threadID string) error {
	return c.emit(EventJoinChat, map[string]string{"thread_id": threadID})
}

// LeaveRoom unsubscribes from a thread's room.
func (c *RealtimeChannel) LeaveRoom(threadID string) error {
	return c.emit(EventLeaveChat, map[string]string{"thread_id": threadID})
}

// Disconnect closes the connection and stops redialing. Safe to call twice.
func (c *RealtimeChannel) Disconnect() {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return
	}
	c.closed = true
	conn, cancel, done := c.conn, c.cancel, c.done
	c.conn = nil
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
	c.writeMu.Unlock()

	if done != nil {
		<-done
	}
}

func (c *RealtimeChannel) emit(event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(wireEnvelope{Event: event, Data: raw})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *RealtimeChannel) run(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)
	for {
		err := c.readLoop(conn)
		if ctx.Err() != nil {
			return
		}
		c.detach(conn)
		c.logger.Warn("realtime connection lost", zap.Error(err))
		c.dispatchError(EventTransportError, err)

		conn = c.redial(ctx)
		if conn == nil {
			return
		}
		c.logger.Info("realtime connection restored")
		c.dispatch(EventReconnect, nil)
	}
}

func (c *RealtimeChannel) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env wireEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("dropping malformed realtime frame", zap.Error(err))
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

func (c *RealtimeChannel) redial(ctx context.Context) *websocket.Conn {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.backoff):
		}
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			c.logger.Debug("realtime redial failed", zap.Error(err))
			continue
		}
		c.writeMu.Lock()
		if c.closed {
			c.writeMu.Unlock()
			_ = conn.Close()
			return nil
		}
		c.conn = conn
		c.writeMu.Unlock()
		return conn
	}
}

func (c *RealtimeChannel) detach(conn *websocket.Conn) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	_ = conn.Close()
}

func (c *RealtimeChannel) dispatch(event string, data json.RawMessage) {
	c.handlersMu.RLock()
	handlers := append([]Handler(nil), c.handlers[event]...)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		h(data)
	}
}

func (c *RealtimeChannel) dispatchError(event string, err error) {
	msg := "connection lost"
	if err != nil {
		msg = err.Error()
	}
	raw, _ := json.Marshal(map[string]string{"message": msg})
	c.dispatch(event, raw)
}
