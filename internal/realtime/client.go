package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/clinic-chat/internal/config"
	"github.com/spec-kit/clinic-chat/internal/domain"
	"github.com/spec-kit/clinic-chat/internal/observability"
	apperrors "github.com/spec-kit/clinic-chat/pkg/util/errorutil"
)

// Conn is the subset of a websocket connection the client pumps use.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Authorizer decides whether principal may join the thread's room.
type Authorizer func(ctx context.Context, principal domain.Sender, threadID string) error

// Client is one authenticated websocket connection. A principal may hold
// several clients at once, each with its own room memberships.
type Client struct {
	ID        string
	Principal domain.Sender

	conn      Conn
	hub       *Hub
	authorize Authorizer
	cfg       config.RealtimeConfig
	logger    *zap.Logger
	metrics   *observability.Metrics

	send  chan []byte
	done  chan struct{}
	rooms map[string]struct{} // guarded by hub.mu
	once  sync.Once
}

// ClientOptions bundles collaborators for a client.
type ClientOptions struct {
	Hub       *Hub
	Authorize Authorizer
	Config    config.RealtimeConfig
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// NewClient wraps conn for principal.
func NewClient(conn Conn, principal domain.Sender, opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageKB <= 0 {
		cfg.MaxMessageKB = 64
	}
	id := uuid.NewString()
	return &Client{
		ID:        id,
		Principal: principal,
		conn:      conn,
		hub:       opts.Hub,
		authorize: opts.Authorize,
		cfg:       cfg,
		logger:    logger.With(zap.String("client_id", id), zap.Stringer("principal", principal)),
		metrics:   opts.Metrics,
		send:      make(chan []byte, cfg.SendBuffer),
		done:      make(chan struct{}),
		rooms:     make(map[string]struct{}),
	}
}

// Serve runs the connection until the peer goes away or ctx ends. It blocks,
// and on return the client has left every room.
func (c *Client) Serve(ctx context.Context) {
	c.metrics.ConnectionOpened()
	defer c.metrics.ConnectionClosed()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(ctx)
	}()

	c.readPump(ctx)

	c.hub.Unregister(c)
	c.once.Do(func() { close(c.done) })
	<-writerDone
	_ = c.conn.Close()
	c.logger.Debug("realtime client disconnected")
}

// enqueue hands payload to the writer without blocking.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(int64(c.cfg.MaxMessageKB) * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("realtime read failed", zap.Error(err))
			}
			return
		}
		c.handle(ctx, data)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("realtime write failed", zap.Error(err))
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ctx.Done():
			_ = c.conn.Close()
			return
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) handle(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.replyError("malformed event")
		return
	}

	switch env.Event {
	case EventJoinChat:
		req, ok := c.roomRequest(env)
		if !ok {
			return
		}
		if c.authorize != nil {
			if err := c.authorize(ctx, c.Principal, req.ThreadID); err != nil {
				c.replyError(apperrors.ToDomainError(err).Message)
				return
			}
		}
		if c.hub.Join(c, req.ThreadID) {
			c.logger.Debug("joined chat room", zap.String("thread_id", req.ThreadID))
		}
	case EventLeaveChat:
		req, ok := c.roomRequest(env)
		if !ok {
			return
		}
		if c.hub.Leave(c, req.ThreadID) {
			c.logger.Debug("left chat room", zap.String("thread_id", req.ThreadID))
		}
	default:
		c.replyError("unknown event: " + env.Event)
	}
}

func (c *Client) roomRequest(env Envelope) (RoomRequest, bool) {
	var req RoomRequest
	if err := json.Unmarshal(env.Data, &req); err != nil || req.ThreadID == "" {
		c.replyError("thread_id required")
		return req, false
	}
	return req, true
}

func (c *Client) replyError(message string) {
	payload, err := Encode(EventError, ErrorData{Message: message})
	if err != nil {
		return
	}
	if !c.enqueue(payload) {
		c.logger.Debug("dropping error reply", zap.String("message", message))
	}
}
