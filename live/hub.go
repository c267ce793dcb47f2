// Package live is the map surface's websocket channel. Server pushes go
// out to every client; client events go to one EventHandler.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/paulmach/orb/geojson"

	"web/featuremap/logger"
	"web/featuremap/metrics"
)

var ErrClosed = errors.New("live hub closed")

const (
	TypeSourceData = "source-data"
	TypeCamera     = "camera"
	TypeSelection  = "selection"
	TypeStatus     = "status"
)

// Message is one server push.
type Message struct {
	Type   string      `json:"type"`
	Source string      `json:"source,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

// Event is one client message. Type is settle, select, click or search.
type Event struct {
	Type       string                 `json:"type"`
	BBox       []float64              `json:"bbox,omitempty"`
	Zoom       float64                `json:"zoom,omitempty"`
	ID         string                 `json:"id,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Query      string                 `json:"query,omitempty"`
}

type EventHandler interface {
	HandleEvent(ctx context.Context, ev Event)
}

type HandlerFunc func(ctx context.Context, ev Event)

func (f HandlerFunc) HandleEvent(ctx context.Context, ev Event) { f(ctx, ev) }

type Options struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	// latest source-data frame per source, replayed to new clients
	last    map[string][]byte
	handler EventHandler
	closed  bool

	opts     Options
	upgrader websocket.Upgrader
	log      *slog.Logger
}

type client struct {
	conn   *websocket.Conn
	mu     sync.Mutex // one writer at a time
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(opts Options) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.L()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		last:    make(map[string][]byte),
		opts:    opts,
		log:     log,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SetHandler installs the receiver for client events. It is set after
// construction because the handler usually needs the hub itself.
func (h *Hub) SetHandler(eh EventHandler) {
	h.mu.Lock()
	h.handler = eh
	h.mu.Unlock()
}

// SetData replaces the contents of a named source on every client.
func (h *Hub) SetData(ctx context.Context, source string, fc *geojson.FeatureCollection) error {
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	frame, err := json.Marshal(Message{Type: TypeSourceData, Source: source, Data: fc})
	if err != nil {
		return err
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.last[source] = frame
	h.mu.Unlock()
	return h.broadcast(ctx, TypeSourceData, frame)
}

// Publish sends msg to every connected client.
func (h *Hub) Publish(ctx context.Context, msg Message) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.broadcast(ctx, msg.Type, frame)
}

// LastData returns the raw frame last set for source.
func (h *Hub) LastData(source string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.last[source]
	return b, ok
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ctx context.Context, typ string, frame []byte) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.write(c, frame); err != nil {
			h.log.Warn("live_write_error", "type", typ, "err", err)
			c.cancel()
			continue
		}
		metrics.LivePushesTotal.WithLabelValues(typ).Inc()
	}
	return nil
}

func (h *Hub) write(c *client, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// ServeWS upgrades the request and runs the session until the client goes
// away or the hub closes.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("live_upgrade_error", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cl := &client{conn: conn, ctx: ctx, cancel: cancel}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		conn.Close()
		return
	}
	h.clients[cl] = struct{}{}
	replay := make([][]byte, 0, len(h.last))
	for _, frame := range h.last {
		replay = append(replay, frame)
	}
	h.mu.Unlock()
	metrics.LiveClients.Inc()
	h.log.Debug("live_connected", "remote", c.ClientIP())

	defer func() {
		h.mu.Lock()
		delete(h.clients, cl)
		h.mu.Unlock()
		metrics.LiveClients.Dec()
		cancel()
		conn.Close()
		h.log.Debug("live_disconnected", "remote", c.ClientIP())
	}()

	for _, frame := range replay {
		if err := h.write(cl, frame); err != nil {
			return
		}
	}

	go h.ping(cl)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				h.log.Warn("live_read_error", "err", err)
			}
			return
		}
		h.mu.RLock()
		handler := h.handler
		h.mu.RUnlock()
		if handler != nil {
			handler.HandleEvent(ctx, ev)
		}
	}
}

func (h *Hub) ping(c *client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout))
			c.mu.Unlock()
			if err != nil {
				h.log.Debug("live_ping_failed", "err", err)
				c.cancel()
				return
			}
		}
	}
}

// Close disconnects every client. Later SetData and Publish calls return
// ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()
	for _, c := range targets {
		c.cancel()
	}
}
