// Package hub fans realtime frames out to connected dashboard clients.
// One writer goroutine per client keeps delivery ordered per connection;
// bursty broadcasts collapse through a per-type debounce window.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outbound frame types.
const (
	TypeInit           = "init"
	TypeUpdate         = "update"
	TypeTradeUpdate    = "trade_update"
	TypeTasks          = "tasks"
	TypeTasksUpdate    = "tasks_update"
	TypeMessages       = "messages"
	TypeMessagesUpdate = "messages_update"
	TypeTaskLogUpdate  = "task_log_update"
	TypeTaskCompleted  = "task_completed"
	TypePong           = "pong"
)

const (
	textMessage = 1 // websocket text frame opcode
	pingMessage = 9 // websocket ping control opcode

	// sendBuffer is the per-client queue depth. A client that cannot
	// drain this many frames is dropped rather than allowed to stall
	// everyone else's broadcast loop.
	sendBuffer = 32

	writeWait = 10 * time.Second
)

// Conn is the slice of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Frame is one outbound envelope.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Client is one registered connection.
type Client struct {
	ID   string
	conn Conn
	send chan []byte

	closeOnce sync.Once
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Stats is the hub's metrics surface. Satisfied by the prometheus
// wrappers in internal/metrics; nil-safe via the noop default.
type Stats interface {
	ClientConnected()
	ClientDisconnected()
	BroadcastSent(frameType string)
}

type noopStats struct{}

func (noopStats) ClientConnected()     {}
func (noopStats) ClientDisconnected()  {}
func (noopStats) BroadcastSent(string) {}

// Hub owns the connected client set and the debounced broadcast queue.
type Hub struct {
	logger   zerolog.Logger
	debounce time.Duration
	stats    Stats

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool

	dmu    sync.Mutex
	latest map[string][]byte
	timers map[string]*time.Timer

	// onRegister supplies the frames a fresh client receives before any
	// broadcast, so it is consistent without waiting for the next tick.
	onRegister func() []Frame
}

// New creates a hub with the given debounce window.
func New(debounce time.Duration, logger zerolog.Logger) *Hub {
	return &Hub{
		logger:   logger.With().Str("component", "hub").Logger(),
		debounce: debounce,
		stats:    noopStats{},
		clients:  map[*Client]struct{}{},
		latest:   map[string][]byte{},
		timers:   map[string]*time.Timer{},
	}
}

// SetStats wires the metrics sink.
func (h *Hub) SetStats(s Stats) { h.stats = s }

// OnRegister sets the initial-frame provider for new clients.
func (h *Hub) OnRegister(fn func() []Frame) { h.onRegister = fn }

// Register adds a connection, starts its writer and queues the initial
// frames. The returned client is handed back to Unregister when the
// read loop ends.
func (h *Hub) Register(conn Conn) *Client {
	c := &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return c
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	go h.writePump(c)

	if h.onRegister != nil {
		for _, f := range h.onRegister() {
			payload, err := json.Marshal(f)
			if err != nil {
				h.logger.Error().Err(err).Str("frame", f.Type).Msg("marshal init frame")
				continue
			}
			h.sendTo(c, payload)
		}
	}
	h.stats.ClientConnected()
	h.logger.Info().Str("client_id", c.ID).Int("clients", n).Msg("client connected")
	return c
}

// Unregister drops a client and closes its queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	h.stats.ClientDisconnected()
	h.logger.Info().Str("client_id", c.ID).Int("clients", n).Msg("client disconnected")
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues a frame for all clients. Calls for the same frame
// type inside the debounce window collapse to a single send carrying
// the latest payload.
func (h *Hub) Broadcast(frameType string, data any) {
	payload, err := json.Marshal(Frame{Type: frameType, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("frame", frameType).Msg("marshal broadcast")
		return
	}
	h.dmu.Lock()
	h.latest[frameType] = payload
	if _, armed := h.timers[frameType]; !armed {
		h.timers[frameType] = time.AfterFunc(h.debounce, func() { h.flush(frameType) })
	}
	h.dmu.Unlock()
}

// BroadcastNow sends immediately, bypassing the debounce. Used for
// initial frames and task log streaming where latency beats volume.
func (h *Hub) BroadcastNow(frameType string, data any) {
	payload, err := json.Marshal(Frame{Type: frameType, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("frame", frameType).Msg("marshal broadcast")
		return
	}
	h.fanOut(frameType, payload)
}

// SendTo delivers a frame to a single client, typically a direct reply
// to an inbound request on that connection.
func (h *Hub) SendTo(c *Client, frameType string, data any) {
	payload, err := json.Marshal(Frame{Type: frameType, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("frame", frameType).Msg("marshal send")
		return
	}
	h.sendTo(c, payload)
}

func (h *Hub) sendTo(c *Client, payload []byte) {
	h.mu.Lock()
	_, member := h.clients[c]
	var full bool
	if member {
		select {
		case c.send <- payload:
		default:
			full = true
		}
	}
	h.mu.Unlock()
	if full {
		h.logger.Warn().Str("client_id", c.ID).Msg("dropping slow client")
		h.Unregister(c)
	}
}

func (h *Hub) flush(frameType string) {
	h.dmu.Lock()
	payload := h.latest[frameType]
	delete(h.latest, frameType)
	delete(h.timers, frameType)
	h.dmu.Unlock()
	if payload == nil {
		return
	}
	h.fanOut(frameType, payload)
}

// fanOut delivers under the membership lock so a queued send can never
// race a concurrent close of the client's channel. Sends never block:
// a full queue marks the client for dropping instead.
func (h *Hub) fanOut(frameType string, payload []byte) {
	h.mu.Lock()
	var dropped []*Client
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			dropped = append(dropped, c)
		}
	}
	h.mu.Unlock()

	for _, c := range dropped {
		h.logger.Warn().Str("client_id", c.ID).Msg("dropping slow client")
		h.Unregister(c)
	}
	h.stats.BroadcastSent(frameType)
}

func (h *Hub) writePump(c *Client) {
	defer c.conn.Close()
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(textMessage, payload); err != nil {
			h.logger.Debug().Str("client_id", c.ID).Err(err).Msg("write failed")
			h.Unregister(c)
			return
		}
	}
}

// Run pings every connection on the given interval until the context is
// cancelled. A connection whose ping cannot be written is presumed dead
// and dropped; a connected-but-silent client is caught by the read
// deadline on the boundary side when its pong never arrives.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			targets := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				targets = append(targets, c)
			}
			h.mu.Unlock()
			for _, c := range targets {
				if err := c.conn.WriteControl(pingMessage, nil, time.Now().Add(writeWait)); err != nil {
					h.logger.Debug().Str("client_id", c.ID).Err(err).Msg("ping failed")
					h.Unregister(c)
				}
			}
		}
	}
}

// Close drops every client and cancels pending debounce timers.
func (h *Hub) Close() {
	h.dmu.Lock()
	for _, t := range h.timers {
		t.Stop()
	}
	h.timers = map[string]*time.Timer{}
	h.latest = map[string][]byte{}
	h.dmu.Unlock()

	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = map[*Client]struct{}{}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
		h.stats.ClientDisconnected()
	}
}
