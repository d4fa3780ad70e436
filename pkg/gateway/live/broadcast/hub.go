// Package broadcast fans call and calendar events out to browser clients over
// WebSocket. Clients join rooms; user:<id> is joined automatically and
// call:<id> on request after an ownership check.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mohit-ai/mohit/pkg/gateway/metrics"
)

type Config struct {
	SendQueue       int
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	// MaxRooms caps rooms per client, including the user room.
	MaxRooms int
}

func (c Config) withDefaults() Config {
	if c.SendQueue <= 0 {
		c.SendQueue = 64
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 4096
	}
	if c.MaxRooms <= 0 {
		c.MaxRooms = 32
	}
	return c
}

// Authorizer decides whether userID may join room.
type Authorizer func(ctx context.Context, userID uuid.UUID, room string) error

var ErrForbidden = errors.New("room not allowed")

type Hub struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	rooms   map[string]map[*client]struct{}
	clients map[*client]struct{}

	// Set once before serving when Redis fan-out is enabled.
	remote *redisBridge

	wg sync.WaitGroup
}

func NewHub(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: m,
		rooms:   make(map[string]map[*client]struct{}),
		clients: make(map[*client]struct{}),
	}
}

// Publish delivers an event to every member of room on this instance and,
// when Redis is attached, on every other instance.
func (h *Hub) Publish(ctx context.Context, room, event string, data any) {
	if h == nil {
		return
	}
	frame := ServerFrame{Type: FrameEvent, Event: event, Room: room, Data: data, TS: time.Now().UTC()}
	payload, err := encodeFrame(frame)
	if err != nil {
		h.logger.Error("broadcast encode failed", "event", event, "room", room, "error", err)
		return
	}
	h.metrics.RecordEventPublished(event)
	h.deliver(room, payload)
	if h.remote != nil {
		h.remote.publish(ctx, room, payload)
	}
}

// NotifyUser publishes to userID's room.
func (h *Hub) NotifyUser(ctx context.Context, userID uuid.UUID, event string, data any) {
	h.Publish(ctx, UserRoom(userID), event, data)
}

// NotifyCall publishes to the call's room and to its owner's room, so both a
// call detail view and the dashboard see the update.
func (h *Hub) NotifyCall(ctx context.Context, ownerID, callID uuid.UUID, event string, data any) {
	h.Publish(ctx, CallRoom(callID), event, data)
	h.Publish(ctx, UserRoom(ownerID), event, data)
}

// Broadcast sends an event to every connected client on this instance.
func (h *Hub) Broadcast(event string, data any) {
	if h == nil {
		return
	}
	payload, err := encodeFrame(ServerFrame{Type: FrameEvent, Event: event, Data: data})
	if err != nil {
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.enqueue(payload)
	}
}

func (h *Hub) deliver(room string, payload []byte) {
	h.mu.RLock()
	members := h.rooms[room]
	targets := make([]*client, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(payload)
	}
}

func (h *Hub) ClientCount() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Serve runs the client until the socket closes or ctx is canceled.
// It owns conn and closes it before returning.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, userID uuid.UUID, authorize Authorizer) {
	c := &client{
		hub:       h,
		conn:      conn,
		userID:    userID,
		authorize: authorize,
		send:      make(chan []byte, h.cfg.SendQueue),
		rooms:     make(map[string]struct{}),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.wg.Add(1)
	h.metrics.RecordEventClient(1)
	defer func() {
		h.remove(c)
		h.metrics.RecordEventClient(-1)
		h.wg.Done()
	}()

	_ = c.join(UserRoom(userID))
	c.run(ctx)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
}

func (h *Hub) leaveLocked(c *client, room string) {
	members := h.rooms[room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	delete(c.rooms, room)
}

// CloseAll disconnects every client and waits for their goroutines, bounded
// by ctx.
func (h *Hub) CloseAll(ctx context.Context) bool {
	if h == nil {
		return true
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func errorFrame(code, message string) []byte {
	b, _ := encodeFrame(ServerFrame{Type: FrameError, Code: code, Message: message})
	return b
}

func ackFrame(typ, room string) []byte {
	b, _ := json.Marshal(ServerFrame{Type: typ, Room: room, TS: time.Now().UTC()})
	return b
}
