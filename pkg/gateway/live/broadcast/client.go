package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	userID    uuid.UUID
	authorize Authorizer

	send chan []byte
	// rooms is guarded by hub.mu.
	rooms map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
	kicked    atomic.Bool
}

// enqueue never blocks; a client whose queue is full is disconnected.
func (c *client) enqueue(payload []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- payload:
	default:
		c.kicked.Store(true)
		c.hub.metrics.RecordEventClientKicked()
		c.hub.logger.Warn("event client too slow; disconnecting", "user_id", c.userID.String())
		c.close()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *client) join(room string) error {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.rooms[room]; ok {
		return nil
	}
	if len(c.rooms) >= h.cfg.MaxRooms {
		return errTooManyRooms
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[*client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
	return nil
}

func (c *client) leave(room string) {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.rooms[room]; ok {
		h.leaveLocked(c, room)
	}
}

var errTooManyRooms = errors.New("too many rooms")

func (c *client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		c.readPump(ctx)
	}()

	c.writePump(ctx)
	c.close()
	_ = c.conn.Close()
	<-readDone
}

func (c *client) readPump(ctx context.Context) {
	defer c.close()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageBytes)
	readWait := 2 * cfg.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		if msgType != websocket.TextMessage {
			c.enqueue(errorFrame("bad_request", "frames must be JSON text"))
			continue
		}
		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.enqueue(errorFrame("bad_request", "invalid JSON frame"))
			continue
		}
		c.handle(ctx, frame)
	}
}

func (c *client) handle(ctx context.Context, frame ClientFrame) {
	switch frame.Type {
	case FramePing:
		b, _ := encodeFrame(ServerFrame{Type: FramePong})
		c.enqueue(b)
	case FrameSubscribe:
		kind, _, err := ParseRoom(frame.Room)
		if err != nil {
			c.enqueue(errorFrame("bad_request", err.Error()))
			return
		}
		if kind == "user" && frame.Room != UserRoom(c.userID) {
			c.enqueue(errorFrame("forbidden", "room not allowed"))
			return
		}
		if kind == "call" && c.authorize != nil {
			if err := c.authorize(ctx, c.userID, frame.Room); err != nil {
				c.enqueue(errorFrame("forbidden", "room not allowed"))
				return
			}
		}
		if err := c.join(frame.Room); err != nil {
			c.enqueue(errorFrame("limit_exceeded", err.Error()))
			return
		}
		c.enqueue(ackFrame(FrameSubscribed, frame.Room))
	case FrameUnsubscribe:
		if frame.Room == UserRoom(c.userID) {
			c.enqueue(errorFrame("bad_request", "cannot leave user room"))
			return
		}
		c.leave(frame.Room)
		c.enqueue(ackFrame(FrameUnsubscribed, frame.Room))
	default:
		c.enqueue(errorFrame("bad_request", "unknown frame type"))
	}
}

func (c *client) writePump(ctx context.Context) {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(cfg.WriteTimeout))
			return
		case <-c.done:
			if !c.kicked.Load() {
				c.drain(cfg.WriteTimeout)
			}
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cfg.WriteTimeout))
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// drain flushes frames queued before the client was closed, such as a final
// server:draining notice.
func (c *client) drain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(deadline)
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}
