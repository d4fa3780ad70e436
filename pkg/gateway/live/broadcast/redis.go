package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisEnvelope carries an encoded frame between instances. Origin lets an
// instance skip its own publications, which it has already delivered.
type redisEnvelope struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

type redisBridge struct {
	hub     *Hub
	client  redis.UniversalClient
	channel string
	origin  string
}

// AttachRedis enables cross-instance fan-out. It must be called before the
// hub serves clients; RunRedis then consumes the channel.
func (h *Hub) AttachRedis(client redis.UniversalClient, channel string) {
	if channel == "" {
		channel = "mohit:events"
	}
	h.remote = &redisBridge{
		hub:     h,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

func (b *redisBridge) publish(ctx context.Context, room string, payload []byte) {
	msg, err := json.Marshal(redisEnvelope{Origin: b.origin, Room: room, Payload: payload})
	if err != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// Publishing must not stall the caller on a slow Redis.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(pctx, b.channel, msg).Err(); err != nil {
		b.hub.logger.Warn("redis publish failed", "room", room, "error", err)
	}
}

// handle delivers a remote envelope locally. It reports whether the message
// was accepted.
func (b *redisBridge) handle(raw string) bool {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return false
	}
	if env.Origin == b.origin || env.Room == "" || len(env.Payload) == 0 {
		return false
	}
	b.hub.deliver(env.Room, env.Payload)
	return true
}

// RunRedis subscribes to the fan-out channel until ctx is canceled.
func (h *Hub) RunRedis(ctx context.Context) error {
	b := h.remote
	if b == nil {
		return errors.New("redis not attached")
	}
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	h.logger.Info("redis event fan-out subscribed", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg.Payload)
		}
	}
}
