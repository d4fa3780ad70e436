package broadcast

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisFanOut(t *testing.T) {
	addr := os.Getenv("MOHIT_TEST_REDIS_URL")
	if addr == "" {
		t.Skip("MOHIT_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	channel := "mohit:test:" + uuid.NewString()
	a, b := NewHub(Config{}, nil, nil), NewHub(Config{}, nil, nil)
	ra, rb := redis.NewClient(opts), redis.NewClient(opts)
	defer ra.Close()
	defer rb.Close()
	a.AttachRedis(ra, channel)
	b.AttachRedis(rb, channel)

	runCtx, stop := context.WithCancel(ctx)
	errs := make(chan error, 1)
	go func() { errs <- b.RunRedis(runCtx) }()

	room := CallRoom(uuid.New())
	c := &client{hub: b, send: make(chan []byte, 4), rooms: map[string]struct{}{}, done: make(chan struct{})}
	require.NoError(t, c.join(room))

	// Retry until the subscriber is live; Redis pub/sub drops messages with no subscriber.
	require.Eventually(t, func() bool {
		a.Publish(ctx, room, EventCallEnded, map[string]string{"id": "x"})
		return len(c.send) > 0
	}, 5*time.Second, 50*time.Millisecond)

	stop()
	require.NoError(t, <-errs)
}
