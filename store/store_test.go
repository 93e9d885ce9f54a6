package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFromClient(rdb), mr
}

func TestIncrDecr(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	n, err := c.Incr(ctx, "counter")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = c.DecrBy(ctx, "counter", 1)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestHashRefCounting(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	n, err := c.HIncrBy(ctx, "RefCount:x", "field", 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = c.HIncrBy(ctx, "RefCount:x", "field", -1)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
	require.NoError(t, c.HDel(ctx, "RefCount:x", "field"))

	keys, err := c.HKeys(ctx, "RefCount:x")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestSetFloatTx(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	v, err := c.SetFloatTx(ctx, "score", 1.5)
	require.NoError(t, err)
	require.InDelta(t, 1.5, v, 0.0001)

	v, err = c.SetFloatTx(ctx, "score", -0.5)
	require.NoError(t, err)
	require.InDelta(t, 1.0, v, 0.0001)
}

func TestPublishSubscribe(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	_ = mr

	sub := c.Subscribe(ctx, "resource-a")
	defer sub.Close()
	time.Sleep(10 * time.Millisecond)

	n, err := c.Publish(ctx, "resource-a", `{"tr_type":"insert","payload":{}}`)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	select {
	case msg := <-sub.Channel():
		require.Equal(t, "resource-a", msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}
