package publisher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegrid/aggregator/store"
)

func newTestStore(t *testing.T) (store.Store, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.NewFromClient(rdb), rdb
}

func TestPublishRejectsUnknownTransactionType(t *testing.T) {
	s, _ := newTestStore(t)
	p := New(s)
	err := p.Publish(context.Background(), "page", "bogus", json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestPublishNoSubscriberIsNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	p := New(s)
	err := p.Publish(context.Background(), "unknown_channel", "insert", json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestPublishSplicesRawPayload(t *testing.T) {
	ctx := context.Background()
	s, rdb := newTestStore(t)
	require.NoError(t, s.SAdd(ctx, "Subscriptions:page:ActiveAnalytics", "page_visits"))

	sub := rdb.Subscribe(ctx, "page")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	p := New(s)
	require.NoError(t, p.Publish(ctx, "page", "insert", json.RawMessage(`{"amount":1.50}`)))

	select {
	case msg := <-sub.Channel():
		assert.JSONEq(t, `{"tr_type":"insert","payload":{"amount":1.50}}`, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}
