package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/pulsegrid/aggregator/analytics"
	"github.com/pulsegrid/aggregator/common"
	"github.com/pulsegrid/aggregator/store"
)

const countDef = `{
  "name": "page_visits",
  "query_dimensions": ["Date"],
  "slice_dimensions": [],
  "measures": ["visits"],
  "mapping": {
    "visits": {"type": "count", "resource": "page"},
    "Date": {"type": "date", "field": "ts"}
  }
}`

func newTestClient(t *testing.T) (store.Store, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.NewFromClient(rdb), rdb
}

func TestConsumerCountsAcrossMultipleInserts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	data, rdb := newTestClient(t)
	def, err := analytics.Parse([]byte(countDef))
	require.NoError(t, err)

	sub := data.Subscribe(ctx, "page")
	defer sub.Close()

	c := New("page_visits", def, data, sub, common.NewContextLogger(logrus.New(), nil))
	go c.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	publish := func(ts string) {
		n, err := rdb.Publish(ctx, "page", `{"tr_type":"insert","payload":{"ts":"`+ts+`"}}`).Result()
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
	}
	publish("2011-08-01")
	publish("2011-08-01")
	publish("2011-08-01")
	publish("2011-08-02")
	time.Sleep(50 * time.Millisecond)

	v, ok, err := data.Get(ctx, "visits:Date:20110801")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "3", v)

	v, ok, err = data.Get(ctx, "visits:Date:20110802")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)
}

const refCountDef = `{
  "name": "practice_visits",
  "query_dimensions": ["Date", "Practice"],
  "slice_dimensions": ["Date"],
  "measures": ["visits"],
  "mapping": {
    "visits": {"type": "count", "resource": "page"},
    "Date": {"type": "date", "field": "ts"},
    "Practice": {"type": "integer", "field": "practice_id"}
  }
}`

func TestConsumerUpdatesRefCountsAndDeletesToZero(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	data, rdb := newTestClient(t)
	def, err := analytics.Parse([]byte(refCountDef))
	require.NoError(t, err)

	sub := data.Subscribe(ctx, "page")
	defer sub.Close()

	c := New("practice_visits", def, data, sub, common.NewContextLogger(logrus.New(), nil))
	go c.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	insert := `{"tr_type":"insert","payload":{"ts":"2011-08-01","practice_id":7}}`
	_, err = rdb.Publish(ctx, "page", insert).Result()
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	keys, err := data.HKeys(ctx, "RefCount:Date:20110801:Practice")
	require.NoError(t, err)
	require.Equal(t, []string{"7"}, keys)

	del := `{"tr_type":"delete","payload":{"ts":"2011-08-01","practice_id":7}}`
	_, err = rdb.Publish(ctx, "page", del).Result()
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	keys, err = data.HKeys(ctx, "RefCount:Date:20110801:Practice")
	require.NoError(t, err)
	require.Empty(t, keys)
}
