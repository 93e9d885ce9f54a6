package supervisor

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
	"github.com/pulsegrid/aggregator/registry"
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

func newHarness(t *testing.T) (store.Store, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.NewFromClient(rdb), rdb
}

func TestSupervisorStartsConsumerForActiveAnalytics(t *testing.T) {
	conf, rdb := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(conf)
	def, err := analytics.Parse([]byte(countDef))
	require.NoError(t, err)
	require.NoError(t, reg.Load(ctx, def, nil))

	log := common.NewContextLogger(logrus.New(), nil)
	sup := New(conf, func(int) (store.Store, error) { return conf, nil }, log)

	runCtx, runCancel := context.WithCancel(ctx)
	go sup.Run(runCtx)
	time.Sleep(30 * time.Millisecond)

	_, err = rdb.Publish(ctx, "page", `{"tr_type":"insert","payload":{"ts":"2011-08-01"}}`).Result()
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	v, ok, err := conf.Get(ctx, "visits:Date:20110801")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)

	runCancel()
	time.Sleep(10 * time.Millisecond)
}

func TestSupervisorReconcileDestroysDisabledAnalytics(t *testing.T) {
	conf, _ := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(conf)
	def, err := analytics.Parse([]byte(countDef))
	require.NoError(t, err)
	require.NoError(t, reg.Load(ctx, def, nil))

	log := common.NewContextLogger(logrus.New(), nil)
	sup := New(conf, func(int) (store.Store, error) { return conf, nil }, log)

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go sup.Run(runCtx)
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, reg.Disable(ctx, "page_visits"))
	sup.Reconcile(ctx)
	time.Sleep(30 * time.Millisecond)

	require.Empty(t, sup.consumers)
}
