package registry

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/pulsegrid/aggregator/analytics"
	"github.com/pulsegrid/aggregator/store"
)

const def = `{
  "name": "page_visits",
  "query_dimensions": ["Date"],
  "slice_dimensions": [],
  "measures": ["visits"],
  "mapping": {
    "visits": {"type": "count", "resource": "page"},
    "Date": {"type": "date", "field": "ts"}
  }
}`

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(store.NewFromClient(rdb))
}

func TestLoadThenGet(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	d, err := analytics.Parse([]byte(def))
	require.NoError(t, err)

	require.NoError(t, r.Load(ctx, d, nil))

	got, err := r.Get(ctx, "page_visits")
	require.NoError(t, err)
	require.Equal(t, "page_visits", got.Name)

	active, err := r.IsActive(ctx, "page_visits")
	require.NoError(t, err)
	require.True(t, active)

	count, err := r.ActiveAnalyticsFor(ctx, "page")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestDisableThenEnableRestoresSubscriptions(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	d, err := analytics.Parse([]byte(def))
	require.NoError(t, err)
	require.NoError(t, r.Load(ctx, d, nil))

	require.NoError(t, r.Disable(ctx, "page_visits"))
	active, err := r.IsActive(ctx, "page_visits")
	require.NoError(t, err)
	require.False(t, active)
	count, err := r.ActiveAnalyticsFor(ctx, "page")
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	require.NoError(t, r.Enable(ctx, "page_visits"))
	active, err = r.IsActive(ctx, "page_visits")
	require.NoError(t, err)
	require.True(t, active)
	count, err = r.ActiveAnalyticsFor(ctx, "page")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestGetUnknownAnalyticsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get(context.Background(), "nope")
	require.Error(t, err)
}
