package browser

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/pulsegrid/aggregator/analytics"
	"github.com/pulsegrid/aggregator/registry"
	"github.com/pulsegrid/aggregator/store"
)

const dateCountDef = `{
  "name": "page_visits",
  "query_dimensions": ["Date"],
  "slice_dimensions": ["Date"],
  "measures": ["visits"],
  "mapping": {
    "visits": {"type": "count", "resource": "page"},
    "Date": {"type": "date", "field": "ts"}
  }
}`

func newHarness(t *testing.T) store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.NewFromClient(rdb)
}

func TestBrowserCountOverSingleDateDimension(t *testing.T) {
	ctx := context.Background()
	confAndData := newHarness(t)
	reg := registry.New(confAndData)

	def, err := analytics.Parse([]byte(dateCountDef))
	require.NoError(t, err)
	require.NoError(t, reg.Load(ctx, def, nil))

	// Directly populate the aggregate keys a consumer would have
	// written, since this test exercises the Browser in isolation.
	require.NoError(t, confAndData.Set(ctx, "visits:Date:20110801", "3"))
	require.NoError(t, confAndData.Set(ctx, "visits:Date:20110802", "1"))

	b := New(confAndData, func(int) (store.Store, error) { return confAndData, nil })
	res, err := b.Query(ctx, "page_visits", map[string]string{"Date": "20110801..20110802"})
	require.NoError(t, err)
	require.Equal(t, "OK", res.Status)
	require.Len(t, res.Data, 2)
	for _, row := range res.Data {
		if row["Date"] == "20110801" {
			require.EqualValues(t, 3, row["visits"])
		}
		if row["Date"] == "20110802" {
			require.EqualValues(t, 1, row["visits"])
		}
	}
}

func TestBrowserMissingSliceParameter(t *testing.T) {
	ctx := context.Background()
	confAndData := newHarness(t)
	reg := registry.New(confAndData)

	def, err := analytics.Parse([]byte(dateCountDef))
	require.NoError(t, err)
	require.NoError(t, reg.Load(ctx, def, nil))

	b := New(confAndData, func(int) (store.Store, error) { return confAndData, nil })
	_, err = b.Query(ctx, "page_visits", map[string]string{})
	require.Error(t, err)
}

func TestBrowserUnknownAnalyticsNotFound(t *testing.T) {
	ctx := context.Background()
	confAndData := newHarness(t)
	b := New(confAndData, func(int) (store.Store, error) { return confAndData, nil })
	_, err := b.Query(ctx, "nope", map[string]string{})
	require.Error(t, err)
}
