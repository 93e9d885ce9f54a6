package measure

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/pulsegrid/aggregator/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.NewFromClient(rdb)
}

func TestCountInsertDeleteInverse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, Update(ctx, s, TypeCount, TxInsert, "k", nil))
	require.NoError(t, Update(ctx, s, TypeCount, TxInsert, "k", nil))
	v, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "2", v)

	require.NoError(t, Update(ctx, s, TypeCount, TxDelete, "k", nil))
	v, _, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "1", v)
}

func TestHeatMonotonicallyIncreasesOnDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, Update(ctx, s, TypeHeat, TxInsert, "k", nil))
	require.NoError(t, Update(ctx, s, TypeHeat, TxDelete, "k", nil))
	v, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "2", v)
}

func TestUniqueCardinality(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, Update(ctx, s, TypeUnique, TxInsert, "k", "A"))
	require.NoError(t, Update(ctx, s, TypeUnique, TxInsert, "k", "A"))
	require.NoError(t, Update(ctx, s, TypeUnique, TxInsert, "k", "B"))

	n, err := Cardinality(ctx, s, "k")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestUniqueDeleteIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, Update(ctx, s, TypeUnique, TxInsert, "k", "A"))
	require.NoError(t, Update(ctx, s, TypeUnique, TxDelete, "k", "A"))

	n, err := Cardinality(ctx, s, "k")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestScoreFloatInsertThenDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, Update(ctx, s, TypeScoreFloat, TxInsert, "k", 1.5))
	require.NoError(t, Update(ctx, s, TypeScoreFloat, TxDelete, "k", 0.5))

	v, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "1", v)
}
