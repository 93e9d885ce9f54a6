// Package measure implements the seven aggregate-update primitives
// applied to the store on every transaction: count, score, heat,
// unique, and float variants of count/score/heat.
package measure

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pulsegrid/aggregator/apperr"
	"github.com/pulsegrid/aggregator/store"
)

// Type enumerates the measure kinds a mapping entry can declare.
type Type string

const (
	TypeCount      Type = "count"
	TypeScore      Type = "score"
	TypeHeat       Type = "heat"
	TypeUnique     Type = "unique"
	TypeCountFloat Type = "count_float"
	TypeScoreFloat Type = "score_float"
	TypeHeatFloat  Type = "heat_float"
)

// Valid reports whether t is a known measure type.
func (t Type) Valid() bool {
	switch t {
	case TypeCount, TypeScore, TypeHeat, TypeUnique, TypeCountFloat, TypeScoreFloat, TypeHeatFloat:
		return true
	}
	return false
}

// IsFloat reports whether the measure stores a float64 rather than an int64.
func (t Type) IsFloat() bool {
	switch t {
	case TypeCountFloat, TypeScoreFloat, TypeHeatFloat:
		return true
	}
	return false
}

// TxType is the transaction kind driving a measure update.
type TxType string

const (
	TxInsert TxType = "insert"
	TxDelete TxType = "delete"
)

// Update applies the measure function named by t against key for the
// given transaction type. fieldVal is the raw value of the measure's
// mapped field when the definition declares one (score/unique always
// declare a field; count/heat never consult it).
func Update(ctx context.Context, s store.Store, t Type, tx TxType, key string, fieldVal any) error {
	switch t {
	case TypeCount:
		return score(ctx, s, tx, key, 1)
	case TypeScore:
		v, err := floatOf(fieldVal)
		if err != nil {
			return err
		}
		return score(ctx, s, tx, key, int64(v))
	case TypeHeat:
		// Monotone: both insert and delete increment.
		_, err := s.Incr(ctx, key)
		return err
	case TypeUnique:
		if tx != TxInsert {
			// unique has no defined delete semantics; treated as a no-op.
			return nil
		}
		member, err := stringOf(fieldVal)
		if err != nil {
			return err
		}
		return s.SAdd(ctx, key, member)
	case TypeCountFloat:
		return scoreFloat(ctx, s, tx, key, 1.0)
	case TypeScoreFloat:
		v, err := floatOf(fieldVal)
		if err != nil {
			return err
		}
		return scoreFloat(ctx, s, tx, key, v)
	case TypeHeatFloat:
		// As count_float insert, on both insert and delete.
		_, err := s.SetFloatTx(ctx, key, 1.0)
		return err
	default:
		return apperr.New(apperr.ErrInvalidValue, "unknown measure type %q", t)
	}
}

// Cardinality returns the current SCARD of a unique measure's key,
// used by the browser to read it back.
func Cardinality(ctx context.Context, s store.Store, key string) (int64, error) {
	return s.SCard(ctx, key)
}

func score(ctx context.Context, s store.Store, tx TxType, key string, delta int64) error {
	switch tx {
	case TxInsert:
		_, err := s.IncrBy(ctx, key, delta)
		return err
	case TxDelete:
		_, err := s.DecrBy(ctx, key, delta)
		return err
	default:
		return apperr.New(apperr.ErrUnknownTransactionType, "%q", tx)
	}
}

func scoreFloat(ctx context.Context, s store.Store, tx TxType, key string, delta float64) error {
	switch tx {
	case TxInsert:
		_, err := s.SetFloatTx(ctx, key, delta)
		return err
	case TxDelete:
		_, err := s.SetFloatTx(ctx, key, -delta)
		return err
	default:
		return apperr.New(apperr.ErrUnknownTransactionType, "%q", tx)
	}
}

func floatOf(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, apperr.New(apperr.ErrInvalidValue, "non-numeric field value %q", n)
		}
		return f, nil
	default:
		return 0, apperr.New(apperr.ErrInvalidValue, "non-numeric field value %v", v)
	}
}

func stringOf(v any) (string, error) {
	if v == nil {
		return "", apperr.New(apperr.ErrInvalidValue, "nil field value")
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", v), nil
}
