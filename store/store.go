// Package store wraps a Redis-compatible key-value connection behind
// the narrow surface every core component consumes: atomic counters,
// hashes, sets, pub/sub, and single-key optimistic transactions. This
// is the key-value client connection plumbing spec.md names as an
// external collaborator — concretely bound here to go-redis so the
// rest of the module compiles and is testable against miniredis.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the interface every analytics component depends on instead
// of a concrete *redis.Client, so tests can substitute a miniredis-backed
// instance or, in principle, any other conforming implementation.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	DecrBy(ctx context.Context, key string, delta int64) (int64, error)
	SetFloatTx(ctx context.Context, key string, delta float64) (float64, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HDel(ctx context.Context, key, field string) error
	HKeys(ctx context.Context, key string) ([]string, error)
	SAdd(ctx context.Context, key, member string) error
	SCard(ctx context.Context, key string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key, member string) error
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, key string) error
	Publish(ctx context.Context, channel, payload string) (int64, error)
	Subscribe(ctx context.Context, channels ...string) Subscription
	Close() error
}

// Subscription is a live pub/sub handle. It is the Go analogue of the
// exclusive pub/sub connection each per-analytics consumer holds.
type Subscription interface {
	Channel() <-chan *redis.Message
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Channels() []string
	Close() error
}

// Client is the Store implementation backed by a real (or miniredis)
// Redis server.
type Client struct {
	rdb *redis.Client
}

// Config selects a server URL and logical database index — mirroring
// the Analytics Definition's data_db field, which selects which
// logical database holds a given analytics' aggregate keys.
type Config struct {
	URL string
	DB  int
}

// New parses url (a redis:// URL) and returns a connected Client,
// pinging within 5s to fail fast on bad configuration.
func New(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewFromClient wraps an already-constructed go-redis client, useful
// for pointing at a miniredis instance in tests.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *Client) Set(ctx context.Context, key, value string) error {
	return c.rdb.Set(ctx, key, value, 0).Err()
}

func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Incr(ctx, key).Result()
}

func (c *Client) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return c.rdb.IncrBy(ctx, key, delta).Result()
}

func (c *Client) Decr(ctx context.Context, key string) (int64, error) {
	return c.rdb.Decr(ctx, key).Result()
}

func (c *Client) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return c.rdb.DecrBy(ctx, key, delta).Result()
}

// SetFloatTx applies delta to the float64 stored at key (treating a
// missing key as 0.0) inside a WATCH/MULTI optimistic transaction on
// that single key, returning the new value. This is the Go analogue
// of the Python implementation's conn.transaction(fn, key_str).
func (c *Client) SetFloatTx(ctx context.Context, key string, delta float64) (float64, error) {
	var newValue float64
	txf := func(tx *redis.Tx) error {
		current := 0.0
		v, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err != redis.Nil {
			if _, scanErr := fmt.Sscanf(v, "%g", &current); scanErr != nil {
				return fmt.Errorf("parse current float value %q: %w", v, scanErr)
			}
		}
		newValue = current + delta
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newValue, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 10; attempt++ {
		err := c.rdb.Watch(ctx, txf, key)
		if err == nil {
			return newValue, nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return 0, err
	}
	return 0, fmt.Errorf("SetFloatTx: too many retries on key %q", key)
}

func (c *Client) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return c.rdb.HIncrBy(ctx, key, field, delta).Result()
}

func (c *Client) HDel(ctx context.Context, key, field string) error {
	return c.rdb.HDel(ctx, key, field).Err()
}

func (c *Client) HKeys(ctx context.Context, key string) ([]string, error) {
	return c.rdb.HKeys(ctx, key).Result()
}

func (c *Client) SAdd(ctx context.Context, key, member string) error {
	return c.rdb.SAdd(ctx, key, member).Err()
}

func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	return c.rdb.SCard(ctx, key).Result()
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

func (c *Client) SRem(ctx context.Context, key, member string) error {
	return c.rdb.SRem(ctx, key, member).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *Client) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *Client) Publish(ctx context.Context, channel, payload string) (int64, error) {
	return c.rdb.Publish(ctx, channel, payload).Result()
}

func (c *Client) Subscribe(ctx context.Context, channels ...string) Subscription {
	return newSubscription(c.rdb.Subscribe(ctx, channels...), channels)
}

func (c *Client) Close() error { return c.rdb.Close() }

// subscription tracks its own channel membership since go-redis's
// *redis.PubSub does not expose one; the Supervisor needs this set to
// diff against a freshly read Subscriptions set during reconciliation.
type subscription struct {
	ps       *redis.PubSub
	channels map[string]struct{}
}

func newSubscription(ps *redis.PubSub, channels []string) *subscription {
	set := make(map[string]struct{}, len(channels))
	for _, c := range channels {
		set[c] = struct{}{}
	}
	return &subscription{ps: ps, channels: set}
}

func (s *subscription) Channel() <-chan *redis.Message { return s.ps.Channel() }

func (s *subscription) Subscribe(ctx context.Context, channels ...string) error {
	if err := s.ps.Subscribe(ctx, channels...); err != nil {
		return err
	}
	for _, c := range channels {
		s.channels[c] = struct{}{}
	}
	return nil
}

func (s *subscription) Unsubscribe(ctx context.Context, channels ...string) error {
	if err := s.ps.Unsubscribe(ctx, channels...); err != nil {
		return err
	}
	for _, c := range channels {
		delete(s.channels, c)
	}
	return nil
}

func (s *subscription) Channels() []string {
	out := make([]string, 0, len(s.channels))
	for c := range s.channels {
		out = append(out, c)
	}
	return out
}

func (s *subscription) Close() error { return s.ps.Close() }
