// Package publisher implements the transaction-publishing entry point:
// validates the transaction type, verifies the channel has at least
// one subscriber, and publishes the envelope.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pulsegrid/aggregator/apperr"
	"github.com/pulsegrid/aggregator/registry"
	"github.com/pulsegrid/aggregator/store"
)

// Publisher publishes transaction envelopes to resource channels.
type Publisher struct {
	conf store.Store
	reg  *registry.Registry
}

// New returns a Publisher backed by the given config store connection.
func New(conf store.Store) *Publisher {
	return &Publisher{conf: conf, reg: registry.New(conf)}
}

// Publish validates trType, checks the channel's subscriber count, and
// publishes {"tr_type":trType,"payload":<payload>} to channel. payload
// must already be a valid JSON value and is spliced into the envelope
// byte for byte — never re-marshaled — so the caller's numeric
// representation and field order survive untouched.
func (p *Publisher) Publish(ctx context.Context, channel, trType string, payload json.RawMessage) error {
	if trType != "insert" && trType != "delete" {
		return apperr.New(apperr.ErrUnknownTransactionType, "%q", trType)
	}

	subscribed, err := p.reg.ActiveAnalyticsFor(ctx, channel)
	if err != nil {
		return fmt.Errorf("read subscriber count: %w", err)
	}
	if subscribed == 0 {
		return apperr.New(apperr.ErrNotFound, "channel %q is not found or has 0 subscriptions", channel)
	}

	envelope := fmt.Sprintf(`{"tr_type":%q,"payload":%s}`, trType, string(payload))
	listened, err := p.conf.Publish(ctx, channel, envelope)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if listened != subscribed {
		return apperr.New(apperr.ErrServiceUnavailable,
			"subscription-listened mismatch: listened = %d doesn't match subscribed = %d", listened, subscribed)
	}
	return nil
}
