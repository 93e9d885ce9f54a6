// Package consumer implements the per-analytics consumer loop: for
// each incoming transaction on a subscribed resource channel, update
// reference counts and measures in the data store.
package consumer

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pulsegrid/aggregator/analytics"
	"github.com/pulsegrid/aggregator/common"
	"github.com/pulsegrid/aggregator/dimension"
	"github.com/pulsegrid/aggregator/keyconstruct"
	"github.com/pulsegrid/aggregator/measure"
	"github.com/pulsegrid/aggregator/store"
)

// transaction is the envelope published on a resource channel.
type transaction struct {
	TrType  string                 `json:"tr_type"`
	Payload map[string]any         `json:"payload"`
}

// Consumer holds one analytics definition's cached mapping plus an
// exclusive subscription to its resource channels, and applies every
// incoming transaction to the data store.
type Consumer struct {
	Name string

	def  *analytics.Definition
	data store.Store
	sub  store.Subscription
	qnos []string
	snoq []string
	log  *common.ContextLogger
}

// New builds a Consumer for an already-loaded definition. dataStore is
// the connection to the definition's data_db; sub is a dedicated
// pub/sub handle already subscribed to the definition's resource
// channels.
func New(name string, def *analytics.Definition, dataStore store.Store, sub store.Subscription, log *common.ContextLogger) *Consumer {
	return &Consumer{
		Name: name,
		def:  def,
		data: dataStore,
		sub:  sub,
		qnos: def.QnosDimensions(),
		snoq: def.SnoqDimensions(),
		log:  log.WithField("analytics", name),
	}
}

// Run processes messages from sub.Channel() until ctx is canceled or
// the channel closes. Per-message errors are logged and swallowed so
// the loop keeps running; this mirrors the source's "log and
// continue" policy for per-message exceptions.
func (c *Consumer) Run(ctx context.Context) {
	ch := c.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := c.handle(ctx, msg.Channel, msg.Payload); err != nil {
				c.log.WithError(err).WithField("channel", msg.Channel).
					WithField("raw", msg.Payload).Error("error while consuming transaction")
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, channel, raw string) error {
	var tx transaction
	if err := json.Unmarshal([]byte(raw), &tx); err != nil {
		return err
	}
	c.log.WithField("channel", channel).WithField("tr_type", tx.TrType).Debug("consuming transaction")

	queryKey, err := c.buildKeyStr(c.def.QueryDimensions, tx.Payload)
	if err != nil {
		return err
	}
	sliceKey, err := c.buildKeyStr(c.def.SliceDimensions, tx.Payload)
	if err != nil {
		return err
	}
	snoqKey, err := c.buildKeyStr(c.snoq, tx.Payload)
	if err != nil {
		return err
	}

	if err := c.updateRefCounts(ctx, sliceKey, tx); err != nil {
		return err
	}

	return c.updateMeasures(ctx, channel, queryKey, snoqKey, tx)
}

// buildKeyStr sorts dimensions lexicographically and appends
// "<dim>:<parsed-value>" for each, matching spec.md §4.8 step 3.
func (c *Consumer) buildKeyStr(dimensions []string, payload map[string]any) (string, error) {
	sorted := append([]string(nil), dimensions...)
	sort.Strings(sorted)

	var parts []any
	for _, d := range sorted {
		entry := c.def.Mapping[d]
		val, err := dimension.Parse(dimension.Type(entry.Type), payload[entry.Field])
		if err != nil {
			return "", err
		}
		parts = append(parts, d, val)
	}
	return keyconstruct.Build(parts...), nil
}

func (c *Consumer) updateRefCounts(ctx context.Context, sliceKey string, tx transaction) error {
	sorted := append([]string(nil), c.qnos...)
	sort.Strings(sorted)

	for _, d := range sorted {
		field := c.def.Mapping[d].Field
		fieldVal := stringField(tx.Payload[field])
		refCountKey := keyconstruct.Build("RefCount", sliceKey, d)

		switch tx.TrType {
		case "insert":
			if _, err := c.data.HIncrBy(ctx, refCountKey, fieldVal, 1); err != nil {
				return err
			}
		case "delete":
			value, err := c.data.HIncrBy(ctx, refCountKey, fieldVal, -1)
			if err != nil {
				return err
			}
			if value == 0 {
				if err := c.data.HDel(ctx, refCountKey, fieldVal); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *Consumer) updateMeasures(ctx context.Context, channel, queryKey, snoqKey string, tx transaction) error {
	for _, m := range c.def.Measures {
		entry := c.def.Mapping[m]
		if entry.Resource != channel {
			continue
		}
		if !conditionsPass(entry.Conditions, tx.Payload) {
			continue
		}

		keyStr := keyconstruct.Build(m, queryKey, snoqKey)
		var fieldVal any
		if entry.Field != "" {
			fieldVal = tx.Payload[entry.Field]
		}
		if err := measure.Update(ctx, c.data, measure.Type(entry.Type), measure.TxType(tx.TrType), keyStr, fieldVal); err != nil {
			return err
		}
	}
	return nil
}

func conditionsPass(conditions []analytics.Condition, payload map[string]any) bool {
	for _, cond := range conditions {
		val := payload[cond.Field]
		if cond.Equals != nil && val != *cond.Equals {
			return false
		}
		if cond.NotEquals != nil && val == *cond.NotEquals {
			return false
		}
	}
	return true
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
