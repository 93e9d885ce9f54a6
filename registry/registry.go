// Package registry implements the Configuration Registry: the set of
// config-database keys recording which analytics are loaded, active,
// and which resource channels each subscribes to.
package registry

import (
	"context"
	"fmt"

	"github.com/pulsegrid/aggregator/analytics"
	"github.com/pulsegrid/aggregator/apperr"
	"github.com/pulsegrid/aggregator/keyconstruct"
	"github.com/pulsegrid/aggregator/store"
)

// ControlChannel carries refresh commands to the Worker Supervisor.
const ControlChannel = "AnalyticsWorkerCmd"

// RefreshCommand is the only defined control-channel message body.
const RefreshCommand = "refresh"

// ActiveSet is the key holding the set of currently active analytics names.
const ActiveSet = "Analytics:Active"

// Registry reads and writes the config-database keys described in
// SPEC_FULL.md §3/§4.11.
type Registry struct {
	conf store.Store
}

// New returns a Registry backed by the given config store connection.
func New(conf store.Store) *Registry {
	return &Registry{conf: conf}
}

func byNameKey(name string) string {
	return keyconstruct.Build("Analytics", "ByName", name)
}

func subscriptionsKey(name string) string {
	return keyconstruct.Build("Analytics", "ByName", name, "Subscriptions")
}

func activeAnalyticsKey(channel string) string {
	return keyconstruct.Build("Subscriptions", channel, "ActiveAnalytics")
}

// Load writes the definition, populates its subscription sets, adds
// it to Analytics:Active, and publishes a refresh command — one for
// one with the admin "load" command.
func (r *Registry) Load(ctx context.Context, def *analytics.Definition, dataDB *int) error {
	if dataDB != nil {
		def.SetDataDB(*dataDB)
	}
	blob, err := def.JSON()
	if err != nil {
		return fmt.Errorf("serialize definition: %w", err)
	}
	if err := r.conf.Set(ctx, byNameKey(def.Name), string(blob)); err != nil {
		return fmt.Errorf("write definition: %w", err)
	}
	for _, m := range def.Measures {
		resource := def.Mapping[m].Resource
		if err := r.conf.SAdd(ctx, subscriptionsKey(def.Name), resource); err != nil {
			return fmt.Errorf("record subscription: %w", err)
		}
		if err := r.conf.SAdd(ctx, activeAnalyticsKey(resource), def.Name); err != nil {
			return fmt.Errorf("record active analytics for channel: %w", err)
		}
	}
	if err := r.conf.SAdd(ctx, ActiveSet, def.Name); err != nil {
		return fmt.Errorf("activate analytics: %w", err)
	}
	return r.publishRefresh(ctx)
}

// Get loads and validates the definition stored under name, or
// apperr.ErrNotFound if it doesn't exist.
func (r *Registry) Get(ctx context.Context, name string) (*analytics.Definition, error) {
	raw, ok, err := r.conf.Get(ctx, byNameKey(name))
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "analytics %q is not loaded", name)
	}
	def, err := analytics.Parse([]byte(raw))
	if err != nil {
		return nil, apperr.New(apperr.ErrServiceUnavailable, "stored definition for %q is corrupt: %v", name, err)
	}
	return def, nil
}

// IsActive reports whether name is a member of Analytics:Active.
func (r *Registry) IsActive(ctx context.Context, name string) (bool, error) {
	members, err := r.conf.SMembers(ctx, ActiveSet)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m == name {
			return true, nil
		}
	}
	return false, nil
}

// ActiveNames returns every currently active analytics name.
func (r *Registry) ActiveNames(ctx context.Context) ([]string, error) {
	return r.conf.SMembers(ctx, ActiveSet)
}

// SubscriptionsOf returns the resource channels name subscribes to.
func (r *Registry) SubscriptionsOf(ctx context.Context, name string) ([]string, error) {
	return r.conf.SMembers(ctx, subscriptionsKey(name))
}

// ActiveAnalyticsFor returns the number of active analytics subscribed
// to channel, used by the Publisher as the expected subscriber count.
func (r *Registry) ActiveAnalyticsFor(ctx context.Context, channel string) (int64, error) {
	return r.conf.SCard(ctx, activeAnalyticsKey(channel))
}

// Disable removes name from Analytics:Active and reverses its
// subscription-set membership, then publishes a refresh command.
func (r *Registry) Disable(ctx context.Context, name string) error {
	if err := r.conf.SRem(ctx, ActiveSet, name); err != nil {
		return fmt.Errorf("deactivate analytics: %w", err)
	}
	subs, err := r.conf.SMembers(ctx, subscriptionsKey(name))
	if err != nil {
		return fmt.Errorf("read subscriptions: %w", err)
	}
	for _, sub := range subs {
		if err := r.conf.SRem(ctx, activeAnalyticsKey(sub), name); err != nil {
			return fmt.Errorf("remove active analytics for channel: %w", err)
		}
	}
	return r.publishRefresh(ctx)
}

// Enable re-adds name to Analytics:Active and re-derives its channel
// subscriptions from the canonical Subscriptions key, then publishes a
// refresh command. The source's enable path reads from a misspelled
// key ("Analtyics:ByName:...") that never matches the canonical one
// load/disable use, so a re-enable after disable silently fails to
// restore channel subscriptions in the original; this implementation
// uses the canonical key throughout instead of reproducing that bug
// (see DESIGN.md Open Questions).
func (r *Registry) Enable(ctx context.Context, name string) error {
	exists, err := r.conf.Exists(ctx, byNameKey(name))
	if err != nil {
		return fmt.Errorf("check definition exists: %w", err)
	}
	if !exists {
		return apperr.New(apperr.ErrNotFound, "analytics %q is not loaded, use load first", name)
	}
	if err := r.conf.SAdd(ctx, ActiveSet, name); err != nil {
		return fmt.Errorf("activate analytics: %w", err)
	}
	subs, err := r.conf.SMembers(ctx, subscriptionsKey(name))
	if err != nil {
		return fmt.Errorf("read subscriptions: %w", err)
	}
	for _, sub := range subs {
		if err := r.conf.SAdd(ctx, activeAnalyticsKey(sub), name); err != nil {
			return fmt.Errorf("record active analytics for channel: %w", err)
		}
	}
	return r.publishRefresh(ctx)
}

func (r *Registry) publishRefresh(ctx context.Context) error {
	_, err := r.conf.Publish(ctx, ControlChannel, RefreshCommand)
	return err
}
