// Package supervisor implements the Worker Supervisor: it watches the
// Configuration Registry, spawns/terminates one consumer goroutine per
// active analytics, and reconciles on AnalyticsWorkerCmd "refresh"
// messages.
//
// Per SPEC_FULL.md §4.12, the source's process-per-analytics model is
// replaced by a goroutine-per-analytics model: go-redis gives each
// caller an independent pub/sub subscription context, and fault
// isolation is provided by this package's own supervised task group
// instead of the OS. All mutation of the consumer set happens inside
// a single event-loop goroutine (run), which is the sole owner of the
// consumers map — there is no mutex guarding it.
package supervisor

import (
	"context"
	"sync"

	"github.com/pulsegrid/aggregator/common"
	"github.com/pulsegrid/aggregator/consumer"
	"github.com/pulsegrid/aggregator/registry"
	"github.com/pulsegrid/aggregator/store"
)

// DataStoreFactory opens (or reuses) a connection to the logical data
// database an analytics definition names via data_db.
type DataStoreFactory func(dataDB int) (store.Store, error)

// Supervisor owns the set of running per-analytics consumers.
type Supervisor struct {
	conf    store.Store
	reg     *registry.Registry
	dataFor DataStoreFactory
	log     *common.ContextLogger

	commands  chan func()
	consumers map[string]*handle

	wg sync.WaitGroup
}

type handle struct {
	cancel   context.CancelFunc
	sub      store.Subscription
	channels map[string]struct{}
}

// New builds a Supervisor. dataFor is consulted once per consumer
// creation to obtain its data-store connection.
func New(conf store.Store, dataFor DataStoreFactory, log *common.ContextLogger) *Supervisor {
	return &Supervisor{
		conf:      conf,
		reg:       registry.New(conf),
		dataFor:   dataFor,
		log:       log,
		commands:  make(chan func(), 16),
		consumers: make(map[string]*handle),
	}
}

// Run starts the reconciliation event loop. It blocks until ctx is
// canceled, at which point every running consumer is torn down before
// Run returns — the goroutine analogue of "terminate all children,
// join, exit" on SIGTERM/SIGINT.
func (s *Supervisor) Run(ctx context.Context) error {
	names, err := s.reg.ActiveNames(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		s.create(ctx, name)
	}

	cmdSub := s.conf.Subscribe(ctx, registry.ControlChannel)
	defer cmdSub.Close()
	s.log.Info("listening on control channel")

	for {
		select {
		case <-ctx.Done():
			s.teardownAll()
			return nil
		case fn := <-s.commands:
			fn()
		case msg, ok := <-cmdSub.Channel():
			if !ok {
				return nil
			}
			if equalFoldRefresh(msg.Payload) {
				s.reconcile(ctx)
			}
		}
	}
}

func equalFoldRefresh(s string) bool {
	if len(s) != len(registry.RefreshCommand) {
		return false
	}
	for i := 0; i < len(s); i++ {
		a, b := s[i], registry.RefreshCommand[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

// Reconcile requests a reconciliation pass from outside the event
// loop; it is serialized along with everything else through commands.
func (s *Supervisor) Reconcile(ctx context.Context) {
	s.commands <- func() { s.reconcile(ctx) }
}

func (s *Supervisor) reconcile(ctx context.Context) {
	active, err := s.reg.ActiveNames(ctx)
	if err != nil {
		s.log.WithError(err).Error("reconcile: read active names")
		return
	}
	activeSet := make(map[string]struct{}, len(active))
	for _, n := range active {
		activeSet[n] = struct{}{}
	}

	for name := range activeSet {
		if _, running := s.consumers[name]; !running {
			s.create(ctx, name)
		}
	}
	for name := range s.consumers {
		if _, stillActive := activeSet[name]; !stillActive {
			s.destroy(name)
		}
	}

	for name, h := range s.consumers {
		subs, err := s.reg.SubscriptionsOf(ctx, name)
		if err != nil {
			s.log.WithError(err).WithField("analytics", name).Error("reconcile: read subscriptions")
			continue
		}
		wanted := make(map[string]struct{}, len(subs))
		for _, c := range subs {
			wanted[c] = struct{}{}
		}

		var toAdd, toRemove []string
		for c := range wanted {
			if _, ok := h.channels[c]; !ok {
				toAdd = append(toAdd, c)
			}
		}
		for c := range h.channels {
			if _, ok := wanted[c]; !ok {
				toRemove = append(toRemove, c)
			}
		}
		if len(toAdd) > 0 {
			if err := h.sub.Subscribe(ctx, toAdd...); err != nil {
				s.log.WithError(err).WithField("analytics", name).Error("reconcile: subscribe")
				continue
			}
			for _, c := range toAdd {
				h.channels[c] = struct{}{}
			}
		}
		if len(toRemove) > 0 {
			if err := h.sub.Unsubscribe(ctx, toRemove...); err != nil {
				s.log.WithError(err).WithField("analytics", name).Error("reconcile: unsubscribe")
				continue
			}
			for _, c := range toRemove {
				delete(h.channels, c)
			}
		}
		if len(h.channels) == 0 {
			s.destroy(name)
		}
	}
}

func (s *Supervisor) create(ctx context.Context, name string) {
	def, err := s.reg.Get(ctx, name)
	if err != nil {
		s.log.WithError(err).WithField("analytics", name).Error("create worker: load definition")
		return
	}
	subs, err := s.reg.SubscriptionsOf(ctx, name)
	if err != nil {
		s.log.WithError(err).WithField("analytics", name).Error("create worker: load subscriptions")
		return
	}
	data, err := s.dataFor(def.DataDB)
	if err != nil {
		s.log.WithError(err).WithField("analytics", name).Error("create worker: open data store")
		return
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	sub := s.conf.Subscribe(consumerCtx, subs...)

	channels := make(map[string]struct{}, len(subs))
	for _, c := range subs {
		channels[c] = struct{}{}
	}

	c := consumer.New(name, def, data, sub, s.log)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.Run(consumerCtx)
	}()

	s.consumers[name] = &handle{cancel: cancel, sub: sub, channels: channels}
	s.log.WithField("analytics", name).Info("creating worker")
}

func (s *Supervisor) destroy(name string) {
	h, ok := s.consumers[name]
	if !ok {
		return
	}
	s.log.WithField("analytics", name).Info("is getting deleted")
	h.cancel()
	h.sub.Close()
	delete(s.consumers, name)
}

func (s *Supervisor) teardownAll() {
	for name := range s.consumers {
		s.destroy(name)
	}
	s.wg.Wait()
}
