package router

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/parkwatch/internal/model"
)

// Registry fans envelopes out to subscribers.
type Registry interface {
	// Subscribe registers deliver for envelopes accepted by filter (nil
	// accepts all) and returns its Unsubscribe handle.
	Subscribe(deliver Deliver, filter Filter) Unsubscribe

	// Publish enqueues env for dispatch by Run. It never blocks and returns
	// false once the registry is closed.
	Publish(env model.Envelope) bool

	// Dispatch delivers env synchronously to the current subscribers. Passes
	// are serialized; Dispatch must not be called from a Deliver.
	Dispatch(env model.Envelope)

	// Run dispatches queued envelopes in order until ctx is done or Close
	// is called, then drains what is left.
	Run(ctx context.Context) error

	// Close stops accepting envelopes.
	Close()

	// Stats returns current statistics.
	Stats() RegistryStats
}

// subscriber is one registration.
type subscriber struct {
	id      uuid.UUID
	deliver Deliver
	filter  Filter
	active  atomic.Bool
}

// registry is the internal implementation.
type registry struct {
	cfg    RegistryConfig
	logger *slog.Logger
	queue  *Queue[model.Envelope]

	mu   sync.RWMutex
	subs []*subscriber // registration order

	dispatchMu sync.Mutex

	published  atomic.Int64
	dispatched atomic.Int64
	delivered  atomic.Int64
	filtered   atomic.Int64
	panics     atomic.Int64
}

// NewRegistry creates a new Subscription Registry.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger) Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultRegistryConfig().QueueSize
	}

	return &registry{
		cfg:    cfg,
		logger: logger,
		queue:  NewQueue[model.Envelope](cfg.QueueSize),
	}
}

// Subscribe registers a subscriber.
func (r *registry) Subscribe(deliver Deliver, filter Filter) Unsubscribe {
	if deliver == nil {
		return func() {}
	}

	s := &subscriber{
		id:      uuid.New(),
		deliver: deliver,
		filter:  filter,
	}
	s.active.Store(true)

	r.mu.Lock()
	r.subs = append(r.subs, s)
	r.mu.Unlock()

	r.logger.Debug("subscriber added", "subscriber", s.id)

	return func() {
		if !s.active.CompareAndSwap(true, false) {
			return
		}
		r.mu.Lock()
		r.subs = slices.DeleteFunc(r.subs, func(x *subscriber) bool { return x == s })
		r.mu.Unlock()

		r.logger.Debug("subscriber removed", "subscriber", s.id)
	}
}

// Publish enqueues an envelope.
func (r *registry) Publish(env model.Envelope) bool {
	if !r.queue.Push(env) {
		r.logger.Debug("dropping envelope, registry closed", "category", env.Category)
		return false
	}
	r.published.Add(1)
	return true
}

// Dispatch delivers env to every active subscriber.
func (r *registry) Dispatch(env model.Envelope) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	r.mu.RLock()
	subs := slices.Clone(r.subs)
	r.mu.RUnlock()

	r.dispatched.Add(1)
	for _, s := range subs {
		// A subscriber removed earlier in this pass gets nothing.
		if !s.active.Load() {
			continue
		}
		r.deliver(s, env)
	}
}

// deliver runs one subscriber in isolation.
func (r *registry) deliver(s *subscriber, env model.Envelope) {
	defer func() {
		if p := recover(); p != nil {
			r.panics.Add(1)
			r.logger.Error("subscriber panicked",
				"subscriber", s.id,
				"category", env.Category,
				"panic", p,
			)
		}
	}()

	if s.filter != nil && !s.filter(env) {
		r.filtered.Add(1)
		return
	}
	s.deliver(env)
	r.delivered.Add(1)
}

// Run is the dispatch loop.
func (r *registry) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, r.queue.Close)
	defer stop()

	r.logger.Info("subscription registry started", "queue_size", r.cfg.QueueSize)

	for {
		env, ok := r.queue.Pop()
		if !ok {
			break
		}
		r.Dispatch(env)
	}

	stats := r.Stats()
	r.logger.Info("subscription registry stopped",
		"published", stats.Published,
		"delivered", stats.Delivered,
		"panics", stats.Panics,
	)
	return nil
}

// Close stops accepting envelopes.
func (r *registry) Close() {
	r.queue.Close()
}

// Stats returns current statistics.
func (r *registry) Stats() RegistryStats {
	r.mu.RLock()
	n := len(r.subs)
	r.mu.RUnlock()

	return RegistryStats{
		Subscribers: n,
		Published:   r.published.Load(),
		Dispatched:  r.dispatched.Load(),
		Delivered:   r.delivered.Load(),
		Filtered:    r.filtered.Load(),
		Panics:      r.panics.Load(),
		Queue:       r.queue.Stats(),
	}
}
