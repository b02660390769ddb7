package feed

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/parkwatch/internal/model"
	"github.com/rickgao/parkwatch/internal/router"
)

// Source is the type-erased face of a Feed, used by resync and the status
// server.
type Source interface {
	Name() string
	Category() model.Category
	Refresh(ctx context.Context) error
	Status() Status
	// Items returns the view and the version it was published at.
	Items() (any, uint64)
	Close()
}

// entry is one reconciled entity.
type entry[T any] struct {
	id       string
	key      time.Time
	seq      uint64 // arrival order, breaks key ties (higher first)
	fromPush bool
	val      T
}

// ahead reports whether a sorts before b.
func ahead[T any](a, b entry[T]) bool {
	if !a.key.Equal(b.key) {
		return a.key.After(b.key)
	}
	return a.seq > b.seq
}

// Feed is a Reconciled List: a REST snapshot kept live by push envelopes,
// capped at Capacity and ordered newest first.
type Feed[T any] struct {
	schema   Schema[T]
	registry router.Registry
	logger   *slog.Logger
	sf       singleflight.Group
	now      func() time.Time

	closed atomic.Bool

	// applyMu serializes mutation and notification.
	applyMu  sync.Mutex
	entries  []entry[T] // sorted, see ahead
	seq      uint64
	fetcher  Fetcher[T]
	fetching int              // snapshot fetches in flight
	pending  []model.Envelope // held back while fetching > 0

	subMu sync.Mutex
	unsub router.Unsubscribe

	listenersMu sync.Mutex
	listeners   []*listener[T]

	// mu guards the published view and status.
	mu       sync.RWMutex
	view     []T
	version  uint64
	state    State
	lastErr  error
	loadedAt time.Time

	applied      atomic.Int64
	duplicates   atomic.Int64
	buffered     atomic.Int64
	decodeErrors atomic.Int64
}

type listener[T any] struct {
	fn Listener[T]
}

// New creates a feed. It does nothing until Initialize.
func New[T any](schema Schema[T], registry router.Registry, logger *slog.Logger) (*Feed[T], error) {
	if err := schema.validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: %s: registry is required", ErrInvalidSchema, schema.Name)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Feed[T]{
		schema:   schema,
		registry: registry,
		logger:   logger.With("feed", schema.Name),
		now:      time.Now,
		view:     []T{},
	}, nil
}

// Name returns the feed name.
func (f *Feed[T]) Name() string { return f.schema.Name }

// Category returns the consumed envelope category.
func (f *Feed[T]) Category() model.Category { return f.schema.Category }

// Capacity returns N.
func (f *Feed[T]) Capacity() int { return f.schema.Capacity }

// Initialize subscribes to the feed's category and loads the first snapshot.
// Envelopes arriving while the snapshot is in flight are applied after it.
// A fetch error leaves the feed subscribed in StateError; call Refresh to
// retry.
func (f *Feed[T]) Initialize(ctx context.Context, fetcher Fetcher[T]) error {
	if fetcher == nil {
		return fmt.Errorf("%s: nil fetcher", f.schema.Name)
	}

	f.applyMu.Lock()
	if f.closed.Load() {
		f.applyMu.Unlock()
		return ErrFeedClosed
	}
	if f.fetcher != nil {
		f.applyMu.Unlock()
		return ErrAlreadyInitialized
	}
	f.fetcher = fetcher
	f.fetching++
	f.setState(StateLoading, nil)

	f.subMu.Lock()
	f.unsub = f.registry.Subscribe(f.handle, router.ByCategory(f.schema.Category))
	f.subMu.Unlock()
	f.applyMu.Unlock()

	f.logger.Debug("feed initializing", "category", f.schema.Category, "capacity", f.schema.Capacity)
	return f.load(ctx)
}

// Refresh refetches the snapshot. Concurrent calls share one fetch.
func (f *Feed[T]) Refresh(ctx context.Context) error {
	if f.closed.Load() {
		return ErrFeedClosed
	}

	_, err, shared := f.sf.Do("refresh", func() (any, error) {
		f.applyMu.Lock()
		if f.fetcher == nil {
			f.applyMu.Unlock()
			return nil, ErrNotInitialized
		}
		f.fetching++
		f.setState(StateLoading, nil)
		f.applyMu.Unlock()

		return nil, f.load(ctx)
	})
	if shared {
		f.logger.Debug("refresh coalesced")
	}
	return err
}

// View returns a copy of the current reconciled list, newest first.
func (f *Feed[T]) View() []T {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.view)
}

// Snapshot returns a copy of the view together with its version, read
// atomically.
func (f *Feed[T]) Snapshot() ([]T, uint64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.view), f.version
}

// Items is Snapshot with the view as any.
func (f *Feed[T]) Items() (any, uint64) { return f.Snapshot() }

// OnChange registers fn and returns a function that removes it.
func (f *Feed[T]) OnChange(fn Listener[T]) func() {
	if fn == nil {
		return func() {}
	}
	l := &listener[T]{fn: fn}

	f.listenersMu.Lock()
	f.listeners = append(f.listeners, l)
	f.listenersMu.Unlock()

	return func() {
		f.listenersMu.Lock()
		f.listeners = slices.DeleteFunc(f.listeners, func(x *listener[T]) bool { return x == l })
		f.listenersMu.Unlock()
	}
}

// Status returns the feed's health and counters.
func (f *Feed[T]) Status() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return Status{
		Name:         f.schema.Name,
		State:        f.state,
		Err:          f.lastErr,
		LoadedAt:     f.loadedAt,
		Len:          len(f.view),
		Capacity:     f.schema.Capacity,
		Version:      f.version,
		Applied:      f.applied.Load(),
		Duplicates:   f.duplicates.Load(),
		Buffered:     f.buffered.Load(),
		DecodeErrors: f.decodeErrors.Load(),
	}
}

// Close unsubscribes and drops the view. A snapshot still in flight is
// discarded when it arrives. Safe to call more than once, including from a
// listener.
func (f *Feed[T]) Close() {
	if !f.closed.CompareAndSwap(false, true) {
		return
	}

	f.subMu.Lock()
	if f.unsub != nil {
		f.unsub()
		f.unsub = nil
	}
	f.subMu.Unlock()

	f.listenersMu.Lock()
	f.listeners = nil
	f.listenersMu.Unlock()

	f.mu.Lock()
	f.view = []T{}
	f.state = StateClosed
	f.mu.Unlock()

	f.logger.Debug("feed closed")
}

// handle is the registry subscriber.
func (f *Feed[T]) handle(env model.Envelope) {
	if f.closed.Load() {
		return
	}

	f.applyMu.Lock()
	defer f.applyMu.Unlock()

	if f.closed.Load() {
		return
	}
	if f.fetching > 0 {
		f.pending = append(f.pending, env)
		f.buffered.Add(1)
		return
	}
	if ops := f.applyLocked(env); len(ops) > 0 {
		f.publishLocked(ops)
	}
}

// load runs the fetcher and merges its result. fetching was incremented by
// the caller.
func (f *Feed[T]) load(ctx context.Context) error {
	start := f.now()
	items, fetchErr := f.fetcher(ctx)

	f.applyMu.Lock()
	defer f.applyMu.Unlock()

	f.fetching--
	if f.closed.Load() {
		f.pending = nil
		f.entries = nil
		f.logger.Debug("discarding snapshot, feed closed")
		return ErrFeedClosed
	}

	var ops []Op[T]
	if fetchErr != nil {
		f.setState(StateError, fetchErr)
		f.logger.Warn("snapshot fetch failed", "error", fetchErr, "duration", f.now().Sub(start))
	} else {
		f.mergeSnapshotLocked(items)
		ops = append(ops, Op[T]{Kind: OpReset})
		f.mu.Lock()
		f.loadedAt = f.now()
		f.mu.Unlock()
		f.setState(StateReady, nil)
		f.logger.Debug("snapshot loaded", "items", len(items), "duration", f.now().Sub(start))
	}

	if f.fetching == 0 && len(f.pending) > 0 {
		pending := f.pending
		f.pending = nil
		for _, env := range pending {
			ops = append(ops, f.applyLocked(env)...)
		}
	}

	if len(ops) > 0 {
		f.publishLocked(ops)
	}

	if fetchErr != nil {
		return fmt.Errorf("%s snapshot: %w", f.schema.Name, fetchErr)
	}
	return nil
}

// mergeSnapshotLocked rebuilds entries from a snapshot. An entry that arrived
// by push keeps its version unless the snapshot's key is strictly newer.
func (f *Feed[T]) mergeSnapshotLocked(items []T) {
	current := make(map[string]entry[T], len(f.entries))
	for _, e := range f.entries {
		current[e.id] = e
	}

	next := make([]entry[T], 0, len(items))
	seen := make(map[string]bool, len(items))

	// Sequence from the back so equal keys keep snapshot order.
	seqs := make([]uint64, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		f.seq++
		seqs[i] = f.seq
	}

	for i, v := range items {
		id := f.schema.Identity(v)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		e := entry[T]{id: id, key: f.schema.OrderKey(v), seq: seqs[i], val: v}
		if cur, ok := current[id]; ok && cur.fromPush && !e.key.After(cur.key) {
			e = cur
		}
		if !f.schema.retains(e.val) {
			continue
		}
		next = append(next, e)
	}

	sort.SliceStable(next, func(i, j int) bool { return ahead(next[i], next[j]) })
	if len(next) > f.schema.Capacity {
		clear(next[f.schema.Capacity:])
		next = next[:f.schema.Capacity]
	}
	f.entries = next
}

// applyLocked reconciles one envelope and returns the resulting ops.
func (f *Feed[T]) applyLocked(env model.Envelope) []Op[T] {
	v, err := f.schema.Decode(env.Payload)
	if err != nil {
		f.decodeErrors.Add(1)
		f.logger.Warn("dropping undecodable envelope", "error", err)
		return nil
	}

	id := f.schema.Identity(v)
	if id == "" {
		f.decodeErrors.Add(1)
		f.logger.Warn("dropping envelope without identity")
		return nil
	}

	key := f.schema.OrderKey(v)
	if key.IsZero() {
		key = env.ServerTimestamp
	}

	idx := slices.IndexFunc(f.entries, func(e entry[T]) bool { return e.id == id })

	if idx >= 0 {
		cur := f.entries[idx]
		if f.schema.Equal(cur.val, v) {
			f.duplicates.Add(1)
			return nil
		}

		f.entries = slices.Delete(f.entries, idx, idx+1)
		if !f.schema.retains(v) {
			f.applied.Add(1)
			return []Op[T]{{Kind: OpRemoved, ID: id, Entity: v}}
		}

		e := entry[T]{id: id, key: key, seq: cur.seq, fromPush: true, val: v}
		if !key.Equal(cur.key) {
			f.seq++
			e.seq = f.seq
		}
		f.insertLocked(e)
		f.applied.Add(1)
		return []Op[T]{{Kind: OpUpdated, ID: id, Entity: v}}
	}

	if !f.schema.retains(v) {
		return nil
	}

	f.seq++
	e := entry[T]{id: id, key: key, seq: f.seq, fromPush: true, val: v}
	f.insertLocked(e)

	if len(f.entries) <= f.schema.Capacity {
		f.applied.Add(1)
		return []Op[T]{{Kind: OpInserted, ID: id, Entity: v}}
	}

	last := f.entries[len(f.entries)-1]
	f.entries[len(f.entries)-1] = entry[T]{}
	f.entries = f.entries[:len(f.entries)-1]
	if last.id == id {
		// Older than everything in a full view: no visible change.
		return nil
	}
	f.applied.Add(1)
	return []Op[T]{
		{Kind: OpInserted, ID: id, Entity: v},
		{Kind: OpEvicted, ID: last.id, Entity: last.val},
	}
}

// insertLocked places e at its sorted position.
func (f *Feed[T]) insertLocked(e entry[T]) {
	pos := sort.Search(len(f.entries), func(i int) bool { return ahead(e, f.entries[i]) })
	f.entries = slices.Insert(f.entries, pos, e)
}

// publishLocked installs a fresh view and notifies listeners in order.
func (f *Feed[T]) publishLocked(ops []Op[T]) {
	view := make([]T, len(f.entries))
	for i, e := range f.entries {
		view[i] = e.val
	}

	f.mu.Lock()
	if f.closed.Load() {
		f.mu.Unlock()
		return
	}
	f.view = view
	f.version++
	version := f.version
	f.mu.Unlock()

	f.listenersMu.Lock()
	listeners := slices.Clone(f.listeners)
	f.listenersMu.Unlock()

	change := Change[T]{
		Feed:    f.schema.Name,
		Version: version,
		View:    view,
		Ops:     ops,
		At:      f.now(),
	}
	for _, l := range listeners {
		f.notify(l, change)
	}
}

// notify runs one listener in isolation.
func (f *Feed[T]) notify(l *listener[T], change Change[T]) {
	defer func() {
		if p := recover(); p != nil {
			f.logger.Error("change listener panicked", "version", change.Version, "panic", p)
		}
	}()
	l.fn(change)
}

// setState records the snapshot lifecycle.
func (f *Feed[T]) setState(s State, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateClosed {
		return
	}
	f.state = s
	f.lastErr = err
}
