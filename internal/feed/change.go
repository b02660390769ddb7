package feed

import (
	"time"
)

// OpKind classifies one mutation of a view.
type OpKind int

const (
	OpInserted OpKind = iota // new identity entered the view
	OpUpdated                // existing identity replaced
	OpEvicted                // pushed out by capacity
	OpRemoved                // no longer retained
	OpReset                  // view rebuilt from a snapshot
)

func (k OpKind) String() string {
	switch k {
	case OpInserted:
		return "inserted"
	case OpUpdated:
		return "updated"
	case OpEvicted:
		return "evicted"
	case OpRemoved:
		return "removed"
	case OpReset:
		return "reset"
	}
	return "unknown"
}

// Op is one structured mutation. Entity is the inserted or updated value, or
// the value that left the view. Reset carries no entity.
type Op[T any] struct {
	Kind   OpKind
	ID     string
	Entity T
}

// Change is published to listeners after every mutation.
type Change[T any] struct {
	Feed    string
	Version uint64 // increments per published view
	View    []T    // shared, must not be modified
	Ops     []Op[T]
	At      time.Time
}

// Listener observes changes. Listeners run on the goroutine that applied the
// mutation, one change at a time and in order. A listener may call View,
// OnChange or Close, but must not call Refresh synchronously.
type Listener[T any] func(Change[T])

// State is the snapshot lifecycle of a feed.
type State int

const (
	StateIdle    State = iota // not initialized
	StateLoading              // snapshot fetch in flight
	StateReady                // last snapshot succeeded
	StateError                // last snapshot failed; retry with Refresh
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Status reports a feed's health and counters.
type Status struct {
	Name         string
	State        State
	Err          error     // last snapshot error, nil when Ready
	LoadedAt     time.Time // last successful snapshot
	Len          int
	Capacity     int
	Version      uint64
	Applied      int64 // envelopes that changed the view
	Duplicates   int64 // envelopes equal to the current entry
	Buffered     int64 // envelopes held back during a fetch
	DecodeErrors int64
}
