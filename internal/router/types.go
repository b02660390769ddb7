package router

import (
	"slices"

	"github.com/rickgao/parkwatch/internal/model"
)

// Deliver receives one envelope. It runs on the dispatch goroutine.
type Deliver func(model.Envelope)

// Filter selects the envelopes a subscriber wants. A nil Filter accepts all.
type Filter func(model.Envelope) bool

// Unsubscribe removes a subscriber. Safe to call more than once and from
// inside the subscriber's own Deliver.
type Unsubscribe func()

// ByCategory accepts envelopes of the given categories.
func ByCategory(categories ...model.Category) Filter {
	cats := slices.Clone(categories)
	return func(env model.Envelope) bool {
		return slices.Contains(cats, env.Category)
	}
}

// RegistryConfig holds configuration for the Subscription Registry.
type RegistryConfig struct {
	QueueSize int // Initial dispatch queue capacity. Default: 256
}

// DefaultRegistryConfig returns default configuration.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		QueueSize: 256,
	}
}

// RegistryStats contains runtime statistics.
type RegistryStats struct {
	Subscribers int
	Published   int64 // envelopes accepted by Publish
	Dispatched  int64 // dispatch passes run
	Delivered   int64 // subscriber deliveries
	Filtered    int64 // deliveries skipped by a filter
	Panics      int64 // recovered subscriber panics
	Queue       QueueStats
}
