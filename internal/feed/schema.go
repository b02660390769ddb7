package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rickgao/parkwatch/internal/model"
)

// Errors
var (
	ErrFeedClosed         = errors.New("feed closed")
	ErrNotInitialized     = errors.New("feed not initialized")
	ErrAlreadyInitialized = errors.New("feed already initialized")
	ErrInvalidSchema      = errors.New("invalid feed schema")
)

// Fetcher returns the current REST snapshot, ordered newest first, at most
// Capacity items.
type Fetcher[T any] func(ctx context.Context) ([]T, error)

// Schema describes how a Feed reconciles one entity type.
type Schema[T any] struct {
	Name     string         // for logs and status
	Category model.Category // envelopes this feed consumes
	Capacity int            // N: the view never holds more entries

	// Identity returns the entity's domain key. Entities with an empty
	// identity are dropped.
	Identity func(T) string

	// OrderKey returns the sort key; the newest key sorts first. A zero key
	// is replaced by the envelope's server timestamp.
	OrderKey func(T) time.Time

	// Decode parses an envelope payload. Defaults to json.Unmarshal.
	Decode func(json.RawMessage) (T, error)

	// Retain reports whether an entity belongs in the view. An update for
	// which Retain is false removes the entity. Nil retains everything.
	Retain func(T) bool

	// Equal detects retransmissions. Defaults to reflect.DeepEqual.
	Equal func(a, b T) bool
}

// validate checks required fields and fills defaults.
func (s *Schema[T]) validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidSchema)
	case s.Category == "":
		return fmt.Errorf("%w: %s: category is required", ErrInvalidSchema, s.Name)
	case s.Capacity < 1:
		return fmt.Errorf("%w: %s: capacity must be positive, got %d", ErrInvalidSchema, s.Name, s.Capacity)
	case s.Identity == nil:
		return fmt.Errorf("%w: %s: identity is required", ErrInvalidSchema, s.Name)
	case s.OrderKey == nil:
		return fmt.Errorf("%w: %s: order key is required", ErrInvalidSchema, s.Name)
	}

	if s.Decode == nil {
		s.Decode = func(raw json.RawMessage) (T, error) {
			var v T
			err := json.Unmarshal(raw, &v)
			return v, err
		}
	}
	if s.Equal == nil {
		s.Equal = func(a, b T) bool { return reflect.DeepEqual(a, b) }
	}
	return nil
}

// retains applies the optional Retain predicate.
func (s *Schema[T]) retains(v T) bool {
	return s.Retain == nil || s.Retain(v)
}
