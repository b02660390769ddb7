package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Category tags the kind of data carried by an Envelope.
type Category string

const (
	CategoryEvents        Category = "events"
	CategorySessions      Category = "sessions"
	CategoryOccupancy     Category = "occupancy"
	CategoryCameraStatus  Category = "camera_status"
	CategoryBarrierStatus Category = "barrier_status"
	CategorySystemAlerts  Category = "system_alerts"
)

// Control frame types. These are answers to client actions and are consumed
// by the connection layer, never delivered as data.
const (
	ControlPong                  = "pong"
	ControlSubscriptionConfirmed = "subscription_confirmed"
)

// Categories lists every data category the backend publishes.
func Categories() []Category {
	return []Category{
		CategoryEvents,
		CategorySessions,
		CategoryOccupancy,
		CategoryCameraStatus,
		CategoryBarrierStatus,
		CategorySystemAlerts,
	}
}

// Known reports whether c is a data category this client understands.
func (c Category) Known() bool {
	switch c {
	case CategoryEvents, CategorySessions, CategoryOccupancy,
		CategoryCameraStatus, CategoryBarrierStatus, CategorySystemAlerts:
		return true
	}
	return false
}

// IsControl reports whether c names a control frame rather than data.
func (c Category) IsControl() bool {
	return c == ControlPong || c == ControlSubscriptionConfirmed
}

// Frame parse errors.
var (
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrMissingCategory = errors.New("frame has no category")
)

// Envelope is one immutable unit of push data.
type Envelope struct {
	Category        Category
	Payload         json.RawMessage // opaque entity JSON
	ServerTimestamp time.Time       // frame or payload timestamp, receive time if absent
	ReceivedAt      time.Time       // local time the frame was read
}

// frameWire is the inbound frame format. The backend historically used "type"
// for the category; both keys are accepted.
type frameWire struct {
	Category  string          `json:"category"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// payloadTimestamp extracts data.timestamp when the frame itself carries none.
type payloadTimestamp struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

// looseTimestamp decodes raw as a Timestamp, returning the zero time for
// anything it cannot read.
func looseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var ts Timestamp
	if err := ts.UnmarshalJSON(raw); err != nil {
		return time.Time{}
	}
	return ts.Time
}

// ParseFrame decodes a raw push frame into an Envelope.
//
// Any parseable JSON object with a category is accepted; whether the
// category is known is left to the caller.
func ParseFrame(data []byte, receivedAt time.Time) (Envelope, error) {
	var wire frameWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	category := wire.Category
	if category == "" {
		category = wire.Type
	}
	if category == "" {
		return Envelope{}, ErrMissingCategory
	}

	// Timestamps are best-effort: a frame is never dropped for one.
	ts := looseTimestamp(wire.Timestamp)
	if ts.IsZero() && len(wire.Data) > 0 && wire.Data[0] == '{' {
		var p payloadTimestamp
		if err := json.Unmarshal(wire.Data, &p); err == nil {
			ts = looseTimestamp(p.Timestamp)
		}
	}
	if ts.IsZero() {
		ts = receivedAt
	}

	// Own the payload bytes so the envelope stays immutable after the
	// transport reuses its read buffer.
	var payload json.RawMessage
	if len(wire.Data) > 0 {
		payload = append(json.RawMessage(nil), wire.Data...)
	}

	return Envelope{
		Category:        Category(category),
		Payload:         payload,
		ServerTimestamp: ts.UTC(),
		ReceivedAt:      receivedAt,
	}, nil
}

// ClientAction is an outbound command to the push endpoint.
type ClientAction struct {
	Action    string     `json:"action"`
	Channels  []Category `json:"channels,omitempty"`
	Timestamp int64      `json:"timestamp,omitempty"` // Unix milliseconds, echoed by pong
}

// SubscribeAction asks the backend to push the given channels.
func SubscribeAction(channels []Category) ClientAction {
	return ClientAction{Action: "subscribe", Channels: channels}
}

// PingAction is an application-level keepalive.
func PingAction(now time.Time) ClientAction {
	return ClientAction{Action: "ping", Timestamp: now.UnixMilli()}
}
