package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/parkwatch/internal/model"
)

// EventPage from GET /events
type EventPage struct {
	Items      []model.Event `json:"items"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// EventFilter narrows GET /events. Zero values are omitted.
type EventFilter struct {
	EventType     model.EventType
	BarrierAction model.BarrierAction
	DateFrom      time.Time
	DateTo        time.Time
	PlateNumber   string // partial match, normalized to upper case
	CameraID      string
}

// SessionFilter narrows GET /sessions/history. Zero values are omitted.
type SessionFilter struct {
	VehicleID uuid.UUID
	DateFrom  time.Time
	DateTo    time.Time
	Limit     int // 1-200, backend default 50
}

// Page is one untyped result page, as returned by FetchPage.
type Page struct {
	Items []json.RawMessage
	Total int
	Next  string // cursor for the following page, empty when exhausted
}

// Limits enforced by the backend.
const (
	MaxRecentEvents  = 100
	MaxPageSize      = 100
	MaxHistoryLimit  = 200
	DefaultPageSize  = 20
	DefaultRecentLim = 10
)
