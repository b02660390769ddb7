package model

import (
	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Vehicle events
// -----------------------------------------------------------------------------

// EventType is the direction of a vehicle event.
type EventType string

const (
	EventEntry EventType = "entry"
	EventExit  EventType = "exit"
)

// BarrierAction is what the barrier did in response to a detection.
type BarrierAction string

const (
	BarrierOpened BarrierAction = "opened"
	BarrierDenied BarrierAction = "denied"
	BarrierManual BarrierAction = "manual"
	BarrierError  BarrierAction = "error"
)

// Event is a vehicle detection at an entry or exit camera.
type Event struct {
	ID               uuid.UUID     `json:"id"`
	VehicleID        uuid.NullUUID `json:"vehicle_id"` // invalid for unregistered plates
	PlateNumber      string        `json:"plate_number"`
	EventType        EventType     `json:"event_type"`
	Timestamp        Timestamp     `json:"timestamp"`
	CameraID         string        `json:"camera_id"`
	ConfidenceScore  float64       `json:"confidence_score"` // 0-100
	ImagePath        string        `json:"image_path,omitempty"`
	BarrierAction    BarrierAction `json:"barrier_action"`
	ProcessingTimeMs *int          `json:"processing_time_ms,omitempty"`
	CreatedAt        Timestamp     `json:"created_at"`
}

// Denied reports whether the barrier refused the vehicle.
func (e Event) Denied() bool {
	return e.BarrierAction == BarrierDenied
}

// -----------------------------------------------------------------------------
// Parking sessions
// -----------------------------------------------------------------------------

// SessionStatus is the lifecycle state of a parking session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session links a vehicle's entry event to its (eventual) exit event.
type Session struct {
	ID              uuid.UUID     `json:"id"`
	VehicleID       uuid.UUID     `json:"vehicle_id"`
	EntryEventID    uuid.UUID     `json:"entry_event_id"`
	ExitEventID     uuid.NullUUID `json:"exit_event_id"`
	EntryTime       Timestamp     `json:"entry_time"`
	ExitTime        Timestamp     `json:"exit_time"`
	DurationMinutes *int          `json:"duration_minutes,omitempty"`
	ParkingLotID    string        `json:"parking_lot_id,omitempty"`
	Status          SessionStatus `json:"status"`
	CreatedAt       Timestamp     `json:"created_at"`
	UpdatedAt       Timestamp     `json:"updated_at"`
}

// Active reports whether the vehicle is still parked.
func (s Session) Active() bool {
	return s.Status == SessionActive
}

// -----------------------------------------------------------------------------
// Live counters and hardware status
// -----------------------------------------------------------------------------

// DefaultLot names the facility when the backend omits a lot id.
const DefaultLot = "default"

// Occupancy is the live vehicle count for one parking lot.
type Occupancy struct {
	ParkingLotID string    `json:"parking_lot_id"`
	Occupied     int       `json:"occupied"`
	Capacity     int       `json:"capacity"`
	Timestamp    Timestamp `json:"timestamp"`
}

// Lot returns the lot id, DefaultLot if unset.
func (o Occupancy) Lot() string {
	if o.ParkingLotID == "" {
		return DefaultLot
	}
	return o.ParkingLotID
}

// Available returns the number of free spaces, never negative.
func (o Occupancy) Available() int {
	if free := o.Capacity - o.Occupied; free > 0 {
		return free
	}
	return 0
}

// Ratio returns occupied/capacity in [0,1], 0 when capacity is unknown.
func (o Occupancy) Ratio() float64 {
	if o.Capacity <= 0 {
		return 0
	}
	r := float64(o.Occupied) / float64(o.Capacity)
	if r > 1 {
		return 1
	}
	return r
}

// BarrierStatus is published by the hardware controller after each operation.
type BarrierStatus struct {
	Name              string    `json:"name"`
	State             string    `json:"state"` // closed, opening, open, closing, error
	OperationCount    int64     `json:"operation_count"`
	ErrorCount        int64     `json:"error_count"`
	LastOperationTime Timestamp `json:"last_operation_time"`
	IsOperational     bool      `json:"is_operational"`
	GPIOAvailable     bool      `json:"gpio_available"`
}

// CameraStatus is the ALPR service's health report for one camera.
type CameraStatus struct {
	Name          string    `json:"name"`
	CameraID      string    `json:"camera_id"`
	FrameCount    int64     `json:"frame_count"`
	ErrorCount    int64     `json:"error_count"`
	IsAlive       bool      `json:"is_alive"`
	LastFrameTime Timestamp `json:"last_frame_time"`
	Resolution    []int     `json:"resolution,omitempty"` // [width, height]
	FPS           float64   `json:"fps"`
}

// SystemAlert is an operator-facing notification.
type SystemAlert struct {
	ID        string    `json:"id,omitempty"`
	Level     string    `json:"level"` // info, warning, error, critical
	Source    string    `json:"source,omitempty"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

// Key identifies an alert. Alerts without an id are keyed by content, so a
// retransmitted alert collapses onto the original.
func (a SystemAlert) Key() string {
	if a.ID != "" {
		return a.ID
	}
	return a.Level + "|" + a.Source + "|" + a.Message + "|" + a.Timestamp.UTC().Format("20060102T150405.000000000")
}

// -----------------------------------------------------------------------------
// REST-only aggregates
// -----------------------------------------------------------------------------

// TodayStats is the backend's event summary since UTC midnight.
type TodayStats struct {
	Total       int     `json:"total"`
	Entries     int     `json:"entries"`
	Exits       int     `json:"exits"`
	Denied      int     `json:"denied"`
	SuccessRate float64 `json:"success_rate"`
}
