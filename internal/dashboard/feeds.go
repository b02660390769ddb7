package dashboard

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/rickgao/parkwatch/internal/feed"
	"github.com/rickgao/parkwatch/internal/model"
)

// Feed names, as used by the status server and notifier topics.
const (
	FeedEvents    = "events"
	FeedSessions  = "sessions"
	FeedOccupancy = "occupancy"
	FeedBarriers  = "barriers"
	FeedCameras   = "cameras"
	FeedAlerts    = "alerts"
)

// singleUnit keys hardware status that arrives without a name.
const singleUnit = "default"

// Snapshots is the REST surface the feeds are seeded from. *api.Client
// satisfies it.
type Snapshots interface {
	RecentEvents(ctx context.Context, limit int) ([]model.Event, error)
	ActiveSessions(ctx context.Context) ([]model.Session, error)
	Occupancy(ctx context.Context, capacity int) ([]model.Occupancy, error)
	TodayStats(ctx context.Context) (*model.TodayStats, error)
}

// EventsSchema reconciles detection events, newest first.
func EventsSchema(capacity int) feed.Schema[model.Event] {
	return feed.Schema[model.Event]{
		Name:     FeedEvents,
		Category: model.CategoryEvents,
		Capacity: capacity,
		Identity: func(e model.Event) string { return e.ID.String() },
		OrderKey: func(e model.Event) time.Time { return e.Timestamp.Time },
	}
}

// SessionsSchema reconciles active parking sessions. A session leaves the
// view when it completes.
func SessionsSchema(capacity int) feed.Schema[model.Session] {
	return feed.Schema[model.Session]{
		Name:     FeedSessions,
		Category: model.CategorySessions,
		Capacity: capacity,
		Identity: func(s model.Session) string { return s.ID.String() },
		OrderKey: func(s model.Session) time.Time { return s.EntryTime.Time },
		Retain:   model.Session.Active,
	}
}

// OccupancySchema keeps one counter per lot.
func OccupancySchema(capacity int) feed.Schema[model.Occupancy] {
	return feed.Schema[model.Occupancy]{
		Name:     FeedOccupancy,
		Category: model.CategoryOccupancy,
		Capacity: capacity,
		Identity: model.Occupancy.Lot,
		OrderKey: func(o model.Occupancy) time.Time { return o.Timestamp.Time },
	}
}

// BarriersSchema keeps the latest status per barrier.
func BarriersSchema(capacity int) feed.Schema[model.BarrierStatus] {
	return feed.Schema[model.BarrierStatus]{
		Name:     FeedBarriers,
		Category: model.CategoryBarrierStatus,
		Capacity: capacity,
		Identity: func(b model.BarrierStatus) string {
			return cmp.Or(b.Name, singleUnit)
		},
		OrderKey: func(b model.BarrierStatus) time.Time { return b.LastOperationTime.Time },
	}
}

// CamerasSchema keeps the latest health report per camera.
func CamerasSchema(capacity int) feed.Schema[model.CameraStatus] {
	return feed.Schema[model.CameraStatus]{
		Name:     FeedCameras,
		Category: model.CategoryCameraStatus,
		Capacity: capacity,
		Identity: func(c model.CameraStatus) string {
			return cmp.Or(c.CameraID, c.Name, singleUnit)
		},
		OrderKey: func(c model.CameraStatus) time.Time { return c.LastFrameTime.Time },
	}
}

// AlertsSchema reconciles operator alerts, newest first.
func AlertsSchema(capacity int) feed.Schema[model.SystemAlert] {
	return feed.Schema[model.SystemAlert]{
		Name:     FeedAlerts,
		Category: model.CategorySystemAlerts,
		Capacity: capacity,
		Identity: model.SystemAlert.Key,
		OrderKey: func(a model.SystemAlert) time.Time { return a.Timestamp.Time },
	}
}

// recentEvents seeds the events feed.
func recentEvents(rest Snapshots, capacity int) feed.Fetcher[model.Event] {
	return func(ctx context.Context) ([]model.Event, error) {
		return rest.RecentEvents(ctx, capacity)
	}
}

// activeSessions seeds the sessions feed with the newest capacity sessions.
func activeSessions(rest Snapshots, capacity int) feed.Fetcher[model.Session] {
	return func(ctx context.Context) ([]model.Session, error) {
		sessions, err := rest.ActiveSessions(ctx)
		if err != nil {
			return nil, err
		}
		slices.SortStableFunc(sessions, func(a, b model.Session) int {
			return b.EntryTime.Compare(a.EntryTime.Time)
		})
		if len(sessions) > capacity {
			sessions = sessions[:capacity]
		}
		return sessions, nil
	}
}

// lotOccupancy seeds the occupancy feed from active sessions.
func lotOccupancy(rest Snapshots, lotCapacity int) feed.Fetcher[model.Occupancy] {
	return func(ctx context.Context) ([]model.Occupancy, error) {
		return rest.Occupancy(ctx, lotCapacity)
	}
}

// pushOnly seeds feeds the backend has no REST endpoint for.
func pushOnly[T any](context.Context) ([]T, error) {
	return []T{}, nil
}
