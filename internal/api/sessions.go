package api

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/parkwatch/internal/model"
)

// ActiveSessions fetches every active parking session, newest entry first.
func (c *Client) ActiveSessions(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	if err := c.get(ctx, "/sessions/active", nil, &sessions); err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}
	return sessions, nil
}

// SessionHistory fetches completed sessions, newest entry first.
func (c *Client) SessionHistory(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	var sessions []model.Session
	if err := c.get(ctx, "/sessions/history", filter.query(), &sessions); err != nil {
		return nil, fmt.Errorf("session history: %w", err)
	}
	return sessions, nil
}

// Occupancy derives per-lot occupancy from the active sessions. The backend
// has no occupancy endpoint; capacity comes from configuration.
func (c *Client) Occupancy(ctx context.Context, capacity int) ([]model.Occupancy, error) {
	sessions, err := c.ActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("occupancy: %w", err)
	}
	return OccupancyFromSessions(sessions, capacity, time.Now()), nil
}

// OccupancyFromSessions counts active sessions per lot. The result is sorted
// by lot id and always contains the default lot.
func OccupancyFromSessions(sessions []model.Session, capacity int, at time.Time) []model.Occupancy {
	counts := map[string]int{model.DefaultLot: 0}
	for _, s := range sessions {
		if !s.Active() {
			continue
		}
		lot := s.ParkingLotID
		if lot == "" {
			lot = model.DefaultLot
		}
		counts[lot]++
	}

	lots := make([]string, 0, len(counts))
	for lot := range counts {
		lots = append(lots, lot)
	}
	slices.Sort(lots)

	out := make([]model.Occupancy, 0, len(lots))
	for _, lot := range lots {
		out = append(out, model.Occupancy{
			ParkingLotID: lot,
			Occupied:     counts[lot],
			Capacity:     capacity,
			Timestamp:    model.At(at),
		})
	}
	return out
}

func (f SessionFilter) query() url.Values {
	query := url.Values{}
	if f.VehicleID != uuid.Nil {
		query.Set("vehicle_id", f.VehicleID.String())
	}
	if !f.DateFrom.IsZero() {
		query.Set("date_from", f.DateFrom.UTC().Format(backendTime))
	}
	if !f.DateTo.IsZero() {
		query.Set("date_to", f.DateTo.UTC().Format(backendTime))
	}
	if f.Limit > 0 {
		query.Set("limit", strconv.Itoa(min(f.Limit, MaxHistoryLimit)))
	}
	return query
}
