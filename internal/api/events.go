package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rickgao/parkwatch/internal/model"
)

// backendTime is the naive UTC layout the backend parses for date filters.
const backendTime = "2006-01-02T15:04:05"

// ListEvents fetches one page of events, newest first.
func (c *Client) ListEvents(ctx context.Context, filter EventFilter, page, pageSize int) (*EventPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	query := filter.query()
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))

	var resp EventPage
	if err := c.get(ctx, "/events", query, &resp); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return &resp, nil
}

// RecentEvents fetches the newest events, at most MaxRecentEvents.
func (c *Client) RecentEvents(ctx context.Context, limit int) ([]model.Event, error) {
	if limit < 1 {
		limit = DefaultRecentLim
	}
	if limit > MaxRecentEvents {
		limit = MaxRecentEvents
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	var events []model.Event
	if err := c.get(ctx, "/events/recent", query, &events); err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return events, nil
}

// TodayStats fetches the event summary since UTC midnight.
func (c *Client) TodayStats(ctx context.Context) (*model.TodayStats, error) {
	var stats model.TodayStats
	if err := c.get(ctx, "/events/stats/today", nil, &stats); err != nil {
		return nil, fmt.Errorf("today stats: %w", err)
	}
	return &stats, nil
}

func (f EventFilter) query() url.Values {
	query := url.Values{}
	if f.EventType != "" {
		query.Set("event_type", string(f.EventType))
	}
	if f.BarrierAction != "" {
		query.Set("barrier_action", string(f.BarrierAction))
	}
	if !f.DateFrom.IsZero() {
		query.Set("date_from", f.DateFrom.UTC().Format(backendTime))
	}
	if !f.DateTo.IsZero() {
		query.Set("date_to", f.DateTo.UTC().Format(backendTime))
	}
	if plate := model.NormalizePlate(f.PlateNumber); plate != "" {
		query.Set("plate_number", plate)
	}
	if f.CameraID != "" {
		query.Set("camera_id", f.CameraID)
	}
	return query
}
