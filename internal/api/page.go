package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ErrUnknownFeed is returned by FetchPage for a feed with no REST endpoint.
var ErrUnknownFeed = errors.New("feed has no rest endpoint")

// Feed ids accepted by FetchPage.
const (
	FeedEvents         = "events"
	FeedRecentEvents   = "events/recent"
	FeedActiveSessions = "sessions"
	FeedSessionHistory = "sessions/history"
)

// rawEventPage mirrors EventPage without decoding the items.
type rawEventPage struct {
	Items      []json.RawMessage `json:"items"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
}

// FetchPage fetches one page of a feed's snapshot without decoding the items.
// filters are passed through as query parameters. cursor is the Next value of
// a previous page, empty for the first page. Only the paged event listing has
// more than one page.
func (c *Client) FetchPage(ctx context.Context, feedID string, filters url.Values, cursor string) (Page, error) {
	query := url.Values{}
	for k, vs := range filters {
		query[k] = append([]string(nil), vs...)
	}

	switch feedID {
	case FeedEvents:
		page := 1
		if cursor != "" {
			n, err := strconv.Atoi(cursor)
			if err != nil || n < 1 {
				return Page{}, fmt.Errorf("fetch %s: invalid cursor %q", feedID, cursor)
			}
			page = n
		}
		query.Set("page", strconv.Itoa(page))
		if query.Get("page_size") == "" {
			query.Set("page_size", strconv.Itoa(DefaultPageSize))
		}

		var resp rawEventPage
		if err := c.get(ctx, "/events", query, &resp); err != nil {
			return Page{}, fmt.Errorf("fetch %s: %w", feedID, err)
		}
		out := Page{Items: resp.Items, Total: resp.Total}
		if resp.Page < resp.TotalPages {
			out.Next = strconv.Itoa(resp.Page + 1)
		}
		return out, nil

	case FeedRecentEvents, FeedActiveSessions, FeedSessionHistory:
		if cursor != "" {
			return Page{}, nil
		}
		path := "/" + feedID
		if feedID == FeedActiveSessions {
			path = "/sessions/active"
		}

		var items []json.RawMessage
		if err := c.get(ctx, path, query, &items); err != nil {
			return Page{}, fmt.Errorf("fetch %s: %w", feedID, err)
		}
		return Page{Items: items, Total: len(items)}, nil
	}

	return Page{}, fmt.Errorf("fetch %s: %w", feedID, ErrUnknownFeed)
}
