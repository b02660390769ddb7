package status

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rickgao/parkwatch/internal/feed"
)

// Health values.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded" // live, but a snapshot failed
	HealthOffline  = "offline"  // push connection down, data may be stale
)

// FeedStatus is the JSON form of feed.Status.
type FeedStatus struct {
	Name         string     `json:"name"`
	Category     string     `json:"category"`
	State        string     `json:"state"`
	Error        string     `json:"error,omitempty"`
	LoadedAt     *time.Time `json:"loaded_at,omitempty"`
	Len          int        `json:"len"`
	Capacity     int        `json:"capacity"`
	Version      uint64     `json:"version"`
	Applied      int64      `json:"applied"`
	Duplicates   int64      `json:"duplicates"`
	DecodeErrors int64      `json:"decode_errors"`
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status string       `json:"status"`
	Live   bool         `json:"live"`
	Feeds  []FeedStatus `json:"feeds"`
}

// FeedResponse is the /feeds/{name} body.
type FeedResponse struct {
	Name    string `json:"name"`
	Version uint64 `json:"version"`
	Live    bool   `json:"live"`
	Items   any    `json:"items"`
}

func toFeedStatus(src feed.Source) FeedStatus {
	st := src.Status()
	fs := FeedStatus{
		Name:         st.Name,
		Category:     string(src.Category()),
		State:        st.State.String(),
		Len:          st.Len,
		Capacity:     st.Capacity,
		Version:      st.Version,
		Applied:      st.Applied,
		Duplicates:   st.Duplicates,
		DecodeErrors: st.DecodeErrors,
	}
	if st.Err != nil {
		fs.Error = st.Err.Error()
	}
	if !st.LoadedAt.IsZero() {
		loaded := st.LoadedAt.UTC()
		fs.LoadedAt = &loaded
	}
	return fs
}

func (s *Server) feedStatuses() []FeedStatus {
	feeds := s.app.Feeds()
	out := make([]FeedStatus, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, toFeedStatus(f))
	}
	return out
}

// handleHealth reports live/offline and per-feed state. Offline answers 503
// so probes notice; a failed snapshot only degrades.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status: HealthOK,
		Live:   s.app.Live(),
		Feeds:  s.feedStatuses(),
	}

	for _, f := range resp.Feeds {
		if f.State == feed.StateError.String() {
			resp.Status = HealthDegraded
		}
	}

	code := http.StatusOK
	if !resp.Live {
		resp.Status = HealthOffline
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleFeeds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.feedStatuses())
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, ok := s.app.Feed(name)
	if !ok {
		writeNotFound(w, "unknown feed "+name)
		return
	}

	items, version := f.Items()
	writeJSON(w, http.StatusOK, FeedResponse{
		Name:    f.Name(),
		Version: version,
		Live:    s.app.Live(),
		Items:   items,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Stats())
}

// handleTodayStats passes through to the backend.
func (s *Server) handleTodayStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), upstreamTimeout)
	defer cancel()

	stats, err := s.app.TodayStats(ctx)
	if err != nil {
		s.logger.Warn("today stats failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleResync queues a refetch of every snapshot-backed feed.
func (s *Server) handleResync(w http.ResponseWriter, _ *http.Request) {
	s.app.Resync("http")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
