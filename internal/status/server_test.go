package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/parkwatch/internal/dashboard"
	"github.com/rickgao/parkwatch/internal/feed"
	"github.com/rickgao/parkwatch/internal/model"
)

type fakeSource struct {
	name     string
	category model.Category
	status   feed.Status
	items    any
}

func (f *fakeSource) Name() string                  { return f.name }
func (f *fakeSource) Category() model.Category      { return f.category }
func (f *fakeSource) Refresh(context.Context) error { return nil }
func (f *fakeSource) Status() feed.Status           { return f.status }
func (f *fakeSource) Items() (any, uint64)          { return f.items, f.status.Version }
func (f *fakeSource) Close()                        {}

type fakeDashboard struct {
	live     bool
	feeds    []feed.Source
	stats    *model.TodayStats
	statsErr error
	resyncs  []string
}

func (d *fakeDashboard) Live() bool           { return d.live }
func (d *fakeDashboard) Feeds() []feed.Source { return d.feeds }
func (d *fakeDashboard) Feed(name string) (feed.Source, bool) {
	for _, f := range d.feeds {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}
func (d *fakeDashboard) TodayStats(context.Context) (*model.TodayStats, error) {
	return d.stats, d.statsErr
}
func (d *fakeDashboard) Resync(reason string)   { d.resyncs = append(d.resyncs, reason) }
func (d *fakeDashboard) Stats() dashboard.Stats { return dashboard.Stats{} }

var loaded = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func newDashboard() *fakeDashboard {
	return &fakeDashboard{
		live: true,
		feeds: []feed.Source{
			&fakeSource{
				name:     "events",
				category: model.CategoryEvents,
				status:   feed.Status{Name: "events", State: feed.StateReady, LoadedAt: loaded, Len: 1, Capacity: 50, Version: 4},
				items:    []map[string]string{{"plate_number": "AB123"}},
			},
			&fakeSource{
				name:     "alerts",
				category: model.CategorySystemAlerts,
				status:   feed.Status{Name: "alerts", State: feed.StateReady, Capacity: 50},
				items:    []string{},
			},
		},
		stats: &model.TodayStats{Total: 7, Entries: 4, Exits: 3, SuccessRate: 100},
	}
}

func serve(t *testing.T, d Dashboard, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	s := New(":0", d, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	d := newDashboard()

	rec := serve(t, d, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, HealthOK, resp.Status)
	assert.True(t, resp.Live)
	require.Len(t, resp.Feeds, 2)
	assert.Equal(t, "events", resp.Feeds[0].Name)
	assert.Equal(t, "ready", resp.Feeds[0].State)
	require.NotNil(t, resp.Feeds[0].LoadedAt)
	assert.True(t, loaded.Equal(*resp.Feeds[0].LoadedAt))
	assert.Nil(t, resp.Feeds[1].LoadedAt)
}

func TestHealth_Degraded(t *testing.T) {
	d := newDashboard()
	src := d.feeds[0].(*fakeSource)
	src.status.State = feed.StateError
	src.status.Err = errors.New("recent events: 503")

	rec := serve(t, d, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, HealthDegraded, resp.Status)
	assert.Equal(t, "recent events: 503", resp.Feeds[0].Error)
}

func TestHealth_Offline(t *testing.T) {
	d := newDashboard()
	d.live = false

	rec := serve(t, d, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, HealthOffline, decode[HealthResponse](t, rec).Status)
}

func TestFeeds(t *testing.T) {
	rec := serve(t, newDashboard(), http.MethodGet, "/feeds")
	assert.Equal(t, http.StatusOK, rec.Code)

	statuses := decode[[]FeedStatus](t, rec)
	require.Len(t, statuses, 2)
	assert.Equal(t, "system_alerts", statuses[1].Category)
}

func TestFeed(t *testing.T) {
	rec := serve(t, newDashboard(), http.MethodGet, "/feeds/events")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"events","version":4,"live":true,"items":[{"plate_number":"AB123"}]}`, rec.Body.String())

	rec = serve(t, newDashboard(), http.MethodGet, "/feeds/payments")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	e := decode[Error](t, rec)
	assert.Equal(t, ErrCodeNotFound, e.Code)
	assert.Contains(t, e.Message, "payments")
}

func TestTodayStats(t *testing.T) {
	rec := serve(t, newDashboard(), http.MethodGet, "/stats/today")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, decode[model.TodayStats](t, rec).Total)

	d := newDashboard()
	d.statsErr = errors.New("connection refused")
	rec = serve(t, d, http.MethodGet, "/stats/today")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, ErrCodeBadGateway, decode[Error](t, rec).Code)
}

func TestStats(t *testing.T) {
	rec := serve(t, newDashboard(), http.MethodGet, "/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResync(t *testing.T) {
	d := newDashboard()

	rec := serve(t, d, http.MethodPost, "/resync")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"http"}, d.resyncs)

	rec = serve(t, d, http.MethodGet, "/resync")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	rec := serve(t, newDashboard(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type panicky struct{ *fakeDashboard }

func (panicky) Feeds() []feed.Source { panic("boom") }

func TestRecovery(t *testing.T) {
	rec := serve(t, panicky{newDashboard()}, http.MethodGet, "/feeds")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ErrCodeInternal, decode[Error](t, rec).Code)
}

func TestServer_StartShutdown(t *testing.T) {
	s := New("127.0.0.1:0", newDashboard(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Empty(t, s.Addr())

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start")

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
