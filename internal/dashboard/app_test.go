package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/parkwatch/internal/config"
	"github.com/rickgao/parkwatch/internal/connection"
	"github.com/rickgao/parkwatch/internal/feed"
	"github.com/rickgao/parkwatch/internal/model"
	"github.com/rickgao/parkwatch/internal/notify"
)

var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func at(sec int) model.Timestamp { return model.At(base.Add(time.Duration(sec) * time.Second)) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeREST serves canned snapshots.
type fakeREST struct {
	events      []model.Event
	sessions    []model.Session
	eventsErr   error
	eventsCalls atomic.Int32
}

func (f *fakeREST) RecentEvents(_ context.Context, limit int) ([]model.Event, error) {
	f.eventsCalls.Add(1)
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	out := append([]model.Event(nil), f.events...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeREST) ActiveSessions(context.Context) ([]model.Session, error) {
	return append([]model.Session(nil), f.sessions...), nil
}

func (f *fakeREST) Occupancy(_ context.Context, capacity int) ([]model.Occupancy, error) {
	return []model.Occupancy{{ParkingLotID: model.DefaultLot, Occupied: len(f.sessions), Capacity: capacity, Timestamp: at(0)}}, nil
}

func (f *fakeREST) TodayStats(context.Context) (*model.TodayStats, error) {
	return &model.TodayStats{Total: 3, Entries: 2, Exits: 1, SuccessRate: 100}, nil
}

// recorder is a notifier that keeps every record.
type recorder struct {
	mu      sync.Mutex
	records []notify.Record
	closed  bool
}

func (r *recorder) Notify(records []notify.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
}

func (r *recorder) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) find(feedName, kind, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Feed == feedName && rec.Kind == kind && rec.ID == id {
			return true
		}
	}
	return false
}

// pushServer upgrades, reads the subscribe action, waits for release and then
// writes frames. It holds the socket open until the client leaves.
func pushServer(t *testing.T, release <-chan struct{}, frames [][]byte) (*httptest.Server, <-chan model.ClientAction) {
	t.Helper()
	subscribed := make(chan model.ClientAction, 4)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var action model.ClientAction
		if json.Unmarshal(data, &action) == nil {
			subscribed <- action
		}

		<-release
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server, subscribed
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func frame(t *testing.T, category model.Category, data any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"category": category, "data": data})
	require.NoError(t, err)
	return b
}

func testConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Instance.ID = "gate-1"
	cfg.API.WSURL = url
	cfg.Connection.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.Connection.ReconnectMaxDelay = 40 * time.Millisecond
	cfg.Feeds.EventsCapacity = 2
	cfg.Feeds.SessionsCapacity = 10
	return cfg
}

func TestApp_SnapshotThenPush(t *testing.T) {
	e1 := model.Event{ID: uuid.New(), PlateNumber: "AB123", EventType: model.EventEntry, Timestamp: at(10)}
	e2 := model.Event{ID: uuid.New(), PlateNumber: "CD456", EventType: model.EventEntry, Timestamp: at(9)}
	e3 := model.Event{ID: uuid.New(), PlateNumber: "EF789", EventType: model.EventExit, Timestamp: at(11)}

	s1 := model.Session{ID: uuid.New(), EntryTime: at(1), Status: model.SessionActive}
	s2 := model.Session{ID: uuid.New(), EntryTime: at(2), Status: model.SessionActive}
	s1Done := s1
	s1Done.Status = model.SessionCompleted
	s1Done.ExitTime = at(12)

	rest := &fakeREST{events: []model.Event{e1, e2}, sessions: []model.Session{s2, s1}}

	release := make(chan struct{})
	server, subscribed := pushServer(t, release, [][]byte{
		frame(t, model.CategoryEvents, e3),
		frame(t, model.CategoryEvents, e3), // retransmission
		frame(t, model.CategorySessions, s1Done),
		frame(t, model.CategoryBarrierStatus, model.BarrierStatus{Name: "entry", State: "open", LastOperationTime: at(11)}),
		[]byte(`{"category":"weather","data":{}}`),
	})

	rec := &recorder{}
	app, err := New(testConfig(wsURL(server)), rest, WithLogger(quietLogger()), WithNotifier(rec))
	require.NoError(t, err)

	var liveMu sync.Mutex
	var transitions []bool
	app.OnLiveChange(func(live bool) {
		liveMu.Lock()
		transitions = append(transitions, live)
		liveMu.Unlock()
	})

	require.NoError(t, app.Start(context.Background()))
	assert.True(t, app.Live())

	select {
	case action := <-subscribed:
		assert.Equal(t, "subscribe", action.Action)
		assert.Len(t, action.Channels, len(model.Categories()))
	case <-time.After(time.Second):
		t.Fatal("no subscribe action")
	}

	events := app.Events.View()
	require.Len(t, events, 2)
	assert.Equal(t, e1.ID, events[0].ID)
	assert.Equal(t, feed.StateReady, app.Events.Status().State)

	close(release)

	require.Eventually(t, func() bool {
		v := app.Events.View()
		return len(v) == 2 && v[0].ID == e3.ID && v[1].ID == e1.ID
	}, 2*time.Second, 5*time.Millisecond, "E3 evicts E2")

	require.Eventually(t, func() bool {
		v := app.Sessions.View()
		return len(v) == 1 && v[0].ID == s2.ID
	}, 2*time.Second, 5*time.Millisecond, "completed session leaves the view")

	require.Eventually(t, func() bool {
		return len(app.Barriers.View()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "open", app.Barriers.View()[0].State)

	assert.Equal(t, int64(1), app.Events.Status().Duplicates)
	assert.True(t, rec.find(FeedEvents, "inserted", e3.ID.String()))
	assert.True(t, rec.find(FeedEvents, "evicted", e2.ID.String()))
	assert.True(t, rec.find(FeedSessions, "removed", s1.ID.String()))

	stats, err := app.TodayStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)

	app.Resync("test")
	require.Eventually(t, func() bool {
		return rest.eventsCalls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, app.Stop(context.Background()))
	assert.False(t, app.Live())

	rec.mu.Lock()
	assert.True(t, rec.closed)
	rec.mu.Unlock()

	require.Eventually(t, func() bool {
		liveMu.Lock()
		defer liveMu.Unlock()
		return len(transitions) == 2 && transitions[0] && !transitions[1]
	}, time.Second, 5*time.Millisecond, "live then offline")

	assert.Equal(t, feed.StateClosed, app.Events.Status().State)
}

func TestApp_SnapshotFailureIsNotFatal(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(dead)
	dead.Close()

	rest := &fakeREST{eventsErr: errors.New("503 service unavailable")}
	app, err := New(testConfig(url), rest, WithLogger(quietLogger()))
	require.NoError(t, err)

	require.NoError(t, app.Start(context.Background()))
	assert.False(t, app.Live())

	st := app.Events.Status()
	assert.Equal(t, feed.StateError, st.State)
	require.Error(t, st.Err)
	assert.Contains(t, st.Err.Error(), "503")

	assert.Equal(t, feed.StateReady, app.Sessions.Status().State)
	assert.Equal(t, feed.StateReady, app.Alerts.Status().State, "push-only feeds start empty and ready")

	assert.Eventually(t, func() bool {
		return app.Stats().Connection.Reconnects >= 2
	}, 2*time.Second, 5*time.Millisecond, "keeps retrying in the background")

	require.NoError(t, app.Stop(context.Background()))
	assert.Equal(t, connection.StateDisconnected, app.Stats().Connection.State)
}

func TestApp_Lifecycle(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(dead)
	dead.Close()

	app, err := New(testConfig(url), &fakeREST{}, WithLogger(quietLogger()))
	require.NoError(t, err)

	require.NoError(t, app.Start(context.Background()))
	assert.ErrorIs(t, app.Start(context.Background()), ErrStarted)

	require.NoError(t, app.Stop(context.Background()))
	require.NoError(t, app.Stop(context.Background()), "second stop is a no-op")
	assert.ErrorIs(t, app.Start(context.Background()), ErrStopped)
}

func TestApp_StopWithoutStart(t *testing.T) {
	app, err := New(testConfig("ws://127.0.0.1:1/ws"), &fakeREST{}, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.NoError(t, app.Stop(context.Background()))
}

func TestApp_Feeds(t *testing.T) {
	app, err := New(testConfig("ws://127.0.0.1:1/ws"), &fakeREST{}, WithLogger(quietLogger()))
	require.NoError(t, err)

	var names []string
	for _, f := range app.Feeds() {
		names = append(names, f.Name())
	}
	assert.Equal(t, []string{FeedEvents, FeedSessions, FeedOccupancy, FeedBarriers, FeedCameras, FeedAlerts}, names)

	f, ok := app.Feed(FeedCameras)
	require.True(t, ok)
	assert.Equal(t, model.CategoryCameraStatus, f.Category())

	_, ok = app.Feed("payments")
	assert.False(t, ok)

	assert.NotNil(t, app.Registry())
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil, &fakeREST{})
	assert.Error(t, err)

	_, err = New(config.Default(), nil)
	assert.Error(t, err)

	cfg := config.Default()
	cfg.Feeds.AlertsCapacity = 0
	_, err = New(cfg, &fakeREST{})
	require.Error(t, err)
	assert.ErrorIs(t, err, feed.ErrInvalidSchema)
}

func TestManagerConfig(t *testing.T) {
	cfg := testConfig("ws://backend:8000/ws")
	cfg.Connection.Channels = []string{"events", "occupancy"}

	mc := managerConfig(cfg)
	assert.Equal(t, "ws://backend:8000/ws", mc.URL)
	assert.Equal(t, []model.Category{model.CategoryEvents, model.CategoryOccupancy}, mc.Channels)
	assert.Equal(t, 10*time.Millisecond, mc.ReconnectBaseWait)
	assert.True(t, strings.HasPrefix(mc.Header.Get("User-Agent"), "parkwatch/"))

	assert.Equal(t, model.Categories(), channels(nil))
}

func TestNotifiers(t *testing.T) {
	cfg := config.Default()

	n, err := Notifiers(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, n)

	cfg.Notify.Log = true
	n, err = Notifiers(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &notify.Log{}, n)

	cfg.Notify.MQTT.Enabled = true
	cfg.Notify.MQTT.Broker = "tcp://127.0.0.1:1"
	cfg.Notify.MQTT.Timeout = 200 * time.Millisecond
	_, err = Notifiers(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, notify.ErrMQTTConnect)
}
