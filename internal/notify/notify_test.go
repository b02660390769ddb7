package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/parkwatch/internal/feed"
	"github.com/rickgao/parkwatch/internal/model"
	"github.com/rickgao/parkwatch/internal/router"
)

type plate struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

var changedAt = time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)

func sampleRecords() []Record {
	return []Record{
		{Feed: "events", Version: 3, Kind: "inserted", ID: "a", Entity: json.RawMessage(`{"id":"a"}`), At: changedAt},
		{Feed: "events", Version: 3, Kind: "evicted", ID: "b", Entity: json.RawMessage(`{"id":"b"}`), At: changedAt},
		{Feed: "events", Version: 4, Kind: "reset", At: changedAt},
	}
}

// -----------------------------------------------------------------------------
// Records, Attach, Multi
// -----------------------------------------------------------------------------

func TestRecords(t *testing.T) {
	c := feed.Change[plate]{
		Feed:    "events",
		Version: 7,
		At:      changedAt,
		Ops: []feed.Op[plate]{
			{Kind: feed.OpReset},
			{Kind: feed.OpInserted, ID: "a", Entity: plate{ID: "a", At: changedAt}},
		},
	}

	records := Records(c)
	require.Len(t, records, 2)

	assert.Equal(t, "reset", records[0].Kind)
	assert.Nil(t, records[0].Entity)

	assert.Equal(t, Record{
		Feed:    "events",
		Version: 7,
		Kind:    "inserted",
		ID:      "a",
		Entity:  json.RawMessage(`{"id":"a","at":"2024-05-01T08:30:00Z"}`),
		At:      changedAt,
	}, records[1])
}

type recorder struct {
	mu      sync.Mutex
	got     [][]Record
	closeFn func() error
	panics  bool
}

func (r *recorder) Notify(records []Record) {
	if r.panics {
		panic("boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, records)
}

func (r *recorder) Close(context.Context) error {
	if r.closeFn != nil {
		return r.closeFn()
	}
	return nil
}

func (r *recorder) batches() [][]Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]Record(nil), r.got...)
}

func TestAttach(t *testing.T) {
	registry := router.NewRegistry(router.DefaultRegistryConfig(), nil)
	f, err := feed.New(feed.Schema[plate]{
		Name:     "plates",
		Category: model.CategoryEvents,
		Capacity: 5,
		Identity: func(p plate) string { return p.ID },
		OrderKey: func(p plate) time.Time { return p.At },
	}, registry, nil)
	require.NoError(t, err)

	rec := &recorder{}
	detach := Attach(f, rec)

	require.NoError(t, f.Initialize(context.Background(), func(context.Context) ([]plate, error) {
		return []plate{{ID: "a", At: changedAt}}, nil
	}))
	registry.Dispatch(model.Envelope{
		Category:        model.CategoryEvents,
		Payload:         json.RawMessage(`{"id":"b","at":"2024-05-01T09:00:00Z"}`),
		ServerTimestamp: changedAt,
	})

	batches := rec.batches()
	require.Len(t, batches, 2)
	assert.Equal(t, "reset", batches[0][0].Kind)
	assert.Equal(t, "inserted", batches[1][0].Kind)
	assert.Equal(t, "b", batches[1][0].ID)

	detach()
	registry.Dispatch(model.Envelope{
		Category: model.CategoryEvents,
		Payload:  json.RawMessage(`{"id":"c","at":"2024-05-01T10:00:00Z"}`),
	})
	assert.Len(t, rec.batches(), 2)
}

func TestMulti(t *testing.T) {
	first := &recorder{}
	broken := &recorder{panics: true, closeFn: func() error { return errors.New("close failed") }}
	last := &recorder{}

	m := NewMulti(nil, first, broken, last)
	assert.Equal(t, 3, m.Len())

	m.Notify(sampleRecords())

	assert.Len(t, first.batches(), 1)
	assert.Len(t, last.batches(), 1, "a panicking notifier must not starve the next one")

	err := m.Close(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
}

func TestLog(t *testing.T) {
	l := NewLog(nil)
	l.Notify(sampleRecords())
	assert.NoError(t, l.Close(context.Background()))
}

// -----------------------------------------------------------------------------
// MQTT
// -----------------------------------------------------------------------------

type fakeToken struct {
	err     error
	done    chan struct{}
	pending bool // never completes
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	fail map[string]bool // topics whose publish fails
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	if p.fail[topic] {
		return newFakeToken(errors.New("not connected"))
	}
	return newFakeToken(nil)
}

func TestMQTT_Notify(t *testing.T) {
	pub := &fakePublisher{fail: map[string]bool{"lobby/events/evicted": true}}
	m := NewMQTT(pub, "lobby/", 1, time.Second, nil)

	m.Notify(sampleRecords())

	pub.mu.Lock()
	msgs := append([]published(nil), pub.msgs...)
	pub.mu.Unlock()

	require.Len(t, msgs, 3)
	assert.Equal(t, "lobby/events/inserted", msgs[0].topic)
	assert.Equal(t, "lobby/events/evicted", msgs[1].topic)
	assert.Equal(t, "lobby/events/reset", msgs[2].topic)
	assert.Equal(t, byte(1), msgs[0].qos)
	assert.False(t, msgs[0].retained)

	var got Record
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, uint64(3), got.Version)
	assert.JSONEq(t, `{"id":"a"}`, string(got.Entity))

	require.Eventually(t, func() bool {
		s := m.Stats()
		return s.Published == 2 && s.Failed == 1
	}, time.Second, 5*time.Millisecond)

	assert.NoError(t, m.Close(context.Background()))
}

type fakeConnector struct {
	token        *fakeToken
	disconnected bool
}

func (c *fakeConnector) Connect() pahomqtt.Token { return c.token }
func (c *fakeConnector) Disconnect(uint)         { c.disconnected = true }

func TestConnectMQTT(t *testing.T) {
	tests := []struct {
		name           string
		token          *fakeToken
		wantErr        string
		wantDisconnect bool
	}{
		{name: "connected", token: newFakeToken(nil)},
		{name: "timeout", token: &fakeToken{pending: true, done: make(chan struct{})}, wantErr: "timeout after 50ms", wantDisconnect: true},
		{name: "refused", token: newFakeToken(errors.New("not authorized")), wantErr: "not authorized", wantDisconnect: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeConnector{token: tt.token}
			err := connectMQTT(c, 50*time.Millisecond)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrMQTTConnect)
				assert.ErrorContains(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.wantDisconnect, c.disconnected)
		})
	}
}

// -----------------------------------------------------------------------------
// Journal
// -----------------------------------------------------------------------------

type fakeResults struct {
	tags []pgconn.CommandTag
	err  error
	i    int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := r.tags[r.i]
	r.i++
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

type fakeDB struct {
	mu        sync.Mutex
	queries   []*pgx.QueuedQuery
	batches   int
	conflicts map[string]bool // entity ids reported as already present
	rows      map[string]bool // unique keys already stored
	err       error
}

// uniqueKey mirrors the feed_changes unique index: every argument before the
// entity payload.
func uniqueKey(args []any) string {
	return fmt.Sprint(args[:6]...)
}

func (d *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.batches++
	res := &fakeResults{err: d.err}
	for _, q := range b.QueuedQueries {
		d.queries = append(d.queries, q)
		key := uniqueKey(q.Arguments)
		if d.conflicts[q.Arguments[5].(string)] || d.rows[key] {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 0"))
			continue
		}
		if d.rows == nil {
			d.rows = make(map[string]bool)
		}
		d.rows[key] = true
		res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 1"))
	}
	return res
}

func (d *fakeDB) snapshot() (int, []*pgx.QueuedQuery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.batches, append([]*pgx.QueuedQuery(nil), d.queries...)
}

func TestJournal_CloseFlushes(t *testing.T) {
	db := &fakeDB{conflicts: map[string]bool{"b": true}}
	j := NewJournal(JournalConfig{Instance: "gate-1", BatchSize: 100, FlushInterval: time.Hour}, db, nil)

	j.Notify(sampleRecords())
	require.NoError(t, j.Close(context.Background()))

	batches, queries := db.snapshot()
	assert.Equal(t, 1, batches)
	require.Len(t, queries, 3)

	args := queries[0].Arguments
	assert.Equal(t, "gate-1", args[0])
	assert.Equal(t, j.RunID().String(), args[1])
	assert.Equal(t, "events", args[2])
	assert.Equal(t, int64(3), args[3])
	assert.Equal(t, "inserted", args[4])
	assert.Equal(t, "a", args[5])
	assert.Equal(t, changedAt, args[7])

	assert.Equal(t, JournalMetrics{Inserts: 2, Conflicts: 1, Flushes: 1}, j.Stats())
}

func TestJournal_RestartKeepsRows(t *testing.T) {
	db := &fakeDB{}
	cfg := JournalConfig{Instance: "gate-1", BatchSize: 100, FlushInterval: time.Hour}

	// A restarted process replays the same feed versions, reset rows included.
	first := NewJournal(cfg, db, nil)
	first.Notify(sampleRecords())
	require.NoError(t, first.Close(context.Background()))

	second := NewJournal(cfg, db, nil)
	assert.NotEqual(t, first.RunID(), second.RunID())
	second.Notify(sampleRecords())
	require.NoError(t, second.Close(context.Background()))

	assert.Equal(t, JournalMetrics{Inserts: 3, Flushes: 1}, second.Stats())
	_, queries := db.snapshot()
	assert.Len(t, queries, 6)

	// Within one run the key still makes a replayed batch a no-op.
	first.add(sampleRecords()[2])
	first.flush(context.Background())
	assert.Equal(t, int64(1), first.Stats().Conflicts)
}

func TestJournal_BatchSizeTriggersFlush(t *testing.T) {
	db := &fakeDB{}
	j := NewJournal(JournalConfig{BatchSize: 2, FlushInterval: time.Hour}, db, nil)
	require.NoError(t, j.Start(context.Background()))

	j.Notify(sampleRecords())
	require.Eventually(t, func() bool {
		batches, _ := db.snapshot()
		return batches == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, j.Close(context.Background()))

	batches, queries := db.snapshot()
	assert.Equal(t, 2, batches)
	assert.Len(t, queries, 3)
	assert.Equal(t, int64(3), j.Stats().Inserts)
}

func TestJournal_FlushInterval(t *testing.T) {
	db := &fakeDB{}
	j := NewJournal(JournalConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, db, nil)
	require.NoError(t, j.Start(context.Background()))
	defer j.Close(context.Background())

	j.Notify(sampleRecords()[:1])
	require.Eventually(t, func() bool {
		return j.Stats().Flushes == 1
	}, time.Second, 5*time.Millisecond)
}

func TestJournal_InsertError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	j := NewJournal(JournalConfig{BatchSize: 10}, db, nil)

	j.Notify(sampleRecords())
	require.NoError(t, j.Close(context.Background()))

	stats := j.Stats()
	assert.Equal(t, int64(1), stats.Errors)
	assert.Zero(t, stats.Inserts)
}

func TestJournal_Drops(t *testing.T) {
	db := &fakeDB{}
	j := NewJournal(JournalConfig{BatchSize: 10, BufferSize: 2}, db, nil)

	j.Notify(sampleRecords())
	assert.Equal(t, int64(1), j.Stats().Dropped, "buffer full")

	require.NoError(t, j.Close(context.Background()))
	j.Notify(sampleRecords()[:1])
	assert.Equal(t, int64(2), j.Stats().Dropped, "closed journal")

	_, queries := db.snapshot()
	assert.Len(t, queries, 2)
}

func TestJournal_NilDB(t *testing.T) {
	j := NewJournal(DefaultJournalConfig(), nil, nil)
	require.NoError(t, j.Start(context.Background()))
	j.Notify(sampleRecords())
	require.NoError(t, j.Close(context.Background()))
	assert.Zero(t, j.Stats().Flushes)
}
