package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/aware-sync/internal/source"
)

const testCollection = "accelerometer"

// testLogger writes to stderr rather than t.Log: engine goroutines can log
// after the test has returned.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// memSource is an in-memory Source with records ordered by id.
type memSource struct {
	mu       gosync.Mutex
	records  []source.Record
	fetchErr error
	removes  int
}

func newMemSource(n int) *memSource {
	s := &memSource{}
	s.add(1, n)

	return s
}

// add appends records with ids from..to inclusive.
func (s *memSource) add(from, to int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := from; i <= to; i++ {
		s.records = append(s.records, source.Record{
			"id":        int64(i),
			"timestamp": int64(1700000000000 + i),
			"deviceId":  "dev-1",
			"x":         float64(i) / 10,
		})
	}
}

func (s *memSource) Fetch(_ context.Context, f source.Filter, limit int) ([]source.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	var out []source.Record

	for _, r := range s.records {
		id, ok := r.ID()
		if !ok || !f.Matches(id) {
			continue
		}

		out = append(out, r)
		if len(out) == limit {
			break
		}
	}

	return out, nil
}

func (s *memSource) Count(_ context.Context, f source.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0

	for _, r := range s.records {
		if id, ok := r.ID(); ok && f.Matches(id) {
			n++
		}
	}

	return n, nil
}

func (s *memSource) Remove(_ context.Context, f source.Filter, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removes++

	kept := s.records[:0]
	removed := 0

	for _, r := range s.records {
		id, _ := r.ID()
		if removed < limit && f.Matches(id) {
			removed++
			continue
		}

		kept = append(kept, r)
	}

	s.records = kept

	return nil
}

func (s *memSource) removeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removes
}

func (s *memSource) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

// uploadServer is a TLS insert endpoint that records every batch it
// receives.
type uploadServer struct {
	srv *httptest.Server

	mu        gosync.Mutex
	batches   [][]int64
	rawData   []string
	deviceIDs []string
	headers   []http.Header
	forms     []map[string][]string
}

// newUploadServer starts a server; respond writes the reply (nil replies
// 201 with "{}").
func newUploadServer(t *testing.T, respond http.HandlerFunc) *uploadServer {
	t.Helper()

	us := &uploadServer{}

	us.srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data := r.PostForm.Get("data")

		us.mu.Lock()
		us.batches = append(us.batches, decodeIDs(data))
		us.rawData = append(us.rawData, data)
		us.deviceIDs = append(us.deviceIDs, r.PostForm.Get("device_id"))
		us.headers = append(us.headers, r.Header.Clone())
		us.forms = append(us.forms, r.PostForm)
		us.mu.Unlock()

		if respond != nil {
			respond(w, r)
			return
		}

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("{}"))
	}))

	t.Cleanup(us.srv.Close)

	return us
}

// decodeIDs extracts record ids from a row or compact body.
func decodeIDs(data string) []int64 {
	var rows []map[string]any
	if err := json.Unmarshal([]byte(data), &rows); err == nil {
		ids := make([]int64, 0, len(rows))
		for _, r := range rows {
			if v, ok := r["id"].(float64); ok {
				ids = append(ids, int64(v))
			}
		}

		return ids
	}

	var cols map[string][]any
	if err := json.Unmarshal([]byte(data), &cols); err == nil {
		ids := make([]int64, 0, len(cols["id"]))
		for _, v := range cols["id"] {
			if f, ok := v.(float64); ok {
				ids = append(ids, int64(f))
			}
		}

		return ids
	}

	return nil
}

func (us *uploadServer) requestCount() int {
	us.mu.Lock()
	defer us.mu.Unlock()

	return len(us.batches)
}

func (us *uploadServer) batch(i int) []int64 {
	us.mu.Lock()
	defer us.mu.Unlock()

	return us.batches[i]
}

// gate blocks requests until opened or cancelled.
type gate struct {
	arrived chan struct{}
	release chan struct{}
	once    gosync.Once
}

func newGate(t *testing.T) *gate {
	g := &gate{arrived: make(chan struct{}, 1), release: make(chan struct{})}
	t.Cleanup(g.open)

	return g
}

func (g *gate) open() { g.once.Do(func() { close(g.release) }) }

func (g *gate) handler(w http.ResponseWriter, r *http.Request) {
	select {
	case g.arrived <- struct{}{}:
	default:
	}

	select {
	case <-g.release:
		w.WriteHeader(http.StatusCreated)
	case <-r.Context().Done():
	}
}

func (g *gate) waitArrived(t *testing.T) {
	t.Helper()

	select {
	case <-g.arrived:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for request")
	}
}

func testConfig(us *uploadServer) Config {
	return Config{
		Host:       us.srv.URL,
		Collection: testCollection,
		BatchSize:  100,
		DeviceID:   "dev-1",
		DebugLevel: DebugVerbose,
		Transport:  us.srv.Client().Transport,
	}
}

// newTestEngine builds an engine with short delays and registers Close.
func newTestEngine(t *testing.T, cfg Config, src Source, store CursorStore) *Engine {
	t.Helper()

	e, err := NewEngine(cfg, src, store, testLogger())
	require.NoError(t, err)

	e.batchDelay = time.Millisecond
	e.graceDelay = time.Hour
	e.retryBase = time.Millisecond
	e.retryCap = 5 * time.Millisecond

	t.Cleanup(func() { e.Close() })

	return e
}

type outcome struct {
	ok  bool
	err error
}

func completion() (CompletionFunc, <-chan outcome) {
	ch := make(chan outcome, 1)
	return func(ok bool, err error) { ch <- outcome{ok, err} }, ch
}

func waitOutcome(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()

	select {
	case o := <-ch:
		return o
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for completion")
		return outcome{}
	}
}

// progressLog collects progress callbacks.
type progressLog struct {
	mu     gosync.Mutex
	values []float64
	errs   []error
}

func (p *progressLog) record(v float64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.values = append(p.values, v)
	p.errs = append(p.errs, err)
}

func (p *progressLog) snapshot() ([]float64, []error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]float64(nil), p.values...), append([]error(nil), p.errs...)
}
