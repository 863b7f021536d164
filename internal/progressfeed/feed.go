// Package progressfeed streams sync progress to WebSocket clients. A Feed
// implements sync.Broadcaster, so the Manager can publish engine events
// without knowing who listens.
package progressfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/tonimelisma/aware-sync/internal/sync"
)

// EventType names the kind of engine event.
type EventType string

// Event types.
const (
	EventProgress EventType = "progress"
	EventState    EventType = "state"
	EventComplete EventType = "complete"
)

const (
	defaultBuffer   = 256
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Event is one JSON message on the /ws stream.
type Event struct {
	Type       EventType `json:"type"`
	Collection string    `json:"collection"`
	Progress   float64   `json:"progress"`
	State      string    `json:"state,omitempty"`
	Success    *bool     `json:"success,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

var _ sync.Broadcaster = (*Feed)(nil)

// Feed fans events out to every connected client. Publishing never blocks:
// when the buffer is full the event is dropped.
type Feed struct {
	logger  *slog.Logger
	nowFunc func() time.Time

	events  chan Event
	dropped atomic.Int64

	mu      gosync.RWMutex
	clients map[*websocket.Conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup

	srv *http.Server
	ln  net.Listener
}

// New creates a Feed and starts its broadcast loop. Close releases it.
func New(logger *slog.Logger) *Feed {
	f := newFeed(logger, defaultBuffer)

	f.wg.Add(1)
	go f.broadcastLoop()

	return f
}

func newFeed(logger *slog.Logger, buffer int) *Feed {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Feed{
		logger:  logger,
		nowFunc: time.Now,
		events:  make(chan Event, buffer),
		clients: make(map[*websocket.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Handler serves /ws and /health.
func (f *Feed) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.handleWebSocket)
	mux.HandleFunc("/health", f.handleHealth)

	return mux
}

// Start listens on addr and serves the feed in the background.
func (f *Feed) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("progressfeed: listening on %s: %w", addr, err)
	}

	f.ln = ln
	f.srv = &http.Server{
		Handler:           f.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	f.wg.Add(1)

	go func() {
		defer f.wg.Done()

		f.logger.Info("progress feed listening", slog.String("addr", ln.Addr().String()))

		if err := f.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error("progress feed server failed", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the listening address, or "" before Start.
func (f *Feed) Addr() string {
	if f.ln == nil {
		return ""
	}

	return f.ln.Addr().String()
}

// ClientCount returns the number of connected clients.
func (f *Feed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return len(f.clients)
}

// Dropped returns how many events were discarded on a full buffer.
func (f *Feed) Dropped() int64 {
	return f.dropped.Load()
}

// Close disconnects all clients and stops the server.
func (f *Feed) Close() error {
	f.cancel()

	f.mu.Lock()
	for conn := range f.clients {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		delete(f.clients, conn)
	}
	f.mu.Unlock()

	var err error

	if f.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if serr := f.srv.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("progressfeed: shutting down: %w", serr)
		}
	}

	f.wg.Wait()

	return err
}

// Progress publishes a progress event.
func (f *Feed) Progress(collection string, progress float64, err error) {
	f.publish(Event{Type: EventProgress, Collection: collection, Progress: progress, Error: errString(err)})
}

// State publishes a state transition.
func (f *Feed) State(collection string, s sync.State) {
	f.publish(Event{Type: EventState, Collection: collection, State: s.String()})
}

// Complete publishes the outcome of a session.
func (f *Feed) Complete(collection string, success bool, err error) {
	var p float64
	if success {
		p = 1
	}

	f.publish(Event{Type: EventComplete, Collection: collection, Progress: p, Success: &success, Error: errString(err)})
}

func (f *Feed) publish(ev Event) {
	ev.Timestamp = f.nowFunc()

	select {
	case f.events <- ev:
	case <-f.ctx.Done():
	default:
		n := f.dropped.Add(1)
		f.logger.Warn("progress feed buffer full, dropping event",
			slog.String("type", string(ev.Type)),
			slog.String("collection", ev.Collection),
			slog.Int64("dropped_total", n),
		)
	}
}

func (f *Feed) broadcastLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.ctx.Done():
			return
		case ev := <-f.events:
			f.send(ev)
		}
	}
}

func (f *Feed) send(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		f.logger.Warn("encoding feed event", slog.String("error", err.Error()))
		return
	}

	f.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(f.clients))
	for c := range f.clients {
		conns = append(conns, c)
	}
	f.mu.RUnlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(f.ctx, writeTimeout)
		err := c.Write(ctx, websocket.MessageText, data)
		cancel()

		if err != nil {
			f.logger.Debug("feed client write failed", slog.String("error", err.Error()))
			f.remove(c)
		}
	}
}

func (f *Feed) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		f.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	f.mu.Lock()
	f.clients[conn] = struct{}{}
	n := len(f.clients)
	f.mu.Unlock()

	f.logger.Debug("feed client connected", slog.Int("clients", n))

	// Clients never send; CloseRead handles control frames and reports
	// disconnects through ctx.
	ctx := conn.CloseRead(f.ctx)
	<-ctx.Done()

	f.remove(conn)
}

func (f *Feed) remove(conn *websocket.Conn) {
	f.mu.Lock()
	_, ok := f.clients[conn]
	delete(f.clients, conn)
	n := len(f.clients)
	f.mu.Unlock()

	if !ok {
		return
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
	f.logger.Debug("feed client disconnected", slog.Int("clients", n))
}

func (f *Feed) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": f.ClientCount(),
		"dropped": f.Dropped(),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
