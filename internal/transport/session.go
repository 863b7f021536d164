// Package transport sends upload requests and decides whether the server
// accepted them. A Session owns one lazily created HTTP client that is
// reused until the session is invalidated.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	gosync "sync"
	"sync/atomic"
	"time"
)

// Timeout defaults.
const (
	DefaultRequestTimeout  = 30 * time.Second
	DefaultResourceTimeout = 300 * time.Second
)

// Options configures a Session.
type Options struct {
	// Background detaches requests from the caller's cancellation so an
	// upload can outlive its caller until the session is invalidated.
	Background bool

	// DryRun reports every request as accepted without network I/O.
	DryRun bool

	RequestTimeout  time.Duration
	ResourceTimeout time.Duration
	Limiter         *BandwidthLimiter
	UserAgent       string

	// Transport overrides the base round tripper; tests use it to trust
	// an httptest TLS server.
	Transport http.RoundTripper
}

type inflight struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Session sends requests over a reusable client.
type Session struct {
	opts   Options
	logger *slog.Logger

	mu       gosync.Mutex
	client   *http.Client
	inflight map[uint64]inflight
	nextID   uint64

	creations atomic.Int64
	requests  atomic.Int64
}

// NewSession creates a Session. No client exists until the first Send.
func NewSession(opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	if opts.ResourceTimeout <= 0 {
		opts.ResourceTimeout = DefaultResourceTimeout
	}

	return &Session{
		opts:     opts,
		logger:   logger,
		inflight: make(map[uint64]inflight),
	}
}

// ClientCreations reports how many clients the session has built.
func (s *Session) ClientCreations() int64 {
	return s.creations.Load()
}

// Requests reports how many requests Send has handled, dry runs included.
func (s *Session) Requests() int64 {
	return s.requests.Load()
}

// Send executes req and classifies the response. It returns nil when the
// server accepted the batch.
func (s *Session) Send(req *http.Request) error {
	s.requests.Add(1)

	if s.opts.DryRun {
		s.logger.Info("dry run: skipping upload",
			slog.String("method", req.Method),
			slog.String("url", req.URL.String()),
			slog.Int64("body_bytes", req.ContentLength),
		)

		if req.Body != nil {
			req.Body.Close()
		}

		return nil
	}

	ctx := req.Context()
	if s.opts.Background {
		ctx = context.WithoutCancel(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	client, id, done := s.begin(cancel)

	defer func() {
		cancel()
		s.end(id, done)
	}()

	req = req.WithContext(ctx)
	req.Body = s.opts.Limiter.WrapBody(ctx, req.Body)

	if s.opts.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}

	start := time.Now()

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	if err := classify(resp, s.logger); err != nil {
		s.logger.Warn("upload rejected",
			slog.String("url", req.URL.Redacted()),
			slog.Int("status", resp.StatusCode),
			slog.String("error", err.Error()),
		)

		return err
	}

	s.logger.Debug("upload accepted",
		slog.String("url", req.URL.Redacted()),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	return nil
}

// Invalidate tears down the current client. With wait it lets in-flight
// requests finish first; without it they are cancelled. Idempotent; the
// next Send builds a fresh client.
func (s *Session) Invalidate(wait bool) {
	s.mu.Lock()
	client := s.client
	s.client = nil

	pending := make([]inflight, 0, len(s.inflight))
	for _, f := range s.inflight {
		pending = append(pending, f)
	}
	s.mu.Unlock()

	for _, f := range pending {
		if wait {
			<-f.done
		} else {
			f.cancel()
		}
	}

	if client != nil {
		client.CloseIdleConnections()
	}

	s.logger.Debug("transport session invalidated",
		slog.Bool("wait", wait),
		slog.Int("in_flight", len(pending)),
	)
}

// begin registers an in-flight request and returns the client to use,
// creating it if needed.
func (s *Session) begin(cancel context.CancelFunc) (*http.Client, uint64, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		s.client = s.newClient()
		s.creations.Add(1)
	}

	s.nextID++
	done := make(chan struct{})
	s.inflight[s.nextID] = inflight{cancel: cancel, done: done}

	return s.client, s.nextID, done
}

func (s *Session) end(id uint64, done chan struct{}) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()

	close(done)
}

func (s *Session) newClient() *http.Client {
	base := s.opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	rt := base
	if t, ok := base.(*http.Transport); ok {
		t = t.Clone()
		if s.opts.Background {
			t.ResponseHeaderTimeout = s.opts.RequestTimeout
		}

		rt = t
	}

	timeout := s.opts.RequestTimeout
	if s.opts.Background {
		timeout = s.opts.ResourceTimeout
	}

	s.logger.Debug("creating http client",
		slog.Bool("background", s.opts.Background),
		slog.Duration("timeout", timeout),
	)

	return &http.Client{Transport: rt, Timeout: timeout}
}
