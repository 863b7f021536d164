package request

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tonimelisma/aware-sync/internal/source"
)

// DefaultUserAgent is sent when Options.UserAgent is empty.
const DefaultUserAgent = "aware-sync/0.1"

// BodyHook rewrites the form body before the request is built.
type BodyHook func(body string) string

// RequestHook adjusts the built request, for example to add headers.
type RequestHook func(req *http.Request) *http.Request

// Options configures a Builder.
type Options struct {
	Host        string
	DeviceID    string
	Compact     bool
	UserAgent   string
	BodyHook    BodyHook
	RequestHook RequestHook
}

// Builder builds upload requests for one host and device.
type Builder struct {
	opts   Options
	logger *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	return &Builder{opts: opts, logger: logger}
}

// FormBody encodes the device id and JSON payload as a
// application/x-www-form-urlencoded body.
func FormBody(deviceID string, data []byte) string {
	return "device_id=" + url.QueryEscape(deviceID) + "&data=" + url.QueryEscape(string(data))
}

// Build serializes batch and returns the POST request for collection.
// Hooks run once per call.
func (b *Builder) Build(ctx context.Context, collection string, batch []source.Record) (*http.Request, error) {
	endpoint, err := Endpoint(b.opts.Host, collection)
	if err != nil {
		return nil, err
	}

	data, err := BuildBody(batch, b.opts.Compact)
	if err != nil {
		return nil, err
	}

	body := FormBody(b.opts.DeviceID, data)
	if b.opts.BodyHook != nil {
		body = b.opts.BodyHook(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request: building POST %s: %w", endpoint, err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("User-Agent", b.opts.UserAgent)

	if b.opts.RequestHook != nil {
		req = b.opts.RequestHook(req)
		if req == nil {
			return nil, fmt.Errorf("request: request hook returned nil for %s", endpoint)
		}
	}

	b.logger.Debug("built upload request",
		slog.String("url", endpoint),
		slog.Int("records", len(batch)),
		slog.Int("body_bytes", len(body)),
		slog.Bool("compact", b.opts.Compact),
	)

	return req, nil
}
