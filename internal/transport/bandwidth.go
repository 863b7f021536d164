package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// burstMultiplier sets the token bucket burst relative to the per-second rate.
const burstMultiplier = 2

// BandwidthLimiter caps upload throughput. One limiter may be shared by the
// sessions of every collection so the aggregate stays within the limit.
type BandwidthLimiter struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewBandwidthLimiter parses a limit such as "512KB/s", "2MiB" or "0".
// Returns nil for "0" or empty (unlimited).
func NewBandwidthLimiter(limit string, logger *slog.Logger) (*BandwidthLimiter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	bytesPerSec, err := ParseRate(limit)
	if err != nil {
		return nil, err
	}

	if bytesPerSec == 0 {
		return nil, nil //nolint:nilnil // nil limiter = unlimited
	}

	burst := int(bytesPerSec) * burstMultiplier

	logger.Info("bandwidth limiter created",
		slog.Uint64("bytes_per_sec", bytesPerSec),
		slog.Int("burst", burst),
	)

	return &BandwidthLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		logger:  logger,
	}, nil
}

// ParseRate converts "5MB/s", "100KiB", "0" to bytes per second.
func ParseRate(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	size := s
	if strings.HasSuffix(strings.ToLower(size), "/s") {
		size = size[:len(size)-len("/s")]
	}

	n, err := humanize.ParseBytes(size)
	if err != nil {
		return 0, fmt.Errorf("transport: invalid bandwidth rate %q: %w", s, err)
	}

	return n, nil
}

// WrapBody returns a rate-limited body. A nil limiter returns body unchanged.
func (bl *BandwidthLimiter) WrapBody(ctx context.Context, body io.ReadCloser) io.ReadCloser {
	if bl == nil || body == nil {
		return body
	}

	return &limitedBody{
		Reader: &rateLimitedReader{r: body, limiter: bl.limiter, ctx: ctx},
		Closer: body,
	}
}

type limitedBody struct {
	io.Reader
	io.Closer
}

// rateLimitedReader blocks after each read until the limiter admits the
// bytes consumed.
type rateLimitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if waitErr := waitN(r.ctx, r.limiter, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}

// waitN splits a request into burst-sized chunks; WaitN rejects more than
// one burst at a time.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) error {
	burst := limiter.Burst()

	for n > 0 {
		take := min(n, burst)

		if err := limiter.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}
