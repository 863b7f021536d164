package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// maxResponseBody bounds how much of a 2xx body is inspected.
const maxResponseBody = 1 << 20

// rejectedStatus is the application-level status a server embeds in a 2xx
// body to refuse a batch.
const rejectedStatus = 404

// classify maps a response to nil (batch accepted) or an error. A body that
// is not a JSON object is accepted; some servers reply with plain text.
func classify(resp *http.Response, logger *slog.Logger) error {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &ResponseError{StatusCode: resp.StatusCode, Err: ErrServerRejected}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrTransport, err)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		logger.Debug("response body is not a JSON object, treating as accepted",
			slog.Int("status", resp.StatusCode),
			slog.Int("body_bytes", len(body)),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if isRejected(obj["status"]) {
		return &ResponseError{StatusCode: resp.StatusCode, Body: string(body), Err: ErrServerRejected}
	}

	return nil
}

func isRejected(status any) bool {
	switch v := status.(type) {
	case float64:
		return v == rejectedStatus
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return err == nil && n == rejectedStatus
	default:
		return false
	}
}
