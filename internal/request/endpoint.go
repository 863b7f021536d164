package request

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidEndpoint is returned when the host or collection is empty.
var ErrInvalidEndpoint = errors.New("request: invalid endpoint")

// CleanHost strips surrounding whitespace, a leading http:// or https://
// scheme, and trailing slashes.
func CleanHost(host string) string {
	h := strings.TrimSpace(host)

	for _, scheme := range []string{"https://", "http://"} {
		if len(h) >= len(scheme) && strings.EqualFold(h[:len(scheme)], scheme) {
			h = h[len(scheme):]
			break
		}
	}

	return strings.TrimRight(h, "/")
}

// NormalizeCollection trims whitespace and applies Unicode NFC so that
// visually identical names map to one cursor key and one URL.
func NormalizeCollection(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Endpoint returns the insert URL of a collection on host.
func Endpoint(host, collection string) (string, error) {
	h := CleanHost(host)
	c := NormalizeCollection(collection)

	if h == "" {
		return "", fmt.Errorf("%w: empty host", ErrInvalidEndpoint)
	}

	if c == "" {
		return "", fmt.Errorf("%w: empty collection", ErrInvalidEndpoint)
	}

	return "https://" + h + "/" + url.PathEscape(c) + "/insert", nil
}
