package github

import (
	"errors"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// StatusError wraps non-2xx HTTP responses from the remote
type StatusError struct {
	Status int
	Body   string
	Err    error
}

// Error interface
func (e *StatusError) Error() string { return e.Err.Error() }

// Unwrap interface
func (e *StatusError) Unwrap() error { return e.Err }

// HTTPStatus interface
func (e *StatusError) HTTPStatus() int { return e.Status }

// IsStatus reports whether err carries the given HTTP status
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

// IsNotFound reports a 404 response
func IsNotFound(err error) bool { return IsStatus(err, http.StatusNotFound) }

// isRetryableStatus matches 5xx and 429; other 4xx surface immediately
func isRetryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// backoff computes attempt's exponential delay with proportional jitter.
// base doubles per attempt, jitterPct widens or narrows the result, ceil wins
func backoff(base, ceil time.Duration, jitterPct float64, attempt int, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if ceil <= 0 {
		ceil = 5 * time.Second
	}
	d := base << uint(attempt)
	if d > ceil || d <= 0 {
		d = ceil
	}
	if jitterPct > 0 && rng != nil {
		spread := float64(d) * jitterPct
		d += time.Duration((rng.Float64()*2 - 1) * spread)
		if d <= 0 {
			d = base
		}
	}
	return d
}

// nextLink extracts the rel="next" target from a Link header, empty when done
func nextLink(h http.Header) string {
	for _, link := range h.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			seg := strings.Split(part, ";")
			if len(seg) < 2 {
				continue
			}
			urlPart := strings.Trim(strings.TrimSpace(seg[0]), "<>")
			for _, attr := range seg[1:] {
				if strings.TrimSpace(attr) == `rel="next"` {
					return urlPart
				}
			}
		}
	}
	return ""
}

// encodeRef percent encodes a ref name for use as a path segment.
// Every byte outside RFC 3986 unreserved is escaped, including '/'
func encodeRef(ref string) string {
	const hexdigit = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(ref))
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexdigit[c>>4])
			b.WriteByte(hexdigit[c&0xF])
		}
	}
	return b.String()
}

func drainAndClose(rc io.ReadCloser) error {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 512))
	return rc.Close()
}
