package github

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	perr "agpm/internal/platform/errors"
	"agpm/internal/platform/logger"
	"agpm/internal/platform/ratelimit"
)

const (
	baseURLDefault   = "https://api.github.com"
	defaultTimeout   = 30 * time.Second
	defaultUA        = "agpm-poller"
	defaultMaxRetry  = 3
	defaultRetryBase = 250 * time.Millisecond
	defaultRetryCap  = 5 * time.Second
	defaultJitterPct = 0.2
	maxBodyBytes     = 4 << 20
)

// Options configures the Client
type Options struct {
	BaseURL   string
	UserAgent string
	Token     string
	Timeout   time.Duration

	// Retry config for transient and rate limited responses
	MaxRetries int
	RetryBase  time.Duration
	RetryCap   time.Duration
	JitterPct  float64

	// Transfer pacing in bytes per second; 0 leaves a direction unpaced
	DownloadLimit int
	UploadLimit   int

	// Cumulative transfer caps in bytes for the process lifetime; once a cap
	// is reached further transfers fail with a too-many-requests error
	MaxDownload int64
	MaxUpload   int64

	// Include, when non empty, restricts every operation to the listed
	// owner/name slugs. Exclude is always subtracted
	Include []string
	Exclude []string

	// PerPage is the default page size for list operations
	PerPage int
}

// Client is the typed remote client. Every outbound call first acquires from
// the rate governor; GETs run conditional through the cache
type Client struct {
	http  *http.Client
	opts  Options
	gov   *ratelimit.Governor
	cache *Cache
	xfer  *transferMeter
	log   logger.Logger
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand
}

// NewClient wires the transport to its governor and cache. Either may be nil
// in tests; nil disables that concern
func NewClient(o Options, gov *ratelimit.Governor, cache *Cache) *Client {
	if o.BaseURL == "" {
		o.BaseURL = baseURLDefault
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetry
	}
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	if o.RetryCap <= 0 {
		o.RetryCap = defaultRetryCap
	}
	if o.JitterPct <= 0 {
		o.JitterPct = defaultJitterPct
	}
	if o.PerPage <= 0 {
		o.PerPage = 100
	}
	return &Client{
		// the explicit transport honours http_proxy/https_proxy/no_proxy
		http: &http.Client{
			Timeout:   o.Timeout,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		},
		opts:  o,
		gov:   gov,
		cache: cache,
		xfer:  newTransferMeter(o),
		log:   *logger.Named("github"),
		now:   time.Now,
		sleep: sleepCtx,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Allowed applies the include and exclude lists to a repository
func (c *Client) Allowed(repo RepoRef) bool {
	slug := repo.Slug()
	for _, x := range c.opts.Exclude {
		if strings.EqualFold(strings.TrimSpace(x), slug) {
			return false
		}
	}
	if len(c.opts.Include) == 0 {
		return true
	}
	for _, in := range c.opts.Include {
		if strings.EqualFold(strings.TrimSpace(in), slug) {
			return true
		}
	}
	return false
}

// url joins a path onto the base unless it is already absolute (pagination)
func (c *Client) url(pathOrURL string) string {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return pathOrURL
	}
	return c.opts.BaseURL + pathOrURL
}

// get issues a conditional GET. On 200 the cache is refreshed; on 304 the
// cached body comes back. The next Link target is returned for pagination
func (c *Client) get(ctx context.Context, pathOrURL string) (body []byte, next string, err error) {
	url := c.url(pathOrURL)
	refetched := false
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return nil, "", perr.Wrapf(ctx.Err(), perr.ErrorCodeCanceled, "github get cancelled")
		default:
		}
		if err := c.acquire(ctx); err != nil {
			return nil, "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, "", perr.Wrapf(err, perr.ErrorCodeUnknown, "github new request failed")
		}
		c.setHeaders(req)
		var etag string
		if c.cache != nil {
			if etag = c.cache.ETag(url); etag != "" {
				req.Header.Set("If-None-Match", etag)
			}
		}

		start := c.now()
		resp, err := c.http.Do(req)
		lat := c.now().Sub(start)
		if err != nil {
			if attempts >= c.opts.MaxRetries {
				return nil, "", perr.Wrapf(err, perr.ErrorCodeUnavailable, "github get failed")
			}
			back := backoff(c.opts.RetryBase, c.opts.RetryCap, c.opts.JitterPct, attempts, c.rng)
			c.log.Warn().Dur("retry_in", back).Int("attempt", attempts).Str("url", url).Msg("github transport error retrying")
			if serr := c.sleep(ctx, back); serr != nil {
				return nil, "", serr
			}
			attempts++
			continue
		}
		c.noteResponse(resp)
		c.log.Debug().
			Str("method", http.MethodGet).
			Str("url", url).
			Int("status", resp.StatusCode).
			Int("attempt", attempts).
			Dur("latency", lat).
			Msg("github http response")

		switch resp.StatusCode {
		case http.StatusOK:
			b, rerr := c.readBody(ctx, resp)
			if rerr != nil {
				return nil, "", rerr
			}
			if c.cache != nil {
				c.cache.Put(url, resp.Header.Get("ETag"), b, pickHeaders(resp.Header))
			}
			return b, nextLink(resp.Header), nil

		case http.StatusNotModified:
			_ = drainAndClose(resp.Body)
			if c.cache != nil {
				if e, ok := c.cache.Get(url); ok {
					_ = c.cache.Note304(url)
					return e.Body, e.Headers["Link-Next"], nil
				}
				// 304 without a stored body: evict and fetch a fresh copy once
				c.cache.Drop(url)
			}
			if refetched {
				return nil, "", perr.Newf(perr.ErrorCodeUnavailable, "github 304 with no cached body")
			}
			refetched = true
			continue

		case http.StatusTooManyRequests, http.StatusForbidden:
			wait := retryAfterWait(resp.Header, c.now())
			_ = drainAndClose(resp.Body)
			if resp.StatusCode == http.StatusForbidden && wait <= 0 && resp.Header.Get("X-RateLimit-Remaining") != "0" {
				// a plain 403 is an authorization failure, not a limit
				return nil, "", &StatusError{Status: resp.StatusCode, Err: perr.Forbiddenf("github forbidden: %s", url)}
			}
			if attempts >= c.opts.MaxRetries {
				return nil, "", &StatusError{Status: resp.StatusCode, Err: perr.TooManyRequestsf("github rate limited")}
			}
			if wait <= 0 {
				wait = backoff(c.opts.RetryBase, c.opts.RetryCap, c.opts.JitterPct, attempts, c.rng)
			}
			c.log.Warn().Dur("sleep", wait).Str("url", url).Msg("github rate limited backing off")
			if serr := c.sleep(ctx, wait); serr != nil {
				return nil, "", serr
			}
			attempts++
			continue

		default:
			if isRetryableStatus(resp.StatusCode) && attempts < c.opts.MaxRetries {
				_ = drainAndClose(resp.Body)
				back := backoff(c.opts.RetryBase, c.opts.RetryCap, c.opts.JitterPct, attempts, c.rng)
				c.log.Warn().Int("status", resp.StatusCode).Dur("retry_in", back).Msg("github transient error retrying")
				if serr := c.sleep(ctx, back); serr != nil {
					return nil, "", serr
				}
				attempts++
				continue
			}
			return nil, "", statusError(resp)
		}
	}
}

// do issues a mutating request (PUT/POST/PATCH/DELETE); the cache is bypassed
func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	url := c.url(path)
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return 0, nil, perr.Wrapf(ctx.Err(), perr.ErrorCodeCanceled, "github %s cancelled", method)
		default:
		}
		if err := c.acquire(ctx); err != nil {
			return 0, nil, err
		}

		if err := c.xfer.noteUpload(ctx, len(payload)); err != nil {
			return 0, nil, err
		}

		var rdr *bytes.Reader
		if payload != nil {
			rdr = bytes.NewReader(payload)
		} else {
			rdr = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rdr)
		if err != nil {
			return 0, nil, perr.Wrapf(err, perr.ErrorCodeUnknown, "github new request failed")
		}
		c.setHeaders(req)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if attempts >= c.opts.MaxRetries {
				return 0, nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "github %s failed", method)
			}
			back := backoff(c.opts.RetryBase, c.opts.RetryCap, c.opts.JitterPct, attempts, c.rng)
			if serr := c.sleep(ctx, back); serr != nil {
				return 0, nil, serr
			}
			attempts++
			continue
		}
		c.noteResponse(resp)

		if isRetryableStatus(resp.StatusCode) && attempts < c.opts.MaxRetries {
			wait := retryAfterWait(resp.Header, c.now())
			_ = drainAndClose(resp.Body)
			if wait <= 0 {
				wait = backoff(c.opts.RetryBase, c.opts.RetryCap, c.opts.JitterPct, attempts, c.rng)
			}
			c.log.Warn().Int("status", resp.StatusCode).Dur("retry_in", wait).Str("url", url).Msg("github retrying")
			if serr := c.sleep(ctx, wait); serr != nil {
				return 0, nil, serr
			}
			attempts++
			continue
		}

		b, rerr := c.readBody(ctx, resp)
		if rerr != nil {
			return resp.StatusCode, nil, rerr
		}
		return resp.StatusCode, b, nil
	}
}

func (c *Client) acquire(ctx context.Context) error {
	if c.gov == nil {
		return nil
	}
	return c.gov.Acquire(ctx)
}

func (c *Client) noteResponse(resp *http.Response) {
	if c.gov != nil {
		c.gov.NoteResponse(resp.StatusCode, resp.Header)
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "token "+c.opts.Token)
	}
}

// FlushCache persists the conditional request cache now
func (c *Client) FlushCache() error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Flush()
}

// Governor exposes the budget snapshot source for operators
func (c *Client) Governor() *ratelimit.Governor { return c.gov }

// RefreshBudget probes the rate endpoint once and feeds the result to the
// governor. The probe bypasses the governor and the cache: it has to go out
// while the budget is exhausted, and the endpoint does not count against it
func (c *Client) RefreshBudget(ctx context.Context) error {
	if c.gov == nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/rate_limit"), nil)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnknown, "github new request failed")
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		c.gov.NoteProbeFailure()
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "github budget probe failed")
	}
	defer func() { _ = drainAndClose(resp.Body) }()
	if resp.StatusCode != http.StatusOK {
		c.gov.NoteProbeFailure()
		return perr.Newf(perr.ErrorCodeUnavailable, "github budget probe status %d", resp.StatusCode)
	}
	c.gov.NoteResponse(resp.StatusCode, resp.Header)
	return nil
}

// StartBudgetProber refreshes the budget every interval until ctx ends
func (c *Client) StartBudgetProber(ctx context.Context, every time.Duration) {
	if every <= 0 || c.gov == nil {
		return
	}
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := c.RefreshBudget(ctx); err != nil {
					c.log.Warn().Err(err).Msg("budget probe failed")
				}
			}
		}
	}()
}

// readBody drains the response through the transfer meter when one is
// configured. Meter errors come back coded and are returned untouched
func (c *Client) readBody(ctx context.Context, resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	var r io.Reader = http.MaxBytesReader(nil, resp.Body, maxBodyBytes)
	if c.xfer != nil {
		r = &meteredBody{ctx: ctx, r: r, m: c.xfer}
	}
	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(r); err != nil {
		if perr.CodeOf(err) != perr.ErrorCodeUnknown {
			return nil, err
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "github body read failed")
	}
	return buf.Bytes(), nil
}

// pickHeaders keeps the handful of response headers worth persisting,
// including the pagination target so cached pages still chain
func pickHeaders(h http.Header) map[string]string {
	out := map[string]string{}
	for _, k := range []string{"Content-Type", "ETag", "Last-Modified"} {
		if v := h.Get(k); v != "" {
			out[k] = v
		}
	}
	if n := nextLink(h); n != "" {
		out["Link-Next"] = n
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func statusError(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := string(b)
	code := perr.ErrorCodeUnknown
	switch resp.StatusCode {
	case http.StatusNotFound:
		code = perr.ErrorCodeNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		code = perr.ErrorCodeForbidden
	}
	return &StatusError{
		Status: resp.StatusCode,
		Body:   msg,
		Err:    perr.Newf(code, "github unexpected status %d", resp.StatusCode),
	}
}

// retryAfterWait derives a cool down from rate headers; zero means none
func retryAfterWait(h http.Header, now time.Time) time.Duration {
	if ra := headerSeconds(h.Get("Retry-After")); ra > 0 {
		return ra
	}
	if h.Get("X-RateLimit-Remaining") == "0" {
		if reset := headerUnix(h.Get("X-RateLimit-Reset")); !reset.IsZero() && reset.After(now) {
			return reset.Sub(now)
		}
	}
	return 0
}

func headerSeconds(s string) time.Duration {
	if s == "" {
		return 0
	}
	var n int
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0
		}
		n = n*10 + int(s[i]-'0')
	}
	return time.Duration(n) * time.Second
}

func headerUnix(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	var sec int64
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return time.Time{}
		}
		sec = sec*10 + int64(s[i]-'0')
	}
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return perr.Wrapf(ctx.Err(), perr.ErrorCodeCanceled, "github sleep cancelled")
	case <-t.C:
		return nil
	}
}
