// Package ratelimit gates every outbound remote call behind two stacked
// limiters: a local per minute token bucket and the hourly budget the server
// reports through X-RateLimit headers
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	perr "agpm/internal/platform/errors"
	"agpm/internal/platform/logger"

	"golang.org/x/time/rate"
)

// Budget sources reported by Snapshot
const (
	SourceServer    = "server"
	SourceLocal     = "local"
	SourceEstimated = "estimated"
)

// Budget is a point in time view of the governor's limits
type Budget struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	Reserve   float64   `json:"reserve"`
	ResetAt   time.Time `json:"reset_at"`
	Source    string    `json:"source"`
}

// Options configures a Governor
type Options struct {
	// RequestsPerMinute caps the local bucket; 0 disables local throttling
	RequestsPerMinute int

	// MaxHourly bounds the hourly estimate when the server reports nothing
	MaxHourly int

	// Margin is the reserve fraction M in [0,1]; acquisition stalls once
	// remaining <= limit*(1-M). Default 0.7
	Margin float64

	// QueueMargin widens the inter request interval by this factor while the
	// outstanding count exceeds QueueSlack, so bursts do not starve callers
	QueueMargin float64
	QueueSlack  int

	// ProbeRetries is how many consecutive budget probe failures are tolerated
	// before the governor degrades to local only throttling. Default 3
	ProbeRetries int

	// Outstanding reports the work pool's queued plus running count; optional
	Outstanding func() int
}

// Governor serializes acquisition across callers and tracks both limiters
type Governor struct {
	opts    Options
	limiter *rate.Limiter
	log     logger.Logger
	now     func() time.Time

	mu          sync.Mutex
	acquire     sync.Mutex // serializes Acquire so waiters drain in arrival order
	limit       int
	remaining   int
	resetAt     time.Time
	haveServer  bool
	probeFails  int
	degraded    bool
	retryUntil  time.Time
	usedLocally int
}

// New constructs a Governor with defaulted options
func New(opts Options) *Governor {
	if opts.Margin <= 0 || opts.Margin > 1 {
		opts.Margin = 0.7
	}
	if opts.ProbeRetries <= 0 {
		opts.ProbeRetries = 3
	}
	var lim *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		lim = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), 1)
	}
	return &Governor{
		opts:    opts,
		limiter: lim,
		log:     *logger.Named("ratelimit"),
		now:     time.Now,
	}
}

// Acquire blocks until one request may proceed or ctx is cancelled.
// Callers queue on an internal mutex so acquisition stays first come first served
func (g *Governor) Acquire(ctx context.Context) error {
	g.acquire.Lock()
	defer g.acquire.Unlock()

	// server mandated cool down wins over everything
	if err := g.waitRetryAfter(ctx); err != nil {
		return err
	}
	if err := g.waitHourlyBudget(ctx); err != nil {
		return err
	}
	if err := g.waitLocalBucket(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	g.usedLocally++
	if g.haveServer && g.remaining > 0 {
		g.remaining--
	}
	g.mu.Unlock()
	return nil
}

func (g *Governor) waitRetryAfter(ctx context.Context) error {
	g.mu.Lock()
	until := g.retryUntil
	g.mu.Unlock()
	if d := until.Sub(g.now()); d > 0 {
		g.log.Warn().Dur("sleep", d).Msg("honoring retry-after window")
		return sleepCtx(ctx, d)
	}
	return nil
}

func (g *Governor) waitHourlyBudget(ctx context.Context) error {
	g.mu.Lock()
	limit, remaining, resetAt, have := g.limit, g.remaining, g.resetAt, g.haveServer
	g.mu.Unlock()

	if !have || limit <= 0 {
		return nil
	}
	floor := int(float64(limit) * (1 - g.opts.Margin))
	if remaining > floor {
		return nil
	}
	d := resetAt.Sub(g.now())
	if d <= 0 {
		// window already rolled over; assume a fresh budget
		g.mu.Lock()
		g.remaining = g.limit
		g.mu.Unlock()
		return nil
	}
	g.log.Warn().
		Int("remaining", remaining).
		Int("floor", floor).
		Time("reset_at", resetAt).
		Msg("hourly budget exhausted to reserve, sleeping until reset")
	if err := sleepCtx(ctx, d); err != nil {
		return err
	}
	g.mu.Lock()
	g.remaining = g.limit
	g.mu.Unlock()
	return nil
}

func (g *Governor) waitLocalBucket(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeCanceled, "rate acquire cancelled")
	}
	// widen the interval while the pool backlog is above the slack threshold
	if g.opts.QueueMargin > 0 && g.opts.Outstanding != nil && g.opts.Outstanding() > g.opts.QueueSlack {
		interval := time.Duration(float64(time.Minute) / float64(g.opts.RequestsPerMinute))
		extra := time.Duration(float64(interval) * g.opts.QueueMargin)
		if extra > 0 {
			return sleepCtx(ctx, extra)
		}
	}
	return nil
}

// NoteResponse feeds server reported limits back into the governor.
// Retry-After on a 429 or 403 forces a cool down window regardless of budget
func (g *Governor) NoteResponse(status int, h http.Header) {
	limit := headerInt(h, "X-RateLimit-Limit")
	remaining, haveRemaining := headerIntOK(h, "X-RateLimit-Remaining")
	reset := headerUnix(h, "X-RateLimit-Reset")

	g.mu.Lock()
	defer g.mu.Unlock()

	if limit > 0 {
		g.limit = limit
		g.haveServer = true
		g.degraded = false
		g.probeFails = 0
	}
	if haveRemaining {
		g.remaining = remaining
		g.haveServer = true
	}
	if !reset.IsZero() {
		g.resetAt = reset
	}
	if status == http.StatusTooManyRequests || status == http.StatusForbidden {
		if ra := headerInt(h, "Retry-After"); ra > 0 {
			g.retryUntil = g.now().Add(time.Duration(ra) * time.Second)
		} else if haveRemaining && remaining == 0 && !reset.IsZero() {
			g.retryUntil = reset
		}
	}
}

// NoteProbeFailure records a failed budget probe. After the configured number
// of consecutive failures the governor falls back to local only throttling
func (g *Governor) NoteProbeFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.probeFails++
	if g.probeFails >= g.opts.ProbeRetries && !g.degraded {
		g.degraded = true
		g.haveServer = false
		g.log.Warn().Int("failures", g.probeFails).Msg("budget probes failing, degrading to local throttling")
	}
}

// Snapshot returns the current budget for operators and the display
func (g *Governor) Snapshot() Budget {
	g.mu.Lock()
	defer g.mu.Unlock()

	b := Budget{Reserve: g.opts.Margin, Source: SourceLocal}
	switch {
	case g.haveServer && !g.degraded:
		b.Source = SourceServer
		b.Limit = g.limit
		b.Remaining = g.remaining
		b.Used = g.limit - g.remaining
		b.ResetAt = g.resetAt
	case g.opts.MaxHourly > 0:
		b.Source = SourceEstimated
		b.Limit = g.opts.MaxHourly
		b.Used = g.usedLocally
		b.Remaining = max(g.opts.MaxHourly-g.usedLocally, 0)
	default:
		b.Limit = g.opts.RequestsPerMinute
		b.Used = g.usedLocally
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return perr.Wrapf(ctx.Err(), perr.ErrorCodeCanceled, "rate sleep cancelled")
	case <-t.C:
		return nil
	}
}

func headerInt(h http.Header, key string) int {
	n, _ := headerIntOK(h, key)
	return n
}

func headerIntOK(h http.Header, key string) (int, bool) {
	s := h.Get(key)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func headerUnix(h http.Header, key string) time.Time {
	s := h.Get(key)
	if s == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
