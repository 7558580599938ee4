package github

import (
	"context"
	"io"
	"sync"

	perr "agpm/internal/platform/errors"

	"golang.org/x/time/rate"
)

// transferMeter paces wire bytes through per direction limiters and enforces
// cumulative transfer caps for the life of the process
type transferMeter struct {
	down *rate.Limiter
	up   *rate.Limiter

	mu       sync.Mutex
	downUsed int64
	upUsed   int64
	maxDown  int64
	maxUp    int64
}

// newTransferMeter returns nil when no byte limit or cap is configured
func newTransferMeter(o Options) *transferMeter {
	if o.DownloadLimit <= 0 && o.UploadLimit <= 0 && o.MaxDownload <= 0 && o.MaxUpload <= 0 {
		return nil
	}
	m := &transferMeter{maxDown: o.MaxDownload, maxUp: o.MaxUpload}
	if o.DownloadLimit > 0 {
		m.down = rate.NewLimiter(rate.Limit(o.DownloadLimit), o.DownloadLimit)
	}
	if o.UploadLimit > 0 {
		m.up = rate.NewLimiter(rate.Limit(o.UploadLimit), o.UploadLimit)
	}
	return m
}

// noteDownload accounts n received bytes. The cap error surfaces after the
// bytes arrived; the caller discards the partial body
func (m *transferMeter) noteDownload(ctx context.Context, n int) error {
	if m == nil || n <= 0 {
		return nil
	}
	m.mu.Lock()
	m.downUsed += int64(n)
	used := m.downUsed
	m.mu.Unlock()
	if m.maxDown > 0 && used > m.maxDown {
		return perr.TooManyRequestsf("download cap reached: %d of %d bytes", used, m.maxDown)
	}
	return waitBytes(ctx, m.down, n)
}

// noteUpload refuses before any byte goes out once the cap would be crossed
func (m *transferMeter) noteUpload(ctx context.Context, n int) error {
	if m == nil || n <= 0 {
		return nil
	}
	m.mu.Lock()
	if m.maxUp > 0 && m.upUsed+int64(n) > m.maxUp {
		used := m.upUsed
		m.mu.Unlock()
		return perr.TooManyRequestsf("upload cap reached: %d bytes used of %d", used, m.maxUp)
	}
	m.upUsed += int64(n)
	m.mu.Unlock()
	return waitBytes(ctx, m.up, n)
}

// waitBytes paces n bytes through lim in burst sized slices; WaitN rejects
// requests above the burst outright
func waitBytes(ctx context.Context, lim *rate.Limiter, n int) error {
	if lim == nil {
		return nil
	}
	burst := lim.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := lim.WaitN(ctx, chunk); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeCanceled, "transfer pacing cancelled")
		}
		n -= chunk
	}
	return nil
}

// meteredBody accounts and paces a response body as it is read
type meteredBody struct {
	ctx context.Context
	r   io.Reader
	m   *transferMeter
}

func (b *meteredBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if n > 0 {
		if merr := b.m.noteDownload(b.ctx, n); merr != nil {
			return n, merr
		}
	}
	return n, err
}
