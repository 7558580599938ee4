// Package workpool runs named tasks on a fixed set of workers and keeps an
// operator visible snapshot of everything pending, running, and done
package workpool

import (
	"context"
	"runtime"
	"sync"
	"time"

	perr "agpm/internal/platform/errors"
	"agpm/internal/platform/logger"
)

// State tracks a scheduled request through its one way transitions
type State int

// Request states. The only backward-looking transition is Pending to
// Cancelled during shutdown
const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

// String returns the snapshot label for a state
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// Request is the public record of one scheduled task
type Request struct {
	ID         int64         `json:"id"`
	Label      string        `json:"label"`
	State      State         `json:"state"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Task is the unit of work; it must observe ctx for cooperative cancellation
type Task func(ctx context.Context) error

// Snapshot is an atomic copy of the pool's three lists
type Snapshot struct {
	Pending   []Request `json:"pending"`
	Running   []Request `json:"running"`
	Completed []Request `json:"completed"`
}

// Options configures a Pool
type Options struct {
	// Workers sets the worker count; 0 derives it from host parallelism
	Workers int

	// CompletedCap bounds the completed ring; default 64
	CompletedCap int

	// EMAFactor smooths the requests per minute estimate; default 0.2
	EMAFactor float64

	// Backlog alerting: OnBacklog fires when outstanding exceeds BacklogJobs
	// and the clearance estimate exceeds BacklogClearance, at most once per
	// BacklogCooldown (default 30s)
	BacklogJobs      int
	BacklogClearance time.Duration
	BacklogCooldown  time.Duration
	OnBacklog        func(outstanding int, clearance time.Duration)
}

type job struct {
	req  Request
	fn   Task
	done chan struct{}
	err  error
}

// Handle becomes ready when its task leaves the queue for good
type Handle struct{ j *job }

// Done returns a channel closed once the task finished, failed, or was cancelled
func (h *Handle) Done() <-chan struct{} { return h.j.done }

// Err returns the task outcome; only valid after Done is closed
func (h *Handle) Err() error { return h.j.err }

// Wait blocks until the task settles or ctx is cancelled
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.j.done:
		return h.j.err
	}
}

// Pool is the bounded worker set
type Pool struct {
	opts Options
	log  logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	cond      *sync.Cond
	nextID    int64
	pending   []*job
	running   map[int64]*job
	completed []Request

	ema        float64
	lastFinish time.Time
	lastAlert  time.Time
	stopped    bool
}

// New starts the workers immediately
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.CompletedCap <= 0 {
		opts.CompletedCap = 64
	}
	if opts.EMAFactor <= 0 || opts.EMAFactor > 1 {
		opts.EMAFactor = 0.2
	}
	if opts.BacklogCooldown <= 0 {
		opts.BacklogCooldown = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		opts:    opts,
		log:     *logger.Named("workpool"),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[int64]*job),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues a task under a label and returns its handle.
// After Stop the task is marked Cancelled without running
func (p *Pool) Submit(label string, fn Task) *Handle {
	j := &job{fn: fn, done: make(chan struct{})}

	p.mu.Lock()
	p.nextID++
	j.req = Request{ID: p.nextID, Label: label, State: StatePending, EnqueuedAt: time.Now().UTC()}
	if p.stopped {
		j.req.State = StateCancelled
		j.err = perr.Canceledf("pool stopped")
		p.appendCompletedLocked(j.req)
		p.mu.Unlock()
		close(j.done)
		return &Handle{j: j}
	}
	p.pending = append(p.pending, j)
	p.cond.Signal()
	p.checkBacklogLocked()
	p.mu.Unlock()
	return &Handle{j: j}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.pending) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if len(p.pending) == 0 && p.stopped {
			p.mu.Unlock()
			return
		}
		j := p.pending[0]
		p.pending = p.pending[1:]
		now := time.Now().UTC()
		j.req.State = StateRunning
		j.req.StartedAt = &now
		p.running[j.req.ID] = j
		p.mu.Unlock()

		err := j.fn(p.ctx)

		p.mu.Lock()
		fin := time.Now().UTC()
		j.req.FinishedAt = &fin
		j.req.Duration = fin.Sub(*j.req.StartedAt)
		if err != nil {
			j.err = err
			j.req.Error = err.Error()
			if perr.IsCode(err, perr.ErrorCodeCanceled) {
				j.req.State = StateCancelled
			} else {
				j.req.State = StateFailed
			}
		} else {
			j.req.State = StateCompleted
		}
		delete(p.running, j.req.ID)
		p.appendCompletedLocked(j.req)
		p.noteFinishLocked(fin)
		p.mu.Unlock()
		close(j.done)
	}
}

// appendCompletedLocked keeps the completed list bounded like a ring
func (p *Pool) appendCompletedLocked(r Request) {
	p.completed = append(p.completed, r)
	if over := len(p.completed) - p.opts.CompletedCap; over > 0 {
		p.completed = append(p.completed[:0:0], p.completed[over:]...)
	}
}

// noteFinishLocked updates the smoothed requests per minute estimate
func (p *Pool) noteFinishLocked(fin time.Time) {
	if !p.lastFinish.IsZero() {
		if gap := fin.Sub(p.lastFinish); gap > 0 {
			inst := float64(time.Minute) / float64(gap)
			if p.ema == 0 {
				p.ema = inst
			} else {
				p.ema = p.opts.EMAFactor*inst + (1-p.opts.EMAFactor)*p.ema
			}
		}
	}
	p.lastFinish = fin
	p.checkBacklogLocked()
}

func (p *Pool) checkBacklogLocked() {
	if p.opts.OnBacklog == nil {
		return
	}
	outstanding := len(p.pending) + len(p.running)
	if outstanding <= p.opts.BacklogJobs {
		return
	}
	clearance := p.estimateLocked(outstanding)
	if clearance <= p.opts.BacklogClearance {
		return
	}
	now := time.Now()
	if now.Sub(p.lastAlert) < p.opts.BacklogCooldown {
		return
	}
	p.lastAlert = now
	go p.opts.OnBacklog(outstanding, clearance)
}

func (p *Pool) estimateLocked(outstanding int) time.Duration {
	if p.ema <= 0 {
		return 0
	}
	return time.Duration(float64(outstanding) / p.ema * float64(time.Minute))
}

// EstimateClearance returns how long the given backlog should take to drain
// at the smoothed completion rate; zero when no estimate exists yet
func (p *Pool) EstimateClearance(outstanding int) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.estimateLocked(outstanding)
}

// RPM returns the smoothed requests per minute estimate
func (p *Pool) RPM() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ema
}

// Outstanding returns pending plus running counts
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) + len(p.running)
}

// Snapshot copies the three request lists atomically
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{
		Pending:   make([]Request, 0, len(p.pending)),
		Running:   make([]Request, 0, len(p.running)),
		Completed: append([]Request(nil), p.completed...),
	}
	for _, j := range p.pending {
		s.Pending = append(s.Pending, j.req)
	}
	for _, j := range p.running {
		s.Running = append(s.Running, j.req)
	}
	return s
}

// Stop cancels the task context, marks queued jobs Cancelled, and joins the
// workers. Safe to call more than once
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.stopped = true
	drained := p.pending
	p.pending = nil
	for _, j := range drained {
		j.req.State = StateCancelled
		j.err = perr.Canceledf("pool stopped")
		p.appendCompletedLocked(j.req)
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel()
	for _, j := range drained {
		close(j.done)
	}
	p.wg.Wait()
}
