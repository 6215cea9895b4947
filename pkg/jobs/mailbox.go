package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned for jobs posted to, or left in, a stopped mailbox.
var ErrStopped = errors.New("mailbox stopped")

// ErrSuperseded is returned for queued jobs replaced by a newer job of the
// same type before they started.
var ErrSuperseded = errors.New("job superseded")

// Job represents a unit of work posted to a mailbox.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Enqueued time.Time
}

// Handler processes a job. ctx is cancelled when the job is superseded, the
// poster gives up or the mailbox stops.
type Handler func(ctx context.Context, job Job) (interface{}, error)

// Result is the outcome of one job.
type Result struct {
	Value interface{}
	Err   error
}

// MailboxConfig configures a mailbox.
type MailboxConfig struct {
	BufferSize int
	// CancelInFlight cancels the running job whenever a new one is posted
	// and skips queued jobs of the same type as the new one.
	CancelInFlight bool
	Logger         *zap.Logger
}

type envelope struct {
	seq    uint64
	ctx    context.Context
	job    Job
	result chan Result
}

// Mailbox runs jobs one at a time in arrival order on a single goroutine.
type Mailbox struct {
	name    string
	handler Handler

	bufferSize     int
	cancelInFlight bool
	logger         *zap.Logger

	jobs    chan envelope
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
	current context.CancelFunc
	running string
	seq     uint64
	// latest is the newest sequence posted per job type.
	latest map[string]uint64
}

// NewMailbox builds a mailbox with the provided handler.
func NewMailbox(name string, handler Handler, cfg MailboxConfig) *Mailbox {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Mailbox{
		name:           name,
		handler:        handler,
		bufferSize:     cfg.BufferSize,
		cancelInFlight: cfg.CancelInFlight,
		logger:         cfg.Logger,
		jobs:           make(chan envelope, cfg.BufferSize),
		latest:         make(map[string]uint64),
	}
}

// Start begins consumption. Safe to call once.
func (m *Mailbox) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop()
	m.started = true
	m.logger.Debug("mailbox started", zap.String("mailbox", m.name))
}

// Stop cancels the running job, fails queued ones and waits for the worker.
func (m *Mailbox) Stop() {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
	m.logger.Debug("mailbox stopped", zap.String("mailbox", m.name))
}

// Post enqueues a job and returns the channel its result is delivered on.
// With CancelInFlight the job currently running is cancelled first, and
// queued jobs of the same type fail with ErrSuperseded when their turn comes.
func (m *Mailbox) Post(ctx context.Context, job Job) (<-chan Result, error) {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return nil, fmt.Errorf("mailbox %s: %w", m.name, ErrStopped)
	}
	if m.cancelInFlight && m.current != nil {
		m.logger.Debug("cancelling in-flight job", zap.String("mailbox", m.name), zap.String("job_id", m.running), zap.String("by", job.ID))
		m.current()
	}
	m.seq++
	seq := m.seq
	prev := m.latest[job.Type]
	if m.cancelInFlight {
		m.latest[job.Type] = seq
	}
	root := m.ctx
	m.mu.Unlock()

	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	env := envelope{seq: seq, ctx: ctx, job: job, result: make(chan Result, 1)}
	select {
	case m.jobs <- env:
		return env.result, nil
	case <-root.Done():
		m.unpost(job.Type, seq, prev)
		return nil, fmt.Errorf("mailbox %s: %w", m.name, ErrStopped)
	case <-ctx.Done():
		m.unpost(job.Type, seq, prev)
		return nil, ctx.Err()
	}
}

// unpost restores the newest sequence of a type when a post never reached the queue.
func (m *Mailbox) unpost(jobType string, seq, prev uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest[jobType] == seq {
		m.latest[jobType] = prev
	}
}

// Do posts a job and waits for its result.
func (m *Mailbox) Do(ctx context.Context, job Job) (interface{}, error) {
	ch, err := m.Post(ctx, job)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Value, res.Err
	}
}

// Pending reports the number of queued jobs.
func (m *Mailbox) Pending() int {
	return len(m.jobs)
}

func (m *Mailbox) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			m.drain()
			return
		case env := <-m.jobs:
			m.run(env)
		}
	}
}

func (m *Mailbox) run(env envelope) {
	m.mu.Lock()
	if m.cancelInFlight && env.seq < m.latest[env.job.Type] {
		m.mu.Unlock()
		m.logger.Debug("skipping superseded job", zap.String("mailbox", m.name), zap.String("job_id", env.job.ID))
		env.result <- Result{Err: fmt.Errorf("mailbox %s: job %s: %w", m.name, env.job.ID, ErrSuperseded)}
		return
	}
	jobCtx, cancel := context.WithCancel(m.ctx)
	stop := context.AfterFunc(env.ctx, cancel)
	m.current = cancel
	m.running = env.job.ID
	m.mu.Unlock()

	value, err := m.handler(jobCtx, env.job)

	m.mu.Lock()
	m.current = nil
	m.running = ""
	m.mu.Unlock()
	stop()
	cancel()
	env.result <- Result{Value: value, Err: err}
}

func (m *Mailbox) drain() {
	for {
		select {
		case env := <-m.jobs:
			env.result <- Result{Err: fmt.Errorf("mailbox %s: %w", m.name, ErrStopped)}
		default:
			return
		}
	}
}
