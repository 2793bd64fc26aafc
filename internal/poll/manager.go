// Package poll implements the fallback polling path: a per-subject task
// that periodically asks the job-status query for the current state when
// the push channel cannot be trusted to deliver it.
package poll

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Inouye165/React-Photo-App-sub008/internal/backoff"
	"github.com/Inouye165/React-Photo-App-sub008/internal/jobs"
)

// DefaultMaxErrors is the consecutive transient-error count at which a task
// gives up and reports the subject as failed.
const DefaultMaxErrors = 5

// Default task timing, used when Start is given zero-valued fields.
var DefaultTaskConfig = TaskConfig{
	Interval:    2 * time.Second,
	MaxInterval: 30 * time.Second,
	SoftTimeout: 30 * time.Second,
	HardTimeout: 5 * time.Minute,
}

// TaskConfig is the timing configuration for one polling task.
type TaskConfig struct {
	// Interval between queries while the job is still running.
	Interval time.Duration
	// MaxInterval caps the backoff growth on transient errors.
	MaxInterval time.Duration
	// SoftTimeout raises a non-fatal "taking longer than usual" signal
	// without stopping the task.
	SoftTimeout time.Duration
	// HardTimeout forces the subject into an error state even if the job
	// still reports progress. A deliberate, visible failure.
	HardTimeout time.Duration
}

func (c TaskConfig) withDefaults(d TaskConfig) TaskConfig {
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.SoftTimeout <= 0 {
		c.SoftTimeout = d.SoftTimeout
	}
	if c.HardTimeout <= 0 {
		c.HardTimeout = d.HardTimeout
	}
	return c
}

// HealthSource reports whether the push stream is currently healthy. A task
// must not issue network polls while it is.
type HealthSource interface {
	Active() bool
}

// Options configures a Manager.
type Options struct {
	Client jobs.StatusClient
	Health HealthSource
	// OnUpdate is called with every observed state, terminal or not. It
	// must not block; it may call back into the Manager.
	OnUpdate func(subject string, state jobs.State)
	// OnSlow, if set, fires once per task when the soft timeout elapses.
	OnSlow func(subject string)
	// Defaults fills zero fields of per-task configs.
	Defaults TaskConfig
	// MaxErrors overrides DefaultMaxErrors when positive.
	MaxErrors int
	Logger    *zap.Logger
	// Now is injectable for deterministic timeout tests.
	Now func() time.Time
}

type task struct {
	subject   string
	cfg       TaskConfig
	started   time.Time
	interval  time.Duration
	errors    int
	softFired bool
	// armed means registered but not querying (stream is healthy).
	armed    bool
	querying bool
	timer    *time.Timer
	stopped  bool
}

// Manager owns the per-subject task registry. Exactly one task exists per
// subject id; Start on an already-registered subject is a no-op.
type Manager struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*task
}

// NewManager creates a Manager. Close must be called to release it.
func NewManager(opts Options) *Manager {
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	opts.Defaults = opts.Defaults.withDefaults(DefaultTaskConfig)
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:   opts,
		logger: logger,
		now:    now,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*task),
	}
}

// Start registers a polling task for the subject. While the stream is
// healthy the task sits armed without issuing any network query; the
// registration alone keeps the subject's pending indicator lit. Otherwise
// the first query is issued immediately.
func (m *Manager) Start(subject string, cfg TaskConfig) {
	m.mu.Lock()
	if _, exists := m.tasks[subject]; exists {
		m.mu.Unlock()
		return
	}
	t := &task{
		subject: subject,
		cfg:     cfg.withDefaults(m.opts.Defaults),
		started: m.now(),
	}
	t.interval = t.cfg.Interval
	m.tasks[subject] = t

	if m.opts.Health != nil && m.opts.Health.Active() {
		t.armed = true
		m.mu.Unlock()
		m.logger.Debug("task armed, stream healthy", zap.String("subject", subject))
		return
	}
	t.querying = true
	m.mu.Unlock()

	m.logger.Debug("task started", zap.String("subject", subject))
	go m.attempt(t)
}

// Stop cancels the subject's task, if any. Idempotent; the task's pending
// indicator is cleared and no callback fires after Stop returns.
func (m *Manager) Stop(subject string) {
	m.mu.Lock()
	t, ok := m.tasks[subject]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.tasks, subject)
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
	m.mu.Unlock()
	m.logger.Debug("task stopped", zap.String("subject", subject))
}

// Active reports whether the subject currently has a registered task.
func (m *Manager) Active(subject string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[subject]
	return ok
}

// Pending returns the subjects with a registered task.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	subjects := make([]string, 0, len(m.tasks))
	for s := range m.tasks {
		subjects = append(subjects, s)
	}
	return subjects
}

// KickAll begins querying on every armed task. Called when the stream goes
// down so registered-but-idle subjects start polling for real.
func (m *Manager) KickAll() {
	m.mu.Lock()
	var kicked []*task
	for _, t := range m.tasks {
		if t.armed && !t.querying {
			t.armed = false
			t.querying = true
			kicked = append(kicked, t)
		}
	}
	m.mu.Unlock()

	for _, t := range kicked {
		m.logger.Debug("kicking armed task", zap.String("subject", t.subject))
		go m.attempt(t)
	}
}

// Close cancels all tasks and any in-flight query.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	for subject, t := range m.tasks {
		t.stopped = true
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(m.tasks, subject)
	}
	m.mu.Unlock()
}

// live reports whether t is still the registered task for its subject.
// Fired-but-cancelled timers and late query results check this before
// acting.
func (m *Manager) live(t *task) bool {
	return !t.stopped && m.tasks[t.subject] == t
}

// finish removes the task and reports its terminal state. Callbacks run
// outside the lock so they may call back into the Manager.
func (m *Manager) finish(t *task, state jobs.State, reason string) {
	m.mu.Lock()
	if !m.live(t) {
		m.mu.Unlock()
		return
	}
	delete(m.tasks, t.subject)
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
	m.mu.Unlock()

	m.logger.Info("task finished",
		zap.String("subject", t.subject),
		zap.String("state", string(state)),
		zap.String("reason", reason),
	)
	if m.opts.OnUpdate != nil {
		m.opts.OnUpdate(t.subject, state)
	}
}

// attempt runs one polling cycle: timeout checks, one status query, then
// either termination or a reschedule.
func (m *Manager) attempt(t *task) {
	m.mu.Lock()
	if !m.live(t) {
		m.mu.Unlock()
		return
	}
	elapsed := m.now().Sub(t.started)

	if elapsed > t.cfg.HardTimeout {
		m.mu.Unlock()
		m.finish(t, jobs.StateFailed, "hard timeout")
		return
	}

	var slow bool
	if !t.softFired && elapsed > t.cfg.SoftTimeout {
		t.softFired = true
		slow = true
	}
	m.mu.Unlock()

	if slow {
		m.logger.Warn("analysis taking longer than usual", zap.String("subject", t.subject))
		if m.opts.OnSlow != nil {
			m.opts.OnSlow(t.subject)
		}
	}

	status, err := m.opts.Client.GetStatus(m.ctx, t.subject)

	if err != nil {
		m.handleError(t, err)
		return
	}
	m.handleStatus(t, status)
}

func (m *Manager) handleStatus(t *task, status jobs.Status) {
	if status.State.Terminal() {
		m.finish(t, status.State, "job terminal")
		return
	}

	m.mu.Lock()
	if !m.live(t) {
		m.mu.Unlock()
		return
	}
	// Success resets both the error streak and any backoff growth.
	t.errors = 0
	t.interval = t.cfg.Interval
	m.schedule(t, t.interval)
	m.mu.Unlock()

	if m.opts.OnUpdate != nil {
		m.opts.OnUpdate(t.subject, status.State)
	}
}

func (m *Manager) handleError(t *task, err error) {
	m.mu.Lock()
	if !m.live(t) {
		m.mu.Unlock()
		return
	}
	t.errors++
	errs := t.errors
	if errs >= m.opts.MaxErrors {
		m.mu.Unlock()
		m.logger.Warn("giving up after consecutive poll errors",
			zap.String("subject", t.subject),
			zap.Int("errors", errs),
			zap.Error(err),
		)
		m.finish(t, jobs.StateFailed, "too many errors")
		return
	}
	// A transient failure never stops the task below the threshold.
	t.interval = backoff.Double(t.interval, t.cfg.MaxInterval)
	m.schedule(t, t.interval)
	m.mu.Unlock()

	m.logger.Debug("poll failed, backing off",
		zap.String("subject", t.subject),
		zap.Int("errors", errs),
		zap.Duration("retryIn", t.interval),
		zap.Error(err),
	)
}

// schedule arms the reschedule timer. Caller holds the lock.
func (m *Manager) schedule(t *task, delay time.Duration) {
	t.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		ok := m.live(t)
		m.mu.Unlock()
		if !ok {
			return
		}
		m.attempt(t)
	})
}
