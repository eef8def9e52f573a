package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is a named maintenance task run on a cron schedule
type Job struct {
	Name    string
	Spec    string // six-field cron expression, seconds first
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// JobStatus represents the status of a scheduled job
type JobStatus struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	NextRun   time.Time `json:"next_run"`
	PrevRun   time.Time `json:"prev_run"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
}

type entry struct {
	job    Job
	id     cron.EntryID
	status JobStatus
}

// Manager runs maintenance jobs. Overlapping runs of the same job are skipped.
type Manager struct {
	cron    *cron.Cron
	jobs    map[string]*entry
	logger  *zap.Logger
	mu      sync.RWMutex
	running bool
}

// NewManager creates a new job manager
func NewManager(logger *zap.Logger) *Manager {
	cl := cronLogger{logger.Sugar()}
	return &Manager{
		cron: cron.New(
			cron.WithParser(specParser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:   make(map[string]*entry),
		logger: logger,
	}
}

// AddJob registers job. Adding a job with an existing name replaces it.
func (m *Manager) AddJob(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.Name)
	}
	if err := ValidateCronExpression(job.Spec); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Spec, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.jobs[job.Name]; ok {
		m.cron.Remove(existing.id)
	}

	e := &entry{job: job, status: JobStatus{Name: job.Name, Spec: job.Spec}}
	id, err := m.cron.AddFunc(job.Spec, func() {
		_ = m.execute(context.Background(), e)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	e.id = id
	m.jobs[job.Name] = e

	m.logger.Info("Added job", zap.String("job", job.Name), zap.String("spec", job.Spec))
	return nil
}

// RemoveJob removes a job from the manager
func (m *Manager) RemoveJob(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.jobs[name]; ok {
		m.cron.Remove(e.id)
		delete(m.jobs, name)
		m.logger.Info("Removed job", zap.String("job", name))
	}
}

// Start starts the cron loop
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("scheduler already running")
	}
	m.running = true
	m.cron.Start()
	m.logger.Info("Scheduler started", zap.Int("jobs", len(m.jobs)))
	return nil
}

// Stop stops scheduling and waits for running jobs or ctx, whichever ends first.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.logger.Info("Stopping scheduler")
	select {
	case <-m.cron.Stop().Done():
	case <-ctx.Done():
		m.logger.Warn("Scheduler stop timed out with jobs still running")
	}
}

// RunNow runs the named job immediately, outside its schedule.
func (m *Manager) RunNow(ctx context.Context, name string) error {
	m.mu.RLock()
	e, ok := m.jobs[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	return m.execute(ctx, e)
}

func (m *Manager) execute(ctx context.Context, e *entry) error {
	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.job.Timeout)
		defer cancel()
	}

	started := time.Now()
	err := e.job.Run(ctx)

	m.mu.Lock()
	e.status.Runs++
	e.status.LastError = ""
	if err != nil {
		e.status.Failures++
		e.status.LastError = err.Error()
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("Job failed",
			zap.String("job", e.job.Name),
			zap.Duration("duration", time.Since(started)),
			zap.Error(err))
		return err
	}
	m.logger.Debug("Job completed",
		zap.String("job", e.job.Name),
		zap.Duration("duration", time.Since(started)))
	return nil
}

// GetJobStatus returns the status of a job
func (m *Manager) GetJobStatus(name string) (*JobStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.jobs[name]
	if !ok {
		return nil, fmt.Errorf("job %s not found", name)
	}
	status := e.status
	ce := m.cron.Entry(e.id)
	status.NextRun = ce.Next
	status.PrevRun = ce.Prev
	return &status, nil
}

// Jobs returns the status of every job, sorted by name
func (m *Manager) Jobs() []JobStatus {
	m.mu.RLock()
	names := make([]string, 0, len(m.jobs))
	for name := range m.jobs {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	out := make([]JobStatus, 0, len(names))
	for _, name := range names {
		if s, err := m.GetJobStatus(name); err == nil {
			out = append(out, *s)
		}
	}
	return out
}

// ValidateCronExpression validates a six-field cron expression or a descriptor such as @hourly
func ValidateCronExpression(expr string) error {
	_, err := specParser.Parse(expr)
	return err
}

// cronLogger routes cron's own logging to zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
