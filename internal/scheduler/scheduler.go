package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wonny/orbit/pkg/logger"
)

// jobTimeout bounds a single job attempt
const jobTimeout = 30 * time.Second

// Scheduler manages scheduled jobs
// ⭐ SSOT: 스케줄 관리는 이 스케줄러에서만
type Scheduler struct {
	cron    *cron.Cron
	logger  *logger.Logger
	jobs    map[string]Job
	history map[string]*JobHistory
	mu      sync.RWMutex

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// Option configures a scheduler
type Option func(*Scheduler)

// WithRetries sets how often a failed job is re-run
func WithRetries(n int, delay time.Duration) Option {
	return func(s *Scheduler) {
		s.maxRetries = n
		s.retryDelay = delay
	}
}

// New creates a new scheduler evaluating expressions in loc
func New(loc *time.Location, log *logger.Logger, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		cron:       cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		logger:     log.WithField("component", "scheduler"),
		jobs:       make(map[string]Job),
		history:    make(map[string]*JobHistory),
		maxRetries: 1,
		retryDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob adds a job to the scheduler
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobName := job.Name()

	// Check if job already exists
	if _, exists := s.jobs[jobName]; exists {
		return fmt.Errorf("job %s already exists", jobName)
	}

	// Add job to cron
	_, err := s.cron.AddFunc(job.Schedule(), func() {
		s.runJob(job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", jobName, err)
	}

	// Store job
	s.jobs[jobName] = job
	s.history[jobName] = &JobHistory{}

	s.logger.WithFields(map[string]interface{}{
		"job":      jobName,
		"schedule": job.Schedule(),
	}).Info("Job added to scheduler")

	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}

// RunJob runs a specific job immediately (outside of schedule) and waits
func (s *Scheduler) RunJob(jobName string) error {
	s.mu.RLock()
	job, exists := s.jobs[jobName]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job %s not found", jobName)
	}

	s.runJob(job)
	return nil
}

// runJob executes a job with retry logic
// 시도마다 jobTimeout 적용
func (s *Scheduler) runJob(job Job) {
	jobName := job.Name()
	log := s.logger.WithFields(map[string]interface{}{
		"job":      jobName,
		"schedule": job.Schedule(),
	})
	result := JobResult{JobName: jobName, StartTime: time.Now()}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.retryDelay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		lastErr = job.Run(ctx)
		cancel()
		if lastErr == nil {
			break
		}
		log.WithError(lastErr).WithField("attempt", attempt+1).Warn("Job execution failed")
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Success = lastErr == nil
	if lastErr != nil {
		result.Error = lastErr.Error()
	}

	s.mu.Lock()
	if history, exists := s.history[jobName]; exists {
		history.AddResult(result)
	}
	s.mu.Unlock()

	if result.Success {
		log.WithField("duration", result.Duration.String()).Debug("Job completed")
		return
	}
	log.WithError(lastErr).Error("Job failed after all retries")
}

// Summaries returns the latest outcome per job
func (s *Scheduler) Summaries() []JobSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobSummary, 0, len(s.jobs))
	for name, job := range s.jobs {
		sum := JobSummary{Name: name, Schedule: job.Schedule()}
		if h := s.history[name]; h != nil {
			sum.Runs = len(h.Results)
			sum.Failures = len(h.GetFailedResults())
			if last, ok := h.Last(); ok {
				sum.LastRun = &last.StartTime
				sum.LastError = last.Error
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// JobSummary is the status view of one job
type JobSummary struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Runs      int        `json:"runs"`
	Failures  int        `json:"failures"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}
