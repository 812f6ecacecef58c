// Package scheduler runs config-defined cron jobs that submit recurring
// workflow runs. Jobs are declared in the config file, not persisted;
// each firing goes through the same engine path as an API-submitted run.
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jkaninda/uamuzi/internal/config"
)

// Submitter starts a workflow run for a scheduled request. Implemented
// by the engine; narrowed here so the scheduler does not depend on it.
type Submitter interface {
	SubmitRun(ctx context.Context, request, correlationID string) (uuid.UUID, error)
}

// Scheduler fires config-defined jobs on their cron schedules.
type Scheduler struct {
	runner  *cron.Cron
	submit  Submitter
	metrics *Metrics
	logger  *slog.Logger
	jobs    []jobEntry
}

type jobEntry struct {
	cfg config.ScheduledJobConfig
	id  cron.EntryID
}

// JobStatus describes one scheduled job for status endpoints.
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitempty"`
}

// New builds a Scheduler from the config-defined job list. Every cron
// expression is validated up front; a single bad expression fails the
// whole construction so misconfiguration surfaces at startup.
func New(cfg *config.SchedulerConfig, submit Submitter, metrics *Metrics, logger *slog.Logger) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	s := &Scheduler{
		submit:  submit,
		metrics: metrics,
		logger:  logger,
	}
	s.runner = cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
	)

	for _, job := range cfg.Jobs {
		job := job
		if _, err := parser.Parse(job.Schedule); err != nil {
			return nil, fmt.Errorf("job %q: invalid cron expression %q: %w", job.Name, job.Schedule, err)
		}
		id, err := s.runner.AddFunc(job.Schedule, func() {
			s.fireJob(context.Background(), job)
		})
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", job.Name, err)
		}
		s.jobs = append(s.jobs, jobEntry{cfg: job, id: id})
	}

	return s, nil
}

// Start begins the cron loop. Returns a stop function (blocks until
// in-flight jobs finish).
func (s *Scheduler) Start(ctx context.Context) func() {
	s.logger.InfoContext(ctx, "scheduler started",
		slog.Int("jobs", len(s.jobs)),
	)
	s.runner.Start()

	return func() {
		stopCtx := s.runner.Stop()
		<-stopCtx.Done()
		s.logger.Info("scheduler stopped")
	}
}

// Jobs reports the configured jobs with their next and previous firings.
func (s *Scheduler) Jobs() []JobStatus {
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		entry := s.runner.Entry(j.id)
		out = append(out, JobStatus{
			Name:     j.cfg.Name,
			Schedule: j.cfg.Schedule,
			Next:     entry.Next,
			Prev:     entry.Prev,
		})
	}
	return out
}

// fireJob submits one scheduled run and records the outcome.
func (s *Scheduler) fireJob(ctx context.Context, job config.ScheduledJobConfig) {
	correlationID := newCorrelationID()
	start := time.Now()

	s.logger.InfoContext(ctx, "firing scheduled job",
		slog.String("job", job.Name),
		slog.String("correlation_id", correlationID),
	)

	if s.metrics != nil {
		s.metrics.JobsFired.WithLabelValues(job.Name).Inc()
	}

	runID, err := s.submit.SubmitRun(ctx, job.Request, correlationID)

	if s.metrics != nil {
		s.metrics.JobDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled job submission failed",
			slog.String("job", job.Name),
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.JobsFailed.WithLabelValues(job.Name).Inc()
		}
		return
	}

	s.logger.InfoContext(ctx, "scheduled job submitted",
		slog.String("job", job.Name),
		slog.String("run_id", runID.String()),
		slog.String("correlation_id", correlationID),
	)
	if s.metrics != nil {
		s.metrics.JobsSucceeded.WithLabelValues(job.Name).Inc()
	}
}

// NextRunAfter computes the next firing of a cron expression after the
// given reference time. Used by status endpoints to preview schedules.
func NextRunAfter(expr string, from time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// cronLogger adapts slog to the cron library's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
