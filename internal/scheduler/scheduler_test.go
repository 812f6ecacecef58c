package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/uamuzi/internal/config"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	requests []string
	corrIDs  []string
	err      error
}

func (f *fakeSubmitter) SubmitRun(_ context.Context, request, correlationID string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request)
	f.corrIDs = append(f.corrIDs, correlationID)
	if f.err != nil {
		return uuid.Nil, f.err
	}
	return uuid.New(), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testScheduler(t *testing.T, jobs []config.ScheduledJobConfig, submit Submitter, metrics *Metrics) *Scheduler {
	t.Helper()
	s, err := New(&config.SchedulerConfig{Jobs: jobs}, submit, metrics, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRejectsInvalidExpression(t *testing.T) {
	jobs := []config.ScheduledJobConfig{
		{Name: "bad", Schedule: "not a cron expr", Request: "check cluster health"},
	}
	_, err := New(&config.SchedulerConfig{Jobs: jobs}, &fakeSubmitter{}, nil, testLogger())
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
	if !strings.Contains(err.Error(), `"bad"`) {
		t.Errorf("error should name the job, got: %v", err)
	}
}

func TestFireJobSubmitsRequest(t *testing.T) {
	submit := &fakeSubmitter{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	job := config.ScheduledJobConfig{Name: "nightly", Schedule: "0 3 * * *", Request: "summarize cluster events"}
	s := testScheduler(t, []config.ScheduledJobConfig{job}, submit, metrics)

	s.fireJob(context.Background(), job)

	if len(submit.requests) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(submit.requests))
	}
	if submit.requests[0] != "summarize cluster events" {
		t.Errorf("unexpected request: %q", submit.requests[0])
	}
	if submit.corrIDs[0] == "" {
		t.Error("correlation ID should be set")
	}
	if got := counterValue(t, reg, "uamuzi_scheduler_jobs_fired_total", map[string]string{"job": "nightly"}); got != 1 {
		t.Errorf("jobs_fired_total = %v, want 1", got)
	}
	if got := counterValue(t, reg, "uamuzi_scheduler_jobs_succeeded_total", map[string]string{"job": "nightly"}); got != 1 {
		t.Errorf("jobs_succeeded_total = %v, want 1", got)
	}
}

func TestFireJobFailureRecorded(t *testing.T) {
	submit := &fakeSubmitter{err: errors.New("engine unavailable")}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	job := config.ScheduledJobConfig{Name: "hourly", Schedule: "0 * * * *", Request: "check node pressure"}
	s := testScheduler(t, []config.ScheduledJobConfig{job}, submit, metrics)

	s.fireJob(context.Background(), job)

	if got := counterValue(t, reg, "uamuzi_scheduler_jobs_failed_total", map[string]string{"job": "hourly"}); got != 1 {
		t.Errorf("jobs_failed_total = %v, want 1", got)
	}
	if got := counterValue(t, reg, "uamuzi_scheduler_jobs_succeeded_total", map[string]string{"job": "hourly"}); got != 0 {
		t.Errorf("jobs_succeeded_total = %v, want 0", got)
	}
}

func TestFireJobNilMetrics(t *testing.T) {
	submit := &fakeSubmitter{}
	job := config.ScheduledJobConfig{Name: "plain", Schedule: "*/5 * * * *", Request: "rotate logs"}
	s := testScheduler(t, []config.ScheduledJobConfig{job}, submit, nil)

	s.fireJob(context.Background(), job) // must not panic

	if len(submit.requests) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(submit.requests))
	}
}

func TestJobsReportNextRun(t *testing.T) {
	jobs := []config.ScheduledJobConfig{
		{Name: "daily", Schedule: "0 3 * * *", Request: "daily report"},
		{Name: "weekly", Schedule: "0 6 * * 1", Request: "weekly report"},
	}
	s := testScheduler(t, jobs, &fakeSubmitter{}, nil)

	stop := s.Start(context.Background())
	defer stop()

	statuses := s.Jobs()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(statuses))
	}
	for _, st := range statuses {
		if st.Next.IsZero() {
			t.Errorf("job %q has no next run time", st.Name)
		}
		if !st.Next.After(time.Now().Add(-time.Minute)) {
			t.Errorf("job %q next run %v is in the past", st.Name, st.Next)
		}
	}
}

func TestNextRunAfter(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	next, err := NextRunAfter("0 3 * * *", from)
	if err != nil {
		t.Fatalf("NextRunAfter: %v", err)
	}
	want := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	if _, err := NextRunAfter("bogus", from); err == nil {
		t.Error("expected error for invalid expression")
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if matchLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		got[l.GetName()] = l.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}
