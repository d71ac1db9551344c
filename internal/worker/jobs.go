// Package worker runs Firewatch background jobs delivered over Pub/Sub.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/firewatch/firewatch/internal/datasync"
	"github.com/firewatch/firewatch/internal/firerisk"
)

// Job types carried in JobMessage.JobType.
const (
	JobRefetch     = "refetch"
	JobHealthCheck = "health_check"
)

// ErrUnknownJob is returned for messages with an unrecognized job type.
var ErrUnknownJob = errors.New("worker: unknown job type")

// Syncer is the part of the sync controller the worker drives.
type Syncer interface {
	RunCycle(ctx context.Context) error
	Check(ctx context.Context) (*firerisk.ValidationReport, error)
}

// JobMessage is the Pub/Sub payload.
type JobMessage struct {
	JobType   string `json:"job_type"`
	RequestID string `json:"request_id,omitempty"`
}

// JobResult describes one executed job.
type JobResult struct {
	JobType  string
	Duration time.Duration
	Skipped  bool
	Report   *firerisk.ValidationReport
}

// JobMetrics tracks job statistics.
type JobMetrics struct {
	mu sync.RWMutex

	TotalJobs      int64
	SuccessfulJobs int64
	FailedJobs     int64
	SkippedJobs    int64

	LastJobAt       time.Time
	LastJobDuration time.Duration
}

// JobRunnerConfig holds configuration for creating a JobRunner.
type JobRunnerConfig struct {
	Syncer Syncer

	// Timeout bounds a single job. Default: 2 minutes.
	Timeout time.Duration

	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// JobRunner executes refetch and health check jobs against the sync controller.
type JobRunner struct {
	syncer  Syncer
	timeout time.Duration
	clock   clockwork.Clock
	logger  zerolog.Logger
	metrics *JobMetrics
}

// NewJobRunner creates a JobRunner.
func NewJobRunner(cfg JobRunnerConfig) *JobRunner {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &JobRunner{
		syncer:  cfg.Syncer,
		timeout: timeout,
		clock:   clock,
		logger:  cfg.Logger,
		metrics: &JobMetrics{},
	}
}

// ParseJobMessage decodes a Pub/Sub payload.
func ParseJobMessage(data []byte) (JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return JobMessage{}, fmt.Errorf("parse job message: %w", err)
	}
	return msg, nil
}

// Run executes the job named by msg.
func (j *JobRunner) Run(ctx context.Context, msg JobMessage) (*JobResult, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := j.clock.Now()
	result := &JobResult{JobType: msg.JobType}

	var err error
	switch msg.JobType {
	case JobRefetch:
		err = j.refetch(ctx, result)
	case JobHealthCheck:
		err = j.healthCheck(ctx, result)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}

	result.Duration = j.clock.Since(start)
	j.record(result, err)
	return result, err
}

func (j *JobRunner) refetch(ctx context.Context, result *JobResult) error {
	err := j.syncer.RunCycle(ctx)
	if errors.Is(err, datasync.ErrCycleInFlight) {
		j.logger.Info().Msg("refetch skipped, cycle already in flight")
		result.Skipped = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("refetch: %w", err)
	}
	return nil
}

func (j *JobRunner) healthCheck(ctx context.Context, result *JobResult) error {
	report, err := j.syncer.Check(ctx)
	if errors.Is(err, datasync.ErrCycleInFlight) {
		j.logger.Info().Msg("health check skipped, cycle already in flight")
		result.Skipped = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	result.Report = report

	j.logger.Debug().
		Int("valid", report.Valid).
		Int("invalid", report.Invalid).
		Msg("health check passed")
	return nil
}

func (j *JobRunner) record(result *JobResult, err error) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalJobs++
	switch {
	case err != nil:
		j.metrics.FailedJobs++
	case result.Skipped:
		j.metrics.SkippedJobs++
	default:
		j.metrics.SuccessfulJobs++
	}
	j.metrics.LastJobAt = j.clock.Now()
	j.metrics.LastJobDuration = result.Duration
}

// Metrics returns a copy of the current job metrics.
func (j *JobRunner) Metrics() JobMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return JobMetrics{
		TotalJobs:       j.metrics.TotalJobs,
		SuccessfulJobs:  j.metrics.SuccessfulJobs,
		FailedJobs:      j.metrics.FailedJobs,
		SkippedJobs:     j.metrics.SkippedJobs,
		LastJobAt:       j.metrics.LastJobAt,
		LastJobDuration: j.metrics.LastJobDuration,
	}
}
