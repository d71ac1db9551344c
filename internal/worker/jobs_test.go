package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/datasync"
	"github.com/firewatch/firewatch/internal/firerisk"
	"github.com/firewatch/firewatch/internal/worker"
)

type mockSyncer struct {
	cycleErr  error
	checkErr  error
	report    *firerisk.ValidationReport
	cycles    atomic.Int32
	checks    atomic.Int32
	sawCancel atomic.Bool
}

func (m *mockSyncer) RunCycle(ctx context.Context) error {
	m.cycles.Add(1)
	if _, ok := ctx.Deadline(); ok {
		m.sawCancel.Store(true)
	}
	return m.cycleErr
}

func (m *mockSyncer) Check(context.Context) (*firerisk.ValidationReport, error) {
	m.checks.Add(1)
	return m.report, m.checkErr
}

func newRunner(s worker.Syncer) *worker.JobRunner {
	return worker.NewJobRunner(worker.JobRunnerConfig{Syncer: s, Logger: zerolog.Nop()})
}

func TestParseJobMessage(t *testing.T) {
	msg, err := worker.ParseJobMessage([]byte(`{"job_type":"refetch","request_id":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, worker.JobRefetch, msg.JobType)
	assert.Equal(t, "abc", msg.RequestID)

	_, err = worker.ParseJobMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestJobRunner_Refetch(t *testing.T) {
	s := &mockSyncer{}
	runner := newRunner(s)

	result, err := runner.Run(context.Background(), worker.JobMessage{JobType: worker.JobRefetch})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, int32(1), s.cycles.Load())
	assert.True(t, s.sawCancel.Load(), "jobs run with a deadline")

	m := runner.Metrics()
	assert.Equal(t, int64(1), m.TotalJobs)
	assert.Equal(t, int64(1), m.SuccessfulJobs)
}

func TestJobRunner_RefetchInFlightIsSkipped(t *testing.T) {
	s := &mockSyncer{cycleErr: datasync.ErrCycleInFlight}
	runner := newRunner(s)

	result, err := runner.Run(context.Background(), worker.JobMessage{JobType: worker.JobRefetch})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, int64(1), runner.Metrics().SkippedJobs)
}

func TestJobRunner_RefetchFailure(t *testing.T) {
	s := &mockSyncer{cycleErr: firerisk.NewHTTPError(502, "")}
	runner := newRunner(s)

	_, err := runner.Run(context.Background(), worker.JobMessage{JobType: worker.JobRefetch})
	require.Error(t, err)
	assert.True(t, errors.Is(err, firerisk.ErrHTTPStatus))
	assert.Equal(t, int64(1), runner.Metrics().FailedJobs)
}

func TestJobRunner_HealthCheck(t *testing.T) {
	s := &mockSyncer{report: &firerisk.ValidationReport{Total: 10, Valid: 9, Invalid: 1}}
	runner := newRunner(s)

	result, err := runner.Run(context.Background(), worker.JobMessage{JobType: worker.JobHealthCheck})
	require.NoError(t, err)
	require.NotNil(t, result.Report)
	assert.Equal(t, 9, result.Report.Valid)
	assert.Equal(t, int32(0), s.cycles.Load(), "health checks never publish")
	assert.Equal(t, int32(1), s.checks.Load())
}

func TestJobRunner_HealthCheckDuringCycleIsSkipped(t *testing.T) {
	s := &mockSyncer{checkErr: datasync.ErrCycleInFlight}
	runner := newRunner(s)

	result, err := runner.Run(context.Background(), worker.JobMessage{JobType: worker.JobHealthCheck})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Nil(t, result.Report)
	assert.Equal(t, int64(1), runner.Metrics().SkippedJobs)
}

func TestJobRunner_UnknownJob(t *testing.T) {
	runner := newRunner(&mockSyncer{})

	_, err := runner.Run(context.Background(), worker.JobMessage{JobType: "provider_refresh"})
	assert.ErrorIs(t, err, worker.ErrUnknownJob)
}

func TestHandleMessage_AckDecisions(t *testing.T) {
	tests := []struct {
		name   string
		syncer *mockSyncer
		data   string
		ack    bool
	}{
		{name: "refetch ok", syncer: &mockSyncer{}, data: `{"job_type":"refetch"}`, ack: true},
		{name: "refetch failed", syncer: &mockSyncer{cycleErr: errors.New("boom")}, data: `{"job_type":"refetch"}`, ack: false},
		{name: "in flight", syncer: &mockSyncer{cycleErr: datasync.ErrCycleInFlight}, data: `{"job_type":"refetch"}`, ack: true},
		{name: "health check failed", syncer: &mockSyncer{checkErr: errors.New("down")}, data: `{"job_type":"health_check"}`, ack: false},
		{name: "unknown job", syncer: &mockSyncer{}, data: `{"job_type":"nope"}`, ack: true},
		{name: "malformed", syncer: &mockSyncer{}, data: `{`, ack: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := worker.HandleMessage(context.Background(), newRunner(tt.syncer), zerolog.Nop(), []byte(tt.data))
			assert.Equal(t, tt.ack, ack)
		})
	}
}
