package datasync

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/firewatch/firewatch/internal/datasync"

// syncMetrics holds the OpenTelemetry instruments of the controller.
type syncMetrics struct {
	cycles        metric.Int64Counter
	cycleDuration metric.Float64Histogram
	records       metric.Int64Counter
	notifications metric.Int64Counter
}

func newSyncMetrics(meter metric.Meter) (*syncMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	cycles, err := meter.Int64Counter(
		"firewatch.sync.cycles",
		metric.WithDescription("Completed sync cycles by outcome"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram(
		"firewatch.sync.cycle.duration",
		metric.WithDescription("Duration of fetch, validate and cache cycles in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	records, err := meter.Int64Counter(
		"firewatch.sync.records",
		metric.WithDescription("Records seen by the validator, by verdict"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	notifications, err := meter.Int64Counter(
		"firewatch.sync.notifications",
		metric.WithDescription("New-data notifications raised"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	return &syncMetrics{
		cycles:        cycles,
		cycleDuration: cycleDuration,
		records:       records,
		notifications: notifications,
	}, nil
}

func (m *syncMetrics) recordCycle(outcome, code string, duration time.Duration) {
	attrs := []attribute.KeyValue{attribute.String("outcome", outcome)}
	if code != "" {
		attrs = append(attrs, attribute.String("error.code", code))
	}
	// Background context: a cancelled cycle still gets counted.
	ctx := context.Background()
	m.cycles.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.cycleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func (m *syncMetrics) recordRecords(valid, invalid int) {
	ctx := context.Background()
	m.records.Add(ctx, int64(valid), metric.WithAttributes(attribute.String("verdict", "valid")))
	m.records.Add(ctx, int64(invalid), metric.WithAttributes(attribute.String("verdict", "invalid")))
}

func (m *syncMetrics) recordNotification() {
	m.notifications.Add(context.Background(), 1)
}
