package pipeline

import (
	"context"
	"log/slog"
	"time"

	"fieldtasks/internal/outcome"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	outcomes metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(logger *slog.Logger) *metrics {
	meter := otel.Meter("fieldtasks/pipeline")

	outcomes, err := meter.Int64Counter("fieldtasks.pipeline.outcomes",
		metric.WithDescription("Pipeline outcomes by result"),
	)
	if err != nil {
		logger.Warn("failed to create outcome counter", "error", err)
	}
	duration, err := meter.Float64Histogram("fieldtasks.pipeline.duration",
		metric.WithDescription("Pipeline run time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", "error", err)
	}
	return &metrics{outcomes: outcomes, duration: duration}
}

func (m *metrics) record(ctx context.Context, o outcome.Outcome, elapsed time.Duration) {
	result := "success"
	if !o.Succeeded() {
		result = string(o.Failure.Kind)
	}
	attrs := metric.WithAttributes(attribute.String("result", result))

	if m.outcomes != nil {
		m.outcomes.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}
