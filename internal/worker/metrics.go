package worker

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-narrator/internal/worker"

type metrics struct {
	sections   metric.Int64Counter
	completed  metric.Int64Counter
	queueGauge metric.Int64ObservableGauge
	reg        metric.Registration
}

func newMetrics(queue *Queue, log *slog.Logger) *metrics {
	meter := otel.Meter(instrumentationName)
	m := &metrics{}
	var err error
	if m.sections, err = meter.Int64Counter("narrator.sections.synthesized",
		metric.WithDescription("Sections synthesized and written to disk")); err != nil {
		log.Warn("failed to create sections counter", slogError(err))
	}
	if m.completed, err = meter.Int64Counter("narrator.manuscripts.completed",
		metric.WithDescription("Processed manuscripts by resulting state")); err != nil {
		log.Warn("failed to create completed counter", slogError(err))
	}
	if m.queueGauge, err = meter.Int64ObservableGauge("narrator.queue.depth",
		metric.WithDescription("Identifiers waiting for the worker")); err != nil {
		log.Warn("failed to create queue gauge", slogError(err))
		return m
	}
	m.reg, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.queueGauge, int64(queue.Len()))
		return nil
	}, m.queueGauge)
	if err != nil {
		log.Warn("failed to register queue gauge", slogError(err))
	}
	return m
}

func (m *metrics) sectionDone(ctx context.Context) {
	if m.sections != nil {
		m.sections.Add(ctx, 1)
	}
}

func (m *metrics) manuscriptDone(ctx context.Context, state string) {
	if m.completed != nil {
		m.completed.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
	}
}

func (m *metrics) close() {
	if m.reg != nil {
		_ = m.reg.Unregister()
	}
}
