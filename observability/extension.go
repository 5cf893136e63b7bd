package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/qualidade-ams/books-sonda-sub000/dispatch"
	"github.com/qualidade-ams/books-sonda-sub000/ext"
	"github.com/qualidade-ams/books-sonda-sub000/job"
)

// meterName is the instrumentation scope name for disparo metrics.
const meterName = "github.com/qualidade-ams/books-sonda-sub000"

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.JobEnqueued       = (*MetricsExtension)(nil)
	_ ext.JobCompleted      = (*MetricsExtension)(nil)
	_ ext.JobFailed         = (*MetricsExtension)(nil)
	_ ext.JobRetrying       = (*MetricsExtension)(nil)
	_ ext.DispatchCompleted = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters through
// OpenTelemetry. Register it on the extension registry to track
// enqueue rates, completion and failure counts, retries, and
// per-period dispatch outcomes.
//
// For per-execution duration histograms, see middleware.Metrics.
type MetricsExtension struct {
	jobEnqueued  metric.Int64Counter
	jobCompleted metric.Int64Counter
	jobFailed    metric.Int64Counter
	jobRetried   metric.Int64Counter
	companies    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. Without a configured provider the instruments are
// noops and the extension costs nothing.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a MeterProvider for
// testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// On instrument errors the API returns noops, so the extension
	// degrades gracefully.
	enqueued, _ := meter.Int64Counter("disparo.job.enqueued",
		metric.WithDescription("Jobs enqueued"))
	completed, _ := meter.Int64Counter("disparo.job.completed",
		metric.WithDescription("Jobs completed successfully"))
	failed, _ := meter.Int64Counter("disparo.job.failed",
		metric.WithDescription("Jobs failed terminally"))
	retried, _ := meter.Int64Counter("disparo.job.retried",
		metric.WithDescription("Job retry reschedules"))
	companies, _ := meter.Int64Counter("disparo.dispatch.companies",
		metric.WithDescription("Companies processed by dispatch runs, by outcome"))

	return &MetricsExtension{
		jobEnqueued:  enqueued,
		jobCompleted: completed,
		jobFailed:    failed,
		jobRetried:   retried,
		companies:    companies,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.jobEnqueued.Add(ctx, 1, metric.WithAttributes(typeAttr(j)))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.jobCompleted.Add(ctx, 1, metric.WithAttributes(typeAttr(j)))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobFailed.Add(ctx, 1, metric.WithAttributes(typeAttr(j)))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.jobRetried.Add(ctx, 1, metric.WithAttributes(typeAttr(j)))
	return nil
}

// OnDispatchCompleted implements ext.DispatchCompleted. One increment
// per company, attributed by outcome, plus the period label.
func (m *MetricsExtension) OnDispatchCompleted(ctx context.Context, period dispatch.Period, summary *dispatch.Summary) error {
	periodAttr := attribute.String("periodo", period.String())

	m.companies.Add(ctx, int64(summary.Succeeded), metric.WithAttributes(
		periodAttr, attribute.String("outcome", "sucesso"),
	))
	m.companies.Add(ctx, int64(summary.Failed), metric.WithAttributes(
		periodAttr, attribute.String("outcome", "falha"),
	))
	return nil
}

func typeAttr(j *job.Job) attribute.KeyValue {
	return attribute.String("job_type", string(j.Type))
}
