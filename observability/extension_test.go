package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
	"github.com/qualidade-ams/books-sonda-sub000/dispatch"
	"github.com/qualidade-ams/books-sonda-sub000/id"
	"github.com/qualidade-ams/books-sonda-sub000/job"
	"github.com/qualidade-ams/books-sonda-sub000/observability"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumDataPoints(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func newTestJob() *job.Job {
	return &job.Job{
		Entity: disparo.NewEntity(),
		ID:     id.NewJobID(),
		Type:   job.TypeMonthlyDispatch,
	}
}

func TestJobLifecycleCounters(t *testing.T) {
	reader, mp := setupTestMeter()
	ext := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))
	ctx := context.Background()
	j := newTestJob()

	if err := ext.OnJobEnqueued(ctx, j); err != nil {
		t.Fatal(err)
	}
	if err := ext.OnJobRetrying(ctx, j, 1, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := ext.OnJobCompleted(ctx, j, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := ext.OnJobFailed(ctx, j, errors.New("smtp down")); err != nil {
		t.Fatal(err)
	}

	rm := collectMetrics(t, reader)
	for _, name := range []string{
		"disparo.job.enqueued",
		"disparo.job.retried",
		"disparo.job.completed",
		"disparo.job.failed",
	} {
		m := findMetric(rm, name)
		if m == nil {
			t.Fatalf("metric %s not recorded", name)
		}
		if got := sumDataPoints(t, m); got != 1 {
			t.Errorf("%s = %d, want 1", name, got)
		}
	}
}

func TestDispatchCompletedCounter(t *testing.T) {
	reader, mp := setupTestMeter()
	ext := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))

	summary := &dispatch.Summary{Succeeded: 2, Failed: 1, Total: 3}
	if err := ext.OnDispatchCompleted(context.Background(), dispatch.Period{Mes: 7, Ano: 2026}, summary); err != nil {
		t.Fatal(err)
	}

	rm := collectMetrics(t, reader)
	m := findMetric(rm, "disparo.dispatch.companies")
	if m == nil {
		t.Fatal("dispatch counter not recorded")
	}
	if got := sumDataPoints(t, m); got != 3 {
		t.Errorf("companies total = %d, want 3", got)
	}
}

func TestNoopWithoutProvider(t *testing.T) {
	// The global provider defaults to noop; hooks must still succeed.
	ext := observability.NewMetricsExtension()
	if err := ext.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Fatal(err)
	}
}
