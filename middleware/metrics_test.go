package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/qualidade-ams/books-sonda-sub000/id"
	"github.com/qualidade-ams/books-sonda-sub000/job"
	mw "github.com/qualidade-ams/books-sonda-sub000/middleware"
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

func TestMetrics_RecordsExecutions(t *testing.T) {
	reader, mp := setupTestMeter()
	chain := mw.Chain(mw.MetricsWithMeter(mp.Meter("test")))

	j := &job.Job{Type: job.TypeMonthlyDispatch, ID: id.NewJobID()}

	// One success and one failure.
	if err := chain(context.Background(), j, func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantErr := errors.New("relay down")
	if err := chain(context.Background(), j, func(_ context.Context) error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}

	rm := collectMetrics(t, reader)
	m := findMetric(rm, "disparo.job.executions")
	if m == nil {
		t.Fatal("disparo.job.executions not recorded")
	}

	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", m.Data)
	}

	var total int64
	statuses := map[string]int64{}
	for _, dp := range sum.DataPoints {
		total += dp.Value
		if status, found := dp.Attributes.Value(attribute.Key("status")); found {
			statuses[status.AsString()] += dp.Value
		}
	}
	if total != 2 {
		t.Errorf("total executions = %d, want 2", total)
	}
	if statuses["ok"] != 1 || statuses["error"] != 1 {
		t.Errorf("status split = %v, want 1 ok / 1 error", statuses)
	}
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	chain := mw.Chain(mw.MetricsWithMeter(mp.Meter("test")))

	j := &job.Job{Type: job.TypeCleanupOldData, ID: id.NewJobID()}
	if err := chain(context.Background(), j, func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collectMetrics(t, reader)
	if findMetric(rm, "disparo.job.duration") == nil {
		t.Fatal("disparo.job.duration not recorded")
	}
}
