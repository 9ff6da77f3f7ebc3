package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.LexiconRunDuration.Record(ctx, 0.012)
	m.LexiconRunDuration.Record(ctx, 0.034)

	rm := collect(t, reader)
	data := findMetric(rm, "redakt.lexicon.run.duration")
	if data == nil {
		t.Fatal("redakt.lexicon.run.duration not found")
	}

	hist, ok := data.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", data.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d data points, want 1", len(hist.DataPoints))
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("Count=%d, want 2", got)
	}
}

func TestCounterWithAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.Seeks.Add(ctx, 1, metric.WithAttributes(
		Attr("source", "system"),
		Attr("action", "restricted-skip"),
	))
	m.Seeks.Add(ctx, 1, metric.WithAttributes(Attr("source", "hotkey")))

	rm := collect(t, reader)
	data := findMetric(rm, "redakt.playback.seeks")
	if data == nil {
		t.Fatal("redakt.playback.seeks not found")
	}

	sum, ok := data.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", data.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("got %d attribute sets, want 2", len(sum.DataPoints))
	}
}

func TestActiveSessionsUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	data := findMetric(rm, "redakt.active_sessions")
	if data == nil {
		t.Fatal("redakt.active_sessions not found")
	}

	sum, ok := data.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", data.Data)
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("ActiveSessions=%d, want 1", got)
	}
}

func TestAttr(t *testing.T) {
	kv := Attr("engine", "lexicon")
	if kv.Key != attribute.Key("engine") || kv.Value.AsString() != "lexicon" {
		t.Errorf("Attr built %v", kv)
	}
}
