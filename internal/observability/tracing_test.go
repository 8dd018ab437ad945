package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig()
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.ServiceName != "refscan" {
		t.Fatalf("expected service name 'refscan', got %s", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Fatalf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInitTracing_NoEndpoint(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracing(ctx, &TracingConfig{
		ServiceName: "test",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected non-nil tracer provider")
	}
	if tp.Tracer() == nil {
		t.Fatal("expected non-nil tracer")
	}
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestInitTracing_NilConfig(t *testing.T) {
	tp, err := InitTracing(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected non-nil tracer provider")
	}
}

func TestInitTracing_WithEndpoint(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	// The gRPC exporter dials lazily, so nothing has to listen here.
	tp, err := InitTracing(context.Background(), &TracingConfig{
		ServiceName:    "refscan-test",
		ServiceVersion: "1.2.3",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     0.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp.provider == nil {
		t.Fatal("expected an SDK provider when an endpoint is set")
	}
	if otel.GetTracerProvider() != tp.provider {
		t.Error("expected the SDK provider to be installed globally")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestTracerProvider_Shutdown_NilProvider(t *testing.T) {
	tp := &TracerProvider{}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil error for nil provider, got: %v", err)
	}
}

// recordSpans installs an in-memory span recorder as the global provider for
// the duration of the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestScanSpan_RecordsCounts(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartScanSpan(context.Background(), "scan-1", "/opt/app")
	RecordScanResult(span, 10, 7, 3)
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(ended))
	}
	s := ended[0]
	if s.Name() != "scan.build" {
		t.Errorf("span name = %q, want scan.build", s.Name())
	}
	if v, ok := attrValue(s.Attributes(), "scan.root"); !ok || v.AsString() != "/opt/app" {
		t.Errorf("scan.root = %v (present=%v)", v.AsString(), ok)
	}
	if v, ok := attrValue(s.Attributes(), "scan.loaded"); !ok || v.AsInt64() != 7 {
		t.Errorf("scan.loaded = %d (present=%v)", v.AsInt64(), ok)
	}
	if v, ok := attrValue(s.Attributes(), "scan.skipped"); !ok || v.AsInt64() != 3 {
		t.Errorf("scan.skipped = %d (present=%v)", v.AsInt64(), ok)
	}
}

func TestQuerySpan_RecordsResult(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartQuerySpan(context.Background(), `Lib\.`, "re2")
	RecordQueryResult(span, 1, 2)
	span.End()

	s := sr.Ended()[0]
	if s.Name() != "query.filter" {
		t.Errorf("span name = %q, want query.filter", s.Name())
	}
	if v, _ := attrValue(s.Attributes(), "query.pattern"); v.AsString() != `Lib\.` {
		t.Errorf("query.pattern = %q", v.AsString())
	}
	if v, _ := attrValue(s.Attributes(), "query.references"); v.AsInt64() != 2 {
		t.Errorf("query.references = %d, want 2", v.AsInt64())
	}
}

func TestRecordError(t *testing.T) {
	sr := recordSpans(t)

	_, span := StartScanSpan(context.Background(), "scan-2", "/missing")
	RecordError(span, nil)
	RecordError(span, errors.New("directory not found"))
	span.End()

	s := sr.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status().Code)
	}
	if len(s.Events()) != 1 {
		t.Errorf("expected 1 error event, got %d", len(s.Events()))
	}
}

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "info", "json").Info("scan complete", "loaded", 3)
	if !strings.Contains(buf.String(), `"loaded":3`) {
		t.Errorf("json output missing attribute: %s", buf.String())
	}

	buf.Reset()
	NewLogger(&buf, "info", "text").Info("scan complete", "loaded", 3)
	if !strings.Contains(buf.String(), "loaded=3") {
		t.Errorf("text output missing attribute: %s", buf.String())
	}

	buf.Reset()
	NewLogger(&buf, "warn", "text").Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info line should be filtered at warn level: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
