package telemetry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Tracing.Exporter = "none"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "no service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{name: "exporter ignored while tracing is off", mutate: func(c *Config) { c.Tracing.Exporter = "zipkin" }},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Enabled, c.Tracing.Exporter = true, "zipkin" }, wantErr: "invalid trace exporter"},
		{name: "otlp without endpoint", mutate: func(c *Config) { c.Tracing.Enabled, c.Tracing.Exporter = true, "otlp" }},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.Enabled, c.Tracing.SamplingRate = true, 2 }, wantErr: "sampling rate"},
		{name: "metrics without address", mutate: func(c *Config) { c.Metrics.Enabled, c.Metrics.ListenAddress = true, "" }, wantErr: "listen address"},
		{name: "sync events ignore buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }},
		{name: "bad async buffer", mutate: func(c *Config) { c.Events.EnableAsync, c.Events.BufferSize = true, 0 }, wantErr: "buffer and batch size"},
		{name: "bad event level", mutate: func(c *Config) { c.Events.MinLevel = "debug" }, wantErr: "invalid event level"},
		{name: "all event levels", mutate: func(c *Config) { c.Events.MinLevel = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestMetricsRecording(t *testing.T) {
	m, err := NewMetrics(testConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordFileRead(10*time.Millisecond, nil)
	m.RecordFileRead(time.Millisecond, errors.New("boom"))
	m.RecordFileRead(time.Millisecond, nil)
	m.RecordDuplicateSkip()
	m.RecordContextYielded("primary")
	m.RecordContextYielded("primary")
	m.RecordContextYielded("secondary")
	m.RecordWarning()
	m.RecordTemplateCall("Library")
	m.RecordDiagnostic("syntax")

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"files ok", testutil.ToFloat64(m.filesRead.WithLabelValues(StatusOK)), 2},
		{"files failed", testutil.ToFloat64(m.filesRead.WithLabelValues(StatusFailed)), 1},
		{"duplicates", testutil.ToFloat64(m.duplicateSkips), 1},
		{"primary", testutil.ToFloat64(m.contextsYielded.WithLabelValues("primary")), 2},
		{"secondary", testutil.ToFloat64(m.contextsYielded.WithLabelValues("secondary")), 1},
		{"warnings", testutil.ToFloat64(m.warnings), 1},
		{"templates", testutil.ToFloat64(m.templateCalls.WithLabelValues("Library")), 1},
		{"diagnostics", testutil.ToFloat64(m.diagnostics.WithLabelValues("syntax")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	m.RecordWalkStarted()
	m.RecordWalkCompleted(StatusOK, time.Second)
	m.RecordFileRead(time.Second, nil)
	m.RecordDiagnostic("internal")
	if m.Registry() != nil {
		t.Error("disabled metrics should have no registry")
	}

	var nilMetrics *Metrics
	nilMetrics.RecordWarning()
}

func TestEventPublisherSync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 4})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var got []string
	ep.Subscribe(func(e Event) { got = append(got, e.Type+" "+e.Path) }, nil)
	ep.Subscribe(func(e Event) {
		if e.Level != EventLevelError {
			t.Errorf("filtered subscriber got level %q", e.Level)
		}
	}, FilterByLevel(EventLevelError))

	_ = ep.PublishWarning("/src/moz.build", "careful")
	_ = ep.PublishDuplicateSkipped("/src/a/moz.build")
	_ = ep.PublishDiagnostic("/src/b/moz.build", "syntax", "invalid syntax")

	want := []string{
		EventTypeWarning + " /src/moz.build",
		EventTypeDuplicateSkipped + " /src/a/moz.build",
		EventTypeDiagnostic + " /src/b/moz.build",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("delivered events mismatch (-want +got):\n%s", diff)
	}
}

func TestEventPublisherAsyncFlushesOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:      true,
		BufferSize:   16,
		MaxBatchSize: 100,
		EnableAsync:  true,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var mu sync.Mutex
	var paths []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, e.Path)
	}, FilterByType(EventTypeWarning))

	_ = ep.PublishWarning("/src/x/moz.build", "one")
	_ = ep.PublishDiagnostic("/src/y/moz.build", "syntax", "two")
	_ = ep.PublishWarning("/src/x/moz.build", "three")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"/src/x/moz.build", "/src/x/moz.build"}, paths); diff != "" {
		t.Errorf("delivered paths mismatch (-want +got):\n%s", diff)
	}
}

func TestEventPublisherMinLevel(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, MinLevel: EventLevelWarning})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var got []string
	ep.Subscribe(func(e Event) { got = append(got, e.Type) }, nil)

	_ = ep.PublishWalkStarted("w", "/src")
	_ = ep.PublishDuplicateSkipped("/src/a/moz.build")
	_ = ep.PublishWarning("/src/a/moz.build", "careful")
	_ = ep.PublishDiagnostic("/src/b/moz.build", "syntax", "invalid syntax")
	_ = ep.PublishWalkFailed("w", "invalid syntax")

	want := []string{EventTypeWarning, EventTypeDiagnostic, EventTypeWalkFailed}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("delivered events mismatch (-want +got):\n%s", diff)
	}
}

func TestEventIDsAssigned(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 1})
	var ev Event
	ep.Subscribe(func(e Event) { ev = e }, FilterByType(EventTypeWalkStarted))
	_ = ep.PublishWalkStarted("walk-1", "/src")
	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Fatalf("event missing id or timestamp: %+v", ev)
	}
	if ev.WalkID != "walk-1" {
		t.Errorf("WalkID = %q, want walk-1", ev.WalkID)
	}
}

func TestWalkContext(t *testing.T) {
	cfg := testConfig()
	cfg.Events.MinLevel = EventLevelInfo
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	var types []string
	tel.Events.Subscribe(func(e Event) { types = append(types, e.Type) }, nil)

	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Fatal("FromTelemetryContext did not return the attached telemetry")
	}

	wctx := WithWalkContext(ctx, "w1", "/src")
	ic := StartFileOperation(wctx, "/src/moz.build")
	ic.End(nil)
	EndWalkContext(wctx, 3, nil)

	if diff := cmp.Diff([]string{EventTypeWalkStarted, EventTypeWalkCompleted}, types); diff != "" {
		t.Errorf("walk events mismatch (-want +got):\n%s", diff)
	}
	if got := testutil.ToFloat64(tel.Metrics.walksCompleted.WithLabelValues(StatusOK)); got != 1 {
		t.Errorf("walks completed = %v, want 1", got)
	}
}

func TestWalkContextWithoutTelemetry(t *testing.T) {
	ctx := context.Background()
	if got := WithWalkContext(ctx, "w", "/src"); got != ctx {
		t.Error("WithWalkContext should return the context unchanged without telemetry")
	}
	EndWalkContext(ctx, 0, errors.New("ignored"))

	ic := StartOperation(ctx, "op")
	if ic.Span != nil {
		t.Error("StartOperation without telemetry should not create a span")
	}
	ic.End(nil)
}

func TestStartFileOperation(t *testing.T) {
	tests := []struct {
		name      string
		fileSpans bool
		wantSpan  bool
	}{
		{name: "file spans", fileSpans: true, wantSpan: true},
		{name: "walk span only", fileSpans: false, wantSpan: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Tracing.Enabled = true
			cfg.Tracing.FileSpans = tt.fileSpans
			tel, err := NewTelemetry(cfg)
			if err != nil {
				t.Fatalf("NewTelemetry() error = %v", err)
			}
			defer tel.Shutdown(context.Background())

			wctx := WithWalkContext(tel.WithContext(context.Background()), "w", "/src")
			ic := StartFileOperation(wctx, "/src/a/moz.build")
			defer ic.End(nil)

			if got := ic.Span != nil; got != tt.wantSpan {
				t.Fatalf("file span opened = %v, want %v", got, tt.wantSpan)
			}
			if TraceID(ic.Ctx) != TraceID(wctx) || TraceID(wctx) == "" {
				t.Errorf("file operation trace %q, want walk trace %q", TraceID(ic.Ctx), TraceID(wctx))
			}
			if gotNew := SpanID(ic.Ctx) != SpanID(wctx); gotNew != tt.wantSpan {
				t.Errorf("span id changed = %v, want %v", gotNew, tt.wantSpan)
			}
			if ic.Timer == nil || ic.Logger == nil {
				t.Error("file operation should carry a timer and a logger")
			}
		})
	}
}
