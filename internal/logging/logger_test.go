package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestLogger(service string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := New(service)
	logger.SetOutput(&buf)
	logger.SetLevel(LevelDebug)
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", line, err)
		}
		entries = append(entries, m)
	}
	return entries
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
	}{
		{
			name:        "create logger with service name",
			serviceName: "test-service",
		},
		{
			name:        "create logger with empty service name",
			serviceName: "",
		},
		{
			name:        "create logger with complex service name",
			serviceName: "logreplay-run-v2.1.3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.serviceName)

			if logger == nil {
				t.Fatal("New() returned nil logger")
			}
			if logger.service != tt.serviceName {
				t.Errorf("New() service = %q, want %q", logger.service, tt.serviceName)
			}
			if logger.level != LevelInfo {
				t.Errorf("New() level = %q, want %q", logger.level, LevelInfo)
			}
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	tests := []struct {
		name     string
		hasTrace bool
	}{
		{name: "with trace context", hasTrace: true},
		{name: "without trace context", hasTrace: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New("test-service")
			ctx := context.Background()

			if tt.hasTrace {
				newCtx, span := otel.Tracer("test-tracer").Start(ctx, "test-span")
				ctx = newCtx
				defer span.End()
			}

			before := time.Now().UTC()
			entry := logger.WithContext(ctx)
			after := time.Now().UTC()

			if entry.Service != "test-service" {
				t.Errorf("WithContext() Service = %q, want %q", entry.Service, "test-service")
			}
			if entry.Time.Before(before) || entry.Time.After(after) {
				t.Errorf("WithContext() Time = %v, want between %v and %v", entry.Time, before, after)
			}
			if tt.hasTrace && (entry.TraceID == "" || entry.SpanID == "") {
				t.Errorf("WithContext() TraceID = %q, SpanID = %q, want both set", entry.TraceID, entry.SpanID)
			}
			if !tt.hasTrace && entry.TraceID != "" {
				t.Errorf("WithContext() TraceID = %q, want empty", entry.TraceID)
			}
		})
	}
}

func TestLogEntry_FluentMethods(t *testing.T) {
	logger, buf := newTestLogger("svc")

	logger.Plain().
		WithRun("run-1").
		WithURL("http://localhost:80/a").
		WithPath("/a").
		WithTraceID("trace-1").
		WithField("seq", 3).
		WithFields(map[string]any{"status": 200}).
		WithError(errors.New("boom")).
		Info("done")

	entries := decodeLines(t, buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]

	want := map[string]any{
		"level":    "info",
		"msg":      "done",
		"service":  "svc",
		"run_id":   "run-1",
		"url":      "http://localhost:80/a",
		"path":     "/a",
		"trace_id": "trace-1",
	}
	for k, v := range want {
		if e[k] != v {
			t.Errorf("entry[%q] = %v, want %v", k, e[k], v)
		}
	}

	fields, ok := e["fields"].(map[string]any)
	if !ok {
		t.Fatalf("entry fields missing: %v", e)
	}
	if fields["seq"] != float64(3) || fields["status"] != float64(200) || fields["error"] != "boom" {
		t.Errorf("entry fields = %v", fields)
	}
}

func TestLogEntry_WithErrorNil(t *testing.T) {
	entry := New("svc").Plain().WithError(nil)
	if _, ok := entry.Fields["error"]; ok {
		t.Errorf("WithError(nil) added an error field: %v", entry.Fields)
	}
}

func TestLogEntry_LoggingMethods(t *testing.T) {
	tests := []struct {
		name      string
		logFunc   func(*LogEntry)
		wantLevel LogLevel
		wantMsg   string
	}{
		{"Debug", func(e *LogEntry) { e.Debug("debug message") }, LevelDebug, "debug message"},
		{"Debugf", func(e *LogEntry) { e.Debugf("debug %d", 1) }, LevelDebug, "debug 1"},
		{"Info", func(e *LogEntry) { e.Info("info message") }, LevelInfo, "info message"},
		{"Infof", func(e *LogEntry) { e.Infof("info %s", "x") }, LevelInfo, "info x"},
		{"Warn", func(e *LogEntry) { e.Warn("warn message") }, LevelWarn, "warn message"},
		{"Warnf", func(e *LogEntry) { e.Warnf("warn %v", true) }, LevelWarn, "warn true"},
		{"Error", func(e *LogEntry) { e.Error("error message") }, LevelError, "error message"},
		{"Errorf", func(e *LogEntry) { e.Errorf("error %q", "y") }, LevelError, `error "y"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newTestLogger("svc")
			tt.logFunc(logger.Plain())

			entries := decodeLines(t, buf)
			if len(entries) != 1 {
				t.Fatalf("got %d entries, want 1", len(entries))
			}
			if entries[0]["level"] != string(tt.wantLevel) {
				t.Errorf("level = %v, want %v", entries[0]["level"], tt.wantLevel)
			}
			if entries[0]["msg"] != tt.wantMsg {
				t.Errorf("msg = %v, want %v", entries[0]["msg"], tt.wantMsg)
			}
			if _, ok := entries[0]["fields"]; ok {
				t.Errorf("empty fields should be omitted: %v", entries[0])
			}
		})
	}
}

func TestLogger_SetLevel(t *testing.T) {
	tests := []struct {
		name      string
		level     LogLevel
		wantLines int
	}{
		{name: "debug writes everything", level: LevelDebug, wantLines: 4},
		{name: "info drops debug", level: LevelInfo, wantLines: 3},
		{name: "warn drops info and debug", level: LevelWarn, wantLines: 2},
		{name: "error keeps only errors", level: LevelError, wantLines: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newTestLogger("svc")
			logger.SetLevel(tt.level)

			logger.Plain().Debug("d")
			logger.Plain().Info("i")
			logger.Plain().Warn("w")
			logger.Plain().Error("e")

			if got := len(decodeLines(t, buf)); got != tt.wantLines {
				t.Errorf("wrote %d lines at level %s, want %d", got, tt.level, tt.wantLines)
			}
		})
	}
}

func TestLogEntry_Fatal(t *testing.T) {
	logger, buf := newTestLogger("svc")
	var code int
	logger.exitFn = func(c int) { code = c }

	logger.Plain().Fatalf("cannot start: %s", "bad config")

	if code != 1 {
		t.Errorf("Fatal exit code = %d, want 1", code)
	}
	entries := decodeLines(t, buf)
	if len(entries) != 1 || entries[0]["level"] != "fatal" {
		t.Errorf("Fatal entries = %v", entries)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGlobalFunctions(t *testing.T) {
	var buf bytes.Buffer
	Default().SetOutput(&buf)
	defer Default().SetOutput(os.Stderr)
	SetDefaultService("global-svc")
	defer SetDefaultService("logreplay")

	Plain().Info("plain")
	WithFields(map[string]any{"k": "v"}).Info("fields")
	WithContext(context.Background()).Info("ctx")

	entries := decodeLines(t, &buf)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for _, e := range entries {
		if e["service"] != "global-svc" {
			t.Errorf("service = %v, want global-svc", e["service"])
		}
	}
}
