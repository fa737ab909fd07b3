package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/austindbirch/logreplay/internal/replay"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type failingToken struct{}

func (failingToken) Token(context.Context) (string, error) { return "", errors.New("key expired") }

func TestClient_Do(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantReason string
		wantLength int64
	}{
		{
			name: "ok with content length",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("hello"))
			},
			wantStatus: 200,
			wantReason: "OK",
			wantLength: 5,
		},
		{
			name: "chunked body is counted",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("abc"))
				w.(http.Flusher).Flush()
				w.Write([]byte("defg"))
			},
			wantStatus: 200,
			wantReason: "OK",
			wantLength: 7,
		},
		{
			name: "server error is a response, not an error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "down", http.StatusServiceUnavailable)
			},
			wantStatus: 503,
			wantReason: "Service Unavailable",
			wantLength: int64(len("down\n")),
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantStatus: 404,
			wantReason: "Not Found",
			wantLength: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			resp, err := New().Do(context.Background(), srv.URL+"/path")
			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("Do() Status = %d, want %d", resp.Status, tt.wantStatus)
			}
			if resp.Reason != tt.wantReason {
				t.Errorf("Do() Reason = %q, want %q", resp.Reason, tt.wantReason)
			}
			if resp.ContentLength != tt.wantLength {
				t.Errorf("Do() ContentLength = %d, want %d", resp.ContentLength, tt.wantLength)
			}
		})
	}
}

func TestClient_RequestHeaders(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	otel.SetTracerProvider(trace.NewTracerProvider(trace.WithSyncer(exporter)))
	otel.SetTextMapPropagator(propagation.TraceContext{})

	var got http.Header
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		method, path = r.Method, r.URL.RequestURI()
	}))
	defer srv.Close()

	client := New(WithTokenSource(staticToken("abc.def.ghi")), WithUserAgent("replay-test"))
	if _, err := client.Do(context.Background(), srv.URL+"/items?id=7"); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if method != http.MethodGet || path != "/items?id=7" {
		t.Errorf("request = %s %s, want GET /items?id=7", method, path)
	}
	if auth := got.Get("Authorization"); auth != "Bearer abc.def.ghi" {
		t.Errorf("Authorization = %q", auth)
	}
	if ua := got.Get("User-Agent"); ua != "replay-test" {
		t.Errorf("User-Agent = %q", ua)
	}
	if got.Get("traceparent") == "" || got.Get("X-Trace-Id") == "" {
		t.Errorf("trace headers missing: %v", got)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "replay.request" {
		t.Errorf("spans = %v, want one replay.request span", spans)
	}
}

func TestClient_TokenError(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := New(WithTokenSource(failingToken{})).Do(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("Do() error = nil, want token error")
	}
	if called {
		t.Error("request was sent without a token")
	}
}

func TestClient_TransportErrors(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name     string
		client   *Client
		url      string
		wantKind replay.FailureKind
	}{
		{
			name:     "timeout",
			client:   New(WithTimeout(50 * time.Millisecond)),
			url:      slow.URL,
			wantKind: replay.KindTimeout,
		},
		{
			name:     "connection refused",
			client:   New(),
			url:      closedURL,
			wantKind: replay.KindConnectionRefused,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.client.Do(context.Background(), tt.url)
			if err == nil {
				t.Fatal("Do() error = nil, want transport error")
			}
			if kind := replay.ClassifyError(err); kind != tt.wantKind {
				t.Errorf("ClassifyError(%v) = %s, want %s", err, kind, tt.wantKind)
			}
		})
	}
}

func TestClient_InvalidURL(t *testing.T) {
	if _, err := New().Do(context.Background(), "http://[::1"); err == nil {
		t.Error("Do() error = nil for malformed URL")
	}
}
