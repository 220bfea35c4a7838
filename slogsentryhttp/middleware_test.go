// Copyright 2025 Patrick J. Scruggs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package slogsentryhttp

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/pjscruggs/slogsentry"
	"github.com/pjscruggs/slogsentry/slogsentrytest"
)

// newTestHandler builds a slogsentry handler running the request processor
// and delivering to a Recorder.
func newTestHandler(t *testing.T) (*slog.Logger, *slogsentrytest.Recorder) {
	t.Helper()
	registry, err := slogsentry.InstallRegistry(nil)
	if err != nil {
		t.Fatalf("InstallRegistry returned error: %v", err)
	}
	rec := slogsentrytest.NewRecorder(registry)
	h, err := slogsentry.NewHandler(
		slogsentry.WithClient(rec),
		slogsentry.WithProcessors(ProcessorName),
		slogsentry.WithLevel(slog.LevelWarn),
	)
	if err != nil {
		t.Fatalf("NewHandler returned error: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return slog.New(h), rec
}

// TestMiddlewarePopulatesScope checks the request metadata seen by handlers.
func TestMiddlewarePopulatesScope(t *testing.T) {
	t.Parallel()

	var scope *RequestScope
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		scope, ok = ScopeFromContext(r.Context())
		if !ok {
			t.Errorf("ScopeFromContext returned false")
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	})
	mw := Middleware(
		WithOTel(false),
		WithTracePropagation(false),
		WithIncludeQuery(true),
		WithUserAgent(true),
		WithRouteGetter(func(*http.Request) string { return " /orders/{id} " }),
	)

	req := httptest.NewRequest(http.MethodPost, "/orders/7?expand=items", strings.NewReader("abc"))
	req.RemoteAddr = "192.0.2.10:51234"
	req.Header.Set("User-Agent", "probe/1.0")
	rr := httptest.NewRecorder()
	mw(next).ServeHTTP(rr, req)

	if scope == nil {
		t.Fatal("handler did not observe a scope")
	}
	checks := []struct {
		name, got, want string
	}{
		{"Method", scope.Method(), http.MethodPost},
		{"Target", scope.Target(), "/orders/7"},
		{"Query", scope.Query(), "expand=items"},
		{"Route", scope.Route(), "/orders/{id}"},
		{"Scheme", scope.Scheme(), "http"},
		{"Host", scope.Host(), "example.com"},
		{"ClientIP", scope.ClientIP(), "192.0.2.10"},
		{"UserAgent", scope.UserAgent(), "probe/1.0"},
		{"URL", scope.URL(), "http://example.com/orders/7?expand=items"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s() = %q, want %q", c.name, c.got, c.want)
		}
	}
	if got := scope.RequestSize(); got != 3 {
		t.Fatalf("RequestSize() = %d, want 3", got)
	}
	if got := scope.Status(); got != http.StatusCreated {
		t.Fatalf("Status() = %d, want %d", got, http.StatusCreated)
	}
	if got := scope.ResponseSize(); got != 5 {
		t.Fatalf("ResponseSize() = %d, want 5", got)
	}
	if _, final := scope.Latency(); !final {
		t.Fatal("Latency() not finalized after request")
	}
	if scope.Start().IsZero() {
		t.Fatal("Start() is zero")
	}
}

// TestMiddlewareOmitsOptionalFields covers the default configuration.
func TestMiddlewareOmitsOptionalFields(t *testing.T) {
	t.Parallel()

	var scope *RequestScope
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		scope, _ = ScopeFromContext(r.Context())
	})
	mw := Middleware(WithOTel(false), WithTracePropagation(false), WithClientIP(false))

	req := httptest.NewRequest(http.MethodGet, "/health?verbose=1", nil)
	req.Header.Set("User-Agent", "probe/1.0")
	mw(next).ServeHTTP(httptest.NewRecorder(), req)

	if scope == nil {
		t.Fatal("handler did not observe a scope")
	}
	if scope.Query() != "" || scope.UserAgent() != "" || scope.ClientIP() != "" {
		t.Fatalf("optional fields = (%q, %q, %q), want empty", scope.Query(), scope.UserAgent(), scope.ClientIP())
	}
	if got := scope.Status(); got != http.StatusOK {
		t.Fatalf("Status() = %d, want 200", got)
	}
}

// TestMiddlewareAttachesRequestField reports the request through the processor.
func TestMiddlewareAttachesRequestField(t *testing.T) {
	t.Parallel()

	logger, rec := newTestHandler(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.WarnContext(r.Context(), "slow upstream")
		w.WriteHeader(http.StatusAccepted)
	})
	mw := Middleware(WithOTel(false), WithTracePropagation(false))

	req := httptest.NewRequest(http.MethodGet, "/checkout", nil)
	req.RemoteAddr = "198.51.100.4:80"
	mw(next).ServeHTTP(httptest.NewRecorder(), req)

	captures := rec.Captures()
	if len(captures) != 1 {
		t.Fatalf("captures = %d, want 1", len(captures))
	}
	fields, ok := captures[0].Fields[RequestField].(map[string]any)
	if !ok {
		t.Fatalf("Fields[%q] = %#v, want map", RequestField, captures[0].Fields[RequestField])
	}
	if fields["method"] != http.MethodGet {
		t.Fatalf("method = %v, want GET", fields["method"])
	}
	if fields["url"] != "http://example.com/checkout" {
		t.Fatalf("url = %v, want http://example.com/checkout", fields["url"])
	}
	if fields["client_ip"] != "198.51.100.4" {
		t.Fatalf("client_ip = %v, want 198.51.100.4", fields["client_ip"])
	}
	if _, ok := fields["user_agent"]; ok {
		t.Fatalf("user_agent present without WithUserAgent: %v", fields)
	}
}

// TestMiddlewareRecoversPanics reports the panic and answers 500.
func TestMiddlewareRecoversPanics(t *testing.T) {
	t.Parallel()

	logger, rec := newTestHandler(t)
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("ledger offline")
	})
	mw := Middleware(WithOTel(false), WithTracePropagation(false), WithRecoverPanics(true), WithLogger(logger))

	rr := httptest.NewRecorder()
	mw(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pay", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	captures := rec.Captures()
	if len(captures) != 1 {
		t.Fatalf("captures = %d, want 1", len(captures))
	}
	c := captures[0]
	if c.Kind != slogsentrytest.KindException {
		t.Fatalf("Kind = %v, want exception", c.Kind)
	}
	if c.Report.Message != "panic serving HTTP request" {
		t.Fatalf("Message = %q, want panic serving HTTP request", c.Report.Message)
	}
	if c.Report.Err == nil || !strings.Contains(c.Report.Err.Error(), "ledger offline") {
		t.Fatalf("Err = %v, want panic value", c.Report.Err)
	}
	if _, ok := c.Fields[RequestField]; !ok {
		t.Fatalf("Fields = %v, want %q", c.Fields, RequestField)
	}
}

// TestMiddlewareRepanicsAbortHandler leaves http.ErrAbortHandler to net/http.
func TestMiddlewareRepanicsAbortHandler(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})
	mw := Middleware(WithOTel(false), WithTracePropagation(false), WithRecoverPanics(true))

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Fatalf("recover() = %v, want http.ErrAbortHandler", r)
		}
	}()
	mw(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

// TestMiddlewareExtractsTraceContext uses the configured propagator.
func TestMiddlewareExtractsTraceContext(t *testing.T) {
	t.Parallel()

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var got trace.SpanContext
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = trace.SpanContextFromContext(r.Context())
	})
	mw := Middleware(WithOTel(false), WithPropagators(propagation.TraceContext{}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	mw(next).ServeHTTP(httptest.NewRecorder(), req)

	if !got.IsValid() {
		t.Fatal("span context not extracted")
	}
	if got.TraceID().String() != traceID {
		t.Fatalf("TraceID = %s, want %s", got.TraceID(), traceID)
	}
}

// TestMiddlewareSkipsTraceWhenDisabled ignores inbound trace headers.
func TestMiddlewareSkipsTraceWhenDisabled(t *testing.T) {
	t.Parallel()

	var got trace.SpanContext
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = trace.SpanContextFromContext(r.Context())
	})
	mw := Middleware(WithOTel(false), WithTracePropagation(false), WithPropagators(propagation.TraceContext{}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	mw(next).ServeHTTP(httptest.NewRecorder(), req)

	if got.IsValid() {
		t.Fatalf("span context = %v, want invalid", got)
	}
}

// TestMiddlewareNilNextServesNotFound falls back to http.NotFoundHandler.
func TestMiddlewareNilNextServesNotFound(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	Middleware(WithOTel(false), WithTracePropagation(false))(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

// TestInferScheme covers TLS and X-Forwarded-Proto.
func TestInferScheme(t *testing.T) {
	t.Parallel()

	plain := httptest.NewRequest(http.MethodGet, "/", nil)
	plain.Header.Set("X-Forwarded-Proto", "https")
	if got := inferScheme(plain, &config{}); got != schemeHTTP {
		t.Fatalf("untrusted proto scheme = %q, want http", got)
	}
	if got := inferScheme(plain, &config{trustXForwardedProto: true}); got != schemeHTTPS {
		t.Fatalf("trusted proto scheme = %q, want https", got)
	}

	secure := httptest.NewRequest(http.MethodGet, "https://example.com/", nil)
	if got := inferScheme(secure, &config{}); got != schemeHTTPS {
		t.Fatalf("TLS scheme = %q, want https", got)
	}
}

// TestXForwardedProto normalizes header values.
func TestXForwardedProto(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":              "",
		"https":         "https",
		" HTTP ":        "http",
		"https, http":   "https",
		"ws":            "",
		"gopher, https": "",
	}
	for in, want := range cases {
		if got := xForwardedProto(in); got != want {
			t.Fatalf("xForwardedProto(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestExtractIP strips ports when present.
func TestExtractIP(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                  "",
		"192.0.2.1:8080":    "192.0.2.1",
		"[2001:db8::1]:443": "2001:db8::1",
		"unix-socket":       "unix-socket",
	}
	for in, want := range cases {
		if got := extractIP(in); got != want {
			t.Fatalf("extractIP(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestResponseRecorderTracksWrites covers WriteHeader, Write and ReadFrom.
func TestResponseRecorderTracksWrites(t *testing.T) {
	t.Parallel()

	scope := newRequestScope(nil, time.Now(), defaultConfig())
	rr := httptest.NewRecorder()
	w := wrapResponseWriter(rr, scope)

	w.WriteHeader(http.StatusTeapot)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatalf("Write returned %v", err)
	}
	if _, err := w.ReadFrom(strings.NewReader("defg")); err != nil {
		t.Fatalf("ReadFrom returned %v", err)
	}
	w.Flush()

	if got := w.Status(); got != http.StatusTeapot {
		t.Fatalf("Status() = %d, want %d", got, http.StatusTeapot)
	}
	if got := w.BytesWritten(); got != 7 {
		t.Fatalf("BytesWritten() = %d, want 7", got)
	}
	if got := scope.ResponseSize(); got != 7 {
		t.Fatalf("scope.ResponseSize() = %d, want 7", got)
	}
	if rr.Body.String() != "abcdefg" {
		t.Fatalf("body = %q, want abcdefg", rr.Body.String())
	}
	if !rr.Flushed {
		t.Fatal("Flush was not forwarded")
	}
	if w.Unwrap() != rr {
		t.Fatal("Unwrap did not return the underlying writer")
	}
	if _, _, err := w.Hijack(); err != http.ErrNotSupported {
		t.Fatalf("Hijack() error = %v, want http.ErrNotSupported", err)
	}
}

// TestScopeFromContextMissing reports false without a scope.
func TestScopeFromContextMissing(t *testing.T) {
	t.Parallel()

	if _, ok := ScopeFromContext(context.Background()); ok {
		t.Fatal("ScopeFromContext(background) = true, want false")
	}
	if _, ok := ScopeFromContext(ContextWithScope(context.Background(), nil)); ok {
		t.Fatal("ScopeFromContext(nil scope) = true, want false")
	}
	if _, ok := RequestFields(context.Background()); ok {
		t.Fatal("RequestFields(background) = true, want false")
	}
}
