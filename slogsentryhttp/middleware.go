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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/pjscruggs/slogsentry"
)

const instrumentationName = "github.com/pjscruggs/slogsentry/slogsentryhttp"

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

// Middleware returns an http.Handler middleware that records request
// metadata in the request context for the "http" processor and continues
// inbound trace context for the "trace" processor.
func Middleware(opts ...Option) func(http.Handler) http.Handler {
	cfg := applyOptions(opts)
	if cfg.propagateTrace && !cfg.propagatorsSet {
		slogsentry.EnsurePropagation()
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}

		handlerChain := wrapWithOTel(cfg, buildScopeHandler(cfg, next))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if newCtx := ensureSpanContext(ctx, r, cfg); newCtx != ctx {
				r = r.WithContext(newCtx)
			}
			handlerChain.ServeHTTP(w, r)
		})
	}
}

// buildScopeHandler attaches a RequestScope to the request and tracks the
// response while next runs.
func buildScopeHandler(cfg *config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		scope := newRequestScope(r, start, cfg)
		r = r.WithContext(ContextWithScope(r.Context(), scope))

		wrapped := wrapResponseWriter(w, scope)
		defer func() {
			scope.finalize(wrapped.Status(), wrapped.BytesWritten(), time.Since(start))
		}()
		if cfg.recoverPanics {
			defer recoverPanic(cfg, wrapped, r)
		}

		next.ServeHTTP(wrapped, r)
	})
}

// recoverPanic reports a panic from the wrapped handler as an error and
// answers 500 when nothing was written yet. http.ErrAbortHandler is
// re-raised.
func recoverPanic(cfg *config, w *responseRecorder, r *http.Request) {
	rec := recover()
	if rec == nil {
		return
	}
	if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
		panic(rec)
	}

	var err error
	switch v := rec.(type) {
	case error:
		err = fmt.Errorf("panic: %w", v)
	default:
		err = fmt.Errorf("panic: %v", v)
	}
	slogsentry.ReportError(r.Context(), cfg.logger, err, "panic serving HTTP request")

	if !w.wroteHeader {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// wrapWithOTel wraps handler with otelhttp middleware when enabled.
func wrapWithOTel(cfg *config, handler http.Handler) http.Handler {
	if !cfg.enableOTel {
		return handler
	}
	return otelhttp.NewHandler(handler, instrumentationName, otelOptions(cfg)...)
}

// otelOptions builds OpenTelemetry handler options from configuration.
func otelOptions(cfg *config) []otelhttp.Option {
	var otelOpts []otelhttp.Option
	if cfg.tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(cfg.tracerProvider))
	}
	if cfg.propagateTrace {
		if cfg.propagatorsSet && cfg.propagators != nil {
			otelOpts = append(otelOpts, otelhttp.WithPropagators(cfg.propagators))
		}
	} else {
		otelOpts = append(otelOpts, otelhttp.WithPropagators(noopPropagator{}))
	}
	if cfg.publicEndpoint {
		otelOpts = append(otelOpts, otelhttp.WithPublicEndpointFn(func(*http.Request) bool {
			return true
		}))
	}
	if cfg.spanNameFormatter != nil {
		otelOpts = append(otelOpts, otelhttp.WithSpanNameFormatter(cfg.spanNameFormatter))
	}
	for _, filter := range cfg.filters {
		if filter != nil {
			otelOpts = append(otelOpts, otelhttp.WithFilter(filter))
		}
	}
	return otelOpts
}

type noopPropagator struct{}

// Inject satisfies propagation.TextMapPropagator while remaining a no-op.
func (noopPropagator) Inject(context.Context, propagation.TextMapCarrier) {}

// Extract returns the provided context unchanged.
func (noopPropagator) Extract(ctx context.Context, _ propagation.TextMapCarrier) context.Context {
	return ctx
}

// Fields reports no injected fields.
func (noopPropagator) Fields() []string { return nil }

// ensureSpanContext extracts a remote span context from the request headers
// when ctx does not carry a valid one yet.
func ensureSpanContext(ctx context.Context, r *http.Request, cfg *config) context.Context {
	if !cfg.propagateTrace || r == nil {
		return ctx
	}
	if trace.SpanContextFromContext(ctx).IsValid() {
		return ctx
	}
	if cfg.publicEndpoint && !cfg.enableOTel {
		return ctx
	}

	propagator := cfg.propagators
	if propagator == nil {
		if cfg.propagatorsSet {
			return ctx
		}
		propagator = otel.GetTextMapPropagator()
	}
	extracted := propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))
	if !trace.SpanContextFromContext(extracted).IsValid() {
		return ctx
	}
	return extracted
}

// RequestScope captures request metadata for the duration of one request.
// Response fields are updated atomically so queued deliveries can read them
// from another goroutine.
type RequestScope struct {
	start       time.Time
	method      string
	route       string
	target      string
	query       string
	scheme      string
	host        string
	clientIP    string
	userAgent   string
	requestSize int64

	status    atomic.Int64
	respBytes atomic.Int64
	latencyNS atomic.Int64
}

const unsetLatencySentinel = int64(-1)

// newRequestScope builds a RequestScope capturing request metadata and defaults.
func newRequestScope(r *http.Request, start time.Time, cfg *config) *RequestScope {
	scope := &RequestScope{start: start}
	if r != nil {
		scope.populateFromRequest(r, cfg)
	}
	scope.status.Store(http.StatusOK)
	scope.latencyNS.Store(unsetLatencySentinel)
	return scope
}

// populateFromRequest copies request metadata into the scope.
func (rs *RequestScope) populateFromRequest(r *http.Request, cfg *config) {
	rs.requestSize = r.ContentLength
	rs.method = r.Method
	if r.URL != nil {
		rs.target = r.URL.Path
		if cfg.includeQuery {
			rs.query = r.URL.RawQuery
		}
		rs.scheme = r.URL.Scheme
	}
	if rs.scheme == "" {
		rs.scheme = inferScheme(r, cfg)
	}
	rs.host = r.Host
	if cfg.includeUserAgent {
		rs.userAgent = r.UserAgent()
	}
	if cfg.includeClientIP {
		rs.clientIP = extractIP(r.RemoteAddr)
	}
	if cfg.routeGetter != nil {
		rs.route = strings.TrimSpace(cfg.routeGetter(r))
	} else {
		rs.route = r.Pattern
	}
}

// inferScheme determines the request scheme, preferring X-Forwarded-Proto
// when trusted and otherwise falling back to TLS presence.
func inferScheme(r *http.Request, cfg *config) string {
	if cfg != nil && cfg.trustXForwardedProto {
		if proto := xForwardedProto(r.Header.Get("X-Forwarded-Proto")); proto != "" {
			return proto
		}
	}
	if r.TLS != nil {
		return schemeHTTPS
	}
	return schemeHTTP
}

// Method returns the HTTP method.
func (rs *RequestScope) Method() string { return rs.method }

// Target returns the request path component.
func (rs *RequestScope) Target() string { return rs.target }

// Query returns the raw query string when query capture is enabled.
func (rs *RequestScope) Query() string { return rs.query }

// Route returns the resolved route template, if any.
func (rs *RequestScope) Route() string { return rs.route }

// Scheme returns the resolved request scheme.
func (rs *RequestScope) Scheme() string { return rs.scheme }

// Host returns the request host.
func (rs *RequestScope) Host() string { return rs.host }

// ClientIP returns the remote address without port.
func (rs *RequestScope) ClientIP() string { return rs.clientIP }

// UserAgent returns the request's User-Agent header when captured.
func (rs *RequestScope) UserAgent() string { return rs.userAgent }

// RequestSize returns the content length reported by the client.
func (rs *RequestScope) RequestSize() int64 { return rs.requestSize }

// Start returns the time the request began processing.
func (rs *RequestScope) Start() time.Time { return rs.start }

// URL reassembles the request URL from the captured fields.
func (rs *RequestScope) URL() string {
	if rs.host == "" && rs.target == "" {
		return ""
	}
	var sb strings.Builder
	if rs.host != "" {
		sb.WriteString(rs.scheme)
		sb.WriteString("://")
		sb.WriteString(rs.host)
	}
	sb.WriteString(rs.target)
	if rs.query != "" {
		sb.WriteByte('?')
		sb.WriteString(rs.query)
	}
	return sb.String()
}

// Status returns the response status code with a default of 200.
func (rs *RequestScope) Status() int {
	code := rs.status.Load()
	if code == 0 {
		return http.StatusOK
	}
	return int(code)
}

// Latency returns the latency and whether it is finalized.
func (rs *RequestScope) Latency() (time.Duration, bool) {
	ns := rs.latencyNS.Load()
	if ns != unsetLatencySentinel {
		return time.Duration(ns), true
	}
	return time.Since(rs.start), false
}

// ResponseSize returns the number of bytes written to the client.
func (rs *RequestScope) ResponseSize() int64 {
	return rs.respBytes.Load()
}

// setStatus records the response status, defaulting to 200 when unset.
func (rs *RequestScope) setStatus(code int) {
	if code <= 0 {
		code = http.StatusOK
	}
	rs.status.Store(int64(code))
}

// addResponseBytes accumulates response bytes if the delta is positive.
func (rs *RequestScope) addResponseBytes(delta int64) {
	if delta <= 0 {
		return
	}
	rs.respBytes.Add(delta)
}

// finalize stores the terminal status, byte count and latency.
func (rs *RequestScope) finalize(status int, bytes int64, d time.Duration) {
	rs.setStatus(status)
	if bytes >= 0 {
		rs.respBytes.Store(bytes)
	}
	if d < 0 {
		d = 0
	}
	rs.latencyNS.Store(d.Nanoseconds())
}

type requestScopeKey struct{}

// ContextWithScope returns a child of ctx carrying scope.
func ContextWithScope(ctx context.Context, scope *RequestScope) context.Context {
	return context.WithValue(ctx, requestScopeKey{}, scope)
}

// ScopeFromContext retrieves the RequestScope placed in the request context
// by the middleware.
func ScopeFromContext(ctx context.Context) (*RequestScope, bool) {
	if ctx == nil {
		return nil, false
	}
	scope, ok := ctx.Value(requestScopeKey{}).(*RequestScope)
	return scope, ok && scope != nil
}

type responseRecorder struct {
	http.ResponseWriter
	scope        *RequestScope
	status       int
	wroteHeader  bool
	bytesWritten int64
}

// wrapResponseWriter decorates w to capture response metadata.
func wrapResponseWriter(w http.ResponseWriter, scope *RequestScope) *responseRecorder {
	scope.setStatus(http.StatusOK)
	return &responseRecorder{
		ResponseWriter: w,
		scope:          scope,
		status:         http.StatusOK,
	}
}

// WriteHeader records the status code before delegating to the wrapped writer.
func (rr *responseRecorder) WriteHeader(status int) {
	if rr.wroteHeader {
		rr.ResponseWriter.WriteHeader(status)
		return
	}
	rr.status = status
	rr.scope.setStatus(status)
	rr.ResponseWriter.WriteHeader(status)
	rr.wroteHeader = true
}

// Write records bytes written and forwards the call to the underlying writer.
func (rr *responseRecorder) Write(p []byte) (int, error) {
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	n, err := rr.ResponseWriter.Write(p)
	if n > 0 {
		rr.bytesWritten += int64(n)
		rr.scope.addResponseBytes(int64(n))
	}
	if err != nil {
		return n, fmt.Errorf("write response body: %w", err)
	}
	return n, nil
}

// ReadFrom streams data from src while tracking bytes.
func (rr *responseRecorder) ReadFrom(src io.Reader) (int64, error) {
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	var (
		n   int64
		err error
	)
	if rf, ok := rr.ResponseWriter.(io.ReaderFrom); ok {
		n, err = rf.ReadFrom(src)
	} else {
		n, err = io.Copy(rr.ResponseWriter, src)
	}
	if n > 0 {
		rr.bytesWritten += n
		rr.scope.addResponseBytes(n)
	}
	if err != nil {
		return n, fmt.Errorf("copy response body: %w", err)
	}
	return n, nil
}

// Status returns the HTTP status code that was written to the client.
func (rr *responseRecorder) Status() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

// BytesWritten reports the cumulative number of bytes sent to the client.
func (rr *responseRecorder) BytesWritten() int64 {
	return rr.bytesWritten
}

// Unwrap exposes the underlying ResponseWriter for http.ResponseController.
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// Flush forwards the flush request to the underlying ResponseWriter when supported.
func (rr *responseRecorder) Flush() {
	if flusher, ok := rr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack delegates to the wrapped Hijacker when supported.
func (rr *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rr.ResponseWriter.(http.Hijacker); ok {
		conn, rw, err := hijacker.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, rw, nil
	}
	return nil, nil, http.ErrNotSupported
}

// extractIP strips the port from a host:port string and returns the host component.
func extractIP(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// xForwardedProto parses X-Forwarded-Proto, returning a normalized http/https
// token when present.
func xForwardedProto(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if token, _, ok := strings.Cut(value, ","); ok {
		value = token
	}
	value = strings.ToLower(strings.TrimSpace(value))
	if value == schemeHTTP || value == schemeHTTPS {
		return value
	}
	return ""
}
