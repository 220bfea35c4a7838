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
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Option configures the HTTP middleware.
type Option func(*config)

type config struct {
	logger               *slog.Logger
	enableOTel           bool
	tracerProvider       trace.TracerProvider
	propagators          propagation.TextMapPropagator
	propagatorsSet       bool
	propagateTrace       bool
	publicEndpoint       bool
	spanNameFormatter    func(string, *http.Request) string
	filters              []otelhttp.Filter
	routeGetter          func(*http.Request) string
	includeClientIP      bool
	includeQuery         bool
	includeUserAgent     bool
	trustXForwardedProto bool
	recoverPanics        bool
}

// defaultConfig returns the baseline middleware configuration.
func defaultConfig() *config {
	return &config{
		logger:          slog.Default(),
		enableOTel:      true,
		includeClientIP: true,
		propagateTrace:  true,
	}
}

// applyOptions applies the provided options on top of defaultConfig.
func applyOptions(opts []Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// WithLogger sets the logger recovered panics are reported through. When
// nil, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			cfg.logger = slog.Default()
			return
		}
		cfg.logger = logger
	}
}

// WithPropagators supplies the TextMapPropagator used to extract inbound
// trace context. When omitted, otel.GetTextMapPropagator() is used.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *config) {
		cfg.propagators = p
		cfg.propagatorsSet = true
	}
}

// WithTracerProvider installs the OpenTelemetry tracer provider used when
// composing the otelhttp handler.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.tracerProvider = tp
	}
}

// WithTracePropagation toggles extraction of inbound trace context. Enabled
// by default.
func WithTracePropagation(enabled bool) Option {
	return func(cfg *config) {
		cfg.propagateTrace = enabled
	}
}

// WithPublicEndpoint toggles the otelhttp public endpoint hint.
func WithPublicEndpoint(enabled bool) Option {
	return func(cfg *config) {
		cfg.publicEndpoint = enabled
	}
}

// WithOTel enables or disables automatic otelhttp instrumentation. It is
// enabled by default.
func WithOTel(enabled bool) Option {
	return func(cfg *config) {
		cfg.enableOTel = enabled
	}
}

// WithSpanNameFormatter customizes otelhttp span naming.
func WithSpanNameFormatter(formatter func(string, *http.Request) string) Option {
	return func(cfg *config) {
		cfg.spanNameFormatter = formatter
	}
}

// WithFilter appends an otelhttp filter applied to inbound requests prior to
// span creation.
func WithFilter(filter otelhttp.Filter) Option {
	return func(cfg *config) {
		if filter != nil {
			cfg.filters = append(cfg.filters, filter)
		}
	}
}

// WithRouteGetter overrides how the middleware resolves the route template
// for a request. Defaults to http.Request.Pattern.
func WithRouteGetter(fn func(*http.Request) string) Option {
	return func(cfg *config) {
		cfg.routeGetter = fn
	}
}

// WithClientIP toggles capture of the client IP. The default is true.
func WithClientIP(enabled bool) Option {
	return func(cfg *config) {
		cfg.includeClientIP = enabled
	}
}

// WithIncludeQuery toggles capture of the raw query string. By default
// queries are omitted to avoid reporting sensitive data.
func WithIncludeQuery(enabled bool) Option {
	return func(cfg *config) {
		cfg.includeQuery = enabled
	}
}

// WithUserAgent toggles capture of the User-Agent header. Off by default.
func WithUserAgent(enabled bool) Option {
	return func(cfg *config) {
		cfg.includeUserAgent = enabled
	}
}

// WithTrustXForwardedProto makes the middleware take the request scheme from
// X-Forwarded-Proto when TLS terminates at a proxy.
func WithTrustXForwardedProto(enabled bool) Option {
	return func(cfg *config) {
		cfg.trustXForwardedProto = enabled
	}
}

// WithRecoverPanics recovers panics from the wrapped handler, reports them
// as errors through the configured logger and answers 500. Off by default.
func WithRecoverPanics(enabled bool) Option {
	return func(cfg *config) {
		cfg.recoverPanics = enabled
	}
}
