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

package slogsentrygrpc

import (
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
)

// Option configures gRPC interceptors and helper functions.
type Option func(*config)

type config struct {
	logger         *slog.Logger
	enableOTel     bool
	tracerProvider trace.TracerProvider
	propagators    propagation.TextMapPropagator
	propagatorsSet bool
	propagateTrace bool
	filters        []otelgrpc.Filter
	includePeer    bool
	includeSizes   bool
	recoverPanics  bool
	reportCodes    map[codes.Code]struct{}
}

// defaultConfig returns the baseline interceptor configuration.
func defaultConfig() *config {
	return &config{
		logger:         slog.Default(),
		enableOTel:     true,
		includePeer:    true,
		includeSizes:   true,
		propagateTrace: true,
	}
}

// applyOptions applies the provided Option list, starting from defaultConfig.
func applyOptions(opts []Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// WithLogger sets the logger used to report recovered panics and failed
// RPCs. When nil, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			cfg.logger = slog.Default()
			return
		}
		cfg.logger = logger
	}
}

// WithPropagators sets the text map propagator used for extracting metadata
// (server) or injecting metadata (client). When omitted, the global
// propagator is used.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *config) {
		cfg.propagators = p
		cfg.propagatorsSet = true
	}
}

// WithTracerProvider configures the tracer provider used when composing
// otelgrpc StatsHandlers.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.tracerProvider = tp
	}
}

// WithTracePropagation toggles extraction and injection of trace context.
// Enabled by default.
func WithTracePropagation(enabled bool) Option {
	return func(cfg *config) {
		cfg.propagateTrace = enabled
	}
}

// WithOTel enables or disables automatic otelgrpc StatsHandlers. Enabled by
// default.
func WithOTel(enabled bool) Option {
	return func(cfg *config) {
		cfg.enableOTel = enabled
	}
}

// WithFilter appends an otelgrpc filter applied before spans are created.
func WithFilter(filter otelgrpc.Filter) Option {
	return func(cfg *config) {
		if filter != nil {
			cfg.filters = append(cfg.filters, filter)
		}
	}
}

// WithPeerInfo toggles capture of the peer address. Enabled by default.
func WithPeerInfo(enabled bool) Option {
	return func(cfg *config) {
		cfg.includePeer = enabled
	}
}

// WithPayloadSizes toggles capture of request and response message sizes.
// Enabled by default.
func WithPayloadSizes(enabled bool) Option {
	return func(cfg *config) {
		cfg.includeSizes = enabled
	}
}

// WithRecoverPanics makes server interceptors recover handler panics,
// report them through the logger and fail the RPC with codes.Internal.
func WithRecoverPanics(enabled bool) Option {
	return func(cfg *config) {
		cfg.recoverPanics = enabled
	}
}

// WithReportCodes makes server interceptors report handler errors whose
// status code is one of codes. No errors are reported by default.
func WithReportCodes(reported ...codes.Code) Option {
	return func(cfg *config) {
		if cfg.reportCodes == nil {
			cfg.reportCodes = make(map[codes.Code]struct{}, len(reported))
		}
		for _, code := range reported {
			cfg.reportCodes[code] = struct{}{}
		}
	}
}
