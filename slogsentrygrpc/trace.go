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
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
)

// metadataCarrier adapts gRPC metadata to propagation.TextMapCarrier.
type metadataCarrier struct {
	metadata.MD
}

// Get returns the first value for key.
func (mc metadataCarrier) Get(key string) string {
	values := mc.MD.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Set replaces the values for key.
func (mc metadataCarrier) Set(key string, value string) {
	mc.MD.Set(key, value)
}

// Keys lists the metadata keys.
func (mc metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(mc.MD))
	for k := range mc.MD {
		keys = append(keys, k)
	}
	return keys
}

var _ propagation.TextMapCarrier = metadataCarrier{}

// propagatorFor returns the configured propagator or the global one.
func propagatorFor(cfg *config) propagation.TextMapPropagator {
	if cfg.propagatorsSet {
		return cfg.propagators
	}
	return otel.GetTextMapPropagator()
}

// ensureServerSpanContext extracts a remote span context from incoming
// metadata when ctx does not carry a valid one yet.
func ensureServerSpanContext(ctx context.Context, md metadata.MD, cfg *config) context.Context {
	if !cfg.propagateTrace || md == nil {
		return ctx
	}
	if trace.SpanContextFromContext(ctx).IsValid() {
		return ctx
	}
	propagator := propagatorFor(cfg)
	if propagator == nil {
		return ctx
	}
	extracted := propagator.Extract(ctx, metadataCarrier{md})
	if !trace.SpanContextFromContext(extracted).IsValid() {
		return ctx
	}
	return extracted
}

// injectClientTrace writes the span context of ctx into outgoing metadata.
func injectClientTrace(ctx context.Context, md metadata.MD, cfg *config) {
	if !cfg.propagateTrace {
		return
	}
	if propagator := propagatorFor(cfg); propagator != nil {
		propagator.Inject(ctx, metadataCarrier{md})
	}
}
