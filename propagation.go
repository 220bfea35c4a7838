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


package slogsentry

import (
	"os"
	"sync"

	gcppropagator "github.com/GoogleCloudPlatform/opentelemetry-operations-go/propagator"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// envDisablePropagatorAutoset opts out of EnsurePropagation.
const envDisablePropagatorAutoset = "SLOGSENTRY_DISABLE_PROPAGATOR_AUTOSET"

var installPropagatorOnce sync.Once

// EnsurePropagation makes inbound trace headers reach the "trace" processor.
//
// The trace processor reports the span found in the dispatch context, and
// that span only exists when the server middleware extracted it from the
// request with the global OpenTelemetry propagator. The default global
// propagator is a no-op, so without this call every report would carry an
// empty trace field. NewHandler calls it when the trace processor is
// configured, and the slogsentryhttp and slogsentrygrpc constructors call it
// unless the caller supplied propagators.
//
// The installed propagator reads X-Cloud-Trace-Context (so reports from
// Google Cloud front ends still correlate), W3C traceparent/tracestate and
// W3C baggage. It only extracts the Cloud Trace header; outbound requests
// carry W3C headers. The install happens at most once per process and is
// skipped when SLOGSENTRY_DISABLE_PROPAGATOR_AUTOSET is truthy, leaving a
// propagator set by the application in place.
func EnsurePropagation() {
	installPropagatorOnce.Do(func() {
		if disableAutoSet() {
			return
		}
		otel.SetTextMapPropagator(reportPropagator())
	})
}

// reportPropagator returns the composite propagator installed by
// EnsurePropagation. Earlier members win when several headers are present.
func reportPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		gcppropagator.CloudTraceOneWayPropagator{},
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// disableAutoSet reports whether SLOGSENTRY_DISABLE_PROPAGATOR_AUTOSET opts
// out of installation. Unparseable values count as false.
func disableAutoSet() bool {
	return parseBoolEnv(os.Getenv(envDisablePropagatorAutoset), false, nil)
}
