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
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// Keys of the map produced by TraceFields.
const (
	// TraceIDKey holds the 32-char lowercase hex trace ID.
	TraceIDKey = "trace_id"
	// SpanIDKey holds the 16-char lowercase hex span ID.
	SpanIDKey = "span_id"
	// TraceSampledKey holds the sampling decision.
	TraceSampledKey = "sampled"
	// TraceResourceKey holds "projects/PROJECT_ID/traces/TRACE_ID" when the
	// trace project is known.
	TraceResourceKey = "resource"
)

var (
	traceProjectEnvOnce sync.Once
	traceProjectEnvID   string

	projectIDPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{4,28}[a-z0-9]$`)
)

// ExtractTraceSpan returns the OpenTelemetry span identifiers carried by ctx.
// The span context is returned as well; it is valid only when a span is
// present.
func ExtractTraceSpan(ctx context.Context) (rawTraceID, rawSpanID string, sampled bool, sc trace.SpanContext) {
	if ctx == nil {
		return "", "", false, sc
	}
	sc = trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", "", false, sc
	}
	return sc.TraceID().String(), sc.SpanID().String(), sc.IsSampled(), sc
}

// FormatTraceResource returns a fully-qualified trace resource name:
//
//	projects/<projectID>/traces/<traceID>
func FormatTraceResource(projectID, rawTraceID string) string {
	return fmt.Sprintf("projects/%s/traces/%s", projectID, rawTraceID)
}

// TraceFields extracts the span identifiers of ctx. When
// projectID is empty the project configured through SLOGSENTRY_TRACE_PROJECT_ID
// or GOOGLE_CLOUD_PROJECT is used for TraceResourceKey.
func TraceFields(ctx context.Context, projectID string) (map[string]any, bool) {
	rawTrace, rawSpan, sampled, sc := ExtractTraceSpan(ctx)
	if !sc.IsValid() {
		return nil, false
	}

	fields := map[string]any{
		TraceIDKey:      rawTrace,
		TraceSampledKey: sampled,
	}
	if rawSpan != "" {
		fields[SpanIDKey] = rawSpan
	}
	if project := resolveTraceProject(projectID); project != "" {
		fields[TraceResourceKey] = FormatTraceResource(project, rawTrace)
	}
	return fields, true
}

// resolveTraceProject chooses a project ID from input or cached environment.
func resolveTraceProject(projectID string) string {
	if normalized, ok := normalizeTraceProjectID(projectID); ok {
		return normalized
	}
	return cachedTraceProjectID()
}

// cachedTraceProjectID returns the project ID inferred from environment
// variables, computing the value at most once per process.
func cachedTraceProjectID() string {
	traceProjectEnvOnce.Do(func() {
		traceProjectEnvID = detectTraceProjectIDFromEnv()
	})
	return traceProjectEnvID
}

// detectTraceProjectIDFromEnv inspects known environment variables in
// priority order and returns the first valid project identifier.
func detectTraceProjectIDFromEnv() string {
	candidates := []string{
		"SLOGSENTRY_TRACE_PROJECT_ID",
		"GOOGLE_CLOUD_PROJECT",
		"GCLOUD_PROJECT",
		"GCP_PROJECT",
	}
	for _, name := range candidates {
		if normalized, ok := normalizeTraceProjectID(os.Getenv(name)); ok {
			return normalized
		}
	}
	return ""
}

// normalizeTraceProjectID lowercases raw, strips a "projects/" prefix and
// validates the result as a project identifier.
func normalizeTraceProjectID(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(s), "projects/") {
		s = strings.TrimSpace(s[len("projects/"):])
	}
	s = strings.ToLower(s)
	if !projectIDPattern.MatchString(s) {
		return "", false
	}
	return s, true
}
