// Copyright 2025-2026 Patrick J. Scruggs
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

	"github.com/pjscruggs/slogsentry"
)

const (
	// ProcessorName is the name the request processor is registered under.
	ProcessorName = "http"

	// RequestField is the diagnostic field written by the processor.
	RequestField = "request"
)

func init() {
	slogsentry.RegisterProcessor(ProcessorName, func(registry slogsentry.ContextRegistry) (slogsentry.Processor, error) {
		return slogsentry.NewFieldProcessor(registry, RequestField, RequestFields)
	})
}

// RequestFields renders the RequestScope in ctx as a diagnostic field. It
// reports false outside requests served by Middleware.
func RequestFields(ctx context.Context) (any, bool) {
	scope, ok := ScopeFromContext(ctx)
	if !ok {
		return nil, false
	}
	fields := map[string]any{
		"method":      scope.Method(),
		"status_code": scope.Status(),
	}
	add := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	add("url", scope.URL())
	add("route", scope.Route())
	add("query_string", scope.Query())
	add("client_ip", scope.ClientIP())
	add("user_agent", scope.UserAgent())
	if size := scope.RequestSize(); size > 0 {
		fields["request_size"] = size
	}
	if size := scope.ResponseSize(); size > 0 {
		fields["response_size"] = size
	}
	return fields, true
}
