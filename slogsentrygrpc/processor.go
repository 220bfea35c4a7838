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

package slogsentrygrpc

import (
	"context"

	"github.com/pjscruggs/slogsentry"
)

const (
	// ProcessorName is the name the RPC processor is registered under.
	ProcessorName = "grpc"

	// RPCField is the diagnostic field written by the processor.
	RPCField = "rpc"
)

func init() {
	slogsentry.RegisterProcessor(ProcessorName, func(registry slogsentry.ContextRegistry) (slogsentry.Processor, error) {
		return slogsentry.NewFieldProcessor(registry, RPCField, RPCFields)
	})
}

// RPCFields renders the RequestInfo in ctx as a diagnostic field. It reports
// false outside RPCs handled by the interceptors.
func RPCFields(ctx context.Context) (any, bool) {
	info, ok := InfoFromContext(ctx)
	if !ok {
		return nil, false
	}
	fields := map[string]any{
		"system":      "grpc",
		"full_method": info.FullMethod(),
		"kind":        info.Kind(),
		"status_code": info.Status().String(),
		"client":      info.IsClient(),
	}
	if service := info.Service(); service != "" {
		fields["service"] = service
	}
	if method := info.Method(); method != "" {
		fields["method"] = method
	}
	if peer := info.Peer(); peer != "" {
		fields["peer"] = peer
	}
	if n := info.RequestCount(); n > 0 {
		fields["request_count"] = n
		fields["request_size"] = info.RequestBytes()
	}
	if n := info.ResponseCount(); n > 0 {
		fields["response_count"] = n
		fields["response_size"] = info.ResponseBytes()
	}
	return fields, true
}
