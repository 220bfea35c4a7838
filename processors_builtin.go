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

package slogsentry

import (
	"context"
	"errors"
)

// Names of the processors registered by this package.
const (
	TraceProcessorName   = "trace"
	RuntimeProcessorName = "runtime"
)

// Diagnostic field keys owned by the built-in processors.
const (
	TraceField   = "trace"
	RuntimeField = "runtime"
)

func init() {
	RegisterProcessor(TraceProcessorName, func(registry ContextRegistry) (Processor, error) {
		project := cachedTraceProjectID()
		return NewFieldProcessor(registry, TraceField, func(ctx context.Context) (any, bool) {
			return TraceFields(ctx, project)
		})
	})
	RegisterProcessor(RuntimeProcessorName, func(registry ContextRegistry) (Processor, error) {
		fields := runtimeFields(DetectRuntimeInfo())
		return NewFieldProcessor(registry, RuntimeField, func(context.Context) (any, bool) {
			return fields, true
		})
	})
}

// FieldProcessor is a Processor owning a single diagnostic field. Prepare
// stores the value produced by its source function and Clear deletes it.
type FieldProcessor struct {
	registry ContextRegistry
	key      string
	source   func(context.Context) (any, bool)
}

// NewFieldProcessor returns a FieldProcessor writing key through registry.
// source reports false when it has nothing to contribute for a task.
func NewFieldProcessor(registry ContextRegistry, key string, source func(context.Context) (any, bool)) (*FieldProcessor, error) {
	switch {
	case registry == nil:
		return nil, errors.New("nil context registry")
	case key == "":
		return nil, errors.New("empty field key")
	case source == nil:
		return nil, errors.New("nil field source")
	}
	return &FieldProcessor{registry: registry, key: key, source: source}, nil
}

// Key returns the diagnostic field owned by p.
func (p *FieldProcessor) Key() string {
	return p.key
}

// PrepareDiagnosticContext implements Processor.
func (p *FieldProcessor) PrepareDiagnosticContext(ctx context.Context) {
	scope, ok := p.registry.Get(ctx)
	if !ok {
		return
	}
	if v, ok := p.source(ctx); ok {
		scope.SetField(p.key, v)
	}
}

// ClearDiagnosticContext implements Processor.
func (p *FieldProcessor) ClearDiagnosticContext(ctx context.Context) {
	if scope, ok := p.registry.Get(ctx); ok {
		scope.DeleteField(p.key)
	}
}

// runtimeFields renders info as the runtime diagnostic field.
func runtimeFields(info RuntimeInfo) map[string]any {
	fields := map[string]any{
		"name":    "go",
		"version": info.GoVersion,
	}
	add := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	add("server_name", info.Hostname)
	add("platform", string(info.Environment))
	add("project_id", info.ProjectID)
	add("instance_id", info.InstanceID)
	add("zone", info.Zone)
	add("service", info.Service)
	add("service_version", info.ServiceVersion)
	return fields
}
