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
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrProcessorNotFound indicates a configured processor name has no
	// registered factory.
	ErrProcessorNotFound = errors.New("slogsentry: processor could not be found")

	// ErrProcessorInstantiation indicates a processor factory failed.
	ErrProcessorInstantiation = errors.New("slogsentry: processor could not be instantiated")
)

// Processor enriches the ambient diagnostic context around a dispatch.
// PrepareDiagnosticContext runs before the report is handed to the client and
// ClearDiagnosticContext afterwards; Clear must undo whatever Prepare did.
// Both run on the goroutine that owns the task bound to ctx.
type Processor interface {
	PrepareDiagnosticContext(ctx context.Context)
	ClearDiagnosticContext(ctx context.Context)
}

// ProcessorFactory builds a Processor bound to the registry it will read and
// write through.
type ProcessorFactory func(registry ContextRegistry) (Processor, error)

var (
	processorsMu sync.RWMutex
	processors   = make(map[string]ProcessorFactory)
)

// RegisterProcessor makes a processor factory available under name for
// WithProcessors and SLOGSENTRY_PROCESSORS. It panics when name is empty,
// factory is nil or name is already registered.
func RegisterProcessor(name string, factory ProcessorFactory) {
	name = strings.TrimSpace(name)
	if name == "" {
		panic("slogsentry: RegisterProcessor with empty name")
	}
	if factory == nil {
		panic("slogsentry: RegisterProcessor factory is nil for " + name)
	}

	processorsMu.Lock()
	defer processorsMu.Unlock()
	if _, dup := processors[name]; dup {
		panic("slogsentry: RegisterProcessor called twice for " + name)
	}
	processors[name] = factory
}

// Processors returns the sorted names of the registered processors.
func Processors() []string {
	processorsMu.RLock()
	defer processorsMu.RUnlock()
	names := make([]string, 0, len(processors))
	for name := range processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lookupProcessor returns the factory registered under name.
func lookupProcessor(name string) (ProcessorFactory, bool) {
	processorsMu.RLock()
	defer processorsMu.RUnlock()
	f, ok := processors[name]
	return f, ok
}

// Chain is an ordered, immutable list of processors.
type Chain []Processor

// Prepare calls PrepareDiagnosticContext on every processor in order.
func (c Chain) Prepare(ctx context.Context) {
	for _, p := range c {
		p.PrepareDiagnosticContext(ctx)
	}
}

// Clear calls ClearDiagnosticContext on every processor in the same order as
// Prepare.
func (c Chain) Clear(ctx context.Context) {
	for _, p := range c {
		p.ClearDiagnosticContext(ctx)
	}
}

// LoadProcessors resolves a comma-separated list of processor names and
// instantiates each exactly once. An empty setting yields an empty chain.
func LoadProcessors(setting string, registry ContextRegistry) (Chain, error) {
	if strings.TrimSpace(setting) == "" {
		return nil, nil
	}

	names := strings.Split(setting, ",")
	chain := make(Chain, 0, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		factory, ok := lookupProcessor(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrProcessorNotFound, name)
		}
		p, err := instantiateProcessor(name, factory, registry)
		if err != nil {
			return nil, err
		}
		chain = append(chain, p)
	}
	return chain, nil
}

// instantiateProcessor runs factory, turning errors, nil results and panics
// into ErrProcessorInstantiation.
func instantiateProcessor(name string, factory ProcessorFactory, registry ContextRegistry) (p Processor, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = nil
			err = fmt.Errorf("%w: %q: panic: %v", ErrProcessorInstantiation, name, r)
		}
	}()

	p, err = factory(registry)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrProcessorInstantiation, name, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %q: factory returned nil", ErrProcessorInstantiation, name)
	}
	return p, nil
}
