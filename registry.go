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
	"maps"
	"reflect"
	"sync"
	"sync/atomic"
)

// ErrIncompatibleRegistry indicates a registry of a different implementation
// was already installed for the process.
var ErrIncompatibleRegistry = errors.New("slogsentry: incompatible context registry already installed")

// ContextRegistry associates the event being dispatched with the task that
// dispatches it. A task is identified by the context returned from Set; every
// call made with that context (or a child of it) observes the same slot.
//
// Implementations must tolerate concurrent Set and Remove calls from
// different goroutines. A single slot is only ever touched by the goroutine
// running its task.
type ContextRegistry interface {
	// Set installs ev for the task bound to ctx, overwriting any previous
	// event, and returns the context identifying that task. A context that
	// is not yet bound to a task gets a fresh identity.
	Set(ctx context.Context, ev *Event) context.Context

	// Get returns the scope of the task bound to ctx.
	Get(ctx context.Context) (*Scope, bool)

	// Remove clears the slot of the task bound to ctx. It is a no-op for
	// unbound contexts.
	Remove(ctx context.Context)
}

// Scope is the ambient diagnostic context of one in-flight event. Processors
// use its fields to hand data to clients without widening the Client
// interface. A Scope is owned by the goroutine running its task and is not
// safe for concurrent use.
type Scope struct {
	event  *Event
	fields map[string]any
}

// Event returns the event installed for the task.
func (s *Scope) Event() *Event {
	if s == nil {
		return nil
	}
	return s.event
}

// SetField stores a diagnostic field.
func (s *Scope) SetField(key string, value any) {
	if s == nil {
		return
	}
	if s.fields == nil {
		s.fields = make(map[string]any)
	}
	s.fields[key] = value
}

// Field returns the diagnostic field stored under key.
func (s *Scope) Field(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.fields[key]
	return v, ok
}

// DeleteField removes the diagnostic field stored under key.
func (s *Scope) DeleteField(key string) {
	if s == nil {
		return
	}
	delete(s.fields, key)
}

// swap installs ev with no fields and returns a func putting the previous
// event and fields back.
func (s *Scope) swap(ev *Event) func() {
	prevEvent, prevFields := s.event, s.fields
	s.event, s.fields = ev, nil
	return func() {
		s.event, s.fields = prevEvent, prevFields
	}
}

// Fields returns a copy of the diagnostic fields.
func (s *Scope) Fields() map[string]any {
	if s == nil || len(s.fields) == 0 {
		return nil
	}
	return maps.Clone(s.fields)
}

// Registry is the default ContextRegistry. Slots live in a sync.Map keyed by
// task identity; identities are allocated from a counter and carried in the
// context.
type Registry struct {
	next  atomic.Uint64
	slots sync.Map // taskID -> *Scope
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Set implements ContextRegistry.
func (r *Registry) Set(ctx context.Context, ev *Event) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	id, ok := taskFromContext(ctx, r)
	if !ok {
		id = taskID(r.next.Add(1))
		ctx = contextWithTask(ctx, r, id)
	}
	r.slots.Store(id, &Scope{event: ev})
	return ctx
}

// Get implements ContextRegistry.
func (r *Registry) Get(ctx context.Context) (*Scope, bool) {
	id, ok := taskFromContext(ctx, r)
	if !ok {
		return nil, false
	}
	v, ok := r.slots.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Scope), true
}

// Remove implements ContextRegistry.
func (r *Registry) Remove(ctx context.Context) {
	if id, ok := taskFromContext(ctx, r); ok {
		r.slots.Delete(id)
	}
}

// Len reports the number of occupied slots.
func (r *Registry) Len() int {
	n := 0
	r.slots.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

var (
	installMu         sync.Mutex
	installedRegistry ContextRegistry
)

// InstallRegistry installs the process-wide ContextRegistry and returns the
// registry a handler should use. The first call wins. Later calls with a nil
// registry receive the installed one, calls with a registry of the installed
// concrete type get their own registry back, and any other type yields
// ErrIncompatibleRegistry. A nil registry on the first call installs
// NewRegistry().
func InstallRegistry(r ContextRegistry) (ContextRegistry, error) {
	installMu.Lock()
	defer installMu.Unlock()

	if installedRegistry == nil {
		if r == nil {
			r = NewRegistry()
		}
		installedRegistry = r
		return r, nil
	}
	if r == nil {
		return installedRegistry, nil
	}
	if reflect.TypeOf(r) != reflect.TypeOf(installedRegistry) {
		return nil, fmt.Errorf("%w: have %T, got %T", ErrIncompatibleRegistry, installedRegistry, r)
	}
	return r, nil
}

// resetInstalledRegistry clears the process-wide registry. Tests only.
func resetInstalledRegistry() {
	installMu.Lock()
	installedRegistry = nil
	installMu.Unlock()
}
