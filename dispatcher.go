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
	"time"
)

// DispatcherConfig assembles the collaborators of a Dispatcher.
type DispatcherConfig struct {
	Client   Client
	Chain    Chain
	Registry ContextRegistry
	// Tags are attached to every report. The map is cloned.
	Tags map[string]string
	// Async marks the dispatcher as driven by a queue. Hooks then run in
	// DispatchQueued on the worker instead of in Dispatch.
	Async bool
	// MaxMessageLength bounds report messages in runes. Zero selects
	// MaxMessageLength; negative values disable truncation.
	MaxMessageLength int
}

// Dispatcher turns events into reports and hands them to a Client, keeping
// the ambient Scope and the processor hooks consistent around each delivery.
type Dispatcher struct {
	client    Client
	chain     Chain
	registry  ContextRegistry
	tags      map[string]string
	async     bool
	maxLength int
}

// NewDispatcher validates cfg and returns a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Client == nil {
		return nil, errors.New("slogsentry: dispatcher requires a client")
	}
	if cfg.Registry == nil {
		return nil, errors.New("slogsentry: dispatcher requires a context registry")
	}
	maxLength := cfg.MaxMessageLength
	if maxLength == 0 {
		maxLength = MaxMessageLength
	}
	var tags map[string]string
	if len(cfg.Tags) > 0 {
		tags = maps.Clone(cfg.Tags)
	}
	return &Dispatcher{
		client:    cfg.Client,
		chain:     cfg.Chain,
		registry:  cfg.Registry,
		tags:      tags,
		async:     cfg.Async,
		maxLength: maxLength,
	}, nil
}

// Async reports whether hooks are deferred to DispatchQueued.
func (d *Dispatcher) Async() bool {
	return d.async
}

// Registry returns the registry scopes are installed in.
func (d *Dispatcher) Registry() ContextRegistry {
	return d.registry
}

// Enter installs ev as the ambient event of the task bound to ctx and returns
// the scoped context with a release function. When ctx already owns a scope
// the owner keeps responsibility for removing it: ev and empty fields are
// swapped into the existing scope and release restores the owner's event and
// fields.
func (d *Dispatcher) Enter(ctx context.Context, ev *Event) (context.Context, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if scope, ok := d.registry.Get(ctx); ok {
		if scope.Event() == ev {
			return ctx, func() {}
		}
		restore := scope.swap(ev)
		return ctx, restore
	}
	scoped := d.registry.Set(ctx, ev)
	return scoped, func() { d.registry.Remove(scoped) }
}

// NotifyBeforeAppending runs the processor chain's prepare hooks for the task
// bound to ctx.
func (d *Dispatcher) NotifyBeforeAppending(ctx context.Context) {
	d.chain.Prepare(ctx)
}

// NotifyAfterAppending runs the processor chain's clear hooks for the task
// bound to ctx.
func (d *Dispatcher) NotifyAfterAppending(ctx context.Context) {
	d.chain.Clear(ctx)
}

// Dispatch delivers ev through exactly one capture call. In synchronous mode
// the processor hooks run around the call; the scope is removed and the
// clear hooks run even when delivery fails. Client errors are wrapped with
// ErrDelivery and never retried.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) error {
	if ev == nil {
		return errNilEvent
	}
	ctx, release := d.Enter(ctx, ev)
	defer release()

	if !d.async {
		d.NotifyBeforeAppending(ctx)
		defer d.NotifyAfterAppending(ctx)
	}
	return d.deliver(ctx, ev)
}

// DispatchQueued is run by the async worker for each queued event: it enters
// the scope, runs the prepare hooks, delivers, then runs the clear hooks and
// removes the scope.
func (d *Dispatcher) DispatchQueued(ctx context.Context, ev *Event) error {
	if ev == nil {
		return errNilEvent
	}
	ctx, release := d.Enter(ctx, ev)
	defer release()

	d.NotifyBeforeAppending(ctx)
	defer d.NotifyAfterAppending(ctx)
	return d.deliver(ctx, ev)
}

// deliver normalizes ev and calls the matching capture method.
func (d *Dispatcher) deliver(ctx context.Context, ev *Event) error {
	report := d.normalize(ev)
	var err error
	if report.Err == nil {
		err = d.client.CaptureMessage(ctx, report)
	} else {
		err = d.client.CaptureException(ctx, report)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

// normalize builds the report for ev.
func (d *Dispatcher) normalize(ev *Event) Report {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	culprit := ev.Logger
	if culprit == "" {
		if frame, ok := callSite(ev.PC); ok {
			culprit = frame.Function
		}
	}
	return Report{
		Message: sanitizeMessage(ev.Message, d.maxLength),
		Time:    ts,
		Logger:  ev.Logger,
		Level:   MapSeverity(ev.Level),
		Culprit: culprit,
		Err:     ev.Err,
		Tags:    d.tags,
	}
}
