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

// Package slogsentrytest provides an in-memory slogsentry.Client for tests.
package slogsentrytest

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/pjscruggs/slogsentry"
)

// Kind identifies the capture method a report arrived through.
type Kind int

const (
	// KindMessage marks reports delivered via CaptureMessage.
	KindMessage Kind = iota
	// KindException marks reports delivered via CaptureException.
	KindException
)

// String returns "message" or "exception".
func (k Kind) String() string {
	if k == KindException {
		return "exception"
	}
	return "message"
}

// Capture is one recorded delivery.
type Capture struct {
	Kind   Kind
	Report slogsentry.Report
	// Fields is a snapshot of the ambient scope fields at capture time. It
	// is nil when the Recorder has no registry or no scope was bound.
	Fields map[string]any
	// Attrs is a snapshot of the scoped event's attributes.
	Attrs map[string]any
	// Scoped reports whether a scope was bound to the capture context.
	Scoped bool
}

// Recorder is a slogsentry.Client storing every capture in memory. It is
// safe for concurrent use.
type Recorder struct {
	registry slogsentry.ContextRegistry

	mu       sync.Mutex
	captures []Capture
	failWith error
	closed   bool
	closes   int
	notify   chan struct{}
}

// NewRecorder returns a Recorder. When registry is non-nil each capture
// snapshots the scope bound to its context.
func NewRecorder(registry slogsentry.ContextRegistry) *Recorder {
	return &Recorder{registry: registry, notify: make(chan struct{})}
}

// CaptureMessage implements slogsentry.Client.
func (r *Recorder) CaptureMessage(ctx context.Context, report slogsentry.Report) error {
	return r.capture(ctx, KindMessage, report)
}

// CaptureException implements slogsentry.Client.
func (r *Recorder) CaptureException(ctx context.Context, report slogsentry.Report) error {
	return r.capture(ctx, KindException, report)
}

func (r *Recorder) capture(ctx context.Context, kind Kind, report slogsentry.Report) error {
	c := Capture{Kind: kind, Report: report}
	if report.Tags != nil {
		c.Report.Tags = maps.Clone(report.Tags)
	}
	if r.registry != nil {
		if scope, ok := r.registry.Get(ctx); ok {
			c.Scoped = true
			c.Fields = scope.Fields()
			if ev := scope.Event(); ev != nil {
				c.Attrs = maps.Clone(ev.Attrs)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return slogsentry.ErrClientClosed
	}
	r.captures = append(r.captures, c)
	close(r.notify)
	r.notify = make(chan struct{})
	return r.failWith
}

// FailWith makes subsequent captures return err after recording. A nil err
// restores success.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.failWith = err
	r.mu.Unlock()
}

// Captures returns a copy of the recorded captures in arrival order.
func (r *Recorder) Captures() []Capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Capture, len(r.captures))
	copy(out, r.captures)
	return out
}

// Len returns the number of recorded captures.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.captures)
}

// Reset discards recorded captures.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.captures = nil
	r.mu.Unlock()
}

// WaitFor blocks until at least n captures were recorded or timeout
// elapses, and reports whether the count was reached.
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		count, notify := len(r.captures), r.notify
		r.mu.Unlock()
		if count >= n {
			return true
		}
		select {
		case <-notify:
		case <-deadline.C:
			return false
		}
	}
}

// Close implements slogsentry.Client.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.closes++
	return nil
}

// Closed reports how many times Close was called.
func (r *Recorder) Closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

var _ slogsentry.Client = (*Recorder)(nil)
