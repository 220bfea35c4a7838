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
	"errors"
	"log/slog"
	"time"
)

const (
	// LoggerKey is the attribute key naming the logger that produced a
	// record. It overrides the name configured with WithLoggerName.
	LoggerKey = "logger"

	// ErrorKey is the preferred attribute key for an error payload.
	ErrorKey = "error"
)

// Event is the view of a single log record consumed by the Dispatcher. The
// dispatcher and processors treat it as read-only.
type Event struct {
	Time    time.Time
	Message string
	Logger  string
	// Level is the native severity, see NativeSeverity.
	Level int
	// Err is the error payload, nil for plain messages.
	Err error
	// Attrs holds the remaining record attributes keyed by their
	// group-qualified name ("group.key").
	Attrs map[string]any
	// PC is the program counter of the logging call site, if known.
	PC uintptr
}

// Report is the normalized unit handed to a Client. Reports are built per
// dispatch and must not be retained by clients after the capture call
// returns.
type Report struct {
	Message string
	Time    time.Time
	Logger  string
	// Level is the collector severity, see MapSeverity.
	Level   int
	Culprit string
	// Err is the error payload for CaptureException and nil otherwise.
	Err error
	// Tags is shared by every report of a handler. Clients must not
	// modify it.
	Tags map[string]string
}

// eventBuilder collects the attributes of one record while keeping the first
// error payload out of Attrs.
type eventBuilder struct {
	ev       *Event
	errKey   string
	errFound bool
}

// newEvent converts rec into an Event. Handler-level attributes in base are
// visited before the record's own attributes so the record wins on conflicts.
func newEvent(rec slog.Record, logger string, base []groupedAttr, groups []string) *Event {
	ev := &Event{
		Time:    rec.Time,
		Message: rec.Message,
		Logger:  logger,
		Level:   NativeSeverity(rec.Level),
		PC:      rec.PC,
	}
	b := &eventBuilder{ev: ev}
	for _, ga := range base {
		b.add(ga.groups, ga.attr)
	}
	rec.Attrs(func(a slog.Attr) bool {
		b.add(groups, a)
		return true
	})
	return ev
}

// add flattens attr under prefix into the event.
func (b *eventBuilder) add(prefix []string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		group := attr.Value.Group()
		if len(group) == 0 {
			return
		}
		next := prefix
		if attr.Key != "" {
			next = append(append([]string(nil), prefix...), attr.Key)
		}
		for _, ga := range group {
			b.add(next, ga)
		}
		return
	}

	if len(prefix) == 0 && attr.Key == LoggerKey && attr.Value.Kind() == slog.KindString {
		b.ev.Logger = attr.Value.String()
		return
	}

	key := qualifiedKey(prefix, attr.Key)
	if attr.Value.Kind() == slog.KindAny {
		if err, ok := attr.Value.Any().(error); ok && b.takeError(key, err) {
			return
		}
	}

	if b.ev.Attrs == nil {
		b.ev.Attrs = make(map[string]any)
	}
	b.ev.Attrs[key] = attr.Value.Any()
}

// takeError records err as the event's payload when no better candidate has
// been seen. A top-level error under ErrorKey or "err" displaces one found
// under any other key, which is then demoted to a plain attribute.
func (b *eventBuilder) takeError(key string, err error) bool {
	preferred := key == ErrorKey || key == "err"
	switch {
	case !b.errFound:
	case preferred && b.errKey != ErrorKey && b.errKey != "err":
		if b.ev.Attrs == nil {
			b.ev.Attrs = make(map[string]any)
		}
		b.ev.Attrs[b.errKey] = b.ev.Err
	default:
		return false
	}
	b.ev.Err = err
	b.errKey = key
	b.errFound = true
	return true
}

// qualifiedKey joins group names and key with dots.
func qualifiedKey(prefix []string, key string) string {
	if len(prefix) == 0 {
		return key
	}
	n := len(key)
	for _, p := range prefix {
		n += len(p) + 1
	}
	buf := make([]byte, 0, n)
	for _, p := range prefix {
		buf = append(buf, p...)
		buf = append(buf, '.')
	}
	buf = append(buf, key...)
	return string(buf)
}

// HasError reports whether ev carries an error payload.
func (ev *Event) HasError() bool {
	return ev != nil && ev.Err != nil
}

// errNilEvent is returned when Dispatch is called without an event.
var errNilEvent = errors.New("slogsentry: nil event")
