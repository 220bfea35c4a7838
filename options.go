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
	"log/slog"
	"maps"
	"strings"

	"github.com/pjscruggs/slogsentry/slogsentryasync"
)

// Option mutates Handler construction behaviour when supplied to [NewHandler].
//
// Options follow the functional options pattern and are applied in the order
// they are provided by the caller. They take precedence over environment
// variables.
type Option func(*options)

// options holds the settings collected from Option values. Pointer fields
// distinguish an explicit zero value from an unset option.
type options struct {
	level            *slog.Level
	levelVar         *slog.LevelVar
	dsn              *string
	compression      *bool
	processors       *string
	tags             map[string]string
	loggerName       *string
	maxMessageLength *int
	client           Client
	registry         ContextRegistry
	internalLogger   *slog.Logger
	asyncEnabled     *bool
	asyncOpts        []slogsentryasync.Option
}

// WithInternalLogger injects an internal logger used for diagnostics during
// handler setup and for asynchronous delivery errors. It must not route
// records back into the handler being built.
func WithInternalLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.internalLogger = logger
	}
}

// WithLevel sets the minimum slog level accepted by the handler. Defaults to
// slog.LevelWarn.
func WithLevel(level slog.Level) Option {
	return func(o *options) {
		o.level = &level
	}
}

// WithLevelVar shares the provided slog.LevelVar with the handler, allowing
// external code to adjust the level at runtime. The LevelVar's current value
// takes precedence over WithLevel and SLOGSENTRY_LEVEL.
func WithLevelVar(levelVar *slog.LevelVar) Option {
	return func(o *options) {
		if levelVar != nil {
			o.levelVar = levelVar
		}
	}
}

// WithDSN sets the collector connection string. The scheme selects the
// transport registered with [RegisterTransport].
func WithDSN(dsn string) Option {
	trimmed := strings.TrimSpace(dsn)
	return func(o *options) {
		o.dsn = &trimmed
	}
}

// WithMessageCompression forwards the compression preference to the
// transport. Defaults to true.
func WithMessageCompression(enabled bool) Option {
	return func(o *options) {
		o.compression = &enabled
	}
}

// WithProcessors sets the comma-separated list of registered processor names
// run around each delivery.
func WithProcessors(names ...string) Option {
	setting := strings.Join(names, ",")
	return func(o *options) {
		o.processors = &setting
	}
}

// WithTags merges tags into the set attached to every report. Later calls
// override earlier keys.
func WithTags(tags map[string]string) Option {
	return func(o *options) {
		if len(tags) == 0 {
			return
		}
		if o.tags == nil {
			o.tags = make(map[string]string, len(tags))
		}
		maps.Copy(o.tags, tags)
	}
}

// WithLoggerName sets the logger name reported when a record carries no
// "logger" attribute.
func WithLoggerName(name string) Option {
	return func(o *options) {
		o.loggerName = &name
	}
}

// WithMaxMessageLength bounds report messages to n runes. Zero restores
// MaxMessageLength and negative values disable truncation.
func WithMaxMessageLength(n int) Option {
	return func(o *options) {
		o.maxMessageLength = &n
	}
}

// WithClient uses client instead of building one from the DSN. The handler
// takes ownership and closes it on Close.
func WithClient(client Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithRegistry injects the ContextRegistry. It must be of the same type as
// the process-wide registry, see [InstallRegistry].
func WithRegistry(registry ContextRegistry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithAsync delivers records from a bounded queue drained by worker
// goroutines. Supply slogsentryasync options to override queue size,
// workers, drop mode or flush timeout.
func WithAsync(opts ...slogsentryasync.Option) Option {
	return func(o *options) {
		enabled := true
		o.asyncEnabled = &enabled
		o.asyncOpts = append(o.asyncOpts, opts...)
	}
}

// WithSync forces synchronous delivery, overriding SLOGSENTRY_ASYNC.
func WithSync() Option {
	return func(o *options) {
		disabled := false
		o.asyncEnabled = &disabled
		o.asyncOpts = nil
	}
}
