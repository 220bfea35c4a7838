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
	"log/slog"
)

// ErrorReportingOption configures ReportError.
type ErrorReportingOption func(*errorReportingConfig)

type errorReportingConfig struct {
	level  slog.Level
	logger string
	attrs  []slog.Attr
}

// WithErrorLevel overrides the level ReportError logs at. Defaults to
// slog.LevelError.
func WithErrorLevel(level slog.Level) ErrorReportingOption {
	return func(cfg *errorReportingConfig) {
		cfg.level = level
	}
}

// WithErrorLogger names the logger reported as the culprit of the event.
func WithErrorLogger(name string) ErrorReportingOption {
	return func(cfg *errorReportingConfig) {
		cfg.logger = name
	}
}

// WithErrorAttrs appends extra attributes to the reported record.
func WithErrorAttrs(attrs ...slog.Attr) ErrorReportingOption {
	return func(cfg *errorReportingConfig) {
		cfg.attrs = append(cfg.attrs, attrs...)
	}
}

// ReportError logs err through logger so a slogsentry handler delivers it as
// an exception. The error is annotated with the caller's stack unless it
// already carries one.
func ReportError(ctx context.Context, logger *slog.Logger, err error, msg string, opts ...ErrorReportingOption) {
	if logger == nil || err == nil {
		return
	}
	cfg := errorReportingConfig{level: slog.LevelError}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	attrs := make([]slog.Attr, 0, len(cfg.attrs)+2)
	attrs = append(attrs, slog.Any(ErrorKey, WithStack(err)))
	if cfg.logger != "" {
		attrs = append(attrs, slog.String(LoggerKey, cfg.logger))
	}
	attrs = append(attrs, cfg.attrs...)
	if ctx == nil {
		ctx = context.Background()
	}
	logger.LogAttrs(ctx, cfg.level, msg, attrs...)
}
