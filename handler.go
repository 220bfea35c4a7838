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
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pjscruggs/slogsentry/slogsentryasync"
)

const (
	envDSN         = "SLOGSENTRY_DSN"
	envSentryDSN   = "SENTRY_DSN"
	envAsync       = "SLOGSENTRY_ASYNC"
	envCompression = "SLOGSENTRY_COMPRESSION"
	envProcessors  = "SLOGSENTRY_PROCESSORS"
	envTags        = "SLOGSENTRY_TAGS"
	envLogLevel    = "SLOGSENTRY_LEVEL"

	// DefaultDSN is used when neither an option nor the environment names a
	// collector.
	DefaultDSN = SchemeStderr + "://"
)

// groupedAttr is an attribute added through WithAttrs together with the
// groups that were open at the time.
type groupedAttr struct {
	groups []string
	attr   slog.Attr
}

type handlerConfig struct {
	Level              slog.Level
	DSN                string
	CompressionEnabled bool
	Processors         string
	Tags               map[string]string
	Async              bool
	LoggerName         string
	MaxMessageLength   int
}

// Handler is a slog.Handler that reports records to an error-tracking
// collector. Handlers derived through WithAttrs and WithGroup share the
// dispatcher, queue and client of the handler returned by NewHandler.
type Handler struct {
	core   *handlerCore
	attrs  []groupedAttr
	groups []string
}

// handlerCore is the state shared by a handler and its derivatives.
type handlerCore struct {
	cfg            *handlerConfig
	dispatcher     *Dispatcher
	client         Client
	queue          *slogsentryasync.Queue
	registry       ContextRegistry
	levelVar       *slog.LevelVar
	internalLogger *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewHandler configures and starts a Handler. Environment variables are read
// first and then any provided [Option] values are applied. It installs the
// process-wide context registry, loads the processor chain, builds the
// client from the DSN and, in asynchronous mode, starts the delivery queue.
// Configuration problems are returned and no handler is built.
//
// Example:
//
//	h, err := slogsentry.NewHandler(
//		slogsentry.WithDSN("stdout://"),
//		slogsentry.WithProcessors("trace", "runtime"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer h.Close()
//	logger := slog.New(h)
//	logger.Error("payment failed", "error", err)
func NewHandler(opts ...Option) (*Handler, error) {
	builder := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(builder)
		}
	}

	internalLogger := builder.internalLogger
	if internalLogger == nil {
		internalLogger = slog.New(slog.DiscardHandler)
	}

	cfg := loadConfigFromEnv(internalLogger)
	applyOptions(&cfg, builder)

	registry, err := InstallRegistry(builder.registry)
	if err != nil {
		return nil, err
	}

	chain, err := LoadProcessors(cfg.Processors, registry)
	if err != nil {
		return nil, err
	}
	if configuresProcessor(cfg.Processors, TraceProcessorName) {
		EnsurePropagation()
	}

	client := builder.client
	if client == nil {
		dsn, err := ParseDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		client, err = newClient(ClientConfig{
			DSN:                dsn,
			CompressionEnabled: cfg.CompressionEnabled,
			Registry:           registry,
		})
		if err != nil {
			return nil, err
		}
		internalLogger.Debug("slogsentry client ready", slog.String("dsn", dsn.String()))
	}

	dispatcher, err := NewDispatcher(DispatcherConfig{
		Client:           client,
		Chain:            chain,
		Registry:         registry,
		Tags:             cfg.Tags,
		Async:            cfg.Async,
		MaxMessageLength: cfg.MaxMessageLength,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	levelVar := builder.levelVar
	if levelVar == nil {
		levelVar = new(slog.LevelVar)
	}
	levelVar.Set(cfg.Level)

	core := &handlerCore{
		cfg:            &cfg,
		dispatcher:     dispatcher,
		client:         client,
		registry:       registry,
		levelVar:       levelVar,
		internalLogger: internalLogger,
	}
	if cfg.Async {
		queueOpts := []slogsentryasync.Option{
			slogsentryasync.WithEnv(),
			slogsentryasync.WithOnError(func(ctx context.Context, err error) {
				internalLogger.ErrorContext(ctx, "asynchronous delivery failed", slog.Any("error", err))
			}),
		}
		core.queue = slogsentryasync.New(append(queueOpts, builder.asyncOpts...)...)
	}

	return &Handler{core: core}, nil
}

// queuedEvent is the job submitted to the async queue for one record.
// Drop handlers can recover the event through its Event method.
type queuedEvent struct {
	dispatcher *Dispatcher
	event      *Event
}

// Run implements slogsentryasync.Job.
func (j queuedEvent) Run(ctx context.Context) error {
	return j.dispatcher.DispatchQueued(ctx, j.event)
}

// Event returns the queued event.
func (j queuedEvent) Event() *Event {
	return j.event
}

// Enabled reports whether level meets the handler's minimum level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.core.levelVar.Level()
}

// Handle converts rec into an Event and dispatches it. In synchronous mode
// delivery errors are returned wrapped with ErrDelivery; in asynchronous mode
// Handle returns once the event is queued. Records handled with a context
// that is already inside a dispatch are dropped.
func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	core := h.core
	if core.closed.Load() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, nested := core.registry.Get(ctx); nested {
		core.internalLogger.Debug("dropping record logged during dispatch", slog.String("message", rec.Message))
		return nil
	}

	ev := newEvent(rec, core.cfg.LoggerName, h.attrs, h.groups)
	if core.queue != nil {
		core.queue.Submit(ctx, queuedEvent{dispatcher: core.dispatcher, event: ev})
		return nil
	}
	return core.dispatcher.Dispatch(ctx, ev)
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	child := h.clone()
	groups := append([]string(nil), h.groups...)
	for _, attr := range attrs {
		child.attrs = append(child.attrs, groupedAttr{groups: groups, attr: attr})
	}
	return child
}

// WithGroup returns a handler that nests subsequent attributes under name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	child := h.clone()
	child.groups = append(child.groups, name)
	return child
}

// clone copies h so derived handlers never share backing arrays.
func (h *Handler) clone() *Handler {
	return &Handler{
		core:   h.core,
		attrs:  append([]groupedAttr(nil), h.attrs...),
		groups: append([]string(nil), h.groups...),
	}
}

// Close stops the handler: the async queue is drained and the client is
// closed. Records handled afterwards are discarded. It is safe to call
// multiple times; only the first invocation performs work.
//
// When the queue misses its flush timeout Close returns
// slogsentryasync.ErrFlushTimeout without waiting further. Workers still
// delivering keep a usable client, which is closed in the background once
// they exit.
func (h *Handler) Close() error {
	core := h.core
	core.closeOnce.Do(func() {
		core.closed.Store(true)
		if core.queue != nil {
			if err := core.queue.Close(); err != nil {
				core.closeErr = err
				core.internalLogger.Error("failed to drain delivery queue", slog.Any("error", err))
				if errors.Is(err, slogsentryasync.ErrFlushTimeout) {
					go func() {
						core.queue.Wait()
						core.closeClient()
					}()
					return
				}
			}
		}
		if err := core.closeClient(); err != nil && core.closeErr == nil {
			core.closeErr = err
		}
	})
	return core.closeErr
}

// closeClient closes the client, logging failures internally.
func (core *handlerCore) closeClient() error {
	err := core.client.Close()
	if err != nil {
		core.internalLogger.Error("failed to close client", slog.Any("error", err))
	}
	return err
}

// Reopen asks the client to reopen its destination, for example after the
// file behind a file:// DSN was rotated. Clients that do not implement
// Reopener are left untouched.
func (h *Handler) Reopen() error {
	core := h.core
	if core.closed.Load() {
		return ErrClientClosed
	}
	if r, ok := core.client.(Reopener); ok {
		if err := r.Reopen(); err != nil {
			core.internalLogger.Error("failed to reopen client destination", slog.Any("error", err))
			return err
		}
	}
	return nil
}

// SetLevel updates the minimum slog level accepted by the handler at runtime.
// Calls are safe for concurrent use.
func (h *Handler) SetLevel(level slog.Level) {
	if h == nil || h.core == nil {
		return
	}
	h.core.levelVar.Set(level)
}

// Level reports the handler's current minimum slog level.
func (h *Handler) Level() slog.Level {
	if h == nil || h.core == nil {
		return slog.LevelWarn
	}
	return h.core.levelVar.Level()
}

// LevelVar returns the underlying slog.LevelVar used to gate records.
func (h *Handler) LevelVar() *slog.LevelVar {
	if h == nil || h.core == nil {
		return nil
	}
	return h.core.levelVar
}

// Registry returns the context registry scopes are installed in.
func (h *Handler) Registry() ContextRegistry {
	return h.core.registry
}

// Async reports whether the handler delivers from a queue.
func (h *Handler) Async() bool {
	return h.core.queue != nil
}

// loadConfigFromEnv reads handler configuration from environment variables,
// logging validation issues to logger.
func loadConfigFromEnv(logger *slog.Logger) handlerConfig {
	cfg := handlerConfig{
		Level:              slog.LevelWarn,
		DSN:                DefaultDSN,
		CompressionEnabled: true,
	}

	cfg.Level = parseLevelEnv(os.Getenv(envLogLevel), cfg.Level, logger)
	cfg.Async = parseBoolEnv(os.Getenv(envAsync), cfg.Async, logger)
	cfg.CompressionEnabled = parseBoolEnv(os.Getenv(envCompression), cfg.CompressionEnabled, logger)
	cfg.Processors = strings.TrimSpace(os.Getenv(envProcessors))
	cfg.Tags = parseTagsEnv(os.Getenv(envTags), logger)

	if dsn := strings.TrimSpace(os.Getenv(envDSN)); dsn != "" {
		cfg.DSN = dsn
	} else if dsn := strings.TrimSpace(os.Getenv(envSentryDSN)); dsn != "" {
		cfg.DSN = dsn
	}
	return cfg
}

// applyOptions merges user-supplied options into the derived handler
// configuration.
func applyOptions(cfg *handlerConfig, o *options) {
	if o.level != nil {
		cfg.Level = *o.level
	}
	if o.levelVar != nil {
		cfg.Level = o.levelVar.Level()
	}
	if o.dsn != nil {
		cfg.DSN = *o.dsn
	}
	if o.compression != nil {
		cfg.CompressionEnabled = *o.compression
	}
	if o.processors != nil {
		cfg.Processors = *o.processors
	}
	if len(o.tags) > 0 {
		merged := maps.Clone(cfg.Tags)
		if merged == nil {
			merged = make(map[string]string, len(o.tags))
		}
		maps.Copy(merged, o.tags)
		cfg.Tags = merged
	}
	if o.loggerName != nil {
		cfg.LoggerName = *o.loggerName
	}
	if o.maxMessageLength != nil {
		cfg.MaxMessageLength = *o.maxMessageLength
	}
	if o.asyncEnabled != nil {
		cfg.Async = *o.asyncEnabled
	}
}

// configuresProcessor reports whether the comma-separated setting names
// processor.
func configuresProcessor(setting, processor string) bool {
	for name := range strings.SplitSeq(setting, ",") {
		if strings.TrimSpace(name) == processor {
			return true
		}
	}
	return false
}

// parseTagsEnv parses "key=value" pairs separated by commas. Malformed pairs
// are skipped with a diagnostic.
func parseTagsEnv(value string, logger *slog.Logger) map[string]string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	tags := make(map[string]string)
	for pair := range strings.SplitSeq(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, val, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			logDiagnostic(logger, slog.LevelWarn, "invalid tag in environment variable", slog.String("variable", envTags), slog.String("value", pair))
			continue
		}
		tags[key] = strings.TrimSpace(val)
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// parseBoolEnv interprets truthy environment variable values with validation
// diagnostics.
func parseBoolEnv(value string, current bool, logger *slog.Logger) bool {
	if strings.TrimSpace(value) == "" {
		return current
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		logDiagnostic(logger, slog.LevelWarn, "invalid boolean environment variable", slog.String("value", value), slog.Any("error", err))
		return current
	}
	return b
}

// parseLevelEnv parses slog levels from environment variables, retaining the
// current level on failure.
func parseLevelEnv(value string, current slog.Level, logger *slog.Logger) slog.Level {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return current
	}

	switch trimmed {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fatal":
		return LevelFatal.SlogLevel()
	default:
		if lv, err := strconv.Atoi(trimmed); err == nil {
			return slog.Level(lv)
		}
	}

	logDiagnostic(logger, slog.LevelWarn, "invalid log level environment variable", slog.String("value", value))
	return current
}

// isStdStream reports whether w is stdout or stderr.
func isStdStream(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return f == os.Stdout || f == os.Stderr
}

// logDiagnostic emits internal diagnostic messages, guarding against nil
// loggers in tests.
func logDiagnostic(logger *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if logger == nil {
		return
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}

