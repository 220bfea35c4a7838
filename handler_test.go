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

package slogsentry_test

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pjscruggs/slogsentry"
	"github.com/pjscruggs/slogsentry/slogsentryasync"
	"github.com/pjscruggs/slogsentry/slogsentrytest"
)

// newRecordingHandler builds a Handler delivering to a Recorder.
func newRecordingHandler(t *testing.T, opts ...slogsentry.Option) (*slogsentry.Handler, *slogsentrytest.Recorder) {
	t.Helper()
	registry, err := slogsentry.InstallRegistry(nil)
	if err != nil {
		t.Fatalf("InstallRegistry returned error: %v", err)
	}
	rec := slogsentrytest.NewRecorder(registry)
	h, err := slogsentry.NewHandler(append([]slogsentry.Option{
		slogsentry.WithClient(rec),
		slogsentry.WithProcessors(),
	}, opts...)...)
	if err != nil {
		t.Fatalf("NewHandler returned error: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h, rec
}

// TestHandlerDeliversMessage covers the synchronous message path.
func TestHandlerDeliversMessage(t *testing.T) {
	t.Parallel()

	h, rec := newRecordingHandler(t,
		slogsentry.WithLevel(slog.LevelInfo),
		slogsentry.WithLoggerName("app"),
		slogsentry.WithTags(map[string]string{"env": "test"}),
	)
	slog.New(h).Info("hello", "user", "alice")

	captures := rec.Captures()
	if len(captures) != 1 {
		t.Fatalf("captures = %d, want 1", len(captures))
	}
	c := captures[0]
	if c.Kind != slogsentrytest.KindMessage {
		t.Fatalf("Kind = %v, want message", c.Kind)
	}
	if c.Report.Level != int(slogsentry.LevelInfo) {
		t.Fatalf("Level = %d, want %d", c.Report.Level, slogsentry.LevelInfo)
	}
	if c.Report.Message != "hello" || c.Report.Logger != "app" || c.Report.Tags["env"] != "test" {
		t.Fatalf("Report = %+v", c.Report)
	}
	if !c.Scoped || c.Attrs["user"] != "alice" {
		t.Fatalf("capture scope = %v, attrs = %v", c.Scoped, c.Attrs)
	}
	if h.Registry() == nil {
		t.Fatalf("Registry() = nil")
	}
}

// TestHandlerDeliversException routes error attributes to CaptureException.
func TestHandlerDeliversException(t *testing.T) {
	t.Parallel()

	h, rec := newRecordingHandler(t)
	cause := errors.New("card declined")
	slog.New(h).Error("charge failed", "error", cause, slogsentry.LoggerKey, "billing")

	c := rec.Captures()[0]
	if c.Kind != slogsentrytest.KindException {
		t.Fatalf("Kind = %v, want exception", c.Kind)
	}
	if c.Report.Err != cause || c.Report.Level != int(slogsentry.LevelError) || c.Report.Logger != "billing" {
		t.Fatalf("Report = %+v", c.Report)
	}
}

// TestHandlerLevelGate filters records below the configured level.
func TestHandlerLevelGate(t *testing.T) {
	t.Parallel()

	h, rec := newRecordingHandler(t)
	logger := slog.New(h)
	logger.Info("ignored")
	logger.Warn("kept")

	if h.Level() != slog.LevelWarn {
		t.Fatalf("Level() = %v, want default %v", h.Level(), slog.LevelWarn)
	}
	if rec.Len() != 1 {
		t.Fatalf("captures = %d, want 1", rec.Len())
	}

	h.SetLevel(slog.LevelDebug)
	logger.Debug("now kept")
	if rec.Len() != 2 {
		t.Fatalf("captures after SetLevel = %d, want 2", rec.Len())
	}
	if h.LevelVar().Level() != slog.LevelDebug {
		t.Fatalf("LevelVar() = %v, want %v", h.LevelVar().Level(), slog.LevelDebug)
	}
}

// TestHandlerWithAttrsAndGroups flattens handler-level context.
func TestHandlerWithAttrsAndGroups(t *testing.T) {
	t.Parallel()

	h, rec := newRecordingHandler(t)
	logger := slog.New(h).With("service", "api").WithGroup("req").With("id", "r-1")
	logger.Error("failed", "status", 500)
	slog.New(h).Error("plain")

	captures := rec.Captures()
	attrs := captures[0].Attrs
	if attrs["service"] != "api" || attrs["req.id"] != "r-1" || attrs["req.status"] != int64(500) {
		t.Fatalf("Attrs = %v", attrs)
	}
	if len(captures[1].Attrs) != 0 {
		t.Fatalf("derived handler leaked attributes into its parent: %v", captures[1].Attrs)
	}
}

// TestHandlerTruncatesMessages applies the configured bound.
func TestHandlerTruncatesMessages(t *testing.T) {
	t.Parallel()

	h, rec := newRecordingHandler(t, slogsentry.WithMaxMessageLength(20))
	slog.New(h).Error(strings.Repeat("a", 15) + strings.Repeat("b", 15))

	if got, want := rec.Captures()[0].Report.Message, "aaaaaaaaaa...bbbbbbb"; got != want {
		t.Fatalf("Message = %q, want %q", got, want)
	}
}

// TestHandlerReturnsDeliveryErrors wraps client failures in synchronous
// mode.
func TestHandlerReturnsDeliveryErrors(t *testing.T) {
	t.Parallel()

	h, rec := newRecordingHandler(t)
	clientErr := errors.New("collector unavailable")
	rec.FailWith(clientErr)

	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelError, "m", 0))
	if !errors.Is(err, slogsentry.ErrDelivery) || !errors.Is(err, clientErr) {
		t.Fatalf("Handle error = %v, want ErrDelivery wrapping %v", err, clientErr)
	}
	if rec.Len() != 1 {
		t.Fatalf("captures = %d, want 1 (no retry)", rec.Len())
	}
}

// loggingClient logs through its handler while capturing.
type loggingClient struct {
	*slogsentrytest.Recorder
	logger *slog.Logger
}

func (c *loggingClient) CaptureMessage(ctx context.Context, report slogsentry.Report) error {
	c.logger.ErrorContext(ctx, "nested report")
	return c.Recorder.CaptureMessage(ctx, report)
}

// TestHandlerDropsReentrantRecords prevents a client from recursing into the
// handler.
func TestHandlerDropsReentrantRecords(t *testing.T) {
	t.Parallel()

	registry, err := slogsentry.InstallRegistry(nil)
	if err != nil {
		t.Fatalf("InstallRegistry returned error: %v", err)
	}
	client := &loggingClient{Recorder: slogsentrytest.NewRecorder(registry)}
	h, err := slogsentry.NewHandler(slogsentry.WithClient(client), slogsentry.WithProcessors())
	if err != nil {
		t.Fatalf("NewHandler returned error: %v", err)
	}
	defer h.Close()
	client.logger = slog.New(h)

	client.logger.Error("outer")
	if n := client.Len(); n != 1 {
		t.Fatalf("captures = %d, want 1", n)
	}
	if msg := client.Captures()[0].Report.Message; msg != "outer" {
		t.Fatalf("Message = %q, want outer", msg)
	}
}

// TestHandlerAsyncDelivery runs processor hooks on the worker around the
// capture call.
func TestHandlerAsyncDelivery(t *testing.T) {
	t.Parallel()

	name := "test.async.hooks"
	var (
		mu    sync.Mutex
		calls []string
	)
	slogsentry.RegisterProcessor(name, func(registry slogsentry.ContextRegistry) (slogsentry.Processor, error) {
		return slogsentry.NewFieldProcessor(registry, "worker", func(context.Context) (any, bool) {
			mu.Lock()
			calls = append(calls, "prepare")
			mu.Unlock()
			return true, true
		})
	})

	h, rec := newRecordingHandler(t,
		slogsentry.WithProcessors(name),
		slogsentry.WithAsync(slogsentryasync.WithQueueSize(16)),
	)
	if !h.Async() {
		t.Fatalf("Async() = false, want true")
	}

	logger := slog.New(h)
	for range 5 {
		logger.Error("queued")
	}
	if !rec.WaitFor(5, 5*time.Second) {
		t.Fatalf("captures = %d, want 5", rec.Len())
	}
	for _, c := range rec.Captures() {
		if c.Fields["worker"] != true {
			t.Fatalf("capture fields = %v, want worker=true", c.Fields)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 5 {
		t.Fatalf("prepare calls = %d, want 5", len(calls))
	}
}

// TestHandlerAsyncErrorsGoToInternalLogger keeps failures off the caller.
func TestHandlerAsyncErrorsGoToInternalLogger(t *testing.T) {
	t.Parallel()

	internal := &lockedBuffer{}
	h, rec := newRecordingHandler(t,
		slogsentry.WithAsync(),
		slogsentry.WithInternalLogger(slog.New(slog.NewTextHandler(internal, nil))),
	)
	rec.FailWith(errors.New("collector unavailable"))

	if err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelError, "m", 0)); err != nil {
		t.Fatalf("Handle returned error in async mode: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if !strings.Contains(internal.String(), "asynchronous delivery failed") {
		t.Fatalf("internal log = %q, want delivery failure", internal.String())
	}
}

// TestHandlerCloseDrainsQueue delivers queued records before closing the
// client exactly once.
func TestHandlerCloseDrainsQueue(t *testing.T) {
	t.Parallel()

	h, rec := newRecordingHandler(t, slogsentry.WithAsync(slogsentryasync.WithQueueSize(64)))
	logger := slog.New(h)
	for range 20 {
		logger.Error("drain me")
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
	if rec.Len() != 20 {
		t.Fatalf("captures = %d, want 20", rec.Len())
	}
	if rec.Closed() != 1 {
		t.Fatalf("client closed %d times, want 1", rec.Closed())
	}

	logger.Error("after close")
	if rec.Len() != 20 {
		t.Fatalf("record handled after Close was delivered")
	}
}

// TestHandlerDeliversExceptionWithNonFiniteAttr keeps an unrelated NaN
// attribute from dropping the exception report.
func TestHandlerDeliversExceptionWithNonFiniteAttr(t *testing.T) {
	t.Parallel()

	registry, err := slogsentry.InstallRegistry(nil)
	if err != nil {
		t.Fatalf("InstallRegistry returned error: %v", err)
	}
	out := &lockedBuffer{}
	h, err := slogsentry.NewHandler(
		slogsentry.WithClient(slogsentry.NewJSONClient(out, slogsentry.WithJSONRegistry(registry))),
		slogsentry.WithProcessors(),
	)
	if err != nil {
		t.Fatalf("NewHandler returned error: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })

	rec := slog.NewRecord(time.Now(), slog.LevelError, "ratio check failed", 0)
	rec.AddAttrs(slog.Any("error", errors.New("boom")), slog.Float64("ratio", math.NaN()))
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	got := out.String()
	for _, want := range []string{`"value":"boom"`, `"ratio":"NaN"`, `"message":"ratio check failed"`} {
		if !strings.Contains(got, want) {
			t.Fatalf("output = %q, want it to contain %s", got, want)
		}
	}
}

// stallingClient blocks every capture until release is closed.
type stallingClient struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	closes  atomic.Int32
}

func newStallingClient() *stallingClient {
	return &stallingClient{started: make(chan struct{}), release: make(chan struct{})}
}

func (c *stallingClient) capture() error {
	c.once.Do(func() { close(c.started) })
	<-c.release
	if c.closes.Load() > 0 {
		return slogsentry.ErrClientClosed
	}
	return nil
}

func (c *stallingClient) CaptureMessage(context.Context, slogsentry.Report) error {
	return c.capture()
}

func (c *stallingClient) CaptureException(context.Context, slogsentry.Report) error {
	return c.capture()
}

func (c *stallingClient) Close() error {
	c.closes.Add(1)
	return nil
}

// TestHandlerCloseFlushTimeoutDefersClientClose leaves the client open for
// the worker that is still delivering and closes it once the worker exits.
func TestHandlerCloseFlushTimeoutDefersClientClose(t *testing.T) {
	t.Parallel()

	if _, err := slogsentry.InstallRegistry(nil); err != nil {
		t.Fatalf("InstallRegistry returned error: %v", err)
	}
	client := newStallingClient()
	internal := &lockedBuffer{}
	h, err := slogsentry.NewHandler(
		slogsentry.WithClient(client),
		slogsentry.WithProcessors(),
		slogsentry.WithInternalLogger(slog.New(slog.NewTextHandler(internal, nil))),
		slogsentry.WithAsync(slogsentryasync.WithFlushTimeout(20*time.Millisecond)),
	)
	if err != nil {
		t.Fatalf("NewHandler returned error: %v", err)
	}

	slog.New(h).Error("stuck delivery")
	<-client.started

	if err := h.Close(); !errors.Is(err, slogsentryasync.ErrFlushTimeout) {
		t.Fatalf("Close() = %v, want ErrFlushTimeout", err)
	}
	if got := client.closes.Load(); got != 0 {
		t.Fatalf("client closed %d times while a delivery was in flight, want 0", got)
	}

	close(client.release)
	deadline := time.Now().Add(5 * time.Second)
	for client.closes.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not closed after the worker finished")
		}
		time.Sleep(time.Millisecond)
	}
	if strings.Contains(internal.String(), "asynchronous delivery failed") {
		t.Fatalf("internal log = %q, want the late delivery to succeed", internal.String())
	}
}

// TestNewHandlerConfigurationErrors returns configuration problems.
func TestNewHandlerConfigurationErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		opts []slogsentry.Option
		want error
	}{
		{name: "missing_processor", opts: []slogsentry.Option{slogsentry.WithProcessors("missing")}, want: slogsentry.ErrProcessorNotFound},
		{name: "invalid_dsn", opts: []slogsentry.Option{slogsentry.WithDSN("not a dsn")}, want: slogsentry.ErrInvalidDSN},
		{name: "unknown_scheme", opts: []slogsentry.Option{slogsentry.WithDSN("carrier-pigeon://key@loft/1")}, want: slogsentry.ErrUnknownTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h, err := slogsentry.NewHandler(append([]slogsentry.Option{slogsentry.WithProcessors()}, tc.opts...)...)
			if !errors.Is(err, tc.want) {
				t.Fatalf("NewHandler error = %v, want %v", err, tc.want)
			}
			if h != nil {
				t.Fatalf("NewHandler returned a handler alongside an error")
			}
		})
	}
}

// TestNewHandlerProcessorsFromEnv resolves SLOGSENTRY_PROCESSORS.
func TestNewHandlerProcessorsFromEnv(t *testing.T) {
	t.Setenv("SLOGSENTRY_PROCESSORS", "missing-from-env")

	if _, err := slogsentry.NewHandler(slogsentry.WithClient(slogsentrytest.NewRecorder(nil))); !errors.Is(err, slogsentry.ErrProcessorNotFound) {
		t.Fatalf("NewHandler error = %v, want ErrProcessorNotFound", err)
	}

	rec := slogsentrytest.NewRecorder(nil)
	h, err := slogsentry.NewHandler(slogsentry.WithClient(rec), slogsentry.WithProcessors())
	if err != nil {
		t.Fatalf("option did not override the environment: %v", err)
	}
	_ = h.Close()
}

// TestNewHandlerFileDSN writes to a file and supports Reopen.
func TestNewHandlerFileDSN(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reports.jsonl")
	h, err := slogsentry.NewHandler(slogsentry.WithDSN("file://"+path), slogsentry.WithProcessors())
	if err != nil {
		t.Fatalf("NewHandler returned error: %v", err)
	}
	logger := slog.New(h)
	logger.Error("first")
	if err := h.Reopen(); err != nil {
		t.Fatalf("Reopen returned error: %v", err)
	}
	logger.Error("second")
	if err := h.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := h.Reopen(); !errors.Is(err, slogsentry.ErrClientClosed) {
		t.Fatalf("Reopen after Close error = %v, want ErrClientClosed", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if strings.Count(string(data), "\n") != 2 {
		t.Fatalf("file = %s, want two reports", data)
	}
}

// lockedBuffer is a concurrency-safe strings.Builder.
type lockedBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}
