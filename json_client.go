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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClientClosed is returned by clients used after Close.
var ErrClientClosed = errors.New("slogsentry: client closed")

// JSONOption configures a JSONClient.
type JSONOption func(*JSONClient)

// WithJSONRegistry lets the client read the ambient Scope of each dispatch.
// Scope fields are emitted under "contexts" and the remaining event
// attributes under "extra".
func WithJSONRegistry(registry ContextRegistry) JSONOption {
	return func(c *JSONClient) {
		c.registry = registry
	}
}

// WithJSONEventIDs overrides the event id generator. Defaults to random
// UUIDs.
func WithJSONEventIDs(fn func() string) JSONOption {
	return func(c *JSONClient) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// JSONClient is a Client writing one JSON document per report, newline
// delimited. It backs the stdout:// and stderr:// transports and is safe for
// concurrent use.
type JSONClient struct {
	registry ContextRegistry
	newID    func() string

	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewJSONClient returns a JSONClient writing to w.
func NewJSONClient(w io.Writer, opts ...JSONOption) *JSONClient {
	c := &JSONClient{w: w, newID: uuid.NewString}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type jsonReport struct {
	EventID   string            `json:"event_id"`
	Timestamp string            `json:"timestamp,omitempty"`
	Level     string            `json:"level"`
	Severity  int               `json:"severity"`
	Logger    string            `json:"logger,omitempty"`
	Culprit   string            `json:"culprit,omitempty"`
	Message   string            `json:"message"`
	Tags      map[string]string `json:"tags,omitempty"`
	Exception *jsonException    `json:"exception,omitempty"`
	Location  *jsonLocation     `json:"location,omitempty"`
	Extra     map[string]any    `json:"extra,omitempty"`
	Contexts  map[string]any    `json:"contexts,omitempty"`
	SDK       jsonSDK           `json:"sdk"`
}

type jsonException struct {
	Type       string `json:"type"`
	Value      string `json:"value"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

type jsonLocation struct {
	Function string `json:"function,omitempty"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

type jsonSDK struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

var jsonClientBufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// CaptureMessage implements Client.
func (c *JSONClient) CaptureMessage(ctx context.Context, report Report) error {
	return c.write(c.render(ctx, report, nil))
}

// CaptureException implements Client.
func (c *JSONClient) CaptureException(ctx context.Context, report Report) error {
	var exc *jsonException
	if report.Err != nil {
		exc = &jsonException{
			Type:       fmt.Sprintf("%T", report.Err),
			Value:      report.Err.Error(),
			Stacktrace: extractAndFormatOriginStack(report.Err),
		}
	}
	return c.write(c.render(ctx, report, exc))
}

// render builds the document for report, pulling extra data from the scope
// bound to ctx when a registry is configured.
func (c *JSONClient) render(ctx context.Context, report Report, exc *jsonException) *jsonReport {
	doc := &jsonReport{
		EventID:   c.newID(),
		Level:     Level(report.Level).String(),
		Severity:  report.Level,
		Logger:    report.Logger,
		Culprit:   report.Culprit,
		Message:   report.Message,
		Tags:      report.Tags,
		Exception: exc,
		SDK:       jsonSDK{Name: SDKName, Version: Version},
	}
	if !report.Time.IsZero() {
		doc.Timestamp = report.Time.UTC().Format(time.RFC3339Nano)
	}

	if c.registry == nil {
		return doc
	}
	scope, ok := c.registry.Get(ctx)
	if !ok {
		return doc
	}
	doc.Contexts = jsonSafeMap(scope.Fields())
	if ev := scope.Event(); ev != nil {
		doc.Extra = jsonSafeMap(ev.Attrs)
		if frame, ok := callSite(ev.PC); ok {
			doc.Location = &jsonLocation{Function: frame.Function, File: frame.File, Line: frame.Line}
		}
	}
	return doc
}

// write encodes doc and writes it to the underlying writer in one call.
func (c *JSONClient) write(doc *jsonReport) error {
	buf := jsonClientBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		jsonClientBufferPool.Put(buf)
	}()

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		// Retry with the free-form maps flattened to text so the message and
		// exception are still delivered.
		buf.Reset()
		doc.Extra = jsonTextMap(doc.Extra)
		doc.Contexts = jsonTextMap(doc.Contexts)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.w == nil {
		return nil
	}
	_, err := buf.WriteTo(c.w)
	return err
}

// Close implements Client. Writers other than stdout and stderr are closed
// when they implement io.Closer.
func (c *JSONClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if closer, ok := c.w.(io.Closer); ok && !isStdStream(c.w) {
		return closer.Close()
	}
	return nil
}

// Reopen reopens the underlying writer when it supports it and is a no-op
// otherwise.
func (c *JSONClient) Reopen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if r, ok := c.w.(Reopener); ok {
		return r.Reopen()
	}
	return nil
}

// jsonSafeMap returns a copy of m whose values the JSON encoder accepts.
func jsonSafeMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = jsonSafeValue(v)
	}
	return out
}

// jsonSafeValue renders errors as their message, non-finite floats as
// strings and values encoding/json cannot represent with fmt. Slices, arrays
// and string-keyed maps are walked.
func jsonSafeValue(v any) any {
	switch typed := v.(type) {
	case nil:
		return nil
	case json.Marshaler:
		return typed
	case error:
		return typed.Error()
	case map[string]any:
		return jsonSafeMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = jsonSafeValue(item)
		}
		return out
	case []byte:
		return typed
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		if f := rv.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = jsonSafeValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return fmt.Sprint(v)
	}
	return v
}

// jsonTextMap replaces every value of m with its fmt rendering.
func jsonTextMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}
