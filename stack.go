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
	"runtime"
	"strconv"
	"strings"
)

// maxStackFrames caps the frames captured by WithStack and rendered for
// reports.
const maxStackFrames = 64

// stackTracer defines an interface errors can implement to provide their own stack trace
// in the form of program counters. Compatible with github.com/pkg/errors.
type stackTracer interface {
	StackTrace() []uintptr
}

// stackError attaches the program counters of its creation site to an error.
type stackError struct {
	err error
	pcs []uintptr
}

func (e *stackError) Error() string         { return e.err.Error() }
func (e *stackError) Unwrap() error         { return e.err }
func (e *stackError) StackTrace() []uintptr { return e.pcs }

// WithStack annotates err with the stack of the caller so clients can report
// where it was raised. Errors that already carry a stack are returned as is.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var st stackTracer
	if errors.As(err, &st) {
		return err
	}
	return &stackError{err: err, pcs: callers(3)}
}

// callers returns the program counters of the current goroutine, skipping
// skip frames (runtime.Callers counts itself).
func callers(skip int) []uintptr {
	pcs := make([]uintptr, maxStackFrames)
	n := runtime.Callers(skip, pcs)
	return pcs[:n]
}

// extractAndFormatOriginStack attempts to get a stack trace via the stackTracer interface
// implemented by the error (or one it wraps) and formats it according to Go standards.
// It returns an empty string if the interface is not found or provides no PCs.
func extractAndFormatOriginStack(err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		pcs := st.StackTrace()
		if len(pcs) > 0 {
			if len(pcs) > maxStackFrames {
				pcs = pcs[:maxStackFrames]
			}
			return formatPCsToStackString(pcs)
		}
	}
	return ""
}

// formatPCsToStackString formats program counters (pcs) into a standard Go
// stack trace string. It skips runtime exit frames.
func formatPCsToStackString(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.Grow(len(pcs) * 64)

	var intBuf [20]byte
	frames := runtime.CallersFrames(pcs)
	frameCount := 0

	for {
		frame, more := frames.Next()

		if frame.PC == 0 {
			break
		}

		if frame.Function == "runtime.goexit" || frame.Function == "" {
			if !more {
				break
			}
			continue
		}

		sb.WriteString(frame.Function)
		sb.WriteByte('\n')
		sb.WriteByte('\t')
		sb.WriteString(frame.File)
		sb.WriteByte(':')
		sb.Write(strconv.AppendInt(intBuf[:0], int64(frame.Line), 10))

		if frame.Entry != 0 && frame.PC > frame.Entry {
			sb.WriteString(" +0x")
			sb.Write(strconv.AppendUint(intBuf[:0], uint64(frame.PC-frame.Entry), 16))
		}

		sb.WriteByte('\n')

		frameCount++
		if !more || frameCount >= maxStackFrames {
			break
		}
	}

	return sb.String()
}

// callSite resolves the frame of a single program counter, as recorded in
// slog.Record.PC.
func callSite(pc uintptr) (runtime.Frame, bool) {
	if pc == 0 {
		return runtime.Frame{}, false
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return frame, frame.Function != "" || frame.File != ""
}
