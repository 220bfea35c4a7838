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
	"fmt"
	"io"
	"os"
	"sync"
)

// Reopener is implemented by clients and writers that can reopen their
// destination, typically after an external tool rotated the file.
type Reopener interface {
	Reopen() error
}

// reportFile is the destination of the file:// transport. Writes and
// Reopen are serialized so a rotation never interleaves with a report.
type reportFile struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// openReportFile opens path for appending, creating it when missing.
func openReportFile(path string) (*reportFile, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("slogsentry: open report file %q: %w", path, err)
	}
	return &reportFile{path: path, f: f}, nil
}

// Write appends p to the current file.
func (rf *reportFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.f == nil {
		return 0, os.ErrClosed
	}
	n, err := rf.f.Write(p)
	if err != nil {
		return n, fmt.Errorf("write report file: %w", err)
	}
	return n, nil
}

// Reopen closes the current file and opens path again. On failure the
// writer stays closed and later writes return os.ErrClosed.
func (rf *reportFile) Reopen() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.f != nil {
		_ = rf.f.Close()
		rf.f = nil
	}
	f, err := os.OpenFile(rf.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("slogsentry: reopen report file %q: %w", rf.path, err)
	}
	rf.f = f
	return nil
}

// Close closes the current file. It is idempotent.
func (rf *reportFile) Close() error {
	rf.mu.Lock()
	f := rf.f
	rf.f = nil
	rf.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report file: %w", err)
	}
	return nil
}

var (
	_ io.WriteCloser = (*reportFile)(nil)
	_ Reopener       = (*reportFile)(nil)
)
