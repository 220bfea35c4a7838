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
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownTransport indicates no transport is registered for the DSN
	// scheme.
	ErrUnknownTransport = errors.New("slogsentry: no transport registered for scheme")

	// ErrDelivery wraps every error returned by a Client during dispatch.
	ErrDelivery = errors.New("slogsentry: delivery failed")
)

// Client delivers reports to the remote collector. Exactly one of the capture
// methods is called per dispatched event. Implementations own wire format,
// batching and retries; the dispatcher never retries a failed call.
//
// ctx is bound to the dispatch task, so implementations may look up the
// ambient Scope through the ContextRegistry in their ClientConfig.
type Client interface {
	// CaptureMessage delivers a report without an error payload.
	CaptureMessage(ctx context.Context, report Report) error

	// CaptureException delivers a report whose Err is set.
	CaptureException(ctx context.Context, report Report) error

	// Close releases resources held by the client.
	Close() error
}

// ClientConfig is handed to a ClientFactory when the handler starts.
type ClientConfig struct {
	DSN DSN
	// CompressionEnabled is forwarded untouched; its meaning is up to the
	// transport.
	CompressionEnabled bool
	// Registry is the ambient context registry used by the handler.
	Registry ContextRegistry
}

// ClientFactory builds a Client for a parsed connection string.
type ClientFactory func(cfg ClientConfig) (Client, error)

var (
	transportsMu sync.RWMutex
	transports   = make(map[string]ClientFactory)
)

func init() {
	RegisterTransport(SchemeStdout, func(cfg ClientConfig) (Client, error) {
		return NewJSONClient(os.Stdout, WithJSONRegistry(cfg.Registry)), nil
	})
	RegisterTransport(SchemeStderr, func(cfg ClientConfig) (Client, error) {
		return NewJSONClient(os.Stderr, WithJSONRegistry(cfg.Registry)), nil
	})
	RegisterTransport(SchemeFile, func(cfg ClientConfig) (Client, error) {
		f, err := openReportFile(cfg.DSN.Path)
		if err != nil {
			return nil, err
		}
		return NewJSONClient(f, WithJSONRegistry(cfg.Registry)), nil
	})
}

// RegisterTransport makes factory responsible for DSNs using scheme. It
// panics when scheme is empty, factory is nil or scheme is already
// registered.
func RegisterTransport(scheme string, factory ClientFactory) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" {
		panic("slogsentry: RegisterTransport with empty scheme")
	}
	if factory == nil {
		panic("slogsentry: RegisterTransport factory is nil for " + scheme)
	}

	transportsMu.Lock()
	defer transportsMu.Unlock()
	if _, dup := transports[scheme]; dup {
		panic("slogsentry: RegisterTransport called twice for " + scheme)
	}
	transports[scheme] = factory
}

// Transports returns the sorted schemes with a registered transport.
func Transports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	schemes := make([]string, 0, len(transports))
	for scheme := range transports {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

// newClient builds the client for cfg.DSN through the transport registry.
func newClient(cfg ClientConfig) (Client, error) {
	transportsMu.RLock()
	factory, ok := transports[cfg.DSN.Scheme]
	transportsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTransport, cfg.DSN.Scheme)
	}

	client, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("slogsentry: build %s client: %w", cfg.DSN.Scheme, err)
	}
	if client == nil {
		return nil, fmt.Errorf("slogsentry: build %s client: factory returned nil", cfg.DSN.Scheme)
	}
	return client, nil
}
