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

// Package slogsentryhttp attaches net/http request metadata to slogsentry
// reports. [Middleware] stores a [RequestScope] in each request context and
// wraps the handler with otelhttp so the "trace" processor sees a span.
// Importing the package registers the "http" processor, which copies the
// scope into the "request" diagnostic field of every report made with the
// request context:
//
//	h, _ := slogsentry.NewHandler(slogsentry.WithProcessors("http", "trace"))
//	logger := slog.New(h)
//	mux.Handle("/", slogsentryhttp.Middleware(
//		slogsentryhttp.WithLogger(logger),
//		slogsentryhttp.WithRecoverPanics(true),
//	)(app))
package slogsentryhttp
