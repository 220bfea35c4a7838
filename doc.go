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

// Package slogsentry forwards [log/slog] records to an error-reporting
// collector. [NewHandler] returns an [slog.Handler] that converts each
// enabled record into a [Report] and delivers it through a [Client]:
//   - Severities are mapped onto the collector's five buckets with
//     [MapSeverity].
//   - Messages are bounded with [SanitizeMessage], keeping the head and tail
//     of oversized text around a "..." marker.
//   - Records carrying an error attribute are delivered with
//     [Client.CaptureException], everything else with
//     [Client.CaptureMessage].
//
// While a report is in flight the record is installed as the ambient event
// of its task in a [ContextRegistry]. Named processors registered with
// [RegisterProcessor] run before and after each delivery and may attach
// diagnostic fields to the ambient [Scope]. Built-in processors are "trace"
// and "runtime"; importing slogsentryhttp or slogsentrygrpc adds "http" and
// "grpc".
//
// The collector is selected by DSN scheme. "stdout://" and "stderr://" write
// newline-delimited JSON documents; other schemes are provided by the host
// application through [RegisterTransport].
//
// Delivery is synchronous by default. [WithAsync] moves it onto the bounded
// queue from slogsentryasync, in which case processor hooks run on the
// worker goroutine. Records logged while a delivery is in progress on the
// same context are dropped so a client that logs cannot recurse into the
// handler.
//
// Configuration comes from options and environment variables such as
// SLOGSENTRY_DSN, SLOGSENTRY_LEVEL, SLOGSENTRY_PROCESSORS and
// SLOGSENTRY_ASYNC. Options win over the environment.
//
// # Quick Start
//
//	handler, err := slogsentry.NewHandler(
//		slogsentry.WithDSN("stderr://"),
//		slogsentry.WithProcessors("trace", "runtime"),
//		slogsentry.WithTags(map[string]string{"service": "billing"}),
//	)
//	if err != nil {
//		log.Fatalf("create slogsentry handler: %v", err)
//	}
//	defer handler.Close()
//
//	logger := slog.New(handler)
//	logger.Error("charge failed", "error", err, "logger", "billing.charges")
package slogsentry
