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

// Package slogsentryasync provides the bounded job queue behind slogsentry's
// asynchronous delivery mode. Jobs are queued on a buffered channel and run
// by worker goroutines; the caller returns as soon as its job is queued.
//
// Basic usage through the handler:
//
//	h, _ := slogsentry.NewHandler(
//		slogsentry.WithAsync(
//			slogsentryasync.WithQueueSize(4096),
//			slogsentryasync.WithDropMode(slogsentryasync.DropModeDropNewest),
//		),
//	)
//	defer h.Close()
//
// The following environment variables are recognized when [WithEnv] is
// supplied:
//   - SLOGSENTRY_ASYNC_QUEUE_SIZE: channel capacity (0 makes the queue unbuffered)
//   - SLOGSENTRY_ASYNC_DROP_MODE: block | drop_newest | drop_oldest
//   - SLOGSENTRY_ASYNC_WORKERS: number of worker goroutines
//   - SLOGSENTRY_ASYNC_BATCH_SIZE: jobs drained per worker wake-up
//   - SLOGSENTRY_ASYNC_FLUSH_TIMEOUT: duration string used by Close
package slogsentryasync
