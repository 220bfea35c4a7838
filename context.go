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

import "context"

// taskID identifies one dispatch task inside a Registry.
type taskID uint64

// taskContextKey scopes task identities to the registry that issued them so
// a context threaded through two registries never aliases their slots.
type taskContextKey struct {
	registry *Registry
}

// contextWithTask returns a child context carrying id for r.
func contextWithTask(ctx context.Context, r *Registry, id taskID) context.Context {
	return context.WithValue(ctx, taskContextKey{registry: r}, id)
}

// taskFromContext retrieves the identity r stored in ctx.
func taskFromContext(ctx context.Context, r *Registry) (taskID, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(taskContextKey{registry: r}).(taskID)
	return id, ok
}
