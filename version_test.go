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
	"strings"
	"testing"

	"github.com/pjscruggs/slogsentry"
)

// TestGetVersionReflectsVariable ensures GetVersion mirrors manual overrides.
func TestGetVersionReflectsVariable(t *testing.T) {
	original := slogsentry.Version
	slogsentry.Version = "test-version"
	t.Cleanup(func() {
		slogsentry.Version = original
	})

	if got := slogsentry.GetVersion(); got != "test-version" {
		t.Fatalf("GetVersion() = %q, want %q", got, "test-version")
	}
}

// TestUserAgentNamesSDK checks the identifier sent by transports.
func TestUserAgentNamesSDK(t *testing.T) {
	t.Parallel()

	if !strings.HasPrefix(slogsentry.UserAgent, slogsentry.SDKName+"/") {
		t.Fatalf("UserAgent = %q, want %s/<version>", slogsentry.UserAgent, slogsentry.SDKName)
	}
}
