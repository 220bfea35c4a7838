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
	"log/slog"
	"testing"
)

// TestMapSeverityDividesByGranularity checks the integer-division transform
// including truncation and negative inputs.
func TestMapSeverityDividesByGranularity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		native int
		want   int
	}{
		{native: 10000, want: 10},
		{native: 20000, want: 20},
		{native: 30000, want: 30},
		{native: 40000, want: 40},
		{native: 50000, want: 50},
		{native: 20999, want: 20},
		{native: 999, want: 0},
		{native: 0, want: 0},
		{native: -1500, want: -1},
	}
	for _, tc := range cases {
		if got := MapSeverity(tc.native); got != tc.want {
			t.Fatalf("MapSeverity(%d) = %d, want %d", tc.native, got, tc.want)
		}
	}
}

// TestNativeSeverityStandardLevels verifies the slog levels land on the
// collector buckets.
func TestNativeSeverityStandardLevels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level slog.Level
		want  Level
	}{
		{level: slog.LevelDebug, want: LevelDebug},
		{level: slog.LevelInfo, want: LevelInfo},
		{level: slog.LevelWarn, want: LevelWarning},
		{level: slog.LevelError, want: LevelError},
		{level: slog.LevelError + 4, want: LevelFatal},
	}
	for _, tc := range cases {
		if got := Level(MapSeverity(NativeSeverity(tc.level))); got != tc.want {
			t.Fatalf("mapped %v = %v, want %v", tc.level, got, tc.want)
		}
		if got := tc.want.SlogLevel(); got != tc.level {
			t.Fatalf("%v.SlogLevel() = %v, want %v", tc.want, got, tc.level)
		}
	}
}

// TestNativeSeverityPreservesOrder ensures increasing slog levels never map to
// decreasing collector levels.
func TestNativeSeverityPreservesOrder(t *testing.T) {
	t.Parallel()

	prev := MapSeverity(NativeSeverity(slog.Level(-12)))
	for lvl := slog.Level(-11); lvl <= 16; lvl++ {
		got := MapSeverity(NativeSeverity(lvl))
		if got < prev {
			t.Fatalf("MapSeverity(NativeSeverity(%d)) = %d, below previous %d", lvl, got, prev)
		}
		prev = got
	}
}

// TestLevelString covers named and offset renderings.
func TestLevelString(t *testing.T) {
	t.Parallel()

	cases := map[Level]string{
		LevelDebug:   "debug",
		LevelInfo:    "info",
		LevelWarning: "warning",
		LevelError:   "error",
		LevelFatal:   "fatal",
		Level(22):    "info+2",
		Level(42):    "error+2",
		Level(55):    "fatal+5",
		Level(8):     "debug-2",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Fatalf("Level(%d).String() = %q, want %q", int(level), got, want)
		}
	}
}
