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
	"log/slog"
)

// SeverityGranularity is the step between adjacent native severities. The
// collector scale is the native scale divided by this factor.
const SeverityGranularity = 1000

// nativeInfo is the native severity assigned to slog.LevelInfo and
// nativeStep the native distance covered by one slog level unit.
const (
	nativeInfo = 20000
	nativeStep = 2500
)

// Level is a severity on the collector's coarse scale, as produced by
// MapSeverity.
type Level int

// Collector severities reached by the standard slog levels.
const (
	// LevelDebug is reported for slog.LevelDebug.
	LevelDebug Level = 10
	// LevelInfo is reported for slog.LevelInfo.
	LevelInfo Level = 20
	// LevelWarning is reported for slog.LevelWarn.
	LevelWarning Level = 30
	// LevelError is reported for slog.LevelError.
	LevelError Level = 40
	// LevelFatal is reported for slog levels at or above slog.LevelError+4.
	LevelFatal Level = 50
)

// MapSeverity converts a native severity into the collector scale by integer
// division with SeverityGranularity. The transform truncates, never clamps
// and is defined for every input.
func MapSeverity(native int) int {
	return native / SeverityGranularity
}

// NativeSeverity places an slog.Level on the native fine-grained scale. The
// standard levels land on whole multiples of SeverityGranularity*10:
// Debug=10000, Info=20000, Warn=30000, Error=40000. Ordering is preserved for
// every level in between.
func NativeSeverity(level slog.Level) int {
	return nativeInfo + nativeStep*int(level)
}

// String returns the collector name of the level ("debug", "info",
// "warning", "error", "fatal"). Values between the defined constants are
// rendered as the nearest lower name plus an offset, e.g. "info+2".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	}

	var (
		base     Level
		baseName string
	)
	switch {
	case l < LevelDebug:
		return fmt.Sprintf("debug%+d", int(l-LevelDebug))
	case l < LevelInfo:
		base, baseName = LevelDebug, "debug"
	case l < LevelWarning:
		base, baseName = LevelInfo, "info"
	case l < LevelError:
		base, baseName = LevelWarning, "warning"
	case l < LevelFatal:
		base, baseName = LevelError, "error"
	default:
		base, baseName = LevelFatal, "fatal"
	}
	return fmt.Sprintf("%s+%d", baseName, int(l-base))
}

// SlogLevel returns the slog.Level whose native severity maps onto l. It is
// the inverse of MapSeverity(NativeSeverity(level)) for the standard levels.
func (l Level) SlogLevel() slog.Level {
	native := int(l) * SeverityGranularity
	return slog.Level((native - nativeInfo) / nativeStep)
}
