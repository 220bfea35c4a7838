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
	"strings"
	"unicode/utf8"
)

const (
	// MaxMessageLength is the default upper bound, in characters, of a
	// reported message.
	MaxMessageLength = 1000

	// TruncationMarker joins the head and tail of a shortened message.
	TruncationMarker = "..."
)

// SanitizeMessage bounds msg to MaxMessageLength characters. Messages within
// the limit, including the empty message, are returned unchanged. Longer
// messages keep their first 500 and last 497 characters around
// TruncationMarker.
func SanitizeMessage(msg string) string {
	return sanitizeMessage(msg, MaxMessageLength)
}

// sanitizeMessage keeps the first max/2 and the last max/2-3 characters of an
// oversized msg. Characters are runes so multi-byte sequences stay intact.
// A limit too small to hold the marker cuts msg to its first max characters,
// and max <= 0 disables the bound.
func sanitizeMessage(msg string, max int) string {
	if max <= 0 || len(msg) <= max {
		// Byte length bounds rune count from above.
		return msg
	}
	count := utf8.RuneCountInString(msg)
	if count <= max {
		return msg
	}

	head := max / 2
	tail := max/2 - len(TruncationMarker)
	if tail < 0 {
		return msg[:byteOffset(msg, max)]
	}

	headEnd := byteOffset(msg, head)
	tailStart := byteOffset(msg, count-tail)

	var sb strings.Builder
	sb.Grow(headEnd + len(TruncationMarker) + len(msg) - tailStart)
	sb.WriteString(msg[:headEnd])
	sb.WriteString(TruncationMarker)
	sb.WriteString(msg[tailStart:])
	return sb.String()
}

// byteOffset returns the byte index at which the n-th rune of s starts, or
// len(s) when s has fewer than n+1 runes.
func byteOffset(s string, n int) int {
	if n <= 0 {
		return 0
	}
	i := 0
	for idx := range s {
		if i == n {
			return idx
		}
		i++
	}
	return len(s)
}
