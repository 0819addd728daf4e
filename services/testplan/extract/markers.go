// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import "strings"

// MarkerKind identifies a comment dependency marker.
type MarkerKind int

const (
	// MarkerData is `@depends <token>`.
	MarkerData MarkerKind = iota + 1

	// MarkerState is `@requires <token>`.
	MarkerState

	// MarkerExternal is `@external <token>`.
	MarkerExternal
)

// String returns the marker keyword without the leading '@'.
func (k MarkerKind) String() string {
	switch k {
	case MarkerData:
		return "depends"
	case MarkerState:
		return "requires"
	case MarkerExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Marker is one dependency marker found in a comment.
type Marker struct {
	Kind  MarkerKind
	Token string
}

var markerKeywords = []struct {
	word string
	kind MarkerKind
}{
	{"depends", MarkerData},
	{"requires", MarkerState},
	{"external", MarkerExternal},
}

// ScanMarkers tokenizes one comment's text and returns its markers in order.
//
// Description:
//
//	A marker is '@' followed by a keyword, at least one space or tab, and a
//	token. The '@' must not directly follow an identifier character, so
//	"user@depends" is not a marker. The token runs until whitespace or the
//	closing "*/" of a block comment. A keyword followed by a line break or
//	the end of the comment yields nothing. Duplicates are kept.
//
// Inputs:
//   - text: Comment text including its delimiters.
//
// Outputs:
//   - []Marker: Markers in source order. Nil if none.
func ScanMarkers(text string) []Marker {
	var markers []Marker

	for i := 0; i < len(text); i++ {
		if text[i] != '@' {
			continue
		}
		if i > 0 && isIdentByte(text[i-1]) {
			continue
		}

		rest := text[i+1:]
		for _, kw := range markerKeywords {
			if !strings.HasPrefix(rest, kw.word) {
				continue
			}

			j := i + 1 + len(kw.word)
			if j >= len(text) || !isHorizontalSpace(text[j]) {
				break
			}
			for j < len(text) && isHorizontalSpace(text[j]) {
				j++
			}

			start := j
			for j < len(text) && !isSpace(text[j]) && !strings.HasPrefix(text[j:], "*/") {
				j++
			}
			if j > start {
				markers = append(markers, Marker{Kind: kw.kind, Token: text[start:j]})
			}
			i = j - 1
			break
		}
	}

	return markers
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func isHorizontalSpace(b byte) bool {
	return b == ' ' || b == '\t'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == '\v'
}
