// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"errors"
	"fmt"
)

// Sentinel errors for parse failure conditions.
//
// Every error returned by a Parser wraps one of these, so callers can use
// errors.Is() to decide how to react without inspecting messages. The test
// analyzer treats all of them the same way: the file is skipped.
var (
	// ErrUnsupportedLanguage indicates that no parser is registered for the
	// file's extension.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrParseFailed indicates that the source is syntactically malformed.
	//
	// Tree-sitter is error tolerant and always produces a tree, so strict
	// parsers report a tree containing ERROR or MISSING nodes as this error.
	ErrParseFailed = errors.New("parse failed")

	// ErrInvalidContent indicates that the content is not parseable text
	// (nil, non-UTF-8, or binary).
	ErrInvalidContent = errors.New("invalid content")

	// ErrFileTooLarge indicates that the content exceeds the parser's
	// configured size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// ParseError provides location information about a parse failure.
//
// Example:
//
//	tree, err := parser.Parse(ctx, content, "login.spec.ts")
//	var parseErr *ParseError
//	if errors.As(err, &parseErr) {
//	    fmt.Printf("%s:%d: %s\n", parseErr.FilePath, parseErr.Line, parseErr.Message)
//	}
type ParseError struct {
	// FilePath is the path of the file that failed to parse.
	FilePath string

	// Line is the 1-indexed line of the first error. 0 if unknown.
	Line int

	// Column is the 0-indexed column of the first error. 0 if unknown.
	Column int

	// Message describes the failure.
	Message string

	// Cause is the underlying sentinel or library error. May be nil.
	Cause error
}

// Error returns a formatted message including the location when known.
//
// Format depends on available location information:
//   - With line and column: "file.ts:10:5: unexpected token"
//   - With line only:       "file.ts:10: unexpected token"
//   - Without location:     "file.ts: unexpected token"
func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.FilePath, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.FilePath, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseErrorWithCause creates a ParseError wrapping an underlying error.
func NewParseErrorWithCause(filePath string, line, column int, message string, cause error) *ParseError {
	return &ParseError{
		FilePath: filePath,
		Line:     line,
		Column:   column,
		Message:  message,
		Cause:    cause,
	}
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}
