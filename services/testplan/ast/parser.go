// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast provides the syntax tree layer for test file analysis.
//
// Parsers turn test source text into a tree-sitter syntax tree. The analysis
// layers above (metadata and dependency extraction) never see parser
// internals: they consume a *Tree and traverse it with Walk and a Visitor.
package ast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultMaxFileSize is the default upper bound on parsed content.
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize is the size above which a warning is logged before parsing.
	WarnFileSize = 1024 * 1024

	// MaxWalkDepth bounds traversal depth in Walk.
	MaxWalkDepth = 1000
)

// Parser turns test source text into a syntax tree.
//
// Description:
//
//	Implementations wrap a tree-sitter grammar. Parse returns an error for
//	content that cannot be analyzed (too large, not UTF-8, or syntactically
//	malformed in strict mode). Callers treat any error as "skip this file".
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
type Parser interface {
	// Parse parses content into a Tree. The caller must Close the tree.
	Parse(ctx context.Context, content []byte, filePath string) (*Tree, error)

	// Language returns the canonical lowercase language name.
	Language() string

	// Extensions returns the file extensions handled, with leading dot.
	Extensions() []string
}

// Tree is a parsed test file.
//
// Description:
//
//	Tree owns the underlying tree-sitter tree and the source bytes its nodes
//	index into. Nodes obtained from Root are invalid after Close.
//
// Thread Safety:
//
//	Safe for concurrent reads. Close must not race with reads.
type Tree struct {
	// FilePath is the path the tree was parsed from.
	FilePath string

	// Language is the parser language that produced the tree.
	Language string

	// Content is the raw source text.
	Content []byte

	// Hash is the hex SHA256 of Content.
	Hash string

	tree *sitter.Tree
}

// Root returns the root node of the tree, or nil after Close.
func (t *Tree) Root() *sitter.Node {
	if t == nil || t.tree == nil {
		return nil
	}
	return t.tree.RootNode()
}

// Text returns the source text spanned by node.
func (t *Tree) Text(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	start, end := node.StartByte(), node.EndByte()
	if int(end) > len(t.Content) || start > end {
		return ""
	}
	return string(t.Content[start:end])
}

// Close releases the tree-sitter tree. Safe to call more than once.
func (t *Tree) Close() {
	if t == nil || t.tree == nil {
		return
	}
	t.tree.Close()
	t.tree = nil
}

// Visitor receives nodes during Walk.
//
// Visit returns false to skip the node's children.
type Visitor interface {
	Visit(node *sitter.Node, depth int) bool
}

// VisitorFunc adapts a function to the Visitor interface.
type VisitorFunc func(node *sitter.Node, depth int) bool

// Visit calls f(node, depth).
func (f VisitorFunc) Visit(node *sitter.Node, depth int) bool {
	return f(node, depth)
}

// Walk traverses the subtree rooted at root in document order.
//
// Description:
//
//	Uses an explicit stack rather than recursion so deeply nested callbacks
//	cannot exhaust the goroutine stack. Nodes deeper than MaxWalkDepth are
//	not visited.
//
// Inputs:
//   - root: Subtree root. Nil is a no-op.
//   - v: Visitor invoked for each node in pre-order.
func Walk(root *sitter.Node, v Visitor) {
	if root == nil || v == nil {
		return
	}

	type stackEntry struct {
		node  *sitter.Node
		depth int
	}

	stack := make([]stackEntry, 0, 64)
	stack = append(stack, stackEntry{node: root})

	for len(stack) > 0 {
		entry := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if entry.node == nil || entry.depth > MaxWalkDepth {
			continue
		}

		if !v.Visit(entry.node, entry.depth) {
			continue
		}

		// Push in reverse so children pop in source order.
		for i := int(entry.node.ChildCount()) - 1; i >= 0; i-- {
			if child := entry.node.Child(i); child != nil {
				stack = append(stack, stackEntry{node: child, depth: entry.depth + 1})
			}
		}
	}
}

// ParserRegistry maps file extensions to parsers.
//
// Thread Safety:
//
//	Fully thread-safe. Registration takes a write lock, lookups a read lock.
type ParserRegistry struct {
	mu          sync.RWMutex
	byLanguage  map[string]Parser
	byExtension map[string]Parser
}

// NewParserRegistry creates an empty registry.
func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{
		byLanguage:  make(map[string]Parser),
		byExtension: make(map[string]Parser),
	}
}

// DefaultRegistry returns a registry with the TypeScript and JavaScript
// parsers registered using the given options.
func DefaultRegistry(opts ...ParserOption) *ParserRegistry {
	r := NewParserRegistry()
	r.Register(NewTypeScriptParser(opts...))
	r.Register(NewJavaScriptParser(opts...))
	return r
}

// Register adds a parser under its language and all its extensions.
// Existing registrations for the same keys are overwritten.
func (r *ParserRegistry) Register(parser Parser) {
	if parser == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byLanguage[parser.Language()] = parser
	for _, ext := range parser.Extensions() {
		r.byExtension[ext] = parser
	}
}

// GetByExtension returns the parser for a file extension such as ".ts".
func (r *ParserRegistry) GetByExtension(ext string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parser, ok := r.byExtension[strings.ToLower(ext)]
	return parser, ok
}

// GetByLanguage returns the parser for a language name.
func (r *ParserRegistry) GetByLanguage(language string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parser, ok := r.byLanguage[language]
	return parser, ok
}

// ParserFor returns the parser for the given file path.
//
// Outputs:
//   - Parser: The matching parser.
//   - error: Wraps ErrUnsupportedLanguage if the extension is unknown.
func (r *ParserRegistry) ParserFor(filePath string) (Parser, error) {
	ext := filepath.Ext(filePath)
	parser, ok := r.GetByExtension(ext)
	if !ok {
		return nil, fmt.Errorf("file type %q: %w", ext, ErrUnsupportedLanguage)
	}
	return parser, nil
}

// Supports reports whether a parser is registered for filePath's extension.
func (r *ParserRegistry) Supports(filePath string) bool {
	_, ok := r.GetByExtension(filepath.Ext(filePath))
	return ok
}

// ParserOption configures a tree-sitter backed parser.
type ParserOption func(*parserOptions)

type parserOptions struct {
	maxFileSize int64
	tolerant    bool
}

func defaultParserOptions() parserOptions {
	return parserOptions{maxFileSize: DefaultMaxFileSize}
}

// WithMaxFileSize sets the maximum file size the parser will accept.
// Non-positive values are ignored.
func WithMaxFileSize(bytes int64) ParserOption {
	return func(o *parserOptions) {
		if bytes > 0 {
			o.maxFileSize = bytes
		}
	}
}

// WithTolerantParsing accepts trees containing syntax errors instead of
// failing with ErrParseFailed.
func WithTolerantParsing() ParserOption {
	return func(o *parserOptions) {
		o.tolerant = true
	}
}

// parseWithGrammar runs the shared tree-sitter pipeline for one grammar.
//
// Description:
//
//	Validates size and encoding, parses with a fresh tree-sitter parser
//	(tree-sitter parsers are not goroutine safe), and in strict mode rejects
//	trees containing ERROR or MISSING nodes.
//
// Outputs:
//   - *Tree: The parsed tree. Caller must Close it.
//   - error: *ParseError wrapping one of the package sentinels, or a
//     context error.
func parseWithGrammar(ctx context.Context, language string, grammar *sitter.Language, opts parserOptions, content []byte, filePath string) (*Tree, error) {
	ctx, span := startParseSpan(ctx, language, filePath, len(content))
	defer span.End()

	start := time.Now()
	fail := func(err error) (*Tree, error) {
		span.SetAttributes(attribute.String("testplan.parse_outcome", ParseOutcome(err)))
		recordParse(ctx, language, time.Since(start), len(content), err)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("parse canceled before start: %w", err))
	}

	if content == nil {
		return fail(NewParseErrorWithCause(filePath, 0, 0, "nil content", ErrInvalidContent))
	}

	if int64(len(content)) > opts.maxFileSize {
		return fail(NewParseErrorWithCause(filePath, 0, 0,
			fmt.Sprintf("size %d exceeds limit %d", len(content), opts.maxFileSize), ErrFileTooLarge))
	}

	if len(content) > WarnFileSize {
		slog.Warn("parsing large test file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}

	if !utf8.Valid(content) {
		return fail(NewParseErrorWithCause(filePath, 0, 0, "content is not valid UTF-8", ErrInvalidContent))
	}

	hash := sha256.Sum256(content)

	parser := sitter.NewParser()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fail(NewParseErrorWithCause(filePath, 0, 0, "tree-sitter parse failed", fmt.Errorf("%w: %v", ErrParseFailed, err)))
	}

	root := tree.RootNode()
	if root == nil {
		tree.Close()
		return fail(NewParseErrorWithCause(filePath, 0, 0, "tree-sitter returned nil root node", ErrParseFailed))
	}

	if !opts.tolerant && root.HasError() {
		line, col := firstErrorPosition(root)
		tree.Close()
		return fail(NewParseErrorWithCause(filePath, line, col, "source contains syntax errors", ErrParseFailed))
	}

	span.SetAttributes(attribute.String("testplan.parse_outcome", OutcomeOK))
	recordParse(ctx, language, time.Since(start), len(content), nil)

	return &Tree{
		FilePath: filePath,
		Language: language,
		Content:  content,
		Hash:     hex.EncodeToString(hash[:]),
		tree:     tree,
	}, nil
}

// firstErrorPosition returns the 1-indexed line and 0-indexed column of the
// first ERROR or MISSING node in document order, or zeros if none is found.
func firstErrorPosition(root *sitter.Node) (int, int) {
	line, col := 0, 0
	Walk(root, VisitorFunc(func(node *sitter.Node, _ int) bool {
		if line > 0 {
			return false
		}
		if node.IsError() || node.IsMissing() {
			line = int(node.StartPoint().Row) + 1
			col = int(node.StartPoint().Column)
			return false
		}
		return node.HasError()
	}))
	return line, col
}
