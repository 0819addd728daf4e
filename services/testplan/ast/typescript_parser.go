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
	"context"
	"path/filepath"
	"strings"

	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// TypeScriptParser parses TypeScript and TSX test files.
//
// Description:
//
//	Uses the tree-sitter TypeScript grammar, switching to the TSX grammar for
//	.tsx files. Type annotations, optional chaining and decorators are
//	handled by the grammar itself.
//
// Thread Safety:
//
//	Safe for concurrent use. Each Parse call creates its own tree-sitter
//	parser instance.
//
// Example:
//
//	parser := NewTypeScriptParser()
//	tree, err := parser.Parse(ctx, []byte("test('loads', async ({ page }) => {})"), "home.spec.ts")
//	if err != nil {
//	    return err
//	}
//	defer tree.Close()
type TypeScriptParser struct {
	opts parserOptions
}

// NewTypeScriptParser creates a TypeScriptParser with the given options.
func NewTypeScriptParser(opts ...ParserOption) *TypeScriptParser {
	o := defaultParserOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &TypeScriptParser{opts: o}
}

// Parse parses TypeScript source into a Tree.
//
// Outputs:
//   - *Tree: The parsed tree. Caller must Close it.
//   - error: Non-nil for oversized, non-UTF-8 or (in strict mode) malformed
//     content, or if ctx is done.
func (p *TypeScriptParser) Parse(ctx context.Context, content []byte, filePath string) (*Tree, error) {
	if strings.EqualFold(filepath.Ext(filePath), ".tsx") {
		return parseWithGrammar(ctx, p.Language(), tsx.GetLanguage(), p.opts, content, filePath)
	}
	return parseWithGrammar(ctx, p.Language(), typescript.GetLanguage(), p.opts, content, filePath)
}

// Language returns "typescript".
func (p *TypeScriptParser) Language() string {
	return "typescript"
}

// Extensions returns the TypeScript file extensions.
func (p *TypeScriptParser) Extensions() []string {
	return []string{".ts", ".tsx", ".mts", ".cts"}
}
