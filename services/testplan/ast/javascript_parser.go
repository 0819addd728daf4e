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

	"github.com/smacker/go-tree-sitter/javascript"
)

// JavaScriptParser parses JavaScript and JSX test files.
//
// Thread Safety:
//
//	Safe for concurrent use.
type JavaScriptParser struct {
	opts parserOptions
}

// NewJavaScriptParser creates a JavaScriptParser with the given options.
func NewJavaScriptParser(opts ...ParserOption) *JavaScriptParser {
	o := defaultParserOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &JavaScriptParser{opts: o}
}

// Parse parses JavaScript source into a Tree. The caller must Close it.
func (p *JavaScriptParser) Parse(ctx context.Context, content []byte, filePath string) (*Tree, error) {
	return parseWithGrammar(ctx, p.Language(), javascript.GetLanguage(), p.opts, content, filePath)
}

// Language returns "javascript".
func (p *JavaScriptParser) Language() string {
	return "javascript"
}

// Extensions returns the JavaScript file extensions.
func (p *JavaScriptParser) Extensions() []string {
	return []string{".js", ".jsx", ".mjs", ".cjs"}
}
