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

import (
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/ast"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

// testRelatedFragments mark an import specifier as pointing at test code.
var testRelatedFragments = []string{"test", "spec", "page", "fixture"}

// ExtractDependencies returns the four dependency categories of a test file.
//
// Description:
//
//	Two independent passes share one walk. The structural pass records
//	imports (static import statements, require calls and dynamic import
//	calls) whose specifier is local and mentions a test, spec, page or
//	fixture location. The marker pass tokenizes every comment for
//	@depends, @requires and @external markers.
//
// Inputs:
//   - tree: Parsed test file. Must not be closed.
//   - relPath: The file's path relative to the test root, forward slashes.
//     Relative import specifiers are resolved against its directory.
//
// Outputs:
//   - testunit.Dependencies: All four lists non-nil, in source order.
//
// Thread Safety:
//
//	Safe for concurrent use on distinct trees.
func ExtractDependencies(tree *ast.Tree, relPath string) testunit.Dependencies {
	deps := testunit.Dependencies{
		Files:    []testunit.FileDependency{},
		Data:     []string{},
		State:    []string{},
		External: []string{},
	}

	addImport := func(raw string) {
		if !isLocalSpecifier(raw) || !isTestRelated(raw) {
			return
		}
		deps.Files = append(deps.Files, testunit.FileDependency{
			Raw:      raw,
			Resolved: ResolveImport(relPath, raw),
		})
	}

	ast.Walk(tree.Root(), ast.VisitorFunc(func(node *sitter.Node, _ int) bool {
		switch node.Type() {
		case nodeImportStatement:
			if source := node.ChildByFieldName("source"); source != nil {
				if raw, ok := stringLiteral(tree, source); ok {
					addImport(raw)
				}
			}
			return false

		case nodeCallExpression:
			if raw, ok := requireSpecifier(tree, node); ok {
				addImport(raw)
			}

		case nodeComment:
			for _, m := range ScanMarkers(tree.Text(node)) {
				switch m.Kind {
				case MarkerData:
					deps.Data = append(deps.Data, m.Token)
				case MarkerState:
					deps.State = append(deps.State, m.Token)
				case MarkerExternal:
					deps.External = append(deps.External, m.Token)
				}
			}
			return false
		}
		return true
	}))

	return deps
}

// requireSpecifier returns the specifier of require('x') or import('x').
func requireSpecifier(tree *ast.Tree, call *sitter.Node) (string, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return "", false
	}
	isRequire := fn.Type() == nodeIdentifier && tree.Text(fn) == "require"
	if !isRequire && fn.Type() != "import" {
		return "", false
	}
	return firstStringArg(tree, call.ChildByFieldName("arguments"))
}

// ResolveImport resolves a relative import specifier against the importing
// file's directory. The result is a cleaned, slash-separated path relative
// to the test root and may start with "../" when the target lives outside
// it. Non-relative specifiers are returned unchanged.
func ResolveImport(fromRelPath, raw string) string {
	if !strings.HasPrefix(raw, "./") && !strings.HasPrefix(raw, "../") && raw != "." && raw != ".." {
		return raw
	}
	return path.Join(path.Dir(fromRelPath), raw)
}

// isLocalSpecifier excludes package imports such as "@playwright/test",
// keeping relative paths, absolute paths and root aliases ("@/", "~/").
func isLocalSpecifier(raw string) bool {
	return strings.HasPrefix(raw, ".") || strings.HasPrefix(raw, "/") ||
		strings.HasPrefix(raw, "@/") || strings.HasPrefix(raw, "~/")
}

func isTestRelated(raw string) bool {
	lower := strings.ToLower(raw)
	for _, frag := range testRelatedFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
