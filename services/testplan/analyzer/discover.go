// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/ast"
)

// testFileMarkers identify test files by name, e.g. login.spec.ts.
var testFileMarkers = []string{".spec.", ".test.", ".e2e."}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	"node_modules": true,
	"dist":         true,
	"build":        true,
	"coverage":     true,
}

// IsSkippedDir reports whether discovery never descends into a directory
// with this base name.
func IsSkippedDir(name string) bool {
	return strings.HasPrefix(name, ".") || skipDirs[name]
}

// IsTestFile reports whether name looks like a test file a registered
// parser can handle.
func IsTestFile(registry *ast.ParserRegistry, name string) bool {
	base := strings.ToLower(filepath.Base(name))
	if !registry.Supports(base) {
		return false
	}
	for _, marker := range testFileMarkers {
		if strings.Contains(base, marker) {
			return true
		}
	}
	return false
}

// DiscoverTestFiles lists test files under root.
//
// Description:
//
//	Walks root recursively, skipping dot directories and dependency or build
//	output directories. Symlinked directories are not followed.
//
// Inputs:
//   - ctx: Checked between directory entries.
//   - root: Test root. Must exist.
//   - registry: Decides which extensions are parseable.
//
// Outputs:
//   - []string: Slash-separated paths relative to root, sorted.
//   - error: Walk errors and context cancellation.
func DiscoverTestFiles(ctx context.Context, root string, registry *ast.ParserRegistry) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if p == root {
				return nil
			}
			if IsSkippedDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || !IsTestFile(registry, d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}
