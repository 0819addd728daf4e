// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract derives structural metadata and dependency information
// from parsed test files.
//
// Everything here is syntactic pattern matching over the tree-sitter tree.
// Nothing is type checked, so both false positives and false negatives are
// expected. All functions are pure: the same tree always produces the same
// result.
package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/ast"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

// ExtractMetadata walks a parsed test file once and returns its structural
// summary.
//
// Description:
//
//	Recognizes grouping blocks, test case declarations, lifecycle hooks,
//	fixtures, page-object interactions, API calls and storage operations.
//	Slices in the result are non-nil so the JSON form is stable.
//
// Inputs:
//   - tree: Parsed test file. Must not be closed.
//
// Outputs:
//   - testunit.Metadata: The summary. Zero-valued for an empty file.
//
// Thread Safety:
//
//	Safe for concurrent use on distinct trees.
func ExtractMetadata(tree *ast.Tree) testunit.Metadata {
	v := &metadataVisitor{
		tree: tree,
		meta: testunit.Metadata{
			TestCases:   []testunit.TestCase{},
			Describes:   []string{},
			Fixtures:    []string{},
			PageObjects: []testunit.PageObjectUse{},
			APICalls:    []testunit.APICall{},
			StorageOps:  []testunit.StorageOp{},
		},
		seenFixture: make(map[string]struct{}),
	}
	ast.Walk(tree.Root(), v)
	return v.meta
}

type metadataVisitor struct {
	tree        *ast.Tree
	meta        testunit.Metadata
	seenFixture map[string]struct{}
}

// Visit implements ast.Visitor.
func (v *metadataVisitor) Visit(node *sitter.Node, _ int) bool {
	switch node.Type() {
	case nodeCallExpression:
		v.visitCall(node)
	case nodeVariableDecl:
		v.visitDeclarator(node)
	}
	return true
}

func (v *metadataVisitor) visitCall(node *sitter.Node) {
	call := classifyCall(v.tree, node)

	switch call.Kind {
	case CallKindDescribe:
		v.meta.Describes = append(v.meta.Describes, call.Title)
	case CallKindTestCase:
		v.meta.TestCases = append(v.meta.TestCases, testunit.TestCase{
			Title: call.Title,
			Async: call.Async,
			Line:  call.Line,
		})
		v.addParamFixtures(call.Callback)
	case CallKindHook:
		switch call.Hook {
		case HookBeforeEach:
			v.meta.Hooks.BeforeEach++
		case HookAfterEach:
			v.meta.Hooks.AfterEach++
		case HookBeforeAll:
			v.meta.Hooks.BeforeAll++
		case HookAfterAll:
			v.meta.Hooks.AfterAll++
		}
		v.addParamFixtures(call.Callback)
	case CallKindPageObjectUse:
		v.meta.PageObjects = append(v.meta.PageObjects, testunit.PageObjectUse{
			Object: call.Receiver,
			Method: call.Method,
		})
	case CallKindAPICall:
		v.meta.APICalls = append(v.meta.APICalls, testunit.APICall{
			Client: call.Receiver,
			Method: strings.ToUpper(call.Method),
			Path:   call.Path,
		})
	case CallKindStorageOp:
		v.meta.StorageOps = append(v.meta.StorageOps, testunit.StorageOp{
			Target:    call.Receiver,
			Operation: call.Method,
		})
	case CallKindOther:
		if call.Method == "extend" {
			v.addExtendFixtures(node)
		}
	}
}

// visitDeclarator records variables whose name mentions a fixture, such as
// `const userFixture = ...` or `const fixtures = ...`.
func (v *metadataVisitor) visitDeclarator(node *sitter.Node) {
	name := node.ChildByFieldName("name")
	if name == nil || name.Type() != nodeIdentifier {
		return
	}
	text := v.tree.Text(name)
	if strings.Contains(strings.ToLower(text), "fixture") {
		v.addFixture(text)
	}
}

// addExtendFixtures records the keys of `base.extend({ key: ... })`.
func (v *metadataVisitor) addExtendFixtures(call *sitter.Node) {
	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return
	}
	obj := args.NamedChild(0)
	if obj == nil || obj.Type() != "object" {
		return
	}
	for i := 0; i < int(obj.NamedChildCount()); i++ {
		member := obj.NamedChild(i)
		switch member.Type() {
		case "pair":
			if key := member.ChildByFieldName("key"); key != nil {
				v.addFixture(strings.Trim(v.tree.Text(key), `"'`))
			}
		case "method_definition":
			if key := member.ChildByFieldName("name"); key != nil {
				v.addFixture(v.tree.Text(key))
			}
		case "shorthand_property_identifier":
			v.addFixture(v.tree.Text(member))
		}
	}
}

// addParamFixtures records names destructured from a test or hook callback's
// first parameter, as in `async ({ page, request }) => ...`.
func (v *metadataVisitor) addParamFixtures(callback *sitter.Node) {
	if callback == nil {
		return
	}
	params := callback.ChildByFieldName("parameters")
	if params == nil {
		return
	}
	ast.Walk(params, ast.VisitorFunc(func(node *sitter.Node, _ int) bool {
		switch node.Type() {
		case "shorthand_property_identifier_pattern":
			v.addFixture(v.tree.Text(node))
			return false
		case "pair_pattern":
			if key := node.ChildByFieldName("key"); key != nil {
				v.addFixture(v.tree.Text(key))
			}
			return false
		case "object_assignment_pattern":
			if left := node.ChildByFieldName("left"); left != nil {
				v.addFixture(v.tree.Text(left))
			}
			return false
		case nodeArrowFunction, nodeFunctionExpr, "type_annotation":
			return false
		}
		return true
	}))
}

func (v *metadataVisitor) addFixture(name string) {
	if name == "" {
		return
	}
	if _, ok := v.seenFixture[name]; ok {
		return
	}
	v.seenFixture[name] = struct{}{}
	v.meta.Fixtures = append(v.meta.Fixtures, name)
}

// CallCounts returns how many calls of each recognized kind meta holds.
// Kinds with no calls are omitted. CallKindOther is never counted.
func CallCounts(meta testunit.Metadata) map[CallKind]int {
	counts := make(map[CallKind]int, 6)
	add := func(k CallKind, n int) {
		if n > 0 {
			counts[k] = n
		}
	}
	add(CallKindDescribe, len(meta.Describes))
	add(CallKindTestCase, meta.TestCaseCount())
	add(CallKindHook, meta.Hooks.Total())
	add(CallKindPageObjectUse, meta.PageObjectUsageCount())
	add(CallKindAPICall, meta.APICallCount())
	add(CallKindStorageOp, meta.StorageOperationCount())
	return counts
}
