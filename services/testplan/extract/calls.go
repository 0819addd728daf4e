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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/ast"
)

// Tree-sitter node types used by the extractors. The TypeScript and
// JavaScript grammars share these names.
const (
	nodeCallExpression   = "call_expression"
	nodeMemberExpression = "member_expression"
	nodeIdentifier       = "identifier"
	nodeString           = "string"
	nodeStringFragment   = "string_fragment"
	nodeTemplateString   = "template_string"
	nodeArrowFunction    = "arrow_function"
	nodeFunctionExpr     = "function_expression"
	nodeFunction         = "function"
	nodeObjectPattern    = "object_pattern"
	nodeComment          = "comment"
	nodeImportStatement  = "import_statement"
	nodeVariableDecl     = "variable_declarator"
	nodeNewExpression    = "new_expression"
)

// CallKind tags what a call expression was recognized as.
type CallKind int

const (
	// CallKindOther is any call that matched no pattern.
	CallKindOther CallKind = iota
	CallKindDescribe
	CallKindTestCase
	CallKindHook
	CallKindPageObjectUse
	CallKindAPICall
	CallKindStorageOp
)

// String returns the lowercase name of the kind.
func (k CallKind) String() string {
	switch k {
	case CallKindDescribe:
		return "describe"
	case CallKindTestCase:
		return "test_case"
	case CallKindHook:
		return "hook"
	case CallKindPageObjectUse:
		return "page_object"
	case CallKindAPICall:
		return "api_call"
	case CallKindStorageOp:
		return "storage_op"
	default:
		return "other"
	}
}

// HookKind identifies a lifecycle hook.
type HookKind int

const (
	HookNone HookKind = iota
	HookBeforeEach
	HookAfterEach
	HookBeforeAll
	HookAfterAll
)

// Call is a recognized call expression.
//
// Only the fields relevant to Kind are populated.
type Call struct {
	Kind CallKind

	// Title is the first string argument of describe and test calls.
	Title string

	// Async is set for test calls whose callback is async.
	Async bool

	// Hook is set for CallKindHook.
	Hook HookKind

	// Receiver is the object segment of a member call, without "this.".
	Receiver string

	// Method is the final callee segment.
	Method string

	// Path is the first string argument of API calls.
	Path string

	// Callback is the function argument of describe/test/hook calls.
	Callback *sitter.Node

	// Line is the 1-indexed line of the call.
	Line int
}

var (
	describeNames = map[string]bool{"describe": true, "context": true, "suite": true}
	testNames     = map[string]bool{"it": true, "test": true, "specify": true}

	// Modifiers that may follow describe/test without changing the meaning.
	callModifiers = map[string]bool{
		"only": true, "skip": true, "fixme": true, "fail": true, "slow": true,
		"serial": true, "parallel": true, "todo": true, "concurrent": true,
	}

	hookNames = map[string]HookKind{
		"beforeEach": HookBeforeEach,
		"afterEach":  HookAfterEach,
		"beforeAll":  HookBeforeAll,
		"afterAll":   HookAfterAll,
		"before":     HookBeforeAll,
		"after":      HookAfterAll,
	}

	apiClients = map[string]bool{
		"request": true, "api": true, "apiclient": true, "axios": true, "http": true,
		"client": true, "httpclient": true, "supertest": true, "agent": true, "got": true,
	}

	httpMethods = map[string]bool{
		"get": true, "post": true, "put": true, "patch": true, "delete": true,
		"head": true, "fetch": true, "request": true,
	}

	storageTargets = map[string]bool{
		"db": true, "database": true, "prisma": true, "knex": true, "pool": true,
		"connection": true, "repository": true, "repo": true, "redis": true, "mongo": true,
		"collection": true, "localstorage": true, "sessionstorage": true, "indexeddb": true,
		"sequelize": true, "typeorm": true, "datasource": true,
	}

	// Methods that read as storage operations regardless of receiver.
	storageMethods = map[string]bool{
		"query": true, "insertone": true, "insertmany": true, "updateone": true,
		"updatemany": true, "deleteone": true, "deletemany": true, "findone": true,
		"upsert": true, "truncate": true, "executesql": true, "setitem": true,
		"getitem": true, "removeitem": true,
	}
)

// calleeSegments flattens a callee into its dotted identifier segments.
//
// "test.describe.serial" yields ["test", "describe", "serial"]. A leading
// "this" is dropped. Returns nil if any part is not a plain name, except
// that a non-plain receiver still yields its final property as the single
// trailing segment with ok=false.
func calleeSegments(tree *ast.Tree, fn *sitter.Node) (segments []string, ok bool) {
	switch fn.Type() {
	case nodeIdentifier:
		return []string{tree.Text(fn)}, true
	case nodeMemberExpression:
		object := fn.ChildByFieldName("object")
		property := fn.ChildByFieldName("property")
		if property == nil {
			return nil, false
		}
		prop := tree.Text(property)
		if object == nil {
			return []string{prop}, false
		}
		if object.Type() == "this" {
			return []string{prop}, true
		}
		base, baseOK := calleeSegments(tree, object)
		if !baseOK {
			return []string{prop}, false
		}
		return append(base, prop), true
	default:
		return nil, false
	}
}

// classifyCall recognizes a call_expression node.
//
// Recognition is purely syntactic. The checks run in a fixed order and the
// first match wins: describe, test case, hook, API call, storage operation,
// page-object use.
func classifyCall(tree *ast.Tree, node *sitter.Node) Call {
	call := Call{Kind: CallKindOther, Line: int(node.StartPoint().Row) + 1}

	fn := node.ChildByFieldName("function")
	if fn == nil {
		return call
	}
	args := node.ChildByFieldName("arguments")

	segments, plain := calleeSegments(tree, fn)
	if len(segments) == 0 {
		return call
	}
	call.Method = segments[len(segments)-1]
	if len(segments) > 1 {
		call.Receiver = strings.Join(segments[:len(segments)-1], ".")
	} else if fn.Type() == nodeMemberExpression {
		if object := fn.ChildByFieldName("object"); object != nil && object.Type() != "this" {
			call.Receiver = tree.Text(object)
		}
	}

	if plain {
		if kind, hook := classifyFramework(segments); kind != CallKindOther {
			title, hasTitle := firstStringArg(tree, args)
			callback := callbackArg(args)
			switch kind {
			case CallKindHook:
				call.Kind = kind
				call.Hook = hook
				call.Callback = callback
				return call
			case CallKindDescribe, CallKindTestCase:
				if !hasTitle {
					break
				}
				call.Kind = kind
				call.Title = title
				call.Callback = callback
				call.Async = callback != nil && isAsync(callback)
				return call
			}
		}
	}

	method := strings.ToLower(call.Method)
	receivers := receiverSegments(call.Receiver)

	if call.Receiver == "" && method == "fetch" {
		call.Kind = CallKindAPICall
		call.Receiver = "fetch"
		call.Path, _ = firstStringArg(tree, args)
		return call
	}

	if httpMethods[method] {
		if client, ok := findSegment(receivers, isAPIClientName); ok {
			call.Kind = CallKindAPICall
			call.Receiver = client
			call.Path, _ = firstStringArg(tree, args)
			return call
		}
	}

	if target, ok := findSegment(receivers, isStorageTargetName); ok {
		call.Kind = CallKindStorageOp
		call.Receiver = target
		return call
	}
	if len(receivers) > 0 && storageMethods[method] {
		call.Kind = CallKindStorageOp
		call.Receiver = receivers[len(receivers)-1]
		return call
	}

	if len(receivers) > 0 && isPageObjectName(receivers[len(receivers)-1]) {
		call.Kind = CallKindPageObjectUse
		call.Receiver = receivers[len(receivers)-1]
		return call
	}

	return call
}

// classifyFramework matches test-framework callees such as describe,
// test.only, test.describe.serial and test.beforeEach.
func classifyFramework(segments []string) (CallKind, HookKind) {
	head := segments[0]
	rest := segments[1:]

	if hook, ok := hookNames[head]; ok && len(rest) == 0 {
		return CallKindHook, hook
	}

	if describeNames[head] && allModifiers(rest) {
		return CallKindDescribe, HookNone
	}

	if testNames[head] {
		if len(rest) > 0 {
			if describeNames[rest[0]] && allModifiers(rest[1:]) {
				return CallKindDescribe, HookNone
			}
			if hook, ok := hookNames[rest[0]]; ok && len(rest) == 1 {
				return CallKindHook, hook
			}
		}
		if allModifiers(rest) {
			return CallKindTestCase, HookNone
		}
	}

	return CallKindOther, HookNone
}

func allModifiers(segments []string) bool {
	for _, s := range segments {
		if !callModifiers[s] {
			return false
		}
	}
	return true
}

// receiverSegments splits a dotted receiver. Receivers that are not plain
// member chains, such as "expect(page)", yield no segments.
func receiverSegments(receiver string) []string {
	if receiver == "" || strings.ContainsAny(receiver, "()[] \t\n") {
		return nil
	}
	return strings.Split(receiver, ".")
}

// findSegment returns the last segment accepted by match.
func findSegment(segments []string, match func(string) bool) (string, bool) {
	for i := len(segments) - 1; i >= 0; i-- {
		if match(segments[i]) {
			return segments[i], true
		}
	}
	return "", false
}

func isAPIClientName(name string) bool {
	lower := strings.ToLower(name)
	return apiClients[lower] || strings.Contains(lower, "api")
}

func isStorageTargetName(name string) bool {
	lower := strings.ToLower(name)
	return storageTargets[lower] || strings.HasSuffix(lower, "repository")
}

// isPageObjectName matches names like loginPage, CheckoutPage or cartPO.
// The bare Playwright fixture "page" is not a page object.
func isPageObjectName(name string) bool {
	if len(name) <= len("Page") {
		return false
	}
	return strings.HasSuffix(name, "Page") || strings.HasSuffix(name, "PageObject") || strings.HasSuffix(name, "PO")
}

// firstStringArg returns the first argument if it is a string literal.
func firstStringArg(tree *ast.Tree, args *sitter.Node) (string, bool) {
	if args == nil || args.NamedChildCount() == 0 {
		return "", false
	}
	first := args.NamedChild(0)
	if first == nil {
		return "", false
	}
	return stringLiteral(tree, first)
}

// stringLiteral returns the unquoted value of a string or template literal.
func stringLiteral(tree *ast.Tree, node *sitter.Node) (string, bool) {
	switch node.Type() {
	case nodeString:
		var b strings.Builder
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.Type() == nodeStringFragment || child.Type() == "escape_sequence" {
				b.WriteString(tree.Text(child))
			}
		}
		return b.String(), true
	case nodeTemplateString:
		return strings.Trim(tree.Text(node), "`"), true
	default:
		return "", false
	}
}

// callbackArg returns the last function-valued argument.
func callbackArg(args *sitter.Node) *sitter.Node {
	if args == nil {
		return nil
	}
	for i := int(args.NamedChildCount()) - 1; i >= 0; i-- {
		if child := args.NamedChild(i); isFunctionNode(child) {
			return child
		}
	}
	return nil
}

func isFunctionNode(node *sitter.Node) bool {
	if node == nil {
		return false
	}
	switch node.Type() {
	case nodeArrowFunction, nodeFunctionExpr, nodeFunction:
		return true
	default:
		return false
	}
}

// isAsync reports whether a function node carries the async keyword.
func isAsync(fn *sitter.Node) bool {
	for i := 0; i < int(fn.ChildCount()); i++ {
		if fn.Child(i).Type() == "async" {
			return true
		}
	}
	return false
}
