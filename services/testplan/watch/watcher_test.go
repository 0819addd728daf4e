// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingInvalidator struct {
	mu       sync.Mutex
	projects []string
}

func (c *countingInvalidator) Invalidate(project string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projects = append(c.projects, project)
	return true
}

func (c *countingInvalidator) calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.projects...)
}

func startWatcher(t *testing.T, root string) (*countingInvalidator, <-chan []Change) {
	t.Helper()
	inv := &countingInvalidator{}
	got := make(chan []Change, 16)

	w, err := New("web", root, inv, func(ctx context.Context, changes []Change) {
		got <- changes
	}, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return inv, got
}

func waitForChanges(t *testing.T, got <-chan []Change) []Change {
	t.Helper()
	select {
	case changes := <-got:
		return changes
	case <-time.After(5 * time.Second):
		t.Fatal("no changes delivered")
		return nil
	}
}

func TestWatcher_TestFileChangeInvalidates(t *testing.T) {
	root := t.TempDir()
	inv, got := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("x"), 0o644))
	spec := filepath.Join(root, "login.spec.ts")
	require.NoError(t, os.WriteFile(spec, []byte("test('a', () => {});\n"), 0o644))

	changes := waitForChanges(t, got)
	require.Len(t, changes, 1)
	assert.Equal(t, spec, changes[0].Path)
	assert.Equal(t, []string{"web"}, inv.calls())
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	inv, got := startWatcher(t, root)

	sub := filepath.Join(root, "checkout")
	require.NoError(t, os.Mkdir(sub, 0o755))
	waitForChanges(t, got)

	spec := filepath.Join(sub, "cart.spec.ts")
	require.NoError(t, os.WriteFile(spec, []byte("test('cart', () => {});\n"), 0o644))

	changes := waitForChanges(t, got)
	require.NotEmpty(t, changes)
	assert.Equal(t, spec, changes[0].Path)
	assert.Len(t, inv.calls(), 2)
}

func TestWatcher_IgnoresPermissionOnlyChanges(t *testing.T) {
	root := t.TempDir()
	spec := filepath.Join(root, "login.spec.ts")
	require.NoError(t, os.WriteFile(spec, []byte("test('a', () => {});\n"), 0o644))

	w, err := New("web", root, &countingInvalidator{}, nil)
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	tests := []struct {
		name string
		op   fsnotify.Op
		want bool
	}{
		{"chmod", fsnotify.Chmod, false},
		{"write", fsnotify.Write, true},
		{"write and chmod", fsnotify.Write | fsnotify.Chmod, true},
		{"remove", fsnotify.Remove, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.relevant(fsnotify.Event{Name: spec, Op: tt.op}))
		})
	}
}

func TestWatcher_ChmodDoesNotInvalidate(t *testing.T) {
	root := t.TempDir()
	spec := filepath.Join(root, "login.spec.ts")
	require.NoError(t, os.WriteFile(spec, []byte("test('a', () => {});\n"), 0o644))
	inv, got := startWatcher(t, root)

	require.NoError(t, os.Chmod(spec, 0o600))

	select {
	case changes := <-got:
		t.Fatalf("unexpected changes: %v", changes)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Empty(t, inv.calls())
}

func TestWatcher_Errors(t *testing.T) {
	_, err := New("web", t.TempDir(), nil, nil)
	assert.Error(t, err)

	w, err := New("web", filepath.Join(t.TempDir(), "missing"), &countingInvalidator{}, nil)
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "rename", OpRename.String())
	assert.Equal(t, "unknown", Op(42).String())
}
