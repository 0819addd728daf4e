// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch re-plans a project when its test files change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/analyzer"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/ast"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 250 * time.Millisecond

// Op is the kind of a file change.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Change is one debounced file change.
type Change struct {
	Path string
	Op   Op
}

// Invalidator drops cached analyses. *analyzer.Analyzer implements it.
type Invalidator interface {
	Invalidate(project string) bool
}

// Handler runs after the project's analysis has been invalidated.
type Handler func(ctx context.Context, changes []Change)

// Watcher invalidates and re-plans one project on test file changes.
//
// Description:
//
//	Watches the project's test root recursively, skipping the same
//	directories discovery skips. Events for test files, and removals or
//	renames of anything (a removed directory may hold tests), are collected
//	until no event arrives for the debounce window. The project is then
//	invalidated once and the handler is called with the deduplicated
//	changes.
//
// Thread Safety:
//
//	Start and Stop are safe to call from any goroutine. The handler is
//	called from a single goroutine.
type Watcher struct {
	project     string
	root        string
	invalidator Invalidator
	handler     Handler
	registry    *ast.ParserRegistry
	debounce    time.Duration
	logger      *slog.Logger

	fsw      *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce window. Non-positive values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRegistry sets the registry deciding which files are test files.
func WithRegistry(registry *ast.ParserRegistry) Option {
	return func(w *Watcher) {
		if registry != nil {
			w.registry = registry
		}
	}
}

// New creates a watcher for the test root of project.
//
// Inputs:
//   - project: Project passed to the invalidator.
//   - root: Test root directory. Must exist when Start is called.
//   - invalidator: Must not be nil.
//   - handler: Called after each invalidation. May be nil.
func New(project, root string, invalidator Invalidator, handler Handler, opts ...Option) (*Watcher, error) {
	if invalidator == nil {
		return nil, errors.New("watch: invalidator must not be nil")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	w := &Watcher{
		project:     project,
		root:        root,
		invalidator: invalidator,
		handler:     handler,
		registry:    ast.DefaultRegistry(),
		debounce:    DefaultDebounce,
		logger:      slog.Default(),
		fsw:         fsw,
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start registers the directory watches and begins processing events.
// Watches are in place when Start returns. Processing ends when ctx is
// canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		w.fsw.Close()
		return fmt.Errorf("watching %s: %w", w.root, err)
	}

	w.logger.Info("watching test root",
		slog.String("project", w.project),
		slog.String("test_root", w.root),
		slog.Duration("debounce", w.debounce))

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop ends processing and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.fsw.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && analyzer.IsSkippedDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	pending := make(map[string]Op)
	var order []string
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	flush := func() {
		if len(order) == 0 {
			return
		}
		changes := make([]Change, len(order))
		for i, p := range order {
			changes[i] = Change{Path: p, Op: pending[p]}
		}
		clear(pending)
		order = order[:0]

		w.invalidator.Invalidate(w.project)
		w.logger.Info("test files changed, analysis invalidated",
			slog.String("project", w.project),
			slog.Int("changes", len(changes)))
		if w.handler != nil {
			w.handler(ctx, changes)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if _, seen := pending[event.Name]; !seen {
				order = append(order, event.Name)
			}
			pending[event.Name] = convertOp(event.Op)
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error",
				slog.String("project", w.project),
				slog.String("error", err.Error()))

		case <-timer.C:
			flush()
		}
	}
}

// watchNewDir starts watching a created directory and reports whether the
// event was one. A new directory counts as a change since files may have
// landed in it before its watch was added.
func (w *Watcher) watchNewDir(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) {
		return false
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.IsDir() {
		return false
	}
	if err := w.addRecursive(event.Name); err != nil {
		w.logger.Warn("cannot watch new directory",
			slog.String("dir", event.Name),
			slog.String("error", err.Error()))
	}
	return true
}

// relevant reports whether event can change an analysis. Permission-only
// changes never do.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if analyzer.IsSkippedDir(filepath.Base(event.Name)) {
		return false
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) || w.watchNewDir(event) {
		return true
	}
	return analyzer.IsTestFile(w.registry, event.Name)
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}
