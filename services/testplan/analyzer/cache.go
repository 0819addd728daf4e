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
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// BuildFunc produces a fresh analysis for one project.
type BuildFunc func(ctx context.Context, project string) (*ProjectAnalysis, error)

// Cache memoizes project analyses by project name.
//
// Description:
//
//	Entries never expire. They are dropped only by Invalidate or Clear.
//	Concurrent GetOrBuild calls for the same project share one build.
//	Builds for different projects run independently. A build that started
//	before an Invalidate of its project is returned to its callers but is
//	not stored. The shared build ignores caller cancellation; a cancelled
//	caller stops waiting while the others still receive the result.
//
// Thread Safety:
//
//	Fully thread-safe.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*ProjectAnalysis
	gen     map[string]uint64
	epoch   uint64
	flight  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	builds atomic.Int64
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Entries  int      `json:"entries"`
	Projects []string `json:"projects"`
	Hits     int64    `json:"hits"`
	Misses   int64    `json:"misses"`
	Builds   int64    `json:"builds"`
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*ProjectAnalysis),
		gen:     make(map[string]uint64),
	}
}

// Get returns the cached analysis for project.
func (c *Cache) Get(project string) (*ProjectAnalysis, bool) {
	c.mu.RLock()
	entry, ok := c.entries[project]
	c.mu.RUnlock()

	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return entry, ok
}

// GetOrBuild returns the cached analysis or builds, stores and returns it.
//
// Outputs:
//   - *ProjectAnalysis: The analysis. The same pointer is returned to every
//     caller until the project is invalidated.
//   - bool: True if served from the cache without building.
//   - error: The build error, or ctx.Err() if ctx ends first. Failed builds
//     are not cached.
func (c *Cache) GetOrBuild(ctx context.Context, project string, build BuildFunc) (*ProjectAnalysis, bool, error) {
	if entry, ok := c.Get(project); ok {
		return entry, true, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	c.mu.RLock()
	gen, epoch := c.gen[project], c.epoch
	c.mu.RUnlock()

	key := project + "#" + strconv.FormatUint(epoch, 10) + "." + strconv.FormatUint(gen, 10)
	buildCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		c.mu.RLock()
		entry, ok := c.entries[project]
		c.mu.RUnlock()
		if ok {
			return entry, nil
		}

		c.builds.Add(1)
		analysis, err := build(buildCtx, project)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.epoch == epoch && c.gen[project] == gen {
			c.entries[project] = analysis
		}
		c.mu.Unlock()
		return analysis, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*ProjectAnalysis), false, nil
	}
}

// Put stores an analysis, replacing any existing entry.
func (c *Cache) Put(project string, analysis *ProjectAnalysis) {
	c.mu.Lock()
	c.entries[project] = analysis
	c.mu.Unlock()
}

// Invalidate drops the entry for project. Returns true if one existed.
func (c *Cache) Invalidate(project string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[project]
	delete(c.entries, project)
	c.gen[project]++
	return ok
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.entries = make(map[string]*ProjectAnalysis)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	projects := make([]string, 0, len(c.entries))
	for p := range c.entries {
		projects = append(projects, p)
	}
	c.mu.RUnlock()
	sort.Strings(projects)

	return CacheStats{
		Entries:  len(projects),
		Projects: projects,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Builds:   c.builds.Load(),
	}
}
