// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists batch plans in BadgerDB.
package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/batch"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

// PlanSchemaVersion is the version of the stored plan encoding.
const PlanSchemaVersion = "1.0"

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 100

// ErrPlanNotFound is returned when no plan matches the lookup.
var ErrPlanNotFound = errors.New("plan not found")

// Key schema:
//
//	plan:proj:{project}:{planID}:data -> gzip(JSON(batch.Plan))
//	plan:proj:{project}:{planID}:meta -> JSON(PlanMetadata)
//	plan:proj:{project}:latest        -> planID
//	plan:index:{planID}               -> project
const (
	keyPrefixProject = "plan:proj:"
	keyPrefixIndex   = "plan:index:"
	keySuffixData    = ":data"
	keySuffixMeta    = ":meta"
	keySuffixLatest  = ":latest"
)

// PlanMetadata describes a stored plan without its batches.
type PlanMetadata struct {
	PlanID         string         `json:"planId"`
	Project        string         `json:"project"`
	Phase          testunit.Phase `json:"phase,omitempty"`
	CreatedAtMilli int64          `json:"createdAtMilli"`
	TotalTests     int            `json:"totalTests"`
	TotalBatches   int            `json:"totalBatches"`
	SchemaVersion  string         `json:"schemaVersion"`
	CompressedSize int64          `json:"compressedSize"`
	ContentHash    string         `json:"contentHash"`
}

// OpenDB opens a BadgerDB at dir, or an in-memory one when dir is empty.
// The caller owns the returned DB.
func OpenDB(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening plan store: %w", err)
	}
	return db, nil
}

// PlanStore saves and loads batch plans.
//
// Description:
//
//	Plans are stored as gzip-compressed JSON next to a small metadata
//	record used for listing. A per-project latest pointer tracks the most
//	recently saved plan.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB transactions provide isolation.
type PlanStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewPlanStore creates a store over an opened DB. A nil logger means
// slog.Default().
func NewPlanStore(db *badger.DB, logger *slog.Logger) (*PlanStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanStore{db: db, logger: logger}, nil
}

// Save persists plan and makes it the latest plan of its project.
//
// Outputs:
//   - *PlanMetadata: Metadata of the stored plan.
//   - error: Non-nil if the plan is nil, has no ID or project, or the write
//     fails.
func (s *PlanStore) Save(ctx context.Context, plan *batch.Plan) (*PlanMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("plan must not be nil")
	}
	if plan.ID == "" || plan.Project == "" {
		return nil, fmt.Errorf("plan must have an ID and a project")
	}

	raw, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("marshaling plan: %w", err)
	}
	compressed, err := compress(raw)
	if err != nil {
		return nil, err
	}

	meta := &PlanMetadata{
		PlanID:         plan.ID,
		Project:        plan.Project,
		Phase:          plan.Phase,
		CreatedAtMilli: plan.CreatedAt.UnixMilli(),
		TotalTests:     plan.Statistics.TotalTests,
		TotalBatches:   plan.Statistics.TotalBatches,
		SchemaVersion:  PlanSchemaVersion,
		CompressedSize: int64(len(compressed)),
		ContentHash:    hashBytes(compressed),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling plan metadata: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(plan.Project, plan.ID), compressed); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set(metaKey(plan.Project, plan.ID), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set(latestKey(plan.Project), []byte(plan.ID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		if err := txn.Set(indexKey(plan.ID), []byte(plan.Project)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing plan %s: %w", plan.ID, err)
	}

	s.logger.Info("plan saved",
		slog.String("plan_id", plan.ID),
		slog.String("project", plan.Project),
		slog.Int("batches", meta.TotalBatches),
		slog.Int64("compressed_size", meta.CompressedSize))
	return meta, nil
}

// Load returns the plan with the given ID.
//
// Outputs:
//   - error: ErrPlanNotFound, or an integrity or decoding failure.
func (s *PlanStore) Load(ctx context.Context, planID string) (*batch.Plan, *PlanMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if planID == "" {
		return nil, nil, fmt.Errorf("plan ID must not be empty")
	}

	project, err := s.readString(indexKey(planID))
	if err != nil {
		return nil, nil, fmt.Errorf("looking up plan %s: %w", planID, err)
	}
	return s.loadByKeys(project, planID)
}

// LoadLatest returns the most recently saved plan of project.
func (s *PlanStore) LoadLatest(ctx context.Context, project string) (*batch.Plan, *PlanMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if project == "" {
		return nil, nil, fmt.Errorf("project must not be empty")
	}

	planID, err := s.readString(latestKey(project))
	if err != nil {
		return nil, nil, fmt.Errorf("reading latest plan of %s: %w", project, err)
	}
	return s.loadByKeys(project, planID)
}

// List returns plan metadata newest first.
//
// Inputs:
//   - project: Optional filter. Empty lists every project.
//   - limit: Maximum results. Non-positive means DefaultListLimit.
func (s *PlanStore) List(ctx context.Context, project string, limit int) ([]*PlanMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	prefix := []byte(keyPrefixProject)
	if project != "" {
		prefix = []byte(keyPrefixProject + project + ":")
	}

	results := []*PlanMetadata{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, keySuffixMeta) {
				continue
			}

			var meta PlanMetadata
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				s.logger.Warn("skipping corrupt plan metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].CreatedAtMilli != results[j].CreatedAtMilli {
			return results[i].CreatedAtMilli > results[j].CreatedAtMilli
		}
		return results[i].PlanID < results[j].PlanID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a plan. If it was its project's latest plan, the latest
// pointer is removed too.
func (s *PlanStore) Delete(ctx context.Context, planID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if planID == "" {
		return fmt.Errorf("plan ID must not be empty")
	}

	project, err := s.readString(indexKey(planID))
	if err != nil {
		return fmt.Errorf("looking up plan %s: %w", planID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range [][]byte{dataKey(project, planID), metaKey(project, planID), indexKey(planID)} {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}

		item, err := txn.Get(latestKey(project))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading latest pointer: %w", err)
		}
		latest, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("reading latest pointer: %w", err)
		}
		if string(latest) == planID {
			return txn.Delete(latestKey(project))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting plan %s: %w", planID, err)
	}

	s.logger.Info("plan deleted", slog.String("plan_id", planID), slog.String("project", project))
	return nil
}

func (s *PlanStore) loadByKeys(project, planID string) (*batch.Plan, *PlanMetadata, error) {
	var compressed, metaJSON []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(project, planID))
		if err != nil {
			return notFound(err)
		}
		if compressed, err = item.ValueCopy(nil); err != nil {
			return err
		}

		item, err = txn.Get(metaKey(project, planID))
		if err != nil {
			return notFound(err)
		}
		metaJSON, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reading plan %s: %w", planID, err)
	}

	var meta PlanMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling metadata of %s: %w", planID, err)
	}
	if actual := hashBytes(compressed); meta.ContentHash != "" && meta.ContentHash != actual {
		return nil, nil, fmt.Errorf("integrity check failed for %s: expected hash %s, got %s", planID, meta.ContentHash, actual)
	}

	raw, err := decompress(compressed)
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing plan %s: %w", planID, err)
	}
	var plan batch.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling plan %s: %w", planID, err)
	}
	return &plan, &meta, nil
}

func (s *PlanStore) readString(key []byte) (string, error) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return notFound(err)
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	return value, err
}

func notFound(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrPlanNotFound
	}
	return err
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("compressing plan: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func dataKey(project, planID string) []byte {
	return []byte(keyPrefixProject + project + ":" + planID + keySuffixData)
}

func metaKey(project, planID string) []byte {
	return []byte(keyPrefixProject + project + ":" + planID + keySuffixMeta)
}

func latestKey(project string) []byte {
	return []byte(keyPrefixProject + project + keySuffixLatest)
}

func indexKey(planID string) []byte {
	return []byte(keyPrefixIndex + planID)
}
