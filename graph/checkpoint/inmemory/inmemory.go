//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory checkpoint saver, suitable for
// tests and single-process runs without durability requirements.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"trpc.group/trpc-go/trpc-xpert-go/graph"
)

// Saver keeps checkpoints in process memory, keyed by thread, namespace
// and checkpoint ID.
type Saver struct {
	mu      sync.RWMutex
	storage map[string]map[string]map[string]*graph.CheckpointTuple
	writes  map[string]map[string]map[string][]graph.PendingWrite

	maxCheckpointsPerThread int
}

var _ graph.CheckpointSaver = (*Saver)(nil)

// NewSaver creates an empty in-memory checkpoint saver.
func NewSaver() *Saver {
	return &Saver{
		storage:                 make(map[string]map[string]map[string]*graph.CheckpointTuple),
		writes:                  make(map[string]map[string]map[string][]graph.PendingWrite),
		maxCheckpointsPerThread: graph.DefaultMaxCheckpointsPerThread,
	}
}

// WithMaxCheckpointsPerThread bounds the history kept per thread and
// namespace. Oldest checkpoints are pruned first.
func (s *Saver) WithMaxCheckpointsPerThread(limit int) *Saver {
	if limit > 0 {
		s.maxCheckpointsPerThread = limit
	}
	return s
}

// Get retrieves a checkpoint by configuration.
func (s *Saver) Get(ctx context.Context, config map[string]any) (*graph.Checkpoint, error) {
	tuple, err := s.GetTuple(ctx, config)
	if err != nil || tuple == nil {
		return nil, err
	}
	return tuple.Checkpoint, nil
}

// GetTuple retrieves a checkpoint tuple by configuration. When the config
// carries no checkpoint ID the latest checkpoint of the namespace wins.
func (s *Saver) GetTuple(ctx context.Context, config map[string]any) (*graph.CheckpointTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threadID := graph.GetThreadID(config)
	if threadID == "" {
		return nil, graph.ErrThreadIDRequired
	}
	namespace := graph.GetNamespace(config)
	checkpoints := s.storage[threadID][namespace]
	if len(checkpoints) == 0 {
		return nil, nil
	}

	checkpointID := graph.GetCheckpointID(config)
	if checkpointID == "" {
		latest := latestTuple(checkpoints)
		if latest == nil {
			return nil, nil
		}
		checkpointID = latest.Checkpoint.ID
	}
	tuple, ok := checkpoints[checkpointID]
	if !ok {
		return nil, nil
	}
	return s.copyTupleLocked(threadID, namespace, tuple), nil
}

// List returns the tuples of the thread namespace, newest first.
func (s *Saver) List(
	ctx context.Context,
	config map[string]any,
	filter *graph.CheckpointFilter,
) ([]*graph.CheckpointTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threadID := graph.GetThreadID(config)
	if threadID == "" {
		return nil, graph.ErrThreadIDRequired
	}
	namespace := graph.GetNamespace(config)
	checkpoints := s.storage[threadID][namespace]

	var beforeTuple *graph.CheckpointTuple
	if filter != nil && filter.Before != nil {
		if beforeID := graph.GetCheckpointID(filter.Before); beforeID != "" {
			beforeTuple = checkpoints[beforeID]
		}
	}

	var results []*graph.CheckpointTuple
	for _, tuple := range checkpoints {
		if beforeTuple != nil && !tuple.Checkpoint.Timestamp.Before(beforeTuple.Checkpoint.Timestamp) {
			continue
		}
		if filter != nil && !matchesMetadata(tuple, filter.Metadata) {
			continue
		}
		results = append(results, s.copyTupleLocked(threadID, namespace, tuple))
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Checkpoint.Timestamp.After(results[j].Checkpoint.Timestamp)
	})
	if filter != nil && filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

// Put stores a checkpoint and returns the config pointing at it.
func (s *Saver) Put(ctx context.Context, req graph.PutRequest) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(req.Config, req.Checkpoint, req.Metadata, nil)
}

// PutWrites stores intermediate writes for an existing checkpoint.
func (s *Saver) PutWrites(ctx context.Context, req graph.PutWritesRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	threadID := graph.GetThreadID(req.Config)
	checkpointID := graph.GetCheckpointID(req.Config)
	if threadID == "" || checkpointID == "" {
		return graph.ErrThreadIDAndCheckpointIDRequired
	}
	namespace := graph.GetNamespace(req.Config)
	s.storeWritesLocked(threadID, namespace, checkpointID, req.Writes)
	return nil
}

// PutFull atomically stores a checkpoint with its pending writes.
func (s *Saver) PutFull(ctx context.Context, req graph.PutFullRequest) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(req.Config, req.Checkpoint, req.Metadata, req.PendingWrites)
}

// DeleteThread removes every checkpoint of the thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.storage, threadID)
	delete(s.writes, threadID)
	return nil
}

// Close drops all stored data.
func (s *Saver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage = make(map[string]map[string]map[string]*graph.CheckpointTuple)
	s.writes = make(map[string]map[string]map[string][]graph.PendingWrite)
	return nil
}

func (s *Saver) putLocked(
	config map[string]any,
	checkpoint *graph.Checkpoint,
	metadata *graph.CheckpointMetadata,
	pendingWrites []graph.PendingWrite,
) (map[string]any, error) {
	threadID := graph.GetThreadID(config)
	if threadID == "" {
		return nil, graph.ErrThreadIDRequired
	}
	if checkpoint == nil {
		return nil, fmt.Errorf("checkpoint cannot be nil")
	}
	namespace := graph.GetNamespace(config)

	if s.storage[threadID] == nil {
		s.storage[threadID] = make(map[string]map[string]*graph.CheckpointTuple)
	}
	if s.storage[threadID][namespace] == nil {
		s.storage[threadID][namespace] = make(map[string]*graph.CheckpointTuple)
	}

	tuple := &graph.CheckpointTuple{
		Config:     graph.CreateCheckpointConfig(threadID, checkpoint.ID, namespace),
		Checkpoint: checkpoint.Copy(),
		Metadata:   metadata,
	}
	if parentID := graph.GetCheckpointID(config); parentID != "" {
		tuple.ParentConfig = graph.CreateCheckpointConfig(threadID, parentID, namespace)
	}
	s.storage[threadID][namespace][checkpoint.ID] = tuple

	if len(pendingWrites) > 0 {
		s.storeWritesLocked(threadID, namespace, checkpoint.ID, pendingWrites)
	}
	s.pruneLocked(threadID, namespace)
	return graph.CreateCheckpointConfig(threadID, checkpoint.ID, namespace), nil
}

func (s *Saver) storeWritesLocked(threadID, namespace, checkpointID string, writes []graph.PendingWrite) {
	if s.writes[threadID] == nil {
		s.writes[threadID] = make(map[string]map[string][]graph.PendingWrite)
	}
	if s.writes[threadID][namespace] == nil {
		s.writes[threadID][namespace] = make(map[string][]graph.PendingWrite)
	}
	stored := make([]graph.PendingWrite, len(writes))
	copy(stored, writes)
	s.writes[threadID][namespace][checkpointID] = stored
}

func (s *Saver) copyTupleLocked(threadID, namespace string, tuple *graph.CheckpointTuple) *graph.CheckpointTuple {
	result := &graph.CheckpointTuple{
		Config:       tuple.Config,
		Checkpoint:   tuple.Checkpoint.Copy(),
		Metadata:     tuple.Metadata,
		ParentConfig: tuple.ParentConfig,
	}
	if writes, ok := s.writes[threadID][namespace][tuple.Checkpoint.ID]; ok {
		result.PendingWrites = make([]graph.PendingWrite, len(writes))
		copy(result.PendingWrites, writes)
	}
	return result
}

// pruneLocked drops the oldest checkpoints beyond the per-thread limit.
func (s *Saver) pruneLocked(threadID, namespace string) {
	checkpoints := s.storage[threadID][namespace]
	excess := len(checkpoints) - s.maxCheckpointsPerThread
	if excess <= 0 {
		return
	}
	ids := make([]string, 0, len(checkpoints))
	for id := range checkpoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return checkpoints[ids[i]].Checkpoint.Timestamp.Before(checkpoints[ids[j]].Checkpoint.Timestamp)
	})
	for _, id := range ids[:excess] {
		delete(checkpoints, id)
		if w := s.writes[threadID][namespace]; w != nil {
			delete(w, id)
		}
	}
}

func latestTuple(checkpoints map[string]*graph.CheckpointTuple) *graph.CheckpointTuple {
	var latest *graph.CheckpointTuple
	for _, tuple := range checkpoints {
		if tuple.Checkpoint == nil {
			continue
		}
		if latest == nil || tuple.Checkpoint.Timestamp.After(latest.Checkpoint.Timestamp) {
			latest = tuple
		}
	}
	return latest
}

func matchesMetadata(tuple *graph.CheckpointTuple, want map[string]any) bool {
	if len(want) == 0 {
		return true
	}
	if tuple.Metadata == nil || tuple.Metadata.Extra == nil {
		return false
	}
	for key, value := range want {
		if tuple.Metadata.Extra[key] != value {
			return false
		}
	}
	return true
}
