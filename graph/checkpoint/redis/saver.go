//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-xpert-go/graph"
)

const (
	keyPrefixCheckpoint   = "ckpt:"
	keyPrefixCheckpointTS = "ckpt_ts:"
	keyPrefixWrites       = "writes:"
	keyPrefixThreadNS     = "thread_ns:"
)

const (
	fieldThreadID     = "thread_id"
	fieldCheckpointNS = "checkpoint_ns"
	fieldCheckpointID = "checkpoint_id"
	fieldParentID     = "parent_checkpoint_id"
	fieldTS           = "ts"
	fieldCheckpoint   = "checkpoint_json"
	fieldMetadata     = "metadata_json"
)

func checkpointKey(threadID, namespace, checkpointID string) string {
	return fmt.Sprintf("%s%s:%s:%s", keyPrefixCheckpoint, threadID, namespace, checkpointID)
}

func checkpointTSKey(threadID, namespace string) string {
	if namespace == "" {
		return keyPrefixCheckpointTS + threadID
	}
	return fmt.Sprintf("%s%s:%s", keyPrefixCheckpointTS, threadID, namespace)
}

func writesKey(threadID, namespace, checkpointID string) string {
	return fmt.Sprintf("%s%s:%s:%s", keyPrefixWrites, threadID, namespace, checkpointID)
}

func threadNSKey(threadID string) string {
	return keyPrefixThreadNS + threadID
}

type writeRecord struct {
	TaskID    string `json:"task_id"`
	Idx       int    `json:"idx"`
	Channel   string `json:"channel"`
	ValueJSON []byte `json:"value_json"`
	Seq       int64  `json:"seq"`
}

// Saver persists checkpoints in redis hashes with a per-namespace sorted set
// ordering checkpoints by timestamp.
type Saver struct {
	opts      options
	client    redis.UniversalClient
	ownClient bool
	once      sync.Once
}

var _ graph.CheckpointSaver = (*Saver)(nil)

// NewSaver creates a redis checkpoint saver.
func NewSaver(opt ...Option) (*Saver, error) {
	opts := defaultOptions
	for _, o := range opt {
		o(&opts)
	}
	client := opts.client
	ownClient := false
	if client == nil {
		redisOpts, err := redis.ParseURL(opts.url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(redisOpts)
		ownClient = true
	}
	return &Saver{opts: opts, client: client, ownClient: ownClient}, nil
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
	threadID := graph.GetThreadID(config)
	if threadID == "" {
		return nil, graph.ErrThreadIDRequired
	}
	namespace := graph.GetNamespace(config)

	checkpointID, err := s.resolveCheckpointID(ctx, threadID, namespace, graph.GetCheckpointID(config))
	if err != nil {
		return nil, err
	}
	if checkpointID == "" {
		return nil, nil
	}

	data, err := s.client.HGetAll(ctx, checkpointKey(threadID, namespace, checkpointID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get checkpoint data: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var checkpoint graph.Checkpoint
	if err := json.Unmarshal([]byte(data[fieldCheckpoint]), &checkpoint); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	var metadata graph.CheckpointMetadata
	if err := json.Unmarshal([]byte(data[fieldMetadata]), &metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	writes, err := s.loadWrites(ctx, threadID, namespace, checkpointID)
	if err != nil {
		return nil, err
	}

	tuple := &graph.CheckpointTuple{
		Config:        graph.CreateCheckpointConfig(threadID, checkpointID, namespace),
		Checkpoint:    &checkpoint,
		Metadata:      &metadata,
		PendingWrites: writes,
	}
	if parentID := data[fieldParentID]; parentID != "" {
		tuple.ParentConfig = graph.CreateCheckpointConfig(threadID, parentID, namespace)
	}
	return tuple, nil
}

// List returns the tuples of the thread namespace, newest first.
func (s *Saver) List(
	ctx context.Context,
	config map[string]any,
	filter *graph.CheckpointFilter,
) ([]*graph.CheckpointTuple, error) {
	threadID := graph.GetThreadID(config)
	if threadID == "" {
		return nil, graph.ErrThreadIDRequired
	}
	namespace := graph.GetNamespace(config)

	checkpointIDs, err := s.listCheckpointIDs(ctx, threadID, namespace, filter)
	if err != nil {
		return nil, err
	}

	var tuples []*graph.CheckpointTuple
	for _, checkpointID := range checkpointIDs {
		tuple, err := s.GetTuple(ctx, graph.CreateCheckpointConfig(threadID, checkpointID, namespace))
		if err != nil {
			return nil, err
		}
		if tuple == nil || !matchesMetadata(tuple, filter) {
			continue
		}
		tuples = append(tuples, tuple)
		if filter != nil && filter.Limit > 0 && len(tuples) >= filter.Limit {
			break
		}
	}
	return tuples, nil
}

// Put stores a checkpoint and returns the config pointing at it.
func (s *Saver) Put(ctx context.Context, req graph.PutRequest) (map[string]any, error) {
	return s.putFull(ctx, req.Config, req.Checkpoint, req.Metadata, nil)
}

// PutWrites stores intermediate writes for an existing checkpoint.
func (s *Saver) PutWrites(ctx context.Context, req graph.PutWritesRequest) error {
	threadID := graph.GetThreadID(req.Config)
	checkpointID := graph.GetCheckpointID(req.Config)
	if threadID == "" || checkpointID == "" {
		return graph.ErrThreadIDAndCheckpointIDRequired
	}
	namespace := graph.GetNamespace(req.Config)

	pipe := s.client.Pipeline()
	writeKey := writesKey(threadID, namespace, checkpointID)
	for idx, write := range req.Writes {
		record, err := encodeWrite(req.TaskID, idx, write)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, writeKey, fmt.Sprintf("%s:%d", req.TaskID, idx), record)
	}
	pipe.Expire(ctx, writeKey, s.opts.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store writes: %w", err)
	}
	return nil
}

// PutFull atomically stores a checkpoint with its pending writes.
func (s *Saver) PutFull(ctx context.Context, req graph.PutFullRequest) (map[string]any, error) {
	return s.putFull(ctx, req.Config, req.Checkpoint, req.Metadata, req.PendingWrites)
}

// DeleteThread removes every checkpoint of the thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return graph.ErrThreadIDRequired
	}
	nsKey := threadNSKey(threadID)
	namespaces, err := s.client.SMembers(ctx, nsKey).Result()
	if err != nil {
		return fmt.Errorf("list namespaces: %w", err)
	}

	pipe := s.client.Pipeline()
	for _, namespace := range namespaces {
		tsKey := checkpointTSKey(threadID, namespace)
		checkpointIDs, err := s.client.ZRange(ctx, tsKey, 0, -1).Result()
		if err != nil {
			continue
		}
		for _, checkpointID := range checkpointIDs {
			pipe.Del(ctx, checkpointKey(threadID, namespace, checkpointID))
			pipe.Del(ctx, writesKey(threadID, namespace, checkpointID))
		}
		pipe.Del(ctx, tsKey)
	}
	pipe.Del(ctx, nsKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// Close releases the redis client when the saver owns it.
func (s *Saver) Close() error {
	s.once.Do(func() {
		if s.ownClient && s.client != nil {
			s.client.Close()
		}
	})
	return nil
}

func (s *Saver) putFull(
	ctx context.Context,
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
		return nil, errors.New("checkpoint cannot be nil")
	}
	namespace := graph.GetNamespace(config)

	checkpointJSON, err := json.Marshal(checkpoint)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	if metadata == nil {
		metadata = graph.NewCheckpointMetadata(graph.CheckpointSourceUpdate, 0)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	ts := checkpoint.Timestamp.UnixNano()
	if checkpoint.Timestamp.IsZero() {
		ts = time.Now().UTC().UnixNano()
	}

	pipe := s.client.TxPipeline()

	ckptKey := checkpointKey(threadID, namespace, checkpoint.ID)
	pipe.HSet(ctx, ckptKey,
		fieldThreadID, threadID,
		fieldCheckpointNS, namespace,
		fieldCheckpointID, checkpoint.ID,
		fieldParentID, graph.GetCheckpointID(config),
		fieldTS, ts,
		fieldCheckpoint, checkpointJSON,
		fieldMetadata, metadataJSON,
	)
	pipe.Expire(ctx, ckptKey, s.opts.ttl)

	tsKey := checkpointTSKey(threadID, namespace)
	pipe.ZAdd(ctx, tsKey, redis.Z{Score: float64(ts), Member: checkpoint.ID})
	pipe.Expire(ctx, tsKey, s.opts.ttl)

	nsKey := threadNSKey(threadID)
	pipe.SAdd(ctx, nsKey, namespace)
	pipe.Expire(ctx, nsKey, s.opts.ttl)

	if len(pendingWrites) > 0 {
		writeKey := writesKey(threadID, namespace, checkpoint.ID)
		for idx, write := range pendingWrites {
			record, err := encodeWrite(write.TaskID, idx, write)
			if err != nil {
				return nil, err
			}
			pipe.HSet(ctx, writeKey, fmt.Sprintf("%s:%d", write.TaskID, idx), record)
		}
		pipe.Expire(ctx, writeKey, s.opts.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store checkpoint: %w", err)
	}
	return graph.CreateCheckpointConfig(threadID, checkpoint.ID, namespace), nil
}

func (s *Saver) resolveCheckpointID(ctx context.Context, threadID, namespace, checkpointID string) (string, error) {
	if checkpointID != "" {
		return checkpointID, nil
	}
	members, err := s.client.ZRevRange(ctx, checkpointTSKey(threadID, namespace), 0, 0).Result()
	if err != nil {
		return "", fmt.Errorf("find latest checkpoint: %w", err)
	}
	if len(members) == 0 {
		return "", nil
	}
	return members[0], nil
}

func (s *Saver) listCheckpointIDs(
	ctx context.Context,
	threadID, namespace string,
	filter *graph.CheckpointFilter,
) ([]string, error) {
	tsKey := checkpointTSKey(threadID, namespace)
	if filter != nil && filter.Before != nil {
		if beforeID := graph.GetCheckpointID(filter.Before); beforeID != "" {
			score, err := s.client.ZScore(ctx, tsKey, beforeID).Result()
			switch {
			case err == nil:
				members, err := s.client.ZRevRangeByScore(ctx, tsKey, &redis.ZRangeBy{
					Min: "0",
					Max: fmt.Sprintf("(%d", int64(score)),
				}).Result()
				if err != nil {
					return nil, fmt.Errorf("list checkpoints: %w", err)
				}
				return members, nil
			case !errors.Is(err, redis.Nil):
				return nil, fmt.Errorf("score before checkpoint: %w", err)
			}
			// Unknown before checkpoint, fall through without the filter.
		}
	}
	members, err := s.client.ZRevRange(ctx, tsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return members, nil
}

func (s *Saver) loadWrites(ctx context.Context, threadID, namespace, checkpointID string) ([]graph.PendingWrite, error) {
	records, err := s.client.HGetAll(ctx, writesKey(threadID, namespace, checkpointID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get writes: %w", err)
	}
	var writes []graph.PendingWrite
	for _, recordJSON := range records {
		var record writeRecord
		if err := json.Unmarshal([]byte(recordJSON), &record); err != nil {
			continue
		}
		var value any
		if err := json.Unmarshal(record.ValueJSON, &value); err != nil {
			continue
		}
		writes = append(writes, graph.PendingWrite{
			TaskID:   record.TaskID,
			Channel:  record.Channel,
			Value:    value,
			Sequence: record.Seq,
		})
	}
	sort.Slice(writes, func(i, j int) bool {
		return writes[i].Sequence < writes[j].Sequence
	})
	return writes, nil
}

func encodeWrite(taskID string, idx int, write graph.PendingWrite) ([]byte, error) {
	valueJSON, err := json.Marshal(write.Value)
	if err != nil {
		return nil, fmt.Errorf("marshal write value: %w", err)
	}
	seq := write.Sequence
	if seq == 0 {
		seq = int64(idx)
	}
	record := writeRecord{
		TaskID:    taskID,
		Idx:       idx,
		Channel:   write.Channel,
		ValueJSON: valueJSON,
		Seq:       seq,
	}
	return json.Marshal(record)
}

func matchesMetadata(tuple *graph.CheckpointTuple, filter *graph.CheckpointFilter) bool {
	if filter == nil || len(filter.Metadata) == 0 {
		return true
	}
	if tuple.Metadata == nil || tuple.Metadata.Extra == nil {
		return false
	}
	for key, value := range filter.Metadata {
		if tuple.Metadata.Extra[key] != value {
			return false
		}
	}
	return true
}
