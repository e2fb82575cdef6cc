//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-xpert-go/graph"
)

func newCheckpointAt(values map[string]any, ts time.Time) *graph.Checkpoint {
	ckpt := graph.NewCheckpoint(values, map[string]int64{"counter": 1}, nil)
	ckpt.Timestamp = ts
	return ckpt
}

func TestSaverPutGetRoundTrip(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")

	checkpoint := graph.NewCheckpoint(
		map[string]any{"counter": 42},
		map[string]int64{"counter": 1},
		map[string]map[string]int64{"node-a": {"counter": 1}},
	)
	updatedConfig, err := saver.Put(ctx, graph.PutRequest{
		Config:      config,
		Checkpoint:  checkpoint,
		Metadata:    graph.NewCheckpointMetadata(graph.CheckpointSourceInput, -1),
		NewVersions: map[string]int64{"counter": 1},
	})
	require.NoError(t, err)
	require.NotEmpty(t, graph.GetCheckpointID(updatedConfig))

	retrieved, err := saver.Get(ctx, updatedConfig)
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, checkpoint.ID, retrieved.ID)
	assert.Equal(t, 42, retrieved.ChannelValues["counter"])
	assert.Equal(t, int64(1), retrieved.ChannelVersions["counter"])
	assert.Equal(t, int64(1), retrieved.VersionsSeen["node-a"]["counter"])

	tuple, err := saver.GetTuple(ctx, updatedConfig)
	require.NoError(t, err)
	require.NotNil(t, tuple)
	assert.Equal(t, graph.CheckpointSourceInput, tuple.Metadata.Source)
	assert.Equal(t, -1, tuple.Metadata.Step)
	assert.Nil(t, tuple.ParentConfig)
}

func TestSaverReturnsIsolatedCopies(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")

	checkpoint := graph.NewCheckpoint(map[string]any{"items": []any{"a"}}, nil, nil)
	updatedConfig, err := saver.Put(ctx, graph.PutRequest{
		Config:     config,
		Checkpoint: checkpoint,
		Metadata:   graph.NewCheckpointMetadata(graph.CheckpointSourceLoop, 0),
	})
	require.NoError(t, err)

	first, err := saver.Get(ctx, updatedConfig)
	require.NoError(t, err)
	first.ChannelValues["items"] = []any{"mutated"}

	second, err := saver.Get(ctx, updatedConfig)
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, second.ChannelValues["items"])
}

func TestSaverLatestCheckpointWins(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")
	base := time.Now().UTC()

	older := newCheckpointAt(map[string]any{"step": 0}, base)
	newer := newCheckpointAt(map[string]any{"step": 1}, base.Add(time.Second))
	for _, ckpt := range []*graph.Checkpoint{older, newer} {
		_, err := saver.Put(ctx, graph.PutRequest{
			Config:     config,
			Checkpoint: ckpt,
			Metadata:   graph.NewCheckpointMetadata(graph.CheckpointSourceLoop, 0),
		})
		require.NoError(t, err)
	}

	tuple, err := saver.GetTuple(ctx, config)
	require.NoError(t, err)
	require.NotNil(t, tuple)
	assert.Equal(t, newer.ID, tuple.Checkpoint.ID)
	assert.Equal(t, newer.ID, graph.GetCheckpointID(tuple.Config))
}

func TestSaverParentLinkage(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")

	first := graph.NewCheckpoint(map[string]any{"step": 0}, nil, nil)
	firstConfig, err := saver.Put(ctx, graph.PutRequest{
		Config:     config,
		Checkpoint: first,
		Metadata:   graph.NewCheckpointMetadata(graph.CheckpointSourceInput, -1),
	})
	require.NoError(t, err)

	second := graph.NewCheckpoint(map[string]any{"step": 1}, nil, nil)
	second.Timestamp = first.Timestamp.Add(time.Second)
	secondConfig, err := saver.Put(ctx, graph.PutRequest{
		Config:     firstConfig,
		Checkpoint: second,
		Metadata:   graph.NewCheckpointMetadata(graph.CheckpointSourceLoop, 0),
	})
	require.NoError(t, err)

	tuple, err := saver.GetTuple(ctx, secondConfig)
	require.NoError(t, err)
	require.NotNil(t, tuple)
	require.NotNil(t, tuple.ParentConfig)
	assert.Equal(t, first.ID, graph.GetCheckpointID(tuple.ParentConfig))
}

func storeSequence(t *testing.T, saver *Saver, config map[string]any, n int) []*graph.Checkpoint {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC()
	checkpoints := make([]*graph.Checkpoint, 0, n)
	for i := 0; i < n; i++ {
		ckpt := newCheckpointAt(map[string]any{"step": i}, base.Add(time.Duration(i)*time.Second))
		meta := graph.NewCheckpointMetadata(graph.CheckpointSourceLoop, i)
		meta.Extra = map[string]any{"parity": fmt.Sprintf("%d", i%2)}
		_, err := saver.Put(ctx, graph.PutRequest{Config: config, Checkpoint: ckpt, Metadata: meta})
		require.NoError(t, err)
		checkpoints = append(checkpoints, ckpt)
	}
	return checkpoints
}

func TestSaverListNewestFirst(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")
	checkpoints := storeSequence(t, saver, config, 3)

	tuples, err := saver.List(ctx, config, nil)
	require.NoError(t, err)
	require.Len(t, tuples, 3)
	assert.Equal(t, checkpoints[2].ID, tuples[0].Checkpoint.ID)
	assert.Equal(t, checkpoints[1].ID, tuples[1].Checkpoint.ID)
	assert.Equal(t, checkpoints[0].ID, tuples[2].Checkpoint.ID)
}

func TestSaverListLimitKeepsNewest(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")
	checkpoints := storeSequence(t, saver, config, 5)

	tuples, err := saver.List(ctx, config, &graph.CheckpointFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, tuples, 2)
	assert.Equal(t, checkpoints[4].ID, tuples[0].Checkpoint.ID)
	assert.Equal(t, checkpoints[3].ID, tuples[1].Checkpoint.ID)
}

func TestSaverListBeforeFilter(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")
	checkpoints := storeSequence(t, saver, config, 3)

	before := graph.CreateCheckpointConfig("thread-1", checkpoints[2].ID, "")
	tuples, err := saver.List(ctx, config, &graph.CheckpointFilter{Before: before})
	require.NoError(t, err)
	require.Len(t, tuples, 2)
	assert.Equal(t, checkpoints[1].ID, tuples[0].Checkpoint.ID)
	assert.Equal(t, checkpoints[0].ID, tuples[1].Checkpoint.ID)
}

func TestSaverListMetadataFilter(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")
	storeSequence(t, saver, config, 4)

	tuples, err := saver.List(ctx, config, &graph.CheckpointFilter{
		Metadata: map[string]any{"parity": "0"},
	})
	require.NoError(t, err)
	assert.Len(t, tuples, 2)

	none, err := saver.List(ctx, config, &graph.CheckpointFilter{
		Metadata: map[string]any{"parity": "2"},
	})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSaverWritesRoundTrip(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")

	checkpoint := graph.NewCheckpoint(map[string]any{"counter": 0}, nil, nil)
	updatedConfig, err := saver.Put(ctx, graph.PutRequest{
		Config:     config,
		Checkpoint: checkpoint,
		Metadata:   graph.NewCheckpointMetadata(graph.CheckpointSourceInput, -1),
	})
	require.NoError(t, err)

	err = saver.PutWrites(ctx, graph.PutWritesRequest{
		Config: updatedConfig,
		Writes: []graph.PendingWrite{
			{TaskID: "task-1", Channel: "counter", Value: 42, Sequence: 1},
			{TaskID: "task-1", Channel: "message", Value: "hello", Sequence: 2},
		},
		TaskID: "task-1",
	})
	require.NoError(t, err)

	tuple, err := saver.GetTuple(ctx, updatedConfig)
	require.NoError(t, err)
	require.NotNil(t, tuple)
	require.Len(t, tuple.PendingWrites, 2)
	assert.Equal(t, "counter", tuple.PendingWrites[0].Channel)
	assert.Equal(t, 42, tuple.PendingWrites[0].Value)
	assert.Equal(t, "message", tuple.PendingWrites[1].Channel)
	assert.Equal(t, "hello", tuple.PendingWrites[1].Value)
}

func TestSaverPutFullStoresWritesAtomically(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")

	checkpoint := graph.NewCheckpoint(map[string]any{"counter": 1}, nil, nil)
	updatedConfig, err := saver.PutFull(ctx, graph.PutFullRequest{
		Config:     config,
		Checkpoint: checkpoint,
		Metadata:   graph.NewCheckpointMetadata(graph.CheckpointSourceLoop, 0),
		PendingWrites: []graph.PendingWrite{
			{TaskID: "node-a", Channel: "counter", Value: 2, Sequence: 1},
		},
	})
	require.NoError(t, err)

	tuple, err := saver.GetTuple(ctx, updatedConfig)
	require.NoError(t, err)
	require.NotNil(t, tuple)
	require.Len(t, tuple.PendingWrites, 1)
	assert.Equal(t, "node-a", tuple.PendingWrites[0].TaskID)
	assert.Equal(t, 2, tuple.PendingWrites[0].Value)
}

func TestSaverNamespaceIsolation(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()

	defaultNS := graph.CreateCheckpointConfig("thread-1", "", "")
	subNS := graph.CreateCheckpointConfig("thread-1", "", "sub")

	ckptDefault := graph.NewCheckpoint(map[string]any{"ns": "default"}, nil, nil)
	_, err := saver.Put(ctx, graph.PutRequest{
		Config:     defaultNS,
		Checkpoint: ckptDefault,
		Metadata:   graph.NewCheckpointMetadata(graph.CheckpointSourceLoop, 0),
	})
	require.NoError(t, err)

	ckptSub := graph.NewCheckpoint(map[string]any{"ns": "sub"}, nil, nil)
	_, err = saver.Put(ctx, graph.PutRequest{
		Config:     subNS,
		Checkpoint: ckptSub,
		Metadata:   graph.NewCheckpointMetadata(graph.CheckpointSourceLoop, 0),
	})
	require.NoError(t, err)

	tuple, err := saver.GetTuple(ctx, subNS)
	require.NoError(t, err)
	require.NotNil(t, tuple)
	assert.Equal(t, ckptSub.ID, tuple.Checkpoint.ID)

	tuple, err = saver.GetTuple(ctx, defaultNS)
	require.NoError(t, err)
	require.NotNil(t, tuple)
	assert.Equal(t, ckptDefault.ID, tuple.Checkpoint.ID)
}

func TestSaverPruneKeepsNewest(t *testing.T) {
	saver := NewSaver().WithMaxCheckpointsPerThread(2)
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")
	checkpoints := storeSequence(t, saver, config, 3)

	tuples, err := saver.List(ctx, config, nil)
	require.NoError(t, err)
	require.Len(t, tuples, 2)
	assert.Equal(t, checkpoints[2].ID, tuples[0].Checkpoint.ID)
	assert.Equal(t, checkpoints[1].ID, tuples[1].Checkpoint.ID)

	pruned, err := saver.Get(ctx, graph.CreateCheckpointConfig("thread-1", checkpoints[0].ID, ""))
	require.NoError(t, err)
	assert.Nil(t, pruned)
}

func TestSaverDeleteThread(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")

	checkpoint := graph.NewCheckpoint(map[string]any{"counter": 42}, nil, nil)
	updatedConfig, err := saver.Put(ctx, graph.PutRequest{
		Config:     config,
		Checkpoint: checkpoint,
		Metadata:   graph.NewCheckpointMetadata(graph.CheckpointSourceInput, -1),
	})
	require.NoError(t, err)

	require.NoError(t, saver.DeleteThread(ctx, "thread-1"))

	retrieved, err := saver.Get(ctx, updatedConfig)
	require.NoError(t, err)
	assert.Nil(t, retrieved)
}

func TestSaverThreadIDRequired(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()
	empty := graph.CreateCheckpointConfig("", "", "")

	_, err := saver.GetTuple(ctx, empty)
	assert.ErrorIs(t, err, graph.ErrThreadIDRequired)

	_, err = saver.List(ctx, empty, nil)
	assert.ErrorIs(t, err, graph.ErrThreadIDRequired)

	_, err = saver.Put(ctx, graph.PutRequest{
		Config:     empty,
		Checkpoint: graph.NewCheckpoint(nil, nil, nil),
	})
	assert.ErrorIs(t, err, graph.ErrThreadIDRequired)

	err = saver.PutWrites(ctx, graph.PutWritesRequest{Config: empty, TaskID: "task-1"})
	assert.ErrorIs(t, err, graph.ErrThreadIDAndCheckpointIDRequired)
}

func TestSaverConcurrentAccess(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")

	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		go func(id int) {
			defer func() { done <- struct{}{} }()
			checkpoint := graph.NewCheckpoint(map[string]any{"counter": id}, nil, nil)
			_, err := saver.Put(ctx, graph.PutRequest{
				Config:     config,
				Checkpoint: checkpoint,
				Metadata:   graph.NewCheckpointMetadata(graph.CheckpointSourceLoop, id),
			})
			assert.NoError(t, err)
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	tuples, err := saver.List(ctx, config, nil)
	require.NoError(t, err)
	assert.Len(t, tuples, 10)
}

func TestSaverCloseDropsData(t *testing.T) {
	saver := NewSaver()
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")

	checkpoint := graph.NewCheckpoint(map[string]any{"counter": 42}, nil, nil)
	updatedConfig, err := saver.Put(ctx, graph.PutRequest{
		Config:     config,
		Checkpoint: checkpoint,
		Metadata:   graph.NewCheckpointMetadata(graph.CheckpointSourceInput, -1),
	})
	require.NoError(t, err)

	require.NoError(t, saver.Close())

	retrieved, err := saver.Get(ctx, updatedConfig)
	require.NoError(t, err)
	assert.Nil(t, retrieved)
}
