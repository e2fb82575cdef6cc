//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-xpert-go/graph"
)

func newTestSaver(t *testing.T) *Saver {
	t.Helper()
	saver, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { saver.Close() })
	return saver
}

func TestSQLiteNewSaverNilDB(t *testing.T) {
	saver, err := NewSaver(nil)
	require.Error(t, err)
	assert.Nil(t, saver)
}

func TestSQLitePutGetRoundTrip(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")

	checkpoint := graph.NewCheckpoint(
		map[string]any{"counter": 42, "label": "hello"},
		map[string]int64{"counter": 3},
		map[string]map[string]int64{"node-a": {"counter": 2}},
	)
	checkpoint.NextNodes = []string{"node-b"}
	checkpoint.BarrierSets = map[string][]string{"join:node-c": {"node-a"}}
	checkpoint.InterruptState = &graph.InterruptState{
		NodeID: "node-b",
		TaskID: "task-1",
		Key:    "approval",
		Value:  "pending",
		Step:   2,
	}

	updatedConfig, err := saver.Put(ctx, graph.PutRequest{
		Config:      config,
		Checkpoint:  checkpoint,
		Metadata:    graph.NewCheckpointMetadata(graph.CheckpointSourceInterrupt, 2),
		NewVersions: map[string]int64{"counter": 3},
	})
	require.NoError(t, err)
	require.Equal(t, checkpoint.ID, graph.GetCheckpointID(updatedConfig))

	tuple, err := saver.GetTuple(ctx, updatedConfig)
	require.NoError(t, err)
	require.NotNil(t, tuple)

	restored := tuple.Checkpoint
	assert.Equal(t, checkpoint.ID, restored.ID)
	// Values pass through JSON, numbers come back as float64.
	assert.Equal(t, float64(42), restored.ChannelValues["counter"])
	assert.Equal(t, "hello", restored.ChannelValues["label"])
	assert.Equal(t, int64(3), restored.ChannelVersions["counter"])
	assert.Equal(t, int64(2), restored.VersionsSeen["node-a"]["counter"])
	assert.Equal(t, []string{"node-b"}, restored.NextNodes)
	assert.Equal(t, []string{"node-a"}, restored.BarrierSets["join:node-c"])
	require.NotNil(t, restored.InterruptState)
	assert.Equal(t, "node-b", restored.InterruptState.NodeID)
	assert.Equal(t, "approval", restored.InterruptState.Key)

	assert.Equal(t, graph.CheckpointSourceInterrupt, tuple.Metadata.Source)
	assert.Equal(t, 2, tuple.Metadata.Step)
	assert.Nil(t, tuple.ParentConfig)
}

func TestSQLiteGetTupleMissingReturnsNil(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()

	tuple, err := saver.GetTuple(ctx, graph.CreateCheckpointConfig("no-such-thread", "", ""))
	require.NoError(t, err)
	assert.Nil(t, tuple)

	tuple, err = saver.GetTuple(ctx, graph.CreateCheckpointConfig("no-such-thread", "no-such-id", ""))
	require.NoError(t, err)
	assert.Nil(t, tuple)
}

func TestSQLiteLatestCheckpointWins(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")
	base := time.Now().UTC()

	older := graph.NewCheckpoint(map[string]any{"step": 0}, nil, nil)
	older.Timestamp = base
	newer := graph.NewCheckpoint(map[string]any{"step": 1}, nil, nil)
	newer.Timestamp = base.Add(time.Second)
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
}

func TestSQLiteParentLinkage(t *testing.T) {
	saver := newTestSaver(t)
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
		ckpt := graph.NewCheckpoint(map[string]any{"step": i}, nil, nil)
		ckpt.Timestamp = base.Add(time.Duration(i) * time.Second)
		meta := graph.NewCheckpointMetadata(graph.CheckpointSourceLoop, i)
		if i%2 == 0 {
			meta.Extra = map[string]any{"parity": "even"}
		}
		_, err := saver.Put(ctx, graph.PutRequest{Config: config, Checkpoint: ckpt, Metadata: meta})
		require.NoError(t, err)
		checkpoints = append(checkpoints, ckpt)
	}
	return checkpoints
}

func TestSQLiteListNewestFirstWithLimit(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")
	checkpoints := storeSequence(t, saver, config, 4)

	tuples, err := saver.List(ctx, config, nil)
	require.NoError(t, err)
	require.Len(t, tuples, 4)
	assert.Equal(t, checkpoints[3].ID, tuples[0].Checkpoint.ID)
	assert.Equal(t, checkpoints[0].ID, tuples[3].Checkpoint.ID)

	limited, err := saver.List(ctx, config, &graph.CheckpointFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, checkpoints[3].ID, limited[0].Checkpoint.ID)
	assert.Equal(t, checkpoints[2].ID, limited[1].Checkpoint.ID)
}

func TestSQLiteListBeforeFilter(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")
	checkpoints := storeSequence(t, saver, config, 3)

	before := graph.CreateCheckpointConfig("thread-1", checkpoints[2].ID, "")
	tuples, err := saver.List(ctx, config, &graph.CheckpointFilter{Before: before})
	require.NoError(t, err)
	require.Len(t, tuples, 2)
	assert.Equal(t, checkpoints[1].ID, tuples[0].Checkpoint.ID)
	assert.Equal(t, checkpoints[0].ID, tuples[1].Checkpoint.ID)

	// Unknown before checkpoint leaves the listing unfiltered.
	unknown := graph.CreateCheckpointConfig("thread-1", "no-such-id", "")
	tuples, err = saver.List(ctx, config, &graph.CheckpointFilter{Before: unknown})
	require.NoError(t, err)
	assert.Len(t, tuples, 3)
}

func TestSQLiteListMetadataFilter(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")
	storeSequence(t, saver, config, 4)

	tuples, err := saver.List(ctx, config, &graph.CheckpointFilter{
		Metadata: map[string]any{"parity": "even"},
	})
	require.NoError(t, err)
	assert.Len(t, tuples, 2)
}

func TestSQLiteWritesRoundTrip(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")

	checkpoint := graph.NewCheckpoint(map[string]any{"counter": 0}, nil, nil)
	updatedConfig, err := saver.PutFull(ctx, graph.PutFullRequest{
		Config:     config,
		Checkpoint: checkpoint,
		Metadata:   graph.NewCheckpointMetadata(graph.CheckpointSourceLoop, 0),
		PendingWrites: []graph.PendingWrite{
			{TaskID: "node-b", Channel: "message", Value: "hello", Sequence: 2},
			{TaskID: "node-a", Channel: "counter", Value: 42, Sequence: 1},
		},
	})
	require.NoError(t, err)

	tuple, err := saver.GetTuple(ctx, updatedConfig)
	require.NoError(t, err)
	require.NotNil(t, tuple)
	require.Len(t, tuple.PendingWrites, 2)
	// Writes come back ordered by sequence.
	assert.Equal(t, "node-a", tuple.PendingWrites[0].TaskID)
	assert.Equal(t, float64(42), tuple.PendingWrites[0].Value)
	assert.Equal(t, int64(1), tuple.PendingWrites[0].Sequence)
	assert.Equal(t, "node-b", tuple.PendingWrites[1].TaskID)
	assert.Equal(t, "hello", tuple.PendingWrites[1].Value)
}

func TestSQLitePutWrites(t *testing.T) {
	saver := newTestSaver(t)
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
			{Channel: "counter", Value: 7, Sequence: 1},
		},
		TaskID: "task-1",
	})
	require.NoError(t, err)

	tuple, err := saver.GetTuple(ctx, updatedConfig)
	require.NoError(t, err)
	require.NotNil(t, tuple)
	require.Len(t, tuple.PendingWrites, 1)
	assert.Equal(t, "task-1", tuple.PendingWrites[0].TaskID)
	assert.Equal(t, float64(7), tuple.PendingWrites[0].Value)

	err = saver.PutWrites(ctx, graph.PutWritesRequest{
		Config: graph.CreateCheckpointConfig("thread-1", "", ""),
		TaskID: "task-1",
	})
	assert.ErrorIs(t, err, graph.ErrThreadIDAndCheckpointIDRequired)
}

func TestSQLiteDeleteThread(t *testing.T) {
	saver := newTestSaver(t)
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")

	checkpoint := graph.NewCheckpoint(map[string]any{"counter": 42}, nil, nil)
	updatedConfig, err := saver.PutFull(ctx, graph.PutFullRequest{
		Config:     config,
		Checkpoint: checkpoint,
		Metadata:   graph.NewCheckpointMetadata(graph.CheckpointSourceInput, -1),
		PendingWrites: []graph.PendingWrite{
			{TaskID: "task-1", Channel: "counter", Value: 1, Sequence: 1},
		},
	})
	require.NoError(t, err)

	require.NoError(t, saver.DeleteThread(ctx, "thread-1"))

	tuple, err := saver.GetTuple(ctx, updatedConfig)
	require.NoError(t, err)
	assert.Nil(t, tuple)

	assert.ErrorIs(t, saver.DeleteThread(ctx, ""), graph.ErrThreadIDRequired)
}

func TestSQLiteThreadIDRequired(t *testing.T) {
	saver := newTestSaver(t)
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
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	ctx := context.Background()
	config := graph.CreateCheckpointConfig("thread-1", "", "")

	saver, err := Open(path)
	require.NoError(t, err)
	checkpoint := graph.NewCheckpoint(map[string]any{"counter": 42}, nil, nil)
	updatedConfig, err := saver.Put(ctx, graph.PutRequest{
		Config:     config,
		Checkpoint: checkpoint,
		Metadata:   graph.NewCheckpointMetadata(graph.CheckpointSourceInput, -1),
	})
	require.NoError(t, err)
	require.NoError(t, saver.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	tuple, err := reopened.GetTuple(ctx, updatedConfig)
	require.NoError(t, err)
	require.NotNil(t, tuple)
	assert.Equal(t, checkpoint.ID, tuple.Checkpoint.ID)
	assert.Equal(t, float64(42), tuple.Checkpoint.ChannelValues["counter"])
}

func TestSQLiteNamespaceIsolation(t *testing.T) {
	saver := newTestSaver(t)
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
	ckptSub.Timestamp = ckptDefault.Timestamp.Add(time.Second)
	_, err = saver.Put(ctx, graph.PutRequest{
		Config:     subNS,
		Checkpoint: ckptSub,
		Metadata:   graph.NewCheckpointMetadata(graph.CheckpointSourceLoop, 0),
	})
	require.NoError(t, err)

	tuple, err := saver.GetTuple(ctx, defaultNS)
	require.NoError(t, err)
	require.NotNil(t, tuple)
	assert.Equal(t, ckptDefault.ID, tuple.Checkpoint.ID)

	tuples, err := saver.List(ctx, subNS, nil)
	require.NoError(t, err)
	require.Len(t, tuples, 1)
	assert.Equal(t, ckptSub.ID, tuples[0].Checkpoint.ID)
}
