//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package graph_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-xpert-go/event"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
)

func customMetadata(t *testing.T, evt *event.Event) graph.NodeCustomEventMetadata {
	t.Helper()
	raw, ok := evt.StateDelta[graph.MetadataKeyNodeCustom]
	require.True(t, ok, "missing custom metadata")
	var md graph.NodeCustomEventMetadata
	require.NoError(t, json.Unmarshal(raw, &md))
	return md
}

func TestEmitterFillsNodeContext(t *testing.T) {
	ch := make(chan *event.Event, 4)
	em := graph.NewEventEmitter(ch,
		graph.WithEmitterNodeID("worker"),
		graph.WithEmitterInvocationID("inv-1"),
		graph.WithEmitterBranch("b1"),
	)

	require.NoError(t, em.Emit(event.New("", "")))
	got := <-ch
	assert.Equal(t, "inv-1", got.InvocationID)
	assert.Equal(t, "worker", got.Author)
	assert.Equal(t, "b1", got.Branch)

	// Pre-set fields are not overwritten.
	require.NoError(t, em.Emit(event.New("other", "someone")))
	got = <-ch
	assert.Equal(t, "other", got.InvocationID)
	assert.Equal(t, "someone", got.Author)
}

func TestEmitterCustomEvents(t *testing.T) {
	ch := make(chan *event.Event, 4)
	em := graph.NewEventEmitter(ch,
		graph.WithEmitterNodeID("worker"),
		graph.WithEmitterInvocationID("inv-1"),
	)

	require.NoError(t, em.EmitCustom("checkpointed", map[string]any{"step": 3}))
	got := <-ch
	assert.Equal(t, graph.ObjectTypeGraphNodeCustom, got.Object)
	md := customMetadata(t, got)
	assert.Equal(t, "checkpointed", md.EventType)
	assert.Equal(t, graph.NodeCustomEventCategoryCustom, md.Category)
	assert.Equal(t, "worker", md.NodeID)

	require.NoError(t, em.EmitProgress(150, "almost"))
	md = customMetadata(t, <-ch)
	assert.Equal(t, graph.NodeCustomEventCategoryProgress, md.Category)
	assert.Equal(t, float64(100), md.Progress)
	assert.Equal(t, "almost", md.Message)

	require.NoError(t, em.EmitText("partial output"))
	md = customMetadata(t, <-ch)
	assert.Equal(t, graph.NodeCustomEventCategoryText, md.Category)
	assert.Equal(t, "partial output", md.Message)
}

func TestEmitterNoopFallbacks(t *testing.T) {
	// A nil channel yields a no-op emitter.
	em := graph.NewEventEmitter(nil)
	assert.NoError(t, em.Emit(event.New("inv", "a")))
	assert.NoError(t, em.EmitCustom("x", nil))
	assert.NoError(t, em.EmitProgress(10, ""))
	assert.NoError(t, em.EmitText(""))
	assert.NotNil(t, em.Context())

	// States without an execution context get the same treatment.
	assert.NotNil(t, graph.GetEventEmitter(nil))
	assert.NoError(t, graph.GetEventEmitter(graph.State{}).EmitText("dropped"))
}
