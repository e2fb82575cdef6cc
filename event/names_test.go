//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-xpert-go/model"
)

func graphEvent(object string) *Event {
	return New("inv-1", "executor", WithObject(object))
}

func customEvent(t *testing.T, eventType string) *Event {
	t.Helper()
	e := graphEvent(objectGraphNodeCustom)
	raw, err := json.Marshal(map[string]any{"eventType": eventType})
	require.NoError(t, err)
	e.StateDelta = map[string][]byte{metadataKeyNodeCustom: raw}
	return e
}

func TestNameMapsGraphLifecycleObjects(t *testing.T) {
	assert.Equal(t, NameAgentStart, graphEvent(objectGraphNodeStart).Name())
	assert.Equal(t, NameAgentEnd, graphEvent(objectGraphNodeComplete).Name())
	assert.Equal(t, NameCheckpoint, graphEvent(objectGraphCheckpointCreated).Name())
	assert.Equal(t, NameCheckpoint, graphEvent(objectGraphCheckpointCommitted).Name())
	assert.Equal(t, NameInterrupt, graphEvent(objectGraphCheckpointInterrupt).Name())
}

func TestNameReadsCustomEventType(t *testing.T) {
	assert.Equal(t, NameToolStart, customEvent(t, NameToolStart).Name())
	assert.Equal(t, NameClientEffect, customEvent(t, NameClientEffect).Name())

	// Missing or malformed metadata falls back to the chunk name.
	assert.Equal(t, NameChatMessageChunk, graphEvent(objectGraphNodeCustom).Name())
	broken := graphEvent(objectGraphNodeCustom)
	broken.StateDelta = map[string][]byte{metadataKeyNodeCustom: []byte("{")}
	assert.Equal(t, NameChatMessageChunk, broken.Name())
}

func TestNameModelObjects(t *testing.T) {
	assert.Equal(t, NameChatMessage, graphEvent(model.ObjectTypeChatCompletion).Name())
	assert.Equal(t, NameChatMessageChunk, graphEvent(model.ObjectTypeChatCompletionChunk).Name())
	assert.Equal(t, NameToolEnd, graphEvent(model.ObjectTypeToolResponse).Name())
	assert.Equal(t, NameRunEnd, graphEvent(model.ObjectTypeRunnerCompletion).Name())

	failed := NewErrorEvent("inv-1", "executor", "flow_error", "boom")
	assert.Equal(t, NameRunError, failed.Name())

	var nilEvent *Event
	assert.Equal(t, NameChatMessageChunk, nilEvent.Name())
}
