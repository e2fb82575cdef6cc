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

	"trpc.group/trpc-go/trpc-xpert-go/model"
)

// Stream event names. Each event written to a run stream is labeled with
// one of these names so clients can dispatch without inspecting payloads.
const (
	// NameRunStart is emitted once when a run begins.
	NameRunStart = "on_run_start"
	// NameRunEnd is emitted once when a run finishes successfully.
	NameRunEnd = "on_run_end"
	// NameRunError is emitted when a run fails; it is the last event.
	NameRunError = "on_run_error"
	// NameAgentStart is emitted when an agent node starts executing.
	NameAgentStart = "on_agent_start"
	// NameAgentEnd is emitted when an agent node finishes executing.
	NameAgentEnd = "on_agent_end"
	// NameChatMessageChunk carries one streamed model delta.
	NameChatMessageChunk = "on_chat_message_chunk"
	// NameChatMessage carries a complete assistant message.
	NameChatMessage = "on_chat_message"
	// NameToolStart is emitted before a tool call executes.
	NameToolStart = "on_tool_start"
	// NameToolEnd is emitted after a tool call returns.
	NameToolEnd = "on_tool_end"
	// NameToolError is emitted when a tool call fails.
	NameToolError = "on_tool_error"
	// NameInterrupt is emitted when execution pauses for human input.
	NameInterrupt = "on_interrupt"
	// NameClientEffect asks the client to perform a side effect.
	NameClientEffect = "on_client_effect"
	// NameCheckpoint reports a committed checkpoint id.
	NameCheckpoint = "on_checkpoint"
	// NameKeepAlive is the comment frame sent to hold idle connections.
	NameKeepAlive = "on_keep_alive"
)

// Object values the graph runtime attaches to its lifecycle events,
// repeated here as wire literals: importing the graph package from here
// would be a cycle.
const (
	objectGraphNodeStart           = "graph.node.start"
	objectGraphNodeComplete        = "graph.node.complete"
	objectGraphNodeCustom          = "graph.node.custom"
	objectGraphCheckpointCreated   = "graph.checkpoint.created"
	objectGraphCheckpointCommitted = "graph.checkpoint.committed"
	objectGraphCheckpointInterrupt = "graph.checkpoint.interrupt"

	// metadataKeyNodeCustom is where the graph emitter stores custom
	// event metadata inside StateDelta.
	metadataKeyNodeCustom = "_node_custom_metadata"
)

// Name derives the stream event name for the event from its payload.
func (e *Event) Name() string {
	if e == nil || e.Response == nil {
		return NameChatMessageChunk
	}
	switch e.Object {
	case objectGraphNodeStart:
		return NameAgentStart
	case objectGraphNodeComplete:
		return NameAgentEnd
	case objectGraphCheckpointCreated, objectGraphCheckpointCommitted:
		return NameCheckpoint
	case objectGraphCheckpointInterrupt:
		return NameInterrupt
	case objectGraphNodeCustom:
		// Custom node events carry their name in the emitter metadata:
		// EmitCustom("on_tool_start", ...) labels the frame on_tool_start.
		if name := e.customEventType(); name != "" {
			return name
		}
		return NameChatMessageChunk
	}
	if e.Error != nil {
		return NameRunError
	}
	switch e.Object {
	case model.ObjectTypeToolResponse:
		return NameToolEnd
	case model.ObjectTypeRunnerCompletion:
		return NameRunEnd
	case model.ObjectTypeChatCompletion:
		return NameChatMessage
	default:
		return NameChatMessageChunk
	}
}

// customEventType reads the emitter-declared event type of a custom node
// event. Empty when the metadata is missing or malformed.
func (e *Event) customEventType() string {
	raw, ok := e.StateDelta[metadataKeyNodeCustom]
	if !ok {
		return ""
	}
	var md struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return ""
	}
	return md.EventType
}
