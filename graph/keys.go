//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package graph

// Virtual node names. Start is the implicit entry trigger and End is the
// implicit sink; neither has an executable node behind it.
const (
	Start = "__start__"
	End   = "__end__"
)

// Well-known state keys. Keys with the double underscore prefix are
// runtime internals and never reach checkpoints or user-visible deltas.
const (
	// StateKeyUserInput is the raw user input for the current turn.
	StateKeyUserInput = "user_input"
	// StateKeyMessages is the conversation history, managed by MessageReducer.
	StateKeyMessages = "messages"
	// StateKeyOneShotMessages overrides the model request messages for a
	// single turn without touching the durable history.
	StateKeyOneShotMessages = "one_shot_messages"
	// StateKeyLastResponse is the text of the most recent assistant reply.
	StateKeyLastResponse = "last_response"
	// StateKeyNodeResponses maps node IDs to their final response text.
	StateKeyNodeResponses = "node_responses"
	// StateKeySysLanguage is the user's preferred language for localized
	// output.
	StateKeySysLanguage = "sys_language"
	// StateKeyMemories carries retrieved long-term memory strings.
	StateKeyMemories = "memories"

	// StateKeyExecContext carries the *ExecutionContext of the running
	// invocation. Never serialized.
	StateKeyExecContext = "__exec_context__"
	// StateKeyCurrentNodeID is the node currently executing in this task.
	StateKeyCurrentNodeID = "__current_node_id__"
	// StateKeyCurrentTaskID is the task currently executing.
	StateKeyCurrentTaskID = "__current_task_id__"
	// StateKeyCommand holds a *Command steering the next execution, e.g. a
	// resume command after an interrupt.
	StateKeyCommand = "__command__"
	// StateKeyResumeMap maps interrupt keys to resume values.
	StateKeyResumeMap = "__resume_map__"
	// StateKeyNextNodes forces the next planning step to the given nodes.
	StateKeyNextNodes = "__next_nodes__"
	// StateKeySendTasks carries Send packets produced by conditional edges.
	StateKeySendTasks = "__send_tasks__"
)

// Channel naming conventions. Node trigger channels are derived from these
// prefixes so checkpoints can reconstruct the frontier from channel names
// alone.
const (
	// ChannelInputPrefix prefixes the per-node trigger channel written by
	// plain edges.
	ChannelInputPrefix = "input:"
	// ChannelBranchPrefix prefixes trigger channels written by conditional
	// edges.
	ChannelBranchPrefix = "branch:to:"
	// ChannelJoinPrefix prefixes barrier channels created by join edges.
	ChannelJoinPrefix = "join:"
	// ChannelTasks accumulates Send packets for fan-out tasks. Each value
	// becomes its own task on the next step.
	ChannelTasks = "__pregel_tasks__"
	// ResumeChannel carries resume values delivered by a resume command.
	ResumeChannel = "__resume__"
)

// Config map keys, used under config[CfgKeyConfigurable].
const (
	CfgKeyConfigurable = "configurable"
	CfgKeyThreadID     = "thread_id"
	CfgKeyCheckpointID = "checkpoint_id"
	CfgKeyCheckpointNS = "checkpoint_ns"
	CfgKeyResumeMap    = "resume_map"
)

// Checkpoint metadata source values.
const (
	// CheckpointSourceInput marks the checkpoint written before step 0 from
	// the initial input.
	CheckpointSourceInput = "input"
	// CheckpointSourceLoop marks checkpoints written by the step loop.
	CheckpointSourceLoop = "loop"
	// CheckpointSourceInterrupt marks the checkpoint written when execution
	// pauses for human input.
	CheckpointSourceInterrupt = "interrupt"
	// CheckpointSourceUpdate marks checkpoints written by manual state
	// updates.
	CheckpointSourceUpdate = "update"
	// CheckpointSourceFork marks checkpoints created by forking history.
	CheckpointSourceFork = "fork"
)

// Keys used inside checkpoint event metadata payloads.
const (
	EventKeySource      = "source"
	EventKeyStep        = "step"
	EventKeyDuration    = "duration"
	EventKeyBytes       = "bytes"
	EventKeyWritesCount = "writes_count"
)

// Executor identity used on events it authors.
const (
	// AuthorGraphExecutor is the author name for executor-level events.
	AuthorGraphExecutor = "graph-executor"
	// ErrorTypeGraphExecution labels graph execution errors on events.
	ErrorTypeGraphExecution = "graph_execution_error"
	// ErrorTypeRecursionLimit labels runs aborted by the step budget, so
	// callers can replace the message with a localized one.
	ErrorTypeRecursionLimit = "recursion_limit_error"
	// MessageGraphCompleted is the completion message for graph execution.
	MessageGraphCompleted = "Graph execution completed successfully"
)
