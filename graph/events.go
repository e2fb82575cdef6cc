//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"encoding/json"
	"time"

	"trpc.group/trpc-go/trpc-xpert-go/event"
	"trpc.group/trpc-go/trpc-xpert-go/graph/internal/channel"
	"trpc.group/trpc-go/trpc-xpert-go/model"
)

// Authors stamped on events the runtime emits on its own behalf. Node
// events carry the node id as author when one is known.
const (
	AuthorGraphNode   = "graph-node"
	AuthorGraphPregel = "graph-pregel"
)

// Object types of the events the executor streams. Consumers switch on
// these to pick the matching metadata key out of StateDelta.
const (
	ObjectTypeGraphExecution           = "graph.execution"
	ObjectTypeGraphNodeExecution       = "graph.node.execution"
	ObjectTypeGraphNodeStart           = "graph.node.start"
	ObjectTypeGraphNodeComplete        = "graph.node.complete"
	ObjectTypeGraphNodeError           = "graph.node.error"
	ObjectTypeGraphNodeCustom          = "graph.node.custom"
	ObjectTypeGraphPregelStep          = "graph.pregel.step"
	ObjectTypeGraphChannelUpdate       = "graph.channel.update"
	ObjectTypeGraphStateUpdate         = "graph.state.update"
	ObjectTypeGraphCheckpointCreated   = "graph.checkpoint.created"
	ObjectTypeGraphCheckpointCommitted = "graph.checkpoint.committed"
	ObjectTypeGraphCheckpointInterrupt = "graph.checkpoint.interrupt"
)

// StateDelta keys the event metadata is marshalled under. The underscore
// prefix keeps them clear of user state keys.
const (
	MetadataKeyNode       = "_node_metadata"
	MetadataKeyPregel     = "_pregel_metadata"
	MetadataKeyChannel    = "_channel_metadata"
	MetadataKeyState      = "_state_metadata"
	MetadataKeyCompletion = "_completion_metadata"
	MetadataKeyTool       = "_tool_metadata"
	MetadataKeyCheckpoint = "_checkpoint_metadata"
	MetadataKeyNodeCustom = "_node_custom_metadata"
)

// NodeType classifies a node in execution events.
type NodeType string

// Node types.
const (
	NodeTypeFunction NodeType = "function"
	NodeTypeLLM      NodeType = "llm"
	NodeTypeTool     NodeType = "tool"
	NodeTypeAgent    NodeType = "agent"
	NodeTypeJoin     NodeType = "join"
	NodeTypeRouter   NodeType = "router"
)

// String returns the node type as a string.
func (nt NodeType) String() string {
	return string(nt)
}

// ExecutionPhase is the lifecycle phase a node event reports.
type ExecutionPhase string

// Node execution phases.
const (
	ExecutionPhaseStart    ExecutionPhase = "start"
	ExecutionPhaseComplete ExecutionPhase = "complete"
	ExecutionPhaseError    ExecutionPhase = "error"
)

// ToolExecutionPhase is the lifecycle phase a tool event reports.
type ToolExecutionPhase string

// Tool execution phases.
const (
	ToolExecutionPhaseStart    ToolExecutionPhase = "start"
	ToolExecutionPhaseComplete ToolExecutionPhase = "complete"
	ToolExecutionPhaseError    ToolExecutionPhase = "error"
)

// PregelPhase is the superstep phase a Pregel event reports.
type PregelPhase string

// Pregel phases.
const (
	PregelPhasePlanning PregelPhase = "planning"
	PregelPhaseComplete PregelPhase = "complete"
	PregelPhaseError    PregelPhase = "error"
)

// NodeExecutionMetadata describes one node execution attempt.
type NodeExecutionMetadata struct {
	NodeID     string         `json:"nodeId"`
	NodeType   NodeType       `json:"nodeType"`
	Phase      ExecutionPhase `json:"phase"`
	StartTime  time.Time      `json:"startTime,omitempty"`
	EndTime    time.Time      `json:"endTime,omitempty"`
	Duration   time.Duration  `json:"duration,omitempty"`
	OutputKeys []string       `json:"outputKeys,omitempty"`
	Error      string         `json:"error,omitempty"`
	StepNumber int            `json:"stepNumber,omitempty"`
	// Retry bookkeeping, populated when the node has a retry policy.
	Attempt     int           `json:"attempt,omitempty"`
	MaxAttempts int           `json:"maxAttempts,omitempty"`
	NextDelay   time.Duration `json:"nextDelay,omitempty"`
	Retrying    bool          `json:"retrying,omitempty"`
}

// ToolExecutionMetadata describes one tool call executed by a tools node.
type ToolExecutionMetadata struct {
	ToolName     string             `json:"toolName"`
	ToolID       string             `json:"toolId"`
	Phase        ToolExecutionPhase `json:"phase"`
	StartTime    time.Time          `json:"startTime,omitempty"`
	EndTime      time.Time          `json:"endTime,omitempty"`
	Duration     time.Duration      `json:"duration,omitempty"`
	Input        string             `json:"input,omitempty"`
	Output       string             `json:"output,omitempty"`
	Error        string             `json:"error,omitempty"`
	InvocationID string             `json:"invocationId,omitempty"`
}

// PregelStepMetadata describes one superstep of the Pregel loop.
type PregelStepMetadata struct {
	StepNumber  int           `json:"stepNumber"`
	Phase       PregelPhase   `json:"phase"`
	TaskCount   int           `json:"taskCount"`
	ActiveNodes []string      `json:"activeNodes,omitempty"`
	StartTime   time.Time     `json:"startTime,omitempty"`
	EndTime     time.Time     `json:"endTime,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Error       string        `json:"error,omitempty"`
	// Interrupt fields, set when the step paused for human input.
	NodeID         string `json:"nodeID,omitempty"`
	InterruptValue any    `json:"interruptValue,omitempty"`
}

// ChannelUpdateMetadata describes a channel write during the update phase.
type ChannelUpdateMetadata struct {
	ChannelName    string           `json:"channelName"`
	ChannelType    channel.Behavior `json:"channelType"`
	ValueCount     int              `json:"valueCount"`
	Available      bool             `json:"available"`
	TriggeredNodes []string         `json:"triggeredNodes,omitempty"`
}

// StateUpdateMetadata describes a merge into the global state.
type StateUpdateMetadata struct {
	UpdatedKeys []string `json:"updatedKeys"`
	StateSize   int      `json:"stateSize"`
}

// CompletionMetadata summarizes a finished run.
type CompletionMetadata struct {
	TotalSteps     int           `json:"totalSteps"`
	TotalDuration  time.Duration `json:"totalDuration"`
	FinalStateKeys int           `json:"finalStateKeys"`
}

// NodeCustomEventCategory distinguishes the emitter entry point a custom
// event came through.
type NodeCustomEventCategory string

// Custom event categories.
const (
	NodeCustomEventCategoryCustom   NodeCustomEventCategory = "custom"
	NodeCustomEventCategoryProgress NodeCustomEventCategory = "progress"
	NodeCustomEventCategoryText     NodeCustomEventCategory = "text"
)

// NodeCustomEventMetadata carries a custom event emitted from inside a
// NodeFunc via the EventEmitter.
type NodeCustomEventMetadata struct {
	EventType    string                  `json:"eventType"`
	Category     NodeCustomEventCategory `json:"category"`
	NodeID       string                  `json:"nodeId"`
	InvocationID string                  `json:"invocationId"`
	StepNumber   int                     `json:"stepNumber,omitempty"`
	Timestamp    time.Time               `json:"timestamp"`
	Payload      any                     `json:"payload,omitempty"`
	Progress     float64                 `json:"progress,omitempty"`
	Message      string                  `json:"message,omitempty"`
}

// EventOption mutates an event under construction.
type EventOption func(*event.Event)

// putMetadata marshals v into the event's StateDelta under key. A value
// that fails to marshal is dropped rather than failing the event.
func putMetadata(e *event.Event, key string, v any) {
	if e.StateDelta == nil {
		e.StateDelta = make(map[string][]byte)
	}
	if data, err := json.Marshal(v); err == nil {
		e.StateDelta[key] = data
	}
}

// WithNodeCustomMetadata attaches custom event metadata. The emitter uses
// it for EmitCustom, EmitProgress and EmitText events.
func WithNodeCustomMetadata(md NodeCustomEventMetadata) EventOption {
	return func(e *event.Event) {
		putMetadata(e, MetadataKeyNodeCustom, md)
	}
}

// NewGraphEvent creates an event authored by the graph runtime.
func NewGraphEvent(invocationID, author, objectType string, opts ...EventOption) *event.Event {
	e := event.New(invocationID, author, event.WithObject(objectType))
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// nodeAuthor attributes a node event to the node when its id is known.
func nodeAuthor(nodeID string) string {
	if nodeID != "" {
		return nodeID
	}
	return AuthorGraphNode
}

// NodeEventOptions collects the fields of a node lifecycle event.
type NodeEventOptions struct {
	InvocationID string
	NodeID       string
	NodeType     NodeType
	StepNumber   int
	StartTime    time.Time
	EndTime      time.Time
	OutputKeys   []string
	Error        string
	Attempt      int
	MaxAttempts  int
	NextDelay    time.Duration
	Retrying     bool
}

// NodeEventOption configures a node lifecycle event.
type NodeEventOption func(*NodeEventOptions)

// WithNodeEventInvocationID sets the invocation id.
func WithNodeEventInvocationID(id string) NodeEventOption {
	return func(o *NodeEventOptions) { o.InvocationID = id }
}

// WithNodeEventNodeID sets the node id.
func WithNodeEventNodeID(id string) NodeEventOption {
	return func(o *NodeEventOptions) { o.NodeID = id }
}

// WithNodeEventNodeType sets the node type.
func WithNodeEventNodeType(nt NodeType) NodeEventOption {
	return func(o *NodeEventOptions) { o.NodeType = nt }
}

// WithNodeEventStepNumber sets the superstep the node ran in.
func WithNodeEventStepNumber(step int) NodeEventOption {
	return func(o *NodeEventOptions) { o.StepNumber = step }
}

// WithNodeEventStartTime sets when execution started.
func WithNodeEventStartTime(t time.Time) NodeEventOption {
	return func(o *NodeEventOptions) { o.StartTime = t }
}

// WithNodeEventEndTime sets when execution finished.
func WithNodeEventEndTime(t time.Time) NodeEventOption {
	return func(o *NodeEventOptions) { o.EndTime = t }
}

// WithNodeEventOutputKeys records the state keys the node wrote.
func WithNodeEventOutputKeys(keys []string) NodeEventOption {
	return func(o *NodeEventOptions) { o.OutputKeys = keys }
}

// WithNodeEventError records the failure message.
func WithNodeEventError(msg string) NodeEventOption {
	return func(o *NodeEventOptions) { o.Error = msg }
}

// WithNodeEventAttempt sets the 1-based attempt number.
func WithNodeEventAttempt(attempt int) NodeEventOption {
	return func(o *NodeEventOptions) { o.Attempt = attempt }
}

// WithNodeEventMaxAttempts sets the retry budget.
func WithNodeEventMaxAttempts(max int) NodeEventOption {
	return func(o *NodeEventOptions) { o.MaxAttempts = max }
}

// WithNodeEventNextDelay sets the backoff before the next attempt.
func WithNodeEventNextDelay(d time.Duration) NodeEventOption {
	return func(o *NodeEventOptions) { o.NextDelay = d }
}

// WithNodeEventRetrying marks that another attempt follows this error.
func WithNodeEventRetrying(retrying bool) NodeEventOption {
	return func(o *NodeEventOptions) { o.Retrying = retrying }
}

func applyNodeEventOptions(opts []NodeEventOption) *NodeEventOptions {
	o := &NodeEventOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// metadata builds the common metadata shared by the node constructors.
func (o *NodeEventOptions) metadata(phase ExecutionPhase) NodeExecutionMetadata {
	md := NodeExecutionMetadata{
		NodeID:      o.NodeID,
		NodeType:    o.NodeType,
		Phase:       phase,
		StartTime:   o.StartTime,
		StepNumber:  o.StepNumber,
		Attempt:     o.Attempt,
		MaxAttempts: o.MaxAttempts,
	}
	if !o.EndTime.IsZero() {
		md.EndTime = o.EndTime
		md.Duration = o.EndTime.Sub(o.StartTime)
	}
	return md
}

// NewNodeStartEvent reports a node beginning execution.
func NewNodeStartEvent(opts ...NodeEventOption) *event.Event {
	o := applyNodeEventOptions(opts)
	e := NewGraphEvent(o.InvocationID, nodeAuthor(o.NodeID), ObjectTypeGraphNodeStart)
	putMetadata(e, MetadataKeyNode, o.metadata(ExecutionPhaseStart))
	return e
}

// NewNodeCompleteEvent reports a node finishing successfully.
func NewNodeCompleteEvent(opts ...NodeEventOption) *event.Event {
	o := applyNodeEventOptions(opts)
	md := o.metadata(ExecutionPhaseComplete)
	md.OutputKeys = o.OutputKeys
	e := NewGraphEvent(o.InvocationID, nodeAuthor(o.NodeID), ObjectTypeGraphNodeComplete)
	putMetadata(e, MetadataKeyNode, md)
	return e
}

// NewNodeErrorEvent reports a node failure. The error is mirrored into
// the response so stream consumers that only inspect errors see it.
func NewNodeErrorEvent(opts ...NodeEventOption) *event.Event {
	o := applyNodeEventOptions(opts)
	md := o.metadata(ExecutionPhaseError)
	md.Error = o.Error
	md.NextDelay = o.NextDelay
	md.Retrying = o.Retrying
	e := NewGraphEvent(o.InvocationID, nodeAuthor(o.NodeID), ObjectTypeGraphNodeError)
	putMetadata(e, MetadataKeyNode, md)
	if o.Error != "" {
		e.Response.Object = model.ObjectTypeError
		e.Response.Error = &model.ResponseError{
			Type:    model.ErrorTypeFlowError,
			Message: o.Error,
		}
		e.Object = e.Response.Object
	}
	return e
}

// ToolEventOptions collects the fields of a tool execution event.
type ToolEventOptions struct {
	InvocationID string
	NodeID       string
	ToolName     string
	ToolID       string
	Phase        ToolExecutionPhase
	StartTime    time.Time
	EndTime      time.Time
	Input        string
	Output       string
	Error        error
}

// ToolEventOption configures a tool execution event.
type ToolEventOption func(*ToolEventOptions)

// WithToolEventInvocationID sets the invocation id.
func WithToolEventInvocationID(id string) ToolEventOption {
	return func(o *ToolEventOptions) { o.InvocationID = id }
}

// WithToolEventNodeID attributes the event to the executing node.
func WithToolEventNodeID(id string) ToolEventOption {
	return func(o *ToolEventOptions) { o.NodeID = id }
}

// WithToolEventToolName sets the tool name.
func WithToolEventToolName(name string) ToolEventOption {
	return func(o *ToolEventOptions) { o.ToolName = name }
}

// WithToolEventToolID sets the tool call id.
func WithToolEventToolID(id string) ToolEventOption {
	return func(o *ToolEventOptions) { o.ToolID = id }
}

// WithToolEventPhase sets the execution phase.
func WithToolEventPhase(phase ToolExecutionPhase) ToolEventOption {
	return func(o *ToolEventOptions) { o.Phase = phase }
}

// WithToolEventStartTime sets when the call started.
func WithToolEventStartTime(t time.Time) ToolEventOption {
	return func(o *ToolEventOptions) { o.StartTime = t }
}

// WithToolEventEndTime sets when the call finished.
func WithToolEventEndTime(t time.Time) ToolEventOption {
	return func(o *ToolEventOptions) { o.EndTime = t }
}

// WithToolEventInput records the call arguments.
func WithToolEventInput(input string) ToolEventOption {
	return func(o *ToolEventOptions) { o.Input = input }
}

// WithToolEventOutput records the call result.
func WithToolEventOutput(output string) ToolEventOption {
	return func(o *ToolEventOptions) { o.Output = output }
}

// WithToolEventError records the call failure.
func WithToolEventError(err error) ToolEventOption {
	return func(o *ToolEventOptions) {
		if err != nil {
			o.Error = err
		}
	}
}

// NewToolExecutionEvent reports one phase of a tool call.
func NewToolExecutionEvent(opts ...ToolEventOption) *event.Event {
	o := &ToolEventOptions{}
	for _, opt := range opts {
		opt(o)
	}
	md := ToolExecutionMetadata{
		ToolName:     o.ToolName,
		ToolID:       o.ToolID,
		Phase:        o.Phase,
		StartTime:    o.StartTime,
		Input:        o.Input,
		Output:       o.Output,
		InvocationID: o.InvocationID,
	}
	if !o.EndTime.IsZero() {
		md.EndTime = o.EndTime
		md.Duration = o.EndTime.Sub(o.StartTime)
	}
	if o.Error != nil {
		md.Error = o.Error.Error()
	}
	e := NewGraphEvent(o.InvocationID, nodeAuthor(o.NodeID), ObjectTypeGraphNodeExecution)
	putMetadata(e, MetadataKeyTool, md)
	return e
}

// PregelEventOptions collects the fields of a superstep event.
type PregelEventOptions struct {
	InvocationID   string
	StepNumber     int
	Phase          PregelPhase
	TaskCount      int
	ActiveNodes    []string
	StartTime      time.Time
	EndTime        time.Time
	Error          string
	NodeID         string
	InterruptValue any
}

// PregelEventOption configures a superstep event.
type PregelEventOption func(*PregelEventOptions)

// WithPregelEventInvocationID sets the invocation id.
func WithPregelEventInvocationID(id string) PregelEventOption {
	return func(o *PregelEventOptions) { o.InvocationID = id }
}

// WithPregelEventStepNumber sets the superstep number.
func WithPregelEventStepNumber(step int) PregelEventOption {
	return func(o *PregelEventOptions) { o.StepNumber = step }
}

// WithPregelEventPhase sets the superstep phase.
func WithPregelEventPhase(phase PregelPhase) PregelEventOption {
	return func(o *PregelEventOptions) { o.Phase = phase }
}

// WithPregelEventTaskCount sets how many tasks the step planned.
func WithPregelEventTaskCount(n int) PregelEventOption {
	return func(o *PregelEventOptions) { o.TaskCount = n }
}

// WithPregelEventActiveNodes records the nodes running in the step.
func WithPregelEventActiveNodes(nodes []string) PregelEventOption {
	return func(o *PregelEventOptions) { o.ActiveNodes = nodes }
}

// WithPregelEventStartTime sets when the step started.
func WithPregelEventStartTime(t time.Time) PregelEventOption {
	return func(o *PregelEventOptions) { o.StartTime = t }
}

// WithPregelEventEndTime sets when the step finished.
func WithPregelEventEndTime(t time.Time) PregelEventOption {
	return func(o *PregelEventOptions) { o.EndTime = t }
}

// WithPregelEventError records the step failure.
func WithPregelEventError(msg string) PregelEventOption {
	return func(o *PregelEventOptions) { o.Error = msg }
}

// WithPregelEventNodeID records the node an interrupt was raised in.
func WithPregelEventNodeID(id string) PregelEventOption {
	return func(o *PregelEventOptions) { o.NodeID = id }
}

// WithPregelEventInterruptValue records the interrupt payload.
func WithPregelEventInterruptValue(value any) PregelEventOption {
	return func(o *PregelEventOptions) { o.InterruptValue = value }
}

func applyPregelEventOptions(opts []PregelEventOption) *PregelEventOptions {
	o := &PregelEventOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *PregelEventOptions) metadata() PregelStepMetadata {
	md := PregelStepMetadata{
		StepNumber: o.StepNumber,
		Phase:      o.Phase,
		StartTime:  o.StartTime,
	}
	if !o.EndTime.IsZero() {
		md.EndTime = o.EndTime
		md.Duration = o.EndTime.Sub(o.StartTime)
	}
	return md
}

// NewPregelStepEvent reports progress of the superstep loop.
func NewPregelStepEvent(opts ...PregelEventOption) *event.Event {
	o := applyPregelEventOptions(opts)
	md := o.metadata()
	md.TaskCount = o.TaskCount
	md.ActiveNodes = o.ActiveNodes
	e := NewGraphEvent(o.InvocationID, AuthorGraphPregel, ObjectTypeGraphPregelStep)
	putMetadata(e, MetadataKeyPregel, md)
	return e
}

// NewPregelErrorEvent reports a superstep failure. The error is mirrored
// into the response while the object stays graph.pregel.step, so phase
// filters and error checks both catch it.
func NewPregelErrorEvent(opts ...PregelEventOption) *event.Event {
	o := applyPregelEventOptions(opts)
	md := o.metadata()
	md.Error = o.Error
	e := NewGraphEvent(o.InvocationID, AuthorGraphPregel, ObjectTypeGraphPregelStep)
	putMetadata(e, MetadataKeyPregel, md)
	if o.Error != "" {
		e.Response.Error = &model.ResponseError{
			Type:    model.ErrorTypeFlowError,
			Message: o.Error,
		}
	}
	return e
}

// NewPregelInterruptEvent reports the loop pausing for human input.
func NewPregelInterruptEvent(opts ...PregelEventOption) *event.Event {
	o := applyPregelEventOptions(opts)
	md := o.metadata()
	md.NodeID = o.NodeID
	md.InterruptValue = o.InterruptValue
	e := NewGraphEvent(o.InvocationID, AuthorGraphPregel, ObjectTypeGraphPregelStep)
	putMetadata(e, MetadataKeyPregel, md)
	return e
}

// ChannelEventOptions collects the fields of a channel update event.
type ChannelEventOptions struct {
	InvocationID   string
	ChannelName    string
	ChannelType    channel.Behavior
	ValueCount     int
	Available      bool
	TriggeredNodes []string
}

// ChannelEventOption configures a channel update event.
type ChannelEventOption func(*ChannelEventOptions)

// WithChannelEventInvocationID sets the invocation id.
func WithChannelEventInvocationID(id string) ChannelEventOption {
	return func(o *ChannelEventOptions) { o.InvocationID = id }
}

// WithChannelEventChannelName sets the channel name.
func WithChannelEventChannelName(name string) ChannelEventOption {
	return func(o *ChannelEventOptions) { o.ChannelName = name }
}

// WithChannelEventChannelType sets the channel behavior.
func WithChannelEventChannelType(behavior channel.Behavior) ChannelEventOption {
	return func(o *ChannelEventOptions) { o.ChannelType = behavior }
}

// WithChannelEventValueCount sets how many values the channel holds.
func WithChannelEventValueCount(n int) ChannelEventOption {
	return func(o *ChannelEventOptions) { o.ValueCount = n }
}

// WithChannelEventAvailable marks whether the channel can trigger.
func WithChannelEventAvailable(available bool) ChannelEventOption {
	return func(o *ChannelEventOptions) { o.Available = available }
}

// WithChannelEventTriggeredNodes records the nodes the write wakes up.
func WithChannelEventTriggeredNodes(nodes []string) ChannelEventOption {
	return func(o *ChannelEventOptions) { o.TriggeredNodes = nodes }
}

// NewChannelUpdateEvent reports a channel write during the update phase.
func NewChannelUpdateEvent(opts ...ChannelEventOption) *event.Event {
	o := &ChannelEventOptions{}
	for _, opt := range opts {
		opt(o)
	}
	e := NewGraphEvent(o.InvocationID, AuthorGraphPregel, ObjectTypeGraphChannelUpdate)
	putMetadata(e, MetadataKeyChannel, ChannelUpdateMetadata{
		ChannelName:    o.ChannelName,
		ChannelType:    o.ChannelType,
		ValueCount:     o.ValueCount,
		Available:      o.Available,
		TriggeredNodes: o.TriggeredNodes,
	})
	return e
}

// StateEventOptions collects the fields of a state update event.
type StateEventOptions struct {
	InvocationID string
	UpdatedKeys  []string
	StateSize    int
}

// StateEventOption configures a state update event.
type StateEventOption func(*StateEventOptions)

// WithStateEventInvocationID sets the invocation id.
func WithStateEventInvocationID(id string) StateEventOption {
	return func(o *StateEventOptions) { o.InvocationID = id }
}

// WithStateEventUpdatedKeys records the keys the merge touched.
func WithStateEventUpdatedKeys(keys []string) StateEventOption {
	return func(o *StateEventOptions) { o.UpdatedKeys = keys }
}

// WithStateEventStateSize records the key count after the merge.
func WithStateEventStateSize(size int) StateEventOption {
	return func(o *StateEventOptions) { o.StateSize = size }
}

// NewStateUpdateEvent reports a merge into the global state.
func NewStateUpdateEvent(opts ...StateEventOption) *event.Event {
	o := &StateEventOptions{}
	for _, opt := range opts {
		opt(o)
	}
	e := NewGraphEvent(o.InvocationID, AuthorGraphExecutor, ObjectTypeGraphStateUpdate)
	putMetadata(e, MetadataKeyState, StateUpdateMetadata{
		UpdatedKeys: o.UpdatedKeys,
		StateSize:   o.StateSize,
	})
	return e
}

// CompletionEventOptions collects the fields of the terminal event.
type CompletionEventOptions struct {
	InvocationID  string
	FinalState    State
	TotalSteps    int
	TotalDuration time.Duration
}

// CompletionEventOption configures the terminal event.
type CompletionEventOption func(*CompletionEventOptions)

// WithCompletionEventInvocationID sets the invocation id.
func WithCompletionEventInvocationID(id string) CompletionEventOption {
	return func(o *CompletionEventOptions) { o.InvocationID = id }
}

// WithCompletionEventFinalState attaches the final state snapshot.
func WithCompletionEventFinalState(state State) CompletionEventOption {
	return func(o *CompletionEventOptions) { o.FinalState = state }
}

// WithCompletionEventTotalSteps sets how many supersteps ran.
func WithCompletionEventTotalSteps(steps int) CompletionEventOption {
	return func(o *CompletionEventOptions) { o.TotalSteps = steps }
}

// WithCompletionEventTotalDuration sets the wall time of the run.
func WithCompletionEventTotalDuration(d time.Duration) CompletionEventOption {
	return func(o *CompletionEventOptions) { o.TotalDuration = d }
}

// NewGraphCompletionEvent is the terminal event of a run. It carries the
// last response as its choice and a serialized snapshot of the final
// state so consumers need no further calls to read the outcome.
func NewGraphCompletionEvent(opts ...CompletionEventOption) *event.Event {
	o := &CompletionEventOptions{}
	for _, opt := range opts {
		opt(o)
	}
	e := NewGraphEvent(o.InvocationID, AuthorGraphExecutor, ObjectTypeGraphExecution)
	e.Response.Done = true
	ensureStateDelta(e)
	if final := extractFinalResponse(o.FinalState); final != "" {
		e.Response.Choices = buildFinalChoices(final)
	}
	putMetadata(e, MetadataKeyCompletion, CompletionMetadata{
		TotalSteps:     o.TotalSteps,
		TotalDuration:  o.TotalDuration,
		FinalStateKeys: len(o.FinalState),
	})
	serializeFinalState(e, o.FinalState)
	return e
}

// ensureStateDelta makes StateDelta safe to index.
func ensureStateDelta(e *event.Event) {
	if e.StateDelta == nil {
		e.StateDelta = make(map[string][]byte)
	}
}

// extractFinalResponse fetches the last response text from state.
func extractFinalResponse(state State) string {
	if v, ok := state[StateKeyLastResponse].(string); ok {
		return v
	}
	return ""
}

// buildFinalChoices wraps the final text in an assistant choice.
func buildFinalChoices(text string) []model.Choice {
	return []model.Choice{{
		Index: 0,
		Message: model.Message{
			Role:    model.RoleAssistant,
			Content: text,
		},
	}}
}

// serializeFinalState writes the serializable final state keys into
// StateDelta. Values are deep-copied first so marshalling does not race
// with late channel writes holding the same references.
func serializeFinalState(e *event.Event, state State) {
	for key, value := range state {
		if isInternalStateKey(key) {
			continue
		}
		snapshot := deepCopyAny(value)
		// State values that are already JSON pass through untouched;
		// re-marshalling a []byte would base64 it.
		if raw, ok := snapshot.([]byte); ok && json.Valid(raw) {
			e.StateDelta[key] = raw
			continue
		}
		if data, err := json.Marshal(snapshot); err == nil {
			e.StateDelta[key] = data
		}
	}
}

// CheckpointEventOptions collects the fields of a checkpoint event.
type CheckpointEventOptions struct {
	InvocationID string
	CheckpointID string
	Source       string
	Step         int
	Duration     time.Duration
	Bytes        int64
	WritesCount  int
}

// CheckpointEventOption configures a checkpoint event.
type CheckpointEventOption func(*CheckpointEventOptions)

// WithCheckpointEventInvocationID sets the invocation id.
func WithCheckpointEventInvocationID(id string) CheckpointEventOption {
	return func(o *CheckpointEventOptions) { o.InvocationID = id }
}

// WithCheckpointEventCheckpointID sets the checkpoint id.
func WithCheckpointEventCheckpointID(id string) CheckpointEventOption {
	return func(o *CheckpointEventOptions) { o.CheckpointID = id }
}

// WithCheckpointEventSource sets the checkpoint source.
func WithCheckpointEventSource(source string) CheckpointEventOption {
	return func(o *CheckpointEventOptions) { o.Source = source }
}

// WithCheckpointEventStep sets the superstep the checkpoint captured.
func WithCheckpointEventStep(step int) CheckpointEventOption {
	return func(o *CheckpointEventOptions) { o.Step = step }
}

// WithCheckpointEventDuration sets how long the save took.
func WithCheckpointEventDuration(d time.Duration) CheckpointEventOption {
	return func(o *CheckpointEventOptions) { o.Duration = d }
}

// WithCheckpointEventBytes sets the serialized checkpoint size.
func WithCheckpointEventBytes(n int64) CheckpointEventOption {
	return func(o *CheckpointEventOptions) { o.Bytes = n }
}

// WithCheckpointEventWritesCount sets how many pending writes were saved.
func WithCheckpointEventWritesCount(n int) CheckpointEventOption {
	return func(o *CheckpointEventOptions) { o.WritesCount = n }
}

func newCheckpointEvent(objectType string, opts []CheckpointEventOption) *event.Event {
	o := &CheckpointEventOptions{}
	for _, opt := range opts {
		opt(o)
	}
	e := NewGraphEvent(o.InvocationID, AuthorGraphExecutor, objectType)
	putMetadata(e, MetadataKeyCheckpoint, map[string]any{
		CfgKeyCheckpointID:  o.CheckpointID,
		EventKeySource:      o.Source,
		EventKeyStep:        o.Step,
		EventKeyDuration:    o.Duration,
		EventKeyBytes:       o.Bytes,
		EventKeyWritesCount: o.WritesCount,
	})
	return e
}

// NewCheckpointCreatedEvent reports a checkpoint written to the saver.
func NewCheckpointCreatedEvent(opts ...CheckpointEventOption) *event.Event {
	return newCheckpointEvent(ObjectTypeGraphCheckpointCreated, opts)
}

// NewCheckpointCommittedEvent reports pending writes flushed into a
// checkpoint.
func NewCheckpointCommittedEvent(opts ...CheckpointEventOption) *event.Event {
	return newCheckpointEvent(ObjectTypeGraphCheckpointCommitted, opts)
}
