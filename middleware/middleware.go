//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package middleware defines the pluggable hooks wrapping the agent
// lifecycle. A middleware implements Middleware plus any subset of the
// capability interfaces below; the compiler discovers capabilities by
// type assertion and weaves them into the agent's graph.
package middleware

import (
	"context"

	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/store"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// Middleware is the base contract. Capabilities are optional interfaces.
type Middleware interface {
	// Name uniquely identifies the middleware within one agent.
	Name() string
}

// JumpTo targets of hook results. A non-empty JumpTo on a hook result
// overrides the conditional router on the very next transition.
const (
	// JumpModel re-enters the model call.
	JumpModel = "model"
	// JumpTools routes to tool execution.
	JumpTools = "tools"
	// JumpEnd ends the agent turn.
	JumpEnd = "end"
)

// Runtime carries the per-run context handed to hooks and wrappers. All
// durable state lives in graph channels; the runtime only holds identity
// and collaborators, so resuming a run rebuilds an equivalent runtime.
type Runtime struct {
	// ThreadID is the conversation the run belongs to.
	ThreadID string
	// RunID is the durable run row id.
	RunID string
	// InvocationID identifies this execution.
	InvocationID string
	// XpertID identifies the assistant definition.
	XpertID string
	// AgentKey is the agent whose graph is executing.
	AgentKey string
	// Language is the user's preferred language tag.
	Language string
	// Store is the long-term memory store, may be nil.
	Store store.Store
	// Emitter emits streaming events from inside hooks.
	Emitter graph.EventEmitter
}

// AgentState is the view of state a hook transforms.
type AgentState struct {
	// AgentKey is the agent whose channel the hook operates on.
	AgentKey string
	// State is the full graph state at hook time. Hooks must treat it as
	// read-only and express changes through HookResult.Update.
	State graph.State
	// Runtime is the per-run context.
	Runtime *Runtime
}

// HookResult is what a lifecycle hook returns.
type HookResult struct {
	// Update is merged into the state through the schema reducers.
	Update graph.State
	// JumpTo overrides the router on the next transition when non-empty.
	JumpTo string
}

// HookFunc is one lifecycle hook.
type HookFunc func(ctx context.Context, s *AgentState) (*HookResult, error)

// StateSchemaProvider contributes channels to the agent's state schema.
// Conflicting contributions of the same channel name fail compilation.
type StateSchemaProvider interface {
	StateSchema() map[string]graph.StateField
}

// ToolProvider contributes tools merged into the agent's tool set at
// compile time.
type ToolProvider interface {
	Tools() []tool.CallableTool
}

// BeforeAgentHook runs once when the agent starts, before the first model
// call.
type BeforeAgentHook interface {
	BeforeAgent(ctx context.Context, s *AgentState) (*HookResult, error)
}

// BeforeModelHook runs before every model call.
type BeforeModelHook interface {
	BeforeModel(ctx context.Context, s *AgentState) (*HookResult, error)
}

// AfterModelHook runs after every model call. Hooks run in reverse of
// declaration order; the last one to run feeds the router.
type AfterModelHook interface {
	AfterModel(ctx context.Context, s *AgentState) (*HookResult, error)
}

// AfterAgentHook runs once when the agent finishes, in reverse of
// declaration order.
type AfterAgentHook interface {
	AfterAgent(ctx context.Context, s *AgentState) (*HookResult, error)
}

// ModelRequest is the request seen by the wrap-model-call chain.
type ModelRequest struct {
	// Model executes the call.
	Model model.Model
	// Messages is the conversation sent to the model.
	Messages []model.Message
	// SystemMessage is the system prompt, kept separate so wrappers can
	// rewrite it without scanning Messages.
	SystemMessage string
	// Tools are the tools offered to the model, keyed by name.
	Tools map[string]tool.Tool
	// ToolChoice constrains tool usage when non-empty.
	ToolChoice string
	// State is the graph state at call time.
	State graph.State
	// Runtime is the per-run context.
	Runtime *Runtime
}

// Clone returns a copy of the request with its own message and tool
// collections, so a wrapper can alter them without affecting retries.
func (r *ModelRequest) Clone() *ModelRequest {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Messages = append([]model.Message(nil), r.Messages...)
	if r.Tools != nil {
		cp.Tools = make(map[string]tool.Tool, len(r.Tools))
		for k, v := range r.Tools {
			cp.Tools[k] = v
		}
	}
	return &cp
}

// ModelCallHandler executes a model request and returns the assistant
// message.
type ModelCallHandler func(ctx context.Context, req *ModelRequest) (model.Message, error)

// ModelCallWrapper intercepts model calls. Wrappers compose right to
// left: the last registered middleware becomes the outermost wrapper.
type ModelCallWrapper interface {
	WrapModelCall(next ModelCallHandler) ModelCallHandler
}

// ToolCallRequest is the request seen by the wrap-tool-call chain.
type ToolCallRequest struct {
	// ToolCall is the call emitted by the model.
	ToolCall model.ToolCall
	// Tool is the resolved tool, nil for client-side tools.
	Tool tool.CallableTool
	// State is the graph state at call time.
	State graph.State
	// Runtime is the per-run context.
	Runtime *Runtime
}

// ToolCallHandler executes a tool call. The result is a tool message, a
// *graph.Command for dynamic routing, or a raw value the tool node
// stringifies.
type ToolCallHandler func(ctx context.Context, req *ToolCallRequest) (any, error)

// ToolCallWrapper intercepts tool calls, composing like ModelCallWrapper.
type ToolCallWrapper interface {
	WrapToolCall(next ToolCallHandler) ToolCallHandler
}
