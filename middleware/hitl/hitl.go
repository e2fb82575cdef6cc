//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package hitl pauses tool execution for human review. Tool calls whose
// name matches the configured set raise a single interrupt carrying one
// action request per call; the resume command answers each request with
// an approve, edit or reject decision.
package hitl

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/middleware"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// Name is the middleware name.
const Name = "hitl"

// InterruptKey addresses resume values to this middleware.
const InterruptKey = "hitl"

// Decision types.
const (
	DecisionApprove = "approve"
	DecisionEdit    = "edit"
	DecisionReject  = "reject"
)

const defaultRejectMessage = "Tool call rejected by user."

// ReviewConfig describes how one tool may be reviewed.
type ReviewConfig struct {
	// Description is shown to the reviewer alongside the call.
	Description string `json:"description,omitempty"`
	// AllowedDecisions restricts the decisions the reviewer may take.
	// Empty means all decisions are allowed.
	AllowedDecisions []string `json:"allowedDecisions,omitempty"`
	// ArgsSchema validates edited arguments, when present.
	ArgsSchema *tool.Schema `json:"argsSchema,omitempty"`
}

// ActionRequest is one pending tool call presented for review.
type ActionRequest struct {
	// Name is the tool name.
	Name string `json:"name"`
	// Args are the call arguments decoded from the model output.
	Args map[string]any `json:"args,omitempty"`
	// Description comes from the tool's review config.
	Description string `json:"description,omitempty"`
}

// Request is the interrupt payload: everything the reviewer needs.
type Request struct {
	// ActionRequests are the calls under review, in tool-call order.
	ActionRequests []ActionRequest `json:"actionRequests"`
	// ReviewConfigs pairs 1:1 with ActionRequests.
	ReviewConfigs []ReviewConfig `json:"reviewConfigs"`
	// ToolCallIDs pairs 1:1 with ActionRequests.
	ToolCallIDs []string `json:"toolCallIds"`
}

// Decision is one reviewer decision, paired 1:1 with the interrupt's
// action requests.
type Decision struct {
	// Type is approve, edit or reject.
	Type string `json:"type"`
	// Action replaces the call's name and args on edit.
	Action *ActionRequest `json:"action,omitempty"`
	// Message is an optional human note, surfaced to the model on reject.
	Message string `json:"message,omitempty"`
}

// Middleware implements human-in-the-loop review as an after-model hook.
type Middleware struct {
	interruptOn map[string]ReviewConfig
}

// New creates the middleware. interruptOn maps tool names to their
// review configuration; calls to unlisted tools pass through untouched.
func New(interruptOn map[string]ReviewConfig) *Middleware {
	return &Middleware{interruptOn: interruptOn}
}

// Name implements middleware.Middleware.
func (m *Middleware) Name() string { return Name }

// AfterModel inspects the tool calls of the last assistant message. When
// any of them needs review it interrupts; once resumed it applies the
// decisions and returns a fresh assistant message, never mutating the one
// in history.
func (m *Middleware) AfterModel(ctx context.Context, s *middleware.AgentState) (*middleware.HookResult, error) {
	last, ok := lastAssistantMessage(s.State)
	if !ok || len(last.ToolCalls) == 0 {
		return nil, nil
	}
	var reviewed []model.ToolCall
	var configs []ReviewConfig
	for _, tc := range last.ToolCalls {
		cfg, match := m.interruptOn[tc.Function.Name]
		if !match {
			continue
		}
		reviewed = append(reviewed, tc)
		configs = append(configs, cfg)
	}
	if len(reviewed) == 0 {
		return nil, nil
	}

	req := buildRequest(reviewed, configs)
	value, err := graph.Interrupt(ctx, s.State, InterruptKey, req)
	if err != nil {
		return nil, err
	}
	graph.ClearResumeValue(s.State, InterruptKey)

	decisions, err := decodeDecisions(value)
	if err != nil {
		return nil, err
	}
	if len(decisions) != len(reviewed) {
		return nil, agent.NewInputError("expected %d decisions, got %d", len(reviewed), len(decisions))
	}
	return m.applyDecisions(last, reviewed, configs, decisions)
}

func buildRequest(calls []model.ToolCall, configs []ReviewConfig) *Request {
	req := &Request{
		ActionRequests: make([]ActionRequest, len(calls)),
		ReviewConfigs:  configs,
		ToolCallIDs:    make([]string, len(calls)),
	}
	for i, tc := range calls {
		req.ActionRequests[i] = ActionRequest{
			Name:        tc.Function.Name,
			Args:        decodeArgs(tc.Function.Arguments),
			Description: configs[i].Description,
		}
		req.ToolCallIDs[i] = tc.ID
	}
	return req
}

func (m *Middleware) applyDecisions(last model.Message, reviewed []model.ToolCall,
	configs []ReviewConfig, decisions []Decision) (*middleware.HookResult, error) {
	reviewedIdx := make(map[string]int, len(reviewed))
	for i, tc := range reviewed {
		reviewedIdx[tc.ID] = i
	}

	var kept []model.ToolCall
	var rejected []model.ToolCall
	var toolMsgs []model.Message
	for _, tc := range last.ToolCalls {
		i, underReview := reviewedIdx[tc.ID]
		if !underReview {
			kept = append(kept, tc)
			continue
		}
		d := decisions[i]
		if !decisionAllowed(d.Type, configs[i]) {
			return nil, agent.NewInputError("decision %q not allowed for tool %q", d.Type, tc.Function.Name)
		}
		switch d.Type {
		case DecisionApprove:
			kept = append(kept, tc)
		case DecisionEdit:
			edited, err := editCall(tc, d)
			if err != nil {
				return nil, err
			}
			if err := validateEditedArgs(configs[i], edited); err != nil {
				return nil, err
			}
			kept = append(kept, edited)
		case DecisionReject:
			rejected = append(rejected, tc)
			msg := d.Message
			if msg == "" {
				msg = defaultRejectMessage
			}
			toolMsgs = append(toolMsgs, model.NewErrorToolMessage(tc.ID, tc.Function.Name, msg))
		default:
			return nil, agent.NewInputError("unknown decision type %q", d.Type)
		}
	}

	fresh := last
	fresh.ToolCalls = kept
	jumpTo := ""
	if len(rejected) > 0 {
		// A rejection sends the turn back to the model: the assistant
		// message keeps only the rejected calls, each answered by a
		// synthetic error tool message.
		fresh.ToolCalls = rejected
		jumpTo = middleware.JumpModel
	}
	ops := []graph.MessageOp{graph.ReplaceLastMessage{Message: fresh}}
	if len(toolMsgs) > 0 {
		ops = append(ops, graph.AppendMessages{Messages: toolMsgs})
	}
	return &middleware.HookResult{
		Update: graph.State{graph.StateKeyMessages: ops},
		JumpTo: jumpTo,
	}, nil
}

func editCall(tc model.ToolCall, d Decision) (model.ToolCall, error) {
	if d.Action == nil || d.Action.Name == "" {
		return model.ToolCall{}, agent.NewInputError("edit decision for tool call %q has no action", tc.ID)
	}
	args, err := json.Marshal(d.Action.Args)
	if err != nil {
		return model.ToolCall{}, agent.NewInputError("edit decision for tool call %q has invalid args: %v", tc.ID, err)
	}
	edited := tc
	edited.Function.Name = d.Action.Name
	edited.Function.Arguments = args
	return edited, nil
}

// validateEditedArgs checks a reviewer's replacement arguments against
// the review config's args schema, when it carries one.
func validateEditedArgs(cfg ReviewConfig, edited model.ToolCall) error {
	schema := compileArgsSchema(cfg.ArgsSchema)
	if schema == nil {
		return nil
	}
	raw := edited.Function.Arguments
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return agent.NewInputError("edited arguments for tool %q are not valid JSON: %v",
			edited.Function.Name, err)
	}
	if err := schema.Validate(instance); err != nil {
		return agent.NewInputError("edited arguments for tool %q rejected by schema: %v",
			edited.Function.Name, err)
	}
	return nil
}

// compileArgsSchema compiles the config's args schema; a config without
// one (or with one the compiler rejects) skips validation.
func compileArgsSchema(s *tool.Schema) *jsonschema.Schema {
	if s == nil {
		return nil
	}
	raw, err := s.MarshalJSONValue()
	if err != nil {
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("hitl://args", doc); err != nil {
		return nil
	}
	schema, err := compiler.Compile("hitl://args")
	if err != nil {
		return nil
	}
	return schema
}

func decisionAllowed(decision string, cfg ReviewConfig) bool {
	if len(cfg.AllowedDecisions) == 0 {
		return decision == DecisionApprove || decision == DecisionEdit || decision == DecisionReject
	}
	for _, allowed := range cfg.AllowedDecisions {
		if allowed == decision {
			return true
		}
	}
	return false
}

// decodeDecisions accepts the typed resume payload or its JSON shape
// {"decisions":[...]}.
func decodeDecisions(value any) ([]Decision, error) {
	switch v := value.(type) {
	case []Decision:
		return v, nil
	case Decision:
		return []Decision{v}, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, agent.NewInputError("invalid resume payload: %v", err)
	}
	var wrapper struct {
		Decisions []Decision `json:"decisions"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Decisions) > 0 {
		return wrapper.Decisions, nil
	}
	var list []Decision
	if err := json.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list, nil
	}
	return nil, agent.NewInputError("resume payload carries no decisions")
}

func decodeArgs(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return args
}

func lastAssistantMessage(state graph.State) (model.Message, bool) {
	msgs, ok := graph.GetStateValue[[]model.Message](state, graph.StateKeyMessages)
	if !ok || len(msgs) == 0 {
		return model.Message{}, false
	}
	last := msgs[len(msgs)-1]
	if last.Role != model.RoleAssistant {
		return model.Message{}, false
	}
	return last, true
}
