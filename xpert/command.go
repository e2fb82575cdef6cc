//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package xpert

import (
	"encoding/json"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/middleware/clienttool"
	"trpc.group/trpc-go/trpc-xpert-go/middleware/hitl"
	"trpc.group/trpc-go/trpc-xpert-go/model"
)

// Command types accepted on resume.
const (
	CommandTypeHITL               = "hitl"
	CommandTypeClientToolResponse = "clientToolResponse"
)

// Command is the resume channel of a chat request. Exactly one of the
// typed payloads (Decisions, ToolMessages) or the raw Resume value is
// expected; Update and ToolCalls optionally rewrite state before
// execution continues.
type Command struct {
	// Type selects the typed payload; empty means a raw resume.
	Type string `json:"type,omitempty"`
	// Decisions answer a pending HITL interrupt 1:1.
	Decisions []hitl.Decision `json:"decisions,omitempty"`
	// ToolMessages answer pending client tool interrupts.
	ToolMessages []model.Message `json:"toolMessages,omitempty"`
	// Resume is an opaque value handed to whichever hook interrupted.
	Resume any `json:"resume,omitempty"`
	// Update is merged into the state through the schema reducers.
	Update map[string]any `json:"update,omitempty"`
	// ToolCalls replace the last assistant message's tool calls.
	ToolCalls []model.ToolCall `json:"toolCalls,omitempty"`
}

// IsResume reports whether the command carries any resume payload.
func (c *Command) IsResume() bool {
	return c != nil && (len(c.Decisions) > 0 || len(c.ToolMessages) > 0 || c.Resume != nil)
}

// ToGraphCommand validates the command against the pending interrupt and
// converts it into the executor's resume command. interrupt may be nil
// for pure state updates.
func (c *Command) ToGraphCommand(interrupt *graph.InterruptState) (*graph.Command, error) {
	if c == nil {
		return nil, agent.NewInputError("resume command is empty")
	}
	cmd := &graph.Command{}
	if len(c.Update) > 0 {
		cmd.Update = graph.State(c.Update)
	}
	if len(c.ToolCalls) > 0 {
		op := rewriteToolCallsOp(c.ToolCalls)
		if cmd.Update == nil {
			cmd.Update = graph.State{}
		}
		cmd.Update[graph.StateKeyMessages] = op
	}
	switch {
	case len(c.Decisions) > 0 || c.Type == CommandTypeHITL:
		if err := c.validateHITL(interrupt); err != nil {
			return nil, err
		}
		cmd.ResumeMap = map[string]any{
			hitl.InterruptKey: map[string]any{"decisions": c.Decisions},
		}
	case len(c.ToolMessages) > 0 || c.Type == CommandTypeClientToolResponse:
		resumeMap, err := c.clientToolResumeMap(interrupt)
		if err != nil {
			return nil, err
		}
		cmd.ResumeMap = resumeMap
	case c.Resume != nil:
		if interrupt != nil && interrupt.Key != "" {
			cmd.ResumeMap = map[string]any{interrupt.Key: c.Resume}
		} else {
			cmd.Resume = c.Resume
		}
	default:
		if cmd.Update == nil {
			return nil, agent.NewInputError("resume command carries no payload")
		}
	}
	return cmd, nil
}

func (c *Command) validateHITL(interrupt *graph.InterruptState) error {
	if len(c.Decisions) == 0 {
		return agent.NewInputError("hitl resume carries no decisions")
	}
	if interrupt == nil {
		// The interrupt was already answered; the executor treats the
		// duplicate resume as a no-op against the settled checkpoint.
		return nil
	}
	req, ok := decodeInterruptValue[hitl.Request](interrupt.Value)
	if !ok {
		return agent.NewInputError("pending interrupt is not a review request")
	}
	if len(c.Decisions) != len(req.ActionRequests) {
		return agent.NewInputError("expected %d decisions, got %d",
			len(req.ActionRequests), len(c.Decisions))
	}
	return nil
}

func (c *Command) clientToolResumeMap(interrupt *graph.InterruptState) (map[string]any, error) {
	if len(c.ToolMessages) == 0 {
		return nil, agent.NewInputError("client tool resume carries no tool messages")
	}
	pending := make(map[string]struct{})
	if interrupt != nil {
		if req, ok := decodeInterruptValue[clienttool.Request](interrupt.Value); ok {
			for _, call := range req.ClientToolCalls {
				pending[call.ID] = struct{}{}
			}
		}
	}
	resumeMap := make(map[string]any, len(c.ToolMessages))
	for _, msg := range c.ToolMessages {
		if msg.ToolID == "" {
			return nil, agent.NewInputError("client tool message has no tool_call_id")
		}
		if len(pending) > 0 {
			if _, ok := pending[msg.ToolID]; !ok {
				return nil, agent.NewInputError(
					"client tool message id %q does not match a pending call", msg.ToolID)
			}
		}
		resumeMap[clienttool.InterruptKey(msg.ToolID)] = &clienttool.Response{
			ToolMessages: []model.Message{msg},
		}
	}
	return resumeMap, nil
}

// rewriteToolCallsOp returns the message op replacing the tool calls of
// the last assistant message with the given set, keeping the message
// itself.
func rewriteToolCallsOp(calls []model.ToolCall) []graph.MessageOp {
	return []graph.MessageOp{rewriteLastToolCalls{calls: calls}}
}

type rewriteLastToolCalls struct {
	calls []model.ToolCall
}

// Apply implements graph.MessageOp.
func (op rewriteLastToolCalls) Apply(messages []model.Message) []model.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleAssistant {
			rewritten := make([]model.Message, len(messages))
			copy(rewritten, messages)
			fresh := rewritten[i]
			fresh.ToolCalls = append([]model.ToolCall(nil), op.calls...)
			rewritten[i] = fresh
			return rewritten
		}
	}
	return messages
}

// decodeInterruptValue recovers a typed interrupt payload; checkpoints
// round-trip payloads through JSON, so a map shape is also accepted.
func decodeInterruptValue[T any](value any) (*T, bool) {
	switch v := value.(type) {
	case *T:
		return v, true
	case T:
		return &v, true
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var decoded T
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, false
	}
	return &decoded, true
}
