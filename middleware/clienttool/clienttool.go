//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package clienttool hands selected tool calls to the client instead of
// executing them on the server. The wrapper interrupts with the pending
// call; the client answers through a resume command carrying the
// finished tool message.
package clienttool

import (
	"context"
	"encoding/json"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/middleware"
	"trpc.group/trpc-go/trpc-xpert-go/model"
)

// Name is the middleware name.
const Name = "clienttool"

// InterruptKeyPrefix prefixes the per-call interrupt key, so parallel
// client calls resolve independently.
const InterruptKeyPrefix = "client_tool:"

// InterruptKey returns the interrupt key for one tool call.
func InterruptKey(toolCallID string) string {
	return InterruptKeyPrefix + toolCallID
}

// Request is the interrupt payload delivered to the client.
type Request struct {
	// ClientToolCalls holds the calls the client must execute. The
	// runtime raises one interrupt per call.
	ClientToolCalls []model.ToolCall `json:"clientToolCalls"`
}

// Response is the resume payload the client sends back.
type Response struct {
	// ToolMessages carries exactly one finished tool message whose
	// ToolID matches the original call.
	ToolMessages []model.Message `json:"toolMessages"`
}

// Middleware routes configured tools to the client via interrupts.
type Middleware struct {
	clientTools map[string]struct{}
}

// New creates the middleware. tools lists the tool names executed on
// the client.
func New(tools ...string) *Middleware {
	set := make(map[string]struct{}, len(tools))
	for _, name := range tools {
		set[name] = struct{}{}
	}
	return &Middleware{clientTools: set}
}

// Name implements middleware.Middleware.
func (m *Middleware) Name() string { return Name }

// WrapToolCall intercepts calls to client-side tools. Instead of calling
// next, it interrupts with the pending call; on resume it validates the
// returned tool message and hands it to the tool node.
func (m *Middleware) WrapToolCall(next middleware.ToolCallHandler) middleware.ToolCallHandler {
	return func(ctx context.Context, req *middleware.ToolCallRequest) (any, error) {
		if !m.isClientTool(req) {
			return next(ctx, req)
		}
		key := InterruptKey(req.ToolCall.ID)
		value, err := graph.Interrupt(ctx, req.State, key, &Request{
			ClientToolCalls: []model.ToolCall{req.ToolCall},
		})
		if err != nil {
			return nil, err
		}
		graph.ClearResumeValue(req.State, key)
		msg, err := decodeResponse(value)
		if err != nil {
			return nil, err
		}
		if msg.ToolID != req.ToolCall.ID {
			return nil, agent.NewInputError(
				"client tool response id %q does not match pending call %q", msg.ToolID, req.ToolCall.ID)
		}
		if msg.ToolName == "" {
			msg.ToolName = req.ToolCall.Function.Name
		}
		return msg, nil
	}
}

func (m *Middleware) isClientTool(req *middleware.ToolCallRequest) bool {
	if req.Tool == nil {
		return true
	}
	_, ok := m.clientTools[req.ToolCall.Function.Name]
	return ok
}

// wireToolMessage is the JSON shape clients send; tool_call_id is the
// wire name for the call id.
type wireToolMessage struct {
	ToolCallID string `json:"tool_call_id"`
	ToolID     string `json:"tool_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	Status     string `json:"status"`
}

// decodeResponse accepts the typed resume payload or its JSON shape
// {"toolMessages":[{"tool_call_id": ..., "content": ...}]}.
func decodeResponse(value any) (model.Message, error) {
	var resp Response
	switch v := value.(type) {
	case *Response:
		resp = *v
	case Response:
		resp = v
	case model.Message:
		resp = Response{ToolMessages: []model.Message{v}}
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return model.Message{}, agent.NewInputError("invalid client tool response: %v", err)
		}
		var wire struct {
			ToolMessages []wireToolMessage `json:"toolMessages"`
		}
		if err := json.Unmarshal(data, &wire); err != nil {
			return model.Message{}, agent.NewInputError("invalid client tool response: %v", err)
		}
		for _, w := range wire.ToolMessages {
			id := w.ToolCallID
			if id == "" {
				id = w.ToolID
			}
			resp.ToolMessages = append(resp.ToolMessages, model.Message{
				Role:     model.RoleTool,
				ToolID:   id,
				ToolName: w.Name,
				Content:  w.Content,
				Status:   w.Status,
			})
		}
	}
	if len(resp.ToolMessages) != 1 {
		return model.Message{}, agent.NewInputError(
			"client tool response must carry exactly one tool message, got %d", len(resp.ToolMessages))
	}
	msg := resp.ToolMessages[0]
	if msg.ToolID == "" {
		return model.Message{}, agent.NewInputError("client tool response has no tool_call_id")
	}
	msg.Role = model.RoleTool
	return msg, nil
}
