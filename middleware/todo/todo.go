//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package todo gives the agent a persistent task list. It contributes a
// todos channel to the agent's state schema and a write_todos tool the
// model calls to rewrite the list, the reference example of a middleware
// extending both schema and tool set.
package todo

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/middleware"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
	"trpc.group/trpc-go/trpc-xpert-go/tool/function"
)

// Name is the middleware name.
const Name = "todo"

// StateKeyTodos is the channel holding the current task list.
const StateKeyTodos = "todos"

// ToolName is the tool the model calls to rewrite the list.
const ToolName = "write_todos"

// Item is one entry in the task list.
type Item struct {
	// Content describes the task.
	Content string `json:"content"`
	// Status is pending, in_progress or done.
	Status string `json:"status"`
}

// writeRequest is the write_todos tool input.
type writeRequest struct {
	// Todos replaces the entire list.
	Todos []Item `json:"todos"`
}

// writeResponse is the write_todos tool output.
type writeResponse struct {
	// Message acknowledges the update to the model.
	Message string `json:"message"`
}

// Middleware maintains the todos channel.
type Middleware struct {
	tool tool.CallableTool
}

// New creates the middleware.
func New() *Middleware {
	m := &Middleware{}
	m.tool = function.NewFunctionTool(m.writeTodos,
		function.WithName(ToolName),
		function.WithDescription("Replace the task list with the given items. "+
			"Use it to plan multi-step work and track progress."),
	)
	return m
}

// Name implements middleware.Middleware.
func (m *Middleware) Name() string { return Name }

// StateSchema contributes the todos channel, last writer wins.
func (m *Middleware) StateSchema() map[string]graph.StateField {
	return map[string]graph.StateField{
		StateKeyTodos: {
			Type:    reflect.TypeOf([]Item{}),
			Reducer: graph.DefaultReducer,
			Default: func() any { return []Item{} },
		},
	}
}

// Tools implements middleware.ToolProvider.
func (m *Middleware) Tools() []tool.CallableTool {
	return []tool.CallableTool{m.tool}
}

// WrapToolCall intercepts write_todos and turns the call into a state
// command: the new list lands in the todos channel and the model gets an
// acknowledgment tool message.
func (m *Middleware) WrapToolCall(next middleware.ToolCallHandler) middleware.ToolCallHandler {
	return func(ctx context.Context, req *middleware.ToolCallRequest) (any, error) {
		if req.ToolCall.Function.Name != ToolName {
			return next(ctx, req)
		}
		todos, err := decodeTodos(req.ToolCall.Function.Arguments)
		if err != nil {
			return nil, err
		}
		ack := model.NewToolMessage(req.ToolCall.ID, ToolName,
			fmt.Sprintf("Recorded %d todos.", len(todos)))
		return &graph.Command{
			Update: graph.State{
				StateKeyTodos:          todos,
				graph.StateKeyMessages: ack,
			},
		}, nil
	}
}

func (m *Middleware) writeTodos(ctx context.Context, req writeRequest) (writeResponse, error) {
	return writeResponse{Message: fmt.Sprintf("Recorded %d todos.", len(req.Todos))}, nil
}

func decodeTodos(args []byte) ([]Item, error) {
	var req writeRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("invalid write_todos arguments: %w", err)
	}
	return req.Todos, nil
}
