//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package clienteffect turns selected tool calls into fire-and-forget
// client side effects. Unlike client tools, effects never pause the run:
// the call is streamed to the client as an event and the model receives
// a statically configured result right away.
package clienteffect

import (
	"context"
	"encoding/json"

	"trpc.group/trpc-go/trpc-xpert-go/event"
	"trpc.group/trpc-go/trpc-xpert-go/middleware"
	"trpc.group/trpc-go/trpc-xpert-go/model"
)

// Name is the middleware name.
const Name = "clienteffect"

// Effect configures one effect tool.
type Effect struct {
	// Result is returned to the model as the tool result. Empty means a
	// generic acknowledgment.
	Result string
}

// Payload is the on_client_effect event payload.
type Payload struct {
	// Name is the effect tool name.
	Name string `json:"name"`
	// ToolCallID is the originating call id.
	ToolCallID string `json:"toolCallId"`
	// Args are the call arguments as emitted by the model.
	Args json.RawMessage `json:"args,omitempty"`
}

const defaultResult = "Effect dispatched to client."

// Middleware dispatches configured tool calls as client effects.
type Middleware struct {
	effects map[string]Effect
}

// New creates the middleware. effects maps tool names to their static
// results.
func New(effects map[string]Effect) *Middleware {
	return &Middleware{effects: effects}
}

// Name implements middleware.Middleware.
func (m *Middleware) Name() string { return Name }

// WrapToolCall emits an on_client_effect event for configured tools and
// short-circuits with the static result.
func (m *Middleware) WrapToolCall(next middleware.ToolCallHandler) middleware.ToolCallHandler {
	return func(ctx context.Context, req *middleware.ToolCallRequest) (any, error) {
		effect, ok := m.effects[req.ToolCall.Function.Name]
		if !ok {
			return next(ctx, req)
		}
		if req.Runtime != nil && req.Runtime.Emitter != nil {
			_ = req.Runtime.Emitter.EmitCustom(event.NameClientEffect, &Payload{
				Name:       req.ToolCall.Function.Name,
				ToolCallID: req.ToolCall.ID,
				Args:       req.ToolCall.Function.Arguments,
			})
		}
		result := effect.Result
		if result == "" {
			result = defaultResult
		}
		return model.NewToolMessage(req.ToolCall.ID, req.ToolCall.Function.Name, result), nil
	}
}
