//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package middleware

import (
	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// NamedHook pairs a hook with the middleware that declared it, so the
// compiler can derive stable node IDs.
type NamedHook struct {
	// Middleware is the declaring middleware's name.
	Middleware string
	// Fn is the hook.
	Fn HookFunc
}

// Pipeline is an ordered middleware stack bound to one agent.
type Pipeline struct {
	middlewares []Middleware
}

// NewPipeline validates and assembles a middleware stack. Duplicate
// middleware names are a configuration error.
func NewPipeline(middlewares ...Middleware) (*Pipeline, error) {
	seen := make(map[string]struct{}, len(middlewares))
	for _, mw := range middlewares {
		name := mw.Name()
		if name == "" {
			return nil, agent.NewConfigError("middleware", "middleware has no name")
		}
		if _, dup := seen[name]; dup {
			return nil, agent.NewConfigError("middleware", "duplicate middleware name %q", name)
		}
		seen[name] = struct{}{}
	}
	return &Pipeline{middlewares: middlewares}, nil
}

// Middlewares returns the stack in declaration order.
func (p *Pipeline) Middlewares() []Middleware {
	return p.middlewares
}

// StateSchema merges the channel contributions of every middleware.
// Two middlewares declaring the same channel name conflict: the schema
// owner is ambiguous, so compilation fails.
func (p *Pipeline) StateSchema() (map[string]graph.StateField, error) {
	merged := make(map[string]graph.StateField)
	owner := make(map[string]string)
	for _, mw := range p.middlewares {
		provider, ok := mw.(StateSchemaProvider)
		if !ok {
			continue
		}
		for name, field := range provider.StateSchema() {
			if prev, exists := owner[name]; exists {
				return nil, agent.NewConfigError("middleware",
					"channel %q declared by both %q and %q", name, prev, mw.Name())
			}
			owner[name] = mw.Name()
			merged[name] = field
		}
	}
	return merged, nil
}

// Tools returns the tools contributed by the stack, in declaration order.
func (p *Pipeline) Tools() []tool.CallableTool {
	var tools []tool.CallableTool
	for _, mw := range p.middlewares {
		if provider, ok := mw.(ToolProvider); ok {
			tools = append(tools, provider.Tools()...)
		}
	}
	return tools
}

// BeforeAgentHooks returns the before-agent hooks in declaration order.
func (p *Pipeline) BeforeAgentHooks() []NamedHook {
	var hooks []NamedHook
	for _, mw := range p.middlewares {
		if h, ok := mw.(BeforeAgentHook); ok {
			hooks = append(hooks, NamedHook{Middleware: mw.Name(), Fn: h.BeforeAgent})
		}
	}
	return hooks
}

// BeforeModelHooks returns the before-model hooks in declaration order.
func (p *Pipeline) BeforeModelHooks() []NamedHook {
	var hooks []NamedHook
	for _, mw := range p.middlewares {
		if h, ok := mw.(BeforeModelHook); ok {
			hooks = append(hooks, NamedHook{Middleware: mw.Name(), Fn: h.BeforeModel})
		}
	}
	return hooks
}

// AfterModelHooks returns the after-model hooks in reverse declaration
// order: the first declared middleware sees the response last and feeds
// the router.
func (p *Pipeline) AfterModelHooks() []NamedHook {
	var hooks []NamedHook
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		if h, ok := p.middlewares[i].(AfterModelHook); ok {
			hooks = append(hooks, NamedHook{Middleware: p.middlewares[i].Name(), Fn: h.AfterModel})
		}
	}
	return hooks
}

// AfterAgentHooks returns the after-agent hooks in reverse declaration
// order.
func (p *Pipeline) AfterAgentHooks() []NamedHook {
	var hooks []NamedHook
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		if h, ok := p.middlewares[i].(AfterAgentHook); ok {
			hooks = append(hooks, NamedHook{Middleware: p.middlewares[i].Name(), Fn: h.AfterAgent})
		}
	}
	return hooks
}

// WrapModelCall composes the model-call wrappers around the core
// handler, right to left: the last registered middleware wraps
// outermost.
func (p *Pipeline) WrapModelCall(core ModelCallHandler) ModelCallHandler {
	handler := core
	for _, mw := range p.middlewares {
		if w, ok := mw.(ModelCallWrapper); ok {
			handler = w.WrapModelCall(handler)
		}
	}
	return handler
}

// WrapToolCall composes the tool-call wrappers around the core handler,
// right to left.
func (p *Pipeline) WrapToolCall(core ToolCallHandler) ToolCallHandler {
	handler := core
	for _, mw := range p.middlewares {
		if w, ok := mw.(ToolCallWrapper); ok {
			handler = w.WrapToolCall(handler)
		}
	}
	return handler
}
