//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package toolselector narrows large tool sets before the main model
// call. A smaller selector model picks the tools relevant to the
// conversation; the request then carries only the selection plus an
// always-include set.
package toolselector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/middleware"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// Name is the middleware name.
const Name = "toolselector"

const selectorPrompt = `You select tools for an assistant. Given the conversation and the
available tools, reply with a JSON object of the form {"tools": ["name", ...]}
listing only the tools relevant to the user's request. Reply with JSON only.`

// Option configures the middleware.
type Option func(*Middleware)

// WithMaxTools caps the number of selected tools; selections beyond the
// cap are truncated in selection order. It also sets the trigger: the
// selector only runs when more than max tools are available.
func WithMaxTools(max int) Option {
	return func(m *Middleware) { m.maxTools = max }
}

// WithAlwaysInclude keeps the named tools in every request, on top of
// the selection and outside the cap.
func WithAlwaysInclude(names ...string) Option {
	return func(m *Middleware) {
		for _, n := range names {
			m.alwaysInclude[n] = struct{}{}
		}
	}
}

// Middleware filters request tools through a selector model.
type Middleware struct {
	selector      model.Model
	maxTools      int
	alwaysInclude map[string]struct{}
}

// New creates the middleware around the selector model.
func New(selector model.Model, opts ...Option) *Middleware {
	m := &Middleware{
		selector:      selector,
		maxTools:      16,
		alwaysInclude: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name implements middleware.Middleware.
func (m *Middleware) Name() string { return Name }

// WrapModelCall runs the selector when the request offers more tools
// than the cap, then forwards the narrowed request. The original tool
// values are preserved so provider-specific declarations survive.
func (m *Middleware) WrapModelCall(next middleware.ModelCallHandler) middleware.ModelCallHandler {
	return func(ctx context.Context, req *middleware.ModelRequest) (model.Message, error) {
		if m.selector == nil || len(req.Tools) <= m.maxTools {
			return next(ctx, req)
		}
		selected, err := m.selectTools(ctx, req)
		if err != nil {
			return model.Message{}, err
		}
		narrowed := req.Clone()
		narrowed.Tools = selected
		return next(ctx, narrowed)
	}
}

func (m *Middleware) selectTools(ctx context.Context, req *middleware.ModelRequest) (map[string]tool.Tool, error) {
	names, err := m.askSelector(ctx, req)
	if err != nil {
		return nil, err
	}
	selected := make(map[string]tool.Tool)
	count := 0
	for _, name := range names {
		t, known := req.Tools[name]
		if !known {
			return nil, agent.NewInputError("tool selector chose unknown tool %q", name)
		}
		if _, dup := selected[name]; dup {
			continue
		}
		if count >= m.maxTools {
			break
		}
		selected[name] = t
		count++
	}
	for name := range m.alwaysInclude {
		if t, known := req.Tools[name]; known {
			selected[name] = t
		}
	}
	return selected, nil
}

func (m *Middleware) askSelector(ctx context.Context, req *middleware.ModelRequest) ([]string, error) {
	var catalog strings.Builder
	for name, t := range req.Tools {
		desc := ""
		if decl := t.Declaration(); decl != nil {
			desc = decl.Description
		}
		fmt.Fprintf(&catalog, "- %s: %s\n", name, desc)
	}
	messages := []model.Message{
		model.NewSystemMessage(selectorPrompt),
		model.NewUserMessage(fmt.Sprintf("Available tools:\n%s\nConversation:\n%s",
			catalog.String(), renderConversation(req.Messages))),
	}
	ch, err := m.selector.GenerateContent(ctx, &model.Request{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("tool selector model call: %w", err)
	}
	var content strings.Builder
	for rsp := range ch {
		if rsp.Error != nil {
			return nil, fmt.Errorf("tool selector model: %s", rsp.Error.Message)
		}
		for _, choice := range rsp.Choices {
			content.WriteString(choice.Message.Content)
			content.WriteString(choice.Delta.Content)
		}
	}
	return parseSelection(content.String())
}

func parseSelection(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}
	var selection struct {
		Tools []string `json:"tools"`
	}
	if err := json.Unmarshal([]byte(content), &selection); err != nil {
		return nil, agent.NewInputError("tool selector returned invalid selection: %v", err)
	}
	return selection.Tools, nil
}

func renderConversation(messages []model.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return b.String()
}
