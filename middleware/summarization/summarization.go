//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package summarization keeps long conversations inside the model's
// working window. Once the history exceeds maxMessages, older turns are
// folded into a running summary and only the most recent retainMessages
// items stay verbatim.
package summarization

import (
	"context"
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/middleware"
	"trpc.group/trpc-go/trpc-xpert-go/model"
)

// Name is the middleware name.
const Name = "summarization"

const summaryPrompt = `Summarize the conversation below. Keep facts the assistant will
need later: user goals, decisions, tool results, open questions. Be concise.`

// Option configures the middleware.
type Option func(*Middleware)

// WithMaxMessages sets the history length that triggers summarization.
func WithMaxMessages(max int) Option {
	return func(m *Middleware) { m.maxMessages = max }
}

// WithRetainMessages sets how many recent messages survive verbatim.
func WithRetainMessages(retain int) Option {
	return func(m *Middleware) { m.retainMessages = retain }
}

// Middleware folds old history into a summary before the model call.
type Middleware struct {
	summarizer     model.Model
	maxMessages    int
	retainMessages int
}

// New creates the middleware around the summarizer model.
func New(summarizer model.Model, opts ...Option) *Middleware {
	m := &Middleware{
		summarizer:     summarizer,
		maxMessages:    40,
		retainMessages: 10,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name implements middleware.Middleware.
func (m *Middleware) Name() string { return Name }

// BeforeModel summarizes when the history is over the threshold. The
// summary lands in the agent channel and the history is trimmed to the
// retained tail, dropping tool results whose calls were trimmed away.
func (m *Middleware) BeforeModel(ctx context.Context, s *middleware.AgentState) (*middleware.HookResult, error) {
	msgs, ok := graph.GetStateValue[[]model.Message](s.State, graph.StateKeyMessages)
	if !ok || len(msgs) <= m.maxMessages {
		return nil, nil
	}
	summary, err := m.summarize(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("summarize conversation: %w", err)
	}
	update := graph.State{
		graph.StateKeyMessages: []graph.MessageOp{
			graph.TrimMessages{KeepLast: m.retainMessages},
			graph.RemoveToolOrphans{},
		},
	}
	if s.AgentKey != "" {
		// Field-wise merge into the agent channel, keyed by convention.
		update[s.AgentKey+"_channel"] = map[string]any{"summary": summary}
	}
	return &middleware.HookResult{Update: update}, nil
}

func (m *Middleware) summarize(ctx context.Context, msgs []model.Message) (string, error) {
	var transcript strings.Builder
	for _, msg := range msgs {
		if msg.Content == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, msg.Content)
	}
	ch, err := m.summarizer.GenerateContent(ctx, &model.Request{
		Messages: []model.Message{
			model.NewSystemMessage(summaryPrompt),
			model.NewUserMessage(transcript.String()),
		},
	})
	if err != nil {
		return "", err
	}
	var content strings.Builder
	for rsp := range ch {
		if rsp.Error != nil {
			return "", fmt.Errorf("summarizer model: %s", rsp.Error.Message)
		}
		for _, choice := range rsp.Choices {
			content.WriteString(choice.Message.Content)
			content.WriteString(choice.Delta.Content)
		}
	}
	return strings.TrimSpace(content.String()), nil
}
