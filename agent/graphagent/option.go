//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package graphagent

import (
	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
)

// Options configure a GraphAgent.
type Options struct {
	description     string
	initialState    graph.State
	subAgents       []agent.Agent
	executorOptions []graph.ExecutorOption
}

// Option mutates Options.
type Option func(*Options)

// WithDescription sets the agent description.
func WithDescription(description string) Option {
	return func(o *Options) { o.description = description }
}

// WithInitialState seeds state present at the start of every run.
func WithInitialState(state graph.State) Option {
	return func(o *Options) { o.initialState = state }
}

// WithSubAgents registers delegable sub-agents.
func WithSubAgents(subAgents ...agent.Agent) Option {
	return func(o *Options) { o.subAgents = append(o.subAgents, subAgents...) }
}

// WithCheckpointSaver persists checkpoints with the given saver.
func WithCheckpointSaver(saver graph.CheckpointSaver) Option {
	return func(o *Options) {
		o.executorOptions = append(o.executorOptions, graph.WithCheckpointSaver(saver))
	}
}

// WithRecursionLimit caps the steps of one run.
func WithRecursionLimit(limit int) Option {
	return func(o *Options) {
		o.executorOptions = append(o.executorOptions, graph.WithRecursionLimit(limit))
	}
}

// WithExecutorOptions appends raw executor options.
func WithExecutorOptions(opts ...graph.ExecutorOption) Option {
	return func(o *Options) { o.executorOptions = append(o.executorOptions, opts...) }
}
