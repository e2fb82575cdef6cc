//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package graphagent adapts a compiled graph to the agent interface, so
// the runner can execute graphs and plain agents the same way.
package graphagent

import (
	"context"
	"fmt"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/event"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// GraphAgent executes a graph as an agent.
type GraphAgent struct {
	name        string
	description string
	graph       *graph.Graph
	executor    *graph.Executor
	initial     graph.State
	holder      *agent.BaseSubAgentHolder
}

// New creates a graph agent.
func New(name string, g *graph.Graph, opts ...Option) (*GraphAgent, error) {
	if g == nil {
		return nil, fmt.Errorf("graphagent %s: graph must not be nil", name)
	}
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	executor, err := graph.NewExecutor(g, options.executorOptions...)
	if err != nil {
		return nil, fmt.Errorf("graphagent %s: %w", name, err)
	}
	return &GraphAgent{
		name:        name,
		description: options.description,
		graph:       g,
		executor:    executor,
		initial:     options.initialState,
		holder:      agent.NewBaseSubAgentHolder(options.subAgents),
	}, nil
}

// Run implements agent.Agent. A resume invocation re-enters the thread's
// interrupt checkpoint; anything else starts a fresh turn from the
// invocation message.
func (a *GraphAgent) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	state := a.buildInitialState(invocation)
	ctx = agent.NewContextWithInvocation(ctx, invocation)
	return a.executor.Execute(ctx, state, invocation)
}

func (a *GraphAgent) buildInitialState(invocation *agent.Invocation) graph.State {
	state := make(graph.State, len(a.initial)+4)
	for k, v := range a.initial {
		state[k] = v
	}
	for k, v := range invocation.RunOptions.RuntimeState {
		state[k] = v
	}
	if _, ok := state[graph.StateKeyCommand]; ok {
		// A fully built resume command seeded by the caller wins over the
		// plain resume fields.
		return state
	}
	if invocation.RunOptions.HasResume() {
		state[graph.StateKeyCommand] = &graph.Command{
			Resume:    invocation.RunOptions.Resume,
			ResumeMap: invocation.RunOptions.ResumeMap,
		}
		return state
	}
	if invocation.Message.Content != "" || len(invocation.Message.ContentParts) > 0 {
		state[graph.StateKeyUserInput] = invocation.Message.Content
		state[graph.StateKeyMessages] = []model.Message{invocation.Message}
	}
	return state
}

// Tools implements agent.Agent. Graph tools live inside the graph's tool
// nodes, so nothing is exposed here.
func (a *GraphAgent) Tools() []tool.Tool { return nil }

// Info implements agent.Agent.
func (a *GraphAgent) Info() agent.Info {
	return agent.Info{Name: a.name, Description: a.description}
}

// SubAgents implements agent.Agent.
func (a *GraphAgent) SubAgents() []agent.Agent { return a.holder.SubAgents() }

// FindSubAgent implements agent.Agent.
func (a *GraphAgent) FindSubAgent(name string) agent.Agent { return a.holder.FindSubAgent(name) }

// Executor exposes the underlying executor, e.g. for checkpoint
// management.
func (a *GraphAgent) Executor() *graph.Executor { return a.executor }

// Close releases the executor resources.
func (a *GraphAgent) Close() error { return a.executor.Close() }
