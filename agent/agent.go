//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package agent defines the agent abstraction shared by the runtime:
// anything that consumes an invocation and produces an event stream.
package agent

import (
	"context"

	"trpc.group/trpc-go/trpc-xpert-go/event"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// Agent is an executable agent.
type Agent interface {
	// Run executes the agent against the invocation and streams events
	// until the channel closes.
	Run(ctx context.Context, invocation *Invocation) (<-chan *event.Event, error)

	// Tools returns the tools available to the agent.
	Tools() []tool.Tool

	// Info describes the agent.
	Info() Info

	// SubAgents returns the agents this agent can delegate to.
	SubAgents() []Agent

	// FindSubAgent returns the sub-agent with the given name, nil when
	// absent.
	FindSubAgent(name string) Agent
}

// Info describes an agent.
type Info struct {
	// Name is the unique name of the agent.
	Name string `json:"name"`
	// Description summarizes what the agent does.
	Description string `json:"description"`
}

// StreamMode selects which event families a run emits.
type StreamMode string

const (
	// StreamModeValues emits full state snapshots after each step.
	StreamModeValues StreamMode = "values"
	// StreamModeMessages emits model and tool message events.
	StreamModeMessages StreamMode = "messages"
	// StreamModeUpdates emits per-node state updates.
	StreamModeUpdates StreamMode = "updates"
	// StreamModeCheckpoints emits checkpoint lifecycle events.
	StreamModeCheckpoints StreamMode = "checkpoints"
)

// BaseSubAgentHolder provides common sub-agent bookkeeping for composite
// agents.
type BaseSubAgentHolder struct {
	subAgents []Agent
}

// NewBaseSubAgentHolder creates a holder over the given sub-agents.
func NewBaseSubAgentHolder(subAgents []Agent) *BaseSubAgentHolder {
	return &BaseSubAgentHolder{subAgents: subAgents}
}

// SubAgents returns the list of sub-agents available to this agent.
func (b *BaseSubAgentHolder) SubAgents() []Agent {
	return b.subAgents
}

// FindSubAgent finds a sub-agent by name and returns nil if not found.
func (b *BaseSubAgentHolder) FindSubAgent(name string) Agent {
	for _, subAgent := range b.subAgents {
		if subAgent.Info().Name == name {
			return subAgent
		}
	}
	return nil
}

// Tools returns an empty tool list.
func (b *BaseSubAgentHolder) Tools() []tool.Tool {
	return []tool.Tool{}
}
