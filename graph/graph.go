//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package graph provides a checkpointed, Pregel-style graph execution
// engine for agent workflows.
package graph

import (
	"context"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-xpert-go/graph/internal/channel"
)

// NodeFunc executes a node. The result may be a State update merged
// through the schema reducers, a *Command for dynamic routing, or nil.
type NodeFunc func(ctx context.Context, state State) (any, error)

// BranchFunc decides where a conditional edge routes. The result may be a
// node ID string, a []string, a Send, or a []Send for fan-out; End stops
// the branch.
type BranchFunc func(ctx context.Context, state State) (any, error)

// RetryPolicy controls automatic retries of a failing node.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the first retry; it doubles per
	// attempt up to MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
}

// delay returns the backoff before the given 1-based retry attempt.
func (p *RetryPolicy) delay(attempt int) time.Duration {
	if p == nil || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Node is an executable vertex of the graph.
type Node struct {
	// ID is the unique identifier of the node.
	ID string
	// Name is the human readable name of the node.
	Name string
	// Description describes what the node does.
	Description string
	// Type classifies the node for events and tracing.
	Type NodeType
	// Function executes the node.
	Function NodeFunc
	// Retry optionally retries the node on failure.
	Retry *RetryPolicy
	// Defer delays the node until every other runnable task has
	// finished, used for aggregation points.
	Defer bool
}

// Branch is a conditional edge evaluated after its source node completes.
type Branch struct {
	// Source is the node whose completion triggers the branch.
	Source string
	// Path decides the target(s).
	Path BranchFunc
	// PathMap optionally constrains and documents the possible targets,
	// mapping path results to node IDs.
	PathMap map[string]string
}

// Join is a fan-in edge: To runs once every node in Sources has finished.
type Join struct {
	Sources []string
	To      string
}

// Graph is a compiled, immutable workflow. Build one with StateGraph.
type Graph struct {
	schema     *StateSchema
	nodes      map[string]*Node
	edges      map[string][]string
	branches   map[string][]*Branch
	joins      []*Join
	entryPoint string

	// channelBehaviors declares every scheduling channel of the graph.
	channelBehaviors map[string]channel.Behavior
	// triggerToNodes maps a channel name to the nodes it triggers.
	triggerToNodes map[string][]string
	// joinExpected maps a join channel to the senders it waits for.
	joinExpected map[string][]string
}

// Schema returns the graph's state schema.
func (g *Graph) Schema() *StateSchema {
	return g.schema
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all node IDs.
func (g *Graph) Nodes() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	return ids
}

// EntryPoint returns the node triggered by Start.
func (g *Graph) EntryPoint() string {
	return g.entryPoint
}

// EdgesFrom returns the static successors of a node.
func (g *Graph) EdgesFrom(id string) []string {
	return g.edges[id]
}

// BranchesFrom returns the conditional edges of a node.
func (g *Graph) BranchesFrom(id string) []*Branch {
	return g.branches[id]
}

// Joins returns all join edges.
func (g *Graph) Joins() []*Join {
	return g.joins
}

// ChannelBehaviors returns the declared scheduling channels.
func (g *Graph) ChannelBehaviors() map[string]channel.Behavior {
	return g.channelBehaviors
}

// TriggeredNodes returns the nodes triggered when the named channel
// becomes available.
func (g *Graph) TriggeredNodes(channelName string) []string {
	return g.triggerToNodes[channelName]
}

// JoinExpected returns the set of senders a join channel waits for.
func (g *Graph) JoinExpected(channelName string) []string {
	return g.joinExpected[channelName]
}

// TriggerChannel returns the channel name that triggers the node when
// reached over a plain edge.
func TriggerChannel(nodeID string) string {
	return ChannelInputPrefix + nodeID
}

// BranchChannel returns the channel name written by conditional edges
// targeting the node.
func BranchChannel(nodeID string) string {
	return ChannelBranchPrefix + nodeID
}

// JoinChannel returns the barrier channel name for a join targeting the
// node.
func JoinChannel(nodeID string) string {
	return ChannelJoinPrefix + nodeID
}

// validate checks structural integrity before the graph is sealed.
func (g *Graph) validate() error {
	if g.entryPoint == "" {
		return fmt.Errorf("graph must have an entry point")
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return fmt.Errorf("entry point %q is not a node", g.entryPoint)
	}
	for from, tos := range g.edges {
		if from != Start {
			if _, ok := g.nodes[from]; !ok {
				return fmt.Errorf("edge source %q is not a node", from)
			}
		}
		for _, to := range tos {
			if to == End {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return fmt.Errorf("edge target %q is not a node", to)
			}
		}
	}
	for source, branches := range g.branches {
		if _, ok := g.nodes[source]; !ok {
			return fmt.Errorf("branch source %q is not a node", source)
		}
		for _, b := range branches {
			for result, target := range b.PathMap {
				if target == End {
					continue
				}
				if _, ok := g.nodes[target]; !ok {
					return fmt.Errorf("branch path %q targets unknown node %q", result, target)
				}
			}
		}
	}
	for _, j := range g.joins {
		if _, ok := g.nodes[j.To]; !ok {
			return fmt.Errorf("join target %q is not a node", j.To)
		}
		for _, src := range j.Sources {
			if _, ok := g.nodes[src]; !ok {
				return fmt.Errorf("join source %q is not a node", src)
			}
		}
	}
	return nil
}
