//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package graph

// Send dispatches a state packet to a node in the next step. Conditional
// edges return Send values to fan work out; each Send becomes its own
// task with its own state overlay.
type Send struct {
	// Node is the target node ID.
	Node string `json:"node"`
	// State is overlaid onto the graph state for this task only.
	State State `json:"state,omitempty"`
	// TaskID optionally pins the task id, used when resuming.
	TaskID string `json:"task_id,omitempty"`
}

// Command steers execution. Nodes may return a *Command instead of a
// plain state update, and resume requests deliver one through
// StateKeyCommand.
type Command struct {
	// Update is merged into the state through the schema reducers.
	Update State `json:"update,omitempty"`
	// GoTo routes execution to the named node(s) or Send packets,
	// bypassing the node's static edges.
	GoTo []Send `json:"goto,omitempty"`
	// Resume is the value handed to the single pending interrupt.
	Resume any `json:"resume,omitempty"`
	// ResumeMap maps interrupt keys to resume values when several
	// interrupts are pending, e.g. parallel tool approvals.
	ResumeMap map[string]any `json:"resume_map,omitempty"`
}

// IsResume reports whether the command carries resume data.
func (c *Command) IsResume() bool {
	return c != nil && (c.Resume != nil || len(c.ResumeMap) > 0)
}

// GoToNode builds a command routing to a single node.
func GoToNode(node string) *Command {
	return &Command{GoTo: []Send{{Node: node}}}
}
