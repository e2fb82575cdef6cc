//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package xpert

import (
	"context"
	"encoding/json"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// workflowNodes returns the workflow nodes declared in the topology.
func (c *compiler) workflowNodes() []GraphNode {
	if c.x.Graph == nil {
		return nil
	}
	var nodes []GraphNode
	for _, n := range c.x.Graph.Nodes {
		if n.Type == NodeTypeWorkflow {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// workflowChannel names the state channel a workflow node writes.
func workflowChannel(key string) string {
	return key + "_output"
}

// newWorkflowTool compiles a workflow node into a task tool. The entity
// declares a template rendered from the tool arguments; the result lands
// in the node's own channel and in the tool reply. Nodes without a
// template are declaration-only and get no tool.
func newWorkflowTool(node GraphNode) tool.CallableTool {
	template, _ := node.Entity["template"].(string)
	if template == "" {
		return nil
	}
	description, _ := node.Entity["description"].(string)
	if description == "" {
		description = "Run the " + node.Key + " workflow task."
	}
	inputs := entityInputs(node.Entity)
	return &workflowTool{
		key:         node.Key,
		description: description,
		template:    template,
		inputs:      inputs,
	}
}

func entityInputs(entity map[string]any) []string {
	raw, ok := entity["inputs"].([]any)
	if !ok {
		return nil
	}
	inputs := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			inputs = append(inputs, s)
		}
	}
	return inputs
}

type workflowTool struct {
	key         string
	description string
	template    string
	inputs      []string
}

// Declaration implements tool.Tool.
func (t *workflowTool) Declaration() *tool.Declaration {
	properties := make(map[string]*tool.Schema, len(t.inputs))
	for _, name := range t.inputs {
		properties[name] = &tool.Schema{Type: "string"}
	}
	return &tool.Declaration{
		Name:        "workflow_" + sanitizeToolName(t.key),
		Description: t.description,
		InputSchema: &tool.Schema{
			Type:       "object",
			Properties: properties,
			Required:   t.inputs,
		},
	}
}

// Call implements tool.CallableTool. The rendered output is written to
// the workflow channel through a command so later nodes can read it.
func (t *workflowTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	args := map[string]any{}
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &args); err != nil {
			return nil, agent.NewInputError("workflow arguments: %v", err)
		}
	}
	for _, name := range t.inputs {
		if _, ok := args[name]; !ok {
			return nil, agent.NewInputError("workflow %s needs input %q", t.key, name)
		}
	}
	rendered := renderPrompt(t.template, args)
	return &graph.Command{
		Update: graph.State{workflowChannel(t.key): rendered},
	}, nil
}
