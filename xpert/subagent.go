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
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// maxSubAgentDepth bounds sub-agent nesting so mutually referencing
// collaborators cannot recurse forever.
const maxSubAgentDepth = 8

// newSubAgentTool compiles the given xpert (or one of its agents) into a
// tool the calling agent can delegate to. Each invocation runs the nested
// graph to completion under a child checkpoint namespace.
func (c *compiler) newSubAgentTool(name string, def *Xpert, entryKey string) (tool.CallableTool, error) {
	childNS := graph.WithSubgraphNamespace(c.opts.Namespace, "subagent:"+name)
	if strings.Count(childNS, ".") >= maxSubAgentDepth {
		return nil, agent.NewConfigError("collaborators",
			"sub-agent %q exceeds the nesting limit", name)
	}
	nested := *c.opts
	nested.Namespace = childNS
	var compileOpts []CompileOption
	compileOpts = append(compileOpts, func(o *CompileOptions) { *o = nested })
	compiled, err := Compile(def, entryKey, compileOpts...)
	if err != nil {
		return nil, err
	}
	description := compiled.EntryAgent.Name
	if description == "" {
		description = def.Description
	}
	if description == "" {
		description = "Delegate a task to the " + name + " agent."
	}
	return &subAgentTool{
		name:        sanitizeToolName(name),
		description: description,
		compiled:    compiled,
		namespace:   childNS,
		saver:       c.opts.CheckpointSaver,
	}, nil
}

type subAgentTool struct {
	name        string
	description string
	compiled    *Compiled
	namespace   string
	saver       graph.CheckpointSaver
}

type subAgentArgs struct {
	// Input is the task handed to the sub-agent.
	Input string `json:"input"`
}

// Declaration implements tool.Tool.
func (t *subAgentTool) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:        t.name,
		Description: t.description,
		InputSchema: &tool.Schema{
			Type: "object",
			Properties: map[string]*tool.Schema{
				"input": {Type: "string", Description: "The task for the sub-agent."},
			},
			Required: []string{"input"},
		},
	}
}

// Call implements tool.CallableTool. The nested run shares the thread's
// checkpoint lineage through the child namespace, so a crashed or
// interrupted sub-agent resumes where it stopped.
func (t *subAgentTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var args subAgentArgs
	if err := json.Unmarshal(jsonArgs, &args); err != nil {
		return nil, agent.NewInputError("sub-agent arguments: %v", err)
	}
	if args.Input == "" {
		return nil, agent.NewInputError("sub-agent call needs an input")
	}

	execOpts := []graph.ExecutorOption{}
	if t.saver != nil {
		execOpts = append(execOpts, graph.WithCheckpointSaver(t.saver))
	}
	if t.compiled.RecursionLimit > 0 {
		execOpts = append(execOpts, graph.WithRecursionLimit(t.compiled.RecursionLimit))
	}
	exec, err := graph.NewExecutor(t.compiled.Graph, execOpts...)
	if err != nil {
		return nil, err
	}
	defer exec.Close()

	inv, ok := agent.InvocationFromContext(ctx)
	if ok {
		inv = inv.Clone(agent.WithInvocationRunOptions(agent.RunOptions{
			RuntimeState:        inv.RunOptions.RuntimeState,
			CheckpointNamespace: t.namespace,
		}))
	} else {
		inv = agent.NewInvocation(agent.WithInvocationRunOptions(agent.RunOptions{
			CheckpointNamespace: t.namespace,
		}))
	}

	initial := graph.State{
		graph.StateKeyUserInput: args.Input,
		graph.StateKeyMessages:  []model.Message{model.NewUserMessage(args.Input)},
	}
	events, err := exec.Execute(ctx, initial, inv)
	if err != nil {
		return nil, err
	}
	var last string
	for evt := range events {
		if evt == nil || evt.Response == nil {
			continue
		}
		if evt.Error != nil {
			return nil, fmt.Errorf("sub-agent %s: %s", t.name, evt.Error.Message)
		}
		for _, choice := range evt.Choices {
			if !evt.IsPartial && choice.Message.Content != "" {
				last = choice.Message.Content
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if last == "" {
		return nil, fmt.Errorf("sub-agent %s produced no response", t.name)
	}
	return last, nil
}

// sanitizeToolName maps an agent key to a model-safe tool name.
func sanitizeToolName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
