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
	"strings"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// newKnowledgeTool exposes one knowledgebase as a retriever tool. A nil
// retriever yields empty recall instead of failing, so definitions stay
// loadable without a retrieval backend.
func newKnowledgeTool(knowledgebaseID string, retriever KnowledgeRetriever) tool.CallableTool {
	return &knowledgeTool{id: knowledgebaseID, retriever: retriever}
}

type knowledgeTool struct {
	id        string
	retriever KnowledgeRetriever
}

type knowledgeArgs struct {
	Query string `json:"query"`
}

// Declaration implements tool.Tool.
func (t *knowledgeTool) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:        "retrieve_" + sanitizeToolName(t.id),
		Description: "Search the " + t.id + " knowledgebase for passages relevant to a query.",
		InputSchema: &tool.Schema{
			Type: "object",
			Properties: map[string]*tool.Schema{
				"query": {Type: "string", Description: "What to search for."},
			},
			Required: []string{"query"},
		},
	}
}

// Call implements tool.CallableTool.
func (t *knowledgeTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var args knowledgeArgs
	if err := json.Unmarshal(jsonArgs, &args); err != nil {
		return nil, agent.NewInputError("retriever arguments: %v", err)
	}
	if args.Query == "" {
		return nil, agent.NewInputError("retriever call needs a query")
	}
	if t.retriever == nil {
		return "No passages found.", nil
	}
	passages, err := t.retriever.Retrieve(ctx, t.id, args.Query)
	if err != nil {
		return nil, err
	}
	if len(passages) == 0 {
		return "No passages found.", nil
	}
	return strings.Join(passages, "\n\n"), nil
}
