//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package graph

import "trpc.group/trpc-go/trpc-xpert-go/model"

// MessageOp is an operation applied to the message history by
// MessageReducer. Ops let nodes rewrite history instead of only appending.
type MessageOp interface {
	Apply(messages []model.Message) []model.Message
}

// AppendMessages appends messages to the history.
type AppendMessages struct {
	Messages []model.Message
}

// Apply implements MessageOp.
func (op AppendMessages) Apply(messages []model.Message) []model.Message {
	return append(messages, op.Messages...)
}

// ReplaceMessages replaces the entire history.
type ReplaceMessages struct {
	Messages []model.Message
}

// Apply implements MessageOp.
func (op ReplaceMessages) Apply(messages []model.Message) []model.Message {
	replaced := make([]model.Message, len(op.Messages))
	copy(replaced, op.Messages)
	return replaced
}

// RemoveAllMessages clears the history.
type RemoveAllMessages struct{}

// Apply implements MessageOp.
func (op RemoveAllMessages) Apply(messages []model.Message) []model.Message {
	return []model.Message{}
}

// ReplaceLastMessage swaps the most recent message for another one. On an
// empty history the message is appended.
type ReplaceLastMessage struct {
	Message model.Message
}

// Apply implements MessageOp.
func (op ReplaceLastMessage) Apply(messages []model.Message) []model.Message {
	if len(messages) == 0 {
		return []model.Message{op.Message}
	}
	replaced := make([]model.Message, len(messages))
	copy(replaced, messages)
	replaced[len(replaced)-1] = op.Message
	return replaced
}

// TrimMessages keeps only the most recent KeepLast messages, always
// preserving a leading system message when present.
type TrimMessages struct {
	KeepLast int
}

// Apply implements MessageOp.
func (op TrimMessages) Apply(messages []model.Message) []model.Message {
	if op.KeepLast <= 0 || len(messages) <= op.KeepLast {
		return messages
	}
	var head []model.Message
	body := messages
	if body[0].Role == model.RoleSystem {
		head = body[:1]
		body = body[1:]
	}
	if len(body) > op.KeepLast {
		body = body[len(body)-op.KeepLast:]
	}
	trimmed := make([]model.Message, 0, len(head)+len(body))
	trimmed = append(trimmed, head...)
	trimmed = append(trimmed, body...)
	return trimmed
}

// RemoveToolOrphans drops tool result messages whose initiating tool call
// is no longer in the history. Providers reject dangling tool results, so
// rewrites that drop assistant turns use this to keep the history valid.
type RemoveToolOrphans struct{}

// Apply implements MessageOp.
func (op RemoveToolOrphans) Apply(messages []model.Message) []model.Message {
	known := make(map[string]struct{})
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			known[tc.ID] = struct{}{}
		}
	}
	kept := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == model.RoleTool {
			if _, ok := known[m.ToolID]; !ok {
				continue
			}
		}
		kept = append(kept, m)
	}
	return kept
}
