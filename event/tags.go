//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"strings"

	"trpc.group/trpc-go/trpc-xpert-go/model"
)

// Presentation tags attached to model completion events. Clients that
// render a thinking indicator use them to tell pre-tool reasoning from
// the concluding answer of the turn.
const (
	// TagReasoningTool: the model is planning or initiating tool calls.
	TagReasoningTool = "reasoning.tool"
	// TagReasoningFinal: the concluding answer, tools already ran or were
	// never needed.
	TagReasoningFinal = "reasoning.final"
	// TagReasoningUnknown: tool intent is not yet observable.
	TagReasoningUnknown = "reasoning.unknown"
)

// AppendTagString appends tag to a TagDelimiter-separated tag string,
// skipping duplicates. Matching is case-sensitive.
func AppendTagString(existing, tag string) string {
	if tag == "" {
		return existing
	}
	if existing == "" {
		return tag
	}
	if ContainsTagString(existing, tag) {
		return existing
	}
	return existing + TagDelimiter + tag
}

// AddTag appends tag to the event, keeping existing tags. Nil events and
// empty tags are no-ops.
func AddTag(e *Event, tag string) {
	if e == nil {
		return
	}
	e.Tag = AppendTagString(e.Tag, tag)
}

// ContainsTagString reports whether the delimited tag string contains tag
// as a whole segment.
func ContainsTagString(existing, tag string) bool {
	if existing == "" || tag == "" {
		return false
	}
	for _, p := range strings.Split(existing, TagDelimiter) {
		if p == tag {
			return true
		}
	}
	return false
}

// HasTag reports whether the event carries tag.
func (e *Event) HasTag(tag string) bool {
	if e == nil || tag == "" {
		return false
	}
	return ContainsTagString(e.Tag, tag)
}

// DecideReasoningTag picks the reasoning tag for a completion event.
// afterTool marks turns whose tool results are already in the history;
// toolPlanSeen carries observed tool intent across chunks of one call and
// is flipped when this event shows a tool-call delta.
func DecideReasoningTag(e *Event, afterTool bool, toolPlanSeen *bool) string {
	if e == nil || e.Response == nil {
		return ""
	}
	if e.Object != model.ObjectTypeChatCompletion && e.Object != model.ObjectTypeChatCompletionChunk {
		return ""
	}
	hasToolDelta := false
	if len(e.Response.Choices) > 0 {
		ch := e.Response.Choices[0]
		hasToolDelta = len(ch.Message.ToolCalls) > 0 || len(ch.Delta.ToolCalls) > 0
	}
	if toolPlanSeen != nil && hasToolDelta {
		*toolPlanSeen = true
	}
	switch {
	case afterTool:
		return TagReasoningFinal
	case (toolPlanSeen != nil && *toolPlanSeen) || hasToolDelta:
		return TagReasoningTool
	default:
		return TagReasoningUnknown
	}
}
