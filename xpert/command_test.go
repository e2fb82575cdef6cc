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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/middleware/clienttool"
	"trpc.group/trpc-go/trpc-xpert-go/middleware/hitl"
	"trpc.group/trpc-go/trpc-xpert-go/model"
)

func hitlInterrupt(n int) *graph.InterruptState {
	req := &hitl.Request{}
	for i := 0; i < n; i++ {
		req.ActionRequests = append(req.ActionRequests, hitl.ActionRequest{Name: "send_mail"})
		req.ToolCallIDs = append(req.ToolCallIDs, "call")
	}
	return &graph.InterruptState{Key: hitl.InterruptKey, Value: req}
}

func TestHITLCommandToGraphCommand(t *testing.T) {
	cmd := &Command{
		Type:      CommandTypeHITL,
		Decisions: []hitl.Decision{{Type: hitl.DecisionApprove}, {Type: hitl.DecisionReject}},
	}
	gc, err := cmd.ToGraphCommand(hitlInterrupt(2))
	require.NoError(t, err)
	resume, ok := gc.ResumeMap[hitl.InterruptKey].(map[string]any)
	require.True(t, ok)
	assert.Len(t, resume["decisions"], 2)
}

func TestHITLCommandCountMismatch(t *testing.T) {
	cmd := &Command{
		Type:      CommandTypeHITL,
		Decisions: []hitl.Decision{{Type: hitl.DecisionApprove}},
	}
	_, err := cmd.ToGraphCommand(hitlInterrupt(2))
	var inErr *agent.InputError
	require.ErrorAs(t, err, &inErr)
}

func TestHITLCommandAfterInterruptConsumed(t *testing.T) {
	// A second submission of the same decisions finds no pending
	// interrupt; the command still converts so the executor can settle
	// the duplicate as a no-op.
	cmd := &Command{
		Type:      CommandTypeHITL,
		Decisions: []hitl.Decision{{Type: hitl.DecisionApprove}},
	}
	gc, err := cmd.ToGraphCommand(nil)
	require.NoError(t, err)
	require.NotNil(t, gc)
	assert.Contains(t, gc.ResumeMap, hitl.InterruptKey)
}

func TestClientToolCommand(t *testing.T) {
	interrupt := &graph.InterruptState{
		Key: clienttool.InterruptKey("call_a"),
		Value: &clienttool.Request{ClientToolCalls: []model.ToolCall{
			{ID: "call_a", Type: "function"},
		}},
	}
	cmd := &Command{
		Type:         CommandTypeClientToolResponse,
		ToolMessages: []model.Message{model.NewToolMessage("call_a", "browser_open", "opened")},
	}
	gc, err := cmd.ToGraphCommand(interrupt)
	require.NoError(t, err)
	rsp, ok := gc.ResumeMap[clienttool.InterruptKey("call_a")].(*clienttool.Response)
	require.True(t, ok)
	require.Len(t, rsp.ToolMessages, 1)
	assert.Equal(t, "call_a", rsp.ToolMessages[0].ToolID)
}

func TestClientToolCommandIDMismatch(t *testing.T) {
	interrupt := &graph.InterruptState{
		Key: clienttool.InterruptKey("call_a"),
		Value: &clienttool.Request{ClientToolCalls: []model.ToolCall{
			{ID: "call_a", Type: "function"},
		}},
	}
	cmd := &Command{
		ToolMessages: []model.Message{model.NewToolMessage("call_b", "browser_open", "opened")},
	}
	_, err := cmd.ToGraphCommand(interrupt)
	var inErr *agent.InputError
	require.ErrorAs(t, err, &inErr)
}

func TestRawResumeAndUpdate(t *testing.T) {
	cmd := &Command{
		Resume: true,
		Update: map[string]any{"parameters": map[string]any{"city": "Kyoto"}},
	}
	gc, err := cmd.ToGraphCommand(&graph.InterruptState{Key: "confirm:call_1"})
	require.NoError(t, err)
	assert.Equal(t, true, gc.ResumeMap["confirm:call_1"])
	assert.NotNil(t, gc.Update["parameters"])
}

func TestToolCallRewrite(t *testing.T) {
	cmd := &Command{ToolCalls: []model.ToolCall{{ID: "call_new", Type: "function"}}}
	gc, err := cmd.ToGraphCommand(nil)
	require.NoError(t, err)
	ops, ok := gc.Update[graph.StateKeyMessages].([]graph.MessageOp)
	require.True(t, ok)

	original := model.NewAssistantMessage("let me check")
	original.ToolCalls = []model.ToolCall{{ID: "call_old", Type: "function"}}
	history := []model.Message{model.NewUserMessage("hi"), original}
	for _, op := range ops {
		history = op.Apply(history)
	}
	require.Len(t, history, 2)
	assert.Equal(t, "call_new", history[1].ToolCalls[0].ID)
	// The original message object is untouched.
	assert.Equal(t, "call_old", original.ToolCalls[0].ID)
}

func TestEmptyCommandRejected(t *testing.T) {
	_, err := (&Command{}).ToGraphCommand(nil)
	var inErr *agent.InputError
	require.ErrorAs(t, err, &inErr)

	assert.False(t, (&Command{}).IsResume())
	assert.True(t, (&Command{Resume: "x"}).IsResume())
}
