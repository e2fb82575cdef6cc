//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package hitl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/middleware"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

func stateWithToolCalls(calls ...model.ToolCall) graph.State {
	return graph.State{
		graph.StateKeyMessages: []model.Message{
			model.NewUserMessage("do it"),
			{Role: model.RoleAssistant, ToolCalls: calls},
		},
	}
}

func call(id, name, args string) model.ToolCall {
	return model.ToolCall{
		Type: "function",
		ID:   id,
		Function: model.FunctionDefinitionParam{
			Name:      name,
			Arguments: []byte(args),
		},
	}
}

func withResume(state graph.State, value any) graph.State {
	state[graph.StateKeyResumeMap] = map[string]any{InterruptKey: value}
	return state
}

func TestInterruptsOnMatchedCall(t *testing.T) {
	mw := New(map[string]ReviewConfig{
		"dangerous": {AllowedDecisions: []string{DecisionApprove, DecisionReject}},
	})
	s := &middleware.AgentState{State: stateWithToolCalls(call("t9", "dangerous", `{"x":1}`))}

	_, err := mw.AfterModel(context.Background(), s)
	require.Error(t, err)
	ie, ok := graph.AsInterruptError(err)
	require.True(t, ok)
	req, ok := ie.Value.(*Request)
	require.True(t, ok)
	require.Len(t, req.ActionRequests, 1)
	require.Equal(t, "dangerous", req.ActionRequests[0].Name)
	require.Equal(t, []string{"t9"}, req.ToolCallIDs)
}

func TestUnmatchedCallsPassThrough(t *testing.T) {
	mw := New(map[string]ReviewConfig{"dangerous": {}})
	s := &middleware.AgentState{State: stateWithToolCalls(call("t1", "harmless", `{}`))}

	res, err := mw.AfterModel(context.Background(), s)
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestRejectRewritesMessageAndJumpsToModel(t *testing.T) {
	mw := New(map[string]ReviewConfig{
		"dangerous": {AllowedDecisions: []string{DecisionApprove, DecisionReject}},
	})
	state := withResume(stateWithToolCalls(call("t9", "dangerous", `{"x":1}`)),
		map[string]any{"decisions": []any{map[string]any{"type": "reject", "message": "nope"}}})
	s := &middleware.AgentState{State: state}

	res, err := mw.AfterModel(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, middleware.JumpModel, res.JumpTo)

	ops, ok := res.Update[graph.StateKeyMessages].([]graph.MessageOp)
	require.True(t, ok)
	msgs := []model.Message{model.NewUserMessage("do it"), {Role: model.RoleAssistant, ToolCalls: []model.ToolCall{call("t9", "dangerous", `{"x":1}`)}}}
	for _, op := range ops {
		msgs = op.Apply(msgs)
	}
	require.Len(t, msgs, 3)
	assistant := msgs[1]
	require.Len(t, assistant.ToolCalls, 1)
	require.Equal(t, "t9", assistant.ToolCalls[0].ID)
	toolMsg := msgs[2]
	require.Equal(t, model.RoleTool, toolMsg.Role)
	require.Equal(t, model.StatusError, toolMsg.Status)
	require.Equal(t, "nope", toolMsg.Content)
	require.Equal(t, "t9", toolMsg.ToolID)
}

func TestEditKeepsOriginalID(t *testing.T) {
	mw := New(map[string]ReviewConfig{"fetch": {}})
	state := withResume(stateWithToolCalls(call("t2", "fetch", `{"url":"a"}`)),
		map[string]any{"decisions": []any{map[string]any{
			"type":   "edit",
			"action": map[string]any{"name": "fetch", "args": map[string]any{"url": "b"}},
		}}})
	s := &middleware.AgentState{State: state}

	res, err := mw.AfterModel(context.Background(), s)
	require.NoError(t, err)
	require.Empty(t, res.JumpTo)

	ops := res.Update[graph.StateKeyMessages].([]graph.MessageOp)
	msgs := []model.Message{{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{call("t2", "fetch", `{"url":"a"}`)}}}
	for _, op := range ops {
		msgs = op.Apply(msgs)
	}
	edited := msgs[0].ToolCalls[0]
	require.Equal(t, "t2", edited.ID)
	require.JSONEq(t, `{"url":"b"}`, string(edited.Function.Arguments))
}

func TestEditValidatedAgainstArgsSchema(t *testing.T) {
	mw := New(map[string]ReviewConfig{
		"fetch": {ArgsSchema: &tool.Schema{
			Type: "object",
			Properties: map[string]*tool.Schema{
				"url": {Type: "string"},
			},
			Required: []string{"url"},
		}},
	})

	editDecision := func(args map[string]any) map[string]any {
		return map[string]any{"decisions": []any{map[string]any{
			"type":   "edit",
			"action": map[string]any{"name": "fetch", "args": args},
		}}}
	}

	t.Run("conforming edit passes", func(t *testing.T) {
		state := withResume(stateWithToolCalls(call("t3", "fetch", `{"url":"a"}`)),
			editDecision(map[string]any{"url": "b"}))
		res, err := mw.AfterModel(context.Background(), &middleware.AgentState{State: state})
		require.NoError(t, err)
		require.NotNil(t, res)
	})

	t.Run("non-conforming edit rejected", func(t *testing.T) {
		state := withResume(stateWithToolCalls(call("t4", "fetch", `{"url":"a"}`)),
			editDecision(map[string]any{"url": 7}))
		_, err := mw.AfterModel(context.Background(), &middleware.AgentState{State: state})
		require.Error(t, err)
		require.True(t, agent.IsInputError(err))
		require.Contains(t, err.Error(), "schema")
	})

	t.Run("missing required arg rejected", func(t *testing.T) {
		state := withResume(stateWithToolCalls(call("t5", "fetch", `{"url":"a"}`)),
			editDecision(map[string]any{}))
		_, err := mw.AfterModel(context.Background(), &middleware.AgentState{State: state})
		require.Error(t, err)
		require.True(t, agent.IsInputError(err))
	})
}

func TestDecisionCountMismatchIsFatal(t *testing.T) {
	mw := New(map[string]ReviewConfig{"a": {}, "b": {}})
	state := withResume(stateWithToolCalls(call("t1", "a", `{}`), call("t2", "b", `{}`)),
		map[string]any{"decisions": []any{map[string]any{"type": "approve"}}})
	s := &middleware.AgentState{State: state}

	_, err := mw.AfterModel(context.Background(), s)
	require.Error(t, err)
	require.True(t, agent.IsInputError(err))
}

func TestDisallowedDecisionIsFatal(t *testing.T) {
	mw := New(map[string]ReviewConfig{
		"dangerous": {AllowedDecisions: []string{DecisionApprove, DecisionReject}},
	})
	state := withResume(stateWithToolCalls(call("t9", "dangerous", `{}`)),
		map[string]any{"decisions": []any{map[string]any{
			"type":   "edit",
			"action": map[string]any{"name": "dangerous", "args": map[string]any{}},
		}}})
	s := &middleware.AgentState{State: state}

	_, err := mw.AfterModel(context.Background(), s)
	require.Error(t, err)
	require.True(t, agent.IsInputError(err))
}
