//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package graphagent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/model"
)

func echoGraph(t *testing.T) *graph.Graph {
	t.Helper()
	sg := graph.NewStateGraph(graph.MessagesStateSchema())
	sg.AddNode("echo", func(ctx context.Context, state graph.State) (any, error) {
		input, _ := graph.GetStateValue[string](state, graph.StateKeyUserInput)
		return graph.State{graph.StateKeyLastResponse: "echo: " + input}, nil
	})
	sg.SetEntryPoint("echo")
	sg.SetFinishPoint("echo")
	g, err := sg.Compile()
	require.NoError(t, err)
	return g
}

func TestGraphAgentRun(t *testing.T) {
	a, err := New("echoer", echoGraph(t), WithDescription("echoes input"))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "echoer", a.Info().Name)
	assert.Equal(t, "echoes input", a.Info().Description)
	assert.Empty(t, a.Tools())

	inv := agent.NewInvocation(agent.WithInvocationMessage(model.NewUserMessage("hi")))
	events, err := a.Run(context.Background(), inv)
	require.NoError(t, err)

	var sawError bool
	for evt := range events {
		if evt != nil && evt.Response != nil && evt.Error != nil {
			sawError = true
		}
	}
	assert.False(t, sawError)
}

func TestGraphAgentNilGraph(t *testing.T) {
	_, err := New("broken", nil)
	require.Error(t, err)
}

func TestGraphAgentInitialState(t *testing.T) {
	sg := graph.NewStateGraph(graph.MessagesStateSchema())
	var seen string
	sg.AddNode("probe", func(ctx context.Context, state graph.State) (any, error) {
		seen, _ = graph.GetStateValue[string](state, graph.StateKeyUserInput)
		return nil, nil
	})
	sg.SetEntryPoint("probe")
	sg.SetFinishPoint("probe")
	g, err := sg.Compile()
	require.NoError(t, err)

	a, err := New("probe", g, WithInitialState(graph.State{graph.StateKeyUserInput: "seeded"}))
	require.NoError(t, err)
	defer a.Close()

	events, err := a.Run(context.Background(), agent.NewInvocation())
	require.NoError(t, err)
	for range events {
	}
	assert.Equal(t, "seeded", seen)
}

func TestGraphAgentSubAgents(t *testing.T) {
	inner, err := New("inner", echoGraph(t))
	require.NoError(t, err)
	outer, err := New("outer", echoGraph(t), WithSubAgents(inner))
	require.NoError(t, err)

	require.Len(t, outer.SubAgents(), 1)
	assert.Equal(t, inner, outer.FindSubAgent("inner"))
	assert.Nil(t, outer.FindSubAgent("missing"))
}
