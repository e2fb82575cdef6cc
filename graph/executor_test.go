//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package graph_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/event"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	checkpointinmemory "trpc.group/trpc-go/trpc-xpert-go/graph/checkpoint/inmemory"
)

// stepsSchema tracks which nodes ran, in order.
func stepsSchema() *graph.StateSchema {
	return graph.NewStateSchema().AddField("steps", graph.StateField{
		Type:    reflect.TypeOf([]string{}),
		Reducer: graph.StringSliceReducer,
		Default: func() any { return []string{} },
	})
}

func recordNode(name string) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		return graph.State{"steps": name}, nil
	}
}

func drain(t *testing.T, events <-chan *event.Event) []*event.Event {
	t.Helper()
	var collected []*event.Event
	for e := range events {
		collected = append(collected, e)
	}
	return collected
}

// finalSteps decodes the steps channel from the serialized final state of
// the completion event.
func finalSteps(t *testing.T, events []*event.Event) []string {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Object != graph.ObjectTypeGraphExecution || !e.Done {
			continue
		}
		raw, ok := e.StateDelta["steps"]
		require.True(t, ok, "completion event carries no steps")
		var steps []string
		require.NoError(t, json.Unmarshal(raw, &steps))
		return steps
	}
	t.Fatal("no completion event")
	return nil
}

func execute(t *testing.T, g *graph.Graph, state graph.State, opts ...graph.ExecutorOption) []*event.Event {
	t.Helper()
	exec, err := graph.NewExecutor(g, opts...)
	require.NoError(t, err)
	defer exec.Close()
	events, err := exec.Execute(context.Background(), state, &agent.Invocation{InvocationID: "inv-test"})
	require.NoError(t, err)
	return drain(t, events)
}

func TestExecutorLinearRun(t *testing.T) {
	g, err := graph.NewStateGraph(stepsSchema()).
		AddNode("a", recordNode("a")).
		AddNode("b", recordNode("b")).
		AddEdge(graph.Start, "a").
		AddEdge("a", "b").
		SetFinishPoint("b").
		Compile()
	require.NoError(t, err)

	events := execute(t, g, graph.State{})
	assert.Equal(t, []string{"a", "b"}, finalSteps(t, events))
}

func TestExecutorConditionalRouting(t *testing.T) {
	g, err := graph.NewStateGraph(stepsSchema()).
		AddNode("router", recordNode("router")).
		AddNode("left", recordNode("left")).
		AddNode("right", recordNode("right")).
		AddEdge(graph.Start, "router").
		AddConditionalEdges("router", func(ctx context.Context, state graph.State) (any, error) {
			if v, _ := state["go"].(string); v == "left" {
				return "left", nil
			}
			return "right", nil
		}, map[string]string{"left": "left", "right": "right"}).
		SetFinishPoint("left").
		SetFinishPoint("right").
		Compile()
	require.NoError(t, err)

	events := execute(t, g, graph.State{"go": "left"})
	assert.Equal(t, []string{"router", "left"}, finalSteps(t, events))

	events = execute(t, g, graph.State{"go": "elsewhere"})
	assert.Equal(t, []string{"router", "right"}, finalSteps(t, events))
}

func TestExecutorPathMapViolation(t *testing.T) {
	g, err := graph.NewStateGraph(stepsSchema()).
		AddNode("router", recordNode("router")).
		AddNode("left", recordNode("left")).
		AddEdge(graph.Start, "router").
		AddConditionalEdges("router", func(ctx context.Context, state graph.State) (any, error) {
			return "unknown", nil
		}, map[string]string{"left": "left"}).
		SetFinishPoint("left").
		Compile()
	require.NoError(t, err)

	events := execute(t, g, graph.State{})
	last := events[len(events)-1]
	require.NotNil(t, last.Error)
	assert.Contains(t, last.Error.Message, "not in path map")
}

func TestExecutorJoinWaitsForAllSources(t *testing.T) {
	g, err := graph.NewStateGraph(stepsSchema()).
		AddNode("fan", recordNode("fan")).
		AddNode("b", recordNode("b")).
		AddNode("c", recordNode("c")).
		AddNode("merge", recordNode("merge")).
		AddEdge(graph.Start, "fan").
		AddEdge("fan", "b").
		AddEdge("fan", "c").
		AddJoinEdge([]string{"b", "c"}, "merge").
		SetFinishPoint("merge").
		Compile()
	require.NoError(t, err)

	steps := finalSteps(t, execute(t, g, graph.State{}))
	require.Len(t, steps, 4)
	assert.Equal(t, "fan", steps[0])
	// b and c run in the same super-step; merge runs once, last.
	assert.ElementsMatch(t, []string{"b", "c"}, steps[1:3])
	assert.Equal(t, "merge", steps[3])
}

func TestExecutorSendFanOut(t *testing.T) {
	worker := func(ctx context.Context, state graph.State) (any, error) {
		item, _ := state["item"].(string)
		return graph.State{"steps": "worker:" + item}, nil
	}
	g, err := graph.NewStateGraph(stepsSchema()).
		AddNode("plan", recordNode("plan")).
		AddNode("worker", worker).
		AddEdge(graph.Start, "plan").
		AddConditionalEdges("plan", func(ctx context.Context, state graph.State) (any, error) {
			return []graph.Send{
				{Node: "worker", State: graph.State{"item": "x"}},
				{Node: "worker", State: graph.State{"item": "y"}},
			}, nil
		}, nil).
		SetFinishPoint("worker").
		Compile()
	require.NoError(t, err)

	steps := finalSteps(t, execute(t, g, graph.State{}))
	assert.Equal(t, "plan", steps[0])
	assert.ElementsMatch(t, []string{"worker:x", "worker:y"}, steps[1:])
}

func TestExecutorCommandRouting(t *testing.T) {
	jumper := func(ctx context.Context, state graph.State) (any, error) {
		return &graph.Command{
			Update: graph.State{"steps": "jumper"},
			GoTo:   []graph.Send{{Node: "target"}},
		}, nil
	}
	g, err := graph.NewStateGraph(stepsSchema()).
		AddNode("jumper", jumper).
		AddNode("skipped", recordNode("skipped")).
		AddNode("target", recordNode("target")).
		AddEdge(graph.Start, "jumper").
		AddEdge("jumper", "skipped").
		SetFinishPoint("skipped").
		SetFinishPoint("target").
		Compile()
	require.NoError(t, err)

	// Command.GoTo replaces the static edge to "skipped".
	assert.Equal(t, []string{"jumper", "target"}, finalSteps(t, execute(t, g, graph.State{})))
}

func TestExecutorRecursionLimit(t *testing.T) {
	g, err := graph.NewStateGraph(stepsSchema()).
		AddNode("loop", func(ctx context.Context, state graph.State) (any, error) {
			return &graph.Command{GoTo: []graph.Send{{Node: "loop"}}}, nil
		}).
		AddEdge(graph.Start, "loop").
		Compile()
	require.NoError(t, err)

	events := execute(t, g, graph.State{}, graph.WithMaxSteps(3))
	last := events[len(events)-1]
	require.NotNil(t, last.Error)
	assert.Contains(t, last.Error.Message, "recursion limit")
}

func TestExecutorRejectsUndeclaredStateKey(t *testing.T) {
	g, err := graph.NewStateGraph(stepsSchema()).
		AddNode("writer", func(ctx context.Context, state graph.State) (any, error) {
			return graph.State{"undeclared": 1}, nil
		}).
		AddEdge(graph.Start, "writer").
		SetFinishPoint("writer").
		Compile()
	require.NoError(t, err)

	events := execute(t, g, graph.State{})
	last := events[len(events)-1]
	require.NotNil(t, last.Error)
	assert.Contains(t, last.Error.Message, "unknown state key")
}

func TestExecutorNodeRetry(t *testing.T) {
	attempts := 0
	flaky := func(ctx context.Context, state graph.State) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, assert.AnError
		}
		return graph.State{"steps": "flaky"}, nil
	}
	g, err := graph.NewStateGraph(stepsSchema()).
		AddNode("flaky", flaky, graph.WithRetryPolicy(&graph.RetryPolicy{MaxAttempts: 3})).
		AddEdge(graph.Start, "flaky").
		SetFinishPoint("flaky").
		Compile()
	require.NoError(t, err)

	assert.Equal(t, []string{"flaky"}, finalSteps(t, execute(t, g, graph.State{})))
	assert.Equal(t, 3, attempts)
}

func TestExecutorInterruptAndResume(t *testing.T) {
	approve := func(ctx context.Context, state graph.State) (any, error) {
		decision, err := graph.Interrupt(ctx, state, "approval", "please review")
		if err != nil {
			return nil, err
		}
		return graph.State{"steps": "approved:" + decision.(string)}, nil
	}
	g, err := graph.NewStateGraph(stepsSchema()).
		AddNode("prepare", recordNode("prepare")).
		AddNode("approve", approve).
		AddEdge(graph.Start, "prepare").
		AddEdge("prepare", "approve").
		SetFinishPoint("approve").
		Compile()
	require.NoError(t, err)

	saver := checkpointinmemory.NewSaver()
	exec, err := graph.NewExecutor(g, graph.WithCheckpointSaver(saver))
	require.NoError(t, err)
	defer exec.Close()

	inv := &agent.Invocation{InvocationID: "inv-hitl"}
	inv.RunOptions.RuntimeState = map[string]any{graph.CfgKeyThreadID: "t-hitl"}

	events, err := exec.Execute(context.Background(), graph.State{}, inv)
	require.NoError(t, err)
	collected := drain(t, events)

	interrupted := false
	for _, e := range collected {
		if e.Object == graph.ObjectTypeGraphCheckpointInterrupt {
			interrupted = true
		}
	}
	require.True(t, interrupted, "run did not interrupt")

	// The interrupt checkpoint records the frontier to resume from.
	config := graph.CreateCheckpointConfig("t-hitl", "", "")
	ckpt, err := saver.Get(context.Background(), config)
	require.NoError(t, err)
	require.NotNil(t, ckpt)
	require.True(t, ckpt.IsInterrupted())
	assert.Equal(t, []string{"approve"}, ckpt.NextNodes)

	// Resume with a decision; the node returns the resume value.
	resumeState := graph.State{
		graph.StateKeyCommand: &graph.Command{Resume: "ship it"},
	}
	events, err = exec.Execute(context.Background(), resumeState, inv)
	require.NoError(t, err)
	steps := finalSteps(t, drain(t, events))
	assert.Contains(t, steps, "approved:ship it")

	// The final checkpoint is no longer interrupted.
	ckpt, err = saver.Get(context.Background(), config)
	require.NoError(t, err)
	assert.False(t, ckpt.IsInterrupted())
}

func TestExecutorDuplicateResumeIsNoOp(t *testing.T) {
	ran := 0
	approve := func(ctx context.Context, state graph.State) (any, error) {
		decision, err := graph.Interrupt(ctx, state, "approval", "please review")
		if err != nil {
			return nil, err
		}
		ran++
		return graph.State{"steps": "approved:" + decision.(string)}, nil
	}
	g, err := graph.NewStateGraph(stepsSchema()).
		AddNode("approve", approve).
		AddEdge(graph.Start, "approve").
		SetFinishPoint("approve").
		Compile()
	require.NoError(t, err)

	saver := checkpointinmemory.NewSaver()
	exec, err := graph.NewExecutor(g, graph.WithCheckpointSaver(saver))
	require.NoError(t, err)
	defer exec.Close()

	inv := &agent.Invocation{InvocationID: "inv-dup"}
	inv.RunOptions.RuntimeState = map[string]any{graph.CfgKeyThreadID: "t-dup"}

	events, err := exec.Execute(context.Background(), graph.State{}, inv)
	require.NoError(t, err)
	drain(t, events)

	resumeState := graph.State{
		graph.StateKeyCommand: &graph.Command{Resume: "ship it"},
	}
	events, err = exec.Execute(context.Background(), resumeState, inv)
	require.NoError(t, err)
	firstSteps := finalSteps(t, drain(t, events))
	assert.Contains(t, firstSteps, "approved:ship it")
	require.Equal(t, 1, ran)

	// The same resume again must settle without error and without
	// replaying the node.
	duplicateState := graph.State{
		graph.StateKeyCommand: &graph.Command{Resume: "ship it"},
	}
	events, err = exec.Execute(context.Background(), duplicateState, inv)
	require.NoError(t, err)
	collected := drain(t, events)
	for _, e := range collected {
		require.Nil(t, e.Error, "duplicate resume surfaced an error: %v", e.Error)
	}
	assert.Equal(t, firstSteps, finalSteps(t, collected))
	assert.Equal(t, 1, ran)

	// The settled checkpoint survives untouched.
	ckpt, err := saver.Get(context.Background(), graph.CreateCheckpointConfig("t-dup", "", ""))
	require.NoError(t, err)
	require.NotNil(t, ckpt)
	assert.False(t, ckpt.IsInterrupted())
}

func TestExecutorResumeWithoutCheckpoint(t *testing.T) {
	g, err := graph.NewStateGraph(stepsSchema()).
		AddNode("a", recordNode("a")).
		AddEdge(graph.Start, "a").
		SetFinishPoint("a").
		Compile()
	require.NoError(t, err)

	saver := checkpointinmemory.NewSaver()
	exec, err := graph.NewExecutor(g, graph.WithCheckpointSaver(saver))
	require.NoError(t, err)
	defer exec.Close()

	inv := &agent.Invocation{InvocationID: "inv-cold"}
	inv.RunOptions.RuntimeState = map[string]any{graph.CfgKeyThreadID: "t-cold"}
	events, err := exec.Execute(context.Background(), graph.State{
		graph.StateKeyCommand: &graph.Command{Resume: "nothing pending"},
	}, inv)
	require.NoError(t, err)
	collected := drain(t, events)
	last := collected[len(collected)-1]
	require.NotNil(t, last.Error)
	assert.Contains(t, last.Error.Message, "checkpoint not found")
}

func TestExecutorContinuesThread(t *testing.T) {
	g, err := graph.NewStateGraph(stepsSchema()).
		AddNode("a", recordNode("a")).
		AddEdge(graph.Start, "a").
		SetFinishPoint("a").
		Compile()
	require.NoError(t, err)

	saver := checkpointinmemory.NewSaver()
	exec, err := graph.NewExecutor(g, graph.WithCheckpointSaver(saver))
	require.NoError(t, err)
	defer exec.Close()

	inv := &agent.Invocation{InvocationID: "inv-turns"}
	inv.RunOptions.RuntimeState = map[string]any{graph.CfgKeyThreadID: "t-turns"}

	events, err := exec.Execute(context.Background(), graph.State{}, inv)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, finalSteps(t, drain(t, events)))

	// A second turn restores the thread's state and runs again.
	events, err = exec.Execute(context.Background(), graph.State{}, inv)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a"}, finalSteps(t, drain(t, events)))
}

// brokenSaver accepts the first allow PutFull calls and fails afterwards.
type brokenSaver struct {
	mu    sync.Mutex
	puts  int
	allow int
}

var errSaverDown = errors.New("saver down")

func (s *brokenSaver) Get(ctx context.Context, config map[string]any) (*graph.Checkpoint, error) {
	return nil, nil
}

func (s *brokenSaver) GetTuple(ctx context.Context, config map[string]any) (*graph.CheckpointTuple, error) {
	return nil, nil
}

func (s *brokenSaver) List(ctx context.Context, config map[string]any, filter *graph.CheckpointFilter) ([]*graph.CheckpointTuple, error) {
	return nil, nil
}

func (s *brokenSaver) Put(ctx context.Context, req graph.PutRequest) (map[string]any, error) {
	return nil, errSaverDown
}

func (s *brokenSaver) PutWrites(ctx context.Context, req graph.PutWritesRequest) error {
	return errSaverDown
}

func (s *brokenSaver) PutFull(ctx context.Context, req graph.PutFullRequest) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.puts > s.allow {
		return nil, errSaverDown
	}
	return req.Config, nil
}

func (s *brokenSaver) DeleteThread(ctx context.Context, threadID string) error { return nil }

func (s *brokenSaver) Close() error { return nil }

func TestExecutorCheckpointSaveFailureFailsRun(t *testing.T) {
	newGraph := func(t *testing.T) *graph.Graph {
		g, err := graph.NewStateGraph(stepsSchema()).
			AddNode("a", recordNode("a")).
			AddEdge(graph.Start, "a").
			SetFinishPoint("a").
			Compile()
		require.NoError(t, err)
		return g
	}
	run := func(t *testing.T, saver graph.CheckpointSaver) []*event.Event {
		exec, err := graph.NewExecutor(newGraph(t), graph.WithCheckpointSaver(saver))
		require.NoError(t, err)
		defer exec.Close()
		events, err := exec.Execute(context.Background(), graph.State{}, &agent.Invocation{InvocationID: "inv-ckpt-fail"})
		require.NoError(t, err)
		return drain(t, events)
	}
	assertFailed := func(t *testing.T, collected []*event.Event) {
		var sawError, sawCompletion bool
		for _, e := range collected {
			if e.Error != nil {
				assert.Contains(t, e.Error.Message, "checkpoint save failed")
				sawError = true
			}
			if e.Object == graph.ObjectTypeGraphExecution && e.Done {
				sawCompletion = true
			}
		}
		require.True(t, sawError, "saver failure did not surface on the stream")
		assert.False(t, sawCompletion, "run completed despite losing its checkpoint")
	}

	t.Run("initial checkpoint", func(t *testing.T) {
		assertFailed(t, run(t, &brokenSaver{}))
	})
	t.Run("superstep checkpoint", func(t *testing.T) {
		assertFailed(t, run(t, &brokenSaver{allow: 1}))
	})
}

func TestExecutorRecordsNodeSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	g, err := graph.NewStateGraph(stepsSchema()).
		AddNode("a", recordNode("a")).
		AddNode("b", recordNode("b")).
		AddEdge(graph.Start, "a").
		AddEdge("a", "b").
		SetFinishPoint("b").
		Compile()
	require.NoError(t, err)
	execute(t, g, graph.State{})

	var nodeIDs []string
	for _, span := range recorder.Ended() {
		if span.Name() != "graph.node" {
			continue
		}
		for _, kv := range span.Attributes() {
			if kv.Key == "node.id" {
				nodeIDs = append(nodeIDs, kv.Value.AsString())
			}
		}
	}
	assert.ElementsMatch(t, []string{"a", "b"}, nodeIDs)
}
