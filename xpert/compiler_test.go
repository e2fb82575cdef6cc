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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/event"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	checkpointinmemory "trpc.group/trpc-go/trpc-xpert-go/graph/checkpoint/inmemory"
	"trpc.group/trpc-go/trpc-xpert-go/ledger"
	ledgerinmemory "trpc.group/trpc-go/trpc-xpert-go/ledger/inmemory"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// scriptedModel pops one canned reply per call and repeats the last one
// when the script runs out.
type scriptedModel struct {
	mu      sync.Mutex
	replies []model.Message
	calls   int
}

func (m *scriptedModel) GenerateContent(ctx context.Context, req *model.Request) (<-chan *model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	msg := model.NewAssistantMessage("done")
	if len(m.replies) > 0 {
		msg = m.replies[0]
		if len(m.replies) > 1 {
			m.replies = m.replies[1:]
		}
	}
	ch := make(chan *model.Response, 1)
	ch <- &model.Response{
		Object:  model.ObjectTypeChatCompletion,
		Choices: []model.Choice{{Message: msg}},
		Usage:   &model.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
		Done:    true,
	}
	close(ch)
	return ch, nil
}

func (m *scriptedModel) Info() model.Info {
	return model.Info{Name: "scripted", Provider: "test"}
}

type stubTool struct {
	decl *tool.Declaration
	fn   func(ctx context.Context, args []byte) (any, error)
}

func (t *stubTool) Declaration() *tool.Declaration { return t.decl }

func (t *stubTool) Call(ctx context.Context, args []byte) (any, error) {
	return t.fn(ctx, args)
}

func assistantWithToolCall(id, name, args string) model.Message {
	msg := model.NewAssistantMessage("")
	msg.ToolCalls = []model.ToolCall{{
		Type: "function",
		ID:   id,
		Function: model.FunctionDefinitionParam{
			Name:      name,
			Arguments: []byte(args),
		},
	}}
	return msg
}

func singleAgentXpert(agentDef *XpertAgent) *Xpert {
	return &Xpert{ID: "x1", Slug: "test-xpert", Agent: agentDef}
}

func runToCompletion(t *testing.T, compiled *Compiled, saver graph.CheckpointSaver,
	threadID, input string, execOpts ...graph.ExecutorOption) []*event.Event {
	t.Helper()
	if saver != nil {
		execOpts = append(execOpts, graph.WithCheckpointSaver(saver))
	}
	exec, err := graph.NewExecutor(compiled.Graph, execOpts...)
	require.NoError(t, err)
	defer exec.Close()

	inv := agent.NewInvocation(agent.WithInvocationRunOptions(agent.RunOptions{
		RuntimeState: map[string]any{graph.CfgKeyThreadID: threadID},
	}))
	events, err := exec.Execute(context.Background(), graph.State{
		graph.StateKeyUserInput: input,
		graph.StateKeyMessages:  []model.Message{model.NewUserMessage(input)},
	}, inv)
	require.NoError(t, err)

	var collected []*event.Event
	for evt := range events {
		collected = append(collected, evt)
	}
	return collected
}

func latestCheckpoint(t *testing.T, saver graph.CheckpointSaver, threadID string) *graph.Checkpoint {
	t.Helper()
	ckpt, err := saver.Get(context.Background(),
		graph.CreateCheckpointConfig(threadID, "", ""))
	require.NoError(t, err)
	require.NotNil(t, ckpt)
	return ckpt
}

func TestCompileStructuredOutput(t *testing.T) {
	m := &scriptedModel{replies: []model.Message{
		model.NewAssistantMessage(`{"title":"Weekend in Kyoto","days":2}`),
	}}
	x := singleAgentXpert(&XpertAgent{
		Key:    "planner",
		Prompt: "You plan trips.",
		OutputVariables: []OutputVariable{
			{Name: "title", Type: "string"},
			{Name: "days", Type: "number"},
		},
	})
	compiled, err := Compile(x, "", WithModel(m))
	require.NoError(t, err)

	saver := checkpointinmemory.NewSaver()
	runToCompletion(t, compiled, saver, "thread-structured", "plan kyoto")

	ckpt := latestCheckpoint(t, saver, "thread-structured")
	channel, ok := ckpt.ChannelValues[ChannelKey("planner")].(*AgentChannel)
	require.True(t, ok, "agent channel missing from checkpoint")
	output, ok := channel.Output.(map[string]any)
	require.True(t, ok, "structured output not parsed")
	assert.Equal(t, "Weekend in Kyoto", output["title"])
	assert.EqualValues(t, 2, output["days"])
}

func TestCompileToolLoop(t *testing.T) {
	m := &scriptedModel{replies: []model.Message{
		assistantWithToolCall("call_w1", "get_weather", `{"city":"Tokyo"}`),
		model.NewAssistantMessage("It is sunny in Tokyo."),
	}}
	weather := &stubTool{
		decl: &tool.Declaration{
			Name:        "get_weather",
			Description: "Look up the weather.",
			InputSchema: &tool.Schema{
				Type: "object",
				Properties: map[string]*tool.Schema{
					"city": {Type: "string"},
				},
				Required: []string{"city"},
			},
		},
		fn: func(ctx context.Context, args []byte) (any, error) {
			var in struct {
				City string `json:"city"`
			}
			require.NoError(t, json.Unmarshal(args, &in))
			return "sunny in " + in.City, nil
		},
	}
	reg := NewRegistry()
	reg.RegisterToolset(tool.NewStaticToolSet("weather", "builtin",
		[]tool.CallableTool{weather}))

	x := singleAgentXpert(&XpertAgent{
		Key:        "assistant",
		Prompt:     "You answer weather questions.",
		ToolsetIDs: []string{"weather"},
	})
	ledgerSvc := ledgerinmemory.NewService()
	compiled, err := Compile(x, "", WithModel(m), WithRegistry(reg), WithLedger(ledgerSvc))
	require.NoError(t, err)

	saver := checkpointinmemory.NewSaver()
	runToCompletion(t, compiled, saver, "thread-tools", "weather in tokyo?")

	ckpt := latestCheckpoint(t, saver, "thread-tools")
	msgs, ok := ckpt.ChannelValues[graph.StateKeyMessages].([]model.Message)
	require.True(t, ok)

	var toolMsg *model.Message
	for i := range msgs {
		if msgs[i].Role == model.RoleTool {
			toolMsg = &msgs[i]
		}
	}
	require.NotNil(t, toolMsg, "tool reply missing from history")
	assert.Equal(t, "call_w1", toolMsg.ToolID)
	assert.Equal(t, "sunny in Tokyo", toolMsg.Content)
	assert.Equal(t, "It is sunny in Tokyo.", msgs[len(msgs)-1].Content)
	assert.Equal(t, 2, m.calls)

	// Both the model turns and the tool turn left ledger rows; the tool
	// row names its caller.
	rows, err := ledgerSvc.List(context.Background(), ledger.Filter{ThreadID: "thread-tools"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	var toolRow *ledger.Execution
	for _, row := range rows {
		if row.AgentKey == "get_weather" {
			toolRow = row
		}
		assert.Equal(t, ledger.StatusSuccess, row.Status)
	}
	require.NotNil(t, toolRow)
	assert.Equal(t, "assistant", toolRow.Predecessor)
}

func TestToolArgsRejectedBySchema(t *testing.T) {
	m := &scriptedModel{replies: []model.Message{
		assistantWithToolCall("call_bad", "get_weather", `{"city":7}`),
		model.NewAssistantMessage("I could not call the tool."),
	}}
	weather := &stubTool{
		decl: &tool.Declaration{
			Name: "get_weather",
			InputSchema: &tool.Schema{
				Type: "object",
				Properties: map[string]*tool.Schema{
					"city": {Type: "string"},
				},
				Required: []string{"city"},
			},
		},
		fn: func(ctx context.Context, args []byte) (any, error) {
			t.Fatal("tool must not run with invalid arguments")
			return nil, nil
		},
	}
	reg := NewRegistry()
	reg.RegisterToolset(tool.NewStaticToolSet("weather", "builtin",
		[]tool.CallableTool{weather}))

	x := singleAgentXpert(&XpertAgent{Key: "assistant", ToolsetIDs: []string{"weather"}})
	compiled, err := Compile(x, "", WithModel(m), WithRegistry(reg))
	require.NoError(t, err)

	saver := checkpointinmemory.NewSaver()
	runToCompletion(t, compiled, saver, "thread-badargs", "weather?")

	ckpt := latestCheckpoint(t, saver, "thread-badargs")
	msgs := ckpt.ChannelValues[graph.StateKeyMessages].([]model.Message)
	var toolMsg *model.Message
	for i := range msgs {
		if msgs[i].Role == model.RoleTool {
			toolMsg = &msgs[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, model.StatusError, toolMsg.Status)
	assert.Contains(t, toolMsg.Content, "schema")
}

func TestRecursionLimit(t *testing.T) {
	// The model never stops calling tools, so the step budget must end
	// the run.
	m := &scriptedModel{replies: []model.Message{
		assistantWithToolCall("call_loop", "noop", `{}`),
	}}
	noop := &stubTool{
		decl: &tool.Declaration{Name: "noop"},
		fn: func(ctx context.Context, args []byte) (any, error) {
			return "ok", nil
		},
	}
	reg := NewRegistry()
	reg.RegisterToolset(tool.NewStaticToolSet("noops", "builtin", []tool.CallableTool{noop}))

	x := singleAgentXpert(&XpertAgent{Key: "looper", ToolsetIDs: []string{"noops"}})
	compiled, err := Compile(x, "", WithModel(m), WithRegistry(reg))
	require.NoError(t, err)

	events := runToCompletion(t, compiled, nil, "", "loop forever",
		graph.WithRecursionLimit(4))

	var failed bool
	for _, evt := range events {
		if evt != nil && evt.Response != nil && evt.Error != nil {
			failed = true
			assert.Contains(t, evt.Error.Message, "recursion limit")
		}
	}
	assert.True(t, failed, "run should fail on the recursion limit")
}

func TestSensitiveToolInterruptsAndResumes(t *testing.T) {
	m := &scriptedModel{replies: []model.Message{
		assistantWithToolCall("call_rm", "delete_file", `{"path":"/tmp/x"}`),
		model.NewAssistantMessage("Deleted."),
	}}
	var executed bool
	deleter := &stubTool{
		decl: &tool.Declaration{Name: "delete_file"},
		fn: func(ctx context.Context, args []byte) (any, error) {
			executed = true
			return "removed", nil
		},
	}
	reg := NewRegistry()
	reg.RegisterToolset(tool.NewStaticToolSet("files", "builtin",
		[]tool.CallableTool{deleter}, tool.WithSensitive("delete_file")))

	x := singleAgentXpert(&XpertAgent{Key: "ops", ToolsetIDs: []string{"files"}})
	compiled, err := Compile(x, "", WithModel(m), WithRegistry(reg))
	require.NoError(t, err)
	assert.Contains(t, compiled.InterruptBefore, "delete_file")

	saver := checkpointinmemory.NewSaver()
	runToCompletion(t, compiled, saver, "thread-confirm", "delete /tmp/x")

	ckpt := latestCheckpoint(t, saver, "thread-confirm")
	require.True(t, ckpt.IsInterrupted(), "sensitive tool must pause the run")
	assert.Equal(t, ConfirmInterruptKeyPrefix+"call_rm", ckpt.InterruptState.Key)
	assert.False(t, executed, "tool must not run before approval")

	// Approve and resume from the interrupt checkpoint.
	exec, err := graph.NewExecutor(compiled.Graph, graph.WithCheckpointSaver(saver))
	require.NoError(t, err)
	defer exec.Close()
	inv := agent.NewInvocation(agent.WithInvocationRunOptions(agent.RunOptions{
		RuntimeState: map[string]any{graph.CfgKeyThreadID: "thread-confirm"},
		IsResume:     true,
	}))
	events, err := exec.Execute(context.Background(), graph.State{
		graph.StateKeyCommand: &graph.Command{
			ResumeMap: map[string]any{ConfirmInterruptKeyPrefix + "call_rm": true},
		},
	}, inv)
	require.NoError(t, err)
	for range events {
	}

	assert.True(t, executed, "tool must run after approval")
	final := latestCheckpoint(t, saver, "thread-confirm")
	assert.False(t, final.IsInterrupted())
}

// capturingModel records the messages of every request it serves.
type capturingModel struct {
	scriptedModel
	requests [][]model.Message
}

func (m *capturingModel) GenerateContent(ctx context.Context, req *model.Request) (<-chan *model.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, append([]model.Message(nil), req.Messages...))
	m.mu.Unlock()
	return m.scriptedModel.GenerateContent(ctx, req)
}

func TestDisableMessageHistory(t *testing.T) {
	m := &capturingModel{}
	x := singleAgentXpert(&XpertAgent{
		Key:     "curt",
		Prompt:  "Answer briefly.",
		Options: &AgentOptions{DisableMessageHistory: true},
	})
	compiled, err := Compile(x, "", WithModel(m))
	require.NoError(t, err)

	exec, err := graph.NewExecutor(compiled.Graph)
	require.NoError(t, err)
	defer exec.Close()

	history := []model.Message{
		model.NewUserMessage("first question"),
		model.NewAssistantMessage("first answer"),
		model.NewUserMessage("second question"),
	}
	events, err := exec.Execute(context.Background(), graph.State{
		graph.StateKeyUserInput: "second question",
		graph.StateKeyMessages:  history,
	}, agent.NewInvocation())
	require.NoError(t, err)
	for range events {
	}

	require.Len(t, m.requests, 1)
	sent := m.requests[0]
	// Earlier turns are dropped; the system prompt and the current turn
	// survive.
	require.Len(t, sent, 2)
	assert.Equal(t, model.RoleSystem, sent[0].Role)
	assert.Contains(t, sent[0].Content, "Answer briefly.")
	assert.Equal(t, model.RoleUser, sent[1].Role)
	assert.Equal(t, "second question", sent[1].Content)
}

func TestCompileErrors(t *testing.T) {
	m := &scriptedModel{}

	t.Run("missing model", func(t *testing.T) {
		_, err := Compile(singleAgentXpert(&XpertAgent{Key: "a"}), "")
		var cfgErr *agent.ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("unknown toolset", func(t *testing.T) {
		x := singleAgentXpert(&XpertAgent{Key: "a", ToolsetIDs: []string{"nope"}})
		_, err := Compile(x, "", WithModel(m), WithRegistry(NewRegistry()))
		var cfgErr *agent.ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("fail branch without matching tool", func(t *testing.T) {
		x := singleAgentXpert(&XpertAgent{
			Key: "a",
			Options: &AgentOptions{
				ErrorHandling: &ErrorHandling{Type: ErrorHandlingFailBranch, FailNode: "ghost"},
			},
		})
		_, err := Compile(x, "", WithModel(m))
		var cfgErr *agent.ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("unknown entry agent", func(t *testing.T) {
		_, err := Compile(singleAgentXpert(&XpertAgent{Key: "a"}), "ghost", WithModel(m))
		var cfgErr *agent.ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})
}

func TestErrorHandlingDefaultValue(t *testing.T) {
	m := &failingModel{}
	x := singleAgentXpert(&XpertAgent{
		Key: "fragile",
		Options: &AgentOptions{
			ErrorHandling: &ErrorHandling{
				Type:         ErrorHandlingDefaultValue,
				DefaultValue: "Sorry, I cannot answer right now.",
			},
		},
	})
	compiled, err := Compile(x, "", WithModel(m))
	require.NoError(t, err)

	saver := checkpointinmemory.NewSaver()
	runToCompletion(t, compiled, saver, "thread-default", "hello")

	ckpt := latestCheckpoint(t, saver, "thread-default")
	channel := ckpt.ChannelValues[ChannelKey("fragile")].(*AgentChannel)
	assert.NotEmpty(t, channel.Error)
	assert.Equal(t, "Sorry, I cannot answer right now.",
		ckpt.ChannelValues[graph.StateKeyLastResponse])
}

type failingModel struct{}

func (m *failingModel) GenerateContent(ctx context.Context, req *model.Request) (<-chan *model.Response, error) {
	ch := make(chan *model.Response, 1)
	ch <- &model.Response{Error: &model.ResponseError{
		Message: "upstream unavailable", Type: model.ErrorTypeAPIError,
	}}
	close(ch)
	return ch, nil
}

func (m *failingModel) Info() model.Info {
	return model.Info{Name: "failing", Provider: "test"}
}

func TestModelCompletionsCarryReasoningTags(t *testing.T) {
	m := &scriptedModel{replies: []model.Message{
		assistantWithToolCall("call_e1", "echo", `{"text":"hi"}`),
		model.NewAssistantMessage("hi back"),
	}}
	echo := &stubTool{
		decl: &tool.Declaration{Name: "echo", Description: "Echo the input."},
		fn: func(ctx context.Context, args []byte) (any, error) {
			return "hi", nil
		},
	}
	reg := NewRegistry()
	reg.RegisterToolset(tool.NewStaticToolSet("echo", "builtin",
		[]tool.CallableTool{echo}))

	x := singleAgentXpert(&XpertAgent{
		Key:        "assistant",
		Prompt:     "You echo.",
		ToolsetIDs: []string{"echo"},
	})
	compiled, err := Compile(x, "", WithModel(m), WithRegistry(reg))
	require.NoError(t, err)

	collected := runToCompletion(t, compiled, nil, "thread-tags", "say hi")

	var completions []*event.Event
	for _, e := range collected {
		if e.Object == model.ObjectTypeChatCompletion {
			completions = append(completions, e)
		}
	}
	require.Len(t, completions, 2)
	// The tool-planning turn is pre-tool reasoning; the answer after the
	// tool result is the concluding one.
	assert.True(t, completions[0].HasTag(event.TagReasoningTool))
	assert.True(t, completions[1].HasTag(event.TagReasoningFinal))
}
