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
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-xpert-go/event"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/ledger"
	"trpc.group/trpc-go/trpc-xpert-go/middleware"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/telemetry"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// newCallModelFunc builds the agent's model-calling node. The node renders
// the system prompt, runs the wrapped model call and merges the assistant
// reply into the shared history and the agent channel.
func (c *compiler) newCallModelFunc(entry *XpertAgent) graph.NodeFunc {
	channelKey := ChannelKey(entry.Key)
	tools := make(map[string]tool.Tool, len(c.tools))
	for name, bound := range c.tools {
		tools[name] = bound.tool
	}
	opts := entry.Options
	structured := len(entry.OutputVariables) > 0

	return func(ctx context.Context, state graph.State) (any, error) {
		rt := runtimeFromState(state, entry.Key)
		emitter := graph.GetEventEmitterWithContext(ctx, state)

		msgs, _ := graph.GetStateValue[[]model.Message](state, graph.StateKeyMessages)
		if opts != nil && opts.DisableMessageHistory {
			msgs = currentTurn(msgs)
		}
		system := c.renderSystemPrompt(entry, state)

		row := c.openRow(ctx, rt, entry.Key, "", lastUserContent(msgs))
		var usage model.Usage
		core := func(ctx context.Context, req *middleware.ModelRequest) (model.Message, error) {
			return generate(ctx, req, c.opts.Model, emitter, &usage)
		}
		handler := c.pipeline.WrapModelCall(core)

		req := &middleware.ModelRequest{
			Model:         c.opts.Model,
			Messages:      msgs,
			SystemMessage: system,
			Tools:         tools,
			State:         state,
			Runtime:       rt,
		}
		callCtx, span := telemetry.StartSpan(ctx, "model.call",
			attribute.String("agent.key", entry.Key))
		msg, err := handler(callCtx, req)
		if err != nil && !graph.IsInterruptError(err) {
			msg, err = c.tryFallback(callCtx, handler, req, err)
		}
		if err != nil && !graph.IsInterruptError(err) {
			span.RecordError(err)
		}
		span.End()
		if err != nil {
			c.closeRow(ctx, row, err, "")
			if graph.IsInterruptError(err) {
				return nil, err
			}
			if update, handled := c.handleModelError(entry, channelKey, err); handled {
				return update, nil
			}
			return nil, err
		}

		completion := event.NewResponseEvent(rt.InvocationID, entry.Key, &model.Response{
			Object:    model.ObjectTypeChatCompletion,
			Choices:   []model.Choice{{Message: msg}},
			Timestamp: time.Now(),
		})
		toolPlanSeen := false
		event.AddTag(completion, event.DecideReasoningTag(completion, turnHasToolResults(msgs), &toolPlanSeen))
		_ = emitter.Emit(completion)

		channel := &AgentChannel{System: system, Messages: []model.Message{msg}}
		if structured && msg.Content != "" {
			if out, ok := parseStructuredOutput(msg.Content); ok {
				channel.Output = out
			}
		}
		update := graph.State{
			graph.StateKeyMessages:     []model.Message{msg},
			graph.StateKeyLastResponse: msg.Content,
			channelKey:                 channel,
		}
		c.closeRowUsage(ctx, row, msg.Content, usage)
		return update, nil
	}
}

// renderSystemPrompt fills prompt placeholders from run parameters and
// appends the running summary and structured output instructions.
func (c *compiler) renderSystemPrompt(entry *XpertAgent, state graph.State) string {
	params, _ := graph.GetStateValue[map[string]any](state, StateKeyParameters)
	system := renderPrompt(entry.Prompt, params)
	if ch, ok := graph.GetStateValue[*AgentChannel](state, ChannelKey(entry.Key)); ok && ch != nil && ch.Summary != "" {
		system += "\n\nSummary of the conversation so far:\n" + ch.Summary
	}
	if len(entry.OutputVariables) > 0 {
		system += "\n\n" + structuredOutputInstructions(entry.OutputVariables)
	}
	return system
}

// tryFallback retries the call once on the fallback model, when one is
// configured and resolvable.
func (c *compiler) tryFallback(ctx context.Context, handler middleware.ModelCallHandler,
	req *middleware.ModelRequest, original error) (model.Message, error) {
	name := c.fallbackName(req)
	if name == "" || c.opts.ModelResolver == nil {
		return model.Message{}, original
	}
	fallback, err := c.opts.ModelResolver(name)
	if err != nil {
		return model.Message{}, original
	}
	retry := req.Clone()
	retry.Model = fallback
	msg, err := handler(ctx, retry)
	if err != nil {
		return model.Message{}, original
	}
	return msg, nil
}

func (c *compiler) fallbackName(req *middleware.ModelRequest) string {
	agent := c.x.FindAgent(req.Runtime.AgentKey)
	if agent == nil || agent.Options == nil {
		return ""
	}
	return agent.Options.FallbackModel
}

// handleModelError applies the agent's error handling policy. defaultValue
// substitutes a canned assistant reply; failBranch records the error and
// jumps to the fail tool.
func (c *compiler) handleModelError(entry *XpertAgent, channelKey string, err error) (graph.State, bool) {
	opts := entry.Options
	if opts == nil || opts.ErrorHandling == nil {
		return nil, false
	}
	switch opts.ErrorHandling.Type {
	case ErrorHandlingDefaultValue:
		msg := model.NewAssistantMessage(opts.ErrorHandling.DefaultValue)
		return graph.State{
			graph.StateKeyMessages:     []model.Message{msg},
			graph.StateKeyLastResponse: msg.Content,
			channelKey:                 &AgentChannel{Messages: []model.Message{msg}, Error: err.Error()},
		}, true
	case ErrorHandlingFailBranch:
		return graph.State{
			channelKey:     &AgentChannel{Error: err.Error()},
			stateKeyJumpTo: opts.ErrorHandling.FailNode,
		}, true
	}
	return nil, false
}

// generate runs one streaming model call: deltas are emitted as text
// events, tool call fragments are merged by index and the final message is
// assembled when the stream closes.
func generate(ctx context.Context, req *middleware.ModelRequest, fallback model.Model,
	emitter graph.EventEmitter, usage *model.Usage) (model.Message, error) {
	m := req.Model
	if m == nil {
		m = fallback
	}
	messages := make([]model.Message, 0, len(req.Messages)+1)
	if req.SystemMessage != "" {
		messages = append(messages, model.NewSystemMessage(req.SystemMessage))
	}
	messages = append(messages, req.Messages...)
	mreq := &model.Request{
		Messages:         messages,
		GenerationConfig: model.GenerationConfig{Stream: true},
		Tools:            req.Tools,
	}
	ch, err := m.GenerateContent(ctx, mreq)
	if err != nil {
		return model.Message{}, err
	}
	var content strings.Builder
	var calls []model.ToolCall
	var final *model.Message
	for rsp := range ch {
		if rsp.Error != nil {
			return model.Message{}, fmt.Errorf("model %s: %s", m.Info().Name, rsp.Error.Message)
		}
		if rsp.Usage != nil && usage != nil {
			usage.PromptTokens += rsp.Usage.PromptTokens
			usage.CompletionTokens += rsp.Usage.CompletionTokens
			usage.TotalTokens += rsp.Usage.TotalTokens
		}
		for _, choice := range rsp.Choices {
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				_ = emitter.EmitText(choice.Delta.Content)
			}
			if len(choice.Delta.ToolCalls) > 0 {
				calls = mergeToolCallDeltas(calls, choice.Delta.ToolCalls)
			}
			if !rsp.IsPartial && (choice.Message.Content != "" || len(choice.Message.ToolCalls) > 0) {
				msg := choice.Message
				final = &msg
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}
	if final != nil {
		return *final, nil
	}
	msg := model.NewAssistantMessage(content.String())
	msg.ToolCalls = calls
	return msg, nil
}

// mergeToolCallDeltas folds streaming tool call fragments into whole
// calls. A fragment carrying an ID starts a call; argument bytes of
// subsequent fragments append to the call at the same index.
func mergeToolCallDeltas(calls []model.ToolCall, deltas []model.ToolCall) []model.ToolCall {
	for _, d := range deltas {
		idx := len(calls) - 1
		if d.Index != nil {
			idx = *d.Index
		} else if d.ID != "" {
			idx = len(calls)
		}
		for len(calls) <= idx {
			calls = append(calls, model.ToolCall{Type: "function"})
		}
		if idx < 0 {
			continue
		}
		call := &calls[idx]
		if d.ID != "" {
			call.ID = d.ID
		}
		if d.Type != "" {
			call.Type = d.Type
		}
		if d.Function.Name != "" {
			call.Function.Name = d.Function.Name
		}
		if len(d.Function.Arguments) > 0 {
			call.Function.Arguments = append(call.Function.Arguments, d.Function.Arguments...)
		}
	}
	return calls
}

var promptPlaceholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// renderPrompt substitutes {{name}} placeholders from the run parameters,
// leaving unknown placeholders untouched.
func renderPrompt(prompt string, params map[string]any) string {
	if prompt == "" || len(params) == 0 {
		return prompt
	}
	return promptPlaceholder.ReplaceAllStringFunc(prompt, func(match string) string {
		name := promptPlaceholder.FindStringSubmatch(match)[1]
		v, ok := params[name]
		if !ok {
			return match
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	})
}

// structuredOutputInstructions asks the model to answer as a single JSON
// object with the declared fields.
func structuredOutputInstructions(vars []OutputVariable) string {
	var b strings.Builder
	b.WriteString("Respond with a single JSON object containing the following fields:\n")
	for _, v := range vars {
		typ := v.Type
		if typ == "" {
			typ = "string"
		}
		fmt.Fprintf(&b, "- %q (%s)", v.Name, typ)
		if v.Description != "" {
			b.WriteString(": " + v.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("Do not wrap the JSON in markdown fences or add any other text.")
	return b.String()
}

// parseStructuredOutput extracts the outermost JSON object of the reply.
func parseStructuredOutput(content string) (map[string]any, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return nil, false
	}
	return out, true
}

// currentTurn keeps only the messages of the turn in flight: the last user
// message and everything after it.
func currentTurn(messages []model.Message) []model.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleUser {
			return messages[i:]
		}
	}
	return messages
}

// turnHasToolResults reports whether the current turn already contains
// tool results, i.e. the model is now producing its concluding answer.
func turnHasToolResults(messages []model.Message) bool {
	for _, m := range currentTurn(messages) {
		if m.Role == model.RoleTool {
			return true
		}
	}
	return false
}

func lastUserContent(messages []model.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// runtimeFromState recovers the per-run context injected by the runner. A
// missing runtime (direct executor use, tests) degrades to identity-only.
func runtimeFromState(state graph.State, agentKey string) *middleware.Runtime {
	if rt, ok := graph.GetStateValue[*middleware.Runtime](state, StateKeyRuntime); ok && rt != nil {
		cp := *rt
		cp.AgentKey = agentKey
		return &cp
	}
	return &middleware.Runtime{AgentKey: agentKey}
}

// openRow opens a ledger row, nil when the ledger is disabled.
func (c *compiler) openRow(ctx context.Context, rt *middleware.Runtime, agentKey, predecessor, inputs string) *ledger.Execution {
	if c.opts.Ledger == nil {
		return nil
	}
	row := &ledger.Execution{
		ThreadID:     rt.ThreadID,
		XpertID:      rt.XpertID,
		AgentKey:     agentKey,
		Predecessor:  predecessor,
		Status:       ledger.StatusRunning,
		Inputs:       inputs,
		CheckpointNS: c.opts.Namespace,
	}
	if err := c.opts.Ledger.Open(ctx, row); err != nil {
		return nil
	}
	return row
}

// closeRow finalizes a ledger row from an outcome error.
func (c *compiler) closeRow(ctx context.Context, row *ledger.Execution, err error, outputs string) {
	if row == nil || c.opts.Ledger == nil {
		return
	}
	closure := ledger.Closure{Status: ledger.StatusSuccess, Outputs: outputs}
	switch {
	case err == nil:
	case graph.IsInterruptError(err):
		closure.Status = ledger.StatusInterrupted
	case ctx.Err() != nil:
		closure.Status = ledger.StatusAborted
		closure.Error = err.Error()
	default:
		closure.Status = ledger.StatusError
		closure.Error = err.Error()
	}
	_ = c.opts.Ledger.Close(context.WithoutCancel(ctx), row.ID, closure)
}

// closeRowUsage finalizes a successful model row with its token usage.
func (c *compiler) closeRowUsage(ctx context.Context, row *ledger.Execution, outputs string, usage model.Usage) {
	if row == nil || c.opts.Ledger == nil {
		return
	}
	info := c.opts.Model.Info()
	_ = c.opts.Ledger.Close(ctx, row.ID, ledger.Closure{
		Status:   ledger.StatusSuccess,
		Outputs:  outputs,
		Provider: info.Provider,
		Model:    info.Name,
		Usage: ledger.Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		},
	})
}

// newSummarizeFunc compresses the conversation into the entry agent's
// summary slot at the end of a run.
func (c *compiler) newSummarizeFunc() graph.NodeFunc {
	entryKey := c.x.Agent.Key
	return func(ctx context.Context, state graph.State) (any, error) {
		msgs, _ := graph.GetStateValue[[]model.Message](state, graph.StateKeyMessages)
		if len(msgs) == 0 {
			return nil, nil
		}
		prompt := "Summarize the conversation below in a short paragraph. " +
			"Keep decisions, open questions and user preferences.\n\n" + transcript(msgs)
		text, err := completeText(ctx, c.opts.Model, prompt)
		if err != nil || text == "" {
			// Summaries are best-effort; a failed call never fails the run.
			return nil, nil
		}
		return graph.State{
			ChannelKey(entryKey): &AgentChannel{Summary: text},
		}, nil
	}
}

// newTitleFunc derives a short thread title from the first exchange.
func (c *compiler) newTitleFunc() graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		if title, ok := graph.GetStateValue[string](state, StateKeyThreadTitle); ok && title != "" {
			return nil, nil
		}
		msgs, _ := graph.GetStateValue[[]model.Message](state, graph.StateKeyMessages)
		if len(msgs) == 0 {
			return nil, nil
		}
		prompt := "Write a title of at most six words for the conversation below. " +
			"Answer with the title only.\n\n" + transcript(msgs)
		text, err := completeText(ctx, c.opts.Model, prompt)
		if err != nil || text == "" {
			return nil, nil
		}
		return graph.State{
			StateKeyThreadTitle: strings.Trim(strings.TrimSpace(text), `"`),
		}, nil
	}
}

// completeText runs a one-shot non-streaming completion.
func completeText(ctx context.Context, m model.Model, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	ch, err := m.GenerateContent(ctx, &model.Request{
		Messages: []model.Message{model.NewUserMessage(prompt)},
	})
	if err != nil {
		return "", err
	}
	var content strings.Builder
	for rsp := range ch {
		if rsp.Error != nil {
			return "", fmt.Errorf("%s", rsp.Error.Message)
		}
		for _, choice := range rsp.Choices {
			if choice.Message.Content != "" {
				content.Reset()
				content.WriteString(choice.Message.Content)
			}
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
			}
		}
	}
	return strings.TrimSpace(content.String()), nil
}

func transcript(messages []model.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role == model.RoleTool || m.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}
