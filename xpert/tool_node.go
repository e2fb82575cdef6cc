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
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/event"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/middleware"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/telemetry"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// ConfirmInterruptKeyPrefix prefixes the interrupt keys raised before
// sensitive tools run. The full key is the prefix plus the tool call id.
const ConfirmInterruptKeyPrefix = "confirm:"

// ConfirmRequest is the interrupt payload of a sensitive tool review.
type ConfirmRequest struct {
	ToolName   string         `json:"toolName"`
	ToolCallID string         `json:"toolCallId"`
	Args       map[string]any `json:"args,omitempty"`
}

// newToolNodeFunc builds the node executing one tool. Each invocation
// arrives as its own fan-out task carrying the tool call in its overlay;
// the fail branch enters without an overlay and gets a synthetic call
// describing the agent error.
func (c *compiler) newToolNodeFunc(entry *XpertAgent, name string, bound *boundTool) graph.NodeFunc {
	channelKey := ChannelKey(entry.Key)
	validator := compileArgsValidator(bound)
	handler := c.pipeline.WrapToolCall(func(ctx context.Context, req *middleware.ToolCallRequest) (any, error) {
		ctx = tool.WithCallID(ctx, req.ToolCall.ID)
		return req.Tool.Call(ctx, []byte(req.ToolCall.Function.Arguments))
	})

	return func(ctx context.Context, state graph.State) (any, error) {
		call, ok := graph.GetStateValue[model.ToolCall](state, stateKeyToolCall)
		if !ok {
			call = syntheticErrorCall(name, state, channelKey)
		}
		rt := runtimeFromState(state, entry.Key)
		emitter := graph.GetEventEmitterWithContext(ctx, state)

		if bound.sensitive {
			if err := confirmSensitiveCall(ctx, state, name, call); err != nil {
				if tm, rejected := asRejection(err, call, name); rejected {
					return graph.State{graph.StateKeyMessages: []model.Message{tm}}, nil
				}
				return nil, err
			}
		}

		if validator != nil {
			if err := validateArgs(validator, call.Function.Arguments); err != nil {
				return c.toolFailure(entry, bound, call, emitter, err)
			}
		}

		_ = emitter.EmitCustom(event.NameToolStart, map[string]any{
			"name": name, "tool_call_id": call.ID,
		})
		row := c.openRow(ctx, rt, name, entry.Key, string(call.Function.Arguments))

		callCtx := ctx
		if bound.options.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, bound.options.Timeout)
			defer cancel()
		}
		callCtx, span := telemetry.StartSpan(callCtx, "tool.call",
			attribute.String("tool.name", name),
			attribute.String("tool.call_id", call.ID))
		result, err := handler(callCtx, &middleware.ToolCallRequest{
			ToolCall: call,
			Tool:     bound.tool,
			State:    state,
			Runtime:  rt,
		})
		if err != nil && !graph.IsInterruptError(err) {
			span.RecordError(err)
		}
		span.End()
		if err != nil {
			c.closeRow(ctx, row, err, "")
			if graph.IsInterruptError(err) {
				return nil, err
			}
			return c.toolFailure(entry, bound, call, emitter, err)
		}

		update, outputs := c.normalizeToolResult(entry, call, result)
		c.closeRow(ctx, row, nil, outputs)
		_ = emitter.EmitCustom(event.NameToolEnd, map[string]any{
			"name": name, "tool_call_id": call.ID,
		})
		return update, nil
	}
}

// confirmSensitiveCall pauses for human review before a sensitive tool
// runs. Approval is the literal true, the string "approve" or a map with
// approved=true; anything else rejects the call.
func confirmSensitiveCall(ctx context.Context, state graph.State, name string, call model.ToolCall) error {
	key := ConfirmInterruptKeyPrefix + call.ID
	args := map[string]any{}
	_ = json.Unmarshal(call.Function.Arguments, &args)
	answer, err := graph.Interrupt(ctx, state, key, &ConfirmRequest{
		ToolName:   name,
		ToolCallID: call.ID,
		Args:       args,
	})
	if err != nil {
		return err
	}
	graph.ClearResumeValue(state, key)
	if approved(answer) {
		return nil
	}
	return errToolRejected
}

var errToolRejected = fmt.Errorf("tool execution rejected")

func approved(answer any) bool {
	switch v := answer.(type) {
	case bool:
		return v
	case string:
		return v == "approve" || v == "approved" || v == "true"
	case map[string]any:
		ok, _ := v["approved"].(bool)
		return ok
	}
	return false
}

// asRejection converts the rejection sentinel into an error tool message
// so the model learns the call was declined.
func asRejection(err error, call model.ToolCall, name string) (model.Message, bool) {
	if err != errToolRejected {
		return model.Message{}, false
	}
	return model.NewErrorToolMessage(call.ID, name,
		"Tool execution was rejected by the user."), true
}

// toolFailure applies the per-tool error policy: handled errors become
// error tool messages the model can react to, unhandled ones fail the
// node.
func (c *compiler) toolFailure(entry *XpertAgent, bound *boundTool, call model.ToolCall,
	emitter graph.EventEmitter, err error) (any, error) {
	_ = emitter.EmitCustom(event.NameToolError, map[string]any{
		"name": call.Function.Name, "tool_call_id": call.ID, "error": err.Error(),
	})
	if !bound.options.HandleErrorsOrDefault() {
		return nil, err
	}
	msg := model.NewErrorToolMessage(call.ID, call.Function.Name, err.Error())
	return graph.State{
		graph.StateKeyMessages: []model.Message{msg},
		ChannelKey(entry.Key):  &AgentChannel{Error: err.Error()},
	}, nil
}

// normalizeToolResult turns whatever the tool returned into a state
// update. Tool messages and commands pass through; maps first feed the
// declared assigner channels, then everything left is stringified into
// the tool message.
func (c *compiler) normalizeToolResult(entry *XpertAgent, call model.ToolCall, result any) (any, string) {
	name := call.Function.Name
	switch v := result.(type) {
	case *graph.Command:
		// A command must still answer the call, otherwise the router sees
		// it as pending forever. Commands that bring their own messages
		// (tool acks) are trusted to include the reply.
		outputs := commandOutputs(v)
		if v.Update == nil {
			v.Update = graph.State{}
		}
		if _, ok := v.Update[graph.StateKeyMessages]; !ok {
			v.Update[graph.StateKeyMessages] = []model.Message{
				model.NewToolMessage(call.ID, name, outputs),
			}
		}
		return v, outputs
	case model.Message:
		if v.ToolID == "" {
			v.ToolID = call.ID
		}
		return graph.State{graph.StateKeyMessages: []model.Message{v}}, v.Content
	case *model.Message:
		return c.normalizeToolResult(entry, call, *v)
	case string:
		msg := model.NewToolMessage(call.ID, name, v)
		return graph.State{graph.StateKeyMessages: []model.Message{msg}}, v
	case map[string]any:
		update := graph.State{}
		rest := make(map[string]any, len(v))
		for k, val := range v {
			if c.assignerChannels[k] {
				update[k] = val
			} else {
				rest[k] = val
			}
		}
		content := stringifyResult(rest)
		update[graph.StateKeyMessages] = []model.Message{model.NewToolMessage(call.ID, name, content)}
		return update, content
	default:
		content := stringifyResult(v)
		msg := model.NewToolMessage(call.ID, name, content)
		return graph.State{graph.StateKeyMessages: []model.Message{msg}}, content
	}
}

func commandOutputs(cmd *graph.Command) string {
	if cmd == nil || cmd.Update == nil {
		return ""
	}
	data, err := json.Marshal(cmd.Update)
	if err != nil {
		return ""
	}
	return string(data)
}

func stringifyResult(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// syntheticErrorCall fabricates the call entering a fail branch tool: the
// agent's last error becomes the tool argument.
func syntheticErrorCall(name string, state graph.State, channelKey string) model.ToolCall {
	reason := ""
	if ch, ok := graph.GetStateValue[*AgentChannel](state, channelKey); ok && ch != nil {
		reason = ch.Error
	}
	args, _ := json.Marshal(map[string]any{"error": reason})
	return model.ToolCall{
		Type: "function",
		ID:   "call_" + uuid.NewString(),
		Function: model.FunctionDefinitionParam{
			Name:      name,
			Arguments: args,
		},
	}
}

// compileArgsValidator compiles the tool's input schema; a tool without a
// schema (or with one the compiler rejects) runs unvalidated.
func compileArgsValidator(bound *boundTool) *jsonschema.Schema {
	decl := bound.tool.Declaration()
	if decl == nil || decl.InputSchema == nil {
		return nil
	}
	raw, err := decl.InputSchema.MarshalJSONValue()
	if err != nil {
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool://args", doc); err != nil {
		return nil
	}
	schema, err := compiler.Compile("tool://args")
	if err != nil {
		return nil
	}
	return schema
}

func validateArgs(schema *jsonschema.Schema, args []byte) error {
	if len(args) == 0 {
		args = []byte("{}")
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return agent.NewInputError("tool arguments are not valid JSON: %v", err)
	}
	if err := schema.Validate(instance); err != nil {
		return agent.NewInputError("tool arguments rejected by schema: %v", err)
	}
	return nil
}
