//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-xpert-go/graph/internal/channel"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// StateGraph builds a Graph incrementally. Errors are collected and
// reported by Compile so call sites can chain builder methods.
type StateGraph struct {
	schema     *StateSchema
	nodes      map[string]*Node
	edges      map[string][]string
	branches   map[string][]*Branch
	joins      []*Join
	entryPoint string
	errs       []error
}

// NewStateGraph creates a builder over the given state schema.
func NewStateGraph(schema *StateSchema) *StateGraph {
	if schema == nil {
		schema = NewStateSchema()
	}
	return &StateGraph{
		schema:   schema,
		nodes:    make(map[string]*Node),
		edges:    make(map[string][]string),
		branches: make(map[string][]*Branch),
	}
}

// Schema returns the builder's state schema.
func (sg *StateGraph) Schema() *StateSchema {
	return sg.schema
}

// NodeOption configures a node added to the graph.
type NodeOption func(*Node)

// WithName sets the display name of the node.
func WithName(name string) NodeOption {
	return func(n *Node) {
		n.Name = name
	}
}

// WithDescription sets the description of the node.
func WithDescription(desc string) NodeOption {
	return func(n *Node) {
		n.Description = desc
	}
}

// WithNodeType overrides the node type used in execution events.
func WithNodeType(t NodeType) NodeOption {
	return func(n *Node) {
		n.Type = t
	}
}

// WithRetryPolicy retries the node on failure according to the policy.
func WithRetryPolicy(p *RetryPolicy) NodeOption {
	return func(n *Node) {
		n.Retry = p
	}
}

// WithDeferred marks the node deferred: it only runs once no other task
// is runnable, so parallel branches finish before it aggregates.
func WithDeferred() NodeOption {
	return func(n *Node) {
		n.Defer = true
	}
}

// AddNode registers a function node.
func (sg *StateGraph) AddNode(id string, fn NodeFunc, opts ...NodeOption) *StateGraph {
	if id == "" || id == Start || id == End {
		sg.errs = append(sg.errs, fmt.Errorf("invalid node ID %q", id))
		return sg
	}
	if _, exists := sg.nodes[id]; exists {
		sg.errs = append(sg.errs, fmt.Errorf("node %q already exists", id))
		return sg
	}
	if fn == nil {
		sg.errs = append(sg.errs, fmt.Errorf("node %q has no function", id))
		return sg
	}
	node := &Node{
		ID:       id,
		Name:     id,
		Type:     NodeTypeFunction,
		Function: fn,
	}
	for _, opt := range opts {
		opt(node)
	}
	sg.nodes[id] = node
	return sg
}

// AddToolsNode registers a node that executes the tool calls of the last
// assistant message and appends the tool responses to the message list.
func (sg *StateGraph) AddToolsNode(id string, tools map[string]tool.Tool, opts ...NodeOption) *StateGraph {
	opts = append([]NodeOption{WithNodeType(NodeTypeTool)}, opts...)
	return sg.AddNode(id, newToolsNodeFunc(id, tools), opts...)
}

// AddEdge adds a static edge. Start and End are valid endpoints.
func (sg *StateGraph) AddEdge(from, to string) *StateGraph {
	if from == End {
		sg.errs = append(sg.errs, fmt.Errorf("edge cannot start at %s", End))
		return sg
	}
	if to == Start {
		sg.errs = append(sg.errs, fmt.Errorf("edge cannot target %s", Start))
		return sg
	}
	if from == Start {
		return sg.SetEntryPoint(to)
	}
	sg.edges[from] = append(sg.edges[from], to)
	return sg
}

// AddConditionalEdges adds a conditional edge from source. After source
// completes, path decides the next node(s). pathMap optionally maps path
// results to node IDs and constrains the reachable targets.
func (sg *StateGraph) AddConditionalEdges(source string, path BranchFunc, pathMap map[string]string) *StateGraph {
	if path == nil {
		sg.errs = append(sg.errs, fmt.Errorf("conditional edge from %q has no path function", source))
		return sg
	}
	sg.branches[source] = append(sg.branches[source], &Branch{
		Source:  source,
		Path:    path,
		PathMap: pathMap,
	})
	return sg
}

// AddJoinEdge adds a fan-in edge: to runs once after every source has
// completed, regardless of the order they finish in.
func (sg *StateGraph) AddJoinEdge(sources []string, to string) *StateGraph {
	if len(sources) == 0 {
		sg.errs = append(sg.errs, fmt.Errorf("join edge to %q has no sources", to))
		return sg
	}
	sg.joins = append(sg.joins, &Join{Sources: append([]string(nil), sources...), To: to})
	return sg
}

// SetEntryPoint declares the node executed first.
func (sg *StateGraph) SetEntryPoint(id string) *StateGraph {
	if sg.entryPoint != "" && sg.entryPoint != id {
		sg.errs = append(sg.errs, fmt.Errorf("entry point already set to %q", sg.entryPoint))
		return sg
	}
	sg.entryPoint = id
	return sg
}

// SetFinishPoint adds an edge from the node to End.
func (sg *StateGraph) SetFinishPoint(id string) *StateGraph {
	return sg.AddEdge(id, End)
}

// Compile validates the builder and seals it into an executable Graph.
func (sg *StateGraph) Compile() (*Graph, error) {
	if len(sg.errs) > 0 {
		return nil, fmt.Errorf("invalid graph: %w", sg.errs[0])
	}
	g := &Graph{
		schema:           sg.schema,
		nodes:            sg.nodes,
		edges:            sg.edges,
		branches:         sg.branches,
		joins:            sg.joins,
		entryPoint:       sg.entryPoint,
		channelBehaviors: make(map[string]channel.Behavior),
		triggerToNodes:   make(map[string][]string),
		joinExpected:     make(map[string][]string),
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	// Every node gets an input channel for static edges and a branch
	// channel for conditional routing, Send tasks and Command.GoTo.
	for id := range g.nodes {
		g.declareTrigger(TriggerChannel(id), channel.BehaviorLastValue, id)
		g.declareTrigger(BranchChannel(id), channel.BehaviorLastValue, id)
	}
	// End has an input channel so finish points have somewhere to write;
	// nothing is triggered by it.
	g.channelBehaviors[TriggerChannel(End)] = channel.BehaviorLastValue
	// Send packets accumulate in a topic channel until the next planning
	// round turns each one into a task.
	g.channelBehaviors[ChannelTasks] = channel.BehaviorTopic
	for _, j := range g.joins {
		name := JoinChannel(j.To)
		g.declareTrigger(name, channel.BehaviorBarrier, j.To)
		g.joinExpected[name] = append([]string(nil), j.Sources...)
	}
	return g, nil
}

// MustCompile compiles the graph and panics on error, for static graphs
// built at process start.
func (sg *StateGraph) MustCompile() *Graph {
	g, err := sg.Compile()
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Graph) declareTrigger(name string, behavior channel.Behavior, nodeID string) {
	g.channelBehaviors[name] = behavior
	for _, existing := range g.triggerToNodes[name] {
		if existing == nodeID {
			return
		}
	}
	g.triggerToNodes[name] = append(g.triggerToNodes[name], nodeID)
}

// newToolsNodeFunc builds the NodeFunc backing AddToolsNode.
func newToolsNodeFunc(nodeID string, tools map[string]tool.Tool) NodeFunc {
	return func(ctx context.Context, state State) (any, error) {
		messages, _ := state[StateKeyMessages].([]model.Message)
		calls := pendingToolCalls(messages)
		if len(calls) == 0 {
			return nil, nil
		}
		emitter := GetEventEmitterWithContext(ctx, state)
		invocationID := ""
		if execCtx, ok := GetStateValue[*ExecutionContext](state, StateKeyExecContext); ok && execCtx != nil {
			invocationID = execCtx.InvocationID
		}
		results := make([]model.Message, 0, len(calls))
		for _, call := range calls {
			msg, err := executeToolCall(ctx, nodeID, invocationID, tools, call, emitter)
			if err != nil {
				return nil, err
			}
			results = append(results, msg)
		}
		return State{StateKeyMessages: results}, nil
	}
}

// executeToolCall runs one tool call and returns its tool message.
func executeToolCall(
	ctx context.Context,
	nodeID string,
	invocationID string,
	tools map[string]tool.Tool,
	call model.ToolCall,
	emitter EventEmitter,
) (model.Message, error) {
	name := call.Function.Name
	t, ok := tools[name]
	if !ok {
		return model.Message{}, fmt.Errorf("tool %q is not registered on node %q", name, nodeID)
	}
	callable, ok := t.(tool.CallableTool)
	if !ok {
		return model.Message{}, fmt.Errorf("tool %q is not callable", name)
	}
	startTime := time.Now()
	_ = emitter.Emit(NewToolExecutionEvent(
		WithToolEventInvocationID(invocationID),
		WithToolEventNodeID(nodeID),
		WithToolEventToolName(name),
		WithToolEventToolID(call.ID),
		WithToolEventPhase(ToolExecutionPhaseStart),
		WithToolEventStartTime(startTime),
		WithToolEventInput(string(call.Function.Arguments)),
	))
	result, err := callable.Call(tool.WithCallID(ctx, call.ID), call.Function.Arguments)
	if err != nil {
		if IsInterruptError(err) {
			return model.Message{}, err
		}
		_ = emitter.Emit(NewToolExecutionEvent(
			WithToolEventInvocationID(invocationID),
			WithToolEventNodeID(nodeID),
			WithToolEventToolName(name),
			WithToolEventToolID(call.ID),
			WithToolEventPhase(ToolExecutionPhaseError),
			WithToolEventStartTime(startTime),
			WithToolEventEndTime(time.Now()),
			WithToolEventError(err),
		))
		return model.Message{}, fmt.Errorf("tool %q failed: %w", name, err)
	}
	content := marshalToolResult(result)
	_ = emitter.Emit(NewToolExecutionEvent(
		WithToolEventInvocationID(invocationID),
		WithToolEventNodeID(nodeID),
		WithToolEventToolName(name),
		WithToolEventToolID(call.ID),
		WithToolEventPhase(ToolExecutionPhaseComplete),
		WithToolEventStartTime(startTime),
		WithToolEventEndTime(time.Now()),
		WithToolEventOutput(content),
	))
	return model.NewToolMessage(call.ID, name, content), nil
}

// pendingToolCalls returns the calls of the last assistant message that
// do not yet have a tool response message.
func pendingToolCalls(messages []model.Message) []model.ToolCall {
	idx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleAssistant && len(messages[i].ToolCalls) > 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	answered := make(map[string]struct{})
	for _, m := range messages[idx+1:] {
		if m.Role == model.RoleTool && m.ToolID != "" {
			answered[m.ToolID] = struct{}{}
		}
	}
	var pending []model.ToolCall
	for _, call := range messages[idx].ToolCalls {
		if _, done := answered[call.ID]; !done {
			pending = append(pending, call)
		}
	}
	return pending
}

// marshalToolResult renders a tool result as message content.
func marshalToolResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
