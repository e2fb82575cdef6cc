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
	"fmt"
	"reflect"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/ledger"
	"trpc.group/trpc-go/trpc-xpert-go/middleware"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/store"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// State keys the compiled graph uses beyond the shared message schema.
const (
	// StateKeyParameters holds the run parameters referenced by prompts.
	StateKeyParameters = "parameters"
	// StateKeyThreadTitle holds the derived conversation title.
	StateKeyThreadTitle = "thread_title"
	// StateKeyRuntime carries the *middleware.Runtime of the run, injected
	// by the runner. Never checkpointed.
	StateKeyRuntime = "__runtime__"

	// stateKeyJumpTo carries a hook's routing override to the router.
	// Runtime-internal, never checkpointed.
	stateKeyJumpTo = "__jump_to__"
	// stateKeyToolCall carries the single tool call of a fan-out task.
	stateKeyToolCall = "__tool_call__"
)

// Router results that are not tool names.
const (
	routeModel = "model"
	routeEnd   = "end"
)

// Terminal node names.
const (
	NodeSummarizeConversation = "summarize_conversation"
	NodeTitleConversation     = "title_conversation"
)

// KnowledgeRetriever recalls passages from a knowledgebase. The concrete
// retrieval backend lives outside the runtime.
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, knowledgebaseID, query string) ([]string, error)
}

// CompileOptions configure one compilation.
type CompileOptions struct {
	// Model is the default chat model.
	Model model.Model
	// ModelResolver resolves named models (fallbacks, per-xpert models).
	// Optional; without it fallback models cannot be honored.
	ModelResolver func(name string) (model.Model, error)
	// Registry resolves toolsets and collaborator xperts.
	Registry *Registry
	// Middlewares form the agent's pipeline, in declaration order.
	Middlewares []middleware.Middleware
	// Ledger records execution rows; nil disables the ledger.
	Ledger ledger.Service
	// Store is the long-term memory store handed to hooks.
	Store store.Store
	// CheckpointSaver is shared with sub-agent executors.
	CheckpointSaver graph.CheckpointSaver
	// Retriever backs knowledge retriever tools; nil yields empty recall.
	Retriever KnowledgeRetriever
	// Namespace is the checkpoint namespace of this graph; sub-agents run
	// under child namespaces derived from it.
	Namespace string
}

// CompileOption mutates CompileOptions.
type CompileOption func(*CompileOptions)

// WithModel sets the default chat model.
func WithModel(m model.Model) CompileOption {
	return func(o *CompileOptions) { o.Model = m }
}

// WithModelResolver sets the named-model resolver.
func WithModelResolver(r func(name string) (model.Model, error)) CompileOption {
	return func(o *CompileOptions) { o.ModelResolver = r }
}

// WithRegistry sets the definition registry used to resolve toolsets and
// collaborators.
func WithRegistry(r *Registry) CompileOption {
	return func(o *CompileOptions) { o.Registry = r }
}

// WithMiddlewares sets the agent middleware stack.
func WithMiddlewares(mws ...middleware.Middleware) CompileOption {
	return func(o *CompileOptions) { o.Middlewares = append(o.Middlewares, mws...) }
}

// WithLedger records execution rows in the given service.
func WithLedger(l ledger.Service) CompileOption {
	return func(o *CompileOptions) { o.Ledger = l }
}

// WithStore hands the memory store to hooks and tools.
func WithStore(s store.Store) CompileOption {
	return func(o *CompileOptions) { o.Store = s }
}

// WithCheckpointSaver shares the saver with sub-agent executors.
func WithCheckpointSaver(s graph.CheckpointSaver) CompileOption {
	return func(o *CompileOptions) { o.CheckpointSaver = s }
}

// WithRetriever backs knowledge retriever tools.
func WithRetriever(r KnowledgeRetriever) CompileOption {
	return func(o *CompileOptions) { o.Retriever = r }
}

// WithNamespace sets the checkpoint namespace of the compiled graph.
func WithNamespace(ns string) CompileOption {
	return func(o *CompileOptions) { o.Namespace = ns }
}

// Compiled is an executable xpert graph plus everything the runner needs
// around it.
type Compiled struct {
	// Graph is the executable graph.
	Graph *graph.Graph
	// Xpert is the source definition.
	Xpert *Xpert
	// EntryAgent is the agent the graph is rooted at.
	EntryAgent *XpertAgent
	// Pipeline is the assembled middleware stack.
	Pipeline *middleware.Pipeline
	// Toolsets must be closed when the run finalizes.
	Toolsets []tool.ToolSet
	// InterruptBefore lists tools requiring review before execution.
	InterruptBefore []string
	// RecursionLimit is the per-run step budget, 0 means the default.
	RecursionLimit int
}

// Compile turns the xpert's entry agent and everything reachable from it
// into an executable graph.
func Compile(x *Xpert, entryKey string, opts ...CompileOption) (*Compiled, error) {
	if err := Validate(x); err != nil {
		return nil, err
	}
	options := &CompileOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.Model == nil {
		return nil, agent.NewConfigError("model", "no chat model configured")
	}
	entry := x.Agent
	if entryKey != "" {
		if entry = x.FindAgent(entryKey); entry == nil {
			return nil, agent.NewConfigError("agent", "entry agent %q not found", entryKey)
		}
	}
	c := &compiler{x: x, opts: options}
	return c.compile(entry)
}

// compiler carries the per-compilation state.
type compiler struct {
	x    *Xpert
	opts *CompileOptions

	pipeline        *middleware.Pipeline
	tools           map[string]*boundTool
	toolsets        []tool.ToolSet
	interruptBefore []string
	// assignerChannels names the channels tool result maps may write to
	// directly (toolset variables and workflow channels).
	assignerChannels map[string]bool
}

// boundTool is a tool resolved for one agent with its per-agent options.
type boundTool struct {
	tool      tool.CallableTool
	options   ToolOptions
	sensitive bool
	// subAgent is set for sub-agent tools; their nodes open child ledger
	// rows.
	subAgent bool
}

func (c *compiler) compile(entry *XpertAgent) (*Compiled, error) {
	pipeline, err := middleware.NewPipeline(c.opts.Middlewares...)
	if err != nil {
		return nil, err
	}
	c.pipeline = pipeline

	if err := c.collectTools(entry); err != nil {
		return nil, err
	}
	schema, err := c.buildSchema(entry)
	if err != nil {
		return nil, err
	}
	sg := graph.NewStateGraph(schema)
	if err := c.buildAgentLoop(sg, entry); err != nil {
		return nil, err
	}
	g, err := sg.Compile()
	if err != nil {
		return nil, agent.NewConfigError("graph", "%v", err)
	}
	recursionLimit := 0
	if c.x.Options != nil {
		recursionLimit = c.x.Options.RecursionLimit
	}
	return &Compiled{
		Graph:           g,
		Xpert:           c.x,
		EntryAgent:      entry,
		Pipeline:        pipeline,
		Toolsets:        c.toolsets,
		InterruptBefore: c.interruptBefore,
		RecursionLimit:  recursionLimit,
	}, nil
}

// collectTools resolves toolsets, knowledge retrievers, sub-agents,
// collaborators, workflow tasks and middleware tools into the agent's
// tool map.
func (c *compiler) collectTools(entry *XpertAgent) error {
	c.tools = make(map[string]*boundTool)
	toolOpts := map[string]ToolOptions{}
	if entry.Options != nil {
		toolOpts = entry.Options.Tools
	}
	add := func(t tool.CallableTool, sensitive, subAgent bool) error {
		name := t.Declaration().Name
		if _, dup := c.tools[name]; dup {
			return agent.NewConfigError("tools", "duplicate tool name %q", name)
		}
		opts := toolOpts[name]
		if opts.Description != "" {
			t = overrideDescription(t, opts.Description)
		}
		if opts.Sensitive {
			sensitive = true
		}
		c.tools[name] = &boundTool{tool: t, options: opts, sensitive: sensitive, subAgent: subAgent}
		if sensitive {
			c.interruptBefore = append(c.interruptBefore, name)
		}
		return nil
	}

	for _, id := range entry.ToolsetIDs {
		if c.opts.Registry == nil {
			return agent.NewConfigError("toolset", "toolset %q referenced without a registry", id)
		}
		ts, err := c.opts.Registry.Toolset(id)
		if err != nil {
			return err
		}
		c.toolsets = append(c.toolsets, ts)
		sensitive := sensitiveSet(ts)
		for _, t := range ts.Tools(context.Background()) {
			if err := add(t, sensitive[t.Declaration().Name], false); err != nil {
				return err
			}
		}
	}
	for _, kbID := range entry.KnowledgebaseIDs {
		if err := add(newKnowledgeTool(kbID, c.opts.Retriever), false, false); err != nil {
			return err
		}
	}
	for _, follower := range entry.Followers {
		st, err := c.newSubAgentTool(follower.Key, c.x, follower.Key)
		if err != nil {
			return err
		}
		if err := add(st, false, true); err != nil {
			return err
		}
	}
	for _, collabID := range entry.CollaboratorIDs {
		if c.opts.Registry == nil {
			return agent.NewConfigError("collaborators",
				"collaborator %q referenced without a registry", collabID)
		}
		collab, ok := c.opts.Registry.Get(collabID)
		if !ok {
			return agent.NewConfigError("collaborators", "collaborator %q not found", collabID)
		}
		st, err := c.newSubAgentTool(collabID, collab, "")
		if err != nil {
			return err
		}
		if err := add(st, false, true); err != nil {
			return err
		}
	}
	for _, wf := range c.workflowNodes() {
		if t := newWorkflowTool(wf); t != nil {
			if err := add(t, false, false); err != nil {
				return err
			}
		}
	}
	for _, t := range c.pipeline.Tools() {
		if err := add(t, false, false); err != nil {
			return err
		}
	}
	return nil
}

// buildSchema assembles the channel set: shared message schema, one
// channel per reachable agent, toolset variables, workflow channels and
// middleware contributions. Redeclaring an existing channel fails.
func (c *compiler) buildSchema(entry *XpertAgent) (*graph.StateSchema, error) {
	schema := graph.MessagesStateSchema()
	schema.AddField(StateKeyParameters, graph.StateField{
		Type:    reflect.TypeOf(map[string]any{}),
		Reducer: graph.MergeReducer,
		Default: func() any { return map[string]any{} },
	})
	schema.AddField(StateKeyThreadTitle, graph.StateField{
		Type:    reflect.TypeOf(""),
		Reducer: graph.DefaultReducer,
	})
	declare := func(name string, field graph.StateField, origin string) error {
		if schema.HasField(name) {
			return agent.NewConfigError("channels",
				"channel %q redeclared by %s", name, origin)
		}
		schema.AddField(name, field)
		return nil
	}
	agentChannel := graph.StateField{
		Type:    reflect.TypeOf(&AgentChannel{}),
		Reducer: AgentChannelReducer,
		Default: func() any { return &AgentChannel{} },
	}
	if err := declare(ChannelKey(entry.Key), agentChannel, "agent "+entry.Key); err != nil {
		return nil, err
	}
	for _, follower := range entry.Followers {
		if err := declare(ChannelKey(follower.Key), agentChannel, "agent "+follower.Key); err != nil {
			return nil, err
		}
	}
	c.assignerChannels = make(map[string]bool)
	for _, ts := range c.toolsets {
		for _, v := range ts.Variables() {
			field := graph.StateField{Reducer: graph.DefaultReducer}
			if v.AppendList {
				field.Reducer = graph.AppendReducer
			}
			if v.Default != nil {
				def := v.Default
				field.Default = func() any { return def }
			}
			if err := declare(v.Name, field, "toolset "+ts.ID()); err != nil {
				return nil, err
			}
			c.assignerChannels[v.Name] = true
		}
	}
	for _, wf := range c.workflowNodes() {
		if err := declare(workflowChannel(wf.Key), graph.StateField{
			Reducer: graph.DefaultReducer,
		}, "workflow "+wf.Key); err != nil {
			return nil, err
		}
		c.assignerChannels[workflowChannel(wf.Key)] = true
	}
	mwSchema, err := c.pipeline.StateSchema()
	if err != nil {
		return nil, err
	}
	for name, field := range mwSchema {
		if err := declare(name, field, "middleware"); err != nil {
			return nil, err
		}
	}
	return schema, nil
}

// buildAgentLoop builds the node and edge set of the agent loop:
// before-agent hooks, before-model hooks, call_model, after-model hooks
// in reverse, the router, tool fan-out, after-agent hooks in reverse and
// the terminal chain.
func (c *compiler) buildAgentLoop(sg *graph.StateGraph, entry *XpertAgent) error {
	key := entry.Key
	callModelID := key + ":call_model"
	routerID := key + ":route"
	exitID := key + ":exit"

	beforeAgent := hookChain(sg, key, "before_agent", c.pipeline.BeforeAgentHooks(), routerID)
	beforeModel := hookChain(sg, key, "before_model", c.pipeline.BeforeModelHooks(), routerID)
	afterModel := hookChain(sg, key, "after_model", c.pipeline.AfterModelHooks(), "")
	afterAgent := hookChain(sg, key, "after_agent", c.pipeline.AfterAgentHooks(), "")

	loopEntry := callModelID
	if len(beforeModel) > 0 {
		loopEntry = beforeModel[0]
	}

	nodeOpts := []graph.NodeOption{graph.WithNodeType(graph.NodeTypeAgent)}
	if entry.Options != nil && entry.Options.Retry != nil && entry.Options.Retry.Enabled {
		attempts := entry.Options.Retry.StopAfterAttempt
		if attempts <= 0 {
			attempts = 3
		}
		nodeOpts = append(nodeOpts, graph.WithRetryPolicy(&graph.RetryPolicy{MaxAttempts: attempts}))
	}
	sg.AddNode(callModelID, c.newCallModelFunc(entry), nodeOpts...)
	sg.AddNode(routerID, func(ctx context.Context, state graph.State) (any, error) {
		return nil, nil
	})
	sg.AddNode(exitID, c.newExitFunc(entry))

	// One node per tool; end-node tools route to the exit instead of
	// looping back to the model.
	endNodes := map[string]bool{}
	if entry.Options != nil {
		for _, n := range entry.Options.EndNodes {
			endNodes[n] = true
		}
	}
	for name, bound := range c.tools {
		id := toolNodeID(name)
		sg.AddNode(id, c.newToolNodeFunc(entry, name, bound),
			graph.WithNodeType(graph.NodeTypeTool))
		if endNodes[name] {
			sg.AddEdge(id, exitID)
		} else {
			sg.AddEdge(id, loopEntry)
		}
	}

	// Fail branch target must exist when declared.
	if entry.Options != nil && entry.Options.ErrorHandling != nil &&
		entry.Options.ErrorHandling.Type == ErrorHandlingFailBranch {
		failNode := entry.Options.ErrorHandling.FailNode
		if _, ok := c.tools[failNode]; !ok {
			return agent.NewConfigError("error_handling",
				"fail node %q is not a tool of agent %q", failNode, entry.Key)
		}
	}

	// Entry chain.
	first := loopEntry
	if len(beforeAgent) > 0 {
		first = beforeAgent[0]
		chainEdges(sg, beforeAgent, loopEntry)
	}
	sg.SetEntryPoint(first)
	if len(beforeModel) > 0 {
		chainEdges(sg, beforeModel, callModelID)
	}
	if len(afterModel) > 0 {
		sg.AddEdge(callModelID, afterModel[0])
		chainEdges(sg, afterModel, routerID)
	} else {
		sg.AddEdge(callModelID, routerID)
	}

	// Router: jump override, then tool fan-out, then the after-agent
	// chain. The path map names every reachable destination so missing
	// targets fail at compile time.
	afterAgentEntry := exitID
	if len(afterAgent) > 0 {
		afterAgentEntry = afterAgent[0]
		chainEdges(sg, afterAgent, exitID)
	}
	pathMap := map[string]string{
		routeModel: loopEntry,
		routeEnd:   afterAgentEntry,
	}
	for name := range c.tools {
		pathMap[name] = toolNodeID(name)
	}
	sg.AddConditionalEdges(routerID, c.newRouterFunc(entry, pathMap), pathMap)

	return c.buildTerminalChain(sg, exitID)
}

// buildTerminalChain wires exit → summarize → title → END according to
// the xpert options.
func (c *compiler) buildTerminalChain(sg *graph.StateGraph, exitID string) error {
	prev := exitID
	if c.x.Options != nil && c.x.Options.SummarizeConversation {
		sg.AddNode(NodeSummarizeConversation, c.newSummarizeFunc())
		sg.AddEdge(prev, NodeSummarizeConversation)
		prev = NodeSummarizeConversation
	}
	if c.x.Options != nil && c.x.Options.TitleConversation {
		sg.AddNode(NodeTitleConversation, c.newTitleFunc())
		sg.AddEdge(prev, NodeTitleConversation)
		prev = NodeTitleConversation
	}
	sg.SetFinishPoint(prev)
	return nil
}

// newRouterFunc routes out of the model chain: a pending jump override
// wins, then pending tool calls fan out one Send per call, then the turn
// ends.
func (c *compiler) newRouterFunc(entry *XpertAgent, pathMap map[string]string) graph.BranchFunc {
	return func(ctx context.Context, state graph.State) (any, error) {
		if jump, ok := graph.GetStateValue[string](state, stateKeyJumpTo); ok && jump != "" {
			delete(state, stateKeyJumpTo)
			switch jump {
			case middleware.JumpModel:
				return routeModel, nil
			case middleware.JumpEnd:
				return routeEnd, nil
			case middleware.JumpTools:
				// fall through to the fan-out below
			default:
				// Fail branches and hooks may jump straight to a tool.
				if _, ok := pathMap[jump]; !ok {
					return nil, agent.NewInputError("unknown jump target %q", jump)
				}
				return jump, nil
			}
		}
		msgs, _ := graph.GetStateValue[[]model.Message](state, graph.StateKeyMessages)
		calls := pendingCalls(msgs)
		if len(calls) == 0 {
			return routeEnd, nil
		}
		sends := make([]graph.Send, 0, len(calls))
		for _, call := range calls {
			target, ok := pathMap[call.Function.Name]
			if !ok {
				return nil, agent.NewInputError(
					"model called unknown tool %q", call.Function.Name)
			}
			sends = append(sends, graph.Send{
				Node:  target,
				State: graph.State{stateKeyToolCall: call},
			})
		}
		return sends, nil
	}
}

// newExitFunc finalizes the agent turn: the last response lands in the
// agent channel output when no structured output claimed it.
func (c *compiler) newExitFunc(entry *XpertAgent) graph.NodeFunc {
	channelKey := ChannelKey(entry.Key)
	return func(ctx context.Context, state graph.State) (any, error) {
		last, _ := graph.GetStateValue[string](state, graph.StateKeyLastResponse)
		ch, _ := graph.GetStateValue[*AgentChannel](state, channelKey)
		if last == "" || (ch != nil && ch.Output != nil) {
			return nil, nil
		}
		return graph.State{channelKey: &AgentChannel{Output: last}}, nil
	}
}

// hookChain adds one node per hook and returns the node IDs in run
// order. jumpTarget, when non-empty, is where a hook's JumpTo routes via
// GoTo (used by before-hooks, which have no router of their own).
func hookChain(sg *graph.StateGraph, agentKey, kind string, hooks []middleware.NamedHook, jumpTarget string) []string {
	ids := make([]string, 0, len(hooks))
	for _, h := range hooks {
		id := fmt.Sprintf("%s:%s:%s", agentKey, kind, h.Middleware)
		ids = append(ids, id)
		hook := h.Fn
		sg.AddNode(id, func(ctx context.Context, state graph.State) (any, error) {
			rt, _ := graph.GetStateValue[*middleware.Runtime](state, StateKeyRuntime)
			result, err := hook(ctx, &middleware.AgentState{
				AgentKey: agentKey,
				State:    state,
				Runtime:  rt,
			})
			if err != nil || result == nil {
				return nil, err
			}
			update := result.Update
			if result.JumpTo == "" {
				return update, nil
			}
			if update == nil {
				update = graph.State{}
			}
			update[stateKeyJumpTo] = result.JumpTo
			if jumpTarget == "" {
				return update, nil
			}
			return &graph.Command{
				Update: update,
				GoTo:   []graph.Send{{Node: jumpTarget}},
			}, nil
		})
	}
	return ids
}

// chainEdges links the ids linearly and the last one to next.
func chainEdges(sg *graph.StateGraph, ids []string, next string) {
	for i := 0; i < len(ids)-1; i++ {
		sg.AddEdge(ids[i], ids[i+1])
	}
	if len(ids) > 0 {
		sg.AddEdge(ids[len(ids)-1], next)
	}
}

func toolNodeID(name string) string {
	return "tool:" + name
}

// pendingCalls returns the tool calls of the last assistant message that
// have no tool response yet.
func pendingCalls(messages []model.Message) []model.ToolCall {
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

// sensitiveSet extracts the sensitive tool names of a toolset when it
// exposes them.
func sensitiveSet(ts tool.ToolSet) map[string]bool {
	type sensitiveLister interface {
		SensitiveTools() []string
	}
	set := make(map[string]bool)
	if lister, ok := ts.(sensitiveLister); ok {
		for _, name := range lister.SensitiveTools() {
			set[name] = true
		}
	}
	return set
}

// overrideDescription wraps a tool with a per-agent description.
func overrideDescription(t tool.CallableTool, description string) tool.CallableTool {
	return &describedTool{CallableTool: t, description: description}
}

type describedTool struct {
	tool.CallableTool
	description string
}

// Declaration implements tool.Tool.
func (d *describedTool) Declaration() *tool.Declaration {
	decl := *d.CallableTool.Declaration()
	decl.Description = d.description
	return &decl
}
