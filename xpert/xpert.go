//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package xpert defines versioned assistant definitions and compiles
// them into executable graphs. An Xpert declares a team of agents, the
// toolsets and knowledgebases they may use and the connections between
// them; the compiler turns one entry agent plus everything reachable
// from it into a graph.Graph the executor can run.
package xpert

import (
	"time"

	"trpc.group/trpc-go/trpc-xpert-go/model"
)

// Node types inside an XpertGraph.
const (
	NodeTypeAgent     = "agent"
	NodeTypeKnowledge = "knowledge"
	NodeTypeToolset   = "toolset"
	NodeTypeXpert     = "xpert"
	NodeTypeWorkflow  = "workflow"
)

// Connection types. An "edge" is plain control flow; the rest attach a
// capability (toolset, knowledgebase, collaborator xpert, workflow) to
// an agent.
const (
	ConnTypeEdge      = "edge"
	ConnTypeAgent     = "agent"
	ConnTypeToolset   = "toolset"
	ConnTypeKnowledge = "knowledge"
	ConnTypeXpert     = "xpert"
	ConnTypeWorkflow  = "workflow"
)

// Xpert is a versioned declarative definition of an agent team. A
// definition is immutable per version; at most one version per
// (slug, workspace) is marked latest.
type Xpert struct {
	ID          string         `json:"id" yaml:"id"`
	Slug        string         `json:"slug" yaml:"slug"`
	Name        string         `json:"name" yaml:"name"`
	Version     string         `json:"version" yaml:"version"`
	Latest      bool           `json:"latest" yaml:"latest"`
	Workspace   string         `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Agent       *XpertAgent    `json:"agent" yaml:"agent"`
	Agents      []*XpertAgent  `json:"agents,omitempty" yaml:"agents,omitempty"`
	Graph       *XpertGraph    `json:"graph,omitempty" yaml:"graph,omitempty"`
	Options     *XpertOptions  `json:"options,omitempty" yaml:"options,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// XpertOptions are definition-wide settings.
type XpertOptions struct {
	// Model names the default chat model for every agent.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// RecursionLimit caps graph steps per run, 0 means the default.
	RecursionLimit int `json:"recursion_limit,omitempty" yaml:"recursion_limit,omitempty"`
	// SummarizeConversation enables the terminal summarize node.
	SummarizeConversation bool `json:"summarize_conversation,omitempty" yaml:"summarize_conversation,omitempty"`
	// TitleConversation enables the terminal title node.
	TitleConversation bool `json:"title_conversation,omitempty" yaml:"title_conversation,omitempty"`
}

// XpertAgent is one agent inside an Xpert.
type XpertAgent struct {
	// Key is unique within the xpert.
	Key  string `json:"key" yaml:"key"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Prompt is the system prompt; {{name}} placeholders are filled from
	// run parameters.
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	// Parameters declare the run inputs the prompt may reference.
	Parameters []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	// OutputVariables request structured output parsed into the agent
	// channel.
	OutputVariables []OutputVariable `json:"output_variables,omitempty" yaml:"output_variables,omitempty"`
	// ToolsetIDs attach toolsets resolved at compile time.
	ToolsetIDs []string `json:"toolset_ids,omitempty" yaml:"toolset_ids,omitempty"`
	// KnowledgebaseIDs attach retriever tools, one per id.
	KnowledgebaseIDs []string `json:"knowledgebase_ids,omitempty" yaml:"knowledgebase_ids,omitempty"`
	// CollaboratorIDs name external xperts exposed as tools.
	CollaboratorIDs []string `json:"collaborator_ids,omitempty" yaml:"collaborator_ids,omitempty"`
	// Followers are sub-agents of the same team, compiled as sub-agent
	// tools keyed by their agent key.
	Followers []*XpertAgent `json:"followers,omitempty" yaml:"followers,omitempty"`
	// Options tune retries, fallbacks, error handling and routing.
	Options *AgentOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// Parameter declares one run input.
type Parameter struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// OutputVariable declares one structured output field.
type OutputVariable struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Error handling policies for model failures.
const (
	ErrorHandlingDefaultValue = "defaultValue"
	ErrorHandlingFailBranch   = "failBranch"
)

// AgentOptions tune one agent's behavior.
type AgentOptions struct {
	// Retry re-runs the model call on failure.
	Retry *RetryOptions `json:"retry,omitempty" yaml:"retry,omitempty"`
	// FallbackModel names the model tried when the primary fails.
	FallbackModel string `json:"fallback_model,omitempty" yaml:"fallback_model,omitempty"`
	// ErrorHandling decides what happens when the model call still fails.
	ErrorHandling *ErrorHandling `json:"error_handling,omitempty" yaml:"error_handling,omitempty"`
	// StructuredOutputMethod is how structured output is requested:
	// "prompt" (default) or "functionCalling".
	StructuredOutputMethod string `json:"structured_output_method,omitempty" yaml:"structured_output_method,omitempty"`
	// Vision allows image content parts in requests.
	Vision bool `json:"vision,omitempty" yaml:"vision,omitempty"`
	// DisableMessageHistory drops prior turns from the model request;
	// the system prompt and the current turn are kept.
	DisableMessageHistory bool `json:"disable_message_history,omitempty" yaml:"disable_message_history,omitempty"`
	// EndNodes names tools whose completion adds END to the successor
	// set instead of looping back to the model.
	EndNodes []string `json:"end_nodes,omitempty" yaml:"end_nodes,omitempty"`
	// Timeout bounds the whole run.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Tools holds per-tool overrides keyed by tool name.
	Tools map[string]ToolOptions `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// RetryOptions configure model-call retries.
type RetryOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// StopAfterAttempt is the total attempt budget, including the first.
	StopAfterAttempt int `json:"stop_after_attempt,omitempty" yaml:"stop_after_attempt,omitempty"`
}

// ErrorHandling decides the agent's reaction to a failed model call.
type ErrorHandling struct {
	// Type is "", defaultValue or failBranch.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	// DefaultValue is the assistant content substituted on defaultValue.
	DefaultValue string `json:"default_value,omitempty" yaml:"default_value,omitempty"`
	// FailNode is the node routed to on failBranch.
	FailNode string `json:"fail_node,omitempty" yaml:"fail_node,omitempty"`
}

// ToolOptions are per-tool overrides.
type ToolOptions struct {
	// Description overrides the tool's description for this agent.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Sensitive requires human review before the tool runs.
	Sensitive bool `json:"sensitive,omitempty" yaml:"sensitive,omitempty"`
	// HandleErrors converts tool failures into error tool messages the
	// model can recover from. Defaults to true.
	HandleErrors *bool `json:"handle_errors,omitempty" yaml:"handle_errors,omitempty"`
	// Timeout bounds one call of this tool.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// HandleErrorsOrDefault applies the default of true.
func (o ToolOptions) HandleErrorsOrDefault() bool {
	if o.HandleErrors == nil {
		return true
	}
	return *o.HandleErrors
}

// XpertGraph is the declared topology.
type XpertGraph struct {
	Nodes       []GraphNode  `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Connections []Connection `json:"connections,omitempty" yaml:"connections,omitempty"`
}

// GraphNode is one declared node.
type GraphNode struct {
	Key  string `json:"key" yaml:"key"`
	Type string `json:"type" yaml:"type"`
	// Entity holds the node payload for non-agent nodes, e.g. a workflow
	// definition.
	Entity map[string]any `json:"entity,omitempty" yaml:"entity,omitempty"`
}

// Connection is one declared edge or attachment.
type Connection struct {
	Type string `json:"type" yaml:"type"`
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// FindAgent returns the agent with the given key, searching the primary
// agent, the team list and follower trees.
func (x *Xpert) FindAgent(key string) *XpertAgent {
	if x == nil {
		return nil
	}
	var walk func(a *XpertAgent) *XpertAgent
	walk = func(a *XpertAgent) *XpertAgent {
		if a == nil {
			return nil
		}
		if a.Key == key {
			return a
		}
		for _, f := range a.Followers {
			if found := walk(f); found != nil {
				return found
			}
		}
		return nil
	}
	if found := walk(x.Agent); found != nil {
		return found
	}
	for _, a := range x.Agents {
		if found := walk(a); found != nil {
			return found
		}
	}
	return nil
}

// ChannelKey returns the state channel name of an agent.
func ChannelKey(agentKey string) string {
	return agentKey + "_channel"
}

// AgentChannel is the per-agent state slot, reduced field-wise.
type AgentChannel struct {
	// System is the rendered system prompt of the last model call.
	System string `json:"system,omitempty"`
	// Messages are the agent's own turns, separate from the shared
	// history.
	Messages []model.Message `json:"messages,omitempty"`
	// Summary is the running conversation summary.
	Summary string `json:"summary,omitempty"`
	// Error is the last model or tool error surfaced to the agent.
	Error string `json:"error,omitempty"`
	// Output holds parsed structured output.
	Output any `json:"output,omitempty"`
}

// Clone returns a copy with its own message slice.
func (c *AgentChannel) Clone() *AgentChannel {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Messages = append([]model.Message(nil), c.Messages...)
	return &cp
}

// AgentChannelReducer merges agent channel updates field-wise: set
// fields overwrite, messages append, everything absent is kept. Updates
// may be *AgentChannel values or plain maps (as produced by middleware
// and JSON resume payloads).
func AgentChannelReducer(existing, update any) any {
	current := toAgentChannel(existing)
	if update == nil {
		return current
	}
	switch u := update.(type) {
	case *AgentChannel:
		return mergeAgentChannel(current, u)
	case AgentChannel:
		return mergeAgentChannel(current, &u)
	case map[string]any:
		return mergeAgentChannelMap(current, u)
	default:
		return current
	}
}

func toAgentChannel(v any) *AgentChannel {
	switch c := v.(type) {
	case *AgentChannel:
		return c
	case AgentChannel:
		return &c
	default:
		return &AgentChannel{}
	}
}

func mergeAgentChannel(current, u *AgentChannel) *AgentChannel {
	merged := current.Clone()
	if merged == nil {
		merged = &AgentChannel{}
	}
	if u.System != "" {
		merged.System = u.System
	}
	merged.Messages = append(merged.Messages, u.Messages...)
	if u.Summary != "" {
		merged.Summary = u.Summary
	}
	if u.Error != "" {
		merged.Error = u.Error
	}
	if u.Output != nil {
		merged.Output = u.Output
	}
	return merged
}

func mergeAgentChannelMap(current *AgentChannel, u map[string]any) *AgentChannel {
	merged := current.Clone()
	if merged == nil {
		merged = &AgentChannel{}
	}
	if v, ok := u["system"].(string); ok && v != "" {
		merged.System = v
	}
	if v, ok := u["summary"].(string); ok && v != "" {
		merged.Summary = v
	}
	if v, ok := u["error"].(string); ok && v != "" {
		merged.Error = v
	}
	if v, ok := u["output"]; ok && v != nil {
		merged.Output = v
	}
	switch msgs := u["messages"].(type) {
	case []model.Message:
		merged.Messages = append(merged.Messages, msgs...)
	case model.Message:
		merged.Messages = append(merged.Messages, msgs)
	}
	return merged
}
