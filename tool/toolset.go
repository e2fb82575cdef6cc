//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package tool

import "context"

// ToolSet defines an interface for managing a set of tools.
// It provides discovery, state contribution and cleanup for a tool provider.
type ToolSet interface {
	// ID returns the unique identifier of the toolset instance.
	ID() string

	// Provider returns the provider name of the toolset, e.g. "builtin".
	Provider() string

	// Tools returns the tools available in the set based on the provided context.
	Tools(context.Context) []CallableTool

	// Variables returns state variables the toolset contributes as channels.
	Variables() []StateVariable

	// ToolTitle returns the human readable title for a tool name.
	// Empty string means no dedicated title is known.
	ToolTitle(name string) string

	// Close releases any resources held by the ToolSet.
	Close() error
}

// StateVariable declares a state channel contributed by a toolset or a
// workflow node. Reducer semantics mirror graph.StateField: a nil reducer
// means last-writer-wins.
type StateVariable struct {
	// Name is the channel name.
	Name string `json:"name"`
	// Type is a JSON schema type hint: "string", "number", "array", "object".
	Type string `json:"type,omitempty"`
	// Default is the initial channel value.
	Default any `json:"default,omitempty"`
	// AppendList marks the variable as an append-list instead of
	// last-writer-wins.
	AppendList bool `json:"append_list,omitempty"`
}

// FilterFunc is a function that filters tools based on a context and a tool.
type FilterFunc func(ctx context.Context, tool Tool) bool

// FilterTools filters tools from a list of tools based on a filter function.
func FilterTools(ctx context.Context, tools []CallableTool, filter FilterFunc) []CallableTool {
	filtered := make([]CallableTool, 0, len(tools))
	for _, tool := range tools {
		if filter(ctx, tool) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

// FilterToolSet creates a new ToolSet that filters tools from the original ToolSet.
func FilterToolSet(toolset ToolSet, filter FilterFunc) ToolSet {
	return &filteredToolSet{
		original: toolset,
		filter:   filter,
	}
}

// filteredToolSet wraps a ToolSet to filter its tools based on their names.
type filteredToolSet struct {
	original ToolSet
	filter   FilterFunc
}

// ID implements the ToolSet interface.
func (f *filteredToolSet) ID() string { return f.original.ID() }

// Provider implements the ToolSet interface.
func (f *filteredToolSet) Provider() string { return f.original.Provider() }

// Tools returns filtered tools from the original ToolSet.
func (f *filteredToolSet) Tools(ctx context.Context) []CallableTool {
	originalTools := f.original.Tools(ctx)
	if f.filter == nil {
		return originalTools
	}
	var result []CallableTool
	for _, tool := range originalTools {
		if f.filter(ctx, tool) {
			result = append(result, tool)
		}
	}
	return result
}

// Variables implements the ToolSet interface.
func (f *filteredToolSet) Variables() []StateVariable { return f.original.Variables() }

// ToolTitle implements the ToolSet interface.
func (f *filteredToolSet) ToolTitle(name string) string { return f.original.ToolTitle(name) }

// Close implements the ToolSet interface.
func (f *filteredToolSet) Close() error { return f.original.Close() }

// NewIncludeToolNamesFilter creates a FilterFunc that includes only the specified tool names.
func NewIncludeToolNamesFilter(names ...string) FilterFunc {
	allowed := make(map[string]bool, len(names))
	for _, name := range names {
		allowed[name] = true
	}
	return func(_ context.Context, tool Tool) bool {
		return allowed[tool.Declaration().Name]
	}
}

// NewExcludeToolNamesFilter creates a FilterFunc that excludes the specified tool names.
func NewExcludeToolNamesFilter(names ...string) FilterFunc {
	excluded := make(map[string]bool, len(names))
	for _, name := range names {
		excluded[name] = true
	}
	return func(_ context.Context, tool Tool) bool {
		return !excluded[tool.Declaration().Name]
	}
}

// StaticOption configures a StaticToolSet.
type StaticOption func(*StaticToolSet)

// WithToolTitle registers a human readable title for a tool name.
func WithToolTitle(name, title string) StaticOption {
	return func(s *StaticToolSet) {
		s.titles[name] = title
	}
}

// WithVariables declares state variables contributed by the toolset.
func WithVariables(vars ...StateVariable) StaticOption {
	return func(s *StaticToolSet) {
		s.variables = append(s.variables, vars...)
	}
}

// WithSensitive marks tool names whose execution requires review before
// running. Compilers surface these through SensitiveTools.
func WithSensitive(names ...string) StaticOption {
	return func(s *StaticToolSet) {
		s.sensitive = append(s.sensitive, names...)
	}
}

// NewStaticToolSet wraps a fixed list of tools into a ToolSet.
func NewStaticToolSet(id, provider string, tools []CallableTool, opts ...StaticOption) *StaticToolSet {
	s := &StaticToolSet{
		id:       id,
		provider: provider,
		tools:    tools,
		titles:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StaticToolSet is a ToolSet backed by a fixed list of tools.
type StaticToolSet struct {
	id        string
	provider  string
	tools     []CallableTool
	titles    map[string]string
	variables []StateVariable
	sensitive []string
}

// ID implements the ToolSet interface.
func (s *StaticToolSet) ID() string { return s.id }

// Provider implements the ToolSet interface.
func (s *StaticToolSet) Provider() string { return s.provider }

// Tools implements the ToolSet interface.
func (s *StaticToolSet) Tools(context.Context) []CallableTool { return s.tools }

// Variables implements the ToolSet interface.
func (s *StaticToolSet) Variables() []StateVariable { return s.variables }

// ToolTitle implements the ToolSet interface.
func (s *StaticToolSet) ToolTitle(name string) string { return s.titles[name] }

// SensitiveTools returns the tool names flagged for pre-execution review.
func (s *StaticToolSet) SensitiveTools() []string { return s.sensitive }

// Close implements the ToolSet interface.
func (s *StaticToolSet) Close() error { return nil }
