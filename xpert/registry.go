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
	"reflect"
	"sort"
	"sync"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// SearchRequest filters registry listings.
type SearchRequest struct {
	// GraphID filters by xpert id or slug.
	GraphID string
	// Metadata entries must all match (AND).
	Metadata map[string]any
	// Limit caps the result count, 0 means no cap.
	Limit int
	// Offset skips the first n results.
	Offset int
}

// Registry holds the loaded assistant definitions and the toolsets they
// reference.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Xpert
	bySlug   map[string]*Xpert
	order    []string
	toolsets map[string]tool.ToolSet
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*Xpert),
		bySlug:   make(map[string]*Xpert),
		toolsets: make(map[string]tool.ToolSet),
	}
}

// Add registers a definition. A latest version replaces the slug entry.
func (r *Registry) Add(x *Xpert) error {
	if err := Validate(x); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := x.ID
	if id == "" {
		id = x.Slug
	}
	if _, exists := r.byID[id]; !exists {
		r.order = append(r.order, id)
	}
	r.byID[id] = x
	if x.Slug != "" {
		if current, ok := r.bySlug[x.Slug]; !ok || x.Latest || current.Version == x.Version {
			r.bySlug[x.Slug] = x
		}
	}
	return nil
}

// Get returns a definition by id, falling back to slug lookup.
func (r *Registry) Get(id string) (*Xpert, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if x, ok := r.byID[id]; ok {
		return x, true
	}
	x, ok := r.bySlug[id]
	return x, ok
}

// GetBySlug returns the latest version registered under the slug.
func (r *Registry) GetBySlug(slug string) (*Xpert, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	x, ok := r.bySlug[slug]
	return x, ok
}

// Search lists definitions in registration order, filtered by the
// request.
func (r *Registry) Search(req SearchRequest) []*Xpert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*Xpert
	for _, id := range r.order {
		x := r.byID[id]
		if req.GraphID != "" && x.ID != req.GraphID && x.Slug != req.GraphID {
			continue
		}
		if !metadataMatches(x.Metadata, req.Metadata) {
			continue
		}
		matched = append(matched, x)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if req.Offset > 0 {
		if req.Offset >= len(matched) {
			return nil
		}
		matched = matched[req.Offset:]
	}
	if req.Limit > 0 && len(matched) > req.Limit {
		matched = matched[:req.Limit]
	}
	return matched
}

// RegisterToolset makes a toolset resolvable by id at compile time.
func (r *Registry) RegisterToolset(ts tool.ToolSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolsets[ts.ID()] = ts
}

// Toolset resolves a toolset by id.
func (r *Registry) Toolset(id string) (tool.ToolSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.toolsets[id]
	if !ok {
		return nil, agent.NewConfigError("toolset", "toolset %q is not registered", id)
	}
	return ts, nil
}

func metadataMatches(metadata, want map[string]any) bool {
	for k, v := range want {
		got, ok := metadata[k]
		if !ok || !reflect.DeepEqual(got, v) {
			return false
		}
	}
	return true
}
