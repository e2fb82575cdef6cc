//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package plugin bundles middlewares and toolsets under a name so
// deployments can switch capabilities on through configuration instead
// of code. The PLUGINS environment variable lists the plugins a server
// loads at startup.
package plugin

import (
	"os"
	"sort"
	"strings"
	"sync"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/middleware"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// EnvPlugins names the environment variable listing the plugins to load,
// separated by commas or semicolons.
const EnvPlugins = "PLUGINS"

// Plugin contributes middlewares and toolsets to every compiled agent.
type Plugin interface {
	// Name identifies the plugin in the registry and in PLUGINS.
	Name() string
	// Middlewares returns the middlewares the plugin adds to the
	// pipeline, in declaration order.
	Middlewares() []middleware.Middleware
	// Toolsets returns the toolsets the plugin makes resolvable by id.
	Toolsets() []tool.ToolSet
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Plugin)
)

// Register makes a plugin loadable by name, replacing any previous
// registration under the same name.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	registry[p.Name()] = p
}

// Get returns a registered plugin by name.
func Get(name string) (Plugin, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// Names lists the registered plugin names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load resolves plugins by name, in the given order. An unknown name
// fails the whole load.
func Load(names []string) ([]Plugin, error) {
	plugins := make([]Plugin, 0, len(names))
	for _, name := range names {
		p, ok := Get(name)
		if !ok {
			return nil, agent.NewConfigError("plugin", "plugin %q is not registered", name)
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

// LoadFromEnv loads the plugins named by the PLUGINS environment
// variable. An empty or unset variable loads nothing.
func LoadFromEnv() ([]Plugin, error) {
	return Load(ParseList(os.Getenv(EnvPlugins)))
}

// ParseList splits a plugin list on commas and semicolons, trimming
// whitespace and dropping empty entries.
func ParseList(list string) []string {
	var names []string
	for _, part := range strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ';'
	}) {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Middlewares flattens the middlewares of the given plugins, preserving
// plugin order.
func Middlewares(plugins []Plugin) []middleware.Middleware {
	var mws []middleware.Middleware
	for _, p := range plugins {
		mws = append(mws, p.Middlewares()...)
	}
	return mws
}

// Toolsets flattens the toolsets of the given plugins.
func Toolsets(plugins []Plugin) []tool.ToolSet {
	var sets []tool.ToolSet
	for _, p := range plugins {
		sets = append(sets, p.Toolsets()...)
	}
	return sets
}

// simple is the func-free plugin most callers need.
type simple struct {
	name        string
	middlewares []middleware.Middleware
	toolsets    []tool.ToolSet
}

// Option configures a plugin built with New.
type Option func(*simple)

// WithMiddlewares adds middlewares to the plugin.
func WithMiddlewares(mws ...middleware.Middleware) Option {
	return func(p *simple) { p.middlewares = append(p.middlewares, mws...) }
}

// WithToolsets adds toolsets to the plugin.
func WithToolsets(sets ...tool.ToolSet) Option {
	return func(p *simple) { p.toolsets = append(p.toolsets, sets...) }
}

// New builds a plugin from its parts.
func New(name string, opts ...Option) Plugin {
	p := &simple{name: name}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *simple) Name() string { return p.name }

func (p *simple) Middlewares() []middleware.Middleware { return p.middlewares }

func (p *simple) Toolsets() []tool.ToolSet { return p.toolsets }
