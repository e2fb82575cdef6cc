//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/middleware/hitl"
	"trpc.group/trpc-go/trpc-xpert-go/middleware/todo"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

func TestParseList(t *testing.T) {
	assert.Nil(t, ParseList(""))
	assert.Equal(t, []string{"todo"}, ParseList("todo"))
	assert.Equal(t, []string{"todo", "hitl"}, ParseList("todo,hitl"))
	assert.Equal(t, []string{"todo", "hitl"}, ParseList(" todo ; hitl "))
	assert.Equal(t, []string{"a", "b", "c"}, ParseList("a,,b;;c,"))
}

func TestLoadBuiltinTodo(t *testing.T) {
	plugins, err := Load([]string{todo.Name})
	require.NoError(t, err)
	require.Len(t, plugins, 1)
	assert.Equal(t, todo.Name, plugins[0].Name())

	mws := Middlewares(plugins)
	require.Len(t, mws, 1)
	assert.Equal(t, todo.Name, mws[0].Name())
}

func TestLoadUnknownPlugin(t *testing.T) {
	_, err := Load([]string{"no-such-plugin"})
	require.Error(t, err)
	assert.True(t, agent.IsConfigError(err))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvPlugins, "todo")
	plugins, err := LoadFromEnv()
	require.NoError(t, err)
	require.Len(t, plugins, 1)

	t.Setenv(EnvPlugins, "")
	plugins, err = LoadFromEnv()
	require.NoError(t, err)
	assert.Empty(t, plugins)

	t.Setenv(EnvPlugins, "todo,ghost")
	_, err = LoadFromEnv()
	require.Error(t, err)
}

func TestRegisterReplaces(t *testing.T) {
	Register(New("custom", WithToolsets(tool.NewStaticToolSet("web", "example", nil))))
	t.Cleanup(func() {
		mu.Lock()
		delete(registry, "custom")
		mu.Unlock()
	})

	p, ok := Get("custom")
	require.True(t, ok)
	require.Len(t, p.Toolsets(), 1)
	assert.Equal(t, "web", p.Toolsets()[0].ID())

	Register(New("custom"))
	p, _ = Get("custom")
	assert.Empty(t, p.Toolsets())
}

func TestHITLPlugin(t *testing.T) {
	p := HITL(map[string]hitl.ReviewConfig{
		"send_email": {Description: "outbound mail"},
	})
	assert.Equal(t, hitl.Name, p.Name())
	require.Len(t, p.Middlewares(), 1)
}

func TestClientToolsPlugin(t *testing.T) {
	p := ClientTools("open_dialog")
	require.Len(t, p.Middlewares(), 1)
	assert.Empty(t, p.Toolsets())
}
