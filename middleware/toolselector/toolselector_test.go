//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package toolselector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/middleware"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

type stubSelector struct {
	content string
}

func (s *stubSelector) GenerateContent(ctx context.Context, req *model.Request) (<-chan *model.Response, error) {
	ch := make(chan *model.Response, 1)
	ch <- &model.Response{Choices: []model.Choice{{Message: model.NewAssistantMessage(s.content)}}}
	close(ch)
	return ch, nil
}

func (s *stubSelector) Info() model.Info {
	return model.Info{Name: "stub-selector", Provider: "test"}
}

type namedTool struct{ name string }

func (t namedTool) Declaration() *tool.Declaration {
	return &tool.Declaration{Name: t.name, Description: "test tool"}
}

func toolMap(names ...string) map[string]tool.Tool {
	m := make(map[string]tool.Tool, len(names))
	for _, n := range names {
		m[n] = namedTool{name: n}
	}
	return m
}

func passthrough(captured **middleware.ModelRequest) middleware.ModelCallHandler {
	return func(ctx context.Context, req *middleware.ModelRequest) (model.Message, error) {
		*captured = req
		return model.NewAssistantMessage("done"), nil
	}
}

func TestSelectorSkippedUnderThreshold(t *testing.T) {
	mw := New(&stubSelector{content: `{"tools":["a"]}`}, WithMaxTools(4))
	var got *middleware.ModelRequest
	handler := mw.WrapModelCall(passthrough(&got))

	req := &middleware.ModelRequest{Tools: toolMap("a", "b")}
	_, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, got.Tools, 2)
}

func TestSelectionFiltersAndCaps(t *testing.T) {
	mw := New(&stubSelector{content: `{"tools":["a","b","c"]}`},
		WithMaxTools(2), WithAlwaysInclude("z"))
	var got *middleware.ModelRequest
	handler := mw.WrapModelCall(passthrough(&got))

	req := &middleware.ModelRequest{Tools: toolMap("a", "b", "c", "d", "z")}
	_, err := handler(context.Background(), req)
	require.NoError(t, err)
	// Capped at 2 selected plus the always-include tool.
	require.Len(t, got.Tools, 3)
	require.Contains(t, got.Tools, "a")
	require.Contains(t, got.Tools, "b")
	require.Contains(t, got.Tools, "z")
	// The original request is untouched.
	require.Len(t, req.Tools, 5)
}

func TestUnknownSelectionIsFatal(t *testing.T) {
	mw := New(&stubSelector{content: `{"tools":["ghost"]}`}, WithMaxTools(1))
	var got *middleware.ModelRequest
	handler := mw.WrapModelCall(passthrough(&got))

	_, err := handler(context.Background(), &middleware.ModelRequest{Tools: toolMap("a", "b")})
	require.Error(t, err)
	require.True(t, agent.IsInputError(err))
}

func TestInvalidSelectorOutputIsFatal(t *testing.T) {
	mw := New(&stubSelector{content: `not json`}, WithMaxTools(1))
	var got *middleware.ModelRequest
	handler := mw.WrapModelCall(passthrough(&got))

	_, err := handler(context.Background(), &middleware.ModelRequest{Tools: toolMap("a", "b")})
	require.Error(t, err)
	require.True(t, agent.IsInputError(err))
}
