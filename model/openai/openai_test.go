//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package openai

import (
	"context"
	"testing"

	openaisdk "github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

func TestConvertMessages(t *testing.T) {
	assistant := model.NewAssistantMessage("checking")
	assistant.ToolCalls = []model.ToolCall{{
		ID:   "call_1",
		Type: "function",
		Function: model.FunctionDefinitionParam{
			Name:      "get_weather",
			Arguments: []byte(`{"city":"Tokyo"}`),
		},
	}}
	messages := []model.Message{
		model.NewSystemMessage("be brief"),
		model.NewUserMessage("weather?"),
		assistant,
		model.NewToolMessage("call_1", "get_weather", "sunny"),
	}

	converted := convertMessages(messages)
	require.Len(t, converted, 4)
	require.NotNil(t, converted[0].OfSystem)
	require.NotNil(t, converted[1].OfUser)
	require.NotNil(t, converted[2].OfAssistant)
	require.Len(t, converted[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "get_weather", converted[2].OfAssistant.ToolCalls[0].Function.Name)
	require.NotNil(t, converted[3].OfTool)
	assert.Equal(t, "call_1", converted[3].OfTool.ToolCallID)
}

func TestConvertMultimodalUserMessage(t *testing.T) {
	msg := model.Message{
		Role: model.RoleUser,
		ContentParts: []model.ContentPart{
			model.NewTextContentPart("what is this?"),
			{Type: model.ContentTypeImage, Image: &model.Image{URL: "https://example.com/a.png", Detail: "low"}},
		},
	}
	converted := convertUserMessage(msg)
	require.NotNil(t, converted.OfUser)
	parts := converted.OfUser.Content.OfArrayOfContentParts
	require.Len(t, parts, 2)
	assert.NotNil(t, parts[0].OfText)
	require.NotNil(t, parts[1].OfImageURL)
	assert.Equal(t, "https://example.com/a.png", parts[1].OfImageURL.ImageURL.URL)
}

type declOnlyTool struct {
	declaration *tool.Declaration
}

func (d declOnlyTool) Declaration() *tool.Declaration { return d.declaration }

func (d declOnlyTool) Call(context.Context, []byte) (any, error) { return nil, nil }

func TestConvertTools(t *testing.T) {
	tools := map[string]tool.Tool{
		"get_weather": declOnlyTool{declaration: &tool.Declaration{
			Name:        "get_weather",
			Description: "Current weather for a city.",
			InputSchema: &tool.Schema{
				Type: "object",
				Properties: map[string]*tool.Schema{
					"city": {Type: "string"},
				},
				Required: []string{"city"},
			},
		}},
	}
	converted := convertTools(tools)
	require.Len(t, converted, 1)
	assert.Equal(t, "get_weather", converted[0].Function.Name)
	assert.Equal(t, "object", converted[0].Function.Parameters["type"])
}

func TestPartialResponse(t *testing.T) {
	chunk := openaisdk.ChatCompletionChunk{
		ID:    "chatcmpl-1",
		Model: "gpt-4o-mini",
		Choices: []openaisdk.ChatCompletionChunkChoice{{
			Delta: openaisdk.ChatCompletionChunkChoiceDelta{Content: "Hel"},
		}},
	}
	rsp := partialResponse(chunk)
	require.NotNil(t, rsp)
	assert.True(t, rsp.IsPartial)
	require.Len(t, rsp.Choices, 1)
	assert.Equal(t, "Hel", rsp.Choices[0].Delta.Content)

	empty := partialResponse(openaisdk.ChatCompletionChunk{})
	assert.Nil(t, empty)
}

func TestBuildParams(t *testing.T) {
	m := New("gpt-4o-mini", WithAPIKey("test-key"))
	temperature := 0.2
	maxTokens := 128
	req := &model.Request{
		Messages: []model.Message{model.NewUserMessage("hi")},
		GenerationConfig: model.GenerationConfig{
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
			Stream:      true,
		},
	}
	params := m.buildParams(req)
	assert.Equal(t, "gpt-4o-mini", string(params.Model))
	require.Len(t, params.Messages, 1)
	assert.Equal(t, 0.2, params.Temperature.Value)
	assert.Equal(t, int64(128), params.MaxCompletionTokens.Value)
	assert.True(t, params.StreamOptions.IncludeUsage.Value)
}
