//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package openai implements the chat model interface on the OpenAI API
// and OpenAI-compatible endpoints.
package openai

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"trpc.group/trpc-go/trpc-xpert-go/log"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// Model calls the OpenAI chat completions API.
type Model struct {
	client            openai.Client
	name              string
	channelBufferSize int
}

// New creates a model for the given model name.
func New(name string, opts ...Option) *Model {
	o := &options{channelBufferSize: defaultChannelBufferSize}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []openaiopt.RequestOption
	if o.apiKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.apiKey))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.baseURL))
	}
	clientOpts = append(clientOpts, o.requestOptions...)
	return &Model{
		client:            openai.NewClient(clientOpts...),
		name:              name,
		channelBufferSize: o.channelBufferSize,
	}
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name, Provider: "openai"}
}

// GenerateContent implements model.Model.
func (m *Model) GenerateContent(ctx context.Context, request *model.Request) (<-chan *model.Response, error) {
	params := m.buildParams(request)
	responseChan := make(chan *model.Response, m.channelBufferSize)
	if request.Stream {
		go m.stream(ctx, params, responseChan)
	} else {
		go m.complete(ctx, params, responseChan)
	}
	return responseChan, nil
}

func (m *Model) buildParams(request *model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: convertMessages(request.Messages),
		Tools:    convertTools(request.Tools),
	}
	if request.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*request.MaxTokens))
	}
	if request.Temperature != nil {
		params.Temperature = openai.Float(*request.Temperature)
	}
	if request.TopP != nil {
		params.TopP = openai.Float(*request.TopP)
	}
	if request.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*request.PresencePenalty)
	}
	if request.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*request.FrequencyPenalty)
	}
	if len(request.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfString: openai.String(request.Stop[0]),
		}
	}
	if request.ReasoningEffort != nil {
		params.ReasoningEffort = shared.ReasoningEffort(*request.ReasoningEffort)
	}
	if request.Stream {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}
	return params
}

func (m *Model) complete(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- *model.Response) {
	defer close(out)
	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		sendResponse(ctx, out, errorResponse(err.Error(), model.ErrorTypeAPIError))
		return
	}
	rsp := &model.Response{
		ID:        completion.ID,
		Object:    model.ObjectTypeChatCompletion,
		Created:   completion.Created,
		Model:     completion.Model,
		Timestamp: time.Now(),
		Done:      true,
	}
	for _, choice := range completion.Choices {
		finish := string(choice.FinishReason)
		rsp.Choices = append(rsp.Choices, model.Choice{
			Index:        int(choice.Index),
			Message:      convertCompletionMessage(choice.Message),
			FinishReason: &finish,
		})
	}
	if completion.Usage.TotalTokens > 0 {
		rsp.Usage = convertUsage(completion.Usage)
	}
	sendResponse(ctx, out, rsp)
}

func (m *Model) stream(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- *model.Response) {
	defer close(out)
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if partial := partialResponse(chunk); partial != nil {
			if !sendResponse(ctx, out, partial) {
				return
			}
		}
	}
	if err := stream.Err(); err != nil {
		sendResponse(ctx, out, errorResponse(err.Error(), model.ErrorTypeStreamError))
		return
	}
	final := &model.Response{
		ID:        acc.ID,
		Object:    model.ObjectTypeChatCompletion,
		Created:   acc.Created,
		Model:     acc.Model,
		Timestamp: time.Now(),
		Done:      true,
	}
	for _, choice := range acc.Choices {
		finish := choice.FinishReason
		final.Choices = append(final.Choices, model.Choice{
			Index:        int(choice.Index),
			Message:      convertCompletionMessage(choice.Message),
			FinishReason: &finish,
		})
	}
	if acc.Usage.TotalTokens > 0 {
		final.Usage = convertUsage(acc.Usage)
	}
	sendResponse(ctx, out, final)
}

func partialResponse(chunk openai.ChatCompletionChunk) *model.Response {
	if len(chunk.Choices) == 0 {
		return nil
	}
	delta := chunk.Choices[0].Delta
	if delta.Content == "" && len(delta.ToolCalls) == 0 {
		return nil
	}
	rsp := &model.Response{
		ID:        chunk.ID,
		Object:    model.ObjectTypeChatCompletionChunk,
		Created:   chunk.Created,
		Model:     chunk.Model,
		Timestamp: time.Now(),
		IsPartial: true,
	}
	var toolCalls []model.ToolCall
	for _, tc := range delta.ToolCalls {
		index := int(tc.Index)
		toolCalls = append(toolCalls, model.ToolCall{
			Type:  string(tc.Type),
			ID:    tc.ID,
			Index: &index,
			Function: model.FunctionDefinitionParam{
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			},
		})
	}
	rsp.Choices = []model.Choice{{
		Delta: model.Message{
			Role:      model.RoleAssistant,
			Content:   delta.Content,
			ToolCalls: toolCalls,
		},
	}}
	if chunk.Choices[0].FinishReason != "" {
		finish := chunk.Choices[0].FinishReason
		rsp.Choices[0].FinishReason = &finish
	}
	return rsp
}

func convertCompletionMessage(msg openai.ChatCompletionMessage) model.Message {
	result := model.Message{
		Role:    model.RoleAssistant,
		Content: msg.Content,
	}
	for _, tc := range msg.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, model.ToolCall{
			Type: string(tc.Type),
			ID:   tc.ID,
			Function: model.FunctionDefinitionParam{
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			},
		})
	}
	return result
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			for _, tc := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Function.Name,
						Arguments: string(tc.Function.Arguments),
					},
				})
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case model.RoleTool:
			result = append(result, openai.ToolMessage(msg.Content, msg.ToolID))
		default:
			result = append(result, convertUserMessage(msg))
		}
	}
	return result
}

func convertUserMessage(msg model.Message) openai.ChatCompletionMessageParamUnion {
	if len(msg.ContentParts) == 0 {
		return openai.UserMessage(msg.Content)
	}
	var parts []openai.ChatCompletionContentPartUnionParam
	for _, part := range msg.ContentParts {
		switch part.Type {
		case model.ContentTypeText:
			if part.Text != nil {
				parts = append(parts, openai.ChatCompletionContentPartUnionParam{
					OfText: &openai.ChatCompletionContentPartTextParam{Text: *part.Text},
				})
			}
		case model.ContentTypeImage:
			if part.Image != nil {
				parts = append(parts, openai.ChatCompletionContentPartUnionParam{
					OfImageURL: &openai.ChatCompletionContentPartImageParam{
						ImageURL: openai.ChatCompletionContentPartImageImageURLParam{
							URL:    part.Image.URL,
							Detail: part.Image.Detail,
						},
					},
				})
			}
		case model.ContentTypeFile:
			if part.File != nil {
				parts = append(parts, openai.ChatCompletionContentPartUnionParam{
					OfFile: &openai.ChatCompletionContentPartFileParam{
						File: fileParam(part.File),
					},
				})
			}
		}
	}
	return openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: parts,
			},
		},
	}
}

func fileParam(file *model.File) openai.ChatCompletionContentPartFileFileParam {
	if file.FileID != "" {
		return openai.ChatCompletionContentPartFileFileParam{
			FileID: openai.String(file.FileID),
		}
	}
	return openai.ChatCompletionContentPartFileFileParam{
		Filename: openai.String(file.Filename),
		FileData: openai.String(file.FileData),
	}
}

func convertTools(tools map[string]tool.Tool) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, t := range tools {
		declaration := t.Declaration()
		var parameters shared.FunctionParameters
		if declaration.InputSchema != nil {
			schemaBytes, err := json.Marshal(declaration.InputSchema)
			if err != nil {
				log.Errorf("marshal tool schema for %s: %v", declaration.Name, err)
				continue
			}
			if err := json.Unmarshal(schemaBytes, &parameters); err != nil {
				log.Errorf("unmarshal tool schema for %s: %v", declaration.Name, err)
				continue
			}
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        declaration.Name,
				Description: openai.String(declaration.Description),
				Parameters:  parameters,
			},
		})
	}
	return result
}

func convertUsage(usage openai.CompletionUsage) *model.Usage {
	return &model.Usage{
		PromptTokens:     int(usage.PromptTokens),
		CompletionTokens: int(usage.CompletionTokens),
		TotalTokens:      int(usage.TotalTokens),
		PromptTokensDetails: model.PromptTokensDetails{
			CachedTokens: int(usage.PromptTokensDetails.CachedTokens),
		},
	}
}

func errorResponse(message, errType string) *model.Response {
	return &model.Response{
		Object:    model.ObjectTypeError,
		Timestamp: time.Now(),
		Done:      true,
		Error:     &model.ResponseError{Message: message, Type: errType},
	}
}

func sendResponse(ctx context.Context, out chan<- *model.Response, rsp *model.Response) bool {
	select {
	case out <- rsp:
		return true
	case <-ctx.Done():
		return false
	}
}
