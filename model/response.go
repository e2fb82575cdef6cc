//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"time"
)

// Values of ResponseError.Type.
const (
	ErrorTypeStreamError = "stream_error"
	ErrorTypeAPIError    = "api_error"
	ErrorTypeFlowError   = "flow_error"
)

// Values of Response.Object.
const (
	ObjectTypeError = "error"
	// ObjectTypeToolResponse marks responses carrying a tool result.
	ObjectTypeToolResponse = "tool.response"
	// ObjectTypeRunnerCompletion marks the terminal event of a run.
	ObjectTypeRunnerCompletion = "runner.completion"
	// ObjectTypeChatCompletionChunk marks one chunk of a streamed completion.
	ObjectTypeChatCompletionChunk = "chat.completion.chunk"
	// ObjectTypeChatCompletion marks a complete chat completion.
	ObjectTypeChatCompletion = "chat.completion"
)

// Choice is one completion alternative. Complete responses fill Message;
// streamed chunks fill Delta.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message,omitempty"`
	Delta        Message `json:"delta,omitempty"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

// Usage is the token accounting of one model call.
type Usage struct {
	PromptTokens        int                 `json:"prompt_tokens"`
	CompletionTokens    int                 `json:"completion_tokens"`
	TotalTokens         int                 `json:"total_tokens"`
	PromptTokensDetails PromptTokensDetails `json:"prompt_tokens_details"`
}

// PromptTokensDetails breaks down the prompt token count.
type PromptTokensDetails struct {
	// CachedTokens counts prompt tokens served from the provider cache.
	CachedTokens int `json:"cached_tokens"`
}

// Response is a model reply or one chunk of a streamed reply. Error holds
// failures the provider reported inside an otherwise successful exchange;
// transport failures surface as ordinary Go errors instead.
type Response struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`

	// Usage is nil on intermediate streaming chunks.
	Usage *Usage         `json:"usage,omitempty"`
	Error *ResponseError `json:"error,omitempty"`

	// Timestamp is when the response (or chunk) was received.
	Timestamp time.Time `json:"timestamp"`

	// Done marks the last response of a flow.
	Done bool `json:"done"`

	// IsPartial marks intermediate streaming chunks.
	IsPartial bool `json:"is_partial"`
}

// Clone returns a deep copy of the response.
func (rsp *Response) Clone() *Response {
	if rsp == nil {
		return nil
	}
	clone := *rsp
	clone.Choices = make([]Choice, len(rsp.Choices))
	copy(clone.Choices, rsp.Choices)
	if rsp.Usage != nil {
		usage := *rsp.Usage
		clone.Usage = &usage
	}
	if rsp.Error != nil {
		respErr := *rsp.Error
		clone.Error = &respErr
	}
	return &clone
}

// ResponseError is a provider-reported error.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`

	// Param names the request parameter at fault, when the provider says.
	Param *string `json:"param,omitempty"`

	// Code is the provider-specific error code.
	Code *string `json:"code,omitempty"`
}
