//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package model

import "trpc.group/trpc-go/trpc-xpert-go/tool"

// Role is the author of a message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation. Content and ContentParts are
// alternatives; when both are set, ContentParts wins.
type Message struct {
	Role         Role          `json:"role"`
	Content      string        `json:"content,omitempty"`
	ContentParts []ContentPart `json:"content_parts,omitempty"`

	// ToolID and ToolName identify the call a tool message answers.
	ToolID   string `json:"tool_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`

	// ToolCalls are the calls an assistant message requests.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Status marks tool messages that report a failure instead of a result.
	Status string `json:"status,omitempty"`
}

// StatusError marks a tool message as an error report.
const StatusError = "error"

// ContentType is the kind of a content part.
type ContentType string

// Content part kinds.
const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeFile  ContentType = "file"
)

// ContentPart is one piece of a multimodal message. Exactly one of the
// payload fields matching Type is set.
type ContentPart struct {
	Type  ContentType `json:"type"`
	Text  *string     `json:"text,omitempty"`
	Image *Image      `json:"image,omitempty"`
	File  *File       `json:"file,omitempty"`
}

// Image is image input for vision models.
type Image struct {
	URL string `json:"url"`
	// Detail is the resolution hint: "low", "high" or "auto".
	Detail string `json:"detail,omitempty"`
}

// File is file input. Either inline data or the id of an uploaded file.
type File struct {
	Filename string `json:"filename"`
	// FileData is base64 encoded file content.
	FileData string `json:"file_data"`
	// FileID references an already uploaded file.
	FileID string `json:"file_id"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a tool message answering the given call.
func NewToolMessage(toolID, toolName, content string) Message {
	return Message{
		Role:     RoleTool,
		ToolID:   toolID,
		ToolName: toolName,
		Content:  content,
	}
}

// NewErrorToolMessage creates a tool message reporting a failed call.
func NewErrorToolMessage(toolID, toolName, content string) Message {
	return Message{
		Role:     RoleTool,
		ToolID:   toolID,
		ToolName: toolName,
		Content:  content,
		Status:   StatusError,
	}
}

// NewUserMessageWithContentParts creates a multimodal user message.
func NewUserMessageWithContentParts(contentParts []ContentPart) Message {
	return Message{Role: RoleUser, ContentParts: contentParts}
}

// NewTextContentPart creates a text content part.
func NewTextContentPart(text string) ContentPart {
	return ContentPart{Type: ContentTypeText, Text: &text}
}

// NewImageContentPart creates an image content part.
func NewImageContentPart(url string, detail string) ContentPart {
	return ContentPart{
		Type:  ContentTypeImage,
		Image: &Image{URL: url, Detail: detail},
	}
}

// NewFileContentPartWithData creates a file content part carrying inline
// data.
func NewFileContentPartWithData(filename, data string) ContentPart {
	return ContentPart{
		Type: ContentTypeFile,
		File: &File{Filename: filename, FileData: data},
	}
}

// GenerationConfig are the sampling parameters of a model call. Nil
// pointers leave the provider default in place.
type GenerationConfig struct {
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`

	// Stream requests incremental delivery of the response.
	Stream bool `json:"stream"`

	// Stop sequences end generation when emitted.
	Stop []string `json:"stop,omitempty"`

	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`

	// ReasoningEffort is "low", "medium" or "high" for reasoning models.
	ReasoningEffort *string `json:"reasoning_effort,omitempty"`
}

// Request is one model call.
type Request struct {
	// Messages is the conversation history, oldest first.
	Messages []Message `json:"messages"`

	GenerationConfig `json:",inline"`

	// Tools offered to the model for this call, keyed by name. Declared
	// to the provider separately, never serialized with the request.
	Tools map[string]tool.Tool `json:"-"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	// Type is currently always "function".
	Type     string                  `json:"type"`
	Function FunctionDefinitionParam `json:"function,omitempty"`

	// ID correlates the eventual tool message with this call.
	ID string `json:"id,omitempty"`

	// Index orders partial tool calls in streamed chunks.
	Index *int `json:"index,omitempty"`
}

// FunctionDefinitionParam names the function of a tool call and carries
// its JSON-encoded arguments.
type FunctionDefinitionParam struct {
	Name string `json:"name"`

	// Strict asks the model to follow the declared parameter schema
	// exactly.
	Strict bool `json:"strict,omitempty"`

	Description string `json:"description,omitempty"`

	Arguments []byte `json:"arguments,omitempty"`
}
