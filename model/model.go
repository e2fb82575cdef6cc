//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package model provides the chat model abstraction used by the runtime.
package model

import "context"

// Model is the interface for all chat models.
type Model interface {
	// GenerateContent generates content from the model. The returned channel
	// yields streaming chunks when request.Stream is true, otherwise a single
	// final response. The channel is closed when generation finishes.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// Info describes a model instance.
type Info struct {
	// Name is the model name, e.g. "gpt-4o-mini".
	Name string
	// Provider is the backing provider identifier, e.g. "openai".
	Provider string
}
