//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package tool provides the tool abstraction consumed by the graph runtime.
package tool

import (
	"context"
	"encoding/json"
)

// Tool is the interface that all tools implement.
type Tool interface {
	// Declaration returns the metadata describing the tool.
	Declaration() *Declaration
}

// CallableTool is a tool that can be invoked with JSON-encoded arguments.
type CallableTool interface {
	Tool

	// Call executes the tool with the given JSON arguments.
	// The result is either a plain value, a model tool message, or a
	// routing command interpreted by the tool node.
	Call(ctx context.Context, jsonArgs []byte) (any, error)
}

// Declaration describes a tool to the model and to the runtime.
type Declaration struct {
	// Name is the tool name as exposed to the model.
	Name string `json:"name"`
	// Description tells the model what the tool does.
	Description string `json:"description"`
	// InputSchema is the JSON schema of the tool arguments.
	InputSchema *Schema `json:"input_schema,omitempty"`
	// OutputSchema is the JSON schema of the tool result.
	OutputSchema *Schema `json:"output_schema,omitempty"`
}

// Schema is a neutral JSON schema representation.
type Schema struct {
	// Type is the JSON schema type: "object", "string", "number", etc.
	Type string `json:"type,omitempty"`
	// Description documents the schema node.
	Description string `json:"description,omitempty"`
	// Properties holds the schemas of object properties.
	Properties map[string]*Schema `json:"properties,omitempty"`
	// Required lists the mandatory property names.
	Required []string `json:"required,omitempty"`
	// Items is the schema of array items.
	Items *Schema `json:"items,omitempty"`
	// Enum restricts the value to a fixed set.
	Enum []any `json:"enum,omitempty"`
	// Default is the default value.
	Default any `json:"default,omitempty"`
	// AdditionalProperties controls whether extra object keys are allowed.
	AdditionalProperties *bool `json:"additionalProperties,omitempty"`
	// Ref is a reference to a definition under $defs.
	Ref string `json:"$ref,omitempty"`
	// Defs holds reusable schema definitions.
	Defs map[string]*Schema `json:"$defs,omitempty"`
}

// MarshalJSONValue renders the schema as a raw JSON document, which is the
// form schema validators and provider SDKs consume.
func (s *Schema) MarshalJSONValue() ([]byte, error) {
	return json.Marshal(s)
}
