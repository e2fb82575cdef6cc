//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package tool provides internal utilities for tool schema generation.
package tool

import (
	"reflect"
	"strings"

	"trpc.group/trpc-go/trpc-xpert-go/tool"
)

// GenerateJSONSchema generates a basic JSON schema from a reflect.Type.
// Recursive struct types are emitted once under $defs and referenced.
func GenerateJSONSchema(t reflect.Type) *tool.Schema {
	ctx := &schemaContext{
		visited: make(map[reflect.Type]string),
		defs:    make(map[string]*tool.Schema),
		refs:    make(map[string]bool),
	}
	schema := generateSchema(t, ctx, true)
	// A self-referential root moves into $defs so its references resolve
	// without creating a marshaling cycle.
	if rootName, ok := ctx.visited[rootType(t)]; ok && ctx.refs[rootName] {
		if _, inDefs := ctx.defs[rootName]; !inDefs {
			rootCopy := *schema
			ctx.defs[rootName] = &rootCopy
			schema = &tool.Schema{Ref: "#/$defs/" + rootName}
		}
	}
	if len(ctx.defs) > 0 {
		schema.Defs = ctx.defs
	}
	return schema
}

func rootType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

type schemaContext struct {
	visited map[reflect.Type]string
	defs    map[string]*tool.Schema
	refs    map[string]bool
}

func generateSchema(t reflect.Type, ctx *schemaContext, isRoot bool) *tool.Schema {
	if t == nil {
		return &tool.Schema{Type: "object"}
	}
	switch t.Kind() {
	case reflect.Ptr:
		return generateSchema(t.Elem(), ctx, isRoot)
	case reflect.Struct:
		if defName, seen := ctx.visited[t]; seen && !isRoot {
			ctx.refs[defName] = true
			return &tool.Schema{Ref: "#/$defs/" + defName}
		}
		return generateStructSchema(t, ctx, isRoot)
	case reflect.Slice, reflect.Array:
		return &tool.Schema{
			Type:  "array",
			Items: generateSchema(t.Elem(), ctx, false),
		}
	case reflect.Map:
		return &tool.Schema{Type: "object"}
	case reflect.String:
		return &tool.Schema{Type: "string"}
	case reflect.Bool:
		return &tool.Schema{Type: "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &tool.Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &tool.Schema{Type: "number"}
	case reflect.Interface:
		return &tool.Schema{}
	default:
		return &tool.Schema{Type: "string"}
	}
}

func generateStructSchema(t reflect.Type, ctx *schemaContext, isRoot bool) *tool.Schema {
	defName := t.Name()
	if defName == "" {
		defName = "anonymous"
	}
	ctx.visited[t] = defName

	schema := &tool.Schema{Type: "object"}
	properties := make(map[string]*tool.Schema)
	required := make([]string, 0)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		fieldName := field.Name
		isOmitEmpty := false
		if jsonTag != "" {
			if commaIdx := strings.Index(jsonTag, ","); commaIdx != -1 {
				if jsonTag[:commaIdx] != "" {
					fieldName = jsonTag[:commaIdx]
				}
				isOmitEmpty = strings.Contains(jsonTag[commaIdx:], "omitempty")
			} else {
				fieldName = jsonTag
			}
		}

		fieldSchema := generateSchema(field.Type, ctx, false)
		if fieldSchema.Ref == "" {
			applySchemaTag(field.Tag.Get("jsonschema"), fieldSchema)
		}
		properties[fieldName] = fieldSchema

		if field.Type.Kind() != reflect.Ptr && !isOmitEmpty {
			required = append(required, fieldName)
		}
	}

	if len(properties) > 0 {
		schema.Properties = properties
	}
	if len(required) > 0 {
		schema.Required = required
	}

	// Non-root recursive structs live under $defs so references resolve.
	if !isRoot {
		ctx.defs[defName] = schema
		return &tool.Schema{Ref: "#/$defs/" + defName}
	}
	return schema
}

// applySchemaTag interprets a `jsonschema:"..."` struct tag. Supported
// directives: description=..., enum=a|b|c, default=....
func applySchemaTag(tag string, schema *tool.Schema) {
	if tag == "" {
		return
	}
	for _, part := range strings.Split(tag, ",") {
		switch {
		case strings.HasPrefix(part, "description="):
			schema.Description = strings.TrimPrefix(part, "description=")
		case strings.HasPrefix(part, "enum="):
			values := strings.Split(strings.TrimPrefix(part, "enum="), "|")
			enum := make([]any, 0, len(values))
			for _, v := range values {
				enum = append(enum, v)
			}
			schema.Enum = enum
		case strings.HasPrefix(part, "default="):
			schema.Default = strings.TrimPrefix(part, "default=")
		}
	}
}
