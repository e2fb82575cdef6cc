//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package tool

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateArguments checks JSON-encoded tool arguments against the declared
// input schema. A nil schema accepts anything. Empty arguments are treated as
// an empty object so tools without parameters validate cleanly.
func ValidateArguments(decl *Declaration, jsonArgs []byte) error {
	if decl == nil || decl.InputSchema == nil {
		return nil
	}
	schemaBytes, err := decl.InputSchema.MarshalJSONValue()
	if err != nil {
		return fmt.Errorf("marshal input schema for tool %s: %w", decl.Name, err)
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal input schema for tool %s: %w", decl.Name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource for tool %s: %w", decl.Name, err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile input schema for tool %s: %w", decl.Name, err)
	}

	if len(jsonArgs) == 0 {
		jsonArgs = []byte("{}")
	}
	var payload any
	if err := json.Unmarshal(jsonArgs, &payload); err != nil {
		return fmt.Errorf("arguments for tool %s are not valid JSON: %w", decl.Name, err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("arguments for tool %s do not match schema: %w", decl.Name, err)
	}
	return nil
}
