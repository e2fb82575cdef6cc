//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package xpert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
)

// Load parses an xpert definition from YAML and validates it.
func Load(data []byte) (*Xpert, error) {
	var x Xpert
	if err := yaml.Unmarshal(data, &x); err != nil {
		return nil, fmt.Errorf("parse xpert definition: %w", err)
	}
	if err := Validate(&x); err != nil {
		return nil, err
	}
	return &x, nil
}

// LoadFile reads and parses an xpert definition file.
func LoadFile(path string) (*Xpert, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read xpert definition %s: %w", path, err)
	}
	x, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return x, nil
}

// Validate checks structural invariants of a definition.
func Validate(x *Xpert) error {
	if x == nil {
		return agent.NewConfigError("xpert", "definition is nil")
	}
	if x.ID == "" && x.Slug == "" {
		return agent.NewConfigError("xpert", "definition needs an id or slug")
	}
	if x.Agent == nil {
		return agent.NewConfigError("agent", "definition has no primary agent")
	}
	seen := make(map[string]struct{})
	var checkAgent func(a *XpertAgent) error
	checkAgent = func(a *XpertAgent) error {
		if a.Key == "" {
			return agent.NewConfigError("agent.key", "agent has no key")
		}
		if _, dup := seen[a.Key]; dup {
			return agent.NewConfigError("agent.key", "duplicate agent key %q", a.Key)
		}
		seen[a.Key] = struct{}{}
		if opts := a.Options; opts != nil && opts.ErrorHandling != nil {
			switch opts.ErrorHandling.Type {
			case "", ErrorHandlingDefaultValue:
			case ErrorHandlingFailBranch:
				if opts.ErrorHandling.FailNode == "" {
					return agent.NewConfigError("agent.options.error_handling",
						"agent %q uses failBranch without a fail node", a.Key)
				}
			default:
				return agent.NewConfigError("agent.options.error_handling",
					"agent %q has unknown error handling type %q", a.Key, opts.ErrorHandling.Type)
			}
		}
		for _, f := range a.Followers {
			if err := checkAgent(f); err != nil {
				return err
			}
		}
		return nil
	}
	if err := checkAgent(x.Agent); err != nil {
		return err
	}
	for _, a := range x.Agents {
		if err := checkAgent(a); err != nil {
			return err
		}
	}
	if x.Graph != nil {
		keys := make(map[string]struct{}, len(x.Graph.Nodes))
		for _, n := range x.Graph.Nodes {
			if n.Key == "" {
				return agent.NewConfigError("graph.nodes", "graph node has no key")
			}
			keys[n.Key] = struct{}{}
		}
		for _, c := range x.Graph.Connections {
			if _, ok := keys[c.From]; !ok && x.FindAgent(c.From) == nil {
				return agent.NewConfigError("graph.connections",
					"connection source %q is not a declared node", c.From)
			}
			if _, ok := keys[c.To]; !ok && x.FindAgent(c.To) == nil {
				return agent.NewConfigError("graph.connections",
					"connection target %q is not a declared node", c.To)
			}
		}
	}
	return nil
}
