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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
)

const sampleDefinition = `
id: trip-planner
slug: trip-planner
name: Trip Planner
version: "3"
latest: true
agent:
  key: planner
  prompt: "Plan trips for {{traveler}}."
  parameters:
    - name: traveler
      type: string
      required: true
  output_variables:
    - name: itinerary
      type: string
  toolset_ids: [maps]
  followers:
    - key: booker
      prompt: "Book what the planner decided."
      options:
        end_nodes: [confirm_booking]
options:
  recursion_limit: 25
  title_conversation: true
graph:
  nodes:
    - key: notify
      type: workflow
      entity:
        template: "Trip ready: {{summary}}"
        inputs: [summary]
  connections:
    - type: workflow
      from: planner
      to: notify
`

func TestLoadDefinition(t *testing.T) {
	x, err := Load([]byte(sampleDefinition))
	require.NoError(t, err)

	assert.Equal(t, "trip-planner", x.ID)
	assert.True(t, x.Latest)
	require.NotNil(t, x.Agent)
	assert.Equal(t, "planner", x.Agent.Key)
	require.Len(t, x.Agent.Followers, 1)
	assert.Equal(t, []string{"confirm_booking"}, x.Agent.Followers[0].Options.EndNodes)
	assert.Equal(t, 25, x.Options.RecursionLimit)
	require.NotNil(t, x.Graph)
	assert.Equal(t, NodeTypeWorkflow, x.Graph.Nodes[0].Type)

	booker := x.FindAgent("booker")
	require.NotNil(t, booker)
	assert.Equal(t, "Book what the planner decided.", booker.Prompt)
}

func TestLoadRejectsBrokenDefinitions(t *testing.T) {
	cases := map[string]string{
		"no identity": `
name: nameless
agent:
  key: a
`,
		"no primary agent": `
id: x
slug: x
`,
		"duplicate agent keys": `
id: x
slug: x
agent:
  key: a
  followers:
    - key: a
`,
		"failBranch without fail node": `
id: x
slug: x
agent:
  key: a
  options:
    error_handling:
      type: failBranch
`,
		"dangling connection": `
id: x
slug: x
agent:
  key: a
graph:
  connections:
    - type: edge
      from: a
      to: ghost
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(doc))
			var cfgErr *agent.ConfigError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load([]byte("id: [unclosed"))
	require.Error(t, err)
}
