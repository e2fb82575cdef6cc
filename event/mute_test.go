//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMutePolicy_Allows(t *testing.T) {
	policy := &MutePolicy{
		Mute: [][]string{
			{"agent:planner"},
			{"agent:writer", "tool:search"},
		},
		Unmute: [][]string{
			{"agent:planner", "tool:lookup"},
		},
	}

	tests := []struct {
		name string
		path []string
		want bool
	}{
		{"unrelated path passes", []string{"agent:solver"}, true},
		{"muted root drops", []string{"agent:planner"}, false},
		{"muted subtree drops", []string{"agent:planner", "tool:search"}, false},
		{"unmuted subtree passes", []string{"agent:planner", "tool:lookup"}, true},
		{"unmuted descendant passes", []string{"agent:planner", "tool:lookup", "chunk"}, true},
		{"specific mute drops", []string{"agent:writer", "tool:search"}, false},
		{"sibling of specific mute passes", []string{"agent:writer", "tool:fetch"}, true},
		{"empty path passes", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, policy.Allows(tt.path))
		})
	}
}

func TestMutePolicy_MuteWinsTies(t *testing.T) {
	// A mute and unmute of the same specificity resolve to muted.
	policy := &MutePolicy{
		Mute:   [][]string{{"agent:planner"}},
		Unmute: [][]string{{"agent:planner"}},
	}
	require.False(t, policy.Allows([]string{"agent:planner"}))
	require.False(t, policy.Allows([]string{"agent:planner", "tool:search"}))
}

func TestMutePolicy_AllowsKey(t *testing.T) {
	policy := &MutePolicy{Mute: [][]string{{"agent:planner"}}}
	require.False(t, policy.AllowsKey("agent:planner/tool:search"))
	require.True(t, policy.AllowsKey("agent:writer/tool:search"))
	require.True(t, policy.AllowsKey(""))
}

func TestMutePolicy_AllowsEvent(t *testing.T) {
	policy := &MutePolicy{Mute: [][]string{{"agent:planner"}}}

	muted := New("inv", "planner", WithFilterKey("agent:planner/tool:search"))
	require.False(t, policy.AllowsEvent(muted))

	open := New("inv", "writer", WithFilterKey("agent:writer"))
	require.True(t, policy.AllowsEvent(open))

	// Events without a filter key are never muted.
	plain := New("inv", "writer")
	require.True(t, policy.AllowsEvent(plain))

	require.False(t, policy.AllowsEvent(nil))
}

func TestMutePolicy_Merge(t *testing.T) {
	base := &MutePolicy{Mute: [][]string{{"agent:planner"}}}
	extra := &MutePolicy{
		Mute:   [][]string{{"agent:writer"}},
		Unmute: [][]string{{"agent:planner", "tool:lookup"}},
	}

	merged := base.Merge(extra)
	require.False(t, merged.Allows([]string{"agent:planner"}))
	require.False(t, merged.Allows([]string{"agent:writer"}))
	require.True(t, merged.Allows([]string{"agent:planner", "tool:lookup"}))

	require.Equal(t, base, base.Merge(nil))
	require.Equal(t, extra, (*MutePolicy)(nil).Merge(extra))

	var empty *MutePolicy
	require.True(t, empty.Empty())
	require.True(t, empty.Allows([]string{"anything"}))
}
