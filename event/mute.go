//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package event

import "strings"

// MutePolicy filters events by their hierarchical tag path. Mute entries
// are path prefixes that suppress matching events; unmute entries punch
// holes through broader mute entries. The most specific matching entry
// wins, and a mute wins over an unmute of the same length.
type MutePolicy struct {
	Mute   [][]string `json:"mute,omitempty"   yaml:"mute,omitempty"`
	Unmute [][]string `json:"unmute,omitempty" yaml:"unmute,omitempty"`
}

// Merge combines two policies, with entries from both applying.
func (p *MutePolicy) Merge(other *MutePolicy) *MutePolicy {
	if p == nil {
		return other
	}
	if other == nil {
		return p
	}
	merged := &MutePolicy{
		Mute:   make([][]string, 0, len(p.Mute)+len(other.Mute)),
		Unmute: make([][]string, 0, len(p.Unmute)+len(other.Unmute)),
	}
	merged.Mute = append(merged.Mute, p.Mute...)
	merged.Mute = append(merged.Mute, other.Mute...)
	merged.Unmute = append(merged.Unmute, p.Unmute...)
	merged.Unmute = append(merged.Unmute, other.Unmute...)
	return merged
}

// Empty reports whether the policy has no entries.
func (p *MutePolicy) Empty() bool {
	return p == nil || (len(p.Mute) == 0 && len(p.Unmute) == 0)
}

// Allows reports whether an event with the given tag path passes the
// policy. A path passes when no mute prefix matches it, or when the
// longest matching unmute prefix is more specific than every matching
// mute prefix.
func (p *MutePolicy) Allows(path []string) bool {
	if p.Empty() {
		return true
	}
	muted := longestPrefixMatch(p.Mute, path)
	if muted < 0 {
		return true
	}
	return longestPrefixMatch(p.Unmute, path) > muted
}

// AllowsKey is Allows for a filter key string.
func (p *MutePolicy) AllowsKey(filterKey string) bool {
	if p.Empty() {
		return true
	}
	if filterKey == "" {
		return p.Allows(nil)
	}
	return p.Allows(strings.Split(filterKey, FilterKeyDelimiter))
}

// AllowsEvent is Allows for an event's filter path.
func (p *MutePolicy) AllowsEvent(e *Event) bool {
	if p.Empty() {
		return true
	}
	if e == nil {
		return false
	}
	return p.Allows(e.FilterPath())
}

// longestPrefixMatch returns the length of the longest rule that is a
// prefix of path, or -1 when none matches. Empty rules are ignored.
func longestPrefixMatch(rules [][]string, path []string) int {
	best := -1
	for _, rule := range rules {
		if len(rule) == 0 || len(rule) > len(path) {
			continue
		}
		if len(rule) <= best {
			continue
		}
		match := true
		for i, seg := range rule {
			if path[i] != seg {
				match = false
				break
			}
		}
		if match {
			best = len(rule)
		}
	}
	return best
}
