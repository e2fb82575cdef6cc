//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package channel provides the versioned channels that carry values
// between nodes in Pregel-style execution.
package channel

import (
	"sort"
	"sync"
)

// Behavior defines how a channel combines and exposes writes.
type Behavior string

const (
	// BehaviorLastValue keeps only the most recent write.
	BehaviorLastValue Behavior = "last_value"
	// BehaviorTopic accumulates all writes since the last acknowledge.
	BehaviorTopic Behavior = "topic"
	// BehaviorEphemeral keeps a write for a single step only.
	BehaviorEphemeral Behavior = "ephemeral"
	// BehaviorBarrier collects sender names and becomes available only via
	// an explicit release when the expected set is complete.
	BehaviorBarrier Behavior = "barrier"
)

// Channel is a named, versioned slot. Every effective write bumps the
// version; the scheduler compares versions against what each node has
// seen to decide which nodes run next.
type Channel struct {
	mu sync.RWMutex

	Name     string
	Behavior Behavior

	value      any
	values     []any
	barrierSet map[string]struct{}

	version     int64
	available   bool
	updatedStep int
}

// New creates a channel with the given behavior.
func New(name string, behavior Behavior) *Channel {
	return &Channel{
		Name:        name,
		Behavior:    behavior,
		barrierSet:  make(map[string]struct{}),
		updatedStep: -1,
	}
}

// Update applies writes to the channel at the given step. It reports
// whether the channel changed.
func (c *Channel) Update(values []any, step int) bool {
	if len(values) == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.Behavior {
	case BehaviorTopic:
		c.values = append(c.values, values...)
	case BehaviorBarrier:
		for _, v := range values {
			if sender, ok := v.(string); ok {
				c.barrierSet[sender] = struct{}{}
			}
		}
		// Barrier members accumulate silently; availability is granted by
		// Release once the join set is complete.
		c.version++
		c.updatedStep = step
		return true
	default:
		c.value = values[len(values)-1]
	}
	c.version++
	c.available = true
	c.updatedStep = step
	return true
}

// Get returns the channel's current value. Topic channels return the
// accumulated slice, barrier channels the sorted member names.
func (c *Channel) Get() (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.available {
		return nil, false
	}
	switch c.Behavior {
	case BehaviorTopic:
		return c.values, true
	case BehaviorBarrier:
		return c.membersLocked(), true
	default:
		return c.value, true
	}
}

// Members returns the accumulated barrier members.
func (c *Channel) Members() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.membersLocked()
}

func (c *Channel) membersLocked() []string {
	members := make([]string, 0, len(c.barrierSet))
	for m := range c.barrierSet {
		members = append(members, m)
	}
	sort.Strings(members)
	return members
}

// IsComplete reports whether all expected senders have arrived at a
// barrier channel.
func (c *Channel) IsComplete(expected []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, want := range expected {
		if _, ok := c.barrierSet[want]; !ok {
			return false
		}
	}
	return true
}

// Release makes a barrier channel available at the given step and clears
// the member set for the next round.
func (c *Channel) Release(step int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = true
	c.version++
	c.updatedStep = step
	c.barrierSet = make(map[string]struct{})
}

// IsAvailable reports whether the channel currently has a value to
// deliver.
func (c *Channel) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// Version returns the channel's version counter.
func (c *Channel) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// IsUpdatedInStep reports whether the channel was written during the
// given step.
func (c *Channel) IsUpdatedInStep(step int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedStep == step
}

// Acknowledge consumes the channel's availability so it does not trigger
// planning again. Topic channels drop their accumulated values, ephemeral
// channels their value.
func (c *Channel) Acknowledge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = false
	switch c.Behavior {
	case BehaviorTopic:
		c.values = nil
	case BehaviorEphemeral:
		c.value = nil
	}
}

// ValueCount returns how many values the channel currently holds.
func (c *Channel) ValueCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.Behavior {
	case BehaviorTopic:
		return len(c.values)
	case BehaviorBarrier:
		return len(c.barrierSet)
	default:
		if c.value != nil {
			return 1
		}
		return 0
	}
}

// Restore rebuilds the channel from checkpoint data without marking it as
// updated in the current step.
func (c *Channel) Restore(value any, version int64, available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = version
	c.available = available
	c.updatedStep = -1
	switch c.Behavior {
	case BehaviorTopic:
		if vs, ok := value.([]any); ok {
			c.values = vs
		} else if value != nil {
			c.values = []any{value}
		} else {
			c.values = nil
		}
	case BehaviorBarrier:
		c.barrierSet = make(map[string]struct{})
		switch vs := value.(type) {
		case []string:
			for _, m := range vs {
				c.barrierSet[m] = struct{}{}
			}
		case []any:
			for _, m := range vs {
				if s, ok := m.(string); ok {
					c.barrierSet[s] = struct{}{}
				}
			}
		}
	default:
		c.value = value
	}
}

// Manager owns the channels of one execution.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewManager creates an empty channel manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]*Channel)}
}

// Add registers a channel if absent and returns it.
func (m *Manager) Add(name string, behavior Behavior) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[name]; ok {
		return ch
	}
	ch := New(name, behavior)
	m.channels[name] = ch
	return ch
}

// Get returns the channel with the given name.
func (m *Manager) Get(name string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// All returns a snapshot of all channels.
func (m *Manager) All() map[string]*Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make(map[string]*Channel, len(m.channels))
	for name, ch := range m.channels {
		all[name] = ch
	}
	return all
}

// Versions returns the current version of every channel.
func (m *Manager) Versions() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := make(map[string]int64, len(m.channels))
	for name, ch := range m.channels {
		versions[name] = ch.Version()
	}
	return versions
}
