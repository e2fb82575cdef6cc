//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/thread"
)

// Invocation is the context of one agent run.
type Invocation struct {
	// Agent is the agent being invoked.
	Agent Agent
	// AgentName is the name of the agent being invoked.
	AgentName string
	// InvocationID is the unique ID of this run.
	InvocationID string
	// Branch is the branch identifier for hierarchical event filtering.
	Branch string
	// EndInvocation marks the invocation complete.
	EndInvocation bool
	// Thread is the conversation the run belongs to.
	Thread *thread.Thread
	// Model is the model used for the run when the agent does not bring
	// its own.
	Model model.Model
	// Message is the user message that started the run.
	Message model.Message
	// RunOptions carries per-run options.
	RunOptions RunOptions

	// state shares values across middleware hooks within one run.
	stateMu sync.RWMutex
	state   map[string]any
}

// NewInvocation creates an invocation with a fresh ID.
func NewInvocation(opts ...InvocationOption) *Invocation {
	inv := &Invocation{
		InvocationID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// InvocationOption configures a new invocation.
type InvocationOption func(*Invocation)

// WithInvocationAgent sets the agent and its name.
func WithInvocationAgent(a Agent) InvocationOption {
	return func(inv *Invocation) {
		inv.Agent = a
		if a != nil {
			inv.AgentName = a.Info().Name
		}
	}
}

// WithInvocationThread sets the thread.
func WithInvocationThread(t *thread.Thread) InvocationOption {
	return func(inv *Invocation) {
		inv.Thread = t
	}
}

// WithInvocationMessage sets the triggering message.
func WithInvocationMessage(msg model.Message) InvocationOption {
	return func(inv *Invocation) {
		inv.Message = msg
	}
}

// WithInvocationRunOptions sets the run options.
func WithInvocationRunOptions(ro RunOptions) InvocationOption {
	return func(inv *Invocation) {
		inv.RunOptions = ro
	}
}

// Clone returns a copy of the invocation for a sub-agent run. The shared
// state bag is carried over so middleware observes one run.
func (inv *Invocation) Clone(opts ...InvocationOption) *Invocation {
	inv.stateMu.RLock()
	defer inv.stateMu.RUnlock()
	cp := &Invocation{
		Agent:        inv.Agent,
		AgentName:    inv.AgentName,
		InvocationID: inv.InvocationID,
		Branch:       inv.Branch,
		Thread:       inv.Thread,
		Model:        inv.Model,
		Message:      inv.Message,
		RunOptions:   inv.RunOptions,
		state:        inv.state,
	}
	for _, opt := range opts {
		opt(cp)
	}
	return cp
}

// SetState stores a value in the invocation's shared state bag.
func (inv *Invocation) SetState(key string, value any) {
	inv.stateMu.Lock()
	defer inv.stateMu.Unlock()
	if inv.state == nil {
		inv.state = make(map[string]any)
	}
	inv.state[key] = value
}

// DeleteState removes a value from the invocation's shared state bag.
func (inv *Invocation) DeleteState(key string) {
	inv.stateMu.Lock()
	defer inv.stateMu.Unlock()
	delete(inv.state, key)
}

// GetStateValue retrieves a typed value from the invocation's shared
// state bag.
func GetStateValue[T any](inv *Invocation, key string) (T, bool) {
	var zero T
	if inv == nil {
		return zero, false
	}
	inv.stateMu.RLock()
	defer inv.stateMu.RUnlock()
	v, ok := inv.state[key]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// RunOptions are the per-run options of an agent invocation.
type RunOptions struct {
	// RuntimeState seeds the initial graph state of the run.
	RuntimeState map[string]any
	// StreamModes selects the event families emitted during the run.
	StreamModes []StreamMode
	// CheckpointID targets a specific checkpoint instead of the latest.
	CheckpointID string
	// CheckpointNamespace addresses a checkpoint namespace.
	CheckpointNamespace string
	// Resume carries a single resume value for an interrupted run.
	Resume any
	// ResumeMap carries resume values keyed by interrupt key, typically
	// tool call IDs.
	ResumeMap map[string]any
	// IsResume marks the run as a resume of an interrupted run even when
	// no resume value is supplied.
	IsResume bool
}

// HasResume reports whether the options carry resume input.
func (ro *RunOptions) HasResume() bool {
	return ro.IsResume || ro.Resume != nil || len(ro.ResumeMap) > 0
}

// HasStreamMode reports whether the given stream mode is enabled.
func (ro *RunOptions) HasStreamMode(mode StreamMode) bool {
	for _, m := range ro.StreamModes {
		if m == mode {
			return true
		}
	}
	return false
}

// RunOption configures RunOptions.
type RunOption func(*RunOptions)

// WithRuntimeState seeds initial state for the run.
func WithRuntimeState(state map[string]any) RunOption {
	return func(ro *RunOptions) {
		ro.RuntimeState = state
	}
}

// WithStreamMode enables the given stream modes for the run.
func WithStreamMode(modes ...StreamMode) RunOption {
	return func(ro *RunOptions) {
		ro.StreamModes = append(ro.StreamModes, modes...)
	}
}

// WithCheckpointID targets a specific checkpoint for time travel.
func WithCheckpointID(checkpointID string) RunOption {
	return func(ro *RunOptions) {
		ro.CheckpointID = checkpointID
	}
}

// WithCheckpointNamespace addresses a checkpoint namespace.
func WithCheckpointNamespace(namespace string) RunOption {
	return func(ro *RunOptions) {
		ro.CheckpointNamespace = namespace
	}
}

// WithResume resumes an interrupted run with a single value.
func WithResume(value any) RunOption {
	return func(ro *RunOptions) {
		ro.Resume = value
		ro.IsResume = true
	}
}

// WithResumeMap resumes an interrupted run with values keyed by
// interrupt key.
func WithResumeMap(values map[string]any) RunOption {
	return func(ro *RunOptions) {
		ro.ResumeMap = values
		ro.IsResume = true
	}
}

// GetRuntimeStateValue retrieves a typed value from RuntimeState.
func GetRuntimeStateValue[T any](ro *RunOptions, key string) (T, bool) {
	var zero T
	if ro == nil || ro.RuntimeState == nil {
		return zero, false
	}
	v, ok := ro.RuntimeState[key]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

type invocationKey struct{}

// NewContextWithInvocation returns a context carrying the invocation.
func NewContextWithInvocation(ctx context.Context, invocation *Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, invocation)
}

// InvocationFromContext returns the invocation from the context.
func InvocationFromContext(ctx context.Context) (*Invocation, bool) {
	invocation, ok := ctx.Value(invocationKey{}).(*Invocation)
	return invocation, ok
}

// GetStateValueFromContext retrieves a typed value from the invocation
// state stored in the context.
func GetStateValueFromContext[T any](ctx context.Context, key string) (T, bool) {
	var zero T
	inv, ok := InvocationFromContext(ctx)
	if !ok {
		return zero, false
	}
	return GetStateValue[T](inv, key)
}

// GetRuntimeStateValueFromContext retrieves a typed value from the
// runtime state of the invocation stored in the context.
func GetRuntimeStateValueFromContext[T any](ctx context.Context, key string) (T, bool) {
	var zero T
	inv, ok := InvocationFromContext(ctx)
	if !ok || inv == nil {
		return zero, false
	}
	return GetRuntimeStateValue[T](&inv.RunOptions, key)
}

// CheckContextCancelled returns the context error if it is done.
func CheckContextCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
