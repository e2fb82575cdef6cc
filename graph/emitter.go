//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"time"

	"trpc.group/trpc-go/trpc-xpert-go/event"
	"trpc.group/trpc-go/trpc-xpert-go/log"
)

// EventEmitter is how a NodeFunc talks to the run's event stream.
// Emitted events inherit the node and invocation context, so node code
// never deals with routing metadata.
type EventEmitter interface {
	// Emit sends an event, filling in the node context where unset.
	Emit(evt *event.Event) error

	// EmitCustom sends a user-defined event with an arbitrary payload.
	EmitCustom(eventType string, payload any) error

	// EmitProgress reports progress between 0 and 100 with a message.
	EmitProgress(progress float64, message string) error

	// EmitText streams intermediate text output from the node.
	EmitText(text string) error

	// Context returns the context the emitter is bound to.
	Context() context.Context
}

type eventEmitter struct {
	ctx          context.Context
	eventChan    chan<- *event.Event
	nodeID       string
	invocationID string
	stepNumber   int
	branch       string
	timeout      time.Duration
}

// EventEmitterOption configures an emitter.
type EventEmitterOption func(*eventEmitter)

// WithEmitterContext binds the emitter to a context.
func WithEmitterContext(ctx context.Context) EventEmitterOption {
	return func(e *eventEmitter) { e.ctx = ctx }
}

// WithEmitterNodeID sets the node the emitter speaks for.
func WithEmitterNodeID(nodeID string) EventEmitterOption {
	return func(e *eventEmitter) { e.nodeID = nodeID }
}

// WithEmitterInvocationID sets the invocation id stamped on events.
func WithEmitterInvocationID(invocationID string) EventEmitterOption {
	return func(e *eventEmitter) { e.invocationID = invocationID }
}

// WithEmitterStepNumber sets the superstep recorded in custom events.
func WithEmitterStepNumber(stepNumber int) EventEmitterOption {
	return func(e *eventEmitter) { e.stepNumber = stepNumber }
}

// WithEmitterBranch sets the branch stamped on events.
func WithEmitterBranch(branch string) EventEmitterOption {
	return func(e *eventEmitter) { e.branch = branch }
}

// WithEmitterTimeout bounds how long an emit may block.
func WithEmitterTimeout(timeout time.Duration) EventEmitterOption {
	return func(e *eventEmitter) { e.timeout = timeout }
}

// NewEventEmitter creates an emitter writing to eventChan. A nil channel
// yields a no-op emitter, so callers need no nil checks.
func NewEventEmitter(eventChan chan<- *event.Event, opts ...EventEmitterOption) EventEmitter {
	if eventChan == nil {
		return &noopEmitter{}
	}
	emitter := &eventEmitter{
		ctx:       context.Background(),
		eventChan: eventChan,
		timeout:   event.EmitWithoutTimeout,
	}
	for _, opt := range opts {
		opt(emitter)
	}
	return emitter
}

func (e *eventEmitter) Emit(evt *event.Event) error {
	if evt == nil {
		return nil
	}
	if evt.InvocationID == "" {
		evt.InvocationID = e.invocationID
	}
	if evt.Author == "" {
		evt.Author = e.nodeID
	}
	if evt.Branch == "" {
		evt.Branch = e.branch
	}
	return e.send(evt)
}

func (e *eventEmitter) EmitCustom(eventType string, payload any) error {
	return e.emitCustom(NodeCustomEventMetadata{
		EventType: eventType,
		Category:  NodeCustomEventCategoryCustom,
		Payload:   payload,
	})
}

func (e *eventEmitter) EmitProgress(progress float64, message string) error {
	return e.emitCustom(NodeCustomEventMetadata{
		EventType: "progress",
		Category:  NodeCustomEventCategoryProgress,
		Progress:  min(max(progress, 0), 100),
		Message:   message,
	})
}

func (e *eventEmitter) EmitText(text string) error {
	return e.emitCustom(NodeCustomEventMetadata{
		EventType: "text",
		Category:  NodeCustomEventCategoryText,
		Message:   text,
	})
}

// emitCustom fills in the node context and ships a custom event.
func (e *eventEmitter) emitCustom(md NodeCustomEventMetadata) error {
	md.NodeID = e.nodeID
	md.InvocationID = e.invocationID
	md.StepNumber = e.stepNumber
	md.Timestamp = time.Now()

	evt := NewGraphEvent(e.invocationID, e.nodeID, ObjectTypeGraphNodeCustom,
		WithNodeCustomMetadata(md))
	if e.branch != "" {
		evt.Branch = e.branch
	}
	return e.send(evt)
}

// send writes the event to the channel. A panic from a closed channel is
// swallowed: a racing shutdown must not take the node down with it.
func (e *eventEmitter) send(evt *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("event emitter: recovered from panic while emitting: %v", r)
			err = nil
		}
	}()
	return event.EmitEventWithTimeout(e.ctx, e.eventChan, evt, e.timeout)
}

// noopEmitter drops everything. Used when no event channel is wired up.
type noopEmitter struct{}

func (n *noopEmitter) Emit(*event.Event) error            { return nil }
func (n *noopEmitter) EmitCustom(string, any) error       { return nil }
func (n *noopEmitter) EmitProgress(float64, string) error { return nil }
func (n *noopEmitter) EmitText(string) error              { return nil }
func (n *noopEmitter) Context() context.Context           { return context.Background() }

func (e *eventEmitter) Context() context.Context {
	return e.ctx
}

// GetEventEmitter builds an emitter from the execution context stored in
// state, falling back to a no-op emitter when none is wired.
func GetEventEmitter(state State) EventEmitter {
	return GetEventEmitterWithContext(context.Background(), state)
}

// GetEventEmitterWithContext is GetEventEmitter bound to ctx.
func GetEventEmitterWithContext(ctx context.Context, state State) EventEmitter {
	if state == nil {
		return &noopEmitter{}
	}
	execCtx, ok := GetStateValue[*ExecutionContext](state, StateKeyExecContext)
	if !ok || execCtx == nil || execCtx.EventChan == nil {
		return &noopEmitter{}
	}
	nodeID, _ := GetStateValue[string](state, StateKeyCurrentNodeID)
	return NewEventEmitter(
		execCtx.EventChan,
		WithEmitterContext(ctx),
		WithEmitterNodeID(nodeID),
		WithEmitterInvocationID(execCtx.InvocationID),
	)
}
