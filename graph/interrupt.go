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
	"errors"
	"fmt"
	"time"
)

// InterruptError pauses graph execution so a human can act. The executor
// persists a checkpoint carrying the interrupt, emits an interrupt event
// and stops; a later resume command re-runs the interrupted node, which
// finds its resume value and continues past the interrupt point.
type InterruptError struct {
	// Value is the payload shown to the human, e.g. the tool calls that
	// need approval.
	Value any `json:"value"`
	// Key identifies this interrupt within the node so resume values can
	// be addressed to it.
	Key string `json:"key,omitempty"`
	// NodeID is the node that raised the interrupt.
	NodeID string `json:"node_id"`
	// TaskID is the task that raised the interrupt.
	TaskID string `json:"task_id"`
	// Step is the step number when the interrupt occurred.
	Step int `json:"step"`
	// Path is the execution path to the interrupted node.
	Path []string `json:"path,omitempty"`
	// Timestamp is when the interrupt occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface.
func (e *InterruptError) Error() string {
	return fmt.Sprintf("graph interrupted at node %s (step %d): %v", e.NodeID, e.Step, e.Value)
}

// IsInterruptError reports whether err wraps an InterruptError.
func IsInterruptError(err error) bool {
	var ie *InterruptError
	return errors.As(err, &ie)
}

// AsInterruptError extracts an InterruptError from err.
func AsInterruptError(err error) (*InterruptError, bool) {
	var ie *InterruptError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// Interrupt pauses the node unless a resume value for key is already
// available. On first execution it raises an InterruptError carrying
// value; after a resume command re-runs the node it returns the resume
// value instead.
func Interrupt(ctx context.Context, state State, key string, value any) (any, error) {
	if resumed, ok := resumeValueFor(state, key); ok {
		return resumed, nil
	}
	nodeID, _ := GetStateValue[string](state, StateKeyCurrentNodeID)
	taskID, _ := GetStateValue[string](state, StateKeyCurrentTaskID)
	step := 0
	if execCtx, ok := GetStateValue[*ExecutionContext](state, StateKeyExecContext); ok && execCtx != nil {
		step = execCtx.CurrentStep()
	}
	return nil, &InterruptError{
		Value:     value,
		Key:       key,
		NodeID:    nodeID,
		TaskID:    taskID,
		Step:      step,
		Timestamp: time.Now().UTC(),
	}
}

// ResumeValue returns the typed resume value for key, when present.
func ResumeValue[T any](state State, key string) (T, bool) {
	var zero T
	v, ok := resumeValueFor(state, key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// ClearResumeValue removes a consumed resume value so re-entering the
// node interrupts again instead of replaying the old answer.
func ClearResumeValue(state State, key string) {
	if rm, ok := state[StateKeyResumeMap].(map[string]any); ok {
		delete(rm, key)
	}
}

func resumeValueFor(state State, key string) (any, bool) {
	if state == nil {
		return nil, false
	}
	if rm, ok := state[StateKeyResumeMap].(map[string]any); ok {
		if v, ok := rm[key]; ok {
			return v, true
		}
	}
	if cmd, ok := state[StateKeyCommand].(*Command); ok && cmd != nil {
		if len(cmd.ResumeMap) > 0 {
			if v, ok := cmd.ResumeMap[key]; ok {
				return v, true
			}
			return nil, false
		}
		if cmd.Resume != nil {
			return cmd.Resume, true
		}
	}
	return nil, false
}
