//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package graph

import "time"

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCheckpointSaver enables durable checkpoints through the saver.
func WithCheckpointSaver(saver CheckpointSaver) ExecutorOption {
	return func(e *Executor) {
		e.saver = saver
	}
}

// WithMaxSteps caps the number of super-steps a run may take before a
// RecursionLimitError aborts it.
func WithMaxSteps(maxSteps int) ExecutorOption {
	return func(e *Executor) {
		if maxSteps > 0 {
			e.maxSteps = maxSteps
		}
	}
}

// WithRecursionLimit is an alias for WithMaxSteps, named after the
// run-facing setting it backs.
func WithRecursionLimit(limit int) ExecutorOption {
	return WithMaxSteps(limit)
}

// WithStepTimeout bounds the wall time of one super-step.
func WithStepTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.stepTimeout = timeout
	}
}

// WithNodeTimeout bounds the wall time of one node execution.
func WithNodeTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.nodeTimeout = timeout
	}
}

// WithChannelBufferSize sets the event channel buffer of a run.
func WithChannelBufferSize(size int) ExecutorOption {
	return func(e *Executor) {
		if size > 0 {
			e.channelBufferSize = size
		}
	}
}

// WithMaxConcurrency caps how many tasks of one step run in parallel.
// Zero or negative leaves parallelism unbounded.
func WithMaxConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		e.maxConcurrency = n
	}
}

// WithVerboseEvents additionally emits channel and state update events,
// useful for debugging graph flow.
func WithVerboseEvents() ExecutorOption {
	return func(e *Executor) {
		e.verboseEvents = true
	}
}
