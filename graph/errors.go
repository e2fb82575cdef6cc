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
	"errors"
	"fmt"
)

var (
	// ErrThreadIDRequired is returned when a checkpoint operation lacks a
	// thread id.
	ErrThreadIDRequired = errors.New("thread_id is required")
	// ErrThreadIDAndCheckpointIDRequired is returned when writes are stored
	// without a full checkpoint address.
	ErrThreadIDAndCheckpointIDRequired = errors.New("thread_id and checkpoint_id are required")
	// ErrCheckpointNotFound is returned when the addressed checkpoint does
	// not exist.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrCheckpointSaverRequired is returned by operations that only make
	// sense with durable checkpointing configured.
	ErrCheckpointSaverRequired = errors.New("checkpoint saver is required")
	// ErrNoNodesToResume is returned when a resume command arrives but the
	// restored checkpoint has no pending frontier.
	ErrNoNodesToResume = errors.New("no nodes to resume from checkpoint")
	// ErrUnknownStateKey is returned when a node update writes a key the
	// compiled schema does not declare.
	ErrUnknownStateKey = errors.New("unknown state key")
)

// RecursionLimitError is returned when a run exceeds the configured step
// budget without reaching End.
type RecursionLimitError struct {
	// Limit is the configured maximum number of steps.
	Limit int
}

// Error implements the error interface.
func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("graph recursion limit of %d reached without hitting a stop condition", e.Limit)
}

// IsRecursionLimitError reports whether err wraps a RecursionLimitError.
func IsRecursionLimitError(err error) bool {
	var re *RecursionLimitError
	return errors.As(err, &re)
}

// NodeExecutionError wraps an error raised by a node, preserving which
// node and step failed.
type NodeExecutionError struct {
	NodeID string
	Step   int
	Err    error
}

// Error implements the error interface.
func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s failed at step %d: %v", e.NodeID, e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}
