//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package ledger records agent execution rows. Every model-calling node,
// sub-agent entry and workflow tool invocation opens a row at start and
// closes it with its outcome. The ledger is append-only: rows are opened
// and closed exactly once and never removed, so cross-run reporting reads
// from here instead of the live event stream.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of an execution row.
type Status string

const (
	// StatusRunning marks an open row.
	StatusRunning Status = "running"
	// StatusSuccess marks a row closed after normal completion.
	StatusSuccess Status = "success"
	// StatusError marks a row closed by an error.
	StatusError Status = "error"
	// StatusInterrupted marks a row closed by a human-in-the-loop pause.
	StatusInterrupted Status = "interrupted"
	// StatusAborted marks a row closed by cancellation.
	StatusAborted Status = "aborted"
)

var (
	// ErrExecutionNotFound is returned when the addressed row does not
	// exist.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrExecutionClosed is returned when closing an already closed row.
	ErrExecutionClosed = errors.New("execution already closed")
)

// Usage aggregates token counts of the model calls under an execution.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Execution is one ledger row.
type Execution struct {
	// ID is the unique row identifier.
	ID string `json:"id"`
	// ThreadID is the conversation the execution belongs to.
	ThreadID string `json:"thread_id"`
	// XpertID identifies the assistant definition that ran.
	XpertID string `json:"xpert_id,omitempty"`
	// AgentKey is the agent inside the xpert.
	AgentKey string `json:"agent_key,omitempty"`
	// ParentID links sub-executions to the execution that spawned them.
	ParentID string `json:"parent_id,omitempty"`
	// Predecessor names the caller for tool and sub-agent turns, keeping
	// the ledger acyclic even when the graph loops.
	Predecessor string `json:"predecessor,omitempty"`
	// Status is the lifecycle state.
	Status Status `json:"status"`
	// Inputs is the serialized input of the execution.
	Inputs string `json:"inputs,omitempty"`
	// Outputs is the serialized output of the execution.
	Outputs string `json:"outputs,omitempty"`
	// Error carries the failure message of error rows.
	Error string `json:"error,omitempty"`
	// ElapsedMS is the wall time from open to close.
	ElapsedMS int64 `json:"elapsed_ms"`
	// CheckpointID is the checkpoint current when the row closed.
	CheckpointID string `json:"checkpoint_id,omitempty"`
	// CheckpointNS is the checkpoint namespace of the execution.
	CheckpointNS string `json:"checkpoint_ns,omitempty"`
	// Provider is the model provider used, when the row covers model work.
	Provider string `json:"provider,omitempty"`
	// Model is the model name used.
	Model string `json:"model,omitempty"`
	// Usage aggregates token usage.
	Usage Usage `json:"usage"`
	// CreatedAt is when the row was opened.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the row last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy of the execution.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}

// Closure carries the terminal fields written when a row closes.
type Closure struct {
	Status       Status `json:"status"`
	Outputs      string `json:"outputs,omitempty"`
	Error        string `json:"error,omitempty"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Filter narrows List results.
type Filter struct {
	// ThreadID restricts to one thread when non-empty.
	ThreadID string
	// ParentID restricts to children of one execution when non-empty.
	ParentID string
	// Status restricts to one lifecycle state when non-empty.
	Status Status
	// Limit caps the result count, zero means no cap.
	Limit int
}

// Service stores execution rows.
type Service interface {
	// Open appends a running row. Missing ID and CreatedAt are filled in.
	Open(ctx context.Context, exec *Execution) error
	// Close finalizes the row with the closure. Closing twice returns
	// ErrExecutionClosed.
	Close(ctx context.Context, id string, closure Closure) error
	// Get returns the row, ErrExecutionNotFound when absent.
	Get(ctx context.Context, id string) (*Execution, error)
	// List returns rows matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*Execution, error)
}
