//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package thread defines the conversation identity the runtime executes
// against. A thread owns a sequence of runs and the checkpoints they
// produce; its status tracks whether the conversation is waiting on a
// human.
package thread

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a thread.
type Status string

const (
	// StatusOpen accepts new runs.
	StatusOpen Status = "open"
	// StatusInterrupted waits for a resume command; new non-resume runs
	// are rejected.
	StatusInterrupted Status = "interrupted"
	// StatusClosed is terminal.
	StatusClosed Status = "closed"
)

// IfExists selects the behavior when a thread with the requested ID
// already exists.
type IfExists string

const (
	// IfExistsRaise fails creation with ErrThreadExists.
	IfExistsRaise IfExists = "raise"
	// IfExistsDoNothing returns the existing thread unchanged.
	IfExistsDoNothing IfExists = "do_nothing"
)

var (
	// ErrThreadExists is returned when creating a thread whose ID is taken
	// and IfExists is raise.
	ErrThreadExists = errors.New("thread already exists")
	// ErrThreadNotFound is returned when the addressed thread does not
	// exist.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrThreadClosed is returned when an operation targets a closed
	// thread.
	ErrThreadClosed = errors.New("thread is closed")
	// ErrInvalidTransition is returned for status changes the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid thread status transition")
)

// Thread is one conversation.
type Thread struct {
	// ID is the unique thread identifier, also the checkpoint thread id.
	ID string `json:"thread_id"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// Metadata carries caller-supplied key/values, matched by Search.
	Metadata map[string]any `json:"metadata,omitempty"`
	// CreatedAt is when the thread was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the thread last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy of the thread safe to hand to callers.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// CanTransition reports whether the lifecycle allows moving to next.
// Open and interrupted flip back and forth; anything may close; closed is
// terminal.
func (t *Thread) CanTransition(next Status) bool {
	if t.Status == next {
		return true
	}
	switch t.Status {
	case StatusOpen:
		return next == StatusInterrupted || next == StatusClosed
	case StatusInterrupted:
		return next == StatusOpen || next == StatusClosed
	default:
		return false
	}
}

// CreateRequest creates a thread.
type CreateRequest struct {
	// ThreadID is the requested id; empty mints a fresh one.
	ThreadID string `json:"thread_id,omitempty"`
	// Metadata is attached to the thread.
	Metadata map[string]any `json:"metadata,omitempty"`
	// IfExists selects the collision behavior, default raise.
	IfExists IfExists `json:"if_exists,omitempty"`
}

// SearchRequest filters threads. All conditions AND together.
type SearchRequest struct {
	// Metadata requires every given key to equal the given value.
	Metadata map[string]any `json:"metadata,omitempty"`
	// Status filters by lifecycle state when non-empty.
	Status Status `json:"status,omitempty"`
	// Limit caps the result count, zero means no cap.
	Limit int `json:"limit,omitempty"`
	// Offset skips the first results.
	Offset int `json:"offset,omitempty"`
}

// Service stores threads.
type Service interface {
	// Create stores a new thread, honoring IfExists.
	Create(ctx context.Context, req CreateRequest) (*Thread, error)
	// Get returns the thread, ErrThreadNotFound when absent.
	Get(ctx context.Context, id string) (*Thread, error)
	// Delete removes the thread. Deleting an absent thread is a no-op.
	Delete(ctx context.Context, id string) error
	// Search returns threads matching the request, newest first.
	Search(ctx context.Context, req SearchRequest) ([]*Thread, error)
	// SetStatus transitions the thread lifecycle state.
	SetStatus(ctx context.Context, id string, status Status) (*Thread, error)
}
