//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"time"

	"trpc.group/trpc-go/trpc-xpert-go/xpert"
)

// Status is the lifecycle state of one run.
type Status string

const (
	// StatusRunning means the run is executing.
	StatusRunning Status = "running"
	// StatusSuccess means the run completed normally.
	StatusSuccess Status = "success"
	// StatusError means the run failed.
	StatusError Status = "error"
	// StatusInterrupted means the run paused waiting for human input.
	StatusInterrupted Status = "interrupted"
	// StatusAborted means the run was cancelled before completion.
	StatusAborted Status = "aborted"
)

// Run is the durable record of one execution against a thread.
type Run struct {
	// ID is the unique run identifier.
	ID string `json:"run_id"`
	// ThreadID is the conversation the run belongs to.
	ThreadID string `json:"thread_id"`
	// XpertID identifies the assistant definition that was executed.
	XpertID string `json:"xpert_id"`
	// CheckpointNS is the checkpoint namespace of the run.
	CheckpointNS string `json:"checkpoint_ns,omitempty"`
	// CheckpointID is the last committed checkpoint of the run.
	CheckpointID string `json:"checkpoint_id,omitempty"`
	// ParentID links a resumed run to the run it continues.
	ParentID string `json:"parent_id,omitempty"`
	// Predecessor names the agent the run entered through.
	Predecessor string `json:"predecessor,omitempty"`
	// Status is the lifecycle state.
	Status Status `json:"status"`
	// Inputs is the triggering user input.
	Inputs string `json:"inputs,omitempty"`
	// Outputs is the final assistant text.
	Outputs string `json:"outputs,omitempty"`
	// Error describes the failure when Status is error.
	Error string `json:"error,omitempty"`
	// ElapsedMS is the wall time of the run in milliseconds.
	ElapsedMS int64 `json:"elapsed_ms"`
	// Metadata carries caller-supplied key/values.
	Metadata map[string]any `json:"metadata,omitempty"`
	// CreatedAt is when the run started.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the run last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy safe to hand to callers.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Metadata != nil {
		cp.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Finished reports whether the run reached a terminal status.
func (r *Run) Finished() bool {
	return r != nil && r.Status != StatusRunning
}

// File is one attachment of a chat request.
type File struct {
	// Name is the display file name.
	Name string `json:"name,omitempty"`
	// URL points at externally hosted content, e.g. an image.
	URL string `json:"url,omitempty"`
	// MIMEType is the declared content type.
	MIMEType string `json:"mime_type,omitempty"`
	// Data is the base64 payload for inline files.
	Data string `json:"data,omitempty"`
}

// ChatRequest is the input of one run. Command is the resume channel: a
// request carrying a command continues the thread's pending interrupt
// instead of starting a fresh turn.
type ChatRequest struct {
	Input      string         `json:"input,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Files      []File         `json:"files,omitempty"`
	Command    *xpert.Command `json:"command,omitempty"`
	// Language is the user's preferred BCP 47 language tag, used to
	// localize run errors.
	Language string `json:"language,omitempty"`
}

// IsResume reports whether the request resumes an interrupted run.
func (c *ChatRequest) IsResume() bool {
	return c != nil && c.Command != nil
}
