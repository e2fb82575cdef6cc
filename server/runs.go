//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/event"
	"trpc.group/trpc-go/trpc-xpert-go/runner"
)

// RunCreateStateful is the body of the run creation endpoints.
type RunCreateStateful struct {
	// AssistantID selects the assistant definition, by id or slug.
	AssistantID string `json:"assistant_id"`
	// Input is the chat input; its command field resumes an interrupt.
	Input *runner.ChatRequest `json:"input"`
	// Metadata is attached to the run record.
	Metadata map[string]any `json:"metadata,omitempty"`
	// StreamMode is accepted for API compatibility; events always stream.
	StreamMode []string `json:"stream_mode,omitempty"`
	// Mute drops events whose tag path matches one of the given prefixes.
	Mute [][]string `json:"mute,omitempty"`
	// Unmute punches holes through broader mute prefixes.
	Unmute [][]string `json:"unmute,omitempty"`
}

func (req *RunCreateStateful) runRequest(threadID string) runner.RunRequest {
	var mute *event.MutePolicy
	if len(req.Mute) > 0 || len(req.Unmute) > 0 {
		mute = &event.MutePolicy{Mute: req.Mute, Unmute: req.Unmute}
	}
	return runner.RunRequest{
		ThreadID: threadID,
		XpertID:  req.AssistantID,
		Input:    req.Input,
		Metadata: req.Metadata,
		Mute:     mute,
	}
}

// handleCreateRun starts a background run and returns its record. The
// run keeps executing after the response; its status is polled through
// the run endpoint.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunCreateStateful
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	events, run, err := s.opts.runner.Run(context.WithoutCancel(r.Context()),
		req.runRequest(mux.Vars(r)["thread_id"]))
	if err != nil {
		writeError(w, err)
		return
	}
	go func() {
		for range events {
		}
	}()
	writeJSON(w, http.StatusOK, run)
}

// handleStreamRun executes a run over server-sent events. A client
// disconnect cancels the run, which finishes aborted at its last
// checkpoint.
func (s *Server) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	var req RunCreateStateful
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	events, run, err := s.opts.runner.Run(r.Context(),
		req.runRequest(mux.Vars(r)["thread_id"]))
	if err != nil {
		writeError(w, err)
		return
	}
	sse, err := newSSEWriter(w)
	if err != nil {
		s.abandonRun(run.ID, events)
		writeError(w, err)
		return
	}
	sse.streamEvents(r, events, s.opts.keepAlive)
}

// handleWaitRun executes a run synchronously and returns the final
// assistant message.
func (s *Server) handleWaitRun(w http.ResponseWriter, r *http.Request) {
	var req RunCreateStateful
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	text, run, err := s.opts.runner.Wait(r.Context(),
		req.runRequest(mux.Vars(r)["thread_id"]))
	if err != nil && run == nil {
		writeError(w, err)
		return
	}
	if run.Status == runner.StatusError {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  run.Error,
			"run_id": run.ID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":    "ai",
		"content": text,
		"run_id":  run.ID,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	run, err := s.opts.runner.GetRun(vars["run_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if run.ThreadID != vars["thread_id"] {
		writeError(w, agent.NewInputError("run %s does not belong to thread %s",
			vars["run_id"], vars["thread_id"]))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// abandonRun aborts a run whose response could not be streamed and
// drains its events so the executor can finish.
func (s *Server) abandonRun(runID string, events <-chan *event.Event) {
	_ = s.opts.runner.Abort(runID)
	go func() {
		for range events {
		}
	}()
}
