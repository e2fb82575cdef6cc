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
	"strings"
	"time"

	"github.com/gorilla/mux"

	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/log"
	"trpc.group/trpc-go/trpc-xpert-go/thread"
)

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req thread.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	th, err := s.opts.threads.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

func (s *Server) handleSearchThreads(w http.ResponseWriter, r *http.Request) {
	var req thread.SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	threads, err := s.opts.threads.Search(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if threads == nil {
		threads = []*thread.Thread{}
	}
	writeJSON(w, http.StatusOK, threads)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	th, err := s.opts.threads.Get(r.Context(), mux.Vars(r)["thread_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

// handleDeleteThread accepts the deletion and performs it asynchronously:
// the thread record first, then its checkpoints.
func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["thread_id"]
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.opts.threads.Delete(ctx, threadID); err != nil {
			log.Warnf("delete thread %s: %v", threadID, err)
			return
		}
		if s.opts.saver != nil {
			if err := s.opts.saver.DeleteThread(ctx, threadID); err != nil {
				log.Warnf("delete thread %s checkpoints: %v", threadID, err)
			}
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

// threadState is the response of the thread state endpoint.
type threadState struct {
	Values           map[string]any `json:"values"`
	Checkpoint       map[string]any `json:"checkpoint"`
	ParentCheckpoint map[string]any `json:"parent_checkpoint,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

func (s *Server) handleThreadState(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["thread_id"]
	th, err := s.opts.threads.Get(r.Context(), threadID)
	if err != nil {
		writeError(w, err)
		return
	}
	state := threadState{
		Values:    map[string]any{},
		CreatedAt: th.CreatedAt,
	}
	if s.opts.saver != nil {
		tuple, err := s.opts.saver.GetTuple(r.Context(),
			graph.CreateCheckpointConfig(threadID, "", ""))
		if err != nil {
			writeError(w, err)
			return
		}
		if tuple != nil && tuple.Checkpoint != nil {
			state.Values = visibleValues(tuple.Checkpoint.ChannelValues)
			state.Checkpoint = checkpointRef(threadID, tuple.Checkpoint.ID)
			state.CreatedAt = tuple.Checkpoint.Timestamp
			if parentID := graph.GetCheckpointID(tuple.ParentConfig); parentID != "" {
				state.ParentCheckpoint = checkpointRef(threadID, parentID)
			}
			if tuple.Metadata != nil {
				state.Metadata = map[string]any{
					"source": tuple.Metadata.Source,
					"step":   tuple.Metadata.Step,
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, state)
}

func checkpointRef(threadID, checkpointID string) map[string]any {
	return map[string]any{
		"thread_id":     threadID,
		"checkpoint_id": checkpointID,
	}
}

// visibleValues drops runtime-internal channels from a checkpoint's
// values before they reach clients.
func visibleValues(values map[string]any) map[string]any {
	visible := make(map[string]any, len(values))
	for k, v := range values {
		if strings.HasPrefix(k, "__") ||
			strings.HasPrefix(k, graph.ChannelInputPrefix) ||
			strings.HasPrefix(k, graph.ChannelBranchPrefix) ||
			strings.HasPrefix(k, graph.ChannelJoinPrefix) {
			continue
		}
		visible[k] = v
	}
	return visible
}
