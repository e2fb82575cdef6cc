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
	"net/http"

	"github.com/gorilla/mux"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/xpert"
)

// assistantSearchRequest filters the assistant listing.
type assistantSearchRequest struct {
	GraphID  string         `json:"graph_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Offset   int            `json:"offset,omitempty"`
}

func (s *Server) handleSearchAssistants(w http.ResponseWriter, r *http.Request) {
	var req assistantSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	results := s.opts.registry.Search(xpert.SearchRequest{
		GraphID:  req.GraphID,
		Metadata: req.Metadata,
		Limit:    req.Limit,
		Offset:   req.Offset,
	})
	if results == nil {
		results = []*xpert.Xpert{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetAssistant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["assistant_id"]
	x, ok := s.opts.registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": agent.NewInputError("assistant %q not found", id).Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, x)
}
