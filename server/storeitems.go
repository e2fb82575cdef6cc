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
	"strings"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/store"
)

// storeItemRequest writes one store item.
type storeItemRequest struct {
	Namespace []string       `json:"namespace"`
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
}

func (s *Server) handlePutStoreItem(w http.ResponseWriter, r *http.Request) {
	var req storeItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Key == "" {
		writeError(w, agent.NewInputError("key is required"))
		return
	}
	item, err := s.opts.store.Put(r.Context(), req.Namespace, req.Key, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleGetStoreItem addresses an item through query parameters:
// namespace as a dot-separated path and key.
func (s *Server) handleGetStoreItem(w http.ResponseWriter, r *http.Request) {
	namespace, key, err := itemAddress(r)
	if err != nil {
		writeError(w, err)
		return
	}
	item, err := s.opts.store.Get(r.Context(), namespace, key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteStoreItem(w http.ResponseWriter, r *http.Request) {
	namespace, key, err := itemAddress(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.store.Delete(r.Context(), namespace, key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchStoreItems(w http.ResponseWriter, r *http.Request) {
	var req store.SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	items, err := s.opts.store.Search(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []*store.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func itemAddress(r *http.Request) ([]string, string, error) {
	key := r.URL.Query().Get("key")
	if key == "" {
		return nil, "", agent.NewInputError("key is required")
	}
	var namespace []string
	if ns := r.URL.Query().Get("namespace"); ns != "" {
		namespace = strings.Split(ns, ".")
	}
	return namespace, key, nil
}
