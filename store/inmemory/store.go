//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory key/value store.
package inmemory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-xpert-go/store"
)

const namespaceSeparator = "\x00"

// Store is an in-memory store.Store.
type Store struct {
	mu    sync.RWMutex
	items map[string]*store.Item
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{items: make(map[string]*store.Item)}
}

func itemKey(namespace []string, key string) string {
	return strings.Join(namespace, namespaceSeparator) + namespaceSeparator + key
}

// Put implements store.Store.
func (s *Store) Put(_ context.Context, namespace []string, key string, value map[string]any) (*store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	id := itemKey(namespace, key)
	item, ok := s.items[id]
	if !ok {
		item = &store.Item{
			Namespace: append([]string(nil), namespace...),
			Key:       key,
			CreatedAt: now,
		}
		s.items[id] = item
	}
	item.Value = value
	item.UpdatedAt = now
	return item.Clone(), nil
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, namespace []string, key string) (*store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemKey(namespace, key)]
	if !ok {
		return nil, store.ErrItemNotFound
	}
	return item.Clone(), nil
}

// Delete implements store.Store.
func (s *Store) Delete(_ context.Context, namespace []string, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, itemKey(namespace, key))
	return nil
}

// Search implements store.Store.
func (s *Store) Search(_ context.Context, req store.SearchRequest) ([]*store.Item, error) {
	s.mu.RLock()
	matched := make([]*store.Item, 0, len(s.items))
	for _, item := range s.items {
		if !hasNamespacePrefix(item.Namespace, req.NamespacePrefix) {
			continue
		}
		if req.Query != "" && !valueContains(item.Value, req.Query) {
			continue
		}
		matched = append(matched, item.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].Key < matched[j].Key
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	if req.Offset > 0 {
		if req.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[req.Offset:]
	}
	if req.Limit > 0 && len(matched) > req.Limit {
		matched = matched[:req.Limit]
	}
	return matched, nil
}

func hasNamespacePrefix(namespace, prefix []string) bool {
	if len(prefix) > len(namespace) {
		return false
	}
	for i, seg := range prefix {
		if namespace[i] != seg {
			return false
		}
	}
	return true
}

func valueContains(value map[string]any, query string) bool {
	data, err := json.Marshal(value)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), strings.ToLower(query))
}
