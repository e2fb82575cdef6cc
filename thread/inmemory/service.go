//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory thread service.
package inmemory

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-xpert-go/thread"
)

// Service is an in-memory thread.Service.
type Service struct {
	mu      sync.RWMutex
	threads map[string]*thread.Thread
}

// NewService creates an empty in-memory thread service.
func NewService() *Service {
	return &Service{threads: make(map[string]*thread.Thread)}
}

// Create implements thread.Service.
func (s *Service) Create(_ context.Context, req thread.CreateRequest) (*thread.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := req.ThreadID
	if id == "" {
		id = uuid.New().String()
	}
	if existing, ok := s.threads[id]; ok {
		if req.IfExists == thread.IfExistsDoNothing {
			return existing.Clone(), nil
		}
		return nil, thread.ErrThreadExists
	}
	now := time.Now().UTC()
	t := &thread.Thread{
		ID:        id,
		Status:    thread.StatusOpen,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.threads[id] = t
	return t.Clone(), nil
}

// Get implements thread.Service.
func (s *Service) Get(_ context.Context, id string) (*thread.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, thread.ErrThreadNotFound
	}
	return t.Clone(), nil
}

// Delete implements thread.Service.
func (s *Service) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, id)
	return nil
}

// Search implements thread.Service. Results are ordered newest first.
func (s *Service) Search(_ context.Context, req thread.SearchRequest) ([]*thread.Thread, error) {
	s.mu.RLock()
	matched := make([]*thread.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		if req.Status != "" && t.Status != req.Status {
			continue
		}
		if !metadataMatches(t.Metadata, req.Metadata) {
			continue
		}
		matched = append(matched, t.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
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

// SetStatus implements thread.Service.
func (s *Service) SetStatus(_ context.Context, id string, status thread.Status) (*thread.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, thread.ErrThreadNotFound
	}
	if !t.CanTransition(status) {
		if t.Status == thread.StatusClosed {
			return nil, thread.ErrThreadClosed
		}
		return nil, thread.ErrInvalidTransition
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return t.Clone(), nil
}

// metadataMatches requires every filter key to be present and equal.
func metadataMatches(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
