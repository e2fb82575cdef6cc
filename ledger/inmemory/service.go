//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory execution ledger.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-xpert-go/ledger"
)

// Service is an in-memory ledger.Service.
type Service struct {
	mu    sync.RWMutex
	rows  map[string]*ledger.Execution
	order []string
}

// NewService creates an empty in-memory ledger.
func NewService() *Service {
	return &Service{rows: make(map[string]*ledger.Execution)}
}

// Open implements ledger.Service.
func (s *Service) Open(_ context.Context, exec *ledger.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	exec.UpdatedAt = now
	if exec.Status == "" {
		exec.Status = ledger.StatusRunning
	}
	s.rows[exec.ID] = exec.Clone()
	s.order = append(s.order, exec.ID)
	return nil
}

// Close implements ledger.Service.
func (s *Service) Close(_ context.Context, id string, closure ledger.Closure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return ledger.ErrExecutionNotFound
	}
	if row.Status != ledger.StatusRunning {
		return ledger.ErrExecutionClosed
	}
	now := time.Now().UTC()
	row.Status = closure.Status
	row.Outputs = closure.Outputs
	row.Error = closure.Error
	if closure.CheckpointID != "" {
		row.CheckpointID = closure.CheckpointID
	}
	if closure.Provider != "" {
		row.Provider = closure.Provider
	}
	if closure.Model != "" {
		row.Model = closure.Model
	}
	row.Usage = closure.Usage
	row.ElapsedMS = now.Sub(row.CreatedAt).Milliseconds()
	row.UpdatedAt = now
	return nil
}

// Get implements ledger.Service.
func (s *Service) Get(_ context.Context, id string) (*ledger.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, ledger.ErrExecutionNotFound
	}
	return row.Clone(), nil
}

// List implements ledger.Service. Rows come back newest first.
func (s *Service) List(_ context.Context, filter ledger.Filter) ([]*ledger.Execution, error) {
	s.mu.RLock()
	matched := make([]*ledger.Execution, 0, len(s.order))
	for _, id := range s.order {
		row := s.rows[id]
		if filter.ThreadID != "" && row.ThreadID != filter.ThreadID {
			continue
		}
		if filter.ParentID != "" && row.ParentID != filter.ParentID {
			continue
		}
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		matched = append(matched, row.Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}
