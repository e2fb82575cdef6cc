//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides a SQLite-backed execution ledger.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"trpc.group/trpc-go/trpc-xpert-go/ledger"
)

const (
	createExecutionsTable = "CREATE TABLE IF NOT EXISTS executions (" +
		"id TEXT PRIMARY KEY, " +
		"thread_id TEXT NOT NULL, " +
		"xpert_id TEXT, " +
		"agent_key TEXT, " +
		"parent_id TEXT, " +
		"predecessor TEXT, " +
		"status TEXT NOT NULL, " +
		"inputs TEXT, " +
		"outputs TEXT, " +
		"error TEXT, " +
		"elapsed_ms INTEGER NOT NULL DEFAULT 0, " +
		"checkpoint_id TEXT, " +
		"checkpoint_ns TEXT, " +
		"provider TEXT, " +
		"model TEXT, " +
		"prompt_tokens INTEGER NOT NULL DEFAULT 0, " +
		"completion_tokens INTEGER NOT NULL DEFAULT 0, " +
		"total_tokens INTEGER NOT NULL DEFAULT 0, " +
		"created_at INTEGER NOT NULL, " +
		"updated_at INTEGER NOT NULL" +
		")"

	createThreadIndex = "CREATE INDEX IF NOT EXISTS idx_executions_thread " +
		"ON executions (thread_id, created_at)"

	insertExecutionSQL = "INSERT INTO executions (" +
		"id, thread_id, xpert_id, agent_key, parent_id, predecessor, status, " +
		"inputs, outputs, error, elapsed_ms, checkpoint_id, checkpoint_ns, " +
		"provider, model, prompt_tokens, completion_tokens, total_tokens, " +
		"created_at, updated_at) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

	closeExecutionSQL = "UPDATE executions SET status = ?, outputs = ?, error = ?, " +
		"elapsed_ms = ?, checkpoint_id = CASE WHEN ? != '' THEN ? ELSE checkpoint_id END, " +
		"provider = CASE WHEN ? != '' THEN ? ELSE provider END, " +
		"model = CASE WHEN ? != '' THEN ? ELSE model END, " +
		"prompt_tokens = ?, completion_tokens = ?, total_tokens = ?, updated_at = ? " +
		"WHERE id = ? AND status = ?"

	selectExecutionSQL = "SELECT id, thread_id, xpert_id, agent_key, parent_id, predecessor, " +
		"status, inputs, outputs, error, elapsed_ms, checkpoint_id, checkpoint_ns, " +
		"provider, model, prompt_tokens, completion_tokens, total_tokens, created_at, updated_at " +
		"FROM executions"
)

// Service persists execution rows in SQLite.
type Service struct {
	db *sql.DB
}

var _ ledger.Service = (*Service)(nil)

// OpenDB opens the SQLite database at path with the pragmas the service
// expects, creating the file as needed. Use ":memory:" for an ephemeral
// database. The caller owns the returned handle.
func OpenDB(path string) (*sql.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// NewService creates a service on an existing database handle, creating
// the required table if missing.
func NewService(db *sql.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(createExecutionsTable); err != nil {
		return nil, fmt.Errorf("create executions table: %w", err)
	}
	if _, err := db.Exec(createThreadIndex); err != nil {
		return nil, fmt.Errorf("create executions index: %w", err)
	}
	return &Service{db: db}, nil
}

// Open implements ledger.Service.
func (s *Service) Open(ctx context.Context, exec *ledger.Execution) error {
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
	_, err := s.db.ExecContext(ctx, insertExecutionSQL,
		exec.ID, exec.ThreadID, exec.XpertID, exec.AgentKey, exec.ParentID,
		exec.Predecessor, string(exec.Status), exec.Inputs, exec.Outputs,
		exec.Error, exec.ElapsedMS, exec.CheckpointID, exec.CheckpointNS,
		exec.Provider, exec.Model, exec.Usage.PromptTokens,
		exec.Usage.CompletionTokens, exec.Usage.TotalTokens,
		exec.CreatedAt.UnixNano(), exec.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// Close implements ledger.Service. The update only applies to running
// rows, so closing twice is detected without a separate read.
func (s *Service) Close(ctx context.Context, id string, closure ledger.Closure) error {
	row, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	elapsed := now.Sub(row.CreatedAt).Milliseconds()
	res, err := s.db.ExecContext(ctx, closeExecutionSQL,
		string(closure.Status), closure.Outputs, closure.Error, elapsed,
		closure.CheckpointID, closure.CheckpointID,
		closure.Provider, closure.Provider,
		closure.Model, closure.Model,
		closure.Usage.PromptTokens, closure.Usage.CompletionTokens,
		closure.Usage.TotalTokens, now.UnixNano(),
		id, string(ledger.StatusRunning))
	if err != nil {
		return fmt.Errorf("close execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrExecutionClosed
	}
	return nil
}

// Get implements ledger.Service.
func (s *Service) Get(ctx context.Context, id string) (*ledger.Execution, error) {
	row := s.db.QueryRowContext(ctx, selectExecutionSQL+" WHERE id = ?", id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrExecutionNotFound
	}
	return exec, err
}

// List implements ledger.Service. Rows come back newest first.
func (s *Service) List(ctx context.Context, filter ledger.Filter) ([]*ledger.Execution, error) {
	query := selectExecutionSQL + " WHERE 1=1"
	var args []any
	if filter.ThreadID != "" {
		query += " AND thread_id = ?"
		args = append(args, filter.ThreadID)
	}
	if filter.ParentID != "" {
		query += " AND parent_id = ?"
		args = append(args, filter.ParentID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	var out []*ledger.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(sc scanner) (*ledger.Execution, error) {
	var exec ledger.Execution
	var status string
	var createdAt, updatedAt int64
	err := sc.Scan(&exec.ID, &exec.ThreadID, &exec.XpertID, &exec.AgentKey,
		&exec.ParentID, &exec.Predecessor, &status, &exec.Inputs,
		&exec.Outputs, &exec.Error, &exec.ElapsedMS, &exec.CheckpointID,
		&exec.CheckpointNS, &exec.Provider, &exec.Model,
		&exec.Usage.PromptTokens, &exec.Usage.CompletionTokens,
		&exec.Usage.TotalTokens, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	exec.Status = ledger.Status(status)
	exec.CreatedAt = time.Unix(0, createdAt).UTC()
	exec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &exec, nil
}
