//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides a SQLite-backed checkpoint saver. Checkpoints and
// metadata are stored as JSON blobs, so values restored through this saver
// come back as generic JSON types and are rehydrated by the executor.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"trpc.group/trpc-go/trpc-xpert-go/graph"
)

const (
	createCheckpointsTable = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"thread_id TEXT NOT NULL, " +
		"checkpoint_ns TEXT NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"parent_checkpoint_id TEXT, " +
		"ts INTEGER NOT NULL, " +
		"checkpoint_json BLOB NOT NULL, " +
		"metadata_json BLOB NOT NULL, " +
		"PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id)" +
		")"

	createWritesTable = "CREATE TABLE IF NOT EXISTS checkpoint_writes (" +
		"thread_id TEXT NOT NULL, " +
		"checkpoint_ns TEXT NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"task_id TEXT NOT NULL, " +
		"idx INTEGER NOT NULL, " +
		"channel TEXT NOT NULL, " +
		"value_json BLOB NOT NULL, " +
		"seq INTEGER NOT NULL DEFAULT 0, " +
		"task_path TEXT, " +
		"PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id, task_id, idx)" +
		")"

	insertCheckpointSQL = "INSERT OR REPLACE INTO checkpoints (" +
		"thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, ts, " +
		"checkpoint_json, metadata_json) VALUES (?, ?, ?, ?, ?, ?, ?)"

	selectLatestSQL = "SELECT checkpoint_id, checkpoint_json, metadata_json, parent_checkpoint_id " +
		"FROM checkpoints WHERE thread_id = ? AND checkpoint_ns = ? " +
		"ORDER BY ts DESC LIMIT 1"

	selectByIDSQL = "SELECT checkpoint_id, checkpoint_json, metadata_json, parent_checkpoint_id " +
		"FROM checkpoints WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ? LIMIT 1"

	selectIDsDescSQL = "SELECT checkpoint_id FROM checkpoints " +
		"WHERE thread_id = ? AND checkpoint_ns = ? ORDER BY ts DESC"

	selectIDsBeforeSQL = "SELECT checkpoint_id FROM checkpoints " +
		"WHERE thread_id = ? AND checkpoint_ns = ? AND ts < ? ORDER BY ts DESC"

	selectTimestampSQL = "SELECT ts FROM checkpoints " +
		"WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ? LIMIT 1"

	insertWriteSQL = "INSERT OR REPLACE INTO checkpoint_writes (" +
		"thread_id, checkpoint_ns, checkpoint_id, task_id, idx, channel, value_json, seq, task_path) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"

	selectWritesSQL = "SELECT task_id, channel, value_json, seq FROM checkpoint_writes " +
		"WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ? ORDER BY seq, task_id, idx"

	deleteThreadCheckpointsSQL = "DELETE FROM checkpoints WHERE thread_id = ?"
	deleteThreadWritesSQL      = "DELETE FROM checkpoint_writes WHERE thread_id = ?"
)

// Saver persists checkpoints in SQLite.
type Saver struct {
	db *sql.DB
}

var _ graph.CheckpointSaver = (*Saver)(nil)

// Open creates a saver backed by the SQLite database at path, creating the
// file and schema as needed. Use ":memory:" for an ephemeral database.
func Open(path string) (*Saver, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite supports a single writer. One connection serializes access and
	// keeps ":memory:" databases visible across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	saver, err := NewSaver(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return saver, nil
}

// NewSaver creates a saver on an existing database handle. The handle must
// use a SQLite driver; the required tables are created if missing.
func NewSaver(db *sql.DB) (*Saver, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(createCheckpointsTable); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	if _, err := db.Exec(createWritesTable); err != nil {
		return nil, fmt.Errorf("create writes table: %w", err)
	}
	return &Saver{db: db}, nil
}

// Get retrieves a checkpoint by configuration.
func (s *Saver) Get(ctx context.Context, config map[string]any) (*graph.Checkpoint, error) {
	tuple, err := s.GetTuple(ctx, config)
	if err != nil || tuple == nil {
		return nil, err
	}
	return tuple.Checkpoint, nil
}

// GetTuple retrieves a checkpoint tuple by configuration. When the config
// carries no checkpoint ID the latest checkpoint of the namespace wins.
func (s *Saver) GetTuple(ctx context.Context, config map[string]any) (*graph.CheckpointTuple, error) {
	threadID := graph.GetThreadID(config)
	if threadID == "" {
		return nil, graph.ErrThreadIDRequired
	}
	namespace := graph.GetNamespace(config)

	var row *sql.Row
	if checkpointID := graph.GetCheckpointID(config); checkpointID != "" {
		row = s.db.QueryRowContext(ctx, selectByIDSQL, threadID, namespace, checkpointID)
	} else {
		row = s.db.QueryRowContext(ctx, selectLatestSQL, threadID, namespace)
	}
	return s.scanTuple(ctx, row, threadID, namespace)
}

// List returns the tuples of the thread namespace, newest first.
func (s *Saver) List(
	ctx context.Context,
	config map[string]any,
	filter *graph.CheckpointFilter,
) ([]*graph.CheckpointTuple, error) {
	threadID := graph.GetThreadID(config)
	if threadID == "" {
		return nil, graph.ErrThreadIDRequired
	}
	namespace := graph.GetNamespace(config)

	rows, err := s.listRows(ctx, threadID, namespace, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tuples []*graph.CheckpointTuple
	for rows.Next() {
		var checkpointID string
		if err := rows.Scan(&checkpointID); err != nil {
			return nil, fmt.Errorf("scan checkpoint id: %w", err)
		}
		tuple, err := s.GetTuple(ctx, graph.CreateCheckpointConfig(threadID, checkpointID, namespace))
		if err != nil {
			return nil, err
		}
		if tuple == nil || !matchesMetadata(tuple, filter) {
			continue
		}
		tuples = append(tuples, tuple)
		if filter != nil && filter.Limit > 0 && len(tuples) >= filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter checkpoints: %w", err)
	}
	return tuples, nil
}

// Put stores a checkpoint and returns the config pointing at it.
func (s *Saver) Put(ctx context.Context, req graph.PutRequest) (map[string]any, error) {
	return s.putFull(ctx, req.Config, req.Checkpoint, req.Metadata, nil)
}

// PutWrites stores intermediate writes for an existing checkpoint.
func (s *Saver) PutWrites(ctx context.Context, req graph.PutWritesRequest) error {
	threadID := graph.GetThreadID(req.Config)
	checkpointID := graph.GetCheckpointID(req.Config)
	if threadID == "" || checkpointID == "" {
		return graph.ErrThreadIDAndCheckpointIDRequired
	}
	namespace := graph.GetNamespace(req.Config)
	for idx, write := range req.Writes {
		valueJSON, err := json.Marshal(write.Value)
		if err != nil {
			return fmt.Errorf("marshal write value: %w", err)
		}
		_, err = s.db.ExecContext(ctx, insertWriteSQL,
			threadID, namespace, checkpointID,
			req.TaskID, idx, write.Channel, valueJSON, write.Sequence, req.TaskPath)
		if err != nil {
			return fmt.Errorf("insert write: %w", err)
		}
	}
	return nil
}

// PutFull atomically stores a checkpoint with its pending writes.
func (s *Saver) PutFull(ctx context.Context, req graph.PutFullRequest) (map[string]any, error) {
	return s.putFull(ctx, req.Config, req.Checkpoint, req.Metadata, req.PendingWrites)
}

// DeleteThread removes every checkpoint of the thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return graph.ErrThreadIDRequired
	}
	if _, err := s.db.ExecContext(ctx, deleteThreadCheckpointsSQL, threadID); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, deleteThreadWritesSQL, threadID); err != nil {
		return fmt.Errorf("delete writes: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Saver) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Saver) putFull(
	ctx context.Context,
	config map[string]any,
	checkpoint *graph.Checkpoint,
	metadata *graph.CheckpointMetadata,
	pendingWrites []graph.PendingWrite,
) (map[string]any, error) {
	threadID := graph.GetThreadID(config)
	if threadID == "" {
		return nil, graph.ErrThreadIDRequired
	}
	if checkpoint == nil {
		return nil, errors.New("checkpoint cannot be nil")
	}
	namespace := graph.GetNamespace(config)

	checkpointJSON, err := json.Marshal(checkpoint)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	if metadata == nil {
		metadata = graph.NewCheckpointMetadata(graph.CheckpointSourceUpdate, 0)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	ts := checkpoint.Timestamp.UnixNano()
	if checkpoint.Timestamp.IsZero() {
		ts = time.Now().UTC().UnixNano()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	parentID := graph.GetCheckpointID(config)
	_, err = tx.ExecContext(ctx, insertCheckpointSQL,
		threadID, namespace, checkpoint.ID, parentID, ts, checkpointJSON, metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}
	for idx, write := range pendingWrites {
		valueJSON, err := json.Marshal(write.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal write value: %w", err)
		}
		_, err = tx.ExecContext(ctx, insertWriteSQL,
			threadID, namespace, checkpoint.ID,
			write.TaskID, idx, write.Channel, valueJSON, write.Sequence, "")
		if err != nil {
			return nil, fmt.Errorf("insert write: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return graph.CreateCheckpointConfig(threadID, checkpoint.ID, namespace), nil
}

func (s *Saver) scanTuple(
	ctx context.Context,
	row *sql.Row,
	threadID, namespace string,
) (*graph.CheckpointTuple, error) {
	var checkpointID, parentID string
	var checkpointJSON, metadataJSON []byte
	if err := row.Scan(&checkpointID, &checkpointJSON, &metadataJSON, &parentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	var checkpoint graph.Checkpoint
	if err := json.Unmarshal(checkpointJSON, &checkpoint); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	var metadata graph.CheckpointMetadata
	if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	writes, err := s.loadWrites(ctx, threadID, namespace, checkpointID)
	if err != nil {
		return nil, err
	}
	tuple := &graph.CheckpointTuple{
		Config:        graph.CreateCheckpointConfig(threadID, checkpointID, namespace),
		Checkpoint:    &checkpoint,
		Metadata:      &metadata,
		PendingWrites: writes,
	}
	if parentID != "" {
		tuple.ParentConfig = graph.CreateCheckpointConfig(threadID, parentID, namespace)
	}
	return tuple, nil
}

func (s *Saver) listRows(
	ctx context.Context,
	threadID, namespace string,
	filter *graph.CheckpointFilter,
) (*sql.Rows, error) {
	if filter != nil && filter.Before != nil {
		beforeID := graph.GetCheckpointID(filter.Before)
		if beforeID != "" {
			var beforeTS int64
			err := s.db.QueryRowContext(ctx, selectTimestampSQL, threadID, namespace, beforeID).Scan(&beforeTS)
			switch {
			case err == nil:
				rows, qerr := s.db.QueryContext(ctx, selectIDsBeforeSQL, threadID, namespace, beforeTS)
				if qerr != nil {
					return nil, fmt.Errorf("select checkpoints: %w", qerr)
				}
				return rows, nil
			case !errors.Is(err, sql.ErrNoRows):
				return nil, fmt.Errorf("select before checkpoint: %w", err)
			}
			// Unknown before checkpoint, fall through without the filter.
		}
	}
	rows, err := s.db.QueryContext(ctx, selectIDsDescSQL, threadID, namespace)
	if err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}
	return rows, nil
}

func (s *Saver) loadWrites(
	ctx context.Context,
	threadID, namespace, checkpointID string,
) ([]graph.PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx, selectWritesSQL, threadID, namespace, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("select writes: %w", err)
	}
	defer rows.Close()
	var writes []graph.PendingWrite
	for rows.Next() {
		var taskID, channel string
		var valueJSON []byte
		var seq int64
		if err := rows.Scan(&taskID, &channel, &valueJSON, &seq); err != nil {
			return nil, fmt.Errorf("scan write: %w", err)
		}
		var value any
		if err := json.Unmarshal(valueJSON, &value); err != nil {
			return nil, fmt.Errorf("unmarshal write value: %w", err)
		}
		writes = append(writes, graph.PendingWrite{
			TaskID:   taskID,
			Channel:  channel,
			Value:    value,
			Sequence: seq,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter writes: %w", err)
	}
	return writes, nil
}

func matchesMetadata(tuple *graph.CheckpointTuple, filter *graph.CheckpointFilter) bool {
	if filter == nil || len(filter.Metadata) == 0 {
		return true
	}
	if tuple.Metadata == nil || tuple.Metadata.Extra == nil {
		return false
	}
	for key, value := range filter.Metadata {
		if tuple.Metadata.Extra[key] != value {
			return false
		}
	}
	return true
}
