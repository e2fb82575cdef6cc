//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-xpert-go/ledger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc, err := NewService(db)
	require.NoError(t, err)
	return svc
}

func TestOpenCloseRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	exec := &ledger.Execution{
		ThreadID:     "t1",
		XpertID:      "x1",
		AgentKey:     "researcher",
		Inputs:       `{"input":"hi"}`,
		CheckpointNS: "",
	}
	require.NoError(t, svc.Open(ctx, exec))
	require.NotEmpty(t, exec.ID)

	got, err := svc.Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusRunning, got.Status)
	require.Equal(t, "researcher", got.AgentKey)

	require.NoError(t, svc.Close(ctx, exec.ID, ledger.Closure{
		Status:       ledger.StatusSuccess,
		Outputs:      `{"answer":"42"}`,
		CheckpointID: "ckpt-1",
		Provider:     "openai",
		Model:        "gpt-4o-mini",
		Usage:        ledger.Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
	}))

	got, err = svc.Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSuccess, got.Status)
	require.Equal(t, "ckpt-1", got.CheckpointID)
	require.Equal(t, "openai", got.Provider)
	require.Equal(t, 15, got.Usage.TotalTokens)
	require.GreaterOrEqual(t, got.ElapsedMS, int64(0))

	err = svc.Close(ctx, exec.ID, ledger.Closure{Status: ledger.StatusError})
	require.ErrorIs(t, err, ledger.ErrExecutionClosed)
}

func TestGetUnknown(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ledger.ErrExecutionNotFound)

	err = svc.Close(context.Background(), "missing", ledger.Closure{Status: ledger.StatusError})
	require.ErrorIs(t, err, ledger.ErrExecutionNotFound)
}

func TestListFilters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	parent := &ledger.Execution{ThreadID: "t1", AgentKey: "lead"}
	require.NoError(t, svc.Open(ctx, parent))
	for i := 0; i < 3; i++ {
		child := &ledger.Execution{
			ThreadID:    "t1",
			AgentKey:    "lead",
			ParentID:    parent.ID,
			Predecessor: "lead",
		}
		require.NoError(t, svc.Open(ctx, child))
	}
	other := &ledger.Execution{ThreadID: "t2"}
	require.NoError(t, svc.Open(ctx, other))
	require.NoError(t, svc.Close(ctx, other.ID, ledger.Closure{Status: ledger.StatusError}))

	children, err := svc.List(ctx, ledger.Filter{ParentID: parent.ID})
	require.NoError(t, err)
	require.Len(t, children, 3)
	for _, c := range children {
		require.Equal(t, "lead", c.Predecessor)
	}

	byThread, err := svc.List(ctx, ledger.Filter{ThreadID: "t1"})
	require.NoError(t, err)
	require.Len(t, byThread, 4)

	limited, err := svc.List(ctx, ledger.Filter{ThreadID: "t1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)

	failed, err := svc.List(ctx, ledger.Filter{Status: ledger.StatusError})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, other.ID, failed[0].ID)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := OpenDB(path)
	require.NoError(t, err)
	svc, err := NewService(db)
	require.NoError(t, err)

	ctx := context.Background()
	exec := &ledger.Execution{ThreadID: "t1", AgentKey: "lead"}
	require.NoError(t, svc.Open(ctx, exec))
	require.NoError(t, db.Close())

	db, err = OpenDB(path)
	require.NoError(t, err)
	defer db.Close()
	svc, err = NewService(db)
	require.NoError(t, err)

	got, err := svc.Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusRunning, got.Status)
}
