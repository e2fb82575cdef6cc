//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-xpert-go/thread"
)

func TestCreateIfExists(t *testing.T) {
	svc := NewService()
	ctx := context.Background()

	first, err := svc.Create(ctx, thread.CreateRequest{ThreadID: "t1", Metadata: map[string]any{"user": "a"}})
	require.NoError(t, err)
	require.Equal(t, thread.StatusOpen, first.Status)

	_, err = svc.Create(ctx, thread.CreateRequest{ThreadID: "t1"})
	require.ErrorIs(t, err, thread.ErrThreadExists)

	again, err := svc.Create(ctx, thread.CreateRequest{ThreadID: "t1", IfExists: thread.IfExistsDoNothing})
	require.NoError(t, err)
	require.Equal(t, "a", again.Metadata["user"])
}

func TestCreateMintsID(t *testing.T) {
	svc := NewService()
	created, err := svc.Create(context.Background(), thread.CreateRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
}

func TestStatusTransitions(t *testing.T) {
	svc := NewService()
	ctx := context.Background()
	_, err := svc.Create(ctx, thread.CreateRequest{ThreadID: "t1"})
	require.NoError(t, err)

	updated, err := svc.SetStatus(ctx, "t1", thread.StatusInterrupted)
	require.NoError(t, err)
	require.Equal(t, thread.StatusInterrupted, updated.Status)

	updated, err = svc.SetStatus(ctx, "t1", thread.StatusOpen)
	require.NoError(t, err)
	require.Equal(t, thread.StatusOpen, updated.Status)

	_, err = svc.SetStatus(ctx, "t1", thread.StatusClosed)
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, "t1", thread.StatusOpen)
	require.ErrorIs(t, err, thread.ErrThreadClosed)
}

func TestSearchByMetadata(t *testing.T) {
	svc := NewService()
	ctx := context.Background()
	for _, req := range []thread.CreateRequest{
		{ThreadID: "a", Metadata: map[string]any{"team": "x", "env": "prod"}},
		{ThreadID: "b", Metadata: map[string]any{"team": "x", "env": "dev"}},
		{ThreadID: "c", Metadata: map[string]any{"team": "y"}},
	} {
		_, err := svc.Create(ctx, req)
		require.NoError(t, err)
	}

	found, err := svc.Search(ctx, thread.SearchRequest{Metadata: map[string]any{"team": "x"}})
	require.NoError(t, err)
	require.Len(t, found, 2)

	// Conditions AND together.
	found, err = svc.Search(ctx, thread.SearchRequest{Metadata: map[string]any{"team": "x", "env": "prod"}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "a", found[0].ID)

	found, err = svc.Search(ctx, thread.SearchRequest{Metadata: map[string]any{"team": "z"}})
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestDeleteIsIdempotent(t *testing.T) {
	svc := NewService()
	ctx := context.Background()
	_, err := svc.Create(ctx, thread.CreateRequest{ThreadID: "t1"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "t1"))
	require.NoError(t, svc.Delete(ctx, "t1"))
	_, err = svc.Get(ctx, "t1")
	require.ErrorIs(t, err, thread.ErrThreadNotFound)
}
