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

	"trpc.group/trpc-go/trpc-xpert-go/store"
)

func TestPutGetDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	ns := []string{"memories", "user-1"}

	item, err := s.Put(ctx, ns, "likes", map[string]any{"topic": "jazz"})
	require.NoError(t, err)
	require.Equal(t, "likes", item.Key)

	got, err := s.Get(ctx, ns, "likes")
	require.NoError(t, err)
	require.Equal(t, "jazz", got.Value["topic"])

	// Overwrite keeps CreatedAt.
	updated, err := s.Put(ctx, ns, "likes", map[string]any{"topic": "blues"})
	require.NoError(t, err)
	require.Equal(t, got.CreatedAt, updated.CreatedAt)

	require.NoError(t, s.Delete(ctx, ns, "likes"))
	_, err = s.Get(ctx, ns, "likes")
	require.ErrorIs(t, err, store.ErrItemNotFound)
}

func TestSearchPrefixAndQuery(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Put(ctx, []string{"memories", "u1"}, "a", map[string]any{"note": "plays guitar"})
	require.NoError(t, err)
	_, err = s.Put(ctx, []string{"memories", "u1"}, "b", map[string]any{"note": "likes go"})
	require.NoError(t, err)
	_, err = s.Put(ctx, []string{"memories", "u2"}, "c", map[string]any{"note": "plays drums"})
	require.NoError(t, err)

	found, err := s.Search(ctx, store.SearchRequest{NamespacePrefix: []string{"memories", "u1"}})
	require.NoError(t, err)
	require.Len(t, found, 2)

	found, err = s.Search(ctx, store.SearchRequest{
		NamespacePrefix: []string{"memories"},
		Query:           "plays",
	})
	require.NoError(t, err)
	require.Len(t, found, 2)

	found, err = s.Search(ctx, store.SearchRequest{Limit: 1})
	require.NoError(t, err)
	require.Len(t, found, 1)
}
