//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package store provides the namespaced key/value memory store exposed to
// agents and to the HTTP surface. Namespaces are string paths, so related
// items can be listed by prefix.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrItemNotFound is returned when the addressed item does not exist.
var ErrItemNotFound = errors.New("store item not found")

// Item is one stored value.
type Item struct {
	// Namespace is the path the item lives under.
	Namespace []string `json:"namespace"`
	// Key identifies the item within its namespace.
	Key string `json:"key"`
	// Value is the stored document.
	Value map[string]any `json:"value"`
	// CreatedAt is when the item was first stored.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the item was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Namespace = append([]string(nil), i.Namespace...)
	if i.Value != nil {
		cp.Value = make(map[string]any, len(i.Value))
		for k, v := range i.Value {
			cp.Value[k] = v
		}
	}
	return &cp
}

// SearchRequest filters items.
type SearchRequest struct {
	// NamespacePrefix restricts results to namespaces starting with the
	// given segments.
	NamespacePrefix []string `json:"namespace_prefix,omitempty"`
	// Query, when non-empty, requires a substring match against the JSON
	// rendering of the value.
	Query string `json:"query,omitempty"`
	// Limit caps the result count, zero means no cap.
	Limit int `json:"limit,omitempty"`
	// Offset skips the first results.
	Offset int `json:"offset,omitempty"`
}

// Store is the namespaced key/value store.
type Store interface {
	// Put stores the value under (namespace, key), overwriting any
	// previous value.
	Put(ctx context.Context, namespace []string, key string, value map[string]any) (*Item, error)
	// Get returns the item, ErrItemNotFound when absent.
	Get(ctx context.Context, namespace []string, key string) (*Item, error)
	// Delete removes the item. Deleting an absent item is a no-op.
	Delete(ctx context.Context, namespace []string, key string) error
	// Search returns items matching the request, most recently updated
	// first.
	Search(ctx context.Context, req SearchRequest) ([]*Item, error)
}
