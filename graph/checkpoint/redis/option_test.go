//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptionDefaults(t *testing.T) {
	opts := defaultOptions
	assert.Equal(t, defaultURL, opts.url)
	assert.Equal(t, defaultTTL, opts.ttl)
	assert.Nil(t, opts.client)
}

func TestWithClientURLEmptyKeepsDefault(t *testing.T) {
	opts := defaultOptions
	WithClientURL("")(&opts)
	assert.Equal(t, defaultURL, opts.url)

	WithClientURL("redis://example:6379")(&opts)
	assert.Equal(t, "redis://example:6379", opts.url)
}

func TestWithTTL(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Duration
		expected time.Duration
	}{
		{
			name:     "valid TTL",
			input:    time.Hour * 48,
			expected: time.Hour * 48,
		},
		{
			name:     "zero TTL",
			input:    0,
			expected: defaultTTL,
		},
		{
			name:     "negative TTL",
			input:    -time.Hour,
			expected: defaultTTL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := options{}
			WithTTL(tt.input)(&opts)
			assert.Equal(t, tt.expected, opts.ttl)
		})
	}
}
