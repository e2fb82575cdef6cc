//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"os"
	"strings"
	"time"
)

// config is the environment read once at startup. Library packages never
// touch the environment; everything they need arrives through options.
type config struct {
	Port          string
	LogLevel      string
	CORSOrigins   []string
	APIKeys       []string
	SessionSecret string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// XpertsDir holds the assistant definition YAML files.
	XpertsDir string
	// CheckpointDB is a sqlite path; empty keeps checkpoints in memory.
	CheckpointDB string
	// RunTimeout bounds every run; zero means no bound.
	RunTimeout time.Duration
}

const defaultModel = "gpt-4o-mini"

func loadConfig() config {
	cfg := config{
		Port:          envOr("PORT", "8080"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		SessionSecret: os.Getenv("SESSION_SECRET"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:   envOr("OPENAI_MODEL", defaultModel),
		XpertsDir:     envOr("XPERTS_DIR", "xperts"),
		CheckpointDB:  os.Getenv("CHECKPOINT_DB"),
	}
	cfg.CORSOrigins = splitList(os.Getenv("CORS_ALLOW_ORIGINS"))
	cfg.APIKeys = splitList(os.Getenv("API_KEYS"))
	if v := os.Getenv("RUN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RunTimeout = d
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
