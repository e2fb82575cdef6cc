//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package server exposes the runtime over HTTP: thread management, run
// execution (background, SSE streaming and synchronous wait), assistant
// lookup, client sessions and the memory store.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/log"
	"trpc.group/trpc-go/trpc-xpert-go/runner"
	"trpc.group/trpc-go/trpc-xpert-go/store"
	"trpc.group/trpc-go/trpc-xpert-go/thread"
	"trpc.group/trpc-go/trpc-xpert-go/xpert"
)

const defaultKeepAlive = 30 * time.Second

// Options configure a Server.
type Options struct {
	runner        *runner.Runner
	threads       thread.Service
	registry      *xpert.Registry
	store         store.Store
	saver         graph.CheckpointSaver
	apiKeys       map[string]struct{}
	sessionSecret []byte
	sessionTTL    time.Duration
	keepAlive     time.Duration
	corsOrigins   []string
}

// Option mutates Options.
type Option func(*Options)

// WithRunner sets the run executor.
func WithRunner(r *runner.Runner) Option {
	return func(o *Options) { o.runner = r }
}

// WithThreadService sets the thread store.
func WithThreadService(s thread.Service) Option {
	return func(o *Options) { o.threads = s }
}

// WithRegistry sets the assistant registry.
func WithRegistry(r *xpert.Registry) Option {
	return func(o *Options) { o.registry = r }
}

// WithStore exposes the memory store over /store/items.
func WithStore(s store.Store) Option {
	return func(o *Options) { o.store = s }
}

// WithCheckpointSaver backs the thread state endpoint.
func WithCheckpointSaver(s graph.CheckpointSaver) Option {
	return func(o *Options) { o.saver = s }
}

// WithAPIKeys sets the accepted API keys. Without keys and without a
// session secret, authentication is disabled.
func WithAPIKeys(keys ...string) Option {
	return func(o *Options) {
		if o.apiKeys == nil {
			o.apiKeys = make(map[string]struct{}, len(keys))
		}
		for _, k := range keys {
			if k != "" {
				o.apiKeys[k] = struct{}{}
			}
		}
	}
}

// WithSessionSecret enables client sessions signed with the secret.
func WithSessionSecret(secret string) Option {
	return func(o *Options) {
		if secret != "" {
			o.sessionSecret = []byte(secret)
		}
	}
}

// WithSessionTTL sets the client session lifetime, default one hour.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Options) { o.sessionTTL = ttl }
}

// WithKeepAliveInterval sets the SSE keep-alive period.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.keepAlive = d
		}
	}
}

// WithCORSOrigins allows cross-origin requests from the given origins.
func WithCORSOrigins(origins ...string) Option {
	return func(o *Options) { o.corsOrigins = append(o.corsOrigins, origins...) }
}

// Server is the HTTP surface of the runtime.
type Server struct {
	opts   Options
	router *mux.Router
}

// New creates a server and mounts its routes.
func New(opts ...Option) *Server {
	options := Options{
		sessionTTL: time.Hour,
		keepAlive:  defaultKeepAlive,
	}
	for _, opt := range opts {
		opt(&options)
	}
	s := &Server{opts: options, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.NewRoute().Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/threads", s.handleCreateThread).Methods(http.MethodPost)
	api.HandleFunc("/threads/search", s.handleSearchThreads).Methods(http.MethodPost)
	api.HandleFunc("/threads/{thread_id}", s.handleGetThread).Methods(http.MethodGet)
	api.HandleFunc("/threads/{thread_id}", s.handleDeleteThread).Methods(http.MethodDelete)
	api.HandleFunc("/threads/{thread_id}/state", s.handleThreadState).Methods(http.MethodGet)

	api.HandleFunc("/threads/{thread_id}/runs", s.handleCreateRun).Methods(http.MethodPost)
	api.HandleFunc("/threads/{thread_id}/runs/stream", s.handleStreamRun).Methods(http.MethodPost)
	api.HandleFunc("/threads/{thread_id}/runs/wait", s.handleWaitRun).Methods(http.MethodPost)
	api.HandleFunc("/threads/{thread_id}/runs/{run_id}", s.handleGetRun).Methods(http.MethodGet)

	api.HandleFunc("/assistants/search", s.handleSearchAssistants).Methods(http.MethodPost)
	api.HandleFunc("/assistants/{assistant_id}", s.handleGetAssistant).Methods(http.MethodGet)

	api.HandleFunc("/chatkit/sessions", s.handleCreateSession).Methods(http.MethodPost)

	api.HandleFunc("/store/items", s.handlePutStoreItem).Methods(http.MethodPost)
	api.HandleFunc("/store/items", s.handleGetStoreItem).Methods(http.MethodGet)
	api.HandleFunc("/store/items", s.handleDeleteStoreItem).Methods(http.MethodDelete)
	api.HandleFunc("/store/items/search", s.handleSearchStoreItems).Methods(http.MethodPost)
}

// Handler returns the http handler, wrapped with CORS when origins are
// configured.
func (s *Server) Handler() http.Handler {
	if len(s.opts.corsOrigins) == 0 {
		return s.router
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.corsOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), map[string]any{
		"error": err.Error(),
	})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return agent.NewInputError("invalid request body: %v", err)
	}
	return nil
}

// httpStatus maps runtime errors onto HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, thread.ErrThreadNotFound),
		errors.Is(err, runner.ErrRunNotFound),
		errors.Is(err, store.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, thread.ErrThreadExists),
		errors.Is(err, thread.ErrThreadClosed):
		return http.StatusConflict
	case agent.IsInputError(err), agent.IsConfigError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
