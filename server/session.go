//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
)

// sessionRequest asks for a client session.
type sessionRequest struct {
	// User identifies the end user the session is issued for.
	User string `json:"user"`
	// ExpiresAfterSeconds overrides the configured session lifetime.
	ExpiresAfterSeconds int64 `json:"expires_after_seconds,omitempty"`
}

// sessionResponse carries the issued client secret.
type sessionResponse struct {
	ClientSecret string `json:"client_secret"`
	ExpiresAt    int64  `json:"expires_at"`
}

// handleCreateSession issues a short-lived client secret: a signed token
// browsers present instead of an API key.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if len(s.opts.sessionSecret) == 0 {
		writeError(w, agent.NewConfigError("session", "no session secret configured"))
		return
	}
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.User == "" {
		writeError(w, agent.NewInputError("user is required"))
		return
	}
	ttl := s.opts.sessionTTL
	if req.ExpiresAfterSeconds > 0 {
		ttl = time.Duration(req.ExpiresAfterSeconds) * time.Second
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   req.User,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString(s.opts.sessionSecret)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		ClientSecret: clientSecretPrefix + signed,
		ExpiresAt:    expiresAt.Unix(),
	})
}
