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
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// clientSecretPrefix marks bearer tokens that are client session secrets
// rather than API keys.
const clientSecretPrefix = "cs-x-"

// authMiddleware accepts an API key (x-api-key or Authorization bearer)
// or a signed client session secret (x-client-secret or a cs-x- bearer).
// With neither API keys nor a session secret configured the server runs
// open.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.opts.apiKeys) == 0 && len(s.opts.sessionSecret) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		if s.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": "unauthorized",
		})
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if key := r.Header.Get("x-api-key"); key != "" {
		return s.validAPIKey(key)
	}
	if secret := r.Header.Get("x-client-secret"); secret != "" {
		return s.validClientSecret(secret)
	}
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if bearer == "" || bearer == r.Header.Get("Authorization") {
		return false
	}
	if strings.HasPrefix(bearer, clientSecretPrefix) {
		return s.validClientSecret(bearer)
	}
	return s.validAPIKey(bearer)
}

func (s *Server) validAPIKey(key string) bool {
	_, ok := s.opts.apiKeys[key]
	return ok
}

// validClientSecret verifies a session token: HMAC signature against the
// session secret and the embedded expiry.
func (s *Server) validClientSecret(secret string) bool {
	if len(s.opts.sessionSecret) == 0 {
		return false
	}
	tokenString := strings.TrimPrefix(secret, clientSecretPrefix)
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.opts.sessionSecret, nil
		})
	return err == nil && token.Valid
}
