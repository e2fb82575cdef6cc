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
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"trpc.group/trpc-go/trpc-xpert-go/event"
	"trpc.group/trpc-go/trpc-xpert-go/log"
)

// sseFrame is the JSON payload of one SSE data line.
type sseFrame struct {
	// Type is the frame kind: "event" or "error".
	Type string `json:"type"`
	// Event is the canonical stream event name.
	Event string `json:"event"`
	// Data is the event payload.
	Data any `json:"data,omitempty"`
}

// sseWriter frames events for one streaming response.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the response for server-sent events. It fails
// when the response writer cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by connection")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &sseWriter{w: w, flusher: flusher}, nil
}

// WriteEvent writes one event frame and flushes it.
func (s *sseWriter) WriteEvent(e *event.Event) error {
	frameType := "event"
	if e.Response != nil && e.Error != nil {
		frameType = "error"
	}
	return s.writeFrame(sseFrame{Type: frameType, Event: e.Name(), Data: e})
}

// WriteKeepAlive writes the comment frame holding idle connections open.
func (s *sseWriter) WriteKeepAlive() {
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		log.Debugf("sse keep-alive: %v", err)
		return
	}
	s.flusher.Flush()
}

func (s *sseWriter) writeFrame(frame sseFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// streamEvents copies run events to the SSE connection, interleaving
// keep-alive comments while the run is quiet. Returns when the event
// channel closes or the client goes away.
func (s *sseWriter) streamEvents(r *http.Request, events <-chan *event.Event, keepAlive time.Duration) {
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if e == nil {
				continue
			}
			if err := s.WriteEvent(e); err != nil {
				log.Debugf("sse write: %v", err)
				return
			}
		case <-ticker.C:
			s.WriteKeepAlive()
		case <-r.Context().Done():
			return
		}
	}
}
