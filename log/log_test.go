//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package log_test

import (
	"testing"

	"trpc.group/trpc-go/trpc-xpert-go/log"
)

// TestHelpersForwardToDefault swaps in a recording logger and checks
// every package-level helper reaches it.
func TestHelpersForwardToDefault(t *testing.T) {
	rec := &recordingLogger{}
	original := log.Default
	log.Default = rec
	t.Cleanup(func() { log.Default = original })

	log.Debug("m")
	log.Debugf("%s", "m")
	log.Info("m")
	log.Infof("%s", "m")
	log.Warn("m")
	log.Warnf("%s", "m")
	log.Error("m")
	log.Errorf("%s", "m")
	log.Fatal("m")
	log.Fatalf("%s", "m")

	if rec.calls != 10 {
		t.Fatalf("expected 10 forwarded calls, got %d", rec.calls)
	}
}

type recordingLogger struct {
	calls int
}

func (r *recordingLogger) Debug(args ...any)                 { r.calls++ }
func (r *recordingLogger) Debugf(format string, args ...any) { r.calls++ }
func (r *recordingLogger) Info(args ...any)                  { r.calls++ }
func (r *recordingLogger) Infof(format string, args ...any)  { r.calls++ }
func (r *recordingLogger) Warn(args ...any)                  { r.calls++ }
func (r *recordingLogger) Warnf(format string, args ...any)  { r.calls++ }
func (r *recordingLogger) Error(args ...any)                 { r.calls++ }
func (r *recordingLogger) Errorf(format string, args ...any) { r.calls++ }
func (r *recordingLogger) Fatal(args ...any)                 { r.calls++ }
func (r *recordingLogger) Fatalf(format string, args ...any) { r.calls++ }
