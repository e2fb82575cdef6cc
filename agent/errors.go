//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"errors"
	"fmt"
	"time"
)

// ConfigError reports an invalid agent or graph configuration. It is
// fatal at compile time: no run starts against a definition that fails
// to compile.
type ConfigError struct {
	// Field names the offending configuration element.
	Field string
	// Message describes the problem.
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Message)
	}
	return fmt.Sprintf("invalid configuration (%s): %s", e.Field, e.Message)
}

// NewConfigError creates a configuration error.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// InputError reports invalid caller input, e.g. a resume command whose
// decisions do not line up with the pending tool calls. It is fatal for
// the run and nothing is committed.
type InputError struct {
	// Message describes the problem.
	Message string
}

// Error implements the error interface.
func (e *InputError) Error() string {
	return e.Message
}

// NewInputError creates an input error.
func NewInputError(format string, args ...any) *InputError {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// IsInputError reports whether err wraps an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// TimeoutError reports that a run or tool call exceeded its configured
// deadline.
type TimeoutError struct {
	// Timeout is the configured deadline that expired.
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s", e.Timeout)
}

// IsTimeoutError reports whether err wraps a TimeoutError.
func IsTimeoutError(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
