//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package event provides the streaming event type emitted by the runtime.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-xpert-go/model"
)

// TagDelimiter separates tags inside Event.Tag.
const TagDelimiter = ","

// FilterKeyDelimiter separates segments of the hierarchical filter key.
const FilterKeyDelimiter = "/"

const (
	// InitVersion marks events written before filter keys existed. Such
	// events carry their hierarchy in Branch.
	InitVersion = ""
	// CurrentVersion is stamped on newly created events.
	CurrentVersion = "v2"
)

// EmitWithoutTimeout disables the emit timeout: the send blocks until the
// receiver is ready or the context is done.
const EmitWithoutTimeout time.Duration = 0

// DefaultEmitTimeout bounds an emit when the caller does not choose a
// timeout explicitly.
const DefaultEmitTimeout = 30 * time.Second

// DefaultEmitTimeoutErr is returned when an emit does not complete in time.
var DefaultEmitTimeoutErr = NewEmitEventTimeoutError("emit event timeout")

// EmitEventTimeoutError reports that an event could not be delivered to a
// stream within the configured timeout.
type EmitEventTimeoutError struct {
	Message string
}

// Error implements the error interface.
func (e *EmitEventTimeoutError) Error() string {
	return e.Message
}

// NewEmitEventTimeoutError creates an emit timeout error.
func NewEmitEventTimeoutError(message string) *EmitEventTimeoutError {
	return &EmitEventTimeoutError{Message: message}
}

// AsEmitEventTimeoutError reports whether err wraps an emit timeout error
// and returns it.
func AsEmitEventTimeoutError(err error) (*EmitEventTimeoutError, bool) {
	var e *EmitEventTimeoutError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// EventActions carries flow directives attached to an event.
type EventActions struct {
	// SkipSummarization indicates the turn should end after the tool
	// response instead of running another model call.
	SkipSummarization bool `json:"skipSummarization,omitempty"`
}

// Event is one element of the per-run event stream. It wraps a model
// response with routing metadata used by filtering and transports.
type Event struct {
	// Response holds the payload. It is embedded so payload fields such as
	// Object, Done and Error are addressable directly on the event. The
	// embedded form flattens into the JSON encoding; identifiers shadowed
	// by the event's own fields travel in a nested "response" object.
	*model.Response

	// InvocationID identifies the run that produced the event.
	InvocationID string `json:"invocationId"`

	// RunID is the durable run row this event belongs to, when known.
	RunID string `json:"runId,omitempty"`

	// Author is the producer of the event, e.g. an agent key or "user".
	Author string `json:"author"`

	// ID is the unique identifier of the event.
	ID string `json:"id"`

	// Timestamp is when the event was created.
	Timestamp time.Time `json:"timestamp"`

	// Branch records the fan-out branch, "parent/child" style. Retained
	// for events written before FilterKey existed.
	Branch string `json:"branch,omitempty"`

	// FilterKey is the hierarchical tag path of the event, segments joined
	// by FilterKeyDelimiter. Mute and unmute rules match against it.
	FilterKey string `json:"filterKey,omitempty"`

	// Version selects the filtering scheme. Events at InitVersion filter
	// by Branch; current events filter by FilterKey.
	Version string `json:"version,omitempty"`

	// StateDelta contains serialized state changes to apply alongside the
	// event.
	StateDelta map[string][]byte `json:"stateDelta,omitempty"`

	// StructuredOutput carries a typed payload for structured output, not
	// serialized.
	StructuredOutput any `json:"-"`

	// Actions carries flow directives.
	Actions *EventActions `json:"actions,omitempty"`

	// LongRunningToolIDs is the set of ids of the long running function
	// calls. The runner exposes from this field which function calls are
	// still running.
	LongRunningToolIDs map[string]struct{} `json:"longRunningToolIDs,omitempty"`

	// Tag carries comma separated presentation tags, see tags.go.
	Tag string `json:"tag,omitempty"`
}

// Option modifies an event at construction time.
type Option func(*Event)

// WithBranch sets the branch of the event.
func WithBranch(branch string) Option {
	return func(e *Event) {
		e.Branch = branch
	}
}

// WithRunID sets the durable run id of the event.
func WithRunID(runID string) Option {
	return func(e *Event) {
		e.RunID = runID
	}
}

// WithResponse replaces the event payload.
func WithResponse(response *model.Response) Option {
	return func(e *Event) {
		e.Response = response
	}
}

// WithObject sets the object type of the event payload.
func WithObject(object string) Option {
	return func(e *Event) {
		if e.Response == nil {
			e.Response = &model.Response{}
		}
		e.Object = object
	}
}

// WithFilterKey sets the hierarchical filter key of the event.
func WithFilterKey(key string) Option {
	return func(e *Event) {
		e.FilterKey = key
	}
}

// WithStateDelta attaches serialized state changes to the event.
func WithStateDelta(stateDelta map[string][]byte) Option {
	return func(e *Event) {
		e.StateDelta = stateDelta
	}
}

// WithStructuredOutputPayload attaches a typed structured output payload.
func WithStructuredOutputPayload(payload any) Option {
	return func(e *Event) {
		e.StructuredOutput = payload
	}
}

// WithSkipSummarization marks the event so the outer flow ends the turn
// after the tool response.
func WithSkipSummarization() Option {
	return func(e *Event) {
		if e.Actions == nil {
			e.Actions = &EventActions{}
		}
		e.Actions.SkipSummarization = true
	}
}

// WithTag appends a presentation tag to the event.
func WithTag(tag string) Option {
	return func(e *Event) {
		e.Tag = AppendTagString(e.Tag, tag)
	}
}

// New creates an event with the given invocation id and author.
func New(invocationID, author string, opts ...Option) *Event {
	e := &Event{
		Response:     &model.Response{},
		InvocationID: invocationID,
		Author:       author,
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		Version:      CurrentVersion,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewResponseEvent creates an event wrapping a model response.
func NewResponseEvent(invocationID, author string, response *model.Response, opts ...Option) *Event {
	e := &Event{
		Response:     response,
		InvocationID: invocationID,
		Author:       author,
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		Version:      CurrentVersion,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewErrorEvent creates an error event with the given error type and message.
func NewErrorEvent(invocationID, author, errorType, errorMessage string, opts ...Option) *Event {
	e := &Event{
		Response: &model.Response{
			Object: model.ObjectTypeError,
			Done:   true,
			Error: &model.ResponseError{
				Type:    errorType,
				Message: errorMessage,
			},
			Timestamp: time.Now(),
		},
		InvocationID: invocationID,
		Author:       author,
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		Version:      CurrentVersion,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Clone returns a deep copy of the event. Events at an older version are
// migrated: the filter key is rebuilt from Branch.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Response = e.Response.Clone()
	if e.StateDelta != nil {
		clone.StateDelta = make(map[string][]byte, len(e.StateDelta))
		for k, v := range e.StateDelta {
			val := make([]byte, len(v))
			copy(val, v)
			clone.StateDelta[k] = val
		}
	}
	if e.LongRunningToolIDs != nil {
		clone.LongRunningToolIDs = make(map[string]struct{}, len(e.LongRunningToolIDs))
		for k := range e.LongRunningToolIDs {
			clone.LongRunningToolIDs[k] = struct{}{}
		}
	}
	if e.Actions != nil {
		actions := *e.Actions
		clone.Actions = &actions
	}
	if e.Version != CurrentVersion {
		clone.FilterKey = e.Branch
		clone.Version = CurrentVersion
	}
	return &clone
}

// Filter reports whether the event passes the given filter key.
// An empty key passes everything; an event without a filter key always
// passes. Otherwise the event passes when its key and the given key sit on
// the same branch of the FilterKeyDelimiter hierarchy, i.e. one is a
// segment prefix of the other. Events at an older version match against
// Branch instead of FilterKey.
func (e *Event) Filter(key string) bool {
	if e == nil {
		return false
	}
	filterKey := e.FilterKey
	if e.Version != CurrentVersion {
		filterKey = e.Branch
	}
	if key == "" || filterKey == "" {
		return true
	}
	if filterKey == key {
		return true
	}
	return strings.HasPrefix(key, filterKey+FilterKeyDelimiter) ||
		strings.HasPrefix(filterKey, key+FilterKeyDelimiter)
}

// FilterPath returns the segments of the event filter key.
func (e *Event) FilterPath() []string {
	if e == nil || e.FilterKey == "" {
		return nil
	}
	return strings.Split(e.FilterKey, FilterKeyDelimiter)
}

// IsRunnerCompletion reports whether the event is the terminal runner
// completion marker of a run.
func (e *Event) IsRunnerCompletion() bool {
	if e == nil || e.Response == nil {
		return false
	}
	return e.Done && e.Object == model.ObjectTypeRunnerCompletion
}

// eventAlias strips the custom JSON methods for the flattened encoding.
type eventAlias Event

// responseIdentity carries the response fields whose JSON keys are
// shadowed by the event's own fields in the flattened encoding.
type responseIdentity struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MarshalJSON encodes the event in the flattened legacy form and adds a
// nested "response" object preserving the response identifiers that the
// event's own id and timestamp shadow.
func (e Event) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(eventAlias(e))
	if err != nil {
		return nil, err
	}
	if e.Response == nil {
		return data, nil
	}
	nested, err := json.Marshal(responseIdentity{
		ID:        e.Response.ID,
		Timestamp: e.Response.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	payload["response"] = nested
	return json.Marshal(payload)
}

// UnmarshalJSON decodes the flattened form, then overlays identifiers from
// the nested "response" object when present. A malformed nested response
// is ignored so legacy payloads keep decoding.
func (e *Event) UnmarshalJSON(data []byte) error {
	if e == nil {
		return errors.New("event: UnmarshalJSON on nil pointer")
	}
	if string(data) == "null" {
		return nil
	}
	var alias eventAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*e = Event(alias)
	var aux struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(data, &aux); err != nil || len(aux.Response) == 0 {
		return nil
	}
	var identity struct {
		ID        *string    `json:"id"`
		Timestamp *time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(aux.Response, &identity); err != nil {
		return nil
	}
	if identity.ID == nil && identity.Timestamp == nil {
		return nil
	}
	if e.Response == nil {
		e.Response = &model.Response{}
	}
	if identity.ID != nil {
		e.Response.ID = *identity.ID
	}
	if identity.Timestamp != nil {
		e.Response.Timestamp = *identity.Timestamp
	}
	return nil
}

// EmitEvent sends the event to the channel, honoring context cancellation.
// A nil event or channel is a no-op.
func EmitEvent(ctx context.Context, ch chan<- *Event, e *Event) error {
	return EmitEventWithTimeout(ctx, ch, e, EmitWithoutTimeout)
}

// EmitEventWithTimeout sends the event to the channel with an optional
// timeout. A timeout of EmitWithoutTimeout blocks until the send completes
// or the context is done.
func EmitEventWithTimeout(ctx context.Context, ch chan<- *Event, e *Event, timeout time.Duration) error {
	if e == nil || ch == nil {
		return nil
	}
	if timeout <= 0 {
		select {
		case ch <- e:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return DefaultEmitTimeoutErr
	}
}
