//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"trpc.group/trpc-go/trpc-xpert-go/model"
)

// State is the mutable data that flows through graph execution. Values are
// keyed by channel name; the schema decides how concurrent updates merge.
type State map[string]any

// Clone returns a deep copy of the state. Runtime-internal values such as
// the execution context are shared, not copied.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	clone := make(State, len(s))
	for k, v := range s {
		if isInternalStateKey(k) {
			clone[k] = v
			continue
		}
		clone[k] = deepCopyAny(v)
	}
	return clone
}

// GetStateValue returns the state value at key as type T.
func GetStateValue[T any](state State, key string) (T, bool) {
	var zero T
	if state == nil {
		return zero, false
	}
	v, ok := state[key]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// isInternalStateKey reports whether the key belongs to the runtime rather
// than user data. Internal keys never reach checkpoints or state deltas.
func isInternalStateKey(key string) bool {
	return strings.HasPrefix(key, "__")
}

// deepCopyAny copies plain data values. Unknown types are shared.
func deepCopyAny(value any) any {
	switch v := value.(type) {
	case map[string]any:
		copied := make(map[string]any, len(v))
		for k, item := range v {
			copied[k] = deepCopyAny(item)
		}
		return copied
	case State:
		return v.Clone()
	case []any:
		copied := make([]any, len(v))
		for i, item := range v {
			copied[i] = deepCopyAny(item)
		}
		return copied
	case []string:
		copied := make([]string, len(v))
		copy(copied, v)
		return copied
	case []byte:
		copied := make([]byte, len(v))
		copy(copied, v)
		return copied
	case []model.Message:
		copied := make([]model.Message, len(v))
		copy(copied, v)
		return copied
	default:
		return value
	}
}

// Reducer merges a channel update into the existing value. A nil reducer
// means last write wins.
type Reducer func(existing, update any) any

// StateField describes one schema field.
type StateField struct {
	// Type is the expected Go type of the value.
	Type reflect.Type
	// Reducer merges updates into the existing value.
	Reducer Reducer
	// Default produces the initial value when the field is absent.
	Default func() any
	// Required marks fields that must be present before execution starts.
	Required bool
}

// StateSchema declares the fields of a graph state and how updates to each
// field combine.
type StateSchema struct {
	mu     sync.RWMutex
	Fields map[string]StateField
}

// NewStateSchema creates an empty state schema.
func NewStateSchema() *StateSchema {
	return &StateSchema{Fields: make(map[string]StateField)}
}

// AddField registers a field, replacing any previous definition.
func (s *StateSchema) AddField(name string, field StateField) *StateSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fields[name] = field
	return s
}

// Field returns the definition of a field.
func (s *StateSchema) Field(name string) (StateField, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.Fields[name]
	return f, ok
}

// HasField reports whether the schema declares the field.
func (s *StateSchema) HasField(name string) bool {
	_, ok := s.Field(name)
	return ok
}

// FieldNames returns the declared field names.
func (s *StateSchema) FieldNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	return names
}

// ApplyDefaults fills absent fields that declare a default.
func (s *StateSchema) ApplyDefaults(state State) State {
	if state == nil {
		state = make(State)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, field := range s.Fields {
		if _, ok := state[name]; !ok && field.Default != nil {
			state[name] = field.Default()
		}
	}
	return state
}

// Validate checks required fields and value types.
func (s *StateSchema) Validate(state State) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, field := range s.Fields {
		value, ok := state[name]
		if !ok {
			if field.Required {
				return fmt.Errorf("missing required state field %q", name)
			}
			continue
		}
		if field.Type == nil || value == nil {
			continue
		}
		vt := reflect.TypeOf(value)
		if vt == field.Type {
			continue
		}
		// Updates may arrive as operations rather than plain values, e.g.
		// message ops feeding the message reducer.
		if field.Reducer != nil {
			continue
		}
		if !vt.AssignableTo(field.Type) {
			return fmt.Errorf("state field %q has type %s, want %s", name, vt, field.Type)
		}
	}
	return nil
}

// ApplyUpdate merges an update into the state according to the schema and
// returns the merged state. Fields not declared by the schema use last
// write wins.
func (s *StateSchema) ApplyUpdate(state State, update State) State {
	if state == nil {
		state = make(State)
	}
	for key, value := range update {
		field, ok := s.Field(key)
		if !ok || field.Reducer == nil {
			state[key] = value
			continue
		}
		state[key] = field.Reducer(state[key], value)
	}
	return state
}

// DefaultReducer replaces the existing value with the update.
func DefaultReducer(existing, update any) any {
	if update == nil {
		return existing
	}
	return update
}

// AppendReducer appends update values to an existing []any slice.
func AppendReducer(existing, update any) any {
	if update == nil {
		return existing
	}
	current, _ := existing.([]any)
	switch u := update.(type) {
	case []any:
		return append(current, u...)
	default:
		return append(current, u)
	}
}

// StringSliceReducer appends update strings to an existing []string slice.
func StringSliceReducer(existing, update any) any {
	if update == nil {
		return existing
	}
	current, _ := existing.([]string)
	switch u := update.(type) {
	case []string:
		return append(current, u...)
	case string:
		return append(current, u)
	default:
		return existing
	}
}

// MergeReducer merges update map entries into the existing map.
func MergeReducer(existing, update any) any {
	if update == nil {
		return existing
	}
	current, _ := existing.(map[string]any)
	u, ok := update.(map[string]any)
	if !ok {
		return existing
	}
	if current == nil {
		current = make(map[string]any, len(u))
	}
	for k, v := range u {
		current[k] = v
	}
	return current
}

// MessageReducer merges message updates into the conversation history. The
// update may be a message, a slice of messages, or one or more MessageOp
// operations for finer control.
func MessageReducer(existing, update any) any {
	current := toMessageSlice(existing)
	if update == nil {
		return current
	}
	switch u := update.(type) {
	case model.Message:
		return append(current, u)
	case []model.Message:
		return append(current, u...)
	case MessageOp:
		return u.Apply(current)
	case []MessageOp:
		for _, op := range u {
			current = op.Apply(current)
		}
		return current
	case []any:
		for _, item := range u {
			current = toMessageSlice(MessageReducer(current, item))
		}
		return current
	default:
		return current
	}
}

func toMessageSlice(value any) []model.Message {
	switch v := value.(type) {
	case nil:
		return nil
	case []model.Message:
		return v
	case model.Message:
		return []model.Message{v}
	default:
		return nil
	}
}

// MessagesStateSchema returns the schema shared by conversational graphs:
// a reduced message history plus the scratch keys the prebuilt nodes use.
func MessagesStateSchema() *StateSchema {
	schema := NewStateSchema()
	schema.AddField(StateKeyMessages, StateField{
		Type:    reflect.TypeOf([]model.Message{}),
		Reducer: MessageReducer,
		Default: func() any { return []model.Message{} },
	})
	schema.AddField(StateKeyUserInput, StateField{
		Type:    reflect.TypeOf(""),
		Reducer: DefaultReducer,
	})
	schema.AddField(StateKeyOneShotMessages, StateField{
		Type:    reflect.TypeOf([]model.Message{}),
		Reducer: DefaultReducer,
	})
	schema.AddField(StateKeyLastResponse, StateField{
		Type:    reflect.TypeOf(""),
		Reducer: DefaultReducer,
	})
	schema.AddField(StateKeyNodeResponses, StateField{
		Type:    reflect.TypeOf(map[string]any{}),
		Reducer: MergeReducer,
		Default: func() any { return map[string]any{} },
	})
	schema.AddField(StateKeySysLanguage, StateField{
		Type:    reflect.TypeOf(""),
		Reducer: DefaultReducer,
	})
	schema.AddField(StateKeyMemories, StateField{
		Type:    reflect.TypeOf([]string{}),
		Reducer: StringSliceReducer,
		Default: func() any { return []string{} },
	})
	return schema
}
