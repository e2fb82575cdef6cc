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
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/event"
	"trpc.group/trpc-go/trpc-xpert-go/graph/internal/channel"
)

// prepare builds the per-run execution context: channels, state, durable
// config, and the initial frontier from fresh input, a continued thread
// or a resume command.
func (e *Executor) prepare(
	ctx context.Context,
	initialState State,
	invocation *agent.Invocation,
	eventChan chan *event.Event,
) (*execution, error) {
	ex := &execution{
		executor:     e,
		graph:        e.graph,
		schema:       e.graph.Schema(),
		channels:     channel.NewManager(),
		eventChan:    eventChan,
		invocationID: invocationIDOf(invocation),
		saver:        e.saver,
		versionsSeen: make(map[string]map[string]int64),
		verbose:      e.verboseEvents,
		startTime:    time.Now(),
	}
	if invocation != nil {
		ex.branch = invocation.Branch
		ex.streamCheckpoints = invocation.RunOptions.HasStreamMode(agent.StreamModeCheckpoints) || e.verboseEvents
	}
	ex.execCtx = &ExecutionContext{
		EventChan:    eventChan,
		InvocationID: ex.invocationID,
	}
	for name, behavior := range e.graph.ChannelBehaviors() {
		ex.channels.Add(name, behavior)
	}

	var cmd *Command
	if initialState != nil {
		if c, ok := initialState[StateKeyCommand].(*Command); ok {
			cmd = c
		}
	}

	if e.saver != nil {
		ex.config = e.resolveConfig(invocation)
	}

	var tuple *CheckpointTuple
	if ex.saver != nil && ex.config != nil {
		var err error
		tuple, err = ex.saver.GetTuple(ctx, ex.config)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case tuple != nil && cmd != nil:
		if err := ex.restoreFromTuple(tuple); err != nil {
			return nil, err
		}
		if err := ex.applyResumeCommand(ctx, tuple, cmd); err != nil {
			return nil, err
		}
	case tuple != nil:
		if err := ex.restoreFromTuple(tuple); err != nil {
			return nil, err
		}
		if err := ex.beginInputTurn(ctx, initialState); err != nil {
			return nil, err
		}
	case cmd != nil && cmd.IsResume():
		if ex.saver == nil {
			return nil, ErrCheckpointSaverRequired
		}
		return nil, ErrCheckpointNotFound
	default:
		if err := ex.beginFresh(ctx, initialState, cmd); err != nil {
			return nil, err
		}
	}
	return ex, nil
}

// resolveConfig derives the durable checkpoint address of this run. The
// thread ID comes from the runtime state, then the thread, then the
// invocation itself so a saver always has a stable lineage to write to.
func (e *Executor) resolveConfig(invocation *agent.Invocation) map[string]any {
	threadID := ""
	checkpointID := ""
	namespace := ""
	if invocation != nil {
		if tid, ok := agent.GetRuntimeStateValue[string](&invocation.RunOptions, CfgKeyThreadID); ok {
			threadID = tid
		}
		if threadID == "" && invocation.Thread != nil {
			threadID = invocation.Thread.ID
		}
		checkpointID = invocation.RunOptions.CheckpointID
		namespace = invocation.RunOptions.CheckpointNamespace
	}
	if threadID == "" {
		threadID = invocationIDOf(invocation)
	}
	return CreateCheckpointConfig(threadID, checkpointID, namespace)
}

// beginFresh seeds state from schema defaults plus the caller's input and
// triggers the entry point.
func (ex *execution) beginFresh(ctx context.Context, initialState State, cmd *Command) error {
	ex.step = -1
	ex.state = ex.schema.ApplyDefaults(State{})
	if len(initialState) > 0 {
		ex.state = ex.schema.ApplyUpdate(ex.state, userVisible(initialState))
	}
	if cmd != nil && len(cmd.GoTo) > 0 {
		if cmd.Update != nil {
			ex.state = ex.schema.ApplyUpdate(ex.state, cmd.Update)
		}
		for _, s := range cmd.GoTo {
			ex.writeChannel(ctx, Start, channelWrite{channel: ChannelTasks, value: s})
		}
	} else {
		ex.writeChannel(ctx, Start, channelWrite{channel: TriggerChannel(ex.graph.EntryPoint())})
	}
	if _, err := ex.saveCheckpoint(ctx, CheckpointSourceInput, nil, nil, nil); err != nil {
		return err
	}
	ex.step = 0
	return nil
}

// beginInputTurn continues an existing thread with new input: restored
// state is kept and the entry point is triggered again.
func (ex *execution) beginInputTurn(ctx context.Context, initialState State) error {
	if len(initialState) > 0 {
		ex.state = ex.schema.ApplyUpdate(ex.state, userVisible(initialState))
	}
	ex.writeChannel(ctx, Start, channelWrite{channel: TriggerChannel(ex.graph.EntryPoint())})
	if _, err := ex.saveCheckpoint(ctx, CheckpointSourceInput, nil, nil, nil); err != nil {
		return err
	}
	ex.step++
	return nil
}

// restoreFromTuple rebuilds channels, version vectors and state from a
// stored checkpoint.
func (ex *execution) restoreFromTuple(tuple *CheckpointTuple) error {
	ckpt := tuple.Checkpoint
	if ckpt == nil {
		return ErrCheckpointNotFound
	}
	behaviors := ex.graph.ChannelBehaviors()
	behaviorOf := func(name string) channel.Behavior {
		if b, ok := behaviors[name]; ok {
			return b
		}
		return channel.BehaviorLastValue
	}
	restored := make(map[string]struct{})
	for name, members := range ckpt.BarrierSets {
		ch := ex.channels.Add(name, channel.BehaviorBarrier)
		ch.Restore(members, ckpt.ChannelVersions[name], false)
		restored[name] = struct{}{}
	}
	for name, value := range ckpt.ChannelValues {
		if name == checkpointStateKey {
			continue
		}
		if _, done := restored[name]; done {
			continue
		}
		ch := ex.channels.Add(name, behaviorOf(name))
		ch.Restore(value, ckpt.ChannelVersions[name], true)
		restored[name] = struct{}{}
	}
	for name, version := range ckpt.ChannelVersions {
		if _, done := restored[name]; done {
			continue
		}
		ch := ex.channels.Add(name, behaviorOf(name))
		ch.Restore(nil, version, false)
	}

	ex.state = ex.schema.ApplyDefaults(State{})
	if raw, ok := ckpt.ChannelValues[checkpointStateKey]; ok {
		var snapshot State
		switch s := raw.(type) {
		case State:
			snapshot = s
		case map[string]any:
			snapshot = State(s)
		}
		if snapshot != nil {
			ex.state = ex.schema.ApplyUpdate(ex.state, rehydrateState(ex.schema, snapshot))
		}
	}

	ex.versionsSeen = copyVersionsSeen(ckpt.VersionsSeen)
	ex.parentCheckpointID = ckpt.ID
	// Point the config at the restored checkpoint so the next save links
	// its parent correctly.
	if ex.config != nil {
		ex.config = WithCheckpointID(ex.config, ckpt.ID)
	}
	if tuple.Metadata != nil {
		ex.step = tuple.Metadata.Step + 1
	}
	return nil
}

// applyResumeCommand injects resume values and re-triggers the frontier
// the interrupt checkpoint recorded.
func (ex *execution) applyResumeCommand(ctx context.Context, tuple *CheckpointTuple, cmd *Command) error {
	if cmd.Update != nil {
		ex.state = ex.schema.ApplyUpdate(ex.state, cmd.Update)
	}
	ex.state[StateKeyCommand] = cmd
	if len(cmd.ResumeMap) > 0 {
		rm := make(map[string]any, len(cmd.ResumeMap))
		for k, v := range cmd.ResumeMap {
			rm[k] = v
		}
		ex.state[StateKeyResumeMap] = rm
	}

	for _, s := range cmd.GoTo {
		if _, ok := ex.graph.Node(s.Node); !ok {
			return ErrNoNodesToResume
		}
		ex.writeChannel(ctx, Start, channelWrite{channel: ChannelTasks, value: s})
	}

	resumable := len(cmd.GoTo) > 0
	if tuple.Checkpoint != nil {
		for _, nodeID := range tuple.Checkpoint.NextNodes {
			if _, ok := ex.graph.Node(nodeID); !ok {
				continue
			}
			ex.writeChannel(ctx, Start, channelWrite{channel: TriggerChannel(nodeID)})
			resumable = true
		}
	}
	// Sends preserved in the checkpoint's task channel also count as a
	// pending frontier.
	if ch, ok := ex.channels.Get(ChannelTasks); ok && ch.IsAvailable() {
		resumable = true
	}
	if !resumable {
		if tuple.Checkpoint != nil && !tuple.Checkpoint.IsInterrupted() {
			// The interrupt this command answers was already consumed by an
			// earlier resume. Duplicate resumes complete without replaying
			// anything; the unconsumed resume values must not leak into
			// later turns.
			delete(ex.state, StateKeyResumeMap)
			delete(ex.state, StateKeyCommand)
			return nil
		}
		return ErrNoNodesToResume
	}
	return nil
}

// buildCheckpoint snapshots channels, barriers, version vectors and the
// user-visible state.
func (ex *execution) buildCheckpoint(nextNodes []string, interruptState *InterruptState) *Checkpoint {
	values := make(map[string]any)
	barriers := make(map[string][]string)
	for name, ch := range ex.channels.All() {
		if ch.Behavior == channel.BehaviorBarrier {
			if members := ch.Members(); len(members) > 0 {
				barriers[name] = members
			}
			continue
		}
		if !ch.IsAvailable() {
			continue
		}
		if v, ok := ch.Get(); ok {
			values[name] = deepCopyAny(v)
		} else {
			values[name] = nil
		}
	}
	values[checkpointStateKey] = ex.stateSnapshot()

	ckpt := NewCheckpoint(values, ex.channels.Versions(), copyVersionsSeen(ex.versionsSeen))
	ckpt.NextNodes = nextNodes
	if len(barriers) > 0 {
		ckpt.BarrierSets = barriers
	}
	ckpt.InterruptState = interruptState
	return ckpt
}

// stateSnapshot deep-copies the user-visible part of the state.
func (ex *execution) stateSnapshot() State {
	snapshot := make(State, len(ex.state))
	for k, v := range ex.state {
		if isInternalStateKey(k) {
			continue
		}
		snapshot[k] = deepCopyAny(v)
	}
	return snapshot
}

// saveCheckpoint persists a checkpoint with this step's writes and emits
// lifecycle events when checkpoint streaming is on. Returns the new
// checkpoint ID, empty when running without a saver. A saver failure is
// returned to the caller; the run must not report success without its
// durable checkpoint.
func (ex *execution) saveCheckpoint(
	ctx context.Context,
	source string,
	nextNodes []string,
	interruptState *InterruptState,
	writes []PendingWrite,
) (string, error) {
	if ex.saver == nil || ex.config == nil {
		return "", nil
	}
	started := time.Now()
	ckpt := ex.buildCheckpoint(nextNodes, interruptState)
	meta := NewCheckpointMetadata(source, ex.step)
	namespace := GetNamespace(ex.config)
	if ex.parentCheckpointID != "" {
		meta.Parents[namespace] = ex.parentCheckpointID
	}
	if ex.streamCheckpoints {
		ex.emit(ctx, NewCheckpointCreatedEvent(
			WithCheckpointEventInvocationID(ex.invocationID),
			WithCheckpointEventCheckpointID(ckpt.ID),
			WithCheckpointEventSource(source),
			WithCheckpointEventStep(ex.step),
			WithCheckpointEventWritesCount(len(writes)),
		))
	}
	newConfig, err := ex.saver.PutFull(ctx, PutFullRequest{
		Config:        ex.config,
		Checkpoint:    ckpt,
		Metadata:      meta,
		NewVersions:   ckpt.ChannelVersions,
		PendingWrites: writes,
	})
	if err != nil {
		return "", fmt.Errorf("checkpoint save failed (source=%s step=%d): %w", source, ex.step, err)
	}
	ex.config = newConfig
	ex.parentCheckpointID = ckpt.ID
	if ex.streamCheckpoints {
		ex.emit(ctx, NewCheckpointCommittedEvent(
			WithCheckpointEventInvocationID(ex.invocationID),
			WithCheckpointEventCheckpointID(ckpt.ID),
			WithCheckpointEventSource(source),
			WithCheckpointEventStep(ex.step),
			WithCheckpointEventDuration(time.Since(started)),
			WithCheckpointEventBytes(checkpointBytes(ckpt)),
			WithCheckpointEventWritesCount(len(writes)),
		))
	}
	return ckpt.ID, nil
}

func checkpointBytes(ckpt *Checkpoint) int64 {
	data, err := json.Marshal(ckpt)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

// newCheckpointInterruptEvent packages the interrupt for stream
// consumers: the payload rides in StateDelta under the checkpoint
// metadata key.
func newCheckpointInterruptEvent(invocationID, checkpointID string, is *InterruptState) *event.Event {
	e := NewGraphEvent(invocationID, AuthorGraphExecutor, ObjectTypeGraphCheckpointInterrupt)
	ensureStateDelta(e)
	payload := map[string]any{
		CfgKeyCheckpointID: checkpointID,
		EventKeyStep:       is.Step,
		"node_id":          is.NodeID,
		"task_id":          is.TaskID,
		"key":              is.Key,
		"value":            is.Value,
	}
	if data, err := json.Marshal(payload); err == nil {
		e.StateDelta[MetadataKeyCheckpoint] = data
	}
	return e
}

// userVisible filters runtime-internal keys out of caller-supplied state.
func userVisible(s State) State {
	out := make(State, len(s))
	for k, v := range s {
		if isInternalStateKey(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func copyVersionsSeen(seen map[string]map[string]int64) map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(seen))
	for node, versions := range seen {
		inner := make(map[string]int64, len(versions))
		for ch, ver := range versions {
			inner[ch] = ver
		}
		out[node] = inner
	}
	return out
}

// rehydrateState converts JSON-restored values back into the types the
// schema declares, so reducers see real messages instead of raw maps.
func rehydrateState(schema *StateSchema, raw State) State {
	if schema == nil || len(raw) == 0 {
		return raw
	}
	out := make(State, len(raw))
	for k, v := range raw {
		field, ok := schema.Field(k)
		if !ok || field.Type == nil || v == nil {
			out[k] = v
			continue
		}
		if reflect.TypeOf(v) == field.Type {
			out[k] = v
			continue
		}
		converted, err := convertToType(v, field.Type)
		if err != nil {
			out[k] = v
			continue
		}
		out[k] = converted
	}
	return out
}

func convertToType(v any, t reflect.Type) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}
