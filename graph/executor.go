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
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/event"
	"trpc.group/trpc-go/trpc-xpert-go/graph/internal/channel"
	"trpc.group/trpc-go/trpc-xpert-go/log"
	"trpc.group/trpc-go/trpc-xpert-go/telemetry"
)

// DefaultRecursionLimit caps runs whose definition sets no explicit
// step budget.
const DefaultRecursionLimit = 100

const (
	defaultMaxSteps          = DefaultRecursionLimit
	defaultChannelBufferSize = 1024

	// checkpointStateKey stores the user-visible state snapshot inside a
	// checkpoint's channel values.
	checkpointStateKey = "__state__"
)

// ExecutionContext is shared with running nodes through
// StateKeyExecContext. It carries the event channel nodes emit into and
// the identity of the invocation.
type ExecutionContext struct {
	// EventChan receives events emitted from inside nodes.
	EventChan chan<- *event.Event
	// InvocationID identifies the running invocation.
	InvocationID string

	step int64
}

// CurrentStep returns the step currently executing.
func (c *ExecutionContext) CurrentStep() int {
	return int(atomic.LoadInt64(&c.step))
}

func (c *ExecutionContext) setCurrentStep(step int) {
	atomic.StoreInt64(&c.step, int64(step))
}

// Executor runs a compiled graph with Pregel semantics: plan the nodes
// triggered by channel updates, run them as one super-step, apply their
// writes, checkpoint, repeat.
type Executor struct {
	graph             *Graph
	saver             CheckpointSaver
	maxSteps          int
	stepTimeout       time.Duration
	nodeTimeout       time.Duration
	channelBufferSize int
	maxConcurrency    int
	verboseEvents     bool
	pool              *ants.Pool
}

// NewExecutor creates an executor for the graph.
func NewExecutor(g *Graph, opts ...ExecutorOption) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	e := &Executor{
		graph:             g,
		maxSteps:          defaultMaxSteps,
		channelBufferSize: defaultChannelBufferSize,
		maxConcurrency:    -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	size := e.maxConcurrency
	if size == 0 {
		size = -1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	e.pool = pool
	return e, nil
}

// Graph returns the executed graph.
func (e *Executor) Graph() *Graph {
	return e.graph
}

// CheckpointSaver returns the configured saver, nil when running without
// durability.
func (e *Executor) CheckpointSaver() CheckpointSaver {
	return e.saver
}

// Close releases the executor's worker pool.
func (e *Executor) Close() error {
	if e.pool != nil {
		e.pool.Release()
	}
	return nil
}

// Execute runs the graph from the initial state and streams events until
// the run completes, interrupts or fails. The returned channel closes
// when the run is over.
func (e *Executor) Execute(
	ctx context.Context,
	initialState State,
	invocation *agent.Invocation,
) (<-chan *event.Event, error) {
	eventChan := make(chan *event.Event, e.channelBufferSize)
	go e.runLoop(ctx, initialState, invocation, eventChan)
	return eventChan, nil
}

func (e *Executor) runLoop(
	ctx context.Context,
	initialState State,
	invocation *agent.Invocation,
	eventChan chan *event.Event,
) {
	defer close(eventChan)
	ex, err := e.prepare(ctx, initialState, invocation, eventChan)
	if err != nil {
		emitError(ctx, eventChan, invocationIDOf(invocation), err)
		return
	}
	ex.loop(ctx)
}

func invocationIDOf(invocation *agent.Invocation) string {
	if invocation != nil && invocation.InvocationID != "" {
		return invocation.InvocationID
	}
	return uuid.New().String()
}

// execution is the per-run state of one Execute call.
type execution struct {
	executor     *Executor
	graph        *Graph
	schema       *StateSchema
	channels     *channel.Manager
	state        State
	eventChan    chan *event.Event
	invocationID string
	branch       string

	saver              CheckpointSaver
	config             map[string]any
	parentCheckpointID string
	versionsSeen       map[string]map[string]int64

	execCtx           *ExecutionContext
	step              int
	writeSeq          int64
	streamCheckpoints bool
	verbose           bool
	startTime         time.Time
}

// task is one unit of work within a super-step.
type task struct {
	id      string
	nodeID  string
	node    *Node
	overlay State
	// triggers maps the channels that caused the task to its versions at
	// planning time, recorded into VersionsSeen on completion.
	triggers map[string]int64
	isSend   bool
	send     Send

	update    State
	writes    []channelWrite
	err       error
	interrupt *InterruptError
	startedAt time.Time
	endedAt   time.Time
}

type channelWrite struct {
	channel string
	value   any
}

// loop drives the Pregel super-steps until quiescence, an interrupt, an
// error or the recursion limit.
func (ex *execution) loop(ctx context.Context) {
	for runStep := 0; ; runStep++ {
		if err := ctx.Err(); err != nil {
			ex.emitRunError(ctx, err)
			return
		}
		if runStep >= ex.executor.maxSteps {
			ex.emitRunError(ctx, &RecursionLimitError{Limit: ex.executor.maxSteps})
			return
		}
		tasks := ex.plan()
		if len(tasks) == 0 {
			ex.complete(ctx, runStep)
			return
		}
		ex.execCtx.setCurrentStep(ex.step)
		ex.emitPlanning(ctx, tasks)
		if err := ex.executeTasks(ctx, tasks); err != nil {
			ex.emitStepError(ctx, err)
			return
		}
		writes := ex.applyUpdates(ctx, tasks)
		if interrupted := firstInterrupt(tasks); interrupted != nil {
			ex.handleInterrupt(ctx, interrupted, tasks, writes)
			return
		}
		if _, err := ex.saveCheckpoint(ctx, CheckpointSourceLoop, nil, nil, writes); err != nil {
			ex.emitStepError(ctx, err)
			return
		}
		ex.step++
	}
}

// plan builds the task set of the next super-step from pending Send
// packets and channels whose version exceeds what their trigger nodes
// have seen. Deferred nodes wait until no other work is runnable.
func (ex *execution) plan() []*task {
	var tasks []*task
	tasks = append(tasks, ex.planSendTasks()...)

	// Consume the End channel quietly; it triggers nothing.
	if ch, ok := ex.channels.Get(TriggerChannel(End)); ok && ch.IsAvailable() {
		ch.Acknowledge()
	}

	names := make([]string, 0, len(ex.graph.ChannelBehaviors()))
	for name := range ex.graph.ChannelBehaviors() {
		names = append(names, name)
	}
	sort.Strings(names)

	type candidate struct {
		node     *Node
		triggers map[string]int64
	}
	byNode := make(map[string]*candidate)
	var order []string
	for _, name := range names {
		ch, ok := ex.channels.Get(name)
		if !ok || !ch.IsAvailable() {
			continue
		}
		ver := ch.Version()
		for _, nodeID := range ex.graph.TriggeredNodes(name) {
			if ver <= ex.seenVersion(nodeID, name) {
				continue
			}
			node, exists := ex.graph.Node(nodeID)
			if !exists {
				continue
			}
			c, queued := byNode[nodeID]
			if !queued {
				c = &candidate{node: node, triggers: make(map[string]int64)}
				byNode[nodeID] = c
				order = append(order, nodeID)
			}
			c.triggers[name] = ver
		}
	}
	sort.Strings(order)

	var normal, deferred []*task
	for _, nodeID := range order {
		c := byNode[nodeID]
		t := &task{
			id:       nodeID,
			nodeID:   nodeID,
			node:     c.node,
			triggers: c.triggers,
		}
		if c.node.Defer {
			deferred = append(deferred, t)
		} else {
			normal = append(normal, t)
		}
	}
	if len(tasks) > 0 || len(normal) > 0 {
		return append(tasks, normal...)
	}
	return deferred
}

// planSendTasks drains the Send topic channel into one task per packet.
func (ex *execution) planSendTasks() []*task {
	ch, ok := ex.channels.Get(ChannelTasks)
	if !ok || !ch.IsAvailable() {
		return nil
	}
	raw, ok := ch.Get()
	ch.Acknowledge()
	if !ok {
		return nil
	}
	values, ok := raw.([]any)
	if !ok {
		return nil
	}
	var tasks []*task
	for i, v := range values {
		send, ok := decodeSend(v)
		if !ok {
			continue
		}
		node, exists := ex.graph.Node(send.Node)
		if !exists {
			log.Warnf("graph executor: send targets unknown node %q, dropping", send.Node)
			continue
		}
		id := send.TaskID
		if id == "" {
			id = fmt.Sprintf("%s#%d", send.Node, i)
		}
		tasks = append(tasks, &task{
			id:      id,
			nodeID:  send.Node,
			node:    node,
			overlay: send.State,
			isSend:  true,
			send:    send,
		})
	}
	return tasks
}

func (ex *execution) seenVersion(nodeID, channelName string) int64 {
	if seen, ok := ex.versionsSeen[nodeID]; ok {
		return seen[channelName]
	}
	return 0
}

// executeTasks runs every task of the step on the worker pool and waits
// for all of them. The first hard error cancels the remaining tasks.
func (ex *execution) executeTasks(ctx context.Context, tasks []*task) error {
	var stepCtx context.Context
	var cancel context.CancelFunc
	if ex.executor.stepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, ex.executor.stepTimeout)
	} else {
		stepCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var wg sync.WaitGroup
	for _, t := range tasks {
		t := t
		wg.Add(1)
		run := func() {
			defer wg.Done()
			ex.runTask(stepCtx, t)
			if t.err != nil {
				cancel()
			}
		}
		if err := ex.executor.pool.Submit(run); err != nil {
			// Pool rejected the task, run it inline.
			run()
		}
	}
	wg.Wait()

	for _, t := range tasks {
		if t.err != nil {
			return t.err
		}
	}
	return nil
}

// runTask executes one node, honoring its retry policy, and records the
// resulting state update and channel writes.
func (ex *execution) runTask(ctx context.Context, t *task) {
	t.startedAt = time.Now()
	ex.emit(ctx, NewNodeStartEvent(
		WithNodeEventInvocationID(ex.invocationID),
		WithNodeEventNodeID(t.nodeID),
		WithNodeEventNodeType(t.node.Type),
		WithNodeEventStepNumber(ex.step),
		WithNodeEventStartTime(t.startedAt),
	))

	nodeCtx := ctx
	if ex.executor.nodeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, ex.executor.nodeTimeout)
		defer cancel()
	}
	nodeCtx, span := telemetry.StartSpan(nodeCtx, "graph.node",
		attribute.String("node.id", t.nodeID),
		attribute.String("node.type", t.node.Type.String()),
		attribute.Int("graph.step", ex.step))
	defer span.End()

	taskState := ex.taskState(t)
	result, err := ex.invokeWithRetry(nodeCtx, t, taskState)
	t.endedAt = time.Now()
	if err != nil {
		if ie, ok := AsInterruptError(err); ok {
			if ie.NodeID == "" {
				ie.NodeID = t.nodeID
			}
			if ie.TaskID == "" {
				ie.TaskID = t.id
			}
			ie.Step = ex.step
			t.interrupt = ie
			return
		}
		span.RecordError(err)
		t.err = &NodeExecutionError{NodeID: t.nodeID, Step: ex.step, Err: err}
		ex.emit(ctx, NewNodeErrorEvent(
			WithNodeEventInvocationID(ex.invocationID),
			WithNodeEventNodeID(t.nodeID),
			WithNodeEventNodeType(t.node.Type),
			WithNodeEventStepNumber(ex.step),
			WithNodeEventStartTime(t.startedAt),
			WithNodeEventEndTime(t.endedAt),
			WithNodeEventError(err.Error()),
		))
		return
	}

	update, writes, err := ex.processResult(nodeCtx, t, taskState, result)
	if err != nil {
		span.RecordError(err)
		t.err = &NodeExecutionError{NodeID: t.nodeID, Step: ex.step, Err: err}
		ex.emit(ctx, NewNodeErrorEvent(
			WithNodeEventInvocationID(ex.invocationID),
			WithNodeEventNodeID(t.nodeID),
			WithNodeEventNodeType(t.node.Type),
			WithNodeEventStepNumber(ex.step),
			WithNodeEventStartTime(t.startedAt),
			WithNodeEventEndTime(t.endedAt),
			WithNodeEventError(err.Error()),
		))
		return
	}
	t.update = update
	t.writes = writes
	ex.emit(ctx, NewNodeCompleteEvent(
		WithNodeEventInvocationID(ex.invocationID),
		WithNodeEventNodeID(t.nodeID),
		WithNodeEventNodeType(t.node.Type),
		WithNodeEventStepNumber(ex.step),
		WithNodeEventStartTime(t.startedAt),
		WithNodeEventEndTime(t.endedAt),
		WithNodeEventOutputKeys(stateKeysOf(update)),
	))
}

// invokeWithRetry runs the node function, retrying per its policy.
// Interrupts and context cancellation are never retried.
func (ex *execution) invokeWithRetry(ctx context.Context, t *task, taskState State) (any, error) {
	policy := t.node.Retry
	attempt := 1
	for {
		result, err := t.node.Function(ctx, taskState)
		if err == nil || IsInterruptError(err) || ctx.Err() != nil {
			return result, err
		}
		if policy == nil || attempt >= policy.MaxAttempts {
			return nil, err
		}
		delay := policy.delay(attempt)
		ex.emit(ctx, NewNodeErrorEvent(
			WithNodeEventInvocationID(ex.invocationID),
			WithNodeEventNodeID(t.nodeID),
			WithNodeEventNodeType(t.node.Type),
			WithNodeEventStepNumber(ex.step),
			WithNodeEventError(err.Error()),
			WithNodeEventAttempt(attempt),
			WithNodeEventMaxAttempts(policy.MaxAttempts),
			WithNodeEventNextDelay(delay),
			WithNodeEventRetrying(true),
		))
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		attempt++
	}
}

// taskState builds the isolated state a task executes against.
func (ex *execution) taskState(t *task) State {
	st := ex.state.Clone()
	if len(t.overlay) > 0 {
		st = ex.schema.ApplyUpdate(st, rehydrateState(ex.schema, t.overlay))
	}
	st[StateKeyExecContext] = ex.execCtx
	st[StateKeyCurrentNodeID] = t.nodeID
	st[StateKeyCurrentTaskID] = t.id
	return st
}

// processResult turns a node result into a state update and the channel
// writes that route execution onward.
func (ex *execution) processResult(ctx context.Context, t *task, taskState State, result any) (State, []channelWrite, error) {
	var update State
	var gotos []Send
	switch r := result.(type) {
	case nil:
	case State:
		update = r
	case map[string]any:
		update = State(r)
	case *Command:
		if r != nil {
			update = r.Update
			gotos = r.GoTo
		}
	case Command:
		update = r.Update
		gotos = r.GoTo
	default:
		return nil, nil, fmt.Errorf("node %q returned unsupported result type %T", t.nodeID, result)
	}
	for key := range update {
		if isInternalStateKey(key) || ex.schema.HasField(key) {
			continue
		}
		return nil, nil, fmt.Errorf("node %q wrote %q: %w", t.nodeID, key, ErrUnknownStateKey)
	}

	var writes []channelWrite
	if len(gotos) > 0 {
		// Explicit routing replaces the node's declared edges.
		for _, s := range gotos {
			if s.Node == End {
				writes = append(writes, channelWrite{channel: TriggerChannel(End)})
				continue
			}
			if _, ok := ex.graph.Node(s.Node); !ok {
				return nil, nil, fmt.Errorf("node %q routed to unknown node %q", t.nodeID, s.Node)
			}
			writes = append(writes, channelWrite{channel: ChannelTasks, value: s})
		}
		return update, writes, nil
	}

	for _, j := range ex.graph.Joins() {
		for _, src := range j.Sources {
			if src == t.nodeID {
				writes = append(writes, channelWrite{channel: JoinChannel(j.To), value: t.nodeID})
			}
		}
	}
	for _, to := range ex.graph.EdgesFrom(t.nodeID) {
		writes = append(writes, channelWrite{channel: TriggerChannel(to)})
	}

	branches := ex.graph.BranchesFrom(t.nodeID)
	if len(branches) > 0 {
		branchState := taskState
		if update != nil {
			branchState = ex.schema.ApplyUpdate(taskState, update)
		}
		for _, b := range branches {
			bw, err := ex.evaluateBranch(ctx, t, b, branchState)
			if err != nil {
				return nil, nil, err
			}
			writes = append(writes, bw...)
		}
	}
	return update, writes, nil
}

// evaluateBranch runs a conditional edge and maps its result to writes.
func (ex *execution) evaluateBranch(ctx context.Context, t *task, b *Branch, branchState State) ([]channelWrite, error) {
	result, err := b.Path(ctx, branchState)
	if err != nil {
		return nil, fmt.Errorf("conditional edge from %q failed: %w", t.nodeID, err)
	}
	var writes []channelWrite
	appendTarget := func(target string) error {
		resolved, err := ex.resolveBranchTarget(t.nodeID, b, target)
		if err != nil {
			return err
		}
		if resolved == End {
			writes = append(writes, channelWrite{channel: TriggerChannel(End)})
			return nil
		}
		writes = append(writes, channelWrite{channel: BranchChannel(resolved)})
		return nil
	}
	appendSend := func(s Send) error {
		if _, ok := ex.graph.Node(s.Node); !ok {
			return fmt.Errorf("conditional edge from %q sent to unknown node %q", t.nodeID, s.Node)
		}
		writes = append(writes, channelWrite{channel: ChannelTasks, value: s})
		return nil
	}
	switch r := result.(type) {
	case string:
		if err := appendTarget(r); err != nil {
			return nil, err
		}
	case []string:
		for _, target := range r {
			if err := appendTarget(target); err != nil {
				return nil, err
			}
		}
	case Send:
		if err := appendSend(r); err != nil {
			return nil, err
		}
	case *Send:
		if r != nil {
			if err := appendSend(*r); err != nil {
				return nil, err
			}
		}
	case []Send:
		for _, s := range r {
			if err := appendSend(s); err != nil {
				return nil, err
			}
		}
	case nil:
	default:
		return nil, fmt.Errorf("conditional edge from %q returned unsupported type %T", t.nodeID, result)
	}
	return writes, nil
}

// resolveBranchTarget maps a branch result through the path map.
func (ex *execution) resolveBranchTarget(source string, b *Branch, result string) (string, error) {
	if len(b.PathMap) > 0 {
		target, ok := b.PathMap[result]
		if !ok {
			return "", fmt.Errorf("conditional edge from %q returned %q, not in path map", source, result)
		}
		return target, nil
	}
	if result == End {
		return End, nil
	}
	if _, ok := ex.graph.Node(result); !ok {
		return "", fmt.Errorf("conditional edge from %q targets unknown node %q", source, result)
	}
	return result, nil
}

// applyUpdates folds successful task results into the global state and
// channels, in task order for determinism, and returns the step's writes
// for checkpointing.
func (ex *execution) applyUpdates(ctx context.Context, tasks []*task) []PendingWrite {
	var pending []PendingWrite
	var updatedKeys []string
	for _, t := range tasks {
		if t.err != nil || t.interrupt != nil {
			continue
		}
		if len(t.update) > 0 {
			ex.state = ex.schema.ApplyUpdate(ex.state, stripRuntimeKeys(t.update))
			updatedKeys = append(updatedKeys, stateKeysOf(t.update)...)
		}
		for _, w := range t.writes {
			pending = append(pending, ex.writeChannel(ctx, t.id, w))
		}
		for name, ver := range t.triggers {
			seen, ok := ex.versionsSeen[t.nodeID]
			if !ok {
				seen = make(map[string]int64)
				ex.versionsSeen[t.nodeID] = seen
			}
			seen[name] = ver
		}
	}
	ex.releaseCompleteBarriers(ctx)
	if ex.verbose && len(updatedKeys) > 0 {
		ex.emit(ctx, NewStateUpdateEvent(
			WithStateEventInvocationID(ex.invocationID),
			WithStateEventUpdatedKeys(updatedKeys),
			WithStateEventStateSize(len(ex.state)),
		))
	}
	return pending
}

func (ex *execution) writeChannel(ctx context.Context, taskID string, w channelWrite) PendingWrite {
	behavior, ok := ex.graph.ChannelBehaviors()[w.channel]
	if !ok {
		behavior = channel.BehaviorLastValue
	}
	ch := ex.channels.Add(w.channel, behavior)
	ch.Update([]any{w.value}, ex.step)
	if ex.verbose {
		ex.emit(ctx, NewChannelUpdateEvent(
			WithChannelEventInvocationID(ex.invocationID),
			WithChannelEventChannelName(w.channel),
			WithChannelEventChannelType(behavior),
			WithChannelEventValueCount(ch.ValueCount()),
			WithChannelEventAvailable(ch.IsAvailable()),
			WithChannelEventTriggeredNodes(ex.graph.TriggeredNodes(w.channel)),
		))
	}
	ex.writeSeq++
	return PendingWrite{
		TaskID:   taskID,
		Channel:  w.channel,
		Value:    w.value,
		Sequence: ex.writeSeq,
	}
}

// releaseCompleteBarriers opens every join barrier whose member set is
// complete so the join node triggers on the next planning round.
func (ex *execution) releaseCompleteBarriers(ctx context.Context) {
	for name, expected := range ex.graph.joinExpected {
		ch, ok := ex.channels.Get(name)
		if !ok || ch.IsAvailable() {
			continue
		}
		if len(ch.Members()) == 0 {
			continue
		}
		if ch.IsComplete(expected) {
			ch.Release(ex.step)
		}
	}
}

// firstInterrupt returns the first interrupted task's error in task
// order, nil when the step ran to completion.
func firstInterrupt(tasks []*task) *InterruptError {
	for _, t := range tasks {
		if t.interrupt != nil {
			return t.interrupt
		}
	}
	return nil
}

// handleInterrupt persists an interrupt checkpoint carrying the pending
// frontier, emits the interrupt events and ends the run.
func (ex *execution) handleInterrupt(ctx context.Context, ie *InterruptError, tasks []*task, writes []PendingWrite) {
	var nextNodes []string
	seen := make(map[string]struct{})
	for _, t := range tasks {
		if t.interrupt == nil {
			continue
		}
		if t.isSend {
			// Preserve the task's payload so resume replans it with its
			// own overlay.
			writes = append(writes, ex.writeChannel(ctx, t.id, channelWrite{channel: ChannelTasks, value: t.send}))
			continue
		}
		if _, dup := seen[t.nodeID]; !dup {
			seen[t.nodeID] = struct{}{}
			nextNodes = append(nextNodes, t.nodeID)
		}
	}
	interruptState := &InterruptState{
		NodeID:    ie.NodeID,
		TaskID:    ie.TaskID,
		Key:       ie.Key,
		Value:     ie.Value,
		Path:      ie.Path,
		Step:      ex.step,
		Timestamp: ie.Timestamp,
	}
	checkpointID, err := ex.saveCheckpoint(ctx, CheckpointSourceInterrupt, nextNodes, interruptState, writes)
	if err != nil {
		// An interrupt without its checkpoint cannot be resumed; surface
		// the failure instead of a dangling interrupt.
		ex.emitStepError(ctx, err)
		return
	}
	ex.emit(ctx, newCheckpointInterruptEvent(ex.invocationID, checkpointID, interruptState))
	ex.emit(ctx, NewPregelInterruptEvent(
		WithPregelEventInvocationID(ex.invocationID),
		WithPregelEventStepNumber(ex.step),
		WithPregelEventPhase(PregelPhaseComplete),
		WithPregelEventNodeID(ie.NodeID),
		WithPregelEventInterruptValue(ie.Value),
	))
}

// complete emits the final completion event carrying the finished state.
func (ex *execution) complete(ctx context.Context, totalSteps int) {
	ex.emit(ctx, NewGraphCompletionEvent(
		WithCompletionEventInvocationID(ex.invocationID),
		WithCompletionEventFinalState(ex.state),
		WithCompletionEventTotalSteps(totalSteps),
		WithCompletionEventTotalDuration(time.Since(ex.startTime)),
	))
}

func (ex *execution) emitPlanning(ctx context.Context, tasks []*task) {
	nodes := make([]string, 0, len(tasks))
	for _, t := range tasks {
		nodes = append(nodes, t.nodeID)
	}
	now := time.Now()
	ex.emit(ctx, NewPregelStepEvent(
		WithPregelEventInvocationID(ex.invocationID),
		WithPregelEventStepNumber(ex.step),
		WithPregelEventPhase(PregelPhasePlanning),
		WithPregelEventTaskCount(len(tasks)),
		WithPregelEventActiveNodes(nodes),
		WithPregelEventStartTime(now),
		WithPregelEventEndTime(now),
	))
}

func (ex *execution) emitStepError(ctx context.Context, err error) {
	now := time.Now()
	ex.emit(ctx, NewPregelErrorEvent(
		WithPregelEventInvocationID(ex.invocationID),
		WithPregelEventStepNumber(ex.step),
		WithPregelEventPhase(PregelPhaseError),
		WithPregelEventStartTime(now),
		WithPregelEventEndTime(now),
		WithPregelEventError(err.Error()),
	))
	ex.emitRunError(ctx, err)
}

func (ex *execution) emitRunError(ctx context.Context, err error) {
	errorType := ErrorTypeGraphExecution
	if IsRecursionLimitError(err) {
		errorType = ErrorTypeRecursionLimit
	}
	ex.emit(ctx, event.NewErrorEvent(ex.invocationID, AuthorGraphExecutor, errorType, err.Error()))
}

func (ex *execution) emit(ctx context.Context, e *event.Event) {
	if e == nil {
		return
	}
	if e.Branch == "" && ex.branch != "" {
		e.Branch = ex.branch
	}
	if err := event.EmitEvent(ctx, ex.eventChan, e); err != nil {
		log.Debugf("graph executor: dropping event %s: %v", e.ID, err)
	}
}

func emitError(ctx context.Context, ch chan *event.Event, invocationID string, err error) {
	evt := event.NewErrorEvent(invocationID, AuthorGraphExecutor, ErrorTypeGraphExecution, err.Error())
	_ = event.EmitEvent(ctx, ch, evt)
}

// stripRuntimeKeys removes per-task runtime keys a node may echo back so
// they never leak into the global state.
func stripRuntimeKeys(update State) State {
	if update == nil {
		return nil
	}
	_, a := update[StateKeyExecContext]
	_, b := update[StateKeyCurrentNodeID]
	_, c := update[StateKeyCurrentTaskID]
	if !a && !b && !c {
		return update
	}
	out := make(State, len(update))
	for k, v := range update {
		switch k {
		case StateKeyExecContext, StateKeyCurrentNodeID, StateKeyCurrentTaskID:
			continue
		}
		out[k] = v
	}
	return out
}

func stateKeysOf(s State) []string {
	if len(s) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// decodeSend rebuilds a Send from a live value or its JSON map form
// restored from a checkpoint.
func decodeSend(v any) (Send, bool) {
	switch s := v.(type) {
	case Send:
		return s, true
	case *Send:
		if s != nil {
			return *s, true
		}
	case map[string]any:
		node, _ := s["node"].(string)
		if node == "" {
			return Send{}, false
		}
		out := Send{Node: node}
		if st, ok := s["state"].(map[string]any); ok {
			out.State = State(st)
		}
		if tid, ok := s["task_id"].(string); ok {
			out.TaskID = tid
		}
		return out, true
	}
	return Send{}, false
}
