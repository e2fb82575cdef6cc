//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package runner executes assistant definitions against threads. It owns
// the run lifecycle around the graph executor: thread status transitions,
// per-run timeouts, abort propagation, resume command validation, event
// fan-out and the durable run records.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-xpert-go/agent"
	"trpc.group/trpc-go/trpc-xpert-go/agent/graphagent"
	"trpc.group/trpc-go/trpc-xpert-go/event"
	"trpc.group/trpc-go/trpc-xpert-go/graph"
	"trpc.group/trpc-go/trpc-xpert-go/internal/i18n"
	"trpc.group/trpc-go/trpc-xpert-go/log"
	"trpc.group/trpc-go/trpc-xpert-go/middleware"
	"trpc.group/trpc-go/trpc-xpert-go/model"
	"trpc.group/trpc-go/trpc-xpert-go/store"
	"trpc.group/trpc-go/trpc-xpert-go/telemetry"
	"trpc.group/trpc-go/trpc-xpert-go/thread"
	"trpc.group/trpc-go/trpc-xpert-go/xpert"
)

const defaultEventBuffer = 64

// ErrRunNotFound is returned when the addressed run does not exist.
var ErrRunNotFound = errors.New("run not found")

// RunRequest starts one run.
type RunRequest struct {
	// ThreadID is the conversation to run against.
	ThreadID string
	// XpertID selects the assistant definition, by id or slug.
	XpertID string
	// Input is the chat input; its Command field resumes an interrupt.
	Input *ChatRequest
	// Metadata is attached to the run record.
	Metadata map[string]any
	// Mute drops matching events from the returned stream.
	Mute *event.MutePolicy
}

// Options configure a Runner.
type Options struct {
	threads        thread.Service
	saver          graph.CheckpointSaver
	store          store.Store
	compileOptions []xpert.CompileOption
	defaultTimeout time.Duration
	eventBuffer    int
}

// Option mutates Options.
type Option func(*Options)

// WithThreadService tracks thread status transitions in the given
// service. Without it runs execute against bare thread ids.
func WithThreadService(s thread.Service) Option {
	return func(o *Options) { o.threads = s }
}

// WithCheckpointSaver persists checkpoints with the given saver.
func WithCheckpointSaver(s graph.CheckpointSaver) Option {
	return func(o *Options) { o.saver = s }
}

// WithStore hands the long-term memory store to hooks and tools.
func WithStore(s store.Store) Option {
	return func(o *Options) { o.store = s }
}

// WithCompileOptions appends options applied to every compilation, e.g.
// the chat model, middlewares and the ledger.
func WithCompileOptions(opts ...xpert.CompileOption) Option {
	return func(o *Options) { o.compileOptions = append(o.compileOptions, opts...) }
}

// WithDefaultTimeout bounds runs whose definition sets no timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *Options) { o.defaultTimeout = d }
}

// WithEventBuffer sets the output channel buffer size.
func WithEventBuffer(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.eventBuffer = size
		}
	}
}

// Runner executes assistant definitions.
type Runner struct {
	registry *xpert.Registry
	opts     Options

	mu      sync.RWMutex
	runs    map[string]*Run
	order   []string
	cancels map[string]context.CancelFunc
}

// New creates a runner over the given registry.
func New(registry *xpert.Registry, opts ...Option) *Runner {
	options := Options{eventBuffer: defaultEventBuffer}
	for _, opt := range opts {
		opt(&options)
	}
	return &Runner{
		registry: registry,
		opts:     options,
		runs:     make(map[string]*Run),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Run starts a run and returns its event stream together with the run
// record. The stream closes when the run reaches a terminal status; the
// record is updated in place as the run progresses and can be re-read
// with GetRun.
func (r *Runner) Run(ctx context.Context, req RunRequest) (<-chan *event.Event, *Run, error) {
	if req.ThreadID == "" {
		return nil, nil, agent.NewInputError("thread_id is required")
	}
	if req.Input == nil {
		return nil, nil, agent.NewInputError("input is required")
	}
	x, ok := r.registry.Get(req.XpertID)
	if !ok {
		return nil, nil, agent.NewInputError("assistant %q not found", req.XpertID)
	}
	th, err := r.checkThread(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	compiled, err := r.compile(x)
	if err != nil {
		return nil, nil, err
	}

	run := &Run{
		ID:          uuid.New().String(),
		ThreadID:    req.ThreadID,
		XpertID:     x.ID,
		Predecessor: compiled.EntryAgent.Key,
		Status:      StatusRunning,
		Inputs:      req.Input.Input,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	inv, state, err := r.buildInvocation(ctx, req, run, x)
	if err != nil {
		closeToolsets(compiled)
		return nil, nil, err
	}

	ga, err := r.newAgent(x, compiled)
	if err != nil {
		closeToolsets(compiled)
		return nil, nil, err
	}

	timeout := r.runTimeout(compiled)
	runCtx, cancelRun := context.WithCancel(ctx)
	timeoutCtx, cancel := runCtx, cancelRun
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		timeoutCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		cancel = func() {
			cancelTimeout()
			cancelRun()
		}
	}

	inv.RunOptions.RuntimeState = state
	events, err := ga.Run(timeoutCtx, inv)
	if err != nil {
		cancel()
		closeToolsets(compiled)
		return nil, nil, err
	}

	r.track(run, cancel)
	if th != nil && th.Status == thread.StatusInterrupted && req.Input.IsResume() {
		r.setThreadStatus(ctx, req.ThreadID, thread.StatusOpen)
	}
	log.Infof("run %s started on thread %s (xpert %s)", run.ID, run.ThreadID, run.XpertID)
	telemetry.RecordRunStart(ctx, run.XpertID)

	out := make(chan *event.Event, r.opts.eventBuffer)
	go r.pump(timeoutCtx, pumpArgs{
		run:      run,
		agent:    ga,
		compiled: compiled,
		inv:      inv,
		events:   events,
		out:      out,
		mute:     req.Mute,
		language: req.Input.Language,
		timeout:  timeout,
		cancel:   cancel,
	})
	return out, run.Clone(), nil
}

// Wait runs to completion and returns the final assistant text.
func (r *Runner) Wait(ctx context.Context, req RunRequest) (string, *Run, error) {
	events, run, err := r.Run(ctx, req)
	if err != nil {
		return "", nil, err
	}
	for range events {
	}
	final, err := r.GetRun(run.ID)
	if err != nil {
		return "", nil, err
	}
	if final.Status == StatusError {
		return "", final, fmt.Errorf("run failed: %s", final.Error)
	}
	return final.Outputs, final, nil
}

// Resume continues an interrupted thread. The request must carry a
// resume command.
func (r *Runner) Resume(ctx context.Context, req RunRequest) (<-chan *event.Event, *Run, error) {
	if req.Input == nil || !req.Input.IsResume() {
		return nil, nil, agent.NewInputError("resume requires a command")
	}
	return r.Run(ctx, req)
}

// Abort cancels a running run. The run finishes with status aborted and
// its last checkpoint is kept.
func (r *Runner) Abort(runID string) error {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	r.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}
	cancel()
	return nil
}

// GetRun returns the run record.
func (r *Runner) GetRun(runID string) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

// ListRuns returns the runs of a thread, newest first.
func (r *Runner) ListRuns(threadID string) []*Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var runs []*Run
	for i := len(r.order) - 1; i >= 0; i-- {
		run := r.runs[r.order[i]]
		if run.ThreadID == threadID {
			runs = append(runs, run.Clone())
		}
	}
	return runs
}

func (r *Runner) checkThread(ctx context.Context, req RunRequest) (*thread.Thread, error) {
	if r.opts.threads == nil {
		return nil, nil
	}
	th, err := r.opts.threads.Get(ctx, req.ThreadID)
	if err != nil {
		return nil, err
	}
	switch th.Status {
	case thread.StatusClosed:
		return nil, thread.ErrThreadClosed
	case thread.StatusInterrupted:
		if !req.Input.IsResume() {
			return nil, agent.NewInputError(
				"thread %s is waiting for a resume command", req.ThreadID)
		}
	}
	return th, nil
}

func (r *Runner) compile(x *xpert.Xpert) (*xpert.Compiled, error) {
	opts := []xpert.CompileOption{
		xpert.WithRegistry(r.registry),
	}
	if r.opts.store != nil {
		opts = append(opts, xpert.WithStore(r.opts.store))
	}
	if r.opts.saver != nil {
		opts = append(opts, xpert.WithCheckpointSaver(r.opts.saver))
	}
	opts = append(opts, r.opts.compileOptions...)
	return xpert.Compile(x, "", opts...)
}

func (r *Runner) newAgent(x *xpert.Xpert, compiled *xpert.Compiled) (*graphagent.GraphAgent, error) {
	opts := []graphagent.Option{
		graphagent.WithDescription(x.Description),
	}
	if r.opts.saver != nil {
		opts = append(opts, graphagent.WithCheckpointSaver(r.opts.saver))
	}
	if compiled.RecursionLimit > 0 {
		opts = append(opts, graphagent.WithRecursionLimit(compiled.RecursionLimit))
	}
	name := x.Slug
	if name == "" {
		name = x.ID
	}
	return graphagent.New(name, compiled.Graph, opts...)
}

// buildInvocation assembles the invocation and the initial runtime state.
// A resume request is validated against the thread's pending interrupt
// and converted into an executor command; anything else becomes a fresh
// user turn.
func (r *Runner) buildInvocation(
	ctx context.Context, req RunRequest, run *Run, x *xpert.Xpert,
) (*agent.Invocation, map[string]any, error) {
	inv := agent.NewInvocation()
	rt := &middleware.Runtime{
		ThreadID:     req.ThreadID,
		RunID:        run.ID,
		InvocationID: inv.InvocationID,
		XpertID:      x.ID,
		Language:     req.Input.Language,
		Store:        r.opts.store,
	}
	state := map[string]any{
		graph.CfgKeyThreadID:  req.ThreadID,
		xpert.StateKeyRuntime: rt,
	}
	if len(req.Input.Parameters) > 0 {
		state[xpert.StateKeyParameters] = req.Input.Parameters
	}
	if req.Input.IsResume() {
		interrupt, err := r.pendingInterrupt(ctx, req.ThreadID)
		if err != nil {
			return nil, nil, err
		}
		cmd, err := req.Input.Command.ToGraphCommand(interrupt)
		if err != nil {
			return nil, nil, err
		}
		state[graph.StateKeyCommand] = cmd
		inv.RunOptions.IsResume = true
		return inv, state, nil
	}
	inv.Message = chatMessage(req.Input)
	return inv, state, nil
}

// pendingInterrupt returns the interrupt state of the thread's latest
// checkpoint, nil when the thread is not interrupted.
func (r *Runner) pendingInterrupt(ctx context.Context, threadID string) (*graph.InterruptState, error) {
	if r.opts.saver == nil {
		return nil, nil
	}
	ckpt, err := r.opts.saver.Get(ctx, graph.CreateCheckpointConfig(threadID, "", ""))
	if err != nil {
		return nil, err
	}
	if ckpt == nil {
		return nil, nil
	}
	return ckpt.InterruptState, nil
}

// chatMessage converts the chat input into the triggering user message,
// attaching files as content parts.
func chatMessage(input *ChatRequest) model.Message {
	if len(input.Files) == 0 {
		return model.NewUserMessage(input.Input)
	}
	parts := make([]model.ContentPart, 0, len(input.Files)+1)
	if input.Input != "" {
		parts = append(parts, model.NewTextContentPart(input.Input))
	}
	for _, f := range input.Files {
		switch {
		case f.URL != "":
			parts = append(parts, model.NewImageContentPart(f.URL, ""))
		case f.Data != "":
			parts = append(parts, model.NewFileContentPartWithData(f.Name, f.Data))
		}
	}
	msg := model.NewUserMessageWithContentParts(parts)
	msg.Content = input.Input
	return msg
}

// effectiveRecursionLimit is the step budget the executor actually
// enforced for this definition.
func effectiveRecursionLimit(compiled *xpert.Compiled) int {
	if compiled.RecursionLimit > 0 {
		return compiled.RecursionLimit
	}
	return graph.DefaultRecursionLimit
}

func (r *Runner) runTimeout(compiled *xpert.Compiled) time.Duration {
	if opts := compiled.EntryAgent.Options; opts != nil && opts.Timeout > 0 {
		return opts.Timeout
	}
	return r.opts.defaultTimeout
}

func (r *Runner) track(run *Run, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
	r.order = append(r.order, run.ID)
	r.cancels[run.ID] = cancel
}

type pumpArgs struct {
	run      *Run
	agent    *graphagent.GraphAgent
	compiled *xpert.Compiled
	inv      *agent.Invocation
	events   <-chan *event.Event
	out      chan<- *event.Event
	mute     *event.MutePolicy
	language string
	timeout  time.Duration
	cancel   context.CancelFunc
}

// pump copies executor events to the caller, stamping the run id and
// applying the mute policy, then finalizes the run record. The terminal
// completion event is always delivered, muted or not.
func (r *Runner) pump(ctx context.Context, args pumpArgs) {
	defer close(args.out)
	defer args.cancel()
	defer closeToolsets(args.compiled)
	defer args.agent.Close()

	var (
		interrupted  bool
		recursionHit bool
		runErr       string
		finalText    string
	)
	for e := range args.events {
		if e == nil {
			continue
		}
		e.RunID = args.run.ID
		switch {
		case e.Response != nil && e.Error != nil:
			runErr = e.Error.Message
			if e.Error.Type == graph.ErrorTypeRecursionLimit {
				recursionHit = true
			}
		case e.Response != nil && e.Object == graph.ObjectTypeGraphCheckpointInterrupt:
			interrupted = true
		}
		if text := finalAssistantText(e); text != "" {
			finalText = text
		}
		if args.mute != nil && !args.mute.AllowsEvent(e) {
			continue
		}
		select {
		case args.out <- e:
		case <-ctx.Done():
			// Caller is gone; keep draining so the executor can finish
			// its checkpoint.
		}
	}

	r.finalize(ctx, args, finalizeState{
		interrupted:  interrupted,
		recursionHit: recursionHit,
		runErr:       runErr,
		finalText:    finalText,
	})

	completion := event.New(args.inv.InvocationID, "runner",
		event.WithObject(model.ObjectTypeRunnerCompletion),
		event.WithRunID(args.run.ID))
	completion.Done = true
	select {
	case args.out <- completion:
	default:
	}
}

// finalizeState is what pump observed on the stream, digested for the
// status decision.
type finalizeState struct {
	interrupted  bool
	recursionHit bool
	runErr       string
	finalText    string
}

// finalize settles the run record and the thread status from what the
// event stream showed and how the context ended.
func (r *Runner) finalize(ctx context.Context, args pumpArgs, seen finalizeState) {
	printer := i18n.Printer(args.language)
	runErr := seen.runErr
	status := StatusSuccess
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = StatusError
		runErr = printer.Sprintf(i18n.KeyRunTimeout, args.timeout)
	case ctx.Err() != nil:
		status = StatusAborted
		if runErr == "" {
			runErr = printer.Sprintf(i18n.KeyRunAborted)
		}
	case seen.interrupted:
		status = StatusInterrupted
	case seen.recursionHit:
		status = StatusError
		runErr = printer.Sprintf(i18n.KeyRecursionLimit, effectiveRecursionLimit(args.compiled))
	case runErr != "":
		status = StatusError
	}

	r.mu.Lock()
	args.run.Status = status
	args.run.Error = runErr
	args.run.Outputs = seen.finalText
	args.run.ElapsedMS = time.Since(args.run.CreatedAt).Milliseconds()
	args.run.UpdatedAt = time.Now()
	if ckptID := r.latestCheckpointID(args.run.ThreadID); ckptID != "" {
		args.run.CheckpointID = ckptID
	}
	delete(r.cancels, args.run.ID)
	r.mu.Unlock()

	switch status {
	case StatusInterrupted:
		r.setThreadStatus(context.WithoutCancel(ctx), args.run.ThreadID, thread.StatusInterrupted)
	case StatusSuccess:
		r.setThreadStatus(context.WithoutCancel(ctx), args.run.ThreadID, thread.StatusOpen)
	}
	telemetry.RecordRunEnd(context.WithoutCancel(ctx), args.run.XpertID, string(status))
	log.Infof("run %s finished with status %s in %dms",
		args.run.ID, status, args.run.ElapsedMS)
}

func (r *Runner) latestCheckpointID(threadID string) string {
	if r.opts.saver == nil {
		return ""
	}
	ckpt, err := r.opts.saver.Get(context.Background(),
		graph.CreateCheckpointConfig(threadID, "", ""))
	if err != nil || ckpt == nil {
		return ""
	}
	return ckpt.ID
}

func (r *Runner) setThreadStatus(ctx context.Context, threadID string, status thread.Status) {
	if r.opts.threads == nil {
		return
	}
	if _, err := r.opts.threads.SetStatus(ctx, threadID, status); err != nil {
		log.Warnf("thread %s status transition to %s failed: %v", threadID, status, err)
	}
}

// finalAssistantText returns the assistant text when the event carries a
// complete (non-partial) assistant message.
func finalAssistantText(e *event.Event) string {
	if e.Response == nil || e.IsPartial {
		return ""
	}
	for _, choice := range e.Choices {
		if choice.Message.Role == model.RoleAssistant && choice.Message.Content != "" &&
			len(choice.Message.ToolCalls) == 0 {
			return choice.Message.Content
		}
	}
	return ""
}

func closeToolsets(compiled *xpert.Compiled) {
	for _, ts := range compiled.Toolsets {
		if err := ts.Close(); err != nil {
			log.Warnf("toolset %s close: %v", ts.ID(), err)
		}
	}
}
