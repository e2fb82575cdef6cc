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
	"time"

	"github.com/google/uuid"
)

// DefaultMaxCheckpointsPerThread bounds how much history savers keep per
// thread before pruning the oldest checkpoints.
const DefaultMaxCheckpointsPerThread = 100

// Checkpoint is a durable snapshot of graph execution: channel values,
// version vectors and pending frontier, enough to resume or replay a run.
type Checkpoint struct {
	// ID is the unique identifier of this checkpoint.
	ID string `json:"id"`
	// Timestamp records when the checkpoint was taken.
	Timestamp time.Time `json:"ts"`
	// ChannelValues holds the value of every available channel.
	ChannelValues map[string]any `json:"channel_values"`
	// ChannelVersions holds the monotonically increasing version of every
	// channel that has ever been updated.
	ChannelVersions map[string]int64 `json:"channel_versions"`
	// VersionsSeen records, per node, the channel versions the node has
	// already been triggered for. Planning compares it against
	// ChannelVersions to find new work.
	VersionsSeen map[string]map[string]int64 `json:"versions_seen"`
	// NextNodes lists the nodes scheduled to run next. Non-empty on
	// interrupt checkpoints.
	NextNodes []string `json:"next_nodes,omitempty"`
	// BarrierSets preserves partially filled join barriers.
	BarrierSets map[string][]string `json:"barrier_sets,omitempty"`
	// InterruptState carries interrupt details when execution paused.
	InterruptState *InterruptState `json:"interrupt_state,omitempty"`
}

// InterruptState records where and why execution paused.
type InterruptState struct {
	// NodeID is the node that raised the interrupt.
	NodeID string `json:"node_id"`
	// TaskID identifies the interrupted task, matching the resume map key
	// when the interrupt came from a tool call.
	TaskID string `json:"task_id,omitempty"`
	// Key is the interrupt key passed to Interrupt.
	Key string `json:"key,omitempty"`
	// Value is the payload surfaced to the client.
	Value any `json:"value,omitempty"`
	// Path is the execution path of the interrupted task.
	Path []string `json:"path,omitempty"`
	// Step is the Pregel step at which the interrupt occurred.
	Step int `json:"step"`
	// Timestamp records when the interrupt occurred.
	Timestamp time.Time `json:"ts"`
}

// NewCheckpoint creates a checkpoint with a fresh ID over the given
// channel state.
func NewCheckpoint(
	values map[string]any,
	versions map[string]int64,
	seen map[string]map[string]int64,
) *Checkpoint {
	if values == nil {
		values = make(map[string]any)
	}
	if versions == nil {
		versions = make(map[string]int64)
	}
	if seen == nil {
		seen = make(map[string]map[string]int64)
	}
	return &Checkpoint{
		ID:              uuid.New().String(),
		Timestamp:       time.Now().UTC(),
		ChannelValues:   values,
		ChannelVersions: versions,
		VersionsSeen:    seen,
	}
}

// Copy returns a deep copy of the checkpoint.
func (c *Checkpoint) Copy() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := &Checkpoint{
		ID:              c.ID,
		Timestamp:       c.Timestamp,
		ChannelValues:   make(map[string]any, len(c.ChannelValues)),
		ChannelVersions: make(map[string]int64, len(c.ChannelVersions)),
		VersionsSeen:    make(map[string]map[string]int64, len(c.VersionsSeen)),
		NextNodes:       append([]string(nil), c.NextNodes...),
	}
	for k, v := range c.ChannelValues {
		cp.ChannelValues[k] = deepCopyAny(v)
	}
	for k, v := range c.ChannelVersions {
		cp.ChannelVersions[k] = v
	}
	for node, seen := range c.VersionsSeen {
		inner := make(map[string]int64, len(seen))
		for ch, ver := range seen {
			inner[ch] = ver
		}
		cp.VersionsSeen[node] = inner
	}
	if c.BarrierSets != nil {
		cp.BarrierSets = make(map[string][]string, len(c.BarrierSets))
		for k, v := range c.BarrierSets {
			cp.BarrierSets[k] = append([]string(nil), v...)
		}
	}
	if c.InterruptState != nil {
		is := *c.InterruptState
		is.Path = append([]string(nil), c.InterruptState.Path...)
		cp.InterruptState = &is
	}
	return cp
}

// IsInterrupted reports whether the checkpoint paused on an interrupt.
func (c *Checkpoint) IsInterrupted() bool {
	return c != nil && c.InterruptState != nil
}

// CheckpointMetadata describes how a checkpoint came to be.
type CheckpointMetadata struct {
	// Source is one of the CheckpointSource* constants.
	Source string `json:"source"`
	// Step is the Pregel step the checkpoint belongs to. -1 is the input
	// checkpoint taken before the first step.
	Step int `json:"step"`
	// Parents maps checkpoint namespaces to parent checkpoint IDs.
	Parents map[string]string `json:"parents,omitempty"`
	// Extra carries user supplied metadata.
	Extra map[string]any `json:"extra,omitempty"`
}

// NewCheckpointMetadata creates metadata for a checkpoint.
func NewCheckpointMetadata(source string, step int) *CheckpointMetadata {
	return &CheckpointMetadata{
		Source:  source,
		Step:    step,
		Parents: make(map[string]string),
	}
}

// CheckpointTuple packages a stored checkpoint with its config, metadata,
// parent linkage and any pending writes recorded after it.
type CheckpointTuple struct {
	Config        map[string]any      `json:"config"`
	Checkpoint    *Checkpoint         `json:"checkpoint"`
	Metadata      *CheckpointMetadata `json:"metadata"`
	ParentConfig  map[string]any      `json:"parent_config,omitempty"`
	PendingWrites []PendingWrite      `json:"pending_writes,omitempty"`
}

// PendingWrite is a channel write produced by a task that completed after
// the last checkpoint. Replayed on resume so finished work is not redone.
type PendingWrite struct {
	// TaskID identifies the task that produced the write.
	TaskID string `json:"task_id"`
	// Channel is the channel written to.
	Channel string `json:"channel"`
	// Value is the written value.
	Value any `json:"value"`
	// Sequence orders writes within a step.
	Sequence int64 `json:"sequence"`
}

// CheckpointFilter narrows List results.
type CheckpointFilter struct {
	// Before only returns checkpoints created before the checkpoint the
	// config points at.
	Before map[string]any
	// Limit caps the number of returned tuples. Zero means no cap.
	Limit int
	// Metadata filters on metadata key/value equality.
	Metadata map[string]any
}

// PutRequest stores a checkpoint.
type PutRequest struct {
	Config      map[string]any
	Checkpoint  *Checkpoint
	Metadata    *CheckpointMetadata
	NewVersions map[string]int64
}

// PutWritesRequest stores intermediate writes against the checkpoint the
// config points at.
type PutWritesRequest struct {
	Config   map[string]any
	Writes   []PendingWrite
	TaskID   string
	TaskPath string
}

// PutFullRequest stores a checkpoint together with its pending writes in
// one atomic operation.
type PutFullRequest struct {
	Config        map[string]any
	Checkpoint    *Checkpoint
	Metadata      *CheckpointMetadata
	NewVersions   map[string]int64
	PendingWrites []PendingWrite
}

// CheckpointSaver persists checkpoints. Implementations must be safe for
// concurrent use.
type CheckpointSaver interface {
	// Get returns the checkpoint the config points at, or the latest of
	// the thread when no checkpoint ID is set. Nil when none exists.
	Get(ctx context.Context, config map[string]any) (*Checkpoint, error)
	// GetTuple returns the full tuple for the config. Nil when none
	// exists.
	GetTuple(ctx context.Context, config map[string]any) (*CheckpointTuple, error)
	// List returns tuples of the thread namespace, newest first.
	List(ctx context.Context, config map[string]any, filter *CheckpointFilter) ([]*CheckpointTuple, error)
	// Put stores a checkpoint and returns the config updated with its ID.
	Put(ctx context.Context, req PutRequest) (map[string]any, error)
	// PutWrites stores intermediate writes for an existing checkpoint.
	PutWrites(ctx context.Context, req PutWritesRequest) error
	// PutFull atomically stores a checkpoint with its pending writes.
	PutFull(ctx context.Context, req PutFullRequest) (map[string]any, error)
	// DeleteThread removes every checkpoint of the thread.
	DeleteThread(ctx context.Context, threadID string) error
	// Close releases resources held by the saver.
	Close() error
}

// CreateCheckpointConfig builds the configurable map addressing a
// checkpoint.
func CreateCheckpointConfig(threadID, checkpointID, namespace string) map[string]any {
	configurable := map[string]any{
		CfgKeyThreadID: threadID,
	}
	if checkpointID != "" {
		configurable[CfgKeyCheckpointID] = checkpointID
	}
	if namespace != "" {
		configurable[CfgKeyCheckpointNS] = namespace
	}
	return map[string]any{
		CfgKeyConfigurable: configurable,
	}
}

// WithSubgraphNamespace derives the dotted child namespace used by
// sub-agent checkpoints.
func WithSubgraphNamespace(parentNS, nodeID string) string {
	if parentNS == "" {
		return nodeID
	}
	return parentNS + "." + nodeID
}

// ConfigurableOf returns the configurable section of a config.
func ConfigurableOf(config map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	configurable, _ := config[CfgKeyConfigurable].(map[string]any)
	return configurable
}

func configString(config map[string]any, key string) string {
	configurable := ConfigurableOf(config)
	if configurable == nil {
		return ""
	}
	v, _ := configurable[key].(string)
	return v
}

// GetThreadID extracts the thread ID from a config.
func GetThreadID(config map[string]any) string {
	return configString(config, CfgKeyThreadID)
}

// GetNamespace extracts the checkpoint namespace from a config.
func GetNamespace(config map[string]any) string {
	return configString(config, CfgKeyCheckpointNS)
}

// GetCheckpointID extracts the checkpoint ID from a config.
func GetCheckpointID(config map[string]any) string {
	return configString(config, CfgKeyCheckpointID)
}

// WithCheckpointID returns a copy of the config pointing at the given
// checkpoint.
func WithCheckpointID(config map[string]any, checkpointID string) map[string]any {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}
	configurable := make(map[string]any)
	for k, v := range ConfigurableOf(config) {
		configurable[k] = v
	}
	configurable[CfgKeyCheckpointID] = checkpointID
	out[CfgKeyConfigurable] = configurable
	return out
}

// CheckpointManager layers thread-level conveniences over a saver.
type CheckpointManager struct {
	saver CheckpointSaver
}

// NewCheckpointManager creates a manager over the saver.
func NewCheckpointManager(saver CheckpointSaver) *CheckpointManager {
	return &CheckpointManager{saver: saver}
}

// Saver returns the underlying saver.
func (m *CheckpointManager) Saver() CheckpointSaver {
	return m.saver
}

// Latest returns the newest tuple of the thread namespace, nil when the
// thread has no checkpoints.
func (m *CheckpointManager) Latest(ctx context.Context, threadID, namespace string) (*CheckpointTuple, error) {
	if threadID == "" {
		return nil, ErrThreadIDRequired
	}
	return m.saver.GetTuple(ctx, CreateCheckpointConfig(threadID, "", namespace))
}

// Tuple returns the tuple a specific checkpoint ID points at.
func (m *CheckpointManager) Tuple(ctx context.Context, threadID, namespace, checkpointID string) (*CheckpointTuple, error) {
	if threadID == "" || checkpointID == "" {
		return nil, ErrThreadIDAndCheckpointIDRequired
	}
	return m.saver.GetTuple(ctx, CreateCheckpointConfig(threadID, checkpointID, namespace))
}

// List returns the checkpoint history of the thread namespace, newest
// first.
func (m *CheckpointManager) List(ctx context.Context, threadID, namespace string, filter *CheckpointFilter) ([]*CheckpointTuple, error) {
	if threadID == "" {
		return nil, ErrThreadIDRequired
	}
	return m.saver.List(ctx, CreateCheckpointConfig(threadID, "", namespace), filter)
}

// DeleteThread removes all checkpoints of the thread.
func (m *CheckpointManager) DeleteThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return ErrThreadIDRequired
	}
	return m.saver.DeleteThread(ctx, threadID)
}

// Fork copies the checkpoint the config points at under a new ID, with
// the original as parent, so execution can branch from a past state.
func (m *CheckpointManager) Fork(ctx context.Context, threadID, namespace, checkpointID string) (*CheckpointTuple, error) {
	src, err := m.Tuple(ctx, threadID, namespace, checkpointID)
	if err != nil {
		return nil, err
	}
	if src == nil || src.Checkpoint == nil {
		return nil, ErrCheckpointNotFound
	}
	forked := src.Checkpoint.Copy()
	forked.ID = uuid.New().String()
	forked.Timestamp = time.Now().UTC()
	step := 0
	if src.Metadata != nil {
		step = src.Metadata.Step
	}
	meta := NewCheckpointMetadata(CheckpointSourceFork, step)
	meta.Parents[namespace] = checkpointID
	config := CreateCheckpointConfig(threadID, checkpointID, namespace)
	newConfig, err := m.saver.Put(ctx, PutRequest{
		Config:      config,
		Checkpoint:  forked,
		Metadata:    meta,
		NewVersions: forked.ChannelVersions,
	})
	if err != nil {
		return nil, err
	}
	return &CheckpointTuple{
		Config:       newConfig,
		Checkpoint:   forked,
		Metadata:     meta,
		ParentConfig: config,
	}, nil
}
