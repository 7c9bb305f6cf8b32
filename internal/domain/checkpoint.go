package domain

import (
	"context"
	"time"
)

// CheckpointKey addresses one durable snapshot.
// CheckpointIDs sort lexicographically in chronological order.
type CheckpointKey struct {
	Namespace    string `json:"namespace"`
	ThreadID     string `json:"threadId"`
	SubNamespace string `json:"subNamespace"`
	CheckpointID string `json:"checkpointId"`
}

// Checkpoint is an immutable snapshot of investigation state at one
// orchestrator step. Payload carries the serialized state and Type tags
// the serialization format so readers can reject formats they do not know.
type Checkpoint struct {
	Key                CheckpointKey `json:"key"`
	ParentCheckpointID string        `json:"parentCheckpointId,omitempty"`
	Type               string        `json:"type"`
	Payload            []byte        `json:"payload"`
	CreatedAt          time.Time     `json:"createdAt"`
}

// PendingWrite is a recorded side effect associated with a checkpoint but
// not yet folded into a snapshot. Writes are ordered by (TaskID, Sequence).
type PendingWrite struct {
	TaskID   string `json:"taskId"`
	Channel  string `json:"channel"`
	Type     string `json:"type"`
	Value    []byte `json:"value"`
	Sequence int    `json:"sequence"`
}

// CheckpointTuple joins a checkpoint with its pending writes.
type CheckpointTuple struct {
	Checkpoint *Checkpoint    `json:"checkpoint"`
	Writes     []PendingWrite `json:"writes,omitempty"`
}

// CheckpointStore persists versioned investigation snapshots.
// Implementations must keep every write append-only and atomic at the
// pipeline boundary so an index entry never outlives its data.
type CheckpointStore interface {
	// Put stores a checkpoint and indexes it under its thread.
	Put(ctx context.Context, ck *Checkpoint) (CheckpointKey, error)

	// Get retrieves a checkpoint tuple. An empty CheckpointID selects the
	// most recent checkpoint for the thread. Returns nil, nil when no
	// checkpoint exists.
	Get(ctx context.Context, key CheckpointKey) (*CheckpointTuple, error)

	// PutWrites attaches pending writes to an existing checkpoint.
	PutWrites(ctx context.Context, key CheckpointKey, writes []PendingWrite) error

	// List returns checkpoints for a thread, most recent first. before
	// restricts results to checkpoint IDs strictly older than the given ID
	// ("" means no bound); limit bounds the page size (<=0 means no limit).
	List(ctx context.Context, threadID, subNamespace, before string, limit int) ([]*CheckpointTuple, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CheckpointConfig holds configuration for checkpoint store initialization.
type CheckpointConfig struct {
	// Type is the store type: "memory" or "redis"
	Type string

	// Namespace isolates this deployment's keys.
	Namespace string

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL applied to every snapshot, index, and pending-write key.
	TTL time.Duration

	// PipelineMax caps primitive operations per pipeline exec.
	PipelineMax int

	// FallbackMemory degrades to a process-local store when Redis is
	// unreachable at startup instead of failing. Non-durable; surfaced
	// with a warning, intended for non-production use.
	FallbackMemory bool
}
