// Package checkpoint provides durable, versioned snapshots of
// investigation state: a Redis-backed store for the Pro tier and a
// process-local in-memory store used for Community deployments and as the
// degraded-mode fallback when Redis is unreachable at startup.
package checkpoint

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	// ErrSerialization marks a checkpoint payload that could not be
	// decoded. Callers treat it as "no prior checkpoint found".
	ErrSerialization = errors.New("checkpoint payload not decodable")

	// ErrStoreUnavailable marks a backing store that cannot be reached.
	ErrStoreUnavailable = errors.New("checkpoint store unavailable")
)

// TypeJSON tags the JSON serialization format for checkpoint payloads.
const TypeJSON = "json"

// DefaultNamespace isolates a deployment's keys when none is configured.
const DefaultNamespace = "kestrel"

// New creates a checkpoint store based on configuration. When Redis is
// unreachable at startup and FallbackMemory is set, the store degrades to
// a non-durable in-memory store rather than failing — surfaced at error
// level so a degraded node is never silent.
func New(cfg domain.CheckpointConfig) (domain.CheckpointStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(cfg), nil

	case "redis":
		store, err := NewRedisStore(cfg)
		if err != nil {
			if cfg.FallbackMemory {
				slog.Error("checkpoint store degraded: redis unreachable, falling back to in-memory (non-durable)",
					"addr", cfg.RedisAddr,
					"error", err,
				)
				return NewMemoryStore(cfg), nil
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported checkpoint store type: %s", cfg.Type)
	}
}

// NewID returns a checkpoint ID whose lexicographic order matches
// chronological order: zero-padded nanoseconds plus a random suffix for
// same-nanosecond uniqueness.
func NewID() string {
	var suffix [4]byte
	_, _ = rand.Read(suffix[:])
	return fmt.Sprintf("%020d-%08x", time.Now().UnixNano(), suffix)
}

// MarshalState serializes investigation state into a checkpoint payload.
func MarshalState(s *domain.InvestigationState) ([]byte, string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, "", fmt.Errorf("failed to serialize state: %w", err)
	}
	return data, TypeJSON, nil
}

// UnmarshalState decodes a checkpoint payload back into investigation
// state, rejecting unknown serialization formats.
func UnmarshalState(payload []byte, typeTag string) (*domain.InvestigationState, error) {
	if typeTag != TypeJSON {
		return nil, fmt.Errorf("%w: unknown type tag %q", ErrSerialization, typeTag)
	}
	var s domain.InvestigationState
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return &s, nil
}

// LoadLatest fetches and decodes the most recent state snapshot for a
// thread. A decode failure is logged and reported as ErrSerialization so
// the caller can restart from scratch; a missing checkpoint is nil, nil.
func LoadLatest(ctx context.Context, store domain.CheckpointStore, namespace, threadID, subNamespace string) (*domain.InvestigationState, error) {
	tuple, err := store.Get(ctx, domain.CheckpointKey{
		Namespace:    namespace,
		ThreadID:     threadID,
		SubNamespace: subNamespace,
	})
	if err != nil {
		return nil, err
	}
	if tuple == nil {
		return nil, nil
	}

	s, err := UnmarshalState(tuple.Checkpoint.Payload, tuple.Checkpoint.Type)
	if err != nil {
		slog.Warn("discarding undecodable checkpoint",
			"thread_id", threadID,
			"checkpoint_id", tuple.Checkpoint.Key.CheckpointID,
			"error", err,
		)
		return nil, err
	}
	return s, nil
}
