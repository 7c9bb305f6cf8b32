package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MemoryStore is a thread-safe in-memory checkpoint store with TTL
// support. Used as the Community tier store and as the degraded-mode
// fallback when Redis is unreachable. Uses the same key strings as the
// Redis store so key-scheme behavior is identical across backends.
type MemoryStore struct {
	mu        sync.RWMutex
	namespace string
	ttl       time.Duration
	snapshots map[string]*snapshotEntry
	writes    map[string]*writeEntry

	// threadIndex orders snapshot keys per thread, oldest first.
	threadIndex map[string][]string
}

type snapshotEntry struct {
	checkpoint domain.Checkpoint
	expiresAt  time.Time
}

type writeEntry struct {
	write     domain.PendingWrite
	key       domain.CheckpointKey
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory checkpoint store.
func NewMemoryStore(cfg domain.CheckpointConfig) *MemoryStore {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &MemoryStore{
		namespace:   namespace,
		ttl:         ttl,
		snapshots:   make(map[string]*snapshotEntry),
		writes:      make(map[string]*writeEntry),
		threadIndex: make(map[string][]string),
	}
}

// Put stores a checkpoint snapshot.
func (s *MemoryStore) Put(ctx context.Context, ck *domain.Checkpoint) (domain.CheckpointKey, error) {
	k := ck.Key
	if k.Namespace == "" || k.ThreadID == "" || k.CheckpointID == "" {
		return domain.CheckpointKey{}, fmt.Errorf("checkpoint key requires namespace, thread, and checkpoint id")
	}

	key := snapshotKey(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.snapshots[key]; !exists {
		s.threadIndex[k.ThreadID] = append(s.threadIndex[k.ThreadID], key)
	}
	s.snapshots[key] = &snapshotEntry{
		checkpoint: *ck,
		expiresAt:  time.Now().Add(s.ttl),
	}
	return k, nil
}

// Get retrieves a checkpoint tuple. An empty CheckpointID resolves the
// most recent checkpoint for the thread's sub-namespace.
func (s *MemoryStore) Get(ctx context.Context, key domain.CheckpointKey) (*domain.CheckpointTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := key
	if k.CheckpointID == "" {
		latest, ok := s.latestLocked(k)
		if !ok {
			return nil, nil
		}
		k = latest
	}

	entry, ok := s.snapshots[snapshotKey(k)]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, nil
	}

	ck := entry.checkpoint
	return &domain.CheckpointTuple{
		Checkpoint: &ck,
		Writes:     s.writesLocked(k),
	}, nil
}

// PutWrites attaches pending writes to a checkpoint.
func (s *MemoryStore) PutWrites(ctx context.Context, key domain.CheckpointKey, writes []domain.PendingWrite) error {
	if key.CheckpointID == "" {
		return fmt.Errorf("pending writes require a checkpoint id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := time.Now().Add(s.ttl)
	for _, w := range writes {
		s.writes[writeKey(key, w.TaskID, w.Sequence)] = &writeEntry{
			write:     w,
			key:       key,
			expiresAt: expiresAt,
		}
	}
	return nil
}

// List returns a bounded page of checkpoints, most recent first.
func (s *MemoryStore) List(ctx context.Context, threadID, subNamespace, before string, limit int) ([]*domain.CheckpointTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index := s.threadIndex[threadID]
	now := time.Now()

	var out []*domain.CheckpointTuple
	for i := len(index) - 1; i >= 0; i-- {
		entry, ok := s.snapshots[index[i]]
		if !ok || now.After(entry.expiresAt) {
			continue
		}
		k := entry.checkpoint.Key
		if subNamespace != "" && k.SubNamespace != subNamespace {
			continue
		}
		if before != "" && k.CheckpointID >= before {
			continue
		}

		ck := entry.checkpoint
		out = append(out, &domain.CheckpointTuple{
			Checkpoint: &ck,
			Writes:     s.writesLocked(k),
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close releases all stored entries.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = make(map[string]*snapshotEntry)
	s.writes = make(map[string]*writeEntry)
	s.threadIndex = make(map[string][]string)
	return nil
}

// latestLocked finds the newest non-expired checkpoint for a thread's
// sub-namespace. Caller must hold at least a read lock.
func (s *MemoryStore) latestLocked(k domain.CheckpointKey) (domain.CheckpointKey, bool) {
	index := s.threadIndex[k.ThreadID]
	now := time.Now()
	for i := len(index) - 1; i >= 0; i-- {
		entry, ok := s.snapshots[index[i]]
		if !ok || now.After(entry.expiresAt) {
			continue
		}
		candidate := entry.checkpoint.Key
		if k.SubNamespace != "" && candidate.SubNamespace != k.SubNamespace {
			continue
		}
		return candidate, true
	}
	return domain.CheckpointKey{}, false
}

// writesLocked collects the pending writes for one checkpoint in
// deterministic (task_id, sequence_index) order. Caller must hold at
// least a read lock.
func (s *MemoryStore) writesLocked(k domain.CheckpointKey) []domain.PendingWrite {
	now := time.Now()
	var writes []domain.PendingWrite
	for _, entry := range s.writes {
		if now.After(entry.expiresAt) {
			continue
		}
		ek := entry.key
		if ek.ThreadID != k.ThreadID || ek.SubNamespace != k.SubNamespace || ek.CheckpointID != k.CheckpointID {
			continue
		}
		writes = append(writes, entry.write)
	}
	sort.Slice(writes, func(i, j int) bool {
		if writes[i].TaskID != writes[j].TaskID {
			return writes[i].TaskID < writes[j].TaskID
		}
		return writes[i].Sequence < writes[j].Sequence
	})
	return writes
}
