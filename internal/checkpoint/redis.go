package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements CheckpointStore against a Redis-compatible
// backend. Every write is a batch of idempotent primitives (SET with
// expiry, ZADD, EXPIRE) executed as one pipeline, so a crash cannot leave
// an index entry without its data past a pipeline boundary. One sorted
// index per thread gives "most recent" and "before X" queries without a
// scan; a second, checkpoint-scoped index orders pending writes.
type RedisStore struct {
	client      *redis.Client
	namespace   string
	ttl         time.Duration
	pipelineMax int
}

// envelope is the stored form of a checkpoint minus its key.
type envelope struct {
	ParentCheckpointID string    `json:"parentCheckpointId,omitempty"`
	Type               string    `json:"type"`
	Payload            []byte    `json:"payload"`
	CreatedAt          time.Time `json:"createdAt"`
}

// NewRedisStore creates a Redis checkpoint store and verifies
// connectivity.
func NewRedisStore(cfg domain.CheckpointConfig) (*RedisStore, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	pipelineMax := cfg.PipelineMax
	if pipelineMax <= 0 {
		pipelineMax = 500
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}

	return &RedisStore{client: client, namespace: namespace, ttl: ttl, pipelineMax: pipelineMax}, nil
}

// Put stores a checkpoint and indexes it under its thread, refreshing the
// thread's index TTL.
func (s *RedisStore) Put(ctx context.Context, ck *domain.Checkpoint) (domain.CheckpointKey, error) {
	k := ck.Key
	if k.Namespace == "" || k.ThreadID == "" || k.CheckpointID == "" {
		return domain.CheckpointKey{}, fmt.Errorf("checkpoint key requires namespace, thread, and checkpoint id")
	}

	env := envelope{
		ParentCheckpointID: ck.ParentCheckpointID,
		Type:               ck.Type,
		Payload:            ck.Payload,
		CreatedAt:          ck.CreatedAt,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return domain.CheckpointKey{}, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	key := snapshotKey(k)
	index := snapshotIndexKey(k.Namespace, k.ThreadID)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.ZAdd(ctx, index, redis.Z{Score: float64(time.Now().UnixNano()), Member: key})
	pipe.Expire(ctx, index, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.CheckpointKey{}, fmt.Errorf("checkpoint pipeline failed: %w", err)
	}

	return k, nil
}

// Get retrieves a checkpoint tuple. An empty CheckpointID resolves the
// most recent checkpoint for the thread's sub-namespace. The snapshot and
// its pending writes are fetched in parallel and joined client-side.
func (s *RedisStore) Get(ctx context.Context, key domain.CheckpointKey) (*domain.CheckpointTuple, error) {
	k := key
	if k.CheckpointID == "" {
		latest, err := s.latestKey(ctx, k)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return nil, nil
		}
		k = *latest
	}

	var (
		wg       sync.WaitGroup
		ck       *domain.Checkpoint
		writes   []domain.PendingWrite
		ckErr    error
		writeErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		ck, ckErr = s.getSnapshot(ctx, k)
	}()
	go func() {
		defer wg.Done()
		writes, writeErr = s.getWrites(ctx, k)
	}()
	wg.Wait()

	if ckErr != nil {
		return nil, ckErr
	}
	if ck == nil {
		return nil, nil
	}
	if writeErr != nil {
		return nil, writeErr
	}

	return &domain.CheckpointTuple{Checkpoint: ck, Writes: writes}, nil
}

// PutWrites attaches pending writes to a checkpoint, batching primitives
// to respect backend command-size limits.
func (s *RedisStore) PutWrites(ctx context.Context, key domain.CheckpointKey, writes []domain.PendingWrite) error {
	if key.CheckpointID == "" {
		return fmt.Errorf("pending writes require a checkpoint id")
	}
	if len(writes) == 0 {
		return nil
	}

	index := writesIndexKey(key.Namespace, key.ThreadID, key.SubNamespace)

	pipe := s.client.TxPipeline()
	ops := 0
	flush := func() error {
		if ops == 0 {
			return nil
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("pending-write pipeline failed: %w", err)
		}
		pipe = s.client.TxPipeline()
		ops = 0
		return nil
	}

	for _, w := range writes {
		data, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("failed to marshal pending write: %w", err)
		}
		wk := writeKey(key, w.TaskID, w.Sequence)
		pipe.Set(ctx, wk, data, s.ttl)
		pipe.ZAdd(ctx, index, redis.Z{Score: float64(w.Sequence), Member: wk})
		ops += 2
		if ops >= s.pipelineMax-1 {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	pipe.Expire(ctx, index, s.ttl)
	ops++
	return flush()
}

// listPageSize bounds one index read, so long-lived threads never pull
// their whole history for a single page.
const listPageSize = 256

// List returns a bounded page of checkpoints for a thread, most recent
// first. before restricts results to checkpoint IDs strictly older than
// the given ID; limit bounds the page size. The index is walked in
// fixed-size chunks until the page fills or the index is exhausted.
func (s *RedisStore) List(ctx context.Context, threadID, subNamespace, before string, limit int) ([]*domain.CheckpointTuple, error) {
	index := snapshotIndexKey(s.namespace, threadID)

	var out []*domain.CheckpointTuple
	for start := int64(0); ; start += listPageSize {
		members, err := s.client.ZRevRange(ctx, index, start, start+listPageSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read checkpoint index: %w", err)
		}
		if len(members) == 0 {
			return out, nil
		}

		for _, member := range members {
			k, err := parseSnapshotKey(member)
			if err != nil {
				continue
			}
			if subNamespace != "" && k.SubNamespace != subNamespace {
				continue
			}
			if before != "" && k.CheckpointID >= before {
				continue
			}

			tuple, err := s.Get(ctx, k)
			if err != nil {
				return nil, err
			}
			if tuple == nil {
				continue
			}
			out = append(out, tuple)

			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}

		if len(members) < listPageSize {
			return out, nil
		}
	}
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) getSnapshot(ctx context.Context, k domain.CheckpointKey) (*domain.Checkpoint, error) {
	data, err := s.client.Get(ctx, snapshotKey(k)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return &domain.Checkpoint{
		Key:                k,
		ParentCheckpointID: env.ParentCheckpointID,
		Type:               env.Type,
		Payload:            env.Payload,
		CreatedAt:          env.CreatedAt,
	}, nil
}

func (s *RedisStore) getWrites(ctx context.Context, k domain.CheckpointKey) ([]domain.PendingWrite, error) {
	index := writesIndexKey(k.Namespace, k.ThreadID, k.SubNamespace)
	members, err := s.client.ZRange(ctx, index, 0, -1).Result()
	if err == redis.Nil || len(members) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending-write index: %w", err)
	}

	var keys []string
	for _, member := range members {
		wk, _, _, err := parseWriteKey(member)
		if err != nil {
			continue
		}
		if wk.CheckpointID == k.CheckpointID {
			keys = append(keys, member)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read pending writes: %w", err)
	}

	var writes []domain.PendingWrite
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var w domain.PendingWrite
		if err := json.Unmarshal([]byte(str), &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		writes = append(writes, w)
	}

	// Deterministic fold order: (task_id, sequence_index).
	sort.Slice(writes, func(i, j int) bool {
		if writes[i].TaskID != writes[j].TaskID {
			return writes[i].TaskID < writes[j].TaskID
		}
		return writes[i].Sequence < writes[j].Sequence
	})
	return writes, nil
}

func (s *RedisStore) latestKey(ctx context.Context, k domain.CheckpointKey) (*domain.CheckpointKey, error) {
	members, err := s.client.ZRevRange(ctx, snapshotIndexKey(k.Namespace, k.ThreadID), 0, -1).Result()
	if err == redis.Nil || len(members) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %w", err)
	}

	for _, member := range members {
		parsed, err := parseSnapshotKey(member)
		if err != nil {
			continue
		}
		if k.SubNamespace != "" && parsed.SubNamespace != k.SubNamespace {
			continue
		}
		return &parsed, nil
	}
	return nil, nil
}
