package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore backs Store with Redis: one string key per task holding
// its JSON-encoded Info, a per-thread sorted set indexing task-ids by
// creation time, and a global sorted set for thread-less listing.
// Grounded on the teacher's Redis-as-source-of-truth session store
// (internal/session/manager.go, cmd/gateway/internal/handlers/session.go).
type RedisStore struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisStore constructs a Redis-backed Task Registry.
func NewRedisStore(rdb *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, logger: logger}
}

func taskKey(id string) string         { return "task:" + id }
func threadIndexKey(tid string) string { return "thread:" + tid + ":tasks" }
const globalIndexKey = "tasks:index"

func (s *RedisStore) Create(ctx context.Context, info Info) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	score := float64(info.CreatedAt.UnixNano())
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, taskKey(info.TaskID), b, 0)
	pipe.ZAdd(ctx, threadIndexKey(info.ThreadID), redis.Z{Score: score, Member: info.TaskID})
	pipe.ZAdd(ctx, globalIndexKey, redis.Z{Score: score, Member: info.TaskID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("taskstore(redis): create %s: %w", info.TaskID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, taskID string) (Info, error) {
	b, err := s.rdb.Get(ctx, taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, fmt.Errorf("taskstore(redis): get %s: %w", taskID, err)
	}
	var info Info
	if err := json.Unmarshal(b, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

func (s *RedisStore) Update(ctx context.Context, taskID string, fields Fields) (Info, error) {
	info, err := s.Get(ctx, taskID)
	if err != nil {
		return Info{}, err
	}
	if err := applyFields(&info, fields); err != nil {
		return Info{}, err
	}
	b, err := json.Marshal(info)
	if err != nil {
		return Info{}, err
	}
	if err := s.rdb.Set(ctx, taskKey(taskID), b, 0).Err(); err != nil {
		return Info{}, fmt.Errorf("taskstore(redis): update %s: %w", taskID, err)
	}
	if info.Status.Terminal() {
		s.rdb.Expire(ctx, taskKey(taskID), TTL)
	}
	return info, nil
}

func (s *RedisStore) Delete(ctx context.Context, taskID string) error {
	info, err := s.Get(ctx, taskID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, taskKey(taskID))
	if err == nil {
		pipe.ZRem(ctx, threadIndexKey(info.ThreadID), taskID)
	}
	pipe.ZRem(ctx, globalIndexKey, taskID)
	_, execErr := pipe.Exec(ctx)
	return execErr
}

func (s *RedisStore) List(ctx context.Context, filter Filter) ([]Info, error) {
	indexKey := globalIndexKey
	if filter.ThreadID != "" {
		indexKey = threadIndexKey(filter.ThreadID)
	}
	// Over-fetch since expired/filtered entries are skipped client-side.
	fetch := filter.Limit
	if fetch <= 0 {
		fetch = 100
	}
	ids, err := s.rdb.ZRevRange(ctx, indexKey, 0, int64(fetch*4)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("taskstore(redis): list: %w", err)
	}

	var out []Info
	for _, id := range ids {
		info, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue // expired past its TTL
		}
		if err != nil {
			return nil, err
		}
		if filter.Status != "" && info.Status != filter.Status {
			continue
		}
		out = append(out, info)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) FindLatestByThread(ctx context.Context, threadID string) (Info, error) {
	ids, err := s.rdb.ZRevRange(ctx, threadIndexKey(threadID), 0, -1).Result()
	if err != nil {
		return Info{}, fmt.Errorf("taskstore(redis): find latest %s: %w", threadID, err)
	}
	for _, id := range ids {
		info, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Info{}, err
		}
		if info.Status == StatusCancelled {
			continue
		}
		return info, nil
	}
	return Info{}, ErrNotFound
}
