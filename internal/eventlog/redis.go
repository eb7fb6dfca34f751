package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/opendeepresearch/taskstream/internal/events"
	"github.com/opendeepresearch/taskstream/internal/offset"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func secondsToDuration(s int64) time.Duration { return time.Duration(s) * time.Second }
func msToDuration(ms int) time.Duration       { return time.Duration(ms) * time.Millisecond }

// RedisLog backs Log with Redis Streams (XADD/XRANGE/XREAD BLOCK), the
// same primitive the teacher's internal/streaming.Manager uses for
// workflow events. Redis assigns stream-entry IDs in the exact
// "<ms>-<seq>" shape internal/offset already speaks, so no translation
// layer is needed between the two.
type RedisLog struct {
	rdb    *redis.Client
	logger *zap.Logger
	// Retention applied to a stream's Redis key via EXPIRE after every
	// append, so a stream expires this long after its last event
	// (normally the owning task's terminal event; spec §6.4).
	Retention int64 // seconds
}

// NewRedisLog constructs a Redis-backed Log.
func NewRedisLog(rdb *redis.Client, logger *zap.Logger) *RedisLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLog{rdb: rdb, logger: logger, Retention: 7 * 24 * 3600}
}

func wrapRedisErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("eventlog(redis): %s %s: %w: %w", op, key, err, ErrUnavailable)
}

// Append implements Log via XADD.
func (r *RedisLog) Append(ctx context.Context, key string, rec Record) (string, error) {
	values := map[string]interface{}{
		"event_kind": string(rec.Kind),
		"thread_id":  rec.ThreadID,
		"agent":      rec.Agent,
		"role":       rec.Role,
		"data":       string(rec.Data),
	}
	id, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: values,
	}).Result()
	if err != nil {
		return "", wrapRedisErr("XADD", key, err)
	}
	r.rdb.Expire(ctx, key, secondsToDuration(r.Retention))
	return id, nil
}

// Range implements Log via XRANGE, using the exclusive-start syntax
// "(" + fromID when fromID isn't the zero sentinel, which gives the
// half-open (fromID, toID] semantics the contract requires directly
// from Redis without a client-side filter pass.
func (r *RedisLog) Range(ctx context.Context, key, fromID, toID string, limit int) ([]Record, error) {
	start := "-"
	if fromID != "" && fromID != offset.Zero {
		start = "(" + fromID
	}
	stop := "+"
	if toID != "" && toID != offset.Unbounded {
		stop = toID
	}

	var (
		msgs []redis.XMessage
		err  error
	)
	if limit > 0 {
		msgs, err = r.rdb.XRangeN(ctx, key, start, stop, int64(limit)).Result()
	} else {
		msgs, err = r.rdb.XRange(ctx, key, start, stop).Result()
	}
	if err != nil {
		return nil, wrapRedisErr("XRANGE", key, err)
	}
	return messagesToRecords(msgs), nil
}

// Tail implements Log via XREAD BLOCK, reading strictly-after fromID.
func (r *RedisLog) Tail(ctx context.Context, key, fromID string, blockMs int) ([]Record, error) {
	startID := fromID
	if startID == "" {
		startID = offset.Zero
	}
	res, err := r.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{key, startID},
		Count:   100,
		Block:   msToDuration(blockMs),
	}).Result()
	if err == redis.Nil {
		return nil, nil // timeout, nothing new
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, wrapRedisErr("XREAD", key, err)
	}
	var out []Record
	for _, stream := range res {
		out = append(out, messagesToRecords(stream.Messages)...)
	}
	return out, nil
}

// Length implements Log via XLEN.
func (r *RedisLog) Length(ctx context.Context, key string) (int64, error) {
	n, err := r.rdb.XLen(ctx, key).Result()
	if err != nil {
		return 0, wrapRedisErr("XLEN", key, err)
	}
	return n, nil
}

// Keys implements Log via SCAN (never KEYS, to avoid blocking Redis on
// a large keyspace).
func (r *RedisLog) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		var (
			batch []string
			err   error
		)
		batch, cursor, err = r.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, wrapRedisErr("SCAN", pattern, err)
		}
		out = append(out, batch...)
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// Delete implements Log via DEL.
func (r *RedisLog) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return wrapRedisErr("DEL", key, err)
	}
	return nil
}

func messagesToRecords(msgs []redis.XMessage) []Record {
	out := make([]Record, 0, len(msgs))
	for _, msg := range msgs {
		rec := Record{ID: msg.ID}
		if v, ok := msg.Values["event_kind"].(string); ok {
			rec.Kind = events.Kind(v)
		}
		if v, ok := msg.Values["thread_id"].(string); ok {
			rec.ThreadID = v
		}
		if v, ok := msg.Values["agent"].(string); ok {
			rec.Agent = v
		}
		if v, ok := msg.Values["role"].(string); ok {
			rec.Role = v
		}
		if v, ok := msg.Values["data"].(string); ok {
			rec.Data = []byte(v)
		}
		out = append(out, rec)
	}
	return out
}
