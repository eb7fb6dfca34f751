package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opendeepresearch/taskstream/internal/eventlog"
	"github.com/opendeepresearch/taskstream/internal/taskstore"
)

// RedisHealthChecker checks Redis connectivity for the Event Log's
// backing store.
type RedisHealthChecker struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker. Pass a nil
// client when the service is running on the in-memory fallback log;
// the checker then reports healthy without touching the network.
func NewRedisHealthChecker(client *redis.Client) *RedisHealthChecker {
	return &RedisHealthChecker{client: client, timeout: 5 * time.Second}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return r.client != nil }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "redis", Critical: r.client != nil, Timestamp: start}

	if r.client == nil {
		result.Status = StatusHealthy
		result.Message = "no redis configured, using in-memory event log"
		result.Duration = time.Since(start)
		return result
	}

	err := r.client.Ping(ctx).Err()
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "redis ping failed"
		return result
	}
	if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "redis responding with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "redis healthy"
	}
	result.Details = map[string]interface{}{"latency_ms": result.Duration.Milliseconds()}
	return result
}

// EventLogHealthChecker verifies the Event Log accepts an append on a
// disposable stream key; it does not read the probe back.
type EventLogHealthChecker struct {
	log     eventlog.Log
	timeout time.Duration
}

// NewEventLogHealthChecker creates an Event Log health checker.
func NewEventLogHealthChecker(log eventlog.Log) *EventLogHealthChecker {
	return &EventLogHealthChecker{log: log, timeout: 5 * time.Second}
}

func (e *EventLogHealthChecker) Name() string           { return "eventlog" }
func (e *EventLogHealthChecker) IsCritical() bool       { return true }
func (e *EventLogHealthChecker) Timeout() time.Duration { return e.timeout }

func (e *EventLogHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "eventlog", Critical: true, Timestamp: start}

	key := "healthcheck:probe"
	id, err := e.log.Append(ctx, key, eventlog.Record{Kind: "healthcheck", Data: []byte(`{}`)})
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "event log append failed"
		result.Duration = time.Since(start)
		return result
	}
	result.Duration = time.Since(start)
	result.Status = StatusHealthy
	result.Message = "event log healthy"
	result.Details = map[string]interface{}{"probe_id": id}
	return result
}

// TaskStoreHealthChecker verifies the Task Registry can be read from.
type TaskStoreHealthChecker struct {
	store   taskstore.Store
	timeout time.Duration
}

// NewTaskStoreHealthChecker creates a Task Registry health checker.
func NewTaskStoreHealthChecker(store taskstore.Store) *TaskStoreHealthChecker {
	return &TaskStoreHealthChecker{store: store, timeout: 5 * time.Second}
}

func (s *TaskStoreHealthChecker) Name() string           { return "taskstore" }
func (s *TaskStoreHealthChecker) IsCritical() bool       { return true }
func (s *TaskStoreHealthChecker) Timeout() time.Duration { return s.timeout }

func (s *TaskStoreHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "taskstore", Critical: true, Timestamp: start}

	if _, err := s.store.List(ctx, taskstore.Filter{Limit: 1}); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "task registry list failed"
		result.Duration = time.Since(start)
		return result
	}
	result.Duration = time.Since(start)
	result.Status = StatusHealthy
	result.Message = "task registry healthy"
	return result
}
