// Package taskmanager implements the Task Manager (spec §2 C5): it
// creates tasks, admits them against a concurrency ceiling, and owns
// the lifetime of their Stream Runner handles.
//
// Grounded on the teacher's internal/streaming.Manager for the
// owned-map-of-live-handles shape, and on cmd/gateway's worker-pool
// admission pattern (internal/server) generalized from a fixed worker
// pool to a FIFO pending queue with dynamic admission as slots free.
package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opendeepresearch/taskstream/internal/eventlog"
	"github.com/opendeepresearch/taskstream/internal/metrics"
	"github.com/opendeepresearch/taskstream/internal/runner"
	"github.com/opendeepresearch/taskstream/internal/taskstore"
	"github.com/opendeepresearch/taskstream/internal/workflow"
)

// ErrNotWaiting is returned by SubmitInterruptFeedback when the task
// has no outstanding interrupt (spec §9's NotWaiting error).
var ErrNotWaiting = errors.New("taskmanager: task is not awaiting interrupt feedback")

// EngineFactory constructs the Workflow Engine to drive one task.
// Taking a factory (rather than a single shared Engine) lets each
// task get its own instance, since an Engine may carry per-invocation
// state (the mock's feedback waiter, for instance).
type EngineFactory func(taskID string) workflow.Engine

// Stats mirrors the response of GET /worker/stats (spec §6.1).
type Stats struct {
	ByStatus           map[taskstore.Status]int `json:"by_status"`
	Running            int                      `json:"running"`
	Pending            int                      `json:"pending"`
	ConcurrencyCeiling int                      `json:"concurrency_ceiling"`
	UptimeSeconds      float64                  `json:"uptime_seconds"`
}

type pendingTask struct {
	taskID, threadID string
	cfg              workflow.Config
}

// Manager is the Task Manager. One instance is shared process-wide via
// the service container.
type Manager struct {
	store  taskstore.Store
	log    eventlog.Log
	engine EngineFactory
	logger *zap.Logger

	maxConcurrent int
	startedAt     time.Time

	mu      sync.Mutex
	running map[string]*runner.Handle
	pending []pendingTask
	run     *runner.Runner
}

// New constructs a Manager with the given concurrency ceiling.
func New(store taskstore.Store, log eventlog.Log, engine EngineFactory, maxConcurrent int, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Manager{
		store:         store,
		log:           log,
		engine:        engine,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		startedAt:     time.Now(),
		running:       make(map[string]*runner.Handle),
		run:           runner.New(log, store, logger),
	}
}

// CreateTask allocates a task-id, persists its pending TaskInfo, and
// either starts it immediately or queues it FIFO behind the
// concurrency ceiling. It returns as soon as the TaskInfo is durable.
func (m *Manager) CreateTask(ctx context.Context, threadID, userInput string, cfg workflow.Config, rawConfig map[string]interface{}) (string, error) {
	taskID := uuid.NewString()
	info := taskstore.Info{
		TaskID:    taskID,
		ThreadID:  threadID,
		UserInput: userInput,
		Status:    taskstore.StatusPending,
		CreatedAt: time.Now(),
		Config:    rawConfig,
	}
	if err := m.store.Create(ctx, info); err != nil {
		return "", fmt.Errorf("taskmanager: create task: %w", err)
	}
	metrics.TasksSubmitted.Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.running) < m.maxConcurrent {
		m.startLocked(taskID, threadID, cfg)
	} else {
		m.pending = append(m.pending, pendingTask{taskID: taskID, threadID: threadID, cfg: cfg})
	}
	m.reportGaugesLocked()
	return taskID, nil
}

// reportGaugesLocked refreshes the live running/pending gauges. Caller
// must hold m.mu.
func (m *Manager) reportGaugesLocked() {
	metrics.TasksRunning.Set(float64(len(m.running)))
	metrics.TasksPending.Set(float64(len(m.pending)))
}

// startLocked launches the runner for taskID. Caller must hold m.mu.
func (m *Manager) startLocked(taskID, threadID string, cfg workflow.Config) {
	streamKey := eventlog.StreamKey(threadID, taskID)
	engine := m.engine(taskID)
	h := m.run.Start(context.Background(), taskID, threadID, streamKey, cfg, engine)
	m.running[taskID] = h
	go m.awaitCompletion(taskID, h)
}

// awaitCompletion removes the handle once the runner finishes and
// admits the next pending task, if any.
func (m *Manager) awaitCompletion(taskID string, h *runner.Handle) {
	<-h.Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, taskID)
	m.admitLocked()
	m.reportGaugesLocked()
}

// admitLocked starts pending tasks until the ceiling is reached or the
// queue is empty. Caller must hold m.mu.
func (m *Manager) admitLocked() {
	for len(m.running) < m.maxConcurrent && len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = m.pending[1:]
		m.startLocked(next.taskID, next.threadID, next.cfg)
	}
}

// CancelTask signals the task's runner to stop, or if the task is
// still queued, finalizes it as cancelled directly. Idempotent: a
// terminal task's cancel is a no-op success (spec §8 property 6).
func (m *Manager) CancelTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	if h, ok := m.running[taskID]; ok {
		m.mu.Unlock()
		h.Cancel()
		return nil
	}
	for i, p := range m.pending {
		if p.taskID == taskID {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			m.reportGaugesLocked()
			m.mu.Unlock()
			cancelled := taskstore.StatusCancelled
			_, err := m.store.Update(ctx, taskID, taskstore.Fields{Status: &cancelled})
			return err
		}
	}
	m.mu.Unlock()

	info, err := m.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if info.Status.Terminal() {
		return nil // idempotent
	}
	cancelled := taskstore.StatusCancelled
	_, err = m.store.Update(ctx, taskID, taskstore.Fields{Status: &cancelled})
	return err
}

// SubmitInterruptFeedback delivers feedback to taskID's pending
// interrupt. Returns ErrNotWaiting if none is pending, or if the task
// is unknown to this process (not currently running).
func (m *Manager) SubmitInterruptFeedback(taskID, feedback string) error {
	m.mu.Lock()
	h, ok := m.running[taskID]
	m.mu.Unlock()
	if !ok {
		return ErrNotWaiting
	}
	if err := h.SubmitFeedback(feedback); err != nil {
		return ErrNotWaiting
	}
	return nil
}

// GetStats reports current Task Manager state for GET /worker/stats.
func (m *Manager) GetStats(ctx context.Context) (Stats, error) {
	all, err := m.store.List(ctx, taskstore.Filter{Limit: 10000})
	if err != nil {
		return Stats{}, err
	}
	byStatus := map[taskstore.Status]int{}
	for _, info := range all {
		byStatus[info.Status]++
	}

	m.mu.Lock()
	running, pending := len(m.running), len(m.pending)
	m.mu.Unlock()

	return Stats{
		ByStatus:           byStatus,
		Running:            running,
		Pending:            pending,
		ConcurrencyCeiling: m.maxConcurrent,
		UptimeSeconds:      time.Since(m.startedAt).Seconds(),
	}, nil
}

// Cleanup deletes finalized tasks whose completion predates the cutoff
// and their Event Log streams, per spec §4.4.
func (m *Manager) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	all, err := m.store.List(ctx, taskstore.Filter{Limit: 10000})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, info := range all {
		if !info.Status.Terminal() || info.CompletedAt == nil || !info.CompletedAt.Before(cutoff) {
			continue
		}
		streamKey := eventlog.StreamKey(info.ThreadID, info.TaskID)
		if err := m.log.Delete(ctx, streamKey); err != nil {
			m.logger.Warn("taskmanager: cleanup failed to delete stream", zap.String("task_id", info.TaskID), zap.Error(err))
			continue
		}
		if err := m.store.Delete(ctx, info.TaskID); err != nil {
			m.logger.Warn("taskmanager: cleanup failed to delete task", zap.String("task_id", info.TaskID), zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted, nil
}
