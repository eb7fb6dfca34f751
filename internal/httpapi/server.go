// Package httpapi implements the HTTP/SSE Surface (spec §2 C7): a thin
// transport binding the Task Manager and Replayer to the external
// protocol of spec §6.1.
//
// Grounded on the teacher's cmd/gateway mux-assembly style (one
// RegisterRoutes per handler group) and Go 1.22+ net/http.ServeMux
// method+path patterns, replacing the teacher's gorilla/mux-free
// hand-rolled path parsing with the stdlib's own {id} wildcards.
package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/opendeepresearch/taskstream/internal/config"
	"github.com/opendeepresearch/taskstream/internal/replay"
	"github.com/opendeepresearch/taskstream/internal/taskmanager"
	"github.com/opendeepresearch/taskstream/internal/taskstore"
)

// Server binds the Task Manager and Replayer to HTTP routes.
type Server struct {
	tasks        *taskmanager.Manager
	store        taskstore.Store
	replayer     *replay.Replayer
	logger       *zap.Logger
	reportStyles config.ReportStyles
}

// New constructs a Server. reportStyles may be nil, in which case
// report_style on a task-creation request has no preset-seeding effect.
func New(tasks *taskmanager.Manager, store taskstore.Store, replayer *replay.Replayer, logger *zap.Logger, reportStyles config.ReportStyles) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{tasks: tasks, store: store, replayer: replayer, logger: logger, reportStyles: reportStyles}
}

// RegisterRoutes registers every route of spec §6.1 on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /chat/async", s.handleCreateTask)
	mux.HandleFunc("GET /chat/replay", s.handleReplay)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("POST /tasks/{id}/cancel", s.handleCancelTask)
	mux.HandleFunc("POST /tasks/{id}/feedback", s.handleFeedback)
	mux.HandleFunc("GET /threads/{id}/running-task", s.handleRunningTask)
	mux.HandleFunc("GET /threads/{id}/research-status", s.handleResearchStatus)
	mux.HandleFunc("GET /worker/stats", s.handleWorkerStats)
	mux.HandleFunc("POST /worker/cleanup", s.handleWorkerCleanup)
}
