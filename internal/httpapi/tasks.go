package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/opendeepresearch/taskstream/internal/config"
	"github.com/opendeepresearch/taskstream/internal/taskmanager"
	"github.com/opendeepresearch/taskstream/internal/taskstore"
	"github.com/opendeepresearch/taskstream/internal/workflow"
)

// createTaskRequest mirrors the recognized fields of spec §6.3. Unknown
// JSON fields are ignored by encoding/json by default.
type createTaskRequest struct {
	ThreadID                     string                 `json:"thread_id"`
	Messages                     []workflow.Message     `json:"messages"`
	Resources                    []string               `json:"resources"`
	AutoAcceptedPlan             bool                   `json:"auto_accepted_plan"`
	MaxPlanIterations            int                    `json:"max_plan_iterations"`
	MaxStepNum                   int                    `json:"max_step_num"`
	MaxSearchResults             int                    `json:"max_search_results"`
	EnableDeepThinking           bool                   `json:"enable_deep_thinking"`
	EnableBackgroundInvestigation bool                  `json:"enable_background_investigation"`
	ReportStyle                  string                 `json:"report_style"`
	InterruptFeedback            string                 `json:"interrupt_feedback"`
	MCPSettings                  map[string]interface{} `json:"mcp_settings"`
}

// toConfig builds the workflow.Config for this request. When styles
// names a preset matching req.ReportStyle, any of MaxPlanIterations /
// MaxStepNum / MaxSearchResults the caller left at zero are seeded
// from it rather than left at zero.
func (req createTaskRequest) toConfig(styles config.ReportStyles) workflow.Config {
	cfg := workflow.Config{
		Messages:                      req.Messages,
		Resources:                     req.Resources,
		AutoAcceptedPlan:              req.AutoAcceptedPlan,
		MaxPlanIterations:             req.MaxPlanIterations,
		MaxStepNum:                    req.MaxStepNum,
		MaxSearchResults:              req.MaxSearchResults,
		EnableDeepThinking:            req.EnableDeepThinking,
		EnableBackgroundInvestigation: req.EnableBackgroundInvestigation,
		ReportStyle:                   req.ReportStyle,
		InterruptFeedback:             req.InterruptFeedback,
		MCPSettings:                   req.MCPSettings,
	}
	if preset, ok := styles.Resolve(req.ReportStyle); ok {
		if cfg.MaxPlanIterations == 0 {
			cfg.MaxPlanIterations = preset.MaxPlanIterations
		}
		if cfg.MaxStepNum == 0 {
			cfg.MaxStepNum = preset.MaxStepNum
		}
		if cfg.MaxSearchResults == 0 {
			cfg.MaxSearchResults = preset.MaxSearchResults
		}
	}
	return cfg
}

func (req createTaskRequest) rawConfig() map[string]interface{} {
	b, _ := json.Marshal(req)
	var out map[string]interface{}
	_ = json.Unmarshal(b, &out)
	return out
}

func (req createTaskRequest) lastUserMessage() string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

// handleCreateTask serves POST /chat/async.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "thread_id is required")
		return
	}

	taskID, err := s.tasks.CreateTask(r.Context(), req.ThreadID, req.lastUserMessage(), req.toConfig(s.reportStyles), req.rawConfig())
	if err != nil {
		s.logger.Error("create task failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	info, err := s.store.Get(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "task created but could not be read back")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_id":    info.TaskID,
		"thread_id":  info.ThreadID,
		"status":     info.Status,
		"created_at": info.CreatedAt,
	})
}

// handleGetTask serves GET /tasks/{id}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	info, err := s.store.Get(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch task")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleListTasks serves GET /tasks?thread_id=&status=&limit=.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := taskstore.Filter{
		ThreadID: q.Get("thread_id"),
		Status:   taskstore.Status(q.Get("status")),
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = n
		}
	}
	infos, err := s.store.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": infos})
}

// handleCancelTask serves POST /tasks/{id}/cancel.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if err := s.tasks.CancelTask(r.Context(), taskID); err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"task_id": taskID, "status": "cancelling"})
}

// handleFeedback serves POST /tasks/{id}/feedback.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	var body struct {
		Option string `json:"option"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.tasks.SubmitInterruptFeedback(taskID, body.Option); err != nil {
		if errors.Is(err, taskmanager.ErrNotWaiting) {
			writeError(w, http.StatusConflict, "task is not awaiting feedback")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to submit feedback")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"task_id": taskID, "status": "resumed"})
}

// handleRunningTask serves GET /threads/{id}/running-task.
func (s *Server) handleRunningTask(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	info, err := s.store.FindLatestByThread(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"has_running_task": false})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to look up thread")
		return
	}
	if info.Status.Terminal() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"has_running_task": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"has_running_task": true,
		"task_id":          info.TaskID,
		"status":            info.Status,
		"progress":          info.Progress,
		"current_step":      info.CurrentStep,
	})
}

// handleResearchStatus serves GET /threads/{id}/research-status: a
// summary of every task (ongoing and completed) this thread has spawned.
func (s *Server) handleResearchStatus(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	infos, err := s.store.List(r.Context(), taskstore.Filter{ThreadID: threadID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list thread tasks")
		return
	}
	var ongoing, completed []taskstore.Info
	for _, info := range infos {
		if info.Status.Terminal() {
			completed = append(completed, info)
		} else {
			ongoing = append(ongoing, info)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ongoing": ongoing, "completed": completed})
}

// handleWorkerStats serves GET /worker/stats.
func (s *Server) handleWorkerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.tasks.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to gather stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleWorkerCleanup serves POST /worker/cleanup?days=.
func (s *Server) handleWorkerCleanup(w http.ResponseWriter, r *http.Request) {
	days := 7
	if d := r.URL.Query().Get("days"); d != "" {
		if n, err := strconv.Atoi(d); err == nil && n > 0 {
			days = n
		}
	}
	deleted, err := s.tasks.Cleanup(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
