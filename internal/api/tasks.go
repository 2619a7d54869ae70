package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
)

const (
	defaultTaskLimit = 50
	maxTaskLimit     = 500
	defaultLogLimit  = 200
	maxLogLimit      = 1000
)

type createTaskRequest struct {
	crawler.TaskRequest
	// Start defaults to true; false leaves the task pending.
	Start *bool `json:"start"`
}

type taskDTO struct {
	crawler.Task
	DurationSeconds float64 `json:"duration_seconds"`
}

type statisticsDTO struct {
	Total    int                        `json:"total"`
	ByStatus map[crawler.TaskStatus]int `json:"by_status"`
}

func (s *Server) toDTO(task crawler.Task) taskDTO {
	return taskDTO{Task: task, DurationSeconds: task.Duration(s.clock.Now()).Seconds()}
}

// createTask handles POST /v1/tasks. The task is enqueued unless "start" is false.
func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	taskReq := req.TaskRequest.Normalize(s.cfg.TaskDefaults())
	if err := crawler.ValidateTask(taskReq); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.store.GetPlatform(r.Context(), taskReq.Platform); err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "unknown platform "+strconv.Quote(taskReq.Platform))
			return
		}
		s.internalError(w, "load platform", err)
		return
	}

	id, err := s.idGen.NewID()
	if err != nil {
		s.internalError(w, "generate task id", err)
		return
	}
	task := crawler.NewTask(id, taskReq, s.clock.Now())
	if err := s.store.CreateTask(r.Context(), task); err != nil {
		s.internalError(w, "create task", err)
		return
	}

	if req.Start != nil && !*req.Start {
		writeJSON(w, http.StatusCreated, s.toDTO(task))
		return
	}
	if err := s.submit(r.Context(), task.ID); err != nil {
		s.logger.Error("submit task failed", zap.String("task_id", task.ID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "task created but not queued: "+task.ID)
		return
	}
	writeJSON(w, http.StatusAccepted, s.toDTO(task))
}

// listTasks handles GET /v1/tasks?status=&platform=&kind=&limit=&offset=.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultTaskLimit, maxTaskLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	filter := crawler.TaskFilter{
		Status:   crawler.TaskStatus(strings.ToLower(q.Get("status"))),
		Platform: strings.ToLower(q.Get("platform")),
		Kind:     crawler.TaskKind(strings.ToLower(q.Get("kind"))),
		Limit:    limit,
		Offset:   offset,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "invalid kind")
		return
	}

	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.internalError(w, "list tasks", err)
		return
	}
	out := make([]taskDTO, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, s.toDTO(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

// statistics handles GET /v1/tasks/statistics.
func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountTasksByStatus(r.Context())
	if err != nil {
		s.internalError(w, "count tasks", err)
		return
	}
	stats := statisticsDTO{ByStatus: make(map[crawler.TaskStatus]int)}
	for _, status := range crawler.AllTaskStatuses() {
		stats.ByStatus[status] = counts[status]
		stats.Total += counts[status]
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.toDTO(task))
}

// startTask handles POST /v1/tasks/{task_id}/start. Only pending tasks can be started.
func (s *Server) startTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	if task.Status != crawler.TaskStatusPending {
		writeError(w, http.StatusConflict, "task is "+string(task.Status)+", only pending tasks can be started")
		return
	}
	if err := s.submit(r.Context(), task.ID); err != nil {
		s.logger.Error("submit task failed", zap.String("task_id", task.ID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "task queue unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, s.toDTO(task))
}

// cancelTask handles POST /v1/tasks/{task_id}/cancel for pending or running tasks.
func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.store.CancelTask(r.Context(), taskID, s.clock.Now())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.toDTO(task))
	case errors.Is(err, crawler.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, crawler.ErrConflict):
		writeError(w, http.StatusConflict, "task is "+string(task.Status)+", only pending or running tasks can be cancelled")
	default:
		s.internalError(w, "cancel task", err)
	}
}

// taskLogs handles GET /v1/tasks/{task_id}/logs?level=&limit=, newest first.
func (s *Server) taskLogs(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	limit, _, err := parseLimitOffset(r, defaultLogLimit, maxLogLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	level := crawler.LogLevel(strings.ToLower(r.URL.Query().Get("level")))
	if level != "" && !level.Valid() {
		writeError(w, http.StatusBadRequest, "invalid level")
		return
	}
	entries, err := s.store.ListLogs(r.Context(), task.ID, crawler.LogFilter{Level: level, Limit: limit})
	if err != nil {
		s.internalError(w, "list logs", err)
		return
	}
	if entries == nil {
		entries = []crawler.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func (s *Server) listPlatforms(w http.ResponseWriter, r *http.Request) {
	platforms, err := s.store.ListPlatforms(r.Context())
	if err != nil {
		s.internalError(w, "list platforms", err)
		return
	}
	if platforms == nil {
		platforms = []crawler.Platform{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"platforms": platforms})
}

func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (crawler.Task, bool) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
		} else {
			s.internalError(w, "load task", err)
		}
		return crawler.Task{}, false
	}
	return task, true
}

func (s *Server) submit(ctx context.Context, taskID string) error {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()
	return s.submitter.Submit(ctx, taskID)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
