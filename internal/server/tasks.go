// ABOUTME: Task CRUD, tree, and stats API handlers
// ABOUTME: Broadcasts task lifecycle changes to realtime clients

package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cmux-dev/cmux/internal/realtime"
	"github.com/cmux-dev/cmux/internal/store"
)

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listTasks(w, r)
	case http.MethodPost:
		s.createTask(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := store.TaskFilters{
		Project:     q.Get("project"),
		Status:      q.Get("status"),
		AssignedTo:  q.Get("assigned_to"),
		IncludeDone: q.Get("include_done") == "true",
	}

	tasks, err := s.store.ListTasks(r.Context(), filters)
	if err != nil {
		s.storeError(w, err, "tasks not found")
		return
	}
	if tasks == nil {
		tasks = []*store.Task{}
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"total": len(tasks),
	})
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req store.TaskCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	task, err := s.store.CreateTask(r.Context(), &req)
	if err != nil {
		s.storeError(w, err, "parent task not found")
		return
	}

	s.hub.Broadcast(realtime.EventTaskStatusUpdate, map[string]any{
		"task_id": task.ID,
		"status":  task.Status,
		"action":  "created",
	})

	s.sendJSON(w, http.StatusCreated, task)
}

func (s *Server) handleTaskSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.Split(rest, "/")

	switch parts[0] {
	case "tree":
		s.handleTaskTree(w, r)
	case "stats":
		s.handleTaskStats(w, r)
	case "":
		s.handleTasks(w, r)
	default:
		s.handleTask(w, r, parts[0])
	}
}

func (s *Server) handleTaskTree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	project := r.URL.Query().Get("project")
	includeDone := r.URL.Query().Get("include_done") == "true"

	roots, total, err := s.store.GetTaskTree(r.Context(), project, includeDone)
	if err != nil {
		s.storeError(w, err, "tasks not found")
		return
	}
	if roots == nil {
		roots = []*store.Task{}
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"tree":  roots,
		"total": total,
	})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.store.GetTaskStats(r.Context())
	if err != nil {
		s.storeError(w, err, "tasks not found")
		return
	}

	s.sendJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request, taskID string) {
	switch r.Method {
	case http.MethodGet:
		task, err := s.store.GetTask(r.Context(), taskID)
		if err != nil {
			s.storeError(w, err, "task not found")
			return
		}
		s.sendJSON(w, http.StatusOK, task)

	case http.MethodPatch:
		var req store.TaskUpdate
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		task, err := s.store.UpdateTask(r.Context(), taskID, &req)
		if err != nil {
			s.storeError(w, err, "task not found")
			return
		}

		s.hub.Broadcast(realtime.EventTaskStatusUpdate, map[string]any{
			"task_id": task.ID,
			"status":  task.Status,
			"action":  "updated",
		})

		s.sendJSON(w, http.StatusOK, task)

	case http.MethodDelete:
		deleted, err := s.store.DeleteTask(r.Context(), taskID)
		if err != nil {
			s.storeError(w, err, "task not found")
			return
		}

		s.hub.Broadcast(realtime.EventTaskStatusUpdate, map[string]any{
			"task_id": taskID,
			"action":  "deleted",
		})

		s.sendJSON(w, http.StatusOK, map[string]any{
			"status":  "deleted",
			"task_id": taskID,
			"deleted": deleted,
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
