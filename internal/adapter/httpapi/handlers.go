// Package httpapi exposes the run API over HTTP: triggering orchestrator
// runs, querying run history, and inspecting engine status.
package httpapi

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/forgeline/foreman/internal/port/runstore"
	"github.com/forgeline/foreman/internal/service"
)

const maxBodySize = 1 << 20 // 1 MiB

// Handlers holds the collaborators the API surfaces.
type Handlers struct {
	Orchestrator *service.Orchestrator
	Store        runstore.Store // optional; run-history endpoints 404 without it

	mu     sync.Mutex
	active map[string]bool // epics with an in-flight run
}

// NewHandlers creates the API handler set.
func NewHandlers(o *service.Orchestrator, store runstore.Store) *Handlers {
	return &Handlers{Orchestrator: o, Store: store, active: make(map[string]bool)}
}

type startRunRequest struct {
	EpicID          string `json:"epic_id"`
	Sequential      bool   `json:"sequential"`
	FromItem        string `json:"from_item,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
	BaseBranch      string `json:"base_branch,omitempty"`
	TaskLevelAgents *bool  `json:"task_level_agents,omitempty"`
}

type startRunResponse struct {
	Status string `json:"status"`
	EpicID string `json:"epic_id"`
}

// StartRun handles POST /api/v1/runs. The run executes in the background;
// progress streams over the websocket hub and the finished record lands in
// the run store.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[startRunRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if req.EpicID == "" {
		writeError(w, http.StatusBadRequest, "epic_id is required")
		return
	}

	h.mu.Lock()
	if h.active[req.EpicID] {
		h.mu.Unlock()
		writeError(w, http.StatusConflict, "a run for this epic is already in flight")
		return
	}
	h.active[req.EpicID] = true
	h.mu.Unlock()

	opts := service.RunOptions{
		Sequential:      req.Sequential,
		FromItem:        req.FromItem,
		SessionID:       req.SessionID,
		BaseBranch:      req.BaseBranch,
		TaskLevelAgents: req.TaskLevelAgents,
	}

	go func() {
		// Detached from the request context: the run outlives the response.
		defer func() {
			h.mu.Lock()
			delete(h.active, req.EpicID)
			h.mu.Unlock()
		}()
		_, _ = h.Orchestrator.Run(context.Background(), req.EpicID, opts)
	}()

	writeJSON(w, http.StatusAccepted, startRunResponse{Status: "started", EpicID: req.EpicID})
}

// GetRun handles GET /api/v1/runs/{id}.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := h.Store.GetRun(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListEpicRuns handles GET /api/v1/epics/{epicID}/runs.
func (h *Handlers) ListEpicRuns(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}
	epicID := chi.URLParam(r, "epicID")
	recs, err := h.Store.ListRunsByEpic(r.Context(), epicID, 50)
	if err != nil {
		writeDomainError(w, err, "epic not found")
		return
	}
	if recs == nil {
		recs = []runstore.RunRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// ActiveRuns handles GET /api/v1/runs: the epics currently executing.
func (h *Handlers) ActiveRuns(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	epics := make([]string, 0, len(h.active))
	for id := range h.active {
		epics = append(epics, id)
	}
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"active_epics": epics})
}
