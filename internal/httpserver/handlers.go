package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"bizconnect/internal/approval"
	"bizconnect/internal/dispatch"
	"bizconnect/internal/domain"
	"bizconnect/internal/ingest"
	"bizconnect/internal/offline"
	"bizconnect/internal/store"
)

// API is the agent's local HTTP surface: approval resolutions from the
// companion device come in here, and the device UI reads task and queue
// state.
type API struct {
	Ingest  *ingest.Router
	Gateway *approval.Gateway
	Tasks   store.TaskStore
	Queue   *dispatch.Queue
	Offline *offline.Queue
}

func (a *API) Register(m *mux.Router) {
	m.HandleFunc("/v1/approvals/{id}/approve", a.handleResolve(approval.Approved)).Methods(http.MethodPost)
	m.HandleFunc("/v1/approvals/{id}/cancel", a.handleResolve(approval.Cancelled)).Methods(http.MethodPost)
	m.HandleFunc("/v1/approvals/auto", a.handleAutoApprove).Methods(http.MethodPut)
	m.HandleFunc("/v1/tasks/{id}", a.handleGetTask).Methods(http.MethodGet)
	m.HandleFunc("/v1/queue/stats", a.handleQueueStats).Methods(http.MethodGet)
}

func (a *API) handleResolve(d approval.Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if id == "" {
			http.Error(w, ErrMissingID, http.StatusBadRequest)
			return
		}
		err := a.Ingest.Resolve(r.Context(), id, d)
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, ErrNotFound, http.StatusNotFound)
			return
		}
		if errors.Is(err, domain.ErrRateLimited) {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		if err != nil {
			slog.Error("approval resolution failed", "task_id", id, "decision", d, "err", err)
			http.Error(w, ErrDependency, http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"taskId": id, "decision": string(d)})
	}
}

func (a *API) handleAutoApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := a.Gateway.SetAutoApprove(r.Context(), req.Enabled); err != nil {
		slog.Error("auto-approve toggle write failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	task, found, err := a.Tasks.GetTask(r.Context(), id)
	if err != nil {
		slog.Error("get task failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(task)
}

func (a *API) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats := a.Queue.Stats()
	depth := 0
	if a.Offline != nil {
		if d, err := a.Offline.Depth(r.Context()); err == nil {
			depth = d
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		dispatch.Stats
		OfflineBuffered int `json:"offlineBuffered"`
	}{Stats: stats, OfflineBuffered: depth})
}
