package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gammadia/workloads/scheduler"
	"github.com/gammadia/workloads/workload"
	"github.com/google/uuid"
)

type HandlerConfig struct {
	Logger *slog.Logger `json:"-"`

	// DefaultTenant serves requests without a project header. Empty rejects them.
	DefaultTenant string `json:"default-tenant"`
}

// Handler serves the os-workloads routes on top of a scheduler.
type Handler struct {
	scheduler  *scheduler.Scheduler
	checkpoint *scheduler.Checkpoint
	config     HandlerConfig
	log        *slog.Logger
	mux        *http.ServeMux
}

// Handler implements http.Handler
var _ http.Handler = (*Handler)(nil)

// NewHandler shares checkpoint with the other sweepers of the process, so that reads do not
// sweep a tenant swept a moment ago.
func NewHandler(s *scheduler.Scheduler, checkpoint *scheduler.Checkpoint, config HandlerConfig) *Handler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	h := &Handler{
		scheduler:  s,
		checkpoint: checkpoint,
		config:     config,
		log:        config.Logger.With("component", "api"),
		mux:        http.NewServeMux(),
	}

	h.mux.HandleFunc("GET "+WorkloadsPath, h.listWorkloads)
	h.mux.HandleFunc("POST "+WorkloadsPath, h.registerWorkload)
	h.mux.HandleFunc("GET "+WorkloadsPath+"/{id}", h.inspectWorkload)
	h.mux.HandleFunc("PUT "+WorkloadsPath+"/{id}", h.updateWorkload)
	h.mux.HandleFunc("DELETE "+WorkloadsPath+"/{id}", h.deleteWorkload)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(HeaderRequestID) == "" {
		r.Header.Set(HeaderRequestID, uuid.NewString())
	}
	w.Header().Set(HeaderRequestID, r.Header.Get(HeaderRequestID))
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) listWorkloads(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	workloads, err := h.scheduler.ListWorkloads(r.Context(), tenant)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WorkloadList{Workloads: workloads})
}

func (h *Handler) registerWorkload(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.scheduler.RegisterWorkload(r.Context(), tenant, req.Workload.Name, req.Workload.Priority)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, WorkloadEnvelope{Workload: created})
}

func (h *Handler) inspectWorkload(w http.ResponseWriter, r *http.Request) {
	tenant, id, ok := h.target(w, r)
	if !ok {
		return
	}

	checkin, _ := strconv.ParseBool(r.URL.Query().Get("checkin"))
	orders, err := h.scheduler.Inspect(r.Context(), tenant, id, scheduler.InspectOptions{
		Checkpoint: h.checkpoint,
		Checkin:    checkin,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OrderList{Orders: OrderViews(orders)})
}

func (h *Handler) updateWorkload(w http.ResponseWriter, r *http.Request) {
	tenant, id, ok := h.target(w, r)
	if !ok {
		return
	}

	var req scheduler.UpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.scheduler.Update(r.Context(), tenant, id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) deleteWorkload(w http.ResponseWriter, r *http.Request) {
	tenant, id, ok := h.target(w, r)
	if !ok {
		return
	}

	if err := h.scheduler.DeleteWorkload(r.Context(), tenant, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := r.Header.Get(HeaderProjectID)
	if tenant == "" {
		tenant = h.config.DefaultTenant
	}
	if tenant == "" {
		writeJSON(w, http.StatusBadRequest, NewFailure(fmt.Sprintf("missing %s header", HeaderProjectID)))
		return "", false
	}
	return tenant, true
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return "", 0, false
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, NewFailure(fmt.Sprintf("invalid workload id '%s'", r.PathValue("id"))))
		return "", 0, false
	}
	return tenant, id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, NewFailure(fmt.Sprintf("invalid request body: %s", err)))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := failureOf(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "request-id", r.Header.Get(HeaderRequestID), "error", err)
	} else {
		h.log.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "request-id", r.Header.Get(HeaderRequestID), "error", err)
	}
	writeJSON(w, status, NewFailure(message))
}

func failureOf(err error) (int, string) {
	switch {
	case errors.Is(err, scheduler.ErrOutstandingGrowth):
		return http.StatusConflict, OutstandingGrowthMessage
	case errors.Is(err, workload.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, scheduler.ErrOutstandingShrink),
		errors.Is(err, workload.ErrDuplicateName),
		errors.Is(err, workload.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, workload.ErrTerminal),
		errors.Is(err, workload.ErrInvalidStatus),
		errors.Is(err, workload.ErrInvalidName):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
