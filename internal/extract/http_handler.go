package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/apietl/internal/auth"
	"github.com/rpattn/apietl/internal/domain"
	"github.com/rpattn/apietl/internal/repository"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const dateLayout = "2006-01-02"

// Handler exposes job submission, inspection and cancellation over HTTP.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service.
func NewHTTPHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the job endpoints on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/scraps", h.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/scraps", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/scraps/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/scraps/{id}/cancel", h.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/scraps/{id}/events", h.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/scraps/{id}/logs", h.handleLogs).Methods(http.MethodGet)
}

type submitPayload struct {
	TenantID  int64  `json:"tenantId"`
	RouteID   string `json:"routeId"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload submitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if err := auth.EnforceTenantScope(r.Context(), payload.TenantID); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	routeID, err := uuid.Parse(strings.TrimSpace(payload.RouteID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid route id: %v", err), http.StatusBadRequest)
		return
	}
	start, err := time.Parse(dateLayout, strings.TrimSpace(payload.StartDate))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid startDate: %v", err), http.StatusBadRequest)
		return
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(payload.EndDate))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid endDate: %v", err), http.StatusBadRequest)
		return
	}

	scrap, err := h.service.Submit(r.Context(), SubmitRequest{
		TenantID:  payload.TenantID,
		RouteID:   routeID,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, scrap)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repository.ScrapFilter{}

	if raw := strings.TrimSpace(query.Get("tenantId")); raw != "" {
		tenantID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid tenantId: %v", err), http.StatusBadRequest)
			return
		}
		filter.TenantID = &tenantID
	}
	if scoped, ok := auth.TenantIDFromContext(r.Context()); ok {
		if filter.TenantID != nil && *filter.TenantID != scoped {
			http.Error(w, "tenantId does not match authenticated scope", http.StatusForbidden)
			return
		}
		filter.TenantID = &scoped
	}
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			status := domain.ScrapStatus(strings.ToLower(strings.TrimSpace(part)))
			if status == "" {
				continue
			}
			if !status.Valid() {
				http.Error(w, fmt.Sprintf("unknown status %q", part), http.StatusBadRequest)
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	limit := parseIntDefault(query.Get("limit"), 50)
	offset := parseIntDefault(query.Get("offset"), 0)

	scraps, err := h.service.ListJobs(r.Context(), filter, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scraps)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	scrap, ok := h.loadScoped(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, scrap)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	scrap, ok := h.loadScoped(w, r)
	if !ok {
		return
	}
	updated, err := h.service.CancelJob(r.Context(), scrap.ID)
	if err != nil {
		if updated.ID != uuid.Nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	scrap, ok := h.loadScoped(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	logs, err := h.service.ListLogs(r.Context(), scrap.ID, parseIntDefault(query.Get("limit"), 200), parseIntDefault(query.Get("offset"), 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// handleEvents streams job events as Server-Sent Events until the job ends
// or the client disconnects.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	scrap, ok := h.loadScoped(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe := h.service.Subscribe(scrap.ID)
	defer unsubscribe()

	// A job that ended, or has no worker here, publishes nothing more.
	if current, err := h.service.GetJob(r.Context(), scrap.ID); err == nil {
		scrap = current
	}
	live := h.service.Live(scrap.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if scrap.Status.Terminal() || !live {
		writeEvent(w, "status", scrap)
		flusher.Flush()
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			writeEvent(w, string(ev.Kind), ev)
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}

func (h *Handler) loadScoped(w http.ResponseWriter, r *http.Request) (domain.Scrap, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid job id: %v", err), http.StatusBadRequest)
		return domain.Scrap{}, false
	}
	scrap, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return domain.Scrap{}, false
	}
	if err := auth.EnforceTenantScope(r.Context(), scrap.TenantID); err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return domain.Scrap{}, false
	}
	return scrap, true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrScrapNotFound), errors.Is(err, repository.ErrRouteNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidDateRange):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeEvent(w http.ResponseWriter, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func parseIntDefault(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}
