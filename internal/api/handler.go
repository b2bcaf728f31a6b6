package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/knoxmajor/stoneware/internal/site"
	"github.com/knoxmajor/stoneware/internal/storage"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Handler wires resolver and storage dependencies into HTTP handlers.
type Handler struct {
	resolver site.Resolver
	storage  storage.Storage

	clock func() time.Time

	mu                   sync.RWMutex
	environmentUpdatedAt time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(resolver site.Resolver, store storage.Storage, opts ...HandlerOption) *Handler {
	h := &Handler{
		resolver: resolver,
		storage:  store,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.environmentUpdatedAt = h.clock()
	return h
}

// ReplaceEnvironment stores env and bumps the update timestamp. It is used by
// the env file watcher as well as the PUT endpoint.
func (h *Handler) ReplaceEnvironment(env map[string]string) error {
	if err := h.storage.SetEnvironment(env); err != nil {
		return err
	}
	h.markEnvironmentUpdated()
	return nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	_ = r
	env, err := h.storage.GetEnvironment()
	if err != nil {
		writeInternalError(w, err)
		return
	}

	resp := h.buildSettingsResponse(env)
	resp.UpdatedAt = h.currentEnvironmentUpdatedAt()
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	writeJSON(w, http.StatusOK, h.buildSettingsResponse(req.Env))
}

func (h *Handler) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	_ = r
	env, err := h.storage.GetEnvironment()
	if err != nil {
		writeInternalError(w, err)
		return
	}

	resp := environmentResponse{
		Env:       env,
		UpdatedAt: h.currentEnvironmentUpdatedAt(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePutEnvironment(w http.ResponseWriter, r *http.Request) {
	var req environmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	if err := h.ReplaceEnvironment(req.Env); err != nil {
		if errors.Is(err, storage.ErrInvalidEnvironment) {
			writeError(w, http.StatusBadRequest, "Invalid environment", err.Error(),
				"Allowed: "+storage.Rules)
			return
		}
		writeInternalError(w, err)
		return
	}

	env, err := h.storage.GetEnvironment()
	if err != nil {
		writeInternalError(w, err)
		return
	}

	resp := environmentResponse{
		Env:       env,
		UpdatedAt: h.currentEnvironmentUpdatedAt(),
		Message:   "Environment updated successfully",
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) buildSettingsResponse(env map[string]string) settingsResponse {
	settings := h.resolver.Resolve(env)
	return settingsResponse{
		Site: settings.SiteOrigin,
		Base: settings.BasePath,
		URL:  settings.URL(),
		CI:   site.IsCI(env),
	}
}

func (h *Handler) currentEnvironmentUpdatedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.environmentUpdatedAt
}

func (h *Handler) markEnvironmentUpdated() {
	h.mu.Lock()
	h.environmentUpdatedAt = h.clock()
	h.mu.Unlock()
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type resolveRequest struct {
	Env map[string]string `json:"env"`
}

type environmentRequest struct {
	Env map[string]string `json:"env"`
}

type settingsResponse struct {
	Site      string    `json:"site"`
	Base      string    `json:"base"`
	URL       string    `json:"url"`
	CI        bool      `json:"ci"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

type environmentResponse struct {
	Env       map[string]string `json:"env"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Message   string            `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
