// Package ops exposes the operational HTTP surface: health, session
// inspection, and pairing directory reload. It is for operators, not
// participants; the conversation itself runs over the gateway.
package ops

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/wisper-social/wisperbot/internal/middleware"
	"github.com/wisper-social/wisperbot/internal/pairing"
	"github.com/wisper-social/wisperbot/internal/session"
	"github.com/wisper-social/wisperbot/internal/store"
)

// Handler serves the operational endpoints.
type Handler struct {
	repo      store.Repository
	reg       *session.Registry
	dir       *pairing.Directory
	pairsPath string
}

// NewHandler creates an ops handler.
func NewHandler(repo store.Repository, reg *session.Registry, dir *pairing.Directory, pairsPath string) *Handler {
	return &Handler{
		repo:      repo,
		reg:       reg,
		dir:       dir,
		pairsPath: pairsPath,
	}
}

// Router builds the chi router for the ops server.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{"*"}))

	r.Get("/health", h.health)
	r.Get("/api/sessions", h.listSessions)
	r.Post("/api/pairs/reload", h.reloadPairs)

	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		Error(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
		"pairs":  h.dir.Len(),
	})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.reg.Snapshot())
}

// reloadPairs re-reads the pairing directory file. The swap is
// all-or-nothing: a malformed file leaves the current directory intact.
func (h *Handler) reloadPairs(w http.ResponseWriter, r *http.Request) {
	if err := h.dir.Reload(h.pairsPath); err != nil {
		slog.Error("pairing reload failed", "path", h.pairsPath, "error", err)
		Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	slog.Info("pairing directory reloaded", "path", h.pairsPath, "pairs", h.dir.Len())
	JSON(w, http.StatusOK, map[string]interface{}{"pairs": h.dir.Len()})
}
