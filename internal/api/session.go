package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/chronicle-bot/chronicle/internal/reconcile"
	"github.com/chronicle-bot/chronicle/internal/store"
	"github.com/chronicle-bot/chronicle/internal/view"
)

// SessionReader is the store read surface the API serves. Satisfied by
// *store.Store.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	ListSessions(ctx context.Context) ([]store.Session, error)
	ListSessionsByStatus(ctx context.Context, status string) ([]store.Session, error)
	MessagesBySession(ctx context.Context, sessionID string) ([]store.Message, error)
	MessagesByChat(ctx context.Context, chatID string) ([]store.Message, error)
}

// DetailAggregator builds read-side session summaries. Satisfied by
// *view.Aggregator.
type DetailAggregator interface {
	SessionDetails(ctx context.Context, sessionID string) (*view.SessionDetail, error)
	ListSessionDetails(ctx context.Context) ([]view.SessionDetail, error)
}

// Sweeper triggers a reconciliation sweep on demand. Satisfied by
// *reconcile.Reconciler.
type Sweeper interface {
	ReconcileOnce(ctx context.Context) (reconcile.Result, error)
}

// sessionHandler serves the session and message read endpoints.
type sessionHandler struct {
	store      SessionReader
	aggregator DetailAggregator
	logger     *slog.Logger
}

// listSessions handles GET /api/v1/sessions. An optional ?status= query
// filters by status value.
func (h *sessionHandler) listSessions(w http.ResponseWriter, r *http.Request) {
	var (
		sessions []store.Session
		err      error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		sessions, err = h.store.ListSessionsByStatus(r.Context(), status)
	} else {
		sessions, err = h.store.ListSessions(r.Context())
	}
	if err != nil {
		h.logger.Error("listing sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list sessions")
		return
	}

	if sessions == nil {
		sessions = []store.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// getSession handles GET /api/v1/sessions/{id}.
func (h *sessionHandler) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, err := h.store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	if err != nil {
		h.logger.Error("getting session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get session")
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// getSessionMessages handles GET /api/v1/sessions/{id}/messages.
func (h *sessionHandler) getSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	messages, err := h.store.MessagesBySession(r.Context(), id)
	if err != nil {
		h.logger.Error("listing session messages", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list messages")
		return
	}

	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"messages":   messages,
		"count":      len(messages),
	})
}

// getChatMessages handles GET /api/v1/chats/{id}/messages.
func (h *sessionHandler) getChatMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	messages, err := h.store.MessagesByChat(r.Context(), id)
	if err != nil {
		h.logger.Error("listing chat messages", "chat_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list messages")
		return
	}

	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chat_id":  id,
		"messages": messages,
		"count":    len(messages),
	})
}

// getSessionDetails handles GET /api/v1/sessions/{id}/details. Always
// returns a summary; an unknown id yields zeros rather than 404 because the
// message log may hold rows for sessions the registry lost.
func (h *sessionHandler) getSessionDetails(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	detail, err := h.aggregator.SessionDetails(r.Context(), id)
	if err != nil {
		h.logger.Error("aggregating session details", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "details_failed", "failed to aggregate session details")
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// listSessionDetails handles GET /api/v1/session-details.
func (h *sessionHandler) listSessionDetails(w http.ResponseWriter, r *http.Request) {
	details, err := h.aggregator.ListSessionDetails(r.Context())
	if err != nil {
		h.logger.Error("listing session details", "error", err)
		writeError(w, http.StatusInternalServerError, "details_failed", "failed to list session details")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": details,
		"count":    len(details),
	})
}

// reconcileHandler serves POST /api/v1/reconcile, triggering an immediate
// sweep. Returns 409 when a sweep is already running.
type reconcileHandler struct {
	sweeper Sweeper
	logger  *slog.Logger
}

func (h *reconcileHandler) trigger(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.ReconcileOnce(r.Context())
	if errors.Is(err, reconcile.ErrSweepInProgress) {
		writeError(w, http.StatusConflict, "sweep_in_progress", "a reconciliation sweep is already running")
		return
	}
	if err != nil {
		h.logger.Error("running reconciliation sweep", "error", err)
		writeError(w, http.StatusInternalServerError, "sweep_failed", "reconciliation sweep failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}
