// Package view assembles read-side session summaries from the session
// registry and the message log.
//
// The message log is the source of truth for activity; the sessions table
// is metadata that may be missing or stale. Every field of a summary
// therefore has a fallback chain, and a summary is produced even for a
// session id that exists nowhere — callers get zeros, not errors.
package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/chronicle-bot/chronicle/internal/store"
)

// StatusUnknown is reported when neither the session record nor the
// message log can establish a status.
const StatusUnknown = "unknown"

// SessionStore is the session read surface the aggregator needs.
// Satisfied by *store.Store.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	ListSessions(ctx context.Context) ([]store.Session, error)
}

// MessageStore is the message read surface the aggregator needs.
// Satisfied by *store.Store.
type MessageStore interface {
	EarliestMessage(ctx context.Context, sessionID string) (*store.Message, error)
	LatestMessage(ctx context.Context, sessionID string) (*store.Message, error)
	FirstSessionTitle(ctx context.Context, sessionID string) (*string, error)
	CountMessages(ctx context.Context, sessionID string) (int, error)
	Participants(ctx context.Context, sessionID string) ([]string, error)
	DistinctSessionIDs(ctx context.Context) ([]string, error)
}

// SessionDetail is the aggregated summary of one session.
//
// StartDate and EndDate are nil when the session has no messages and no
// session record exists to date it.
type SessionDetail struct {
	SessionID    string     `json:"session_id"`
	Title        string     `json:"title"`
	Status       string     `json:"status"`
	StartDate    *time.Time `json:"start_date"`
	EndDate      *time.Time `json:"end_date"`
	Participants []string   `json:"participants"`
	MessageCount int        `json:"message_count"`
}

// Aggregator builds session summaries.
type Aggregator struct {
	sessions SessionStore
	messages MessageStore
	logger   *slog.Logger
}

// New creates an Aggregator.
func New(sessions SessionStore, messages MessageStore, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{sessions: sessions, messages: messages, logger: logger}
}

// SessionDetails aggregates a summary for one session id.
//
// Field resolution:
//
//   - Title: session record → first title snapshot on a message → the id
//     itself.
//   - Status: session record → "completed" when messages exist without a
//     record → "unknown".
//   - StartDate: earliest message date → session created_at → nil.
//   - EndDate: latest message date → nil.
//
// A failing sub-query degrades that field to its fallback rather than
// failing the whole summary; only a missing session record is a normal
// case, never an error.
func (a *Aggregator) SessionDetails(ctx context.Context, sessionID string) (*SessionDetail, error) {
	detail := &SessionDetail{
		SessionID:    sessionID,
		Title:        sessionID,
		Status:       StatusUnknown,
		Participants: []string{},
	}

	sess, err := a.sessions.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		if sess.Title != nil && *sess.Title != "" {
			detail.Title = *sess.Title
		}
		if sess.Status != nil && *sess.Status != "" {
			detail.Status = *sess.Status
		}
		createdAt := sess.CreatedAt
		detail.StartDate = &createdAt
	case errors.Is(err, store.ErrNotFound):
		// Messages may still reference the id; fall through to the log.
	default:
		a.logger.Warn("reading session record", "session_id", sessionID, "error", err)
	}

	if detail.Title == sessionID {
		title, err := a.messages.FirstSessionTitle(ctx, sessionID)
		if err != nil {
			a.logger.Warn("resolving title from messages", "session_id", sessionID, "error", err)
		} else if title != nil && *title != "" {
			detail.Title = *title
		}
	}

	n, err := a.messages.CountMessages(ctx, sessionID)
	if err != nil {
		a.logger.Warn("counting messages", "session_id", sessionID, "error", err)
	} else {
		detail.MessageCount = n
	}

	if detail.Status == StatusUnknown && detail.MessageCount > 0 {
		// Messages without a live session record mean the session ended.
		detail.Status = store.StatusCompleted
	}

	earliest, err := a.messages.EarliestMessage(ctx, sessionID)
	switch {
	case err == nil:
		date := earliest.Date
		detail.StartDate = &date
	case errors.Is(err, store.ErrNotFound):
	default:
		a.logger.Warn("reading earliest message", "session_id", sessionID, "error", err)
	}

	latest, err := a.messages.LatestMessage(ctx, sessionID)
	switch {
	case err == nil:
		date := latest.Date
		detail.EndDate = &date
	case errors.Is(err, store.ErrNotFound):
	default:
		a.logger.Warn("reading latest message", "session_id", sessionID, "error", err)
	}

	participants, err := a.messages.Participants(ctx, sessionID)
	if err != nil {
		a.logger.Warn("listing participants", "session_id", sessionID, "error", err)
	} else if participants != nil {
		detail.Participants = participants
	}

	return detail, nil
}

// ListSessionDetails aggregates summaries for every known session, newest
// first (by start date; undated sessions sort last).
//
// Session ids come from the registry; when the registry is empty the
// message log's distinct ids are used instead, so summaries survive a
// wiped sessions table.
func (a *Aggregator) ListSessionDetails(ctx context.Context) ([]SessionDetail, error) {
	ids, err := a.sessionIDs(ctx)
	if err != nil {
		return nil, err
	}

	details := make([]SessionDetail, 0, len(ids))
	for _, id := range ids {
		detail, err := a.SessionDetails(ctx, id)
		if err != nil {
			a.logger.Warn("aggregating session details", "session_id", id, "error", err)
			continue
		}
		details = append(details, *detail)
	}

	sort.SliceStable(details, func(i, j int) bool {
		di, dj := details[i].StartDate, details[j].StartDate
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.After(*dj)
		}
	})
	return details, nil
}

func (a *Aggregator) sessionIDs(ctx context.Context) ([]string, error) {
	sessions, err := a.sessions.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) > 0 {
		ids := make([]string, len(sessions))
		for i, sess := range sessions {
			ids[i] = sess.ID
		}
		return ids, nil
	}

	ids, err := a.messages.DistinctSessionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing session ids from messages: %w", err)
	}
	return ids, nil
}
