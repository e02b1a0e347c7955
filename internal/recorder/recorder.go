// Package recorder implements the recording state machine that gates
// whether inbound chat events are persisted.
//
// The machine tracks one in-flight recording per process:
//
//	Idle → AwaitingTitle → Active ⇄ Paused → Idle
//
// All transitions are serialized by a single mutex, so a Stop racing a
// Record cannot interleave. Status-changing transitions write through to
// the session store before the in-memory state is considered settled; when
// a write fails the machine still resets (a stuck recorder is worse than a
// stale row) and the error is surfaced to the caller.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chronicle-bot/chronicle/internal/metrics"
	"github.com/chronicle-bot/chronicle/internal/store"
)

// SessionStore is the session persistence surface the recorder needs.
// Satisfied by *store.Store.
type SessionStore interface {
	SaveSession(ctx context.Context, data store.SessionData) (*store.Session, error)
}

// MessageStore is the message persistence surface the recorder needs.
// Satisfied by *store.Store.
type MessageStore interface {
	AppendMessage(ctx context.Context, data store.MessageData) (int64, error)
}

// State identifies the recorder's current phase.
type State int

const (
	// StateIdle means no recording session is in flight.
	StateIdle State = iota
	// StateAwaitingTitle means a session id is reserved and the next text
	// event is consumed as the session title.
	StateAwaitingTitle
	// StateActive means inbound events are persisted.
	StateActive
	// StatePaused means the session is on hold; events are dropped with an
	// explicit signal.
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingTitle:
		return "awaiting_title"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome reports what happened to an event passed to Record.
type Outcome int

const (
	// OutcomeIgnored means the event was not persisted and no signal is
	// owed to the sender (idle machine, or an error occurred).
	OutcomeIgnored Outcome = iota
	// OutcomeAccepted means the event was persisted as a message.
	OutcomeAccepted
	// OutcomeDroppedPaused means the event was deliberately discarded
	// because recording is paused. Not an error; callers should tell the
	// sender.
	OutcomeDroppedPaused
	// OutcomeTitleSet means the event's text was consumed as the pending
	// session title and recording is now active.
	OutcomeTitleSet
)

// Event is one inbound chat event. Date is the original event time.
type Event struct {
	ChatID   string
	Username string
	Text     string
	Date     time.Time
}

// Recorder is the process-wide recording state machine.
//
// Recorder is safe for concurrent use; transitions are atomic with respect
// to each other.
type Recorder struct {
	sessions SessionStore
	messages MessageStore
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	sessionID string
}

// New creates a Recorder in the Idle state.
func New(sessions SessionStore, messages MessageStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sessions: sessions, messages: messages, logger: logger}
}

// Current returns a snapshot of the state and in-flight session id.
func (r *Recorder) Current() (State, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.sessionID
}

// Start reserves a new session id and enters AwaitingTitle. Nothing is
// written to the session store until a title is supplied.
//
// If a session is already Active or Paused it is marked completed first,
// best-effort: a failed status write is logged but does not block the new
// recording. The reconciler remains the safety net for that case.
func (r *Recorder) Start(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateActive || r.state == StatePaused {
		prior := r.sessionID
		if err := r.markCompleted(ctx, prior); err != nil {
			r.logger.Warn("completing interrupted session", "session_id", prior, "error", err)
		} else {
			metrics.RecordSessionCompleted("interrupt")
		}
	}

	r.sessionID = newSessionID()
	r.state = StateAwaitingTitle
	r.logger.Info("recording requested", "session_id", r.sessionID)
	return r.sessionID, nil
}

// SupplyTitle names the pending session and activates recording. Valid
// only in AwaitingTitle for the reserved session id. Empty or whitespace
// titles are rejected with ErrEmptyTitle and the machine stays in
// AwaitingTitle so the caller can retry.
func (r *Recorder) SupplyTitle(ctx context.Context, sessionID, title string) (*store.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateAwaitingTitle || r.sessionID != sessionID {
		return nil, ErrNotAwaitingTitle
	}
	return r.supplyTitleLocked(ctx, title)
}

// supplyTitleLocked activates the pending session. Caller holds r.mu.
func (r *Recorder) supplyTitleLocked(ctx context.Context, title string) (*store.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	status := store.StatusActive
	sess, err := r.sessions.SaveSession(ctx, store.SessionData{
		ID:     r.sessionID,
		Title:  &title,
		Status: &status,
	})
	if err != nil {
		// Stay in AwaitingTitle; the caller retries with the same title.
		return nil, fmt.Errorf("creating session %s: %w", r.sessionID, err)
	}

	r.state = StateActive
	r.logger.Info("recording started", "session_id", r.sessionID, "title", title)
	return sess, nil
}

// Pause suspends an active recording. A no-op (nil, nil) from any state
// other than Active or for a non-current session id.
//
// The machine transitions even when the status write fails, and the error
// is returned so the caller knows the persisted state may be stale.
func (r *Recorder) Pause(ctx context.Context, sessionID string) (*store.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateActive || r.sessionID != sessionID {
		return nil, nil
	}

	r.state = StatePaused
	sess, err := r.saveStatus(ctx, sessionID, store.StatusPaused)
	if err != nil {
		return nil, fmt.Errorf("pausing session %s: %w", sessionID, err)
	}
	r.logger.Info("recording paused", "session_id", sessionID)
	return sess, nil
}

// Resume reactivates a paused recording. A no-op (nil, nil) from any
// state other than Paused or for a non-current session id.
func (r *Recorder) Resume(ctx context.Context, sessionID string) (*store.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StatePaused || r.sessionID != sessionID {
		return nil, nil
	}

	r.state = StateActive
	sess, err := r.saveStatus(ctx, sessionID, store.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("resuming session %s: %w", sessionID, err)
	}
	r.logger.Info("recording resumed", "session_id", sessionID)
	return sess, nil
}

// Stop completes the recording and returns the machine to Idle. Valid from
// Active or Paused; calling it when already Idle is a no-op (nil, nil)
// that mutates nothing. Stopping from AwaitingTitle abandons the reserved
// id without a store write, since no session row exists yet.
//
// The machine always resets to Idle, even when the completed-status write
// fails; the failure is returned so the caller can warn the user, and the
// reconciler will eventually repair the stale row.
func (r *Recorder) Stop(ctx context.Context, sessionID string) (*store.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessionID != sessionID {
		return nil, nil
	}

	if r.state == StateAwaitingTitle {
		r.state = StateIdle
		r.sessionID = ""
		r.logger.Info("recording canceled before title", "session_id", sessionID)
		return nil, nil
	}

	if r.state != StateActive && r.state != StatePaused {
		return nil, nil
	}

	r.state = StateIdle
	r.sessionID = ""

	sess, err := r.saveStatus(ctx, sessionID, store.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("completing session %s: %w", sessionID, err)
	}
	metrics.RecordSessionCompleted("stop")
	r.logger.Info("recording stopped", "session_id", sessionID)
	return sess, nil
}

// Record routes one inbound event through the gate.
//
//   - Active: the event is persisted, with the session title snapshotted
//     onto the message row.
//   - Paused: the event is discarded and OutcomeDroppedPaused returned so
//     the sender can be told.
//   - AwaitingTitle: the event's text becomes the session title.
//   - Idle: the event is ignored.
func (r *Recorder) Record(ctx context.Context, ev Event) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateActive:
		sessionID := r.sessionID
		if _, err := r.messages.AppendMessage(ctx, store.MessageData{
			ChatID:    ev.ChatID,
			SessionID: &sessionID,
			Date:      ev.Date,
			Username:  ev.Username,
			Text:      ev.Text,
		}); err != nil {
			metrics.RecordDrop("error")
			return OutcomeIgnored, fmt.Errorf("recording event: %w", err)
		}
		metrics.RecordMessage()
		return OutcomeAccepted, nil

	case StatePaused:
		metrics.RecordDrop("paused")
		return OutcomeDroppedPaused, nil

	case StateAwaitingTitle:
		if _, err := r.supplyTitleLocked(ctx, ev.Text); err != nil {
			return OutcomeIgnored, err
		}
		return OutcomeTitleSet, nil

	default: // StateIdle
		metrics.RecordDrop("idle")
		return OutcomeIgnored, nil
	}
}

// markCompleted flips a session to completed. Caller holds r.mu.
func (r *Recorder) markCompleted(ctx context.Context, sessionID string) error {
	_, err := r.saveStatus(ctx, sessionID, store.StatusCompleted)
	return err
}

// saveStatus writes a status-only merge for sessionID. Title is left nil
// so the stored title is inherited.
func (r *Recorder) saveStatus(ctx context.Context, sessionID, status string) (*store.Session, error) {
	return r.sessions.SaveSession(ctx, store.SessionData{
		ID:     sessionID,
		Status: &status,
	})
}

// newSessionID generates a globally unique session id. The millisecond
// prefix keeps ids roughly sortable; the uuid fragment provides entropy.
func newSessionID() string {
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
