// Package reconcile detects sessions whose recorded status no longer
// reflects reality and corrects it.
//
// An "active" session with no message activity for over an hour is assumed
// abandoned — typically a bot restart without a clean stop. The sweep is
// the only mechanism that prevents permanently stuck active sessions after
// a crash. Paused sessions are an intentional, user-driven hold and are
// never touched; completed is terminal.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chronicle-bot/chronicle/internal/metrics"
	"github.com/chronicle-bot/chronicle/internal/store"
)

// Default sweep thresholds and interval.
const (
	// DefaultIdleAfter completes an active session whose latest message is
	// older than this.
	DefaultIdleAfter = 1 * time.Hour
	// DefaultEmptyAfter completes an active session that never received a
	// message within this window of its creation.
	DefaultEmptyAfter = 2 * time.Hour
	// DefaultInterval is the periodic sweep cadence.
	DefaultInterval = 30 * time.Minute
)

// ErrSweepInProgress indicates a sweep was requested while another one is
// still running. Overlapping sweeps are skipped, not queued.
var ErrSweepInProgress = errors.New("reconciliation sweep already in progress")

// SessionStore is the session surface the reconciler needs. Satisfied by
// *store.Store.
type SessionStore interface {
	ListSessionsByStatus(ctx context.Context, status string) ([]store.Session, error)
	ListSessionsMissingStatus(ctx context.Context) ([]store.Session, error)
	SaveSession(ctx context.Context, data store.SessionData) (*store.Session, error)
}

// MessageStore is the message surface the reconciler needs. Satisfied by
// *store.Store.
type MessageStore interface {
	LatestMessage(ctx context.Context, sessionID string) (*store.Message, error)
	CountMessages(ctx context.Context, sessionID string) (int, error)
}

// Result reports one sweep's outcome. Checked counts the active sessions
// examined; Updated counts only successful status flips.
type Result struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
}

// Reconciler runs staleness sweeps against the session and message stores.
//
// Reconciler is safe for concurrent use; overlapping sweeps are rejected
// with ErrSweepInProgress.
type Reconciler struct {
	sessions   SessionStore
	messages   MessageStore
	idleAfter  time.Duration
	emptyAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger

	running atomic.Bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithThresholds overrides the idle and empty staleness thresholds.
func WithThresholds(idleAfter, emptyAfter time.Duration) Option {
	return func(r *Reconciler) {
		r.idleAfter = idleAfter
		r.emptyAfter = emptyAfter
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// New creates a Reconciler with the default thresholds.
func New(sessions SessionStore, messages MessageStore, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		sessions:   sessions,
		messages:   messages,
		idleAfter:  DefaultIdleAfter,
		emptyAfter: DefaultEmptyAfter,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReconcileOnce runs a single sweep:
//
//  1. Every active session is checked. Sessions whose latest message is
//     older than the idle threshold — or that have no messages and were
//     created before the empty threshold — are marked completed.
//  2. A secondary repair pass completes sessions with a missing status
//     that have recorded messages (legacy rows; not counted in Result).
//
// A failing update is logged and skipped so one bad session cannot abort
// the sweep; Result reports only successes.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, ErrSweepInProgress
	}
	defer r.running.Store(false)

	active, err := r.sessions.ListSessionsByStatus(ctx, store.StatusActive)
	if err != nil {
		return Result{}, fmt.Errorf("listing active sessions: %w", err)
	}

	var res Result
	for _, sess := range active {
		res.Checked++

		stale, err := r.isStale(ctx, sess)
		if err != nil {
			r.logger.Warn("checking session staleness", "session_id", sess.ID, "error", err)
			continue
		}
		if !stale {
			continue
		}

		if err := r.complete(ctx, sess.ID); err != nil {
			r.logger.Warn("completing stale session", "session_id", sess.ID, "error", err)
			continue
		}
		metrics.RecordSessionCompleted("sweep")
		r.logger.Info("completed stale session", "session_id", sess.ID)
		res.Updated++
	}

	r.repairMissingStatuses(ctx)

	metrics.RecordReconcilerRun()
	r.logger.Debug("sweep finished", "checked", res.Checked, "updated", res.Updated)
	return res, nil
}

// isStale reports whether an active session should be completed.
func (r *Reconciler) isStale(ctx context.Context, sess store.Session) (bool, error) {
	latest, err := r.messages.LatestMessage(ctx, sess.ID)
	if errors.Is(err, store.ErrNotFound) {
		return r.now().Sub(sess.CreatedAt) > r.emptyAfter, nil
	}
	if err != nil {
		return false, err
	}
	return r.now().Sub(latest.Date) > r.idleAfter, nil
}

// repairMissingStatuses completes sessions whose status was never written
// but that have recorded messages. Best-effort; failures are logged.
func (r *Reconciler) repairMissingStatuses(ctx context.Context) {
	missing, err := r.sessions.ListSessionsMissingStatus(ctx)
	if err != nil {
		r.logger.Warn("listing sessions with missing status", "error", err)
		return
	}

	for _, sess := range missing {
		n, err := r.messages.CountMessages(ctx, sess.ID)
		if err != nil {
			r.logger.Warn("counting messages for repair", "session_id", sess.ID, "error", err)
			continue
		}
		if n == 0 {
			continue
		}
		if err := r.complete(ctx, sess.ID); err != nil {
			r.logger.Warn("repairing session status", "session_id", sess.ID, "error", err)
			continue
		}
		metrics.RecordSessionCompleted("repair")
		r.logger.Info("repaired missing session status", "session_id", sess.ID)
	}
}

func (r *Reconciler) complete(ctx context.Context, sessionID string) error {
	status := store.StatusCompleted
	_, err := r.sessions.SaveSession(ctx, store.SessionData{ID: sessionID, Status: &status})
	return err
}
