package recorder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chronicle-bot/chronicle/internal/store"
	"github.com/chronicle-bot/chronicle/internal/testutil"
)

// fakeSessionStore implements SessionStore with merge semantics close to
// the real store: nil fields inherit, status defaults to active on insert.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
	saves    []store.SessionData
	saveErr  error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*store.Session)}
}

func (f *fakeSessionStore) SaveSession(_ context.Context, data store.SessionData) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.saves = append(f.saves, data)

	existing, ok := f.sessions[data.ID]
	if !ok {
		status := data.Status
		if status == nil {
			def := store.StatusActive
			status = &def
		}
		sess := &store.Session{ID: data.ID, Title: data.Title, Status: status, CreatedAt: time.Now()}
		f.sessions[data.ID] = sess
		cp := *sess
		return &cp, nil
	}

	if data.Title != nil {
		existing.Title = data.Title
	}
	if data.Status != nil {
		existing.Status = data.Status
	}
	cp := *existing
	return &cp, nil
}

func (f *fakeSessionStore) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok || sess.Status == nil {
		return ""
	}
	return *sess.Status
}

// fakeMessageStore implements MessageStore and records appended messages.
type fakeMessageStore struct {
	mu        sync.Mutex
	appended  []store.MessageData
	appendErr error
}

func (f *fakeMessageStore) AppendMessage(_ context.Context, data store.MessageData) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return 0, f.appendErr
	}
	f.appended = append(f.appended, data)
	return int64(len(f.appended)), nil
}

func (f *fakeMessageStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

func newTestRecorder() (*Recorder, *fakeSessionStore, *fakeMessageStore) {
	sessions := newFakeSessionStore()
	messages := &fakeMessageStore{}
	return New(sessions, messages, testutil.DiscardLogger()), sessions, messages
}

func TestFullRecordingLifecycle(t *testing.T) {
	ctx := context.Background()
	rec, sessions, messages := newTestRecorder()

	sessionID, err := rec.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !strings.HasPrefix(sessionID, "session_") {
		t.Errorf("Start() session id = %q, want session_ prefix", sessionID)
	}
	if state, _ := rec.Current(); state != StateAwaitingTitle {
		t.Fatalf("state after Start = %v, want AwaitingTitle", state)
	}

	// Nothing persisted until a title arrives.
	if len(sessions.saves) != 0 {
		t.Fatalf("sessions saved before title: %d", len(sessions.saves))
	}

	// The first text event becomes the title.
	outcome, err := rec.Record(ctx, Event{ChatID: "42", Username: "alice", Text: "Sprint planning", Date: time.Now()})
	if err != nil {
		t.Fatalf("Record(title) error = %v", err)
	}
	if outcome != OutcomeTitleSet {
		t.Fatalf("Record(title) outcome = %v, want TitleSet", outcome)
	}
	if state, _ := rec.Current(); state != StateActive {
		t.Fatalf("state after title = %v, want Active", state)
	}
	if got := sessions.status(sessionID); got != store.StatusActive {
		t.Errorf("session status = %q, want active", got)
	}
	if messages.count() != 0 {
		t.Errorf("title event was recorded as a message")
	}

	// Subsequent events are recorded.
	outcome, err = rec.Record(ctx, Event{ChatID: "42", Username: "bob", Text: "hello", Date: time.Now()})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if outcome != OutcomeAccepted {
		t.Fatalf("Record() outcome = %v, want Accepted", outcome)
	}
	if messages.count() != 1 {
		t.Fatalf("messages recorded = %d, want 1", messages.count())
	}
	if got := messages.appended[0]; got.SessionID == nil || *got.SessionID != sessionID {
		t.Errorf("message session id = %v, want %s", got.SessionID, sessionID)
	}

	// Stop completes the session and resets the machine.
	sess, err := rec.Stop(ctx, sessionID)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if sess == nil {
		t.Fatal("Stop() returned nil session")
	}
	if got := sessions.status(sessionID); got != store.StatusCompleted {
		t.Errorf("session status after stop = %q, want completed", got)
	}
	if state, id := rec.Current(); state != StateIdle || id != "" {
		t.Errorf("state after stop = %v/%q, want Idle/empty", state, id)
	}
}

func TestEmptyTitleRejected(t *testing.T) {
	ctx := context.Background()
	rec, sessions, _ := newTestRecorder()

	sessionID, _ := rec.Start(ctx)

	if _, err := rec.SupplyTitle(ctx, sessionID, "   "); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("SupplyTitle(blank) error = %v, want ErrEmptyTitle", err)
	}
	if state, _ := rec.Current(); state != StateAwaitingTitle {
		t.Errorf("state after rejected title = %v, want AwaitingTitle", state)
	}
	if len(sessions.saves) != 0 {
		t.Errorf("session saved despite rejected title")
	}

	// A valid retry succeeds.
	if _, err := rec.SupplyTitle(ctx, sessionID, "Retro"); err != nil {
		t.Fatalf("SupplyTitle(retry) error = %v", err)
	}
	if state, _ := rec.Current(); state != StateActive {
		t.Errorf("state after retry = %v, want Active", state)
	}
}

func TestSupplyTitleRequiresAwaitingState(t *testing.T) {
	ctx := context.Background()
	rec, _, _ := newTestRecorder()

	if _, err := rec.SupplyTitle(ctx, "session_x", "title"); !errors.Is(err, ErrNotAwaitingTitle) {
		t.Fatalf("SupplyTitle(idle) error = %v, want ErrNotAwaitingTitle", err)
	}

	sessionID, _ := rec.Start(ctx)
	if _, err := rec.SupplyTitle(ctx, "wrong_id", "title"); !errors.Is(err, ErrNotAwaitingTitle) {
		t.Fatalf("SupplyTitle(stale id) error = %v, want ErrNotAwaitingTitle", err)
	}

	// The real id still works.
	if _, err := rec.SupplyTitle(ctx, sessionID, "title"); err != nil {
		t.Fatalf("SupplyTitle() error = %v", err)
	}
}

func TestPausedEventsAreDroppedWithSignal(t *testing.T) {
	ctx := context.Background()
	rec, _, messages := newTestRecorder()

	sessionID, _ := rec.Start(ctx)
	mustSupplyTitle(t, rec, sessionID, "Standup")

	if _, err := rec.Pause(ctx, sessionID); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	outcome, err := rec.Record(ctx, Event{ChatID: "42", Username: "bob", Text: "missed", Date: time.Now()})
	if err != nil {
		t.Fatalf("Record(paused) error = %v", err)
	}
	if outcome != OutcomeDroppedPaused {
		t.Fatalf("Record(paused) outcome = %v, want DroppedPaused", outcome)
	}
	if messages.count() != 0 {
		t.Errorf("paused event was persisted")
	}

	// Resume makes recording work again.
	if _, err := rec.Resume(ctx, sessionID); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	outcome, _ = rec.Record(ctx, Event{ChatID: "42", Username: "bob", Text: "back", Date: time.Now()})
	if outcome != OutcomeAccepted {
		t.Fatalf("Record(resumed) outcome = %v, want Accepted", outcome)
	}
}

func TestIllegalTransitionsAreNoOps(t *testing.T) {
	ctx := context.Background()
	rec, sessions, _ := newTestRecorder()

	// Pause/Resume/Stop from Idle.
	if sess, err := rec.Pause(ctx, ""); sess != nil || err != nil {
		t.Errorf("Pause(idle) = %v, %v, want nil, nil", sess, err)
	}
	if sess, err := rec.Resume(ctx, ""); sess != nil || err != nil {
		t.Errorf("Resume(idle) = %v, %v, want nil, nil", sess, err)
	}
	if sess, err := rec.Stop(ctx, ""); sess != nil || err != nil {
		t.Errorf("Stop(idle) = %v, %v, want nil, nil", sess, err)
	}

	sessionID, _ := rec.Start(ctx)
	mustSupplyTitle(t, rec, sessionID, "Sync")

	// Resume while already active.
	if sess, err := rec.Resume(ctx, sessionID); sess != nil || err != nil {
		t.Errorf("Resume(active) = %v, %v, want nil, nil", sess, err)
	}
	// Pause for a stale id.
	if sess, err := rec.Pause(ctx, "session_other"); sess != nil || err != nil {
		t.Errorf("Pause(stale id) = %v, %v, want nil, nil", sess, err)
	}

	if got := sessions.status(sessionID); got != store.StatusActive {
		t.Errorf("status mutated by no-op transitions: %q", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rec, _, _ := newTestRecorder()

	sessionID, _ := rec.Start(ctx)
	mustSupplyTitle(t, rec, sessionID, "Once")

	if _, err := rec.Stop(ctx, sessionID); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	sess, err := rec.Stop(ctx, sessionID)
	if sess != nil || err != nil {
		t.Fatalf("second Stop() = %v, %v, want nil, nil", sess, err)
	}
}

func TestStopFromAwaitingTitleAbandonsQuietly(t *testing.T) {
	ctx := context.Background()
	rec, sessions, _ := newTestRecorder()

	sessionID, _ := rec.Start(ctx)

	sess, err := rec.Stop(ctx, sessionID)
	if sess != nil || err != nil {
		t.Fatalf("Stop(awaiting title) = %v, %v, want nil, nil", sess, err)
	}
	if state, _ := rec.Current(); state != StateIdle {
		t.Errorf("state = %v, want Idle", state)
	}
	if len(sessions.saves) != 0 {
		t.Errorf("abandoned session was written to the store")
	}
}

func TestRecordSurfacesStoreFailure(t *testing.T) {
	ctx := context.Background()
	rec, _, messages := newTestRecorder()

	sessionID, _ := rec.Start(ctx)
	mustSupplyTitle(t, rec, sessionID, "Flaky")

	messages.appendErr = errors.New("connection reset")

	outcome, err := rec.Record(ctx, Event{ChatID: "42", Username: "bob", Text: "lost", Date: time.Now()})
	if err == nil {
		t.Fatal("Record() error = nil, want store failure")
	}
	if outcome != OutcomeIgnored {
		t.Errorf("Record() outcome = %v, want Ignored", outcome)
	}
	// The machine stays active; later events can still succeed.
	if state, _ := rec.Current(); state != StateActive {
		t.Errorf("state after failed record = %v, want Active", state)
	}
}

func TestTitleStoreFailureKeepsAwaiting(t *testing.T) {
	ctx := context.Background()
	rec, sessions, _ := newTestRecorder()

	sessionID, _ := rec.Start(ctx)
	sessions.saveErr = errors.New("db down")

	if _, err := rec.SupplyTitle(ctx, sessionID, "Doomed"); err == nil {
		t.Fatal("SupplyTitle() error = nil, want store failure")
	}
	if state, _ := rec.Current(); state != StateAwaitingTitle {
		t.Errorf("state after failed title save = %v, want AwaitingTitle", state)
	}

	sessions.saveErr = nil
	if _, err := rec.SupplyTitle(ctx, sessionID, "Doomed"); err != nil {
		t.Fatalf("SupplyTitle(retry) error = %v", err)
	}
}

func TestStartCompletesInterruptedSession(t *testing.T) {
	ctx := context.Background()
	rec, sessions, _ := newTestRecorder()

	firstID, _ := rec.Start(ctx)
	mustSupplyTitle(t, rec, firstID, "First")

	secondID, err := rec.Start(ctx)
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if secondID == firstID {
		t.Fatal("second Start() reused the session id")
	}
	if got := sessions.status(firstID); got != store.StatusCompleted {
		t.Errorf("interrupted session status = %q, want completed", got)
	}
	if state, id := rec.Current(); state != StateAwaitingTitle || id != secondID {
		t.Errorf("state after restart = %v/%q, want AwaitingTitle/%s", state, id, secondID)
	}
}

func TestIdleEventsIgnored(t *testing.T) {
	ctx := context.Background()
	rec, _, messages := newTestRecorder()

	outcome, err := rec.Record(ctx, Event{ChatID: "42", Username: "bob", Text: "into the void", Date: time.Now()})
	if err != nil {
		t.Fatalf("Record(idle) error = %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Errorf("Record(idle) outcome = %v, want Ignored", outcome)
	}
	if messages.count() != 0 {
		t.Errorf("idle event was persisted")
	}
}

func TestSessionIDFormat(t *testing.T) {
	a, b := newSessionID(), newSessionID()
	if a == b {
		t.Errorf("newSessionID() produced duplicates: %s", a)
	}
	for _, id := range []string{a, b} {
		parts := strings.SplitN(id, "_", 3)
		if len(parts) != 3 || parts[0] != "session" {
			t.Errorf("newSessionID() = %q, want session_<ms>_<suffix>", id)
		}
	}
}

func mustSupplyTitle(t *testing.T, rec *Recorder, sessionID, title string) {
	t.Helper()
	if _, err := rec.SupplyTitle(context.Background(), sessionID, title); err != nil {
		t.Fatalf("SupplyTitle(%q) error = %v", title, err)
	}
}
