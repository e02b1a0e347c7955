package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/chronicle-bot/chronicle/internal/recorder"
	"github.com/chronicle-bot/chronicle/internal/store"
	"github.com/chronicle-bot/chronicle/internal/testutil"
)

// fakeSender captures outbound messages instead of hitting Telegram.
type fakeSender struct {
	sent []tgbotapi.MessageConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no message was sent")
	}
	return f.sent[len(f.sent)-1]
}

// fakeMachine is a scriptable recording state machine.
type fakeMachine struct {
	state     recorder.State
	sessionID string

	startErr  error
	pauseSess *store.Session
	pauseErr  error
	stopSess  *store.Session
	stopErr   error
	outcome   recorder.Outcome
	recordErr error

	startCalls int
	stopCalls  int
	events     []recorder.Event
}

func (f *fakeMachine) Current() (recorder.State, string) {
	return f.state, f.sessionID
}

func (f *fakeMachine) Start(context.Context) (string, error) {
	f.startCalls++
	if f.startErr != nil {
		return "", f.startErr
	}
	f.state = recorder.StateAwaitingTitle
	f.sessionID = "session_1700000000000_test"
	return f.sessionID, nil
}

func (f *fakeMachine) Pause(_ context.Context, _ string) (*store.Session, error) {
	return f.pauseSess, f.pauseErr
}

func (f *fakeMachine) Resume(_ context.Context, _ string) (*store.Session, error) {
	return f.pauseSess, f.pauseErr
}

func (f *fakeMachine) Stop(_ context.Context, _ string) (*store.Session, error) {
	f.stopCalls++
	return f.stopSess, f.stopErr
}

func (f *fakeMachine) Record(_ context.Context, ev recorder.Event) (recorder.Outcome, error) {
	f.events = append(f.events, ev)
	return f.outcome, f.recordErr
}

// fakeStats serves the admin database counters.
type fakeStats struct {
	counts map[string]int
	total  int
}

func (f *fakeStats) SessionStatusCounts(context.Context) (map[string]int, error) {
	return f.counts, nil
}

func (f *fakeStats) CountAllMessages(context.Context) (int, error) {
	return f.total, nil
}

func newTestBot(t *testing.T, m *fakeMachine, stats statsReader, adminIDs ...int64) (*Bot, *fakeSender) {
	t.Helper()

	b, err := New(Config{
		API:      &tgbotapi.BotAPI{},
		Machine:  m,
		Stats:    stats,
		AdminIDs: adminIDs,
		Logger:   testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sender := &fakeSender{}
	b.send = sender
	return b, sender
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text: text,
			Chat: &tgbotapi.Chat{ID: chatID},
			From: &tgbotapi.User{ID: 7, UserName: "alice"},
			Date: int(time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC).Unix()),
		},
	}
}

func commandUpdate(chatID int64, command string) tgbotapi.Update {
	u := textUpdate(chatID, command)
	u.Message.Entities = []tgbotapi.MessageEntity{
		{Type: "bot_command", Offset: 0, Length: len(command)},
	}
	return u
}

func hasButton(markup any, label string) bool {
	kb, ok := markup.(tgbotapi.ReplyKeyboardMarkup)
	if !ok {
		return false
	}
	for _, row := range kb.Keyboard {
		for _, btn := range row {
			if btn.Text == label {
				return true
			}
		}
	}
	return false
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{Machine: &fakeMachine{}}); err == nil {
		t.Error("New() without API did not fail")
	}
	if _, err := New(Config{API: &tgbotapi.BotAPI{}}); err == nil {
		t.Error("New() without machine did not fail")
	}
}

func TestStartCommandShowsStartButton(t *testing.T) {
	m := &fakeMachine{}
	b, sender := newTestBot(t, m, nil)

	b.handleUpdate(context.Background(), commandUpdate(42, "/start"))

	reply := sender.last(t)
	if reply.ChatID != 42 {
		t.Errorf("reply chat = %d, want 42", reply.ChatID)
	}
	if !hasButton(reply.ReplyMarkup, buttonStart) {
		t.Errorf("reply keyboard missing start button: %+v", reply.ReplyMarkup)
	}
}

func TestStartButtonAsksForTitle(t *testing.T) {
	m := &fakeMachine{}
	b, sender := newTestBot(t, m, nil)

	b.handleUpdate(context.Background(), textUpdate(42, buttonStart))

	if m.startCalls != 1 {
		t.Fatalf("Start called %d times, want 1", m.startCalls)
	}
	if !strings.Contains(sender.last(t).Text, "enter a title") {
		t.Errorf("reply = %q, want title prompt", sender.last(t).Text)
	}
	// The button press must never reach the recording pipeline.
	if len(m.events) != 0 {
		t.Errorf("button press was recorded as a message: %+v", m.events)
	}
}

func TestRecordCommandMatchesButton(t *testing.T) {
	m := &fakeMachine{}
	b, sender := newTestBot(t, m, nil)

	b.handleUpdate(context.Background(), commandUpdate(42, "/record"))

	if m.startCalls != 1 {
		t.Fatalf("Start called %d times, want 1", m.startCalls)
	}
	if !strings.Contains(sender.last(t).Text, "enter a title") {
		t.Errorf("reply = %q", sender.last(t).Text)
	}
}

func TestTitleMessageAnnouncesSession(t *testing.T) {
	m := &fakeMachine{
		state:     recorder.StateActive,
		sessionID: "session_1700000000000_test",
		outcome:   recorder.OutcomeTitleSet,
	}
	b, sender := newTestBot(t, m, nil)

	b.handleUpdate(context.Background(), textUpdate(42, "Sprint planning"))

	reply := sender.last(t)
	if !strings.Contains(reply.Text, "Recording started!") {
		t.Errorf("reply = %q, want start announcement", reply.Text)
	}
	if !strings.Contains(reply.Text, "session_1700000000000_test") {
		t.Errorf("reply missing session id: %q", reply.Text)
	}
	if !hasButton(reply.ReplyMarkup, buttonPause) || !hasButton(reply.ReplyMarkup, buttonStop) {
		t.Errorf("reply keyboard is not the active one: %+v", reply.ReplyMarkup)
	}
}

func TestEmptyTitleAsksAgain(t *testing.T) {
	m := &fakeMachine{state: recorder.StateAwaitingTitle, recordErr: recorder.ErrEmptyTitle}
	b, sender := newTestBot(t, m, nil)

	b.handleUpdate(context.Background(), textUpdate(42, "   "))

	if !strings.Contains(sender.last(t).Text, "valid title") {
		t.Errorf("reply = %q, want retry prompt", sender.last(t).Text)
	}
}

func TestAcceptedMessagesAreSilent(t *testing.T) {
	m := &fakeMachine{state: recorder.StateActive, sessionID: "session_1", outcome: recorder.OutcomeAccepted}
	b, sender := newTestBot(t, m, nil)

	b.handleUpdate(context.Background(), textUpdate(42, "let's ship it"))

	if len(sender.sent) != 0 {
		t.Errorf("accepted message triggered %d replies, want 0", len(sender.sent))
	}
	if len(m.events) != 1 {
		t.Fatalf("Record called %d times, want 1", len(m.events))
	}
	ev := m.events[0]
	if ev.ChatID != "42" || ev.Username != "alice" || ev.Text != "let's ship it" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Date.IsZero() {
		t.Error("event date is zero")
	}
}

func TestPausedMessagesGetHoldReply(t *testing.T) {
	m := &fakeMachine{state: recorder.StatePaused, sessionID: "session_1", outcome: recorder.OutcomeDroppedPaused}
	b, sender := newTestBot(t, m, nil)

	b.handleUpdate(context.Background(), textUpdate(42, "anyone here?"))

	reply := sender.last(t)
	if !strings.Contains(reply.Text, "currently paused") {
		t.Errorf("reply = %q", reply.Text)
	}
	if !hasButton(reply.ReplyMarkup, buttonResume) {
		t.Errorf("reply keyboard is not the paused one: %+v", reply.ReplyMarkup)
	}
}

func TestIdleChatterReplyIsGatedByLength(t *testing.T) {
	m := &fakeMachine{outcome: recorder.OutcomeIgnored}
	b, sender := newTestBot(t, m, nil)

	// Short noise gets no reply.
	b.handleUpdate(context.Background(), textUpdate(42, "ok"))
	if len(sender.sent) != 0 {
		t.Fatalf("short idle message got a reply: %q", sender.sent[0].Text)
	}

	// Longer text earns the hint.
	b.handleUpdate(context.Background(), textUpdate(42, "hello everyone"))
	if !strings.Contains(sender.last(t).Text, "not active") {
		t.Errorf("reply = %q, want idle hint", sender.last(t).Text)
	}
}

func TestPauseWithoutSession(t *testing.T) {
	m := &fakeMachine{}
	b, sender := newTestBot(t, m, nil)

	b.handleUpdate(context.Background(), textUpdate(42, buttonPause))

	if !strings.Contains(sender.last(t).Text, "No active recording to pause") {
		t.Errorf("reply = %q", sender.last(t).Text)
	}
}

func TestPauseActiveSession(t *testing.T) {
	m := &fakeMachine{
		state:     recorder.StateActive,
		sessionID: "session_1",
		pauseSess: &store.Session{ID: "session_1"},
	}
	b, sender := newTestBot(t, m, nil)

	b.handleUpdate(context.Background(), textUpdate(42, buttonPause))

	reply := sender.last(t)
	if !strings.Contains(reply.Text, "Recording paused") {
		t.Errorf("reply = %q", reply.Text)
	}
	if !hasButton(reply.ReplyMarkup, buttonResume) {
		t.Errorf("reply keyboard is not the paused one: %+v", reply.ReplyMarkup)
	}
}

func TestStopCompletedSession(t *testing.T) {
	m := &fakeMachine{
		state:     recorder.StateActive,
		sessionID: "session_1",
		stopSess:  &store.Session{ID: "session_1"},
	}
	b, sender := newTestBot(t, m, nil)

	b.handleUpdate(context.Background(), textUpdate(42, buttonStop))

	reply := sender.last(t)
	if !strings.Contains(reply.Text, "completed successfully") {
		t.Errorf("reply = %q", reply.Text)
	}
	if !hasButton(reply.ReplyMarkup, buttonStart) {
		t.Errorf("reply keyboard is not the idle one: %+v", reply.ReplyMarkup)
	}
}

func TestStopWhileAwaitingTitleCancels(t *testing.T) {
	m := &fakeMachine{state: recorder.StateAwaitingTitle, sessionID: "session_1"}
	b, sender := newTestBot(t, m, nil)

	b.handleUpdate(context.Background(), textUpdate(42, buttonStop))

	if m.stopCalls != 1 {
		t.Fatalf("Stop called %d times, want 1", m.stopCalls)
	}
	if !strings.Contains(sender.last(t).Text, "canceled before it started") {
		t.Errorf("reply = %q", sender.last(t).Text)
	}
}

func TestStatusCommand(t *testing.T) {
	m := &fakeMachine{state: recorder.StateActive, sessionID: "session_1"}
	b, sender := newTestBot(t, m, nil)

	b.handleUpdate(context.Background(), commandUpdate(42, "/status"))

	reply := sender.last(t)
	if !strings.Contains(reply.Text, "ACTIVE") {
		t.Errorf("reply = %q, want uppercase state", reply.Text)
	}
	if !strings.Contains(reply.Text, "session_1") {
		t.Errorf("reply missing session id: %q", reply.Text)
	}
}

func TestDatabaseStatusRequiresAdmin(t *testing.T) {
	stats := &fakeStats{counts: map[string]int{store.StatusActive: 1, store.StatusCompleted: 4}, total: 120}
	m := &fakeMachine{}

	// User 7 is not in the admin list.
	b, sender := newTestBot(t, m, stats, 999)
	b.handleUpdate(context.Background(), commandUpdate(42, "/dbstatus"))
	if !strings.Contains(sender.last(t).Text, "not authorized") {
		t.Errorf("reply = %q, want denial", sender.last(t).Text)
	}

	// Same command from an admin.
	b, sender = newTestBot(t, m, stats, 7)
	b.handleUpdate(context.Background(), commandUpdate(42, "/dbstatus"))
	reply := sender.last(t)
	if !strings.Contains(reply.Text, "Messages: 120") {
		t.Errorf("reply = %q, want message count", reply.Text)
	}
	if !strings.Contains(reply.Text, "Sessions: 5") {
		t.Errorf("reply = %q, want session total", reply.Text)
	}
}

func TestNonTextUpdatesAreIgnored(t *testing.T) {
	m := &fakeMachine{}
	b, sender := newTestBot(t, m, nil)

	b.handleUpdate(context.Background(), tgbotapi.Update{})
	b.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}}})

	if len(sender.sent) != 0 || len(m.events) != 0 {
		t.Errorf("empty updates produced activity: sent=%d events=%d", len(sender.sent), len(m.events))
	}
}

func TestSenderName(t *testing.T) {
	tests := []struct {
		name string
		from *tgbotapi.User
		want string
	}{
		{"username", &tgbotapi.User{UserName: "alice", FirstName: "Alice"}, "alice"},
		{"first name fallback", &tgbotapi.User{FirstName: "Alice"}, "Alice"},
		{"anonymous", &tgbotapi.User{}, "Anonymous"},
		{"nil sender", nil, "Anonymous"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &tgbotapi.Message{From: tt.from}
			if got := senderName(msg); got != tt.want {
				t.Errorf("senderName() = %q, want %q", got, tt.want)
			}
		})
	}
}
