// Package bot runs the Telegram front end: it drives the recording state
// machine from chat commands and buttons and feeds group messages into the
// recording pipeline.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/chronicle-bot/chronicle/internal/recorder"
	"github.com/chronicle-bot/chronicle/internal/store"
)

// Keyboard button labels. The plain-text handler must ignore these so a
// button press is never recorded as a conversation message.
const (
	buttonStart  = "🎙️ START RECORDING"
	buttonPause  = "⏸️ PAUSE RECORDING"
	buttonResume = "▶️ RESUME RECORDING"
	buttonStop   = "⏹️ STOP RECORDING"
)

// sender is the outbound Telegram surface. Satisfied by *tgbotapi.BotAPI;
// tests substitute a capture fake.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// machine is the recording state machine surface the bot drives.
// Satisfied by *recorder.Recorder.
type machine interface {
	Current() (recorder.State, string)
	Start(ctx context.Context) (string, error)
	Pause(ctx context.Context, sessionID string) (*store.Session, error)
	Resume(ctx context.Context, sessionID string) (*store.Session, error)
	Stop(ctx context.Context, sessionID string) (*store.Session, error)
	Record(ctx context.Context, ev recorder.Event) (recorder.Outcome, error)
}

// statsReader provides the database counters for the admin status command.
// Satisfied by *store.Store.
type statsReader interface {
	SessionStatusCounts(ctx context.Context) (map[string]int, error)
	CountAllMessages(ctx context.Context) (int, error)
}

// Config contains the bot dependencies.
type Config struct {
	API      *tgbotapi.BotAPI
	Machine  machine
	Stats    statsReader // Optional: nil disables /dbstatus
	AdminIDs []int64     // Telegram user ids allowed to run admin commands
	Logger   *slog.Logger
}

// Bot is the Telegram long-polling front end.
type Bot struct {
	api     *tgbotapi.BotAPI
	send    sender
	machine machine
	stats   statsReader
	admins  map[int64]struct{}
	logger  *slog.Logger
}

// New creates a Bot. The API handle is required.
func New(cfg Config) (*Bot, error) {
	if cfg.API == nil {
		return nil, errors.New("telegram api is required")
	}
	if cfg.Machine == nil {
		return nil, errors.New("recording machine is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	admins := make(map[int64]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = struct{}{}
	}

	return &Bot{
		api:     cfg.API,
		send:    cfg.API,
		machine: cfg.Machine,
		stats:   cfg.Stats,
		admins:  admins,
		logger:  logger,
	}, nil
}

// Run blocks consuming updates via long polling until ctx is canceled.
func (b *Bot) Run(ctx context.Context) {
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := b.api.GetUpdatesChan(updateCfg)

	b.logger.Info("telegram bot started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("telegram bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

// handleUpdate routes one inbound update. Exported to tests via
// handleUpdate calls with synthetic updates.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	switch msg.Text {
	case buttonStart:
		b.startRecording(ctx, msg)
	case buttonPause:
		b.pauseRecording(ctx, msg)
	case buttonResume:
		b.resumeRecording(ctx, msg)
	case buttonStop:
		b.stopRecording(ctx, msg)
	default:
		b.handleText(ctx, msg)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.reply(msg, "Yo! I'm ready whenever you are. Press the button to start recording.", idleKeyboard())
	case "record":
		b.startRecording(ctx, msg)
	case "pause":
		b.pauseRecording(ctx, msg)
	case "resume":
		b.resumeRecording(ctx, msg)
	case "stop":
		b.stopRecording(ctx, msg)
	case "status":
		b.recordingStatus(msg)
	case "dbstatus":
		b.databaseStatus(ctx, msg)
	default:
		// Unknown commands are ignored; group chats see many bots.
	}
}

// startRecording reserves a session and asks for its title.
func (b *Bot) startRecording(ctx context.Context, msg *tgbotapi.Message) {
	sessionID, err := b.machine.Start(ctx)
	if err != nil {
		b.logger.Error("starting recording", "error", err)
		b.reply(msg, "❌ Failed to start recording session. Please try again.", idleKeyboard())
		return
	}

	b.logger.Info("awaiting session title", "session_id", sessionID, "chat_id", msg.Chat.ID)
	b.reply(msg, "Please enter a title for this recording session:", nil)
}

func (b *Bot) pauseRecording(ctx context.Context, msg *tgbotapi.Message) {
	_, sessionID := b.machine.Current()

	sess, err := b.machine.Pause(ctx, sessionID)
	if err != nil {
		b.logger.Error("pausing recording", "session_id", sessionID, "error", err)
		b.reply(msg, "⚠️ Recording paused, but the session status could not be saved.", pausedKeyboard())
		return
	}
	if sess == nil {
		b.reply(msg, "No active recording to pause.", idleKeyboard())
		return
	}

	b.reply(msg, "Recording paused. Session is on hold. Press resume to continue recording in this session.", pausedKeyboard())
}

func (b *Bot) resumeRecording(ctx context.Context, msg *tgbotapi.Message) {
	_, sessionID := b.machine.Current()

	sess, err := b.machine.Resume(ctx, sessionID)
	if err != nil {
		b.logger.Error("resuming recording", "session_id", sessionID, "error", err)
		b.reply(msg, "⚠️ Recording resumed, but the session status could not be saved.", activeKeyboard())
		return
	}
	if sess == nil {
		b.reply(msg, "No paused recording to resume.", idleKeyboard())
		return
	}

	b.reply(msg, "Recording resumed. Continuing session.", activeKeyboard())
}

func (b *Bot) stopRecording(ctx context.Context, msg *tgbotapi.Message) {
	state, sessionID := b.machine.Current()
	if state == recorder.StateAwaitingTitle {
		// Abandoning a title prompt: stopping before the session exists in
		// the store just resets the machine.
		if _, err := b.machine.Stop(ctx, sessionID); err != nil {
			b.logger.Warn("stopping pending recording", "session_id", sessionID, "error", err)
		}
		b.reply(msg, "Recording canceled before it started.", idleKeyboard())
		return
	}

	sess, err := b.machine.Stop(ctx, sessionID)
	if err != nil {
		b.logger.Error("stopping recording", "session_id", sessionID, "error", err)
		b.reply(msg, "Recording stopped. Note: There was an error updating the session status. Press the button to start a new session.", idleKeyboard())
		return
	}
	if sess == nil && sessionID == "" {
		b.reply(msg, "No active recording to stop.", idleKeyboard())
		return
	}

	b.reply(msg, "Recording stopped. Session completed successfully. Press the button to start a new session.", idleKeyboard())
}

// handleText processes a plain conversation message through the recording
// gate and replies according to the outcome.
func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	ev := recorder.Event{
		ChatID:   fmt.Sprintf("%d", msg.Chat.ID),
		Username: senderName(msg),
		Text:     msg.Text,
		Date:     time.Unix(int64(msg.Date), 0),
	}

	outcome, err := b.machine.Record(ctx, ev)
	switch {
	case errors.Is(err, recorder.ErrEmptyTitle):
		b.reply(msg, "Please enter a valid title for the session:", nil)
		return
	case err != nil:
		b.logger.Error("recording message", "chat_id", ev.ChatID, "error", err)
		return
	}

	switch outcome {
	case recorder.OutcomeAccepted:
		// Silent: an acknowledgment per message would flood the chat.
	case recorder.OutcomeTitleSet:
		_, sessionID := b.machine.Current()
		text := fmt.Sprintf(`✅ Recording started!

📝 Session: %q
🆔 ID: %s
🎤 Status: ACTIVE

🗣️ Start chatting and I'll record everything!`, strings.TrimSpace(msg.Text), sessionID)
		b.reply(msg, text, activeKeyboard())
	case recorder.OutcomeDroppedPaused:
		b.reply(msg, "Recording is currently paused. Press the resume button to continue recording.", pausedKeyboard())
	case recorder.OutcomeIgnored:
		if len(msg.Text) > 3 {
			b.reply(msg, "🎙️ Recording is not active. Press 'START RECORDING' to begin a new session.", idleKeyboard())
		}
	}
}

// recordingStatus replies with the machine's current state.
func (b *Bot) recordingStatus(msg *tgbotapi.Message) {
	state, sessionID := b.machine.Current()

	text := fmt.Sprintf("🎤 Recording status: %s", strings.ToUpper(state.String()))
	if sessionID != "" {
		text += fmt.Sprintf("\n🆔 Session: %s", sessionID)
	}
	b.reply(msg, text, keyboardFor(state))
}

// databaseStatus replies with session/message counters. Admin only.
func (b *Bot) databaseStatus(ctx context.Context, msg *tgbotapi.Message) {
	if !b.isAdmin(msg.From) {
		b.reply(msg, "🚫 You are not authorized to view database information.", nil)
		return
	}
	if b.stats == nil {
		b.reply(msg, "Database status is not available.", nil)
		return
	}

	counts, err := b.stats.SessionStatusCounts(ctx)
	if err != nil {
		b.logger.Error("reading session status counts", "error", err)
		b.reply(msg, "❌ Database query failed.", nil)
		return
	}
	total, err := b.stats.CountAllMessages(ctx)
	if err != nil {
		b.logger.Error("counting messages", "error", err)
		b.reply(msg, "❌ Database query failed.", nil)
		return
	}

	var sb strings.Builder
	sb.WriteString("📊 Database Status\n\n")
	fmt.Fprintf(&sb, "• Messages: %d\n", total)
	sessions := 0
	for _, n := range counts {
		sessions += n
	}
	fmt.Fprintf(&sb, "• Sessions: %d\n", sessions)
	for _, status := range []string{store.StatusActive, store.StatusPaused, store.StatusCompleted, "unknown"} {
		if n, ok := counts[status]; ok {
			fmt.Fprintf(&sb, "  - %s: %d\n", status, n)
		}
	}
	b.reply(msg, sb.String(), nil)
}

func (b *Bot) isAdmin(user *tgbotapi.User) bool {
	if user == nil {
		return false
	}
	_, ok := b.admins[user.ID]
	return ok
}

// reply sends text back to the message's chat, optionally attaching a
// reply keyboard. Send failures are logged, never fatal.
func (b *Bot) reply(msg *tgbotapi.Message, text string, keyboard any) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	if keyboard != nil {
		out.ReplyMarkup = keyboard
	}
	if _, err := b.send.Send(out); err != nil {
		b.logger.Warn("sending reply", "chat_id", msg.Chat.ID, "error", err)
	}
}

// senderName resolves a display name for the message author.
func senderName(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return "Anonymous"
	}
	if msg.From.UserName != "" {
		return msg.From.UserName
	}
	if msg.From.FirstName != "" {
		return msg.From.FirstName
	}
	return "Anonymous"
}
