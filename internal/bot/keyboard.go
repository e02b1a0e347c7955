package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/chronicle-bot/chronicle/internal/recorder"
)

// idleKeyboard offers only the start button.
func idleKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(buttonStart),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

// activeKeyboard offers pause and stop while recording.
func activeKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(buttonPause),
			tgbotapi.NewKeyboardButton(buttonStop),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

// pausedKeyboard offers resume and stop while on hold.
func pausedKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(buttonResume),
			tgbotapi.NewKeyboardButton(buttonStop),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

// keyboardFor picks the keyboard matching a machine state.
func keyboardFor(state recorder.State) tgbotapi.ReplyKeyboardMarkup {
	switch state {
	case recorder.StateActive:
		return activeKeyboard()
	case recorder.StatePaused:
		return pausedKeyboard()
	default:
		return idleKeyboard()
	}
}
