package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cbNewDocument = "new_document"
	cbStatus      = "status"
)

// resultKeyboard follows a rendered result or failure.
func resultKeyboard() tgbotapi.InlineKeyboardMarkup {
	again := tgbotapi.NewInlineKeyboardButtonData("New document", cbNewDocument)
	status := tgbotapi.NewInlineKeyboardButtonData("Status", cbStatus)
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(again, status))
}
