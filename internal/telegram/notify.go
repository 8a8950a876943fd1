package telegram

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"habitline/internal/domain"
)

// Notifier pushes settlement messages to users. A zero Notifier (no API) is
// a silent no-op so the server runs fine without a bot token.
type Notifier struct {
	API *tgbotapi.BotAPI
}

func (n Notifier) Send(chatID int64, text string) {
	if n.API == nil {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := n.API.Send(msg); err != nil {
		log.Printf("[warn] telegram send to %d: %v", chatID, err)
	}
}

// NotifySettlement formats and sends the close summary for a session.
func (n Notifier) NotifySettlement(chatID int64, st domain.Settlement) {
	scope := "Day"
	if st.Scope == domain.ScopeWeek {
		scope = "Week"
	}
	text := fmt.Sprintf("%s closed.\nDone: %d\nCanceled: %d\nFailed: %d\nTo transfer: %s %s",
		scope, st.DoneCount, st.CanceledCount, st.FailedCount, st.AmountToTransfer.StringFixed(2), st.Currency)
	n.Send(chatID, text)
}
