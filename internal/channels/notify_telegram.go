package channels

import (
	"context"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// TelegramNotifier sends plain-text messages through a long-lived
// telego.Bot, the same client type the teacher's internal/channels/telegram
// package builds its ingest loop around, used here purely for outbound
// sends.
type TelegramNotifier struct {
	bot *telego.Bot
}

// NewTelegramNotifier constructs a bot from a BotFather token. Returns an
// error if the token is rejected outright (malformed, revoked).
func NewTelegramNotifier(token string) (*TelegramNotifier, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{bot: bot}, nil
}

// Send delivers text to a Telegram chat ID given as a decimal string,
// following the teacher's tu.ID(chatID) -> tu.Message(...) ->
// bot.SendMessage(ctx, msg) call shape.
func (n *TelegramNotifier) Send(ctx context.Context, target, text string) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return err
	}
	msg := tu.Message(tu.ID(chatID), text)
	_, err = n.bot.SendMessage(ctx, msg)
	return err
}
