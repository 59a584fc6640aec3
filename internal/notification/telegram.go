package notification

import (
	"context"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

type TelegoSender struct {
	bot *telego.Bot
}

func NewTelegoSender(bot *telego.Bot) *TelegoSender {
	return &TelegoSender{bot: bot}
}

func (s *TelegoSender) SendText(ctx context.Context, chatID int64, html string) error {
	_, err := s.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), html).WithParseMode(telego.ModeHTML))
	return err
}
