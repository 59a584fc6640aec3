// Package bot is the Telegram front end: registration, campaign deep links, balance and traffic purchases.
package bot

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/samber/lo"

	"vpn-billing/internal/campaign"
	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/logger"
	"vpn-billing/internal/notification"
	"vpn-billing/internal/payment"
	"vpn-billing/internal/repository"
	"vpn-billing/internal/traffic"
)

const (
	callbackTrafficAdd   = "traffic_add_"
	callbackTrafficReset = "traffic_reset"

	minTopupRubles = 100
)

type CampaignApplier interface {
	ApplyByStartParameter(ctx context.Context, userID uint, param string) campaign.BonusResult
}

type TrafficBuyer interface {
	AddTraffic(ctx context.Context, userID uint, gb int) traffic.Result
	ResetTraffic(ctx context.Context, userID uint) traffic.Result
}

type TopupCreator interface {
	CreateTopup(ctx context.Context, userID uint, amountKopeks int64) (*payment.Topup, error)
}

type Bot struct {
	api       *telego.Bot
	store     *repository.Store
	campaigns CampaignApplier
	traffic   TrafficBuyer
	payments  TopupCreator
	packages  []int
	log       *logger.Logger
}

// NewBot wires the handlers. topupPrices keys become the traffic package buttons.
func NewBot(
	api *telego.Bot,
	store *repository.Store,
	campaigns CampaignApplier,
	trafficSvc TrafficBuyer,
	payments TopupCreator,
	topupPrices map[int]int64,
	log *logger.Logger,
) *Bot {
	packages := lo.Keys(topupPrices)
	sort.Ints(packages)
	// Unlimited goes last.
	if len(packages) > 0 && packages[0] == 0 {
		packages = append(packages[1:], 0)
	}
	return &Bot{
		api:       api,
		store:     store,
		campaigns: campaigns,
		traffic:   trafficSvc,
		payments:  payments,
		packages:  packages,
		log:       log.With("component", "bot"),
	}
}

// Start polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.api.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return ierr.Wrap(err, "failed to start long polling")
	}
	handler, err := th.NewBotHandler(b.api, updates)
	if err != nil {
		return ierr.Wrap(err, "failed to create bot handler")
	}

	handler.Handle(func(c *th.Context, update telego.Update) error {
		msg := update.Message
		text, markup := b.onStart(c.Context(), *msg.From, commandArgs(msg.Text))
		b.reply(c.Context(), msg.Chat.ID, text, markup)
		return nil
	}, th.CommandEqual("start"))

	handler.Handle(func(c *th.Context, update telego.Update) error {
		msg := update.Message
		b.reply(c.Context(), msg.Chat.ID, b.onBalance(c.Context(), msg.From.ID), nil)
		return nil
	}, th.CommandEqual("balance"))

	handler.Handle(func(c *th.Context, update telego.Update) error {
		msg := update.Message
		b.reply(c.Context(), msg.Chat.ID, b.onTopup(c.Context(), msg.From.ID, commandArgs(msg.Text)), nil)
		return nil
	}, th.CommandEqual("topup"))

	handler.Handle(func(c *th.Context, update telego.Update) error {
		cb := update.CallbackQuery
		gb, err := strconv.Atoi(strings.TrimPrefix(cb.Data, callbackTrafficAdd))
		text := "❌ Неизвестный пакет трафика."
		if err == nil {
			text = b.onTrafficAdd(c.Context(), cb.From.ID, gb)
		}
		b.reply(c.Context(), cb.From.ID, text, nil)
		_ = c.Bot().AnswerCallbackQuery(c.Context(), tu.CallbackQuery(cb.ID))
		return nil
	}, th.CallbackDataPrefix(callbackTrafficAdd))

	handler.Handle(func(c *th.Context, update telego.Update) error {
		cb := update.CallbackQuery
		b.reply(c.Context(), cb.From.ID, b.onTrafficReset(c.Context(), cb.From.ID), nil)
		_ = c.Bot().AnswerCallbackQuery(c.Context(), tu.CallbackQuery(cb.ID))
		return nil
	}, th.CallbackDataEqual(callbackTrafficReset))

	go func() {
		<-ctx.Done()
		_ = handler.Stop()
	}()

	b.log.Infow("Telegram bot started")
	return handler.Start()
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string, markup *telego.InlineKeyboardMarkup) {
	params := tu.Message(tu.ID(chatID), text).WithParseMode(telego.ModeHTML)
	if markup != nil {
		params = params.WithReplyMarkup(markup)
	}
	if _, err := b.api.SendMessage(ctx, params); err != nil {
		b.log.Warnw("Failed to send reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) onStart(ctx context.Context, from telego.User, param string) (string, *telego.InlineKeyboardMarkup) {
	user, created, err := b.store.EnsureTelegramUser(ctx, from.ID, from.Username, from.LanguageCode)
	if err != nil {
		b.log.Errorw("Failed to register user", "telegram_id", from.ID, "error", err)
		return "❌ Не удалось зарегистрироваться. Попробуйте позже.", nil
	}
	if created {
		b.log.Infow("User registered", "telegram_id", from.ID, "user_id", user.ID, "start_parameter", param)
	}

	text := fmt.Sprintf("Привет, %s! 👋\n\nБаланс: %s", from.FirstName, notification.FormatKopeks(user.BalanceKopeks))
	if param != "" {
		res := b.campaigns.ApplyByStartParameter(ctx, user.ID, param)
		if !res.Success && res.Error != campaign.CodeDuplicateGrant && res.Error != campaign.CodeCampaignNotFound {
			b.log.Warnw("Campaign bonus not applied", "user_id", user.ID, "start_parameter", param, "code", res.Error)
		}
	}
	return text, b.menu()
}

func (b *Bot) onBalance(ctx context.Context, telegramID int64) string {
	user, err := b.store.GetUserByTelegramID(ctx, telegramID)
	if ierr.Is(err, ierr.ErrNotFound) {
		return "👤 Профиль не найден. Нажмите /start."
	}
	if err != nil {
		b.log.Errorw("Failed to load user", "telegram_id", telegramID, "error", err)
		return "❌ Ошибка. Попробуйте позже."
	}
	return fmt.Sprintf("💰 Ваш баланс: %s", notification.FormatKopeks(user.BalanceKopeks))
}

func (b *Bot) onTopup(ctx context.Context, telegramID int64, arg string) string {
	rubles, err := strconv.Atoi(arg)
	if err != nil || rubles < minTopupRubles {
		return fmt.Sprintf("Укажите сумму: /topup <рубли>, не меньше %d.", minTopupRubles)
	}
	user, err := b.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return "👤 Профиль не найден. Нажмите /start."
	}

	topup, err := b.payments.CreateTopup(ctx, user.ID, int64(rubles)*100)
	if ierr.Is(err, payment.ErrTopupRestricted) {
		return "⛔ Пополнение баланса недоступно."
	}
	if err != nil {
		b.log.Errorw("Failed to create top-up", "user_id", user.ID, "error", err)
		return "❌ Ошибка при создании платежа."
	}
	return fmt.Sprintf("💳 Ссылка для пополнения на %s:\n%s", notification.FormatKopeks(int64(rubles)*100), topup.ConfirmationURL)
}

func (b *Bot) onTrafficAdd(ctx context.Context, telegramID int64, gb int) string {
	user, err := b.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return "👤 Профиль не найден. Нажмите /start."
	}
	res := b.traffic.AddTraffic(ctx, user.ID, gb)
	if res.Success {
		// The service notifies the user with details.
		return "✅ Трафик добавлен."
	}
	return failureText(res)
}

func (b *Bot) onTrafficReset(ctx context.Context, telegramID int64) string {
	user, err := b.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return "👤 Профиль не найден. Нажмите /start."
	}
	res := b.traffic.ResetTraffic(ctx, user.ID)
	if res.Success {
		return "✅ Счётчик трафика сброшен."
	}
	return failureText(res)
}

func (b *Bot) menu() *telego.InlineKeyboardMarkup {
	rows := make([][]telego.InlineKeyboardButton, 0, len(b.packages)+1)
	for _, chunk := range lo.Chunk(b.packages, 3) {
		row := lo.Map(chunk, func(gb int, _ int) telego.InlineKeyboardButton {
			return tu.InlineKeyboardButton("➕ " + packageLabel(gb)).WithCallbackData(callbackTrafficAdd + strconv.Itoa(gb))
		})
		rows = append(rows, tu.InlineKeyboardRow(row...))
	}
	rows = append(rows, tu.InlineKeyboardRow(
		tu.InlineKeyboardButton("🔄 Сбросить трафик").WithCallbackData(callbackTrafficReset),
	))
	return tu.InlineKeyboard(rows...)
}

func failureText(res traffic.Result) string {
	switch res.Error {
	case traffic.CodeInsufficientFunds:
		return fmt.Sprintf("❌ Недостаточно средств. Не хватает %s.\nПокупка сохранена и завершится после пополнения баланса.",
			notification.FormatKopeks(res.Missing))
	case traffic.CodeSubscriptionNotFound:
		return "❌ У вас нет подписки."
	case traffic.CodeTrialSubscription:
		return "❌ Недоступно на пробной подписке."
	case traffic.CodeUnlimited:
		return "♾ У вас уже безлимитный трафик."
	case traffic.CodeTopupLimitExceeded:
		return "❌ Превышен лимит докупки трафика."
	case traffic.CodeTopupDisabled, traffic.CodeTrafficFixed:
		return "❌ Докупка трафика недоступна."
	case traffic.CodeInternal:
		return "❌ Ошибка. Попробуйте позже."
	default:
		return "❌ Пакет недоступен."
	}
}

func packageLabel(gb int) string {
	if gb == 0 {
		return "Безлимит"
	}
	return fmt.Sprintf("%d ГБ", gb)
}

func commandArgs(text string) string {
	parts := strings.Fields(text)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
