package notification

import (
	"fmt"
	"html"
	"time"

	"github.com/shopspring/decimal"
)

// FormatKopeks renders an amount as rubles, e.g. 3000 -> "30.00 ₽".
func FormatKopeks(kopeks int64) string {
	return decimal.New(kopeks, -2).StringFixed(2) + " ₽"
}

func formatGB(gb int) string {
	if gb == 0 {
		return "безлимит"
	}
	return fmt.Sprintf("%d ГБ", gb)
}

func DailyDebit(tariffName string, amount, balance int64, endDate time.Time) Message {
	return Message{
		Type:    TypeDailyDebit,
		Subject: "Списание за сутки",
		Text: fmt.Sprintf("💳 Списана суточная оплата тарифа «%s»: <b>%s</b>\nПодписка активна до %s\nБаланс: %s",
			html.EscapeString(tariffName), FormatKopeks(amount), endDate.Format("02.01.2006 15:04"), FormatKopeks(balance)),
	}
}

func DailyInsufficientFunds(tariffName string, required, balance int64) Message {
	missing := max(required-balance, 0)
	return Message{
		Type:    TypeDailyInsufficientFunds,
		Subject: "Подписка приостановлена",
		Text: fmt.Sprintf("⚠️ Подписка «%s» приостановлена: недостаточно средств.\n"+
			"Требуется: %s\nНа балансе: %s\nНе хватает: <b>%s</b>\n\n"+
			"Пополните баланс, и подписка возобновится автоматически.",
			html.EscapeString(tariffName), FormatKopeks(required), FormatKopeks(balance), FormatKopeks(missing)),
	}
}

func TrafficReset(expiredGB, newLimitGB int) Message {
	return Message{
		Type:    TypeTrafficReset,
		Subject: "Докупленный трафик истёк",
		Text: fmt.Sprintf("📉 Срок действия докупленного трафика истёк: −%d ГБ.\nТекущий лимит: <b>%s</b>",
			expiredGB, formatGB(newLimitGB)),
	}
}

func TrafficAdded(gb int, charged int64, newLimitGB int, expiresAt time.Time) Message {
	text := fmt.Sprintf("✅ Трафик добавлен: <b>%s</b>\nСписано: %s\nТекущий лимит: %s",
		formatGB(gb), FormatKopeks(charged), formatGB(newLimitGB))
	if gb != 0 {
		text += fmt.Sprintf("\nДействует до %s", expiresAt.Format("02.01.2006"))
	}
	return Message{Type: TypeTrafficAdded, Subject: "Трафик добавлен", Text: text}
}

func TrafficSwitched(oldGB, newGB int, charged int64) Message {
	text := fmt.Sprintf("🔄 Пакет трафика изменён: %s → <b>%s</b>", formatGB(oldGB), formatGB(newGB))
	if charged > 0 {
		text += fmt.Sprintf("\nСписано: %s", FormatKopeks(charged))
	}
	return Message{Type: TypeTrafficSwitched, Subject: "Пакет трафика изменён", Text: text}
}

func TrafficUsageReset(charged int64) Message {
	return Message{
		Type:    TypeTrafficUsageReset,
		Subject: "Трафик сброшен",
		Text:    fmt.Sprintf("♻️ Использованный трафик сброшен.\nСписано: %s", FormatKopeks(charged)),
	}
}

func BalanceTopup(amount, balance int64) Message {
	return Message{
		Type:    TypeBalanceTopup,
		Subject: "Баланс пополнен",
		Text:    fmt.Sprintf("💰 Баланс пополнен на <b>%s</b>\nТекущий баланс: %s", FormatKopeks(amount), FormatKopeks(balance)),
	}
}

func CampaignBonus(description string) Message {
	return Message{
		Type:    TypeCampaignBonus,
		Subject: "Бонус начислен",
		Text:    "🎁 " + description,
	}
}

func SubscriptionResumed(tariffName string, charged int64, endDate time.Time) Message {
	return Message{
		Type:    TypeSubscriptionResumed,
		Subject: "Подписка возобновлена",
		Text: fmt.Sprintf("✅ Подписка «%s» возобновлена.\nСписано: %s\nАктивна до %s",
			html.EscapeString(tariffName), FormatKopeks(charged), endDate.Format("02.01.2006 15:04")),
	}
}
