// Package notification delivers user-facing billing outcomes over Telegram or email.
package notification

import (
	"context"

	"vpn-billing/internal/logger"
	"vpn-billing/internal/models"
)

type Type string

const (
	TypeDailyDebit             Type = "daily_debit"
	TypeDailyInsufficientFunds Type = "daily_insufficient_funds"
	TypeTrafficReset           Type = "traffic_reset"
	TypeTrafficAdded           Type = "traffic_added"
	TypeTrafficSwitched        Type = "traffic_switched"
	TypeTrafficUsageReset      Type = "traffic_usage_reset"
	TypeBalanceTopup           Type = "balance_topup"
	TypeCampaignBonus          Type = "campaign_bonus"
	TypeSubscriptionResumed    Type = "subscription_resumed"
)

// Message is one notification rendered for every channel.
type Message struct {
	Type    Type
	Subject string
	// Text is Telegram HTML; the email body is derived from it.
	Text string
}

type TelegramSender interface {
	SendText(ctx context.Context, chatID int64, html string) error
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, html, text string) error
}

// Notifier is what the billing services depend on.
type Notifier interface {
	Send(ctx context.Context, user *models.User, msg Message) bool
	NotifyAdmins(ctx context.Context, text string)
}

type Service struct {
	telegram TelegramSender
	email    EmailSender
	adminIDs []int64
	log      *logger.Logger
}

// NewService builds the façade. Either sender may be nil when the channel is not configured.
func NewService(telegram TelegramSender, email EmailSender, adminIDs []int64, log *logger.Logger) *Service {
	return &Service{
		telegram: telegram,
		email:    email,
		adminIDs: adminIDs,
		log:      log,
	}
}

// Send picks the user's channel and reports whether the message went out.
// Blocked, deleted and unreachable users are skipped without error.
func (s *Service) Send(ctx context.Context, user *models.User, msg Message) bool {
	if user == nil {
		return false
	}
	log := s.log.With("user_id", user.ID, "type", msg.Type)

	if !user.IsActive() {
		log.Debugw("Skipping notification for inactive user", "status", user.Status)
		return false
	}

	if user.TelegramID != nil {
		if s.telegram == nil {
			log.Warnw("Telegram sender not configured")
			return false
		}
		if err := s.telegram.SendText(ctx, *user.TelegramID, msg.Text); err != nil {
			log.Warnw("Failed to send telegram notification", "error", err)
			return false
		}
		return true
	}

	if user.Email != nil && *user.Email != "" && user.EmailVerified {
		if s.email == nil {
			log.Debugw("Email sender not configured")
			return false
		}
		subject := msg.Subject
		if subject == "" {
			subject = defaultSubject
		}
		if err := s.email.SendEmail(ctx, *user.Email, subject, emailHTML(msg.Text), plainText(msg.Text)); err != nil {
			log.Warnw("Failed to send email notification", "error", err)
			return false
		}
		return true
	}

	log.Debugw("User has no delivery channel")
	return false
}

func (s *Service) NotifyAdmins(ctx context.Context, text string) {
	if s.telegram == nil {
		return
	}
	for _, chatID := range s.adminIDs {
		if err := s.telegram.SendText(ctx, chatID, text); err != nil {
			s.log.Warnw("Failed to notify admin", "chat_id", chatID, "error", err)
		}
	}
}
