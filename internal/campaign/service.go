// Package campaign grants advertising campaign bonuses, at most once per user and campaign.
package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/ledger"
	"vpn-billing/internal/logger"
	"vpn-billing/internal/models"
	"vpn-billing/internal/notification"
	"vpn-billing/internal/remnawave"
	"vpn-billing/internal/repository"
)

const (
	CodeCampaignNotFound  = "campaign_not_found"
	CodeCampaignInactive  = "campaign_inactive"
	CodeDuplicateGrant    = "duplicate_grant"
	CodeInvalidBonus      = "invalid_bonus"
	CodeTariffUnavailable = "tariff_unavailable"
	CodeUnknownBonusType  = "unknown_bonus_type"
	CodeInternal          = "internal_error"
)

type BonusResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	BonusType string `json:"bonus_type,omitempty"`

	BalanceKopeks      int64    `json:"balance_kopeks,omitempty"`
	SubscriptionDays   int      `json:"subscription_days,omitempty"`
	TrafficGB          int      `json:"traffic_gb,omitempty"`
	DeviceLimit        int      `json:"device_limit,omitempty"`
	Squads             []string `json:"squads,omitempty"`
	TariffID           *uint    `json:"tariff_id,omitempty"`
	TariffName         string   `json:"tariff_name,omitempty"`
	TariffDurationDays int      `json:"tariff_duration_days,omitempty"`
}

type rejection struct {
	code string
}

func (r *rejection) Error() string {
	return r.code
}

func reject(code string) error {
	return &rejection{code: code}
}

type Service struct {
	store              *repository.Store
	ledger             *ledger.Ledger
	mirror             remnawave.Entitlements
	notify             notification.Notifier
	defaultDeviceLimit int
	log                *logger.Logger
	now                func() time.Time
}

func NewService(
	store *repository.Store,
	l *ledger.Ledger,
	mirror remnawave.Entitlements,
	notify notification.Notifier,
	defaultDeviceLimit int,
	log *logger.Logger,
) *Service {
	return &Service{
		store:              store,
		ledger:             l,
		mirror:             mirror,
		notify:             notify,
		defaultDeviceLimit: defaultDeviceLimit,
		log:                log.With("component", "campaign"),
		now:                func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ApplyByStartParameter resolves a /start deep-link parameter and applies that campaign's bonus.
func (s *Service) ApplyByStartParameter(ctx context.Context, userID uint, param string) BonusResult {
	campaign, err := s.store.GetCampaignByStartParameter(ctx, param)
	if ierr.Is(err, ierr.ErrNotFound) {
		return BonusResult{Error: CodeCampaignNotFound}
	}
	if err != nil {
		s.log.Errorw("Failed to load campaign", "start_parameter", param, "error", err)
		return BonusResult{Error: CodeInternal}
	}
	return s.ApplyCampaignBonus(ctx, userID, campaign)
}

// ApplyCampaignBonus grants the campaign's bonus and records the registration in one unit of work.
// A second call for the same user and campaign is rejected with duplicate_grant.
func (s *Service) ApplyCampaignBonus(ctx context.Context, userID uint, campaign *models.AdvertisingCampaign) BonusResult {
	log := s.log.With("campaign_id", campaign.ID, "user_id", userID, "bonus_type", campaign.BonusType)
	if !campaign.IsActive {
		log.Warnw("Bonus requested for inactive campaign")
		return BonusResult{Error: CodeCampaignInactive}
	}

	var (
		res  BonusResult
		user *models.User
		sub  *models.Subscription
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		user, err = tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}

		registered, err := tx.HasCampaignRegistration(ctx, campaign.ID, userID)
		if err != nil {
			return err
		}
		if registered {
			return reject(CodeDuplicateGrant)
		}

		reg := &models.CampaignRegistration{CampaignID: campaign.ID, UserID: userID, BonusType: campaign.BonusType}
		switch campaign.BonusType {
		case models.BonusTypeBalance:
			res, err = s.grantBalance(tx, user, campaign, reg)
		case models.BonusTypeSubscription:
			res, sub, err = s.grantSubscription(ctx, tx, user, campaign, reg)
		case models.BonusTypeTariff:
			res, sub, err = s.grantTariff(ctx, tx, user, campaign, reg)
		case models.BonusTypeNone:
			res = BonusResult{Success: true, BonusType: models.BonusTypeNone}
		default:
			return reject(CodeUnknownBonusType)
		}
		if err != nil {
			return err
		}

		if err := tx.CreateCampaignRegistration(ctx, reg); err != nil {
			if ierr.Is(err, gorm.ErrDuplicatedKey) {
				return reject(CodeDuplicateGrant)
			}
			return err
		}
		return nil
	})
	if err != nil {
		var r *rejection
		if ierr.As(err, &r) {
			log.Infow("Campaign bonus rejected", "code", r.code)
			return BonusResult{Error: r.code, BonusType: campaign.BonusType}
		}
		log.Errorw("Campaign bonus failed", "error", err)
		return BonusResult{Error: CodeInternal, BonusType: campaign.BonusType}
	}

	log.Infow("Campaign bonus granted", "user", user.DisplayID())
	if sub != nil {
		if r := s.mirror.PushSubscription(ctx, user, sub); !r.OK {
			log.Warnw("Remote sync of campaign subscription failed", "subscription_id", sub.ID, "error", r.Err)
		}
	}
	if text := describe(res); text != "" {
		s.notify.Send(ctx, user, notification.CampaignBonus(text))
	}
	return res
}

func (s *Service) grantBalance(tx *repository.Store, user *models.User, campaign *models.AdvertisingCampaign, reg *models.CampaignRegistration) (BonusResult, error) {
	amount := campaign.BalanceBonusKopeks
	if amount <= 0 {
		return BonusResult{}, reject(CodeInvalidBonus)
	}

	_, err := s.ledger.Credit(tx.DB(), user, amount, ledger.Entry{
		Type:          models.TransactionTypeDeposit,
		Description:   fmt.Sprintf("Бонус за регистрацию по кампании '%s'", campaign.Name),
		PaymentMethod: models.PaymentMethodBonus,
	})
	if err != nil {
		return BonusResult{}, err
	}

	reg.BalanceBonusKopeks = amount
	return BonusResult{Success: true, BonusType: models.BonusTypeBalance, BalanceKopeks: amount}, nil
}

func (s *Service) grantSubscription(
	ctx context.Context,
	tx *repository.Store,
	user *models.User,
	campaign *models.AdvertisingCampaign,
	reg *models.CampaignRegistration,
) (BonusResult, *models.Subscription, error) {
	if err := ensureNoSubscription(ctx, tx, user.ID); err != nil {
		return BonusResult{}, nil, err
	}
	days := campaign.SubscriptionDurationDays
	if days <= 0 {
		return BonusResult{}, nil, reject(CodeInvalidBonus)
	}

	deviceLimit := s.defaultDeviceLimit
	if campaign.SubscriptionDeviceLimit != nil {
		deviceLimit = *campaign.SubscriptionDeviceLimit
	}
	squads := s.squadsOrTrial(ctx, tx, campaign.SubscriptionSquads, campaign.ID)

	now := s.now()
	sub := &models.Subscription{
		UserID:          user.ID,
		Status:          models.SubscriptionStatusActive,
		IsTrial:         true,
		StartDate:       now,
		EndDate:         now.AddDate(0, 0, days),
		TrafficLimitGB:  max(campaign.SubscriptionTrafficGB, 0),
		DeviceLimit:     deviceLimit,
		ConnectedSquads: squads,
	}
	if err := tx.CreateSubscription(ctx, sub); err != nil {
		return BonusResult{}, nil, err
	}

	reg.SubscriptionDurationDays = days
	return BonusResult{
		Success:          true,
		BonusType:        models.BonusTypeSubscription,
		SubscriptionDays: days,
		TrafficGB:        sub.TrafficLimitGB,
		DeviceLimit:      deviceLimit,
		Squads:           squads,
	}, sub, nil
}

func (s *Service) grantTariff(
	ctx context.Context,
	tx *repository.Store,
	user *models.User,
	campaign *models.AdvertisingCampaign,
	reg *models.CampaignRegistration,
) (BonusResult, *models.Subscription, error) {
	if err := ensureNoSubscription(ctx, tx, user.ID); err != nil {
		return BonusResult{}, nil, err
	}
	days := campaign.TariffDurationDays
	if campaign.TariffID == nil || days <= 0 {
		return BonusResult{}, nil, reject(CodeInvalidBonus)
	}

	tariff, err := tx.GetTariff(ctx, *campaign.TariffID)
	if ierr.Is(err, ierr.ErrNotFound) {
		return BonusResult{}, nil, reject(CodeTariffUnavailable)
	}
	if err != nil {
		return BonusResult{}, nil, err
	}
	if !tariff.IsActive {
		return BonusResult{}, nil, reject(CodeTariffUnavailable)
	}

	squads := s.squadsOrTrial(ctx, tx, tariff.AllowedSquads, campaign.ID)
	now := s.now()
	sub := &models.Subscription{
		UserID:          user.ID,
		Status:          models.SubscriptionStatusActive,
		StartDate:       now,
		EndDate:         now.AddDate(0, 0, days),
		TrafficLimitGB:  tariff.TrafficLimitGB,
		DeviceLimit:     tariff.DeviceLimit,
		TariffID:        &tariff.ID,
		ConnectedSquads: squads,
	}
	if tariff.IsDaily {
		// The bonus period is prepaid; daily charging starts when it runs out.
		lastCharge := sub.EndDate.Add(-24 * time.Hour)
		sub.LastDailyChargeAt = &lastCharge
	}
	if err := tx.CreateSubscription(ctx, sub); err != nil {
		return BonusResult{}, nil, err
	}

	reg.TariffID = &tariff.ID
	reg.TariffDurationDays = days
	return BonusResult{
		Success:            true,
		BonusType:          models.BonusTypeTariff,
		TariffID:           &tariff.ID,
		TariffName:         tariff.Name,
		TariffDurationDays: days,
		TrafficGB:          tariff.TrafficLimitGB,
		DeviceLimit:        tariff.DeviceLimit,
		Squads:             squads,
	}, sub, nil
}

func ensureNoSubscription(ctx context.Context, tx *repository.Store, userID uint) error {
	exists, err := tx.HasSubscription(ctx, userID)
	if err != nil {
		return err
	}
	if exists {
		return reject(CodeDuplicateGrant)
	}
	return nil
}

// squadsOrTrial falls back to one random trial squad when none are configured.
func (s *Service) squadsOrTrial(ctx context.Context, tx *repository.Store, configured []string, campaignID uint) []string {
	if len(configured) > 0 {
		return append([]string(nil), configured...)
	}
	squads, err := tx.TrialSquads(ctx)
	if err != nil {
		s.log.Errorw("Failed to pick trial squad", "campaign_id", campaignID, "error", err)
		return nil
	}
	if len(squads) == 0 {
		return nil
	}
	return []string{lo.Sample(squads).UUID}
}

func describe(res BonusResult) string {
	switch res.BonusType {
	case models.BonusTypeBalance:
		return fmt.Sprintf("На баланс начислено %s", notification.FormatKopeks(res.BalanceKopeks))
	case models.BonusTypeSubscription:
		return fmt.Sprintf("Вам выдана подписка на %d дн.", res.SubscriptionDays)
	case models.BonusTypeTariff:
		return fmt.Sprintf("Вам выдан тариф «%s» на %d дн.", res.TariffName, res.TariffDurationDays)
	default:
		return ""
	}
}
