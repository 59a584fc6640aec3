// Package billing runs the recurring daily charge loop and expires traffic add-ons.
package billing

import (
	"context"
	"fmt"
	"time"

	"vpn-billing/internal/config"
	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/ledger"
	"vpn-billing/internal/logger"
	"vpn-billing/internal/models"
	"vpn-billing/internal/notification"
	"vpn-billing/internal/remnawave"
	"vpn-billing/internal/repository"
)

const dailyExtension = 24 * time.Hour

type ChargeStats struct {
	Checked   int `json:"checked"`
	Charged   int `json:"charged"`
	Suspended int `json:"suspended"`
	Errors    int `json:"errors"`
}

type ResetStats struct {
	Checked int `json:"checked"`
	Reset   int `json:"reset"`
	Errors  int `json:"errors"`
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCharged
	outcomeSuspended
)

type DailyService struct {
	store  *repository.Store
	ledger *ledger.Ledger
	mirror remnawave.Entitlements
	notify notification.Notifier
	cfg    config.BillingConfig
	log    *logger.Logger
	now    func() time.Time
}

func NewDailyService(
	store *repository.Store,
	l *ledger.Ledger,
	mirror remnawave.Entitlements,
	notify notification.Notifier,
	cfg config.BillingConfig,
	log *logger.Logger,
) *DailyService {
	if cfg.ChargePeriod <= 0 {
		cfg.ChargePeriod = 24 * time.Hour
	}
	return &DailyService{
		store:  store,
		ledger: l,
		mirror: mirror,
		notify: notify,
		cfg:    cfg,
		log:    log.With("component", "daily_billing"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *DailyService) SetClock(now func() time.Time) {
	s.now = now
}

// ProcessDailyCharges charges or suspends every due daily subscription.
// Each subscription is its own unit of work; one failure never stops the batch.
func (s *DailyService) ProcessDailyCharges(ctx context.Context) (ChargeStats, error) {
	var stats ChargeStats
	now := s.now()

	subs, err := s.store.DueDailySubscriptions(ctx, now, s.cfg.ChargePeriod)
	if err != nil {
		return stats, err
	}
	stats.Checked = len(subs)

	for i := range subs {
		res, err := s.chargeSafely(ctx, &subs[i], now)
		if err != nil {
			stats.Errors++
			s.log.Errorw("Daily charge failed",
				"subscription_id", subs[i].ID,
				"user_id", subs[i].UserID,
				"tariff_id", subs[i].TariffID,
				"error", err,
			)
			continue
		}
		switch res {
		case outcomeCharged:
			stats.Charged++
		case outcomeSuspended:
			stats.Suspended++
		}
	}

	s.log.Infow("Daily charges processed",
		"checked", stats.Checked,
		"charged", stats.Charged,
		"suspended", stats.Suspended,
		"errors", stats.Errors,
	)
	return stats, nil
}

func (s *DailyService) chargeSafely(ctx context.Context, due *models.Subscription, now time.Time) (res outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ierr.Newf("panic while charging subscription %d: %v", due.ID, r)
		}
	}()

	if due.User == nil {
		return outcomeSkipped, ierr.Mark(ierr.Newf("user %d not found for subscription %d", due.UserID, due.ID), ierr.ErrNotFound)
	}
	if due.Tariff == nil {
		return outcomeSkipped, ierr.Mark(ierr.Newf("tariff not found for subscription %d", due.ID), ierr.ErrConfiguration)
	}
	if due.Tariff.DailyPriceKopeks <= 0 {
		return outcomeSkipped, ierr.Mark(
			ierr.Newf("tariff %d has invalid daily price %d", due.Tariff.ID, due.Tariff.DailyPriceKopeks),
			ierr.ErrConfiguration,
		)
	}

	return s.chargeOne(ctx, due.ID, now)
}

func (s *DailyService) chargeOne(ctx context.Context, subscriptionID uint, now time.Time) (outcome, error) {
	var (
		res    = outcomeSkipped
		user   *models.User
		sub    *models.Subscription
		tariff *models.Tariff
		price  int64
	)

	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		sub, err = tx.LockSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if !repository.IsDailyChargeDue(sub, now, s.cfg.ChargePeriod) || sub.Tariff == nil || !sub.Tariff.IsDaily {
			return nil
		}
		tariff = sub.Tariff
		price = tariff.DailyPriceKopeks
		if price <= 0 {
			return ierr.Mark(ierr.Newf("tariff %d has invalid daily price %d", tariff.ID, price), ierr.ErrConfiguration)
		}

		user, err = tx.LockUser(ctx, sub.UserID)
		if err != nil {
			return err
		}

		if user.BalanceKopeks < price {
			res = outcomeSuspended
			return suspend(ctx, tx, sub)
		}

		_, err = s.ledger.Debit(tx.DB(), user, price, ledger.Entry{
			Type:          models.TransactionTypeSubscriptionPayment,
			Description:   fmt.Sprintf("Суточная оплата тарифа «%s»", tariff.Name),
			PaymentMethod: models.PaymentMethodManual,
		})
		if ierr.Is(err, ierr.ErrInsufficientFunds) {
			res = outcomeSuspended
			return suspend(ctx, tx, sub)
		}
		if err != nil {
			return err
		}

		extendDaily(sub, now)
		res = outcomeCharged
		return tx.SaveSubscription(ctx, sub)
	})
	if err != nil {
		return outcomeSkipped, err
	}

	switch res {
	case outcomeCharged:
		s.log.Infow("Daily charge committed",
			"subscription_id", sub.ID,
			"user", user.DisplayID(),
			"amount_kopeks", price,
			"balance_kopeks", user.BalanceKopeks,
		)
		if r := s.mirror.PushSubscription(ctx, user, sub); !r.OK {
			s.log.Warnw("Remote update after daily charge failed", "subscription_id", sub.ID, "error", r.Err)
		}
		s.notify.Send(ctx, user, notification.DailyDebit(tariff.Name, price, user.BalanceKopeks, sub.EndDate))
	case outcomeSuspended:
		s.log.Infow("Subscription suspended for insufficient balance",
			"subscription_id", sub.ID,
			"user", user.DisplayID(),
			"balance_kopeks", user.BalanceKopeks,
			"daily_price", price,
		)
		if r := s.mirror.Disable(ctx, user); !r.OK {
			s.log.Warnw("Remote disable after suspension failed", "subscription_id", sub.ID, "error", r.Err)
		}
		s.notify.Send(ctx, user, notification.DailyInsufficientFunds(tariff.Name, price, user.BalanceKopeks))
	}
	return res, nil
}

func suspend(ctx context.Context, tx *repository.Store, sub *models.Subscription) error {
	sub.Status = models.SubscriptionStatusDisabled
	sub.SuspendReason = models.SuspendReasonInsufficientBalance
	return tx.SaveSubscription(ctx, sub)
}

// extendDaily advances the paid window by one day from whichever is later, the old end or now.
func extendDaily(sub *models.Subscription, now time.Time) {
	base := sub.EndDate
	if base.Before(now) {
		base = now
	}
	sub.EndDate = base.Add(dailyExtension)
	charged := now
	sub.LastDailyChargeAt = &charged
}

// ResumeSuspended re-activates the user's daily subscription stopped for insufficient balance,
// charging a new period first. It reports whether the subscription was resumed.
func (s *DailyService) ResumeSuspended(ctx context.Context, userID uint) (bool, error) {
	now := s.now()

	var (
		resumed bool
		user    *models.User
		sub     *models.Subscription
		price   int64
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		found, err := tx.SuspendedForBalance(ctx, userID)
		if ierr.Is(err, ierr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		sub, err = tx.LockSubscription(ctx, found.ID)
		if err != nil {
			return err
		}
		if !sub.IsSuspendedForBalance() || sub.IsDailyPaused {
			return nil
		}
		if sub.Tariff == nil || !sub.Tariff.IsDaily || sub.Tariff.DailyPriceKopeks <= 0 {
			return ierr.Mark(ierr.Newf("subscription %d has no valid daily tariff", sub.ID), ierr.ErrConfiguration)
		}
		price = sub.Tariff.DailyPriceKopeks

		user, err = tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.BalanceKopeks < price {
			return nil
		}

		_, err = s.ledger.Debit(tx.DB(), user, price, ledger.Entry{
			Type:          models.TransactionTypeSubscriptionPayment,
			Description:   fmt.Sprintf("Суточная оплата тарифа «%s»", sub.Tariff.Name),
			PaymentMethod: models.PaymentMethodManual,
		})
		if ierr.Is(err, ierr.ErrInsufficientFunds) {
			return nil
		}
		if err != nil {
			return err
		}

		sub.Status = models.SubscriptionStatusActive
		sub.SuspendReason = ""
		extendDaily(sub, now)
		resumed = true
		return tx.SaveSubscription(ctx, sub)
	})
	if err != nil || !resumed {
		return false, err
	}

	s.log.Infow("Suspended subscription resumed", "subscription_id", sub.ID, "user_id", userID, "amount_kopeks", price)
	if r := s.mirror.PushSubscription(ctx, user, sub); !r.OK {
		s.log.Warnw("Remote update after resume failed", "subscription_id", sub.ID, "error", r.Err)
	}
	if r := s.mirror.Enable(ctx, user); !r.OK {
		s.log.Warnw("Remote enable after resume failed", "subscription_id", sub.ID, "error", r.Err)
	}
	s.notify.Send(ctx, user, notification.SubscriptionResumed(sub.Tariff.Name, price, sub.EndDate))
	return true, nil
}
