// Package traffic sells traffic add-ons, switches base packages and resets consumed traffic.
package traffic

import (
	"context"
	"fmt"
	"time"

	"vpn-billing/internal/cart"
	"vpn-billing/internal/config"
	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/ledger"
	"vpn-billing/internal/logger"
	"vpn-billing/internal/models"
	"vpn-billing/internal/notification"
	"vpn-billing/internal/pricing"
	"vpn-billing/internal/remnawave"
	"vpn-billing/internal/repository"
)

type Service struct {
	store  *repository.Store
	ledger *ledger.Ledger
	cfg    config.TrafficConfig
	carts  cart.Store
	mirror remnawave.Entitlements
	notify notification.Notifier
	log    *logger.Logger
	now    func() time.Time
}

func NewService(
	store *repository.Store,
	l *ledger.Ledger,
	cfg config.TrafficConfig,
	carts cart.Store,
	mirror remnawave.Entitlements,
	notify notification.Notifier,
	log *logger.Logger,
) *Service {
	if cfg.PurchaseTTL <= 0 {
		cfg.PurchaseTTL = 30 * 24 * time.Hour
	}
	return &Service{
		store:  store,
		ledger: l,
		cfg:    cfg,
		carts:  carts,
		mirror: mirror,
		notify: notify,
		log:    log.With("component", "traffic"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// committed carries what a successful unit of work changed, for the post-commit side effects.
type committed struct {
	user *models.User
	sub  *models.Subscription
}

// AddTraffic buys gb of traffic for the user's subscription. gb == 0 upgrades to unlimited.
// When the balance is short the intent is saved as a cart.
func (s *Service) AddTraffic(ctx context.Context, userID uint, gb int) Result {
	return s.addTraffic(ctx, userID, gb, true)
}

func (s *Service) addTraffic(ctx context.Context, userID uint, gb int, saveCart bool) Result {
	now := s.now()
	var (
		quote pricing.Quote
		out   committed
	)

	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		user, sub, err := s.lockOwner(ctx, tx, userID)
		if err != nil {
			return err
		}
		if sub.IsUnlimited() {
			return fail(CodeUnlimited)
		}
		if gb < 0 {
			return fail(CodePackageUnavailable)
		}

		resolver := pricing.ResolverFor(s.cfg, sub)
		quote, err = resolver.Resolve(sub, gb, user.AddonDiscountPercent(), now)
		if err != nil {
			return err
		}
		if maxGB := resolver.MaxTopupGB(sub); maxGB > 0 && gb > 0 && sub.PurchasedTrafficGB+gb > maxGB {
			return fail(CodeTopupLimitExceeded)
		}

		if quote.Total > 0 {
			_, err = s.ledger.Debit(tx.DB(), user, quote.Total, ledger.Entry{
				Type:          models.TransactionTypeSubscriptionPayment,
				Description:   addDescription(gb, quote.Months),
				PaymentMethod: models.PaymentMethodBalance,
			})
			if err != nil {
				return err
			}
		}

		if gb == 0 {
			if err := tx.DeleteAllTrafficPurchases(ctx, sub.ID); err != nil {
				return err
			}
			sub.TrafficLimitGB = 0
			sub.PurchasedTrafficGB = 0
			sub.TrafficResetAt = nil
		} else {
			purchase := &models.TrafficPurchase{
				SubscriptionID: sub.ID,
				TrafficGB:      gb,
				CreatedAt:      now,
				ExpiresAt:      now.Add(s.cfg.PurchaseTTL),
			}
			if err := tx.CreateTrafficPurchase(ctx, purchase); err != nil {
				return err
			}
			sub.TrafficLimitGB += gb
			sub.PurchasedTrafficGB += gb
			if sub.TrafficResetAt, err = tx.NextTrafficExpiry(ctx, sub.ID); err != nil {
				return err
			}
		}

		out = committed{user: user, sub: sub}
		return tx.SaveSubscription(ctx, sub)
	})
	if err != nil {
		res := failedResult(err)
		res.TrafficGB = gb
		s.logFailure("add traffic", userID, err, res.Error)
		if res.Error == CodeInsufficientFunds && saveCart {
			res.CartSaved = s.saveCart(ctx, cart.KindAddTraffic, userID, gb, res.Required)
		}
		return res
	}

	s.log.Infow("Traffic added",
		"user_id", userID,
		"subscription_id", out.sub.ID,
		"traffic_gb", gb,
		"charged_kopeks", quote.Total,
		"months", quote.Months,
		"new_limit_gb", out.sub.TrafficLimitGB,
	)
	s.pushAndNotify(ctx, out, notification.TrafficAdded(gb, quote.Total, out.sub.TrafficLimitGB, now.Add(s.cfg.PurchaseTTL)))
	s.notify.NotifyAdmins(ctx, fmt.Sprintf("➕ Пользователь %s докупил трафик: %s за %s",
		out.user.DisplayID(), gbLabel(gb), notification.FormatKopeks(quote.Total)))

	return Result{
		Success:      true,
		TrafficGB:    gb,
		NewLimitGB:   out.sub.TrafficLimitGB,
		Charged:      quote.Total,
		Original:     quote.Original,
		Savings:      quote.Savings,
		Months:       quote.Months,
		DiscountPerc: quote.DiscountPercent,
	}
}

// SwitchTraffic replaces the base package. A more expensive package is paid for the remaining
// whole months; a cheaper one is applied without refund. Existing add-ons are dropped.
// A subscription whose tariff forbids traffic topup cannot switch.
func (s *Service) SwitchTraffic(ctx context.Context, userID uint, newGB int) Result {
	return s.switchTraffic(ctx, userID, newGB, true)
}

func (s *Service) switchTraffic(ctx context.Context, userID uint, newGB int, saveCart bool) Result {
	now := s.now()
	if s.cfg.Fixed {
		return Result{Error: CodeTrafficFixed, TrafficGB: newGB}
	}

	var (
		charged, original, savings int64
		months, oldGB              int
		out                        committed
	)

	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		user, sub, err := s.lockOwner(ctx, tx, userID)
		if err != nil {
			return err
		}
		oldGB = sub.TrafficLimitGB
		if sub.Tariff != nil && !sub.Tariff.TrafficTopupEnabled {
			return fail(CodeSwitchUnavailable)
		}
		if newGB == sub.TrafficLimitGB {
			return fail(CodeTrafficUnchanged)
		}
		if _, ok := s.cfg.Prices[newGB]; !ok {
			return fail(CodePackageUnavailable)
		}

		percent := user.AddonDiscountPercent()
		oldMonthly := pricing.PackagePrice(s.cfg.Prices, sub.BaseTrafficGB())
		newMonthly := pricing.PackagePrice(s.cfg.Prices, newGB)
		oldDiscounted, _ := pricing.ApplyPercentageDiscount(oldMonthly, percent)
		newDiscounted, _ := pricing.ApplyPercentageDiscount(newMonthly, percent)

		months = pricing.RemainingMonths(sub.EndDate, now)
		if diff := newDiscounted - oldDiscounted; diff > 0 {
			charged = diff * int64(months)
			original = (newMonthly - oldMonthly) * int64(months)
			savings = max(original-charged, 0)

			_, err = s.ledger.Debit(tx.DB(), user, charged, ledger.Entry{
				Type:          models.TransactionTypeSubscriptionPayment,
				Description:   fmt.Sprintf("Переключение трафика с %s на %s на %d мес", gbLabel(oldGB), gbLabel(newGB), months),
				PaymentMethod: models.PaymentMethodBalance,
			})
			if err != nil {
				return err
			}
		}

		if err := tx.DeleteAllTrafficPurchases(ctx, sub.ID); err != nil {
			return err
		}
		sub.TrafficLimitGB = newGB
		sub.PurchasedTrafficGB = 0
		sub.TrafficResetAt = nil

		out = committed{user: user, sub: sub}
		return tx.SaveSubscription(ctx, sub)
	})
	if err != nil {
		res := failedResult(err)
		res.TrafficGB = newGB
		res.NewLimitGB = oldGB
		s.logFailure("switch traffic", userID, err, res.Error)
		if res.Error == CodeInsufficientFunds && saveCart {
			res.CartSaved = s.saveCart(ctx, cart.KindSwitchTraffic, userID, newGB, res.Required)
		}
		return res
	}

	s.log.Infow("Traffic package switched",
		"user_id", userID,
		"subscription_id", out.sub.ID,
		"old_gb", oldGB,
		"new_gb", newGB,
		"charged_kopeks", charged,
		"months", months,
	)
	s.pushAndNotify(ctx, out, notification.TrafficSwitched(oldGB, newGB, charged))
	s.notify.NotifyAdmins(ctx, fmt.Sprintf("🔄 Пользователь %s сменил пакет трафика: %s → %s, доплата %s",
		out.user.DisplayID(), gbLabel(oldGB), gbLabel(newGB), notification.FormatKopeks(charged)))

	return Result{
		Success:    true,
		TrafficGB:  newGB,
		NewLimitGB: newGB,
		Charged:    charged,
		Original:   original,
		Savings:    savings,
		Months:     months,
	}
}

// ResetTraffic zeroes consumed traffic for a price set by the configured reset mode.
// The panel counter is reset only after the debit commits.
func (s *Service) ResetTraffic(ctx context.Context, userID uint) Result {
	if s.cfg.Fixed {
		return Result{Error: CodeTrafficFixed}
	}

	var (
		price int64
		out   committed
	)

	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		user, sub, err := s.lockOwner(ctx, tx, userID)
		if err != nil {
			return err
		}
		if sub.IsUnlimited() {
			return fail(CodeUnlimited)
		}

		price = pricing.ResetPrice(s.cfg, sub)
		if price <= 0 {
			return fail(CodePriceNotConfigured)
		}

		_, err = s.ledger.Debit(tx.DB(), user, price, ledger.Entry{
			Type:          models.TransactionTypeSubscriptionPayment,
			Description:   "Сброс использованного трафика",
			PaymentMethod: models.PaymentMethodBalance,
		})
		if err != nil {
			return err
		}

		sub.TrafficUsedGB = 0
		out = committed{user: user, sub: sub}
		return tx.SaveSubscription(ctx, sub)
	})
	if err != nil {
		res := failedResult(err)
		s.logFailure("reset traffic", userID, err, res.Error)
		return res
	}

	s.log.Infow("Traffic usage reset", "user_id", userID, "subscription_id", out.sub.ID, "charged_kopeks", price)
	if r := s.mirror.ResetTraffic(ctx, out.user); !r.OK {
		s.log.Warnw("Remote traffic reset failed", "subscription_id", out.sub.ID, "error", r.Err)
	}
	s.notify.Send(ctx, out.user, notification.TrafficUsageReset(price))

	return Result{Success: true, Charged: price, NewLimitGB: out.sub.TrafficLimitGB}
}

// CompleteCart retries the user's pending purchase with fresh prices and balance.
// It reports false when there was no cart.
func (s *Service) CompleteCart(ctx context.Context, userID uint) (Result, bool) {
	item, err := s.carts.Get(ctx, userID)
	if err != nil {
		s.log.Errorw("Failed to load cart", "user_id", userID, "error", err)
		return Result{Error: CodeInternal}, false
	}
	if item == nil {
		return Result{}, false
	}

	var res Result
	switch item.Kind {
	case cart.KindAddTraffic:
		res = s.addTraffic(ctx, userID, item.TrafficGB, false)
	case cart.KindSwitchTraffic:
		res = s.switchTraffic(ctx, userID, item.TrafficGB, false)
	default:
		s.log.Warnw("Dropping cart of unknown kind", "user_id", userID, "kind", item.Kind)
		res = Result{Error: CodePackageUnavailable}
	}

	if res.Success || terminal(res.Error) {
		if err := s.carts.Delete(ctx, userID); err != nil {
			s.log.Errorw("Failed to delete cart", "user_id", userID, "error", err)
		}
	}
	s.log.Infow("Cart completion attempted", "user_id", userID, "kind", item.Kind, "success", res.Success, "error", res.Error)
	return res, true
}

func (s *Service) lockOwner(ctx context.Context, tx *repository.Store, userID uint) (*models.User, *models.Subscription, error) {
	sub, err := tx.LockSubscriptionByUserID(ctx, userID)
	if ierr.Is(err, ierr.ErrNotFound) {
		return nil, nil, fail(CodeSubscriptionNotFound)
	}
	if err != nil {
		return nil, nil, err
	}
	if sub.IsTrial {
		return nil, nil, fail(CodeTrialSubscription)
	}
	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, sub, nil
}

func (s *Service) pushAndNotify(ctx context.Context, out committed, msg notification.Message) {
	if r := s.mirror.PushSubscription(ctx, out.user, out.sub); !r.OK {
		s.log.Warnw("Remote update after traffic change failed", "subscription_id", out.sub.ID, "error", r.Err)
	}
	s.notify.Send(ctx, out.user, msg)
}

func (s *Service) saveCart(ctx context.Context, kind cart.Kind, userID uint, gb int, price int64) bool {
	err := s.carts.Save(ctx, &cart.Item{
		Kind:       kind,
		UserID:     userID,
		TrafficGB:  gb,
		TotalPrice: price,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.log.Errorw("Failed to save cart", "user_id", userID, "kind", kind, "error", err)
		return false
	}
	return true
}

func (s *Service) logFailure(op string, userID uint, err error, code string) {
	if code == CodeInternal {
		s.log.Errorw("Traffic operation failed", "op", op, "user_id", userID, "error", err)
		return
	}
	s.log.Infow("Traffic operation rejected", "op", op, "user_id", userID, "code", code)
}

func addDescription(gb, months int) string {
	if months > 1 {
		return fmt.Sprintf("Докупка трафика %s на %d мес", gbLabel(gb), months)
	}
	return fmt.Sprintf("Докупка трафика %s", gbLabel(gb))
}

func gbLabel(gb int) string {
	if gb == 0 {
		return "безлимит"
	}
	return fmt.Sprintf("%d ГБ", gb)
}
