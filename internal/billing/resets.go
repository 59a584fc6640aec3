package billing

import (
	"context"
	"sort"
	"time"

	"github.com/samber/lo"

	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/models"
	"vpn-billing/internal/notification"
	"vpn-billing/internal/repository"
)

// TrafficAdjustment is the outcome of expiring add-ons on one subscription.
type TrafficAdjustment struct {
	LimitGB     int
	PurchasedGB int
	ExpiredGB   int
	// Anomalies describe inconsistent stored data that was clamped.
	Anomalies []string
}

// AdjustTrafficForExpiry removes expiredGB of add-ons from a subscription's limit.
// The result never goes negative and never drops below the base allotment.
func AdjustTrafficForExpiry(limitGB, purchasedGB, expiredGB, tariffBaseGB int) TrafficAdjustment {
	var adj TrafficAdjustment
	purchasedGB = max(purchasedGB, 0)

	if expiredGB > purchasedGB {
		adj.Anomalies = append(adj.Anomalies, "expired traffic exceeds purchased traffic")
		expiredGB = purchasedGB
	}

	base := limitGB - purchasedGB
	if base < 0 {
		adj.Anomalies = append(adj.Anomalies, "negative base allotment, using tariff base")
		base = tariffBaseGB
	}
	base = max(base, 0)

	purchased := purchasedGB - expiredGB
	limit := base + purchased
	if limit < base {
		adj.Anomalies = append(adj.Anomalies, "computed limit below base allotment")
		limit = base
		purchased = 0
	}

	adj.LimitGB = max(limit, 0)
	adj.PurchasedGB = max(purchased, 0)
	adj.ExpiredGB = expiredGB
	return adj
}

// ProcessTrafficResets deletes expired add-ons and shrinks the owning subscriptions' limits.
func (s *DailyService) ProcessTrafficResets(ctx context.Context) (ResetStats, error) {
	var stats ResetStats
	now := s.now()

	expired, err := s.store.ExpiredTrafficPurchases(ctx, now)
	if err != nil {
		return stats, err
	}
	stats.Checked = len(expired)

	bySubscription := lo.GroupBy(expired, func(p models.TrafficPurchase) uint { return p.SubscriptionID })
	ids := lo.Keys(bySubscription)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		n, err := s.resetSafely(ctx, id, now)
		if err != nil {
			stats.Errors++
			s.log.Errorw("Traffic reset failed", "subscription_id", id, "error", err)
			continue
		}
		stats.Reset += n
	}

	s.log.Infow("Traffic resets processed", "checked", stats.Checked, "reset", stats.Reset, "errors", stats.Errors)
	return stats, nil
}

func (s *DailyService) resetSafely(ctx context.Context, subscriptionID uint, now time.Time) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ierr.Newf("panic while resetting traffic of subscription %d: %v", subscriptionID, r)
		}
	}()
	return s.resetOne(ctx, subscriptionID, now)
}

func (s *DailyService) resetOne(ctx context.Context, subscriptionID uint, now time.Time) (int, error) {
	var (
		removed int
		user    *models.User
		sub     *models.Subscription
		adj     TrafficAdjustment
	)

	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		purchases, err := tx.ExpiredPurchasesFor(ctx, subscriptionID, now)
		if err != nil {
			return err
		}
		if len(purchases) == 0 {
			return nil
		}
		ids := lo.Map(purchases, func(p models.TrafficPurchase, _ int) uint { return p.ID })

		sub, err = tx.LockSubscription(ctx, subscriptionID)
		if ierr.Is(err, ierr.ErrNotFound) {
			s.log.Warnw("Deleting traffic purchases of missing subscription", "subscription_id", subscriptionID, "count", len(ids))
			return tx.DeleteTrafficPurchases(ctx, ids)
		}
		if err != nil {
			return err
		}

		tariffBase := 0
		if sub.Tariff != nil {
			tariffBase = sub.Tariff.TrafficLimitGB
		}
		expiredGB := lo.SumBy(purchases, func(p models.TrafficPurchase) int { return p.TrafficGB })
		adj = AdjustTrafficForExpiry(sub.TrafficLimitGB, sub.PurchasedTrafficGB, expiredGB, tariffBase)
		for _, anomaly := range adj.Anomalies {
			s.log.Errorw("Traffic data anomaly clamped",
				"subscription_id", sub.ID,
				"anomaly", anomaly,
				"limit_gb", sub.TrafficLimitGB,
				"purchased_gb", sub.PurchasedTrafficGB,
				"expired_gb", expiredGB,
				"tariff_base_gb", tariffBase,
			)
		}

		if err := tx.DeleteTrafficPurchases(ctx, ids); err != nil {
			return err
		}

		oldLimit := sub.TrafficLimitGB
		sub.TrafficLimitGB = adj.LimitGB
		sub.PurchasedTrafficGB = adj.PurchasedGB
		sub.TrafficResetAt, err = tx.NextTrafficExpiry(ctx, sub.ID)
		if err != nil {
			return err
		}
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}

		user, err = tx.GetUser(ctx, sub.UserID)
		if err != nil {
			return err
		}

		removed = len(purchases)
		s.log.Infow("Expired traffic add-ons removed",
			"subscription_id", sub.ID,
			"expired_gb", adj.ExpiredGB,
			"old_limit_gb", oldLimit,
			"new_limit_gb", sub.TrafficLimitGB,
		)
		return nil
	})
	if err != nil || sub == nil || removed == 0 {
		return 0, err
	}

	if r := s.mirror.PushSubscription(ctx, user, sub); !r.OK {
		s.log.Warnw("Remote update after traffic reset failed", "subscription_id", sub.ID, "error", r.Err)
	}
	s.notify.Send(ctx, user, notification.TrafficReset(adj.ExpiredGB, sub.TrafficLimitGB))
	return removed, nil
}
