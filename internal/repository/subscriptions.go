package repository

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"vpn-billing/internal/models"
)

func (s *Store) GetSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.conn(ctx).Preload("Tariff").First(&sub, id).Error; err != nil {
		return nil, notFoundOr(err, "subscription")
	}
	return &sub, nil
}

// LockSubscription reloads the subscription and its tariff under a row lock.
func (s *Store) LockSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.locked(ctx).Preload("Tariff").First(&sub, id).Error; err != nil {
		return nil, notFoundOr(err, "subscription")
	}
	return &sub, nil
}

func (s *Store) LockSubscriptionByUserID(ctx context.Context, userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.locked(ctx).Preload("Tariff").Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, notFoundOr(err, "subscription")
	}
	return &sub, nil
}

func (s *Store) GetSubscriptionByUserID(ctx context.Context, userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.conn(ctx).Preload("Tariff").Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, notFoundOr(err, "subscription")
	}
	return &sub, nil
}

// HasSubscription reports whether the user has any subscription row, trial or paid.
func (s *Store) HasSubscription(ctx context.Context, userID uint) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&models.Subscription{}).Where("user_id = ?", userID).Count(&n).Error
	return n > 0, dbErr(err, "failed to count subscriptions")
}

func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return dbErr(s.conn(ctx).Omit(clause.Associations).Create(sub).Error, "failed to create subscription")
}

// SaveSubscription writes every column of the subscription. Preloaded User and Tariff are never written back.
func (s *Store) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return dbErr(s.conn(ctx).Omit(clause.Associations).Save(sub).Error, "failed to save subscription")
}

// DueDailySubscriptions lists active daily-tariff subscriptions whose last charge is older than period.
func (s *Store) DueDailySubscriptions(ctx context.Context, now time.Time, period time.Duration) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.conn(ctx).
		Preload("User").
		Preload("Tariff").
		Where("status = ? AND is_trial = ? AND is_daily_paused = ?", models.SubscriptionStatusActive, false, false).
		Where("tariff_id IN (?)", s.conn(ctx).Model(&models.Tariff{}).Select("id").Where("is_daily = ?", true)).
		Where("last_daily_charge_at IS NULL OR last_daily_charge_at <= ?", now.Add(-period)).
		Order("id").
		Find(&subs).Error
	return subs, dbErr(err, "failed to list due daily subscriptions")
}

// IsDailyChargeDue re-checks a locked subscription against the same rules as DueDailySubscriptions.
func IsDailyChargeDue(sub *models.Subscription, now time.Time, period time.Duration) bool {
	if sub.Status != models.SubscriptionStatusActive || sub.IsTrial || sub.IsDailyPaused {
		return false
	}
	if sub.LastDailyChargeAt == nil {
		return true
	}
	return !sub.LastDailyChargeAt.After(now.Add(-period))
}

// SuspendedForBalance returns the user's daily subscription stopped for insufficient balance, if any.
func (s *Store) SuspendedForBalance(ctx context.Context, userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.conn(ctx).Preload("Tariff").
		Where("user_id = ? AND status = ? AND suspend_reason = ?",
			userID, models.SubscriptionStatusDisabled, models.SuspendReasonInsufficientBalance).
		First(&sub).Error
	if err != nil {
		return nil, notFoundOr(err, "suspended subscription")
	}
	return &sub, nil
}
