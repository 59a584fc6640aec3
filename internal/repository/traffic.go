package repository

import (
	"context"
	"time"

	"vpn-billing/internal/models"
)

func (s *Store) CreateTrafficPurchase(ctx context.Context, purchase *models.TrafficPurchase) error {
	return dbErr(s.conn(ctx).Create(purchase).Error, "failed to create traffic purchase")
}

// ExpiredTrafficPurchases returns purchases with expires_at <= now, oldest first.
func (s *Store) ExpiredTrafficPurchases(ctx context.Context, now time.Time) ([]models.TrafficPurchase, error) {
	var purchases []models.TrafficPurchase
	err := s.conn(ctx).Where("expires_at <= ?", now).Order("subscription_id, expires_at").Find(&purchases).Error
	return purchases, dbErr(err, "failed to list expired traffic purchases")
}

func (s *Store) ExpiredPurchasesFor(ctx context.Context, subscriptionID uint, now time.Time) ([]models.TrafficPurchase, error) {
	var purchases []models.TrafficPurchase
	err := s.conn(ctx).
		Where("subscription_id = ? AND expires_at <= ?", subscriptionID, now).
		Order("expires_at").
		Find(&purchases).Error
	return purchases, dbErr(err, "failed to list expired traffic purchases")
}

func (s *Store) DeleteTrafficPurchases(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return dbErr(s.conn(ctx).Where("id IN ?", ids).Delete(&models.TrafficPurchase{}).Error, "failed to delete traffic purchases")
}

func (s *Store) DeleteAllTrafficPurchases(ctx context.Context, subscriptionID uint) error {
	err := s.conn(ctx).Where("subscription_id = ?", subscriptionID).Delete(&models.TrafficPurchase{}).Error
	return dbErr(err, "failed to delete traffic purchases")
}

// NextTrafficExpiry is the soonest expiry among the subscription's remaining purchases, or nil.
func (s *Store) NextTrafficExpiry(ctx context.Context, subscriptionID uint) (*time.Time, error) {
	var purchases []models.TrafficPurchase
	err := s.conn(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("expires_at").
		Limit(1).
		Find(&purchases).Error
	if err != nil {
		return nil, dbErr(err, "failed to find next traffic expiry")
	}
	if len(purchases) == 0 {
		return nil, nil
	}
	next := purchases[0].ExpiresAt
	return &next, nil
}

func (s *Store) TrafficPurchases(ctx context.Context, subscriptionID uint) ([]models.TrafficPurchase, error) {
	var purchases []models.TrafficPurchase
	err := s.conn(ctx).Where("subscription_id = ?", subscriptionID).Order("expires_at").Find(&purchases).Error
	return purchases, dbErr(err, "failed to list traffic purchases")
}
