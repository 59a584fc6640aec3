package repository

import (
	"context"

	"gorm.io/gorm/clause"

	"vpn-billing/internal/models"
)

func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return dbErr(s.conn(ctx).Omit(clause.Associations).Create(payment).Error, "failed to create payment")
}

func (s *Store) SavePayment(ctx context.Context, payment *models.Payment) error {
	return dbErr(s.conn(ctx).Omit(clause.Associations).Save(payment).Error, "failed to save payment")
}

// LockPaymentByExternalID loads a gateway payment under a row lock.
func (s *Store) LockPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.locked(ctx).Where("external_id = ?", externalID).First(&payment).Error; err != nil {
		return nil, notFoundOr(err, "payment")
	}
	return &payment, nil
}
