package repository

import (
	"context"

	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/models"
)

func (s *Store) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.conn(ctx).Preload("PromoGroup").First(&user, id).Error; err != nil {
		return nil, notFoundOr(err, "user")
	}
	return &user, nil
}

// LockUser reloads the user under a row lock for the rest of the transaction.
func (s *Store) LockUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.locked(ctx).Preload("PromoGroup").First(&user, id).Error; err != nil {
		return nil, notFoundOr(err, "user")
	}
	return &user, nil
}

func (s *Store) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	if err := s.conn(ctx).Preload("PromoGroup").Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, notFoundOr(err, "user")
	}
	return &user, nil
}

// EnsureTelegramUser returns the user with this telegram id, creating it on first contact.
func (s *Store) EnsureTelegramUser(ctx context.Context, telegramID int64, username, language string) (*models.User, bool, error) {
	user, err := s.GetUserByTelegramID(ctx, telegramID)
	if err == nil {
		return user, false, nil
	}
	if !ierr.Is(err, ierr.ErrNotFound) {
		return nil, false, err
	}

	if language == "" {
		language = "ru"
	}
	user = &models.User{
		TelegramID: &telegramID,
		Username:   username,
		Language:   language,
		Status:     models.UserStatusActive,
	}
	if err := s.conn(ctx).Create(user).Error; err != nil {
		return nil, false, dbErr(err, "failed to create user")
	}
	return user, true, nil
}

func (s *Store) SetRemnawaveUUID(ctx context.Context, userID uint, uuid string) error {
	err := s.conn(ctx).Model(&models.User{}).Where("id = ?", userID).Update("remnawave_uuid", uuid).Error
	return dbErr(err, "failed to store remnawave uuid")
}

func (s *Store) SetSubscriptionURL(ctx context.Context, subscriptionID uint, url string) error {
	err := s.conn(ctx).Model(&models.Subscription{}).Where("id = ?", subscriptionID).Update("subscription_url", url).Error
	return dbErr(err, "failed to store subscription url")
}
