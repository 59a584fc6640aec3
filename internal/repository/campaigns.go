package repository

import (
	"context"

	"vpn-billing/internal/models"
)

func (s *Store) GetCampaign(ctx context.Context, id uint) (*models.AdvertisingCampaign, error) {
	var campaign models.AdvertisingCampaign
	if err := s.conn(ctx).First(&campaign, id).Error; err != nil {
		return nil, notFoundOr(err, "campaign")
	}
	return &campaign, nil
}

func (s *Store) GetCampaignByStartParameter(ctx context.Context, param string) (*models.AdvertisingCampaign, error) {
	var campaign models.AdvertisingCampaign
	if err := s.conn(ctx).Where("start_parameter = ?", param).First(&campaign).Error; err != nil {
		return nil, notFoundOr(err, "campaign")
	}
	return &campaign, nil
}

func (s *Store) HasCampaignRegistration(ctx context.Context, campaignID, userID uint) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&models.CampaignRegistration{}).
		Where("campaign_id = ? AND user_id = ?", campaignID, userID).
		Count(&n).Error
	return n > 0, dbErr(err, "failed to check campaign registration")
}

func (s *Store) CreateCampaignRegistration(ctx context.Context, reg *models.CampaignRegistration) error {
	return dbErr(s.conn(ctx).Create(reg).Error, "failed to create campaign registration")
}

func (s *Store) GetTariff(ctx context.Context, id uint) (*models.Tariff, error) {
	var tariff models.Tariff
	if err := s.conn(ctx).First(&tariff, id).Error; err != nil {
		return nil, notFoundOr(err, "tariff")
	}
	return &tariff, nil
}

// TrialSquads lists available server squads that may be handed out to trial users.
func (s *Store) TrialSquads(ctx context.Context) ([]models.ServerSquad, error) {
	var squads []models.ServerSquad
	err := s.conn(ctx).Where("is_available = ? AND is_trial_eligible = ?", true, true).Find(&squads).Error
	return squads, dbErr(err, "failed to list trial squads")
}
