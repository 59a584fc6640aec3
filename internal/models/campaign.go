package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	BonusTypeBalance      = "balance"
	BonusTypeSubscription = "subscription"
	BonusTypeTariff       = "tariff"
	BonusTypeNone         = "none"
)

type AdvertisingCampaign struct {
	ID                       uint   `gorm:"primaryKey"`
	Name                     string `gorm:"size:255;not null"`
	StartParameter           string `gorm:"size:64;uniqueIndex;not null"`
	IsActive                 bool   `gorm:"default:true"`
	BonusType                string `gorm:"size:20;not null"`
	BalanceBonusKopeks       int64  `gorm:"default:0"`
	SubscriptionDurationDays int    `gorm:"default:0"`
	SubscriptionTrafficGB    int    `gorm:"default:0"`
	SubscriptionDeviceLimit  *int
	SubscriptionSquads       datatypes.JSONSlice[string]
	TariffID                 *uint
	TariffDurationDays       int `gorm:"default:0"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// CampaignRegistration records which bonus a user got; one row per (campaign, user).
type CampaignRegistration struct {
	ID                       uint   `gorm:"primaryKey"`
	CampaignID               uint   `gorm:"not null;uniqueIndex:idx_campaign_user"`
	UserID                   uint   `gorm:"not null;uniqueIndex:idx_campaign_user"`
	BonusType                string `gorm:"size:20;not null"`
	BalanceBonusKopeks       int64
	SubscriptionDurationDays int
	TariffID                 *uint
	TariffDurationDays       int
	CreatedAt                time.Time
}
