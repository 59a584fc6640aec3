package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrial    = "trial"
	SubscriptionStatusExpired  = "expired"
	SubscriptionStatusDisabled = "disabled"

	SuspendReasonInsufficientBalance = "insufficient_balance"
	SuspendReasonAdmin               = "admin"
)

type Subscription struct {
	ID                 uint `gorm:"primaryKey"`
	UserID             uint `gorm:"not null;uniqueIndex"`
	User               *User
	Status             string `gorm:"size:20;not null;default:'active';index"`
	SuspendReason      string `gorm:"size:32"`
	IsTrial            bool   `gorm:"default:false"`
	StartDate          time.Time
	EndDate            time.Time `gorm:"index"`
	TrafficLimitGB     int       `gorm:"not null;default:0"`
	PurchasedTrafficGB int       `gorm:"not null;default:0"`
	TrafficUsedGB      float64   `gorm:"default:0"`
	TrafficResetAt     *time.Time
	DeviceLimit        int   `gorm:"default:1"`
	TariffID           *uint `gorm:"index"`
	Tariff             *Tariff
	ConnectedSquads    datatypes.JSONSlice[string]
	IsDailyPaused      bool `gorm:"default:false"`
	LastDailyChargeAt  *time.Time
	SubscriptionURL    string `gorm:"size:512"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (s *Subscription) IsUnlimited() bool {
	return s.TrafficLimitGB == 0
}

// BaseTrafficGB is the limit without purchased add-ons.
func (s *Subscription) BaseTrafficGB() int {
	return s.TrafficLimitGB - s.PurchasedTrafficGB
}

// IsSuspendedForBalance reports a daily subscription stopped by the billing loop, not by an admin.
func (s *Subscription) IsSuspendedForBalance() bool {
	return s.Status == SubscriptionStatusDisabled && s.SuspendReason == SuspendReasonInsufficientBalance
}

// TrafficPurchase is a time-boxed traffic add-on.
type TrafficPurchase struct {
	ID             uint `gorm:"primaryKey"`
	SubscriptionID uint `gorm:"not null;index"`
	TrafficGB      int  `gorm:"not null"`
	CreatedAt      time.Time
	ExpiresAt      time.Time `gorm:"not null;index"`
}

type ServerSquad struct {
	ID              uint   `gorm:"primaryKey"`
	UUID            string `gorm:"size:64;uniqueIndex;not null"`
	Name            string `gorm:"size:255"`
	IsAvailable     bool   `gorm:"default:true"`
	IsTrialEligible bool   `gorm:"default:false"`
	CreatedAt       time.Time
}
