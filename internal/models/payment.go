package models

import (
	"time"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusCanceled  = "canceled"

	PaymentTypeBalanceTopup = "balance_topup"
)

type Payment struct {
	ID           uint   `gorm:"primaryKey"`
	UserID       uint   `gorm:"not null;index"`
	User         *User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	AmountKopeks int64  `gorm:"not null"`
	Status       string `gorm:"size:20;default:'pending'"`
	Type         string `gorm:"size:32"`
	Provider     string `gorm:"size:32"`
	ExternalID   string `gorm:"size:255;index"`
	PaidAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
