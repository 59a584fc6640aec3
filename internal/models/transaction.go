package models

import "time"

const (
	TransactionTypeDeposit             = "deposit"
	TransactionTypeWithdrawal          = "withdrawal"
	TransactionTypeSubscriptionPayment = "subscription_payment"
	TransactionTypeRefund              = "refund"

	PaymentMethodManual   = "manual"
	PaymentMethodBalance  = "balance"
	PaymentMethodYookassa = "yookassa"
	PaymentMethodBonus    = "campaign_bonus"
)

// Transaction is the append-only audit row of a balance delta.
type Transaction struct {
	ID            uint    `gorm:"primaryKey"`
	UserID        uint    `gorm:"not null;index"`
	Type          string  `gorm:"size:32;not null"`
	AmountKopeks  int64   `gorm:"not null"`
	Description   string  `gorm:"size:512"`
	PaymentMethod string  `gorm:"size:32"`
	ExternalID    *string `gorm:"size:255;uniqueIndex"`
	IsCompleted   bool    `gorm:"default:true"`
	CreatedAt     time.Time
}
