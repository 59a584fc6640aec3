// Package ledger is the only code path that mutates user balances.
// Every debit and credit writes its Transaction row inside the caller's unit of work.
package ledger

import (
	"gorm.io/gorm"

	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/logger"
	"vpn-billing/internal/models"
)

// Entry describes the audit row written alongside a balance change.
type Entry struct {
	Type          string
	Description   string
	PaymentMethod string
	ExternalID    *string
}

type Ledger struct {
	log *logger.Logger
}

func New(log *logger.Logger) *Ledger {
	return &Ledger{log: log}
}

// Debit atomically subtracts amount from the user's balance and records the transaction.
// It fails with an *ierr.InsufficientFundsError and changes nothing when the balance is short.
// On success user.BalanceKopeks reflects the new balance.
func (l *Ledger) Debit(tx *gorm.DB, user *models.User, amount int64, entry Entry) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ierr.Mark(ierr.Newf("debit amount must be positive, got %d", amount), ierr.ErrValidation)
	}

	res := tx.Model(&models.User{}).
		Where("id = ? AND balance_kopeks >= ?", user.ID, amount).
		Update("balance_kopeks", gorm.Expr("balance_kopeks - ?", amount))
	if res.Error != nil {
		return nil, ierr.Mark(ierr.Wrap(res.Error, "failed to debit balance"), ierr.ErrDatabase)
	}

	if res.RowsAffected == 0 {
		available, err := l.balance(tx, user.ID)
		if err != nil {
			return nil, err
		}
		user.BalanceKopeks = available
		return nil, &ierr.InsufficientFundsError{Required: amount, Available: available}
	}

	if entry.Type == "" {
		entry.Type = models.TransactionTypeWithdrawal
	}
	record, err := l.RecordTransaction(tx, user.ID, amount, entry)
	if err != nil {
		return nil, err
	}

	balance, err := l.balance(tx, user.ID)
	if err != nil {
		return nil, err
	}
	user.BalanceKopeks = balance

	l.log.Debugw("Balance debited", "user_id", user.ID, "amount_kopeks", amount, "balance_kopeks", balance)
	return record, nil
}

// Credit adds amount to the user's balance and records the transaction.
func (l *Ledger) Credit(tx *gorm.DB, user *models.User, amount int64, entry Entry) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ierr.Mark(ierr.Newf("credit amount must be positive, got %d", amount), ierr.ErrValidation)
	}

	res := tx.Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("balance_kopeks", gorm.Expr("balance_kopeks + ?", amount))
	if res.Error != nil {
		return nil, ierr.Mark(ierr.Wrap(res.Error, "failed to credit balance"), ierr.ErrDatabase)
	}
	if res.RowsAffected == 0 {
		return nil, ierr.Mark(ierr.Newf("user %d not found", user.ID), ierr.ErrNotFound)
	}

	if entry.Type == "" {
		entry.Type = models.TransactionTypeDeposit
	}
	record, err := l.RecordTransaction(tx, user.ID, amount, entry)
	if err != nil {
		return nil, err
	}

	balance, err := l.balance(tx, user.ID)
	if err != nil {
		return nil, err
	}
	user.BalanceKopeks = balance

	l.log.Debugw("Balance credited", "user_id", user.ID, "amount_kopeks", amount, "balance_kopeks", balance)
	return record, nil
}

// RecordTransaction appends an audit row without touching the balance.
func (l *Ledger) RecordTransaction(tx *gorm.DB, userID uint, amount int64, entry Entry) (*models.Transaction, error) {
	record := &models.Transaction{
		UserID:        userID,
		Type:          entry.Type,
		AmountKopeks:  amount,
		Description:   entry.Description,
		PaymentMethod: entry.PaymentMethod,
		ExternalID:    entry.ExternalID,
		IsCompleted:   true,
	}
	if err := tx.Create(record).Error; err != nil {
		return nil, ierr.Mark(ierr.Wrap(err, "failed to create transaction"), ierr.ErrDatabase)
	}
	return record, nil
}

func (l *Ledger) balance(tx *gorm.DB, userID uint) (int64, error) {
	var user models.User
	err := tx.Select("id", "balance_kopeks").First(&user, userID).Error
	if ierr.Is(err, gorm.ErrRecordNotFound) {
		return 0, ierr.Mark(ierr.Newf("user %d not found", userID), ierr.ErrNotFound)
	}
	if err != nil {
		return 0, ierr.Mark(ierr.Wrap(err, "failed to read balance"), ierr.ErrDatabase)
	}
	return user.BalanceKopeks, nil
}
