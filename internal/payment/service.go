package payment

import (
	"context"
	"strconv"
	"time"

	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/ledger"
	"vpn-billing/internal/logger"
	"vpn-billing/internal/models"
	"vpn-billing/internal/notification"
	"vpn-billing/internal/repository"
	"vpn-billing/internal/traffic"
)

const topupDescription = "Пополнение баланса"

// ErrTopupRestricted is returned for users barred from topping up.
var ErrTopupRestricted = ierr.Mark(ierr.New("balance top-up is restricted for this user"), ierr.ErrValidation)

// Resumer re-activates subscriptions suspended for lack of funds.
type Resumer interface {
	ResumeSuspended(ctx context.Context, userID uint) (bool, error)
}

// CartCompleter re-runs the purchase the user was saving up for.
type CartCompleter interface {
	CompleteCart(ctx context.Context, userID uint) (traffic.Result, bool)
}

// Topup is a created gateway payment awaiting confirmation.
type Topup struct {
	Payment         *models.Payment
	ConfirmationURL string
}

type Service struct {
	store     *repository.Store
	ledger    *ledger.Ledger
	gateway   Gateway
	resumer   Resumer
	carts     CartCompleter
	notify    notification.Notifier
	returnURL string
	log       *logger.Logger
	now       func() time.Time
}

func NewService(
	store *repository.Store,
	l *ledger.Ledger,
	gateway Gateway,
	resumer Resumer,
	carts CartCompleter,
	notify notification.Notifier,
	returnURL string,
	log *logger.Logger,
) *Service {
	return &Service{
		store:     store,
		ledger:    l,
		gateway:   gateway,
		resumer:   resumer,
		carts:     carts,
		notify:    notify,
		returnURL: returnURL,
		log:       log.With("component", "payment"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreateTopup persists a pending payment and asks the gateway for a confirmation URL.
func (s *Service) CreateTopup(ctx context.Context, userID uint, amountKopeks int64) (*Topup, error) {
	if amountKopeks <= 0 {
		return nil, ierr.Mark(ierr.Newf("top-up amount must be positive, got %d", amountKopeks), ierr.ErrValidation)
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.RestrictionTopup {
		return nil, ErrTopupRestricted
	}

	p := &models.Payment{
		UserID:       user.ID,
		AmountKopeks: amountKopeks,
		Status:       models.PaymentStatusPending,
		Type:         models.PaymentTypeBalanceTopup,
		Provider:     models.PaymentMethodYookassa,
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	resp, err := s.gateway.CreatePayment(ctx, amountKopeks, topupDescription, s.returnURL, map[string]string{
		MetadataPaymentID: strconv.FormatUint(uint64(p.ID), 10),
		MetadataUserID:    strconv.FormatUint(uint64(user.ID), 10),
		MetadataType:      models.PaymentTypeBalanceTopup,
	})
	if err != nil {
		p.Status = models.PaymentStatusCanceled
		if saveErr := s.store.SavePayment(ctx, p); saveErr != nil {
			s.log.Errorw("Failed to cancel payment after gateway error", "payment_id", p.ID, "error", saveErr)
		}
		return nil, ierr.Wrap(err, "failed to create gateway payment")
	}

	p.ExternalID = resp.ID
	if err := s.store.SavePayment(ctx, p); err != nil {
		return nil, err
	}

	s.log.Infow("Top-up payment created", "payment_id", p.ID, "user_id", user.ID, "amount_kopeks", amountKopeks, "external_id", resp.ID)
	return &Topup{Payment: p, ConfirmationURL: resp.Confirmation.ConfirmationURL}, nil
}

// HandleNotification dispatches a webhook event. Unknown events are ignored.
func (s *Service) HandleNotification(ctx context.Context, n WebhookNotification) error {
	switch n.Event {
	case EventPaymentSucceeded:
		return s.HandleSucceeded(ctx, n.Object)
	case EventPaymentCanceled:
		return s.handleCanceled(ctx, n.Object)
	default:
		s.log.Infow("Ignored webhook event", "event", n.Event, "external_id", n.Object.ID)
		return nil
	}
}

// HandleSucceeded credits the payment amount exactly once per gateway payment id.
// After commit it notifies the user, resumes a suspended subscription and completes a pending cart.
func (s *Service) HandleSucceeded(ctx context.Context, obj WebhookObject) error {
	amount, err := ParseAmount(obj.Amount.Value)
	if err != nil {
		return err
	}
	log := s.log.With("external_id", obj.ID)

	var (
		user     *models.User
		credited bool
	)
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		p, err := tx.LockPaymentByExternalID(ctx, obj.ID)
		if err != nil {
			return err
		}
		if p.Status == models.PaymentStatusSucceeded {
			return nil
		}
		if p.AmountKopeks != amount {
			return ierr.Mark(
				ierr.Newf("payment %d amount mismatch: stored %d, notified %d", p.ID, p.AmountKopeks, amount),
				ierr.ErrDataIntegrity,
			)
		}

		user, err = tx.LockUser(ctx, p.UserID)
		if err != nil {
			return err
		}
		externalID := obj.ID
		if _, err := s.ledger.Credit(tx.DB(), user, amount, ledger.Entry{
			Type:          models.TransactionTypeDeposit,
			Description:   topupDescription,
			PaymentMethod: models.PaymentMethodYookassa,
			ExternalID:    &externalID,
		}); err != nil {
			return err
		}

		paidAt := s.now()
		p.Status = models.PaymentStatusSucceeded
		p.PaidAt = &paidAt
		credited = true
		return tx.SavePayment(ctx, p)
	})
	if err != nil {
		if ierr.Is(err, ierr.ErrDataIntegrity) {
			log.Errorw("Rejected payment notification", "error", err)
		}
		return err
	}
	if !credited {
		log.Infow("Duplicate payment notification ignored")
		return nil
	}

	log.Infow("Balance topped up", "user_id", user.ID, "amount_kopeks", amount, "balance_kopeks", user.BalanceKopeks)
	s.notify.Send(ctx, user, notification.BalanceTopup(amount, user.BalanceKopeks))

	if _, err := s.resumer.ResumeSuspended(ctx, user.ID); err != nil {
		log.Errorw("Failed to resume suspended subscription", "user_id", user.ID, "error", err)
	}
	if res, ok := s.carts.CompleteCart(ctx, user.ID); ok {
		log.Infow("Pending cart processed", "user_id", user.ID, "success", res.Success, "code", res.Error)
	}
	return nil
}

func (s *Service) handleCanceled(ctx context.Context, obj WebhookObject) error {
	return s.store.Transaction(ctx, func(tx *repository.Store) error {
		p, err := tx.LockPaymentByExternalID(ctx, obj.ID)
		if ierr.Is(err, ierr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if p.Status != models.PaymentStatusPending {
			return nil
		}
		p.Status = models.PaymentStatusCanceled
		s.log.Infow("Payment canceled", "payment_id", p.ID, "external_id", obj.ID)
		return tx.SavePayment(ctx, p)
	})
}
