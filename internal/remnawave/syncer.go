package remnawave

import (
	"context"
	"fmt"
	"time"

	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/logger"
	"vpn-billing/internal/models"
	"vpn-billing/internal/repository"
)

const bytesPerGB = int64(1024 * 1024 * 1024)

// Entitlements mirrors local subscription state to the VPN panel.
// Calls are best effort: a failed result never undoes committed local state.
type Entitlements interface {
	PushSubscription(ctx context.Context, user *models.User, sub *models.Subscription) Result
	Enable(ctx context.Context, user *models.User) Result
	Disable(ctx context.Context, user *models.User) Result
	ResetTraffic(ctx context.Context, user *models.User) Result
}

// Result is the outcome of one mirror call.
type Result struct {
	OK   bool
	UUID string
	Err  error
}

func failed(err error) Result {
	return Result{Err: ierr.Mark(err, ierr.ErrRemoteSync)}
}

type Syncer struct {
	client       *Client
	store        *repository.Store
	log          *logger.Logger
	timeout      time.Duration
	defaultSquad string
}

func NewSyncer(client *Client, store *repository.Store, log *logger.Logger, timeout time.Duration, defaultSquad string) *Syncer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Syncer{
		client:       client,
		store:        store,
		log:          log,
		timeout:      timeout,
		defaultSquad: defaultSquad,
	}
}

// PushSubscription creates the remote user on first sync, otherwise updates limits, expiry and status.
func (s *Syncer) PushSubscription(ctx context.Context, user *models.User, sub *models.Subscription) Result {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	squads := []string(sub.ConnectedSquads)
	if len(squads) == 0 && s.defaultSquad != "" {
		squads = []string{s.defaultSquad}
	}

	if user.RemnawaveUUID == "" {
		resp, err := s.client.CreateUser(ctx, CreateUserRequest{
			Username:             RemoteUsername(user),
			Status:               remoteStatus(sub),
			TrafficLimitBytes:    int64(sub.TrafficLimitGB) * bytesPerGB,
			TrafficLimitStrategy: StrategyNoReset,
			ExpireAt:             sub.EndDate.UTC().Format(time.RFC3339),
			Description:          fmt.Sprintf("user %s", user.DisplayID()),
			TelegramID:           user.TelegramID,
			Email:                user.Email,
			HwidDeviceLimit:      sub.DeviceLimit,
			ActiveInternalSquads: squads,
		})
		if err != nil {
			s.logFailure("create", user, sub, err)
			return failed(err)
		}

		user.RemnawaveUUID = resp.UUID
		if err := s.store.SetRemnawaveUUID(ctx, user.ID, resp.UUID); err != nil {
			s.log.Errorw("Failed to persist remnawave uuid", "user_id", user.ID, "uuid", resp.UUID, "error", err)
		}
		s.storeURL(ctx, sub, resp)
		return Result{OK: true, UUID: resp.UUID}
	}

	resp, err := s.client.UpdateUser(ctx, UpdateUserRequest{
		UUID:                 user.RemnawaveUUID,
		Status:               remoteStatus(sub),
		TrafficLimitBytes:    int64(sub.TrafficLimitGB) * bytesPerGB,
		TrafficLimitStrategy: StrategyNoReset,
		ExpireAt:             sub.EndDate.UTC().Format(time.RFC3339),
		HwidDeviceLimit:      sub.DeviceLimit,
		ActiveInternalSquads: squads,
	})
	if err != nil {
		s.logFailure("update", user, sub, err)
		return failed(err)
	}
	s.storeURL(ctx, sub, resp)
	return Result{OK: true, UUID: user.RemnawaveUUID}
}

func (s *Syncer) Enable(ctx context.Context, user *models.User) Result {
	return s.action(ctx, "enable", user, s.client.EnableUser)
}

func (s *Syncer) Disable(ctx context.Context, user *models.User) Result {
	return s.action(ctx, "disable", user, s.client.DisableUser)
}

func (s *Syncer) ResetTraffic(ctx context.Context, user *models.User) Result {
	return s.action(ctx, "reset traffic", user, s.client.ResetUserTraffic)
}

func (s *Syncer) action(ctx context.Context, name string, user *models.User, call func(context.Context, string) error) Result {
	if user.RemnawaveUUID == "" {
		s.log.Warnw("Skipping remnawave call, user not synced yet", "action", name, "user_id", user.ID)
		return failed(ierr.Newf("user %d has no remnawave uuid", user.ID))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := call(ctx, user.RemnawaveUUID); err != nil {
		s.log.Errorw("Remnawave call failed", "action", name, "user_id", user.ID, "uuid", user.RemnawaveUUID, "error", err)
		return failed(err)
	}
	return Result{OK: true, UUID: user.RemnawaveUUID}
}

func (s *Syncer) storeURL(ctx context.Context, sub *models.Subscription, resp *UserResponse) {
	if resp.SubscriptionURL == "" || resp.SubscriptionURL == sub.SubscriptionURL {
		return
	}
	sub.SubscriptionURL = resp.SubscriptionURL
	if err := s.store.SetSubscriptionURL(ctx, sub.ID, resp.SubscriptionURL); err != nil {
		s.log.Errorw("Failed to persist subscription url", "subscription_id", sub.ID, "error", err)
	}
}

func (s *Syncer) logFailure(op string, user *models.User, sub *models.Subscription, err error) {
	s.log.Errorw("Remnawave sync failed",
		"op", op,
		"user_id", user.ID,
		"subscription_id", sub.ID,
		"error", err,
	)
}

// RemoteUsername is the panel username for a local user.
func RemoteUsername(user *models.User) string {
	if user.TelegramID != nil {
		return fmt.Sprintf("tg_%d", *user.TelegramID)
	}
	return fmt.Sprintf("user_%d", user.ID)
}

func remoteStatus(sub *models.Subscription) string {
	switch sub.Status {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrial:
		return StatusActive
	case models.SubscriptionStatusExpired:
		return StatusExpired
	default:
		return StatusDisabled
	}
}
