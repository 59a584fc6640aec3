package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"vpn-billing/internal/database/dbtest"
	"vpn-billing/internal/ledger"
	"vpn-billing/internal/logger"
	"vpn-billing/internal/models"
	"vpn-billing/internal/notification"
	"vpn-billing/internal/notification/notificationtest"
	"vpn-billing/internal/remnawave/remnawavetest"
	"vpn-billing/internal/repository"
)

var now = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *repository.Store
	svc    *Service
	mirror *remnawavetest.Recorder
	notify *notificationtest.Recorder
}

func newFixture(t *testing.T) *fixture {
	store := repository.New(dbtest.New(t))
	f := &fixture{
		store:  store,
		mirror: &remnawavetest.Recorder{},
		notify: &notificationtest.Recorder{},
	}
	f.svc = NewService(store, ledger.New(logger.NewNop()), f.mirror, f.notify, 3, logger.NewNop())
	f.svc.SetClock(func() time.Time { return now })
	return f
}

func (f *fixture) user(t *testing.T, balance int64) *models.User {
	user := &models.User{Username: "dave", BalanceKopeks: balance}
	require.NoError(t, f.store.DB().Create(user).Error)
	return user
}

func (f *fixture) campaign(t *testing.T, c models.AdvertisingCampaign) *models.AdvertisingCampaign {
	if c.Name == "" {
		c.Name = "Spring"
	}
	if c.StartParameter == "" {
		c.StartParameter = "spring_" + c.BonusType
	}
	c.IsActive = true
	require.NoError(t, f.store.DB().Create(&c).Error)
	return &c
}

func (f *fixture) registrations(t *testing.T, userID uint) int64 {
	var n int64
	require.NoError(t, f.store.DB().Model(&models.CampaignRegistration{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func TestApplyCampaignBonus_Balance(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, 1000)
	c := f.campaign(t, models.AdvertisingCampaign{BonusType: models.BonusTypeBalance, BalanceBonusKopeks: 5000})

	res := f.svc.ApplyCampaignBonus(context.Background(), user.ID, c)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, int64(5000), res.BalanceKopeks)

	reloaded, err := f.store.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), reloaded.BalanceKopeks)

	var txs []models.Transaction
	require.NoError(t, f.store.DB().Where("user_id = ?", user.ID).Find(&txs).Error)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionTypeDeposit, txs[0].Type)
	assert.Equal(t, models.PaymentMethodBonus, txs[0].PaymentMethod)
	assert.Equal(t, "Бонус за регистрацию по кампании 'Spring'", txs[0].Description)

	assert.Equal(t, int64(1), f.registrations(t, user.ID))
	assert.Equal(t, []notification.Type{notification.TypeCampaignBonus}, f.notify.Types())
	assert.Empty(t, f.mirror.Calls)
}

func TestApplyCampaignBonus_BalanceTwiceIsDuplicate(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, 0)
	c := f.campaign(t, models.AdvertisingCampaign{BonusType: models.BonusTypeBalance, BalanceBonusKopeks: 5000})

	require.True(t, f.svc.ApplyCampaignBonus(context.Background(), user.ID, c).Success)
	res := f.svc.ApplyCampaignBonus(context.Background(), user.ID, c)

	assert.False(t, res.Success)
	assert.Equal(t, CodeDuplicateGrant, res.Error)

	reloaded, err := f.store.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), reloaded.BalanceKopeks)
	assert.Equal(t, int64(1), f.registrations(t, user.ID))
}

func TestApplyCampaignBonus_Subscription(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, 0)
	require.NoError(t, f.store.DB().Create(&models.ServerSquad{UUID: "trial-squad", Name: "NL", IsAvailable: true, IsTrialEligible: true}).Error)
	c := f.campaign(t, models.AdvertisingCampaign{
		BonusType:                models.BonusTypeSubscription,
		SubscriptionDurationDays: 7,
		SubscriptionTrafficGB:    20,
	})

	res := f.svc.ApplyCampaignBonus(context.Background(), user.ID, c)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 7, res.SubscriptionDays)
	assert.Equal(t, 3, res.DeviceLimit)
	assert.Equal(t, []string{"trial-squad"}, res.Squads)

	sub, err := f.store.GetSubscriptionByUserID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, sub.IsTrial)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, 20, sub.TrafficLimitGB)
	assert.True(t, sub.EndDate.Equal(now.AddDate(0, 0, 7)))
	assert.Equal(t, []string{"push"}, f.mirror.Ops())
	assert.Equal(t, int64(1), f.registrations(t, user.ID))
}

func TestApplyCampaignBonus_SecondSubscriptionBonusRejected(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, 0)
	deviceLimit := 5
	first := f.campaign(t, models.AdvertisingCampaign{
		StartParameter:           "first",
		BonusType:                models.BonusTypeSubscription,
		SubscriptionDurationDays: 7,
		SubscriptionDeviceLimit:  &deviceLimit,
		SubscriptionSquads:       datatypes.JSONSlice[string]{"sq-1"},
	})
	second := f.campaign(t, models.AdvertisingCampaign{
		StartParameter:           "second",
		BonusType:                models.BonusTypeSubscription,
		SubscriptionDurationDays: 14,
	})

	require.True(t, f.svc.ApplyCampaignBonus(context.Background(), user.ID, first).Success)
	res := f.svc.ApplyCampaignBonus(context.Background(), user.ID, second)

	assert.False(t, res.Success)
	assert.Equal(t, CodeDuplicateGrant, res.Error)
	assert.Equal(t, int64(1), f.registrations(t, user.ID))

	sub, err := f.store.GetSubscriptionByUserID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, sub.DeviceLimit)
	assert.Equal(t, []string{"sq-1"}, []string(sub.ConnectedSquads))
	assert.True(t, sub.EndDate.Equal(now.AddDate(0, 0, 7)))
}

func TestApplyCampaignBonus_Tariff(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, 0)
	tariff := &models.Tariff{
		Name:             "Daily",
		IsDaily:          true,
		DailyPriceKopeks: 1000,
		TrafficLimitGB:   100,
		DeviceLimit:      2,
		AllowedSquads:    datatypes.JSONSlice[string]{"sq-a", "sq-b"},
	}
	require.NoError(t, f.store.DB().Create(tariff).Error)
	c := f.campaign(t, models.AdvertisingCampaign{BonusType: models.BonusTypeTariff, TariffID: &tariff.ID, TariffDurationDays: 3})

	res := f.svc.ApplyCampaignBonus(context.Background(), user.ID, c)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Daily", res.TariffName)
	assert.Equal(t, 3, res.TariffDurationDays)

	sub, err := f.store.GetSubscriptionByUserID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.False(t, sub.IsTrial)
	require.NotNil(t, sub.TariffID)
	assert.Equal(t, tariff.ID, *sub.TariffID)
	assert.Equal(t, 100, sub.TrafficLimitGB)
	assert.Equal(t, 2, sub.DeviceLimit)
	assert.Equal(t, []string{"sq-a", "sq-b"}, []string(sub.ConnectedSquads))

	// Not due for a daily charge until the bonus period ends.
	assert.False(t, repository.IsDailyChargeDue(sub, now, 24*time.Hour))
	assert.True(t, repository.IsDailyChargeDue(sub, now.AddDate(0, 0, 3), 24*time.Hour))

	var reg models.CampaignRegistration
	require.NoError(t, f.store.DB().Where("user_id = ?", user.ID).First(&reg).Error)
	require.NotNil(t, reg.TariffID)
	assert.Equal(t, tariff.ID, *reg.TariffID)
	assert.Equal(t, 3, reg.TariffDurationDays)
}

func TestApplyCampaignBonus_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		campaign models.AdvertisingCampaign
		setup    func(t *testing.T, f *fixture, c *models.AdvertisingCampaign)
		want     string
	}{
		{
			name:     "inactive campaign",
			campaign: models.AdvertisingCampaign{BonusType: models.BonusTypeBalance, BalanceBonusKopeks: 100},
			setup: func(t *testing.T, f *fixture, c *models.AdvertisingCampaign) {
				c.IsActive = false
			},
			want: CodeCampaignInactive,
		},
		{
			name:     "zero balance bonus",
			campaign: models.AdvertisingCampaign{BonusType: models.BonusTypeBalance},
			want:     CodeInvalidBonus,
		},
		{
			name:     "zero subscription duration",
			campaign: models.AdvertisingCampaign{BonusType: models.BonusTypeSubscription},
			want:     CodeInvalidBonus,
		},
		{
			name:     "tariff missing",
			campaign: models.AdvertisingCampaign{BonusType: models.BonusTypeTariff, TariffDurationDays: 5},
			want:     CodeInvalidBonus,
		},
		{
			name:     "tariff inactive",
			campaign: models.AdvertisingCampaign{BonusType: models.BonusTypeTariff, TariffDurationDays: 5},
			setup: func(t *testing.T, f *fixture, c *models.AdvertisingCampaign) {
				tariff := &models.Tariff{Name: "Old"}
				require.NoError(t, f.store.DB().Create(tariff).Error)
				require.NoError(t, f.store.DB().Model(tariff).Update("is_active", false).Error)
				c.TariffID = &tariff.ID
			},
			want: CodeTariffUnavailable,
		},
		{
			name:     "unknown bonus type",
			campaign: models.AdvertisingCampaign{BonusType: "lottery"},
			want:     CodeUnknownBonusType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			user := f.user(t, 0)
			c := f.campaign(t, tt.campaign)
			if tt.setup != nil {
				tt.setup(t, f, c)
			}

			res := f.svc.ApplyCampaignBonus(context.Background(), user.ID, c)

			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Error)
			assert.Zero(t, f.registrations(t, user.ID))
			assert.Empty(t, f.notify.Sent)
		})
	}
}

func TestApplyCampaignBonus_NoneRecordsRegistration(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, 0)
	c := f.campaign(t, models.AdvertisingCampaign{BonusType: models.BonusTypeNone})

	res := f.svc.ApplyCampaignBonus(context.Background(), user.ID, c)

	require.True(t, res.Success)
	assert.Equal(t, int64(1), f.registrations(t, user.ID))
	assert.Empty(t, f.notify.Sent)
}

func TestApplyByStartParameter(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, 0)
	f.campaign(t, models.AdvertisingCampaign{StartParameter: "promo42", BonusType: models.BonusTypeBalance, BalanceBonusKopeks: 700})

	res := f.svc.ApplyByStartParameter(context.Background(), user.ID, "promo42")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, int64(700), res.BalanceKopeks)

	missing := f.svc.ApplyByStartParameter(context.Background(), user.ID, "nope")
	assert.Equal(t, CodeCampaignNotFound, missing.Error)
}

func TestApplyCampaignBonus_RemoteFailureKeepsGrant(t *testing.T) {
	f := newFixture(t)
	f.mirror.Fail = true
	user := f.user(t, 0)
	c := f.campaign(t, models.AdvertisingCampaign{BonusType: models.BonusTypeSubscription, SubscriptionDurationDays: 3})

	res := f.svc.ApplyCampaignBonus(context.Background(), user.ID, c)

	require.True(t, res.Success)
	exists, err := f.store.HasSubscription(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int64(1), f.registrations(t, user.ID))
}
