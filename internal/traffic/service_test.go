package traffic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"vpn-billing/internal/cart"
	"vpn-billing/internal/config"
	"vpn-billing/internal/database/dbtest"
	"vpn-billing/internal/ledger"
	"vpn-billing/internal/logger"
	"vpn-billing/internal/models"
	"vpn-billing/internal/notification"
	"vpn-billing/internal/notification/notificationtest"
	"vpn-billing/internal/remnawave/remnawavetest"
	"vpn-billing/internal/repository"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *repository.Store
	svc    *Service
	carts  *cart.MemoryStore
	mirror *remnawavetest.Recorder
	notify *notificationtest.Recorder
}

func classicConfig() config.TrafficConfig {
	return config.TrafficConfig{
		SalesMode:      config.SalesModeClassic,
		TopupEnabled:   true,
		Prices:         map[int]int64{50: 1500, 100: 3000, 200: 5000, 0: 8000},
		TopupPrices:    map[int]int64{10: 500, 20: 1000, 0: 4000, 30: 0},
		PeriodPrices:   map[int]int64{30: 9900},
		ResetPriceMode: config.ResetPriceModePeriod,
		PurchaseTTL:    30 * 24 * time.Hour,
	}
}

func newFixture(t *testing.T, cfg config.TrafficConfig) *fixture {
	store := repository.New(dbtest.New(t))
	f := &fixture{
		store:  store,
		carts:  cart.NewMemoryStore(),
		mirror: &remnawavetest.Recorder{},
		notify: &notificationtest.Recorder{},
	}
	f.svc = NewService(store, ledger.New(logger.NewNop()), cfg, f.carts, f.mirror, f.notify, logger.NewNop())
	f.svc.SetClock(func() time.Time { return now })
	return f
}

type subOpts struct {
	balance   int64
	limit     int
	purchased int
	days      int
	trial     bool
	discount  int
	tariff    *models.Tariff
}

func (f *fixture) seed(t *testing.T, o subOpts) (*models.User, *models.Subscription) {
	db := f.store.DB()
	user := &models.User{Username: "carol", BalanceKopeks: o.balance, RemnawaveUUID: "uuid"}
	if o.discount > 0 {
		group := &models.PromoGroup{Name: "vip", TrafficDiscountPercent: o.discount, ApplyDiscountsToAddons: true}
		require.NoError(t, db.Create(group).Error)
		user.PromoGroupID = &group.ID
	}
	require.NoError(t, db.Create(user).Error)

	sub := &models.Subscription{
		UserID:             user.ID,
		Status:             models.SubscriptionStatusActive,
		IsTrial:            o.trial,
		EndDate:            now.Add(time.Duration(o.days) * 24 * time.Hour),
		TrafficLimitGB:     o.limit,
		PurchasedTrafficGB: o.purchased,
		TrafficUsedGB:      42.5,
	}
	if o.tariff != nil {
		require.NoError(t, db.Create(o.tariff).Error)
		sub.TariffID = &o.tariff.ID
	}
	require.NoError(t, f.store.CreateSubscription(context.Background(), sub))
	return user, sub
}

func (f *fixture) reload(t *testing.T, user *models.User, sub *models.Subscription) (*models.User, *models.Subscription) {
	u, err := f.store.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	s, err := f.store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	return u, s
}

func (f *fixture) transactionCount(t *testing.T, userID uint) int64 {
	var n int64
	require.NoError(t, f.store.DB().Model(&models.Transaction{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func TestAddTraffic_ClassicProratedWithDiscount(t *testing.T) {
	f := newFixture(t, classicConfig())
	user, sub := f.seed(t, subOpts{balance: 10000, limit: 100, days: 95, discount: 10})

	res := f.svc.AddTraffic(context.Background(), user.ID, 20)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, int64(2700), res.Charged)
	assert.Equal(t, int64(3000), res.Original)
	assert.Equal(t, int64(300), res.Savings)
	assert.Equal(t, 3, res.Months)

	user, sub = f.reload(t, user, sub)
	assert.Equal(t, int64(7300), user.BalanceKopeks)
	assert.Equal(t, 120, sub.TrafficLimitGB)
	assert.Equal(t, 20, sub.PurchasedTrafficGB)
	require.NotNil(t, sub.TrafficResetAt)
	assert.True(t, sub.TrafficResetAt.Equal(now.Add(30*24*time.Hour)))

	purchases, err := f.store.TrafficPurchases(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, 20, purchases[0].TrafficGB)
	assert.True(t, purchases[0].ExpiresAt.Equal(now.Add(30*24*time.Hour)))

	assert.Equal(t, int64(1), f.transactionCount(t, user.ID))
	assert.Equal(t, []string{"push"}, f.mirror.Ops())
	assert.Equal(t, []notification.Type{notification.TypeTrafficAdded}, f.notify.Types())
	assert.Len(t, f.notify.Admins, 1)
}

func TestAddTraffic_UnlimitedClearsAddons(t *testing.T) {
	f := newFixture(t, classicConfig())
	user, sub := f.seed(t, subOpts{balance: 10000, limit: 130, purchased: 30, days: 20})
	ctx := context.Background()
	for _, gb := range []int{10, 20} {
		require.NoError(t, f.store.CreateTrafficPurchase(ctx, &models.TrafficPurchase{
			SubscriptionID: sub.ID, TrafficGB: gb, ExpiresAt: now.Add(10 * 24 * time.Hour),
		}))
	}

	res := f.svc.AddTraffic(ctx, user.ID, 0)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, int64(4000), res.Charged)

	_, sub = f.reload(t, user, sub)
	assert.Equal(t, 0, sub.TrafficLimitGB)
	assert.Equal(t, 0, sub.PurchasedTrafficGB)
	assert.Nil(t, sub.TrafficResetAt)

	purchases, err := f.store.TrafficPurchases(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, purchases)
}

func TestAddTraffic_Rejections(t *testing.T) {
	tests := []struct {
		name string
		opts subOpts
		cfg  func(*config.TrafficConfig)
		gb   int
		code string
	}{
		{name: "trial", opts: subOpts{balance: 10000, limit: 10, days: 30, trial: true}, gb: 10, code: CodeTrialSubscription},
		{name: "already unlimited", opts: subOpts{balance: 10000, limit: 0, days: 30}, gb: 10, code: CodeUnlimited},
		{name: "global topup disabled", opts: subOpts{balance: 10000, limit: 100, days: 30},
			cfg: func(c *config.TrafficConfig) { c.TopupEnabled = false }, gb: 10, code: CodeTopupDisabled},
		{name: "unknown package", opts: subOpts{balance: 10000, limit: 100, days: 30}, gb: 15, code: CodePackageUnavailable},
		{name: "zero price", opts: subOpts{balance: 10000, limit: 100, days: 30}, gb: 30, code: CodePriceNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := classicConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			f := newFixture(t, cfg)
			user, sub := f.seed(t, tt.opts)

			res := f.svc.AddTraffic(context.Background(), user.ID, tt.gb)
			assert.False(t, res.Success)
			assert.Equal(t, tt.code, res.Error)

			user, reloaded := f.reload(t, user, sub)
			assert.Equal(t, tt.opts.balance, user.BalanceKopeks)
			assert.Equal(t, sub.TrafficLimitGB, reloaded.TrafficLimitGB)
			assert.Equal(t, int64(0), f.transactionCount(t, user.ID))
			assert.Empty(t, f.mirror.Ops())
		})
	}
}

func TestAddTraffic_NoSubscription(t *testing.T) {
	f := newFixture(t, classicConfig())
	user := &models.User{Username: "nosub"}
	require.NoError(t, f.store.DB().Create(user).Error)

	res := f.svc.AddTraffic(context.Background(), user.ID, 10)
	assert.Equal(t, CodeSubscriptionNotFound, res.Error)
}

func TestAddTraffic_InsufficientFundsSavesCartAndCompletesAfterTopup(t *testing.T) {
	f := newFixture(t, classicConfig())
	ctx := context.Background()
	user, sub := f.seed(t, subOpts{balance: 100, limit: 100, days: 30})

	res := f.svc.AddTraffic(ctx, user.ID, 10)
	assert.False(t, res.Success)
	assert.Equal(t, CodeInsufficientFunds, res.Error)
	assert.Equal(t, int64(500), res.Required)
	assert.Equal(t, int64(100), res.Available)
	assert.Equal(t, int64(400), res.Missing)
	assert.True(t, res.CartSaved)

	item, err := f.carts.Get(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, cart.KindAddTraffic, item.Kind)

	res, found := f.svc.CompleteCart(ctx, user.ID)
	assert.True(t, found)
	assert.Equal(t, CodeInsufficientFunds, res.Error)
	item, _ = f.carts.Get(ctx, user.ID)
	assert.NotNil(t, item, "cart kept while still underfunded")

	require.NoError(t, f.store.DB().Model(&models.User{}).Where("id = ?", user.ID).Update("balance_kopeks", 600).Error)
	res, found = f.svc.CompleteCart(ctx, user.ID)
	assert.True(t, found)
	require.True(t, res.Success, res.Error)

	item, _ = f.carts.Get(ctx, user.ID)
	assert.Nil(t, item)

	user, sub = f.reload(t, user, sub)
	assert.Equal(t, int64(100), user.BalanceKopeks)
	assert.Equal(t, 110, sub.TrafficLimitGB)

	_, found = f.svc.CompleteCart(ctx, user.ID)
	assert.False(t, found)
}

func TestCompleteCart_DropsCartOnTerminalFailure(t *testing.T) {
	f := newFixture(t, classicConfig())
	ctx := context.Background()
	user, _ := f.seed(t, subOpts{balance: 100000, limit: 0, days: 30})
	require.NoError(t, f.carts.Save(ctx, &cart.Item{Kind: cart.KindAddTraffic, UserID: user.ID, TrafficGB: 10}))

	res, found := f.svc.CompleteCart(ctx, user.ID)
	assert.True(t, found)
	assert.Equal(t, CodeUnlimited, res.Error)

	item, _ := f.carts.Get(ctx, user.ID)
	assert.Nil(t, item)
}

func TestAddTraffic_TariffMode(t *testing.T) {
	cfg := classicConfig()
	cfg.SalesMode = config.SalesModeTariffs
	f := newFixture(t, cfg)

	tariff := &models.Tariff{
		Name:                 "Pro",
		IsActive:             true,
		TrafficLimitGB:       100,
		TrafficTopupEnabled:  true,
		TrafficTopupPackages: datatypes.NewJSONType(map[int]int64{10: 700, 50: 2500}),
		MaxTopupTrafficGB:    50,
	}
	user, sub := f.seed(t, subOpts{balance: 10000, limit: 110, purchased: 10, days: 200, tariff: tariff})

	res := f.svc.AddTraffic(context.Background(), user.ID, 10)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.Months)
	assert.Equal(t, int64(700), res.Charged)

	res = f.svc.AddTraffic(context.Background(), user.ID, 50)
	assert.Equal(t, CodeTopupLimitExceeded, res.Error)

	_, sub = f.reload(t, user, sub)
	assert.Equal(t, 120, sub.TrafficLimitGB)
	assert.Equal(t, 20, sub.PurchasedTrafficGB)
}

func TestAddTraffic_TariffsModeWithoutTariffUsesGlobalPrices(t *testing.T) {
	cfg := classicConfig()
	cfg.SalesMode = config.SalesModeTariffs
	f := newFixture(t, cfg)
	user, sub := f.seed(t, subOpts{balance: 1000, limit: 100, days: 40})

	res := f.svc.AddTraffic(context.Background(), user.ID, 10)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, int64(500), res.Charged)
	assert.Equal(t, 1, res.Months)

	user, sub = f.reload(t, user, sub)
	assert.Equal(t, int64(500), user.BalanceKopeks)
	assert.Equal(t, 110, sub.TrafficLimitGB)
}

func TestSwitchTraffic(t *testing.T) {
	t.Run("upgrade charges prorated difference and clears addons", func(t *testing.T) {
		f := newFixture(t, classicConfig())
		ctx := context.Background()
		user, sub := f.seed(t, subOpts{balance: 10000, limit: 110, purchased: 10, days: 65})
		require.NoError(t, f.store.CreateTrafficPurchase(ctx, &models.TrafficPurchase{
			SubscriptionID: sub.ID, TrafficGB: 10, ExpiresAt: now.Add(24 * time.Hour),
		}))

		res := f.svc.SwitchTraffic(ctx, user.ID, 200)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, 2, res.Months)
		assert.Equal(t, int64(4000), res.Charged)

		user, sub = f.reload(t, user, sub)
		assert.Equal(t, int64(6000), user.BalanceKopeks)
		assert.Equal(t, 200, sub.TrafficLimitGB)
		assert.Equal(t, 0, sub.PurchasedTrafficGB)
		assert.Nil(t, sub.TrafficResetAt)

		purchases, err := f.store.TrafficPurchases(ctx, sub.ID)
		require.NoError(t, err)
		assert.Empty(t, purchases)
	})

	t.Run("downgrade applies without refund", func(t *testing.T) {
		f := newFixture(t, classicConfig())
		user, sub := f.seed(t, subOpts{balance: 1000, limit: 100, days: 65})

		res := f.svc.SwitchTraffic(context.Background(), user.ID, 50)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, int64(0), res.Charged)

		user, sub = f.reload(t, user, sub)
		assert.Equal(t, int64(1000), user.BalanceKopeks)
		assert.Equal(t, 50, sub.TrafficLimitGB)
		assert.Equal(t, int64(0), f.transactionCount(t, user.ID))
	})

	t.Run("same value changes nothing", func(t *testing.T) {
		f := newFixture(t, classicConfig())
		user, sub := f.seed(t, subOpts{balance: 1000, limit: 100, days: 65})

		res := f.svc.SwitchTraffic(context.Background(), user.ID, 100)
		assert.False(t, res.Success)
		assert.Equal(t, CodeTrafficUnchanged, res.Error)
		assert.Equal(t, int64(0), res.Charged)

		user, sub = f.reload(t, user, sub)
		assert.Equal(t, int64(1000), user.BalanceKopeks)
		assert.Equal(t, 100, sub.TrafficLimitGB)
		assert.Empty(t, f.mirror.Ops())
	})

	t.Run("tariff allowing topup may switch in tariffs mode", func(t *testing.T) {
		cfg := classicConfig()
		cfg.SalesMode = config.SalesModeTariffs
		f := newFixture(t, cfg)
		tariff := &models.Tariff{Name: "Pro", IsActive: true, TrafficTopupEnabled: true}
		user, sub := f.seed(t, subOpts{balance: 10000, limit: 100, days: 65, tariff: tariff})

		res := f.svc.SwitchTraffic(context.Background(), user.ID, 200)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, int64(4000), res.Charged)

		_, sub = f.reload(t, user, sub)
		assert.Equal(t, 200, sub.TrafficLimitGB)
	})

	t.Run("tariff forbidding topup cannot switch", func(t *testing.T) {
		f := newFixture(t, classicConfig())
		tariff := &models.Tariff{Name: "Basic", IsActive: true}
		user, sub := f.seed(t, subOpts{balance: 10000, limit: 100, days: 65, tariff: tariff})

		res := f.svc.SwitchTraffic(context.Background(), user.ID, 200)
		assert.Equal(t, CodeSwitchUnavailable, res.Error)

		user, sub = f.reload(t, user, sub)
		assert.Equal(t, int64(10000), user.BalanceKopeks)
		assert.Equal(t, 100, sub.TrafficLimitGB)
	})

	t.Run("fixed traffic cannot switch", func(t *testing.T) {
		cfg := classicConfig()
		cfg.Fixed = true
		f := newFixture(t, cfg)
		user, _ := f.seed(t, subOpts{balance: 10000, limit: 100, days: 65})

		res := f.svc.SwitchTraffic(context.Background(), user.ID, 200)
		assert.Equal(t, CodeTrafficFixed, res.Error)
	})

	t.Run("insufficient funds saves switch cart", func(t *testing.T) {
		f := newFixture(t, classicConfig())
		user, _ := f.seed(t, subOpts{balance: 100, limit: 100, days: 65})

		res := f.svc.SwitchTraffic(context.Background(), user.ID, 200)
		assert.Equal(t, CodeInsufficientFunds, res.Error)
		assert.True(t, res.CartSaved)

		item, err := f.carts.Get(context.Background(), user.ID)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, cart.KindSwitchTraffic, item.Kind)
		assert.Equal(t, 200, item.TrafficGB)
	})
}

func TestResetTraffic(t *testing.T) {
	f := newFixture(t, classicConfig())
	user, sub := f.seed(t, subOpts{balance: 10000, limit: 100, days: 30})

	res := f.svc.ResetTraffic(context.Background(), user.ID)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, int64(9900), res.Charged)

	user, sub = f.reload(t, user, sub)
	assert.Equal(t, int64(100), user.BalanceKopeks)
	assert.Equal(t, float64(0), sub.TrafficUsedGB)
	assert.Equal(t, 100, sub.TrafficLimitGB)
	assert.Equal(t, []string{"reset_traffic"}, f.mirror.Ops())
	assert.Equal(t, []notification.Type{notification.TypeTrafficUsageReset}, f.notify.Types())
}

func TestResetTraffic_InsufficientFundsTouchesNothing(t *testing.T) {
	f := newFixture(t, classicConfig())
	user, sub := f.seed(t, subOpts{balance: 100, limit: 100, days: 30})

	res := f.svc.ResetTraffic(context.Background(), user.ID)
	assert.Equal(t, CodeInsufficientFunds, res.Error)
	assert.Equal(t, int64(9800), res.Missing)

	_, sub = f.reload(t, user, sub)
	assert.Equal(t, 42.5, sub.TrafficUsedGB)
	assert.Empty(t, f.mirror.Ops())
}

func TestResetTraffic_FixedTrafficRejected(t *testing.T) {
	cfg := classicConfig()
	cfg.Fixed = true
	f := newFixture(t, cfg)
	user, sub := f.seed(t, subOpts{balance: 10000, limit: 100, days: 30})

	res := f.svc.ResetTraffic(context.Background(), user.ID)
	assert.False(t, res.Success)
	assert.Equal(t, CodeTrafficFixed, res.Error)

	user, sub = f.reload(t, user, sub)
	assert.Equal(t, int64(10000), user.BalanceKopeks)
	assert.Equal(t, 42.5, sub.TrafficUsedGB)
	assert.Equal(t, int64(0), f.transactionCount(t, user.ID))
	assert.Empty(t, f.mirror.Ops())
}
