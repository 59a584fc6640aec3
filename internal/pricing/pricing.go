// Package pricing computes traffic package prices in kopeks.
package pricing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"vpn-billing/internal/config"
	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/models"
)

const daysPerMonth = 30

var (
	ErrTopupDisabled      = ierr.New("traffic topup is disabled")
	ErrPackageUnavailable = ierr.New("traffic package is not available")
	ErrPriceNotConfigured = ierr.New("price is not configured")
)

// RemainingMonths counts whole 30-day months left until end. Anything shorter is billed as one month.
func RemainingMonths(end, now time.Time) int {
	days := int(math.Floor(end.Sub(now).Hours() / 24))
	return max(1, days/daysPerMonth)
}

// ApplyPercentageDiscount returns the rounded discounted amount and savings = amount - discounted.
func ApplyPercentageDiscount(amount int64, percent int) (discounted, savings int64) {
	percent = min(max(percent, 0), 100)
	if amount <= 0 || percent == 0 {
		return amount, 0
	}
	factor := decimal.NewFromInt(int64(100 - percent)).Div(decimal.NewFromInt(100))
	discounted = decimal.NewFromInt(amount).Mul(factor).Round(0).IntPart()
	return discounted, amount - discounted
}

// Quote is a priced traffic package.
type Quote struct {
	TrafficGB         int
	MonthlyPrice      int64
	DiscountPercent   int
	DiscountedMonthly int64
	Months            int
	Original          int64
	Total             int64
	Savings           int64
}

func newQuote(gb int, monthly int64, percent, months int) Quote {
	discounted, _ := ApplyPercentageDiscount(monthly, percent)
	original := monthly * int64(months)
	total := discounted * int64(months)
	return Quote{
		TrafficGB:         gb,
		MonthlyPrice:      monthly,
		DiscountPercent:   min(max(percent, 0), 100),
		DiscountedMonthly: discounted,
		Months:            months,
		Original:          original,
		Total:             total,
		Savings:           original - total,
	}
}

// PriceResolver prices a traffic add-on for a subscription.
type PriceResolver interface {
	// CheckTopup reports whether the subscription may buy add-ons at all.
	CheckTopup(sub *models.Subscription) error
	// Resolve prices gb for the subscription, discount applied.
	Resolve(sub *models.Subscription, gb, discountPercent int, now time.Time) (Quote, error)
	// MaxTopupGB is the cap on purchased traffic, 0 when unlimited.
	MaxTopupGB(sub *models.Subscription) int
}

// ResolverFor picks the strategy for one subscription. Tariff pricing applies only in tariffs
// mode to a subscription bound to a tariff; everything else is priced from the global tables.
func ResolverFor(cfg config.TrafficConfig, sub *models.Subscription) PriceResolver {
	if cfg.TariffsMode() && sub.TariffID != nil {
		return &TariffResolver{}
	}
	return &ClassicResolver{cfg: cfg}
}

// TariffResolver reads prices from the subscription's tariff; add-ons are always billed for one month.
type TariffResolver struct{}

func (r *TariffResolver) CheckTopup(sub *models.Subscription) error {
	if sub.Tariff == nil {
		return ierr.Mark(ierr.Newf("subscription %d has no tariff", sub.ID), ierr.ErrConfiguration)
	}
	if !sub.Tariff.CanTopupTraffic() {
		return validation(ierr.Newf("tariff %d does not allow traffic topup", sub.Tariff.ID), ErrTopupDisabled)
	}
	return nil
}

func (r *TariffResolver) Resolve(sub *models.Subscription, gb, discountPercent int, _ time.Time) (Quote, error) {
	if err := r.CheckTopup(sub); err != nil {
		return Quote{}, err
	}
	price, ok := sub.Tariff.TopupPrice(gb)
	if !ok {
		return Quote{}, validation(ierr.Newf("tariff %d has no %d GB package", sub.Tariff.ID, gb), ErrPackageUnavailable)
	}
	if price <= 0 && gb != 0 {
		return Quote{}, priceNotConfigured(gb)
	}
	return newQuote(gb, price, discountPercent, 1), nil
}

func (r *TariffResolver) MaxTopupGB(sub *models.Subscription) int {
	if sub.Tariff == nil {
		return 0
	}
	return sub.Tariff.MaxTopupTrafficGB
}

// ClassicResolver reads global topup prices and prorates by remaining months.
type ClassicResolver struct {
	cfg config.TrafficConfig
}

func (r *ClassicResolver) CheckTopup(sub *models.Subscription) error {
	if !r.cfg.TopupEnabled || r.cfg.Fixed {
		return validation(ierr.New("traffic topup is disabled globally"), ErrTopupDisabled)
	}
	return nil
}

func (r *ClassicResolver) Resolve(sub *models.Subscription, gb, discountPercent int, now time.Time) (Quote, error) {
	if err := r.CheckTopup(sub); err != nil {
		return Quote{}, err
	}
	price, ok := r.cfg.TopupPrices[gb]
	if !ok {
		return Quote{}, validation(ierr.Newf("no %d GB package", gb), ErrPackageUnavailable)
	}
	if price <= 0 && gb != 0 {
		return Quote{}, priceNotConfigured(gb)
	}
	return newQuote(gb, price, discountPercent, RemainingMonths(sub.EndDate, now)), nil
}

func (r *ClassicResolver) MaxTopupGB(*models.Subscription) int {
	return 0
}

func priceNotConfigured(gb int) error {
	return ierr.Mark(ierr.Mark(ierr.Newf("price for %d GB is not configured", gb), ierr.ErrConfiguration), ErrPriceNotConfigured)
}

func validation(err, reason error) error {
	return ierr.Mark(ierr.Mark(err, ierr.ErrValidation), reason)
}

// PackagePrice is the monthly price of a base traffic package from the global table, 0 when unknown.
func PackagePrice(prices map[int]int64, gb int) int64 {
	return prices[gb]
}

// ResetPrice is the price of zeroing consumed traffic under the configured mode.
func ResetPrice(cfg config.TrafficConfig, sub *models.Subscription) int64 {
	base := cfg.ResetBasePrice
	if base == 0 {
		base = cfg.PeriodPrices[30]
	}
	switch cfg.ResetPriceMode {
	case config.ResetPriceModeTraffic:
		return max(PackagePrice(cfg.Prices, sub.TrafficLimitGB), base)
	case config.ResetPriceModeTrafficWithPurchased:
		price := PackagePrice(cfg.Prices, sub.BaseTrafficGB())
		if sub.PurchasedTrafficGB > 0 {
			price += PackagePrice(cfg.Prices, sub.PurchasedTrafficGB)
		}
		return max(price, base)
	default:
		return base
	}
}
