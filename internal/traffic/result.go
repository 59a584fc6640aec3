package traffic

import (
	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/pricing"
)

// Error codes returned to the presentation layer.
const (
	CodeSubscriptionNotFound = "subscription_not_found"
	CodeTrialSubscription    = "trial_subscription"
	CodeUnlimited            = "unlimited_subscription"
	CodeTopupDisabled        = "topup_disabled"
	CodeTrafficFixed         = "traffic_fixed"
	CodePackageUnavailable   = "package_unavailable"
	CodePriceNotConfigured   = "price_not_configured"
	CodeTopupLimitExceeded   = "topup_limit_exceeded"
	CodeInsufficientFunds    = "insufficient_funds"
	CodeTrafficUnchanged     = "traffic_unchanged"
	CodeSwitchUnavailable    = "switch_unavailable"
	CodeInternal             = "internal_error"
)

// Result is what every traffic operation returns; operations never return domain errors.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	TrafficGB    int   `json:"traffic_gb"`
	NewLimitGB   int   `json:"new_limit_gb"`
	Charged      int64 `json:"charged_kopeks"`
	Original     int64 `json:"original_kopeks,omitempty"`
	Savings      int64 `json:"savings_kopeks,omitempty"`
	Months       int   `json:"months,omitempty"`
	DiscountPerc int   `json:"discount_percent,omitempty"`

	Required  int64 `json:"required_kopeks,omitempty"`
	Available int64 `json:"available_kopeks,omitempty"`
	Missing   int64 `json:"missing_kopeks,omitempty"`
	CartSaved bool  `json:"cart_saved,omitempty"`
}

// failure aborts a unit of work with a result code.
type failure struct {
	code string
}

func (f *failure) Error() string {
	return f.code
}

func fail(code string) error {
	return &failure{code: code}
}

// classify maps an error from a unit of work to a result code.
func classify(err error) string {
	var f *failure
	switch {
	case ierr.As(err, &f):
		return f.code
	case ierr.Is(err, ierr.ErrInsufficientFunds):
		return CodeInsufficientFunds
	case ierr.Is(err, pricing.ErrPriceNotConfigured):
		return CodePriceNotConfigured
	case ierr.Is(err, pricing.ErrTopupDisabled):
		return CodeTopupDisabled
	case ierr.Is(err, pricing.ErrPackageUnavailable):
		return CodePackageUnavailable
	case ierr.Is(err, ierr.ErrNotFound):
		return CodeSubscriptionNotFound
	default:
		return CodeInternal
	}
}

func failedResult(err error) Result {
	res := Result{Error: classify(err)}
	if short, ok := ierr.AsInsufficientFunds(err); ok {
		res.Required = short.Required
		res.Available = short.Available
		res.Missing = short.Missing()
	}
	return res
}

// terminal reports whether a pending cart with this outcome should be dropped.
func terminal(code string) bool {
	return code != CodeInsufficientFunds && code != CodeInternal
}
