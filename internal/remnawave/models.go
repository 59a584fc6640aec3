package remnawave

const (
	StatusActive   = "ACTIVE"
	StatusDisabled = "DISABLED"
	StatusExpired  = "EXPIRED"

	StrategyNoReset = "NO_RESET"
)

type CreateUserRequest struct {
	Username             string   `json:"username"`
	Status               string   `json:"status"`
	TrafficLimitBytes    int64    `json:"trafficLimitBytes"`
	TrafficLimitStrategy string   `json:"trafficLimitStrategy"`
	ExpireAt             string   `json:"expireAt"` // ISO 8601 format
	Description          string   `json:"description,omitempty"`
	TelegramID           *int64   `json:"telegramId,omitempty"`
	Email                *string  `json:"email,omitempty"`
	HwidDeviceLimit      int      `json:"hwidDeviceLimit"`
	ActiveInternalSquads []string `json:"activeInternalSquads"`
}

type UpdateUserRequest struct {
	UUID                 string   `json:"uuid"`
	Status               string   `json:"status"`
	TrafficLimitBytes    int64    `json:"trafficLimitBytes"`
	TrafficLimitStrategy string   `json:"trafficLimitStrategy"`
	ExpireAt             string   `json:"expireAt"`
	HwidDeviceLimit      int      `json:"hwidDeviceLimit"`
	ActiveInternalSquads []string `json:"activeInternalSquads"`
}

type UserResponse struct {
	UUID                 string  `json:"uuid"`
	ShortUUID            string  `json:"shortUuid"`
	Username             string  `json:"username"`
	Status               string  `json:"status"`
	TrafficLimitBytes    int64   `json:"trafficLimitBytes"`
	TrafficLimitStrategy string  `json:"trafficLimitStrategy"`
	ExpireAt             string  `json:"expireAt"`
	SubscriptionURL      string  `json:"subscriptionUrl"`
	ActiveInternalSquads []Squad `json:"activeInternalSquads"`
}

type Squad struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// APIResponse is the panel's response envelope.
type APIResponse struct {
	Response UserResponse `json:"response"`
}
