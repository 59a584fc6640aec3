package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	SalesModeClassic = "classic"
	SalesModeTariffs = "tariffs"

	ResetPriceModePeriod               = "period"
	ResetPriceModeTraffic              = "traffic"
	ResetPriceModeTrafficWithPurchased = "traffic_with_purchased"
)

type Config struct {
	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	BotToken     string
	AdminChatIDs []int64

	RemnawaveURL     string
	RemnawaveKey     string
	RemnawaveSquadID string
	RemnawaveTimeout time.Duration

	YookassaShopID    string
	YookassaKey       string
	YookassaReturnURL string
	AllowedYooIp      []string

	HTTPPort      string
	AdminAPIToken string

	BrevoAPIKey    string
	BrevoFromEmail string
	BrevoFromName  string

	LogLevel string

	Billing BillingConfig
	Traffic TrafficConfig
}

type BillingConfig struct {
	DailyEnabled  bool
	CheckInterval time.Duration
	ChargePeriod  time.Duration
}

type TrafficConfig struct {
	SalesMode          string
	TopupEnabled       bool
	Fixed              bool
	Prices             map[int]int64
	TopupPrices        map[int]int64
	PeriodPrices       map[int]int64
	ResetPriceMode     string
	ResetBasePrice     int64
	PurchaseTTL        time.Duration
	CartTTL            time.Duration
	DefaultDeviceLimit int
}

// TariffsMode reports whether prices come from the subscription's tariff.
func (t TrafficConfig) TariffsMode() bool {
	return t.SalesMode == SalesModeTariffs
}

func LoadConfig() *Config {
	// A missing .env is fine: the environment is used as is.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	trafficPrices := ParsePriceMap(v.GetString("TRAFFIC_PRICES"))
	topupPrices := ParsePriceMap(v.GetString("TRAFFIC_TOPUP_PRICES"))
	if len(topupPrices) == 0 {
		topupPrices = trafficPrices
	}

	return &Config{
		DBUser:            v.GetString("DB_USER"),
		DBPassword:        v.GetString("DB_PASSWORD"),
		DBName:            v.GetString("DB_NAME"),
		DBHost:            v.GetString("DB_HOST"),
		DBPort:            v.GetString("DB_PORT"),
		RedisHost:         v.GetString("REDIS_HOST"),
		RedisPort:         v.GetString("REDIS_PORT"),
		RedisPassword:     v.GetString("REDIS_PASSWORD"),
		BotToken:          v.GetString("TELEGRAM_BOT_TOKEN"),
		AdminChatIDs:      parseIDs(v.GetString("ADMIN_CHAT_IDS")),
		RemnawaveURL:      v.GetString("REMNAWAVE_API_URL"),
		RemnawaveKey:      v.GetString("REMNAWAVE_API_KEY"),
		RemnawaveSquadID:  v.GetString("REMNAWAVE_SQUAD_ID"),
		RemnawaveTimeout:  time.Duration(v.GetInt("REMNAWAVE_TIMEOUT_SECONDS")) * time.Second,
		YookassaShopID:    v.GetString("YOOKASSA_SHOP_ID"),
		YookassaKey:       v.GetString("YOOKASSA_SECRET_KEY"),
		YookassaReturnURL: v.GetString("YOOKASSA_RETURN_URL"),
		AllowedYooIp: []string{
			"185.71.76.0/27",
			"185.71.77.0/27",
			"77.75.153.0/25",
			"77.75.156.11/32",
			"77.75.156.35/32",
			"77.75.154.128/25",
			"2a02:5180::/32",
		},
		HTTPPort:       v.GetString("HTTP_PORT"),
		AdminAPIToken:  v.GetString("ADMIN_API_TOKEN"),
		BrevoAPIKey:    v.GetString("BREVO_API_KEY"),
		BrevoFromEmail: v.GetString("BREVO_FROM_EMAIL"),
		BrevoFromName:  v.GetString("BREVO_FROM_NAME"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		Billing: BillingConfig{
			DailyEnabled:  v.GetBool("DAILY_SUBSCRIPTIONS_ENABLED"),
			CheckInterval: time.Duration(v.GetInt("DAILY_SUBSCRIPTIONS_CHECK_INTERVAL_MINUTES")) * time.Minute,
			ChargePeriod:  time.Duration(v.GetInt("DAILY_CHARGE_PERIOD_HOURS")) * time.Hour,
		},
		Traffic: TrafficConfig{
			SalesMode:          strings.ToLower(v.GetString("SALES_MODE")),
			TopupEnabled:       v.GetBool("TRAFFIC_TOPUP_ENABLED"),
			Fixed:              v.GetBool("TRAFFIC_FIXED"),
			Prices:             trafficPrices,
			TopupPrices:        topupPrices,
			PeriodPrices:       ParsePriceMap(v.GetString("PERIOD_PRICES")),
			ResetPriceMode:     strings.ToLower(v.GetString("TRAFFIC_RESET_PRICE_MODE")),
			ResetBasePrice:     v.GetInt64("TRAFFIC_RESET_BASE_PRICE"),
			PurchaseTTL:        time.Duration(v.GetInt("TRAFFIC_PURCHASE_TTL_DAYS")) * 24 * time.Hour,
			CartTTL:            time.Duration(v.GetInt("CART_TTL_HOURS")) * time.Hour,
			DefaultDeviceLimit: v.GetInt("DEFAULT_DEVICE_LIMIT"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "vpn_billing")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REMNAWAVE_TIMEOUT_SECONDS", 10)
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("BREVO_FROM_NAME", "VPN")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DAILY_SUBSCRIPTIONS_ENABLED", true)
	v.SetDefault("DAILY_SUBSCRIPTIONS_CHECK_INTERVAL_MINUTES", 30)
	v.SetDefault("DAILY_CHARGE_PERIOD_HOURS", 24)
	v.SetDefault("SALES_MODE", SalesModeClassic)
	v.SetDefault("TRAFFIC_TOPUP_ENABLED", true)
	v.SetDefault("TRAFFIC_FIXED", false)
	v.SetDefault("TRAFFIC_PRICES", "5:2000,10:3500,25:7000,50:11000,100:15000,0:20000")
	v.SetDefault("TRAFFIC_TOPUP_PRICES", "")
	v.SetDefault("PERIOD_PRICES", "14:5000,30:9900,60:18900,90:26900,180:49900,360:89900")
	v.SetDefault("TRAFFIC_RESET_PRICE_MODE", ResetPriceModePeriod)
	v.SetDefault("TRAFFIC_RESET_BASE_PRICE", 0)
	v.SetDefault("TRAFFIC_PURCHASE_TTL_DAYS", 30)
	v.SetDefault("CART_TTL_HOURS", 24)
	v.SetDefault("DEFAULT_DEVICE_LIMIT", 3)
}

// ParsePriceMap parses "key:kopeks" pairs separated by commas. Malformed pairs are skipped.
func ParsePriceMap(raw string) map[int]int64 {
	prices := make(map[int]int64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		price, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || price < 0 {
			continue
		}
		prices[key] = price
	}
	return prices
}

func parseIDs(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
