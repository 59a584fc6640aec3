// Package api exposes the billing operations over HTTP.
package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"vpn-billing/internal/billing"
	"vpn-billing/internal/campaign"
	"vpn-billing/internal/logger"
	"vpn-billing/internal/payment"
	"vpn-billing/internal/traffic"
)

type BillingRunner interface {
	ProcessDailyCharges(ctx context.Context) (billing.ChargeStats, error)
	ProcessTrafficResets(ctx context.Context) (billing.ResetStats, error)
}

type TrafficService interface {
	AddTraffic(ctx context.Context, userID uint, gb int) traffic.Result
	SwitchTraffic(ctx context.Context, userID uint, newGB int) traffic.Result
	ResetTraffic(ctx context.Context, userID uint) traffic.Result
}

type PaymentService interface {
	CreateTopup(ctx context.Context, userID uint, amountKopeks int64) (*payment.Topup, error)
	HandleNotification(ctx context.Context, n payment.WebhookNotification) error
}

type CampaignService interface {
	ApplyByStartParameter(ctx context.Context, userID uint, param string) campaign.BonusResult
}

type Handler struct {
	billing   BillingRunner
	traffic   TrafficService
	payments  PaymentService
	campaigns CampaignService
	log       *logger.Logger
}

func NewHandler(b BillingRunner, t TrafficService, p PaymentService, c CampaignService, log *logger.Logger) *Handler {
	return &Handler{
		billing:   b,
		traffic:   t,
		payments:  p,
		campaigns: c,
		log:       log.With("component", "api"),
	}
}

type RouterConfig struct {
	AdminToken      string
	WebhookAllowIPs []string
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(h.log))

	webhooks := r.Group("/webhooks")
	webhooks.Use(AllowIPs(cfg.WebhookAllowIPs, h.log))
	{
		webhooks.POST("/yookassa", h.YookassaWebhook)
	}

	admin := r.Group("/admin")
	admin.Use(AdminAuth(cfg.AdminToken))
	{
		admin.POST("/billing/daily-charges", h.RunDailyCharges)
		admin.POST("/billing/traffic-resets", h.RunTrafficResets)
	}

	// User actions are called by trusted frontends with the same token.
	users := r.Group("/users/:id")
	users.Use(AdminAuth(cfg.AdminToken))
	{
		users.POST("/traffic/add", h.AddTraffic)
		users.POST("/traffic/switch", h.SwitchTraffic)
		users.POST("/traffic/reset", h.ResetTraffic)
		users.POST("/topup", h.CreateTopup)
		users.POST("/campaigns/:param", h.ApplyCampaign)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	return r
}
