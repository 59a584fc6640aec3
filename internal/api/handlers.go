package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"vpn-billing/internal/campaign"
	ierr "vpn-billing/internal/errors"
	"vpn-billing/internal/payment"
	"vpn-billing/internal/traffic"
)

type trafficRequest struct {
	TrafficGB *int `json:"traffic_gb" binding:"required,min=0"`
}

type topupRequest struct {
	AmountKopeks int64 `json:"amount_kopeks" binding:"required,gt=0"`
}

type topupResponse struct {
	Success         bool   `json:"success"`
	PaymentID       uint   `json:"payment_id"`
	ConfirmationURL string `json:"confirmation_url"`
}

func (h *Handler) YookassaWebhook(c *gin.Context) {
	var n payment.WebhookNotification
	if err := c.ShouldBindJSON(&n); err != nil {
		h.log.Warnw("Failed to decode webhook", "error", err)
		c.Status(http.StatusBadRequest)
		return
	}

	err := h.payments.HandleNotification(c.Request.Context(), n)
	switch {
	case err == nil:
		c.Status(http.StatusOK)
	case ierr.Is(err, ierr.ErrNotFound), ierr.Is(err, ierr.ErrValidation), ierr.Is(err, ierr.ErrDataIntegrity):
		// Redelivery cannot fix these.
		h.log.Errorw("Webhook rejected", "event", n.Event, "external_id", n.Object.ID, "error", err)
		c.Status(http.StatusOK)
	default:
		h.log.Errorw("Webhook processing failed", "event", n.Event, "external_id", n.Object.ID, "error", err)
		c.Status(http.StatusInternalServerError)
	}
}

func (h *Handler) RunDailyCharges(c *gin.Context) {
	stats, err := h.billing.ProcessDailyCharges(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": traffic.CodeInternal})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

func (h *Handler) RunTrafficResets(c *gin.Context) {
	stats, err := h.billing.ProcessTrafficResets(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": traffic.CodeInternal})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

func (h *Handler) AddTraffic(c *gin.Context) {
	userID, req, ok := h.bindTraffic(c)
	if !ok {
		return
	}
	h.respondTraffic(c, h.traffic.AddTraffic(c.Request.Context(), userID, *req.TrafficGB))
}

func (h *Handler) SwitchTraffic(c *gin.Context) {
	userID, req, ok := h.bindTraffic(c)
	if !ok {
		return
	}
	h.respondTraffic(c, h.traffic.SwitchTraffic(c.Request.Context(), userID, *req.TrafficGB))
}

func (h *Handler) ResetTraffic(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	h.respondTraffic(c, h.traffic.ResetTraffic(c.Request.Context(), userID))
}

func (h *Handler) CreateTopup(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var req topupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}

	topup, err := h.payments.CreateTopup(c.Request.Context(), userID, req.AmountKopeks)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, topupResponse{Success: true, PaymentID: topup.Payment.ID, ConfirmationURL: topup.ConfirmationURL})
	case ierr.Is(err, ierr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "user_not_found"})
	case ierr.Is(err, payment.ErrTopupRestricted):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "topup_restricted"})
	case ierr.Is(err, ierr.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "payment_unavailable"})
	}
}

func (h *Handler) ApplyCampaign(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	res := h.campaigns.ApplyByStartParameter(c.Request.Context(), userID, c.Param("param"))
	status := http.StatusOK
	switch res.Error {
	case "":
	case campaign.CodeCampaignNotFound:
		status = http.StatusNotFound
	case campaign.CodeDuplicateGrant:
		status = http.StatusConflict
	case campaign.CodeInternal:
		status = http.StatusInternalServerError
	default:
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}

func (h *Handler) bindTraffic(c *gin.Context) (uint, trafficRequest, bool) {
	var req trafficRequest
	userID, ok := userIDParam(c)
	if !ok {
		return 0, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return 0, req, false
	}
	return userID, req, true
}

func (h *Handler) respondTraffic(c *gin.Context, res traffic.Result) {
	c.JSON(trafficStatus(res), res)
}

func trafficStatus(res traffic.Result) int {
	switch res.Error {
	case "":
		return http.StatusOK
	case traffic.CodeSubscriptionNotFound:
		return http.StatusNotFound
	case traffic.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case traffic.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func userIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_user_id"})
		return 0, false
	}
	return uint(id), true
}
