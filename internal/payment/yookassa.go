package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ierr "vpn-billing/internal/errors"
)

const defaultAPIURL = "https://api.yookassa.ru/v3"

// Gateway is the payment provider as seen by the top-up flow.
type Gateway interface {
	CreatePayment(ctx context.Context, amountKopeks int64, description, returnURL string, metadata map[string]string) (*PaymentResponse, error)
}

type Client struct {
	ShopID     string
	SecretKey  string
	APIURL     string
	HTTPClient *http.Client
}

func NewClient(shopID, secretKey string) *Client {
	return &Client{
		ShopID:    shopID,
		SecretKey: secretKey,
		APIURL:    defaultAPIURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) CreatePayment(ctx context.Context, amountKopeks int64, description, returnURL string, metadata map[string]string) (*PaymentResponse, error) {
	reqBody := CreatePaymentRequest{
		Amount: Amount{
			Value:    FormatAmount(amountKopeks),
			Currency: CurrencyRUB,
		},
		Capture: true,
		Confirmation: Confirmation{
			Type:      "redirect",
			ReturnURL: returnURL,
		},
		Description: description,
		Metadata:    metadata,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, ierr.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/payments", c.APIURL), bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, ierr.Wrap(err, "failed to create request")
	}

	req.Header.Set("Idempotence-Key", uuid.New().String())
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.ShopID, c.SecretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, ierr.Wrap(err, "yookassa request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ierr.Wrap(err, "failed to read response")
	}

	if resp.StatusCode >= 400 {
		return nil, ierr.Newf("yookassa api error: %s (status: %d)", string(respBody), resp.StatusCode)
	}

	var paymentResponse PaymentResponse
	if err := json.Unmarshal(respBody, &paymentResponse); err != nil {
		return nil, ierr.Wrap(err, "failed to unmarshal response")
	}

	return &paymentResponse, nil
}

// FormatAmount renders kopeks as the gateway's decimal rouble string, e.g. 12345 -> "123.45".
func FormatAmount(kopeks int64) string {
	return decimal.New(kopeks, -2).StringFixed(2)
}

// ParseAmount converts a gateway rouble string back to kopeks.
func ParseAmount(value string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, ierr.Mark(ierr.Wrapf(err, "invalid amount %q", value), ierr.ErrValidation)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}
