package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAndParseAmount(t *testing.T) {
	assert.Equal(t, "123.45", FormatAmount(12345))
	assert.Equal(t, "0.05", FormatAmount(5))
	assert.Equal(t, "500.00", FormatAmount(50000))

	kopeks, err := ParseAmount("123.45")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), kopeks)

	kopeks, err = ParseAmount("500")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), kopeks)

	_, err = ParseAmount("abc")
	assert.Error(t, err)
}

func TestClientCreatePayment(t *testing.T) {
	var got CreatePaymentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Idempotence-Key"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "shop", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"yk-9","status":"pending","confirmation":{"type":"redirect","confirmation_url":"https://pay/yk-9"}}`))
	}))
	defer srv.Close()

	c := NewClient("shop", "secret")
	c.APIURL = srv.URL

	resp, err := c.CreatePayment(context.Background(), 19900, "Пополнение", "https://return", map[string]string{MetadataUserID: "7"})
	require.NoError(t, err)

	assert.Equal(t, "yk-9", resp.ID)
	assert.Equal(t, "https://pay/yk-9", resp.Confirmation.ConfirmationURL)
	assert.Equal(t, "199.00", got.Amount.Value)
	assert.Equal(t, CurrencyRUB, got.Amount.Currency)
	assert.True(t, got.Capture)
	assert.Equal(t, "7", got.Metadata[MetadataUserID])
}

func TestClientCreatePayment_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error"}`))
	}))
	defer srv.Close()

	c := NewClient("shop", "bad")
	c.APIURL = srv.URL

	_, err := c.CreatePayment(context.Background(), 100, "x", "", nil)
	assert.ErrorContains(t, err, "status: 401")
}
