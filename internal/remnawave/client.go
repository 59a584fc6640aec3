package remnawave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	ierr "vpn-billing/internal/errors"
)

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, ierr.Wrap(err, "failed to marshal request body")
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	url := fmt.Sprintf("%s%s", c.BaseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, ierr.Wrap(err, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, ierr.Mark(ierr.Wrap(err, "request failed"), ierr.ErrRemoteSync)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ierr.Mark(ierr.Wrap(err, "failed to read response body"), ierr.ErrRemoteSync)
	}

	if resp.StatusCode >= 400 {
		return nil, ierr.Mark(ierr.Newf("api error: %s (status: %d)", string(respBody), resp.StatusCode), ierr.ErrRemoteSync)
	}

	return respBody, nil
}

func decodeUser(resp []byte) (*UserResponse, error) {
	var wrapped APIResponse
	if err := json.Unmarshal(resp, &wrapped); err != nil {
		return nil, ierr.Mark(ierr.Wrap(err, "failed to unmarshal response"), ierr.ErrRemoteSync)
	}
	return &wrapped.Response, nil
}

func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/users", req)
	if err != nil {
		return nil, err
	}
	return decodeUser(resp)
}

func (c *Client) UpdateUser(ctx context.Context, req UpdateUserRequest) (*UserResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPatch, "/api/users", req)
	if err != nil {
		return nil, err
	}
	return decodeUser(resp)
}

func (c *Client) EnableUser(ctx context.Context, uuid string) error {
	_, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/users/%s/actions/enable", uuid), nil)
	return err
}

func (c *Client) DisableUser(ctx context.Context, uuid string) error {
	_, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/users/%s/actions/disable", uuid), nil)
	return err
}

func (c *Client) ResetUserTraffic(ctx context.Context, uuid string) error {
	_, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/users/%s/actions/reset-traffic", uuid), nil)
	return err
}
