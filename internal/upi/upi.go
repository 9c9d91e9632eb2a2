// Package upi talks to the payment-rails provider for VPA verification
// and IFSC branch lookups.
package upi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ErrProviderUnavailable reports an outage of an enabled provider. The
// caller decides whether the check was required.
var ErrProviderUnavailable = errors.New("upi provider unavailable")

type Client struct {
	baseURL    string
	apiKey     string
	enabled    bool
	logger     *zap.Logger
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, enabled bool, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		enabled: enabled,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Enabled reports whether verification is required at all.
func (c *Client) Enabled() bool {
	return c.enabled
}

type vpaResponse struct {
	Valid       bool   `json:"valid"`
	AccountName string `json:"account_name"`
}

// VerifyVPA asks the provider whether the address resolves. Disabled
// providers report valid without a network call.
func (c *Client) VerifyVPA(ctx context.Context, vpa string) (bool, string, error) {
	if !c.enabled {
		return true, "", nil
	}
	body, err := c.get(ctx, "/v1/upi/verify?vpa="+url.QueryEscape(vpa))
	if err != nil {
		return false, "", err
	}
	var parsed vpaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, "", ErrProviderUnavailable
	}
	return parsed.Valid, parsed.AccountName, nil
}

type ifscResponse struct {
	Bank   string `json:"bank"`
	Branch string `json:"branch"`
	City   string `json:"city"`
}

// LookupIFSC resolves a branch code to its bank name. Best-effort: an
// outage returns empty strings so payment capture can proceed.
func (c *Client) LookupIFSC(ctx context.Context, code string) (string, string) {
	if !c.enabled {
		return "", ""
	}
	body, err := c.get(ctx, "/v1/ifsc/"+url.PathEscape(code))
	if err != nil {
		c.logger.Warn("ifsc lookup failed", zap.String("ifsc", code), zap.Error(err))
		return "", ""
	}
	var parsed ifscResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Warn("ifsc lookup unparseable", zap.String("ifsc", code), zap.Error(err))
		return "", ""
	}
	return parsed.Bank, parsed.Branch
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
