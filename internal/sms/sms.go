// Package sms sends transactional messages through the SMS gateway.
// All sends are best-effort from the caller's point of view.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type Client struct {
	baseURL    string
	apiKey     string
	senderID   string
	enabled    bool
	logger     *zap.Logger
	httpClient *http.Client
}

type sendRequest struct {
	To       string `json:"to"`
	Message  string `json:"message"`
	SenderID string `json:"sender_id"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	MessageID string `json:"message_id"`
}

func NewClient(baseURL, apiKey, senderID string, enabled bool, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		senderID: senderID,
		enabled:  enabled,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts one message to the gateway. When the gateway is disabled
// the message is logged instead so development flows stay observable.
func (c *Client) Send(ctx context.Context, phone, message string) error {
	if !c.enabled {
		c.logger.Info("sms disabled, logging instead",
			zap.String("phone", phone), zap.String("message", message))
		return nil
	}

	payload, err := json.Marshal(sendRequest{To: "+91" + phone, Message: message, SenderID: c.senderID})
	if err != nil {
		return fmt.Errorf("marshal sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sms/send", bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read sms response: %w", err)
	}
	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("parse sms response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !parsed.Success {
		return fmt.Errorf("sms gateway rejected: status=%d message=%s", resp.StatusCode, parsed.Message)
	}
	return nil
}

// SendOTP satisfies the otp engine's sender.
func (c *Client) SendOTP(ctx context.Context, phone, code string) error {
	return c.Send(ctx, phone, fmt.Sprintf("%s is your CropFresh verification code. Valid for 10 minutes. Do not share it.", code))
}
