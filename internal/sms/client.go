// Package sms delivers one-time codes through an HTTP SMS provider.
package sms

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Config holds the provider connection settings.
type Config struct {
	BaseURL  string
	APIKey   string
	SenderID string
}

type sendRequest struct {
	To     string `json:"to"`
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

type sendResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Client posts messages to the provider's REST API.
type Client struct {
	httpClient *resty.Client
	config     Config
	logger     *zap.Logger
}

func NewClient(config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", "Bearer "+config.APIKey)

	return &Client{
		httpClient: client,
		config:     config,
		logger:     logger,
	}
}

// IsConfigured reports whether a provider is set up. When false the
// caller skips delivery instead of failing the request.
func (c *Client) IsConfigured() bool {
	return c.config.BaseURL != "" && c.config.APIKey != ""
}

// Send posts a single message to one recipient.
func (c *Client) Send(ctx context.Context, to, body string) error {
	if !c.IsConfigured() {
		return fmt.Errorf("sms provider not configured")
	}

	request := sendRequest{
		To:     to,
		Sender: c.config.SenderID,
		Body:   body,
	}

	var response sendResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		SetError(&response).
		Post("/messages")
	if err != nil {
		c.logger.Error("sms send failed", zap.Error(err))
		return fmt.Errorf("send sms: %w", err)
	}
	if resp.IsError() {
		c.logger.Error("sms provider rejected message",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("provider_message", response.Message),
		)
		return fmt.Errorf("sms provider error: %s (http %d)", response.Message, resp.StatusCode())
	}

	c.logger.Info("sms sent", zap.Int("status_code", resp.StatusCode()))
	return nil
}

// SendCode delivers a verification code.
func (c *Client) SendCode(ctx context.Context, to, code string) error {
	return c.Send(ctx, to, fmt.Sprintf("Your verification code is %s.", code))
}
