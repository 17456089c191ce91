// Package broker talks to the deferred-message broker that holds a job until
// its delay elapses and then calls the execution callback.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrMessageNotFound is returned by Delete when the broker no longer holds
// the message (already delivered or already deleted).
var ErrMessageNotFound = errors.New("broker message not found")

// Config for the broker client.
type Config struct {
	BaseURL    string `mapstructure:"BROKER_URL"`
	Token      string `mapstructure:"BROKER_TOKEN"`
	MaxRetries int    `mapstructure:"BROKER_MAX_RETRIES"`
}

// Client is a QStash-style REST client.
type Client struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
	logger  *slog.Logger
}

type publishResponse struct {
	MessageID string `json:"messageId"`
}

// NewClient creates a broker client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	logger = logger.With("component", "broker_client")

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = logger
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if httpClient != nil {
		rc.HTTPClient = httpClient
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    rc,
		logger:  logger,
	}
}

// Enqueue schedules body to be POSTed to callbackURL after delaySeconds and
// returns the broker's message id.
func (c *Client) Enqueue(ctx context.Context, callbackURL string, body []byte, delaySeconds int64) (string, error) {
	endpoint := c.baseURL + "/v2/publish/" + callbackURL

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create publish request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Delay", strconv.FormatInt(delaySeconds, 10)+"s")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Broker publish request failed", "error", err, "callback_url", callbackURL)
		return "", fmt.Errorf("broker publish request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read broker publish response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.ErrorContext(ctx, "Broker rejected publish", "status_code", resp.StatusCode, "body", string(respBody))
		return "", fmt.Errorf("broker publish returned status %d", resp.StatusCode)
	}

	var pub publishResponse
	if err := json.Unmarshal(respBody, &pub); err != nil {
		return "", fmt.Errorf("failed to decode broker publish response: %w", err)
	}
	if pub.MessageID == "" {
		return "", errors.New("broker publish response carried no message id")
	}

	c.logger.InfoContext(ctx, "Message enqueued", "broker_message_id", pub.MessageID, "delay_seconds", delaySeconds)
	return pub.MessageID, nil
}

// Delete removes a pending message. A 404 yields ErrMessageNotFound.
func (c *Client) Delete(ctx context.Context, messageID string) error {
	endpoint := c.baseURL + "/v2/messages/" + url.PathEscape(messageID)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Broker delete request failed", "error", err, "broker_message_id", messageID)
		return fmt.Errorf("broker delete request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.InfoContext(ctx, "Message deleted", "broker_message_id", messageID)
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrMessageNotFound
	default:
		c.logger.ErrorContext(ctx, "Broker rejected delete", "status_code", resp.StatusCode, "broker_message_id", messageID)
		return fmt.Errorf("broker delete returned status %d", resp.StatusCode)
	}
}
