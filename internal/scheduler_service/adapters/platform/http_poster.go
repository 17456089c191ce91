package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPPoster forwards a post to a relay endpoint that speaks to one platform's
// API. Transient failures (connection errors, 429, 5xx) are retried with
// backoff before a failure is reported.
type HTTPPoster struct {
	name     string
	relayURL string
	client   *retryablehttp.Client
	logger   *slog.Logger
}

type relayPostRequest struct {
	AccountID      string `json:"account_id"`
	Content        string `json:"content"`
	IdempotencyKey string `json:"idempotency_key"`
}

type relayPostResponse struct {
	ID string `json:"id"`
}

type relayErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewHTTPPoster builds a poster for relayURL. httpClient may be nil.
func NewHTTPPoster(name, relayURL string, maxRetries int, httpClient *http.Client, logger *slog.Logger) *HTTPPoster {
	logger = logger.With("poster", name)

	client := retryablehttp.NewClient()
	client.RetryMax = maxRetries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = logger
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if httpClient != nil {
		client.HTTPClient = httpClient
	}

	return &HTTPPoster{
		name:     name,
		relayURL: relayURL,
		client:   client,
		logger:   logger,
	}
}

func (p *HTTPPoster) GetName() string {
	return p.name
}

func (p *HTTPPoster) Post(ctx context.Context, req DeliveryRequest) (*Receipt, error) {
	if req.Credentials == nil {
		return nil, &Error{Message: "missing platform credentials"}
	}

	body, err := json.Marshal(relayPostRequest{
		AccountID:      req.Credentials.AccountID,
		Content:        req.Content,
		IdempotencyKey: req.JobID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relay request: %w", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.relayURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Credentials.AccessToken)
	httpReq.Header.Set("Idempotency-Key", req.JobID.String())

	p.logger.DebugContext(ctx, "Sending post to platform relay", "job_id", req.JobID, "url", p.relayURL)
	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.logger.ErrorContext(ctx, "Platform relay request failed", "error", err, "job_id", req.JobID)
		return nil, fmt.Errorf("platform relay request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if readErr != nil {
		return nil, fmt.Errorf("failed to read relay response (status %d): %w", resp.StatusCode, readErr)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var ok relayPostResponse
		if err := json.Unmarshal(respBody, &ok); err != nil {
			p.logger.WarnContext(ctx, "Posted, but relay response was not JSON", "job_id", req.JobID, "status_code", resp.StatusCode)
		}
		p.logger.InfoContext(ctx, "Content posted", "job_id", req.JobID, "platform_post_id", ok.ID)
		return &Receipt{PlatformPostID: ok.ID}, nil
	}

	msg := fmt.Sprintf("platform returned status %d", resp.StatusCode)
	var relayErr relayErrorResponse
	if err := json.Unmarshal(respBody, &relayErr); err == nil {
		switch {
		case relayErr.Message != "":
			msg = relayErr.Message
		case relayErr.Error != "":
			msg = relayErr.Error
		}
	} else if len(respBody) > 0 && len(respBody) < 200 {
		msg = fmt.Sprintf("platform returned status %d: %s", resp.StatusCode, string(respBody))
	}

	p.logger.WarnContext(ctx, "Platform rejected post", "job_id", req.JobID, "status_code", resp.StatusCode, "error_message", msg)
	return nil, &Error{StatusCode: resp.StatusCode, Message: msg}
}
