package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/config"
	"gitlab.com/arveo/api/crm-conversation-service/internal/observer"
	"gitlab.com/arveo/api/crm-conversation-service/internal/statusmap"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

const (
	webhookAttempts        = 3
	webhookInitialInterval = 1 * time.Second
	webhookMaxInterval     = 5 * time.Second
	webhookRequestTimeout  = 10 * time.Second
)

// statusChangePayload is the partner's status-sync wire format.
type statusChangePayload struct {
	CorrelationID int64 `json:"correlation_id"`
	StatusID      int   `json:"status_id"`
	OldStatusID   int   `json:"old_status_id"`
	Timestamp     int64 `json:"timestamp"`
}

// WebhookPusher pushes status transitions to the partner system on a fixed
// retry budget. It is always invoked after the local transition committed;
// its failures are reported, never raised into the transaction.
type WebhookPusher struct {
	httpClient *http.Client
	webhookURL string
	apiKey     string
	sleep      func(time.Duration)
}

// NewWebhookPusher builds the pusher from partner config.
func NewWebhookPusher(cfg config.PartnerConfig) *WebhookPusher {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = webhookRequestTimeout
	}
	return &WebhookPusher{
		httpClient: &http.Client{Timeout: timeout},
		webhookURL: cfg.WebhookURL,
		apiKey:     cfg.APIKey,
		sleep:      time.Sleep,
	}
}

// PushStatusChange maps both statuses and POSTs the transition. An unmapped
// new status is a configuration fault: it aborts before any HTTP call. An
// unmapped old status falls back to the new id. Transport and non-2xx
// failures burn the retry budget with exponential backoff.
func (p *WebhookPusher) PushStatusChange(ctx context.Context, correlationID int64, newStatus, oldStatus string) error {
	log := logger.FromContext(ctx).With(zap.Int64("correlation_id", correlationID))

	statusID, ok := statusmap.ToPartnerID(newStatus)
	if !ok {
		return fmt.Errorf("%w: unknown status mapping for %q", apperrors.ErrConfiguration, newStatus)
	}
	oldStatusID, ok := statusmap.ToPartnerID(oldStatus)
	if !ok {
		oldStatusID = statusID
	}
	if p.webhookURL == "" {
		return fmt.Errorf("%w: partner webhook URL is not set", apperrors.ErrConfiguration)
	}

	body, err := json.Marshal(statusChangePayload{
		CorrelationID: correlationID,
		StatusID:      statusID,
		OldStatusID:   oldStatusID,
		Timestamp:     utils.Now().Unix(),
	})
	if err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = webhookInitialInterval
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = webhookMaxInterval
	policy.Reset()

	var lastErr error
	for attempt := 1; attempt <= webhookAttempts; attempt++ {
		start := time.Now()
		lastErr = p.post(ctx, body)
		observer.ObserveWebhookDuration(time.Since(start))
		if lastErr == nil {
			observer.IncWebhookAttempt("success")
			log.Debug("Pushed status change to partner",
				zap.String("status", newStatus), zap.Int("attempt", attempt))
			return nil
		}

		observer.IncWebhookAttempt("error")
		log.Warn("Partner status webhook attempt failed",
			zap.Int("attempt", attempt), zap.Error(lastErr))
		p.sleep(policy.NextBackOff())
	}

	return fmt.Errorf("status webhook exhausted %d attempts: %w", webhookAttempts, lastErr)
}

func (p *WebhookPusher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-Api-Key", p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: partner webhook returned %d", apperrors.ErrUpstream, resp.StatusCode)
	}
	return nil
}
