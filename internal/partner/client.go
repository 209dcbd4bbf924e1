package partner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/config"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
)

const defaultRequestTimeout = 10 * time.Second

// Client talks to the partner platform's user-lookup API. It resolves an
// opaque partner-internal user reference into the chat-channel user id the
// rest of the system keys on.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient builds a partner API client from config.
func NewClient(cfg config.PartnerConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
	}
}

type userLookupResponse struct {
	ChannelUserID string `json:"channel_user_id"`
}

// LookupChannelUserID resolves a partner user reference to a channel user id.
// Returns ("", nil) when the partner does not know the reference; callers
// continue down their fallback chain.
func (c *Client) LookupChannelUserID(ctx context.Context, partnerUserRef string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("%w: partner baseURL is not configured", apperrors.ErrConfiguration)
	}

	endpoint := fmt.Sprintf("%s/api/v1/users/%s", c.baseURL, url.PathEscape(partnerUserRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to build user lookup request: %w", apperrors.ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: partner user lookup failed: %w", apperrors.ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("%w: partner user lookup returned status %d", apperrors.ErrUpstream, resp.StatusCode)
	}

	var body userLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: failed to decode user lookup response: %w", apperrors.ErrUpstream, err)
	}

	logger.FromContext(ctx).Debug("Resolved partner user reference",
		zap.String("partner_user_ref", partnerUserRef),
		zap.String("channel_user_id", body.ChannelUserID))
	return body.ChannelUserID, nil
}

// LooksOpaqueRef reports whether a partner user reference is an opaque
// partner-internal id rather than a plain channel user id. Short decimal
// strings are channel ids; opaque refs are long and carry non-digit
// characters.
func LooksOpaqueRef(ref string) bool {
	if len(ref) < 12 {
		return false
	}
	for _, r := range ref {
		if r < '0' || r > '9' {
			return true
		}
	}
	return false
}
