package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/config"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
)

func newTestPusher(url string) (*WebhookPusher, *[]time.Duration) {
	pusher := NewWebhookPusher(config.PartnerConfig{WebhookURL: url, APIKey: "secret"})
	sleeps := &[]time.Duration{}
	pusher.sleep = func(d time.Duration) { *sleeps = append(*sleeps, d) }
	return pusher, sleeps
}

func TestPushStatusChange_Success(t *testing.T) {
	setupDeliveryTest(t)
	var payload statusChangePayload
	var gotKey string
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		gotKey = r.Header.Get("X-Api-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	pusher, sleeps := newTestPusher(server.URL)

	err := pusher.PushStatusChange(context.Background(), 1700000000000123, model.StatusCompleted, model.StatusInWork)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *sleeps)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, int64(1700000000000123), payload.CorrelationID)
	assert.Equal(t, 146, payload.StatusID)
	assert.Equal(t, 143, payload.OldStatusID)
	assert.InDelta(t, time.Now().Unix(), payload.Timestamp, 5)
}

func TestPushStatusChange_UnmappedNewStatusAbortsBeforeHTTP(t *testing.T) {
	setupDeliveryTest(t)
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()
	pusher, sleeps := newTestPusher(server.URL)

	err := pusher.PushStatusChange(context.Background(), 1700000000000123, "made_up_status", model.StatusInWork)

	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	assert.Zero(t, calls)
	assert.Empty(t, *sleeps)
}

func TestPushStatusChange_UnmappedOldStatusFallsBackToNew(t *testing.T) {
	setupDeliveryTest(t)
	var payload statusChangePayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	pusher, _ := newTestPusher(server.URL)

	err := pusher.PushStatusChange(context.Background(), 1700000000000123, model.StatusInWork, "")

	require.NoError(t, err)
	assert.Equal(t, payload.StatusID, payload.OldStatusID)
}

func TestPushStatusChange_ExhaustsThreeAttemptsWithBackoff(t *testing.T) {
	setupDeliveryTest(t)
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	pusher, sleeps := newTestPusher(server.URL)

	err := pusher.PushStatusChange(context.Background(), 1700000000000123, model.StatusInWork, model.StatusUnsorted)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}, *sleeps)
}

func TestPushStatusChange_MissingURLIsConfigurationError(t *testing.T) {
	setupDeliveryTest(t)
	pusher, _ := newTestPusher("")

	err := pusher.PushStatusChange(context.Background(), 1, model.StatusInWork, model.StatusUnsorted)

	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}
