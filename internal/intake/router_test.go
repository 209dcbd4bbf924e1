package intake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"go.uber.org/zap/zaptest"
)

func TestRouter_Route(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	router := NewRouter()

	var gotSubject string
	var gotPayload []byte
	router.Register(SubjectChannelMessage, func(ctx context.Context, metadata *EventMetadata, rawEvent []byte) error {
		gotSubject = metadata.Subject
		gotPayload = rawEvent
		return nil
	})
	router.Register(SubjectPartnerStatus, func(ctx context.Context, metadata *EventMetadata, rawEvent []byte) error {
		return errors.New("status handler failed")
	})

	err := router.Route(context.Background(), &EventMetadata{Subject: SubjectChannelMessage, Source: "channel"}, []byte(`{"a":1}`))
	assert.NoError(t, err)
	assert.Equal(t, SubjectChannelMessage, gotSubject)
	assert.Equal(t, []byte(`{"a":1}`), gotPayload)

	err = router.Route(context.Background(), &EventMetadata{Subject: SubjectPartnerStatus, Source: "partner"}, nil)
	assert.EqualError(t, err, "status handler failed")
}

func TestRouter_Route_UnknownSubjectIsFatal(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	router := NewRouter()

	err := router.Route(context.Background(), &EventMetadata{Subject: "v1.unknown.thing"}, nil)

	assert.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestRouter_Route_DefaultHandler(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	router := NewRouter()

	var defaultCalled bool
	router.RegisterDefault(func(ctx context.Context, metadata *EventMetadata, rawEvent []byte) error {
		defaultCalled = true
		return nil
	})

	err := router.Route(context.Background(), &EventMetadata{Subject: "v1.unknown.thing"}, nil)

	assert.NoError(t, err)
	assert.True(t, defaultCalled)
}

func TestSourceFromSubject(t *testing.T) {
	testCases := []struct {
		subject  string
		expected string
	}{
		{SubjectChannelMessage, "channel"},
		{SubjectPartnerMessage, "partner"},
		{SubjectPartnerStatus, "partner"},
		{"v1.messages.someone-else", ""},
		{"nodots", ""},
		{"trailing.", ""},
		{"", ""},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, SourceFromSubject(tc.subject), "subject %q", tc.subject)
	}
}
