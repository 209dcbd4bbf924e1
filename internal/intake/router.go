package intake

import (
	"context"
	"strings"
	"time"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"go.uber.org/zap"
)

// Subjects the boundary layer publishes normalized events on.
const (
	SubjectChannelMessage  = "v1.messages.channel"
	SubjectPartnerMessage  = "v1.messages.partner"
	SubjectPartnerStatus   = "v1.status.partner"
	SubjectOutboundChannel = "v1.outbound.channel"
)

// EventMetadata carries the JetStream delivery facts for one message.
type EventMetadata struct {
	StreamSequence   uint64
	ConsumerSequence uint64
	NumDelivered     uint64
	NumPending       uint64
	Timestamp        time.Time
	Stream           string
	Consumer         string
	MessageID        string
	Subject          string
	Source           string
}

// Handler processes one raw event delivered on a subject.
type Handler func(ctx context.Context, metadata *EventMetadata, rawEvent []byte) error

// Router routes events to the appropriate handler based on subject
type Router struct {
	handlers map[string]Handler
	// Default handler for unknown subjects
	defaultHandler Handler
}

// NewRouter creates a new event router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]Handler),
	}
}

// Register registers a handler for a subject
func (r *Router) Register(subject string, handler Handler) {
	r.handlers[subject] = handler
}

// RegisterDefault registers a default handler for unknown subjects
func (r *Router) RegisterDefault(handler Handler) {
	r.defaultHandler = handler
}

// Route routes an event to the appropriate handler
func (r *Router) Route(ctx context.Context, metadata *EventMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	log = log.With(
		zap.String("subject", metadata.Subject),
		zap.String("event_id", metadata.MessageID),
		zap.String("source", metadata.Source),
	)
	ctx = logger.WithLogger(ctx, log)

	log.Info("Event received", zap.Int("payload_size", len(rawEvent)))

	handler, ok := r.handlers[metadata.Subject]
	if !ok {
		if r.defaultHandler != nil {
			log.Warn("No specific handler for subject, using default")
			return r.defaultHandler(ctx, metadata, rawEvent)
		}
		log.Error("No handler registered for subject")
		// Unknown subjects can never be processed: classify as fatal so the
		// consumer parks them on the DLQ instead of redelivering forever.
		return apperrors.NewFatal(apperrors.ErrBadRequest, "no handler registered for subject '%s'", metadata.Subject)
	}

	return handler(ctx, metadata, rawEvent)
}

// SourceFromSubject extracts the event source from the subject's last token.
// Unknown tokens map to the empty string.
func SourceFromSubject(subject string) string {
	idx := strings.LastIndex(subject, ".")
	if idx < 0 || idx == len(subject)-1 {
		return ""
	}
	switch tok := subject[idx+1:]; tok {
	case model.SourceChannel, model.SourcePartner:
		return tok
	default:
		return ""
	}
}
