package intake

import (
	"context"
	"encoding/json"
	"errors"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/validator"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"go.uber.org/zap"
)

// MessageIngestor runs an inbound event through the ingestion pipeline.
type MessageIngestor interface {
	Ingest(ctx context.Context, event model.InboundEvent) (*model.Message, error)
}

// StatusApplier applies an inbound partner status notification.
type StatusApplier interface {
	ApplyPartnerStatus(ctx context.Context, event model.StatusChangeEvent) error
}

// OutboundDeliverer sends a manager message to the chat channel.
type OutboundDeliverer interface {
	Deliver(ctx context.Context, cmd model.OutboundCommand) (*model.Message, error)
}

// Handlers binds the inbound subjects to the domain services.
type Handlers struct {
	ingestor  MessageIngestor
	statuses  StatusApplier
	deliverer OutboundDeliverer
}

// NewHandlers creates the subject handlers for the events consumer.
func NewHandlers(ingestor MessageIngestor, statuses StatusApplier, deliverer OutboundDeliverer) *Handlers {
	return &Handlers{
		ingestor:  ingestor,
		statuses:  statuses,
		deliverer: deliverer,
	}
}

// Bind registers all handlers on the router.
func (h *Handlers) Bind(r *Router) {
	r.Register(SubjectChannelMessage, h.HandleInboundMessage)
	r.Register(SubjectPartnerMessage, h.HandleInboundMessage)
	r.Register(SubjectPartnerStatus, h.HandleStatusChange)
	r.Register(SubjectOutboundChannel, h.HandleOutboundCommand)
}

// HandleInboundMessage decodes a channel or partner message event and feeds
// it to the ingestion pipeline.
func (h *Handlers) HandleInboundMessage(ctx context.Context, metadata *EventMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var event model.InboundEvent
	if err := json.Unmarshal(RepairJSON(rawEvent), &event); err != nil {
		log.Error("Failed to unmarshal inbound message event", zap.Error(err))
		return apperrors.NewFatal(apperrors.ErrBadRequest, "unmarshal inbound message event: %v", err)
	}

	// The publisher usually stamps the source; fall back to the subject.
	if event.Source == "" {
		event.Source = metadata.Source
	}

	if err := validator.Validate(&event); err != nil {
		log.Warn("Inbound message event failed validation", zap.Error(err))
		return apperrors.NewFatal(apperrors.ErrValidation, "inbound message event invalid: %v", err)
	}

	if _, err := h.ingestor.Ingest(ctx, event); err != nil {
		return classifyProcessingError(ctx, err, "ingest message")
	}
	return nil
}

// HandleStatusChange decodes a partner status-change notification and applies
// it to the matching order.
func (h *Handlers) HandleStatusChange(ctx context.Context, metadata *EventMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var event model.StatusChangeEvent
	if err := json.Unmarshal(RepairJSON(rawEvent), &event); err != nil {
		log.Error("Failed to unmarshal status change event", zap.Error(err))
		return apperrors.NewFatal(apperrors.ErrBadRequest, "unmarshal status change event: %v", err)
	}

	if err := validator.Validate(&event); err != nil {
		log.Warn("Status change event failed validation", zap.Error(err))
		return apperrors.NewFatal(apperrors.ErrValidation, "status change event invalid: %v", err)
	}

	if err := h.statuses.ApplyPartnerStatus(ctx, event); err != nil {
		return classifyProcessingError(ctx, err, "apply partner status")
	}
	return nil
}

// HandleOutboundCommand decodes an outbound send command and hands it to
// the delivery engine.
func (h *Handlers) HandleOutboundCommand(ctx context.Context, metadata *EventMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var cmd model.OutboundCommand
	if err := json.Unmarshal(RepairJSON(rawEvent), &cmd); err != nil {
		log.Error("Failed to unmarshal outbound command", zap.Error(err))
		return apperrors.NewFatal(apperrors.ErrBadRequest, "unmarshal outbound command: %v", err)
	}

	if _, err := h.deliverer.Deliver(ctx, cmd); err != nil {
		return classifyProcessingError(ctx, err, "deliver outbound message")
	}
	return nil
}

// classifyProcessingError maps standard apperrors from the domain layer to
// FatalError or RetryableError so the consumer can decide between NAK-retry
// and the DLQ.
func classifyProcessingError(ctx context.Context, err error, operation string) error {
	log := logger.FromContext(ctx)
	logFields := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}

	// Already classified upstream; keep the wrapper.
	if apperrors.IsRetryable(err) || apperrors.IsFatal(err) {
		return err
	}

	// Errors no redelivery can fix.
	if errors.Is(err, apperrors.ErrNotFound) {
		log.Warn("Processing failed: Not found", logFields...)
		return apperrors.NewFatal(err, "%s failed: resource not found", operation)
	}
	if errors.Is(err, apperrors.ErrDuplicate) {
		log.Warn("Processing failed: Duplicate resource", logFields...)
		return apperrors.NewFatal(err, "%s failed: duplicate resource", operation)
	}
	if errors.Is(err, apperrors.ErrValidation) || errors.Is(err, apperrors.ErrBadRequest) {
		log.Warn("Processing failed: Invalid event", logFields...)
		return apperrors.NewFatal(err, "%s failed: invalid event", operation)
	}
	if errors.Is(err, apperrors.ErrConflict) {
		log.Warn("Processing failed: Conflict", logFields...)
		return apperrors.NewFatal(err, "%s failed: resource conflict", operation)
	}

	// Transient infrastructure failures.
	if errors.Is(err, apperrors.ErrDatabase) {
		log.Error("Processing failed: Database error", logFields...)
		return apperrors.NewRetryable(err, "%s failed: database error", operation)
	}
	if errors.Is(err, apperrors.ErrTimeout) {
		log.Warn("Processing failed: Timeout", logFields...)
		return apperrors.NewRetryable(err, "%s failed: operation timeout", operation)
	}
	if errors.Is(err, apperrors.ErrNATS) {
		log.Error("Processing failed: NATS error", logFields...)
		return apperrors.NewRetryable(err, "%s failed: NATS communication error", operation)
	}
	if errors.Is(err, apperrors.ErrUpstream) {
		log.Warn("Processing failed: Upstream error", logFields...)
		return apperrors.NewRetryable(err, "%s failed: upstream dependency error", operation)
	}

	log.Error("Processing failed: Unexpected error", logFields...)
	return apperrors.NewFatal(err, "%s failed: unexpected error", operation)
}
