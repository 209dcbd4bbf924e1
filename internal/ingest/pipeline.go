package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/automation"
	"gitlab.com/arveo/api/crm-conversation-service/internal/cache"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/observer"
	"gitlab.com/arveo/api/crm-conversation-service/internal/resolver"
	"gitlab.com/arveo/api/crm-conversation-service/internal/storage"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

// Pipeline is the message ingestion and dedup pipeline. One Ingest call is
// one inbound event: normalize, resolve identity, dedup, write, dispatch.
type Pipeline struct {
	messages   storage.MessageRepo
	contacts   storage.ContactRepo
	orders     storage.OrderRepo
	identity   *resolver.Resolver
	dispatcher automation.Dispatcher
	queryCache cache.Cache
}

// NewPipeline wires the ingestion pipeline.
func NewPipeline(
	messages storage.MessageRepo,
	contacts storage.ContactRepo,
	orders storage.OrderRepo,
	identity *resolver.Resolver,
	dispatcher automation.Dispatcher,
	queryCache cache.Cache,
) *Pipeline {
	return &Pipeline{
		messages:   messages,
		contacts:   contacts,
		orders:     orders,
		identity:   identity,
		dispatcher: dispatcher,
		queryCache: queryCache,
	}
}

// Ingest processes one inbound event. Database errors propagate; automation
// and cache failures never do. The returned message is the row the event
// converged on, or nil for a reaction that found nothing to attach to.
func (p *Pipeline) Ingest(ctx context.Context, event model.InboundEvent) (*model.Message, error) {
	log := logger.FromContext(ctx).With(zap.String("source", event.Source))
	start := time.Now()

	isReaction := IsReactionEvent(event)
	normalized := Normalize(event)

	if !isReaction && normalized.Content == "" && normalized.FileURL == "" {
		return nil, fmt.Errorf("%w: event carries neither content nor attachment", apperrors.ErrValidation)
	}

	order, err := p.resolveOrder(ctx, event)
	if err != nil {
		observer.IncEventProcessingAction(eventType(event), event.Source, "pipeline", "resolve", observer.SanitizeErrorType(err.Error()))
		return nil, err
	}
	normalized.CorrelationID = order.CorrelationID

	existing, err := p.findExisting(ctx, event)
	if err != nil {
		return nil, err
	}

	var result *model.Message
	var action string
	switch {
	case existing != nil && isReaction:
		action = "reaction"
		result, err = p.applyReaction(ctx, existing, event)
	case existing != nil:
		action = "update"
		result, err = p.applyUpdate(ctx, existing, normalized)
	case isReaction:
		// A reaction with no target is dropped, not inserted.
		log.Debug("Reaction event matched no stored message",
			zap.String("partner_message_id", event.PartnerMessageID),
			zap.Int64("channel_message_id", event.ChannelMessageID))
		observer.IncEventProcessingAction(eventType(event), event.Source, "pipeline", "reaction_orphan", "")
		return nil, nil
	default:
		action = "insert"
		result, err = p.insertNew(ctx, &normalized, order, event)
	}
	if err != nil {
		observer.IncEventProcessingAction(eventType(event), event.Source, "pipeline", action, observer.SanitizeErrorType(err.Error()))
		return nil, err
	}

	if !isReaction {
		if touchErr := p.contacts.TouchContactLastActivity(ctx, order.ContactID, utils.Now()); touchErr != nil {
			log.Warn("Failed to touch contact last activity",
				zap.Int64("contact_id", order.ContactID), zap.Error(touchErr))
		}
	}

	p.invalidateCaches(ctx)

	observer.IncEventProcessingAction(eventType(event), event.Source, "pipeline", action, "")
	log.Debug("Ingested event",
		zap.String("action", action),
		zap.Int64("correlation_id", order.CorrelationID),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// resolveOrder finds the owning order: by explicit correlation id when the
// event carries one, else through the identity resolver.
func (p *Pipeline) resolveOrder(ctx context.Context, event model.InboundEvent) (*model.Order, error) {
	if event.CorrelationID != 0 {
		order, err := p.orders.FindOrderByCorrelationID(ctx, event.CorrelationID)
		if err != nil {
			return nil, err
		}
		if order != nil {
			return order, nil
		}
	}

	contact, err := p.identity.ResolveContact(ctx, resolver.ContactQuery{
		ChannelUserID:  event.ChannelUserID,
		PartnerUserRef: event.PartnerUserRef,
		Phone:          event.Phone,
		Email:          event.Email,
		NameHints:      event.NameHints,
	})
	if err != nil {
		return nil, err
	}
	return p.identity.ResolveOrCreateOrder(ctx, contact)
}

func (p *Pipeline) findExisting(ctx context.Context, event model.InboundEvent) (*model.Message, error) {
	if existing, err := p.messages.FindMessageByPartnerID(ctx, event.PartnerMessageID); err != nil || existing != nil {
		return existing, err
	}
	return p.messages.FindMessageByChannelID(ctx, event.ChannelMessageID)
}

// applyReaction touches only the reactions column of the matched row.
func (p *Pipeline) applyReaction(ctx context.Context, existing *model.Message, event model.InboundEvent) (*model.Message, error) {
	author := event.ReactionAuthor
	if author == "" {
		author = event.ChannelUserID
	}
	if err := p.messages.AppendReaction(ctx, existing.ID, author, event.ReactionEmoji); err != nil {
		return nil, err
	}
	return existing, nil
}

// applyUpdate merges non-empty inbound fields over the matched row. Existing
// non-empty content is never erased by empty inbound content.
func (p *Pipeline) applyUpdate(ctx context.Context, existing *model.Message, normalized model.Message) (*model.Message, error) {
	patch := *existing
	if normalized.Content != "" {
		patch.Content = normalized.Content
	}
	if normalized.Kind != "" && normalized.Kind != model.KindText {
		patch.Kind = normalized.Kind
	}
	if normalized.FileURL != "" {
		patch.FileURL = normalized.FileURL
	}
	if normalized.ReplyToExternalID != "" {
		patch.ReplyToExternalID = normalized.ReplyToExternalID
	}
	if normalized.DeliveryStatus != "" {
		patch.DeliveryStatus = normalized.DeliveryStatus
	}

	if err := p.messages.UpdateMessage(ctx, &patch); err != nil {
		return nil, err
	}
	return &patch, nil
}

// insertNew writes the row, links it to the order, and fires
// message_received. The trigger fires on the insert path only.
func (p *Pipeline) insertNew(ctx context.Context, normalized *model.Message, order *model.Order, event model.InboundEvent) (*model.Message, error) {
	if err := p.messages.InsertMessage(ctx, normalized); err != nil {
		return nil, err
	}
	if err := p.messages.LinkMessageToOrder(ctx, order.ID, normalized.ID); err != nil {
		return nil, err
	}

	p.dispatcher.Dispatch(ctx, model.TriggerMessageReceived, model.EntityKindMessage, automation.MessageEntity(normalized))
	return normalized, nil
}

func (p *Pipeline) invalidateCaches(ctx context.Context) {
	if p.queryCache == nil {
		return
	}
	for _, namespace := range []string{cache.NamespaceTimeline, cache.NamespaceSummary} {
		prefix := cache.NamespacePrefix(namespace)
		if err := p.queryCache.Invalidate(ctx, prefix); err != nil {
			logger.FromContext(ctx).Warn("Failed to invalidate query cache",
				zap.String("prefix", prefix), zap.Error(err))
		}
	}
}

func eventType(event model.InboundEvent) string {
	if IsReactionEvent(event) {
		return "reaction"
	}
	if event.Kind != "" {
		return event.Kind
	}
	return model.KindText
}
