package delivery

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/cache"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/storage"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

// ChatSender is the channel-send slice of ChannelSender.
type ChatSender interface {
	Send(ctx context.Context, out Outbound) error
}

// OutboundService turns an outbound command into a persisted message row
// delivered to the contact's chat channel. The row is inserted whether or
// not the channel accepted the send; a failed send leaves the row in the
// error delivery status for the operator to retry.
type OutboundService struct {
	orders     storage.OrderRepo
	contacts   storage.ContactRepo
	messages   storage.MessageRepo
	sender     ChatSender
	queryCache cache.Cache
}

// NewOutboundService wires the outbound delivery path.
func NewOutboundService(orders storage.OrderRepo, contacts storage.ContactRepo, messages storage.MessageRepo, sender ChatSender, queryCache cache.Cache) *OutboundService {
	return &OutboundService{
		orders:     orders,
		contacts:   contacts,
		messages:   messages,
		sender:     sender,
		queryCache: queryCache,
	}
}

// Deliver sends one manager message. Database errors propagate; a channel
// send failure does not, the returned row carries the outcome instead.
func (s *OutboundService) Deliver(ctx context.Context, cmd model.OutboundCommand) (*model.Message, error) {
	log := logger.FromContext(ctx)

	content := strings.TrimSpace(cmd.Content)
	if content == "" && cmd.FileURL == "" {
		return nil, fmt.Errorf("outbound command has no content: %w", apperrors.ErrValidation)
	}

	order, err := s.resolveOrder(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("outbound target order not found: %w", apperrors.ErrNotFound)
	}

	contact, err := s.contacts.FindContactByID(ctx, order.ContactID)
	if err != nil {
		return nil, fmt.Errorf("find contact %d: %w", order.ContactID, err)
	}
	if contact == nil {
		return nil, fmt.Errorf("contact %d not found: %w", order.ContactID, apperrors.ErrNotFound)
	}

	chatID, err := strconv.ParseInt(contact.ChannelUserID, 10, 64)
	if err != nil || chatID == 0 {
		return nil, fmt.Errorf("contact %d has no channel identity: %w", contact.ID, apperrors.ErrValidation)
	}

	kind := cmd.Kind
	if kind == "" {
		kind = model.KindText
		if cmd.FileURL != "" {
			kind = model.KindFile
		}
	}

	message := &model.Message{
		CorrelationID:     order.CorrelationID,
		Content:           content,
		AuthorKind:        model.AuthorManager,
		Kind:              kind,
		FileURL:           cmd.FileURL,
		ReplyToExternalID: cmd.ReplyToExternalID,
		DeliveryStatus:    model.DeliveryDelivered,
		IsRead:            true,
		CreatedAt:         utils.Now(),
	}

	if sendErr := s.sender.Send(ctx, Outbound{ChatID: chatID, Message: message}); sendErr != nil {
		log.Warn("Channel send failed, persisting row with error status",
			zap.Int64("order_id", order.ID),
			zap.Int64("chat_id", chatID),
			zap.Error(sendErr),
		)
	}

	if err := s.messages.InsertMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("insert outbound message: %w", err)
	}
	if err := s.messages.LinkMessageToOrder(ctx, order.ID, message.ID); err != nil {
		return nil, fmt.Errorf("link outbound message to order %d: %w", order.ID, err)
	}

	s.invalidate(ctx)
	return message, nil
}

func (s *OutboundService) resolveOrder(ctx context.Context, cmd model.OutboundCommand) (*model.Order, error) {
	if cmd.OrderID != 0 {
		order, err := s.orders.FindOrderByID(ctx, cmd.OrderID)
		if err != nil {
			return nil, fmt.Errorf("find order %d: %w", cmd.OrderID, err)
		}
		return order, nil
	}
	if cmd.CorrelationID != 0 {
		order, err := s.orders.FindOrderByCorrelationID(ctx, cmd.CorrelationID)
		if err != nil {
			return nil, fmt.Errorf("find order by correlation %d: %w", cmd.CorrelationID, err)
		}
		return order, nil
	}
	return nil, nil
}

func (s *OutboundService) invalidate(ctx context.Context) {
	if s.queryCache == nil {
		return
	}
	log := logger.FromContext(ctx)
	for _, namespace := range []string{cache.NamespaceTimeline, cache.NamespaceSummary} {
		if err := s.queryCache.Invalidate(ctx, cache.NamespacePrefix(namespace)); err != nil {
			log.Warn("Failed to invalidate query cache", zap.String("namespace", namespace), zap.Error(err))
		}
	}
}
