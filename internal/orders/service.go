// Package orders owns order status transitions: the local persist, the
// system audit entry, the automation trigger, and the best-effort partner
// sync that follows the commit.
package orders

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/automation"
	"gitlab.com/arveo/api/crm-conversation-service/internal/cache"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/statusmap"
	"gitlab.com/arveo/api/crm-conversation-service/internal/storage"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

// StatusPusher pushes a committed status transition to the partner system.
type StatusPusher interface {
	PushStatusChange(ctx context.Context, correlationID int64, newStatus, oldStatus string) error
}

// Service coordinates order status transitions from both directions:
// manager-initiated changes that must sync outward, and partner
// notifications that must not echo back.
type Service struct {
	orders     storage.OrderRepo
	internals  storage.InternalMessageRepo
	dispatcher automation.Dispatcher
	pusher     StatusPusher
	queryCache cache.Cache
}

// NewService wires the order status service. pusher and queryCache may be
// nil.
func NewService(orders storage.OrderRepo, internals storage.InternalMessageRepo, dispatcher automation.Dispatcher, pusher StatusPusher, queryCache cache.Cache) *Service {
	return &Service{
		orders:     orders,
		internals:  internals,
		dispatcher: dispatcher,
		pusher:     pusher,
		queryCache: queryCache,
	}
}

// ChangeStatus moves the order to newStatus on behalf of actorID. The local
// transition commits first; the audit entry, automation trigger, and partner
// webhook are side effects that never roll it back.
func (s *Service) ChangeStatus(ctx context.Context, orderID int64, newStatus string, actorID int64) (*model.Order, error) {
	log := logger.FromContext(ctx).With(zap.Int64("order_id", orderID))

	partnerStatusID, ok := statusmap.ToPartnerID(newStatus)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, newStatus)
	}

	order, err := s.orders.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %d", apperrors.ErrNotFound, orderID)
	}
	if order.Status == newStatus {
		return order, nil
	}

	oldStatus := order.Status
	if err := s.orders.UpdateOrderStatus(ctx, orderID, newStatus, partnerStatusID); err != nil {
		return nil, err
	}
	order.Status = newStatus
	order.PartnerStatusID = partnerStatusID

	s.recordAudit(ctx, order, actorID, oldStatus, newStatus)
	s.invalidate(ctx)
	s.dispatcher.Dispatch(ctx, model.TriggerStatusChanged, model.EntityKindOrder, automation.OrderEntity(order))

	if s.pusher != nil && order.CorrelationID != 0 {
		if pushErr := s.pusher.PushStatusChange(ctx, order.CorrelationID, newStatus, oldStatus); pushErr != nil {
			log.Warn("Partner status sync failed after local commit",
				zap.String("status", newStatus), zap.Error(pushErr))
		}
	}

	log.Info("Order status changed",
		zap.String("old_status", oldStatus), zap.String("new_status", newStatus))
	return order, nil
}

// ApplyPartnerStatus persists a partner-originated status change without
// echoing it back through the webhook.
func (s *Service) ApplyPartnerStatus(ctx context.Context, event model.StatusChangeEvent) error {
	log := logger.FromContext(ctx).With(zap.Int64("correlation_id", event.CorrelationID))

	newStatus, ok := statusmap.ToInternalStatus(event.PartnerStatusID)
	if !ok {
		// Unknown partner ids are skipped, not failed: the partner pipeline
		// may carry stages this system does not track.
		log.Warn("Skipping unknown partner status id",
			zap.Int("partner_status_id", event.PartnerStatusID))
		return nil
	}

	order, err := s.orders.FindOrderByCorrelationID(ctx, event.CorrelationID)
	if err != nil {
		return err
	}
	if order == nil {
		log.Warn("Partner status change references no known order")
		return nil
	}
	if order.Status == newStatus && order.PartnerStatusID == event.PartnerStatusID {
		return nil
	}

	oldStatus := order.Status
	if err := s.orders.UpdateOrderStatus(ctx, order.ID, newStatus, event.PartnerStatusID); err != nil {
		return err
	}
	order.Status = newStatus
	order.PartnerStatusID = event.PartnerStatusID

	s.recordAudit(ctx, order, 0, oldStatus, newStatus)
	s.invalidate(ctx)
	s.dispatcher.Dispatch(ctx, model.TriggerStatusChanged, model.EntityKindOrder, automation.OrderEntity(order))
	return nil
}

// recordAudit writes the system audit entry for a transition. Audit
// failures are logged, never raised: the transition already committed.
func (s *Service) recordAudit(ctx context.Context, order *model.Order, actorID int64, oldStatus, newStatus string) {
	entry := &model.InternalMessage{
		OrderID:        order.ID,
		CorrelationID:  order.CorrelationID,
		SenderID:       actorID,
		Content:        fmt.Sprintf("Status changed from %s to %s", oldStatus, newStatus),
		AttachmentKind: model.AttachmentKindSystem,
		IsRead:         true,
		CreatedAt:      utils.Now(),
	}
	if err := s.internals.InsertInternalMessage(ctx, entry); err != nil {
		logger.FromContext(ctx).Warn("Failed to record status audit entry",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.queryCache == nil {
		return
	}
	for _, namespace := range []string{cache.NamespaceTimeline, cache.NamespaceSummary} {
		prefix := cache.NamespacePrefix(namespace)
		if err := s.queryCache.Invalidate(ctx, prefix); err != nil {
			logger.FromContext(ctx).Warn("Failed to invalidate query cache",
				zap.String("prefix", prefix), zap.Error(err))
		}
	}
}
