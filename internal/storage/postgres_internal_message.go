package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/observer"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

// InsertInternalMessage stores a team-only message.
func (r *PostgresRepo) InsertInternalMessage(ctx context.Context, message *model.InternalMessage) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = utils.Now()
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Create(message)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "InsertInternalMessage Commit", operation)
	observer.ObserveDbOperationDuration("insert", "internal_message", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to insert internal message after retries",
			zap.Int64("order_id", message.OrderID), zap.Error(commitErr))
		return commitErr
	}

	return nil
}

// FindInternalMessagePage fetches one newest-first page of internal messages reachable by
// order id or, for legacy rows lacking the link, by correlation id.
func (r *PostgresRepo) FindInternalMessagePage(ctx context.Context, orderIDs, correlationIDs []int64, limit int, before *time.Time) ([]model.InternalMessage, error) {
	if len(orderIDs) == 0 && len(correlationIDs) == 0 {
		return nil, nil
	}

	var messages []model.InternalMessage
	operation := func() error {
		query := r.db.WithContext(ctx)
		switch {
		case len(orderIDs) > 0 && len(correlationIDs) > 0:
			query = query.Where("order_id IN ? OR correlation_id IN ?", orderIDs, correlationIDs)
		case len(orderIDs) > 0:
			query = query.Where("order_id IN ?", orderIDs)
		default:
			query = query.Where("correlation_id IN ?", correlationIDs)
		}
		if before != nil {
			query = query.Where("created_at < ?", before.UTC())
		}
		result := query.
			Order("created_at DESC").
			Order("id DESC").
			Limit(limit).
			Find(&messages)
		return result.Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindInternalMessagePage", operation)
	observer.ObserveDbOperationDuration("find", "internal_message", time.Since(startTime), err)

	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return messages, nil
}

// MarkInternalMessagesRead flags every internal message of an order as read
// except those written by the reader themselves.
func (r *PostgresRepo) MarkInternalMessagesRead(ctx context.Context, orderID, senderID int64) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.InternalMessage{}).
			Where("order_id = ? AND sender_id <> ? AND is_read = false", orderID, senderID).
			Update("is_read", true)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, defaultRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "MarkInternalMessagesRead", operation)
	observer.ObserveDbOperationDuration("update", "internal_message", time.Since(startTime), err)
	return err
}
