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

// SaveExhaustedEvent saves an exhausted DLQ event to the database.
func (r *PostgresRepo) SaveExhaustedEvent(ctx context.Context, event model.ExhaustedEvent) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Create(&event)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveExhaustedEvent Commit", operation)
	observer.ObserveDbOperationDuration("save", "exhausted_event", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save exhausted event after retries",
			zap.String("source_subject", event.SourceSubject),
			zap.Error(commitErr))
		return commitErr
	}

	logger.FromContext(ctx).Info("Successfully saved exhausted event",
		zap.Uint("event_id", event.ID), zap.String("source_subject", event.SourceSubject))
	return nil
}
