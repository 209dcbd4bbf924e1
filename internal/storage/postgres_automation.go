package storage

import (
	"context"
	"time"

	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/observer"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

// FindActiveAutomationsByTrigger returns every active automation rule registered for a
// trigger type. The core only ever reads automation rows.
func (r *PostgresRepo) FindActiveAutomationsByTrigger(ctx context.Context, triggerType string) ([]model.Automation, error) {
	var automations []model.Automation
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("trigger_type = ? AND active = true", triggerType).
			Order("id ASC").
			Find(&automations)
		return result.Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindActiveAutomations", operation)
	observer.ObserveDbOperationDuration("find", "automation", time.Since(startTime), err)

	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return automations, nil
}
