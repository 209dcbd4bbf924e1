package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/observer"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

// CreateOrder inserts a new order row.
func (r *PostgresRepo) CreateOrder(ctx context.Context, order *model.Order) error {
	if order.Status == "" {
		order.Status = model.StatusUnsorted
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Create(order)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "CreateOrder Commit", operation)
	observer.ObserveDbOperationDuration("insert", "order", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to create order after retries",
			zap.Int64("contact_id", order.ContactID), zap.Error(commitErr))
		return commitErr
	}

	return nil
}

// FindOrderByID finds an order by internal id, returning (nil, nil) when absent.
func (r *PostgresRepo) FindOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	return r.findOrder(ctx, "FindOrderByID", func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	})
}

// FindOrderByCorrelationID finds an order by its external correlation id.
func (r *PostgresRepo) FindOrderByCorrelationID(ctx context.Context, correlationID int64) (*model.Order, error) {
	if correlationID == 0 {
		return nil, nil
	}
	return r.findOrder(ctx, "FindOrderByCorrelationID", func(db *gorm.DB) *gorm.DB {
		return db.Where("correlation_id = ?", correlationID)
	})
}

// FindLatestNonTerminalOrder finds the newest order of a contact whose
// status is still open. Returns (nil, nil) when every order is terminal.
func (r *PostgresRepo) FindLatestNonTerminalOrder(ctx context.Context, contactID int64) (*model.Order, error) {
	return r.findOrder(ctx, "FindLatestNonTerminalOrder", func(db *gorm.DB) *gorm.DB {
		return db.Where("contact_id = ? AND status NOT IN ?", contactID, model.TerminalStatuses()).
			Order("id DESC")
	})
}

func (r *PostgresRepo) findOrder(ctx context.Context, opName string, scope func(*gorm.DB) *gorm.DB) (*model.Order, error) {
	var order model.Order
	operation := func() error {
		result := scope(r.db.WithContext(ctx)).First(&order)
		return result.Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, opName, operation)
	observer.ObserveDbOperationDuration("find", "order", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, checkConstraintViolation(err)
	}
	return &order, nil
}

// FindOrdersByContact returns every order belonging to a contact, newest first.
func (r *PostgresRepo) FindOrdersByContact(ctx context.Context, contactID int64) ([]model.Order, error) {
	var orders []model.Order
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("contact_id = ?", contactID).
			Order("id DESC").
			Find(&orders)
		return result.Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "FindOrdersByContact", operation)
	observer.ObserveDbOperationDuration("find", "order", time.Since(startTime), err)

	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return orders, nil
}

// SetOrderCorrelationID assigns a correlation id to a legacy order row lacking one.
func (r *PostgresRepo) SetOrderCorrelationID(ctx context.Context, orderID, correlationID int64) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Order{}).
			Where("id = ? AND (correlation_id = 0 OR correlation_id IS NULL)", orderID).
			Updates(map[string]interface{}{"correlation_id": correlationID, "updated_at": utils.Now()})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: order %d already has a correlation id or does not exist", apperrors.ErrConflict, orderID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, defaultRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "SetOrderCorrelationID", operation)
	observer.ObserveDbOperationDuration("update", "order", time.Since(startTime), err)
	return err
}

// UpdateOrderStatus moves an order to a new internal status and mirrors the
// partner status id.
func (r *PostgresRepo) UpdateOrderStatus(ctx context.Context, orderID int64, status string, partnerStatusID int) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Order{}).
			Where("id = ?", orderID).
			Updates(map[string]interface{}{
				"status":            status,
				"partner_status_id": partnerStatusID,
				"updated_at":        utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: order %d not found for status update", apperrors.ErrNotFound, orderID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "UpdateOrderStatus", operation)
	observer.ObserveDbOperationDuration("update", "order", time.Since(startTime), err)

	if err != nil {
		logger.FromContext(ctx).Error("Failed to update order status after retries",
			zap.Int64("order_id", orderID), zap.String("status", status), zap.Error(err))
	}
	return err
}
