package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/observer"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

// InsertMessage stores a brand-new client-facing message.
func (r *PostgresRepo) InsertMessage(ctx context.Context, message *model.Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = utils.Now()
	}
	message.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Create(message)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "InsertMessage Commit", operation)
	observer.ObserveDbOperationDuration("insert", "message", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to insert message after retries",
			zap.Int64("correlation_id", message.CorrelationID), zap.Error(commitErr))
		return commitErr
	}

	return nil
}

// UpdateMessage patches a deduped message row in place. The row is locked for the
// duration of the transaction so concurrent reaction appends cannot clobber
// the patch.
func (r *PostgresRepo) UpdateMessage(ctx context.Context, message *model.Message) error {
	message.UpdatedAt = utils.Now()

	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if p := recover(); p != nil {
				tx.Rollback()
				panic(p)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					logger.FromContext(ctx).Error("Failed to rollback transaction after error",
						zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		var existing model.Message
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", message.ID).
			First(&existing)
		if findErr := result.Error; findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: message %d not found for update: %w", apperrors.ErrNotFound, message.ID, findErr)
				return backoff.Permanent(txErr)
			}
			txErr = fmt.Errorf("%w: failed to lock message row for update: %w", apperrors.ErrDatabase, findErr)
			return txErr
		}

		message.CreatedAt = existing.CreatedAt
		updateResult := tx.Model(&existing).
			Select(message.GetUpdatableFields()).
			Updates(message)
		if updateResult.Error != nil {
			txErr = checkConstraintViolation(updateResult.Error)
			return txErr
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit message update: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "UpdateMessage Commit", operation)
	observer.ObserveDbOperationDuration("update", "message", time.Since(startTime), err)
	return err
}

// AppendReaction merges one author's reaction into the reactions column,
// touching nothing else on the row. Re-reacting replaces the author's
// previous entry.
func (r *PostgresRepo) AppendReaction(ctx context.Context, messageID int64, author, emoji string) error {
	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if p := recover(); p != nil {
				tx.Rollback()
				panic(p)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					logger.FromContext(ctx).Error("Failed to rollback transaction after error",
						zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		var existing model.Message
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", messageID).
			First(&existing)
		if findErr := result.Error; findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: message %d not found for reaction: %w", apperrors.ErrNotFound, messageID, findErr)
				return backoff.Permanent(txErr)
			}
			txErr = fmt.Errorf("%w: failed to lock message row for reaction: %w", apperrors.ErrDatabase, findErr)
			return txErr
		}

		reactions, decodeErr := existing.DecodeReactions()
		if decodeErr != nil {
			txErr = fmt.Errorf("%w: corrupt reactions column on message %d: %w", apperrors.ErrDatabase, messageID, decodeErr)
			return backoff.Permanent(txErr)
		}
		reactions[author] = emoji

		updateResult := tx.Model(&existing).Updates(map[string]interface{}{
			"reactions":  datatypes.JSON(utils.MustMarshalJSON(reactions)),
			"updated_at": utils.Now(),
		})
		if updateResult.Error != nil {
			txErr = checkConstraintViolation(updateResult.Error)
			return txErr
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit reaction append: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "AppendReaction Commit", operation)
	observer.ObserveDbOperationDuration("update", "message", time.Since(startTime), err)
	return err
}

// FindMessageByPartnerID finds a message by its partner external id. The
// sentinel "null" never matches anything.
func (r *PostgresRepo) FindMessageByPartnerID(ctx context.Context, partnerMessageID string) (*model.Message, error) {
	if partnerMessageID == "" || partnerMessageID == model.PartnerMessageIDNull {
		return nil, nil
	}
	return r.findMessage(ctx, "FindMessageByPartnerID", "partner_message_id = ?", partnerMessageID)
}

// FindMessageByChannelID finds a message by its chat-channel external id.
// The sentinel 0 never matches anything.
func (r *PostgresRepo) FindMessageByChannelID(ctx context.Context, channelMessageID int64) (*model.Message, error) {
	if channelMessageID == 0 {
		return nil, nil
	}
	return r.findMessage(ctx, "FindMessageByChannelID", "channel_message_id = ?", channelMessageID)
}

func (r *PostgresRepo) findMessage(ctx context.Context, opName, cond string, arg interface{}) (*model.Message, error) {
	var message model.Message
	operation := func() error {
		// Newest row wins when a dedup race produced duplicates.
		result := r.db.WithContext(ctx).Where(cond, arg).Order("id DESC").First(&message)
		return result.Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, opName, operation)
	observer.ObserveDbOperationDuration("find", "message", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, checkConstraintViolation(err)
	}
	return &message, nil
}

// LinkMessageToOrder records a message in the order's association table. Re-linking
// the same pair is a no-op.
func (r *PostgresRepo) LinkMessageToOrder(ctx context.Context, orderID, messageID int64) error {
	link := model.OrderMessage{OrderID: orderID, MessageID: messageID}

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&link)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, defaultRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "LinkMessageToOrder", operation)
	observer.ObserveDbOperationDuration("insert", "order_message", time.Since(startTime), err)
	return err
}

// FindMessagePage fetches one newest-first page of messages across a
// correlation id set, strictly older than before when given.
func (r *PostgresRepo) FindMessagePage(ctx context.Context, correlationIDs []int64, limit int, before *time.Time) ([]model.Message, error) {
	if len(correlationIDs) == 0 {
		return nil, nil
	}

	var messages []model.Message
	operation := func() error {
		query := r.db.WithContext(ctx).
			Where("correlation_id IN ?", correlationIDs)
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
	err := retryableOperation(ctx, readPolicy, "FindMessagePage", operation)
	observer.ObserveDbOperationDuration("find", "message", time.Since(startTime), err)

	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return messages, nil
}

// LatestMessagePerCorrelationID implements the "latest message per correlation id
// across a set" aggregate as a single DISTINCT ON scan.
func (r *PostgresRepo) LatestMessagePerCorrelationID(ctx context.Context, correlationIDs []int64) (map[int64]*model.Message, error) {
	if len(correlationIDs) == 0 {
		return map[int64]*model.Message{}, nil
	}

	var rows []model.Message
	operation := func() error {
		return r.db.WithContext(ctx).Raw(
			`SELECT DISTINCT ON (correlation_id) *
			 FROM messages
			 WHERE correlation_id IN ?
			 ORDER BY correlation_id, created_at DESC, id DESC`,
			correlationIDs,
		).Scan(&rows).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "LatestMessagePerCorrelation", operation)
	observer.ObserveDbOperationDuration("aggregate", "message", time.Since(startTime), err)

	if err != nil {
		return nil, checkConstraintViolation(err)
	}

	latest := make(map[int64]*model.Message, len(rows))
	for i := range rows {
		latest[rows[i].CorrelationID] = &rows[i]
	}
	return latest, nil
}

// UnreadCountPerCorrelationID implements the "unread client-message count per
// correlation id across a set" aggregate.
func (r *PostgresRepo) UnreadCountPerCorrelationID(ctx context.Context, correlationIDs []int64) (map[int64]int64, error) {
	if len(correlationIDs) == 0 {
		return map[int64]int64{}, nil
	}

	type countRow struct {
		CorrelationID int64 `gorm:"column:correlation_id"`
		Count         int64 `gorm:"column:count"`
	}
	var rows []countRow
	operation := func() error {
		return r.db.WithContext(ctx).Raw(
			`SELECT correlation_id, COUNT(*) AS count
			 FROM messages
			 WHERE correlation_id IN ? AND author_kind = ? AND is_read = false
			 GROUP BY correlation_id`,
			correlationIDs, model.AuthorClient,
		).Scan(&rows).Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, "UnreadCountPerCorrelation", operation)
	observer.ObserveDbOperationDuration("aggregate", "message", time.Since(startTime), err)

	if err != nil {
		return nil, checkConstraintViolation(err)
	}

	counts := make(map[int64]int64, len(rows))
	for _, row := range rows {
		counts[row.CorrelationID] = row.Count
	}
	return counts, nil
}
