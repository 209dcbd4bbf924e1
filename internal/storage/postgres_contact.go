package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/observer"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

// SaveContact stores a contact. Contacts carrying a channel user id are upserted on
// that id so repeated first-contact events converge on one row; contacts
// without one are always inserted.
func (r *PostgresRepo) SaveContact(ctx context.Context, contact *model.Contact) error {
	contact.UpdatedAt = utils.Now()

	operation := func() error {
		var result *gorm.DB
		if contact.ChannelUserID != "" {
			result = r.db.WithContext(ctx).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "channel_user_id"}},
				DoUpdates: clause.AssignmentColumns(model.ContactUpdateColumns()),
			}).Create(contact)
		} else {
			result = r.db.WithContext(ctx).Create(contact)
		}
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveContact Commit", operation)
	observer.ObserveDbOperationDuration("upsert", "contact", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save contact after retries",
			zap.String("channel_user_id", contact.ChannelUserID), zap.Error(commitErr))
		return commitErr
	}

	return nil
}

// FindContactByID finds a contact by internal id, returning (nil, nil) when absent.
func (r *PostgresRepo) FindContactByID(ctx context.Context, id int64) (*model.Contact, error) {
	return r.findContact(ctx, "FindContactByID", "id = ?", id)
}

// FindContactByChannelUserID finds a contact by its chat-platform user id.
func (r *PostgresRepo) FindContactByChannelUserID(ctx context.Context, channelUserID string) (*model.Contact, error) {
	if channelUserID == "" {
		return nil, nil
	}
	return r.findContact(ctx, "FindContactByChannelUserID", "channel_user_id = ?", channelUserID)
}

// FindContactByPhone finds a contact by normalized phone number.
func (r *PostgresRepo) FindContactByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	if phone == "" {
		return nil, nil
	}
	return r.findContact(ctx, "FindContactByPhone", "phone = ?", phone)
}

// FindContactByEmail finds a contact by email.
func (r *PostgresRepo) FindContactByEmail(ctx context.Context, email string) (*model.Contact, error) {
	if email == "" {
		return nil, nil
	}
	return r.findContact(ctx, "FindContactByEmail", "email = ?", email)
}

func (r *PostgresRepo) findContact(ctx context.Context, opName, cond string, arg interface{}) (*model.Contact, error) {
	var contact model.Contact
	operation := func() error {
		// Oldest row wins when duplicates exist from a first-contact race.
		result := r.db.WithContext(ctx).Where(cond, arg).Order("id ASC").First(&contact)
		return result.Error
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, readPolicy, opName, operation)
	observer.ObserveDbOperationDuration("find", "contact", time.Since(startTime), err)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, checkConstraintViolation(err)
	}
	return &contact, nil
}

// UpdateContactName replaces the display name of a contact.
func (r *PostgresRepo) UpdateContactName(ctx context.Context, id int64, name string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Contact{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{"name": name, "updated_at": utils.Now()})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: contact %d not found for name update", apperrors.ErrNotFound, id)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, defaultRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "UpdateContactName", operation)
	observer.ObserveDbOperationDuration("update", "contact", time.Since(startTime), err)
	return err
}

// TouchContactLastActivity bumps the last-activity timestamp of a contact.
func (r *PostgresRepo) TouchContactLastActivity(ctx context.Context, id int64, at time.Time) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Contact{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{"last_activity_at": at.UTC(), "updated_at": utils.Now()})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, defaultRetryMaxElapsedTime)
	startTime := utils.Now()
	err := retryableOperation(ctx, commitPolicy, "TouchContactLastActivity", operation)
	observer.ObserveDbOperationDuration("update", "contact", time.Since(startTime), err)
	return err
}
