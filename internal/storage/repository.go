package storage

import (
	"context"
	"time"

	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
)

// Find* methods return (nil, nil) when no row matches; a missing row is a
// normal resolver outcome, not an error.

// ContactRepo defines contact storage operations
type ContactRepo interface {
	SaveContact(ctx context.Context, contact *model.Contact) error
	FindContactByID(ctx context.Context, id int64) (*model.Contact, error)
	FindContactByChannelUserID(ctx context.Context, channelUserID string) (*model.Contact, error)
	FindContactByPhone(ctx context.Context, phone string) (*model.Contact, error)
	FindContactByEmail(ctx context.Context, email string) (*model.Contact, error)
	UpdateContactName(ctx context.Context, id int64, name string) error
	TouchContactLastActivity(ctx context.Context, id int64, at time.Time) error
	Close(ctx context.Context) error
}

// OrderRepo defines order storage operations
type OrderRepo interface {
	CreateOrder(ctx context.Context, order *model.Order) error
	FindOrderByID(ctx context.Context, id int64) (*model.Order, error)
	FindOrderByCorrelationID(ctx context.Context, correlationID int64) (*model.Order, error)
	FindLatestNonTerminalOrder(ctx context.Context, contactID int64) (*model.Order, error)
	FindOrdersByContact(ctx context.Context, contactID int64) ([]model.Order, error)
	SetOrderCorrelationID(ctx context.Context, orderID, correlationID int64) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status string, partnerStatusID int) error
	Close(ctx context.Context) error
}

// MessageRepo defines client-facing message storage operations
type MessageRepo interface {
	InsertMessage(ctx context.Context, message *model.Message) error
	UpdateMessage(ctx context.Context, message *model.Message) error
	AppendReaction(ctx context.Context, messageID int64, author, emoji string) error
	FindMessageByPartnerID(ctx context.Context, partnerMessageID string) (*model.Message, error)
	FindMessageByChannelID(ctx context.Context, channelMessageID int64) (*model.Message, error)
	LinkMessageToOrder(ctx context.Context, orderID, messageID int64) error

	FindMessagePage(ctx context.Context, correlationIDs []int64, limit int, before *time.Time) ([]model.Message, error)
	LatestMessagePerCorrelationID(ctx context.Context, correlationIDs []int64) (map[int64]*model.Message, error)
	UnreadCountPerCorrelationID(ctx context.Context, correlationIDs []int64) (map[int64]int64, error)

	Close(ctx context.Context) error
}

// InternalMessageRepo defines team-only message storage operations
type InternalMessageRepo interface {
	InsertInternalMessage(ctx context.Context, message *model.InternalMessage) error
	FindInternalMessagePage(ctx context.Context, orderIDs, correlationIDs []int64, limit int, before *time.Time) ([]model.InternalMessage, error)
	MarkInternalMessagesRead(ctx context.Context, orderID, senderID int64) error
	Close(ctx context.Context) error
}

// AutomationRepo defines read-only automation rule lookups
type AutomationRepo interface {
	FindActiveAutomationsByTrigger(ctx context.Context, triggerType string) ([]model.Automation, error)
	Close(ctx context.Context) error
}

// ExhaustedEventRepo defines exhausted event storage operations
type ExhaustedEventRepo interface {
	SaveExhaustedEvent(ctx context.Context, event model.ExhaustedEvent) error
	Close(ctx context.Context) error
}
