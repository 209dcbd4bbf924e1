package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
)

// --- ContactRepo Mock ---

// ContactRepoMock mocks the ContactRepo interface
type ContactRepoMock struct {
	mock.Mock
}

// SaveContact mocks the SaveContact method
func (m *ContactRepoMock) SaveContact(ctx context.Context, contact *model.Contact) error {
	args := m.Called(ctx, contact)
	return args.Error(0)
}

// FindContactByID mocks the FindContactByID method
func (m *ContactRepoMock) FindContactByID(ctx context.Context, id int64) (*model.Contact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// FindContactByChannelUserID mocks the FindContactByChannelUserID method
func (m *ContactRepoMock) FindContactByChannelUserID(ctx context.Context, channelUserID string) (*model.Contact, error) {
	args := m.Called(ctx, channelUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// FindContactByPhone mocks the FindContactByPhone method
func (m *ContactRepoMock) FindContactByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// FindContactByEmail mocks the FindContactByEmail method
func (m *ContactRepoMock) FindContactByEmail(ctx context.Context, email string) (*model.Contact, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// UpdateContactName mocks the UpdateContactName method
func (m *ContactRepoMock) UpdateContactName(ctx context.Context, id int64, name string) error {
	args := m.Called(ctx, id, name)
	return args.Error(0)
}

// TouchContactLastActivity mocks the TouchContactLastActivity method
func (m *ContactRepoMock) TouchContactLastActivity(ctx context.Context, id int64, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// Close mocks the Close method
func (m *ContactRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- OrderRepo Mock ---

// OrderRepoMock mocks the OrderRepo interface
type OrderRepoMock struct {
	mock.Mock
}

// CreateOrder mocks the CreateOrder method
func (m *OrderRepoMock) CreateOrder(ctx context.Context, order *model.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

// FindOrderByID mocks the FindOrderByID method
func (m *OrderRepoMock) FindOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

// FindOrderByCorrelationID mocks the FindOrderByCorrelationID method
func (m *OrderRepoMock) FindOrderByCorrelationID(ctx context.Context, correlationID int64) (*model.Order, error) {
	args := m.Called(ctx, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

// FindLatestNonTerminalOrder mocks the FindLatestNonTerminalOrder method
func (m *OrderRepoMock) FindLatestNonTerminalOrder(ctx context.Context, contactID int64) (*model.Order, error) {
	args := m.Called(ctx, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

// FindOrdersByContact mocks the FindOrdersByContact method
func (m *OrderRepoMock) FindOrdersByContact(ctx context.Context, contactID int64) ([]model.Order, error) {
	args := m.Called(ctx, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Order), args.Error(1)
}

// SetOrderCorrelationID mocks the SetOrderCorrelationID method
func (m *OrderRepoMock) SetOrderCorrelationID(ctx context.Context, orderID, correlationID int64) error {
	args := m.Called(ctx, orderID, correlationID)
	return args.Error(0)
}

// UpdateOrderStatus mocks the UpdateOrderStatus method
func (m *OrderRepoMock) UpdateOrderStatus(ctx context.Context, orderID int64, status string, partnerStatusID int) error {
	args := m.Called(ctx, orderID, status, partnerStatusID)
	return args.Error(0)
}

// Close mocks the Close method
func (m *OrderRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- MessageRepo Mock ---

// MessageRepoMock mocks the MessageRepo interface
type MessageRepoMock struct {
	mock.Mock
}

// InsertMessage mocks the InsertMessage method
func (m *MessageRepoMock) InsertMessage(ctx context.Context, message *model.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

// UpdateMessage mocks the UpdateMessage method
func (m *MessageRepoMock) UpdateMessage(ctx context.Context, message *model.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

// AppendReaction mocks the AppendReaction method
func (m *MessageRepoMock) AppendReaction(ctx context.Context, messageID int64, author, emoji string) error {
	args := m.Called(ctx, messageID, author, emoji)
	return args.Error(0)
}

// FindMessageByPartnerID mocks the FindMessageByPartnerID method
func (m *MessageRepoMock) FindMessageByPartnerID(ctx context.Context, partnerMessageID string) (*model.Message, error) {
	args := m.Called(ctx, partnerMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

// FindMessageByChannelID mocks the FindMessageByChannelID method
func (m *MessageRepoMock) FindMessageByChannelID(ctx context.Context, channelMessageID int64) (*model.Message, error) {
	args := m.Called(ctx, channelMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

// LinkMessageToOrder mocks the LinkMessageToOrder method
func (m *MessageRepoMock) LinkMessageToOrder(ctx context.Context, orderID, messageID int64) error {
	args := m.Called(ctx, orderID, messageID)
	return args.Error(0)
}

// FindMessagePage mocks the FindMessagePage method
func (m *MessageRepoMock) FindMessagePage(ctx context.Context, correlationIDs []int64, limit int, before *time.Time) ([]model.Message, error) {
	args := m.Called(ctx, correlationIDs, limit, before)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

// LatestMessagePerCorrelationID mocks the LatestMessagePerCorrelationID method
func (m *MessageRepoMock) LatestMessagePerCorrelationID(ctx context.Context, correlationIDs []int64) (map[int64]*model.Message, error) {
	args := m.Called(ctx, correlationIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]*model.Message), args.Error(1)
}

// UnreadCountPerCorrelationID mocks the UnreadCountPerCorrelationID method
func (m *MessageRepoMock) UnreadCountPerCorrelationID(ctx context.Context, correlationIDs []int64) (map[int64]int64, error) {
	args := m.Called(ctx, correlationIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]int64), args.Error(1)
}

// Close mocks the Close method
func (m *MessageRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- InternalMessageRepo Mock ---

// InternalMessageRepoMock mocks the InternalMessageRepo interface
type InternalMessageRepoMock struct {
	mock.Mock
}

// InsertInternalMessage mocks the InsertInternalMessage method
func (m *InternalMessageRepoMock) InsertInternalMessage(ctx context.Context, message *model.InternalMessage) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

// FindInternalMessagePage mocks the FindInternalMessagePage method
func (m *InternalMessageRepoMock) FindInternalMessagePage(ctx context.Context, orderIDs, correlationIDs []int64, limit int, before *time.Time) ([]model.InternalMessage, error) {
	args := m.Called(ctx, orderIDs, correlationIDs, limit, before)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.InternalMessage), args.Error(1)
}

// MarkInternalMessagesRead mocks the MarkInternalMessagesRead method
func (m *InternalMessageRepoMock) MarkInternalMessagesRead(ctx context.Context, orderID, senderID int64) error {
	args := m.Called(ctx, orderID, senderID)
	return args.Error(0)
}

// Close mocks the Close method
func (m *InternalMessageRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- AutomationRepo Mock ---

// AutomationRepoMock mocks the AutomationRepo interface
type AutomationRepoMock struct {
	mock.Mock
}

// FindActiveAutomationsByTrigger mocks the FindActiveAutomationsByTrigger method
func (m *AutomationRepoMock) FindActiveAutomationsByTrigger(ctx context.Context, triggerType string) ([]model.Automation, error) {
	args := m.Called(ctx, triggerType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Automation), args.Error(1)
}

// Close mocks the Close method
func (m *AutomationRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- ExhaustedEventRepo Mock ---

// ExhaustedEventRepoMock mocks the ExhaustedEventRepo interface
type ExhaustedEventRepoMock struct {
	mock.Mock
}

// SaveExhaustedEvent mocks the SaveExhaustedEvent method
func (m *ExhaustedEventRepoMock) SaveExhaustedEvent(ctx context.Context, event model.ExhaustedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// Close mocks the Close method
func (m *ExhaustedEventRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
