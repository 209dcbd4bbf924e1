package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/automation"
	"gitlab.com/arveo/api/crm-conversation-service/internal/cache"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/resolver"
	storagemock "gitlab.com/arveo/api/crm-conversation-service/internal/storage/mock"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
)

type triggerRecorder struct {
	mu       sync.Mutex
	triggers []string
	kinds    []string
	entities []map[string]interface{}
}

func (r *triggerRecorder) Dispatch(_ context.Context, trigger, entityKind string, entity map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, trigger)
	r.kinds = append(r.kinds, entityKind)
	r.entities = append(r.entities, entity)
}

var _ automation.Dispatcher = (*triggerRecorder)(nil)

type pipelineFixture struct {
	pipeline   *Pipeline
	messages   *storagemock.MessageRepoMock
	contacts   *storagemock.ContactRepoMock
	orders     *storagemock.OrderRepoMock
	dispatcher *triggerRecorder
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	logger.Log = zaptest.NewLogger(t).Named("test")
	messages := new(storagemock.MessageRepoMock)
	contacts := new(storagemock.ContactRepoMock)
	orders := new(storagemock.OrderRepoMock)
	dispatcher := &triggerRecorder{}
	identity := resolver.New(contacts, orders, nil, dispatcher)

	return &pipelineFixture{
		pipeline:   NewPipeline(messages, contacts, orders, identity, dispatcher, cache.NewMemoryCache(time.Minute)),
		messages:   messages,
		contacts:   contacts,
		orders:     orders,
		dispatcher: dispatcher,
	}
}

func (f *pipelineFixture) knownOrder() *model.Order {
	order := &model.Order{ID: 22, ContactID: 15, CorrelationID: 1700000000000123, Status: model.StatusUnsorted}
	f.orders.On("FindOrderByCorrelationID", mock.Anything, order.CorrelationID).Return(order, nil)
	return order
}

func TestPipeline_Ingest_InsertPath(t *testing.T) {
	f := newPipelineFixture(t)
	order := f.knownOrder()

	f.messages.On("FindMessageByPartnerID", mock.Anything, "wamid.abc").Return(nil, nil)
	f.messages.On("FindMessageByChannelID", mock.Anything, int64(0)).Return(nil, nil)
	f.messages.On("InsertMessage", mock.Anything, mock.AnythingOfType("*model.Message")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*model.Message).ID = 100
		}).Return(nil)
	f.messages.On("LinkMessageToOrder", mock.Anything, order.ID, int64(100)).Return(nil)
	f.contacts.On("TouchContactLastActivity", mock.Anything, order.ContactID, mock.AnythingOfType("time.Time")).Return(nil)

	result, err := f.pipeline.Ingest(context.Background(), model.InboundEvent{
		Source:           model.SourceChannel,
		CorrelationID:    order.CorrelationID,
		PartnerMessageID: "wamid.abc",
		AuthorRole:       "client",
		Content:          "hello",
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, int64(100), result.ID)
	assert.Equal(t, order.CorrelationID, result.CorrelationID)
	assert.Equal(t, model.AuthorClient, result.AuthorKind)
	assert.Equal(t, []string{model.TriggerMessageReceived}, f.dispatcher.triggers)
	assert.Equal(t, []string{model.EntityKindMessage}, f.dispatcher.kinds)
	f.messages.AssertExpectations(t)
	f.contacts.AssertExpectations(t)
}

func TestPipeline_Ingest_FullColdStart(t *testing.T) {
	// A first-contact event: channel user "555" with no stored contact or
	// order ends up with a placeholder contact, an unsorted order, and one
	// text message, firing order_created then message_received.
	f := newPipelineFixture(t)

	f.contacts.On("FindContactByChannelUserID", mock.Anything, "555").Return(nil, nil)
	f.contacts.On("SaveContact", mock.Anything, mock.AnythingOfType("*model.Contact")).
		Run(func(args mock.Arguments) {
			contact := args.Get(1).(*model.Contact)
			assert.Equal(t, "User 555", contact.Name)
			contact.ID = 15
		}).Return(nil)
	f.contacts.On("TouchContactLastActivity", mock.Anything, int64(15), mock.AnythingOfType("time.Time")).Return(nil)

	f.orders.On("FindLatestNonTerminalOrder", mock.Anything, int64(15)).Return(nil, nil)
	f.orders.On("CreateOrder", mock.Anything, mock.AnythingOfType("*model.Order")).
		Run(func(args mock.Arguments) {
			order := args.Get(1).(*model.Order)
			assert.Equal(t, model.StatusUnsorted, order.Status)
			assert.NotZero(t, order.CorrelationID)
			order.ID = 22
		}).Return(nil)

	f.messages.On("FindMessageByPartnerID", mock.Anything, "").Return(nil, nil)
	f.messages.On("FindMessageByChannelID", mock.Anything, int64(9001)).Return(nil, nil)
	f.messages.On("InsertMessage", mock.Anything, mock.AnythingOfType("*model.Message")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*model.Message).ID = 100
		}).Return(nil)
	f.messages.On("LinkMessageToOrder", mock.Anything, int64(22), int64(100)).Return(nil)

	result, err := f.pipeline.Ingest(context.Background(), model.InboundEvent{
		Source:           model.SourceChannel,
		ChannelUserID:    "555",
		ChannelMessageID: 9001,
		AuthorRole:       "client",
		Content:          "hello",
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, model.KindText, result.Kind)
	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, []string{model.TriggerOrderCreated, model.TriggerMessageReceived}, f.dispatcher.triggers)
	f.contacts.AssertExpectations(t)
	f.orders.AssertExpectations(t)
	f.messages.AssertExpectations(t)
}

func TestPipeline_Ingest_UpdatePreservesContent(t *testing.T) {
	// A redelivery with empty content must not erase stored content, and
	// must not re-fire message_received.
	f := newPipelineFixture(t)
	order := f.knownOrder()

	existing := &model.Message{
		ID:               100,
		CorrelationID:    order.CorrelationID,
		Content:          "original text",
		Kind:             model.KindText,
		AuthorKind:       model.AuthorClient,
		PartnerMessageID: "wamid.abc",
		DeliveryStatus:   model.DeliveryDelivered,
	}
	f.messages.On("FindMessageByPartnerID", mock.Anything, "wamid.abc").Return(existing, nil)
	f.messages.On("UpdateMessage", mock.Anything, mock.AnythingOfType("*model.Message")).
		Run(func(args mock.Arguments) {
			patch := args.Get(1).(*model.Message)
			assert.Equal(t, "original text", patch.Content)
			assert.Equal(t, model.KindFile, patch.Kind)
			assert.Equal(t, "https://cdn.example.com/archive.rar", patch.FileURL)
		}).Return(nil)
	f.contacts.On("TouchContactLastActivity", mock.Anything, order.ContactID, mock.AnythingOfType("time.Time")).Return(nil)

	result, err := f.pipeline.Ingest(context.Background(), model.InboundEvent{
		Source:           model.SourceChannel,
		CorrelationID:    order.CorrelationID,
		PartnerMessageID: "wamid.abc",
		Content:          "",
		FileURL:          "https://cdn.example.com/archive.rar",
	})

	require.NoError(t, err)
	assert.Equal(t, "original text", result.Content)
	assert.Empty(t, f.dispatcher.triggers)
	f.messages.AssertExpectations(t)
}

func TestPipeline_Ingest_ReactionPath(t *testing.T) {
	f := newPipelineFixture(t)
	order := f.knownOrder()

	existing := &model.Message{ID: 100, CorrelationID: order.CorrelationID, PartnerMessageID: "wamid.abc"}
	f.messages.On("FindMessageByPartnerID", mock.Anything, "wamid.abc").Return(existing, nil)
	f.messages.On("AppendReaction", mock.Anything, int64(100), "alice", "🔥").Return(nil)

	result, err := f.pipeline.Ingest(context.Background(), model.InboundEvent{
		Source:           model.SourceChannel,
		CorrelationID:    order.CorrelationID,
		PartnerMessageID: "wamid.abc",
		ReactionEmoji:    "🔥",
		ReactionAuthor:   "alice",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(100), result.ID)
	assert.Empty(t, f.dispatcher.triggers)
	// Reactions do not count as contact activity.
	f.contacts.AssertNotCalled(t, "TouchContactLastActivity", mock.Anything, mock.Anything, mock.Anything)
	f.messages.AssertExpectations(t)
}

func TestPipeline_Ingest_OrphanReactionDropped(t *testing.T) {
	f := newPipelineFixture(t)
	order := f.knownOrder()

	f.messages.On("FindMessageByPartnerID", mock.Anything, "wamid.gone").Return(nil, nil)
	f.messages.On("FindMessageByChannelID", mock.Anything, int64(0)).Return(nil, nil)

	result, err := f.pipeline.Ingest(context.Background(), model.InboundEvent{
		Source:           model.SourceChannel,
		CorrelationID:    order.CorrelationID,
		PartnerMessageID: "wamid.gone",
		ReactionEmoji:    "👍",
	})

	require.NoError(t, err)
	assert.Nil(t, result)
	f.messages.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
}

func TestPipeline_Ingest_DedupFallsBackToChannelID(t *testing.T) {
	f := newPipelineFixture(t)
	order := f.knownOrder()

	existing := &model.Message{ID: 100, CorrelationID: order.CorrelationID, Content: "hi", Kind: model.KindText, ChannelMessageID: 9001}
	f.messages.On("FindMessageByPartnerID", mock.Anything, "").Return(nil, nil)
	f.messages.On("FindMessageByChannelID", mock.Anything, int64(9001)).Return(existing, nil)
	f.messages.On("UpdateMessage", mock.Anything, mock.AnythingOfType("*model.Message")).Return(nil)
	f.contacts.On("TouchContactLastActivity", mock.Anything, order.ContactID, mock.AnythingOfType("time.Time")).Return(nil)

	result, err := f.pipeline.Ingest(context.Background(), model.InboundEvent{
		Source:           model.SourceChannel,
		CorrelationID:    order.CorrelationID,
		ChannelMessageID: 9001,
		Content:          "hi again",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(100), result.ID)
	assert.Equal(t, "hi again", result.Content)
	f.messages.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
}

func TestPipeline_Ingest_EmptyEventRejected(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.pipeline.Ingest(context.Background(), model.InboundEvent{
		Source:  model.SourceChannel,
		Content: "   ",
	})

	assert.ErrorIs(t, err, apperrors.ErrValidation)
	f.orders.AssertNotCalled(t, "FindOrderByCorrelationID", mock.Anything, mock.Anything)
}

func TestPipeline_Ingest_InsertFailurePropagates(t *testing.T) {
	f := newPipelineFixture(t)
	order := f.knownOrder()

	f.messages.On("FindMessageByPartnerID", mock.Anything, "wamid.abc").Return(nil, nil)
	f.messages.On("FindMessageByChannelID", mock.Anything, int64(0)).Return(nil, nil)
	f.messages.On("InsertMessage", mock.Anything, mock.AnythingOfType("*model.Message")).
		Return(errors.New("connection reset"))

	_, err := f.pipeline.Ingest(context.Background(), model.InboundEvent{
		Source:           model.SourceChannel,
		CorrelationID:    order.CorrelationID,
		PartnerMessageID: "wamid.abc",
		Content:          "hello",
	})

	require.Error(t, err)
	assert.Empty(t, f.dispatcher.triggers)
	f.contacts.AssertNotCalled(t, "TouchContactLastActivity", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_Ingest_TouchFailureIsNonFatal(t *testing.T) {
	f := newPipelineFixture(t)
	order := f.knownOrder()

	f.messages.On("FindMessageByPartnerID", mock.Anything, "wamid.abc").Return(nil, nil)
	f.messages.On("FindMessageByChannelID", mock.Anything, int64(0)).Return(nil, nil)
	f.messages.On("InsertMessage", mock.Anything, mock.AnythingOfType("*model.Message")).Return(nil)
	f.messages.On("LinkMessageToOrder", mock.Anything, order.ID, mock.AnythingOfType("int64")).Return(nil)
	f.contacts.On("TouchContactLastActivity", mock.Anything, order.ContactID, mock.AnythingOfType("time.Time")).
		Return(errors.New("deadlock detected"))

	_, err := f.pipeline.Ingest(context.Background(), model.InboundEvent{
		Source:           model.SourceChannel,
		CorrelationID:    order.CorrelationID,
		PartnerMessageID: "wamid.abc",
		Content:          "hello",
	})

	require.NoError(t, err)
}
