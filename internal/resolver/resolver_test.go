package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/automation"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	storagemock "gitlab.com/arveo/api/crm-conversation-service/internal/storage/mock"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
)

// userLookupMock mocks the partner user-lookup API
type userLookupMock struct {
	mock.Mock
}

func (m *userLookupMock) LookupChannelUserID(ctx context.Context, ref string) (string, error) {
	args := m.Called(ctx, ref)
	return args.String(0), args.Error(1)
}

// dispatcherRecorder records fired triggers in order
type dispatcherRecorder struct {
	triggers []string
	kinds    []string
	entities []map[string]interface{}
}

func (d *dispatcherRecorder) Dispatch(_ context.Context, trigger, entityKind string, entity map[string]interface{}) {
	d.triggers = append(d.triggers, trigger)
	d.kinds = append(d.kinds, entityKind)
	d.entities = append(d.entities, entity)
}

func newTestResolver(t *testing.T) (*Resolver, *storagemock.ContactRepoMock, *storagemock.OrderRepoMock, *userLookupMock, *dispatcherRecorder) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	contacts := new(storagemock.ContactRepoMock)
	orders := new(storagemock.OrderRepoMock)
	users := new(userLookupMock)
	dispatcher := &dispatcherRecorder{}
	return New(contacts, orders, users, dispatcher), contacts, orders, users, dispatcher
}

// --- ResolveContact ---

func TestResolveContact_ByChannelUserID(t *testing.T) {
	r, contacts, _, _, _ := newTestResolver(t)
	ctx := context.Background()

	existing := &model.Contact{ID: 15, Name: "Jane Doe", ChannelUserID: "555"}
	contacts.On("FindContactByChannelUserID", mock.Anything, "555").Return(existing, nil)

	found, err := r.ResolveContact(ctx, ContactQuery{ChannelUserID: "555"})

	assert.NoError(t, err)
	assert.Equal(t, int64(15), found.ID)
	contacts.AssertExpectations(t)
}

func TestResolveContact_Idempotent(t *testing.T) {
	r, contacts, _, _, _ := newTestResolver(t)
	ctx := context.Background()

	existing := &model.Contact{ID: 15, Name: "Jane Doe", ChannelUserID: "555"}
	contacts.On("FindContactByChannelUserID", mock.Anything, "555").Return(existing, nil).Twice()

	first, err := r.ResolveContact(ctx, ContactQuery{ChannelUserID: "555"})
	assert.NoError(t, err)
	second, err := r.ResolveContact(ctx, ContactQuery{ChannelUserID: "555"})
	assert.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	contacts.AssertExpectations(t)
}

func TestResolveContact_OpaqueRefViaPartnerLookup(t *testing.T) {
	r, contacts, _, users, _ := newTestResolver(t)
	ctx := context.Background()

	existing := &model.Contact{ID: 20, Name: "Opaque Person", ChannelUserID: "777888999"}
	users.On("LookupChannelUserID", mock.Anything, "abc123def456ghi789").Return("777888999", nil)
	contacts.On("FindContactByChannelUserID", mock.Anything, "777888999").Return(existing, nil)

	found, err := r.ResolveContact(ctx, ContactQuery{PartnerUserRef: "abc123def456ghi789"})

	assert.NoError(t, err)
	assert.Equal(t, int64(20), found.ID)
	users.AssertExpectations(t)
	contacts.AssertExpectations(t)
}

func TestResolveContact_ShortDecimalRefSkipsLookup(t *testing.T) {
	r, contacts, _, users, _ := newTestResolver(t)
	ctx := context.Background()

	// "555" is a channel id shape, not an opaque partner ref: no lookup call.
	contacts.On("SaveContact", mock.Anything, mock.AnythingOfType("*model.Contact")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*model.Contact).ID = 30
		}).Return(nil)

	found, err := r.ResolveContact(ctx, ContactQuery{PartnerUserRef: "555"})

	assert.NoError(t, err)
	assert.Equal(t, int64(30), found.ID)
	users.AssertNotCalled(t, "LookupChannelUserID", mock.Anything, mock.Anything)
	contacts.AssertExpectations(t)
}

func TestResolveContact_PhoneFallback(t *testing.T) {
	r, contacts, _, _, _ := newTestResolver(t)
	ctx := context.Background()

	existing := &model.Contact{ID: 7, Name: "Phone Person", Phone: "628999000111"}
	contacts.On("FindContactByPhone", mock.Anything, "628999000111").Return(existing, nil)

	found, err := r.ResolveContact(ctx, ContactQuery{Phone: "628999000111"})

	assert.NoError(t, err)
	assert.Equal(t, int64(7), found.ID)
	contacts.AssertExpectations(t)
}

func TestResolveContact_ShortPhoneSkipsLookup(t *testing.T) {
	r, contacts, _, _, _ := newTestResolver(t)
	ctx := context.Background()

	contacts.On("SaveContact", mock.Anything, mock.AnythingOfType("*model.Contact")).Return(nil)

	_, err := r.ResolveContact(ctx, ContactQuery{Phone: "12345"})

	assert.NoError(t, err)
	contacts.AssertNotCalled(t, "FindContactByPhone", mock.Anything, mock.Anything)
	contacts.AssertExpectations(t)
}

func TestResolveContact_CreatesWithPlaceholderName(t *testing.T) {
	r, contacts, _, _, _ := newTestResolver(t)
	ctx := context.Background()

	contacts.On("FindContactByChannelUserID", mock.Anything, "555").Return(nil, nil)
	contacts.On("SaveContact", mock.Anything, mock.AnythingOfType("*model.Contact")).
		Run(func(args mock.Arguments) {
			created := args.Get(1).(*model.Contact)
			created.ID = 42
			assert.Equal(t, "User 555", created.Name)
			assert.Equal(t, "555", created.ChannelUserID)
		}).Return(nil)

	found, err := r.ResolveContact(ctx, ContactQuery{ChannelUserID: "555"})

	assert.NoError(t, err)
	assert.Equal(t, int64(42), found.ID)
	contacts.AssertExpectations(t)
}

func TestResolveContact_CreatesWithNameHint(t *testing.T) {
	r, contacts, _, _, _ := newTestResolver(t)
	ctx := context.Background()

	contacts.On("FindContactByChannelUserID", mock.Anything, "556").Return(nil, nil)
	contacts.On("SaveContact", mock.Anything, mock.AnythingOfType("*model.Contact")).
		Run(func(args mock.Arguments) {
			assert.Equal(t, "Jane Doe", args.Get(1).(*model.Contact).Name)
		}).Return(nil)

	_, err := r.ResolveContact(ctx, ContactQuery{ChannelUserID: "556", NameHints: []string{"", "Jane Doe"}})

	assert.NoError(t, err)
	contacts.AssertExpectations(t)
}

func TestResolveContact_UpgradesPlaceholderName(t *testing.T) {
	r, contacts, _, _, _ := newTestResolver(t)
	ctx := context.Background()

	existing := &model.Contact{ID: 15, Name: "User 555", ChannelUserID: "555"}
	contacts.On("FindContactByChannelUserID", mock.Anything, "555").Return(existing, nil)
	contacts.On("UpdateContactName", mock.Anything, int64(15), "Jane Doe").Return(nil)

	found, err := r.ResolveContact(ctx, ContactQuery{ChannelUserID: "555", NameHints: []string{"Jane Doe"}})

	assert.NoError(t, err)
	assert.Equal(t, "Jane Doe", found.Name)
	contacts.AssertExpectations(t)
}

func TestResolveContact_NeverDowngradesRealName(t *testing.T) {
	r, contacts, _, _, _ := newTestResolver(t)
	ctx := context.Background()

	existing := &model.Contact{ID: 15, Name: "Jane Doe", ChannelUserID: "555"}
	contacts.On("FindContactByChannelUserID", mock.Anything, "555").Return(existing, nil)

	found, err := r.ResolveContact(ctx, ContactQuery{ChannelUserID: "555", NameHints: []string{"Different Name"}})

	assert.NoError(t, err)
	assert.Equal(t, "Jane Doe", found.Name)
	contacts.AssertNotCalled(t, "UpdateContactName", mock.Anything, mock.Anything, mock.Anything)
	contacts.AssertExpectations(t)
}

func TestResolveContact_DuplicateRaceConverges(t *testing.T) {
	r, contacts, _, _, _ := newTestResolver(t)
	ctx := context.Background()

	winner := &model.Contact{ID: 15, Name: "User 555", ChannelUserID: "555"}
	contacts.On("FindContactByChannelUserID", mock.Anything, "555").Return(nil, nil).Once()
	contacts.On("SaveContact", mock.Anything, mock.AnythingOfType("*model.Contact")).
		Return(apperrors.ErrDuplicate).Once()
	contacts.On("FindContactByChannelUserID", mock.Anything, "555").Return(winner, nil).Once()

	found, err := r.ResolveContact(ctx, ContactQuery{ChannelUserID: "555"})

	assert.NoError(t, err)
	assert.Equal(t, int64(15), found.ID)
	contacts.AssertExpectations(t)
}

// --- ResolveOrCreateOrder ---

func TestResolveOrCreateOrder_ReusesNonTerminal(t *testing.T) {
	r, _, orders, _, dispatcher := newTestResolver(t)
	ctx := context.Background()
	contact := &model.Contact{ID: 15}

	open := &model.Order{ID: 22, CorrelationID: 1700000000000123, ContactID: 15, Status: model.StatusInWork}
	orders.On("FindLatestNonTerminalOrder", mock.Anything, int64(15)).Return(open, nil)

	order, err := r.ResolveOrCreateOrder(ctx, contact)

	assert.NoError(t, err)
	assert.Equal(t, int64(22), order.ID)
	assert.Empty(t, dispatcher.triggers, "reuse must not fire order_created")
	orders.AssertExpectations(t)
}

func TestResolveOrCreateOrder_CreatesUnsorted(t *testing.T) {
	r, _, orders, _, dispatcher := newTestResolver(t)
	ctx := context.Background()
	contact := &model.Contact{ID: 15}

	orders.On("FindLatestNonTerminalOrder", mock.Anything, int64(15)).Return(nil, nil)
	orders.On("CreateOrder", mock.Anything, mock.AnythingOfType("*model.Order")).
		Run(func(args mock.Arguments) {
			created := args.Get(1).(*model.Order)
			created.ID = 30
			assert.Equal(t, model.StatusUnsorted, created.Status)
			assert.NotZero(t, created.CorrelationID)
		}).Return(nil)

	order, err := r.ResolveOrCreateOrder(ctx, contact)

	assert.NoError(t, err)
	assert.Equal(t, int64(30), order.ID)
	assert.Equal(t, []string{model.TriggerOrderCreated}, dispatcher.triggers)
	assert.Equal(t, []string{model.EntityKindOrder}, dispatcher.kinds)
	orders.AssertExpectations(t)
}

func TestResolveOrCreateOrder_CreateFailureFiresNothing(t *testing.T) {
	r, _, orders, _, dispatcher := newTestResolver(t)
	ctx := context.Background()
	contact := &model.Contact{ID: 15}

	orders.On("FindLatestNonTerminalOrder", mock.Anything, int64(15)).Return(nil, nil)
	orders.On("CreateOrder", mock.Anything, mock.AnythingOfType("*model.Order")).
		Return(apperrors.ErrDatabase)

	_, err := r.ResolveOrCreateOrder(ctx, contact)

	assert.Error(t, err)
	assert.Empty(t, dispatcher.triggers, "order_created fires only after durable commit")
	orders.AssertExpectations(t)
}

func TestResolveOrCreateOrder_HealsMissingCorrelationID(t *testing.T) {
	r, _, orders, _, _ := newTestResolver(t)
	ctx := context.Background()
	contact := &model.Contact{ID: 15}

	legacy := &model.Order{ID: 22, CorrelationID: 0, ContactID: 15, Status: model.StatusInWork}
	orders.On("FindLatestNonTerminalOrder", mock.Anything, int64(15)).Return(legacy, nil)
	orders.On("SetOrderCorrelationID", mock.Anything, int64(22), mock.AnythingOfType("int64")).Return(nil)

	order, err := r.ResolveOrCreateOrder(ctx, contact)

	assert.NoError(t, err)
	assert.NotZero(t, order.CorrelationID)
	orders.AssertExpectations(t)
}

func TestResolveOrCreateOrder_HealRaceReadsBackWinner(t *testing.T) {
	r, _, orders, _, _ := newTestResolver(t)
	ctx := context.Background()
	contact := &model.Contact{ID: 15}

	legacy := &model.Order{ID: 22, CorrelationID: 0, ContactID: 15, Status: model.StatusInWork}
	healed := &model.Order{ID: 22, CorrelationID: 1700000000000999, ContactID: 15, Status: model.StatusInWork}
	orders.On("FindLatestNonTerminalOrder", mock.Anything, int64(15)).Return(legacy, nil)
	orders.On("SetOrderCorrelationID", mock.Anything, int64(22), mock.AnythingOfType("int64")).
		Return(apperrors.ErrConflict)
	orders.On("FindOrderByID", mock.Anything, int64(22)).Return(healed, nil)

	order, err := r.ResolveOrCreateOrder(ctx, contact)

	assert.NoError(t, err)
	assert.Equal(t, int64(1700000000000999), order.CorrelationID)
	orders.AssertExpectations(t)
}

var _ automation.Dispatcher = (*dispatcherRecorder)(nil)
