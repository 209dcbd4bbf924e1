package model

import (
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// NewContactFixture creates a Contact with default fake data for tests.
func NewContactFixture(overrideDefaults ...*Contact) *Contact {
	base := &Contact{
		ID:             int64(gofakeit.Number(1, 1_000_000)),
		Name:           gofakeit.Name(),
		Phone:          gofakeit.Phone(),
		Email:          gofakeit.Email(),
		ChannelUserID:  strconv.Itoa(gofakeit.Number(100_000, 999_999_999)),
		LastActivityAt: utils.Now().Add(-time.Duration(gofakeit.Number(1, 72)) * time.Hour),
		CreatedAt:      utils.Now().Add(-time.Duration(gofakeit.Number(73, 400)) * time.Hour),
		UpdatedAt:      utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.Email != "" {
			base.Email = ovr.Email
		}
		if ovr.ChannelUserID != "" {
			base.ChannelUserID = ovr.ChannelUserID
		}
		if ovr.PartnerUserID != "" {
			base.PartnerUserID = ovr.PartnerUserID
		}
		if !ovr.LastActivityAt.IsZero() {
			base.LastActivityAt = ovr.LastActivityAt
		}
	}
	return base
}

// NewOrderFixture creates an Order with default fake data for tests.
func NewOrderFixture(overrideDefaults ...*Order) *Order {
	base := &Order{
		ID:            int64(gofakeit.Number(1, 1_000_000)),
		CorrelationID: utils.NewCorrelationID(),
		ContactID:     int64(gofakeit.Number(1, 1_000_000)),
		Status:        StatusUnsorted,
		CreatedAt:     utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:     utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.CorrelationID != 0 {
			base.CorrelationID = ovr.CorrelationID
		}
		if ovr.PartnerOrderID != "" {
			base.PartnerOrderID = ovr.PartnerOrderID
		}
		if ovr.ContactID != 0 {
			base.ContactID = ovr.ContactID
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.PartnerStatusID != 0 {
			base.PartnerStatusID = ovr.PartnerStatusID
		}
	}
	return base
}

// NewMessageFixture creates a Message with default fake data for tests.
func NewMessageFixture(overrideDefaults ...*Message) *Message {
	base := &Message{
		ID:               int64(gofakeit.Number(1, 1_000_000)),
		CorrelationID:    utils.NewCorrelationID(),
		Content:          gofakeit.Sentence(6),
		AuthorKind:       AuthorClient,
		Kind:             KindText,
		ChannelMessageID: int64(gofakeit.Number(1, 1_000_000)),
		PartnerMessageID: gofakeit.UUID(),
		DeliveryStatus:   DeliveryDelivered,
		CreatedAt:        utils.Now().Add(-time.Duration(gofakeit.Number(1, 600)) * time.Minute),
		UpdatedAt:        utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.CorrelationID != 0 {
			base.CorrelationID = ovr.CorrelationID
		}
		if ovr.Content != "" {
			base.Content = ovr.Content
		}
		if ovr.AuthorKind != "" {
			base.AuthorKind = ovr.AuthorKind
		}
		if ovr.Kind != "" {
			base.Kind = ovr.Kind
		}
		if ovr.ChannelMessageID != 0 {
			base.ChannelMessageID = ovr.ChannelMessageID
		}
		if ovr.PartnerMessageID != "" {
			base.PartnerMessageID = ovr.PartnerMessageID
		}
		if ovr.DeliveryStatus != "" {
			base.DeliveryStatus = ovr.DeliveryStatus
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
	}
	return base
}

// NewInternalMessageFixture creates an InternalMessage with default fake data for tests.
func NewInternalMessageFixture(overrideDefaults ...*InternalMessage) *InternalMessage {
	base := &InternalMessage{
		ID:            int64(gofakeit.Number(1, 1_000_000)),
		OrderID:       int64(gofakeit.Number(1, 1_000_000)),
		CorrelationID: utils.NewCorrelationID(),
		SenderID:      int64(gofakeit.Number(1, 500)),
		Content:       gofakeit.Sentence(8),
		CreatedAt:     utils.Now().Add(-time.Duration(gofakeit.Number(1, 600)) * time.Minute),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.OrderID != 0 {
			base.OrderID = ovr.OrderID
		}
		if ovr.CorrelationID != 0 {
			base.CorrelationID = ovr.CorrelationID
		}
		if ovr.SenderID != 0 {
			base.SenderID = ovr.SenderID
		}
		if ovr.Content != "" {
			base.Content = ovr.Content
		}
		if ovr.AttachmentKind != "" {
			base.AttachmentKind = ovr.AttachmentKind
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
	}
	return base
}
