package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/automation"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/partner"
	"gitlab.com/arveo/api/crm-conversation-service/internal/storage"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

const minPhoneLookupLength = 6

// UserLookup resolves an opaque partner user reference to a channel user id.
// Satisfied by *partner.Client.
type UserLookup interface {
	LookupChannelUserID(ctx context.Context, partnerUserRef string) (string, error)
}

// ContactQuery is the partial identifier bundle an inbound event carries.
type ContactQuery struct {
	ChannelUserID  string
	PartnerUserRef string
	Phone          string
	Email          string
	NameHints      []string
}

// Resolver finds or creates the Contact and Order an inbound event belongs
// to. Resolution is idempotent for any bundle carrying a channel user id;
// unresolved creation races may duplicate contacts, which the store-layer
// unique index on channel_user_id narrows to the single guarded path.
type Resolver struct {
	contacts   storage.ContactRepo
	orders     storage.OrderRepo
	users      UserLookup
	dispatcher automation.Dispatcher
}

// New wires the resolver's collaborators.
func New(contacts storage.ContactRepo, orders storage.OrderRepo, users UserLookup, dispatcher automation.Dispatcher) *Resolver {
	return &Resolver{
		contacts:   contacts,
		orders:     orders,
		users:      users,
		dispatcher: dispatcher,
	}
}

// ResolveContact walks the fallback chain: channel user id, partner
// user-lookup for opaque refs, phone, email, then creation.
func (r *Resolver) ResolveContact(ctx context.Context, query ContactQuery) (*model.Contact, error) {
	log := logger.FromContext(ctx)

	channelUserID := query.ChannelUserID
	if channelUserID != "" {
		contact, err := r.contacts.FindContactByChannelUserID(ctx, channelUserID)
		if err != nil {
			return nil, err
		}
		if contact != nil {
			return r.refreshName(ctx, contact, query.NameHints), nil
		}
	}

	// An opaque partner ref may resolve to a channel id the contact is
	// already known by.
	if channelUserID == "" && partner.LooksOpaqueRef(query.PartnerUserRef) {
		resolved, err := r.users.LookupChannelUserID(ctx, query.PartnerUserRef)
		if err != nil {
			// Lookup failures degrade to the remaining fallbacks.
			log.Warn("Partner user lookup failed, continuing fallback chain",
				zap.String("partner_user_ref", query.PartnerUserRef), zap.Error(err))
		} else if resolved != "" {
			channelUserID = resolved
			contact, findErr := r.contacts.FindContactByChannelUserID(ctx, channelUserID)
			if findErr != nil {
				return nil, findErr
			}
			if contact != nil {
				return r.refreshName(ctx, contact, query.NameHints), nil
			}
		}
	}

	if len(query.Phone) >= minPhoneLookupLength {
		contact, err := r.contacts.FindContactByPhone(ctx, query.Phone)
		if err != nil {
			return nil, err
		}
		if contact != nil {
			return r.refreshName(ctx, contact, query.NameHints), nil
		}
	}

	if query.Email != "" {
		contact, err := r.contacts.FindContactByEmail(ctx, query.Email)
		if err != nil {
			return nil, err
		}
		if contact != nil {
			return r.refreshName(ctx, contact, query.NameHints), nil
		}
	}

	return r.createContact(ctx, query, channelUserID)
}

func (r *Resolver) createContact(ctx context.Context, query ContactQuery, channelUserID string) (*model.Contact, error) {
	name := firstUsableHint(query.NameHints)
	if name == "" {
		name = model.PlaceholderName(placeholderID(query, channelUserID))
	}

	contact := &model.Contact{
		Name:           name,
		Phone:          query.Phone,
		Email:          query.Email,
		ChannelUserID:  channelUserID,
		PartnerUserID:  query.PartnerUserRef,
		LastActivityAt: utils.Now(),
	}
	if err := r.contacts.SaveContact(ctx, contact); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) && channelUserID != "" {
			// Lost a first-contact race on the channel id; converge on the
			// winner's row.
			existing, findErr := r.contacts.FindContactByChannelUserID(ctx, channelUserID)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	logger.FromContext(ctx).Info("Created contact",
		zap.Int64("contact_id", contact.ID),
		zap.String("channel_user_id", channelUserID),
		zap.String("name", contact.Name))
	return contact, nil
}

// refreshName upgrades a placeholder display name once a real one arrives.
// Real names are never downgraded.
func (r *Resolver) refreshName(ctx context.Context, contact *model.Contact, hints []string) *model.Contact {
	if !contact.HasPlaceholderName() {
		return contact
	}
	hint := firstUsableHint(hints)
	if hint == "" {
		return contact
	}
	if err := r.contacts.UpdateContactName(ctx, contact.ID, hint); err != nil {
		logger.FromContext(ctx).Warn("Failed to upgrade contact name",
			zap.Int64("contact_id", contact.ID), zap.Error(err))
		return contact
	}
	contact.Name = hint
	return contact
}

func firstUsableHint(hints []string) string {
	for _, hint := range hints {
		if !model.IsPlaceholderName(hint) {
			return hint
		}
	}
	return ""
}

func placeholderID(query ContactQuery, channelUserID string) string {
	switch {
	case channelUserID != "":
		return channelUserID
	case query.PartnerUserRef != "":
		return query.PartnerUserRef
	case query.Phone != "":
		return query.Phone
	case query.Email != "":
		return query.Email
	default:
		return "unknown"
	}
}

// ResolveOrCreateOrder returns the contact's newest non-terminal order,
// self-healing a missing correlation id, or creates a fresh one. Creation
// fires order_created only after the row committed.
func (r *Resolver) ResolveOrCreateOrder(ctx context.Context, contact *model.Contact) (*model.Order, error) {
	order, err := r.orders.FindLatestNonTerminalOrder(ctx, contact.ID)
	if err != nil {
		return nil, err
	}

	if order != nil {
		if order.CorrelationID == 0 {
			if healErr := r.healCorrelationID(ctx, order); healErr != nil {
				return nil, healErr
			}
		}
		return order, nil
	}

	order = &model.Order{
		CorrelationID: utils.NewCorrelationID(),
		ContactID:     contact.ID,
		Status:        model.StatusUnsorted,
	}
	if err := r.orders.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("Created order",
		zap.Int64("order_id", order.ID),
		zap.Int64("correlation_id", order.CorrelationID),
		zap.Int64("contact_id", contact.ID))

	r.dispatcher.Dispatch(ctx, model.TriggerOrderCreated, model.EntityKindOrder, automation.OrderEntity(order))
	return order, nil
}

func (r *Resolver) healCorrelationID(ctx context.Context, order *model.Order) error {
	correlationID := utils.NewCorrelationID()
	err := r.orders.SetOrderCorrelationID(ctx, order.ID, correlationID)
	if err == nil {
		order.CorrelationID = correlationID
		return nil
	}
	if !errors.Is(err, apperrors.ErrConflict) {
		return err
	}

	// A concurrent heal won; read back the id it persisted.
	current, findErr := r.orders.FindOrderByID(ctx, order.ID)
	if findErr != nil {
		return findErr
	}
	if current == nil {
		return fmt.Errorf("%w: order %d vanished during correlation id heal", apperrors.ErrNotFound, order.ID)
	}
	order.CorrelationID = current.CorrelationID
	return nil
}
