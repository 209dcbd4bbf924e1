package model

// Source channels an inbound event can originate from.
const (
	SourceChannel = "channel"
	SourcePartner = "partner"
)

// InboundEvent is the loosely-typed event shape handed to the ingestion
// pipeline after the boundary layer has repaired the raw payload. Identifier
// fields are all optional; the identity resolver works with whatever subset
// is present.
type InboundEvent struct {
	Source            string   `json:"source" validate:"required,oneof=channel partner"`
	ChannelUserID     string   `json:"channel_user_id,omitempty"`
	PartnerUserRef    string   `json:"partner_user_ref,omitempty"`
	Phone             string   `json:"phone,omitempty"`
	Email             string   `json:"email,omitempty"`
	NameHints         []string `json:"name_hints,omitempty"`
	AuthorRole        string   `json:"author_role,omitempty"`
	Kind              string   `json:"kind,omitempty"`
	Content           string   `json:"content,omitempty"`
	FileURL           string   `json:"file_url,omitempty"`
	ChannelMessageID  int64    `json:"channel_message_id,omitempty"`
	PartnerMessageID  string   `json:"partner_message_id,omitempty"`
	ReplyToExternalID string   `json:"reply_to_external_id,omitempty"`
	CorrelationID     int64    `json:"correlation_id,omitempty"`
	ReactionEmoji     string   `json:"reaction_emoji,omitempty"`
	ReactionAuthor    string   `json:"reaction_author,omitempty"`
	Timestamp         int64    `json:"timestamp,omitempty"` // unix seconds; zero means "now"
}

// StatusChangeEvent is an inbound partner notification that an order moved
// to a new partner status.
type StatusChangeEvent struct {
	CorrelationID   int64 `json:"correlation_id" validate:"required"`
	PartnerStatusID int   `json:"partner_status_id" validate:"required"`
	Timestamp       int64 `json:"timestamp,omitempty"`
}

// OutboundCommand asks the delivery engine to send a manager message to the
// contact's chat channel. Either OrderID or CorrelationID identifies the
// conversation.
type OutboundCommand struct {
	OrderID           int64  `json:"order_id,omitempty"`
	CorrelationID     int64  `json:"correlation_id,omitempty"`
	Content           string `json:"content,omitempty"`
	Kind              string `json:"kind,omitempty"`
	FileURL           string `json:"file_url,omitempty"`
	ReplyToExternalID string `json:"reply_to_external_id,omitempty"`
}

// ConversationSummary is the projection returned by the read-optimized
// aggregate procedures: the newest message plus the unread client-message
// count for one correlation id.
type ConversationSummary struct {
	CorrelationID int64    `json:"correlation_id"`
	LastMessage   *Message `json:"last_message,omitempty"`
	UnreadCount   int64    `json:"unread_count"`
}
