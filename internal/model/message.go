package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Author kinds for client-facing messages.
const (
	AuthorClient  = "client"
	AuthorManager = "manager"
	AuthorSystem  = "system"
)

// Message kinds. KindReaction only ever appears on inbound events; stored
// rows keep their original kind and accumulate reactions in the jsonb column.
const (
	KindText     = "text"
	KindImage    = "image"
	KindFile     = "file"
	KindVoice    = "voice"
	KindVideo    = "video"
	KindSystem   = "system"
	KindReaction = "reaction"
)

// Delivery statuses for client-facing messages.
const (
	DeliveryDelivered = "delivered"
	DeliveryError     = "error"
)

// PartnerMessageIDNull is the sentinel the partner system sends for messages
// it has not assigned an id to. It never participates in dedup.
const PartnerMessageIDNull = "null"

// Message represents a client-facing conversation event. Dedup identity is
// the partner external id when present, else the non-zero channel external
// id; rows carrying neither are always inserted as new.
type Message struct {
	ID                int64          `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CorrelationID     int64          `json:"correlation_id" gorm:"column:correlation_id;index"`
	Content           string         `json:"content,omitempty" gorm:"type:text"`
	AuthorKind        string         `json:"author_kind" gorm:"column:author_kind;type:text;default:client"`
	Kind              string         `json:"kind" gorm:"type:text;default:text"`
	ChannelMessageID  int64          `json:"channel_message_id,omitempty" gorm:"column:channel_message_id;index"`
	PartnerMessageID  string         `json:"partner_message_id,omitempty" gorm:"column:partner_message_id;index;type:text"`
	ReplyToExternalID string         `json:"reply_to_external_id,omitempty" gorm:"column:reply_to_external_id;type:text"`
	FileURL           string         `json:"file_url,omitempty" gorm:"column:file_url;type:text"`
	DeliveryStatus    string         `json:"delivery_status,omitempty" gorm:"column:delivery_status;type:text;default:delivered"`
	IsRead            bool           `json:"is_read,omitempty" gorm:"column:is_read;default:false"`
	Reactions         datatypes.JSON `json:"reactions,omitempty" gorm:"type:jsonb"`
	CreatedAt         time.Time      `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time      `json:"updated_at,omitempty" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for the Message model.
func (Message) TableName() string {
	return "messages"
}

// HasPartnerMessageID reports whether the row carries a usable partner
// external id for dedup.
func (m *Message) HasPartnerMessageID() bool {
	return m.PartnerMessageID != "" && m.PartnerMessageID != PartnerMessageIDNull
}

// HasChannelMessageID reports whether the row carries a usable chat-channel
// external id for dedup.
func (m *Message) HasChannelMessageID() bool {
	return m.ChannelMessageID != 0
}

// DecodeReactions unpacks the reactions column into an author-keyed map.
// A missing or empty column decodes to an empty map.
func (m *Message) DecodeReactions() (map[string]string, error) {
	reactions := make(map[string]string)
	if len(m.Reactions) == 0 {
		return reactions, nil
	}
	if err := json.Unmarshal(m.Reactions, &reactions); err != nil {
		return nil, err
	}
	return reactions, nil
}

// GetUpdatableFields returns the column names patched during a dedup update.
// Excludes primary key, external ids and creation timestamp.
func (m *Message) GetUpdatableFields() []string {
	return []string{
		"content", "kind", "file_url", "delivery_status", "reply_to_external_id", "updated_at",
	}
}
