package model

import (
	"time"
)

// AttachmentKindSystem marks auto-generated audit entries (status changes,
// field edits, tag changes) rather than manager uploads.
const AttachmentKindSystem = "system"

// InternalMessage is a team-only annotation tied to an Order, never visible
// to the customer. CorrelationID is kept alongside OrderID because legacy
// rows predate the order link and are still reachable by correlation id only.
type InternalMessage struct {
	ID             int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	OrderID        int64     `json:"order_id,omitempty" gorm:"column:order_id;index"`
	CorrelationID  int64     `json:"correlation_id,omitempty" gorm:"column:correlation_id;index"`
	SenderID       int64     `json:"sender_id" gorm:"column:sender_id;index"`
	Content        string    `json:"content" gorm:"type:text"`
	IsRead         bool      `json:"is_read" gorm:"column:is_read;default:false"`
	ReplyToID      *int64    `json:"reply_to_id,omitempty" gorm:"column:reply_to_id"`
	AttachmentKind string    `json:"attachment_kind,omitempty" gorm:"column:attachment_kind;type:text"`
	AttachmentURL  string    `json:"attachment_url,omitempty" gorm:"column:attachment_url;type:text"`
	AttachmentName string    `json:"attachment_name,omitempty" gorm:"column:attachment_name;type:text"`
	CreatedAt      time.Time `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for the InternalMessage model.
func (InternalMessage) TableName() string {
	return "internal_messages"
}

// IsSystemEntry reports whether the row is an auto-generated audit entry.
func (im *InternalMessage) IsSystemEntry() bool {
	return im.AttachmentKind == AttachmentKindSystem
}
