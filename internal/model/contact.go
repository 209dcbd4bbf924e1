package model

import (
	"strings"
	"time"
)

// Contact represents a person reachable on one or more channels.
type Contact struct {
	ID             int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	Name           string    `json:"name" gorm:"type:text"`
	Phone          string    `json:"phone,omitempty" gorm:"type:text;index" validate:"omitempty,min=6"`
	Email          string    `json:"email,omitempty" gorm:"type:text;index" validate:"omitempty,email"`
	ChannelUserID  string    `json:"channel_user_id,omitempty" gorm:"column:channel_user_id;uniqueIndex;type:text"` // chat-platform numeric id, kept as text to avoid precision loss
	PartnerUserID  string    `json:"partner_user_id,omitempty" gorm:"column:partner_user_id;index;type:text"`
	LastActivityAt time.Time `json:"last_activity_at,omitempty" gorm:"column:last_activity_at"`
	CreatedAt      time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Contact model.
func (Contact) TableName() string {
	return "contacts"
}

const placeholderNamePrefix = "User "

// PlaceholderName synthesizes the display name used when no real name is known.
func PlaceholderName(externalID string) string {
	return placeholderNamePrefix + externalID
}

// HasPlaceholderName reports whether the contact still carries a synthesized
// name. Real names never start with the placeholder prefix by convention.
func (c *Contact) HasPlaceholderName() bool {
	return c.Name == "" || strings.HasPrefix(c.Name, placeholderNamePrefix)
}

// IsPlaceholderName reports whether a candidate display name is itself a
// synthesized placeholder.
func IsPlaceholderName(name string) bool {
	return name == "" || strings.HasPrefix(name, placeholderNamePrefix)
}

// ContactUpdateColumns returns the columns refreshed on every inbound event.
func ContactUpdateColumns() []string {
	return []string{
		"last_activity_at",
	}
}
