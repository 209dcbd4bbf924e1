package model

import (
	"time"
)

// Internal order statuses. The zero-value status of a freshly created order
// is StatusUnsorted; terminal statuses end the conversation thread and are
// never reused by the identity resolver.
const (
	StatusUnsorted       = "unsorted"
	StatusInWork         = "in_work"
	StatusNegotiation    = "negotiation"
	StatusWaitingPayment = "waiting_payment"
	StatusCompleted      = "completed"
	StatusScammer        = "scammer"
	StatusClientRejected = "client_rejected"
	StatusLost           = "lost"
)

var terminalStatuses = map[string]struct{}{
	StatusCompleted:      {},
	StatusScammer:        {},
	StatusClientRejected: {},
	StatusLost:           {},
}

// IsTerminalStatus reports whether the given internal status ends an order's
// lifecycle.
func IsTerminalStatus(status string) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// TerminalStatuses returns the set of terminal internal statuses.
func TerminalStatuses() []string {
	return []string{StatusCompleted, StatusScammer, StatusClientRejected, StatusLost}
}

// Order is the unit of correlation between channel and partner-system
// messages. CorrelationID, not the internal id, is the join key used by the
// message tables; zero means the row predates correlation ids and gets one
// lazily on next resolution.
type Order struct {
	ID              int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CorrelationID   int64     `json:"correlation_id,omitempty" gorm:"column:correlation_id;uniqueIndex"`
	PartnerOrderID  string    `json:"partner_order_id,omitempty" gorm:"column:partner_order_id;index;type:text"`
	ContactID       int64     `json:"contact_id" gorm:"column:contact_id;index"`
	Status          string    `json:"status" gorm:"type:text;default:unsorted"`
	PartnerStatusID int       `json:"partner_status_id,omitempty" gorm:"column:partner_status_id"`
	CreatedAt       time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Order model.
func (Order) TableName() string {
	return "orders"
}

// OrderMessage links a client-facing message into an order's conversation.
type OrderMessage struct {
	OrderID   int64 `json:"order_id" gorm:"column:order_id;primaryKey"`
	MessageID int64 `json:"message_id" gorm:"column:message_id;primaryKey"`
}

// TableName specifies the table name for the OrderMessage link model.
func (OrderMessage) TableName() string {
	return "order_messages"
}
