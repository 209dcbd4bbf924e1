package model

import (
	"time"

	"gorm.io/datatypes"
)

// Trigger points fired by the conversation core.
const (
	TriggerOrderCreated    = "order_created"
	TriggerMessageReceived = "message_received"
	TriggerStatusChanged   = "order_status_changed"
)

// Entity kind tags passed alongside a dispatched entity. The dispatcher
// never sniffs field presence to tell entities apart.
const (
	EntityKindOrder   = "order"
	EntityKindContact = "contact"
	EntityKindMessage = "message"
)

// Condition operators understood by the automation dispatcher.
const (
	OperatorEquals      = "equals"
	OperatorNotEquals   = "not_equals"
	OperatorContains    = "contains"
	OperatorGreaterThan = "greater_than"
	OperatorLessThan    = "less_than"
)

// Automation is a declarative rule evaluated read-only at trigger points.
// An empty condition field means the rule always matches its trigger.
type Automation struct {
	ID                 int64          `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	TriggerType        string         `json:"trigger_type" gorm:"column:trigger_type;index;type:text"`
	ConditionField     string         `json:"condition_field,omitempty" gorm:"column:condition_field;type:text"`
	ConditionOperator  string         `json:"condition_operator,omitempty" gorm:"column:condition_operator;type:text"`
	ConditionValue     string         `json:"condition_value,omitempty" gorm:"column:condition_value;type:text"`
	ActionType         string         `json:"action_type" gorm:"column:action_type;type:text"`
	ActionConfig       datatypes.JSON `json:"action_config,omitempty" gorm:"column:action_config;type:jsonb"`
	Active             bool           `json:"active" gorm:"default:true"`
	CreatedAt          time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt          time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Automation model.
func (Automation) TableName() string {
	return "automations"
}

// HasCondition reports whether the rule carries a condition triple.
func (a *Automation) HasCondition() bool {
	return a.ConditionField != ""
}
