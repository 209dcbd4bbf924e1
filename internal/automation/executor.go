package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
)

// DefaultActionsSubject is the core NATS subject matched actions are
// published on for the downstream automation engine.
const DefaultActionsSubject = "v1.automation.actions"

// ActionEvent is the wire form of one matched automation action.
type ActionEvent struct {
	RuleID       int64                  `json:"rule_id"`
	Trigger      string                 `json:"trigger"`
	EntityKind   string                 `json:"entity_kind"`
	ActionType   string                 `json:"action_type"`
	ActionConfig json.RawMessage        `json:"action_config,omitempty"`
	Entity       map[string]interface{} `json:"entity,omitempty"`
	Timestamp    time.Time              `json:"ts"`
}

// NewNatsActionExecutor returns an executor that hands matched actions to
// the automation engine over core NATS. Fire-and-forget on purpose: the
// engine owns retries and side effects, this service only announces.
func NewNatsActionExecutor(nc *nats.Conn, subject string) ActionExecutor {
	if subject == "" {
		subject = DefaultActionsSubject
	}
	return func(_ context.Context, task ActionTaskData) error {
		event := ActionEvent{
			RuleID:       task.Rule.ID,
			Trigger:      task.Trigger,
			EntityKind:   task.EntityKind,
			ActionType:   task.Rule.ActionType,
			ActionConfig: json.RawMessage(task.Rule.ActionConfig),
			Entity:       task.Entity,
			Timestamp:    utils.Now(),
		}
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal action event: %w", err)
		}
		if err := nc.Publish(subject, data); err != nil {
			return fmt.Errorf("publish action event: %w", err)
		}
		return nil
	}
}
