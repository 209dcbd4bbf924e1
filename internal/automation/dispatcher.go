package automation

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/storage"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
)

// Dispatcher is the automation trigger boundary. Dispatch never returns an
// error and never panics out: a failing automation must not fail the
// mutation that fired it.
type Dispatcher interface {
	Dispatch(ctx context.Context, trigger, entityKind string, entity map[string]interface{})
}

// NoopDispatcher discards every trigger. Used in tests and when automations
// are disabled.
type NoopDispatcher struct{}

func (NoopDispatcher) Dispatch(context.Context, string, string, map[string]interface{}) {}

// RuleDispatcher matches active automation rules against the fired entity
// and hands matched actions to the worker pool.
type RuleDispatcher struct {
	rules      storage.AutomationRepo
	worker     *ActionWorker
	baseLogger *zap.Logger
}

var _ Dispatcher = (*RuleDispatcher)(nil)

// NewRuleDispatcher wires the rule store to the action worker pool.
func NewRuleDispatcher(rules storage.AutomationRepo, worker *ActionWorker, baseLogger *zap.Logger) *RuleDispatcher {
	return &RuleDispatcher{
		rules:      rules,
		worker:     worker,
		baseLogger: baseLogger.Named("automation_dispatcher"),
	}
}

// Dispatch looks up the active rules for the trigger, evaluates each
// condition against the entity, and submits matched actions. All failures
// are logged and swallowed.
func (d *RuleDispatcher) Dispatch(ctx context.Context, trigger, entityKind string, entity map[string]interface{}) {
	log := logger.FromContextOr(ctx, d.baseLogger).With(
		zap.String("trigger", trigger),
		zap.String("entity_kind", entityKind),
	)
	defer func() {
		if p := recover(); p != nil {
			log.Error("Panic recovered in automation dispatch", zap.Any("panic_error", p), zap.Stack("stack"))
		}
	}()

	rules, err := d.rules.FindActiveAutomationsByTrigger(ctx, trigger)
	if err != nil {
		log.Error("Failed to load automation rules", zap.Error(err))
		return
	}
	if len(rules) == 0 {
		return
	}

	matched := 0
	for _, rule := range rules {
		if !RuleMatches(rule, entity) {
			continue
		}
		matched++
		task := ActionTaskData{
			// Detach from the request context so in-flight actions survive
			// the request ending; the trace fields travel along.
			Ctx:        logger.WithLogger(context.Background(), log),
			Rule:       rule,
			Trigger:    trigger,
			EntityKind: entityKind,
			Entity:     entity,
		}
		if submitErr := d.worker.SubmitTask(task); submitErr != nil {
			log.Warn("Failed to submit automation action",
				zap.Int64("rule_id", rule.ID), zap.Error(submitErr))
		}
	}

	log.Debug("Automation dispatch complete",
		zap.Int("rules_total", len(rules)), zap.Int("rules_matched", matched))
}

// RuleMatches evaluates a rule's single condition against the entity. An
// empty condition always matches.
func RuleMatches(rule model.Automation, entity map[string]interface{}) bool {
	if !rule.HasCondition() {
		return true
	}
	actual, ok := entity[rule.ConditionField]
	if !ok {
		actual = nil
	}
	return evaluateCondition(actual, rule.ConditionOperator, rule.ConditionValue)
}

func evaluateCondition(actual interface{}, operator, expected string) bool {
	actualStr := stringify(actual)

	switch operator {
	case model.OperatorEquals:
		return actualStr == expected
	case model.OperatorNotEquals:
		return actualStr != expected
	case model.OperatorContains:
		return expected != "" && strings.Contains(actualStr, expected)
	case model.OperatorGreaterThan, model.OperatorLessThan:
		actualNum, errA := strconv.ParseFloat(actualStr, 64)
		expectedNum, errE := strconv.ParseFloat(expected, 64)
		if errA != nil || errE != nil {
			return false
		}
		if operator == model.OperatorGreaterThan {
			return actualNum > expectedNum
		}
		return actualNum < expectedNum
	default:
		return false
	}
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

// OrderEntity flattens an order for condition evaluation.
func OrderEntity(order *model.Order) map[string]interface{} {
	return map[string]interface{}{
		"id":                order.ID,
		"correlation_id":    order.CorrelationID,
		"partner_order_id":  order.PartnerOrderID,
		"contact_id":        order.ContactID,
		"status":            order.Status,
		"partner_status_id": order.PartnerStatusID,
		"created_at":        order.CreatedAt,
	}
}

// MessageEntity flattens a client-facing message for condition evaluation.
func MessageEntity(message *model.Message) map[string]interface{} {
	return map[string]interface{}{
		"id":              message.ID,
		"correlation_id":  message.CorrelationID,
		"content":         message.Content,
		"author_kind":     message.AuthorKind,
		"kind":            message.Kind,
		"delivery_status": message.DeliveryStatus,
		"created_at":      message.CreatedAt,
	}
}

// ContactEntity flattens a contact for condition evaluation.
func ContactEntity(contact *model.Contact) map[string]interface{} {
	return map[string]interface{}{
		"id":              contact.ID,
		"name":            contact.Name,
		"phone":           contact.Phone,
		"email":           contact.Email,
		"channel_user_id": contact.ChannelUserID,
	}
}
