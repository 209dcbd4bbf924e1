package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/arveo/api/crm-conversation-service/internal/config"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/observer"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
)

// ActionTaskData holds one matched rule plus the entity that matched it.
type ActionTaskData struct {
	Ctx        context.Context // Context derived for the task, NOT the original request context
	Rule       model.Automation
	Trigger    string
	EntityKind string
	Entity     map[string]interface{}
}

// ActionExecutor runs a single matched automation action. Implementations
// interpret Rule.ActionType and Rule.ActionConfig.
type ActionExecutor func(ctx context.Context, task ActionTaskData) error

// ActionWorker runs matched automation actions on a bounded pool, detached
// from the request path that fired the trigger.
type ActionWorker struct {
	pool       *ants.PoolWithFunc
	execute    ActionExecutor
	cfg        config.AutomationWorkerPoolConfig
	baseLogger *zap.Logger
}

// NewActionWorker creates and initializes the automation action pool.
func NewActionWorker(cfg config.AutomationWorkerPoolConfig, execute ActionExecutor, baseLogger *zap.Logger) (*ActionWorker, error) {
	worker := &ActionWorker{
		execute:    execute,
		cfg:        cfg,
		baseLogger: baseLogger.Named("automation_worker"),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		taskData, ok := i.(ActionTaskData)
		if !ok {
			worker.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		worker.processActionTask(taskData)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(err interface{}) {
			worker.baseLogger.Error("Panic recovered in automation worker", zap.Any("panic_error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create automation worker pool: %w", err)
	}
	worker.pool = pool
	worker.baseLogger.Info("Automation worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("expiry_time", cfg.ExpiryTime),
	)
	return worker, nil
}

// SubmitTask hands a matched action to the pool.
func (w *ActionWorker) SubmitTask(taskData ActionTaskData) error {
	start := time.Now()
	observer.IncAutomationTasksSubmitted(taskData.Trigger)
	observer.SetAutomationQueueLength(w.pool.Waiting())

	err := w.pool.Invoke(taskData)
	duration := time.Since(start)

	if err != nil {
		w.baseLogger.Warn("Failed to submit automation task to pool",
			zap.Int64("rule_id", taskData.Rule.ID),
			zap.String("trigger", taskData.Trigger),
			zap.Duration("submit_duration", duration),
			zap.Error(err),
		)
		observer.IncAutomationTasksProcessed(taskData.Trigger, "submit_error")
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("automation pool overload: %w", err)
		}
		return fmt.Errorf("failed to invoke automation task: %w", err)
	}

	w.baseLogger.Debug("Submitted automation task",
		zap.Int64("rule_id", taskData.Rule.ID),
		zap.String("trigger", taskData.Trigger),
		zap.Duration("submit_duration", duration),
	)
	return nil
}

func (w *ActionWorker) processActionTask(taskData ActionTaskData) {
	log := logger.FromContextOr(taskData.Ctx, w.baseLogger).With(
		zap.Int64("rule_id", taskData.Rule.ID),
		zap.String("trigger", taskData.Trigger),
		zap.String("action_type", taskData.Rule.ActionType),
	)

	start := time.Now()
	status := "success"

	log.Debug("Executing automation action")
	if err := w.execute(taskData.Ctx, taskData); err != nil {
		log.Error("Automation action failed", zap.Error(err))
		status = "failure"
	}

	duration := time.Since(start)
	observer.ObserveAutomationProcessingDuration(taskData.Trigger, duration)
	observer.IncAutomationTasksProcessed(taskData.Trigger, status)

	log.Debug("Finished automation action", zap.Duration("duration", duration), zap.String("final_status", status))
}

// Stop gracefully shuts down the worker pool.
func (w *ActionWorker) Stop() {
	if w.pool != nil {
		w.baseLogger.Info("Releasing automation worker pool")
		start := time.Now()
		w.pool.Release()
		w.baseLogger.Info("Automation worker pool released", zap.Duration("duration", time.Since(start)))
	}
}

// LogOnlyExecutor records the matched action without side effects. The rule
// engine's action implementations live outside the conversation core; this
// is the boundary default.
func LogOnlyExecutor(ctx context.Context, task ActionTaskData) error {
	logger.FromContext(ctx).Info("Automation action matched",
		zap.Int64("rule_id", task.Rule.ID),
		zap.String("trigger", task.Trigger),
		zap.String("entity_kind", task.EntityKind),
		zap.String("action_type", task.Rule.ActionType),
	)
	return nil
}
