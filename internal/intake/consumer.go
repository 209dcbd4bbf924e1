package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"gitlab.com/arveo/api/crm-conversation-service/internal/apperrors"
	"gitlab.com/arveo/api/crm-conversation-service/internal/config"
	"gitlab.com/arveo/api/crm-conversation-service/internal/jetstream"
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
	"gitlab.com/arveo/api/crm-conversation-service/internal/observer"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/logger"
	"gitlab.com/arveo/api/crm-conversation-service/pkg/utils"
	"go.uber.org/zap"
)

const consumerType = "events"

// AckNakAction represents the decision made after processing a message
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // Message processed successfully, ACK it
	ActionNak                          // Terminal failure before routing or DLQ failure, NAK immediately
	ActionNakDelay                     // Retryable error, NAK with calculated delay
	ActionDLQ                          // Max retries reached or fatal error, publish to DLQ then ACK
)

// Consumer subscribes to the events stream and routes each delivery through
// the subject router, deciding ACK/NAK/DLQ from the processing outcome.
type Consumer struct {
	client     jetstream.ClientInterface
	router     *Router
	cfg        config.ConsumerNatsConfig
	dlqSubject string
	ctx        context.Context
	cancel     context.CancelFunc
	sub        *nats.Subscription
}

// NewConsumer creates the events consumer.
func NewConsumer(client jetstream.ClientInterface, router *Router, cfg config.ConsumerNatsConfig, dlqSubject string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, logger.Log.With(zap.String("consumer_type", consumerType)))

	return &Consumer{
		client:     client,
		router:     router,
		cfg:        cfg,
		dlqSubject: dlqSubject,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Setup configures the NATS stream and durable consumer for inbound events
func (c *Consumer) Setup() error {
	log := logger.FromContext(c.ctx)
	log.Info("Setting up events consumer...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	maxAgeRetention := time.Duration(c.cfg.MaxAge*24) * time.Hour

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  c.cfg.SubjectList,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    maxAgeRetention,
	}

	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		log.Error("Failed to setup events stream", zap.Error(err), zap.String("stream", c.cfg.Stream))
		return fmt.Errorf("failed to setup events stream '%s': %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		FilterSubjects: c.cfg.SubjectList,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        30 * time.Second,
		MaxAckPending:  1000,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		DeliverPolicy:  nats.DeliverAllPolicy,
	}

	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		log.Error("Failed to setup events consumer", zap.Error(err), zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))
		return fmt.Errorf("failed to setup events consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}

	log.Info("Events consumer setup complete")
	return nil
}

// Start subscribes to the events stream
func (c *Consumer) Start() error {
	log := logger.FromContext(c.ctx)
	log.Info("Starting events consumer subscription...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	sub, err := c.client.SubscribePush("v1.>", c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.handleMessage)
	if err != nil {
		log.Error("Failed to subscribe events consumer", zap.Error(err),
			zap.String("stream", c.cfg.Stream),
			zap.String("consumer", c.cfg.Consumer),
			zap.String("group", c.cfg.QueueGroup),
		)
		return fmt.Errorf("failed to subscribe events consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	log.Info("Events consumer subscribed successfully")
	return nil
}

// Stop drains the subscription and cancels the consumer context
func (c *Consumer) Stop() {
	log := logger.FromContext(c.ctx)
	log.Info("Stopping events consumer...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining events subscription", zap.Error(err))
		}
		log.Info("Events subscription drained")
	}
	if c.cancel != nil {
		c.cancel()
	}
	log.Info("Events consumer stopped")
}

// determineAckNakAction decides the fate of a message based on processing result and metadata.
// It returns the action to take (ACK, NAK_DELAY, DLQ) and the delay duration if applicable.
func determineAckNakAction(
	processingErr error,
	metadata *nats.MsgMetadata,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (action AckNakAction, delay time.Duration) {

	if processingErr == nil {
		return ActionAck, 0
	}

	isRetryable := apperrors.IsRetryable(processingErr)
	numDelivered := metadata.NumDelivered

	// Max retries reached OR fatal error: park it on the DLQ.
	if numDelivered >= uint64(maxDeliver) || !isRetryable {
		return ActionDLQ, 0
	}

	// Retryable with attempts remaining: NAK with exponential delay.
	attempt := numDelivered // Current attempt number (starts at 1)
	delay = nakBaseDelay
	if attempt > 1 {
		delay = nakBaseDelay * (1 << (attempt - 1)) // base * 2^(attempt-1)
	}
	if delay > nakMaxDelay {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}

// handleMessage is the core per-delivery processing logic
func (c *Consumer) handleMessage(msg *nats.Msg) {
	startTime := utils.Now()
	source := SourceFromSubject(msg.Subject)

	defer func() {
		observer.ObserveEventProcessingDuration(msg.Subject, source, consumerType, time.Since(startTime))

		if r := recover(); r != nil {
			log := logger.FromContext(c.ctx)
			log.Error("[panic] Recovered from panic in message handler",
				zap.Any("panic", r),
				zap.String("subject", msg.Subject),
				zap.Duration("duration", time.Since(startTime)),
				zap.Stack("stack"),
			)
			observer.IncEventsFailed(msg.Subject, source, consumerType)
			observer.IncEventProcessingAction(msg.Subject, source, consumerType, "panic_nak", "panic")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	msgCtx := c.ctx
	log := logger.FromContext(msgCtx)

	var msgID string
	if msg.Header != nil {
		msgID = msg.Header.Get("Nats-Msg-Id")
	}

	metadata, err := msg.Metadata()
	if err != nil {
		log.Error("Failed to read message metadata", zap.Error(err), zap.Duration("duration", time.Since(startTime)))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}
		observer.IncEventProcessingAction(msg.Subject, source, consumerType, "nak_metadata_error", "metadata")
		return
	}
	if msgID == "" {
		msgID = fmt.Sprintf("msg-%d", metadata.Sequence.Stream)
	}

	eventMetadata := &EventMetadata{
		StreamSequence:   metadata.Sequence.Stream,
		ConsumerSequence: metadata.Sequence.Consumer,
		NumDelivered:     metadata.NumDelivered,
		NumPending:       metadata.NumPending,
		Timestamp:        metadata.Timestamp,
		Stream:           metadata.Stream,
		Consumer:         metadata.Consumer,
		MessageID:        msgID,
		Subject:          msg.Subject,
		Source:           source,
	}

	observer.IncEventsReceived(msg.Subject, source, consumerType)

	// One request id per delivery attempt so handler and DLQ logs correlate.
	msgCtx = logger.WithRequestID(msgCtx, uuid.NewString())
	msgCtx = logger.WithLogger(msgCtx, log.With(
		zap.String("nats_message_id", msgID),
		zap.Uint64("stream_sequence", eventMetadata.StreamSequence),
		zap.Uint64("consumer_sequence", eventMetadata.ConsumerSequence),
		zap.String("subject", msg.Subject),
		zap.String("stream", eventMetadata.Stream),
		zap.String("consumer", eventMetadata.Consumer),
	))

	routingStartTime := utils.Now()
	processingErr := c.router.Route(msgCtx, eventMetadata, msg.Data)
	observer.ObserveEventRoutingDuration(msg.Subject, source, consumerType, time.Since(routingStartTime))

	enhancedLog := logger.FromContext(msgCtx)

	action, nakDelay := determineAckNakAction(processingErr, metadata, c.cfg.MaxDeliver, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay)

	errorType := "none"
	if processingErr != nil {
		errorType = observer.SanitizeErrorType(processingErr.Error())
	}

	switch action {
	case ActionAck:
		enhancedLog.Info("Successfully processed message", zap.Duration("duration", time.Since(startTime)))
		observer.IncEventsProcessed(msg.Subject, source, consumerType)
		observer.IncEventProcessingAction(msg.Subject, source, consumerType, "ack_success", errorType)
		if ackErr := msg.Ack(); ackErr != nil {
			enhancedLog.Error("Failed to ACK message after successful processing", zap.Error(ackErr))
		}

	case ActionNak:
		enhancedLog.Error("NAKing message immediately", zap.Error(processingErr), zap.Duration("duration", time.Since(startTime)))
		observer.IncEventsFailed(msg.Subject, source, consumerType)
		observer.IncEventProcessingAction(msg.Subject, source, consumerType, "nak_terminal", errorType)
		if nakErr := msg.Nak(); nakErr != nil {
			enhancedLog.Error("Failed to NAK message", zap.Error(nakErr))
		}

	case ActionNakDelay:
		enhancedLog.Info("NAKing message with delay for redelivery (retryable error)",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", metadata.NumDelivered),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("nak_delay", nakDelay),
			zap.Duration("duration", time.Since(startTime)),
		)
		observer.IncEventsFailed(msg.Subject, source, consumerType)
		observer.IncEventProcessingAction(msg.Subject, source, consumerType, "nak_retry", errorType)
		if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
			enhancedLog.Error("Failed to NAK message with delay", zap.Error(nakErr))
		}

	case ActionDLQ:
		c.publishToDLQ(msgCtx, msg, metadata, msgID, source, processingErr, errorType, startTime)
	}
}

// publishToDLQ builds the DLQ envelope, publishes it, and ACKs the original
// message only when the publish succeeded.
func (c *Consumer) publishToDLQ(ctx context.Context, msg *nats.Msg, metadata *nats.MsgMetadata, msgID, source string, processingErr error, errorType string, startTime time.Time) {
	log := logger.FromContext(ctx)

	isRetryable := apperrors.IsRetryable(processingErr)
	logReason := "max delivery attempts reached"
	if !isRetryable {
		logReason = "fatal error encountered"
	}
	log.Warn(fmt.Sprintf("Sending message to DLQ: %s", logReason),
		zap.Error(processingErr),
		zap.Uint64("num_delivered", metadata.NumDelivered),
		zap.Int("max_deliver", c.cfg.MaxDeliver),
		zap.Bool("is_retryable", isRetryable),
		zap.Duration("duration", time.Since(startTime)),
	)
	observer.IncEventsFailed(msg.Subject, source, consumerType)

	var errorTypeString string
	if isRetryable {
		errorTypeString = "retryable"
	} else if apperrors.IsFatal(processingErr) {
		errorTypeString = "fatal"
	} else {
		log.Warn("Error reaching DLQ is not explicitly Fatal or Retryable, classifying as fatal", zap.Error(processingErr))
		errorTypeString = "fatal"
	}

	dlqSource := source
	if dlqSource == "" {
		dlqSource = "unknown"
	}

	dlqPayload := model.DLQPayload{
		SourceSubject:   msg.Subject,
		Source:          dlqSource,
		OriginalPayload: json.RawMessage(msg.Data),
		Error:           processingErr.Error(),
		ErrorType:       errorTypeString,
		RetryCount:      metadata.NumDelivered,
		MaxRetry:        c.cfg.MaxDeliver,
		Timestamp:       time.Now().UTC(),
	}

	dlqData, marshalErr := json.Marshal(dlqPayload)
	if marshalErr != nil {
		log.Error("Failed to marshal DLQ payload, NAKing original message without delay", zap.Error(marshalErr))
		observer.IncEventProcessingAction(msg.Subject, source, consumerType, "nak_dlq_marshal_fail", "dlq_marshal_fail")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message after DLQ marshal error", zap.Error(nakErr))
		}
		return
	}

	dlqHeaders := make(map[string]string)
	if msgID != "" {
		dlqHeaders["Original-Nats-Msg-Id"] = msgID
	}

	dlqFullSubject := fmt.Sprintf("%s.%s", c.dlqSubject, dlqSource)
	if publishErr := c.client.Publish(dlqFullSubject, dlqData, dlqHeaders); publishErr != nil {
		log.Error("Failed to publish message to DLQ, NAKing original message without delay",
			zap.Error(publishErr),
			zap.String("dlq_subject", dlqFullSubject),
		)
		observer.IncEventProcessingAction(msg.Subject, source, consumerType, "nak_dlq_publish_fail", "dlq_publish_fail")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message after DLQ publish error", zap.Error(nakErr))
		}
		return
	}

	log.Info("Message published to DLQ", zap.String("dlq_subject", dlqFullSubject))
	observer.IncEventProcessingAction(msg.Subject, source, consumerType, "dlq_published_ack_success", errorType)
	if ackErr := msg.Ack(); ackErr != nil {
		log.Error("Failed to ACK message after successful DLQ publish", zap.Error(ackErr))
	}
}
