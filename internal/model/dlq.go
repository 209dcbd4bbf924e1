package model

import (
	"encoding/json"
	"time"
)

// DLQPayload is the envelope published to the dead letter queue when an
// event cannot be processed after exhausting its redelivery budget, or
// fails with a non-retryable error.
type DLQPayload struct {
	SourceSubject   string          `json:"source_subject"`          // The original subject the message was published to
	Source          string          `json:"source"`                  // Source channel of the original event (channel/partner)
	OriginalPayload json.RawMessage `json:"original_payload"`        // The raw JSON payload of the original message
	Error           string          `json:"error"`                   // The full error message encountered during processing
	ErrorType       string          `json:"error_type"`              // Type of error ('fatal', 'retryable', 'unknown')
	RetryCount      uint64          `json:"retry_count"`             // How many times delivery was attempted (NumDelivered from NATS metadata)
	MaxRetry        int             `json:"max_retry"`               // The configured maximum delivery attempts for the consumer
	NextRetryAt     *time.Time      `json:"next_retry_at,omitempty"` // Timestamp for the next scheduled retry attempt (set by DLQ worker)
	Timestamp       time.Time       `json:"ts"`                      // Timestamp when the message was sent to the DLQ
}
