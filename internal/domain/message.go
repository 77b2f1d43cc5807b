package domain

import (
	"encoding/json"
	"strings"
)

// NotificationMessage is the broker payload produced by the notification
// orchestrator. Immutable inside the worker.
type NotificationMessage struct {
	TraceID          string                     `json:"trace_id"`
	IdempotencyKey   string                     `json:"idempotency_key"`
	UserID           string                     `json:"user_id"`
	NotificationType string                     `json:"notification_type"`
	TemplateCode     string                     `json:"template_code"`
	Variables        map[string]json.RawMessage `json:"variables"`
	Metadata         map[string]json.RawMessage `json:"metadata"`

	// Legacy producers send request_id instead of trace_id.
	RequestID string `json:"request_id,omitempty"`
}

// producerEnvelope is the transitional {pattern, data} wrapper some producers
// still emit. Accepted alongside the bare message shape.
type producerEnvelope struct {
	Pattern string              `json:"pattern"`
	Data    NotificationMessage `json:"data"`
}

// ParseNotification decodes a broker payload into a NotificationMessage,
// unwrapping the {pattern, data} envelope when present and falling back to
// request_id for the trace id.
func ParseNotification(payload []byte) (*NotificationMessage, error) {
	var env producerEnvelope
	if err := json.Unmarshal(payload, &env); err == nil && env.Pattern != "" {
		msg := env.Data
		normalize(&msg)
		return &msg, nil
	}

	var msg NotificationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	normalize(&msg)
	return &msg, nil
}

func normalize(m *NotificationMessage) {
	if strings.TrimSpace(m.TraceID) == "" {
		m.TraceID = strings.TrimSpace(m.RequestID)
	}
}

// PushToken extracts metadata.push_token. Second return is false when the
// field is absent or not a string.
func (m *NotificationMessage) PushToken() (string, bool) {
	raw, ok := m.Metadata["push_token"]
	if !ok {
		return "", false
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return "", false
	}
	return token, true
}

// DlqMessage wraps a terminally failed notification for the dead-letter
// queue. FailedAt is RFC3339 with millisecond precision.
type DlqMessage struct {
	OriginalMessage NotificationMessage `json:"original_message"`
	FailureReason   string              `json:"failure_reason"`
	FailedAt        string              `json:"failed_at"`
}

// Template as returned by the template service. Fetched, never mutated.
type Template struct {
	Code      string          `json:"code"`
	Language  string          `json:"language"`
	Content   TemplateContent `json:"content"`
	Variables []string        `json:"variables"`
}

type TemplateContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NotificationStatus is the terminal-state vocabulary of the audit log.
type NotificationStatus string

const (
	StatusQueued     NotificationStatus = "queued"
	StatusProcessing NotificationStatus = "processing"
	StatusSent       NotificationStatus = "sent"
	StatusFailed     NotificationStatus = "failed"
	StatusDlq        NotificationStatus = "dlq"
)

// IdempotencyStatus is the state of a logical notification in the cache.
type IdempotencyStatus string

const (
	IdempotencyNotFound   IdempotencyStatus = "not_found"
	IdempotencyProcessing IdempotencyStatus = "processing"
	IdempotencySent       IdempotencyStatus = "sent"
	IdempotencyFailed     IdempotencyStatus = "failed"
)
