package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/baechuer/real-time-ressys/services/push-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/logger"
)

// Entry is one audit row to append. A single notification may produce
// several entries, one per state it reaches.
type Entry struct {
	TraceID          string
	UserID           string
	NotificationType string
	TemplateCode     string
	Status           domain.NotificationStatus
	ErrorMessage     string
	Metadata         map[string]json.RawMessage
}

// NewEntry builds an audit entry for a notification message.
func NewEntry(msg *domain.NotificationMessage, status domain.NotificationStatus) Entry {
	return Entry{
		TraceID:          msg.TraceID,
		UserID:           msg.UserID,
		NotificationType: msg.NotificationType,
		TemplateCode:     msg.TemplateCode,
		Status:           status,
		Metadata:         msg.Metadata,
	}
}

// WithError attaches an error message to the entry.
func (e Entry) WithError(errMsg string) Entry {
	e.ErrorMessage = errMsg
	return e
}

// Record is one persisted audit row.
type Record struct {
	ID               uuid.UUID          `json:"id"`
	TraceID          string             `json:"trace_id"`
	UserID           uuid.UUID          `json:"user_id"`
	NotificationType string             `json:"notification_type"`
	TemplateCode     string             `json:"template_code"`
	Status           string             `json:"status"`
	ErrorMessage     *string            `json:"error_message,omitempty"`
	Metadata         json.RawMessage    `json:"metadata"`
	CreatedAt        time.Time          `json:"created_at"`
}

// Store appends notification outcomes to the audit_logs table. Writes are
// best effort from the pipeline's point of view: the broker ack/reject is the
// authority on delivery accounting, and the processor swallows (logs) any
// error returned here.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		log:  logger.WithComponent("audit_store"),
	}
}

// Log inserts one row. A user_id that does not parse as a UUID is a caller
// error.
func (s *Store) Log(ctx context.Context, e Entry) error {
	userID, err := uuid.Parse(e.UserID)
	if err != nil {
		return fmt.Errorf("invalid user_id %q: %w", e.UserID, err)
	}

	metadata := []byte("{}")
	if e.Metadata != nil {
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
	}

	var errMsg *string
	if e.ErrorMessage != "" {
		errMsg = &e.ErrorMessage
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_logs (trace_id, user_id, notification_type, template_code, status, error_message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.TraceID, userID, e.NotificationType, e.TemplateCode, string(e.Status), errMsg, metadata,
	)
	if err != nil {
		return fmt.Errorf("audit log write failed: %w", err)
	}

	s.log.Debug().
		Str("trace_id", e.TraceID).
		Str("status", string(e.Status)).
		Msg("audit log written")
	return nil
}

// LatestByTraceID returns the most recent audit row for a trace id, or nil
// when none exists.
func (s *Store) LatestByTraceID(ctx context.Context, traceID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, trace_id, user_id, notification_type, template_code, status, error_message, metadata, created_at
		FROM audit_logs
		WHERE trace_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		traceID,
	)

	var r Record
	err := row.Scan(&r.ID, &r.TraceID, &r.UserID, &r.NotificationType, &r.TemplateCode,
		&r.Status, &r.ErrorMessage, &r.Metadata, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit log query failed: %w", err)
	}
	return &r, nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
