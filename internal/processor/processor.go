package processor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/baechuer/real-time-ressys/services/push-service/internal/audit"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/logger"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/metrics"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/template"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/validation"
)

// IdempotencyStore tracks the per-key delivery state.
type IdempotencyStore interface {
	Check(ctx context.Context, key string) (domain.IdempotencyStatus, error)
	MarkProcessing(ctx context.Context, key string) error
	MarkSent(ctx context.Context, key string) error
	MarkFailed(ctx context.Context, key string) error
}

// TemplateFetcher retrieves notification templates.
type TemplateFetcher interface {
	Fetch(ctx context.Context, templateCode, language string) (*domain.Template, error)
}

// PushSender delivers a rendered notification to the push gateway.
type PushSender interface {
	Send(ctx context.Context, deviceToken, title, body, traceID string, extraData map[string]string) error
}

// AuditSink records notification outcomes.
type AuditSink interface {
	Log(ctx context.Context, e audit.Entry) error
}

// Processor runs one notification through the delivery pipeline: parse,
// idempotency check, template fetch and render, push send, state updates and
// audit records.
type Processor struct {
	idempotency IdempotencyStore
	templates   TemplateFetcher
	push        PushSender
	audit       AuditSink
	log         zerolog.Logger
}

func New(idempotency IdempotencyStore, templates TemplateFetcher, push PushSender, auditSink AuditSink) *Processor {
	return &Processor{
		idempotency: idempotency,
		templates:   templates,
		push:        push,
		audit:       auditSink,
		log:         logger.WithComponent("processor"),
	}
}

// Process handles one raw broker payload. A nil return means the delivery
// should be acked (including duplicates); a non-nil return means terminal
// failure for this delivery.
func (p *Processor) Process(ctx context.Context, payload []byte) error {
	msg, err := domain.ParseNotification(payload)
	if err != nil {
		return domain.NewProcessError(domain.ErrCodeMalformedMessage, "failed to parse message", err)
	}

	log := p.log.With().
		Str("trace_id", msg.TraceID).
		Str("idempotency_key", msg.IdempotencyKey).
		Logger()

	status, err := p.idempotency.Check(ctx, msg.IdempotencyKey)
	if err != nil {
		// A cache read failure must not block delivery; proceed as new.
		log.Warn().Err(err).Msg("idempotency check failed, continuing")
	}
	switch status {
	case domain.IdempotencySent:
		log.Info().Msg("message already sent, skipping")
		metrics.RecordIdempotencyHit()
		return nil
	case domain.IdempotencyProcessing:
		log.Info().Msg("message is being processed elsewhere, skipping")
		metrics.RecordIdempotencyHit()
		return nil
	}
	metrics.RecordIdempotencyMiss()

	if err := p.idempotency.MarkProcessing(ctx, msg.IdempotencyKey); err != nil {
		return fmt.Errorf("failed to mark as processing: %w", err)
	}

	token, ok := msg.PushToken()
	if !ok {
		return p.fail(ctx, log, msg,
			domain.NewProcessError(domain.ErrCodeMissingToken, "metadata has no push_token", nil))
	}

	if err := validation.ValidateDeviceToken(token); err != nil {
		return p.fail(ctx, log, msg,
			domain.NewProcessError(domain.ErrCodeInvalidToken, "push_token rejected", err))
	}

	tmpl, err := p.templates.Fetch(ctx, msg.TemplateCode, "en")
	if err != nil {
		return p.fail(ctx, log, msg,
			domain.NewProcessError(domain.ErrCodeTemplateFetch, "failed to fetch template", err))
	}

	content, err := template.Render(tmpl, msg.Variables)
	if err != nil {
		return p.fail(ctx, log, msg,
			domain.NewProcessError(domain.ErrCodeTemplateRender, "failed to render template", err))
	}

	if err := p.push.Send(ctx, token, content.Title, content.Body, msg.TraceID, nil); err != nil {
		return p.fail(ctx, log, msg,
			domain.NewProcessError(domain.ErrCodePushFailed, "failed to send push notification", err))
	}

	if err := p.idempotency.MarkSent(ctx, msg.IdempotencyKey); err != nil {
		// Delivery succeeded but the sent marker could not be written even
		// with retries; surface the failure so the delivery is not acked
		// silently with dedup state missing.
		return err
	}

	p.auditBestEffort(ctx, log, audit.NewEntry(msg, domain.StatusSent))
	metrics.RecordNotificationSent()
	log.Info().Msg("notification sent")
	return nil
}

// fail records terminal failure state and audit for a parsed message, then
// returns the classified error.
func (p *Processor) fail(ctx context.Context, log zerolog.Logger, msg *domain.NotificationMessage, perr *domain.ProcessError) error {
	if err := p.idempotency.MarkFailed(ctx, msg.IdempotencyKey); err != nil {
		log.Error().Err(err).Msg("failed to mark idempotency state as failed")
	}

	p.auditBestEffort(ctx, log, audit.NewEntry(msg, domain.StatusFailed).WithError(perr.Error()))
	metrics.RecordNotificationFailed(string(perr.Code))

	log.Error().Err(perr).Str("error_code", string(perr.Code)).Msg("notification processing failed")
	return perr
}

// auditBestEffort writes one audit row; errors are logged only. The broker
// ack/reject decision is authoritative, not the audit ledger.
func (p *Processor) auditBestEffort(ctx context.Context, log zerolog.Logger, e audit.Entry) {
	if err := p.audit.Log(ctx, e); err != nil {
		log.Error().Err(err).Msg("audit log write failed")
	}
}
