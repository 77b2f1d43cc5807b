package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/real-time-ressys/services/push-service/internal/audit"
	"github.com/baechuer/real-time-ressys/services/push-service/internal/domain"
)

type fakeIdempotency struct {
	states      map[string]domain.IdempotencyStatus
	checkErr    error
	markSentErr error

	processing []string
	sent       []string
	failed     []string
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{states: map[string]domain.IdempotencyStatus{}}
}

func (f *fakeIdempotency) Check(_ context.Context, key string) (domain.IdempotencyStatus, error) {
	if f.checkErr != nil {
		return domain.IdempotencyNotFound, f.checkErr
	}
	if s, ok := f.states[key]; ok {
		return s, nil
	}
	return domain.IdempotencyNotFound, nil
}

func (f *fakeIdempotency) MarkProcessing(_ context.Context, key string) error {
	f.processing = append(f.processing, key)
	f.states[key] = domain.IdempotencyProcessing
	return nil
}

func (f *fakeIdempotency) MarkSent(_ context.Context, key string) error {
	if f.markSentErr != nil {
		return f.markSentErr
	}
	f.sent = append(f.sent, key)
	f.states[key] = domain.IdempotencySent
	return nil
}

func (f *fakeIdempotency) MarkFailed(_ context.Context, key string) error {
	f.failed = append(f.failed, key)
	f.states[key] = domain.IdempotencyFailed
	return nil
}

type fakeTemplates struct {
	tmpl  *domain.Template
	err   error
	calls int
}

func (f *fakeTemplates) Fetch(_ context.Context, _, _ string) (*domain.Template, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tmpl, nil
}

type sendCall struct {
	token, title, body, traceID string
}

type fakePush struct {
	err   error
	calls []sendCall
}

func (f *fakePush) Send(_ context.Context, token, title, body, traceID string, _ map[string]string) error {
	f.calls = append(f.calls, sendCall{token, title, body, traceID})
	return f.err
}

type fakeAudit struct {
	entries []audit.Entry
	err     error
}

func (f *fakeAudit) Log(_ context.Context, e audit.Entry) error {
	f.entries = append(f.entries, e)
	return f.err
}

func welcomeTemplate() *domain.Template {
	return &domain.Template{
		Code:     "WELCOME",
		Language: "en",
		Content:  domain.TemplateContent{Title: "Hi {{user_name}}", Body: "Welcome"},
	}
}

func payload(t *testing.T, overrides map[string]any) []byte {
	t.Helper()

	base := map[string]any{
		"trace_id":          "t1",
		"idempotency_key":   "k1",
		"user_id":           "5aa9c9a1-2f3e-4b1c-9a6e-0d4f7b2c8e11",
		"notification_type": "push",
		"template_code":     "WELCOME",
		"variables":         map[string]any{"user_name": "Alice"},
		"metadata":          map[string]any{"push_token": "abcdefghij0123456789"},
	}
	for k, v := range overrides {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	raw, err := json.Marshal(base)
	require.NoError(t, err)
	return raw
}

func newProcessor() (*Processor, *fakeIdempotency, *fakeTemplates, *fakePush, *fakeAudit) {
	idem := newFakeIdempotency()
	tmpl := &fakeTemplates{tmpl: welcomeTemplate()}
	push := &fakePush{}
	sink := &fakeAudit{}
	return New(idem, tmpl, push, sink), idem, tmpl, push, sink
}

func TestProcess_HappyPath(t *testing.T) {
	p, idem, _, push, sink := newProcessor()

	err := p.Process(context.Background(), payload(t, nil))
	require.NoError(t, err)

	require.Len(t, push.calls, 1)
	assert.Equal(t, "abcdefghij0123456789", push.calls[0].token)
	assert.Equal(t, "Hi Alice", push.calls[0].title)
	assert.Equal(t, "Welcome", push.calls[0].body)
	assert.Equal(t, "t1", push.calls[0].traceID)

	assert.Equal(t, []string{"k1"}, idem.processing)
	assert.Equal(t, []string{"k1"}, idem.sent)
	assert.Empty(t, idem.failed)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, domain.StatusSent, sink.entries[0].Status)
	assert.Equal(t, "t1", sink.entries[0].TraceID)
}

func TestProcess_ReplaySkipsGateway(t *testing.T) {
	p, idem, _, push, sink := newProcessor()
	idem.states["k1"] = domain.IdempotencySent

	err := p.Process(context.Background(), payload(t, nil))
	require.NoError(t, err)

	assert.Empty(t, push.calls)
	assert.Empty(t, idem.processing)
	assert.Empty(t, sink.entries)
}

func TestProcess_ProcessingElsewhereSkips(t *testing.T) {
	p, idem, _, push, _ := newProcessor()
	idem.states["k1"] = domain.IdempotencyProcessing

	err := p.Process(context.Background(), payload(t, nil))
	require.NoError(t, err)
	assert.Empty(t, push.calls)
}

func TestProcess_FailedStateReprocesses(t *testing.T) {
	p, idem, _, push, _ := newProcessor()
	idem.states["k1"] = domain.IdempotencyFailed

	err := p.Process(context.Background(), payload(t, nil))
	require.NoError(t, err)
	assert.Len(t, push.calls, 1)
}

func TestProcess_CheckErrorContinues(t *testing.T) {
	p, idem, _, push, _ := newProcessor()
	idem.checkErr = errors.New("redis down")

	err := p.Process(context.Background(), payload(t, nil))
	require.NoError(t, err)
	assert.Len(t, push.calls, 1)
}

func TestProcess_MalformedJSON(t *testing.T) {
	p, idem, _, push, sink := newProcessor()

	err := p.Process(context.Background(), []byte("{ not json"))
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeMalformedMessage, domain.CodeOf(err))

	assert.Empty(t, push.calls)
	assert.Empty(t, idem.processing)
	assert.Empty(t, idem.failed)
	assert.Empty(t, sink.entries)
}

func TestProcess_MissingToken(t *testing.T) {
	p, idem, tmpl, push, sink := newProcessor()

	err := p.Process(context.Background(), payload(t, map[string]any{
		"metadata": map[string]any{"other": "x"},
	}))
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeMissingToken, domain.CodeOf(err))

	assert.Zero(t, tmpl.calls)
	assert.Empty(t, push.calls)
	assert.Equal(t, []string{"k1"}, idem.failed)
	require.Len(t, sink.entries, 1)
	assert.Equal(t, domain.StatusFailed, sink.entries[0].Status)
}

func TestProcess_InvalidToken(t *testing.T) {
	p, idem, tmpl, push, _ := newProcessor()

	err := p.Process(context.Background(), payload(t, map[string]any{
		"metadata": map[string]any{"push_token": "short"},
	}))
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeInvalidToken, domain.CodeOf(err))

	// Validation failures never reach the template service.
	assert.Zero(t, tmpl.calls)
	assert.Empty(t, push.calls)
	assert.Equal(t, []string{"k1"}, idem.failed)
}

func TestProcess_TemplateFetchFailure(t *testing.T) {
	p, idem, tmpl, push, sink := newProcessor()
	tmpl.err = fmt.Errorf("template service returned status 503")

	err := p.Process(context.Background(), payload(t, nil))
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeTemplateFetch, domain.CodeOf(err))

	assert.Empty(t, push.calls)
	assert.Equal(t, []string{"k1"}, idem.failed)
	require.Len(t, sink.entries, 1)
	assert.Contains(t, *entryError(t, sink.entries[0]), "503")
}

func TestProcess_TemplateFetchCircuitOpenPreserved(t *testing.T) {
	p, _, tmpl, _, _ := newProcessor()
	tmpl.err = fmt.Errorf("%w for template_service", domain.ErrCircuitOpen)

	err := p.Process(context.Background(), payload(t, nil))
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeTemplateFetch, domain.CodeOf(err))
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
}

func TestProcess_MissingVariable(t *testing.T) {
	p, idem, _, push, sink := newProcessor()

	err := p.Process(context.Background(), payload(t, map[string]any{
		"variables": map[string]any{},
	}))
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeTemplateRender, domain.CodeOf(err))
	assert.Contains(t, err.Error(), "user_name")

	assert.Empty(t, push.calls)
	assert.Equal(t, []string{"k1"}, idem.failed)
	require.Len(t, sink.entries, 1)
	assert.Contains(t, *entryError(t, sink.entries[0]), "user_name")
}

func TestProcess_PushFailure(t *testing.T) {
	p, idem, _, push, sink := newProcessor()
	push.err = errors.New("FCM request failed: UNAVAILABLE")

	err := p.Process(context.Background(), payload(t, nil))
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodePushFailed, domain.CodeOf(err))

	assert.Equal(t, []string{"k1"}, idem.failed)
	assert.Empty(t, idem.sent)
	require.Len(t, sink.entries, 1)
	assert.Equal(t, domain.StatusFailed, sink.entries[0].Status)
}

func TestProcess_AuditErrorsSwallowed(t *testing.T) {
	p, _, _, push, sink := newProcessor()
	sink.err = errors.New("db down")

	err := p.Process(context.Background(), payload(t, nil))
	require.NoError(t, err)
	assert.Len(t, push.calls, 1)
}

func TestProcess_MarkSentFailureSurfaced(t *testing.T) {
	p, idem, _, push, _ := newProcessor()
	idem.markSentErr = errors.New("redis down")

	err := p.Process(context.Background(), payload(t, nil))
	require.Error(t, err)
	assert.Len(t, push.calls, 1)
}

func TestProcess_EnvelopeShapeAccepted(t *testing.T) {
	p, _, _, push, _ := newProcessor()

	raw := fmt.Sprintf(`{"pattern":"notification.push","data":%s}`, payload(t, nil))
	err := p.Process(context.Background(), []byte(raw))
	require.NoError(t, err)
	require.Len(t, push.calls, 1)
	assert.Equal(t, "t1", push.calls[0].traceID)
}

func TestProcess_LegacyRequestIDFallback(t *testing.T) {
	p, _, _, push, _ := newProcessor()

	err := p.Process(context.Background(), payload(t, map[string]any{
		"trace_id":   nil,
		"request_id": "legacy-1",
	}))
	require.NoError(t, err)
	require.Len(t, push.calls, 1)
	assert.Equal(t, "legacy-1", push.calls[0].traceID)
}

func entryError(t *testing.T, e audit.Entry) *string {
	t.Helper()
	require.NotEmpty(t, e.ErrorMessage)
	return &e.ErrorMessage
}
