package evolution

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/estevaoantuness/agentenaval/internal/screening"
)

type fakeScreener struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeScreener) ReceiveMessage(_ context.Context, contactKey, text string) (*screening.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, contactKey+"|"+text)
	if f.err != nil {
		return nil, f.err
	}
	return &screening.Result{
		LeadID: "lead-1",
		Phone:  "5511999998888",
		Reply:  "Olá! Qual sua região?",
	}, nil
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	phone string
}

func (f *fakeSender) SendText(_ context.Context, phone, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phone = phone
	f.sent = append(f.sent, text)
	return nil
}

type fakeLimiter struct {
	allowed bool
}

func (f *fakeLimiter) Allow(_ context.Context, _ string, _ int, _ time.Duration) (bool, error) {
	return f.allowed, nil
}

func newTestHandler(screener *fakeScreener, sender *fakeSender, limiter RateLimiter) *WebhookHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var textSender TextSender
	if sender != nil {
		textSender = sender
	}
	return NewWebhookHandler(logger, nil, WebhookConfig{
		Secret:            "shh",
		RateLimitPerPhone: 30,
		RateLimitWindow:   time.Minute,
	}, screener, textSender, limiter)
}

const upsertPayload = `{
	"event": "messages.upsert",
	"data": {
		"instanceId": "inst-1",
		"messages": [
			{"remoteJid": "5511999998888@s.whatsapp.net", "fromMe": false, "id": "m1", "conversation": "quero uma franquia"}
		]
	}
}`

func TestWebhookVerificationProbe(t *testing.T) {
	handler := newTestHandler(&fakeScreener{}, nil, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/evolution", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestWebhookRejectsUnauthenticated(t *testing.T) {
	screener := &fakeScreener{}
	handler := newTestHandler(screener, nil, nil)

	cases := map[string]func(r *http.Request){
		"no credentials": func(r *http.Request) {},
		"wrong bearer":   func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") },
		"wrong signature": func(r *http.Request) {
			r.Header.Set("X-Webhook-Signature", "deadbeef")
		},
	}

	for name, decorate := range cases {
		req := httptest.NewRequest(http.MethodPost, "/webhook/evolution", strings.NewReader(upsertPayload))
		decorate(req)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rec.Code)
		}
	}
	if len(screener.calls) != 0 {
		t.Fatalf("screener must not run unauthenticated, got %d calls", len(screener.calls))
	}
}

func TestWebhookAcceptsBearerToken(t *testing.T) {
	screener := &fakeScreener{}
	sender := &fakeSender{}
	handler := newTestHandler(screener, sender, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook/evolution", strings.NewReader(upsertPayload))
	req.Header.Set("Authorization", "Bearer shh")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(screener.calls) != 1 {
		t.Fatalf("expected one screened message, got %d", len(screener.calls))
	}
	if screener.calls[0] != "5511999998888@s.whatsapp.net|quero uma franquia" {
		t.Fatalf("unexpected call %q", screener.calls[0])
	}
	if len(sender.sent) != 1 || sender.phone != "5511999998888" {
		t.Fatalf("expected reply sent to lead phone, got %+v", sender.sent)
	}
}

func TestWebhookAcceptsHMACSignature(t *testing.T) {
	screener := &fakeScreener{}
	handler := newTestHandler(screener, nil, nil)

	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write([]byte(upsertPayload))
	signature := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook/evolution", strings.NewReader(upsertPayload))
	req.Header.Set("X-Webhook-Signature", signature)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(screener.calls) != 1 {
		t.Fatalf("expected one screened message, got %d", len(screener.calls))
	}
}

func TestWebhookSkipsOwnMessages(t *testing.T) {
	screener := &fakeScreener{}
	handler := newTestHandler(screener, nil, nil)

	payload := `{
		"event": "messages.upsert",
		"data": {"instanceId": "inst-1", "messages": [
			{"remoteJid": "5511999998888@s.whatsapp.net", "fromMe": true, "id": "m1", "conversation": "resposta nossa"}
		]}
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/evolution", strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer shh")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(screener.calls) != 0 {
		t.Fatalf("own messages must be skipped, got %d calls", len(screener.calls))
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	screener := &fakeScreener{}
	handler := newTestHandler(screener, nil, nil)

	payload := `{"event": "connection.update", "data": {"instanceId": "inst-1"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/evolution", strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer shh")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(screener.calls) != 0 {
		t.Fatalf("non-message events must be ignored, got %d calls", len(screener.calls))
	}
}

func TestWebhookDropsRateLimited(t *testing.T) {
	screener := &fakeScreener{}
	handler := newTestHandler(screener, nil, &fakeLimiter{allowed: false})

	req := httptest.NewRequest(http.MethodPost, "/webhook/evolution", strings.NewReader(upsertPayload))
	req.Header.Set("Authorization", "Bearer shh")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("rate-limited deliveries still ack with 200, got %d", rec.Code)
	}
	if len(screener.calls) != 0 {
		t.Fatalf("rate-limited message must not reach the screener, got %d calls", len(screener.calls))
	}
}

func TestWebhookAcksOnScreeningFailure(t *testing.T) {
	screener := &fakeScreener{err: errors.New("generation unavailable")}
	handler := newTestHandler(screener, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook/evolution", strings.NewReader(upsertPayload))
	req.Header.Set("Authorization", "Bearer shh")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("processing failures must not bounce the delivery, got %d", rec.Code)
	}
}
