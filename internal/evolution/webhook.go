package evolution

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/estevaoantuness/agentenaval/internal/metrics"
	"github.com/estevaoantuness/agentenaval/internal/screening"
)

// Message is one entry in an Evolution messages.upsert delivery.
type Message struct {
	RemoteJid    string `json:"remoteJid"`
	FromMe       bool   `json:"fromMe"`
	ID           string `json:"id"`
	Conversation string `json:"conversation,omitempty"`
}

// MessageData wraps the message batch of a delivery.
type MessageData struct {
	InstanceID string    `json:"instanceId"`
	Messages   []Message `json:"messages"`
}

// WebhookPayload is the full Evolution API webhook body.
type WebhookPayload struct {
	Event string      `json:"event"`
	Data  MessageData `json:"data"`
}

// MessageScreener handles inbound lead messages.
type MessageScreener interface {
	ReceiveMessage(ctx context.Context, contactKey, text string) (*screening.Result, error)
}

// TextSender delivers replies back to the contact.
type TextSender interface {
	SendText(ctx context.Context, phone, text string) error
}

// RateLimiter bounds deliveries per key within a window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// WebhookConfig tunes the webhook handler.
type WebhookConfig struct {
	Secret            string
	RateLimitPerPhone int
	RateLimitWindow   time.Duration
}

// WebhookHandler authenticates Evolution API deliveries and forwards lead
// messages to the screening engine.
type WebhookHandler struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cfg      WebhookConfig
	screener MessageScreener
	sender   TextSender
	limiter  RateLimiter
}

// NewWebhookHandler creates a webhook handler. sender and limiter may be nil
// (replies skipped, no rate limiting).
func NewWebhookHandler(logger *slog.Logger, metricRegistry *metrics.Metrics, cfg WebhookConfig, screener MessageScreener, sender TextSender, limiter RateLimiter) *WebhookHandler {
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	return &WebhookHandler{
		logger:   logger.With("component", "evolution_webhook"),
		metrics:  metricRegistry,
		cfg:      cfg,
		screener: screener,
		sender:   sender,
		limiter:  limiter,
	}
}

// ServeHTTP satisfies http.Handler. GET answers the Evolution verification
// probe; POST carries message deliveries.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeStatusOK(w)
		return
	case http.MethodPost:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.countError("evolution_webhook")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !h.authenticated(r, body) {
		h.countError("evolution_webhook_auth")
		h.logger.Warn("webhook authentication failed", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.countError("evolution_webhook")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if h.metrics != nil {
		h.metrics.WebhookEvents.WithLabelValues(payload.Event).Inc()
	}

	if payload.Event != "messages.upsert" {
		h.logger.Debug("ignoring non-message event", "event", payload.Event)
		writeStatusOK(w)
		return
	}

	for _, msg := range payload.Data.Messages {
		if msg.FromMe {
			continue
		}
		h.process(r.Context(), msg)
	}

	writeStatusOK(w)
}

func (h *WebhookHandler) process(ctx context.Context, msg Message) {
	if h.limiter != nil && h.cfg.RateLimitPerPhone > 0 {
		key := "webhook_rate:" + msg.RemoteJid
		allowed, err := h.limiter.Allow(ctx, key, h.cfg.RateLimitPerPhone, h.cfg.RateLimitWindow)
		if err != nil {
			h.logger.Warn("rate limiter unavailable, allowing delivery", "error", err)
		} else if !allowed {
			h.logger.Warn("rate limit exceeded, dropping message", "remote_jid", msg.RemoteJid)
			h.countError("evolution_webhook_rate")
			return
		}
	}

	result, err := h.screener.ReceiveMessage(ctx, msg.RemoteJid, msg.Conversation)
	if err != nil {
		h.countError("evolution_webhook_process")
		h.logger.Error("failed processing lead message",
			"remote_jid", msg.RemoteJid,
			"code", screening.ErrorCode(err),
			"error", err,
		)
		return
	}

	h.logger.Info("webhook message processed",
		"lead_id", result.LeadID,
		"phone", result.Phone,
		"tokens_total", result.TokensTotal,
	)

	if h.sender != nil && result.Reply != "" {
		if err := h.sender.SendText(ctx, result.Phone, result.Reply); err != nil {
			h.countError("evolution_send")
			h.logger.Error("failed sending reply", "phone", result.Phone, "error", err)
		}
	}
}

// authenticated accepts either the shared bearer token or an HMAC SHA-256
// signature of the body. Both comparisons are timing-safe.
func (h *WebhookHandler) authenticated(r *http.Request, body []byte) bool {
	if h.cfg.Secret == "" {
		return false
	}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		if hmac.Equal([]byte(token), []byte(h.cfg.Secret)) {
			return true
		}
	}

	signature := strings.TrimSpace(r.Header.Get("X-Webhook-Signature"))
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.cfg.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

func (h *WebhookHandler) countError(component string) {
	if h.metrics != nil {
		h.metrics.Errors.WithLabelValues(component).Inc()
	}
}

func writeStatusOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
