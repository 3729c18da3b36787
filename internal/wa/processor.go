package wa

import (
	"context"
	"log/slog"
	"time"

	"github.com/estevaoantuness/agentenaval/internal/screening"

	"go.mau.fi/whatsmeow/types/events"
)

const processTimeout = 90 * time.Second

// MessageScreener produces a screening reply for an inbound contact message.
type MessageScreener interface {
	ReceiveMessage(ctx context.Context, contactKey, text string) (*screening.Result, error)
}

// ScreeningProcessor feeds inbound WhatsApp messages into the screening
// engine and sends the generated reply back on the same chat.
type ScreeningProcessor struct {
	screener MessageScreener
	client   *Client
	logger   *slog.Logger
}

// NewScreeningProcessor wires the screening engine to the direct channel.
func NewScreeningProcessor(screener MessageScreener, client *Client, logger *slog.Logger) *ScreeningProcessor {
	return &ScreeningProcessor{
		screener: screener,
		client:   client,
		logger:   logger.With("component", "wa_processor"),
	}
}

// ProcessMessage implements MessageProcessor.
func (p *ScreeningProcessor) ProcessMessage(ctx context.Context, evt *events.Message) {
	text := extractText(evt)
	if text == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	contactKey := evt.Info.Sender.ToNonAD().String()
	result, err := p.screener.ReceiveMessage(ctx, contactKey, text)
	if err != nil {
		p.logger.Error("screening failed", "contact", contactKey, "error", err)
		return
	}

	p.logger.Info("message screened",
		"lead_id", result.LeadID,
		"phone", result.Phone,
		"tokens", result.TokensTotal,
		"latency_ms", result.LatencyMs)

	replyCtx := WithReply(ctx, evt)
	if err := p.client.SendText(replyCtx, evt.Info.Chat, result.Reply); err != nil {
		p.logger.Error("failed to send reply", "chat", evt.Info.Chat.String(), "error", err)
	}
}

func extractText(evt *events.Message) string {
	if evt == nil || evt.Message == nil {
		return ""
	}
	if conv := evt.Message.GetConversation(); conv != "" {
		return conv
	}
	if ext := evt.Message.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}
