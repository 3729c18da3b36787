package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/estevaoantuness/agentenaval/internal/metrics"
)

// Sentinel errors for the two upstream failure modes callers care about.
var (
	ErrTimeout  = errors.New("llm: request timed out")
	ErrUpstream = errors.New("llm: upstream error")
)

// gpt-4o-mini list prices per 1K tokens, USD.
const (
	priceInputPer1K  = 0.00015
	priceOutputPer1K = 0.0006
)

// Turn is one prior exchange entry sent as conversation context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply carries the generated text together with usage metadata.
type Reply struct {
	Text         string
	TokensInput  int
	TokensOutput int
	TokensTotal  int
	CostUSD      float64
	CostCents    int
	LatencyMs    int
}

// Config defines connection parameters for the chat-completions API.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New creates a chat-completions client.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "llm"),
		metrics:    metricRegistry,
	}
}

type chatRequest struct {
	Model       string  `json:"model"`
	Messages    []Turn  `json:"messages"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate sends the system prompt, prior turns, and the new user message,
// returning the assistant reply with token, latency, and cost metadata.
// Timeouts surface as ErrTimeout, any other upstream failure as ErrUpstream.
func (c *Client) Generate(ctx context.Context, systemPrompt string, history []Turn, userMessage string) (*Reply, error) {
	msgs := make([]Turn, 0, len(history)+2)
	msgs = append(msgs, Turn{Role: "system", Content: systemPrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, Turn{Role: "user", Content: userMessage})

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		if isTimeout(err) {
			c.observe("timeout", latency)
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.cfg.Timeout)
		}
		c.observe("error", latency)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.observe("error", latency)
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.observe("error", latency)
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.observe("error", latency)
		msg := strings.TrimSpace(string(raw))
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		c.observe("error", latency)
		return nil, fmt.Errorf("%w: empty choices", ErrUpstream)
	}

	costUSD := float64(parsed.Usage.PromptTokens)/1000*priceInputPer1K +
		float64(parsed.Usage.CompletionTokens)/1000*priceOutputPer1K

	reply := &Reply{
		Text:         parsed.Choices[0].Message.Content,
		TokensInput:  parsed.Usage.PromptTokens,
		TokensOutput: parsed.Usage.CompletionTokens,
		TokensTotal:  parsed.Usage.TotalTokens,
		CostUSD:      costUSD,
		CostCents:    int(costUSD * 100),
		LatencyMs:    int(latency.Milliseconds()),
	}

	c.observe("success", latency)
	if c.metrics != nil {
		c.metrics.OpenAITokens.Add(float64(reply.TokensTotal))
		c.metrics.OpenAICostCents.Add(float64(reply.CostCents))
	}
	c.logger.Info("response generated",
		"model", c.cfg.Model,
		"tokens_total", reply.TokensTotal,
		"latency_ms", reply.LatencyMs,
		"cost_usd", fmt.Sprintf("%.6f", costUSD),
	)

	return reply, nil
}

func (c *Client) observe(status string, latency time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.OpenAIRequests.WithLabelValues(status).Inc()
	c.metrics.OpenAILatency.WithLabelValues(status).Observe(latency.Seconds())
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
