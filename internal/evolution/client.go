package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/estevaoantuness/agentenaval/internal/metrics"
)

// Config holds connection parameters for the Evolution API.
type Config struct {
	BaseURL    string
	APIKey     string
	InstanceID string
	Timeout    time.Duration
}

// Client sends outbound WhatsApp messages through the Evolution API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewClient creates an Evolution API client.
func NewClient(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "evolution"),
		metrics:    metricRegistry,
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendText delivers a text message to the given phone number.
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	body, err := json.Marshal(sendTextRequest{Number: phone, Text: text})
	if err != nil {
		return fmt.Errorf("marshal send text: %w", err)
	}

	url := fmt.Sprintf("%s/message/sendText/%s", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.InstanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send text request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		c.observe("send_text", "error", latency)
		return fmt.Errorf("send text: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.observe("send_text", fmt.Sprintf("%d", resp.StatusCode), latency)
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("send text: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	c.observe("send_text", "ok", latency)
	return nil
}

func (c *Client) observe(endpoint, status string, latency time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.EvolutionRequests.WithLabelValues(endpoint, status).Inc()
	c.metrics.EvolutionLatency.WithLabelValues(endpoint, status).Observe(latency.Seconds())
}
