package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	WebhookEvents     *prometheus.CounterVec
	MessagesProcessed *prometheus.CounterVec
	OpenAIRequests    *prometheus.CounterVec
	OpenAILatency     *prometheus.HistogramVec
	OpenAITokens      prometheus.Counter
	OpenAICostCents   prometheus.Counter
	LeadTransitions   *prometheus.CounterVec
	EvolutionRequests *prometheus.CounterVec
	EvolutionLatency  *prometheus.HistogramVec
	Errors            *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Total webhook deliveries received by event type.",
			}, []string{"event"}),
			MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lead_messages_processed_total",
				Help:      "Total inbound lead messages processed by outcome.",
			}, []string{"outcome"}),
			OpenAIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "openai_requests_total",
				Help:      "Total OpenAI API requests by outcome.",
			}, []string{"status"}),
			OpenAILatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "openai_request_duration_seconds",
				Help:      "Latency distribution for OpenAI API calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"status"}),
			OpenAITokens: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "openai_tokens_total",
				Help:      "Total tokens consumed across OpenAI calls.",
			}),
			OpenAICostCents: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "openai_cost_cents_total",
				Help:      "Estimated OpenAI spend in USD cents.",
			}),
			LeadTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lead_status_transitions_total",
				Help:      "Total lead status transitions by origin and destination.",
			}, []string{"from", "to"}),
			EvolutionRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evolution_requests_total",
				Help:      "Total Evolution API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			EvolutionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evolution_request_duration_seconds",
				Help:      "Latency distribution for Evolution API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.WebhookEvents,
			metricsInstance.MessagesProcessed,
			metricsInstance.OpenAIRequests,
			metricsInstance.OpenAILatency,
			metricsInstance.OpenAITokens,
			metricsInstance.OpenAICostCents,
			metricsInstance.LeadTransitions,
			metricsInstance.EvolutionRequests,
			metricsInstance.EvolutionLatency,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
