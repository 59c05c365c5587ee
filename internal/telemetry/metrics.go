package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the conversation agent.
type Metrics struct {
	TurnsTotal      *prometheus.CounterVec
	LLMDurationMs   *prometheus.HistogramVec
	PromptEstimate  *prometheus.HistogramVec
	TokensTotal     *prometheus.CounterVec
	ContextEntities *prometheus.GaugeVec
	ActiveSessions  *prometheus.GaugeVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hass_agent_turns_total",
			Help: "Total number of conversation turns processed.",
		}, []string{"entry", "outcome", "error_kind"}),

		LLMDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hass_agent_llm_duration_ms",
			Help:    "Chat-completions call duration in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"entry", "outcome"}),

		PromptEstimate: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hass_agent_prompt_tokens_estimated",
			Help:    "Estimated prompt tokens per request.",
			Buckets: []float64{64, 128, 256, 512, 1024, 2048, 4096, 8192},
		}, []string{"entry"}),

		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hass_agent_tokens_total",
			Help: "Tokens reported by the endpoint.",
		}, []string{"entry", "direction"}),

		ContextEntities: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hass_agent_context_entities",
			Help: "Entities included in the most recent context summary.",
		}, []string{"entry"}),

		ActiveSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hass_agent_sessions",
			Help: "Conversation sessions currently held in memory.",
		}, []string{"entry"}),
	}
}

// TurnLabels holds the values recorded for one processed turn.
type TurnLabels struct {
	Entry            string
	Outcome          string
	ErrorKind        string
	DurationMs       float64
	EstimatedTokens  int
	PromptTokens     int
	CompletionTokens int
	ContextEntities  int
}

// RecordTurn records metrics for a completed turn.
func (m *Metrics) RecordTurn(labels TurnLabels) {
	m.TurnsTotal.WithLabelValues(labels.Entry, labels.Outcome, labels.ErrorKind).Inc()

	m.LLMDurationMs.WithLabelValues(labels.Entry, labels.Outcome).Observe(labels.DurationMs)

	if labels.EstimatedTokens > 0 {
		m.PromptEstimate.WithLabelValues(labels.Entry).Observe(float64(labels.EstimatedTokens))
	}

	if labels.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Entry, "prompt").Add(float64(labels.PromptTokens))
	}

	if labels.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Entry, "completion").Add(float64(labels.CompletionTokens))
	}

	m.ContextEntities.WithLabelValues(labels.Entry).Set(float64(labels.ContextEntities))
}

// SetSessions records how many sessions an agent holds.
func (m *Metrics) SetSessions(entry string, n int) {
	m.ActiveSessions.WithLabelValues(entry).Set(float64(n))
}

// ForgetEntry drops every series of a removed entry.
func (m *Metrics) ForgetEntry(entry string) {
	labels := prometheus.Labels{"entry": entry}
	m.TurnsTotal.DeletePartialMatch(labels)
	m.LLMDurationMs.DeletePartialMatch(labels)
	m.PromptEstimate.DeletePartialMatch(labels)
	m.TokensTotal.DeletePartialMatch(labels)
	m.ContextEntities.DeletePartialMatch(labels)
	m.ActiveSessions.DeletePartialMatch(labels)
}
