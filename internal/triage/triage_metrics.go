package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	TriagesTotal    *prometheus.CounterVec
	TriageDuration  *prometheus.HistogramVec
	DecodesTotal    *prometheus.CounterVec
	LLMCallsTotal   prometheus.Counter
	LLMTokensIn     prometheus.Counter
	LLMTokensOut    prometheus.Counter
	LLMDuration     prometheus.Histogram
	TriageTokensIn  prometheus.Histogram
	TriageTokensOut prometheus.Histogram
	SubmitsTotal    *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_triages_total",
			Help: "Total triage runs by final status.",
		}, []string{"status"}),
		TriageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_triage_duration_seconds",
			Help:    "Duration of triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"status", "model"}),
		DecodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_decodes_total",
			Help: "Decode step outcomes (ok, empty, malformed, invalid_shape, empty_ticket).",
		}, []string{"outcome"}),
		LLMCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sift_llm_calls_total",
			Help: "Total model provider calls.",
		}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sift_llm_tokens_input_total",
			Help: "Total model input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sift_llm_tokens_output_total",
			Help: "Total model output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_llm_call_duration_seconds",
			Help:    "Duration of individual model calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
		TriageTokensIn: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_triage_tokens_input",
			Help:    "Input tokens consumed per triage run.",
			Buckets: prometheus.ExponentialBuckets(50, 2, 12), // 50 .. ~204800
		}),
		TriageTokensOut: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_triage_tokens_output",
			Help:    "Output tokens consumed per triage run.",
			Buckets: prometheus.ExponentialBuckets(50, 2, 12), // 50 .. ~204800
		}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_submits_total",
			Help: "Total event submissions by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.TriagesTotal,
		m.TriageDuration,
		m.DecodesTotal,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.TriageTokensIn,
		m.TriageTokensOut,
		m.SubmitsTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnModelCall: func(inputTokens, outputTokens int, duration float64) {
			m.LLMCallsTotal.Inc()
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
			m.LLMDuration.Observe(duration)
		},
		OnDecode: func(outcome string) {
			m.DecodesTotal.WithLabelValues(outcome).Inc()
		},
		OnComplete: func(e *CompleteEvent) {
			m.TriagesTotal.WithLabelValues(string(e.Status)).Inc()
			m.TriageDuration.WithLabelValues(string(e.Status), e.Model).Observe(e.Duration)
			m.TriageTokensIn.Observe(float64(e.TokensIn))
			m.TriageTokensOut.Observe(float64(e.TokensOut))
		},
	}
}
