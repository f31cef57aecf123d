package metrics

import "github.com/prometheus/client_golang/prometheus"

// CallMetrics exposes counters/histograms for the call orchestration flow.
type CallMetrics struct {
	dispatchedTotal *prometheus.CounterVec
	outcomeTotal    *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
	urgentTotal     prometheus.Counter
}

func NewCallMetrics(reg prometheus.Registerer) *CallMetrics {
	m := &CallMetrics{
		dispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "previsit",
			Subsystem: "calls",
			Name:      "dispatched_total",
			Help:      "Total pre-visit call attempts dispatched",
		}, []string{"attempt"}),
		outcomeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "previsit",
			Subsystem: "calls",
			Name:      "outcome_total",
			Help:      "Terminal call attempt outcomes",
		}, []string{"state"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "previsit",
			Subsystem: "calls",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of telephony webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		urgentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "previsit",
			Subsystem: "calls",
			Name:      "urgent_escalations_total",
			Help:      "Total urgent escalations raised from calls",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.dispatchedTotal, m.outcomeTotal, m.webhookLatency, m.urgentTotal)
	return m
}

func (m *CallMetrics) ObserveDispatched(attempt string) {
	if m == nil {
		return
	}
	m.dispatchedTotal.WithLabelValues(attempt).Inc()
}

func (m *CallMetrics) ObserveOutcome(state string) {
	if m == nil {
		return
	}
	m.outcomeTotal.WithLabelValues(state).Inc()
}

func (m *CallMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

func (m *CallMetrics) ObserveUrgent() {
	if m == nil {
		return
	}
	m.urgentTotal.Inc()
}

// ExtractionMetrics exposes counters for the transcript extraction pipeline.
type ExtractionMetrics struct {
	extractedTotal *prometheus.CounterVec
	failureTotal   *prometheus.CounterVec
	duration       prometheus.Histogram
}

func NewExtractionMetrics(reg prometheus.Registerer) *ExtractionMetrics {
	m := &ExtractionMetrics{
		extractedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "previsit",
			Subsystem: "extraction",
			Name:      "completed_total",
			Help:      "Transcript extractions by urgency bucket",
		}, []string{"urgency"}),
		failureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "previsit",
			Subsystem: "extraction",
			Name:      "failures_total",
			Help:      "Extraction failures by reason",
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "previsit",
			Subsystem: "extraction",
			Name:      "duration_seconds",
			Help:      "End to end extraction duration",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45, 60},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.extractedTotal, m.failureTotal, m.duration)
	return m
}

func (m *ExtractionMetrics) ObserveExtracted(urgency string) {
	if m == nil {
		return
	}
	m.extractedTotal.WithLabelValues(urgency).Inc()
}

func (m *ExtractionMetrics) ObserveFailure(reason string) {
	if m == nil {
		return
	}
	m.failureTotal.WithLabelValues(reason).Inc()
}

func (m *ExtractionMetrics) ObserveDuration(seconds float64) {
	if m == nil {
		return
	}
	m.duration.Observe(seconds)
}
