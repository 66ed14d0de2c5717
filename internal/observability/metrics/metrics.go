package metrics

import "github.com/prometheus/client_golang/prometheus"

// VoiceMetrics exposes counters/histograms for call admission, tool dispatch
// and credential maintenance.
type VoiceMetrics struct {
	admissionTotal  *prometheus.CounterVec
	dispatchTotal   *prometheus.CounterVec
	adapterLatency  *prometheus.HistogramVec
	auditFailures   *prometheus.CounterVec
	refreshTotal    *prometheus.CounterVec
	sessionEvents   *prometheus.CounterVec
	alertDeliveries *prometheus.CounterVec
}

func NewVoiceMetrics(reg prometheus.Registerer) *VoiceMetrics {
	m := &VoiceMetrics{
		admissionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicvoice",
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Inbound call admission decisions",
		}, []string{"outcome"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicvoice",
			Subsystem: "dispatch",
			Name:      "tool_calls_total",
			Help:      "Tool calls dispatched by tool, backend and outcome",
		}, []string{"tool", "backend", "outcome"}),
		adapterLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicvoice",
			Subsystem: "dispatch",
			Name:      "adapter_latency_seconds",
			Help:      "Latency of backend adapter calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "tool"}),
		auditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicvoice",
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "PHI audit rows that could not be written",
		}, []string{"tool"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicvoice",
			Subsystem: "credentials",
			Name:      "refresh_total",
			Help:      "Practice-management credential refresh attempts by outcome",
		}, []string{"outcome"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicvoice",
			Subsystem: "voicesession",
			Name:      "events_total",
			Help:      "Voice session lifecycle webhooks received",
		}, []string{"type"}),
		alertDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicvoice",
			Subsystem: "notify",
			Name:      "staff_alerts_total",
			Help:      "Staff transfer alerts by channel and status",
		}, []string{"channel", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.admissionTotal,
		m.dispatchTotal,
		m.adapterLatency,
		m.auditFailures,
		m.refreshTotal,
		m.sessionEvents,
		m.alertDeliveries,
	)
	return m
}

func (m *VoiceMetrics) ObserveAdmission(outcome string) {
	if m == nil {
		return
	}
	m.admissionTotal.WithLabelValues(outcome).Inc()
}

func (m *VoiceMetrics) ObserveDispatch(tool, backend, outcome string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(tool, backend, outcome).Inc()
}

func (m *VoiceMetrics) ObserveAdapterLatency(backend, tool string, seconds float64) {
	if m == nil {
		return
	}
	m.adapterLatency.WithLabelValues(backend, tool).Observe(seconds)
}

func (m *VoiceMetrics) ObserveAuditFailure(tool string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(tool).Inc()
}

func (m *VoiceMetrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
}

func (m *VoiceMetrics) ObserveSessionEvent(eventType string) {
	if m == nil {
		return
	}
	m.sessionEvents.WithLabelValues(eventType).Inc()
}

func (m *VoiceMetrics) ObserveAlert(channel string, delivered bool) {
	if m == nil {
		return
	}
	status := "failed"
	if delivered {
		status = "sent"
	}
	m.alertDeliveries.WithLabelValues(channel, status).Inc()
}
