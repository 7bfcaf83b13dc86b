package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AgentMetrics tracks the duty-cycle agent: fragments dispatched from the
// log, open sessions, replay progress, and timer gateway sends. All
// methods are nil-safe so the agent can run unmetered.
type AgentMetrics struct {
	fragmentsTotal          *prometheus.CounterVec
	logTimestampMs          *prometheus.GaugeVec
	sessionsOpen            *prometheus.GaugeVec
	dutyCycleWorkTotal      *prometheus.CounterVec
	recordingsReplayedTotal *prometheus.CounterVec
	replayDuration          *prometheus.HistogramVec
	timerSendAttemptsTotal  *prometheus.CounterVec
	timerSendFailuresTotal  *prometheus.CounterVec
}

// NewAgentMetrics initializes agent metrics with the collector
func NewAgentMetrics(collector *Collector) *AgentMetrics {
	return &AgentMetrics{
		fragmentsTotal: collector.RegisterCounter(
			MetricLogFragmentsTotal,
			"Total log fragments dispatched by template",
			[]string{LabelTemplate},
		),
		logTimestampMs: collector.RegisterGauge(
			MetricLogTimestampMs,
			"Logical clock: timestamp of the most recently dispatched log event",
			nil,
		),
		sessionsOpen: collector.RegisterGauge(
			MetricSessionsOpen,
			"Client sessions currently open",
			nil,
		),
		dutyCycleWorkTotal: collector.RegisterCounter(
			MetricDutyCycleWorkTotal,
			"Total work counted across duty-cycle ticks",
			nil,
		),
		recordingsReplayedTotal: collector.RegisterCounter(
			MetricRecordingsReplayedTotal,
			"Total historical recordings replayed",
			nil,
		),
		replayDuration: collector.RegisterHistogram(
			MetricReplayDuration,
			"Duration of one recording replay in seconds",
			nil,
			prometheus.DefBuckets,
		),
		timerSendAttemptsTotal: collector.RegisterCounter(
			MetricTimerSendAttemptsTotal,
			"Total timer request send attempts by request type",
			[]string{LabelRequest},
		),
		timerSendFailuresTotal: collector.RegisterCounter(
			MetricTimerSendFailuresTotal,
			"Total timer requests that exhausted their send attempts",
			[]string{LabelRequest},
		),
	}
}

// RecordFragment counts one dispatched fragment for a template name
func (m *AgentMetrics) RecordFragment(template string) {
	if m == nil {
		return
	}
	m.fragmentsTotal.WithLabelValues(template).Inc()
}

// RecordLogTimestamp publishes the logical clock value
func (m *AgentMetrics) RecordLogTimestamp(timestampMs int64) {
	if m == nil {
		return
	}
	m.logTimestampMs.WithLabelValues().Set(float64(timestampMs))
}

// RecordSessionOpened increments the open-session gauge
func (m *AgentMetrics) RecordSessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpen.WithLabelValues().Inc()
}

// RecordSessionClosed decrements the open-session gauge
func (m *AgentMetrics) RecordSessionClosed() {
	if m == nil {
		return
	}
	m.sessionsOpen.WithLabelValues().Dec()
}

// RecordDutyCycleWork adds one tick's work count
func (m *AgentMetrics) RecordDutyCycleWork(workCount int) {
	if m == nil || workCount <= 0 {
		return
	}
	m.dutyCycleWorkTotal.WithLabelValues().Add(float64(workCount))
}

// RecordRecordingReplayed counts one completed replay and its duration
func (m *AgentMetrics) RecordRecordingReplayed(duration time.Duration) {
	if m == nil {
		return
	}
	m.recordingsReplayedTotal.WithLabelValues().Inc()
	m.replayDuration.WithLabelValues().Observe(duration.Seconds())
}

// RecordTimerSendAttempt counts one send attempt for a request type
func (m *AgentMetrics) RecordTimerSendAttempt(request string) {
	if m == nil {
		return
	}
	m.timerSendAttemptsTotal.WithLabelValues(request).Inc()
}

// RecordTimerSendFailure counts one exhausted-retries failure
func (m *AgentMetrics) RecordTimerSendFailure(request string) {
	if m == nil {
		return
	}
	m.timerSendFailuresTotal.WithLabelValues(request).Inc()
}
