package metrics

// Metric name constants following Prometheus naming conventions
// Format: clusternode_{component}_{metric}_{unit}

// Log dispatch metrics
const (
	MetricLogFragmentsTotal  = "clusternode_log_fragments_total"
	MetricLogTimestampMs     = "clusternode_log_timestamp_ms"
	MetricSessionsOpen       = "clusternode_sessions_open"
	MetricDutyCycleWorkTotal = "clusternode_duty_cycle_work_total"
)

// Replay metrics
const (
	MetricRecordingsReplayedTotal = "clusternode_recordings_replayed_total"
	MetricReplayDuration          = "clusternode_replay_duration_seconds"
)

// Timer gateway metrics
const (
	MetricTimerSendAttemptsTotal = "clusternode_timer_send_attempts_total"
	MetricTimerSendFailuresTotal = "clusternode_timer_send_failures_total"
)

// Label names
const (
	LabelTemplate = "template"
	LabelRequest  = "request"
)
