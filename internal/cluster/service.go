package cluster

import "github.com/flowmesh/clusternode/internal/sessions"

// CloseReason explains why a client session was closed.
type CloseReason int32

const (
	// CloseReasonClientAction means the client requested the close.
	CloseReasonClientAction CloseReason = iota
	// CloseReasonServiceAction means the hosted service requested the close.
	CloseReasonServiceAction
	// CloseReasonTimeout means the cluster timed the session out.
	CloseReasonTimeout
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonClientAction:
		return "client-action"
	case CloseReasonServiceAction:
		return "service-action"
	case CloseReasonTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Service is the hosted replicated state machine. Every callback is
// invoked from the duty-cycle thread with events in exact log order,
// identically during replay and live consumption. A returned error is
// fatal to the agent: swallowing one would desynchronize this node's
// state from the rest of the cluster.
type Service interface {
	// OnStart is called once before any log event is dispatched.
	OnStart(cluster Cluster) error

	// OnSessionOpen is called when the log opens a client session.
	OnSessionOpen(session *sessions.ClientSession, timestampMs int64) error

	// OnSessionClose is called when the log closes a client session.
	OnSessionClose(session *sessions.ClientSession, timestampMs int64, reason CloseReason) error

	// OnSessionMessage delivers one application message. The payload
	// region is only valid for the duration of the call.
	OnSessionMessage(sessionID, correlationID, timestampMs int64, payload []byte) error

	// OnTimerEvent delivers a fired timer previously scheduled through
	// the cluster.
	OnTimerEvent(correlationID, timestampMs int64) error
}

// Cluster is the facility the agent hands to the hosted service. Time and
// timers are derived entirely from log content: TimeMs only advances when
// an event is dispatched, and a scheduled timer only takes effect when its
// timer-event later arrives through the log.
type Cluster interface {
	// ClientSession returns the session for a cluster session id, or nil.
	ClientSession(sessionID int64) *sessions.ClientSession

	// TimeMs returns the logical clock: the timestamp of the most
	// recently dispatched log event. Never a wall-clock read.
	TimeMs() int64

	// ScheduleTimer asks the cluster to deliver a timer-event for
	// correlationID once the logical clock passes deadlineMs.
	ScheduleTimer(correlationID, deadlineMs int64) error

	// CancelTimer cancels a previously scheduled timer.
	CancelTimer(correlationID int64) error
}
