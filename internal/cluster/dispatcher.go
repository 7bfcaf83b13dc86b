package cluster

import (
	"github.com/flowmesh/clusternode/internal/codec"
	"github.com/flowmesh/clusternode/internal/sessions"
)

// Template names used as metric labels.
const (
	templateNameSessionMessage = "session-message"
	templateNameTimerEvent     = "timer-event"
	templateNameSessionOpen    = "session-open"
	templateNameSessionClose   = "session-close"
)

// OnFragment dispatches one log fragment: decode the header, route by
// template id, advance the logical clock from the event's timestamp, and
// invoke the hosted service. Used identically during replay and live
// consumption. Unknown template ids are ignored for forward
// compatibility. The dispatcher never aborts mid-batch; a service error
// is recorded and surfaced by the surrounding poll loop, where it is
// fatal to the agent.
func (a *Agent) OnFragment(fragment []byte) {
	head, err := codec.DecodeHeader(fragment)
	if err != nil {
		a.recordDispatchErr(err)
		return
	}

	switch head.TemplateID {
	case codec.TemplateSessionHeader:
		sessionHeader, err := codec.DecodeSessionHeader(head, fragment)
		if err != nil {
			a.recordDispatchErr(err)
			return
		}

		a.advanceClock(sessionHeader.Timestamp)
		a.metrics.RecordFragment(templateNameSessionMessage)

		payload := fragment[codec.HeaderLength+int(head.BlockLength):]
		if err := a.service.OnSessionMessage(
			sessionHeader.ClusterSessionID,
			sessionHeader.CorrelationID,
			sessionHeader.Timestamp,
			payload,
		); err != nil {
			a.recordDispatchErr(err)
		}

	case codec.TemplateTimerEvent:
		timerEvent, err := codec.DecodeTimerEvent(head, fragment)
		if err != nil {
			a.recordDispatchErr(err)
			return
		}

		a.advanceClock(timerEvent.Timestamp)
		a.metrics.RecordFragment(templateNameTimerEvent)

		if err := a.service.OnTimerEvent(timerEvent.CorrelationID, timerEvent.Timestamp); err != nil {
			a.recordDispatchErr(err)
		}

	case codec.TemplateSessionOpen:
		openEvent, err := codec.DecodeSessionOpen(head, fragment)
		if err != nil {
			a.recordDispatchErr(err)
			return
		}

		response, err := a.client.AddPublication(openEvent.ResponseChannel, openEvent.ResponseStreamID)
		if err != nil {
			a.recordDispatchErr(err)
			return
		}

		session := sessions.NewClientSession(
			openEvent.ClusterSessionID,
			openEvent.ResponseChannel,
			openEvent.ResponseStreamID,
			response,
		)
		a.registry.Put(openEvent.ClusterSessionID, session)
		a.advanceClock(openEvent.Timestamp)
		a.metrics.RecordFragment(templateNameSessionOpen)
		a.metrics.RecordSessionOpened()

		if err := a.service.OnSessionOpen(session, openEvent.Timestamp); err != nil {
			a.recordDispatchErr(err)
		}

	case codec.TemplateSessionClose:
		closeEvent, err := codec.DecodeSessionClose(head, fragment)
		if err != nil {
			a.recordDispatchErr(err)
			return
		}

		// A close for an unknown or already-closed session is a no-op.
		session := a.registry.Remove(closeEvent.ClusterSessionID)
		if session == nil {
			return
		}

		a.advanceClock(closeEvent.Timestamp)
		a.metrics.RecordFragment(templateNameSessionClose)
		a.metrics.RecordSessionClosed()

		if err := session.CloseResponse(); err != nil {
			a.log.Warn().Err(err).Int64("session_id", session.ID()).Msg("Failed to close session response publication")
		}

		if err := a.service.OnSessionClose(session, closeEvent.Timestamp, CloseReason(closeEvent.CloseReason)); err != nil {
			a.recordDispatchErr(err)
		}
	}
}

// advanceClock moves the logical clock to the timestamp of the event being
// dispatched. Log order keeps it non-decreasing.
func (a *Agent) advanceClock(timestampMs int64) {
	a.timestampMs = timestampMs
	a.metrics.RecordLogTimestamp(timestampMs)
}

func (a *Agent) recordDispatchErr(err error) {
	if a.dispatchErr == nil {
		a.dispatchErr = err
	}
}
