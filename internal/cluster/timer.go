package cluster

import (
	"errors"
	"runtime"

	"github.com/flowmesh/clusternode/internal/codec"
	"github.com/flowmesh/clusternode/internal/transport"
)

const (
	timerRequestSchedule = "schedule"
	timerRequestCancel   = "cancel"
)

// ScheduleTimer sends a schedule-timer request on the timer control
// stream. The request itself mutates no state; the timer takes effect only
// when its timer-event later arrives through the log, keeping state
// changes log-driven. Exhausting the bounded retries is fatal to the
// hosted service, which cannot proceed without the timer round trip.
func (a *Agent) ScheduleTimer(correlationID, deadlineMs int64) error {
	return a.sendTimerRequest(timerRequestSchedule, correlationID, codec.ScheduleTimerLength,
		func(buf []byte) error {
			_, err := codec.EncodeScheduleTimer(buf, codec.ScheduleTimerRequest{
				CorrelationID: correlationID,
				Deadline:      deadlineMs,
			})
			return err
		})
}

// CancelTimer sends a cancel-timer request on the timer control stream
// with the same bounded-retry semantics as ScheduleTimer.
func (a *Agent) CancelTimer(correlationID int64) error {
	return a.sendTimerRequest(timerRequestCancel, correlationID, codec.CancelTimerLength,
		func(buf []byte) error {
			_, err := codec.EncodeCancelTimer(buf, codec.CancelTimerRequest{
				CorrelationID: correlationID,
			})
			return err
		})
}

// sendTimerRequest claims a zero-copy region on the timer publication,
// encodes the request into it, and commits. Back pressure yields the
// duty-cycle thread and retries up to sendAttempts times.
func (a *Agent) sendTimerRequest(request string, correlationID int64, length int, encode func(buf []byte) error) error {
	for attempt := 0; attempt < sendAttempts; attempt++ {
		a.metrics.RecordTimerSendAttempt(request)

		claim, err := a.timerPublication.TryClaim(length)
		if err != nil {
			if errors.Is(err, transport.ErrBackPressured) {
				runtime.Gosched()
				continue
			}
			return err
		}

		if err := encode(claim.Buffer()); err != nil {
			claim.Abort()
			return err
		}
		claim.Commit()

		return nil
	}

	a.metrics.RecordTimerSendFailure(request)

	return TimerSchedulingFailedError{
		Request:       request,
		CorrelationID: correlationID,
		Attempts:      sendAttempts,
	}
}
