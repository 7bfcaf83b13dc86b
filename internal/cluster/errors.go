package cluster

import (
	"errors"
	"fmt"

	"github.com/flowmesh/clusternode/internal/transport"
)

var (
	// ErrNoRecordingsFound indicates the archive holds no recordings for
	// the cluster log. A node cannot join a cluster whose log history is
	// unknown.
	ErrNoRecordingsFound = errors.New("no log recordings found for cluster log")

	// ErrRecordingPositionUnavailable indicates the latest recording has
	// no active recorded-position counter, so no safe live-consumption
	// bound can be determined.
	ErrRecordingPositionUnavailable = errors.New("no active recorded position counter for latest recording")

	// ErrAgentClosed indicates an operation was attempted on a closed agent.
	ErrAgentClosed = errors.New("agent is closed")
)

// ReplayMultiImageError indicates a replay subscription unexpectedly
// exposed more than one concurrent stream.
type ReplayMultiImageError struct {
	Recording  transport.RecordingInfo
	ImageCount int
}

func (e ReplayMultiImageError) Error() string {
	return fmt.Sprintf("expected one replay image for recording %d, found %d", e.Recording.RecordingID, e.ImageCount)
}

// ReplayTerminatedEarlyError indicates a replay stream closed before its
// consumed position reached the recording's stop position.
type ReplayTerminatedEarlyError struct {
	Recording transport.RecordingInfo
	Position  int64
}

func (e ReplayTerminatedEarlyError) Error() string {
	return fmt.Sprintf(
		"replay of recording %d terminated early at position %d, expected %d",
		e.Recording.RecordingID, e.Position, e.Recording.StopPosition,
	)
}

// ReplayInterruptedError indicates recovery was cancelled externally while
// waiting on replay or live-log connection. RecordingID is -1 when the
// interrupt happened outside any single recording's replay.
type ReplayInterruptedError struct {
	RecordingID int64
	Cause       error
}

func (e ReplayInterruptedError) Error() string {
	if e.RecordingID < 0 {
		return fmt.Sprintf("recovery interrupted: %v", e.Cause)
	}
	return fmt.Sprintf("replay of recording %d interrupted: %v", e.RecordingID, e.Cause)
}

func (e ReplayInterruptedError) Unwrap() error {
	return e.Cause
}

// TimerSchedulingFailedError indicates a timer request could not be sent
// within the bounded attempt count.
type TimerSchedulingFailedError struct {
	Request       string
	CorrelationID int64
	Attempts      int
}

func (e TimerSchedulingFailedError) Error() string {
	return fmt.Sprintf(
		"failed to send %s request for correlation id %d after %d attempts",
		e.Request, e.CorrelationID, e.Attempts,
	)
}
