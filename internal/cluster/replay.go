package cluster

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/flowmesh/clusternode/internal/transport"
)

// replayStallTimeout bounds how long a single replay may run before one
// diagnostic report is emitted. Diagnostic only; the replay continues.
const replayStallTimeout = 5 * time.Second

// replayPreviousLogs recovers this node's state from archived log history
// before live consumption begins: enumerate the recordings of the cluster
// log, bind the recorded-position counter of the latest one as the live
// consumption bound, replay every recording the recovery ledger does not
// already contain in ascending id order, then wait cooperatively for the
// live log to connect.
func (a *Agent) replayPreviousLogs(ctx context.Context) error {
	idle := NewDefaultIdleStrategy()

	recordings, err := a.listLogRecordings()
	if err != nil {
		return err
	}
	if len(recordings) == 0 {
		return ErrNoRecordingsFound
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].RecordingID < recordings[j].RecordingID
	})
	latest := recordings[len(recordings)-1]

	counter, err := a.archive.FindActivePositionCounter(latest.RecordingID)
	if err != nil {
		if errors.Is(err, transport.ErrCounterNotFound) {
			return ErrRecordingPositionUnavailable
		}
		return err
	}
	a.recPosition = counter

	replayed := make(map[int64]bool)
	if err := a.ledger.ForEach(func(recordingID int64) error {
		replayed[recordingID] = true
		return nil
	}); err != nil {
		return err
	}

	lastLedgered := int64(-1)
	if last, ok, err := a.ledger.Last(); err != nil {
		return err
	} else if ok {
		lastLedgered = last
	}

	for _, recording := range recordings {
		if replayed[recording.RecordingID] {
			continue
		}
		if err := a.replayRecording(ctx, idle, recording); err != nil {
			return err
		}
	}

	idle.Reset()
	for !a.logSubscription.IsConnected() && a.latestImage.Load() == nil {
		if err := ctx.Err(); err != nil {
			return ReplayInterruptedError{RecordingID: -1, Cause: err}
		}
		idle.Idle(a.invokeClient())
	}

	// History is caught up to the newest known recording; mark it unless
	// the ledger already ends there.
	if lastLedgered != latest.RecordingID {
		if err := a.ledger.Append(latest.RecordingID); err != nil {
			return err
		}
	}

	return nil
}

// listLogRecordings pages through the archive's recordings for the
// cluster log channel and stream until the enumeration is exhausted.
func (a *Agent) listLogRecordings() ([]transport.RecordingInfo, error) {
	var recordings []transport.RecordingInfo
	fromRecordingID := int64(0)

	for {
		page, err := a.archive.ListRecordings(
			a.cfg.LogChannel, a.cfg.LogStreamID, fromRecordingID, archivePageSize)
		if err != nil {
			return nil, err
		}

		recordings = append(recordings, page...)
		if len(page) < archivePageSize {
			return recordings, nil
		}
		fromRecordingID = page[len(page)-1].RecordingID + 1
	}
}

// replayRecording replays exactly one recording's position range through
// the log dispatcher on the private replay channel. Empty recordings are
// skipped without opening a replay subscription.
func (a *Agent) replayRecording(ctx context.Context, idle IdleStrategy, recording transport.RecordingInfo) error {
	length := recording.StopPosition - recording.StartPosition
	if length == 0 {
		a.log.Debug().Int64("recording_id", recording.RecordingID).Msg("Skipping empty recording")
		return nil
	}

	replaySubscription, err := a.archive.Replay(
		recording.RecordingID,
		recording.StartPosition,
		length,
		a.cfg.ReplayChannel,
		a.cfg.ReplayStreamID,
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := replaySubscription.Close(); err != nil {
			a.log.Warn().Err(err).Int64("recording_id", recording.RecordingID).Msg("Failed to close replay subscription")
		}
	}()

	idle.Reset()
	for !replaySubscription.IsConnected() {
		if err := ctx.Err(); err != nil {
			return ReplayInterruptedError{RecordingID: recording.RecordingID, Cause: err}
		}
		idle.Idle(a.invokeClient())
	}

	if imageCount := replaySubscription.ImageCount(); imageCount > 1 {
		return ReplayMultiImageError{Recording: recording, ImageCount: imageCount}
	}
	replayImage := replaySubscription.ImageAt(0)

	started := time.Now()
	reported := false

	idle.Reset()
	for replayImage.Position() < recording.StopPosition {
		a.invokeClient()

		workCount := replayImage.Poll(a, fragmentLimit)
		if err := a.takeDispatchErr(); err != nil {
			return err
		}

		if workCount == 0 {
			if replayImage.IsClosed() {
				return ReplayTerminatedEarlyError{Recording: recording, Position: replayImage.Position()}
			}
			if err := ctx.Err(); err != nil {
				return ReplayInterruptedError{RecordingID: recording.RecordingID, Cause: err}
			}
		}

		idle.Idle(workCount)

		if !reported && time.Since(started) > replayStallTimeout {
			a.log.Warn().
				Int64("recording_id", recording.RecordingID).
				Int64("start_position", recording.StartPosition).
				Int64("stop_position", recording.StopPosition).
				Int64("position", replayImage.Position()).
				Msg("Replay potentially stuck")
			reported = true
		}
	}

	a.metrics.RecordRecordingReplayed(time.Since(started))
	a.log.Info().
		Int64("recording_id", recording.RecordingID).
		Int64("start_position", recording.StartPosition).
		Int64("stop_position", recording.StopPosition).
		Msg("Recording replayed")

	return nil
}
