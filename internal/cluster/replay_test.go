package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/clusternode/internal/ledger"
	"github.com/flowmesh/clusternode/internal/transport"
)

const timerFragmentLength = 22

// timerFragments builds count timer-event fragments with ascending
// timestamps starting at tsBase. Each fragment is timerFragmentLength bytes.
func timerFragments(t *testing.T, count int, tsBase int64) [][]byte {
	t.Helper()

	var out [][]byte
	for i := 0; i < count; i++ {
		out = append(out, encodeTimer(t, int64(i), tsBase+int64(i)))
	}
	return out
}

// replayFromFragments scripts the archive to serve each recording id from
// the given fragments as an immediately connected single-image replay.
func replayFromFragments(byID map[int64][][]byte) func(recordingID, startPosition, length int64) (transport.Subscription, error) {
	return func(recordingID, startPosition, length int64) (transport.Subscription, error) {
		img := newFakeImage(startPosition, byID[recordingID]...)
		return &fakeSubscription{connected: true, images: []transport.Image{img}}, nil
	}
}

func ledgerContents(t *testing.T, l *ledger.Ledger) []int64 {
	t.Helper()

	var ids []int64
	require.NoError(t, l.ForEach(func(recordingID int64) error {
		ids = append(ids, recordingID)
		return nil
	}))
	return ids
}

func TestRecoveryReplaysHistoryAndMarksLatest(t *testing.T) {
	agent, client, archive, service, recoveryLedger := newTestAgent(t)
	client.logSub.connected = true

	archive.recordings = []transport.RecordingInfo{
		{RecordingID: 1, StartPosition: 0, StopPosition: 2 * timerFragmentLength},
		{RecordingID: 2, StartPosition: 0, StopPosition: 3 * timerFragmentLength},
	}
	archive.counter = &fakeCounter{value: 0}
	archive.replayFn = replayFromFragments(map[int64][][]byte{
		1: timerFragments(t, 2, 1000),
		2: timerFragments(t, 3, 2000),
	})

	require.NoError(t, agent.OnStart(context.Background()))

	assert.True(t, service.started)
	// Both recordings replayed in ascending id order.
	assert.Equal(t, []int64{1, 2}, archive.replayCalls)
	require.Len(t, service.timers, 5)
	assert.Equal(t, int64(1000), service.timers[0].timestampMs)
	assert.Equal(t, int64(2002), service.timers[4].timestampMs)
	assert.Equal(t, int64(2002), agent.TimeMs())

	// The per-recording loop appends nothing; catch-up marks only the
	// latest recording.
	assert.Equal(t, []int64{2}, ledgerContents(t, recoveryLedger))
}

func TestRecoveryIdempotentWhenLedgerComplete(t *testing.T) {
	agent, client, archive, service, recoveryLedger := newTestAgent(t)
	client.logSub.connected = true

	archive.recordings = []transport.RecordingInfo{
		{RecordingID: 1, StartPosition: 0, StopPosition: 2 * timerFragmentLength},
		{RecordingID: 2, StartPosition: 0, StopPosition: 3 * timerFragmentLength},
	}
	archive.counter = &fakeCounter{value: 0}

	require.NoError(t, recoveryLedger.Append(1))
	require.NoError(t, recoveryLedger.Append(2))

	require.NoError(t, agent.OnStart(context.Background()))

	// Nothing replayed, no historical events re-applied, no new entry.
	assert.Empty(t, archive.replayCalls)
	assert.Empty(t, service.timers)
	assert.Equal(t, []int64{1, 2}, ledgerContents(t, recoveryLedger))
}

func TestEmptyRecordingSkippedWithoutReplay(t *testing.T) {
	agent, client, archive, _, recoveryLedger := newTestAgent(t)
	client.logSub.connected = true

	archive.recordings = []transport.RecordingInfo{
		{RecordingID: 1, StartPosition: 50, StopPosition: 50},
		{RecordingID: 2, StartPosition: 0, StopPosition: timerFragmentLength},
	}
	archive.counter = &fakeCounter{value: 0}
	archive.replayFn = replayFromFragments(map[int64][][]byte{
		2: timerFragments(t, 1, 1000),
	})

	require.NoError(t, agent.OnStart(context.Background()))

	// Only the non-empty recording opened a replay.
	assert.Equal(t, []int64{2}, archive.replayCalls)
	assert.Equal(t, []int64{2}, ledgerContents(t, recoveryLedger))
}

func TestRecoveryFailsWithoutRecordings(t *testing.T) {
	agent, _, _, _, _ := newTestAgent(t)

	err := agent.OnStart(context.Background())
	require.ErrorIs(t, err, ErrNoRecordingsFound)
}

func TestRecoveryFailsWithoutPositionCounter(t *testing.T) {
	agent, _, archive, _, _ := newTestAgent(t)

	archive.recordings = []transport.RecordingInfo{
		{RecordingID: 1, StartPosition: 0, StopPosition: timerFragmentLength},
	}
	archive.counterErr = transport.ErrCounterNotFound

	err := agent.OnStart(context.Background())
	require.ErrorIs(t, err, ErrRecordingPositionUnavailable)
}

func TestReplayFailsOnMultipleImages(t *testing.T) {
	agent, _, archive, _, _ := newTestAgent(t)

	archive.recordings = []transport.RecordingInfo{
		{RecordingID: 1, StartPosition: 0, StopPosition: timerFragmentLength},
	}
	archive.counter = &fakeCounter{value: 0}
	archive.replayFn = func(recordingID, startPosition, length int64) (transport.Subscription, error) {
		return &fakeSubscription{
			connected: true,
			images: []transport.Image{
				newFakeImage(startPosition),
				newFakeImage(startPosition),
			},
		}, nil
	}

	err := agent.OnStart(context.Background())

	var multi ReplayMultiImageError
	require.ErrorAs(t, err, &multi)
	assert.Equal(t, 2, multi.ImageCount)
	assert.Equal(t, int64(1), multi.Recording.RecordingID)
}

func TestReplayTerminatedEarly(t *testing.T) {
	agent, _, archive, _, _ := newTestAgent(t)

	archive.recordings = []transport.RecordingInfo{
		{RecordingID: 1, StartPosition: 0, StopPosition: 3 * timerFragmentLength},
	}
	archive.counter = &fakeCounter{value: 0}
	archive.replayFn = func(recordingID, startPosition, length int64) (transport.Subscription, error) {
		// Only one of three fragments arrives before the stream closes.
		img := newFakeImage(startPosition, encodeTimer(t, 0, 1000))
		img.closed = true
		return &fakeSubscription{connected: true, images: []transport.Image{img}}, nil
	}

	err := agent.OnStart(context.Background())

	var early ReplayTerminatedEarlyError
	require.ErrorAs(t, err, &early)
	assert.Equal(t, int64(timerFragmentLength), early.Position)
	assert.Equal(t, int64(3*timerFragmentLength), early.Recording.StopPosition)
}

func TestReplayInterruptedByCancellation(t *testing.T) {
	agent, _, archive, _, _ := newTestAgent(t)

	archive.recordings = []transport.RecordingInfo{
		{RecordingID: 1, StartPosition: 0, StopPosition: timerFragmentLength},
	}
	archive.counter = &fakeCounter{value: 0}
	archive.replayFn = func(recordingID, startPosition, length int64) (transport.Subscription, error) {
		// Connected but never delivering: the idle branch must observe
		// the cancellation instead of spinning forever.
		return &fakeSubscription{connected: true, images: []transport.Image{newFakeImage(startPosition)}}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := agent.OnStart(ctx)

	var interrupted ReplayInterruptedError
	require.ErrorAs(t, err, &interrupted)
	assert.Equal(t, int64(1), interrupted.RecordingID)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConnectWaitInterruptedByCancellation(t *testing.T) {
	agent, client, archive, _, recoveryLedger := newTestAgent(t)
	client.logSub.connected = false

	archive.recordings = []transport.RecordingInfo{
		{RecordingID: 1, StartPosition: 0, StopPosition: timerFragmentLength},
	}
	archive.counter = &fakeCounter{value: 0}

	require.NoError(t, recoveryLedger.Append(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := agent.OnStart(ctx)

	var interrupted ReplayInterruptedError
	require.ErrorAs(t, err, &interrupted)
	assert.Equal(t, int64(-1), interrupted.RecordingID)
}

func TestConnectWaitDrivesClientUntilLive(t *testing.T) {
	agent, client, archive, _, _ := newTestAgent(t)

	archive.recordings = []transport.RecordingInfo{
		{RecordingID: 1, StartPosition: 0, StopPosition: timerFragmentLength},
	}
	archive.counter = &fakeCounter{value: 0}
	archive.replayFn = replayFromFragments(map[int64][][]byte{
		1: timerFragments(t, 1, 1000),
	})

	// The live log connects only after a few client invocations,
	// mirroring a conductor that needs driving to make progress.
	client.invokeFn = func() int {
		if client.invokes >= 3 {
			client.logSub.connected = true
		}
		return 0
	}

	require.NoError(t, agent.OnStart(context.Background()))
	assert.GreaterOrEqual(t, client.invokes, 3)
}
