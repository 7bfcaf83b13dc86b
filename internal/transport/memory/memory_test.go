package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/clusternode/internal/transport"
)

func sequentialIDs() transport.IDSource {
	next := int64(0)
	return func() int64 {
		next++
		return next
	}
}

func collect(into *[][]byte) transport.FragmentHandler {
	return transport.FragmentHandlerFunc(func(fragment []byte) {
		*into = append(*into, append([]byte(nil), fragment...))
	})
}

func TestSubscriptionConnectsOnInvokeOnceStreamExists(t *testing.T) {
	hub := NewHub()
	client := NewClient(hub, sequentialIDs())

	var available int
	sub, err := client.AddSubscription("log", 100,
		func(transport.Image) { available++ }, nil)
	require.NoError(t, err)

	// The stream does not exist yet, so invoking does nothing.
	assert.Equal(t, 0, client.Invoke())
	assert.False(t, sub.IsConnected())

	pub, err := client.AddPublication("log", 100)
	require.NoError(t, err)
	require.NoError(t, pub.(*publication).Offer([]byte("a")))

	assert.Equal(t, 1, client.Invoke())
	assert.True(t, sub.IsConnected())
	assert.Equal(t, 1, sub.ImageCount())
	assert.Equal(t, 1, available)

	// Connection happens once; later invokes are no-ops.
	assert.Equal(t, 0, client.Invoke())
}

func TestImageDeliversFragmentsInOrderWithPositions(t *testing.T) {
	hub := NewHub()
	client := NewClient(hub, sequentialIDs())

	pub, err := client.AddPublication("log", 100)
	require.NoError(t, err)

	sub, err := client.AddSubscription("log", 100, nil, nil)
	require.NoError(t, err)
	client.Invoke()

	for _, payload := range []string{"one", "two", "three"} {
		claim, err := pub.TryClaim(len(payload))
		require.NoError(t, err)
		copy(claim.Buffer(), payload)
		claim.Commit()
	}

	img := sub.ImageAt(0)
	var got [][]byte
	assert.Equal(t, 3, img.Poll(collect(&got), 10))
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two"), []byte("three")}, got)
	assert.Equal(t, int64(11), img.Position())

	// Nothing left.
	assert.Equal(t, 0, img.Poll(collect(&got), 10))
}

func TestPollBoundedStopsAtLimitPosition(t *testing.T) {
	hub := NewHub()
	client := NewClient(hub, sequentialIDs())

	pub, err := client.AddPublication("log", 100)
	require.NoError(t, err)
	sub, err := client.AddSubscription("log", 100, nil, nil)
	require.NoError(t, err)
	client.Invoke()

	for _, payload := range []string{"aaaa", "bbbb", "cccc"} {
		require.NoError(t, pub.(*publication).Offer([]byte(payload)))
	}

	img := sub.ImageAt(0)
	var got [][]byte

	// A fragment ending past the limit is held back.
	assert.Equal(t, 1, img.PollBounded(collect(&got), 6, 10))
	assert.Equal(t, int64(4), img.Position())

	assert.Equal(t, 2, img.PollBounded(collect(&got), 12, 10))
	assert.Equal(t, int64(12), img.Position())
	assert.Len(t, got, 3)
}

func TestPollRespectsFragmentLimit(t *testing.T) {
	hub := NewHub()
	client := NewClient(hub, sequentialIDs())

	pub, err := client.AddPublication("log", 100)
	require.NoError(t, err)
	sub, err := client.AddSubscription("log", 100, nil, nil)
	require.NoError(t, err)
	client.Invoke()

	for i := 0; i < 5; i++ {
		require.NoError(t, pub.(*publication).Offer([]byte{byte(i)}))
	}

	img := sub.ImageAt(0)
	var got [][]byte
	assert.Equal(t, 2, img.Poll(collect(&got), 2))
	assert.Equal(t, 3, img.Poll(collect(&got), 10))
}

func TestAbortedClaimPublishesNothing(t *testing.T) {
	hub := NewHub()
	client := NewClient(hub, sequentialIDs())

	pub, err := client.AddPublication("log", 100)
	require.NoError(t, err)
	sub, err := client.AddSubscription("log", 100, nil, nil)
	require.NoError(t, err)
	client.Invoke()

	claim, err := pub.TryClaim(4)
	require.NoError(t, err)
	copy(claim.Buffer(), "drop")
	claim.Abort()

	// Commit after Abort must not resurrect the fragment.
	claim.Commit()

	var got [][]byte
	assert.Equal(t, 0, sub.ImageAt(0).Poll(collect(&got), 10))
}

func TestClosedPublicationRejectsClaims(t *testing.T) {
	hub := NewHub()
	client := NewClient(hub, sequentialIDs())

	pub, err := client.AddPublication("log", 100)
	require.NoError(t, err)
	require.NoError(t, pub.Close())

	_, err = pub.TryClaim(1)
	assert.ErrorIs(t, err, transport.ErrPublicationClosed)
}

func TestSubscriptionCloseClosesImagesAndNotifies(t *testing.T) {
	hub := NewHub()
	client := NewClient(hub, sequentialIDs())

	_, err := client.AddPublication("log", 100)
	require.NoError(t, err)

	var unavailable int
	sub, err := client.AddSubscription("log", 100, nil,
		func(transport.Image) { unavailable++ })
	require.NoError(t, err)
	client.Invoke()

	img := sub.ImageAt(0)
	require.NoError(t, sub.Close())

	assert.True(t, img.IsClosed())
	assert.False(t, sub.IsConnected())
	assert.Equal(t, 1, unavailable)

	// Close is idempotent and does not re-notify.
	require.NoError(t, sub.Close())
	assert.Equal(t, 1, unavailable)
}

func TestClosedSubscriptionIsDeregistered(t *testing.T) {
	hub := NewHub()
	client := NewClient(hub, sequentialIDs())

	sub, err := client.AddSubscription("log", 100, nil, nil)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	// The stream now exists, but the closed subscription must no longer
	// be pending under its registration id.
	_, err = client.AddPublication("log", 100)
	require.NoError(t, err)
	assert.Equal(t, 0, client.Invoke())
	assert.False(t, sub.IsConnected())
}

func TestClientCloseReleasesRegistrations(t *testing.T) {
	hub := NewHub()
	client := NewClient(hub, sequentialIDs())

	pub, err := client.AddPublication("log", 100)
	require.NoError(t, err)
	sub, err := client.AddSubscription("log", 100, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, client.Invoke())

	require.NoError(t, client.Close())

	_, err = pub.TryClaim(8)
	assert.ErrorIs(t, err, transport.ErrPublicationClosed)
	assert.False(t, sub.IsConnected())
	assert.True(t, sub.ImageAt(0).IsClosed())

	// Everything was deregistered, so a second close finds no work.
	require.NoError(t, client.Close())
}

func TestArchiveListsRecordingsAscendingAndPaged(t *testing.T) {
	hub := NewHub()
	archive := NewArchive(hub)

	first := archive.AddStoppedRecording("log", 100, 0, [][]byte{[]byte("aaaa")})
	archive.AddStoppedRecording("other", 7, 0, [][]byte{[]byte("x")})
	second := archive.StartRecording("log", 100, 4)

	infos, err := archive.ListRecordings("log", 100, 0, 10)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, first, infos[0].RecordingID)
	assert.Equal(t, int64(0), infos[0].StartPosition)
	assert.Equal(t, int64(4), infos[0].StopPosition)
	assert.Equal(t, second, infos[1].RecordingID)
	assert.Equal(t, int64(4), infos[1].StartPosition)

	// Paging resumes from a recording id.
	infos, err = archive.ListRecordings("log", 100, first+1, 10)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, second, infos[0].RecordingID)

	infos, err = archive.ListRecordings("log", 100, 0, 1)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestActivePositionCounterTracksLiveStream(t *testing.T) {
	hub := NewHub()
	archive := NewArchive(hub)
	client := NewClient(hub, sequentialIDs())

	stopped := archive.AddStoppedRecording("log", 100, 0, nil)
	live := archive.StartRecording("log", 100, 8)

	_, err := archive.FindActivePositionCounter(stopped)
	assert.ErrorIs(t, err, transport.ErrCounterNotFound)

	_, err = archive.FindActivePositionCounter(live + 100)
	assert.ErrorIs(t, err, transport.ErrRecordingNotFound)

	counter, err := archive.FindActivePositionCounter(live)
	require.NoError(t, err)
	assert.Equal(t, int64(8), counter.Get())

	pub, err := client.AddPublication("log", 100)
	require.NoError(t, err)
	require.NoError(t, pub.(*publication).Offer([]byte("abc")))
	assert.Equal(t, int64(11), counter.Get())
}

func TestReplayServesStoppedRecordingRange(t *testing.T) {
	hub := NewHub()
	archive := NewArchive(hub)

	id := archive.AddStoppedRecording("log", 100, 0, [][]byte{
		[]byte("aaaa"), []byte("bbbb"), []byte("cccc"),
	})

	sub, err := archive.Replay(id, 4, 8, "replay", 201)
	require.NoError(t, err)
	require.True(t, sub.IsConnected())
	require.Equal(t, 1, sub.ImageCount())

	img := sub.ImageAt(0)
	assert.Equal(t, int64(4), img.Position())

	var got [][]byte
	assert.Equal(t, 2, img.Poll(collect(&got), 10))
	assert.Equal(t, [][]byte{[]byte("bbbb"), []byte("cccc")}, got)
	assert.Equal(t, int64(12), img.Position())
}

func TestReplayServesLiveRecordingSnapshot(t *testing.T) {
	hub := NewHub()
	archive := NewArchive(hub)
	client := NewClient(hub, sequentialIDs())

	id := archive.StartRecording("log", 100, 0)
	pub, err := client.AddPublication("log", 100)
	require.NoError(t, err)
	require.NoError(t, pub.(*publication).Offer([]byte("live1")))
	require.NoError(t, pub.(*publication).Offer([]byte("live2")))

	sub, err := archive.Replay(id, 0, 10, "replay", 201)
	require.NoError(t, err)

	var got [][]byte
	assert.Equal(t, 2, sub.ImageAt(0).Poll(collect(&got), 10))
	assert.Equal(t, [][]byte{[]byte("live1"), []byte("live2")}, got)
}

func TestReplayRejectsRangeOutsideRecording(t *testing.T) {
	hub := NewHub()
	archive := NewArchive(hub)

	id := archive.AddStoppedRecording("log", 100, 0, [][]byte{[]byte("aaaa")})

	_, err := archive.Replay(id, 0, 8, "replay", 201)
	assert.Error(t, err)

	_, err = archive.Replay(id+1, 0, 4, "replay", 201)
	assert.ErrorIs(t, err, transport.ErrRecordingNotFound)
}
