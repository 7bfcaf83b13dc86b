package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmesh/clusternode/internal/config"
	"github.com/flowmesh/clusternode/internal/ledger"
	"github.com/flowmesh/clusternode/internal/sessions"
	"github.com/flowmesh/clusternode/internal/transport"
)

// fakeImage serves a fixed fragment sequence with cumulative positions
// starting at base.
type fakeImage struct {
	fragments [][]byte
	ends      []int64
	next      int
	position  int64
	closed    bool
}

func newFakeImage(base int64, fragments ...[]byte) *fakeImage {
	img := &fakeImage{fragments: fragments, position: base}
	end := base
	for _, fragment := range fragments {
		end += int64(len(fragment))
		img.ends = append(img.ends, end)
	}
	return img
}

func (i *fakeImage) Poll(handler transport.FragmentHandler, fragmentLimit int) int {
	return i.PollBounded(handler, int64(1)<<62, fragmentLimit)
}

func (i *fakeImage) PollBounded(handler transport.FragmentHandler, limitPosition int64, fragmentLimit int) int {
	count := 0
	for count < fragmentLimit && i.next < len(i.fragments) && i.ends[i.next] <= limitPosition {
		fragment := i.fragments[i.next]
		i.position = i.ends[i.next]
		i.next++
		handler.OnFragment(fragment)
		count++
	}
	return count
}

func (i *fakeImage) Position() int64 { return i.position }
func (i *fakeImage) IsClosed() bool  { return i.closed }
func (i *fakeImage) Close() error    { i.closed = true; return nil }

type fakeSubscription struct {
	channel   string
	streamID  int32
	images    []transport.Image
	connected bool
	closed    bool
	closeErr  error
}

func (s *fakeSubscription) Channel() string { return s.channel }
func (s *fakeSubscription) StreamID() int32 { return s.streamID }
func (s *fakeSubscription) IsConnected() bool { return s.connected }
func (s *fakeSubscription) ImageCount() int { return len(s.images) }
func (s *fakeSubscription) ImageAt(index int) transport.Image { return s.images[index] }
func (s *fakeSubscription) Close() error { s.closed = true; return s.closeErr }

type fakeClaim struct {
	buf       []byte
	committed bool
	aborted   bool
}

func (c *fakeClaim) Buffer() []byte { return c.buf }
func (c *fakeClaim) Commit()        { c.committed = true }
func (c *fakeClaim) Abort()         { c.aborted = true }

// fakePublication scripts per-attempt TryClaim results: entry i of
// claimErrs is returned on attempt i, nil meaning success.
type fakePublication struct {
	claimErrs []error
	calls     int
	claims    []*fakeClaim
	closed    bool
	closeErr  error
}

func (p *fakePublication) TryClaim(length int) (transport.Claim, error) {
	call := p.calls
	p.calls++
	if p.closed {
		return nil, transport.ErrPublicationClosed
	}
	if call < len(p.claimErrs) && p.claimErrs[call] != nil {
		return nil, p.claimErrs[call]
	}
	claim := &fakeClaim{buf: make([]byte, length)}
	p.claims = append(p.claims, claim)
	return claim, nil
}

func (p *fakePublication) Close() error { p.closed = true; return p.closeErr }

type fakeCounter struct {
	value int64
}

func (c *fakeCounter) Get() int64 { return c.value }

type fakeArchive struct {
	recordings  []transport.RecordingInfo
	listErr     error
	counter     transport.Counter
	counterErr  error
	replayFn    func(recordingID, startPosition, length int64) (transport.Subscription, error)
	replayCalls []int64
}

func (a *fakeArchive) ListRecordings(channel string, streamID int32, fromRecordingID int64, recordCount int) ([]transport.RecordingInfo, error) {
	if a.listErr != nil {
		return nil, a.listErr
	}
	var out []transport.RecordingInfo
	for _, info := range a.recordings {
		if info.RecordingID >= fromRecordingID && len(out) < recordCount {
			out = append(out, info)
		}
	}
	return out, nil
}

func (a *fakeArchive) FindActivePositionCounter(recordingID int64) (transport.Counter, error) {
	if a.counterErr != nil {
		return nil, a.counterErr
	}
	return a.counter, nil
}

func (a *fakeArchive) Replay(recordingID, startPosition, length int64, replayChannel string, replayStreamID int32) (transport.Subscription, error) {
	a.replayCalls = append(a.replayCalls, recordingID)
	return a.replayFn(recordingID, startPosition, length)
}

func (a *fakeArchive) Close() error { return nil }

// fakeClient hands out the scripted log subscription and timer
// publication, records response publications created per channel, and
// runs invokeFn on every Invoke.
type fakeClient struct {
	logSub        *fakeSubscription
	timerPub      *fakePublication
	responsePubs  map[string]*fakePublication
	onAvailable   transport.AvailableImageHandler
	onUnavailable transport.UnavailableImageHandler
	invokeFn      func() int
	invokes       int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		logSub:       &fakeSubscription{},
		timerPub:     &fakePublication{},
		responsePubs: make(map[string]*fakePublication),
	}
}

func (c *fakeClient) Invoke() int {
	c.invokes++
	if c.invokeFn != nil {
		return c.invokeFn()
	}
	return 0
}

func (c *fakeClient) AddSubscription(
	channel string,
	streamID int32,
	onAvailable transport.AvailableImageHandler,
	onUnavailable transport.UnavailableImageHandler,
) (transport.Subscription, error) {
	c.logSub.channel = channel
	c.logSub.streamID = streamID
	c.onAvailable = onAvailable
	c.onUnavailable = onUnavailable
	return c.logSub, nil
}

func (c *fakeClient) AddPublication(channel string, streamID int32) (transport.Publication, error) {
	if channel == testConfig().TimerChannel {
		return c.timerPub, nil
	}
	pub := &fakePublication{}
	c.responsePubs[channel] = pub
	return pub, nil
}

type sessionOpenRecord struct {
	session     *sessions.ClientSession
	timestampMs int64
}

type sessionCloseRecord struct {
	session     *sessions.ClientSession
	timestampMs int64
	reason      CloseReason
}

type messageRecord struct {
	sessionID     int64
	correlationID int64
	timestampMs   int64
	payload       []byte
}

type timerRecord struct {
	correlationID int64
	timestampMs   int64
}

// fakeService records every callback and can be scripted to fail.
type fakeService struct {
	cluster  Cluster
	started  bool
	opens    []sessionOpenRecord
	closes   []sessionCloseRecord
	messages []messageRecord
	timers   []timerRecord

	startErr   error
	messageErr error
}

func (s *fakeService) OnStart(cluster Cluster) error {
	s.cluster = cluster
	s.started = true
	return s.startErr
}

func (s *fakeService) OnSessionOpen(session *sessions.ClientSession, timestampMs int64) error {
	s.opens = append(s.opens, sessionOpenRecord{session: session, timestampMs: timestampMs})
	return nil
}

func (s *fakeService) OnSessionClose(session *sessions.ClientSession, timestampMs int64, reason CloseReason) error {
	s.closes = append(s.closes, sessionCloseRecord{session: session, timestampMs: timestampMs, reason: reason})
	return nil
}

func (s *fakeService) OnSessionMessage(sessionID, correlationID, timestampMs int64, payload []byte) error {
	record := messageRecord{
		sessionID:     sessionID,
		correlationID: correlationID,
		timestampMs:   timestampMs,
		payload:       append([]byte(nil), payload...),
	}
	s.messages = append(s.messages, record)
	return s.messageErr
}

func (s *fakeService) OnTimerEvent(correlationID, timestampMs int64) error {
	s.timers = append(s.timers, timerRecord{correlationID: correlationID, timestampMs: timestampMs})
	return nil
}

func testConfig() config.ClusterConfig {
	return config.ClusterConfig{
		LogChannel:     "cluster-log",
		LogStreamID:    100,
		ReplayChannel:  "cluster-log-replay",
		ReplayStreamID: 101,
		TimerChannel:   "cluster-timer",
		TimerStreamID:  102,
	}
}

// newTestAgent wires an agent over fakes with a real ledger in a temp dir.
func newTestAgent(t *testing.T) (*Agent, *fakeClient, *fakeArchive, *fakeService, *ledger.Ledger) {
	t.Helper()

	client := newFakeClient()
	archive := &fakeArchive{}
	service := &fakeService{}

	// The ledger is closed by the agent's OnClose; tests that never close
	// the agent let the process exit reclaim it.
	recoveryLedger, err := ledger.Open(t.TempDir())
	require.NoError(t, err)

	agent, err := NewAgent(testConfig(), client, archive, recoveryLedger, service, nil)
	require.NoError(t, err)

	return agent, client, archive, service, recoveryLedger
}
