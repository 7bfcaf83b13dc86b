// Package memory is an in-process implementation of the transport
// contracts: streams of length-delimited fragments, publications that
// append to them, subscriptions whose images deliver them in order, and an
// archive that serves stored fragment ranges as replays. It exists for the
// demo binary and tests; it is a loopback, not a transport.
package memory

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"

	"github.com/flowmesh/clusternode/internal/transport"
)

// RandomIDSource derives pseudo-random 64-bit identifiers from UUIDs.
func RandomIDSource() transport.IDSource {
	return func() int64 {
		id := uuid.New()
		return int64(binary.BigEndian.Uint64(id[:8]) >> 1)
	}
}

type streamKey struct {
	channel  string
	streamID int32
}

// stream is an append-only sequence of fragments with cumulative byte
// positions.
type stream struct {
	mu           sync.Mutex
	fragments    [][]byte
	endPositions []int64
	closed       bool
}

func (s *stream) append(fragment []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := int64(len(fragment))
	if n := len(s.endPositions); n > 0 {
		end += s.endPositions[n-1]
	}
	s.fragments = append(s.fragments, fragment)
	s.endPositions = append(s.endPositions, end)
}

func (s *stream) endPosition() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.endPositions); n > 0 {
		return s.endPositions[n-1]
	}
	return 0
}

// snapshot returns the fragments fully contained in [from, from+length).
func (s *stream) snapshot(from, length int64) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out [][]byte
	start := int64(0)
	for i, fragment := range s.fragments {
		end := s.endPositions[i]
		if start >= from && end <= from+length {
			out = append(out, fragment)
		}
		start = end
	}
	return out
}

// Hub holds the streams of one in-process "media driver".
type Hub struct {
	mu      sync.Mutex
	streams map[streamKey]*stream
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{streams: make(map[streamKey]*stream)}
}

func (h *Hub) getOrCreate(channel string, streamID int32) *stream {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := streamKey{channel: channel, streamID: streamID}
	if st, ok := h.streams[key]; ok {
		return st
	}
	st := &stream{}
	h.streams[key] = st
	return st
}

func (h *Hub) lookup(channel string, streamID int32) (*stream, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[streamKey{channel: channel, streamID: streamID}]
	return st, ok
}

// image delivers one stream's fragments in order, tracking the consumed
// byte position. basePosition offsets replay images so their positions
// line up with recording positions.
type image struct {
	stream       *stream
	basePosition int64

	mu        sync.Mutex
	nextIndex int
	position  int64
	closed    bool
}

func newImage(st *stream, basePosition int64) *image {
	return &image{stream: st, basePosition: basePosition, position: basePosition}
}

func (i *image) Poll(handler transport.FragmentHandler, fragmentLimit int) int {
	return i.pollBounded(handler, -1, fragmentLimit)
}

func (i *image) PollBounded(handler transport.FragmentHandler, limitPosition int64, fragmentLimit int) int {
	return i.pollBounded(handler, limitPosition, fragmentLimit)
}

func (i *image) pollBounded(handler transport.FragmentHandler, limitPosition int64, fragmentLimit int) int {
	count := 0
	for count < fragmentLimit {
		i.mu.Lock()
		if i.closed {
			i.mu.Unlock()
			break
		}

		i.stream.mu.Lock()
		if i.nextIndex >= len(i.stream.fragments) {
			i.stream.mu.Unlock()
			i.mu.Unlock()
			break
		}
		fragment := i.stream.fragments[i.nextIndex]
		end := i.basePosition + i.stream.endPositions[i.nextIndex]
		i.stream.mu.Unlock()

		if limitPosition >= 0 && end > limitPosition {
			i.mu.Unlock()
			break
		}

		i.nextIndex++
		i.position = end
		i.mu.Unlock()

		handler.OnFragment(fragment)
		count++
	}
	return count
}

func (i *image) Position() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.position
}

func (i *image) IsClosed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

func (i *image) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	return nil
}

// subscription collects images for one channel/stream pair. client is nil
// for archive replay subscriptions, which are never registered.
type subscription struct {
	channel  string
	streamID int32
	regID    int64
	client   *Client

	onAvailable   transport.AvailableImageHandler
	onUnavailable transport.UnavailableImageHandler

	mu     sync.Mutex
	images []*image
	closed bool
}

func (s *subscription) Channel() string { return s.channel }
func (s *subscription) StreamID() int32 { return s.streamID }

func (s *subscription) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && len(s.images) > 0
}

func (s *subscription) ImageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

func (s *subscription) ImageAt(index int) transport.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[index]
}

func (s *subscription) attach(img *image) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.images = append(s.images, img)
	onAvailable := s.onAvailable
	s.mu.Unlock()

	if onAvailable != nil {
		onAvailable(img)
	}
}

func (s *subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	images := s.images
	onUnavailable := s.onUnavailable
	s.mu.Unlock()

	for _, img := range images {
		_ = img.Close()
		if onUnavailable != nil {
			onUnavailable(img)
		}
	}
	if s.client != nil {
		s.client.release(s.regID)
	}
	return nil
}

// claim is a zero-copy region on a publication: committed exactly once or
// abandoned.
type claim struct {
	buf    []byte
	stream *stream
	done   bool
}

func (c *claim) Buffer() []byte { return c.buf }

func (c *claim) Commit() {
	if c.done {
		return
	}
	c.done = true
	c.stream.append(c.buf)
}

func (c *claim) Abort() {
	c.done = true
}

// publication appends fragments to one stream.
type publication struct {
	stream *stream
	regID  int64
	client *Client

	mu     sync.Mutex
	closed bool
}

func (p *publication) TryClaim(length int) (transport.Claim, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, transport.ErrPublicationClosed
	}
	return &claim{buf: make([]byte, length), stream: p.stream}, nil
}

// Offer encodes-and-commits in one step. Convenience for writers that do
// not need zero-copy claims.
func (p *publication) Offer(fragment []byte) error {
	c, err := p.TryClaim(len(fragment))
	if err != nil {
		return err
	}
	copy(c.Buffer(), fragment)
	c.Commit()
	return nil
}

func (p *publication) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if p.client != nil {
		p.client.release(p.regID)
	}
	return nil
}

// Client is the in-process embedded client runtime. Subscriptions connect
// to their streams on Invoke, mirroring a conductor duty cycle: waits
// expressed as "poll, idle, invoke" make progress here.
type Client struct {
	hub *Hub
	ids transport.IDSource

	mu            sync.Mutex
	pending       map[int64]*subscription
	subscriptions map[int64]*subscription
	publications  map[int64]*publication
}

// NewClient creates a client over the hub. A nil ids source defaults to
// RandomIDSource.
func NewClient(hub *Hub, ids transport.IDSource) *Client {
	if ids == nil {
		ids = RandomIDSource()
	}
	return &Client{
		hub:           hub,
		ids:           ids,
		pending:       make(map[int64]*subscription),
		subscriptions: make(map[int64]*subscription),
		publications:  make(map[int64]*publication),
	}
}

// Invoke connects pending subscriptions whose streams now exist and
// returns the amount of work done.
func (c *Client) Invoke() int {
	c.mu.Lock()
	pending := make([]*subscription, 0, len(c.pending))
	for _, sub := range c.pending {
		pending = append(pending, sub)
	}
	c.mu.Unlock()

	work := 0
	for _, sub := range pending {
		st, ok := c.hub.lookup(sub.channel, sub.streamID)
		if !ok {
			continue
		}
		c.mu.Lock()
		delete(c.pending, sub.regID)
		c.mu.Unlock()
		sub.attach(newImage(st, 0))
		work++
	}
	return work
}

// AddSubscription registers interest in a channel/stream pair. The
// subscription connects on a later Invoke once the stream exists, and
// stays registered under its registration id until closed.
func (c *Client) AddSubscription(
	channel string,
	streamID int32,
	onAvailable transport.AvailableImageHandler,
	onUnavailable transport.UnavailableImageHandler,
) (transport.Subscription, error) {
	sub := &subscription{
		channel:       channel,
		streamID:      streamID,
		regID:         c.ids(),
		client:        c,
		onAvailable:   onAvailable,
		onUnavailable: onUnavailable,
	}

	c.mu.Lock()
	c.subscriptions[sub.regID] = sub
	c.pending[sub.regID] = sub
	c.mu.Unlock()

	return sub, nil
}

// AddPublication creates a publication, creating the stream if needed.
func (c *Client) AddPublication(channel string, streamID int32) (transport.Publication, error) {
	pub := &publication{
		stream: c.hub.getOrCreate(channel, streamID),
		regID:  c.ids(),
		client: c,
	}

	c.mu.Lock()
	c.publications[pub.regID] = pub
	c.mu.Unlock()

	return pub, nil
}

// release deregisters one subscription or publication by registration id.
func (c *Client) release(regID int64) {
	c.mu.Lock()
	delete(c.pending, regID)
	delete(c.subscriptions, regID)
	delete(c.publications, regID)
	c.mu.Unlock()
}

// Close closes every subscription and publication still registered.
func (c *Client) Close() error {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	pubs := make([]*publication, 0, len(c.publications))
	for _, pub := range c.publications {
		pubs = append(pubs, pub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	for _, pub := range pubs {
		_ = pub.Close()
	}
	return nil
}
