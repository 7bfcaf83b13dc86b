// Package transport declares the collaborator contracts the cluster node
// consumes: the log image/subscription abstraction delivering ordered
// fragments, the publication abstraction accepting outbound messages, the
// archive serving historical recordings, and the embedded client runtime
// that drives both. How delivery, flow control, or archive storage work is
// a concern of the implementation behind these interfaces.
package transport

import "errors"

var (
	// ErrBackPressured indicates a publication cannot currently accept a
	// message; the caller may retry.
	ErrBackPressured = errors.New("publication back-pressured")

	// ErrPublicationClosed indicates a publication was closed and will
	// never accept a message again.
	ErrPublicationClosed = errors.New("publication closed")

	// ErrCounterNotFound indicates no active position counter exists for
	// a recording.
	ErrCounterNotFound = errors.New("recording position counter not found")

	// ErrRecordingNotFound indicates the archive has no recording with
	// the requested id.
	ErrRecordingNotFound = errors.New("recording not found")
)

// FragmentHandler consumes one length-delimited fragment of log bytes.
type FragmentHandler interface {
	OnFragment(fragment []byte)
}

// FragmentHandlerFunc adapts a plain function to a FragmentHandler.
type FragmentHandlerFunc func(fragment []byte)

func (f FragmentHandlerFunc) OnFragment(fragment []byte) { f(fragment) }

// Image is one ordered stream of log fragments.
type Image interface {
	// Poll delivers up to fragmentLimit fragments to the handler and
	// returns the number delivered.
	Poll(handler FragmentHandler, fragmentLimit int) int

	// PollBounded is Poll bounded above by limitPosition: no fragment
	// ending beyond that position is delivered.
	PollBounded(handler FragmentHandler, limitPosition int64, fragmentLimit int) int

	// Position is the consumed byte position within the stream.
	Position() int64

	// IsClosed reports whether the image has been closed by its source.
	IsClosed() bool

	Close() error
}

// AvailableImageHandler is notified when an image becomes available on a
// subscription. It may be invoked from a different execution context than
// the duty cycle.
type AvailableImageHandler func(image Image)

// UnavailableImageHandler is notified when an image goes away.
type UnavailableImageHandler func(image Image)

// Subscription receives images for one channel/stream pair.
type Subscription interface {
	Channel() string
	StreamID() int32
	IsConnected() bool
	ImageCount() int
	ImageAt(index int) Image
	Close() error
}

// Claim is a zero-copy region claimed on a publication. The caller writes
// into Buffer and either commits or aborts exactly once.
type Claim interface {
	Buffer() []byte
	Commit()
	Abort()
}

// Publication accepts outbound messages for one channel/stream pair.
type Publication interface {
	// TryClaim claims length bytes for writing. It returns
	// ErrBackPressured when the stream cannot currently accept the
	// message and ErrPublicationClosed after Close.
	TryClaim(length int) (Claim, error)

	Close() error
}

// Counter is a read-only observation of a position counter maintained
// elsewhere, such as the archive's recorded position for a live recording.
type Counter interface {
	Get() int64
}

// RecordingInfo describes one historical log recording held by the
// archive. Recordings are totally ordered by id; stop >= start always.
type RecordingInfo struct {
	RecordingID   int64
	StartPosition int64
	StopPosition  int64
}

// Archive serves durably stored recordings of the log.
type Archive interface {
	// ListRecordings enumerates recordings for a channel/stream pair,
	// starting from fromRecordingID, returning at most recordCount
	// descriptors. A short return means the enumeration is exhausted.
	ListRecordings(channel string, streamID int32, fromRecordingID int64, recordCount int) ([]RecordingInfo, error)

	// FindActivePositionCounter locates the live recorded-position
	// counter for a recording, or ErrCounterNotFound when the recording
	// is not actively being written.
	FindActivePositionCounter(recordingID int64) (Counter, error)

	// Replay opens a bounded replay of [startPosition, startPosition+length)
	// of a recording onto a private channel/stream and returns the
	// subscription delivering it.
	Replay(recordingID, startPosition, length int64, replayChannel string, replayStreamID int32) (Subscription, error)

	Close() error
}

// Client is the embedded transport client runtime. Invoke must be called
// regularly from the duty cycle so transport progress is never starved.
type Client interface {
	// Invoke advances the client conductor once and returns the amount
	// of work done.
	Invoke() int

	// AddSubscription registers interest in a channel/stream pair.
	// Availability handlers may fire from outside the duty cycle.
	AddSubscription(channel string, streamID int32, onAvailable AvailableImageHandler, onUnavailable UnavailableImageHandler) (Subscription, error)

	// AddPublication creates an exclusive publication for a
	// channel/stream pair.
	AddPublication(channel string, streamID int32) (Publication, error)
}

// IDSource produces unique 64-bit identifiers. Injected rather than
// process-global so tests can supply deterministic ids.
type IDSource func() int64
