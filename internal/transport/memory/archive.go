package memory

import (
	"fmt"
	"sync"

	"github.com/flowmesh/clusternode/internal/transport"
)

// recording is one stored segment of a stream. An active recording
// references its live stream so its extent grows as the stream does.
type recording struct {
	info     transport.RecordingInfo
	channel  string
	streamID int32
	frozen   [][]byte
	live     *stream
}

func (r *recording) stopPosition() int64 {
	if r.live != nil {
		return r.info.StartPosition + r.live.endPosition()
	}
	return r.info.StopPosition
}

// streamCounter observes the recorded position of an actively recorded
// stream.
type streamCounter struct {
	base   int64
	stream *stream
}

func (c *streamCounter) Get() int64 {
	return c.base + c.stream.endPosition()
}

// Archive stores recordings of hub streams and serves bounded replays of
// them. Recording ids are assigned sequentially, so the recording with the
// greatest id is the newest.
type Archive struct {
	hub *Hub

	mu         sync.Mutex
	recordings map[int64]*recording
	nextID     int64
	closed     bool
}

// NewArchive creates an empty archive over the hub.
func NewArchive(hub *Hub) *Archive {
	return &Archive{hub: hub, recordings: make(map[int64]*recording)}
}

// AddStoppedRecording stores a finished recording from explicit fragments.
// startPosition is the recording's first byte position.
func (a *Archive) AddStoppedRecording(channel string, streamID int32, startPosition int64, fragments [][]byte) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	stop := startPosition
	for _, fragment := range fragments {
		stop += int64(len(fragment))
	}

	id := a.nextID
	a.nextID++
	a.recordings[id] = &recording{
		info: transport.RecordingInfo{
			RecordingID:   id,
			StartPosition: startPosition,
			StopPosition:  stop,
		},
		channel:  channel,
		streamID: streamID,
		frozen:   fragments,
	}
	return id
}

// StartRecording begins recording the live stream of a channel/stream
// pair, creating the stream if needed. The returned id names the active
// recording whose recorded position grows with the stream.
func (a *Archive) StartRecording(channel string, streamID int32, startPosition int64) int64 {
	st := a.hub.getOrCreate(channel, streamID)

	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextID
	a.nextID++
	a.recordings[id] = &recording{
		info: transport.RecordingInfo{
			RecordingID:   id,
			StartPosition: startPosition,
			StopPosition:  startPosition,
		},
		channel:  channel,
		streamID: streamID,
		live:     st,
	}
	return id
}

// ListRecordings enumerates recordings for a channel/stream pair in
// ascending id order, starting at fromRecordingID, up to recordCount.
func (a *Archive) ListRecordings(channel string, streamID int32, fromRecordingID int64, recordCount int) ([]transport.RecordingInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []transport.RecordingInfo
	for id := fromRecordingID; id < a.nextID && len(out) < recordCount; id++ {
		rec, ok := a.recordings[id]
		if !ok || rec.channel != channel || rec.streamID != streamID {
			continue
		}
		info := rec.info
		info.StopPosition = rec.stopPosition()
		out = append(out, info)
	}
	return out, nil
}

// FindActivePositionCounter returns a counter over the recorded position
// of an actively recorded stream.
func (a *Archive) FindActivePositionCounter(recordingID int64) (transport.Counter, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.recordings[recordingID]
	if !ok {
		return nil, transport.ErrRecordingNotFound
	}
	if rec.live == nil {
		return nil, transport.ErrCounterNotFound
	}
	return &streamCounter{base: rec.info.StartPosition, stream: rec.live}, nil
}

// Replay serves [startPosition, startPosition+length) of a recording as an
// immediately connected single-image subscription on the replay channel.
func (a *Archive) Replay(recordingID, startPosition, length int64, replayChannel string, replayStreamID int32) (transport.Subscription, error) {
	a.mu.Lock()
	rec, ok := a.recordings[recordingID]
	a.mu.Unlock()

	if !ok {
		return nil, transport.ErrRecordingNotFound
	}

	stop := rec.stopPosition()
	if startPosition < rec.info.StartPosition || startPosition+length > stop {
		return nil, fmt.Errorf(
			"replay range [%d, %d) outside recording %d extent [%d, %d)",
			startPosition, startPosition+length, recordingID, rec.info.StartPosition, stop,
		)
	}

	replayStream := &stream{}
	if rec.live != nil {
		for _, fragment := range rec.live.snapshot(startPosition-rec.info.StartPosition, length) {
			replayStream.append(fragment)
		}
	} else {
		offset := rec.info.StartPosition
		for _, fragment := range rec.frozen {
			end := offset + int64(len(fragment))
			if offset >= startPosition && end <= startPosition+length {
				replayStream.append(fragment)
			}
			offset = end
		}
	}

	sub := &subscription{channel: replayChannel, streamID: replayStreamID}
	sub.attach(newImage(replayStream, startPosition))
	return sub, nil
}

// Close releases the archive.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
