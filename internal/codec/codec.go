// Package codec implements the fixed-layout wire encoding for cluster log
// events and timer control requests. Every message starts with a common
// little-endian header {schemaVersion u16, blockLength u16, templateId u16}
// followed by a fixed-size body at known offsets and, for session-open, a
// length-prefixed response channel string after the fixed block.
//
// Encoding appends into a caller-supplied region and fails with
// CapacityError when the region is too small. Decoding reads in place and
// does not allocate, with the single exception of the response channel
// string conversion on session-open.
package codec

import "encoding/binary"

// SchemaVersion is the wire schema version written into every header.
const SchemaVersion uint16 = 1

// HeaderLength is the encoded length of the common message header.
const HeaderLength = 6

// Template ids for the cluster log protocol. Ids outside this set are
// ignored by consumers for forward compatibility.
const (
	TemplateSessionOpen   uint16 = 1
	TemplateSessionClose  uint16 = 2
	TemplateSessionHeader uint16 = 3
	TemplateTimerEvent    uint16 = 4
	TemplateScheduleTimer uint16 = 5
	TemplateCancelTimer   uint16 = 6
)

// Fixed block lengths per template.
const (
	SessionOpenBlockLength   = 28
	SessionCloseBlockLength  = 20
	SessionHeaderBlockLength = 24
	TimerEventBlockLength    = 16
	ScheduleTimerBlockLength = 16
	CancelTimerBlockLength   = 8
)

// SessionMessageHeaderLength is the number of bytes preceding the opaque
// application payload in a session-message fragment.
const SessionMessageHeaderLength = HeaderLength + SessionHeaderBlockLength

// ScheduleTimerLength is the full encoded length of a schedule-timer request.
const ScheduleTimerLength = HeaderLength + ScheduleTimerBlockLength

// CancelTimerLength is the full encoded length of a cancel-timer request.
const CancelTimerLength = HeaderLength + CancelTimerBlockLength

// Header is the decoded common message header.
type Header struct {
	SchemaVersion uint16
	BlockLength   uint16
	TemplateID    uint16
}

// SessionOpenEvent announces a new client session on the log.
type SessionOpenEvent struct {
	ClusterSessionID int64
	CorrelationID    int64
	Timestamp        int64
	ResponseStreamID int32
	ResponseChannel  string
}

// SessionCloseEvent announces the end of a client session on the log.
type SessionCloseEvent struct {
	ClusterSessionID int64
	Timestamp        int64
	CloseReason      int32
}

// SessionHeader precedes the opaque application payload of a
// session-message fragment.
type SessionHeader struct {
	ClusterSessionID int64
	CorrelationID    int64
	Timestamp        int64
}

// TimerEvent is the log event delivered when a scheduled timer fires.
type TimerEvent struct {
	CorrelationID int64
	Timestamp     int64
}

// ScheduleTimerRequest asks the cluster to fire a timer at a deadline.
type ScheduleTimerRequest struct {
	CorrelationID int64
	Deadline      int64
}

// CancelTimerRequest asks the cluster to cancel a scheduled timer.
type CancelTimerRequest struct {
	CorrelationID int64
}

// DecodeHeader reads the common header from the start of a fragment.
func DecodeHeader(frag []byte) (Header, error) {
	if len(frag) < HeaderLength {
		return Header{}, TruncatedFragmentError{Required: HeaderLength, Available: len(frag)}
	}

	return Header{
		SchemaVersion: binary.LittleEndian.Uint16(frag[0:2]),
		BlockLength:   binary.LittleEndian.Uint16(frag[2:4]),
		TemplateID:    binary.LittleEndian.Uint16(frag[4:6]),
	}, nil
}

func encodeHeader(buf []byte, blockLength, templateID uint16) {
	binary.LittleEndian.PutUint16(buf[0:2], SchemaVersion)
	binary.LittleEndian.PutUint16(buf[2:4], blockLength)
	binary.LittleEndian.PutUint16(buf[4:6], templateID)
}

// SessionOpenLength returns the full encoded length of a session-open
// event for the given response channel.
func SessionOpenLength(responseChannel string) int {
	return HeaderLength + SessionOpenBlockLength + 4 + len(responseChannel)
}

// EncodeSessionOpen encodes a session-open event, header included, into buf.
// It returns the number of bytes written.
func EncodeSessionOpen(buf []byte, ev SessionOpenEvent) (int, error) {
	length := SessionOpenLength(ev.ResponseChannel)
	if len(buf) < length {
		return 0, CapacityError{Required: length, Available: len(buf)}
	}

	encodeHeader(buf, SessionOpenBlockLength, TemplateSessionOpen)
	body := buf[HeaderLength:]
	binary.LittleEndian.PutUint64(body[0:8], uint64(ev.ClusterSessionID))
	binary.LittleEndian.PutUint64(body[8:16], uint64(ev.CorrelationID))
	binary.LittleEndian.PutUint64(body[16:24], uint64(ev.Timestamp))
	binary.LittleEndian.PutUint32(body[24:28], uint32(ev.ResponseStreamID))
	binary.LittleEndian.PutUint32(body[28:32], uint32(len(ev.ResponseChannel)))
	copy(body[32:], ev.ResponseChannel)

	return length, nil
}

// DecodeSessionOpen decodes a session-open body from a full fragment. The
// header must already have been decoded so the variable-length response
// channel is read at the offset the writer's block length dictates.
func DecodeSessionOpen(h Header, frag []byte) (SessionOpenEvent, error) {
	varOffset := HeaderLength + int(h.BlockLength)
	if len(frag) < HeaderLength+SessionOpenBlockLength || len(frag) < varOffset+4 {
		return SessionOpenEvent{}, TruncatedFragmentError{
			TemplateID: TemplateSessionOpen,
			Required:   varOffset + 4,
			Available:  len(frag),
		}
	}

	body := frag[HeaderLength:]
	channelLength := int(binary.LittleEndian.Uint32(frag[varOffset : varOffset+4]))
	if len(frag) < varOffset+4+channelLength {
		return SessionOpenEvent{}, TruncatedFragmentError{
			TemplateID: TemplateSessionOpen,
			Required:   varOffset + 4 + channelLength,
			Available:  len(frag),
		}
	}

	return SessionOpenEvent{
		ClusterSessionID: int64(binary.LittleEndian.Uint64(body[0:8])),
		CorrelationID:    int64(binary.LittleEndian.Uint64(body[8:16])),
		Timestamp:        int64(binary.LittleEndian.Uint64(body[16:24])),
		ResponseStreamID: int32(binary.LittleEndian.Uint32(body[24:28])),
		ResponseChannel:  string(frag[varOffset+4 : varOffset+4+channelLength]),
	}, nil
}

// EncodeSessionClose encodes a session-close event, header included, into buf.
func EncodeSessionClose(buf []byte, ev SessionCloseEvent) (int, error) {
	length := HeaderLength + SessionCloseBlockLength
	if len(buf) < length {
		return 0, CapacityError{Required: length, Available: len(buf)}
	}

	encodeHeader(buf, SessionCloseBlockLength, TemplateSessionClose)
	body := buf[HeaderLength:]
	binary.LittleEndian.PutUint64(body[0:8], uint64(ev.ClusterSessionID))
	binary.LittleEndian.PutUint64(body[8:16], uint64(ev.Timestamp))
	binary.LittleEndian.PutUint32(body[16:20], uint32(ev.CloseReason))

	return length, nil
}

// DecodeSessionClose decodes a session-close body from a full fragment.
func DecodeSessionClose(h Header, frag []byte) (SessionCloseEvent, error) {
	if len(frag) < HeaderLength+SessionCloseBlockLength {
		return SessionCloseEvent{}, TruncatedFragmentError{
			TemplateID: TemplateSessionClose,
			Required:   HeaderLength + SessionCloseBlockLength,
			Available:  len(frag),
		}
	}

	body := frag[HeaderLength:]
	return SessionCloseEvent{
		ClusterSessionID: int64(binary.LittleEndian.Uint64(body[0:8])),
		Timestamp:        int64(binary.LittleEndian.Uint64(body[8:16])),
		CloseReason:      int32(binary.LittleEndian.Uint32(body[16:20])),
	}, nil
}

// EncodeSessionMessage encodes a session header followed directly by the
// opaque application payload into buf.
func EncodeSessionMessage(buf []byte, h SessionHeader, payload []byte) (int, error) {
	length := SessionMessageHeaderLength + len(payload)
	if len(buf) < length {
		return 0, CapacityError{Required: length, Available: len(buf)}
	}

	encodeHeader(buf, SessionHeaderBlockLength, TemplateSessionHeader)
	body := buf[HeaderLength:]
	binary.LittleEndian.PutUint64(body[0:8], uint64(h.ClusterSessionID))
	binary.LittleEndian.PutUint64(body[8:16], uint64(h.CorrelationID))
	binary.LittleEndian.PutUint64(body[16:24], uint64(h.Timestamp))
	copy(buf[SessionMessageHeaderLength:], payload)

	return length, nil
}

// DecodeSessionHeader decodes the fixed session header fields of a
// session-message fragment. The application payload begins at
// HeaderLength plus the writer's block length; a nil error guarantees the
// fragment reaches that offset.
func DecodeSessionHeader(h Header, frag []byte) (SessionHeader, error) {
	payloadOffset := HeaderLength + int(h.BlockLength)
	if len(frag) < HeaderLength+SessionHeaderBlockLength || len(frag) < payloadOffset {
		required := HeaderLength + SessionHeaderBlockLength
		if payloadOffset > required {
			required = payloadOffset
		}
		return SessionHeader{}, TruncatedFragmentError{
			TemplateID: TemplateSessionHeader,
			Required:   required,
			Available:  len(frag),
		}
	}

	body := frag[HeaderLength:]
	return SessionHeader{
		ClusterSessionID: int64(binary.LittleEndian.Uint64(body[0:8])),
		CorrelationID:    int64(binary.LittleEndian.Uint64(body[8:16])),
		Timestamp:        int64(binary.LittleEndian.Uint64(body[16:24])),
	}, nil
}

// EncodeTimerEvent encodes a timer-event, header included, into buf.
func EncodeTimerEvent(buf []byte, ev TimerEvent) (int, error) {
	length := HeaderLength + TimerEventBlockLength
	if len(buf) < length {
		return 0, CapacityError{Required: length, Available: len(buf)}
	}

	encodeHeader(buf, TimerEventBlockLength, TemplateTimerEvent)
	body := buf[HeaderLength:]
	binary.LittleEndian.PutUint64(body[0:8], uint64(ev.CorrelationID))
	binary.LittleEndian.PutUint64(body[8:16], uint64(ev.Timestamp))

	return length, nil
}

// DecodeTimerEvent decodes a timer-event body from a full fragment.
func DecodeTimerEvent(h Header, frag []byte) (TimerEvent, error) {
	if len(frag) < HeaderLength+TimerEventBlockLength {
		return TimerEvent{}, TruncatedFragmentError{
			TemplateID: TemplateTimerEvent,
			Required:   HeaderLength + TimerEventBlockLength,
			Available:  len(frag),
		}
	}

	body := frag[HeaderLength:]
	return TimerEvent{
		CorrelationID: int64(binary.LittleEndian.Uint64(body[0:8])),
		Timestamp:     int64(binary.LittleEndian.Uint64(body[8:16])),
	}, nil
}

// EncodeScheduleTimer encodes a schedule-timer request, header included,
// into buf.
func EncodeScheduleTimer(buf []byte, req ScheduleTimerRequest) (int, error) {
	if len(buf) < ScheduleTimerLength {
		return 0, CapacityError{Required: ScheduleTimerLength, Available: len(buf)}
	}

	encodeHeader(buf, ScheduleTimerBlockLength, TemplateScheduleTimer)
	body := buf[HeaderLength:]
	binary.LittleEndian.PutUint64(body[0:8], uint64(req.CorrelationID))
	binary.LittleEndian.PutUint64(body[8:16], uint64(req.Deadline))

	return ScheduleTimerLength, nil
}

// DecodeScheduleTimer decodes a schedule-timer body from a full fragment.
func DecodeScheduleTimer(h Header, frag []byte) (ScheduleTimerRequest, error) {
	if len(frag) < ScheduleTimerLength {
		return ScheduleTimerRequest{}, TruncatedFragmentError{
			TemplateID: TemplateScheduleTimer,
			Required:   ScheduleTimerLength,
			Available:  len(frag),
		}
	}

	body := frag[HeaderLength:]
	return ScheduleTimerRequest{
		CorrelationID: int64(binary.LittleEndian.Uint64(body[0:8])),
		Deadline:      int64(binary.LittleEndian.Uint64(body[8:16])),
	}, nil
}

// EncodeCancelTimer encodes a cancel-timer request, header included, into buf.
func EncodeCancelTimer(buf []byte, req CancelTimerRequest) (int, error) {
	if len(buf) < CancelTimerLength {
		return 0, CapacityError{Required: CancelTimerLength, Available: len(buf)}
	}

	encodeHeader(buf, CancelTimerBlockLength, TemplateCancelTimer)
	binary.LittleEndian.PutUint64(buf[HeaderLength:HeaderLength+8], uint64(req.CorrelationID))

	return CancelTimerLength, nil
}

// DecodeCancelTimer decodes a cancel-timer body from a full fragment.
func DecodeCancelTimer(h Header, frag []byte) (CancelTimerRequest, error) {
	if len(frag) < CancelTimerLength {
		return CancelTimerRequest{}, TruncatedFragmentError{
			TemplateID: TemplateCancelTimer,
			Required:   CancelTimerLength,
			Available:  len(frag),
		}
	}

	return CancelTimerRequest{
		CorrelationID: int64(binary.LittleEndian.Uint64(frag[HeaderLength : HeaderLength+8])),
	}, nil
}
