package sessions

import "github.com/flowmesh/clusternode/internal/transport"

// ClientSession is this node's handle for one connected application
// client. It owns the outbound response publication until the session is
// removed from the registry, at which point the remover closes it.
type ClientSession struct {
	id               int64
	responseStreamID int32
	responseChannel  string
	response         transport.Publication
}

// NewClientSession creates a session handle owning the given response
// publication.
func NewClientSession(id int64, responseChannel string, responseStreamID int32, response transport.Publication) *ClientSession {
	return &ClientSession{
		id:               id,
		responseStreamID: responseStreamID,
		responseChannel:  responseChannel,
		response:         response,
	}
}

// ID returns the cluster session id, stable for the session's lifetime.
func (s *ClientSession) ID() int64 {
	return s.id
}

// ResponseChannel returns the channel responses to this client are sent on.
func (s *ClientSession) ResponseChannel() string {
	return s.responseChannel
}

// ResponseStreamID returns the stream id responses to this client are sent on.
func (s *ClientSession) ResponseStreamID() int32 {
	return s.responseStreamID
}

// TryClaim claims a region on the session's response publication.
func (s *ClientSession) TryClaim(length int) (transport.Claim, error) {
	return s.response.TryClaim(length)
}

// CloseResponse closes the outbound response publication.
func (s *ClientSession) CloseResponse() error {
	return s.response.Close()
}
