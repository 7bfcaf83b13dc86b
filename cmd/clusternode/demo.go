package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowmesh/clusternode/internal/cluster"
	"github.com/flowmesh/clusternode/internal/codec"
	"github.com/flowmesh/clusternode/internal/config"
	"github.com/flowmesh/clusternode/internal/logger"
	"github.com/flowmesh/clusternode/internal/sessions"
	"github.com/flowmesh/clusternode/internal/transport"
	"github.com/flowmesh/clusternode/internal/transport/memory"
)

const (
	demoResponseChannel  = "demo-client-response"
	demoResponseStreamID = int32(200)

	echoTimerDelayMs = 2000
)

func offer(pub transport.Publication, fragment []byte) error {
	claim, err := pub.TryClaim(len(fragment))
	if err != nil {
		return err
	}
	copy(claim.Buffer(), fragment)
	claim.Commit()
	return nil
}

// seedArchivedTerm stores one finished log term in the archive so startup
// exercises recovery: a session that opened, sent a message, and closed in
// a previous run of the cluster.
func seedArchivedTerm(archive *memory.Archive, cfg config.ClusterConfig) {
	base := time.Now().Add(-time.Minute).UnixMilli()

	open := make([]byte, codec.SessionOpenLength(demoResponseChannel))
	_, _ = codec.EncodeSessionOpen(open, codec.SessionOpenEvent{
		ClusterSessionID: 1,
		CorrelationID:    1,
		Timestamp:        base,
		ResponseStreamID: demoResponseStreamID,
		ResponseChannel:  demoResponseChannel,
	})

	message := make([]byte, codec.SessionMessageHeaderLength+len("hello from history"))
	_, _ = codec.EncodeSessionMessage(message, codec.SessionHeader{
		ClusterSessionID: 1,
		CorrelationID:    10,
		Timestamp:        base + 5,
	}, []byte("hello from history"))

	closeEvent := make([]byte, codec.HeaderLength+codec.SessionCloseBlockLength)
	_, _ = codec.EncodeSessionClose(closeEvent, codec.SessionCloseEvent{
		ClusterSessionID: 1,
		Timestamp:        base + 10,
		CloseReason:      int32(cluster.CloseReasonClientAction),
	})

	archive.AddStoppedRecording(cfg.LogChannel, cfg.LogStreamID, 0,
		[][]byte{open, message, closeEvent})
}

// echoService is the hosted state machine of the demo: it echoes every
// session message back to its client and schedules a follow-up timer.
type echoService struct {
	cluster cluster.Cluster
	log     zerolog.Logger
}

func newEchoService() *echoService {
	return &echoService{log: logger.WithComponent("demo.echo")}
}

func (s *echoService) OnStart(c cluster.Cluster) error {
	s.cluster = c
	s.log.Info().Msg("Echo service started")
	return nil
}

func (s *echoService) OnSessionOpen(session *sessions.ClientSession, timestampMs int64) error {
	s.log.Info().
		Int64("session_id", session.ID()).
		Int64("timestamp_ms", timestampMs).
		Str("response_channel", session.ResponseChannel()).
		Msg("Session opened")
	return nil
}

func (s *echoService) OnSessionClose(session *sessions.ClientSession, timestampMs int64, reason cluster.CloseReason) error {
	s.log.Info().
		Int64("session_id", session.ID()).
		Int64("timestamp_ms", timestampMs).
		Str("reason", reason.String()).
		Msg("Session closed")
	return nil
}

func (s *echoService) OnSessionMessage(sessionID, correlationID, timestampMs int64, payload []byte) error {
	s.log.Info().
		Int64("session_id", sessionID).
		Int64("correlation_id", correlationID).
		Str("payload", string(payload)).
		Msg("Echoing message")

	if session := s.cluster.ClientSession(sessionID); session != nil {
		claim, err := session.TryClaim(len(payload))
		if err != nil {
			s.log.Warn().Err(err).Int64("session_id", sessionID).Msg("Echo response dropped")
		} else {
			copy(claim.Buffer(), payload)
			claim.Commit()
		}
	}

	return s.cluster.ScheduleTimer(correlationID, timestampMs+echoTimerDelayMs)
}

func (s *echoService) OnTimerEvent(correlationID, timestampMs int64) error {
	s.log.Info().
		Int64("correlation_id", correlationID).
		Int64("timestamp_ms", timestampMs).
		Msg("Timer fired")
	return nil
}

// runTimerGateway consumes schedule/cancel requests from the timer stream
// and appends a timer-event to the log once a deadline passes. In a real
// deployment the cluster's consensus module does this.
func runTimerGateway(ctx context.Context, hub *memory.Hub, cfg config.ClusterConfig) {
	log := logger.WithComponent("demo.timer-gateway")

	client := memory.NewClient(hub, nil)
	defer client.Close()
	sub, err := client.AddSubscription(cfg.TimerChannel, cfg.TimerStreamID, nil, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to subscribe to timer stream")
		return
	}
	logPub, err := client.AddPublication(cfg.LogChannel, cfg.LogStreamID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open log publication")
		return
	}

	pending := make(map[int64]int64)
	handler := transport.FragmentHandlerFunc(func(fragment []byte) {
		h, err := codec.DecodeHeader(fragment)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping malformed timer request")
			return
		}
		switch h.TemplateID {
		case codec.TemplateScheduleTimer:
			req, err := codec.DecodeScheduleTimer(h, fragment)
			if err != nil {
				log.Warn().Err(err).Msg("Dropping malformed schedule request")
				return
			}
			pending[req.CorrelationID] = req.Deadline
		case codec.TemplateCancelTimer:
			req, err := codec.DecodeCancelTimer(h, fragment)
			if err != nil {
				log.Warn().Err(err).Msg("Dropping malformed cancel request")
				return
			}
			delete(pending, req.CorrelationID)
		}
	})

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		client.Invoke()
		for i := 0; i < sub.ImageCount(); i++ {
			sub.ImageAt(i).Poll(handler, 10)
		}

		now := time.Now().UnixMilli()
		for correlationID, deadline := range pending {
			if deadline > now {
				continue
			}
			buf := make([]byte, codec.HeaderLength+codec.TimerEventBlockLength)
			_, _ = codec.EncodeTimerEvent(buf, codec.TimerEvent{
				CorrelationID: correlationID,
				Timestamp:     now,
			})
			if err := offer(logPub, buf); err != nil {
				log.Warn().Err(err).Int64("correlation_id", correlationID).Msg("Timer event dropped")
			}
			delete(pending, correlationID)
		}
	}
}

// runDemoClient publishes a scripted client session onto the live log and
// prints the echoes it receives back. It stands in for the cluster's
// sequencer stamping accepted ingress onto the log.
func runDemoClient(ctx context.Context, hub *memory.Hub, cfg config.ClusterConfig) {
	log := logger.WithComponent("demo.client")

	client := memory.NewClient(hub, nil)
	defer client.Close()
	logPub, err := client.AddPublication(cfg.LogChannel, cfg.LogStreamID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open log publication")
		return
	}
	responses, err := client.AddSubscription(demoResponseChannel, demoResponseStreamID, nil, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to subscribe to responses")
		return
	}

	const sessionID = int64(2)

	open := make([]byte, codec.SessionOpenLength(demoResponseChannel))
	_, _ = codec.EncodeSessionOpen(open, codec.SessionOpenEvent{
		ClusterSessionID: sessionID,
		CorrelationID:    sessionID,
		Timestamp:        time.Now().UnixMilli(),
		ResponseStreamID: demoResponseStreamID,
		ResponseChannel:  demoResponseChannel,
	})
	if err := offer(logPub, open); err != nil {
		log.Error().Err(err).Msg("Failed to open demo session")
		return
	}

	echoHandler := transport.FragmentHandlerFunc(func(fragment []byte) {
		log.Info().Str("payload", string(fragment)).Msg("Echo received")
	})

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	correlationID := int64(100)
	for {
		select {
		case <-ctx.Done():
			closeEvent := make([]byte, codec.HeaderLength+codec.SessionCloseBlockLength)
			_, _ = codec.EncodeSessionClose(closeEvent, codec.SessionCloseEvent{
				ClusterSessionID: sessionID,
				Timestamp:        time.Now().UnixMilli(),
				CloseReason:      int32(cluster.CloseReasonClientAction),
			})
			_ = offer(logPub, closeEvent)
			return
		case <-ticker.C:
		}

		correlationID++
		payload := []byte(time.Now().Format(time.RFC3339))
		message := make([]byte, codec.SessionMessageHeaderLength+len(payload))
		_, _ = codec.EncodeSessionMessage(message, codec.SessionHeader{
			ClusterSessionID: sessionID,
			CorrelationID:    correlationID,
			Timestamp:        time.Now().UnixMilli(),
		}, payload)
		if err := offer(logPub, message); err != nil {
			log.Warn().Err(err).Msg("Demo message dropped")
			return
		}

		client.Invoke()
		for i := 0; i < responses.ImageCount(); i++ {
			responses.ImageAt(i).Poll(echoHandler, 10)
		}
	}
}
