// Package cluster implements the duty-cycle agent that drives one node of
// a replicated state-machine cluster: bounded replay of archived log
// history, live consumption of the cluster log, per-session client
// handles, and a logical clock derived only from log timestamps so every
// node replaying the same log reaches the same state.
package cluster

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/flowmesh/clusternode/internal/config"
	"github.com/flowmesh/clusternode/internal/ledger"
	"github.com/flowmesh/clusternode/internal/logger"
	"github.com/flowmesh/clusternode/internal/metrics"
	"github.com/flowmesh/clusternode/internal/sessions"
	"github.com/flowmesh/clusternode/internal/transport"
)

const (
	sendAttempts    = 3
	fragmentLimit   = 10
	archivePageSize = 100
)

type agentState int

const (
	stateCreated agentState = iota
	stateRecovering
	stateLiveRunning
	stateClosed
)

// imageHolder wraps the interface value so the current live image can be
// swapped atomically between the availability callbacks and the duty cycle.
type imageHolder struct {
	image transport.Image
}

// Agent is the single-threaded duty-cycle agent. All state except the
// live-image reference is touched only from the duty-cycle thread; the
// live-image reference is the one piece of cross-context shared state and
// is read as a snapshot once per tick.
type Agent struct {
	cfg     config.ClusterConfig
	client  transport.Client
	archive transport.Archive
	ledger  *ledger.Ledger
	service Service
	metrics *metrics.AgentMetrics
	log     zerolog.Logger

	logSubscription  transport.Subscription
	timerPublication transport.Publication
	registry         *sessions.Registry

	recPosition transport.Counter
	latestImage atomic.Pointer[imageHolder]

	timestampMs int64
	state       agentState
	dispatchErr error
}

// NewAgent wires the agent to its collaborators and registers interest in
// the cluster log. No log event is consumed until OnStart.
func NewAgent(
	cfg config.ClusterConfig,
	client transport.Client,
	archive transport.Archive,
	recoveryLedger *ledger.Ledger,
	service Service,
	agentMetrics *metrics.AgentMetrics,
) (*Agent, error) {
	a := &Agent{
		cfg:      cfg,
		client:   client,
		archive:  archive,
		ledger:   recoveryLedger,
		service:  service,
		metrics:  agentMetrics,
		registry: sessions.NewRegistry(),
		log:      logger.WithComponent("cluster.agent"),
	}

	logSubscription, err := client.AddSubscription(
		cfg.LogChannel, cfg.LogStreamID, a.OnAvailableImage, a.OnUnavailableImage)
	if err != nil {
		return nil, err
	}
	a.logSubscription = logSubscription

	timerPublication, err := client.AddPublication(cfg.TimerChannel, cfg.TimerStreamID)
	if err != nil {
		return nil, err
	}
	a.timerPublication = timerPublication

	return a, nil
}

// RoleName identifies the agent in logs and diagnostics.
func (a *Agent) RoleName() string {
	return "clustered-service"
}

// OnStart invokes the hosted service's startup callback and then recovers
// log history: replaying archived recordings not yet in the recovery
// ledger and waiting for the live log to connect. Any error here is fatal
// to startup; the agent never reaches the live-running state.
func (a *Agent) OnStart(ctx context.Context) error {
	if a.state == stateClosed {
		return ErrAgentClosed
	}

	a.state = stateRecovering

	if err := a.service.OnStart(a); err != nil {
		return err
	}

	if err := a.replayPreviousLogs(ctx); err != nil {
		return err
	}

	a.state = stateLiveRunning
	a.log.Info().Int64("timestamp_ms", a.timestampMs).Msg("Recovery complete, consuming live log")

	return nil
}

// DoWork is one duty-cycle tick: advance the embedded client runtime, then
// poll the live log image bounded by the durably recorded position so no
// state is built on bytes that could still be lost. The returned work
// count feeds the caller's idle strategy.
func (a *Agent) DoWork() (int, error) {
	workCount := a.client.Invoke()

	if holder := a.latestImage.Load(); holder != nil && a.recPosition != nil {
		workCount += holder.image.PollBounded(a, a.recPosition.Get(), fragmentLimit)
		if err := a.takeDispatchErr(); err != nil {
			return workCount, err
		}
	}

	a.metrics.RecordDutyCycleWork(workCount)

	return workCount, nil
}

// OnAvailableImage records the newly available live log image. May be
// invoked from outside the duty cycle.
func (a *Agent) OnAvailableImage(image transport.Image) {
	a.latestImage.Store(&imageHolder{image: image})
}

// OnUnavailableImage clears the live log image; the duty cycle skips
// polling until a new image is announced.
func (a *Agent) OnUnavailableImage(image transport.Image) {
	a.latestImage.Store(nil)
}

// OnClose releases the agent's resources: the log subscription, the timer
// publication, every registered session's response publication, and the
// recovery ledger. Each close is independent and best-effort; failures are
// logged and do not block the remaining closes. OnClose is idempotent.
func (a *Agent) OnClose() error {
	if a.state == stateClosed {
		return nil
	}
	a.state = stateClosed

	var lastErr error

	if err := a.logSubscription.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close log subscription")
		lastErr = err
	}

	if err := a.timerPublication.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close timer publication")
		lastErr = err
	}

	for _, session := range a.registry.Values() {
		if err := session.CloseResponse(); err != nil {
			a.log.Warn().Err(err).Int64("session_id", session.ID()).Msg("Failed to close session response publication")
			lastErr = err
		}
	}

	if err := a.ledger.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close recovery ledger")
		lastErr = err
	}

	a.log.Info().Msg("Agent closed")

	return lastErr
}

// ClientSession returns the session for a cluster session id, or nil.
func (a *Agent) ClientSession(sessionID int64) *sessions.ClientSession {
	return a.registry.Get(sessionID)
}

// TimeMs returns the logical clock: the timestamp of the most recently
// dispatched log event.
func (a *Agent) TimeMs() int64 {
	return a.timestampMs
}

// invokeClient drives the embedded transport client runtime once.
func (a *Agent) invokeClient() int {
	return a.client.Invoke()
}

func (a *Agent) takeDispatchErr() error {
	err := a.dispatchErr
	a.dispatchErr = nil
	return err
}
