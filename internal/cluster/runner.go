package cluster

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/flowmesh/clusternode/internal/logger"
)

// Runner owns the agent lifecycle: start, duty-cycle loop under an idle
// strategy, and close. It blocks the calling goroutine; cancellation of
// the context is the stop signal.
type Runner struct {
	agent *Agent
	idle  IdleStrategy
	log   zerolog.Logger
}

// NewRunner creates a runner driving the agent with the idle strategy.
func NewRunner(agent *Agent, idle IdleStrategy) *Runner {
	return &Runner{
		agent: agent,
		idle:  idle,
		log:   logger.WithComponent("cluster.runner"),
	}
}

// Run starts the agent, drives its duty cycle until the context is
// cancelled or a fatal error occurs, then closes it. A cancelled context
// during the live duty cycle is a clean stop; an error during recovery or
// dispatch is returned after resources are released.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info().Str("role", r.agent.RoleName()).Msg("Starting agent")

	if err := r.agent.OnStart(ctx); err != nil {
		r.log.Error().Err(err).Msg("Agent failed to start")
		if closeErr := r.agent.OnClose(); closeErr != nil {
			r.log.Warn().Err(closeErr).Msg("Close after failed start reported errors")
		}
		return err
	}

	defer func() {
		if err := r.agent.OnClose(); err != nil {
			r.log.Warn().Err(err).Msg("Agent close reported errors")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Agent stopping")
			return nil
		default:
		}

		workCount, err := r.agent.DoWork()
		if err != nil {
			r.log.Error().Err(err).Msg("Fatal duty-cycle error")
			return err
		}

		r.idle.Idle(workCount)
	}
}
