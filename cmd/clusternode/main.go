package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowmesh/clusternode/internal/cluster"
	"github.com/flowmesh/clusternode/internal/config"
	"github.com/flowmesh/clusternode/internal/ledger"
	"github.com/flowmesh/clusternode/internal/logger"
	"github.com/flowmesh/clusternode/internal/metrics"
	"github.com/flowmesh/clusternode/internal/transport/memory"
	"github.com/flowmesh/clusternode/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		Rotation:   cfg.Logging.Rotation,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log := logger.WithComponent("main")
	log.Info().Str("version", version.Get().Version).Msg("Starting cluster node")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	agentMetrics := metrics.NewAgentMetrics(collector)

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Addr, collector.GetRegistry())
		if err := metricsServer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to start metrics server")
			os.Exit(1)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
	}

	// The demo runs against the in-process transport: an archived log term
	// is seeded for recovery, a live term is recorded, and goroutines stand
	// in for the cluster's sequencer and timer gateway.
	hub := memory.NewHub()
	archive := memory.NewArchive(hub)
	seedArchivedTerm(archive, cfg.Cluster)
	archive.StartRecording(cfg.Cluster.LogChannel, cfg.Cluster.LogStreamID, 0)

	recoveryLedger, err := ledger.Open(cfg.Ledger.Dir)
	if err != nil {
		log.Error().Err(err).Str("dir", cfg.Ledger.Dir).Msg("Failed to open recovery ledger")
		os.Exit(1)
	}

	client := memory.NewClient(hub, nil)
	defer client.Close()
	agent, err := cluster.NewAgent(cfg.Cluster, client, archive, recoveryLedger, newEchoService(), agentMetrics)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create cluster agent")
		os.Exit(1)
	}

	go runTimerGateway(ctx, hub, cfg.Cluster)
	go runDemoClient(ctx, hub, cfg.Cluster)

	runner := cluster.NewRunner(agent, cluster.NewDefaultIdleStrategy())
	if err := runner.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Cluster agent failed")
		os.Exit(1)
	}

	log.Info().Msg("Cluster node stopped")
}
