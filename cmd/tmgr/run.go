package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fluxgrid/tmgr/internal/config"
	"github.com/fluxgrid/tmgr/internal/dispatch"
	"github.com/fluxgrid/tmgr/internal/hostinfo"
	"github.com/fluxgrid/tmgr/internal/log"
	"github.com/fluxgrid/tmgr/internal/metrics"
	"github.com/fluxgrid/tmgr/internal/resultpusher"
	"github.com/fluxgrid/tmgr/internal/spawner"
	"github.com/fluxgrid/tmgr/internal/task"
	"github.com/fluxgrid/tmgr/internal/wire"
	"github.com/fluxgrid/tmgr/internal/workerpool"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Manager and connect to an Interchange",
	RunE:  runManager,
}

func init() {
	config.BindFlags(runCmd.Flags())
}

func isInterchangeLost(err error) bool {
	return errors.Is(err, dispatch.ErrInterchangeLost)
}

func runManager(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.UID == "" {
		cfg.UID = uuid.New().String()
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("manager")

	hn, _ := os.Hostname()
	workDir, _ := os.Getwd()
	info := hostinfo.Detect()

	manifest, err := config.LoadManifest(cfg.WorkerManifest)
	if err != nil {
		return fmt.Errorf("load worker manifest: %w", err)
	}

	m := metrics.New()

	spawnCfg := spawner.Config{
		Manifest:               manifest,
		ContainerdSocket:       cfg.ContainerdSocket,
		MaxConsecutiveFailures: cfg.MaxConsecutiveSpawnFailures,
		Metrics:                m,
	}
	switch cfg.Mode {
	case "container":
		spawnCfg.Mode = spawner.ModeContainer
		spawnCfg.DefaultSpec = spawner.WorkerSpec{Image: cfg.ContainerImage}
		spawnCfg.ContainerReuse = spawner.ContainerReuse(cfg.ContainerReuse)
	default:
		spawnCfg.Mode = spawner.ModeProcess
		spawnCfg.DefaultSpec = spawner.WorkerSpec{Command: []string{cfg.WorkerBinary}}
	}

	workerLink, err := wire.ListenWorkerLink("127.0.0.1:0", logger)
	if err != nil {
		return fmt.Errorf("listen downlink-workers: %w", err)
	}
	defer workerLink.Close()
	spawnCfg.DownlinkAddr = workerLink.Addr()

	sp, err := spawner.New(spawnCfg, logger)
	if err != nil {
		return fmt.Errorf("build spawner: %w", err)
	}

	taskLink, err := wire.DialTaskLink(cfg.TaskURL, logger)
	if err != nil {
		return fmt.Errorf("dial uplink-tasks: %w", err)
	}
	defer taskLink.Close()

	resultLink, err := wire.DialResultLink(cfg.ResultURL, logger)
	if err != nil {
		return fmt.Errorf("dial uplink-results: %w", err)
	}
	defer resultLink.Close()

	pusher := resultpusher.New(resultLink, cfg.PollPeriod, m, logger)
	go pusher.Run()
	defer pusher.Stop()

	workers := workerpool.New()
	queues := task.NewQueues()

	loopCfg := dispatch.Config{
		UID:                cfg.UID,
		BlockID:            cfg.BlockID,
		Cores:              info.Cores,
		MemMB:              info.MemMB,
		Hostname:           hn,
		WorkDir:            workDir,
		Capacity:           capacity(cfg.MaxWorkers, info.Cores, cfg.CoresPerWorker),
		MaxQueueSize:       cfg.MaxQueueSize,
		HeartbeatPeriod:    cfg.HeartbeatPeriod,
		HeartbeatThreshold: cfg.HeartbeatThresh,
		InitialPollPeriod:  cfg.PollPeriod,
	}
	loop := dispatch.New(loopCfg, taskLink, workerLink, workers, queues, sp, pusher, m, logger)

	stopHTTP := serveIntrospection(cfg.MetricsAddr, cfg.StatusAddr, m, workers, logger)
	defer stopHTTP()

	sigCh := signalContext()
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run() }()

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
		return nil
	case runErr := <-errCh:
		if runErr != nil {
			logger.Error().Err(runErr).Msg("dispatch loop exited with error")
		}
		return runErr
	}
}

// capacity returns the worker slot budget: the configured max_workers,
// further bounded by how many cores-per-worker slices the host's cores
// divide into.
func capacity(maxWorkers, cores int, coresPerWorker float64) int {
	if coresPerWorker <= 0 {
		return maxWorkers
	}
	byCores := int(float64(cores) / coresPerWorker)
	if byCores < maxWorkers {
		return byCores
	}
	return maxWorkers
}

// statusResponse is the JSON shape served at /status.
type statusResponse struct {
	Pending int                               `json:"pending"`
	Active  int                               `json:"active"`
	ByType  map[string]workerpool.TypeSnapshot `json:"by_type"`
}

// serveIntrospection starts the /metrics and /status HTTP endpoints, if
// their addresses are non-empty, and returns a func that shuts them down.
func serveIntrospection(metricsAddr, statusAddr string, m *metrics.Registry, workers *workerpool.Map, logger zerolog.Logger) func() {
	var servers []*http.Server

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		servers = append(servers, srv)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn().Err(err).Msg("metrics server error")
			}
		}()
	}

	if statusAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			snap := workers.Snapshot()
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(statusResponse{
				Pending: snap.Pending,
				Active:  snap.Active,
				ByType:  snap.ByType,
			})
		})
		srv := &http.Server{Addr: statusAddr, Handler: mux}
		servers = append(servers, srv)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn().Err(err).Msg("status server error")
			}
		}()
	}

	return func() {
		for _, srv := range servers {
			srv.Close()
		}
	}
}
