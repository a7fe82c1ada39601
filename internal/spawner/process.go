package spawner

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// processBackend launches worker binaries directly with os/exec — the
// equivalent of the no-container mode: one OS process per worker,
// reaped when the worker dies or the Manager shuts down.
type processBackend struct {
	cfg Config
	log zerolog.Logger

	mu   sync.Mutex
	cmds map[string]*exec.Cmd
}

func newProcessBackend(cfg Config, logger zerolog.Logger) *processBackend {
	return &processBackend{
		cfg:  cfg,
		log:  logger.With().Str("spawner_mode", "process").Logger(),
		cmds: make(map[string]*exec.Cmd),
	}
}

func (b *processBackend) spawn(id, workerType string, spec WorkerSpec) error {
	if len(spec.Command) == 0 {
		return fmt.Errorf("process spawn: no command configured for worker type %q", workerType)
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Env = append(cmd.Env,
		"TMGR_WORKER_ID="+id,
		"TMGR_WORKER_TYPE="+workerType,
		"TMGR_DOWNLINK_ADDR="+b.cfg.DownlinkAddr,
	)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("process spawn: %w", err)
	}

	b.mu.Lock()
	b.cmds[id] = cmd
	b.mu.Unlock()

	b.log.Info().Str("worker_id", id).Str("worker_type", workerType).
		Int("pid", cmd.Process.Pid).Msg("spawned worker process")

	// Reap asynchronously so the child doesn't linger as a zombie; the
	// dispatch loop learns of death through the worker protocol
	// (WRKR_DIE or socket loss), not through this goroutine.
	go func() {
		_ = cmd.Wait()
	}()

	return nil
}

func (b *processBackend) stop(id string) error {
	b.mu.Lock()
	cmd, ok := b.cmds[id]
	if ok {
		delete(b.cmds, id)
	}
	b.mu.Unlock()

	if !ok || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("process stop: %w", err)
	}
	return nil
}
