package spawner

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/rs/zerolog"
)

const (
	containerNamespace = "tmgr"
	defaultSocket      = "/run/containerd/containerd.sock"
	stopTimeout        = 10 * time.Second
)

// containerBackend launches workers as containerd containers, one per
// worker id (single_use) or one per worker type reused across spawns
// (reuse), mirroring the two container modes the Manager generalizes
// from the source implementation's singularity_reuse/singularity_single_use.
type containerBackend struct {
	cfg    Config
	log    zerolog.Logger
	client *containerd.Client

	mu         sync.Mutex
	containers map[string]string // worker id -> containerd container id
	reused     map[string]string // worker type -> containerd container id, reuse mode only
	pulled     map[string]bool   // image ref -> already pulled
}

func newContainerBackend(cfg Config, logger zerolog.Logger) (*containerBackend, error) {
	socket := cfg.ContainerdSocket
	if socket == "" {
		socket = defaultSocket
	}
	client, err := containerd.New(socket)
	if err != nil {
		return nil, fmt.Errorf("containerd connect: %w", err)
	}

	return &containerBackend{
		cfg:        cfg,
		log:        logger.With().Str("spawner_mode", "container").Logger(),
		client:     client,
		containers: make(map[string]string),
		reused:     make(map[string]string),
		pulled:     make(map[string]bool),
	}, nil
}

func (b *containerBackend) spawn(id, workerType string, spec WorkerSpec) error {
	if spec.Image == "" {
		return fmt.Errorf("container spawn: no image configured for worker type %q", workerType)
	}

	ctx := namespaces.WithNamespace(context.Background(), containerNamespace)

	if b.cfg.ContainerReuse == ReuseContainer {
		b.mu.Lock()
		existing, ok := b.reused[workerType]
		b.mu.Unlock()
		if ok {
			b.mu.Lock()
			b.containers[id] = existing
			b.mu.Unlock()
			b.log.Info().Str("worker_id", id).Str("container_id", existing).
				Msg("reusing existing container for worker")
			return nil
		}
	}

	if !b.pulled[spec.Image] {
		if _, err := b.client.Pull(ctx, spec.Image, containerd.WithPullUnpack); err != nil {
			return fmt.Errorf("container spawn: pull %s: %w", spec.Image, err)
		}
		b.pulled[spec.Image] = true
	}

	image, err := b.client.GetImage(ctx, spec.Image)
	if err != nil {
		return fmt.Errorf("container spawn: get image %s: %w", spec.Image, err)
	}

	containerID := "tmgr-" + id
	env := []string{
		"TMGR_WORKER_ID=" + id,
		"TMGR_WORKER_TYPE=" + workerType,
		"TMGR_DOWNLINK_ADDR=" + b.cfg.DownlinkAddr,
	}

	ctr, err := b.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(oci.WithImageConfig(image), oci.WithEnv(env)),
	)
	if err != nil {
		return fmt.Errorf("container spawn: create container: %w", err)
	}

	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("container spawn: create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("container spawn: start task: %w", err)
	}

	b.mu.Lock()
	b.containers[id] = containerID
	if b.cfg.ContainerReuse == ReuseContainer {
		b.reused[workerType] = containerID
	}
	b.mu.Unlock()

	b.log.Info().Str("worker_id", id).Str("worker_type", workerType).
		Str("container_id", containerID).Msg("spawned worker container")
	return nil
}

func (b *containerBackend) stop(id string) error {
	b.mu.Lock()
	containerID, ok := b.containers[id]
	delete(b.containers, id)
	b.mu.Unlock()
	if !ok {
		return nil
	}

	// A reused container outlives any single worker id; leave it running
	// for the next spawn of that type rather than tearing it down here.
	for _, reusedID := range b.reusedIDs() {
		if reusedID == containerID {
			return nil
		}
	}

	ctx := namespaces.WithNamespace(context.Background(), containerNamespace)
	ctr, err := b.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil
	}
	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return ctr.Delete(ctx, containerd.WithSnapshotCleanup)
	}

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	_ = task.Kill(stopCtx, syscall.SIGTERM)
	statusC, err := task.Wait(stopCtx)
	if err == nil {
		select {
		case <-statusC:
		case <-stopCtx.Done():
			_ = task.Kill(ctx, syscall.SIGKILL)
		}
	}
	_, _ = task.Delete(ctx)
	return ctr.Delete(ctx, containerd.WithSnapshotCleanup)
}

func (b *containerBackend) reusedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.reused))
	for _, id := range b.reused {
		out = append(out, id)
	}
	return out
}
