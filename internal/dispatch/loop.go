// Package dispatch runs the Manager's main event loop: the single
// goroutine that owns the WorkerMap, the task queues, and both the
// uplink-tasks and downlink-workers wire endpoints. It is the only
// thing in the process that mutates that state; the result pusher
// goroutine it feeds talks to it only through a channel.
package dispatch

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/fluxgrid/tmgr/internal/metrics"
	"github.com/fluxgrid/tmgr/internal/resultpusher"
	"github.com/fluxgrid/tmgr/internal/scheduler"
	"github.com/fluxgrid/tmgr/internal/spawner"
	"github.com/fluxgrid/tmgr/internal/task"
	"github.com/fluxgrid/tmgr/internal/wire"
	"github.com/fluxgrid/tmgr/internal/workerpool"
)

// Config is the Manager's tunable dispatch-loop parameters, the
// runtime counterpart of internal/config.Config.
type Config struct {
	UID      string
	BlockID  string
	Cores    int
	MemMB    int
	Hostname string
	WorkDir  string

	Capacity           int // total worker slot budget (max_workers, bounded by cores)
	MaxQueueSize       int
	HeartbeatPeriod    time.Duration
	HeartbeatThreshold time.Duration
	InitialPollPeriod  time.Duration
}

// Loop is the Manager's dispatch loop.
type Loop struct {
	cfg Config
	log zerolog.Logger

	taskLink   *wire.TaskLink
	workerLink *wire.WorkerLink
	workers    *workerpool.Map
	queues     *task.Queues
	spawn      *spawner.Spawner
	pusher     *resultpusher.Pusher
	metrics    *metrics.Registry

	prevPlan    map[string]int
	pendingPlan []string

	taskRecv, taskDone     int
	lastHeartbeatSent      time.Time
	lastInterchangeContact time.Time
	pollTimer              time.Duration
}

// New assembles a Loop from its already-constructed collaborators.
func New(
	cfg Config,
	taskLink *wire.TaskLink,
	workerLink *wire.WorkerLink,
	workers *workerpool.Map,
	queues *task.Queues,
	sp *spawner.Spawner,
	pusher *resultpusher.Pusher,
	m *metrics.Registry,
	logger zerolog.Logger,
) *Loop {
	return &Loop{
		cfg:        cfg,
		log:        logger.With().Str("component", "dispatch").Logger(),
		taskLink:   taskLink,
		workerLink: workerLink,
		workers:    workers,
		queues:     queues,
		spawn:      sp,
		pusher:     pusher,
		metrics:    m,
		pollTimer:  cfg.InitialPollPeriod,
	}
}

// Run initializes the Manager and executes the dispatch loop until a
// clean STOP (nil return), a fatal error is encountered, or the
// Interchange is declared lost (ErrInterchangeLost).
func (l *Loop) Run() error {
	if err := l.initialize(); err != nil {
		return err
	}

	for {
		stop, err := l.tick()
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

func (l *Loop) initialize() error {
	reg := wire.Registration{
		ParslVersion:  "n/a",
		PythonVersion: "n/a",
		WorkerCount:   1,
		Cores:         l.cfg.Cores,
		MemMB:         l.cfg.MemMB,
		BlockID:       l.cfg.BlockID,
		OS:            "linux",
		Hostname:      l.cfg.Hostname,
		Dir:           l.cfg.WorkDir,
	}
	payload, err := wire.EncodeRegistration(reg)
	if err != nil {
		return err
	}
	if err := l.taskLink.Send(payload); err != nil {
		return err
	}

	if _, err := l.workers.AddWorker(l.spawn.Spawn, task.RawType); err != nil {
		l.log.Warn().Err(err).Msg("initial RAW worker spawn failed")
	}

	now := time.Now()
	l.lastHeartbeatSent = now
	l.lastInterchangeContact = now
	return nil
}

// tick runs exactly one iteration of the nine-step protocol. It returns
// stop=true on a clean STOP.
func (l *Loop) tick() (stop bool, err error) {
	timer := metrics.NewTimer()
	defer func() {
		if l.metrics != nil {
			timer.ObserveDuration(l.metrics.DispatchTickDuration)
		}
	}()

	now := time.Now()

	// Step 1: heartbeat.
	if now.Sub(l.lastHeartbeatSent) >= l.cfg.HeartbeatPeriod {
		if sendErr := l.taskLink.Send(wire.EncodeHeartbeat()); sendErr != nil {
			l.log.Warn().Err(sendErr).Msg("heartbeat send failed")
		} else if l.metrics != nil {
			l.metrics.HeartbeatsSentTotal.Inc()
		}
		l.lastHeartbeatSent = now
	}

	// Step 2: capacity request.
	backlog := l.totalBacklog()
	ready := l.workers.ReadyWorkerCount()
	effectiveMaxQueue := l.cfg.MaxQueueSize + l.totalWorkers()
	if backlog < effectiveMaxQueue && ready > 0 {
		if sendErr := l.taskLink.Send(wire.EncodeCapacityRequest(uint32(ready))); sendErr != nil {
			l.log.Warn().Err(sendErr).Msg("capacity request send failed")
		}
	}

	// Step 3: poll both sockets with a timeout.
	gotUplink := false
	timeout := time.NewTimer(l.pollTimer)
	select {
	case msg := <-l.workerLink.Messages():
		l.handleWorkerMessage(msg)
	case frame := <-l.taskLink.Frames():
		if l.handleUplinkFrame(frame) {
			stopTimer(timeout)
			return true, nil
		}
		gotUplink = true
	case readErr := <-l.taskLink.Errors():
		l.log.Warn().Err(readErr).Msg("uplink-tasks transient error")
	case <-timeout.C:
	}
	stopTimer(timeout)

	// Step 4: drain any remaining downlink frames without blocking.
drain:
	for {
		select {
		case msg := <-l.workerLink.Messages():
			l.handleWorkerMessage(msg)
		default:
			break drain
		}
	}

	// Step 5: spin up the plan computed on the previous tick.
	l.workers.SpinUpWorkers(l.spawn.Spawn, l.pendingPlan)
	l.pendingPlan = nil

	// Step 6: receive at most one further uplink message, if step 3
	// didn't already deliver one.
	if !gotUplink {
		select {
		case frame := <-l.taskLink.Frames():
			if l.handleUplinkFrame(frame) {
				return true, nil
			}
			gotUplink = true
		default:
		}
	}

	// Step 7: backoff / liveness check.
	if !gotUplink {
		next := l.pollTimer * 2
		if next < l.cfg.InitialPollPeriod {
			next = l.cfg.InitialPollPeriod
		}
		if next > l.cfg.HeartbeatPeriod {
			next = l.cfg.HeartbeatPeriod
		}
		l.pollTimer = next

		if now.Sub(l.lastInterchangeContact) > l.cfg.HeartbeatThreshold {
			return false, ErrInterchangeLost
		}
	}

	// Step 8: capacity scheduler tick.
	plan := scheduler.Schedule(l.queues.RealBacklog(), l.cfg.Capacity, l.prevPlan)
	spinDown := l.workers.SpinDownWorkers(plan)
	for workerType, n := range spinDown {
		for i := 0; i < n; i++ {
			l.workers.BeginDrain(workerType)
			l.queues.Push(workerType, task.NewKill(workerType))
		}
	}
	l.pendingPlan = l.workers.NextWorkerQueue(plan)
	l.prevPlan = plan

	// Step 9: match idle workers to queued tasks.
	l.matchTasksToWorkers()

	l.reportMetrics(now)

	return false, nil
}

// reportMetrics refreshes the gauges that reflect point-in-time state
// rather than counting events; counters are incremented at their call
// sites as the events happen.
func (l *Loop) reportMetrics(now time.Time) {
	if l.metrics == nil {
		return
	}

	snap := l.workers.Snapshot()
	for workerType, ts := range snap.ByType {
		active := ts.Total - ts.ToDie
		if active < 0 {
			active = 0
		}
		l.metrics.WorkersByState.WithLabelValues(workerType, "active").Set(float64(active))
		l.metrics.WorkersByState.WithLabelValues(workerType, "draining").Set(float64(ts.ToDie))
		l.metrics.ReadyWorkers.WithLabelValues(workerType).Set(float64(ts.Ready))
	}
	for workerType, n := range l.queues.RealBacklog() {
		l.metrics.TaskQueueDepth.WithLabelValues(workerType).Set(float64(n))
	}
	l.metrics.LastInterchangeContactSeconds.Set(now.Sub(l.lastInterchangeContact).Seconds())
}

func (l *Loop) handleWorkerMessage(msg wire.WorkerMessage) {
	switch msg.Type {
	case wire.FrameRegister:
		workerType, err := wire.DecodeWorkerRegistration(msg.Payload)
		if err != nil {
			l.log.Warn().Err(err).Str("worker_id", msg.WorkerID).Msg("malformed REGISTER payload")
			return
		}
		l.workers.Register(msg.WorkerID, workerType)
	case wire.FrameTaskRet:
		l.pusher.Push(msg.Payload)
		l.workers.PutWorker(msg.WorkerID)
		l.taskDone++
	case wire.FrameWrkrDie:
		l.workers.RemoveWorker(msg.WorkerID)
		l.workerLink.Forget(msg.WorkerID)
	default:
		l.log.Warn().Str("worker_id", msg.WorkerID).Str("frame_type", string(msg.Type)).
			Msg("unknown downlink frame type")
	}
}

// handleUplinkFrame returns true on a STOP request.
func (l *Loop) handleUplinkFrame(frame []byte) bool {
	kind, tasks, err := wire.DecodeUplinkFrame(frame)
	if err != nil {
		l.log.Warn().Err(err).Msg("malformed uplink-tasks frame")
		return false
	}

	switch kind {
	case wire.KindStop:
		return true
	case wire.KindHeartbeat:
		l.lastInterchangeContact = time.Now()
		return false
	default: // KindTaskBatch
		for _, t := range tasks {
			taskType, ok := task.Type(t.ID)
			if !ok {
				l.log.Warn().Str("task_id", t.ID).Msg("malformed task_id, routing to RAW")
				taskType = task.RawType
			}
			l.queues.Push(taskType, t)
			l.spawn.ResetFailures(taskType)
		}
		l.lastInterchangeContact = time.Now()
		l.taskRecv += len(tasks)
		l.pollTimer = 0
		return false
	}
}

// matchTasksToWorkers pops one task and one idle worker per type, for
// as many pairs as exist, in deterministic type order.
func (l *Loop) matchTasksToWorkers() {
	for _, t := range l.queues.Types() {
		for {
			workerID, ok := l.workers.GetWorker(t)
			if !ok {
				break
			}
			tsk, ok := l.queues.Pop(t)
			if !ok {
				l.workers.PutWorker(workerID)
				break
			}
			if tsk.IsKill() {
				l.workers.MarkDraining(workerID)
			}
			if sendErr := l.workerLink.Send(workerID, tsk.ID, tsk.Buffer); sendErr != nil {
				l.log.Warn().Err(sendErr).Str("worker_id", workerID).Msg("downlink send failed, removing worker")
				l.workers.RemoveWorker(workerID)
				l.workerLink.Forget(workerID)
			}
		}
	}
}

func (l *Loop) totalBacklog() int {
	total := 0
	for _, n := range l.queues.RealBacklog() {
		total += n
	}
	return total
}

func (l *Loop) totalWorkers() int {
	total := 0
	for _, n := range l.workers.TotalCounts() {
		total += n
	}
	return total
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
