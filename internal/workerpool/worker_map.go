package workerpool

import (
	"fmt"
	"sort"
	"sync"
)

// SpawnFunc launches a child process or container for the given worker id
// and type. It is supplied by the caller (the dispatch loop, backed by
// internal/spawner) so WorkerMap stays free of process/container
// concerns — it only tracks the bookkeeping spec.md §4.2 describes.
type SpawnFunc func(id, workerType string) error

// Map is the WorkerMap: authoritative worker state, per-type idle
// queues, and per-type counters. All exported methods are safe for
// concurrent use, though in practice the dispatch goroutine is the only
// caller — the mutex exists so unit tests can exercise it directly
// without standing up a whole dispatch loop, and so the metrics
// collector can read a consistent Snapshot from another goroutine.
type Map struct {
	mu sync.RWMutex

	workers map[string]*Worker
	idle    map[string][]string // type -> FIFO of idle worker ids
	total   map[string]int      // type -> count of non-dead workers
	toDie   map[string]int      // type -> outstanding drain requests

	pending int
	active  int

	counter int
}

// New creates an empty WorkerMap.
func New() *Map {
	return &Map{
		workers: make(map[string]*Worker),
		idle:    make(map[string][]string),
		total:   make(map[string]int),
		toDie:   make(map[string]int),
	}
}

// nextID allocates a monotonic worker id. Caller must hold mu.
func (m *Map) nextID() string {
	id := fmt.Sprintf("w-%d", m.counter)
	m.counter++
	return id
}

// AddWorker allocates an id, invokes spawn to start the child, and
// records PENDING state. If spawn fails, no bookkeeping is recorded and
// the error is returned to the caller (spec.md §7 SpawnFailure: a spawn
// failure that occurs synchronously is distinct from the silent case of
// a child that starts but never registers).
func (m *Map) AddWorker(spawn SpawnFunc, workerType string) (string, error) {
	m.mu.Lock()
	id := m.nextID()
	m.mu.Unlock()

	if err := spawn(id, workerType); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[id] = &Worker{ID: id, Type: workerType, State: Pending}
	m.pending++
	m.total[workerType]++
	return id, nil
}

// Register transitions a worker PENDING -> ACTIVE and enqueues it as
// idle. Unknown or already-registered ids are ignored (stale REGISTER),
// matching spec.md's "fails silently if the id is unknown" clause.
func (m *Map) Register(id, workerType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[id]
	if !ok || w.State != Pending {
		return
	}
	w.State = Active
	w.Type = workerType
	m.pending--
	m.active++
	m.idle[workerType] = append(m.idle[workerType], id)
}

// PutWorker returns an ACTIVE worker to its type's idle queue after it
// completes a task. A worker that is DRAINING or unknown is ignored: a
// draining worker that just returned a result from before its KILL was
// dispatched is about to die on its own, not go back into rotation.
func (m *Map) PutWorker(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[id]
	if !ok || w.State != Active {
		return
	}
	m.idle[w.Type] = append(m.idle[w.Type], id)
}

// GetWorker pops the head of a type's idle queue, if any.
func (m *Map) GetWorker(workerType string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.idle[workerType]
	if len(q) == 0 {
		return "", false
	}
	id := q[0]
	m.idle[workerType] = q[1:]
	return id, true
}

// RemoveWorker transitions a worker to DEAD and forgets it, decrementing
// total/active/to_die as appropriate. Safe to call for an id already
// removed or never known.
func (m *Map) RemoveWorker(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[id]
	if !ok {
		return
	}

	switch w.State {
	case Active, Draining:
		// A draining worker was counted in active at Register and
		// MarkDraining leaves that count in place.
		m.active--
	case Pending:
		m.pending--
	}
	if w.State == Draining {
		if m.toDie[w.Type] > 0 {
			m.toDie[w.Type]--
		}
	}
	m.total[w.Type]--
	w.State = Dead
	delete(m.workers, id)
}

// MarkDraining transitions an ACTIVE worker to DRAINING. The dispatch
// loop calls it when it sends a KILL sentinel to that worker; the drain
// itself was already counted against the type by BeginDrain when the
// KILL was queued, before any specific worker was chosen.
func (m *Map) MarkDraining(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[id]; ok && w.State == Active {
		w.State = Draining
	}
}

// BeginDrain records one outstanding drain request for a type. Called
// when the dispatch loop pushes a KILL sentinel onto that type's task
// queue (remove_worker_init in spec.md §4.4 step 8).
func (m *Map) BeginDrain(workerType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toDie[workerType]++
}

// ReadyWorkerCount sums idle queue sizes across all types — the
// Manager's outstanding capacity request to the Interchange.
func (m *Map) ReadyWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, q := range m.idle {
		total += len(q)
	}
	return total
}

// ReadyCount returns the idle queue depth for one type.
func (m *Map) ReadyCount(workerType string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.idle[workerType])
}

// TotalCounts returns a copy of the total-by-type map.
func (m *Map) TotalCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.total))
	for k, v := range m.total {
		out[k] = v
	}
	return out
}

// ToDieCounts returns a copy of the to-die-by-type map.
func (m *Map) ToDieCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.toDie))
	for k, v := range m.toDie {
		out[k] = v
	}
	return out
}

// Counts returns the scalar pending/active totals.
func (m *Map) Counts() (pending, active int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending, m.active
}

// Snapshot is a read-only, copy-safe view of the WorkerMap for the
// metrics collector and the /status introspection endpoint — neither
// of which is allowed to observe a half-updated state mid-mutation.
type Snapshot struct {
	Pending int
	Active  int
	ByType  map[string]TypeSnapshot
}

// TypeSnapshot is the per-type slice of a Snapshot.
type TypeSnapshot struct {
	Total int
	Ready int
	ToDie int
}

// Snapshot returns a consistent point-in-time copy of worker state.
func (m *Map) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[string]TypeSnapshot, len(m.total))
	for t := range m.total {
		byType[t] = TypeSnapshot{
			Total: m.total[t],
			Ready: len(m.idle[t]),
			ToDie: m.toDie[t],
		}
	}
	return Snapshot{Pending: m.pending, Active: m.active, ByType: byType}
}

// SpinUpWorkers drains a spin-up plan (a FIFO of requested worker
// types), calling AddWorker for each. A spawn error skips only that
// entry; every other entry of the plan is still attempted. It returns
// the number of workers successfully spun up.
func (m *Map) SpinUpWorkers(spawn SpawnFunc, plan []string) int {
	spun := 0
	for _, workerType := range plan {
		if _, err := m.AddWorker(spawn, workerType); err == nil {
			spun++
		}
	}
	return spun
}

// SpinDownWorkers compares current per-type totals (including draining
// workers, which still occupy a capacity slot until they die) against a
// target map and returns, for each type where current exceeds target,
// how many workers of that type should be drained.
func (m *Map) SpinDownWorkers(target map[string]int) map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int)
	for workerType, current := range m.total {
		want := target[workerType]
		if current > want {
			out[workerType] = current - want
		}
	}
	return out
}

// NextWorkerQueue compares current totals against a target map and
// returns an ordered spin-up plan: for each type where target exceeds
// current, (target-current) copies of that type, in ascending
// lexicographic type order for determinism.
func (m *Map) NextWorkerQueue(target map[string]int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	types := make([]string, 0, len(target))
	for t := range target {
		types = append(types, t)
	}
	sort.Strings(types)

	var plan []string
	for _, t := range types {
		delta := target[t] - m.total[t]
		for i := 0; i < delta; i++ {
			plan = append(plan, t)
		}
	}
	return plan
}
