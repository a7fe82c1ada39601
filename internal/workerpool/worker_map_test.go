package workerpool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopSpawn(id, workerType string) error { return nil }

func failSpawn(id, workerType string) error { return errors.New("spawn failed") }

func TestAddWorkerAndRegister(t *testing.T) {
	m := New()

	id, err := m.AddWorker(noopSpawn, "fft")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	pending, active := m.Counts()
	assert.Equal(t, 1, pending)
	assert.Equal(t, 0, active)
	assert.Equal(t, 0, m.ReadyWorkerCount())

	m.Register(id, "fft")
	pending, active = m.Counts()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, m.ReadyCount("fft"))
}

func TestAddWorkerSpawnFailure(t *testing.T) {
	m := New()
	_, err := m.AddWorker(failSpawn, "fft")
	assert.Error(t, err)

	pending, active := m.Counts()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 0, active)
	assert.Equal(t, 0, m.TotalCounts()["fft"])
}

func TestRegisterUnknownIDIgnored(t *testing.T) {
	m := New()
	m.Register("ghost", "fft")
	pending, active := m.Counts()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 0, active)
}

func TestGetWorkerAndPutWorker(t *testing.T) {
	m := New()
	id, err := m.AddWorker(noopSpawn, "fft")
	require.NoError(t, err)
	m.Register(id, "fft")

	got, ok := m.GetWorker("fft")
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.Equal(t, 0, m.ReadyCount("fft"))

	_, ok = m.GetWorker("fft")
	assert.False(t, ok)

	m.PutWorker(id)
	assert.Equal(t, 1, m.ReadyCount("fft"))
}

func TestPutWorkerIgnoresDrainingAndUnknown(t *testing.T) {
	m := New()
	id, err := m.AddWorker(noopSpawn, "fft")
	require.NoError(t, err)
	m.Register(id, "fft")
	m.GetWorker("fft")

	m.MarkDraining(id)
	m.PutWorker(id)
	assert.Equal(t, 0, m.ReadyCount("fft"))

	m.PutWorker("never-existed")
	assert.Equal(t, 0, m.ReadyCount("fft"))
}

func TestRemoveWorker(t *testing.T) {
	m := New()
	id, err := m.AddWorker(noopSpawn, "fft")
	require.NoError(t, err)
	m.Register(id, "fft")

	m.RemoveWorker(id)
	pending, active := m.Counts()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 0, active)
	assert.Equal(t, 0, m.TotalCounts()["fft"])

	// idempotent on an already-removed id
	m.RemoveWorker(id)
}

func TestBeginDrainAndRemoveDecrementsToDie(t *testing.T) {
	m := New()
	id, err := m.AddWorker(noopSpawn, "fft")
	require.NoError(t, err)
	m.Register(id, "fft")

	m.BeginDrain("fft")
	assert.Equal(t, 1, m.ToDieCounts()["fft"])

	m.MarkDraining(id)
	m.RemoveWorker(id)
	assert.Equal(t, 0, m.ToDieCounts()["fft"])
}

func TestSpinUpWorkers(t *testing.T) {
	m := New()
	plan := []string{"fft", "fft", "raw-variant"}
	spun := m.SpinUpWorkers(noopSpawn, plan)
	assert.Equal(t, 3, spun)
	assert.Equal(t, 2, m.TotalCounts()["fft"])
	assert.Equal(t, 1, m.TotalCounts()["raw-variant"])
}

func TestSpinUpWorkersPartialFailure(t *testing.T) {
	m := New()
	calls := 0
	spawn := func(id, workerType string) error {
		calls++
		if calls == 2 {
			return errors.New("boom")
		}
		return nil
	}
	plan := []string{"fft", "fft", "fft"}
	spun := m.SpinUpWorkers(spawn, plan)
	assert.Equal(t, 2, spun)
	assert.Equal(t, 2, m.TotalCounts()["fft"])
}

func TestSpinDownWorkers(t *testing.T) {
	m := New()
	for i := 0; i < 3; i++ {
		id, err := m.AddWorker(noopSpawn, "fft")
		require.NoError(t, err)
		m.Register(id, "fft")
	}

	target := map[string]int{"fft": 1}
	plan := m.SpinDownWorkers(target)
	assert.Equal(t, 2, plan["fft"])
}

func TestNextWorkerQueueDeterministicOrder(t *testing.T) {
	m := New()
	target := map[string]int{"zeta": 1, "alpha": 2}

	plan1 := m.NextWorkerQueue(target)
	plan2 := m.NextWorkerQueue(target)
	assert.Equal(t, plan1, plan2)
	assert.Equal(t, []string{"alpha", "alpha", "zeta"}, plan1)
}

func TestNextWorkerQueueNoNegativeDeltas(t *testing.T) {
	m := New()
	id, err := m.AddWorker(noopSpawn, "fft")
	require.NoError(t, err)
	m.Register(id, "fft")

	target := map[string]int{"fft": 0}
	plan := m.NextWorkerQueue(target)
	assert.Empty(t, plan)
}
