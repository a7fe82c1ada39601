package spawner

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestProcessSpawnMissingCommandSuspendsAfterThreshold(t *testing.T) {
	cfg := Config{
		Mode:                   ModeProcess,
		MaxConsecutiveFailures: 3,
		DefaultSpec:            WorkerSpec{}, // no Command -> always fails
	}
	s, err := New(cfg, testLogger())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err := s.Spawn("w1", "fft")
		assert.Error(t, err)
		assert.False(t, s.Suspended("fft"))
	}

	err = s.Spawn("w1", "fft")
	assert.Error(t, err)
	assert.True(t, s.Suspended("fft"))

	// further spawns short-circuit without re-attempting the backend
	err = s.Spawn("w1", "fft")
	assert.Error(t, err)
}

func TestResetFailuresClearsSuspension(t *testing.T) {
	cfg := Config{
		Mode:                   ModeProcess,
		MaxConsecutiveFailures: 1,
	}
	s, err := New(cfg, testLogger())
	require.NoError(t, err)

	_ = s.Spawn("w1", "fft")
	assert.True(t, s.Suspended("fft"))

	s.ResetFailures("fft")
	assert.False(t, s.Suspended("fft"))
}

func TestProcessSpawnSuccessDoesNotSuspend(t *testing.T) {
	cfg := Config{
		Mode:                   ModeProcess,
		MaxConsecutiveFailures: 2,
		DefaultSpec:            WorkerSpec{Command: []string{"/bin/true"}},
	}
	s, err := New(cfg, testLogger())
	require.NoError(t, err)

	err = s.Spawn("w1", "fft")
	require.NoError(t, err)
	assert.False(t, s.Suspended("fft"))

	err = s.Stop("w1")
	assert.NoError(t, err)
}

func TestDefaultMaxConsecutiveFailures(t *testing.T) {
	cfg := Config{Mode: ModeProcess}
	s, err := New(cfg, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, s.cfg.MaxConsecutiveFailures)
}
