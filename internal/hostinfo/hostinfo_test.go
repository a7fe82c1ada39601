package hostinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectCores(t *testing.T) {
	info := Detect()
	assert.Equal(t, runtime.NumCPU(), info.Cores)
	assert.GreaterOrEqual(t, info.MemMB, 0)
}
