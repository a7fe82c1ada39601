// Package hostinfo inspects the local host for the two facts the
// Manager reports in its startup registration: CPU count and available
// memory. No example repo in the retrieval pack vendors a host-resource
// inspection library, so this stays on the standard library
// (runtime.NumCPU and /proc/meminfo) — see DESIGN.md.
package hostinfo

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Info is the subset of host facts the Manager's registration message carries.
type Info struct {
	Cores int
	MemMB int
}

// defaultMemMB is reported when /proc/meminfo is unavailable (non-Linux
// hosts). It is a fixed constant, not a configurable setting.
const defaultMemMB = 0

// Detect returns the local host's core count and available memory.
func Detect() Info {
	return Info{
		Cores: runtime.NumCPU(),
		MemMB: detectMemMB(),
	}
}

// detectMemMB parses MemAvailable out of /proc/meminfo, falling back to
// defaultMemMB if the file is absent or unparsable.
func detectMemMB() int {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return defaultMemMB
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return defaultMemMB
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return defaultMemMB
		}
		return kb / 1024
	}
	return defaultMemMB
}
