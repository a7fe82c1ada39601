// Command tmgr is the node-local Manager: it registers with the
// Interchange over the uplink-tasks/uplink-results sockets, spins up and
// tears down local workers over the downlink-workers socket, and runs
// the capacity scheduler that decides what to spin up next.
package main

import (
	"fmt"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "tmgr",
	Short: "tmgr is the node-local worker manager for a high-throughput function-execution pool",
	Long: `tmgr runs on each compute node and bridges a central Interchange to a
pool of local worker processes or containers: it registers with the
Interchange, requests capacity proportional to queued work, spawns and
drains workers by type, and shuttles tasks and results between the two.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("tmgr version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.AddCommand(runCmd)
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case isInterchangeLost(err):
		return 1
	default:
		return 2
	}
}

func signalContext() chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return sigCh
}
