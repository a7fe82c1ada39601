// Package config loads the Manager's runtime configuration from cobra
// flags and environment variables (TMGR_* prefix), in that precedence
// order, via viper, and separately reads the optional YAML worker
// manifest (LoadManifest), which sets no Config fields. It mirrors the
// viper-backed GlobalConfig struct-of-structs idiom used elsewhere in
// the pack, adapted to the Manager's flat flag surface rather than a
// nested YAML document.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the Manager's full runtime configuration.
type Config struct {
	TaskURL   string `mapstructure:"task-url"`
	ResultURL string `mapstructure:"result-url"`

	UID             string        `mapstructure:"uid"`
	BlockID         string        `mapstructure:"block-id"`
	CoresPerWorker  float64       `mapstructure:"cores-per-worker"`
	MaxWorkers      int           `mapstructure:"max-workers"`
	HeartbeatPeriod time.Duration `mapstructure:"hb-period"`
	HeartbeatThresh time.Duration `mapstructure:"hb-threshold"`
	PollPeriod      time.Duration `mapstructure:"poll-period"`
	MaxQueueSize    int           `mapstructure:"max-queue-size"`

	Mode             string `mapstructure:"mode"`
	ContainerImage   string `mapstructure:"container-image"`
	ContainerdSocket string `mapstructure:"containerd-socket"`
	ContainerReuse   string `mapstructure:"container-reuse"`
	WorkerManifest   string `mapstructure:"worker-manifest"`
	WorkerBinary     string `mapstructure:"worker-binary"`

	LogLevel string `mapstructure:"log-level"`
	LogJSON  bool   `mapstructure:"log-json"`

	MetricsAddr string `mapstructure:"metrics-addr"`
	StatusAddr  string `mapstructure:"status-addr"`

	MaxConsecutiveSpawnFailures int `mapstructure:"max-consecutive-spawn-failures"`
}

// envPrefix is the TMGR_ prefix for environment variable overrides,
// e.g. TMGR_MAX_WORKERS maps to the max-workers flag.
const envPrefix = "TMGR"

// BindFlags registers every Manager flag on a pflag.FlagSet, called
// once from cmd/tmgr's run command at construction time.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("task-url", "", "Interchange uplink-tasks address, host:port, e.g. 127.0.0.1:50097")
	fs.String("result-url", "", "Interchange uplink-results address, host:port, e.g. 127.0.0.1:50098")
	fs.String("uid", "", "unique id for this Manager instance")
	fs.String("block-id", "", "scheduler block id this Manager belongs to")
	fs.Float64("cores-per-worker", 1.0, "CPU cores reserved per worker")
	fs.Int("max-workers", 8, "maximum total worker slots")
	fs.Duration("hb-period", 30*time.Second, "heartbeat send interval")
	fs.Duration("hb-threshold", 120*time.Second, "interchange silence before declaring it lost")
	fs.Duration("poll-period", 100*time.Millisecond, "dispatch loop poll timeout")
	fs.Int("max-queue-size", 1024, "total queued backlog (plus current worker count) before capacity requests pause")
	fs.String("mode", "process", "worker spawn mode: process|container")
	fs.String("container-image", "", "default container image for container mode")
	fs.String("containerd-socket", "/run/containerd/containerd.sock", "containerd socket path")
	fs.String("container-reuse", "reuse", "container lifecycle: reuse|single_use")
	fs.String("worker-manifest", "", "path to a YAML worker-type manifest")
	fs.String("worker-binary", "", "worker binary path for process mode's default spec")
	fs.String("log-level", "info", "log level: debug|info|warn|error")
	fs.Bool("log-json", false, "emit JSON logs instead of console output")
	fs.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	fs.String("status-addr", ":9091", "read-only status endpoint listen address")
	fs.Int("max-consecutive-spawn-failures", 3, "consecutive spawn failures before suspending a type")
}

// Load builds a Config from bound flags and environment variables, with
// precedence flag > env > built-in default — the same layered-config
// idiom as the Otus agent's viper.Load, generalized from a YAML-rooted
// document to a flag-rooted one. The worker manifest is not read here.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
