package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fluxgrid/tmgr/internal/spawner"
)

// manifestDocument is the YAML shape of a worker manifest file,
// decoded the same way the teacher's apply command decodes a resource
// document: a thin typed wrapper with a version/kind header plus a
// body, rather than a bare map.
type manifestDocument struct {
	APIVersion string                  `yaml:"apiVersion"`
	Kind       string                  `yaml:"kind"`
	Workers    map[string]manifestSpec `yaml:"workers"`
}

type manifestSpec struct {
	Command []string `yaml:"command"`
	Image   string   `yaml:"image"`
}

// LoadManifest reads a worker-type manifest mapping task types to their
// process command or container image, used to populate spawner.Config.Manifest.
func LoadManifest(path string) (map[string]spawner.WorkerSpec, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read worker manifest: %w", err)
	}

	var doc manifestDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse worker manifest: %w", err)
	}

	out := make(map[string]spawner.WorkerSpec, len(doc.Workers))
	for taskType, spec := range doc.Workers {
		out[taskType] = spawner.WorkerSpec{
			Command: spec.Command,
			Image:   spec.Image,
		}
	}
	return out, nil
}
