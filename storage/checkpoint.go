package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"sam3d-worker/core/models"
)

// PipelineConfigName is the pipeline configuration file every checkpoint
// snapshot must carry.
const PipelineConfigName = "pipeline.yaml"

// Manifest is the parsed pipeline configuration. Checkpoints maps pipeline
// stages to weight files relative to the checkpoint directory.
type Manifest struct {
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	Checkpoints map[string]string `yaml:"checkpoints"`
}

// Checkpoint is a resolved, verified checkpoint directory.
type Checkpoint struct {
	Dir        string
	ConfigPath string
	Manifest   *Manifest
}

// Resolve verifies that dir holds a complete checkpoint snapshot: the
// directory is readable, pipeline.yaml parses, and every weight file the
// manifest references exists and is non-empty. There is no fallback path;
// an incomplete snapshot fails here rather than deep inside model load.
func Resolve(dir string) (*Checkpoint, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, models.NewConfigurationError("checkpoint directory %s is not readable: %v", dir, err)
	}
	if !info.IsDir() {
		return nil, models.NewConfigurationError("checkpoint path %s is not a directory", dir)
	}

	configPath := filepath.Join(dir, PipelineConfigName)
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, models.NewModelLoadError(err, "pipeline config not found at %s", configPath)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, models.NewModelLoadError(err, "invalid pipeline config at %s", configPath)
	}

	for stage, rel := range manifest.Checkpoints {
		path := filepath.Join(dir, rel)
		fi, err := os.Stat(path)
		if err != nil {
			return nil, models.NewModelLoadError(err, "checkpoint artifact for stage %q missing at %s", stage, path)
		}
		if fi.Size() == 0 {
			return nil, models.NewModelLoadError(nil, "checkpoint artifact for stage %q is empty: %s", stage, path)
		}
	}

	return &Checkpoint{
		Dir:        dir,
		ConfigPath: configPath,
		Manifest:   &manifest,
	}, nil
}

// Describe returns a short human-readable summary for logs.
func (c *Checkpoint) Describe() string {
	name := c.Manifest.Name
	if name == "" {
		name = "unnamed"
	}
	return fmt.Sprintf("%s (%d artifacts) at %s", name, len(c.Manifest.Checkpoints), c.Dir)
}
