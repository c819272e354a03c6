package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sam3d-worker/core/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "/runpod-volume/sam3d/checkpoints/hf", cfg.CheckpointDir)
	assert.Equal(t, "http://127.0.0.1:8191", cfg.RunnerURL)
	assert.Equal(t, DeviceCUDA, cfg.Device)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 10*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 64, cfg.QueueCapacity)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SAM3D_CHECKPOINT_DIR", "/tmp/ckpt")
	t.Setenv("JOB_TIMEOUT_SECONDS", "30")
	t.Setenv("DEVICE", "cpu")

	cfg := Load()

	assert.Equal(t, "/tmp/ckpt", cfg.CheckpointDir)
	assert.Equal(t, 30*time.Second, cfg.JobTimeout)
	assert.Equal(t, DeviceCPU, cfg.Device)
}

func TestValidateMissingCheckpointDir(t *testing.T) {
	cfg := Load()
	cfg.CheckpointDir = "/nonexistent/sam3d/checkpoints"
	cfg.CheckpointS3URI = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, models.ErrKindConfiguration, models.Kind(err))
	assert.Contains(t, err.Error(), "/nonexistent/sam3d/checkpoints")
}

func TestValidateMissingDirAllowedWithS3(t *testing.T) {
	cfg := Load()
	cfg.CheckpointDir = "/nonexistent/sam3d/checkpoints"
	cfg.CheckpointS3URI = "s3://models/sam-3d-objects"

	require.NoError(t, cfg.Validate())
}

func TestValidateBadDevice(t *testing.T) {
	cfg := Load()
	cfg.CheckpointDir = t.TempDir()
	cfg.Device = Device("tpu")

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, models.ErrKindConfiguration, models.Kind(err))
}

func TestValidateOK(t *testing.T) {
	cfg := Load()
	cfg.CheckpointDir = t.TempDir()

	require.NoError(t, cfg.Validate())
}
