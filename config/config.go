package config

import (
	"os"
	"strconv"
	"time"

	"sam3d-worker/core/models"
)

// Device selects the accelerator the pipeline runs on.
type Device string

const (
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

// Config holds the worker configuration, sourced from environment variables
// at container start.
type Config struct {
	// Checkpoint
	CheckpointDir   string
	CheckpointS3URI string
	AWSRegion       string

	// Runner
	RunnerURL     string
	RunnerCommand string
	Device        Device

	// Server
	ServerPort string

	// Execution
	JobTimeout       time.Duration // 0 disables the internal deadline
	ModelLoadTimeout time.Duration
	QueueCapacity    int

	// Job history (optional; empty disables persistence)
	DatabaseURL string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		CheckpointDir:    getEnv("SAM3D_CHECKPOINT_DIR", "/runpod-volume/sam3d/checkpoints/hf"),
		CheckpointS3URI:  getEnv("CHECKPOINT_S3_URI", ""),
		AWSRegion:        getEnv("AWS_REGION", "us-east-1"),
		RunnerURL:        getEnv("RUNNER_URL", "http://127.0.0.1:8191"),
		RunnerCommand:    getEnv("RUNNER_COMMAND", ""),
		Device:           Device(getEnv("DEVICE", string(DeviceCUDA))),
		ServerPort:       getEnv("WORKER_PORT", "8080"),
		JobTimeout:       getDurationSeconds("JOB_TIMEOUT_SECONDS", 600),
		ModelLoadTimeout: getDurationSeconds("MODEL_LOAD_TIMEOUT_SECONDS", 300),
		QueueCapacity:    getInt("QUEUE_CAPACITY", 64),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
	}
}

// Validate checks startup-time invariants. A missing checkpoint directory is
// only an error when there is no S3 snapshot to fetch it from.
func (c *Config) Validate() error {
	if c.CheckpointDir == "" {
		return models.NewConfigurationError("SAM3D_CHECKPOINT_DIR is not set")
	}
	if c.Device != DeviceCUDA && c.Device != DeviceCPU {
		return models.NewConfigurationError("DEVICE must be cuda or cpu, got %q", c.Device)
	}
	if c.RunnerURL == "" {
		return models.NewConfigurationError("RUNNER_URL is not set")
	}
	if _, err := os.Stat(c.CheckpointDir); err != nil {
		if c.CheckpointS3URI == "" {
			return models.NewConfigurationError(
				"checkpoint directory %s is not readable and CHECKPOINT_S3_URI is not set: %v",
				c.CheckpointDir, err)
		}
	}
	if c.QueueCapacity <= 0 {
		return models.NewConfigurationError("QUEUE_CAPACITY must be positive, got %d", c.QueueCapacity)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getInt(key, defaultSeconds)) * time.Second
}
