package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"sam3d-worker/config"
	"sam3d-worker/core/models"
	"sam3d-worker/storage"
)

const (
	healthPath      = "/health"
	loadPath        = "/load"
	reconstructPath = "/reconstruct"
)

// RunnerClient drives the sidecar reconstruction runner over local HTTP. It
// optionally spawns the runner process itself when the container CMD leaves
// that to the worker.
type RunnerClient struct {
	baseURL     string
	device      config.Device
	loadTimeout time.Duration
	client      *http.Client
	cmd         *exec.Cmd
	command     string
	log         *zap.SugaredLogger
}

// NewRunnerClient creates a new runner client. command may be empty, in which
// case the runner is expected to be started externally.
func NewRunnerClient(cfg *config.Config, log *zap.SugaredLogger) *RunnerClient {
	return &RunnerClient{
		baseURL:     strings.TrimSuffix(cfg.RunnerURL, "/"),
		device:      cfg.Device,
		loadTimeout: cfg.ModelLoadTimeout,
		// Inference runs are long; per-request deadlines come from the
		// caller's context, not the transport.
		client:  &http.Client{},
		command: cfg.RunnerCommand,
		log:     log,
	}
}

type loadRequest struct {
	CheckpointDir string `json:"checkpoint_dir"`
	Device        string `json:"device"`
	Compile       bool   `json:"compile"`
}

type reconstructRequest struct {
	Image       string `json:"image"`
	Mask        string `json:"mask"`
	Seed        int    `json:"seed"`
	TextureSize int    `json:"texture_size,omitempty"`
}

type runnerResponse struct {
	GLB   string `json:"glb,omitempty"`
	Error string `json:"error,omitempty"`
}

// Load spawns the runner if configured, waits for it to become ready and
// instructs it to pull the checkpoint weights onto the device.
func (rc *RunnerClient) Load(ctx context.Context, ckpt *storage.Checkpoint) error {
	if rc.command != "" && rc.cmd == nil {
		if err := rc.spawn(); err != nil {
			return models.NewModelLoadError(err, "failed to start runner process")
		}
	}

	lctx, cancel := context.WithTimeout(ctx, rc.loadTimeout)
	defer cancel()

	if err := rc.waitUntilReady(lctx); err != nil {
		return models.NewModelLoadError(err, "runner at %s never became ready", rc.baseURL)
	}

	rc.log.Infow("Loading model", "checkpoint", ckpt.Describe(), "device", rc.device)

	resp, err := rc.post(lctx, loadPath, loadRequest{
		CheckpointDir: ckpt.Dir,
		Device:        string(rc.device),
		Compile:       false,
	})
	if err != nil {
		return models.NewModelLoadError(err, "model load request failed")
	}
	if resp.Error != "" {
		return models.NewModelLoadError(nil, "runner rejected checkpoint %s: %s", ckpt.Dir, resp.Error)
	}
	return nil
}

// Run feeds one validated input through the loaded model.
func (rc *RunnerClient) Run(ctx context.Context, input *models.ReconstructionInput) (*models.Asset, error) {
	resp, err := rc.post(ctx, reconstructPath, reconstructRequest{
		Image:       base64.StdEncoding.EncodeToString(input.ImagePNG),
		Mask:        base64.StdEncoding.EncodeToString(input.MaskPNG),
		Seed:        input.Seed,
		TextureSize: input.TextureSize,
	})
	if err != nil {
		return nil, fmt.Errorf("reconstruction request failed: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("reconstruction failed: %s", resp.Error)
	}
	if resp.GLB == "" {
		return nil, fmt.Errorf("runner produced no GLB output")
	}

	glb, err := base64.StdEncoding.DecodeString(resp.GLB)
	if err != nil {
		return nil, fmt.Errorf("runner returned invalid GLB encoding: %w", err)
	}
	return &models.Asset{GLB: glb}, nil
}

// Close terminates a spawned runner process, if any.
func (rc *RunnerClient) Close() error {
	if rc.cmd == nil || rc.cmd.Process == nil {
		return nil
	}
	if err := rc.cmd.Process.Kill(); err != nil {
		return err
	}
	rc.cmd.Wait()
	rc.cmd = nil
	return nil
}

func (rc *RunnerClient) spawn() error {
	parts := strings.Fields(rc.command)
	if len(parts) == 0 {
		return fmt.Errorf("empty runner command")
	}

	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}

	rc.log.Infow("Started runner process", "command", rc.command, "pid", cmd.Process.Pid)
	rc.cmd = cmd
	return nil
}

func (rc *RunnerClient) waitUntilReady(ctx context.Context) error {
	check := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rc.baseURL+healthPath, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := rc.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("runner health returned %d", resp.StatusCode)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0 // bounded by ctx
	return backoff.Retry(check, backoff.WithContext(bo, ctx))
}

func (rc *RunnerClient) post(ctx context.Context, path string, payload interface{}) (*runnerResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var rr runnerResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("unexpected runner response (status %d): %s", resp.StatusCode, truncate(raw, 200))
	}
	if resp.StatusCode != http.StatusOK && rr.Error == "" {
		rr.Error = fmt.Sprintf("runner returned status %d", resp.StatusCode)
	}
	return &rr, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
