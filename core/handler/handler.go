// Package handler implements the inference job handler: the entrypoint the
// platform invokes once per reconstruction job. It owns the model lifecycle
// (lazy load on first job, warm reuse afterwards) and converts every failure
// into a typed record instead of crashing the process.
package handler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sam3d-worker/config"
	"sam3d-worker/core/device"
	"sam3d-worker/core/media"
	"sam3d-worker/core/models"
	"sam3d-worker/core/monitoring"
	"sam3d-worker/core/pipeline"
	"sam3d-worker/storage"
)

const (
	defaultSeed    = 42
	minTextureSize = 256
	maxTextureSize = 4096
)

// Create a global reference to the device probe to allow for mocking in tests.
var initDevice = device.Init

// Handler processes reconstruction jobs one at a time. The model instance is
// a single-slot, lazily initialized cache: the first job pays the load cost,
// later jobs in a warm container reuse it. A fatal error is sticky and makes
// the handler report itself unhealthy so the platform recycles the container.
type Handler struct {
	cfg     *config.Config
	rec     pipeline.Reconstructor
	metrics *monitoring.Metrics
	log     *zap.SugaredLogger

	// mu serializes the ensure-loaded + run critical section. The GPU and
	// the model weights are a single non-reentrant resource; concurrent
	// cold-start jobs block here instead of racing to load twice.
	mu sync.Mutex

	// stateMu guards the load state separately so health checks do not
	// block behind a running inference.
	stateMu      sync.Mutex
	loaded       bool
	fatal        error
	loadDuration time.Duration
}

// New creates a new job handler.
func New(cfg *config.Config, rec pipeline.Reconstructor, metrics *monitoring.Metrics, log *zap.SugaredLogger) *Handler {
	return &Handler{
		cfg:     cfg,
		rec:     rec,
		metrics: metrics,
		log:     log,
	}
}

// Handle runs one job to completion and returns either a result or a failure
// record, never both. It does not panic and it never lets a job-local error
// escape.
func (h *Handler) Handle(ctx context.Context, req *models.JobRequest) (*models.JobResult, *models.FailureRecord) {
	start := time.Now()

	input, decodeDur, err := validate(req)
	if err != nil {
		// No GPU or model work has happened at this point.
		return nil, h.fail(req, err, start)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ensureLoaded(ctx); err != nil {
		return nil, h.fail(req, err, start)
	}

	inferStart := time.Now()
	asset, err := h.runWithTimeout(ctx, input)
	if err != nil {
		return nil, h.fail(req, err, start)
	}
	inferDur := time.Since(inferStart)

	serializeStart := time.Now()
	if asset == nil || len(asset.GLB) == 0 {
		return nil, h.fail(req, models.NewSerializationError(nil, "pipeline produced an empty asset"), start)
	}
	encoded := media.EncodeB64(asset.GLB)
	serializeDur := time.Since(serializeStart)

	total := time.Since(start)
	h.metrics.ObserveJob(models.StatusOK, total)
	h.log.Infow("Job completed", "job_id", req.ID, "glb_bytes", len(asset.GLB), "duration", total)

	h.stateMu.Lock()
	loadDur := h.loadDuration
	h.stateMu.Unlock()

	return &models.JobResult{
		GLBFile: encoded,
		Status:  models.StatusOK,
		Timings: models.Timings{
			DecodeMS:    decodeDur.Milliseconds(),
			ModelLoadMS: loadDur.Milliseconds(),
			InferenceMS: inferDur.Milliseconds(),
			SerializeMS: serializeDur.Milliseconds(),
			TotalMS:     total.Milliseconds(),
		},
	}, nil
}

// Healthy reports whether the handler may accept further jobs. False after
// any process-fatal error.
func (h *Handler) Healthy() bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.fatal == nil
}

// Loaded reports whether the model instance is resident.
func (h *Handler) Loaded() bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.loaded
}

func (h *Handler) setFatal(err error) error {
	h.stateMu.Lock()
	h.fatal = err
	h.stateMu.Unlock()
	return err
}

// ensureLoaded runs the startup sequence at most once per process lifetime.
// Callers must hold h.mu. A fatal error sticks: subsequent jobs get the same
// failure without retrying the load.
func (h *Handler) ensureLoaded(ctx context.Context) error {
	h.stateMu.Lock()
	fatal, loaded := h.fatal, h.loaded
	h.stateMu.Unlock()
	if fatal != nil {
		return fatal
	}
	if loaded {
		return nil
	}

	loadStart := time.Now()

	if err := h.cfg.Validate(); err != nil {
		return h.setFatal(err)
	}

	gpus, err := initDevice(h.cfg.Device)
	if err != nil {
		return h.setFatal(err)
	}

	ckpt, err := storage.Resolve(h.cfg.CheckpointDir)
	if err != nil {
		return h.setFatal(err)
	}

	h.log.Infow("Initializing reconstruction pipeline", "checkpoint", ckpt.Describe(), "device", h.cfg.Device, "gpus", gpus)

	if err := h.rec.Load(ctx, ckpt); err != nil {
		return h.setFatal(err)
	}

	h.stateMu.Lock()
	h.loaded = true
	h.loadDuration = time.Since(loadStart)
	h.stateMu.Unlock()
	h.metrics.ObserveModelLoad(h.loadDuration)
	h.log.Infow("Pipeline loaded", "duration", h.loadDuration)
	return nil
}

// runWithTimeout executes the pipeline under the configured internal
// deadline. GPU kernels cannot be preempted; on timeout the in-flight run is
// abandoned and its eventual result discarded, while the platform gets a
// retriable timeout record before it would kill the job itself.
func (h *Handler) runWithTimeout(ctx context.Context, input *models.ReconstructionInput) (*models.Asset, error) {
	if h.cfg.JobTimeout <= 0 {
		return h.rec.Run(ctx, input)
	}

	runCtx, cancel := context.WithTimeout(ctx, h.cfg.JobTimeout)
	defer cancel()

	type outcome struct {
		asset *models.Asset
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		asset, err := h.rec.Run(runCtx, input)
		done <- outcome{asset, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && runCtx.Err() == context.DeadlineExceeded {
			return nil, models.NewTimeoutError("reconstruction exceeded %s", h.cfg.JobTimeout)
		}
		return o.asset, o.err
	case <-runCtx.Done():
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, models.NewTimeoutError("reconstruction exceeded %s", h.cfg.JobTimeout)
		}
		return nil, runCtx.Err()
	}
}

func (h *Handler) fail(req *models.JobRequest, err error, start time.Time) *models.FailureRecord {
	record := models.Classify(err)
	h.metrics.ObserveJob(string(record.Kind), time.Since(start))

	var jobID string
	if req != nil {
		jobID = req.ID
	}
	if record.Fatal {
		h.log.Errorw("Job failed with process-fatal error", "job_id", jobID, "kind", record.Kind, "error", err)
	} else {
		h.log.Warnw("Job failed", "job_id", jobID, "kind", record.Kind, "error", err)
	}
	return record
}

// validate checks the job request and decodes its payloads. Invalid input is
// rejected before any model or device work.
func validate(req *models.JobRequest) (*models.ReconstructionInput, time.Duration, error) {
	start := time.Now()

	if req == nil {
		return nil, 0, models.NewValidationError("empty job request")
	}
	in := req.Input
	if in.Image == "" || in.Mask == "" {
		return nil, 0, models.NewValidationError("input must contain 'image' and 'mask' base64 strings")
	}

	img, err := media.DecodeImagePayload(in.Image)
	if err != nil {
		return nil, 0, models.NewValidationError("invalid image: %v", err)
	}
	imagePNG, err := media.EncodePNG(img)
	if err != nil {
		return nil, 0, models.NewValidationError("failed to normalize image: %v", err)
	}

	maskImg, err := media.DecodeImagePayload(in.Mask)
	if err != nil {
		return nil, 0, models.NewValidationError("invalid mask: %v", err)
	}
	if !maskImg.Bounds().Eq(img.Bounds()) {
		return nil, 0, models.NewValidationError("mask dimensions %v do not match image dimensions %v",
			maskImg.Bounds().Size(), img.Bounds().Size())
	}
	maskPNG, err := media.EncodeGrayscalePNG(maskImg)
	if err != nil {
		return nil, 0, models.NewValidationError("failed to normalize mask: %v", err)
	}

	seed := defaultSeed
	if in.Seed != nil {
		if *in.Seed < 0 {
			return nil, 0, models.NewValidationError("seed must be non-negative, got %d", *in.Seed)
		}
		seed = *in.Seed
	}

	if in.TextureSize != 0 && (in.TextureSize < minTextureSize || in.TextureSize > maxTextureSize) {
		return nil, 0, models.NewValidationError("texture_size must be between %d and %d, got %d",
			minTextureSize, maxTextureSize, in.TextureSize)
	}

	return &models.ReconstructionInput{
		ImagePNG:    imagePNG,
		MaskPNG:     maskPNG,
		Seed:        seed,
		TextureSize: in.TextureSize,
	}, time.Since(start), nil
}
