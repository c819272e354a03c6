package models

import "time"

// JobInput is the payload of a reconstruction request. Image and Mask are
// base64 strings or data URLs; the mask is interpreted as a grayscale
// segmentation of the object to reconstruct.
type JobInput struct {
	Image       string `json:"image"`
	Mask        string `json:"mask"`
	Seed        *int   `json:"seed,omitempty"`
	TextureSize int    `json:"texture_size,omitempty"`
}

// JobRequest represents a single reconstruction job as delivered by the
// platform. Immutable once received.
type JobRequest struct {
	ID    string   `json:"id,omitempty"`
	Input JobInput `json:"input"`
}

// Timings records per-stage durations for a completed job.
type Timings struct {
	DecodeMS    int64 `json:"decode_ms"`
	ModelLoadMS int64 `json:"model_load_ms"`
	InferenceMS int64 `json:"inference_ms"`
	SerializeMS int64 `json:"serialize_ms"`
	TotalMS     int64 `json:"total_ms"`
}

// JobResult is the successful outcome of a job: the reconstructed asset as a
// base64-encoded GLB plus timing metadata. Constructed per job, not retained
// by the handler afterward.
type JobResult struct {
	GLBFile string  `json:"glb_file"`
	Status  string  `json:"status"`
	Timings Timings `json:"timings"`
}

// StatusOK is the Status value of every successful JobResult.
const StatusOK = "ok"

// JobStatus represents the lifecycle state of a job in the dispatcher.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job tracks one request/response cycle through the worker, for the async
// dispatcher and the history store.
type Job struct {
	ID          string         `json:"id"`
	Status      JobStatus      `json:"status"`
	Request     *JobRequest    `json:"-"`
	Result      *JobResult     `json:"output,omitempty"`
	Failure     *FailureRecord `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// ReconstructionInput is a validated, decoded job input ready for the
// pipeline: normalized PNG bytes rather than wire-format base64.
type ReconstructionInput struct {
	ImagePNG    []byte
	MaskPNG     []byte
	Seed        int
	TextureSize int
}

// Asset is the reconstructed 3D object produced by the pipeline.
type Asset struct {
	GLB []byte
}
