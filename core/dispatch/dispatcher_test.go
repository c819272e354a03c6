package dispatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sam3d-worker/config"
	"sam3d-worker/core/handler"
	"sam3d-worker/core/models"
	"sam3d-worker/core/monitoring"
	"sam3d-worker/storage"
)

type slowReconstructor struct {
	mu       sync.Mutex
	running  int
	maxSeen  int
	runCalls int
	delay    time.Duration
}

func (s *slowReconstructor) Load(ctx context.Context, ckpt *storage.Checkpoint) error { return nil }

func (s *slowReconstructor) Run(ctx context.Context, input *models.ReconstructionInput) (*models.Asset, error) {
	s.mu.Lock()
	s.running++
	s.runCalls++
	if s.running > s.maxSeen {
		s.maxSeen = s.running
	}
	s.mu.Unlock()

	time.Sleep(s.delay)

	s.mu.Lock()
	s.running--
	s.mu.Unlock()
	return &models.Asset{GLB: []byte("glTF")}, nil
}

func (s *slowReconstructor) Close() error { return nil }

type recordingHistory struct {
	mu        sync.Mutex
	submitted []string
	finished  []models.JobStatus
}

func (r *recordingHistory) RecordSubmitted(job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, job.ID)
	return nil
}

func (r *recordingHistory) RecordFinished(job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, job.Status)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	manifest := "name: sam-3d-objects\ncheckpoints: {}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, storage.PipelineConfigName), []byte(manifest), 0o644))

	return &config.Config{
		CheckpointDir:    dir,
		RunnerURL:        "http://127.0.0.1:8191",
		Device:           config.DeviceCPU,
		JobTimeout:       5 * time.Second,
		ModelLoadTimeout: 5 * time.Second,
		QueueCapacity:    8,
	}
}

func validRequest(t *testing.T, id string) *models.JobRequest {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	payload := base64.StdEncoding.EncodeToString(buf.Bytes())

	return &models.JobRequest{
		ID:    id,
		Input: models.JobInput{Image: payload, Mask: payload},
	}
}

func newTestDispatcher(t *testing.T, rec *slowReconstructor, history HistoryStore, capacity int) *Dispatcher {
	t.Helper()
	metrics := monitoring.NewMetrics()
	h := handler.New(testConfig(t), rec, metrics, zap.NewNop().Sugar())
	return New(h, history, metrics, zap.NewNop().Sugar(), capacity)
}

func waitForStatus(t *testing.T, d *Dispatcher, id string, want models.JobStatus) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := d.Get(id); ok && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return nil
}

func TestSubmitAndComplete(t *testing.T) {
	history := &recordingHistory{}
	d := newTestDispatcher(t, &slowReconstructor{}, history, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)
	defer d.Stop()

	job, err := d.Submit(validRequest(t, ""))
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobStatusPending, job.Status)

	finished := waitForStatus(t, d, job.ID, models.JobStatusCompleted)
	require.NotNil(t, finished.Result)
	assert.Equal(t, models.StatusOK, finished.Result.Status)
	assert.Nil(t, finished.Failure)
	assert.NotNil(t, finished.StartedAt)
	assert.NotNil(t, finished.CompletedAt)

	history.mu.Lock()
	defer history.mu.Unlock()
	assert.Equal(t, []string{job.ID}, history.submitted)
	assert.Equal(t, []models.JobStatus{models.JobStatusCompleted}, history.finished)
}

func TestJobsExecuteSerially(t *testing.T) {
	rec := &slowReconstructor{delay: 100 * time.Millisecond}
	d := newTestDispatcher(t, rec, NopHistory{}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)
	defer d.Stop()

	ids := make([]string, 3)
	for i := range ids {
		job, err := d.Submit(validRequest(t, ""))
		require.NoError(t, err)
		ids[i] = job.ID
	}
	for _, id := range ids {
		waitForStatus(t, d, id, models.JobStatusCompleted)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 3, rec.runCalls)
	assert.Equal(t, 1, rec.maxSeen, "pipeline runs must never overlap")
}

func TestQueueOverflowRejectsJob(t *testing.T) {
	d := newTestDispatcher(t, &slowReconstructor{}, NopHistory{}, 1)
	// Executor not started: the queue fills up.

	_, err := d.Submit(validRequest(t, ""))
	require.NoError(t, err)

	_, err = d.Submit(validRequest(t, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue is full")
}

func TestDuplicateSubmitRejected(t *testing.T) {
	d := newTestDispatcher(t, &slowReconstructor{}, NopHistory{}, 8)

	_, err := d.Submit(validRequest(t, "dup"))
	require.NoError(t, err)

	_, err = d.Submit(validRequest(t, "dup"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already submitted")
}

func TestFailedJobRecordsFailure(t *testing.T) {
	d := newTestDispatcher(t, &slowReconstructor{}, NopHistory{}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)
	defer d.Stop()

	job, err := d.Submit(&models.JobRequest{Input: models.JobInput{Image: "x"}})
	require.NoError(t, err)

	finished := waitForStatus(t, d, job.ID, models.JobStatusFailed)
	require.NotNil(t, finished.Failure)
	assert.Equal(t, models.ErrKindValidation, finished.Failure.Kind)
	assert.Nil(t, finished.Result)
}

func TestGetUnknownJob(t *testing.T) {
	d := newTestDispatcher(t, &slowReconstructor{}, NopHistory{}, 8)
	_, ok := d.Get("missing")
	assert.False(t, ok)
}
