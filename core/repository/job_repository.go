package repository

import (
	"database/sql"
	"encoding/base64"
	"time"

	"sam3d-worker/core/models"
)

// JobRepository handles database operations for the job history. It
// implements dispatch.HistoryStore.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// RecordSubmitted inserts a newly accepted job.
func (r *JobRepository) RecordSubmitted(job *models.Job) error {
	query := `
		INSERT INTO jobs (id, status, created_at)
		VALUES ($1, $2, $3)
	`
	if _, err := r.db.Exec(query, job.ID, job.Status, job.CreatedAt); err != nil {
		return err
	}
	return r.createEvent(job.ID, nil, job.Status, "job_submitted")
}

// RecordFinished updates a job with its terminal state. The GLB payload
// itself is returned to the platform, not stored; only its size is kept.
func (r *JobRepository) RecordFinished(job *models.Job) error {
	var (
		errorKind    sql.NullString
		errorMessage sql.NullString
		retriable    sql.NullBool
		glbBytes     sql.NullInt64
		durationMS   sql.NullInt64
	)
	if job.Failure != nil {
		errorKind = sql.NullString{String: string(job.Failure.Kind), Valid: true}
		errorMessage = sql.NullString{String: job.Failure.Message, Valid: true}
		retriable = sql.NullBool{Bool: job.Failure.Retriable, Valid: true}
	}
	if job.Result != nil {
		if n, err := decodedLen(job.Result.GLBFile); err == nil {
			glbBytes = sql.NullInt64{Int64: n, Valid: true}
		}
		durationMS = sql.NullInt64{Int64: job.Result.Timings.TotalMS, Valid: true}
	}

	query := `
		UPDATE jobs
		SET status = $2, error_kind = $3, error_message = $4, retriable = $5,
			glb_bytes = $6, duration_ms = $7, started_at = $8, completed_at = $9
		WHERE id = $1
	`
	_, err := r.db.Exec(query,
		job.ID,
		job.Status,
		errorKind,
		errorMessage,
		retriable,
		glbBytes,
		durationMS,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		return err
	}

	reason := "job_completed"
	if job.Failure != nil {
		reason = "job_failed:" + string(job.Failure.Kind)
	}
	running := models.JobStatusRunning
	return r.createEvent(job.ID, &running, job.Status, reason)
}

// GetJob retrieves a job history row by ID
func (r *JobRepository) GetJob(id string) (*models.Job, error) {
	query := `
		SELECT id, status, error_kind, error_message, retriable, created_at, started_at, completed_at
		FROM jobs
		WHERE id = $1
	`

	var job models.Job
	var errorKind sql.NullString
	var errorMessage sql.NullString
	var retriable sql.NullBool
	var startedAt sql.NullTime
	var completedAt sql.NullTime

	err := r.db.QueryRow(query, id).Scan(
		&job.ID,
		&job.Status,
		&errorKind,
		&errorMessage,
		&retriable,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if errorKind.Valid {
		job.Failure = &models.FailureRecord{
			Kind:      models.ErrorKind(errorKind.String),
			Message:   errorMessage.String,
			Retriable: retriable.Bool,
		}
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return &job, nil
}

// GetEvents retrieves the recorded state transitions for a job, oldest first.
func (r *JobRepository) GetEvents(jobID string) ([]models.JobEvent, error) {
	query := `
		SELECT id, job_id, at, from_status, to_status, reason
		FROM job_events
		WHERE job_id = $1
		ORDER BY at ASC
	`

	rows, err := r.db.Query(query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.JobEvent
	for rows.Next() {
		var ev models.JobEvent
		var fromStatus sql.NullString
		var reason sql.NullString
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.At, &fromStatus, &ev.ToStatus, &reason); err != nil {
			return nil, err
		}
		if fromStatus.Valid {
			from := models.JobStatus(fromStatus.String)
			ev.FromStatus = &from
		}
		ev.Reason = reason.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *JobRepository) createEvent(jobID string, from *models.JobStatus, to models.JobStatus, reason string) error {
	query := `
		INSERT INTO job_events (job_id, at, from_status, to_status, reason)
		VALUES ($1, $2, $3, $4, $5)
	`
	var fromStatus sql.NullString
	if from != nil {
		fromStatus = sql.NullString{String: string(*from), Valid: true}
	}
	_, err := r.db.Exec(query, jobID, time.Now(), fromStatus, to, reason)
	return err
}

func decodedLen(b64 string) (int64, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return 0, err
	}
	return int64(len(raw)), nil
}
