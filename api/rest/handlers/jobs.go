package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"sam3d-worker/core/dispatch"
	"sam3d-worker/core/handler"
	"sam3d-worker/core/models"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	handler    *handler.Handler
	dispatcher *dispatch.Dispatcher
	log        *zap.SugaredLogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(h *handler.Handler, d *dispatch.Dispatcher, log *zap.SugaredLogger) *JobHandler {
	return &JobHandler{
		handler:    h,
		dispatcher: d,
		log:        log,
	}
}

// jobResponse is the wire shape shared by the sync and async endpoints.
type jobResponse struct {
	ID      string                `json:"id,omitempty"`
	Status  string                `json:"status"`
	Output  *outputPayload        `json:"output,omitempty"`
	Timings *models.Timings       `json:"timings,omitempty"`
	Error   *models.FailureRecord `json:"error,omitempty"`
}

type outputPayload struct {
	GLBFile string `json:"glb_file"`
}

// RunSync handles POST /runsync: execute one job to completion and return the
// result or a failure record in the response body.
func (h *JobHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	var req models.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, jobResponse{
			Status: "error",
			Error: &models.FailureRecord{
				Kind:    models.ErrKindValidation,
				Message: "invalid request body: " + err.Error(),
			},
		})
		return
	}

	result, failure := h.handler.Handle(r.Context(), &req)
	if failure != nil {
		writeJSON(w, failureStatusCode(failure), jobResponse{
			ID:     req.ID,
			Status: "error",
			Error:  failure,
		})
		return
	}

	writeJSON(w, http.StatusOK, jobResponse{
		ID:      req.ID,
		Status:  result.Status,
		Output:  &outputPayload{GLBFile: result.GLBFile},
		Timings: &result.Timings,
	})
}

// Run handles POST /run: accept a job for asynchronous execution.
func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req models.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, jobResponse{
			Status: "error",
			Error: &models.FailureRecord{
				Kind:    models.ErrKindValidation,
				Message: "invalid request body: " + err.Error(),
			},
		})
		return
	}

	job, err := h.dispatcher.Submit(&req)
	if err != nil {
		h.log.Warnw("Job submission rejected", "job_id", req.ID, "error", err)
		writeJSON(w, http.StatusTooManyRequests, jobResponse{
			ID:     req.ID,
			Status: "error",
			Error: &models.FailureRecord{
				Kind:      models.ErrKindInternal,
				Message:   err.Error(),
				Retriable: true,
			},
		})
		return
	}

	writeJSON(w, http.StatusAccepted, jobResponse{
		ID:     job.ID,
		Status: string(job.Status),
	})
}

// Status handles GET /status/{id}
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := vars["id"]

	job, ok := h.dispatcher.Get(jobID)
	if !ok {
		writeJSON(w, http.StatusNotFound, jobResponse{
			ID:     jobID,
			Status: "error",
			Error: &models.FailureRecord{
				Kind:    models.ErrKindValidation,
				Message: "unknown job id " + jobID,
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// Health handles GET /health. The worker stops reporting healthy after a
// process-fatal error so the platform recycles the container instead of
// routing more jobs to it.
func (h *JobHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status":       "ok",
		"model_loaded": h.handler.Loaded(),
	}
	if !h.handler.Healthy() {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
	}
	writeJSON(w, status, body)
}

func failureStatusCode(f *models.FailureRecord) int {
	switch f.Kind {
	case models.ErrKindValidation, models.ErrKindSerialization:
		return http.StatusBadRequest
	case models.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
