package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/learnflow/learnflow/api"
	"github.com/learnflow/learnflow/jobqueue"
	"github.com/learnflow/learnflow/types"
)

// JobRecorder counts submitted jobs. A nil recorder is valid.
type JobRecorder interface {
	JobCreated(jobType string)
}

// JobsHandler serves job submission and status polling.
type JobsHandler struct {
	queue    *jobqueue.Queue
	recorder JobRecorder
	logger   *zap.Logger
}

// NewJobsHandler creates a jobs handler over the queue.
func NewJobsHandler(queue *jobqueue.Queue, recorder JobRecorder, logger *zap.Logger) *JobsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobsHandler{
		queue:    queue,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "jobs_handler")),
	}
}

// Create handles POST /v1/jobs. The job is accepted, not executed: the
// response is 202 with the id to poll.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req api.CreateJobRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.Type == "" {
		WriteErrorMessage(w, types.ErrInvalidRequest, "job_type is required", h.logger)
		return
	}

	id, err := h.queue.Create(r.Context(), req.Type, req.Params)
	if err != nil {
		h.writeQueueError(w, err)
		return
	}

	if h.recorder != nil {
		h.recorder.JobCreated(req.Type)
	}

	WriteJSON(w, http.StatusAccepted, api.Response{
		Success: true,
		Data:    api.CreateJobResponse{JobID: id},
	})
}

// Status handles GET /v1/jobs/{id}.
func (h *JobsHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, types.ErrInvalidRequest, "job id is required", h.logger)
		return
	}

	job, err := h.queue.Status(r.Context(), id)
	if err != nil {
		h.writeQueueError(w, err)
		return
	}

	WriteSuccess(w, api.JobStatusResponse{
		JobID:           job.ID,
		Type:            job.Type,
		Status:          string(job.Status),
		Progress:        job.Progress,
		ProgressMessage: job.ProgressMessage,
		Result:          job.Result,
		Error:           job.Error,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	})
}

func (h *JobsHandler) writeQueueError(w http.ResponseWriter, err error) {
	var typed *types.Error
	if errors.As(err, &typed) {
		WriteError(w, typed, h.logger)
		return
	}
	WriteError(w, types.NewError(types.ErrInternalError, "job store unavailable").WithCause(err), h.logger)
}
