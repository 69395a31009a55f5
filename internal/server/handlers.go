package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Sternrassler/batch-dispatcher/pkg/dispatch"
	"github.com/Sternrassler/batch-dispatcher/pkg/progress"
)

// processEntry summarizes one finished batch in a synchronous response.
type processEntry struct {
	Index     int     `json:"index"`
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
}

func newProcessEntry(snap dispatch.ProgressSnapshot) processEntry {
	entry := processEntry{Progress: snap.Percentage}
	if b := snap.LastBatch; b != nil {
		entry.Index = b.Index + 1
		entry.Succeeded = b.Succeeded
		entry.Failed = b.Failed
		switch {
		case b.Failed == 0:
			entry.Status = "Shared successfully!"
		case b.Succeeded == 0:
			entry.Status = "Failed"
		default:
			entry.Status = "Partially shared"
		}
	}
	return entry
}

// shareResponse is the outcome of a synchronous submission.
type shareResponse struct {
	Success    bool                      `json:"success"`
	Message    string                    `json:"message,omitempty"`
	JobID      string                    `json:"job_id"`
	State      dispatch.State            `json:"state"`
	Fatal      bool                      `json:"fatal,omitempty"`
	Partial    bool                      `json:"partial,omitempty"`
	Error      string                    `json:"error,omitempty"`
	Progress   dispatch.ProgressSnapshot `json:"progress"`
	Process    []processEntry            `json:"process"`
	DurationMS int64                     `json:"duration_ms"`
}

// acceptedResponse is returned for asynchronous submissions.
type acceptedResponse struct {
	Success   bool           `json:"success"`
	JobID     string         `json:"job_id"`
	State     dispatch.State `json:"state"`
	StatusURL string         `json:"status_url"`
	StreamURL string         `json:"stream_url"`
}

// cancelResponse is returned by DELETE /jobs/{id}.
type cancelResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	JobID   string         `json:"job_id"`
	State   dispatch.State `json:"state"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Redis       string `json:"redis"`
	JobsRunning int    `json:"jobs_running"`
}

// outcomeStatus maps a terminal run state to an HTTP status code.
func outcomeStatus(result dispatch.Result) int {
	switch {
	case result.State == dispatch.StateCompleted:
		return http.StatusOK
	case result.Fatal:
		return http.StatusInternalServerError
	case result.State == dispatch.StateAborted:
		return http.StatusBadGateway
	case result.State == dispatch.StateCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func outcomeMessage(result dispatch.Result) string {
	switch {
	case result.State == dispatch.StateCompleted:
		return ""
	case result.Fatal:
		return "An error occurred while processing your request."
	case result.State == dispatch.StateAborted:
		return "Sharing stopped after repeated failures."
	default:
		return "Sharing was cancelled before completion."
	}
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req dispatch.ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Message: messageMissingParameters,
			Field:   "body",
			Reason:  "must be a valid JSON object",
		})
		return
	}

	job, err := req.Job(s.cfg.Limits)
	if err != nil {
		s.writeInvalid(w, err)
		return
	}
	job.ID = uuid.NewString()

	if parseQueryBool(r, "async") {
		s.submitAsync(w, job)
		return
	}
	s.runSync(w, r, job)
}

func (s *Server) writeInvalid(w http.ResponseWriter, err error) {
	resp := errorResponse{Message: messageMissingParameters}
	var verr *dispatch.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
		resp.Reason = verr.Reason
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

func (s *Server) submitAsync(w http.ResponseWriter, job dispatch.Job) {
	entry, ctx, err := s.launch(s.baseCtx, job, nil)
	if err != nil {
		s.writeLaunchError(w, err)
		return
	}
	jobsSubmittedTotal.WithLabelValues("async").Inc()

	go s.run(ctx, entry)

	writeJSON(w, http.StatusAccepted, acceptedResponse{
		Success:   true,
		JobID:     job.ID,
		State:     dispatch.StatePending,
		StatusURL: "/jobs/" + job.ID,
		StreamURL: "/jobs/" + job.ID + "/stream",
	})
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request, job dispatch.Job) {
	var process []processEntry
	entry, ctx, err := s.launch(r.Context(), job, func(snap dispatch.ProgressSnapshot) {
		process = append(process, newProcessEntry(snap))
	})
	if err != nil {
		s.writeLaunchError(w, err)
		return
	}
	jobsSubmittedTotal.WithLabelValues("sync").Inc()

	w.Header().Set("X-Job-ID", job.ID)
	result := s.run(ctx, entry)

	resp := shareResponse{
		Success:    result.State == dispatch.StateCompleted,
		Message:    outcomeMessage(result),
		JobID:      result.JobID,
		State:      result.State,
		Fatal:      result.Fatal,
		Partial:    result.State == dispatch.StateCancelled || (result.State == dispatch.StateAborted && result.Partial()),
		Progress:   result.Snapshot,
		Process:    process,
		DurationMS: result.Elapsed.Milliseconds(),
	}
	if resp.Process == nil {
		resp.Process = []processEntry{}
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}

	writeJSON(w, outcomeStatus(result), resp)
}

func (s *Server) writeLaunchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down.")
	case errors.Is(err, dispatch.ErrInvalidJob):
		s.writeInvalid(w, err)
	default:
		s.logger.Error().Err(err).Msg("Failed to start job")
		writeError(w, http.StatusInternalServerError, "An error occurred while processing your request.")
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	snap, err := s.lookup(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	entry, ok := s.jobs.get(id)
	if !ok {
		snap, err := s.lookup(r.Context(), id)
		if err != nil {
			s.writeLookupError(w, id, err)
			return
		}
		writeJSON(w, http.StatusConflict, cancelResponse{Message: "Job already finished.", JobID: id, State: snap.State})
		return
	}

	if entry.finished() {
		writeJSON(w, http.StatusConflict, cancelResponse{Message: "Job already finished.", JobID: id, State: entry.result.State})
		return
	}

	entry.cancel()
	s.logger.Info().Str("job_id", id).Msg("Job cancellation requested")

	writeJSON(w, http.StatusAccepted, cancelResponse{
		Success: true,
		Message: "Cancellation requested.",
		JobID:   id,
		State:   entry.runner.State(),
	})
}

func (s *Server) writeLookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, progress.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found.")
		return
	}
	s.logger.Error().Err(err).Str("job_id", id).Msg("Failed to load job progress")
	writeError(w, http.StatusInternalServerError, "An error occurred while processing your request.")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Redis: "disabled", JobsRunning: s.jobs.running()}
	status := http.StatusOK

	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Redis = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Redis = "ok"
		}
	}

	writeJSON(w, status, resp)
}

// parseQueryBool parses a boolean query parameter; absent or malformed is false.
func parseQueryBool(r *http.Request, key string) bool {
	value, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && value
}
