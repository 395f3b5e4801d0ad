package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/iago/gasometria-back/internal/domain"
	"go.uber.org/zap"
)

type reportRequest struct {
	Scenario   string `json:"scenario"`
	GasType    string `json:"gasType"`
	SampleType string `json:"sampleType"`
}

func (r reportRequest) gasType() string {
	if strings.TrimSpace(r.GasType) != "" {
		return r.GasType
	}
	return r.SampleType
}

type backgroundRequest struct {
	JobID string `json:"jobId"`
}

// GenerateReport renders a report synchronously.
func (api *API) GenerateReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var request reportRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rendered, err := api.jobs.GenerateReport(r.Context(), request.Scenario, request.gasType())
	if err != nil {
		var validation *domain.ValidationError
		switch {
		case errors.As(err, &validation):
			writeError(w, http.StatusBadRequest, validation.Error())
		case errors.Is(err, domain.ErrUpstreamThrottled):
			api.logger.Warn("sync report throttled", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "generation service is busy, try again later")
		default:
			api.logger.Error("sync report failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to generate report")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"report": rendered})
}

// InvokeReport creates a job and returns its id before any generation runs.
func (api *API) InvokeReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var request reportRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	job, err := api.jobs.CreateJob(r.Context(), request.Scenario, request.gasType())
	if err != nil {
		var validation *domain.ValidationError
		if errors.As(err, &validation) {
			writeError(w, http.StatusBadRequest, validation.Error())
			return
		}
		api.logger.Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": job.ID})
}

// RunBackground is the internal trigger used by the HTTP dispatcher. The
// job runs detached from the request and its outcome lands in the store.
func (api *API) RunBackground(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var request backgroundRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	jobID := strings.TrimSpace(request.JobID)
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	api.inflight.Add(1)
	go func() {
		defer api.inflight.Done()
		runCtx, cancel := context.WithTimeout(ctx, api.backgroundTimeout)
		defer cancel()

		if err := api.jobs.RunBackgroundJob(runCtx, jobID); err != nil {
			api.logger.Error("background job error", zap.String("job_id", jobID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// ReportStatus returns the stored job record as is.
func (api *API) ReportStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	jobID := strings.TrimSpace(r.URL.Query().Get("jobId"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}

	job, err := api.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		api.logger.Error("load job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}
