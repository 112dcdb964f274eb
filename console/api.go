package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/execution/stage"
	"github.com/animus-labs/retrigger/internal/partition"
	"github.com/animus-labs/retrigger/internal/pipeline"
	"github.com/animus-labs/retrigger/internal/platform/auditlog"
	"github.com/animus-labs/retrigger/internal/platform/auth"
	"github.com/animus-labs/retrigger/internal/platform/httpserver"
	"github.com/animus-labs/retrigger/internal/repo"
	"github.com/animus-labs/retrigger/internal/session"
	"github.com/animus-labs/retrigger/internal/trigger"
	"github.com/animus-labs/retrigger/internal/watch"
)

type consoleAPI struct {
	logger   *slog.Logger
	jobs     repo.JobRepository
	svc      trigger.Service
	recorder *trigger.Recorder
	sessions *session.Store
	watches  *watch.Manager
	// audit is nil when no database is configured.
	audit auditlog.QueryRower
}

func (api *consoleAPI) register(r chi.Router) {
	r.Get("/pipelines", api.handleListPipelines)
	r.Get("/pipelines/resolve", api.handleResolvePipeline)

	r.Get("/jobs", api.handleListJobs)
	r.Get("/jobs/{job_id}", api.handleGetJob)
	r.Get("/jobs/{job_id}/stages", api.handleJobStages)
	r.Get("/jobs/{job_id}/partitions", api.handleJobPartitions)
	r.Get("/jobs/{job_id}/triggers", api.handleJobTriggers)

	r.Post("/sessions", api.handleCreateSession)
	r.Get("/sessions/{session_id}", api.handleGetSession)
	r.Delete("/sessions/{session_id}", api.handleDeleteSession)
	r.Put("/sessions/{session_id}/jobs/{job_id}/batch-size", api.handleSetBatchSize)
	r.Post("/sessions/{session_id}/jobs/{job_id}/selection", api.handleSelection)
	r.Post("/sessions/{session_id}/jobs/{job_id}/preview", api.handlePreview)
	r.Post("/sessions/{session_id}/jobs/{job_id}/trigger", api.handleTrigger)
	r.Get("/sessions/{session_id}/jobs/{job_id}/status", api.handleJobStatus)
	r.Delete("/sessions/{session_id}/jobs/{job_id}/watch", api.handleStopWatch)

	r.Get("/watches", api.handleListWatches)
	r.Delete("/watches/{job_id}", api.handleStopJobWatches)
}

func (api *consoleAPI) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, map[string]any{"pipelines": pipeline.All()})
}

func (api *consoleAPI) handleResolvePipeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := pipeline.Resolve(q.Get("source_system"), q.Get("pipeline_type"))
	api.writeJSON(w, http.StatusOK, map[string]any{
		"key":      key,
		"pipeline": pipeline.Lookup(key),
	})
}

func (api *consoleAPI) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.JobFilter{TableName: strings.TrimSpace(q.Get("table_name"))}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		filter.Status = domain.NormalizeJobStatus(raw)
		if filter.Status == "" {
			api.writeError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
			return
		}
		filter.Limit = limit
	}

	jobs, err := api.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		api.logger.Error("list jobs failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (api *consoleAPI) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := api.loadJob(w, r)
	if !ok {
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"job":      job,
		"pipeline": pipeline.ForJob(job),
	})
}

type stagesResponse struct {
	JobID       int64                    `json:"job_id"`
	Status      domain.JobStatus         `json:"status"`
	PipelineKey domain.PipelineKey       `json:"pipeline_key"`
	Pipeline    string                   `json:"pipeline"`
	Steps       []domain.StageDescriptor `json:"steps"`
	Projection  stage.Projection         `json:"projection"`
	Warning     string                   `json:"warning,omitempty"`
	Route       []stage.ModuleState      `json:"route,omitempty"`
}

// handleJobStages renders the stage diagram for a job. status and current_step
// override the stored values so a client can replay a poll.
func (api *consoleAPI) handleJobStages(w http.ResponseWriter, r *http.Request) {
	job, ok := api.loadJob(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	status := job.Status
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status = domain.NormalizeJobStatus(raw)
		if status == "" {
			api.writeError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}
	}
	def := pipeline.ForJob(job)
	current := def.StepIndex(job.FailedStepID)
	if raw := strings.TrimSpace(q.Get("current_step")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_current_step")
			return
		}
		current = n
	}
	if current < 0 {
		current = 0
	}

	api.writeJSON(w, http.StatusOK, api.stages(r, job, def, status, current, job.FailedStepID, q.Get("module")))
}

func (api *consoleAPI) stages(r *http.Request, job domain.Job, def domain.PipelineDefinition, status domain.JobStatus, current int, failedStepID, module string) stagesResponse {
	projection, err := stage.ProjectChecked(def.Steps, status, current, failedStepID)
	resp := stagesResponse{
		JobID:       job.ID,
		Status:      status,
		PipelineKey: def.Key,
		Pipeline:    def.Name,
		Steps:       def.Steps,
		Projection:  projection,
	}
	if errors.Is(err, stage.ErrFailedStepUnresolved) {
		resp.Warning = err.Error()
		api.logger.Warn("stage projection fell back to step index",
			"job_id", job.ID,
			"failed_step_id", failedStepID,
			"current_step", projection.CurrentIndex,
			"request_id", r.Header.Get(httpserver.HeaderRequestID),
		)
	}
	if strings.TrimSpace(job.Route) != "" {
		resp.Route = stage.ProjectRoute(job.Route, status, strings.TrimSpace(module))
	}
	return resp
}

func (api *consoleAPI) handleJobPartitions(w http.ResponseWriter, r *http.Request) {
	job, ok := api.loadJob(w, r)
	if !ok {
		return
	}
	batch := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("batch_size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_batch_size")
			return
		}
		batch = n
	}
	batch = partition.ClampBatchSize(job, batch)
	api.writeJSON(w, http.StatusOK, map[string]any{
		"job_id":             job.ID,
		"batch_size":         batch,
		"batch_size_options": partition.BatchSizeOptions(job),
		"batch_partitions":   partition.BatchPartitions(job, batch),
		"timeline":           partition.Timeline(job.Partition, job.MissingPartitions, nil),
	})
}

func (api *consoleAPI) handleJobTriggers(w http.ResponseWriter, r *http.Request) {
	job, ok := api.loadJob(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = n
	}
	records, err := api.recorder.History(r.Context(), job.ID, limit)
	if err != nil {
		api.logger.Error("list triggers failed", "job_id", job.ID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"triggers": records})
}

func (api *consoleAPI) handleListWatches(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, map[string]any{"watches": api.watches.Active()})
}

func (api *consoleAPI) handleStopJobWatches(w http.ResponseWriter, r *http.Request) {
	jobID, ok := api.jobID(w, r)
	if !ok {
		return
	}
	stopped := api.watches.StopJob(jobID)
	api.auditEvent(r, "watch.stop_all", "job", strconv.FormatInt(jobID, 10), map[string]any{"stopped": stopped})
	api.writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "stopped": stopped})
}

func (api *consoleAPI) jobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "job_id")), 10, 64)
	if err != nil || id <= 0 {
		api.writeError(w, r, http.StatusBadRequest, "invalid_job_id")
		return 0, false
	}
	return id, true
}

func (api *consoleAPI) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	id, ok := api.jobID(w, r)
	if !ok {
		return domain.Job{}, false
	}
	job, err := api.jobs.GetJob(r.Context(), id)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "job_not_found")
		return domain.Job{}, false
	case err != nil:
		api.logger.Error("get job failed", "job_id", id, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return domain.Job{}, false
	}
	return job, true
}

// auditEvent records an operator action. It is best effort: the action has
// already happened.
func (api *consoleAPI) auditEvent(r *http.Request, action, resourceType, resourceID string, payload map[string]any) {
	if api.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 750*time.Millisecond)
	defer cancel()
	_, err := auditlog.Insert(ctx, api.audit, auditlog.Event{
		Actor:        auth.Actor(r.Context()),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    r.Header.Get(httpserver.HeaderRequestID),
		IP:           auditlog.RemoteIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Payload:      payload,
	})
	if err != nil {
		api.logger.Warn("audit insert failed", "action", action, "resource_id", resourceID, "error", err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

// decodeOptionalJSON accepts an empty body and leaves dst untouched.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := decodeJSON(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (api *consoleAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *consoleAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get(httpserver.HeaderRequestID),
	})
}
