package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/partition"
	"github.com/animus-labs/retrigger/internal/pipeline"
	"github.com/animus-labs/retrigger/internal/platform/auth"
	"github.com/animus-labs/retrigger/internal/session"
	"github.com/animus-labs/retrigger/internal/trigger"
	"github.com/animus-labs/retrigger/internal/watch"
)

type sessionResponse struct {
	session.Snapshot
	Watches []watch.Info `json:"watches"`
}

func (api *consoleAPI) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	snap := api.sessions.Create()
	api.logger.Info("session created", "session_id", snap.ID, "actor", auth.Actor(r.Context()))
	api.writeJSON(w, http.StatusCreated, sessionResponse{Snapshot: snap, Watches: []watch.Info{}})
}

func (api *consoleAPI) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "session_id")
	snap, err := api.sessions.Snapshot(sid)
	if err != nil {
		api.writeSessionError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, sessionResponse{Snapshot: snap, Watches: api.sessionWatches(sid)})
}

func (api *consoleAPI) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "session_id")
	if !api.sessions.Delete(sid) {
		api.writeError(w, r, http.StatusNotFound, "session_not_found")
		return
	}
	stopped := api.watches.StopSession(sid)
	api.logger.Info("session closed", "session_id", sid, "watches_stopped", stopped)
	w.WriteHeader(http.StatusNoContent)
}

type batchSizeRequest struct {
	BatchSize int `json:"batch_size"`
}

func (api *consoleAPI) handleSetBatchSize(w http.ResponseWriter, r *http.Request) {
	job, ok := api.loadJob(w, r)
	if !ok {
		return
	}
	var req batchSizeRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	var snap session.JobSnapshot
	var parts []string
	err := api.sessions.Update(chi.URLParam(r, "session_id"), func(st *session.State) error {
		st.SetBatchSize(job, req.BatchSize)
		parts, _ = st.PartitionsToProcess(job)
		snap = st.JobSnapshot(job.ID)
		return nil
	})
	if err != nil {
		api.writeSessionError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"job":                   snap,
		"batch_size_options":    partition.BatchSizeOptions(job),
		"partitions_to_process": nonNil(parts),
	})
}

type selectionRequest struct {
	Action    string `json:"action"`
	Partition string `json:"partition,omitempty"`
}

func (api *consoleAPI) handleSelection(w http.ResponseWriter, r *http.Request) {
	job, ok := api.loadJob(w, r)
	if !ok {
		return
	}
	var req selectionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))

	var snap session.JobSnapshot
	var parts []string
	err := api.sessions.Update(chi.URLParam(r, "session_id"), func(st *session.State) error {
		switch action {
		case "open":
			st.OpenSelection(job)
		case "toggle":
			if err := st.TogglePartition(job, strings.TrimSpace(req.Partition)); err != nil {
				return err
			}
		case "select_all":
			st.SelectAll(job)
		case "deselect_all":
			st.DeselectAll(job)
		default:
			return errInvalidAction
		}
		parts, _ = st.PartitionsToProcess(job)
		snap = st.JobSnapshot(job.ID)
		return nil
	})
	switch {
	case errors.Is(err, errInvalidAction):
		api.writeError(w, r, http.StatusBadRequest, "invalid_action")
		return
	case errors.Is(err, partition.ErrUnknownPartition):
		api.writeError(w, r, http.StatusBadRequest, "unknown_partition")
		return
	case err != nil:
		api.writeSessionError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"job":                   snap,
		"partitions_to_process": nonNil(parts),
	})
}

var errInvalidAction = errors.New("invalid selection action")

type partitionsRequest struct {
	Partitions []string `json:"partitions,omitempty"`
}

func (api *consoleAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	job, ok := api.loadJob(w, r)
	if !ok {
		return
	}
	var req partitionsRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	parts, ok := api.resolvePartitions(w, r, job, req.Partitions)
	if !ok {
		return
	}

	preview, err := api.svc.GetJobPayloadPreview(r.Context(), job.ID, parts)
	switch {
	case errors.Is(err, trigger.ErrJobNotFound):
		api.writeError(w, r, http.StatusNotFound, "job_not_found")
		return
	case err != nil:
		api.logger.Warn("payload preview failed", "job_id", job.ID, "error", err)
		api.writeError(w, r, http.StatusBadGateway, "backend_unavailable")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"preview": preview})
}

// resolvePartitions returns the explicitly requested partitions, or the
// session's selection when none were given.
func (api *consoleAPI) resolvePartitions(w http.ResponseWriter, r *http.Request, job domain.Job, requested []string) ([]string, bool) {
	explicit, err := checkPartitions(job, requested)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "unknown_partition")
		return nil, false
	}
	var parts []string
	err = api.sessions.Update(chi.URLParam(r, "session_id"), func(st *session.State) error {
		if len(explicit) > 0 {
			parts = explicit
			return nil
		}
		var err error
		parts, err = st.PartitionsToProcess(job)
		return err
	})
	if err != nil {
		api.writeSessionError(w, r, err)
		return nil, false
	}
	return parts, true
}

type triggerRequest struct {
	Partitions []string `json:"partitions,omitempty"`
	// Watch defaults to true.
	Watch *bool `json:"watch,omitempty"`
}

type triggerResponse struct {
	TriggerID  string               `json:"trigger_id"`
	Result     domain.TriggerResult `json:"result"`
	PayloadKey string               `json:"payload_key,omitempty"`
	Watching   bool                 `json:"watching"`
	Job        session.JobSnapshot  `json:"job"`
}

func (api *consoleAPI) handleTrigger(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "session_id")
	job, ok := api.loadJob(w, r)
	if !ok {
		return
	}
	var req triggerRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	explicit, err := checkPartitions(job, req.Partitions)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "unknown_partition")
		return
	}

	var parts []string
	err = api.sessions.Update(sid, func(st *session.State) error {
		p := explicit
		if len(p) == 0 {
			var err error
			if p, err = st.PartitionsToProcess(job); err != nil {
				return err
			}
		}
		if err := st.BeginTrigger(job, p); err != nil {
			return err
		}
		parts = p
		return nil
	})
	if err != nil {
		api.writeSessionError(w, r, err)
		return
	}

	outcome, err := api.recorder.Trigger(r.Context(), trigger.Request{
		Job:        job,
		Partitions: parts,
		BatchSize:  len(parts),
		Actor:      auth.Actor(r.Context()),
	})
	if err != nil {
		_ = api.sessions.Touch(sid, func(st *session.State) { st.AbortTrigger(job, err) })
		if errors.Is(err, trigger.ErrJobNotFound) {
			api.writeError(w, r, http.StatusNotFound, "job_not_found")
			return
		}
		api.logger.Error("trigger failed", "job_id", job.ID, "session_id", sid, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var snap session.JobSnapshot
	_ = api.sessions.Touch(sid, func(st *session.State) {
		st.FinishTrigger(job, outcome)
		snap = st.JobSnapshot(job.ID)
	})

	watching := false
	if outcome.Result.Status != domain.JobStatusError && (req.Watch == nil || *req.Watch) {
		api.startWatch(sid, job)
		watching = true
	}

	api.auditEvent(r, "job.trigger", "job", strconv.FormatInt(job.ID, 10), map[string]any{
		"trigger_id": outcome.TriggerID,
		"session_id": sid,
		"status":     outcome.Result.Status,
		"partitions": outcome.Result.Partitions,
		"batch_size": outcome.Result.BatchSize,
	})

	api.writeJSON(w, http.StatusOK, triggerResponse{
		TriggerID:  outcome.TriggerID,
		Result:     outcome.Result,
		PayloadKey: outcome.PayloadKey,
		Watching:   watching,
		Job:        snap,
	})
}

// startWatch polls the job in the background and folds every report into the
// session. The watch ends with the session.
func (api *consoleAPI) startWatch(sid string, job domain.Job) {
	key := watch.Key{Session: sid, JobID: job.ID}
	api.watches.Start(key,
		func(u watch.Update) {
			err := api.sessions.Touch(sid, func(st *session.State) {
				if u.Err != nil {
					st.ApplyPollError(job.ID, u.Err)
					return
				}
				st.ApplyReport(job, u.Report)
			})
			if errors.Is(err, session.ErrNotFound) {
				api.watches.Stop(key)
			}
		},
		func(report domain.StatusReport, err error) {
			if err != nil {
				return
			}
			switch report.Status {
			case domain.JobStatusCompleted, domain.JobStatusFailed:
			default:
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := api.jobs.UpdateJobStatus(ctx, job.ID, report.Status); err != nil {
				api.logger.Warn("update job status failed", "job_id", job.ID, "status", report.Status, "error", err)
			}
		},
	)
}

type jobStatusResponse struct {
	JobID    int64                  `json:"job_id"`
	Status   domain.JobStatus       `json:"status"`
	Watching bool                   `json:"watching"`
	Job      session.JobSnapshot    `json:"job"`
	Stages   stagesResponse         `json:"stages"`
	Timeline []partition.MonthGroup `json:"timeline"`
	Logs     []session.LogEntry     `json:"logs"`
}

// handleJobStatus returns the job as this session sees it. refresh=true polls
// the backend once before answering.
func (api *consoleAPI) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "session_id")
	job, ok := api.loadJob(w, r)
	if !ok {
		return
	}
	if _, err := api.sessions.Snapshot(sid); err != nil {
		api.writeSessionError(w, r, err)
		return
	}

	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		report, err := api.svc.GetJobStatus(r.Context(), job.ID)
		_ = api.sessions.Touch(sid, func(st *session.State) {
			if err != nil {
				st.ApplyPollError(job.ID, err)
				return
			}
			st.ApplyReport(job, report)
		})
		if err != nil {
			api.logger.Warn("status refresh failed", "job_id", job.ID, "error", err)
		}
	}

	var (
		snap   session.JobSnapshot
		status domain.JobStatus
		logs   []session.LogEntry
	)
	err := api.sessions.Update(sid, func(st *session.State) error {
		snap = st.JobSnapshot(job.ID)
		status = st.Status(job)
		logs = st.Logs(job.ID)
		return nil
	})
	if err != nil {
		api.writeSessionError(w, r, err)
		return
	}

	def := pipeline.ForJob(job)
	current, failedStep := snap.CurrentStep, snap.FailedStepID
	if snap.Triggered == nil {
		current, failedStep = max(def.StepIndex(job.FailedStepID), 0), job.FailedStepID
	}

	api.writeJSON(w, http.StatusOK, jobStatusResponse{
		JobID:    job.ID,
		Status:   status,
		Watching: api.watches.IsActive(watch.Key{Session: sid, JobID: job.ID}),
		Job:      snap,
		Stages:   api.stages(r, job, def, status, current, failedStep, r.URL.Query().Get("module")),
		Timeline: partition.Timeline(job.Partition, job.MissingPartitions, snap.ProcessingPartitions),
		Logs:     logs,
	})
}

func (api *consoleAPI) handleStopWatch(w http.ResponseWriter, r *http.Request) {
	jobID, ok := api.jobID(w, r)
	if !ok {
		return
	}
	if !api.watches.Stop(watch.Key{Session: chi.URLParam(r, "session_id"), JobID: jobID}) {
		api.writeError(w, r, http.StatusNotFound, "watch_not_found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *consoleAPI) sessionWatches(sid string) []watch.Info {
	out := []watch.Info{}
	for _, info := range api.watches.Active() {
		if info.Session == sid {
			out = append(out, info)
		}
	}
	return out
}

func (api *consoleAPI) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "session_not_found")
	case errors.Is(err, partition.ErrNoPartitions):
		api.writeError(w, r, http.StatusBadRequest, "partitions_required")
	case errors.Is(err, session.ErrTriggerInFlight):
		api.writeError(w, r, http.StatusConflict, "trigger_in_flight")
	default:
		api.logger.Error("session update failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

// checkPartitions de-duplicates requested partitions and rejects any that do
// not belong to the job.
func checkPartitions(job domain.Job, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, nil
	}
	known := make(map[string]struct{}, len(job.MissingPartitions)+1)
	for _, p := range job.AllPartitions() {
		known[p] = struct{}{}
	}
	seen := make(map[string]struct{}, len(requested))
	out := make([]string, 0, len(requested))
	for _, raw := range requested {
		p := strings.TrimSpace(raw)
		if _, ok := known[p]; !ok {
			return nil, partition.ErrUnknownPartition
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
