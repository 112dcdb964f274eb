package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/platform/auth"
	"github.com/animus-labs/retrigger/internal/repo"
	"github.com/animus-labs/retrigger/internal/repo/memory"
	"github.com/animus-labs/retrigger/internal/session"
	"github.com/animus-labs/retrigger/internal/trigger"
	"github.com/animus-labs/retrigger/internal/trigger/mock"
	"github.com/animus-labs/retrigger/internal/watch"
)

type testConsole struct {
	api     *consoleAPI
	handler http.Handler
	jobs    *memory.JobStore
}

type fixedAuthenticator struct {
	identity auth.Identity
}

func (a fixedAuthenticator) Authenticate(ctx context.Context, r *http.Request) (auth.Identity, error) {
	return a.identity, nil
}

// completingService reports every job COMPLETED on the first poll.
type completingService struct {
	trigger.Service
	mu    sync.Mutex
	polls int
}

func (s *completingService) GetJobStatus(ctx context.Context, jobID int64) (domain.StatusReport, error) {
	s.mu.Lock()
	s.polls++
	s.mu.Unlock()
	return domain.StatusReport{JobID: jobID, Status: domain.JobStatusCompleted, LastUpdated: time.Now().UTC(), ProcessingPartitions: []string{}}, nil
}

// failingService fails every trigger.
type failingService struct {
	trigger.Service
}

func (failingService) TriggerJob(ctx context.Context, jobID int64, partitions []string, batchSize int) (domain.TriggerResult, error) {
	return domain.TriggerResult{}, errors.New("backend unavailable")
}

// failedAtService reports every job FAILED at step.
type failedAtService struct {
	trigger.Service
	step string
}

func (s failedAtService) GetJobStatus(ctx context.Context, jobID int64) (domain.StatusReport, error) {
	return domain.StatusReport{JobID: jobID, Status: domain.JobStatusFailed, CurrentStep: s.step, LastUpdated: time.Now().UTC(), ProcessingPartitions: []string{}}, nil
}

func newTestConsole(t *testing.T, roles []string, wrap func(trigger.Service) trigger.Service, interval time.Duration) *testConsole {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	seed, err := memory.DefaultJobs()
	if err != nil {
		t.Fatalf("DefaultJobs() err=%v", err)
	}
	jobs := memory.NewJobStore(seed)
	backend, err := mock.New(jobs, mock.Config{Seed: 7})
	if err != nil {
		t.Fatalf("mock.New() err=%v", err)
	}
	var svc trigger.Service = backend
	if wrap != nil {
		svc = wrap(backend)
	}
	recorder, err := trigger.NewRecorder(svc, memory.NewTriggerStore(), nil, logger)
	if err != nil {
		t.Fatalf("NewRecorder() err=%v", err)
	}
	watches := watch.NewManager(context.Background(), svc, watch.Config{Interval: interval}, logger)
	t.Cleanup(watches.StopAll)

	api := &consoleAPI{
		logger:   logger,
		jobs:     jobs,
		svc:      svc,
		recorder: recorder,
		sessions: session.NewStore(time.Hour),
		watches:  watches,
	}
	mw := auth.Middleware{
		Logger:        logger,
		Authenticator: fixedAuthenticator{identity: auth.Identity{Subject: "operator-1", Roles: roles}},
		Authorize:     authorize,
	}
	return &testConsole{api: api, handler: newHandler(logger, api, mw), jobs: jobs}
}

func (c *testConsole) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, "http://example.test"+path, reader)
	req.Header.Set("X-Request-Id", "rid-test")
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec, out
}

func (c *testConsole) createSession(t *testing.T) string {
	t.Helper()
	rec, body := c.do(t, http.MethodPost, "/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /sessions status=%d body=%s", rec.Code, rec.Body.String())
	}
	sid, _ := body["session_id"].(string)
	if sid == "" {
		t.Fatalf("missing session_id in %v", body)
	}
	return sid
}

func stringSlice(v any) []string {
	raw, _ := v.([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, _ := item.(string)
		out = append(out, s)
	}
	return out
}

func TestContractCoversRoutes(t *testing.T) {
	doc, err := loadContract(context.Background())
	if err != nil {
		t.Fatalf("loadContract() err=%v", err)
	}
	c := newTestConsole(t, []string{auth.RoleEditor}, nil, time.Hour)
	r := chi.NewRouter()
	r.Get("/healthz", handleOpenAPI)
	r.Get("/readyz", handleOpenAPI)
	r.Get("/openapi.yaml", handleOpenAPI)
	c.api.register(r)

	err = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		item := doc.Paths.Value(route)
		if item == nil {
			t.Errorf("route %s %s is not documented", method, route)
			return nil
		}
		if item.GetOperation(method) == nil {
			t.Errorf("operation %s %s is not documented", method, route)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("chi.Walk() err=%v", err)
	}
}

func TestPublicEndpoints(t *testing.T) {
	c := newTestConsole(t, nil, nil, time.Hour)
	for _, path := range []string{"/healthz", "/readyz", "/openapi.yaml"} {
		rec, _ := c.do(t, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status=%d, want 200", path, rec.Code)
		}
	}
	rec, _ := c.do(t, http.MethodGet, "/jobs", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("GET /jobs without roles status=%d, want 403", rec.Code)
	}
}

func TestViewerCannotTrigger(t *testing.T) {
	c := newTestConsole(t, []string{auth.RoleViewer}, nil, time.Hour)
	if rec, _ := c.do(t, http.MethodGet, "/jobs", nil); rec.Code != http.StatusOK {
		t.Fatalf("viewer GET /jobs status=%d, want 200", rec.Code)
	}
	rec, body := c.do(t, http.MethodPost, "/sessions", nil)
	if rec.Code != http.StatusForbidden || body["error"] != "forbidden" {
		t.Fatalf("viewer POST /sessions status=%d body=%v, want 403 forbidden", rec.Code, body)
	}
}

func TestListAndGetJobs(t *testing.T) {
	c := newTestConsole(t, []string{auth.RoleViewer}, nil, time.Hour)

	rec, body := c.do(t, http.MethodGet, "/jobs?status=failed&limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if jobs, _ := body["jobs"].([]any); len(jobs) != 2 {
		t.Fatalf("jobs=%v, want 2", body["jobs"])
	}

	cases := []struct {
		path string
		code int
		err  string
	}{
		{path: "/jobs?status=bogus", code: http.StatusBadRequest, err: "invalid_status"},
		{path: "/jobs?limit=-1", code: http.StatusBadRequest, err: "invalid_limit"},
		{path: "/jobs/abc", code: http.StatusBadRequest, err: "invalid_job_id"},
		{path: "/jobs/999", code: http.StatusNotFound, err: "job_not_found"},
	}
	for _, tc := range cases {
		rec, body := c.do(t, http.MethodGet, tc.path, nil)
		if rec.Code != tc.code || body["error"] != tc.err {
			t.Fatalf("GET %s status=%d body=%v, want %d %s", tc.path, rec.Code, body, tc.code, tc.err)
		}
		if body["request_id"] != "rid-test" {
			t.Fatalf("request_id=%v, want rid-test", body["request_id"])
		}
	}

	rec, body = c.do(t, http.MethodGet, "/jobs/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /jobs/1 status=%d", rec.Code)
	}
	pipe, _ := body["pipeline"].(map[string]any)
	if pipe["key"] != string(domain.PipelineTeradataDIAS) {
		t.Fatalf("pipeline=%v, want %s", pipe["key"], domain.PipelineTeradataDIAS)
	}
}

func TestPipelines(t *testing.T) {
	c := newTestConsole(t, []string{auth.RoleViewer}, nil, time.Hour)
	_, body := c.do(t, http.MethodGet, "/pipelines", nil)
	if p, _ := body["pipelines"].([]any); len(p) != 4 {
		t.Fatalf("pipelines=%d, want 4", len(p))
	}

	cases := []struct {
		query string
		want  domain.PipelineKey
	}{
		{query: "source_system=TERADATA&pipeline_type=DIAS2.0", want: domain.PipelineTeradataDIAS},
		{query: "source_system=CCBDL", want: domain.PipelineCCBDLDora},
		{query: "source_system=unknown", want: domain.PipelineDirectIngestion},
	}
	for _, tc := range cases {
		_, body := c.do(t, http.MethodGet, "/pipelines/resolve?"+tc.query, nil)
		if body["key"] != string(tc.want) {
			t.Fatalf("resolve %s key=%v, want %s", tc.query, body["key"], tc.want)
		}
	}
}

func TestJobStages(t *testing.T) {
	c := newTestConsole(t, []string{auth.RoleViewer}, nil, time.Hour)

	_, body := c.do(t, http.MethodGet, "/jobs/1/stages?module=SFP", nil)
	projection, _ := body["projection"].(map[string]any)
	states := stringSlice(projection["states"])
	if len(states) != 10 {
		t.Fatalf("states=%v, want 10", states)
	}
	for i, s := range states {
		want := "pending"
		switch {
		case i < 4:
			want = "completed"
		case i == 4:
			want = "failed"
		}
		if s != want {
			t.Fatalf("states[%d]=%s, want %s (%v)", i, s, want, states)
		}
	}
	if body["warning"] != nil {
		t.Fatalf("unexpected warning %v", body["warning"])
	}
	route, _ := body["route"].([]any)
	if len(route) != 3 {
		t.Fatalf("route=%v, want 3 modules", route)
	}
	if m, _ := route[1].(map[string]any); m["module"] != "SFP" || m["state"] != "failed" {
		t.Fatalf("route[1]=%v, want SFP failed", route[1])
	}

	_, body = c.do(t, http.MethodGet, "/jobs/1/stages?status=RUNNING&current_step=2", nil)
	projection, _ = body["projection"].(map[string]any)
	states = stringSlice(projection["states"])
	if states[1] != "completed" || states[2] != "running" || states[3] != "pending" {
		t.Fatalf("running states=%v", states)
	}

	_, body = c.do(t, http.MethodGet, "/jobs/1/stages?status=COMPLETED", nil)
	projection, _ = body["projection"].(map[string]any)
	for i, s := range stringSlice(projection["states"]) {
		if s != "completed" {
			t.Fatalf("completed states[%d]=%s", i, s)
		}
	}

	if rec, body := c.do(t, http.MethodGet, "/jobs/1/stages?current_step=x", nil); rec.Code != http.StatusBadRequest || body["error"] != "invalid_current_step" {
		t.Fatalf("status=%d body=%v, want invalid_current_step", rec.Code, body)
	}
}

func TestJobStagesFlagsIndexFallback(t *testing.T) {
	c := newTestConsole(t, []string{auth.RoleViewer}, nil, time.Hour)
	c.jobs = memory.NewJobStore([]domain.Job{{
		ID:                9,
		TableName:         "orphan",
		Partition:         "2025-01-01",
		Status:            domain.JobStatusFailed,
		PipelineKey:       domain.PipelineDirectIngestion,
		FailedStepID:      "no_such_step",
		MissingPartitions: []string{},
	}})
	c.api.jobs = c.jobs

	_, body := c.do(t, http.MethodGet, "/jobs/9/stages?current_step=1", nil)
	projection, _ := body["projection"].(map[string]any)
	if projection["index_fallback"] != true {
		t.Fatalf("index_fallback=%v, want true", projection["index_fallback"])
	}
	if body["warning"] == nil {
		t.Fatalf("expected warning on index fallback")
	}
	states := stringSlice(projection["states"])
	if states[0] != "completed" || states[1] != "failed" {
		t.Fatalf("states=%v", states)
	}
}

func TestJobPartitions(t *testing.T) {
	c := newTestConsole(t, []string{auth.RoleViewer}, nil, time.Hour)
	_, body := c.do(t, http.MethodGet, "/jobs/1/partitions?batch_size=99", nil)
	if body["batch_size"] != float64(4) {
		t.Fatalf("batch_size=%v, want clamp to 4", body["batch_size"])
	}
	if got := stringSlice(body["batch_partitions"]); len(got) != 4 || got[0] != "2025-07-25" {
		t.Fatalf("batch_partitions=%v", got)
	}
	timeline, _ := body["timeline"].([]any)
	if len(timeline) != 1 {
		t.Fatalf("timeline=%v, want one month", timeline)
	}
}

func TestSessionSelectionAndTrigger(t *testing.T) {
	c := newTestConsole(t, []string{auth.RoleEditor}, nil, time.Hour)
	sid := c.createSession(t)
	base := "/sessions/" + sid + "/jobs/1"

	rec, body := c.do(t, http.MethodPut, base+"/batch-size", map[string]any{"batch_size": 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("batch-size status=%d body=%s", rec.Code, rec.Body.String())
	}
	if got := stringSlice(body["partitions_to_process"]); len(got) != 3 {
		t.Fatalf("partitions_to_process=%v, want 3", got)
	}

	rec, body = c.do(t, http.MethodPost, base+"/selection", map[string]any{"action": "open"})
	if rec.Code != http.StatusOK {
		t.Fatalf("open status=%d body=%s", rec.Code, rec.Body.String())
	}
	_, body = c.do(t, http.MethodPost, base+"/selection", map[string]any{"action": "toggle", "partition": "2025-07-24"})
	if got := stringSlice(body["partitions_to_process"]); len(got) != 2 || got[0] != "2025-07-25" || got[1] != "2025-07-23" {
		t.Fatalf("after toggle partitions=%v", got)
	}

	if rec, body := c.do(t, http.MethodPost, base+"/selection", map[string]any{"action": "toggle", "partition": "1999-01-01"}); rec.Code != http.StatusBadRequest || body["error"] != "unknown_partition" {
		t.Fatalf("toggle unknown status=%d body=%v", rec.Code, body)
	}
	if rec, body := c.do(t, http.MethodPost, base+"/selection", map[string]any{"action": "shuffle"}); rec.Code != http.StatusBadRequest || body["error"] != "invalid_action" {
		t.Fatalf("bad action status=%d body=%v", rec.Code, body)
	}

	rec, body = c.do(t, http.MethodPost, base+"/preview", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview status=%d body=%s", rec.Code, rec.Body.String())
	}
	preview, _ := body["preview"].(map[string]any)
	if preview["table_name"] != "customer_data" || len(stringSlice(preview["partitions"])) != 2 {
		t.Fatalf("preview=%v", preview)
	}

	rec, body = c.do(t, http.MethodPost, base+"/trigger", map[string]any{"watch": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("trigger status=%d body=%s", rec.Code, rec.Body.String())
	}
	result, _ := body["result"].(map[string]any)
	if result["status"] != "RUNNING" || result["batch_size"] != float64(2) {
		t.Fatalf("result=%v, want RUNNING batch 2", result)
	}
	if body["watching"] != false {
		t.Fatalf("watching=%v, want false", body["watching"])
	}
	job, _ := body["job"].(map[string]any)
	if job["current_step_name"] != "Initializing" || job["retriggered_count"] != float64(2) {
		t.Fatalf("job=%v", job)
	}

	_, body = c.do(t, http.MethodGet, base+"/status", nil)
	if body["status"] != "RUNNING" {
		t.Fatalf("session status=%v, want RUNNING", body["status"])
	}
	logs, _ := body["logs"].([]any)
	if len(logs) != 2 {
		t.Fatalf("logs=%v, want 2 entries", logs)
	}
	newest, _ := logs[0].(map[string]any)
	if newest["message"] != "Job triggered successfully. Status: RUNNING" {
		t.Fatalf("newest log=%v", newest["message"])
	}

	_, body = c.do(t, http.MethodGet, "/jobs/1/triggers", nil)
	if triggers, _ := body["triggers"].([]any); len(triggers) != 1 {
		t.Fatalf("triggers=%v, want 1", body["triggers"])
	}
}

func TestTriggerRejects(t *testing.T) {
	c := newTestConsole(t, []string{auth.RoleEditor}, nil, time.Hour)
	sid := c.createSession(t)
	base := "/sessions/" + sid + "/jobs/2"

	c.do(t, http.MethodPost, base+"/selection", map[string]any{"action": "deselect_all"})
	rec, body := c.do(t, http.MethodPost, base+"/trigger", nil)
	if rec.Code != http.StatusBadRequest || body["error"] != "partitions_required" {
		t.Fatalf("empty selection status=%d body=%v", rec.Code, body)
	}

	rec, body = c.do(t, http.MethodPost, base+"/trigger", map[string]any{"partitions": []string{"2030-01-01"}})
	if rec.Code != http.StatusBadRequest || body["error"] != "unknown_partition" {
		t.Fatalf("unknown partition status=%d body=%v", rec.Code, body)
	}

	rec, body = c.do(t, http.MethodPost, base+"/trigger", map[string]any{"bogus": true})
	if rec.Code != http.StatusBadRequest || body["error"] != "invalid_json" {
		t.Fatalf("unknown field status=%d body=%v", rec.Code, body)
	}

	rec, body = c.do(t, http.MethodPost, "/sessions/nope/jobs/2/trigger", nil)
	if rec.Code != http.StatusNotFound || body["error"] != "session_not_found" {
		t.Fatalf("unknown session status=%d body=%v", rec.Code, body)
	}
}

func TestTriggerFailureBecomesError(t *testing.T) {
	c := newTestConsole(t, []string{auth.RoleEditor}, func(s trigger.Service) trigger.Service {
		return failingService{Service: s}
	}, time.Hour)
	sid := c.createSession(t)

	rec, body := c.do(t, http.MethodPost, "/sessions/"+sid+"/jobs/4/trigger", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	result, _ := body["result"].(map[string]any)
	if result["status"] != "ERROR" || result["message"] != "backend unavailable" {
		t.Fatalf("result=%v, want ERROR", result)
	}
	if body["watching"] != false {
		t.Fatalf("a failed trigger must not be watched")
	}

	_, body = c.do(t, http.MethodGet, "/sessions/"+sid+"/jobs/4/status", nil)
	logs, _ := body["logs"].([]any)
	newest, _ := logs[0].(map[string]any)
	if newest["message"] != "Error triggering job: backend unavailable" {
		t.Fatalf("newest log=%v", newest["message"])
	}

	// An ERROR result is final, so a new trigger is allowed.
	if rec, _ := c.do(t, http.MethodPost, "/sessions/"+sid+"/jobs/4/trigger", nil); rec.Code != http.StatusOK {
		t.Fatalf("retrigger status=%d, want 200", rec.Code)
	}
}

func TestWatchFoldsReportsIntoSession(t *testing.T) {
	svc := &completingService{}
	c := newTestConsole(t, []string{auth.RoleAdmin}, func(s trigger.Service) trigger.Service {
		svc.Service = s
		return svc
	}, time.Millisecond)
	sid := c.createSession(t)

	rec, body := c.do(t, http.MethodPost, "/sessions/"+sid+"/jobs/3/trigger", nil)
	if rec.Code != http.StatusOK || body["watching"] != true {
		t.Fatalf("trigger status=%d body=%v", rec.Code, body)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		job, err := c.jobs.GetJob(context.Background(), 3)
		if err != nil {
			t.Fatalf("GetJob err=%v", err)
		}
		if job.Status == domain.JobStatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job status=%s, want COMPLETED after watch", job.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, body = c.do(t, http.MethodGet, "/sessions/"+sid+"/jobs/3/status", nil)
	job, _ := body["job"].(map[string]any)
	if body["status"] != "COMPLETED" || job["current_step_name"] != "Completed" {
		t.Fatalf("status=%v step=%v", body["status"], job["current_step_name"])
	}
	if body["watching"] != false {
		t.Fatalf("watch should end at COMPLETED")
	}
}

func TestStatusProjectsReportedFailedStep(t *testing.T) {
	c := newTestConsole(t, []string{auth.RoleEditor}, func(s trigger.Service) trigger.Service {
		return failedAtService{Service: s, step: "verify"}
	}, time.Hour)
	sid := c.createSession(t)

	if rec, _ := c.do(t, http.MethodPost, "/sessions/"+sid+"/jobs/1/trigger", map[string]any{"watch": false}); rec.Code != http.StatusOK {
		t.Fatalf("trigger status=%d body=%s", rec.Code, rec.Body.String())
	}

	_, body := c.do(t, http.MethodGet, "/sessions/"+sid+"/jobs/1/status?refresh=true", nil)
	if body["status"] != "FAILED" {
		t.Fatalf("status=%v, want FAILED", body["status"])
	}
	job, _ := body["job"].(map[string]any)
	if job["failed_step_id"] != "verify" || job["current_step"] != float64(9) {
		t.Fatalf("job failed_step_id=%v current_step=%v, want verify at 9", job["failed_step_id"], job["current_step"])
	}
	stages, _ := body["stages"].(map[string]any)
	projection, _ := stages["projection"].(map[string]any)
	states := stringSlice(projection["states"])
	if len(states) != 10 {
		t.Fatalf("states=%v, want 10", states)
	}
	for i, s := range states {
		want := "completed"
		if i == 9 {
			want = "failed"
		}
		if s != want {
			t.Fatalf("states[%d]=%s, want %s (%v)", i, s, want, states)
		}
	}
	if stages["warning"] != nil {
		t.Fatalf("unexpected warning %v", stages["warning"])
	}
}

func TestStopWatches(t *testing.T) {
	c := newTestConsole(t, []string{auth.RoleAdmin}, nil, time.Hour)
	sid := c.createSession(t)
	other := c.createSession(t)

	for _, s := range []string{sid, other} {
		if rec, _ := c.do(t, http.MethodPost, "/sessions/"+s+"/jobs/1/trigger", nil); rec.Code != http.StatusOK {
			t.Fatalf("trigger status=%d", rec.Code)
		}
	}
	_, body := c.do(t, http.MethodGet, "/watches", nil)
	if w, _ := body["watches"].([]any); len(w) != 2 {
		t.Fatalf("watches=%v, want 2", body["watches"])
	}

	if rec, _ := c.do(t, http.MethodDelete, "/sessions/"+sid+"/jobs/1/watch", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("stop watch status=%d, want 204", rec.Code)
	}
	if rec, body := c.do(t, http.MethodDelete, "/sessions/"+sid+"/jobs/1/watch", nil); rec.Code != http.StatusNotFound || body["error"] != "watch_not_found" {
		t.Fatalf("second stop status=%d body=%v", rec.Code, body)
	}

	_, body = c.do(t, http.MethodDelete, "/watches/1", nil)
	if body["stopped"] != float64(1) {
		t.Fatalf("stopped=%v, want 1", body["stopped"])
	}

	if rec, _ := c.do(t, http.MethodDelete, "/sessions/"+other, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete session status=%d", rec.Code)
	}
	if rec, _ := c.do(t, http.MethodGet, "/sessions/"+other, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("deleted session status=%d, want 404", rec.Code)
	}
}

func TestEditorCannotStopAllWatches(t *testing.T) {
	c := newTestConsole(t, []string{auth.RoleEditor}, nil, time.Hour)
	if rec, _ := c.do(t, http.MethodDelete, "/watches/1", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", rec.Code)
	}
}

func TestAuthorize(t *testing.T) {
	cases := []struct {
		method string
		path   string
		role   string
		allow  bool
	}{
		{http.MethodGet, "/watches", auth.RoleViewer, true},
		{http.MethodDelete, "/watches/1", auth.RoleEditor, false},
		{http.MethodDelete, "/watches/1", auth.RoleAdmin, true},
		{http.MethodDelete, "/sessions/s/jobs/1/watch", auth.RoleEditor, true},
		{http.MethodPost, "/sessions", auth.RoleViewer, false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "http://example.test"+tc.path, nil)
		err := authorize(req, auth.Identity{Subject: "op", Roles: []string{tc.role}})
		if (err == nil) != tc.allow {
			t.Fatalf("authorize(%s %s, %s) err=%v, want allow=%v", tc.method, tc.path, tc.role, err, tc.allow)
		}
		if err != nil && !errors.Is(err, auth.ErrForbidden) {
			t.Fatalf("err=%v, want ErrForbidden", err)
		}
	}
}

func TestCheckPartitions(t *testing.T) {
	job := domain.Job{Partition: "a", MissingPartitions: []string{"b", "c"}}
	got, err := checkPartitions(job, []string{" b", "a", "b"})
	if err != nil || len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("got=%v err=%v", got, err)
	}
	if _, err := checkPartitions(job, []string{"z"}); err == nil {
		t.Fatalf("expected error for unknown partition")
	}
	if got, err := checkPartitions(job, nil); got != nil || err != nil {
		t.Fatalf("nil input got=%v err=%v", got, err)
	}
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest("POST", "http://example.test/", strings.NewReader("{\"action\":\"open\"} {}"))
	var dst selectionRequest
	if err := decodeJSON(req, &dst); err == nil {
		t.Fatalf("expected error for multiple values")
	}
	req = httptest.NewRequest("POST", "http://example.test/", strings.NewReader(""))
	if err := decodeOptionalJSON(req, &dst); err != nil {
		t.Fatalf("empty body err=%v", err)
	}
}

var _ repo.JobRepository = (*memory.JobStore)(nil)
