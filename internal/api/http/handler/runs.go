package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stadtnetz/lorabulk/internal/api/http/dto"
	"github.com/stadtnetz/lorabulk/internal/bulk"
	"github.com/stadtnetz/lorabulk/internal/dataset"
	"github.com/stadtnetz/lorabulk/internal/keymap"
	"github.com/stadtnetz/lorabulk/internal/reports"
	"github.com/stadtnetz/lorabulk/internal/settings"
)

type RunsHandler struct {
	jobs    *JobManager
	store   *settings.Store
	factory RegistryFactory
	reports *reports.Service
}

func NewRunsHandler(jobs *JobManager, store *settings.Store, factory RegistryFactory, reportsService *reports.Service) *RunsHandler {
	return &RunsHandler{
		jobs:    jobs,
		store:   store,
		factory: factory,
		reports: reportsService,
	}
}

// Start builds a job from a parsed upload and launches it.
func (h *RunsHandler) Start(c *gin.Context) {
	var req dto.StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.store.Configured() {
		c.JSON(http.StatusConflict, gin.H{"error": settings.ErrNotConfigured.Error()})
		return
	}

	data, err := h.jobs.GetUpload(req.UploadID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	tbl := pickTable(data, req.Table)
	if tbl == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "table not found"})
		return
	}

	version, err := keymap.ParseVersion(req.MACVersion)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := h.store.Get()
	defaults := dataset.Defaults{
		ApplicationID:   req.ApplicationID,
		DeviceProfileID: req.DeviceProfileID,
	}
	if defaults.ApplicationID == "" {
		defaults.ApplicationID = cfg.DefaultApplicationID
	}
	if defaults.DeviceProfileID == "" {
		defaults.DeviceProfileID = cfg.DefaultDeviceProfileID
	}

	records, rowErrs := dataset.BuildRecords(*tbl, fromMappingDTO(req.Mapping), defaults)
	if len(records) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "no usable rows in table",
			"row_errors": rowErrStrings(rowErrs),
		})
		return
	}

	conn, err := h.factory(cfg)
	if err != nil {
		slog.Error("Failed to dial registry", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "registry connection failed: " + err.Error()})
		return
	}

	policy := bulk.DuplicatePolicy(req.DuplicatePolicy)
	if policy == "" {
		policy = bulk.DuplicateSkip
	}

	job := bulk.Job{
		Records:     records,
		Policy:      policy,
		Version:     version,
		Concurrency: req.Concurrency,
		Tags:        req.Tags,
	}

	runner := bulk.NewRunner(conn, slog.Default())
	exec, err := runner.Run(context.Background(), job)
	if err != nil {
		conn.Close()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runID := h.jobs.AddRun(exec, len(records))

	if h.reports.Enabled() {
		run := reports.Run{
			ID:              runID,
			SourceFile:      data.Filename,
			MACVersion:      string(version),
			DuplicatePolicy: string(job.Policy),
			Concurrency:     job.Concurrency,
			Total:           len(records),
			StartedAt:       time.Now(),
		}
		if err := h.reports.CreateRun(c.Request.Context(), run); err != nil {
			slog.Error("Failed to record run start", "run_id", runID, "error", err)
		}
	}

	go h.finish(runID, exec, conn)

	slog.Info("Run started", "run_id", runID, "devices", len(records), "policy", job.Policy)
	c.JSON(http.StatusAccepted, dto.StartRunResponse{
		RunID:     runID,
		Total:     len(records),
		Policy:    string(job.Policy),
		RowErrors: rowErrStrings(rowErrs),
	})
}

// finish waits out the run, persists the report and closes the registry
// connection.
func (h *RunsHandler) finish(runID string, exec *bulk.Execution, conn RegistryConn) {
	report := exec.Wait()
	conn.Close()

	if h.reports.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.reports.FinishRun(ctx, runID, report); err != nil {
			slog.Error("Failed to persist run report", "run_id", runID, "error", err)
		}
	}
}

// Events streams progress snapshots as server-sent events until the run
// completes or the client goes away.
func (h *RunsHandler) Events(c *gin.Context) {
	exec, err := h.jobs.GetRun(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	snapshots := exec.Subscribe()
	c.SSEvent("progress", exec.Progress())
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			c.SSEvent("progress", snap)
			c.Writer.Flush()
			if snap.Done {
				return
			}
		}
	}
}

func (h *RunsHandler) Get(c *gin.Context) {
	runID := c.Param("id")
	exec, err := h.jobs.GetRun(runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	resp := dto.RunStatusResponse{RunID: runID, Progress: exec.Progress()}
	select {
	case <-exec.Done():
		resp.Results = exec.Wait().Results
	default:
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RunsHandler) Cancel(c *gin.Context) {
	exec, err := h.jobs.GetRun(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	exec.Cancel()
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

// History lists persisted runs, newest first.
func (h *RunsHandler) History(c *gin.Context) {
	if !h.reports.Enabled() {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "run history requires a database"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.reports.ListRuns(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *RunsHandler) HistoryDetail(c *gin.Context) {
	if !h.reports.Enabled() {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "run history requires a database"})
		return
	}

	detail, err := h.reports.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, reports.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		slog.Error("Failed to load run", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	c.JSON(http.StatusOK, detail)
}

func rowErrStrings(errs []dataset.RowError) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.String())
	}
	return out
}
