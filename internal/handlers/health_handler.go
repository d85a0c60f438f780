package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/nuntius/internal/common"
	"github.com/ternarybob/nuntius/internal/interfaces"
)

// HealthHandler answers liveness probes with per-component status.
type HealthHandler struct {
	storage   interfaces.StorageManager
	ml        interfaces.MLClient
	scheduler interfaces.SchedulerService
	ingest    interfaces.IngestService
	logger    arbor.ILogger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(
	storage interfaces.StorageManager,
	ml interfaces.MLClient,
	scheduler interfaces.SchedulerService,
	ingest interfaces.IngestService,
	logger arbor.ILogger,
) *HealthHandler {
	return &HealthHandler{
		storage:   storage,
		ml:        ml,
		scheduler: scheduler,
		ingest:    ingest,
		logger:    logger,
	}
}

// componentStatus is one entry in the healthz components map.
type componentStatus struct {
	Status  string      `json:"status"`
	Detail  string      `json:"detail,omitempty"`
	Breaker string      `json:"breaker,omitempty"`
	Jobs    interface{} `json:"jobs,omitempty"`
	LastRun interface{} `json:"last_run,omitempty"`
}

// jobInfo is the wire shape of one scheduled job in healthz.
type jobInfo struct {
	Enabled   bool       `json:"enabled"`
	Schedule  string     `json:"schedule"`
	IsRunning bool       `json:"is_running"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// HealthzHandler handles GET /healthz. The answer is 200 while the
// process can serve reads; storage failure is the only 503. An open ML
// breaker degrades the status but the feed still serves fallbacks.
func (h *HealthHandler) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	status := "ok"
	httpStatus := http.StatusOK
	components := map[string]componentStatus{}

	// Storage: a cheap read proves the database answers.
	if _, err := h.storage.SourceStorage().ListSources(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Health check storage read failed")
		components["storage"] = componentStatus{Status: "down", Detail: "storage read failed"}
		status = "down"
		httpStatus = http.StatusServiceUnavailable
	} else {
		components["storage"] = componentStatus{Status: "ok"}
	}

	// ML: the breaker position is the passive health signal, so probes
	// never hit the remote service.
	breaker := h.ml.State()
	mlStatus := componentStatus{Status: "ok", Breaker: string(breaker)}
	if breaker != interfaces.BreakerClosed {
		mlStatus.Status = "degraded"
		if status == "ok" {
			status = "degraded"
		}
	}
	components["ml"] = mlStatus

	// Scheduler: running flag plus per-job state.
	schedulerStatus := componentStatus{Status: "ok"}
	if !h.scheduler.IsRunning() {
		schedulerStatus.Status = "stopped"
		if status == "ok" {
			status = "degraded"
		}
	}
	jobs := map[string]jobInfo{}
	for name, job := range h.scheduler.GetAllJobStatuses() {
		jobs[name] = jobInfo{
			Enabled:   job.Enabled,
			Schedule:  job.Schedule,
			IsRunning: job.IsRunning,
			LastRun:   job.LastRun,
			NextRun:   job.NextRun,
			LastError: job.LastError,
		}
	}
	schedulerStatus.Jobs = jobs
	components["scheduler"] = schedulerStatus

	// Ingest: the last completed run, or idle before the first one.
	if last := h.ingest.LastResult(); last != nil {
		components["ingest"] = componentStatus{Status: "ok", LastRun: last}
	} else {
		components["ingest"] = componentStatus{Status: "idle"}
	}

	WriteJSON(w, httpStatus, map[string]interface{}{
		"status":     status,
		"version":    common.GetVersion(),
		"components": components,
	})
}
