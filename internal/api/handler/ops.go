// Package handler provides HTTP handlers for the routepulse API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/routepulse/routepulse/internal/api/models"
	"github.com/routepulse/routepulse/internal/api/response"
	"github.com/routepulse/routepulse/internal/upstream"
)

// readinessTimeout bounds each dependency check.
const readinessTimeout = 2 * time.Second

// ReadinessCheck is one dependency checked by the readiness endpoint.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// BuildInfo identifies the running binary on the liveness endpoint.
type BuildInfo struct {
	Version   string
	BuildTime string
	Mode      string
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	build  BuildInfo
	checks []ReadinessCheck
	health *upstream.Health
}

// NewOpsHandler creates a new OpsHandler. health may be nil when no upstream
// source is configured.
func NewOpsHandler(build BuildInfo, health *upstream.Health, checks ...ReadinessCheck) *OpsHandler {
	return &OpsHandler{build: build, checks: checks, health: health}
}

// HealthCheck handles GET /v1/ops/health. It never touches dependencies.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(time.Now()),
		Version:   h.build.Version,
		BuildTime: h.build.BuildTime,
		Mode:      h.build.Mode,
	})
}

// ReadinessCheck handles GET /v1/ops/ready. An unhealthy upstream source only
// degrades the check since cached results can still be served.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	status := models.Readiness{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Subsystems: make([]models.SubsystemStatus, 0, len(h.checks)),
	}

	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		err := c.Check(ctx)
		cancel()

		sub := models.SubsystemStatus{Name: c.Name, Status: models.HealthStatusOK}
		if err != nil {
			detail := err.Error()
			sub.Status = models.HealthStatusFail
			sub.Detail = &detail
			status.Status = models.HealthStatusFail
		}
		status.Subsystems = append(status.Subsystems, sub)
	}

	if h.health != nil {
		for _, src := range h.health.All() {
			s := sourceStatus(src)
			if s.Status != models.HealthStatusOK && status.Status == models.HealthStatusOK {
				status.Status = models.HealthStatusDegraded
			}
			status.Sources = append(status.Sources, s)
		}
	}

	code := http.StatusOK
	if status.Status == models.HealthStatusFail {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, status)
}

func sourceStatus(src upstream.SourceHealth) models.SourceStatus {
	out := models.SourceStatus{
		Source:              src.Name,
		Requests:            src.Counts.Requests,
		ConsecutiveFailures: src.Counts.ConsecutiveFailures,
	}
	switch src.Status {
	case upstream.StatusUp:
		out.Status = models.HealthStatusOK
	case upstream.StatusDegraded:
		out.Status = models.HealthStatusDegraded
	default:
		out.Status = models.HealthStatusFail
	}
	if src.LastSuccessAt != nil {
		ts := models.Timestamp(*src.LastSuccessAt)
		out.LastSuccessAt = &ts
	}
	if src.LastFailureAt != nil {
		ts := models.Timestamp(*src.LastFailureAt)
		out.LastFailureAt = &ts
	}
	if src.LastError != "" {
		msg := src.LastError
		out.Message = &msg
	}
	return out
}
