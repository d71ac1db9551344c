// Package handler provides HTTP handlers for the Firewatch API.
package handler

import (
	"net/http"
	"time"

	"github.com/firewatch/firewatch/internal/api/middleware"
	"github.com/firewatch/firewatch/internal/api/models"
	"github.com/firewatch/firewatch/internal/api/response"
	"github.com/firewatch/firewatch/internal/datasync"
	"github.com/firewatch/firewatch/internal/provider/resilience"
)

// Degradation flags reported by SystemStatus.
const (
	FlagServingPrevious = "SERVING_PREVIOUS_DATA"
	FlagServingCache    = "SERVING_CACHED_DATA"
	FlagServingFallback = "SERVING_FALLBACK_DATA"
	FlagStaleData       = "STALE_DATA"
)

// StateSource exposes the published fire-risk state.
type StateSource interface {
	State() datasync.State
}

// OpsConfig holds configuration for the OpsHandler.
type OpsConfig struct {
	Version      string
	BuildTime    string
	State        StateSource
	Registry     *resilience.Registry
	CacheBackend string
	Now          func() time.Time
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version      string
	buildTime    string
	state        StateSource
	registry     *resilience.Registry
	cacheBackend string
	now          func() time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &OpsHandler{
		version:      cfg.Version,
		buildTime:    cfg.BuildTime,
		state:        cfg.State,
		registry:     cfg.Registry,
		cacheBackend: cfg.CacheBackend,
		now:          now,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready. The service is ready once any
// dataset, live, cached or bundled, has been published.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	state := h.state.State()
	if !state.HasData() {
		problem := models.NewServiceUnavailable(middleware.GetRequestID(r.Context()), "no fire-risk data published yet").
			WithCode(state.ErrorCode)
		response.Error(w, r, problem)
		return
	}

	status := models.HealthStatusOK
	if state.Status == datasync.StatusDegraded {
		status = models.HealthStatusDegraded
	}
	health := models.Health{
		Status: status,
		Time:   models.Timestamp(h.now()),
		Details: map[string]interface{}{
			"source":  string(state.Source),
			"records": len(state.Data),
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - provider and subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	state := h.state.State()

	status := models.SystemStatus{
		Time: models.Timestamp(h.now()),
		Dataset: models.DatasetStatus{
			Source:      string(state.Source),
			Records:     len(state.Data),
			LastUpdated: state.LastUpdated,
			Stale:       state.Stale,
			CachedAt:    models.TimestampPtr(state.CachedAt),
			ErrorCode:   state.ErrorCode,
		},
		Subsystems: []models.SubsystemStatus{datasetStatus(state), h.cacheStatus()},
		Providers:  h.providerStatuses(),
	}
	status.ActiveDegradationFlags = degradationFlags(state)

	status.Status = models.HealthStatusOK
	for _, s := range status.Subsystems {
		status.Status = worst(status.Status, s.Status)
	}
	for _, p := range status.Providers {
		status.Status = worst(status.Status, p.Status)
	}

	response.JSON(w, r, http.StatusOK, status)
}

func datasetStatus(state datasync.State) models.SubsystemStatus {
	s := models.SubsystemStatus{Name: "dataset"}
	switch {
	case state.Status == datasync.StatusReady:
		s.Status = models.HealthStatusOK
	case state.HasData(), state.Status == datasync.StatusLoading, state.Status == datasync.StatusIdle:
		s.Status = models.HealthStatusDegraded
	default:
		s.Status = models.HealthStatusFail
	}
	if state.Error != "" {
		detail := state.Error
		s.Detail = &detail
	}
	return s
}

func (h *OpsHandler) cacheStatus() models.SubsystemStatus {
	detail := h.cacheBackend
	if detail == "" {
		detail = "none"
	}
	return models.SubsystemStatus{Name: "cache", Status: models.HealthStatusOK, Detail: &detail}
}

func (h *OpsHandler) providerStatuses() []models.ProviderStatus {
	if h.registry == nil {
		return []models.ProviderStatus{}
	}

	snapshot := h.registry.Snapshot()
	out := make([]models.ProviderStatus, 0, len(snapshot))
	for _, ph := range snapshot {
		ps := models.ProviderStatus{
			Provider:            ph.Name,
			Status:              models.HealthStatusOK,
			Circuit:             string(ph.Circuit),
			ConsecutiveFailures: ph.ConsecutiveFailures,
			LastSuccessAt:       models.TimestampPtr(ph.LastSuccessAt),
			LastFailureAt:       models.TimestampPtr(ph.LastFailureAt),
		}
		switch ph.Circuit {
		case resilience.CircuitOpen:
			ps.Status = models.HealthStatusFail
		case resilience.CircuitHalfOpen:
			ps.Status = models.HealthStatusDegraded
		}
		if ph.LastError != "" {
			msg := ph.LastError
			ps.Message = &msg
		}
		out = append(out, ps)
	}
	return out
}

func degradationFlags(state datasync.State) []string {
	var flags []string
	switch state.Source {
	case datasync.SourcePrevious:
		flags = append(flags, FlagServingPrevious)
	case datasync.SourceCache:
		flags = append(flags, FlagServingCache)
	case datasync.SourceFallback:
		flags = append(flags, FlagServingFallback)
	}
	if state.Stale {
		flags = append(flags, FlagStaleData)
	}
	return flags
}

func worst(a, b models.HealthStatus) models.HealthStatus {
	rank := func(s models.HealthStatus) int {
		switch s {
		case models.HealthStatusFail:
			return 2
		case models.HealthStatusDegraded:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
