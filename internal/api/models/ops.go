package models

// Health is the body of the liveness and readiness probes.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus is the operator view of GET /v1/ops/status. Status is the
// worst of the subsystem and provider statuses.
type SystemStatus struct {
	Status                 HealthStatus      `json:"status"`
	Time                   Timestamp         `json:"time"`
	Dataset                DatasetStatus     `json:"dataset"`
	Subsystems             []SubsystemStatus `json:"subsystems"`
	Providers              []ProviderStatus  `json:"providers"`
	ActiveDegradationFlags []string          `json:"activeDegradationFlags,omitempty"`
}

// DatasetStatus summarises the published fire-risk dataset.
type DatasetStatus struct {
	Source      string     `json:"source,omitempty"`
	Records     int        `json:"records"`
	LastUpdated string     `json:"lastUpdated,omitempty"`
	Stale       bool       `json:"stale"`
	CachedAt    *Timestamp `json:"cachedAt,omitempty"`
	ErrorCode   string     `json:"errorCode,omitempty"`
}

type SubsystemStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}

// ProviderStatus reports one upstream and its circuit breaker. Circuit is
// "closed", "half-open" or "open".
type ProviderStatus struct {
	Provider            string       `json:"provider"`
	Status              HealthStatus `json:"status"`
	Circuit             string       `json:"circuit"`
	ConsecutiveFailures uint32       `json:"consecutiveFailures"`
	LastSuccessAt       *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *Timestamp   `json:"lastFailureAt,omitempty"`
	Message             *string      `json:"message,omitempty"`
}
