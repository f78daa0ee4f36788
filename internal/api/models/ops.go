package models

// HealthStatus is the state reported by the ops checks.
type HealthStatus string

// Probe states.
const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)

// Health is the liveness document served on /v1/ops/health.
type Health struct {
	Status    HealthStatus `json:"status"`
	Time      Timestamp    `json:"time"`
	Version   string       `json:"version"`
	BuildTime string       `json:"buildTime,omitempty"`
	// Mode is the timestamp encoding the service reads records with, "demo"
	// or "live".
	Mode string `json:"mode,omitempty"`
}

// Readiness is served on /v1/ops/ready. A failing subsystem fails the check;
// record sources only degrade it.
type Readiness struct {
	Status     HealthStatus      `json:"status"`
	Time       Timestamp         `json:"time"`
	Subsystems []SubsystemStatus `json:"subsystems"`
	Sources    []SourceStatus    `json:"sources,omitempty"`
}

// SubsystemStatus is the result of one readiness check, such as the database
// or the Redis cache.
type SubsystemStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}

// SourceStatus reports an upstream record source and its circuit breaker.
type SourceStatus struct {
	Source              string       `json:"source"`
	Status              HealthStatus `json:"status"`
	Requests            uint32       `json:"requests"`
	ConsecutiveFailures uint32       `json:"consecutiveFailures"`
	LastSuccessAt       *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *Timestamp   `json:"lastFailureAt,omitempty"`
	Message             *string      `json:"message,omitempty"`
}
