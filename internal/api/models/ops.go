package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus represents the overall status of the photo storage path.
type SystemStatus struct {
	Status      HealthStatus    `json:"status"`
	Time        Timestamp       `json:"time"`
	Initialized bool            `json:"initialized"`
	Stores      []StoreStatus   `json:"stores"`
	Breakers    []BreakerStatus `json:"breakers"`
	Build       *BuildInfo      `json:"build,omitempty"`
}

// StoreStatus is the cached health of one object store.
type StoreStatus struct {
	Name        string       `json:"name"`
	Status      HealthStatus `json:"status"`
	Configured  bool         `json:"configured"`
	LastChecked *Timestamp   `json:"lastChecked,omitempty"`
	Error       *string      `json:"error,omitempty"`
}

// BreakerStatus is a circuit breaker snapshot.
type BreakerStatus struct {
	Name            string     `json:"name"`
	State           string     `json:"state"`
	Failures        int        `json:"failures"`
	Successes       int        `json:"successes"`
	LastFailureAt   *Timestamp `json:"lastFailureAt,omitempty"`
	NextAttemptTime *Timestamp `json:"nextAttemptTime,omitempty"`
}

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"buildTime,omitempty"`
}

// StorageResetResult is returned after the storage resilience state is cleared.
type StorageResetResult struct {
	Reset    bool            `json:"reset"`
	Breakers []BreakerStatus `json:"breakers"`
}
