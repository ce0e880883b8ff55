package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/mbme/arhiv-sub000/pkg/manager"
)

// HealthStatus represents the health status of one archive.
type HealthStatus struct {
	Status    string    `json:"status"` // "healthy", "degraded", "unhealthy", "ready", "not_ready"
	Timestamp time.Time `json:"timestamp"`
	Unlocked  bool      `json:"unlocked"`
	Conflicts int       `json:"conflicts,omitempty"`
	Message   string    `json:"message,omitempty"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
}

var (
	startTime = time.Now()

	versionMu sync.RWMutex
	version   string
)

// SetVersion sets the version string reported by health responses.
func SetVersion(v string) {
	versionMu.Lock()
	defer versionMu.Unlock()
	version = v
}

func getVersion() string {
	versionMu.RLock()
	defer versionMu.RUnlock()
	return version
}

// Health reports the archive's live condition: locked archives are
// unhealthy, unresolved conflicts degrade it, otherwise it's healthy.
func Health(mgr *manager.Manager) HealthStatus {
	status := HealthStatus{
		Timestamp: time.Now(),
		Version:   getVersion(),
		Uptime:    time.Since(startTime).String(),
	}

	if !mgr.IsUnlocked() {
		status.Status = "unhealthy"
		status.Message = "archive is locked"
		return status
	}
	status.Unlocked = true

	rg, err := mgr.Open()
	if err != nil {
		status.Status = "unhealthy"
		status.Message = err.Error()
		return status
	}
	defer rg.Close()

	status.Conflicts = len(rg.IterConflicts())
	switch {
	case status.Conflicts > 0:
		status.Status = "degraded"
		status.Message = "unresolved conflicts are pending a commit"
	default:
		status.Status = "healthy"
	}
	return status
}

// Readiness reports whether mgr can currently accept reads and writes.
// Unlike Health, a conflict backlog does not block readiness - only a
// locked archive does.
func Readiness(mgr *manager.Manager) HealthStatus {
	status := HealthStatus{
		Timestamp: time.Now(),
		Version:   getVersion(),
		Uptime:    time.Since(startTime).String(),
	}

	if !mgr.IsUnlocked() {
		status.Status = "not_ready"
		status.Message = "archive is locked"
		return status
	}
	status.Unlocked = true
	status.Status = "ready"
	return status
}

// HealthHandler serves /health off mgr's live state.
func HealthHandler(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := Health(mgr)

		w.Header().Set("Content-Type", "application/json")
		statusCode := http.StatusOK
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(health)
	}
}

// ReadyHandler serves /ready off mgr's live state.
func ReadyHandler(mgr *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := Readiness(mgr)

		w.Header().Set("Content-Type", "application/json")
		statusCode := http.StatusOK
		if readiness.Status != "ready" {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(readiness)
	}
}

// LivenessHandler returns a simple liveness check (always 200 while the
// process is running - it reports nothing about mgr).
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(startTime).String(),
		})
	}
}
