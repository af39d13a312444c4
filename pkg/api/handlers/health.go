package handlers

import (
	"context"
	"net/http"
	"time"
)

// Check is one readiness probe, e.g. the operation engine or the database.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// ComponentHealth is the result of one Check.
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checks []Check
}

// NewHealthHandler creates a health handler. With no checks the member is
// never ready.
func NewHealthHandler(checks ...Check) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Liveness handles GET /health. It succeeds whenever the HTTP server answers.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "clustergate",
	}))
}

// Readiness handles GET /health/ready. It runs every check with a shared 5s
// budget and answers 503 when any fails.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if len(h.checks) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("no readiness checks registered"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results := make([]ComponentHealth, 0, len(h.checks))
	allHealthy := true
	for _, c := range h.checks {
		start := time.Now()
		err := c.Fn(ctx)

		health := ComponentHealth{Name: c.Name, Status: "healthy", Latency: time.Since(start).String()}
		if err != nil {
			health.Status = "unhealthy"
			health.Error = err.Error()
			allHealthy = false
		}
		results = append(results, health)
	}

	if allHealthy {
		writeJSON(w, http.StatusOK, healthyResponse(results))
	} else {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(results))
	}
}
