package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/faithconnect/member-service/shared/utils"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthStatus struct {
	Status     string                     `json:"status"`
	Service    string                     `json:"service"`
	Components map[string]componentHealth `json:"components"`
}

// HealthHandler reports 200 when every check passes and 503 otherwise
func HealthHandler(service string, checks map[string]HealthCheck) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{
			Status:     "healthy",
			Service:    service,
			Components: make(map[string]componentHealth, len(checks)),
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				status.Components[name] = componentHealth{Status: "unhealthy", Error: err.Error()}
				status.Status = "unhealthy"
				continue
			}
			status.Components[name] = componentHealth{Status: "healthy"}
		}

		statusCode := http.StatusOK
		if status.Status != "healthy" {
			statusCode = http.StatusServiceUnavailable
		}
		utils.RespondWithJSON(w, statusCode, status)
	})
}
