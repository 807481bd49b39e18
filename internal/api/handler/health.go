package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/batchflow/internal/api/response"
)

// Pinger is anything whose liveness the health endpoint reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// NewHealthHandler reports liveness of the named components. The endpoint
// answers 200 as long as the process is up; component state is in the body.
func NewHealthHandler(components map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := healthStatus{
			Status:     "ok",
			Components: make(map[string]string, len(components)),
		}
		for name, p := range components {
			if err := p.Ping(ctx); err != nil {
				status.Components[name] = "unavailable"
				status.Status = "degraded"
			} else {
				status.Components[name] = "ok"
			}
		}

		response.JSON(w, status)
	}
}
