package handlers

import (
	"context"
	"net/http"

	"github.com/kestrelhq/warden/internal/circuit"
	pkghttp "github.com/kestrelhq/warden/pkg/http"
)

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler reports process and dependency health
type HealthHandler struct {
	db       HealthChecker
	breakers *circuit.Registry
}

func NewHealthHandler(db HealthChecker, breakers *circuit.Registry) *HealthHandler {
	return &HealthHandler{db: db, breakers: breakers}
}

// HealthResponse represents the health check payload
type HealthResponse struct {
	Status   string                   `json:"status"`
	Database string                   `json:"database"`
	Circuits map[string]circuit.State `json:"circuits"`
}

// Health returns 200 when the database answers and no circuit is open,
// 503 otherwise.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Database: "ok",
	}
	code := http.StatusOK

	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}

	if h.breakers != nil {
		resp.Circuits = h.breakers.States()
		for _, state := range resp.Circuits {
			if state == circuit.StateOpen {
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
	}

	pkghttp.WriteJSON(w, code, resp)
}
