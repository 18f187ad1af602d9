package httpserver

import (
	"net/http"
	"time"

	"github.com/CedrosPay/checkout/pkg/responders"
)

type healthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Storage string `json:"storage"`
	Error   string `json:"error,omitempty"`
}

// healthz handles GET /healthz. It reports 503 while the storage backend is unreachable.
func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Uptime:  time.Since(serverStartTime).Round(time.Second).String(),
		Storage: h.cfg.Storage.Backend,
	}
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Error = err.Error()
			responders.JSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	responders.JSON(w, http.StatusOK, resp)
}
