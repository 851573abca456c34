// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/mem"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version  string
	breaker  func() string
	sessions func() int
}

// NewHealthHandler creates a new health handler. breaker reports the
// analytics collector state and may be nil.
func NewHealthHandler(version string, breaker func() string, sessions func() int) HealthHandler {
	return &HealthHandlerImpl{
		version:  version,
		breaker:  breaker,
		sessions: sessions,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp["memory"] = map[string]interface{}{
			"total":       vm.Total,
			"available":   vm.Available,
			"usedPercent": vm.UsedPercent,
		}
	}
	if h.breaker != nil {
		resp["analytics"] = h.breaker()
	}
	if h.sessions != nil {
		resp["sessions"] = h.sessions()
	}

	return c.JSON(http.StatusOK, resp)
}
