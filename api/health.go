package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type componentHealth struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Health reports the state of the engine's backing services. A failing redis makes
// the service unhealthy since locks and sessions depend on it.
func (a Api) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	components := map[string]componentHealth{}
	status, code := "healthy", http.StatusOK

	if client := a.vp.Redis(); client != nil {
		start := time.Now()
		health := componentHealth{Status: "up"}
		if err := client.Ping(ctx).Err(); err != nil {
			health.Status = "down"
			health.Error = err.Error()
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		health.LatencyMs = time.Since(start).Milliseconds()
		components["redis"] = health
	}

	c.JSON(code, gin.H{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"components": components,
		"recurring": gin.H{
			"enabled":      a.conf.Recurring.Enabled,
			"auto_execute": a.conf.RecurringAutoExecute(false),
		},
	})
}
