package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Probe checks one dependency; nil means healthy
type Probe func(ctx context.Context) error

const probeTimeout = 2 * time.Second

// RegisterHealthRoutes exposes GET /health. It answers 503 when any probe fails.
func RegisterHealthRoutes(r *gin.Engine, probes map[string]Probe) {
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, probeTimeout)
		defer cancel()

		code := http.StatusOK
		checks := make(gin.H, len(probes))
		for name, probe := range probes {
			if err := probe(ctx); err != nil {
				checks[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		status := "ok"
		if code != http.StatusOK {
			status = "degraded"
		}
		c.JSON(code, gin.H{"status": status, "checks": checks})
	})
}
