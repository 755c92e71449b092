package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lordvitaly/lvchat/internal/app"
	"github.com/lordvitaly/lvchat/internal/handlers"
	"github.com/lordvitaly/lvchat/internal/store"
)

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, backend store.Store) {
	if !cfg.Monitoring.Health.Enabled {
		return
	}
	health := handlers.Health(backend)
	r.GET("/health", health)
	r.GET("/api/health", health)
}

func registerMetricsRoutes(r *gin.Engine, cfg *app.Config) {
	if !cfg.Monitoring.Prometheus.Enabled {
		return
	}
	endpoint := cfg.Monitoring.Prometheus.Endpoint
	if endpoint == "" {
		endpoint = "/metrics"
	}
	r.GET(endpoint, gin.WrapH(promhttp.Handler()))
}
