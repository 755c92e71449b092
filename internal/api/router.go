package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/lordvitaly/lvchat/internal/app"
	"github.com/lordvitaly/lvchat/internal/handlers"
	"github.com/lordvitaly/lvchat/internal/middleware"
	"github.com/lordvitaly/lvchat/internal/services"
	"github.com/lordvitaly/lvchat/internal/store"
)

// NewRouter builds the Gin engine, wires middleware and registers the API
// routes on top of the configured namespaces. A nil rate store disables rate
// limiting.
func NewRouter(cfg *app.Config, namespaces *store.Registry, rates middleware.RateStore, opts ...services.Option) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if namespaces == nil {
		return nil, fmt.Errorf("namespace registry must be provided")
	}

	svc, err := services.NewSet(namespaces, opts...)
	if err != nil {
		return nil, fmt.Errorf("build services: %w", err)
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	if cfg.Monitoring.Prometheus.Enabled {
		r.Use(middleware.Metrics())
	}
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	r.Use(middleware.RateLimit(rates, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))

	registerHealthRoutes(r, cfg, namespaces.Store())
	registerMetricsRoutes(r, cfg)

	api := r.Group("/api")
	registerDocumentRoutes(api, handlers.NewDocumentHandler(svc.Sessions, svc.Blobs))
	registerCharacterRoutes(api, handlers.NewCharacterHandler(svc.Characters))
	registerSettingsRoutes(api, handlers.NewSettingsHandler(svc.Settings))

	// Unknown paths still pass through the global middleware, so CORS
	// preflight requests for any path are answered before this handler.
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
