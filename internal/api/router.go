package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/groupcap/internal/app"
	"github.com/charlesng35/groupcap/internal/collection"
	"github.com/charlesng35/groupcap/internal/handlers"
	"github.com/charlesng35/groupcap/internal/middleware"
)

// NewRouter builds the Gin engine, wires middleware and registers routes.
// The database handle may be nil when the memory backend is in use; the
// health check then skips the connection ping.
func NewRouter(coll collection.Collection, db *gorm.DB, cfg *app.Config) (*gin.Engine, error) {
	if coll == nil {
		return nil, fmt.Errorf("collection backend must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	if cfg.Server.RateLimit.Enabled {
		r.Use(middleware.RateLimit(cfg.Server.RateLimit.MaxRequests, cfg.Server.RateLimit.Window))
	}

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(db))
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	groupHandler, err := handlers.NewGroupHandler(coll)
	if err != nil {
		return nil, err
	}

	groups := r.Group("/api/groups/:groupID")
	{
		groups.POST("/entries", groupHandler.Insert)
		groups.POST("/entries/batch", groupHandler.InsertBatch)
		groups.DELETE("/entries/:entryID", groupHandler.Delete)
		groups.GET("/entries", groupHandler.Members)
		groups.GET("/count", groupHandler.Count)
		groups.POST("/recount", groupHandler.Recount)
	}

	return r, nil
}
