package api

import (
	routes "doppa/internal/api/handlers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRouter initializes all application routes
func SetupRouter(r *gin.Engine, config map[string]string, catalog routes.CatalogReader, log *logrus.Entry) {
	// API group
	api := r.Group("/api")

	// Setup main handlers
	routes.SetupMainHandlers(r.Group(""), config)

	// Setup catalog handlers
	routes.SetupCatalogHandlers(api, catalog, log)
}
