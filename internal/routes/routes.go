// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lidar-service/internal/config"
	"lidar-service/internal/database"
	"lidar-service/internal/handler"
	"lidar-service/internal/middleware"
	"lidar-service/internal/service"
	"lidar-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config      *config.Config
	logger      *zap.Logger
	db          *database.DB
	scanService *service.ScanService
	wsHandler   *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	scanService *service.ScanService,
	wsHandler *handler.WebSocketHandler,
) *Router {
	return &Router{
		config:      config,
		logger:      logger,
		db:          db,
		scanService: scanService,
		wsHandler:   wsHandler,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	// Set Gin mode
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Create Gin engine
	router := gin.New()

	// Add middleware
	r.addMiddleware(router)

	// Add routes
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	// Recovery middleware
	router.Use(middleware.RecoveryMiddleware(r.logger))

	// Request ID middleware
	router.Use(middleware.RequestIDMiddleware())

	// Logging middleware
	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	// CORS middleware
	router.Use(middleware.CORSMiddleware(&r.config.Server))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	// Create handlers
	healthHandler := handler.NewHealthHandler(r.db, r.scanService, r.config, r.logger)
	scanHandler := handler.NewScanHandler(r.scanService, r.logger)

	// Health check routes
	healthHandler.RegisterRoutes(router.Group(""))

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	scanHandler.RegisterRoutes(apiV1)

	// WebSocket routes
	r.wsHandler.RegisterRoutes(router.Group("/ws"))

	r.logger.Info("All routes configured successfully")
}
